// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package delivery

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/adunit/pkg/metric"
	"github.com/luxfi/adunit/pkg/tracking"
)

func TestMultiAndMetered(t *testing.T) {
	require := require.New(t)

	var a, b []tracking.EventType
	m, err := metric.NewMetrics()
	require.NoError(err)

	s := Metered(m, Multi(
		tracking.SenderFunc(func(e tracking.Event) { a = append(a, e.Type) }),
		nil,
		tracking.SenderFunc(func(e tracking.Event) { b = append(b, e.Type) }),
	))
	s.Send(tracking.NewEvent("u", now, tracking.ClickPayload{}))
	s.Send(tracking.NewEvent("u", now, tracking.HoverPayload{HoverTimeMs: 2}))

	require.Equal([]tracking.EventType{tracking.Click, tracking.Hover}, a)
	require.Equal(a, b)
}

func TestChannelDropsWhenFull(t *testing.T) {
	require := require.New(t)

	ch := make(chan tracking.Event, 1)
	dropped := 0
	s := Channel(ch, func(tracking.Event) { dropped++ })

	s.Send(tracking.NewEvent("u", now, tracking.ClickPayload{}))
	s.Send(tracking.NewEvent("u", now, tracking.ClickPayload{}))
	require.Len(ch, 1)
	require.Equal(1, dropped)
}
