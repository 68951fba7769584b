// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package delivery

import (
	"github.com/luxfi/adunit/pkg/metric"
	"github.com/luxfi/adunit/pkg/tracking"
)

// Multi fans an event out to every sender
func Multi(senders ...tracking.Sender) tracking.Sender {
	live := make([]tracking.Sender, 0, len(senders))
	for _, s := range senders {
		if s != nil {
			live = append(live, s)
		}
	}
	return tracking.SenderFunc(func(e tracking.Event) {
		for _, s := range live {
			s.Send(e)
		}
	})
}

// Metered counts every event passing through to next
func Metered(m *metric.Metrics, next tracking.Sender) tracking.Sender {
	return tracking.SenderFunc(func(e tracking.Event) {
		m.EventSent(string(e.Type))
		next.Send(e)
	})
}

// Channel delivers events to ch without blocking, dropping when full. It
// reports drops to onDrop when set.
func Channel(ch chan<- tracking.Event, onDrop func(tracking.Event)) tracking.Sender {
	return tracking.SenderFunc(func(e tracking.Event) {
		select {
		case ch <- e:
		default:
			if onDrop != nil {
				onDrop(e)
			}
		}
	})
}
