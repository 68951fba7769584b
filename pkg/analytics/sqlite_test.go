// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package analytics

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/adunit/pkg/tracking"
)

func TestSQLiteStorage(t *testing.T) {
	require := require.New(t)

	s, err := OpenSQLite(":memory:")
	require.NoError(err)
	defer s.Close()

	events := []tracking.Event{
		tracking.NewEvent("a", epoch, tracking.ImpressionPayload{RenderTimeMs: 5}),
		tracking.NewEvent("b", epoch.Add(time.Second), tracking.ViewPayload{ViewTimeMs: 1000, VisibilityRatio: 0.75}),
		tracking.NewEvent("a", epoch.Add(2*time.Second), tracking.ClickPayload{}),
		tracking.NewEvent("a", epoch.Add(3*time.Second), tracking.QuartilePayload{Quartile: 2}),
	}
	for _, e := range events {
		require.NoError(s.Store(&Record{Event: e, CampaignID: "camp", Received: epoch}))
	}

	all, err := s.Query(QueryFilter{})
	require.NoError(err)
	require.Len(all, 4)
	require.Equal(events[1].ID, all[1].Event.ID)
	require.Equal(tracking.ViewPayload{ViewTimeMs: 1000, VisibilityRatio: 0.75}, all[1].Event.Payload)
	require.True(epoch.Add(time.Second).Equal(all[1].Event.Timestamp))
	require.Equal("camp", all[1].CampaignID)
	require.True(epoch.Equal(all[1].Received))

	tests := []struct {
		name   string
		filter QueryFilter
		want   int
	}{
		{"by unit", QueryFilter{AdUnitIDs: []string{"a"}}, 3},
		{"by types", QueryFilter{EventTypes: []tracking.EventType{tracking.Click, tracking.VideoQuartile}}, 2},
		{"window", QueryFilter{StartTime: epoch.Add(time.Second), EndTime: epoch.Add(3 * time.Second)}, 2},
		{"limit", QueryFilter{AdUnitIDs: []string{"a", "b"}, Limit: 1}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Query(tt.filter)
			require.NoError(err)
			require.Len(got, tt.want)
		})
	}
}

func TestCollectorOnSQLite(t *testing.T) {
	require := require.New(t)

	path := filepath.Join(t.TempDir(), "events.db")
	s, err := OpenSQLite(path)
	require.NoError(err)

	c := NewCollector(WithStorage(s), WithClock(func() time.Time { return epoch }))
	require.NoError(c.Ingest(tracking.NewEvent("unit-1", epoch, tracking.ImpressionPayload{})))
	require.NoError(c.Ingest(tracking.NewEvent("unit-1", epoch, tracking.HoverPayload{HoverTimeMs: 300})))
	require.NoError(s.Close())

	// records survive a reopen
	s, err = OpenSQLite(path)
	require.NoError(err)
	defer s.Close()

	got, err := s.Query(QueryFilter{AdUnitIDs: []string{"unit-1"}})
	require.NoError(err)
	require.Len(got, 2)
	require.Equal(tracking.HoverPayload{HoverTimeMs: 300}, got[1].Event.Payload)
}
