// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package tracking

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUnknownEvent = errors.New("unknown event type")
	ErrMissingUnit  = errors.New("event has no ad unit id")
)

// EventType names a tracking event
type EventType string

const (
	Impression    EventType = "IMPRESSION"
	View          EventType = "VIEW"
	TotalView     EventType = "TOTAL_VIEW"
	Hover         EventType = "HOVER"
	Click         EventType = "CLICK"
	VideoPlayback EventType = "VIDEO_PLAYBACK"
	VideoQuartile EventType = "VIDEO_QUARTILE"
)

// EventTypes lists every event type in emission-priority order
var EventTypes = []EventType{Impression, View, TotalView, Hover, Click, VideoPlayback, VideoQuartile}

// Valid reports whether t is a known event type
func (t EventType) Valid() bool {
	for _, k := range EventTypes {
		if k == t {
			return true
		}
	}
	return false
}

// Payload is the type-specific part of an event
type Payload interface {
	Type() EventType
}

type ImpressionPayload struct {
	RenderTimeMs int64 `json:"renderTimeMs"`
}

type ViewPayload struct {
	ViewTimeMs      int64   `json:"viewTimeMs"`
	VisibilityRatio float64 `json:"visibilityRatio"`
	ScrollDepth     float64 `json:"scrollDepth"`
	TimeToVisibleMs int64   `json:"timeToVisibleMs"`
}

type TotalViewPayload struct {
	TotalViewTimeMs int64   `json:"totalViewTimeMs"`
	VisibilityRatio float64 `json:"visibilityRatio"`
}

type HoverPayload struct {
	HoverTimeMs int64 `json:"hoverTimeMs"`
}

type ClickPayload struct{}

type PlaybackPayload struct {
	TotalPlaybackTimeMs int64 `json:"totalPlaybackTimeMs"`
}

type QuartilePayload struct {
	Quartile int `json:"quartile"`
}

func (ImpressionPayload) Type() EventType { return Impression }
func (ViewPayload) Type() EventType       { return View }
func (TotalViewPayload) Type() EventType  { return TotalView }
func (HoverPayload) Type() EventType      { return Hover }
func (ClickPayload) Type() EventType      { return Click }
func (PlaybackPayload) Type() EventType   { return VideoPlayback }
func (QuartilePayload) Type() EventType   { return VideoQuartile }

// Event is one business event produced by a tracker
type Event struct {
	ID        string
	Type      EventType
	AdUnitID  string
	Timestamp time.Time
	Payload   Payload
}

// NewEvent stamps a payload with an id and the unit it belongs to
func NewEvent(unitID string, at time.Time, p Payload) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      p.Type(),
		AdUnitID:  unitID,
		Timestamp: at,
		Payload:   p,
	}
}

type envelope struct {
	ID        string    `json:"id,omitempty"`
	Type      EventType `json:"eventType"`
	AdUnitID  string    `json:"adUnitId"`
	Timestamp time.Time `json:"timestamp"`
}

// MarshalJSON flattens the payload next to the envelope fields
func (e Event) MarshalJSON() ([]byte, error) {
	fields := map[string]any{}
	if e.Payload != nil {
		raw, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, err
		}
	}

	if e.ID != "" {
		fields["id"] = e.ID
	}
	fields["eventType"] = e.Type
	fields["adUnitId"] = e.AdUnitID
	fields["timestamp"] = e.Timestamp
	return json.Marshal(fields)
}

// UnmarshalJSON decodes a flattened event
func (e *Event) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	p, err := newPayload(env.Type)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, p); err != nil {
		return fmt.Errorf("decode %s payload: %w", env.Type, err)
	}

	*e = Event{
		ID:        env.ID,
		Type:      env.Type,
		AdUnitID:  env.AdUnitID,
		Timestamp: env.Timestamp,
		Payload:   deref(p),
	}
	return nil
}

// Validate checks the fields an ingest endpoint relies on
func (e Event) Validate() error {
	if !e.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownEvent, e.Type)
	}
	if e.AdUnitID == "" {
		return ErrMissingUnit
	}
	return nil
}

func newPayload(t EventType) (any, error) {
	switch t {
	case Impression:
		return &ImpressionPayload{}, nil
	case View:
		return &ViewPayload{}, nil
	case TotalView:
		return &TotalViewPayload{}, nil
	case Hover:
		return &HoverPayload{}, nil
	case Click:
		return &ClickPayload{}, nil
	case VideoPlayback:
		return &PlaybackPayload{}, nil
	case VideoQuartile:
		return &QuartilePayload{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, t)
}

func deref(p any) Payload {
	switch v := p.(type) {
	case *ImpressionPayload:
		return *v
	case *ViewPayload:
		return *v
	case *TotalViewPayload:
		return *v
	case *HoverPayload:
		return *v
	case *ClickPayload:
		return *v
	case *PlaybackPayload:
		return *v
	case *QuartilePayload:
		return *v
	}
	return nil
}

// Sender delivers events. Send must not block. It may call back into the
// tracker that emitted the event; events emitted from inside Send are
// delivered once the current batch is done.
type Sender interface {
	Send(Event)
}

// SenderFunc adapts a function to Sender
type SenderFunc func(Event)

func (f SenderFunc) Send(e Event) { f(e) }

// Discard drops every event
var Discard Sender = SenderFunc(func(Event) {})
