// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package tracking

import (
	"time"

	"github.com/luxfi/adunit/pkg/log"
)

// CreativeKind selects image or video tracking rules
type CreativeKind string

const (
	ImageCreative CreativeKind = "image"
	VideoCreative CreativeKind = "video"
)

const (
	DefaultThreshold        = 0.5
	DefaultMinViewTime      = 1000 * time.Millisecond
	DefaultMinVideoViewTime = 2000 * time.Millisecond
	DefaultPollInterval     = 100 * time.Millisecond
)

// DefaultControlTargets are interactions that never count as clicks
var DefaultControlTargets = []string{"mute-toggle", "play-toggle"}

// Config for a single tracker
type Config struct {
	Threshold        float64
	MinViewTime      time.Duration
	MinVideoViewTime time.Duration
	PollInterval     time.Duration
	Kind             CreativeKind
	// Attached is false when the host could not resolve the element
	Attached       bool
	ControlTargets []string
}

// DefaultConfig returns the standard viewability rules for an image unit
func DefaultConfig() Config {
	return Config{
		Threshold:        DefaultThreshold,
		MinViewTime:      DefaultMinViewTime,
		MinVideoViewTime: DefaultMinVideoViewTime,
		PollInterval:     DefaultPollInterval,
		Kind:             ImageCreative,
		Attached:         true,
		ControlTargets:   DefaultControlTargets,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Threshold <= 0 || c.Threshold > 1 {
		c.Threshold = d.Threshold
	}
	if c.MinViewTime <= 0 {
		c.MinViewTime = d.MinViewTime
	}
	if c.MinVideoViewTime <= 0 {
		c.MinVideoViewTime = d.MinVideoViewTime
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.Kind == "" {
		c.Kind = ImageCreative
	}
	if c.ControlTargets == nil {
		c.ControlTargets = d.ControlTargets
	}
	return c
}

// Video reports whether video rules apply
func (c Config) Video() bool {
	return c.Kind == VideoCreative
}

// ViewTime is the continuous visible time that qualifies a VIEW
func (c Config) ViewTime() time.Duration {
	if c.Video() {
		return c.MinVideoViewTime
	}
	return c.MinViewTime
}

// Media is the playback collaborator of a video unit
type Media interface {
	Play() error
	Pause()
	SetMuted(muted bool)
}

// Option configures a Tracker
type Option func(*Tracker)

func WithScheduler(s Scheduler) Option {
	return func(t *Tracker) {
		if s != nil {
			t.sched = s
		}
	}
}

func WithLogger(l log.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.log = l
		}
	}
}

// WithSource subscribes the tracker to a visibility source
func WithSource(s Source) Option {
	return func(t *Tracker) { t.source = s }
}

func WithMedia(m Media) Option {
	return func(t *Tracker) { t.media = m }
}

// WithScrollDepth reports the page scroll depth carried by VIEW
func WithScrollDepth(fn func() float64) Option {
	return func(t *Tracker) { t.scrollDepth = fn }
}

// WithTouch marks touch-only devices, which have no hover
func WithTouch(touch bool) Option {
	return func(t *Tracker) { t.touch = touch }
}

func WithControlTargets(targets ...string) Option {
	return func(t *Tracker) { t.cfg.ControlTargets = targets }
}

// WithElement disables the tracker when the host element is missing
func WithElement(el any) Option {
	return func(t *Tracker) { t.cfg.Attached = el != nil }
}

// WithRenderStart overrides the render start used for timing payloads
func WithRenderStart(at time.Time) Option {
	return func(t *Tracker) { t.renderStart = at }
}
