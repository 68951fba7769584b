// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package tracking

import "time"

// State is a snapshot of a unit's tracking state
type State struct {
	Visible           bool          `json:"isVisible"`
	ViewStartedAt     time.Time     `json:"viewStartedAt"`
	FirstVisibleAt    time.Time     `json:"firstVisibleAt"`
	TotalViewTime     time.Duration `json:"totalViewTime"`
	Hovering          bool          `json:"hovering"`
	HoverStartedAt    time.Time     `json:"hoverStartedAt"`
	TotalHoverTime    time.Duration `json:"totalHoverTime"`
	Playing           bool          `json:"playing"`
	PlaybackStartedAt time.Time     `json:"playbackStartedAt"`
	TotalPlaybackTime time.Duration `json:"totalPlaybackTime"`
	HasImpression     bool          `json:"hasImpression"`
	HasViewEvent      bool          `json:"hasViewEvent"`
	HasEnded          bool          `json:"hasEnded"`
	SentPlayback      bool          `json:"hasSentPlaybackEvent"`
	SentTotalView     bool          `json:"hasSentTotalView"`
	Quartiles         [4]bool       `json:"quartiles"`
}

// Session accumulates visible, hover and playback intervals. It is not safe
// for concurrent use; the owning tracker serializes access.
type Session struct {
	s State
}

func (v *Session) Visible() bool { return v.s.Visible }

// EnterVisible opens a visible interval, reporting false if already visible
func (v *Session) EnterVisible(now time.Time) bool {
	if v.s.Visible {
		return false
	}
	v.s.Visible = true
	v.s.ViewStartedAt = now
	if v.s.FirstVisibleAt.IsZero() {
		v.s.FirstVisibleAt = now
	}
	return true
}

// EnterHidden closes the visible interval into the total
func (v *Session) EnterHidden(now time.Time) bool {
	if !v.s.Visible {
		return false
	}
	v.s.TotalViewTime += elapsed(v.s.ViewStartedAt, now)
	v.s.Visible = false
	v.s.ViewStartedAt = time.Time{}
	return true
}

// Continuous is the length of the current visible interval
func (v *Session) Continuous(now time.Time) time.Duration {
	if !v.s.Visible {
		return 0
	}
	return elapsed(v.s.ViewStartedAt, now)
}

func (v *Session) StartHover(now time.Time) {
	if v.s.Hovering {
		return
	}
	v.s.Hovering = true
	v.s.HoverStartedAt = now
}

func (v *Session) EndHover(now time.Time) {
	if !v.s.Hovering {
		return
	}
	v.s.TotalHoverTime += elapsed(v.s.HoverStartedAt, now)
	v.s.Hovering = false
	v.s.HoverStartedAt = time.Time{}
}

func (v *Session) StartPlayback(now time.Time) {
	if v.s.Playing {
		return
	}
	v.s.Playing = true
	v.s.PlaybackStartedAt = now
}

func (v *Session) StopPlayback(now time.Time) {
	if !v.s.Playing {
		return
	}
	v.s.TotalPlaybackTime += elapsed(v.s.PlaybackStartedAt, now)
	v.s.Playing = false
	v.s.PlaybackStartedAt = time.Time{}
}

// Snapshot copies the current state
func (v *Session) Snapshot() State { return v.s }

func elapsed(from, to time.Time) time.Duration {
	if from.IsZero() || to.Before(from) {
		return 0
	}
	return to.Sub(from)
}
