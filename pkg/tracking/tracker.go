// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package tracking turns visibility and interaction signals of one ad unit
// into impression, view, hover, click and video playback events.
package tracking

import (
	"sync"
	"time"

	"github.com/luxfi/adunit/pkg/log"
)

// Tracker is the engagement state machine of a single ad unit. Every signal
// and the dwell poll are serialized on one mutex.
type Tracker struct {
	mu sync.Mutex

	// sendMu guards pending and sending
	sendMu  sync.Mutex
	pending []Event
	sending bool

	unitID      string
	cfg         Config
	sender      Sender
	sched       Scheduler
	log         log.Logger
	source      Source
	media       Media
	scrollDepth func() float64
	touch       bool
	controls    map[string]bool

	disabled   bool
	destroyed  bool
	pageHidden bool
	ratio      float64

	renderStart time.Time
	session     Session

	pollGen     uint64
	pollCancel  func()
	unsubscribe func()

	outbox []Event
}

// New attaches a tracker to an ad unit. A tracker whose element is not
// attached never emits anything.
func New(unitID string, cfg Config, sender Sender, opts ...Option) *Tracker {
	t := &Tracker{
		unitID: unitID,
		cfg:    cfg,
		sender: sender,
		sched:  RealScheduler{},
		log:    log.NoOp(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.cfg = t.cfg.withDefaults()
	if t.sender == nil {
		t.sender = Discard
	}

	t.controls = make(map[string]bool, len(t.cfg.ControlTargets))
	for _, c := range t.cfg.ControlTargets {
		t.controls[c] = true
	}

	t.log = t.log.With(log.String("adUnitId", unitID))
	if t.renderStart.IsZero() {
		t.renderStart = t.sched.Now()
	}

	if !t.cfg.Attached {
		t.disabled = true
		t.log.Warn("ad element not attached, tracking disabled")
		return t
	}

	if t.source != nil {
		cancel := t.source.Subscribe(func(s Sample) { t.Observe(s.Ratio) })
		t.mu.Lock()
		if t.destroyed {
			t.mu.Unlock()
			cancel()
		} else {
			t.unsubscribe = cancel
			t.mu.Unlock()
		}
	}

	return t
}

// UnitID returns the ad unit this tracker belongs to
func (t *Tracker) UnitID() string { return t.unitID }

// Enabled reports whether the tracker was attached
func (t *Tracker) Enabled() bool { return !t.disabled }

// State returns a snapshot of the tracking state
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session.Snapshot()
}

// Observe feeds a visibility ratio sample
func (t *Tracker) Observe(ratio float64) {
	t.do(func(now time.Time) {
		t.ratio = ClampRatio(ratio)
		if t.pageHidden {
			return
		}
		t.evaluate(now)
	})
}

// MediaLoaded records the impression the first time media finishes loading
func (t *Tracker) MediaLoaded() {
	t.do(func(now time.Time) {
		if t.session.s.HasImpression {
			return
		}
		t.session.s.HasImpression = true
		t.emit(now, ImpressionPayload{RenderTimeMs: ms(elapsed(t.renderStart, now))})
	})
}

func (t *Tracker) PointerEnter() {
	t.do(func(now time.Time) {
		if t.touch {
			return
		}
		t.session.StartHover(now)
	})
}

func (t *Tracker) PointerLeave() {
	t.do(func(now time.Time) {
		if t.touch {
			return
		}
		t.session.EndHover(now)
	})
}

// Click records a click unless target is a control affordance. It reports
// whether a CLICK was emitted.
func (t *Tracker) Click(target string) bool {
	clicked := false
	t.do(func(now time.Time) {
		if t.controls[target] {
			return
		}
		clicked = true
		t.emit(now, ClickPayload{})
	})
	return clicked
}

// Play is the media play signal
func (t *Tracker) Play() {
	t.do(func(now time.Time) {
		if !t.cfg.Video() {
			return
		}
		t.session.StartPlayback(now)
	})
}

// Pause is the media pause signal
func (t *Tracker) Pause() {
	t.do(func(now time.Time) {
		if !t.cfg.Video() {
			return
		}
		t.session.StopPlayback(now)
	})
}

// Ended is the media ended signal. The first end reports playback; the
// media then loops.
func (t *Tracker) Ended() {
	t.do(func(now time.Time) {
		if !t.cfg.Video() {
			return
		}
		if !t.session.s.HasEnded {
			t.session.s.HasEnded = true
			t.session.StopPlayback(now)
			for q := 1; q <= 4; q++ {
				t.emitQuartile(now, q)
			}
			t.sendPlayback(now)
		}
		t.playMedia()
		t.session.StartPlayback(now)
	})
}

// Progress reports the playback position for quartile events
func (t *Tracker) Progress(position, duration time.Duration) {
	t.do(func(now time.Time) {
		if !t.cfg.Video() || t.session.s.HasEnded || duration <= 0 {
			return
		}
		frac := float64(position) / float64(duration)
		for q := 1; q <= 4; q++ {
			if frac >= float64(q)/4 {
				t.emitQuartile(now, q)
			}
		}
	})
}

// SetPageHidden reports page visibility changes
func (t *Tracker) SetPageHidden(hidden bool) {
	t.do(func(now time.Time) {
		if hidden == t.pageHidden {
			return
		}
		t.pageHidden = hidden
		if !hidden {
			t.evaluate(now)
			return
		}

		paused := t.enterHidden(now)
		t.session.EndHover(now)
		if t.cfg.Video() && !paused {
			t.pauseMedia(now)
		}
	})
}

// Destroy detaches the tracker and flushes cumulative events. Calling it
// again is a no-op.
func (t *Tracker) Destroy() {
	t.mu.Lock()
	if t.disabled || t.destroyed {
		t.mu.Unlock()
		return
	}
	t.destroyed = true
	unsubscribe := t.unsubscribe
	t.unsubscribe = nil
	t.stopPoll()

	now := t.sched.Now()
	t.session.EnterHidden(now)
	t.session.EndHover(now)
	video := t.cfg.Video() && !t.session.s.HasEnded
	if video {
		t.session.StopPlayback(now)
	}

	s := t.session.s
	if s.TotalViewTime > 0 && !s.SentTotalView {
		t.session.s.SentTotalView = true
		ratio := DefaultThreshold
		if s.HasViewEvent {
			ratio = t.cfg.Threshold
		}
		t.emit(now, TotalViewPayload{
			TotalViewTimeMs: ms(s.TotalViewTime),
			VisibilityRatio: ratio,
		})
	}
	if s.TotalHoverTime > 0 {
		t.emit(now, HoverPayload{HoverTimeMs: ms(s.TotalHoverTime)})
	}
	if video {
		t.sendPlayback(now)
	}

	t.log.Debug("tracker destroyed",
		log.Duration("viewTime", s.TotalViewTime),
		log.Duration("hoverTime", s.TotalHoverTime),
	)
	t.release()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// do runs fn under the state lock and delivers the events it produced in
// order, after the state lock is released.
func (t *Tracker) do(fn func(now time.Time)) {
	t.mu.Lock()
	if t.disabled || t.destroyed {
		t.mu.Unlock()
		return
	}
	fn(t.sched.Now())
	t.release()
}

// release queues the outbox for delivery and unlocks t.mu. One caller at a
// time drains the queue, so events emitted from inside Send are delivered
// after the current batch instead of deadlocking.
func (t *Tracker) release() {
	out := t.outbox
	t.outbox = nil
	if len(out) == 0 {
		t.mu.Unlock()
		return
	}

	t.sendMu.Lock()
	t.pending = append(t.pending, out...)
	if t.sending {
		t.sendMu.Unlock()
		t.mu.Unlock()
		return
	}
	t.sending = true
	t.sendMu.Unlock()
	t.mu.Unlock()

	for {
		t.sendMu.Lock()
		batch := t.pending
		t.pending = nil
		if len(batch) == 0 {
			t.sending = false
			t.sendMu.Unlock()
			return
		}
		t.sendMu.Unlock()

		for _, e := range batch {
			t.sender.Send(e)
		}
	}
}

func (t *Tracker) emit(now time.Time, p Payload) {
	e := NewEvent(t.unitID, now, p)
	t.outbox = append(t.outbox, e)
	t.log.Debug("tracking event", log.String("eventType", string(e.Type)))
}

func (t *Tracker) evaluate(now time.Time) {
	visible := t.ratio > 0 && t.ratio >= t.cfg.Threshold
	if visible {
		t.enterVisible(now)
	} else {
		t.enterHidden(now)
	}
}

func (t *Tracker) enterVisible(now time.Time) {
	if !t.session.EnterVisible(now) {
		return
	}
	if !t.session.s.HasViewEvent {
		t.startPoll()
	}
	if t.cfg.Video() && !t.session.s.HasEnded {
		t.playMedia()
		t.session.StartPlayback(now)
	}
}

// enterHidden reports whether it paused the media
func (t *Tracker) enterHidden(now time.Time) bool {
	if !t.session.EnterHidden(now) {
		return false
	}
	t.stopPoll()
	if t.cfg.Video() {
		t.pauseMedia(now)
		return true
	}
	return false
}

func (t *Tracker) startPoll() {
	t.stopPoll()
	t.pollGen++
	gen := t.pollGen
	t.pollCancel = t.sched.Every(t.cfg.PollInterval, func() { t.checkView(gen) })
}

func (t *Tracker) stopPoll() {
	if t.pollCancel != nil {
		t.pollCancel()
		t.pollCancel = nil
	}
	t.pollGen++
}

func (t *Tracker) checkView(gen uint64) {
	t.do(func(now time.Time) {
		if gen != t.pollGen || t.session.s.HasViewEvent || !t.session.Visible() {
			return
		}
		continuous := t.session.Continuous(now)
		if continuous < t.cfg.ViewTime() {
			return
		}

		t.session.s.HasViewEvent = true
		t.stopPoll()

		depth := 0.0
		if t.scrollDepth != nil {
			depth = t.scrollDepth()
		}
		t.emit(now, ViewPayload{
			ViewTimeMs:      ms(continuous),
			VisibilityRatio: t.ratio,
			ScrollDepth:     depth,
			TimeToVisibleMs: ms(elapsed(t.renderStart, t.session.s.FirstVisibleAt)),
		})
	})
}

func (t *Tracker) emitQuartile(now time.Time, q int) {
	if t.session.s.Quartiles[q-1] {
		return
	}
	t.session.s.Quartiles[q-1] = true
	t.emit(now, QuartilePayload{Quartile: q})
}

func (t *Tracker) sendPlayback(now time.Time) {
	s := t.session.s
	if s.SentPlayback || s.TotalPlaybackTime <= 0 {
		return
	}
	t.session.s.SentPlayback = true
	t.emit(now, PlaybackPayload{TotalPlaybackTimeMs: ms(s.TotalPlaybackTime)})
}

func (t *Tracker) playMedia() {
	if t.media == nil {
		return
	}
	if err := t.media.Play(); err != nil {
		t.log.Warn("media play failed", log.Error(err))
	}
}

func (t *Tracker) pauseMedia(now time.Time) {
	if t.media != nil {
		t.media.Pause()
	}
	t.session.StopPlayback(now)
}

func ms(d time.Duration) int64 {
	return d.Milliseconds()
}
