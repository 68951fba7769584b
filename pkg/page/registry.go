// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package page owns the ad units placed on one page: the queue of slots
// waiting to be filled, the tracker of every attached unit and the audio bus
// they share.
package page

import (
	"errors"
	"fmt"
	"sync"

	"github.com/luxfi/adunit/pkg/audio"
	"github.com/luxfi/adunit/pkg/creative"
	"github.com/luxfi/adunit/pkg/log"
	"github.com/luxfi/adunit/pkg/metric"
	"github.com/luxfi/adunit/pkg/tracking"
)

// MuteToggle is the control target that flips a unit's sound
const MuteToggle = "mute-toggle"

var (
	ErrRegistryClosed = errors.New("page registry closed")
	ErrDuplicateUnit  = errors.New("ad unit already registered")
)

// Unit is one attached ad unit
type Unit struct {
	Slot    creative.Slot
	Tracker *tracking.Tracker
	// Audio is nil for units without sound
	Audio *audio.Participant
}

// Registry is the page-wide owner of ad slots and their trackers
type Registry struct {
	mu     sync.Mutex
	closed bool
	queue  []creative.Slot
	units  map[string]*Unit
	order  []string

	bus     *audio.Bus
	log     log.Logger
	metrics *metric.Metrics
}

// NewRegistry creates an empty registry with its own audio bus
func NewRegistry(logger log.Logger, metrics *metric.Metrics) *Registry {
	if logger == nil {
		logger = log.NoOp()
	}
	return &Registry{
		units:   make(map[string]*Unit),
		bus:     audio.NewBus(),
		log:     logger,
		metrics: metrics,
	}
}

// Bus returns the audio bus shared by the page's units
func (r *Registry) Bus() *audio.Bus { return r.bus }

// Enqueue adds slots waiting to be filled, in page order. Nothing is
// queued when any slot of the batch is rejected.
func (r *Registry) Enqueue(slots ...creative.Slot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}
	batch := make(map[string]struct{}, len(slots))
	for _, s := range slots {
		if s.AdSpaceID == "" {
			return creative.ErrMissingAdSpace
		}
		if _, dup := batch[s.AdSpaceID]; dup || r.knownLocked(s.AdSpaceID) {
			return fmt.Errorf("slot %s: %w", s.AdSpaceID, ErrDuplicateUnit)
		}
		batch[s.AdSpaceID] = struct{}{}
	}
	r.queue = append(r.queue, slots...)
	return nil
}

// Pending returns the number of queued slots
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Drain takes every queued slot, oldest first
func (r *Registry) Drain() []creative.Slot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.queue
	r.queue = nil
	return out
}

// Attach registers the tracker of a filled slot. media, when non-nil, joins
// the page's audio bus muted.
func (r *Registry) Attach(slot creative.Slot, tracker *tracking.Tracker, media audio.Muter) (*Unit, error) {
	if slot.AdSpaceID == "" {
		return nil, creative.ErrMissingAdSpace
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	if _, ok := r.units[slot.AdSpaceID]; ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("unit %s: %w", slot.AdSpaceID, ErrDuplicateUnit)
	}
	r.removeQueuedLocked(slot.AdSpaceID)

	u := &Unit{Slot: slot, Tracker: tracker}
	if media != nil {
		u.Audio = r.bus.Join(slot.AdSpaceID, media)
	}
	r.units[slot.AdSpaceID] = u
	r.order = append(r.order, slot.AdSpaceID)
	r.mu.Unlock()

	r.metrics.TrackerAttached()
	r.log.Debug("ad unit attached", log.String("adSpaceId", slot.AdSpaceID))
	return u, nil
}

// Unit looks up an attached unit
func (r *Registry) Unit(id string) (*Unit, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.units[id]
	return u, ok
}

// Units lists attached unit ids in attach order
func (r *Registry) Units() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// Click routes a click on a unit. The mute toggle flips the unit's sound;
// every other target goes to the tracker. It reports whether a CLICK was
// emitted.
func (r *Registry) Click(id, target string) bool {
	u, ok := r.Unit(id)
	if !ok {
		return false
	}
	if target == MuteToggle && u.Audio != nil {
		u.Audio.Toggle()
	}
	if u.Tracker == nil {
		return false
	}
	return u.Tracker.Click(target)
}

// SetPageHidden forwards page visibility to every attached tracker
func (r *Registry) SetPageHidden(hidden bool) {
	for _, u := range r.snapshot() {
		if u.Tracker != nil {
			u.Tracker.SetPageHidden(hidden)
		}
	}
}

// Detach tears down one unit and reports whether it was attached
func (r *Registry) Detach(id string) bool {
	r.mu.Lock()
	u, ok := r.units[id]
	if ok {
		delete(r.units, id)
		r.order = remove(r.order, id)
	}
	r.mu.Unlock()

	if ok {
		r.teardown(u)
	}
	return ok
}

// Navigate handles a route change: every attached unit is torn down and its
// slot queued again ahead of slots that were still waiting. It returns the
// number of queued slots.
func (r *Registry) Navigate() (int, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0, ErrRegistryClosed
	}
	units := r.snapshotLocked()
	requeue := make([]creative.Slot, 0, len(units)+len(r.queue))
	for _, u := range units {
		requeue = append(requeue, u.Slot)
	}
	r.queue = append(requeue, r.queue...)
	r.units = make(map[string]*Unit)
	r.order = nil
	pending := len(r.queue)
	r.mu.Unlock()

	for _, u := range units {
		r.teardown(u)
	}
	r.log.Info("page navigated",
		log.Int("destroyed", len(units)),
		log.Int("pending", pending),
	)
	return pending, nil
}

// Close tears down every unit and drops the queue. Calling it again is a
// no-op.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	units := r.snapshotLocked()
	r.units = make(map[string]*Unit)
	r.order = nil
	r.queue = nil
	r.mu.Unlock()

	for _, u := range units {
		r.teardown(u)
	}
}

func (r *Registry) teardown(u *Unit) {
	if u.Tracker != nil {
		u.Tracker.Destroy()
	}
	if u.Audio != nil {
		u.Audio.Leave()
	}
	r.metrics.TrackerDetached()
}

func (r *Registry) snapshot() []*Unit {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() []*Unit {
	out := make([]*Unit, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.units[id])
	}
	return out
}

func (r *Registry) knownLocked(id string) bool {
	if _, ok := r.units[id]; ok {
		return true
	}
	for _, s := range r.queue {
		if s.AdSpaceID == id {
			return true
		}
	}
	return false
}

func (r *Registry) removeQueuedLocked(id string) {
	kept := r.queue[:0]
	for _, s := range r.queue {
		if s.AdSpaceID != id {
			kept = append(kept, s)
		}
	}
	r.queue = kept
}

func remove(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
