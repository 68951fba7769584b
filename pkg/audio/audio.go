// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package audio arbitrates sound between ad units on one page: unmuting a
// unit mutes every other unit.
package audio

import (
	"sort"
	"sync"
)

// Muter is the part of a media element the bus drives
type Muter interface {
	SetMuted(muted bool)
}

// Bus fans mute-all-others messages out to participants. It keeps no mute
// state of its own.
type Bus struct {
	mu           sync.RWMutex
	participants map[string]*Participant
}

func NewBus() *Bus {
	return &Bus{participants: make(map[string]*Participant)}
}

// Join registers a unit. Units start muted. Joining with an id already on
// the bus replaces the previous participant.
func (b *Bus) Join(id string, media Muter) *Participant {
	p := &Participant{id: id, bus: b, media: media, muted: true}

	b.mu.Lock()
	b.participants[id] = p
	b.mu.Unlock()

	if media != nil {
		media.SetMuted(true)
	}
	return p
}

// Len returns the number of participants
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.participants)
}

// Unmuted lists the units currently playing sound
func (b *Bus) Unmuted() []string {
	var out []string
	for _, p := range b.snapshot() {
		if !p.Muted() {
			out = append(out, p.id)
		}
	}
	sort.Strings(out)
	return out
}

// MuteAll mutes every participant
func (b *Bus) MuteAll() {
	for _, p := range b.snapshot() {
		p.receiveMute()
	}
}

func (b *Bus) leave(p *Participant) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.participants[p.id] == p {
		delete(b.participants, p.id)
	}
}

func (b *Bus) broadcast(from *Participant) {
	for _, p := range b.snapshot() {
		if p != from {
			p.receiveMute()
		}
	}
}

func (b *Bus) snapshot() []*Participant {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Participant, 0, len(b.participants))
	for _, p := range b.participants {
		out = append(out, p)
	}
	return out
}

// Participant is one unit's view of the bus
type Participant struct {
	id    string
	bus   *Bus
	media Muter

	mu    sync.Mutex
	muted bool
	left  bool
}

func (p *Participant) ID() string { return p.id }

func (p *Participant) Muted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.muted
}

// Unmute turns this unit's sound on and tells every other unit to mute
func (p *Participant) Unmute() {
	p.mu.Lock()
	if p.left {
		p.mu.Unlock()
		return
	}
	p.muted = false
	if p.media != nil {
		p.media.SetMuted(false)
	}
	p.mu.Unlock()

	p.bus.broadcast(p)
}

// Mute turns this unit's sound off without notifying anyone
func (p *Participant) Mute() {
	p.receiveMute()
}

// Toggle flips the mute state and reports the new value
func (p *Participant) Toggle() bool {
	if p.Muted() {
		p.Unmute()
		return false
	}
	p.Mute()
	return true
}

// Leave removes the unit from the bus
func (p *Participant) Leave() {
	p.mu.Lock()
	p.left = true
	p.mu.Unlock()
	p.bus.leave(p)
}

func (p *Participant) receiveMute() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.muted {
		return
	}
	p.muted = true
	if p.media != nil {
		p.media.SetMuted(true)
	}
}
