// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package tracking

import (
	"sync"
	"time"
)

// Scheduler is the source of time for a tracker
type Scheduler interface {
	Now() time.Time
	// Every calls fn every d until cancel is called. cancel never waits for
	// an in-flight call.
	Every(d time.Duration, fn func()) (cancel func())
}

// RealScheduler uses the wall clock and time.Ticker
type RealScheduler struct{}

func (RealScheduler) Now() time.Time { return time.Now() }

func (RealScheduler) Every(d time.Duration, fn func()) func() {
	ticker := time.NewTicker(d)
	done := make(chan struct{})
	var once sync.Once

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				select {
				case <-done:
					return
				default:
				}
				fn()
			}
		}
	}()

	return func() { once.Do(func() { close(done) }) }
}

// ManualScheduler is a deterministic clock advanced explicitly
type ManualScheduler struct {
	mu      sync.Mutex
	now     time.Time
	seq     int
	tickers []*manualTicker
}

type manualTicker struct {
	seq       int
	period    time.Duration
	next      time.Time
	fn        func()
	cancelled bool
}

// NewManualScheduler starts the clock at start
func NewManualScheduler(start time.Time) *ManualScheduler {
	return &ManualScheduler{now: start}
}

func (m *ManualScheduler) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *ManualScheduler) Every(d time.Duration, fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d <= 0 {
		d = time.Millisecond
	}
	m.seq++
	t := &manualTicker{seq: m.seq, period: d, next: m.now.Add(d), fn: fn}
	m.tickers = append(m.tickers, t)

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		t.cancelled = true
		m.prune()
	}
}

// Advance moves the clock forward by d, firing due callbacks in time order
func (m *ManualScheduler) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)

	for {
		t := m.due(target)
		if t == nil {
			break
		}
		m.now = t.next
		t.next = t.next.Add(t.period)
		fn := t.fn

		m.mu.Unlock()
		fn()
		m.mu.Lock()
	}

	if m.now.Before(target) {
		m.now = target
	}
	m.mu.Unlock()
}

// Active returns the number of live tickers
func (m *ManualScheduler) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tickers)
}

func (m *ManualScheduler) due(target time.Time) *manualTicker {
	var best *manualTicker
	for _, t := range m.tickers {
		if t.cancelled || t.next.After(target) {
			continue
		}
		if best == nil || t.next.Before(best.next) || (t.next.Equal(best.next) && t.seq < best.seq) {
			best = t
		}
	}
	return best
}

func (m *ManualScheduler) prune() {
	live := m.tickers[:0]
	for _, t := range m.tickers {
		if !t.cancelled {
			live = append(live, t)
		}
	}
	for i := len(live); i < len(m.tickers); i++ {
		m.tickers[i] = nil
	}
	m.tickers = live
}
