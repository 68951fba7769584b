// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package tracking

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Sample is one visibility reading
type Sample struct {
	Ratio float64
	At    time.Time
}

// Source streams visibility samples for one element
type Source interface {
	Subscribe(fn func(Sample)) (cancel func())
}

// Capabilities describes what the host surface supports
type Capabilities struct {
	IntersectionObserver bool
}

// SelectSource picks the observer source when the host supports it and the
// polling fallback otherwise.
func SelectSource(caps Capabilities, threshold float64, now func() time.Time) Source {
	if caps.IntersectionObserver {
		return NewObserverSource(threshold, now)
	}
	return NewPollingSource(now)
}

// ClampRatio maps any input into [0, 1]
func ClampRatio(r float64) float64 {
	if math.IsNaN(r) || r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}

type subscribers struct {
	mu     sync.Mutex
	nextID int
	fns    map[int]func(Sample)
	last   *Sample
}

func (s *subscribers) subscribe(fn func(Sample)) func() {
	s.mu.Lock()
	if s.fns == nil {
		s.fns = make(map[int]func(Sample))
	}
	s.nextID++
	id := s.nextID
	s.fns[id] = fn
	last := s.last
	s.mu.Unlock()

	if last != nil {
		fn(*last)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.fns, id)
			s.mu.Unlock()
		})
	}
}

func (s *subscribers) publish(sample Sample) {
	s.mu.Lock()
	s.last = &sample
	ids := make([]int, 0, len(s.fns))
	for id := range s.fns {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Sample), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.fns[id])
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(sample)
	}
}

// ObserverSource forwards host ratios only when they cross a registered
// threshold, the way an intersection observer reports.
type ObserverSource struct {
	subs       subscribers
	now        func() time.Time
	thresholds []float64

	mu     sync.Mutex
	bucket int
	seen   bool
}

// NewObserverSource registers 0, 0.1 ... 1.0 plus threshold
func NewObserverSource(threshold float64, now func() time.Time) *ObserverSource {
	if now == nil {
		now = time.Now
	}
	ts := make([]float64, 0, 12)
	for i := 0; i <= 10; i++ {
		ts = append(ts, float64(i)/10)
	}
	threshold = ClampRatio(threshold)
	found := false
	for _, t := range ts {
		if math.Abs(t-threshold) < 1e-9 {
			found = true
			break
		}
	}
	if !found {
		ts = append(ts, threshold)
		sort.Float64s(ts)
	}
	return &ObserverSource{now: now, thresholds: ts}
}

func (o *ObserverSource) Subscribe(fn func(Sample)) func() {
	return o.subs.subscribe(fn)
}

// Report feeds a raw ratio from the host
func (o *ObserverSource) Report(ratio float64) bool {
	ratio = ClampRatio(ratio)
	b := o.bucketOf(ratio)

	o.mu.Lock()
	if o.seen && b == o.bucket {
		o.mu.Unlock()
		return false
	}
	o.seen = true
	o.bucket = b
	o.mu.Unlock()

	o.subs.publish(Sample{Ratio: ratio, At: o.now()})
	return true
}

// bucketOf counts the thresholds at or below ratio; a zero ratio is its own
// bucket so leaving the viewport is always reported.
func (o *ObserverSource) bucketOf(ratio float64) int {
	if ratio == 0 {
		return 0
	}
	n := 0
	for _, t := range o.thresholds {
		if ratio >= t {
			n++
		}
	}
	return n
}

// Rect is an axis-aligned box in viewport coordinates
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Area of the rectangle, zero when degenerate
func (r Rect) Area() float64 {
	if r.Width <= 0 || r.Height <= 0 {
		return 0
	}
	return r.Width * r.Height
}

// Intersect returns the overlap of r and o
func (r Rect) Intersect(o Rect) Rect {
	x1 := math.Max(r.X, o.X)
	y1 := math.Max(r.Y, o.Y)
	x2 := math.Min(r.X+r.Width, o.X+o.Width)
	y2 := math.Min(r.Y+r.Height, o.Y+o.Height)
	if x2 <= x1 || y2 <= y1 {
		return Rect{}
	}
	return Rect{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}
}

// VisibleFraction is the share of element inside viewport
func VisibleFraction(element, viewport Rect) float64 {
	area := element.Area()
	if area == 0 {
		return 0
	}
	return ClampRatio(element.Intersect(viewport).Area() / area)
}

// PollingSource computes ratios from bounds reported on scroll and resize
type PollingSource struct {
	subs subscribers
	now  func() time.Time
}

func NewPollingSource(now func() time.Time) *PollingSource {
	if now == nil {
		now = time.Now
	}
	return &PollingSource{now: now}
}

func (p *PollingSource) Subscribe(fn func(Sample)) func() {
	return p.subs.subscribe(fn)
}

// Update recomputes the ratio for the current element and viewport bounds
func (p *PollingSource) Update(element, viewport Rect) float64 {
	ratio := VisibleFraction(element, viewport)
	p.subs.publish(Sample{Ratio: ratio, At: p.now()})
	return ratio
}
