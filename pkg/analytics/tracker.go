// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package analytics aggregates ingested tracking events per ad unit.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/luxfi/adunit/pkg/creative"
	"github.com/luxfi/adunit/pkg/log"
	"github.com/luxfi/adunit/pkg/metric"
	"github.com/luxfi/adunit/pkg/tracking"
)

var (
	ErrUnitNotFound   = errors.New("ad unit not found")
	ErrDuplicateEvent = errors.New("duplicate event")
)

var thousand = decimal.NewFromInt(1000)

const (
	// DefaultQueueSize bounds the events waiting for ingestion through Send
	DefaultQueueSize = 4096
	// DefaultDedupeWindow is how many recent event ids are remembered
	DefaultDedupeWindow = 100000
)

// Collector tracks engagement metrics of every ad unit it has seen
type Collector struct {
	// Real-time counters
	TotalEvents      atomic.Uint64
	TotalImpressions atomic.Uint64
	TotalViews       atomic.Uint64
	TotalClicks      atomic.Uint64
	TotalDuplicates  atomic.Uint64

	// Dwell totals in milliseconds
	TotalViewTime     atomic.Uint64
	TotalHoverTime    atomic.Uint64
	TotalPlaybackTime atomic.Uint64

	// Time series data
	TimeSeries *TimeSeriesData

	// Per-unit metrics
	UnitMetrics map[string]*UnitStats

	// Mutex for maps
	mu       sync.RWMutex
	seen     map[string]struct{}
	seenRing []string
	seenNext int
	window   int

	// Event stream for real-time consumers
	EventStream chan *Record

	storage StorageBackend
	log     log.Logger
	metrics *metric.Metrics
	now     func() time.Time

	// Send queue drained by one worker
	queueSize int
	queue     chan tracking.Event
	qmu       sync.RWMutex
	closed    bool
	wg        sync.WaitGroup
}

// UnitStats tracks per-unit engagement
type UnitStats struct {
	AdUnitID   string
	CampaignID string
	// Price is the CPM of the bid that served the unit
	Price decimal.Decimal

	Impressions uint64
	Views       uint64
	TotalViews  uint64
	Hovers      uint64
	Clicks      uint64
	Playbacks   uint64
	Quartiles   [4]uint64

	ViewTimeMs      int64
	HoverTimeMs     int64
	PlaybackTimeMs  int64
	TimeToVisibleMs int64
	RenderTimeMs    int64

	Revenue   decimal.Decimal
	FirstSeen time.Time
	LastSeen  time.Time
}

// Record is an ingested event
type Record struct {
	Event      tracking.Event
	CampaignID string
	Received   time.Time
}

// StorageBackend interface for persisting analytics
type StorageBackend interface {
	Store(r *Record) error
	Query(filter QueryFilter) ([]*Record, error)
}

// QueryFilter for retrieving events. Zero times are unbounded.
type QueryFilter struct {
	StartTime  time.Time
	EndTime    time.Time
	EventTypes []tracking.EventType
	AdUnitIDs  []string
	Limit      int
}

// TimeRange for reports
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Option configures a Collector
type Option func(*Collector)

func WithStorage(s StorageBackend) Option {
	return func(c *Collector) { c.storage = s }
}

func WithLogger(l log.Logger) Option {
	return func(c *Collector) { c.log = l }
}

func WithMetrics(m *metric.Metrics) Option {
	return func(c *Collector) { c.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(c *Collector) { c.now = now }
}

// WithQueueSize bounds the Send queue
func WithQueueSize(n int) Option {
	return func(c *Collector) { c.queueSize = n }
}

// WithDedupeWindow sets how many recent event ids are checked for duplicates
func WithDedupeWindow(n int) Option {
	return func(c *Collector) { c.window = n }
}

// NewCollector creates a collector backed by in-memory storage
func NewCollector(opts ...Option) *Collector {
	c := &Collector{
		TimeSeries: &TimeSeriesData{
			Buckets:    make(map[int64]*MetricBucket),
			BucketSize: time.Minute,
		},
		UnitMetrics: make(map[string]*UnitStats),
		seen:        make(map[string]struct{}),
		EventStream: make(chan *Record, 10000),
		storage:     NewInMemoryStorage(),
		log:         log.NoOp(),
		now:         time.Now,
		queueSize:   DefaultQueueSize,
		window:      DefaultDedupeWindow,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.queueSize <= 0 {
		c.queueSize = DefaultQueueSize
	}
	if c.window <= 0 {
		c.window = DefaultDedupeWindow
	}
	c.seenRing = make([]string, 0, min(c.window, 1024))
	c.queue = make(chan tracking.Event, c.queueSize)

	c.wg.Add(1)
	go c.worker()
	return c
}

// BindCreative attributes a unit to the bid that served it
func (c *Collector) BindCreative(unitID string, meta creative.BidMetadata) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.unit(unitID)
	s.CampaignID = meta.CampaignID
	s.Price = meta.Price
}

// Ingest validates and aggregates one event. Events are deduplicated by id.
func (c *Collector) Ingest(e tracking.Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	now := c.now()
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}

	c.mu.Lock()
	if e.ID != "" {
		if _, dup := c.seen[e.ID]; dup {
			c.mu.Unlock()
			c.TotalDuplicates.Add(1)
			return fmt.Errorf("event %s: %w", e.ID, ErrDuplicateEvent)
		}
		c.remember(e.ID)
	}
	s := c.unit(e.AdUnitID)
	c.apply(s, e)
	rec := &Record{Event: e, CampaignID: s.CampaignID, Received: now}
	c.mu.Unlock()

	c.TotalEvents.Add(1)
	c.metrics.EventIngested(string(e.Type))

	if err := c.storage.Store(rec); err != nil {
		c.log.Warn("failed to store event", log.String("eventId", e.ID), log.Error(err))
	}

	select {
	case c.EventStream <- rec:
	default:
		// Buffer full, drop event
	}

	c.updateTimeSeries(rec)
	return nil
}

// remember records an id, evicting the oldest once the window is full.
// Callers hold c.mu.
func (c *Collector) remember(id string) {
	c.seen[id] = struct{}{}
	if len(c.seenRing) < c.window {
		c.seenRing = append(c.seenRing, id)
		return
	}
	delete(c.seen, c.seenRing[c.seenNext])
	c.seenRing[c.seenNext] = id
	c.seenNext = (c.seenNext + 1) % c.window
}

// Send lets a collector stand in as a tracker's sender. Events are queued
// and ingested by a worker; a full queue drops the event.
func (c *Collector) Send(e tracking.Event) {
	c.qmu.RLock()
	defer c.qmu.RUnlock()
	if c.closed {
		c.metrics.EventDropped("closed")
		return
	}

	select {
	case c.queue <- e:
	default:
		c.metrics.EventDropped("queue_full")
		c.log.Warn("analytics queue full, dropping event",
			log.String("eventType", string(e.Type)),
			log.String("adUnitId", e.AdUnitID),
		)
	}
}

func (c *Collector) worker() {
	defer c.wg.Done()
	for e := range c.queue {
		if err := c.Ingest(e); err != nil && !errors.Is(err, ErrDuplicateEvent) {
			c.log.Warn("event rejected", log.Error(err))
		}
	}
}

// Close stops accepting events through Send and waits for the queue to drain
func (c *Collector) Close(ctx context.Context) error {
	c.qmu.Lock()
	if c.closed {
		c.qmu.Unlock()
		return nil
	}
	c.closed = true
	close(c.queue)
	c.qmu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Collector) unit(id string) *UnitStats {
	s, ok := c.UnitMetrics[id]
	if !ok {
		s = &UnitStats{AdUnitID: id}
		c.UnitMetrics[id] = s
	}
	return s
}

func (c *Collector) apply(s *UnitStats, e tracking.Event) {
	if s.FirstSeen.IsZero() || e.Timestamp.Before(s.FirstSeen) {
		s.FirstSeen = e.Timestamp
	}
	if e.Timestamp.After(s.LastSeen) {
		s.LastSeen = e.Timestamp
	}

	switch p := e.Payload.(type) {
	case tracking.ImpressionPayload:
		s.Impressions++
		s.RenderTimeMs += p.RenderTimeMs
		s.Revenue = s.Revenue.Add(s.Price.Div(thousand))
		c.TotalImpressions.Add(1)
	case tracking.ViewPayload:
		s.Views++
		s.TimeToVisibleMs += p.TimeToVisibleMs
		c.TotalViews.Add(1)
	case tracking.TotalViewPayload:
		s.TotalViews++
		s.ViewTimeMs += p.TotalViewTimeMs
		c.TotalViewTime.Add(nonNegative(p.TotalViewTimeMs))
	case tracking.HoverPayload:
		s.Hovers++
		s.HoverTimeMs += p.HoverTimeMs
		c.TotalHoverTime.Add(nonNegative(p.HoverTimeMs))
	case tracking.ClickPayload:
		s.Clicks++
		c.TotalClicks.Add(1)
	case tracking.PlaybackPayload:
		s.Playbacks++
		s.PlaybackTimeMs += p.TotalPlaybackTimeMs
		c.TotalPlaybackTime.Add(nonNegative(p.TotalPlaybackTimeMs))
	case tracking.QuartilePayload:
		if p.Quartile >= 1 && p.Quartile <= 4 {
			s.Quartiles[p.Quartile-1]++
		}
	}
}

// UnitReport summarizes one unit's engagement
type UnitReport struct {
	AdUnitID           string          `json:"adUnitId"`
	CampaignID         string          `json:"campaignId,omitempty"`
	Impressions        uint64          `json:"impressions"`
	Views              uint64          `json:"views"`
	Clicks             uint64          `json:"clicks"`
	Hovers             uint64          `json:"hovers"`
	Playbacks          uint64          `json:"playbacks"`
	Quartiles          [4]uint64       `json:"quartiles"`
	ViewTimeMs         int64           `json:"viewTimeMs"`
	HoverTimeMs        int64           `json:"hoverTimeMs"`
	PlaybackTimeMs     int64           `json:"playbackTimeMs"`
	AvgRenderTimeMs    float64         `json:"avgRenderTimeMs"`
	AvgTimeToVisibleMs float64         `json:"avgTimeToVisibleMs"`
	ViewabilityRate    float64         `json:"viewabilityRate"`
	CTR                float64         `json:"ctr"`
	CompletionRate     float64         `json:"completionRate"`
	Revenue            decimal.Decimal `json:"revenue"`
	FirstSeen          time.Time       `json:"firstSeen"`
	LastSeen           time.Time       `json:"lastSeen"`
	Events             []*Record       `json:"-"`
}

// GetUnitReport generates a unit performance report
func (c *Collector) GetUnitReport(unitID string, timeRange TimeRange) (*UnitReport, error) {
	c.mu.RLock()
	stats, ok := c.UnitMetrics[unitID]
	var s UnitStats
	if ok {
		s = *stats
	}
	c.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unit %s: %w", unitID, ErrUnitNotFound)
	}

	events, err := c.storage.Query(QueryFilter{
		StartTime: timeRange.Start,
		EndTime:   timeRange.End,
		AdUnitIDs: []string{unitID},
	})
	if err != nil {
		return nil, err
	}

	report := &UnitReport{
		AdUnitID:       unitID,
		CampaignID:     s.CampaignID,
		Impressions:    s.Impressions,
		Views:          s.Views,
		Clicks:         s.Clicks,
		Hovers:         s.Hovers,
		Playbacks:      s.Playbacks,
		Quartiles:      s.Quartiles,
		ViewTimeMs:     s.ViewTimeMs,
		HoverTimeMs:    s.HoverTimeMs,
		PlaybackTimeMs: s.PlaybackTimeMs,
		Revenue:        s.Revenue,
		FirstSeen:      s.FirstSeen,
		LastSeen:       s.LastSeen,
		Events:         events,
	}
	if s.Impressions > 0 {
		report.AvgRenderTimeMs = float64(s.RenderTimeMs) / float64(s.Impressions)
		report.ViewabilityRate = ratio(s.Views, s.Impressions)
		report.CTR = ratio(s.Clicks, s.Impressions)
	}
	if s.Views > 0 {
		report.AvgTimeToVisibleMs = float64(s.TimeToVisibleMs) / float64(s.Views)
	}
	if s.Quartiles[0] > 0 {
		report.CompletionRate = ratio(s.Quartiles[3], s.Quartiles[0])
	}
	return report, nil
}

// Units lists the ids of every unit seen
func (c *Collector) Units() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.UnitMetrics))
	for id := range c.UnitMetrics {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// GetRealTimeMetrics returns current real-time metrics
func (c *Collector) GetRealTimeMetrics() map[string]interface{} {
	imps := c.TotalImpressions.Load()
	c.mu.RLock()
	units := len(c.UnitMetrics)
	revenue := decimal.Zero
	for _, s := range c.UnitMetrics {
		revenue = revenue.Add(s.Revenue)
	}
	c.mu.RUnlock()

	return map[string]interface{}{
		"total_events":        c.TotalEvents.Load(),
		"total_impressions":   imps,
		"total_views":         c.TotalViews.Load(),
		"total_clicks":        c.TotalClicks.Load(),
		"duplicates":          c.TotalDuplicates.Load(),
		"view_time_ms":        c.TotalViewTime.Load(),
		"hover_time_ms":       c.TotalHoverTime.Load(),
		"playback_time_ms":    c.TotalPlaybackTime.Load(),
		"viewability_rate":    ratio(c.TotalViews.Load(), imps),
		"ctr":                 ratio(c.TotalClicks.Load(), imps),
		"units":               units,
		"total_revenue":       revenue.StringFixed(6),
		"events_last_minutes": c.TimeSeries.Recent(c.now(), 5),
	}
}

func (c *Collector) updateTimeSeries(r *Record) {
	c.TimeSeries.Add(r.Received, r.Event.Type)
}

// TimeSeriesData stores time-bucketed event counts
type TimeSeriesData struct {
	Buckets    map[int64]*MetricBucket
	BucketSize time.Duration
	mu         sync.RWMutex
}

// MetricBucket represents events for a time period
type MetricBucket struct {
	Timestamp time.Time                     `json:"timestamp"`
	Events    uint64                        `json:"events"`
	ByType    map[tracking.EventType]uint64 `json:"byType"`
}

// size falls back to a minute for unset or non-positive bucket sizes
func (t *TimeSeriesData) size() time.Duration {
	if t.BucketSize <= 0 {
		return time.Minute
	}
	return t.BucketSize
}

func (t *TimeSeriesData) key(at time.Time) int64 {
	return at.UnixNano() / int64(t.size())
}

// Add counts an event in its bucket
func (t *TimeSeriesData) Add(at time.Time, et tracking.EventType) {
	bucket := t.key(at)

	t.mu.Lock()
	defer t.mu.Unlock()

	b, ok := t.Buckets[bucket]
	if !ok {
		b = &MetricBucket{
			Timestamp: time.Unix(0, bucket*int64(t.size())).UTC(),
			ByType:    make(map[tracking.EventType]uint64),
		}
		t.Buckets[bucket] = b
	}
	b.Events++
	b.ByType[et]++
}

// Recent returns the last n buckets up to now, oldest first
func (t *TimeSeriesData) Recent(now time.Time, n int) []MetricBucket {
	last := t.key(now)

	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]MetricBucket, 0, n)
	for k := last - int64(n) + 1; k <= last; k++ {
		b, ok := t.Buckets[k]
		if !ok {
			continue
		}
		cp := *b
		cp.ByType = make(map[tracking.EventType]uint64, len(b.ByType))
		for et, v := range b.ByType {
			cp.ByType[et] = v
		}
		out = append(out, cp)
	}
	return out
}

// InMemoryStorage provides in-memory storage for analytics
type InMemoryStorage struct {
	records []Record
	mu      sync.RWMutex
}

// NewInMemoryStorage creates new in-memory storage
func NewInMemoryStorage() *InMemoryStorage {
	return &InMemoryStorage{
		records: make([]Record, 0),
	}
}

// Store saves an event
func (s *InMemoryStorage) Store(r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, *r)
	return nil
}

// Query retrieves events matching filter
func (s *InMemoryStorage) Query(filter QueryFilter) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]*Record, 0)
	for i := range s.records {
		if matchesFilter(&s.records[i], filter) {
			r := s.records[i]
			results = append(results, &r)
			if filter.Limit > 0 && len(results) >= filter.Limit {
				break
			}
		}
	}

	return results, nil
}

func matchesFilter(r *Record, filter QueryFilter) bool {
	ts := r.Event.Timestamp
	if !filter.StartTime.IsZero() && ts.Before(filter.StartTime) {
		return false
	}
	if !filter.EndTime.IsZero() && !ts.Before(filter.EndTime) {
		return false
	}

	if len(filter.EventTypes) > 0 && !contains(filter.EventTypes, r.Event.Type) {
		return false
	}
	if len(filter.AdUnitIDs) > 0 && !contains(filter.AdUnitIDs, r.Event.AdUnitID) {
		return false
	}

	return true
}

func contains[T comparable](xs []T, v T) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func ratio(n, d uint64) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

func nonNegative(v int64) uint64 {
	if v < 0 {
		return 0
	}
	return uint64(v)
}
