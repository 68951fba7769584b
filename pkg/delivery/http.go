// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package delivery ships tracking events to collectors. Delivery is best
// effort: failures are logged and the event is dropped.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/luxfi/adunit/pkg/creative"
	"github.com/luxfi/adunit/pkg/log"
	"github.com/luxfi/adunit/pkg/metric"
	"github.com/luxfi/adunit/pkg/tracking"
)

const (
	FixedImpressionPath = "/v2/ssp/impression"
	AnalyticsTrackPath  = "/api/analytics/track"

	dropQueueFull = "queue_full"
	dropClosed    = "closed"
	dropFiltered  = "filtered"
	dropFailed    = "failed"
)

var ErrSenderClosed = errors.New("sender closed")

// Attribution ties a unit's events to the bid that served it
type Attribution struct {
	BuyType   creative.BuyType
	AdSpaceID string
	Meta      creative.BidMetadata
	// UserID and ClientIP are forwarded to the collector as headers
	UserID   string
	ClientIP string
}

// AttributionFor builds the attribution of a parsed creative
func AttributionFor(c *creative.Creative) Attribution {
	return Attribution{
		BuyType:   c.Slot.BuyType,
		AdSpaceID: c.Slot.AdSpaceID,
		Meta:      c.Meta,
	}
}

// Options configure an HTTPSender
type Options struct {
	BaseURL     string
	PublisherID string
	APIKey      string
	Origin      string
	Platform    string
	Test        bool
	QueueSize   int
	Workers     int
	Timeout     time.Duration
	Client      *http.Client
	Logger      log.Logger
	Metrics     *metric.Metrics
}

type job struct {
	event tracking.Event
	attr  Attribution
}

// HTTPSender posts events from a bounded queue. Enqueueing never blocks; a
// full queue drops the event.
type HTTPSender struct {
	opts    Options
	client  *http.Client
	log     log.Logger
	metrics *metric.Metrics

	mu     sync.RWMutex
	closed bool
	queue  chan job
	wg     sync.WaitGroup
}

// NewHTTPSender starts the delivery workers
func NewHTTPSender(opts Options) *HTTPSender {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Platform == "" {
		opts.Platform = "website"
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	s := &HTTPSender{
		opts:    opts,
		client:  opts.Client,
		log:     opts.Logger,
		metrics: opts.Metrics,
		queue:   make(chan job, opts.QueueSize),
	}
	if s.client == nil {
		s.client = &http.Client{Timeout: opts.Timeout}
	}
	if s.log == nil {
		s.log = log.NoOp()
	}

	for i := 0; i < opts.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

// For returns the sender a tracker uses for one unit
func (s *HTTPSender) For(a Attribution) tracking.Sender {
	return tracking.SenderFunc(func(e tracking.Event) {
		s.enqueue(job{event: e, attr: a})
	})
}

func (s *HTTPSender) enqueue(j job) {
	if !Routable(j.attr.BuyType, j.event.Type) {
		s.metrics.EventDropped(dropFiltered)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.metrics.EventDropped(dropClosed)
		return
	}

	select {
	case s.queue <- j:
	default:
		s.metrics.EventDropped(dropQueueFull)
		s.log.Warn("event queue full, dropping event",
			log.String("eventType", string(j.event.Type)),
			log.String("adUnitId", j.event.AdUnitID),
		)
	}
}

// Close stops accepting events and waits for the queue to drain
func (s *HTTPSender) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *HTTPSender) worker() {
	defer s.wg.Done()
	for j := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.Timeout)
		err := s.Post(ctx, j.event, j.attr)
		cancel()
		if err != nil {
			s.metrics.EventDropped(dropFailed)
			s.log.Warn("event delivery failed",
				log.String("eventType", string(j.event.Type)),
				log.String("adUnitId", j.event.AdUnitID),
				log.Error(err),
			)
		}
	}
}

// Routable reports whether an event is forwarded for a buy type. Fixed
// buys only report clicks and views.
func Routable(b creative.BuyType, t tracking.EventType) bool {
	if !b.IsFixed() {
		return true
	}
	return t == tracking.Click || t == tracking.View
}

// Post delivers one event synchronously
func (s *HTTPSender) Post(ctx context.Context, e tracking.Event, a Attribution) error {
	req, err := s.NewRequest(ctx, e, a)
	if err != nil {
		return err
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", e.Type, err)
	}
	defer resp.Body.Close()
	s.metrics.Delivered(resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("post %s: HTTP error: %d", e.Type, resp.StatusCode)
	}
	s.log.Debug("event tracked",
		log.String("eventType", string(e.Type)),
		log.String("trackId", a.Meta.TrackID),
	)
	return nil
}

// NewRequest builds the collector request for an event
func (s *HTTPSender) NewRequest(ctx context.Context, e tracking.Event, a Attribution) (*http.Request, error) {
	body := AnalyticsPayload(e)

	var target string
	header := http.Header{}
	header.Set("Content-Type", "application/json")

	if a.BuyType.IsFixed() {
		target = s.opts.BaseURL + FixedImpressionPath
		body["type"] = e.Type
		body["companyId"] = s.opts.PublisherID
		body["origin"] = s.opts.Origin
		if len(a.Meta.MetaData) > 0 {
			body["metaData"] = a.Meta.MetaData
		}
	} else {
		test := "0"
		if s.opts.Test {
			test = "1"
		}
		q := url.Values{}
		q.Set("campaignId", a.Meta.CampaignID)
		q.Set("companyId", s.opts.PublisherID)
		q.Set("adSpaceId", a.AdSpaceID)
		q.Set("test", test)
		target = s.opts.BaseURL + AnalyticsTrackPath + "?" + q.Encode()

		body["eventType"] = e.Type
		body["winningBidId"] = a.Meta.TrackID
		body["campaignId"] = a.Meta.CampaignID

		header.Set("x-user-id", a.UserID)
		header.Set("x-platform", s.opts.Platform)
		header.Set("x-api-key", s.opts.APIKey)
		header.Set("x-forwarded-for", a.ClientIP)
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", e.Type, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header = header
	return req, nil
}

// AnalyticsPayload maps an event onto the collector's field names
func AnalyticsPayload(e tracking.Event) map[string]any {
	out := map[string]any{}
	switch p := e.Payload.(type) {
	case tracking.ImpressionPayload:
		out["renderTime"] = p.RenderTimeMs
	case tracking.ViewPayload:
		out["viewTime"] = p.ViewTimeMs
		out["visibilityRatio"] = p.VisibilityRatio
		out["scrollDepth"] = p.ScrollDepth
		out["timeToVisible"] = p.TimeToVisibleMs
	case tracking.TotalViewPayload:
		out["totalViewTime"] = p.TotalViewTimeMs
		out["visibilityRatio"] = p.VisibilityRatio
	case tracking.HoverPayload:
		out["hoverTime"] = p.HoverTimeMs
	case tracking.PlaybackPayload:
		out["totalPlaybackTime"] = p.TotalPlaybackTimeMs
	case tracking.QuartilePayload:
		out["quartile"] = p.Quartile
	}
	return out
}
