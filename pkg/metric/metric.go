// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metric

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "adunit"

// Metrics holds all metrics for the ad unit service on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Tracking metrics
	EventsSent    *prometheus.CounterVec
	EventsDropped *prometheus.CounterVec
	TrackersLive  prometheus.Gauge

	// Delivery metrics
	DeliveryLatency *prometheus.HistogramVec

	// Layout metrics
	LayoutsComputed *prometheus.CounterVec
	LayoutDuration  prometheus.Histogram

	// Collector metrics
	EventsIngested *prometheus.CounterVec
	SessionsActive prometheus.Gauge

	// API metrics
	RequestsProcessed *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
}

// NewMetrics creates and registers every collector
func NewMetrics() (*Metrics, error) {
	reg := prometheus.NewRegistry()
	m := &Metrics{registry: reg}

	m.EventsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_sent_total",
		Help:      "Tracking events handed to delivery by type",
	}, []string{"type"})

	m.EventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_dropped_total",
		Help:      "Tracking events dropped by reason",
	}, []string{"reason"})

	m.TrackersLive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "trackers_live",
		Help:      "Number of attached trackers",
	})

	m.DeliveryLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "delivery_latency_seconds",
		Help:      "Time to post a tracking event",
		Buckets:   prometheus.DefBuckets,
	}, []string{"status"})

	m.LayoutsComputed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "layouts_computed_total",
		Help:      "Layout plans computed by kind",
	}, []string{"kind"})

	m.LayoutDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "layout_duration_seconds",
		Help:      "Time to compute a layout plan",
		Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01},
	})

	m.EventsIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_ingested_total",
		Help:      "Events accepted by the collector by type",
	}, []string{"type"})

	m.SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ws_sessions_active",
		Help:      "Open websocket tracking sessions",
	})

	m.RequestsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_requests_processed_total",
		Help:      "Total number of API requests processed",
	}, []string{"method", "route", "status"})

	m.RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "api_request_duration_seconds",
		Help:      "API request latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})

	cs := []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.EventsSent, m.EventsDropped, m.TrackersLive,
		m.DeliveryLatency,
		m.LayoutsComputed, m.LayoutDuration,
		m.EventsIngested, m.SessionsActive,
		m.RequestsProcessed, m.RequestDuration,
	}
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// GetGatherer returns the prometheus gatherer for metrics export
func (m *Metrics) GetGatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

// GetRegisterer returns the prometheus registerer
func (m *Metrics) GetRegisterer() prometheus.Registerer {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

// Handler serves the registry in the exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.GetGatherer(), promhttp.HandlerOpts{})
}

func (m *Metrics) EventSent(eventType string) {
	if m == nil {
		return
	}
	m.EventsSent.WithLabelValues(eventType).Inc()
}

func (m *Metrics) EventDropped(reason string) {
	if m == nil {
		return
	}
	m.EventsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) TrackerAttached() {
	if m == nil {
		return
	}
	m.TrackersLive.Inc()
}

func (m *Metrics) TrackerDetached() {
	if m == nil {
		return
	}
	m.TrackersLive.Dec()
}

func (m *Metrics) Delivered(status int, took time.Duration) {
	if m == nil {
		return
	}
	m.DeliveryLatency.WithLabelValues(strconv.Itoa(status)).Observe(took.Seconds())
}

func (m *Metrics) LayoutComputed(kind string, took time.Duration) {
	if m == nil {
		return
	}
	m.LayoutsComputed.WithLabelValues(kind).Inc()
	m.LayoutDuration.Observe(took.Seconds())
}

func (m *Metrics) EventIngested(eventType string) {
	if m == nil {
		return
	}
	m.EventsIngested.WithLabelValues(eventType).Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}

func (m *Metrics) Request(method, route string, status int, took time.Duration) {
	if m == nil {
		return
	}
	m.RequestsProcessed.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(took.Seconds())
}
