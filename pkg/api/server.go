// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package api serves layout plans, event ingest, engagement reports and
// websocket tracking sessions over HTTP.
package api

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/luxfi/adunit/pkg/analytics"
	"github.com/luxfi/adunit/pkg/config"
	"github.com/luxfi/adunit/pkg/delivery"
	"github.com/luxfi/adunit/pkg/log"
	"github.com/luxfi/adunit/pkg/metric"
	"github.com/luxfi/adunit/pkg/tracking"
)

// Upstream returns the sender that forwards a unit's events to the
// collector service
type Upstream func(delivery.Attribution) tracking.Sender

// Server holds the dependencies of the HTTP handlers
type Server struct {
	cfg       *config.Config
	collector *analytics.Collector
	upstream  Upstream
	sched     tracking.Scheduler
	log       log.Logger
	metrics   *metric.Metrics
	upgrader  websocket.Upgrader
	started   time.Time

	// live page sessions
	sessMu   sync.Mutex
	sessions map[*session]struct{}
	closing  bool
	sessWG   sync.WaitGroup
}

// Option configures a Server
type Option func(*Server)

func WithLogger(l log.Logger) Option {
	return func(s *Server) { s.log = l }
}

func WithMetrics(m *metric.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithUpstream forwards session events to the collector service
func WithUpstream(u Upstream) Option {
	return func(s *Server) { s.upstream = u }
}

// WithScheduler sets the clock of session trackers
func WithScheduler(sched tracking.Scheduler) Option {
	return func(s *Server) { s.sched = sched }
}

// NewServer creates the API server
func NewServer(cfg *config.Config, collector *analytics.Collector, opts ...Option) *Server {
	if cfg == nil {
		cfg = config.Default()
	}
	s := &Server{
		cfg:       cfg,
		collector: collector,
		sched:     tracking.RealScheduler{},
		log:       log.NoOp(),
		started:   time.Now(),
		sessions:  make(map[*session]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.collector == nil {
		s.collector = analytics.NewCollector(analytics.WithLogger(s.log), analytics.WithMetrics(s.metrics))
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Collector returns the analytics collector behind the ingest endpoints
func (s *Server) Collector() *analytics.Collector { return s.collector }

// track registers a live session. It fails once CloseSessions has started.
func (s *Server) track(sess *session) bool {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	if s.closing {
		return false
	}
	s.sessions[sess] = struct{}{}
	s.sessWG.Add(1)
	return true
}

func (s *Server) untrack(sess *session) {
	s.sessMu.Lock()
	delete(s.sessions, sess)
	s.sessMu.Unlock()
	s.sessWG.Done()
}

// CloseSessions flushes every live page session and waits for their sockets
// to close. New sessions are refused afterwards. http.Server.Shutdown does
// not cover hijacked websocket connections, so call this after it.
func (s *Server) CloseSessions(ctx context.Context) error {
	s.sessMu.Lock()
	s.closing = true
	live := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		live = append(live, sess)
	}
	s.sessMu.Unlock()

	for _, sess := range live {
		sess.stop()
	}

	done := make(chan struct{})
	go func() {
		s.sessWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Router builds the gin engine
func (s *Server) Router() *gin.Engine {
	if !s.cfg.Development() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery(), s.instrument())

	// CORS configuration
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = s.cfg.AllowedOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-API-Key"}
	if len(corsConfig.AllowOrigins) == 0 || contains(corsConfig.AllowOrigins, "*") {
		corsConfig.AllowOrigins = nil
		corsConfig.AllowAllOrigins = true
	}
	router.Use(cors.New(corsConfig))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"version": config.Version,
			"uptime":  time.Since(s.started).String(),
			"time":    time.Now().Unix(),
		})
	})

	api := router.Group("/api/v1")
	{
		api.POST("/layout", s.handleLayout)
		api.POST("/creatives", s.handleCreative)

		// Event ingest
		api.POST("/events", s.handleEvents)

		// Reporting
		api.GET("/reports/summary", s.handleSummary)
		api.GET("/reports/units", s.handleUnits)
		api.GET("/reports/units/:id", s.handleUnitReport)

		// Live tracking sessions
		api.GET("/sessions/ws", s.handleSession)
	}

	return router
}

// instrument records request counts and latency per matched route
func (s *Server) instrument() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		s.metrics.Request(c.Request.Method, route, c.Writer.Status(), time.Since(start))
		s.log.Debug("request",
			log.String("method", c.Request.Method),
			log.String("route", route),
			log.Int("status", c.Writer.Status()),
			log.Duration("took", time.Since(start)),
		)
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	return contains(s.cfg.AllowedOrigins, "*") || contains(s.cfg.AllowedOrigins, origin)
}

func contains(xs []string, v string) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if unix, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Parse(time.RFC3339, v)
}
