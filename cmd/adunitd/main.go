// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/luxfi/adunit/pkg/analytics"
	"github.com/luxfi/adunit/pkg/api"
	"github.com/luxfi/adunit/pkg/config"
	"github.com/luxfi/adunit/pkg/delivery"
	"github.com/luxfi/adunit/pkg/log"
	"github.com/luxfi/adunit/pkg/metric"
	"github.com/luxfi/adunit/pkg/tracking"
)

var (
	envFile     = flag.String("env-file", "", "Dotenv file to load (default ./.env)")
	env         = flag.String("env", "", "Environment (development/production)")
	logLevel    = flag.String("log-level", "", "Log level")
	apiAddr     = flag.String("api-addr", "", "API listen address")
	opsAddr     = flag.String("ops-addr", "", "Health and metrics listen address")
	trackingURL = flag.String("tracking-url", "", "Collector base URL, \"off\" disables forwarding")

	// Version info
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Daemon wires the ad unit service together
type Daemon struct {
	cfg       *config.Config
	log       log.Logger
	metrics   *metric.Metrics
	collector *analytics.Collector
	store     *analytics.SQLiteStorage
	sender    *delivery.HTTPSender
	broker    *delivery.AMQPSender
	api       *api.Server

	apiServer *http.Server
	opsServer *http.Server
	started   time.Time
}

func main() {
	flag.Parse()

	fmt.Printf("Ad unit daemon (adunitd) %s (commit: %s, built: %s)\n", config.Version, GitCommit, BuildTime)

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := log.ForEnv(cfg.Env, cfg.LogLevel)
	defer logger.Sync()

	d, err := NewDaemon(cfg, logger)
	if err != nil {
		logger.Error("failed to create daemon", log.Error(err))
		os.Exit(1)
	}

	if err := d.Start(); err != nil {
		logger.Error("failed to start daemon", log.Error(err))
		os.Exit(1)
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()

	if err := d.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", log.Error(err))
	}
}

// loadConfig reads dotenv and environment, then applies flags on top
func loadConfig() (*config.Config, error) {
	var files []string
	if *envFile != "" {
		files = append(files, *envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return nil, err
	}
	applyFlags(cfg)
	return cfg, cfg.Validate()
}

func applyFlags(cfg *config.Config) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Env, *env)
	set(&cfg.LogLevel, *logLevel)
	set(&cfg.APIAddr, *apiAddr)
	set(&cfg.OpsAddr, *opsAddr)
	set(&cfg.TrackingURL, *trackingURL)
	if cfg.TrackingURL == "off" {
		cfg.TrackingURL = ""
	}
}

// NewDaemon creates the service components
func NewDaemon(cfg *config.Config, logger log.Logger) (*Daemon, error) {
	metrics, err := metric.NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	d := &Daemon{
		cfg:     cfg,
		log:     logger,
		metrics: metrics,
		started: time.Now(),
	}

	collectorOpts := []analytics.Option{
		analytics.WithLogger(logger.With(log.String("component", "analytics"))),
		analytics.WithMetrics(metrics),
	}
	if cfg.AnalyticsDB != "" {
		d.store, err = analytics.OpenSQLite(cfg.AnalyticsDB)
		if err != nil {
			return nil, fmt.Errorf("failed to open analytics store: %w", err)
		}
		collectorOpts = append(collectorOpts, analytics.WithStorage(d.store))
	}
	d.collector = analytics.NewCollector(collectorOpts...)

	if cfg.AMQPURL != "" {
		d.broker, err = delivery.DialAMQP(delivery.AMQPOptions{
			URL:       cfg.AMQPURL,
			Exchange:  cfg.AMQPExchange,
			QueueSize: cfg.QueueSize,
			Logger:    logger.With(log.String("component", "broker")),
			Metrics:   metrics,
		})
		if err != nil {
			if d.store != nil {
				d.store.Close()
			}
			return nil, err
		}
	}

	opts := []api.Option{
		api.WithLogger(logger.With(log.String("component", "api"))),
		api.WithMetrics(metrics),
	}
	if cfg.TrackingURL != "" {
		d.sender = delivery.NewHTTPSender(delivery.Options{
			BaseURL:     cfg.TrackingURL,
			PublisherID: cfg.PublisherID,
			APIKey:      cfg.APIKey,
			Origin:      cfg.Origin,
			Platform:    cfg.Platform,
			Test:        cfg.Development(),
			QueueSize:   cfg.QueueSize,
			Workers:     cfg.Workers,
			Timeout:     cfg.DeliveryTimeout,
			Logger:      logger.With(log.String("component", "delivery")),
			Metrics:     metrics,
		})
	}
	if d.sender != nil || d.broker != nil {
		opts = append(opts, api.WithUpstream(d.upstream))
	}

	d.api = api.NewServer(cfg, d.collector, opts...)
	d.apiServer = &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           d.api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	d.opsServer = &http.Server{
		Addr:              cfg.OpsAddr,
		Handler:           d.setupOpsRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return d, nil
}

// upstream fans a unit's events out to the collector service and the broker
func (d *Daemon) upstream(a delivery.Attribution) tracking.Sender {
	var senders []tracking.Sender
	if d.sender != nil {
		senders = append(senders, d.sender.For(a))
	}
	if d.broker != nil {
		senders = append(senders, d.broker.For(a))
	}
	return delivery.Multi(senders...)
}

// Start starts the listeners
func (d *Daemon) Start() error {
	d.log.Info("starting ad unit daemon",
		log.String("env", d.cfg.Env),
		log.String("api", d.cfg.APIAddr),
		log.String("ops", d.cfg.OpsAddr),
		log.Bool("forwarding", d.sender != nil),
		log.Bool("broker", d.broker != nil),
		log.Bool("persistent", d.store != nil),
	)

	for _, srv := range []*http.Server{d.apiServer, d.opsServer} {
		go func(srv *http.Server) {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				d.log.Error("server error", log.String("addr", srv.Addr), log.Error(err))
			}
		}(srv)
	}
	return nil
}

// Shutdown stops the listeners and flushes open page sessions, then
// drains the delivery queues
func (d *Daemon) Shutdown(ctx context.Context) error {
	var errs []error
	if err := d.apiServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("api server: %w", err))
	}
	// hijacked websockets outlive apiServer.Shutdown
	if err := d.api.CloseSessions(ctx); err != nil {
		errs = append(errs, fmt.Errorf("sessions: %w", err))
	}
	if err := d.opsServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("ops server: %w", err))
	}
	if d.sender != nil {
		if err := d.sender.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("delivery: %w", err))
		}
	}
	if d.broker != nil {
		if err := d.broker.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("broker: %w", err))
		}
	}
	if err := d.collector.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("analytics: %w", err))
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("analytics store: %w", err))
		}
	}
	return errors.Join(errs...)
}

// setupOpsRoutes sets up the health, info and metrics routes
func (d *Daemon) setupOpsRoutes() *mux.Router {
	r := mux.NewRouter()

	// Health check
	r.HandleFunc("/health", d.handleHealth).Methods("GET")

	// Daemon info
	r.HandleFunc("/info", d.handleInfo).Methods("GET")

	// Metrics
	r.Handle("/metrics", d.metrics.Handler()).Methods("GET")

	return r
}

func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"status":  "healthy",
		"version": config.Version,
	})
}

func (d *Daemon) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"version":     config.Version,
		"commit":      GitCommit,
		"build_time":  BuildTime,
		"env":         d.cfg.Env,
		"uptime":      time.Since(d.started).String(),
		"forwarding":  d.sender != nil,
		"broker":      d.broker != nil,
		"persistent":  d.store != nil,
		"tracking":    d.cfg.TrackingURL,
		"units":       len(d.collector.Units()),
		"events":      d.collector.TotalEvents.Load(),
		"threshold":   d.cfg.Threshold,
		"min_view_ms": d.cfg.MinViewTime.Milliseconds(),
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}
