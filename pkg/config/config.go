// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/luxfi/adunit/pkg/layout"
	"github.com/luxfi/adunit/pkg/tracking"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	Version = "1.0.0"

	envPrefix = "ADUNIT_"
)

var ErrInvalidConfig = errors.New("invalid config")

// Config is the configuration of the ad unit service
type Config struct {
	Env      string
	LogLevel string

	// HTTP listeners
	APIAddr        string
	OpsAddr        string
	AllowedOrigins []string
	ShutdownGrace  time.Duration

	// Tracking rules
	Threshold        float64
	MinViewTime      time.Duration
	MinVideoViewTime time.Duration
	PollInterval     time.Duration
	ControlTargets   []string

	// Layout fitting
	AcceptScale      float64
	NoCTAAcceptScale float64
	ShrinkFactor     float64
	MaxRetries       int

	// Event delivery
	TrackingURL     string
	PublisherID     string
	APIKey          string
	Origin          string
	Platform        string
	QueueSize       int
	Workers         int
	DeliveryTimeout time.Duration

	// Event broker, disabled when AMQPURL is empty
	AMQPURL      string
	AMQPExchange string

	// AnalyticsDB is the SQLite event store, in memory when empty
	AnalyticsDB string
}

// Default returns the built-in configuration
func Default() *Config {
	fit := layout.DefaultFitTuning()
	return &Config{
		Env:      EnvDevelopment,
		LogLevel: "info",

		APIAddr:        ":8080",
		OpsAddr:        ":9100",
		AllowedOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
		ShutdownGrace:  5 * time.Second,

		Threshold:        tracking.DefaultThreshold,
		MinViewTime:      tracking.DefaultMinViewTime,
		MinVideoViewTime: tracking.DefaultMinVideoViewTime,
		PollInterval:     tracking.DefaultPollInterval,
		ControlTargets:   tracking.DefaultControlTargets,

		AcceptScale:      fit.AcceptScale,
		NoCTAAcceptScale: fit.NoCTAAcceptScale,
		ShrinkFactor:     fit.ShrinkFactor,
		MaxRetries:       fit.MaxRetries,

		TrackingURL:     "https://beta.v2.bg-services.adgeist.ai",
		Platform:        "website",
		QueueSize:       1024,
		Workers:         2,
		DeliveryTimeout: 5 * time.Second,

		AMQPExchange: "adunit.events",
	}
}

// Load reads optional dotenv files, then ADUNIT_* environment variables on
// top of the defaults. With no files it tries ./.env.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv applies variables from lookup to the defaults
func FromEnv(lookup func(string) (string, bool)) (*Config, error) {
	c := Default()
	p := parser{lookup: lookup}

	p.str("ENV", &c.Env)
	p.str("LOG_LEVEL", &c.LogLevel)
	p.str("API_ADDR", &c.APIAddr)
	p.str("OPS_ADDR", &c.OpsAddr)
	p.list("ALLOWED_ORIGINS", &c.AllowedOrigins)
	p.duration("SHUTDOWN_GRACE", &c.ShutdownGrace)

	p.float("VISIBILITY_THRESHOLD", &c.Threshold)
	p.millis("MIN_VIEW_TIME_MS", &c.MinViewTime)
	p.millis("VIDEO_MIN_VIEW_TIME_MS", &c.MinVideoViewTime)
	p.millis("POLL_INTERVAL_MS", &c.PollInterval)
	p.list("CONTROL_TARGETS", &c.ControlTargets)

	p.float("ACCEPT_SCALE", &c.AcceptScale)
	p.float("NO_CTA_ACCEPT_SCALE", &c.NoCTAAcceptScale)
	p.float("SHRINK_FACTOR", &c.ShrinkFactor)
	p.int("MAX_RETRIES", &c.MaxRetries)

	p.str("TRACKING_URL", &c.TrackingURL)
	p.str("PUBLISHER_ID", &c.PublisherID)
	p.str("API_KEY", &c.APIKey)
	p.str("ORIGIN", &c.Origin)
	p.str("PLATFORM", &c.Platform)
	p.int("QUEUE_SIZE", &c.QueueSize)
	p.int("WORKERS", &c.Workers)
	p.duration("DELIVERY_TIMEOUT", &c.DeliveryTimeout)

	p.str("AMQP_URL", &c.AMQPURL)
	p.str("AMQP_EXCHANGE", &c.AMQPExchange)
	p.str("ANALYTICS_DB", &c.AnalyticsDB)

	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks ranges
func (c *Config) Validate() error {
	var errs []error
	if c.Env != EnvDevelopment && c.Env != EnvProduction {
		errs = append(errs, fmt.Errorf("%w: env %q", ErrInvalidConfig, c.Env))
	}
	if c.Threshold <= 0 || c.Threshold > 1 {
		errs = append(errs, fmt.Errorf("%w: visibility threshold %v not in (0, 1]", ErrInvalidConfig, c.Threshold))
	}
	if c.MinViewTime <= 0 || c.MinVideoViewTime <= 0 || c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("%w: view timings must be positive", ErrInvalidConfig))
	}
	if c.ShrinkFactor <= 0 || c.ShrinkFactor >= 1 {
		errs = append(errs, fmt.Errorf("%w: shrink factor %v not in (0, 1)", ErrInvalidConfig, c.ShrinkFactor))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("%w: max retries %d", ErrInvalidConfig, c.MaxRetries))
	}
	if c.QueueSize <= 0 || c.Workers <= 0 {
		errs = append(errs, fmt.Errorf("%w: queue size and workers must be positive", ErrInvalidConfig))
	}
	return errors.Join(errs...)
}

// Development reports whether the service runs in the development env
func (c *Config) Development() bool { return c.Env == EnvDevelopment }

// Tracking returns the tracker config for a creative kind
func (c *Config) Tracking(kind tracking.CreativeKind) tracking.Config {
	return tracking.Config{
		Threshold:        c.Threshold,
		MinViewTime:      c.MinViewTime,
		MinVideoViewTime: c.MinVideoViewTime,
		PollInterval:     c.PollInterval,
		Kind:             kind,
		Attached:         true,
		ControlTargets:   c.ControlTargets,
	}
}

// FitTuning returns the layout fitting constants
func (c *Config) FitTuning() layout.FitTuning {
	return layout.FitTuning{
		AcceptScale:      c.AcceptScale,
		NoCTAAcceptScale: c.NoCTAAcceptScale,
		ShrinkFactor:     c.ShrinkFactor,
		MaxRetries:       c.MaxRetries,
	}
}

type parser struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (p *parser) get(key string) (string, bool) {
	v, ok := p.lookup(envPrefix + key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (p *parser) fail(key string, err error) {
	p.errs = append(p.errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
}

func (p *parser) str(key string, dst *string) {
	if v, ok := p.get(key); ok {
		*dst = v
	}
}

func (p *parser) list(key string, dst *[]string) {
	v, ok := p.get(key)
	if !ok {
		return
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	*dst = out
}

func (p *parser) int(key string, dst *int) {
	v, ok := p.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, err)
		return
	}
	*dst = n
}

func (p *parser) float(key string, dst *float64) {
	v, ok := p.get(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, err)
		return
	}
	*dst = f
}

func (p *parser) millis(key string, dst *time.Duration) {
	v, ok := p.get(key)
	if !ok {
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		p.fail(key, err)
		return
	}
	*dst = time.Duration(n) * time.Millisecond
}

func (p *parser) duration(key string, dst *time.Duration) {
	v, ok := p.get(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, err)
		return
	}
	*dst = d
}
