// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/streadway/amqp"

	"github.com/luxfi/adunit/pkg/log"
	"github.com/luxfi/adunit/pkg/metric"
	"github.com/luxfi/adunit/pkg/tracking"
)

// DefaultExchange is the topic exchange events are published to
const DefaultExchange = "adunit.events"

// Publisher is the part of an AMQP channel the sender uses
type Publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPOptions configure an AMQPSender
type AMQPOptions struct {
	URL       string
	Exchange  string
	QueueSize int
	Logger    log.Logger
	Metrics   *metric.Metrics
}

// AMQPSender publishes events to a topic exchange keyed by event type. Like
// HTTPSender it never blocks and drops on a full queue.
type AMQPSender struct {
	opts    AMQPOptions
	pub     Publisher
	conn    *amqp.Connection
	log     log.Logger
	metrics *metric.Metrics

	mu     sync.RWMutex
	closed bool
	queue  chan job
	wg     sync.WaitGroup
}

// DialAMQP connects to the broker and declares the exchange
func DialAMQP(opts AMQPOptions) (*AMQPSender, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("AMQP URL not configured")
	}
	if opts.Exchange == "" {
		opts.Exchange = DefaultExchange
	}

	conn, err := amqp.Dial(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to AMQP server: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open AMQP channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		opts.Exchange,
		amqp.ExchangeTopic,
		true,  // Durable
		false, // Auto-delete
		false, // Internal
		false, // No-wait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", opts.Exchange, err)
	}

	s := NewAMQPSender(ch, opts)
	s.conn = conn
	return s, nil
}

// NewAMQPSender publishes through an open channel
func NewAMQPSender(pub Publisher, opts AMQPOptions) *AMQPSender {
	if opts.Exchange == "" {
		opts.Exchange = DefaultExchange
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	s := &AMQPSender{
		opts:    opts,
		pub:     pub,
		log:     opts.Logger,
		metrics: opts.Metrics,
		queue:   make(chan job, opts.QueueSize),
	}
	if s.log == nil {
		s.log = log.NoOp()
	}

	s.wg.Add(1)
	go s.worker()
	return s
}

// RoutingKey is the topic an event is published under
func RoutingKey(t tracking.EventType) string {
	return "adunit.event." + strings.ToLower(string(t))
}

// For returns the sender a tracker uses for one unit
func (s *AMQPSender) For(a Attribution) tracking.Sender {
	return tracking.SenderFunc(func(e tracking.Event) {
		s.enqueue(job{event: e, attr: a})
	})
}

// Send publishes an event without attribution
func (s *AMQPSender) Send(e tracking.Event) {
	s.enqueue(job{event: e})
}

func (s *AMQPSender) enqueue(j job) {
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
		s.log.Warn("broker queue full, dropping event",
			log.String("eventType", string(j.event.Type)),
			log.String("adUnitId", j.event.AdUnitID),
		)
	}
}

func (s *AMQPSender) worker() {
	defer s.wg.Done()
	for j := range s.queue {
		if err := s.publish(j); err != nil {
			s.metrics.EventDropped(dropFailed)
			s.log.Warn("event publish failed",
				log.String("eventType", string(j.event.Type)),
				log.Error(err),
			)
		}
	}
}

func (s *AMQPSender) publish(j job) error {
	body, err := json.Marshal(j.event)
	if err != nil {
		return fmt.Errorf("encode %s: %w", j.event.Type, err)
	}

	headers := amqp.Table{}
	if j.attr.AdSpaceID != "" {
		headers["adSpaceId"] = j.attr.AdSpaceID
	}
	if j.attr.BuyType != "" {
		headers["buyType"] = string(j.attr.BuyType)
	}
	if j.attr.Meta.CampaignID != "" {
		headers["campaignId"] = j.attr.Meta.CampaignID
	}

	return s.pub.Publish(s.opts.Exchange, RoutingKey(j.event.Type), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    j.event.ID,
		Timestamp:    j.event.Timestamp,
		Type:         string(j.event.Type),
		Headers:      headers,
		Body:         body,
	})
}

// Close stops accepting events, drains the queue and closes the channel
func (s *AMQPSender) Close(ctx context.Context) error {
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
	case <-ctx.Done():
		return ctx.Err()
	}

	err := s.pub.Close()
	if s.conn != nil {
		if cerr := s.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
