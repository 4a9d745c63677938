// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taibuivan/yomira-sync/internal/platform/constants"
)

// queueSize bounds the in-flight event buffer. Overflow drops, never blocks.
const queueSize = 256

// publishTimeout caps one Redis PUBLISH round-trip.
const publishTimeout = 2 * time.Second

// # Publishing Contract

// Publisher is the fire-and-forget event emission contract consumed by the
// scanner, processor, and admin service.
type Publisher interface {
	// Publish enqueues an event for background delivery. Never blocks.
	Publish(event Event)
}

// Sink delivers one serialized payload to one channel. Satisfied by the
// Redis client in production and by fakes in tests.
type Sink interface {
	Publish(ctx context.Context, channel string, payload any) error
}

// redisSink adapts *redis.Client to the [Sink] contract.
type redisSink struct {
	client *redis.Client
}

func (s *redisSink) Publish(ctx context.Context, channel string, payload any) error {
	return s.client.Publish(ctx, channel, payload).Err()
}

// # Background Publisher

// BackgroundPublisher drains a bounded queue into a [Sink] on a single
// goroutine. Each event goes to the global list channel and the series'
// own channel.
type BackgroundPublisher struct {
	sink   Sink
	logger *slog.Logger

	queue chan Event
	done  chan struct{}
	once  sync.Once
}

// NewPublisher builds a publisher backed by Redis pub/sub and starts its
// delivery goroutine.
func NewPublisher(client *redis.Client, logger *slog.Logger) *BackgroundPublisher {
	return NewPublisherWithSink(&redisSink{client: client}, logger)
}

// NewPublisherWithSink is the seam tests use to capture deliveries.
func NewPublisherWithSink(sink Sink, logger *slog.Logger) *BackgroundPublisher {
	p := &BackgroundPublisher{
		sink:   sink,
		logger: logger,
		queue:  make(chan Event, queueSize),
		done:   make(chan struct{}),
	}

	go p.run()
	return p
}

// Publish enqueues an event. When the queue is full the event is dropped
// with a warning: realtime delivery is best-effort and must never stall the
// pipeline behind it.
func (p *BackgroundPublisher) Publish(event Event) {
	select {
	case p.queue <- event:
	default:
		p.logger.Warn("event queue full, dropping event",
			slog.String("type", event.Type),
			slog.String("series", event.SeriesExternalID),
		)
	}
}

// Close stops the delivery goroutine after draining already-queued events.
func (p *BackgroundPublisher) Close() {
	p.once.Do(func() {
		close(p.queue)
		<-p.done
	})
}

func (p *BackgroundPublisher) run() {
	defer close(p.done)

	for event := range p.queue {
		p.deliver(event)
	}
}

// deliver sends one event to the list channel and the per-series channel.
func (p *BackgroundPublisher) deliver(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to marshal event",
			slog.String("type", event.Type),
			slog.String("error", err.Error()),
		)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	channels := []string{
		constants.EventChannelList,
		constants.EventChannelPrefix + event.SeriesExternalID,
	}

	for _, channel := range channels {
		if err := p.sink.Publish(ctx, channel, payload); err != nil {
			p.logger.Warn("failed to publish event",
				slog.String("channel", channel),
				slog.String("type", event.Type),
				slog.String("error", err.Error()),
			)
		}
	}
}

// # Test Double

// NopPublisher discards every event. Useful as a default in tests.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) {}
