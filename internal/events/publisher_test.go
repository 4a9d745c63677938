// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package events_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/yomira-sync/internal/events"
)

// captureSink records every delivery for inspection.
type captureSink struct {
	mu         sync.Mutex
	deliveries []capturedDelivery
}

type capturedDelivery struct {
	channel string
	payload []byte
}

func (s *captureSink) Publish(_ context.Context, channel string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries = append(s.deliveries, capturedDelivery{
		channel: channel,
		payload: payload.([]byte),
	})
	return nil
}

func (s *captureSink) all() []capturedDelivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]capturedDelivery(nil), s.deliveries...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

/*
TestPublisher_FanOut verifies that one event reaches both the global list
channel and the per-series channel with a well-formed envelope.
*/
func TestPublisher_FanOut(t *testing.T) {
	sink := &captureSink{}
	publisher := events.NewPublisherWithSink(sink, testLogger())

	// 1. Publish one scan lifecycle event
	publisher.Publish(events.New(events.TypeScanStarted, "manga-42", nil))

	// 2. Close drains the queue before returning
	publisher.Close()

	deliveries := sink.all()
	require.Len(t, deliveries, 2)
	assert.Equal(t, "manga:list", deliveries[0].channel)
	assert.Equal(t, "manga:manga-42", deliveries[1].channel)

	// 3. Envelope carries type, series id, version, and timestamp
	var envelope events.Event
	require.NoError(t, json.Unmarshal(deliveries[0].payload, &envelope))
	assert.Equal(t, events.TypeScanStarted, envelope.Type)
	assert.Equal(t, "manga-42", envelope.SeriesExternalID)
	assert.Equal(t, events.EventVersion, envelope.EventVersion)
	assert.False(t, envelope.Timestamp.IsZero())
}

/*
TestPublisher_PreservesOrder verifies FIFO delivery of queued events.
*/
func TestPublisher_PreservesOrder(t *testing.T) {
	sink := &captureSink{}
	publisher := events.NewPublisherWithSink(sink, testLogger())

	publisher.Publish(events.New(events.TypeScanStarted, "manga-1", nil))
	publisher.Publish(events.New(events.TypeScanFinished, "manga-1", map[string]any{"new_tasks": 3}))
	publisher.Close()

	deliveries := sink.all()
	require.Len(t, deliveries, 4)

	var first, second events.Event
	require.NoError(t, json.Unmarshal(deliveries[0].payload, &first))
	require.NoError(t, json.Unmarshal(deliveries[2].payload, &second))
	assert.Equal(t, events.TypeScanStarted, first.Type)
	assert.Equal(t, events.TypeScanFinished, second.Type)
	assert.Equal(t, float64(3), second.Data["new_tasks"])
}
