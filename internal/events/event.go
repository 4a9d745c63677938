// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package events is the realtime notification layer of the sync service.

Every state transition worth observing — registration changes, scan
lifecycle, sync progress — is published as a JSON envelope over Redis
pub/sub, fanned out to a global list channel and a per-series channel.

Architecture:

  - Event: the versioned wire envelope.
  - Publisher: bounded-queue, fire-and-forget background sender. Delivery is
    best-effort: a full queue drops the event with a warning and never blocks
    a scan or sync.
  - Subscribers authenticate with channel-scoped capability tokens minted by
    the platform sec package.
*/
package events

import "time"

// EventVersion is the current envelope schema version.
const EventVersion = 1

// # Event Types

const (
	// TypeCreated fires when a series is registered.
	TypeCreated = "manga.created"

	// TypeUpdated fires when a series' registration changes.
	TypeUpdated = "manga.updated"

	// TypeDeleted fires when a series is removed.
	TypeDeleted = "manga.deleted"

	// TypeScanStarted fires when a scan begins discovering chapters.
	TypeScanStarted = "manga.scan.started"

	// TypeScanFinished fires when a scan completes, successfully or not.
	TypeScanFinished = "manga.scan.finished"

	// TypeSyncProgress fires after each task reaches a terminal state.
	TypeSyncProgress = "manga.sync.progress"
)

// # Envelope

// Event is the wire envelope delivered to subscribers.
type Event struct {
	Type             string         `json:"type"`
	SeriesExternalID string         `json:"series_external_id"`
	Data             map[string]any `json:"data,omitempty"`
	EventVersion     int            `json:"event_version"`
	Timestamp        time.Time      `json:"timestamp"`
}

// New builds an envelope stamped with the current version and time.
func New(eventType, externalID string, data map[string]any) Event {
	return Event{
		Type:             eventType,
		SeriesExternalID: externalID,
		Data:             data,
		EventVersion:     EventVersion,
		Timestamp:        time.Now().UTC(),
	}
}
