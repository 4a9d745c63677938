// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package constants provides centralized, immutable values for the sync service.

It defines default timeouts, rate limits, and cross-cutting keys that are shared
between different layers of the system.

Categories:

  - Server Timing: Read/Write/Idle timeouts for the HTTP server.
  - Rate Limiting: Burst capacities and IP tracking TTLs.
  - Scanning & Syncing: Scheduler and pipeline bounds.
  - Events: Redis channel taxonomy for the realtime layer.

Using this package ensures Magic Strings and Magic Numbers are eliminated
from the business logic.
*/
package constants

import "time"

// # Metadata

const (
	AppName    = "yomira-sync"
	AppVersion = "0.1.0-dev"
)

// # Server Timing

const (
	// DefaultReadTimeout is the maximum duration for reading the entire request.
	DefaultReadTimeout = 5 * time.Second

	// DefaultWriteTimeout is the maximum duration before timing out writes of the response.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultIdleTimeout is the maximum amount of time to wait for the next request.
	DefaultIdleTimeout = 120 * time.Second

	// DefaultReadHeaderTimeout is the amount of time allowed to read request headers.
	DefaultReadHeaderTimeout = 2 * time.Second

	// GlobalRequestTimeout is the deadline for the entire request lifecycle.
	GlobalRequestTimeout = 30 * time.Second

	// ShutdownTimeout is how long we wait for in-flight work to complete during shutdown.
	ShutdownTimeout = 30 * time.Second
)

// # Rate Limiting

const (
	// DefaultRateLimitRPS is the requests per second allowed per IP.
	DefaultRateLimitRPS = 100.0

	// DefaultRateLimitBurst is the maximum burst allowed for the rate limiter.
	DefaultRateLimitBurst = 150

	// RateLimitCleanupInterval is how often old IP entries are removed from memory.
	RateLimitCleanupInterval = 1 * time.Minute

	// RateLimitClientTTL is how long a client must be idle before its entry is deleted.
	RateLimitClientTTL = 3 * time.Minute
)

// # Scanning & Syncing

const (
	// DefaultCheckIntervalMinutes is how often a series is rescanned when the
	// operator does not override the interval.
	DefaultCheckIntervalMinutes = 360

	// MinSourcesPerSeries and MaxSourcesPerSeries bound the source list.
	MinSourcesPerSeries = 1
	MaxSourcesPerSeries = 3

	// MaxBulkCreateItems caps a single bulk registration call.
	MaxBulkCreateItems = 50

	// MaxDomainMigrationSeries caps the targeted series set of a domain migration.
	MaxDomainMigrationSeries = 200

	// DomainMigrationSampleSize is how many old/new URL pairs a dry run returns.
	DomainMigrationSampleSize = 10

	// ScraperRetryDelay is the pause before re-polling a source listing that
	// reported a transient "loading" or "not_cached" status.
	ScraperRetryDelay = 3 * time.Second

	// ScraperPerDomainInterval paces chapter scrapes against one source site.
	ScraperPerDomainInterval = 1 * time.Second

	// HostPoolMaxFailures marks a scraper host unhealthy after this many
	// consecutive failures.
	HostPoolMaxFailures = 3

	// HostPoolCooldown is how long an unhealthy scraper host is skipped.
	HostPoolCooldown = 60 * time.Second
)

// # Authentication

const (
	// HeaderAPIKey carries the shared admin secret on every request.
	HeaderAPIKey = "X-API-Key"

	// CapabilityIssuer is the standard 'iss' claim in event capability tokens.
	CapabilityIssuer = "sync.yomira.app"

	// CapabilityTokenTTL is the lifetime of a minted subscriber token.
	CapabilityTokenTTL = 15 * time.Minute
)

// # HTTP Headers

const (
	HeaderXRequestID    = "X-Request-ID"
	HeaderXRealIP       = "X-Real-IP"
	HeaderXForwardedFor = "X-Forwarded-For"
	HeaderOrigin        = "Origin"
)

// # JSON Field Identifiers

const (
	FieldData    = "data"
	FieldError   = "error"
	FieldCode    = "code"
	FieldItems   = "items"
	FieldTotal   = "total"
	FieldMessage = "message"
	FieldStatus  = "status"
)

// # Database Schemas

const (
	SchemaSync = "sync"
)

// # Redis Channel Taxonomy (Realtime Events)

const (
	// EventChannelList is the global channel every event is mirrored to.
	EventChannelList = "manga:list"

	// EventChannelPrefix prefixes per-series channels ("manga:<external_id>").
	EventChannelPrefix = "manga:"

	// RedisPrefixNotifyCooldown guards per-series failure notifications.
	RedisPrefixNotifyCooldown = "sync:notify_cooldown:"
)
