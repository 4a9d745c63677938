// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package config handles application-wide settings and environment parsing.

It leverages 'caarlos0/env' to map OS environment variables into a strongly-typed
Go struct, providing early validation and default values.

Usage:

	cfg, err := config.Load()
	if err != nil {
	    log.Fatal(err)
	}

Architecture:

  - Immutability: Once loaded, configuration is read-only.
  - DI-Friendly: Passed to core components (store, scanner, processor) via constructors.
  - Zero Hidden State: No global variables are used to store config.

This ensures the application is Twelve-Factor compliant by storing config in the env.
*/
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// # Configuration Schema

// Config holds all runtime configuration for the Yomira sync daemon.
type Config struct {

	// Server settings
	Port        string `env:"PORT"        envDefault:"3000"`
	Host        string `env:"HOST"        envDefault:"0.0.0.0"`
	LogLevel    string `env:"LOG_LEVEL"   envDefault:"info"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	// Relational Database (PostgreSQL)
	DatabaseURL string `env:"DATABASE_URL,required"`

	// MigrationPath is the filesystem path to the SQL migrations directory.
	MigrationPath string `env:"MIGRATION_PATH" envDefault:"./data/migrations"`

	// Key-Value Cache / Event Transport (Redis)
	RedisURL string `env:"REDIS_URL,required"`

	// External collaborator base URLs. ScraperBaseURLs accepts a comma-separated
	// pool of hosts for round-robin load balancing.
	ScraperBaseURLs []string `env:"SCRAPER_BASE_URLS,required" envSeparator:","`
	StagerBaseURL   string   `env:"STAGER_BASE_URL,required"`
	UploaderBaseURL string   `env:"UPLOADER_BASE_URL,required"`
	CatalogBaseURL  string   `env:"CATALOG_BASE_URL,required"`
	CachePurgeURL   string   `env:"CACHE_PURGE_URL"`
	NotifyWebhook   string   `env:"NOTIFY_WEBHOOK_URL"`

	// Shared secrets
	AdminAPIKey      string `env:"ADMIN_API_KEY,required"`
	UploaderAPIKey   string `env:"UPLOADER_API_KEY"`
	CatalogAPIKey    string `env:"CATALOG_API_KEY"`
	CachePurgeAPIKey string `env:"CACHE_PURGE_API_KEY"`
	NotifyWebhookKey string `env:"NOTIFY_WEBHOOK_KEY"`
	EventBusKey      string `env:"EVENT_BUS_KEY,required"`

	// Scheduler cadence
	ScannerIntervalMS   int `env:"SCANNER_INTERVAL_MS"   envDefault:"60000"`
	ProcessorIntervalMS int `env:"PROCESSOR_INTERVAL_MS" envDefault:"10000"`

	// Concurrency bounds
	MaxConcurrentScans       int `env:"MAX_CONCURRENT_SCANS"        envDefault:"5"`
	MaxConcurrentSyncs       int `env:"MAX_CONCURRENT_SYNCS"        envDefault:"5"`
	DefaultChaptersPerSeries int `env:"DEFAULT_CHAPTERS_PER_SERIES" envDefault:"3"`

	// External call deadlines
	FetchTimeoutMS  int `env:"FETCH_TIMEOUT_MS"  envDefault:"30000"`
	ScrapeTimeoutMS int `env:"SCRAPE_TIMEOUT_MS" envDefault:"60000"`
	UploadTimeoutMS int `env:"UPLOAD_TIMEOUT_MS" envDefault:"120000"`

	// Retry and notification policy
	MaxTaskRetries      int    `env:"MAX_TASK_RETRIES"         envDefault:"3"`
	NotifyAfterFailures int    `env:"NOTIFY_AFTER_FAILURES"    envDefault:"3"`
	NotifyCooldownMS    int    `env:"NOTIFICATION_COOLDOWN_MS" envDefault:"3600000"`
	DefaultThumbnailURL string `env:"DEFAULT_THUMBNAIL_URL"`
}

// # Configuration Loading

// Load parses environment variables into a [Config] struct.
func Load() (*Config, error) {

	// Initialize an empty config struct
	cfg := &Config{}

	// Use the 'env' package to map environment variables to struct fields.
	// This will fail if any field marked with 'required' is missing.
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse environment variables: %w", err)
	}

	return cfg, nil
}

// # Derived Durations

// ScannerInterval returns the scanner tick cadence as a [time.Duration].
func (c *Config) ScannerInterval() time.Duration {
	return time.Duration(c.ScannerIntervalMS) * time.Millisecond
}

// ProcessorInterval returns the processor tick cadence as a [time.Duration].
func (c *Config) ProcessorInterval() time.Duration {
	return time.Duration(c.ProcessorIntervalMS) * time.Millisecond
}

// FetchTimeout bounds catalog and scraper metadata calls.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutMS) * time.Millisecond
}

// ScrapeTimeout bounds chapter-detail scraping calls.
func (c *Config) ScrapeTimeout() time.Duration {
	return time.Duration(c.ScrapeTimeoutMS) * time.Millisecond
}

// UploadTimeout bounds staging and storage upload calls.
func (c *Config) UploadTimeout() time.Duration {
	return time.Duration(c.UploadTimeoutMS) * time.Millisecond
}

// NotifyCooldown is the minimum spacing between failure notifications per series.
func (c *Config) NotifyCooldown() time.Duration {
	return time.Duration(c.NotifyCooldownMS) * time.Millisecond
}

// IsDevelopment reports whether the server is running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction reports whether the server is running in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
