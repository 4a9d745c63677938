// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package series holds the sync registry: the durable state machine that tracks
every mirrored series, its upstream sources, and the per-chapter sync tasks
that move content into the catalog.

Architecture:

  - Entities: Series (aggregate root), Source (1-3 per series), SyncTask.
  - Store: the single-writer data access contract (PostgreSQL in production,
    in-memory in tests).
  - Service: admin operations consumed by the HTTP layer.

The scanner and processor packages drive the state machine exclusively
through the [Store] interface.
*/
package series

import "time"

// # Series Lifecycle

// Status is the sync aggregate state of a series.
type Status string

const (
	// StatusIdle means the series is waiting for its next scheduled scan.
	StatusIdle Status = "idle"

	// StatusScanning means a scan is currently discovering chapters.
	StatusScanning Status = "scanning"

	// StatusSyncing means sync tasks exist and the processor is draining them.
	StatusSyncing Status = "syncing"

	// StatusError means the last scan or sync batch failed.
	StatusError Status = "error"
)

// IsValid reports whether the status is one of the known lifecycle states.
func (s Status) IsValid() bool {
	switch s {
	case StatusIdle, StatusScanning, StatusSyncing, StatusError:
		return true
	}
	return false
}

// # Series Entity

// Series is one logical work mirrored into the backend catalog.
//
// The MangaURL, SourceDomain, and MangaSlug fields are denormalized copies of
// the primary source (priority 1) and must be kept in lockstep whenever the
// source set changes.
type Series struct {
	ID         string `json:"id"`
	ExternalID string `json:"external_id"`
	Title      string `json:"title"`

	// Primary source denormalization
	MangaURL     string `json:"manga_url"`
	SourceDomain string `json:"source_domain"`
	MangaSlug    string `json:"manga_slug"`

	// Policy
	AutoSyncEnabled      bool `json:"auto_sync_enabled"`
	CheckIntervalMinutes int  `json:"check_interval_minutes"`
	Priority             int  `json:"priority"`

	// Derived counters
	SourceChapterCount  int      `json:"source_chapter_count"`
	SourceLastChapter   *float64 `json:"source_last_chapter"`
	BackendChapterCount int      `json:"backend_chapter_count"`
	BackendLastChapter  *float64 `json:"backend_last_chapter"`

	// Sync aggregate
	Status                Status `json:"status"`
	SyncProgressTotal     int    `json:"sync_progress_total"`
	SyncProgressCompleted int    `json:"sync_progress_completed"`
	SyncProgressFailed    int    `json:"sync_progress_failed"`

	// Timestamps
	LastScannedAt *time.Time `json:"last_scanned_at"`
	LastSyncedAt  *time.Time `json:"last_synced_at"`
	NextScanAt    *time.Time `json:"next_scan_at"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`

	// Failure tracking
	LastError           string     `json:"last_error,omitempty"`
	LastErrorAt         *time.Time `json:"last_error_at,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`

	// Sources holds the attached source list when the query hydrates it.
	Sources []*Source `json:"sources,omitempty"`
}

// PrimarySource returns the priority-1 source, or nil when none is attached.
func (s *Series) PrimarySource() *Source {
	for _, source := range s.Sources {
		if source.Priority == 1 {
			return source
		}
	}
	return nil
}

// # Query & Mutation Inputs

// Filter narrows and paginates series listings.
type Filter struct {
	// Status restricts results to one lifecycle state when non-empty.
	Status Status

	// Title is a case-insensitive substring match on the series title.
	Title string

	Page     int
	PageSize int
}

// Offset returns the SQL OFFSET derived from Page and PageSize.
func (f Filter) Offset() int {
	if f.Page <= 1 {
		return 0
	}
	return (f.Page - 1) * f.PageSize
}

// Patch is a partial update to a series' registration. Nil fields are left
// unchanged; a non-nil SourceURLs replaces the whole source set.
type Patch struct {
	Title                *string  `json:"title"`
	CheckIntervalMinutes *int     `json:"check_interval_minutes"`
	Priority             *int     `json:"priority"`
	AutoSyncEnabled      *bool    `json:"auto_sync_enabled"`
	SourceURLs           []string `json:"source_urls"`
}

// ScanResult captures the outcome of a completed scan for persistence.
type ScanResult struct {
	SourceChapterCount int
	SourceLastChapter  *float64
	NextScanAt         time.Time
}

// # Domain Migration

// URLChange is one old/new URL pair produced by a domain migration.
type URLChange struct {
	SourceID string `json:"source_id"`
	OldURL   string `json:"old_url"`
	NewURL   string `json:"new_url"`
}

// DomainMigrationResult reports either a dry-run preview or a live migration.
type DomainMigrationResult struct {
	DryRun        bool        `json:"dry_run"`
	AffectedCount int         `json:"affected_count"`
	UpdatedCount  int         `json:"updated_count,omitempty"`
	Sample        []URLChange `json:"sample,omitempty"`
}
