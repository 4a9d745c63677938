// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package series

import "context"

// # Registry Data Access

// Store defines the data access contract for the sync registry.
//
// It is the single writer of durable state: the scanner, the processor, and
// the admin service all mutate series, sources, and tasks exclusively through
// these operations. Multi-row mutations (ReplaceSources, CreateTasks,
// RetryFailed) are transactional with rollback on error.
type Store interface {

	// ## Series CRUD

	/*
		CreateSeries persists a new series together with its attached sources.

		Parameters:
		  - ctx: context.Context
		  - s: *Series with Sources populated (normalized, 1-based priorities)

		Returns:
		  - error: apperr.Conflict when the external catalog id is already registered
	*/
	CreateSeries(ctx context.Context, s *Series) error

	// GetSeries returns the series with the given internal id, sources attached.
	GetSeries(ctx context.Context, id string) (*Series, error)

	// GetSeriesByExternalID returns the series registered under the external
	// catalog id, sources attached.
	GetSeriesByExternalID(ctx context.Context, externalID string) (*Series, error)

	/*
		ListSeries returns a filtered, paginated page of series.

		Returns:
		  - []*Series: Matching series, sources attached
		  - int: Total matching count before pagination
	*/
	ListSeries(ctx context.Context, filter Filter) ([]*Series, int, error)

	// UpdateSeries applies a partial update and returns the refreshed series.
	// Source replacement is handled separately via ReplaceSources.
	UpdateSeries(ctx context.Context, id string, patch Patch) (*Series, error)

	// DeleteSeries removes a series; sources and tasks cascade.
	DeleteSeries(ctx context.Context, id string) error

	// ## Sources

	/*
		ReplaceSources atomically swaps the source set of a series.

		The inputs must already be normalized (see NormalizeSourceURLs). The
		series' denormalized primary-source fields are resynced in the same
		transaction.
	*/
	ReplaceSources(ctx context.Context, seriesID string, sources []NormalizedSource) ([]*Source, error)

	// GetEnabledSources returns the enabled sources of a series ordered by
	// priority ascending (primary first).
	GetEnabledSources(ctx context.Context, seriesID string) ([]*Source, error)

	// UpdateSourceScan records the outcome of one per-source listing fetch.
	UpdateSourceScan(ctx context.Context, sourceID string, record SourceScanRecord) error

	// ## Series State Transitions

	// SetStatus sets the lifecycle status. A non-empty errorMessage also
	// records last_error/last_error_at and increments consecutive_failures.
	SetStatus(ctx context.Context, id string, status Status, errorMessage string) error

	/*
		RecordScanResult persists the outcome of a successful scan.

		It zeroes consecutive_failures, clears last_error, stamps
		last_scanned_at, and transitions scanning → idle — but never overrides
		a concurrent transition to syncing.
	*/
	RecordScanResult(ctx context.Context, id string, result ScanResult) error

	// UpdateBackendChapterStats overwrites the backend-side chapter counters.
	UpdateBackendChapterStats(ctx context.Context, id string, count int, last *float64) error

	// IncrementBackendChapterStats bumps the backend count by one and raises
	// backend_last_chapter to chapterNumber when it is higher.
	IncrementBackendChapterStats(ctx context.Context, id string, chapterNumber float64) error

	// IncrementSyncProgressTotal adds delta to the progress denominator.
	IncrementSyncProgressTotal(ctx context.Context, id string, delta int) error

	// RefreshSyncProgress recomputes the completed/failed counters from the
	// series' tasks (completed counts completed and skipped).
	RefreshSyncProgress(ctx context.Context, id string) error

	// SetLastSyncedAt stamps the series' last successful drain time.
	SetLastSyncedAt(ctx context.Context, id string) error

	// TriggerForceScan schedules an immediate scan (next_scan_at = now) and,
	// unless the series is actively syncing, clears the status to idle.
	TriggerForceScan(ctx context.Context, id string) error

	// ## Tasks

	/*
		CreateTasks bulk-inserts sync tasks under one transaction.

		Upsert semantics: when a task for (series, chapter_number) already
		exists only its updated_at is bumped, preserving status and retry
		history.

		Returns:
		  - int: Number of newly inserted rows (excluding upsert touches)
	*/
	CreateTasks(ctx context.Context, seriesID string, specs []TaskSpec) (int, error)

	// GetPendingTasks returns up to limit runnable tasks (pending, or scraped
	// with a staged archive awaiting upload) ordered by weight ascending.
	// A non-positive limit means no bound.
	GetPendingTasks(ctx context.Context, seriesID string, limit int) ([]*SyncTask, error)

	// GetTasksForSeries returns every task of a series ordered by weight.
	GetTasksForSeries(ctx context.Context, seriesID string) ([]*SyncTask, error)

	// GetFailedTasks returns the failed tasks of a series ordered by weight.
	GetFailedTasks(ctx context.Context, seriesID string) ([]*SyncTask, error)

	/*
		SetTaskStatus transitions one task.

		A nil update.ZipURL preserves the stored zip URL so mid-pipeline
		resumes keep the staged archive. Moving to failed increments
		retry_count.
	*/
	SetTaskStatus(ctx context.Context, taskID string, status TaskStatus, update TaskUpdate) error

	/*
		RetryFailed flips every failed task of a series back to pending and
		clears its error. When at least one row was touched the series is set
		to syncing.

		Returns:
		  - int: Rows affected
	*/
	RetryFailed(ctx context.Context, seriesID string) (int, error)

	// ## Scheduler Queries

	// GetDueSeries returns auto-enabled idle series whose next_scan_at has
	// passed, ordered by priority descending then next_scan_at ascending.
	GetDueSeries(ctx context.Context) ([]*Series, error)

	// GetSeriesWithActiveTasks returns syncing series that still own at least
	// one task in an active status.
	GetSeriesWithActiveTasks(ctx context.Context) ([]*Series, error)

	/*
		ResolveCompletedSyncingSeries sweeps series stuck in syncing whose
		tasks have all reached terminal states, flipping them to error (when
		any task failed) or idle.
	*/
	ResolveCompletedSyncingSeries(ctx context.Context) error

	/*
		RecoverStaleTasks repairs state after an unclean shutdown. Runs exactly
		once at boot, before the tickers start.

		Tasks stuck in scraping/uploading are reset to scraped when a zip URL
		is recorded (resume at the storage upload) or pending otherwise.
		Series stuck in scanning/syncing have their status recomputed from
		their tasks.
	*/
	RecoverStaleTasks(ctx context.Context) error

	// ## Maintenance

	/*
		MigrateDomain rewrites the hostname of every source URL currently on
		oldDomain to newDomain, optionally restricted to seriesIDs.

		Only the hostname changes; path, query, and fragment are preserved
		byte-identical. A dry run reports the affected count plus a sample of
		URL changes without mutating rows. A live run also resyncs the
		denormalized primary-source fields of affected series.
	*/
	MigrateDomain(ctx context.Context, oldDomain, newDomain string, seriesIDs []string, dryRun bool) (*DomainMigrationResult, error)
}
