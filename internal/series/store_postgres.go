// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
PostgreSQL implementation of the registry [Store].

It leans on Postgres to keep the sync state machine correct under concurrency:
  - Conditional UPDATEs: status transitions guard on the current status so a
    scan result can never clobber a concurrent switch to syncing.
  - Window Functions: list endpoints count totals without a second query.
  - ON CONFLICT upserts: duplicate task discovery is absorbed by the unique
    (series, chapter_number) index.
  - ACID Transactions: source replacement, bulk task creation, and retries
    roll back as a unit.
*/
package series

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taibuivan/yomira-sync/internal/platform/apperr"
	"github.com/taibuivan/yomira-sync/internal/platform/database/schema"
	"github.com/taibuivan/yomira-sync/internal/platform/dberr"
)

// # PostgreSQL Repository

// postgresStore implements the [Store] interface using pgx.
type postgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore constructs a PostgreSQL backed registry store.
func NewPostgresStore(pool *pgxpool.Pool) Store {
	return &postgresStore{pool: pool}
}

// seriesColumns is the canonical SELECT column list for series rows.
func seriesColumns(alias string) string {
	s := schema.SyncSeries
	cols := []string{
		s.ID, s.ExternalID, s.Title,
		s.MangaURL, s.SourceDomain, s.MangaSlug,
		s.AutoSyncEnabled, s.CheckIntervalMinutes, s.Priority,
		s.SourceChapterCount, s.SourceLastChapter,
		s.BackendChapterCount, s.BackendLastChapter,
		s.Status, s.SyncProgressTotal, s.SyncProgressCompleted, s.SyncProgressFailed,
		s.LastScannedAt, s.LastSyncedAt, s.NextScanAt,
		s.LastError, s.LastErrorAt, s.ConsecutiveFailures,
		s.CreatedAt, s.UpdatedAt,
	}
	for i, c := range cols {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

// scanSeries hydrates one series row in seriesColumns order.
func scanSeries(row pgx.Row, extra ...any) (*Series, error) {
	var s Series
	targets := []any{
		&s.ID, &s.ExternalID, &s.Title,
		&s.MangaURL, &s.SourceDomain, &s.MangaSlug,
		&s.AutoSyncEnabled, &s.CheckIntervalMinutes, &s.Priority,
		&s.SourceChapterCount, &s.SourceLastChapter,
		&s.BackendChapterCount, &s.BackendLastChapter,
		&s.Status, &s.SyncProgressTotal, &s.SyncProgressCompleted, &s.SyncProgressFailed,
		&s.LastScannedAt, &s.LastSyncedAt, &s.NextScanAt,
		&s.LastError, &s.LastErrorAt, &s.ConsecutiveFailures,
		&s.CreatedAt, &s.UpdatedAt,
	}
	targets = append(targets, extra...)

	if err := row.Scan(targets...); err != nil {
		return nil, err
	}
	return &s, nil
}

// # Series CRUD

/*
CreateSeries persists a new series and its sources in one transaction.

Description: The external catalog id is protected by a unique index; a
collision surfaces as apperr.Conflict so the API layer can answer 409.
*/
func (store *postgresStore) CreateSeries(ctx context.Context, s *Series) error {

	tx, err := store.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: failed to begin create series: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sch := schema.SyncSeries
	query := fmt.Sprintf(`
		INSERT INTO %s (
			%s, %s, %s, %s, %s, %s,
			%s, %s, %s, %s, %s
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		sch.Table,
		sch.ID, sch.ExternalID, sch.Title, sch.MangaURL, sch.SourceDomain, sch.MangaSlug,
		sch.AutoSyncEnabled, sch.CheckIntervalMinutes, sch.Priority, sch.Status, sch.NextScanAt,
	)

	_, err = tx.Exec(ctx, query,
		s.ID, s.ExternalID, s.Title, s.MangaURL, s.SourceDomain, s.MangaSlug,
		s.AutoSyncEnabled, s.CheckIntervalMinutes, s.Priority, s.Status, s.NextScanAt,
	)
	if err != nil {
		if dberr.IsUniqueViolation(err) {
			return apperr.Conflict("Series is already registered for this catalog id")
		}
		return fmt.Errorf("postgres: failed to create series: %w", err)
	}

	if err := insertSources(ctx, tx, s.ID, s.Sources); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: failed to commit create series: %w", err)
	}

	return nil
}

// GetSeries returns one series by internal id with its sources attached.
func (store *postgresStore) GetSeries(ctx context.Context, id string) (*Series, error) {
	return store.getSeriesBy(ctx, schema.SyncSeries.ID, id)
}

// GetSeriesByExternalID returns one series by external catalog id.
func (store *postgresStore) GetSeriesByExternalID(ctx context.Context, externalID string) (*Series, error) {
	return store.getSeriesBy(ctx, schema.SyncSeries.ExternalID, externalID)
}

func (store *postgresStore) getSeriesBy(ctx context.Context, column, value string) (*Series, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s s WHERE s.%s = $1`,
		seriesColumns("s"), schema.SyncSeries.Table, column)

	s, err := scanSeries(store.pool.QueryRow(ctx, query, value))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("Series")
		}
		return nil, fmt.Errorf("postgres: failed to find series: %w", err)
	}

	if err := store.attachSources(ctx, []*Series{s}); err != nil {
		return nil, err
	}

	return s, nil
}

/*
ListSeries returns a filtered page of series plus the total match count.

Description: Uses a COUNT(*) window function to avoid a separate count query;
sources are attached in a single follow-up round-trip.
*/
func (store *postgresStore) ListSeries(ctx context.Context, filter Filter) ([]*Series, int, error) {

	sch := schema.SyncSeries
	var queryBuilder strings.Builder
	var args []any
	argID := 1

	queryBuilder.WriteString(fmt.Sprintf(`
		SELECT %s, COUNT(*) OVER() AS total_count
		FROM %s s
		WHERE TRUE
	`, seriesColumns("s"), sch.Table))

	// Status filter injection
	if filter.Status != "" {
		queryBuilder.WriteString(fmt.Sprintf(" AND s.%s = $%d", sch.Status, argID))
		args = append(args, string(filter.Status))
		argID++
	}

	// Title substring filter
	if filter.Title != "" {
		queryBuilder.WriteString(fmt.Sprintf(" AND s.%s ILIKE $%d", sch.Title, argID))
		args = append(args, "%"+filter.Title+"%")
		argID++
	}

	queryBuilder.WriteString(fmt.Sprintf(" ORDER BY s.%s DESC, s.%s ASC", sch.Priority, sch.CreatedAt))
	queryBuilder.WriteString(fmt.Sprintf(" LIMIT $%d OFFSET $%d", argID, argID+1))
	args = append(args, filter.PageSize, filter.Offset())

	rows, err := store.pool.Query(ctx, queryBuilder.String(), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("postgres: failed to list series: %w", err)
	}
	defer rows.Close()

	var list []*Series
	var totalCount int

	for rows.Next() {
		s, err := scanSeries(rows, &totalCount)
		if err != nil {
			return nil, 0, fmt.Errorf("postgres: failed to scan series: %w", err)
		}
		list = append(list, s)
	}

	if err := store.attachSources(ctx, list); err != nil {
		return nil, 0, err
	}

	return list, totalCount, nil
}

/*
UpdateSeries applies a partial update built from the non-nil patch fields.
*/
func (store *postgresStore) UpdateSeries(ctx context.Context, id string, patch Patch) (*Series, error) {

	sch := schema.SyncSeries
	var setClauses []string
	var args []any
	argID := 1

	appendSet := func(column string, value any) {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, argID))
		args = append(args, value)
		argID++
	}

	if patch.Title != nil {
		appendSet(sch.Title, *patch.Title)
	}
	if patch.CheckIntervalMinutes != nil {
		appendSet(sch.CheckIntervalMinutes, *patch.CheckIntervalMinutes)
	}
	if patch.Priority != nil {
		appendSet(sch.Priority, *patch.Priority)
	}
	if patch.AutoSyncEnabled != nil {
		appendSet(sch.AutoSyncEnabled, *patch.AutoSyncEnabled)
	}

	if len(setClauses) > 0 {
		query := fmt.Sprintf(`UPDATE %s SET %s, %s = NOW() WHERE %s = $%d`,
			sch.Table, strings.Join(setClauses, ", "), sch.UpdatedAt, sch.ID, argID)
		args = append(args, id)

		result, err := store.pool.Exec(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to update series: %w", err)
		}
		if result.RowsAffected() == 0 {
			return nil, apperr.NotFound("Series")
		}
	}

	return store.GetSeries(ctx, id)
}

// DeleteSeries removes a series; sources and tasks cascade via foreign keys.
func (store *postgresStore) DeleteSeries(ctx context.Context, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`,
		schema.SyncSeries.Table, schema.SyncSeries.ID)

	result, err := store.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to delete series: %w", err)
	}

	if result.RowsAffected() == 0 {
		return apperr.NotFound("Series")
	}

	return nil
}

// # Series State Transitions

// SetStatus sets the lifecycle status, with failure bookkeeping when an
// error message accompanies the transition.
func (store *postgresStore) SetStatus(ctx context.Context, id string, status Status, errorMessage string) error {

	sch := schema.SyncSeries
	var query string
	var args []any

	if errorMessage != "" {
		query = fmt.Sprintf(`
			UPDATE %s SET
				%s = $1, %s = $2, %s = NOW(),
				%s = %s + 1, %s = NOW()
			WHERE %s = $3
		`, sch.Table,
			sch.Status, sch.LastError, sch.LastErrorAt,
			sch.ConsecutiveFailures, sch.ConsecutiveFailures, sch.UpdatedAt,
			sch.ID)
		args = []any{string(status), errorMessage, id}
	} else {
		query = fmt.Sprintf(`UPDATE %s SET %s = $1, %s = NOW() WHERE %s = $2`,
			sch.Table, sch.Status, sch.UpdatedAt, sch.ID)
		args = []any{string(status), id}
	}

	result, err := store.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: failed to set series status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return apperr.NotFound("Series")
	}

	return nil
}

/*
RecordScanResult persists a successful scan outcome.

Description: The status CASE keeps a concurrent scanner → processor handoff
safe: only a series still in 'scanning' drops back to 'idle'; a series the
scanner just promoted to 'syncing' is left alone.
*/
func (store *postgresStore) RecordScanResult(ctx context.Context, id string, scanResult ScanResult) error {

	sch := schema.SyncSeries
	query := fmt.Sprintf(`
		UPDATE %s SET
			%s = $1, %s = $2, %s = $3, %s = NOW(),
			%s = 0, %s = '',
			%s = CASE WHEN %s = 'scanning' THEN 'idle' ELSE %s END,
			%s = NOW()
		WHERE %s = $4
	`, sch.Table,
		sch.SourceChapterCount, sch.SourceLastChapter, sch.NextScanAt, sch.LastScannedAt,
		sch.ConsecutiveFailures, sch.LastError,
		sch.Status, sch.Status, sch.Status,
		sch.UpdatedAt,
		sch.ID)

	result, err := store.pool.Exec(ctx, query,
		scanResult.SourceChapterCount, scanResult.SourceLastChapter, scanResult.NextScanAt, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to record scan result: %w", err)
	}

	if result.RowsAffected() == 0 {
		return apperr.NotFound("Series")
	}

	return nil
}

// UpdateBackendChapterStats overwrites the backend-side counters after a
// full catalog listing.
func (store *postgresStore) UpdateBackendChapterStats(ctx context.Context, id string, count int, last *float64) error {

	sch := schema.SyncSeries
	query := fmt.Sprintf(`UPDATE %s SET %s = $1, %s = $2, %s = NOW() WHERE %s = $3`,
		sch.Table, sch.BackendChapterCount, sch.BackendLastChapter, sch.UpdatedAt, sch.ID)

	_, err := store.pool.Exec(ctx, query, count, last, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to update backend chapter stats: %w", err)
	}

	return nil
}

// IncrementBackendChapterStats bumps the backend counters after one chapter
// registration, without re-listing the catalog.
func (store *postgresStore) IncrementBackendChapterStats(ctx context.Context, id string, chapterNumber float64) error {

	sch := schema.SyncSeries
	query := fmt.Sprintf(`
		UPDATE %s SET
			%s = %s + 1,
			%s = GREATEST(COALESCE(%s, 0), $1),
			%s = NOW()
		WHERE %s = $2
	`, sch.Table,
		sch.BackendChapterCount, sch.BackendChapterCount,
		sch.BackendLastChapter, sch.BackendLastChapter,
		sch.UpdatedAt,
		sch.ID)

	_, err := store.pool.Exec(ctx, query, chapterNumber, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to increment backend chapter stats: %w", err)
	}

	return nil
}

// IncrementSyncProgressTotal adds delta to the progress denominator.
func (store *postgresStore) IncrementSyncProgressTotal(ctx context.Context, id string, delta int) error {

	sch := schema.SyncSeries
	query := fmt.Sprintf(`UPDATE %s SET %s = %s + $1, %s = NOW() WHERE %s = $2`,
		sch.Table, sch.SyncProgressTotal, sch.SyncProgressTotal, sch.UpdatedAt, sch.ID)

	_, err := store.pool.Exec(ctx, query, delta, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to increment sync progress total: %w", err)
	}

	return nil
}

// RefreshSyncProgress recomputes the completed/failed counters from tasks.
func (store *postgresStore) RefreshSyncProgress(ctx context.Context, id string) error {

	sch := schema.SyncSeries
	tsk := schema.SyncTask
	query := fmt.Sprintf(`
		UPDATE %s s SET
			%s = (SELECT COUNT(*) FROM %s t WHERE t.%s = s.%s AND t.%s IN ('completed', 'skipped')),
			%s = (SELECT COUNT(*) FROM %s t WHERE t.%s = s.%s AND t.%s = 'failed'),
			%s = NOW()
		WHERE s.%s = $1
	`, sch.Table,
		sch.SyncProgressCompleted, tsk.Table, tsk.SeriesID, sch.ID, tsk.Status,
		sch.SyncProgressFailed, tsk.Table, tsk.SeriesID, sch.ID, tsk.Status,
		sch.UpdatedAt,
		sch.ID)

	_, err := store.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to refresh sync progress: %w", err)
	}

	return nil
}

// SetLastSyncedAt stamps the series' last successful drain time.
func (store *postgresStore) SetLastSyncedAt(ctx context.Context, id string) error {

	sch := schema.SyncSeries
	query := fmt.Sprintf(`UPDATE %s SET %s = NOW(), %s = NOW() WHERE %s = $1`,
		sch.Table, sch.LastSyncedAt, sch.UpdatedAt, sch.ID)

	_, err := store.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to set last synced at: %w", err)
	}

	return nil
}

// TriggerForceScan schedules an immediate scan. An actively syncing series
// keeps its status — the force scan is a no-op until the batch drains.
func (store *postgresStore) TriggerForceScan(ctx context.Context, id string) error {

	sch := schema.SyncSeries
	query := fmt.Sprintf(`
		UPDATE %s SET
			%s = NOW(),
			%s = CASE WHEN %s = 'syncing' THEN %s ELSE 'idle' END,
			%s = NOW()
		WHERE %s = $1
	`, sch.Table,
		sch.NextScanAt,
		sch.Status, sch.Status, sch.Status,
		sch.UpdatedAt,
		sch.ID)

	result, err := store.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to trigger force scan: %w", err)
	}

	if result.RowsAffected() == 0 {
		return apperr.NotFound("Series")
	}

	return nil
}

// # Scheduler Queries

// GetDueSeries returns auto-enabled idle series whose scan is due, highest
// priority first.
func (store *postgresStore) GetDueSeries(ctx context.Context) ([]*Series, error) {

	sch := schema.SyncSeries
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s s
		WHERE s.%s = TRUE AND s.%s = 'idle' AND s.%s <= NOW()
		ORDER BY s.%s DESC, s.%s ASC
	`, seriesColumns("s"), sch.Table,
		sch.AutoSyncEnabled, sch.Status, sch.NextScanAt,
		sch.Priority, sch.NextScanAt)

	return store.querySeries(ctx, query)
}

// GetSeriesWithActiveTasks returns syncing series still owning active tasks.
func (store *postgresStore) GetSeriesWithActiveTasks(ctx context.Context) ([]*Series, error) {

	sch := schema.SyncSeries
	tsk := schema.SyncTask
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s s
		WHERE s.%s = 'syncing'
		  AND EXISTS (
			SELECT 1 FROM %s t
			WHERE t.%s = s.%s AND t.%s IN ('pending', 'scraping', 'scraped', 'uploading')
		  )
		ORDER BY s.%s DESC
	`, seriesColumns("s"), sch.Table,
		sch.Status,
		tsk.Table, tsk.SeriesID, sch.ID, tsk.Status,
		sch.Priority)

	return store.querySeries(ctx, query)
}

// querySeries executes a bare series query without source hydration.
func (store *postgresStore) querySeries(ctx context.Context, query string, args ...any) ([]*Series, error) {
	rows, err := store.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query series: %w", err)
	}
	defer rows.Close()

	var list []*Series
	for rows.Next() {
		s, err := scanSeries(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan series: %w", err)
		}
		list = append(list, s)
	}

	return list, nil
}
