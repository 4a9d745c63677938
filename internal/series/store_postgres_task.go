// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package series

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/taibuivan/yomira-sync/internal/platform/apperr"
	"github.com/taibuivan/yomira-sync/internal/platform/database/schema"
	"github.com/taibuivan/yomira-sync/pkg/uuid"
)

// # Task Queries

// taskColumns is the canonical SELECT column list for task rows.
func taskColumns(alias string) string {
	t := schema.SyncTask
	cols := []string{
		t.ID, t.SeriesID, t.SourceID,
		t.ChapterURL, t.ChapterNumber, t.Weight,
		t.Status, t.ZipURL, t.Error, t.RetryCount,
		t.CreatedAt, t.UpdatedAt,
	}
	for i, c := range cols {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

// scanTask hydrates one task row in taskColumns order.
func scanTask(row pgx.Row) (*SyncTask, error) {
	var t SyncTask
	err := row.Scan(
		&t.ID, &t.SeriesID, &t.SourceID,
		&t.ChapterURL, &t.ChapterNumber, &t.Weight,
		&t.Status, &t.ZipURL, &t.Error, &t.RetryCount,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (store *postgresStore) queryTasks(ctx context.Context, query string, args ...any) ([]*SyncTask, error) {
	rows, err := store.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query tasks: %w", err)
	}
	defer rows.Close()

	var list []*SyncTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan task: %w", err)
		}
		list = append(list, t)
	}

	return list, nil
}

// GetPendingTasks returns up to limit runnable tasks ordered by weight.
// Scraped counts as runnable so an interrupted pipeline resumes at the
// storage upload.
func (store *postgresStore) GetPendingTasks(ctx context.Context, seriesID string, limit int) ([]*SyncTask, error) {

	sch := schema.SyncTask
	query := fmt.Sprintf(`
		SELECT %s FROM %s t
		WHERE t.%s = $1 AND t.%s IN ('pending', 'scraped')
		ORDER BY t.%s ASC
	`, taskColumns("t"), sch.Table,
		sch.SeriesID, sch.Status, sch.Weight)

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	return store.queryTasks(ctx, query, seriesID)
}

// GetTasksForSeries returns every task of a series ordered by weight.
func (store *postgresStore) GetTasksForSeries(ctx context.Context, seriesID string) ([]*SyncTask, error) {

	sch := schema.SyncTask
	query := fmt.Sprintf(`
		SELECT %s FROM %s t
		WHERE t.%s = $1
		ORDER BY t.%s ASC
	`, taskColumns("t"), sch.Table,
		sch.SeriesID, sch.Weight)

	return store.queryTasks(ctx, query, seriesID)
}

// GetFailedTasks returns the failed tasks of a series ordered by weight.
func (store *postgresStore) GetFailedTasks(ctx context.Context, seriesID string) ([]*SyncTask, error) {

	sch := schema.SyncTask
	query := fmt.Sprintf(`
		SELECT %s FROM %s t
		WHERE t.%s = $1 AND t.%s = 'failed'
		ORDER BY t.%s ASC
	`, taskColumns("t"), sch.Table,
		sch.SeriesID, sch.Status, sch.Weight)

	return store.queryTasks(ctx, query, seriesID)
}

// # Task Mutations

/*
CreateTasks bulk-inserts sync tasks under one transaction.

Description: The unique (series, chapter_number) index absorbs re-discovery:
an existing task only gets its updated_at bumped, keeping its status, zip
URL, and retry history intact. The RETURNING (xmax = 0) trick distinguishes
fresh inserts from upsert touches so the caller can grow the sync progress
denominator by exactly the new work.
*/
func (store *postgresStore) CreateTasks(ctx context.Context, seriesID string, specs []TaskSpec) (int, error) {

	if len(specs) == 0 {
		return 0, nil
	}

	tx, err := store.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to begin create tasks: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sch := schema.SyncTask
	query := fmt.Sprintf(`
		INSERT INTO %s (%s, %s, %s, %s, %s, %s, %s)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending')
		ON CONFLICT (%s, %s) DO UPDATE SET %s = NOW()
		RETURNING (xmax = 0)
	`, sch.Table,
		sch.ID, sch.SeriesID, sch.SourceID, sch.ChapterURL, sch.ChapterNumber, sch.Weight, sch.Status,
		sch.SeriesID, sch.ChapterNumber, sch.UpdatedAt)

	created := 0
	for _, spec := range specs {
		var inserted bool
		err := tx.QueryRow(ctx, query,
			uuid.New(), seriesID, spec.SourceID, spec.ChapterURL, spec.ChapterNumber, spec.Weight,
		).Scan(&inserted)
		if err != nil {
			return 0, fmt.Errorf("postgres: failed to create task: %w", err)
		}
		if inserted {
			created++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres: failed to commit create tasks: %w", err)
	}

	return created, nil
}

/*
SetTaskStatus transitions one task through the pipeline.

Description: COALESCE on zipurl means a nil update preserves the staged
archive, so a retry after an upload crash resumes at the storage step instead
of re-scraping. A transition to failed increments retry_count.
*/
func (store *postgresStore) SetTaskStatus(ctx context.Context, taskID string, status TaskStatus, update TaskUpdate) error {

	sch := schema.SyncTask
	query := fmt.Sprintf(`
		UPDATE %s SET
			%s = $1,
			%s = COALESCE($2, %s),
			%s = COALESCE($3, %s),
			%s = %s + CASE WHEN $1 = 'failed' THEN 1 ELSE 0 END,
			%s = NOW()
		WHERE %s = $4
	`, sch.Table,
		sch.Status,
		sch.ZipURL, sch.ZipURL,
		sch.Error, sch.Error,
		sch.RetryCount, sch.RetryCount,
		sch.UpdatedAt,
		sch.ID)

	result, err := store.pool.Exec(ctx, query, string(status), update.ZipURL, update.Error, taskID)
	if err != nil {
		return fmt.Errorf("postgres: failed to set task status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return apperr.NotFound("Sync task")
	}

	return nil
}

/*
RetryFailed flips every failed task of a series back to pending.

Description: Errors are cleared but retry counts survive, keeping the audit
trail. When at least one task was revived the series re-enters syncing so the
processor picks it up on the next tick.
*/
func (store *postgresStore) RetryFailed(ctx context.Context, seriesID string) (int, error) {

	tx, err := store.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to begin retry failed: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tsk := schema.SyncTask
	taskQuery := fmt.Sprintf(`
		UPDATE %s SET %s = 'pending', %s = '', %s = NOW()
		WHERE %s = $1 AND %s = 'failed'
	`, tsk.Table, tsk.Status, tsk.Error, tsk.UpdatedAt,
		tsk.SeriesID, tsk.Status)

	result, err := tx.Exec(ctx, taskQuery, seriesID)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to revive failed tasks: %w", err)
	}
	revived := int(result.RowsAffected())

	if revived > 0 {
		ser := schema.SyncSeries
		seriesQuery := fmt.Sprintf(`
			UPDATE %s SET %s = 'syncing', %s = '', %s = NOW() WHERE %s = $1
		`, ser.Table, ser.Status, ser.LastError, ser.UpdatedAt, ser.ID)

		if _, err := tx.Exec(ctx, seriesQuery, seriesID); err != nil {
			return 0, fmt.Errorf("postgres: failed to requeue series: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres: failed to commit retry failed: %w", err)
	}

	return revived, nil
}

// # Sweeps & Recovery

/*
ResolveCompletedSyncingSeries finalizes syncing series whose tasks have all
reached terminal states.

Description: Two set-based UPDATEs, one for the failure outcome and one for
the clean drain. Series with any active task are untouched.
*/
func (store *postgresStore) ResolveCompletedSyncingSeries(ctx context.Context) error {

	ser := schema.SyncSeries
	tsk := schema.SyncTask

	noActive := fmt.Sprintf(`NOT EXISTS (
		SELECT 1 FROM %s t
		WHERE t.%s = s.%s AND t.%s IN ('pending', 'scraping', 'scraped', 'uploading')
	)`, tsk.Table, tsk.SeriesID, ser.ID, tsk.Status)

	anyFailed := fmt.Sprintf(`EXISTS (
		SELECT 1 FROM %s t
		WHERE t.%s = s.%s AND t.%s = 'failed'
	)`, tsk.Table, tsk.SeriesID, ser.ID, tsk.Status)

	failQuery := fmt.Sprintf(`
		UPDATE %s s SET
			%s = 'error',
			%s = 'Some chapters failed to sync',
			%s = NOW(),
			%s = %s + 1,
			%s = NOW()
		WHERE s.%s = 'syncing' AND %s AND %s
	`, ser.Table,
		ser.Status,
		ser.LastError,
		ser.LastErrorAt,
		ser.ConsecutiveFailures, ser.ConsecutiveFailures,
		ser.UpdatedAt,
		ser.Status, noActive, anyFailed)

	if _, err := store.pool.Exec(ctx, failQuery); err != nil {
		return fmt.Errorf("postgres: failed to resolve failed syncing series: %w", err)
	}

	idleQuery := fmt.Sprintf(`
		UPDATE %s s SET
			%s = 'idle',
			%s = NOW(),
			%s = NOW()
		WHERE s.%s = 'syncing' AND %s AND NOT %s
	`, ser.Table,
		ser.Status,
		ser.LastSyncedAt,
		ser.UpdatedAt,
		ser.Status, noActive, anyFailed)

	if _, err := store.pool.Exec(ctx, idleQuery); err != nil {
		return fmt.Errorf("postgres: failed to resolve drained syncing series: %w", err)
	}

	return nil
}

/*
RecoverStaleTasks repairs state after an unclean shutdown.

Description: In-flight tasks are pushed back to their resume point (scraped
when a zip URL survived, pending otherwise), then every series stuck in
scanning or syncing is recomputed from its tasks. Runs once at boot before
the tickers start, so no worker can race it.
*/
func (store *postgresStore) RecoverStaleTasks(ctx context.Context) error {

	ser := schema.SyncSeries
	tsk := schema.SyncTask

	taskQuery := fmt.Sprintf(`
		UPDATE %s SET
			%s = CASE WHEN %s IS NOT NULL THEN 'scraped' ELSE 'pending' END,
			%s = NOW()
		WHERE %s IN ('scraping', 'uploading')
	`, tsk.Table,
		tsk.Status, tsk.ZipURL,
		tsk.UpdatedAt,
		tsk.Status)

	if _, err := store.pool.Exec(ctx, taskQuery); err != nil {
		return fmt.Errorf("postgres: failed to recover stale tasks: %w", err)
	}

	anyActive := fmt.Sprintf(`EXISTS (
		SELECT 1 FROM %s t
		WHERE t.%s = s.%s AND t.%s IN ('pending', 'scraping', 'scraped', 'uploading')
	)`, tsk.Table, tsk.SeriesID, ser.ID, tsk.Status)

	anyFailed := fmt.Sprintf(`EXISTS (
		SELECT 1 FROM %s t
		WHERE t.%s = s.%s AND t.%s = 'failed'
	)`, tsk.Table, tsk.SeriesID, ser.ID, tsk.Status)

	// Active work survived the crash: resume syncing.
	resumeQuery := fmt.Sprintf(`
		UPDATE %s s SET %s = 'syncing', %s = NOW()
		WHERE s.%s IN ('scanning', 'syncing') AND %s
	`, ser.Table, ser.Status, ser.UpdatedAt,
		ser.Status, anyActive)

	if _, err := store.pool.Exec(ctx, resumeQuery); err != nil {
		return fmt.Errorf("postgres: failed to resume interrupted series: %w", err)
	}

	// Nothing active but failures remain: surface the error state.
	failQuery := fmt.Sprintf(`
		UPDATE %s s SET
			%s = 'error',
			%s = 'Interrupted sync left failed chapters',
			%s = NOW(),
			%s = NOW()
		WHERE s.%s IN ('scanning', 'syncing') AND NOT %s AND %s
	`, ser.Table,
		ser.Status,
		ser.LastError,
		ser.LastErrorAt,
		ser.UpdatedAt,
		ser.Status, anyActive, anyFailed)

	if _, err := store.pool.Exec(ctx, failQuery); err != nil {
		return fmt.Errorf("postgres: failed to mark interrupted series: %w", err)
	}

	// Clean slate: back to idle, eligible for the next scheduled scan. A
	// series that never finished a drain adopts the recovery time as its
	// first last_synced_at.
	idleQuery := fmt.Sprintf(`
		UPDATE %s s SET
			%s = 'idle',
			%s = COALESCE(%s, NOW()),
			%s = NOW()
		WHERE s.%s IN ('scanning', 'syncing') AND NOT %s AND NOT %s
	`, ser.Table,
		ser.Status,
		ser.LastSyncedAt, ser.LastSyncedAt,
		ser.UpdatedAt,
		ser.Status, anyActive, anyFailed)

	if _, err := store.pool.Exec(ctx, idleQuery); err != nil {
		return fmt.Errorf("postgres: failed to reset interrupted series: %w", err)
	}

	return nil
}
