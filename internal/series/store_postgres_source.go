// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package series

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/taibuivan/yomira-sync/internal/platform/apperr"
	"github.com/taibuivan/yomira-sync/internal/platform/constants"
	"github.com/taibuivan/yomira-sync/internal/platform/database/schema"
	"github.com/taibuivan/yomira-sync/pkg/urlx"
	"github.com/taibuivan/yomira-sync/pkg/uuid"
)

// # Source Queries

// sourceColumns is the canonical SELECT column list for source rows.
func sourceColumns(alias string) string {
	s := schema.SyncSource
	cols := []string{
		s.ID, s.SeriesID, s.SourceURL, s.SourceDomain, s.MangaSlug,
		s.Priority, s.IsEnabled,
		s.LastChapterCount, s.LastChapterNumber, s.LastScanStatus, s.LastScanError, s.LastScanAt,
		s.CreatedAt, s.UpdatedAt,
	}
	for i, c := range cols {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

// scanSource hydrates one source row in sourceColumns order.
func scanSource(row pgx.Row) (*Source, error) {
	var src Source
	err := row.Scan(
		&src.ID, &src.SeriesID, &src.SourceURL, &src.SourceDomain, &src.MangaSlug,
		&src.Priority, &src.IsEnabled,
		&src.LastChapterCount, &src.LastChapterNumber, &src.LastScanStatus, &src.LastScanError, &src.LastScanAt,
		&src.CreatedAt, &src.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &src, nil
}

// attachSources hydrates the Sources slice of every given series in one query.
func (store *postgresStore) attachSources(ctx context.Context, list []*Series) error {
	if len(list) == 0 {
		return nil
	}

	byID := make(map[string]*Series, len(list))
	ids := make([]string, 0, len(list))
	for _, s := range list {
		byID[s.ID] = s
		ids = append(ids, s.ID)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM %s src
		WHERE src.%s = ANY($1)
		ORDER BY src.%s ASC
	`, sourceColumns("src"), schema.SyncSource.Table,
		schema.SyncSource.SeriesID, schema.SyncSource.Priority)

	rows, err := store.pool.Query(ctx, query, ids)
	if err != nil {
		return fmt.Errorf("postgres: failed to load sources: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return fmt.Errorf("postgres: failed to scan source: %w", err)
		}
		if owner, ok := byID[src.SeriesID]; ok {
			owner.Sources = append(owner.Sources, src)
		}
	}

	return nil
}

// insertSources inserts normalized sources for a series inside tx.
func insertSources(ctx context.Context, tx pgx.Tx, seriesID string, sources []*Source) error {

	sch := schema.SyncSource
	query := fmt.Sprintf(`
		INSERT INTO %s (%s, %s, %s, %s, %s, %s, %s)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, sch.Table,
		sch.ID, sch.SeriesID, sch.SourceURL, sch.SourceDomain, sch.MangaSlug, sch.Priority, sch.IsEnabled)

	for _, src := range sources {
		_, err := tx.Exec(ctx, query,
			src.ID, seriesID, src.SourceURL, src.SourceDomain, src.MangaSlug, src.Priority, src.IsEnabled)
		if err != nil {
			return fmt.Errorf("postgres: failed to insert source: %w", err)
		}
	}

	return nil
}

// # Source Mutations

/*
ReplaceSources atomically swaps the source set of a series.

Description: Deletes the existing rows, inserts the normalized replacements,
and resyncs the series' denormalized primary-source fields, all in one
transaction. Scan bookkeeping of the old rows is intentionally discarded: the
replacement set is a new statement of intent.
*/
func (store *postgresStore) ReplaceSources(ctx context.Context, seriesID string, sources []NormalizedSource) ([]*Source, error) {

	tx, err := store.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to begin replace sources: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	src := schema.SyncSource
	deleteQuery := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, src.Table, src.SeriesID)
	if _, err := tx.Exec(ctx, deleteQuery, seriesID); err != nil {
		return nil, fmt.Errorf("postgres: failed to clear sources: %w", err)
	}

	inserted := make([]*Source, 0, len(sources))
	for _, n := range sources {
		inserted = append(inserted, &Source{
			ID:           uuid.New(),
			SeriesID:     seriesID,
			SourceURL:    n.SourceURL,
			SourceDomain: n.SourceDomain,
			MangaSlug:    n.MangaSlug,
			Priority:     n.Priority,
			IsEnabled:    true,
		})
	}

	if err := insertSources(ctx, tx, seriesID, inserted); err != nil {
		return nil, err
	}

	// Resync the primary-source denormalization
	primary := inserted[0]
	sch := schema.SyncSeries
	updateQuery := fmt.Sprintf(`
		UPDATE %s SET %s = $1, %s = $2, %s = $3, %s = NOW() WHERE %s = $4
	`, sch.Table,
		sch.MangaURL, sch.SourceDomain, sch.MangaSlug, sch.UpdatedAt, sch.ID)

	result, err := tx.Exec(ctx, updateQuery,
		primary.SourceURL, primary.SourceDomain, primary.MangaSlug, seriesID)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to resync primary source: %w", err)
	}
	if result.RowsAffected() == 0 {
		return nil, apperr.NotFound("Series")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: failed to commit replace sources: %w", err)
	}

	return inserted, nil
}

// GetEnabledSources returns the enabled sources of a series, primary first.
func (store *postgresStore) GetEnabledSources(ctx context.Context, seriesID string) ([]*Source, error) {

	sch := schema.SyncSource
	query := fmt.Sprintf(`
		SELECT %s FROM %s src
		WHERE src.%s = $1 AND src.%s = TRUE
		ORDER BY src.%s ASC
	`, sourceColumns("src"), sch.Table,
		sch.SeriesID, sch.IsEnabled, sch.Priority)

	rows, err := store.pool.Query(ctx, query, seriesID)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list enabled sources: %w", err)
	}
	defer rows.Close()

	var list []*Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan source: %w", err)
		}
		list = append(list, src)
	}

	return list, nil
}

// UpdateSourceScan records the outcome of one per-source listing fetch.
func (store *postgresStore) UpdateSourceScan(ctx context.Context, sourceID string, record SourceScanRecord) error {

	sch := schema.SyncSource
	query := fmt.Sprintf(`
		UPDATE %s SET
			%s = $1, %s = $2, %s = $3, %s = $4,
			%s = NOW(), %s = NOW()
		WHERE %s = $5
	`, sch.Table,
		sch.LastChapterCount, sch.LastChapterNumber, sch.LastScanStatus, sch.LastScanError,
		sch.LastScanAt, sch.UpdatedAt,
		sch.ID)

	_, err := store.pool.Exec(ctx, query,
		record.ChapterCount, record.LastChapter, string(record.Status), record.Error, sourceID)
	if err != nil {
		return fmt.Errorf("postgres: failed to update source scan: %w", err)
	}

	return nil
}

// # Domain Migration

/*
MigrateDomain rewrites source hostnames from oldDomain to newDomain.

Description: Only the hostname is spliced; path, query, and fragment survive
byte-identical. A dry run previews the affected count and a sample without
touching rows. A live run rewrites sources and resyncs the denormalized
primary-source fields of every affected series.
*/
func (store *postgresStore) MigrateDomain(ctx context.Context, oldDomain, newDomain string, seriesIDs []string, dryRun bool) (*DomainMigrationResult, error) {

	sch := schema.SyncSource
	var queryBuilder strings.Builder
	args := []any{strings.ToLower(oldDomain)}

	queryBuilder.WriteString(fmt.Sprintf(`
		SELECT src.%s, src.%s, src.%s
		FROM %s src
		WHERE src.%s = $1
	`, sch.ID, sch.SeriesID, sch.SourceURL,
		sch.Table, sch.SourceDomain))

	if len(seriesIDs) > 0 {
		queryBuilder.WriteString(fmt.Sprintf(" AND src.%s = ANY($2)", sch.SeriesID))
		args = append(args, seriesIDs)
	}

	rows, err := store.pool.Query(ctx, queryBuilder.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to find migratable sources: %w", err)
	}
	defer rows.Close()

	type affectedSource struct {
		id       string
		seriesID string
		newURL   string
	}

	var affected []affectedSource
	var sample []URLChange
	seriesSet := make(map[string]bool)

	for rows.Next() {
		var id, seriesID, sourceURL string
		if err := rows.Scan(&id, &seriesID, &sourceURL); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan migratable source: %w", err)
		}

		newURL, ok := urlx.ReplaceHost(sourceURL, oldDomain, newDomain)
		if !ok {
			continue
		}

		affected = append(affected, affectedSource{id: id, seriesID: seriesID, newURL: newURL})
		seriesSet[seriesID] = true

		if len(sample) < constants.DomainMigrationSampleSize {
			sample = append(sample, URLChange{SourceID: id, OldURL: sourceURL, NewURL: newURL})
		}
	}
	rows.Close()

	if dryRun {
		return &DomainMigrationResult{
			DryRun:        true,
			AffectedCount: len(affected),
			Sample:        sample,
		}, nil
	}

	tx, err := store.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to begin domain migration: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	updateQuery := fmt.Sprintf(`UPDATE %s SET %s = $1, %s = $2, %s = NOW() WHERE %s = $3`,
		sch.Table, sch.SourceURL, sch.SourceDomain, sch.UpdatedAt, sch.ID)

	newDomainLower := strings.ToLower(newDomain)
	for _, a := range affected {
		if _, err := tx.Exec(ctx, updateQuery, a.newURL, newDomainLower, a.id); err != nil {
			return nil, fmt.Errorf("postgres: failed to migrate source: %w", err)
		}
	}

	// Resync primary-source denormalization of every touched series
	if len(seriesSet) > 0 {
		touched := make([]string, 0, len(seriesSet))
		for id := range seriesSet {
			touched = append(touched, id)
		}

		ser := schema.SyncSeries
		resyncQuery := fmt.Sprintf(`
			UPDATE %s s SET
				%s = src.%s, %s = src.%s, %s = src.%s, %s = NOW()
			FROM %s src
			WHERE src.%s = s.%s AND src.%s = 1 AND s.%s = ANY($1)
		`, ser.Table,
			ser.MangaURL, sch.SourceURL, ser.SourceDomain, sch.SourceDomain, ser.MangaSlug, sch.MangaSlug, ser.UpdatedAt,
			sch.Table,
			sch.SeriesID, ser.ID, sch.Priority, ser.ID)

		if _, err := tx.Exec(ctx, resyncQuery, touched); err != nil {
			return nil, fmt.Errorf("postgres: failed to resync migrated series: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: failed to commit domain migration: %w", err)
	}

	return &DomainMigrationResult{
		DryRun:        false,
		AffectedCount: len(affected),
		UpdatedCount:  len(affected),
		Sample:        sample,
	}, nil
}
