// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package series

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/taibuivan/yomira-sync/internal/events"
	"github.com/taibuivan/yomira-sync/internal/platform/apperr"
	"github.com/taibuivan/yomira-sync/internal/platform/constants"
	"github.com/taibuivan/yomira-sync/internal/platform/validate"
	"github.com/taibuivan/yomira-sync/pkg/pointer"
	"github.com/taibuivan/yomira-sync/pkg/uuid"
)

// firstScanTimeout bounds the asynchronous scan kicked off right after a
// series is registered.
const firstScanTimeout = 5 * time.Minute

// ScanTrigger kicks off a discovery pass for one series. Satisfied by the
// scanner; nil disables the immediate first scan (tests, degraded boot).
type ScanTrigger interface {
	Scan(ctx context.Context, s *Series) error
}

// Service implements the admin operations over the sync registry.
//
// All mutations flow through the [Store]; events are published best-effort
// and never block or fail the request path.
type Service struct {
	store     Store
	publisher events.Publisher
	trigger   ScanTrigger
	logger    *slog.Logger
}

// NewService wires the admin service.
func NewService(store Store, publisher events.Publisher, trigger ScanTrigger, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		publisher: publisher,
		trigger:   trigger,
		logger:    logger,
	}
}

// # Registration

// CreateInput is the registration payload for one series.
type CreateInput struct {
	ExternalID           string   `json:"external_id"`
	Title                string   `json:"title"`
	SourceURLs           []string `json:"source_urls"`
	CheckIntervalMinutes *int     `json:"check_interval_minutes"`
	Priority             *int     `json:"priority"`
	AutoSyncEnabled      *bool    `json:"auto_sync_enabled"`
}

/*
Create registers a new series and schedules an immediate first scan.

Description: Source URLs are normalized and deduplicated; the priority-1
source's fields are denormalized onto the series row. The first scan runs
asynchronously so registration returns as soon as the row is durable.

Returns:
  - *Series: The persisted series with sources attached
  - error: apperr.Conflict when the external id is already registered,
    apperr.ValidationError on bad input
*/
func (svc *Service) Create(ctx context.Context, input CreateInput) (*Series, error) {

	s, err := svc.buildSeries(input)
	if err != nil {
		return nil, err
	}

	if err := svc.store.CreateSeries(ctx, s); err != nil {
		return nil, err
	}

	svc.publisher.Publish(events.New(events.TypeCreated, s.ExternalID, map[string]any{
		"title": s.Title,
	}))
	svc.scheduleFirstScan(s)

	svc.logger.Info("series registered",
		slog.String("series", s.ExternalID),
		slog.Int("sources", len(s.Sources)),
	)
	return s, nil
}

// BulkItemStatus is the per-item outcome of a bulk registration.
type BulkItemStatus string

const (
	BulkCreated BulkItemStatus = "created"
	BulkSkipped BulkItemStatus = "skipped"
)

// BulkItemResult reports one item of a bulk registration.
type BulkItemResult struct {
	ExternalID string         `json:"external_id"`
	Status     BulkItemStatus `json:"status"`
	Error      string         `json:"error,omitempty"`
}

/*
BulkCreate registers up to MaxBulkCreateItems series in one call.

Description: Items are processed in order and independently: a duplicate or
invalid item is reported as skipped with its reason, never failing the whole
batch.
*/
func (svc *Service) BulkCreate(ctx context.Context, items []CreateInput) ([]BulkItemResult, error) {

	if len(items) == 0 {
		return nil, apperr.ValidationError("At least one item is required")
	}
	if len(items) > constants.MaxBulkCreateItems {
		return nil, apperr.ValidationError("Too many items in one bulk registration")
	}

	results := make([]BulkItemResult, 0, len(items))
	for _, item := range items {
		result := BulkItemResult{ExternalID: item.ExternalID, Status: BulkCreated}

		if _, err := svc.Create(ctx, item); err != nil {
			result.Status = BulkSkipped
			result.Error = err.Error()
		}
		results = append(results, result)
	}

	return results, nil
}

// # Queries

// List returns a filtered, paginated page of series plus the total count.
func (svc *Service) List(ctx context.Context, filter Filter) ([]*Series, int, error) {

	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, 0, apperr.ValidationError("Unknown status filter", apperr.FieldError{
			Field:   "status",
			Message: "Must be one of: idle, scanning, syncing, error",
		})
	}

	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 || filter.PageSize > 100 {
		filter.PageSize = 20
	}

	return svc.store.ListSeries(ctx, filter)
}

// Detail is a series together with its failed tasks for operator triage.
type Detail struct {
	Series      *Series     `json:"series"`
	FailedTasks []*SyncTask `json:"failed_tasks"`
}

// Get returns one series with its failed tasks attached.
func (svc *Service) Get(ctx context.Context, id string) (*Detail, error) {

	s, err := svc.store.GetSeries(ctx, id)
	if err != nil {
		return nil, err
	}

	failed, err := svc.store.GetFailedTasks(ctx, id)
	if err != nil {
		return nil, err
	}

	return &Detail{Series: s, FailedTasks: failed}, nil
}

// # Updates

/*
Update applies a partial update to a series' registration.

Description: A non-nil SourceURLs replaces the whole source set atomically
and resyncs the denormalized primary-source fields.
*/
func (svc *Service) Update(ctx context.Context, id string, patch Patch) (*Series, error) {

	if err := svc.validatePatch(patch); err != nil {
		return nil, err
	}

	var sources []NormalizedSource
	if patch.SourceURLs != nil {
		normalized, err := NormalizeSourceURLs(patch.SourceURLs)
		if err != nil {
			return nil, err
		}
		sources = normalized
	}

	s, err := svc.store.UpdateSeries(ctx, id, patch)
	if err != nil {
		return nil, err
	}

	if sources != nil {
		if _, err := svc.store.ReplaceSources(ctx, id, sources); err != nil {
			return nil, err
		}
		if s, err = svc.store.GetSeries(ctx, id); err != nil {
			return nil, err
		}
	}

	svc.publisher.Publish(events.New(events.TypeUpdated, s.ExternalID, map[string]any{
		"title": s.Title,
	}))
	return s, nil
}

// Delete removes a series; its sources and tasks cascade.
func (svc *Service) Delete(ctx context.Context, id string) error {

	s, err := svc.store.GetSeries(ctx, id)
	if err != nil {
		return err
	}

	if err := svc.store.DeleteSeries(ctx, id); err != nil {
		return err
	}

	svc.publisher.Publish(events.New(events.TypeDeleted, s.ExternalID, nil))
	svc.logger.Info("series deleted", slog.String("series", s.ExternalID))
	return nil
}

// # Operator Actions

// ForceScan schedules an immediate scan for the series. Idempotent: calling
// it on an already-due or actively syncing series is a no-op success.
func (svc *Service) ForceScan(ctx context.Context, id string) error {

	if _, err := svc.store.GetSeries(ctx, id); err != nil {
		return err
	}
	return svc.store.TriggerForceScan(ctx, id)
}

/*
RetryFailed revives every failed task of a series.

Returns:
  - int: Number of tasks flipped back to pending
  - error: apperr.ValidationError when the series has no failed tasks
*/
func (svc *Service) RetryFailed(ctx context.Context, id string) (int, error) {

	if _, err := svc.store.GetSeries(ctx, id); err != nil {
		return 0, err
	}

	retried, err := svc.store.RetryFailed(ctx, id)
	if err != nil {
		return 0, err
	}
	if retried == 0 {
		return 0, apperr.ValidationError("No failed tasks to retry")
	}

	svc.logger.Info("failed tasks revived",
		slog.String("series_id", id),
		slog.Int("retried", retried),
	)
	return retried, nil
}

// DomainMigrationInput is the payload of a bulk source-domain rewrite.
type DomainMigrationInput struct {
	OldDomain string   `json:"old_domain"`
	NewDomain string   `json:"new_domain"`
	SeriesIDs []string `json:"series_ids"`
	// DryRun defaults to true when absent: previews never mutate by accident.
	DryRun *bool `json:"dry_run"`
}

/*
MigrateDomain rewrites source hostnames from one domain to another.

Description: Only the hostname changes; path, query, and fragment are kept
byte-identical. A dry run (the default) reports the affected count plus a
sample of URL changes without touching any row.
*/
func (svc *Service) MigrateDomain(ctx context.Context, input DomainMigrationInput) (*DomainMigrationResult, error) {

	oldDomain := strings.ToLower(strings.TrimSpace(input.OldDomain))
	newDomain := strings.ToLower(strings.TrimSpace(input.NewDomain))

	v := &validate.Validator{}
	v.Required("old_domain", oldDomain).
		Required("new_domain", newDomain).
		Custom("new_domain", oldDomain != "" && oldDomain == newDomain, "Must differ from old_domain").
		Custom("series_ids", len(input.SeriesIDs) > constants.MaxDomainMigrationSeries, "Too many targeted series")
	if err := v.Err(); err != nil {
		return nil, err
	}

	dryRun := pointer.Fallback(input.DryRun, true)

	result, err := svc.store.MigrateDomain(ctx, oldDomain, newDomain, input.SeriesIDs, dryRun)
	if err != nil {
		return nil, err
	}

	if !dryRun {
		svc.logger.Info("source domain migrated",
			slog.String("old_domain", oldDomain),
			slog.String("new_domain", newDomain),
			slog.Int("updated", result.UpdatedCount),
		)
	}
	return result, nil
}

// # Internals

// buildSeries validates a registration payload and assembles the aggregate.
func (svc *Service) buildSeries(input CreateInput) (*Series, error) {

	v := &validate.Validator{}
	v.Required("external_id", input.ExternalID).
		MaxLen("external_id", input.ExternalID, 255).
		Required("title", input.Title).
		MaxLen("title", input.Title, 500)
	if input.CheckIntervalMinutes != nil {
		v.Range("check_interval_minutes", *input.CheckIntervalMinutes, 5, 10080)
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	normalized, err := NormalizeSourceURLs(input.SourceURLs)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	s := &Series{
		ID:                   uuid.New(),
		ExternalID:           strings.TrimSpace(input.ExternalID),
		Title:                strings.TrimSpace(input.Title),
		MangaURL:             normalized[0].SourceURL,
		SourceDomain:         normalized[0].SourceDomain,
		MangaSlug:            normalized[0].MangaSlug,
		AutoSyncEnabled:      pointer.Fallback(input.AutoSyncEnabled, true),
		CheckIntervalMinutes: pointer.Fallback(input.CheckIntervalMinutes, constants.DefaultCheckIntervalMinutes),
		Priority:             pointer.Val(input.Priority),
		Status:               StatusIdle,
		NextScanAt:           &now,
	}

	for _, source := range normalized {
		s.Sources = append(s.Sources, &Source{
			ID:           uuid.New(),
			SeriesID:     s.ID,
			SourceURL:    source.SourceURL,
			SourceDomain: source.SourceDomain,
			MangaSlug:    source.MangaSlug,
			Priority:     source.Priority,
			IsEnabled:    true,
		})
	}

	return s, nil
}

// validatePatch checks the updatable fields of a partial update.
func (svc *Service) validatePatch(patch Patch) error {

	v := &validate.Validator{}
	if patch.Title != nil {
		v.Required("title", *patch.Title).MaxLen("title", *patch.Title, 500)
	}
	if patch.CheckIntervalMinutes != nil {
		v.Range("check_interval_minutes", *patch.CheckIntervalMinutes, 5, 10080)
	}
	return v.Err()
}

// scheduleFirstScan runs the initial discovery pass off the request path.
// The scan is best effort: the scheduler reaches the series on its own once
// next_scan_at passes, so a failure here only delays discovery.
func (svc *Service) scheduleFirstScan(s *Series) {
	if svc.trigger == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), firstScanTimeout)
		defer cancel()

		if err := svc.trigger.Scan(ctx, s); err != nil && !errors.Is(err, context.Canceled) {
			svc.logger.Warn("first scan failed",
				slog.String("series", s.ExternalID),
				slog.String("error", err.Error()),
			)
		}
	}()
}
