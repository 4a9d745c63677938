// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package processor drains sync tasks: it moves each missing chapter through
the four-step external pipeline (enumerate images, stage, persist, register)
and settles the owning series when the batch completes.

Architecture:

  - Tick: sweeps drained series, then fans out over syncing series with
    bounded parallelism; coalesced cache purges flush once per turn.
  - ProcessSeries: budgeted, strictly sequential per series so per-domain
    rate limits hold.
  - Pipeline: a task with a staged archive resumes at the storage upload; a
    task failure is recorded and never halts the batch.
*/
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/taibuivan/yomira-sync/internal/clients"
	"github.com/taibuivan/yomira-sync/internal/events"
	"github.com/taibuivan/yomira-sync/internal/platform/config"
	"github.com/taibuivan/yomira-sync/internal/series"
)

// # Collaborator Contracts

// ChapterScraper is the slice of the scraper the pipeline consumes.
type ChapterScraper interface {
	GetChapterImages(ctx context.Context, chapterURL string) ([]clients.ChapterImage, error)
	StageChapter(ctx context.Context, request clients.StageRequest) (*clients.StagedArchive, error)
}

// StorageUploader persists staged archives into catalog storage.
type StorageUploader interface {
	UploadSingle(ctx context.Context, request clients.UploadRequest) (*clients.UploadResult, error)
}

// CatalogWriter registers uploaded chapters in the catalog.
type CatalogWriter interface {
	CreateChapters(ctx context.Context, externalID string, entries []clients.ChapterEntry) error
}

// CachePurger coalesces tag invalidations across one tick.
type CachePurger interface {
	Schedule(tags ...string)
	Flush(ctx context.Context)
}

// # Processor

// Processor drives the per-chapter sync pipeline.
type Processor struct {
	store     series.Store
	scraper   ChapterScraper
	uploader  StorageUploader
	catalog   CatalogWriter
	purger    CachePurger
	publisher events.Publisher
	cfg       *config.Config
	logger    *slog.Logger
}

// New wires a processor over its collaborators.
func New(
	store series.Store,
	scraper ChapterScraper,
	uploader StorageUploader,
	catalog CatalogWriter,
	purger CachePurger,
	publisher events.Publisher,
	cfg *config.Config,
	logger *slog.Logger,
) *Processor {
	return &Processor{
		store:     store,
		scraper:   scraper,
		uploader:  uploader,
		catalog:   catalog,
		purger:    purger,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
	}
}

// Tick sweeps drained series, processes every syncing series up to
// MAX_CONCURRENT_SYNCS in parallel, then flushes the coalesced cache purge.
func (p *Processor) Tick(ctx context.Context) error {

	if err := p.store.ResolveCompletedSyncingSeries(ctx); err != nil {
		return fmt.Errorf("processor: failed to resolve drained series: %w", err)
	}

	active, err := p.store.GetSeriesWithActiveTasks(ctx)
	if err != nil {
		return fmt.Errorf("processor: failed to load syncing series: %w", err)
	}
	if len(active) == 0 {
		return nil
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(p.cfg.MaxConcurrentSyncs)

	for _, s := range active {
		s := s
		group.Go(func() error {
			if err := p.ProcessSeries(groupCtx, s); err != nil {
				p.logger.Error("series processing failed",
					slog.String("series", s.ExternalID),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}

	err = group.Wait()
	p.purger.Flush(ctx)
	return err
}

/*
ProcessSeries drains up to the per-series chapter budget, sequentially.

Description: An empty runnable list triggers finalization: with no active
tasks left the series settles to error (any task failed) or idle (clean
drain, last_synced_at stamped). Task failures are recorded per task and the
batch continues.
*/
func (p *Processor) ProcessSeries(ctx context.Context, s *series.Series) error {

	runnable, err := p.store.GetPendingTasks(ctx, s.ID, p.cfg.DefaultChaptersPerSeries)
	if err != nil {
		return fmt.Errorf("processor: failed to load runnable tasks: %w", err)
	}

	if len(runnable) == 0 {
		return p.finalize(ctx, s)
	}

	// Sequential within a series so per-domain pacing holds
	for _, task := range runnable {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.processTask(ctx, s, task)
	}

	return nil
}

// finalize settles a syncing series whose runnable queue is empty.
func (p *Processor) finalize(ctx context.Context, s *series.Series) error {

	tasks, err := p.store.GetTasksForSeries(ctx, s.ID)
	if err != nil {
		return fmt.Errorf("processor: failed to inspect tasks: %w", err)
	}

	anyFailed := false
	for _, task := range tasks {
		if task.Status.IsActive() {
			// Still owned elsewhere in this tick; settle next turn.
			return nil
		}
		if task.Status == series.TaskFailed {
			anyFailed = true
		}
	}

	if anyFailed {
		return p.store.SetStatus(ctx, s.ID, series.StatusError, "Some chapters failed to sync")
	}

	if err := p.store.SetStatus(ctx, s.ID, series.StatusIdle, ""); err != nil {
		return err
	}
	return p.store.SetLastSyncedAt(ctx, s.ID)
}

// # Four-Step Pipeline

// processTask moves one chapter through enumerate → stage → persist →
// register. All outcomes are absorbed into task state.
func (p *Processor) processTask(ctx context.Context, s *series.Series, task *series.SyncTask) {

	chapterLabel := formatChapterNumber(task.ChapterNumber)
	zipURL := ""
	if task.ZipURL != nil {
		zipURL = *task.ZipURL
	}

	// Steps A+B run only when no staged archive exists; a stored zip URL
	// means staging already succeeded and the pipeline resumes at Step C.
	if zipURL == "" {

		// Step A — enumerate images
		if err := p.store.SetTaskStatus(ctx, task.ID, series.TaskScraping, series.TaskUpdate{}); err != nil {
			p.logger.Error("failed to claim task", slog.String("task", task.ID), slog.String("error", err.Error()))
			return
		}

		images, err := p.scraper.GetChapterImages(ctx, task.ChapterURL)
		if err != nil {
			p.failTask(ctx, s, task, err.Error())
			return
		}
		if len(images) == 0 {
			p.failTask(ctx, s, task, "No images found for chapter")
			return
		}

		// Step B — stage into an intermediate archive
		archive, err := p.scraper.StageChapter(ctx, clients.StageRequest{
			ImageDataArray:   images,
			SeriesExternalID: s.ExternalID,
			ChapterNumber:    chapterLabel,
			SeriesTitle:      s.Title,
			ChapterURL:       task.ChapterURL,
		})
		if err != nil {
			p.failTask(ctx, s, task, err.Error())
			return
		}

		zipURL = archive.PublicURL
		if err := p.store.SetTaskStatus(ctx, task.ID, series.TaskScraped, series.TaskUpdate{ZipURL: &zipURL}); err != nil {
			p.logger.Error("failed to record staged archive", slog.String("task", task.ID), slog.String("error", err.Error()))
			return
		}
	}

	// Step C — persist into durable storage
	if err := p.store.SetTaskStatus(ctx, task.ID, series.TaskUploading, series.TaskUpdate{}); err != nil {
		p.logger.Error("failed to claim upload", slog.String("task", task.ID), slog.String("error", err.Error()))
		return
	}

	result, err := p.uploader.UploadSingle(ctx, clients.UploadRequest{
		ZipURL:           zipURL,
		SeriesExternalID: s.ExternalID,
		ChapterNumber:    task.ChapterNumber,
	})
	if err != nil {
		p.failTask(ctx, s, task, err.Error())
		return
	}

	// Step D — register in the catalog
	err = p.catalog.CreateChapters(ctx, s.ExternalID, []clients.ChapterEntry{{
		ChapterID:         result.ChapterID,
		ChapterNumber:     task.ChapterNumber,
		ChapterTitle:      "",
		ChapterImages:     result.Data,
		Path:              result.Path,
		ThumbnailImageURL: p.cfg.DefaultThumbnailURL,
	}})
	if err != nil {
		p.failTask(ctx, s, task, err.Error())
		return
	}

	if err := p.store.IncrementBackendChapterStats(ctx, s.ID, task.ChapterNumber); err != nil {
		p.logger.Warn("failed to bump backend stats", slog.String("series", s.ExternalID), slog.String("error", err.Error()))
	}

	if err := p.store.SetTaskStatus(ctx, task.ID, series.TaskCompleted, series.TaskUpdate{}); err != nil {
		p.logger.Error("failed to complete task", slog.String("task", task.ID), slog.String("error", err.Error()))
		return
	}
	if err := p.store.RefreshSyncProgress(ctx, s.ID); err != nil {
		p.logger.Warn("failed to refresh progress", slog.String("series", s.ExternalID), slog.String("error", err.Error()))
	}

	p.purger.Schedule(
		"series:"+s.ExternalID,
		"chapter:"+s.ExternalID+":"+chapterLabel,
	)

	p.logger.Info("chapter synced",
		slog.String("series", s.ExternalID),
		slog.String("chapter", chapterLabel),
	)
	p.publisher.Publish(events.New(events.TypeSyncProgress, s.ExternalID, map[string]any{
		"chapter_number": task.ChapterNumber,
		"status":         string(series.TaskCompleted),
	}))
}

// failTask records a pipeline failure and keeps the batch moving.
func (p *Processor) failTask(ctx context.Context, s *series.Series, task *series.SyncTask, message string) {

	if err := p.store.SetTaskStatus(ctx, task.ID, series.TaskFailed, series.TaskUpdate{Error: &message}); err != nil {
		p.logger.Error("failed to record task failure", slog.String("task", task.ID), slog.String("error", err.Error()))
	}
	if err := p.store.RefreshSyncProgress(ctx, s.ID); err != nil {
		p.logger.Warn("failed to refresh progress", slog.String("series", s.ExternalID), slog.String("error", err.Error()))
	}

	p.logger.Warn("chapter sync failed",
		slog.String("series", s.ExternalID),
		slog.String("chapter", formatChapterNumber(task.ChapterNumber)),
		slog.String("error", message),
	)
	p.publisher.Publish(events.New(events.TypeSyncProgress, s.ExternalID, map[string]any{
		"chapter_number": task.ChapterNumber,
		"status":         string(series.TaskFailed),
		"error":          message,
	}))
}

// formatChapterNumber renders 36.5 as "36.5" and 12 as "12".
func formatChapterNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}
