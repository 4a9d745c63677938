// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package scanner discovers work: it compares each due series' upstream
sources against the backend catalog and turns the difference into sync
tasks.

Architecture:

  - Tick: fans out over due series with bounded parallelism.
  - Scan: the ten-step discovery pass — per-source listing fetch,
    authoritative source selection, backend set diff, task creation.
  - Collaborators (scraper, catalog, notifier) enter through narrow
    interfaces so tests can substitute fakes.

A scan failure never creates tasks: the series moves to error with the
message captured, and the operator channel is alerted once the failure
streak crosses the configured threshold.
*/
package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/taibuivan/yomira-sync/internal/clients"
	"github.com/taibuivan/yomira-sync/internal/events"
	"github.com/taibuivan/yomira-sync/internal/platform/config"
	"github.com/taibuivan/yomira-sync/internal/platform/constants"
	"github.com/taibuivan/yomira-sync/internal/series"
	"github.com/taibuivan/yomira-sync/pkg/chapternum"
)

// # Collaborator Contracts

// SourceLister is the slice of the scraper the scanner consumes.
type SourceLister interface {
	ListChapters(ctx context.Context, sourceURL string) ([]clients.SourceChapter, error)
	GetSourceMeta(ctx context.Context, sourceURL string) (*clients.SourceMeta, error)
}

// CatalogReader exposes the backend chapter set.
type CatalogReader interface {
	ListChapterNumbers(ctx context.Context, externalID string) ([]float64, int, error)
}

// FailureNotifier alerts the operator channel about persistent failures.
type FailureNotifier interface {
	NotifyFailure(ctx context.Context, seriesExternalID, title, message string)
}

// # Scanner

// Scanner drives chapter discovery for due series.
type Scanner struct {
	store     series.Store
	scraper   SourceLister
	catalog   CatalogReader
	notifier  FailureNotifier
	publisher events.Publisher
	cfg       *config.Config
	logger    *slog.Logger
}

// New wires a scanner over its collaborators.
func New(
	store series.Store,
	scraper SourceLister,
	catalog CatalogReader,
	notifier FailureNotifier,
	publisher events.Publisher,
	cfg *config.Config,
	logger *slog.Logger,
) *Scanner {
	return &Scanner{
		store:     store,
		scraper:   scraper,
		catalog:   catalog,
		notifier:  notifier,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
	}
}

// Tick scans every due series, fanning out up to MAX_CONCURRENT_SCANS.
func (sc *Scanner) Tick(ctx context.Context) error {

	due, err := sc.store.GetDueSeries(ctx)
	if err != nil {
		return fmt.Errorf("scanner: failed to load due series: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	sc.logger.Info("scanner tick", slog.Int("due", len(due)))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(sc.cfg.MaxConcurrentScans)

	for _, s := range due {
		s := s
		group.Go(func() error {
			if err := sc.Scan(groupCtx, s); err != nil {
				sc.logger.Error("scan failed",
					slog.String("series", s.ExternalID),
					slog.String("error", err.Error()),
				)
			}
			// One bad series never aborts the fan-out.
			return nil
		})
	}

	return group.Wait()
}

// sourceScan is one per-source listing outcome.
type sourceScan struct {
	source   *series.Source
	chapters []clients.SourceChapter
	err      error
}

/*
Scan runs the discovery pass for one series.

Description: The series moves through scanning and ends in idle (nothing
missing), syncing (tasks created), or error (any step failed). The sync
progress denominator grows by the number of newly created tasks, so
re-discovered chapters that already have a task are not double counted.
*/
func (sc *Scanner) Scan(ctx context.Context, s *series.Series) error {

	// 1. Announce the scan
	if err := sc.store.SetStatus(ctx, s.ID, series.StatusScanning, ""); err != nil {
		return err
	}
	sc.publisher.Publish(events.New(events.TypeScanStarted, s.ExternalID, nil))

	// 2. Load sources
	sources, err := sc.store.GetEnabledSources(ctx, s.ID)
	if err != nil {
		return sc.failScan(ctx, s, "failed to load sources: "+err.Error())
	}
	if len(sources) == 0 {
		return sc.failScan(ctx, s, "no sources")
	}

	// 3. Metadata short-circuit: skip the full listing when the primary
	// source reports nothing beyond what the catalog already has.
	if sc.canSkipFullScan(ctx, s, sources[0]) {
		if err := sc.recordResult(ctx, s, s.SourceChapterCount, s.SourceLastChapter); err != nil {
			return err
		}
		sc.publisher.Publish(events.New(events.TypeScanFinished, s.ExternalID, map[string]any{
			"status":  string(series.StatusIdle),
			"missing": 0,
			"skipped": true,
		}))
		return nil
	}

	// 4. Fetch every source listing concurrently
	scans := sc.fetchSources(ctx, sources)

	var successful []*sourceScan
	for _, scan := range scans {
		if scan.err == nil {
			successful = append(successful, scan)
		}
	}
	if len(successful) == 0 {
		return sc.failScan(ctx, s, "all sources failed")
	}

	// 5. Authoritative source: highest chapter count, ties by input order.
	// Sources lag each other; taking the fullest avoids regressing.
	authoritative := successful[0]
	for _, scan := range successful[1:] {
		if len(scan.chapters) > len(authoritative.chapters) {
			authoritative = scan
		}
	}

	// 6. Backend chapter set
	backendNumbers, backendTotal, err := sc.catalog.ListChapterNumbers(ctx, s.ExternalID)
	if err != nil {
		return sc.failScan(ctx, s, "failed to list catalog chapters: "+err.Error())
	}

	var backendLast *float64
	backendSet := make(map[float64]bool, len(backendNumbers))
	for _, n := range backendNumbers {
		n := n
		backendSet[n] = true
		if backendLast == nil || n > *backendLast {
			backendLast = &n
		}
	}
	if err := sc.store.UpdateBackendChapterStats(ctx, s.ID, backendTotal, backendLast); err != nil {
		return sc.failScan(ctx, s, "failed to persist backend stats: "+err.Error())
	}

	// 7. Compute missing chapters, preserving the source's ordering
	var specs []series.TaskSpec
	var sourceLast *float64
	seen := make(map[float64]bool)

	for _, chapter := range authoritative.chapters {
		number, ok := chapternum.Resolve(chapter.URL, chapter.Title, chapter.Weight)
		if !ok {
			sc.logger.Warn("chapter number unresolvable",
				slog.String("series", s.ExternalID),
				slog.String("url", chapter.URL),
			)
			continue
		}

		if sourceLast == nil || number > *sourceLast {
			n := number
			sourceLast = &n
		}

		if backendSet[number] || seen[number] {
			continue
		}
		seen[number] = true

		specs = append(specs, series.TaskSpec{
			ChapterURL:    chapter.URL,
			ChapterNumber: number,
			Weight:        len(specs),
			SourceID:      &authoritative.source.ID,
		})
	}

	// 8. Persist the scan outcome and schedule the next one
	if err := sc.recordResult(ctx, s, len(authoritative.chapters), sourceLast); err != nil {
		return err
	}

	// 9. Nothing missing: the series settles back to idle
	if len(specs) == 0 {
		sc.publisher.Publish(events.New(events.TypeScanFinished, s.ExternalID, map[string]any{
			"status":  string(series.StatusIdle),
			"missing": 0,
		}))
		return nil
	}

	// 10. Queue the missing chapters and hand the series to the processor
	created, err := sc.store.CreateTasks(ctx, s.ID, specs)
	if err != nil {
		return sc.failScan(ctx, s, "failed to create tasks: "+err.Error())
	}
	if err := sc.store.SetStatus(ctx, s.ID, series.StatusSyncing, ""); err != nil {
		return err
	}
	if created > 0 {
		if err := sc.store.IncrementSyncProgressTotal(ctx, s.ID, created); err != nil {
			return err
		}
	}

	sc.logger.Info("scan queued tasks",
		slog.String("series", s.ExternalID),
		slog.Int("missing", len(specs)),
		slog.Int("created", created),
	)
	sc.publisher.Publish(events.New(events.TypeScanFinished, s.ExternalID, map[string]any{
		"status":  string(series.StatusSyncing),
		"missing": len(specs),
	}))

	return nil
}

// fetchSources pulls every source listing concurrently and records each
// outcome on the source row.
func (sc *Scanner) fetchSources(ctx context.Context, sources []*series.Source) []*sourceScan {

	scans := make([]*sourceScan, len(sources))
	var wg sync.WaitGroup

	for i, source := range sources {
		i, source := i, source
		wg.Add(1)
		go func() {
			defer wg.Done()

			chapters, err := sc.scraper.ListChapters(ctx, source.SourceURL)
			scans[i] = &sourceScan{source: source, chapters: chapters, err: err}

			record := series.SourceScanRecord{ChapterCount: len(chapters)}
			switch {
			case err != nil && ctx.Err() != nil:
				record.Status = series.ScanStatusTimeout
				record.Error = err.Error()
			case err != nil:
				record.Status = series.ScanStatusError
				record.Error = err.Error()
			case len(chapters) == 0:
				record.Status = series.ScanStatusEmpty
				scans[i].err = fmt.Errorf("scanner: source returned no chapters")
			default:
				record.Status = series.ScanStatusSuccess
				record.LastChapter = lastChapterOf(chapters)
			}

			if updateErr := sc.store.UpdateSourceScan(ctx, source.ID, record); updateErr != nil {
				sc.logger.Warn("failed to record source scan",
					slog.String("source", source.SourceURL),
					slog.String("error", updateErr.Error()),
				)
			}
		}()
	}

	wg.Wait()
	return scans
}

// canSkipFullScan consults the lightweight metadata endpoint. The skip is
// only safe when the source reports nothing newer AND the totals agree;
// disagreeing counts can hide gaps in the middle.
func (sc *Scanner) canSkipFullScan(ctx context.Context, s *series.Series, primary *series.Source) bool {

	if s.SourceLastChapter == nil {
		return false
	}

	meta, err := sc.scraper.GetSourceMeta(ctx, primary.SourceURL)
	if err != nil {
		return false
	}

	return meta.LastChapter.Number <= *s.SourceLastChapter && meta.Total == s.BackendChapterCount
}

// recordResult persists the scan bookkeeping with the next schedule slot.
func (sc *Scanner) recordResult(ctx context.Context, s *series.Series, chapterCount int, lastChapter *float64) error {

	interval := s.CheckIntervalMinutes
	if interval <= 0 {
		interval = constants.DefaultCheckIntervalMinutes
	}

	return sc.store.RecordScanResult(ctx, s.ID, series.ScanResult{
		SourceChapterCount: chapterCount,
		SourceLastChapter:  lastChapter,
		NextScanAt:         time.Now().Add(time.Duration(interval) * time.Minute),
	})
}

// failScan moves the series to error, emits the terminal event, and alerts
// the operator channel once the failure streak crosses the threshold.
func (sc *Scanner) failScan(ctx context.Context, s *series.Series, message string) error {

	if err := sc.store.SetStatus(ctx, s.ID, series.StatusError, message); err != nil {
		sc.logger.Error("failed to record scan failure",
			slog.String("series", s.ExternalID),
			slog.String("error", err.Error()),
		)
	}

	sc.publisher.Publish(events.New(events.TypeScanFinished, s.ExternalID, map[string]any{
		"status": string(series.StatusError),
		"error":  message,
	}))

	failures := s.ConsecutiveFailures + 1
	if failures >= sc.cfg.NotifyAfterFailures {
		sc.notifier.NotifyFailure(ctx, s.ExternalID, s.Title,
			fmt.Sprintf("scan failed %d times in a row: %s", failures, message))
	}

	return fmt.Errorf("scanner: %s", message)
}

// lastChapterOf resolves the highest chapter number in a listing.
func lastChapterOf(chapters []clients.SourceChapter) *float64 {
	var last *float64
	for _, chapter := range chapters {
		if number, ok := chapternum.Resolve(chapter.URL, chapter.Title, chapter.Weight); ok {
			if last == nil || number > *last {
				n := number
				last = &n
			}
		}
	}
	return last
}
