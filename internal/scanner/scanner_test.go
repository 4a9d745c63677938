// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package scanner_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/yomira-sync/internal/clients"
	"github.com/taibuivan/yomira-sync/internal/events"
	"github.com/taibuivan/yomira-sync/internal/platform/config"
	"github.com/taibuivan/yomira-sync/internal/scanner"
	"github.com/taibuivan/yomira-sync/internal/series"
	"github.com/taibuivan/yomira-sync/pkg/uuid"
)

// # Fakes

// fakeScraper serves canned listings keyed by source URL.
type fakeScraper struct {
	listings map[string][]clients.SourceChapter
	errs     map[string]error
	meta     *clients.SourceMeta
}

func (f *fakeScraper) ListChapters(_ context.Context, sourceURL string) ([]clients.SourceChapter, error) {
	if err := f.errs[sourceURL]; err != nil {
		return nil, err
	}
	return f.listings[sourceURL], nil
}

func (f *fakeScraper) GetSourceMeta(_ context.Context, _ string) (*clients.SourceMeta, error) {
	if f.meta == nil {
		return nil, fmt.Errorf("meta unavailable")
	}
	return f.meta, nil
}

// fakeCatalog serves a fixed published chapter set.
type fakeCatalog struct {
	numbers []float64
}

func (f *fakeCatalog) ListChapterNumbers(_ context.Context, _ string) ([]float64, int, error) {
	return f.numbers, len(f.numbers), nil
}

// fakeNotifier records failure alerts.
type fakeNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeNotifier) NotifyFailure(_ context.Context, externalID, _, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, externalID)
}

func testConfig() *config.Config {
	return &config.Config{
		MaxConcurrentScans:  5,
		NotifyAfterFailures: 3,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// listing builds chapter entries with conventional chapter URLs.
func listing(numbers ...float64) []clients.SourceChapter {
	var chapters []clients.SourceChapter
	for _, n := range numbers {
		chapters = append(chapters, clients.SourceChapter{
			Title: fmt.Sprintf("Chapter %v", n),
			URL:   fmt.Sprintf("https://src.example/manga/x/chapter-%v", n),
		})
	}
	return chapters
}

// seedSeries registers a series with the given source URLs.
func seedSeries(t *testing.T, store series.Store, externalID string, sourceURLs ...string) *series.Series {
	t.Helper()

	normalized, err := series.NormalizeSourceURLs(sourceURLs)
	require.NoError(t, err)

	now := time.Now()
	s := &series.Series{
		ID:                   uuid.New(),
		ExternalID:           externalID,
		Title:                "Test Series",
		MangaURL:             normalized[0].SourceURL,
		SourceDomain:         normalized[0].SourceDomain,
		MangaSlug:            normalized[0].MangaSlug,
		AutoSyncEnabled:      true,
		CheckIntervalMinutes: 360,
		Status:               series.StatusIdle,
		NextScanAt:           &now,
	}
	for _, n := range normalized {
		s.Sources = append(s.Sources, &series.Source{
			ID:           uuid.New(),
			SeriesID:     s.ID,
			SourceURL:    n.SourceURL,
			SourceDomain: n.SourceDomain,
			MangaSlug:    n.MangaSlug,
			Priority:     n.Priority,
			IsEnabled:    true,
		})
	}

	require.NoError(t, store.CreateSeries(context.Background(), s))
	return s
}

func newScanner(store series.Store, scraper *fakeScraper, catalog *fakeCatalog, notifier *fakeNotifier) *scanner.Scanner {
	return scanner.New(store, scraper, catalog, notifier, events.NopPublisher{}, testConfig(), testLogger())
}

// # Scenarios

/*
TestScan_FreshSeries covers a first scan of a new series: every chapter is
missing, tasks carry ordinal weights, and the series hands over to syncing.
*/
func TestScan_FreshSeries(t *testing.T) {
	store := series.NewMemoryStore()
	ctx := context.Background()

	sourceURL := "https://src.example/manga/x"
	s := seedSeries(t, store, "manga-1", sourceURL)

	scraper := &fakeScraper{listings: map[string][]clients.SourceChapter{
		sourceURL: listing(1, 2, 3),
	}}
	sc := newScanner(store, scraper, &fakeCatalog{}, &fakeNotifier{})

	require.NoError(t, sc.Scan(ctx, s))

	// 1. Three pending tasks, weights preserving source order
	tasks, err := store.GetTasksForSeries(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	for i, task := range tasks {
		assert.Equal(t, i, task.Weight)
		assert.Equal(t, float64(i+1), task.ChapterNumber)
		assert.Equal(t, series.TaskPending, task.Status)
		require.NotNil(t, task.SourceID)
	}

	// 2. Series promoted to syncing with the progress denominator grown
	got, err := store.GetSeries(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, series.StatusSyncing, got.Status)
	assert.Equal(t, 3, got.SyncProgressTotal)
	assert.Equal(t, 3, got.SourceChapterCount)
	require.NotNil(t, got.SourceLastChapter)
	assert.Equal(t, float64(3), *got.SourceLastChapter)
	require.NotNil(t, got.NextScanAt)
	assert.True(t, got.NextScanAt.After(time.Now().Add(5*time.Hour)))
}

/*
TestScan_GapInMiddle covers a catalog missing one chapter in the middle of
the range: exactly that chapter is queued.
*/
func TestScan_GapInMiddle(t *testing.T) {
	store := series.NewMemoryStore()
	ctx := context.Background()

	sourceURL := "https://src.example/manga/x"
	s := seedSeries(t, store, "manga-1", sourceURL)

	scraper := &fakeScraper{listings: map[string][]clients.SourceChapter{
		sourceURL: listing(1, 2, 3, 4, 5),
	}}
	catalog := &fakeCatalog{numbers: []float64{1, 2, 4, 5}}
	sc := newScanner(store, scraper, catalog, &fakeNotifier{})

	require.NoError(t, sc.Scan(ctx, s))

	tasks, err := store.GetTasksForSeries(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, float64(3), tasks[0].ChapterNumber)

	got, err := store.GetSeries(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.SourceChapterCount)
	assert.Equal(t, 4, got.BackendChapterCount)
	assert.Equal(t, 1, got.SyncProgressTotal)
}

/*
TestScan_MultiSourceSelection covers authoritative source selection: the
fullest listing wins regardless of priority, and its source id lands on the
created tasks.
*/
func TestScan_MultiSourceSelection(t *testing.T) {
	store := series.NewMemoryStore()
	ctx := context.Background()

	primaryURL := "https://primary.example/manga/x"
	secondaryURL := "https://secondary.example/manga/x"
	s := seedSeries(t, store, "manga-1", primaryURL, secondaryURL)

	scraper := &fakeScraper{listings: map[string][]clients.SourceChapter{
		primaryURL:   listing(1, 2, 3, 4, 5, 6, 7, 8, 9, 10),
		secondaryURL: listing(1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12),
	}}
	sc := newScanner(store, scraper, &fakeCatalog{}, &fakeNotifier{})

	require.NoError(t, sc.Scan(ctx, s))

	tasks, err := store.GetTasksForSeries(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 12)

	// Every task credits the fuller secondary source
	sources, err := store.GetEnabledSources(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, sources, 2)
	secondary := sources[1]
	assert.Equal(t, "secondary.example", secondary.SourceDomain)
	for _, task := range tasks {
		require.NotNil(t, task.SourceID)
		assert.Equal(t, secondary.ID, *task.SourceID)
	}

	got, err := store.GetSeries(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 12, got.SourceChapterCount)
}

/*
TestScan_NoMissing covers the settle path: everything already published, no
tasks, series back to idle with the next scan scheduled.
*/
func TestScan_NoMissing(t *testing.T) {
	store := series.NewMemoryStore()
	ctx := context.Background()

	sourceURL := "https://src.example/manga/x"
	s := seedSeries(t, store, "manga-1", sourceURL)

	scraper := &fakeScraper{listings: map[string][]clients.SourceChapter{
		sourceURL: listing(1, 2, 3),
	}}
	catalog := &fakeCatalog{numbers: []float64{1, 2, 3}}
	sc := newScanner(store, scraper, catalog, &fakeNotifier{})

	require.NoError(t, sc.Scan(ctx, s))

	tasks, err := store.GetTasksForSeries(ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	got, err := store.GetSeries(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, series.StatusIdle, got.Status)
	assert.Zero(t, got.ConsecutiveFailures)
}

/*
TestScan_AllSourcesFailed covers the failure policy: no tasks, series to
error with the message captured, failure streak incremented, and the
operator alerted once the streak crosses the threshold.
*/
func TestScan_AllSourcesFailed(t *testing.T) {
	store := series.NewMemoryStore()
	ctx := context.Background()

	sourceURL := "https://src.example/manga/x"
	s := seedSeries(t, store, "manga-1", sourceURL)

	scraper := &fakeScraper{errs: map[string]error{
		sourceURL: fmt.Errorf("connect refused"),
	}}
	notifier := &fakeNotifier{}
	sc := newScanner(store, scraper, &fakeCatalog{}, notifier)

	// 1. Two failures: error state, no notification yet
	for i := 0; i < 2; i++ {
		require.Error(t, sc.Scan(ctx, s))
		s, _ = store.GetSeries(ctx, s.ID)
	}

	got, err := store.GetSeries(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, series.StatusError, got.Status)
	assert.Equal(t, "all sources failed", got.LastError)
	assert.Equal(t, 2, got.ConsecutiveFailures)
	assert.Empty(t, notifier.calls)

	tasks, err := store.GetTasksForSeries(ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	// 2. Third consecutive failure crosses the notification threshold
	require.Error(t, sc.Scan(ctx, got))
	assert.Equal(t, []string{"manga-1"}, notifier.calls)

	// 3. The per-source scan record captured the error
	sources, err := store.GetEnabledSources(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, series.ScanStatusError, sources[0].LastScanStatus)
	assert.Contains(t, sources[0].LastScanError, "connect refused")
}

/*
TestScan_MetadataShortCircuit covers the optimization: when the primary
source reports nothing newer and the totals agree, the full listing fetch is
skipped and the series settles directly.
*/
func TestScan_MetadataShortCircuit(t *testing.T) {
	store := series.NewMemoryStore()
	ctx := context.Background()

	sourceURL := "https://src.example/manga/x"
	s := seedSeries(t, store, "manga-1", sourceURL)

	// Seed prior scan knowledge: 3 chapters known, 3 in the backend
	require.NoError(t, store.RecordScanResult(ctx, s.ID, series.ScanResult{
		SourceChapterCount: 3,
		SourceLastChapter:  ptr(3.0),
		NextScanAt:         time.Now(),
	}))
	require.NoError(t, store.UpdateBackendChapterStats(ctx, s.ID, 3, ptr(3.0)))
	s, err := store.GetSeries(ctx, s.ID)
	require.NoError(t, err)

	meta := &clients.SourceMeta{Total: 3}
	meta.LastChapter.Number = 3

	// No listings registered: a full fetch would error the scan
	scraper := &fakeScraper{meta: meta}
	sc := newScanner(store, scraper, &fakeCatalog{}, &fakeNotifier{})

	require.NoError(t, sc.Scan(ctx, s))

	got, err := store.GetSeries(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, series.StatusIdle, got.Status)
	tasks, err := store.GetTasksForSeries(ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

/*
TestScan_RediscoveryDoesNotDoubleCount verifies that a rescan which finds the
same missing chapters again does not grow the progress denominator.
*/
func TestScan_RediscoveryDoesNotDoubleCount(t *testing.T) {
	store := series.NewMemoryStore()
	ctx := context.Background()

	sourceURL := "https://src.example/manga/x"
	s := seedSeries(t, store, "manga-1", sourceURL)

	scraper := &fakeScraper{listings: map[string][]clients.SourceChapter{
		sourceURL: listing(1, 2),
	}}
	sc := newScanner(store, scraper, &fakeCatalog{}, &fakeNotifier{})

	require.NoError(t, sc.Scan(ctx, s))

	// Force the series back through a scan with the same gap
	require.NoError(t, store.SetStatus(ctx, s.ID, series.StatusIdle, ""))
	s, err := store.GetSeries(ctx, s.ID)
	require.NoError(t, err)
	require.NoError(t, sc.Scan(ctx, s))

	got, err := store.GetSeries(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.SyncProgressTotal)

	tasks, err := store.GetTasksForSeries(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
}

func ptr(f float64) *float64 { return &f }
