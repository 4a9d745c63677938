// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package processor_test

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
	"github.com/taibuivan/yomira-sync/internal/processor"
	"github.com/taibuivan/yomira-sync/internal/series"
	"github.com/taibuivan/yomira-sync/pkg/uuid"
)

// # Fakes

// fakePipeline implements every pipeline collaborator with programmable
// failure points.
type fakePipeline struct {
	mu sync.Mutex

	imagesErr  error
	stageErr   error
	uploadErr  error
	catalogErr error

	scraped    []string
	staged     []string
	uploaded   []clients.UploadRequest
	registered []clients.ChapterEntry
	purgedTags []string
	flushes    int
}

func (f *fakePipeline) GetChapterImages(_ context.Context, chapterURL string) ([]clients.ChapterImage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.imagesErr != nil {
		return nil, f.imagesErr
	}
	f.scraped = append(f.scraped, chapterURL)
	return []clients.ChapterImage{
		{Index: 0, DownloadURL: chapterURL + "/img/0.jpg"},
		{Index: 1, DownloadURL: chapterURL + "/img/1.jpg"},
	}, nil
}

func (f *fakePipeline) StageChapter(_ context.Context, request clients.StageRequest) (*clients.StagedArchive, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stageErr != nil {
		return nil, f.stageErr
	}
	f.staged = append(f.staged, request.ChapterNumber)
	return &clients.StagedArchive{
		PublicURL:   "https://stage.example/" + request.SeriesExternalID + "/" + request.ChapterNumber + ".zip",
		FileName:    request.ChapterNumber + ".zip",
		TotalImages: len(request.ImageDataArray),
	}, nil
}

func (f *fakePipeline) UploadSingle(_ context.Context, request clients.UploadRequest) (*clients.UploadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	f.uploaded = append(f.uploaded, request)
	return &clients.UploadResult{
		ChapterID: fmt.Sprintf("ch-%v", request.ChapterNumber),
		Data:      []string{"0.jpg", "1.jpg"},
		Path:      "/storage/" + request.SeriesExternalID,
	}, nil
}

func (f *fakePipeline) CreateChapters(_ context.Context, _ string, entries []clients.ChapterEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.catalogErr != nil {
		return f.catalogErr
	}
	f.registered = append(f.registered, entries...)
	return nil
}

func (f *fakePipeline) Schedule(tags ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purgedTags = append(f.purgedTags, tags...)
}

func (f *fakePipeline) Flush(_ context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
}

func testConfig() *config.Config {
	return &config.Config{
		MaxConcurrentSyncs:       5,
		DefaultChaptersPerSeries: 3,
		DefaultThumbnailURL:      "https://cdn.example/default.jpg",
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// seedSyncingSeries registers a syncing series with queued tasks.
func seedSyncingSeries(t *testing.T, store series.Store, externalID string, chapterNumbers ...float64) *series.Series {
	t.Helper()
	ctx := context.Background()

	now := time.Now()
	s := &series.Series{
		ID:                   uuid.New(),
		ExternalID:           externalID,
		Title:                "Test Series",
		MangaURL:             "https://src.example/manga/x",
		SourceDomain:         "src.example",
		MangaSlug:            "x",
		AutoSyncEnabled:      true,
		CheckIntervalMinutes: 360,
		Status:               series.StatusIdle,
		NextScanAt:           &now,
	}
	require.NoError(t, store.CreateSeries(ctx, s))

	var specs []series.TaskSpec
	for i, n := range chapterNumbers {
		specs = append(specs, series.TaskSpec{
			ChapterURL:    fmt.Sprintf("https://src.example/manga/x/chapter-%v", n),
			ChapterNumber: n,
			Weight:        i,
		})
	}
	created, err := store.CreateTasks(ctx, s.ID, specs)
	require.NoError(t, err)
	require.NoError(t, store.SetStatus(ctx, s.ID, series.StatusSyncing, ""))
	require.NoError(t, store.IncrementSyncProgressTotal(ctx, s.ID, created))

	return s
}

func newProcessor(store series.Store, pipeline *fakePipeline) *processor.Processor {
	return processor.New(store, pipeline, pipeline, pipeline, pipeline, events.NopPublisher{}, testConfig(), testLogger())
}

// # Scenarios

/*
TestTick_DrainsFreshSeries covers the happy path: queued chapters run the
full pipeline and the series settles to idle with backend counters advanced.
*/
func TestTick_DrainsFreshSeries(t *testing.T) {
	store := series.NewMemoryStore()
	ctx := context.Background()
	s := seedSyncingSeries(t, store, "manga-1", 1, 2, 3)

	pipeline := &fakePipeline{}
	proc := newProcessor(store, pipeline)

	// 1. First tick drains the whole budget of three
	require.NoError(t, proc.Tick(ctx))

	tasks, err := store.GetTasksForSeries(ctx, s.ID)
	require.NoError(t, err)
	for _, task := range tasks {
		assert.Equal(t, series.TaskCompleted, task.Status)
		require.NotNil(t, task.ZipURL)
	}
	assert.Len(t, pipeline.uploaded, 3)
	assert.Len(t, pipeline.registered, 3)
	assert.Equal(t, 1, pipeline.flushes)

	// 2. Second tick finds nothing runnable and settles the series
	require.NoError(t, proc.Tick(ctx))

	got, err := store.GetSeries(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, series.StatusIdle, got.Status)
	assert.NotNil(t, got.LastSyncedAt)
	assert.Equal(t, 3, got.BackendChapterCount)
	require.NotNil(t, got.BackendLastChapter)
	assert.Equal(t, float64(3), *got.BackendLastChapter)
	assert.Equal(t, 3, got.SyncProgressCompleted)
	assert.Zero(t, got.SyncProgressFailed)

	// 3. Cache purge saw series and chapter tags
	assert.Contains(t, pipeline.purgedTags, "series:manga-1")
	assert.Contains(t, pipeline.purgedTags, "chapter:manga-1:2")
}

/*
TestTick_UploadFailureThenResume covers a Step C failure and the manual
retry: the staged archive survives, the retry resumes at the upload without
re-scraping.
*/
func TestTick_UploadFailureThenResume(t *testing.T) {
	store := series.NewMemoryStore()
	ctx := context.Background()
	s := seedSyncingSeries(t, store, "manga-1", 10)

	pipeline := &fakePipeline{uploadErr: fmt.Errorf("upload timeout")}
	proc := newProcessor(store, pipeline)

	// 1. Pipeline fails at Step C; the staged zip is retained
	require.NoError(t, proc.Tick(ctx))

	tasks, err := store.GetTasksForSeries(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, series.TaskFailed, tasks[0].Status)
	assert.Equal(t, "upload timeout", tasks[0].Error)
	require.NotNil(t, tasks[0].ZipURL)
	zipURL := *tasks[0].ZipURL

	// 2. The settle sweep moves the series to error
	require.NoError(t, proc.Tick(ctx))
	got, err := store.GetSeries(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, series.StatusError, got.Status)

	// 3. Manual retry revives the task; the next tick resumes at Step C
	// without touching the scraper again
	pipeline.uploadErr = nil
	revived, err := store.RetryFailed(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, revived)

	require.NoError(t, proc.Tick(ctx))

	tasks, err = store.GetTasksForSeries(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, series.TaskCompleted, tasks[0].Status)
	assert.Len(t, pipeline.scraped, 1)
	assert.Len(t, pipeline.staged, 1)
	require.Len(t, pipeline.uploaded, 1)
	assert.Equal(t, zipURL, pipeline.uploaded[0].ZipURL)
}

/*
TestTick_NoImagesFailsTask covers the Step A guard: an empty image list
fails the task with the canonical message.
*/
func TestTick_NoImagesFailsTask(t *testing.T) {
	store := series.NewMemoryStore()
	ctx := context.Background()
	s := seedSyncingSeries(t, store, "manga-1", 7)

	pipeline := &fakePipeline{imagesErr: fmt.Errorf("No images found for chapter")}
	proc := newProcessor(store, pipeline)

	require.NoError(t, proc.Tick(ctx))

	tasks, err := store.GetTasksForSeries(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, series.TaskFailed, tasks[0].Status)
	assert.Equal(t, "No images found for chapter", tasks[0].Error)
	assert.Nil(t, tasks[0].ZipURL)
	assert.Equal(t, 1, tasks[0].RetryCount)
	assert.Empty(t, pipeline.uploaded)
}

/*
TestTick_BudgetBoundsBatch covers the per-series budget: one tick drains at
most DEFAULT_CHAPTERS_PER_SERIES chapters; the rest wait for the next turn.
*/
func TestTick_BudgetBoundsBatch(t *testing.T) {
	store := series.NewMemoryStore()
	ctx := context.Background()
	s := seedSyncingSeries(t, store, "manga-1", 1, 2, 3, 4, 5)

	pipeline := &fakePipeline{}
	proc := newProcessor(store, pipeline)

	require.NoError(t, proc.Tick(ctx))
	assert.Len(t, pipeline.uploaded, 3)

	require.NoError(t, proc.Tick(ctx))
	assert.Len(t, pipeline.uploaded, 5)

	got, err := store.GetSeries(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, series.StatusSyncing, got.Status)

	// The settle sweep on the following tick flips it to idle
	require.NoError(t, proc.Tick(ctx))
	got, err = store.GetSeries(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, series.StatusIdle, got.Status)
}

/*
TestTick_PartialFailureContinuesBatch verifies that one failing chapter does
not stop the remaining chapters of the same batch.
*/
func TestTick_PartialFailureContinuesBatch(t *testing.T) {
	store := series.NewMemoryStore()
	ctx := context.Background()
	s := seedSyncingSeries(t, store, "manga-1", 1, 2)

	pipeline := &fakePipeline{catalogErr: fmt.Errorf("catalog create failed")}
	proc := newProcessor(store, pipeline)

	// 1. Both tasks run; both fail at Step D
	require.NoError(t, proc.Tick(ctx))
	assert.Len(t, pipeline.uploaded, 2)

	// 2. Sweep: series errors with the canonical message
	require.NoError(t, proc.Tick(ctx))
	got, err := store.GetSeries(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, series.StatusError, got.Status)
	assert.Equal(t, "Some chapters failed to sync", got.LastError)
	assert.Equal(t, 2, got.SyncProgressFailed)
}
