// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package series_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/yomira-sync/internal/platform/apperr"
	"github.com/taibuivan/yomira-sync/internal/series"
	"github.com/taibuivan/yomira-sync/pkg/pointer"
	"github.com/taibuivan/yomira-sync/pkg/uuid"
)

// newTestSeries registers a series with one enabled source and returns it.
func newTestSeries(t *testing.T, store series.Store, externalID string) *series.Series {
	t.Helper()

	normalized, err := series.NormalizeSourceURLs([]string{"https://mangasite.example/manga/solo-leveling"})
	require.NoError(t, err)

	now := time.Now()
	s := &series.Series{
		ID:                   uuid.New(),
		ExternalID:           externalID,
		Title:                "Solo Leveling",
		MangaURL:             normalized[0].SourceURL,
		SourceDomain:         normalized[0].SourceDomain,
		MangaSlug:            normalized[0].MangaSlug,
		AutoSyncEnabled:      true,
		CheckIntervalMinutes: 360,
		Priority:             1,
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

/*
TestStore_CreateSeries_DuplicateExternalID verifies that registering the same
catalog id twice is rejected with a conflict.
*/
func TestStore_CreateSeries_DuplicateExternalID(t *testing.T) {
	store := series.NewMemoryStore()

	// 1. First registration succeeds
	newTestSeries(t, store, "manga-123")

	// 2. Second registration under the same external id conflicts
	dup := &series.Series{ID: uuid.New(), ExternalID: "manga-123", Title: "Duplicate", Status: series.StatusIdle}
	err := store.CreateSeries(context.Background(), dup)
	require.Error(t, err)

	ae := apperr.As(err)
	require.NotNil(t, ae)
	assert.Equal(t, "CONFLICT", ae.Code)
}

/*
TestStore_CreateTasks_UpsertPreservesExisting verifies that re-discovering a
chapter bumps the existing task instead of resetting its state, and that only
genuinely new rows count toward the returned total.
*/
func TestStore_CreateTasks_UpsertPreservesExisting(t *testing.T) {
	store := series.NewMemoryStore()
	ctx := context.Background()
	s := newTestSeries(t, store, "manga-1")

	// 1. First discovery creates two tasks
	created, err := store.CreateTasks(ctx, s.ID, []series.TaskSpec{
		{ChapterURL: "https://mangasite.example/chapter/1", ChapterNumber: 1, Weight: 0},
		{ChapterURL: "https://mangasite.example/chapter/2", ChapterNumber: 2, Weight: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	// 2. Fail chapter 1 so it carries state worth preserving
	tasks, err := store.GetTasksForSeries(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	require.NoError(t, store.SetTaskStatus(ctx, tasks[0].ID, series.TaskFailed, series.TaskUpdate{
		Error: pointer.To("scrape timeout"),
	}))

	// 3. Re-discovery of chapters 1-3 only creates chapter 3
	created, err = store.CreateTasks(ctx, s.ID, []series.TaskSpec{
		{ChapterURL: "https://mangasite.example/chapter/1", ChapterNumber: 1, Weight: 0},
		{ChapterURL: "https://mangasite.example/chapter/2", ChapterNumber: 2, Weight: 1},
		{ChapterURL: "https://mangasite.example/chapter/3", ChapterNumber: 3, Weight: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	// 4. Chapter 1 kept its failed status and retry history
	tasks, err = store.GetTasksForSeries(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assert.Equal(t, series.TaskFailed, tasks[0].Status)
	assert.Equal(t, 1, tasks[0].RetryCount)
}

/*
TestStore_SetTaskStatus_PreservesZipURL verifies that a nil zip URL keeps the
staged archive through later transitions, so an interrupted upload can resume
without re-scraping.
*/
func TestStore_SetTaskStatus_PreservesZipURL(t *testing.T) {
	store := series.NewMemoryStore()
	ctx := context.Background()
	s := newTestSeries(t, store, "manga-1")

	_, err := store.CreateTasks(ctx, s.ID, []series.TaskSpec{
		{ChapterURL: "https://mangasite.example/chapter/1", ChapterNumber: 1, Weight: 0},
	})
	require.NoError(t, err)

	tasks, err := store.GetTasksForSeries(ctx, s.ID)
	require.NoError(t, err)
	task := tasks[0]

	// 1. Staging records the zip URL
	require.NoError(t, store.SetTaskStatus(ctx, task.ID, series.TaskScraped, series.TaskUpdate{
		ZipURL: pointer.To("https://stage.example/chapters/1.zip"),
	}))

	// 2. A later transition without a zip URL preserves it
	require.NoError(t, store.SetTaskStatus(ctx, task.ID, series.TaskUploading, series.TaskUpdate{}))

	tasks, err = store.GetTasksForSeries(ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, tasks[0].ZipURL)
	assert.Equal(t, "https://stage.example/chapters/1.zip", *tasks[0].ZipURL)

	// 3. Failing increments the retry count
	require.NoError(t, store.SetTaskStatus(ctx, task.ID, series.TaskFailed, series.TaskUpdate{
		Error: pointer.To("upload refused"),
	}))

	tasks, err = store.GetTasksForSeries(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, tasks[0].RetryCount)
	assert.Equal(t, "upload refused", tasks[0].Error)
}

/*
TestStore_RetryFailed verifies that failed tasks flip back to pending, keep
their retry counts, and put the series back into syncing.
*/
func TestStore_RetryFailed(t *testing.T) {
	store := series.NewMemoryStore()
	ctx := context.Background()
	s := newTestSeries(t, store, "manga-1")

	_, err := store.CreateTasks(ctx, s.ID, []series.TaskSpec{
		{ChapterURL: "https://mangasite.example/chapter/1", ChapterNumber: 1, Weight: 0},
		{ChapterURL: "https://mangasite.example/chapter/2", ChapterNumber: 2, Weight: 1},
	})
	require.NoError(t, err)

	tasks, err := store.GetTasksForSeries(ctx, s.ID)
	require.NoError(t, err)
	require.NoError(t, store.SetTaskStatus(ctx, tasks[0].ID, series.TaskFailed, series.TaskUpdate{Error: pointer.To("boom")}))
	require.NoError(t, store.SetTaskStatus(ctx, tasks[1].ID, series.TaskCompleted, series.TaskUpdate{}))
	require.NoError(t, store.SetStatus(ctx, s.ID, series.StatusError, "Some chapters failed to sync"))

	// 1. Retry revives only the failed task
	revived, err := store.RetryFailed(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, revived)

	// 2. The revived task is pending with its history intact
	tasks, err = store.GetTasksForSeries(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, series.TaskPending, tasks[0].Status)
	assert.Empty(t, tasks[0].Error)
	assert.Equal(t, 1, tasks[0].RetryCount)
	assert.Equal(t, series.TaskCompleted, tasks[1].Status)

	// 3. The series re-entered syncing
	got, err := store.GetSeries(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, series.StatusSyncing, got.Status)

	// 4. A second retry with nothing failed touches nothing
	revived, err = store.RetryFailed(ctx, s.ID)
	require.NoError(t, err)
	assert.Zero(t, revived)
}

/*
TestStore_ResolveCompletedSyncingSeries verifies the drain sweep: syncing
series whose tasks all reached terminal states go idle on a clean drain and
error when any task failed, while series with active tasks are untouched.
*/
func TestStore_ResolveCompletedSyncingSeries(t *testing.T) {
	store := series.NewMemoryStore()
	ctx := context.Background()

	clean := newTestSeries(t, store, "manga-clean")
	dirty := newTestSeries(t, store, "manga-dirty")
	busy := newTestSeries(t, store, "manga-busy")

	for _, s := range []*series.Series{clean, dirty, busy} {
		_, err := store.CreateTasks(ctx, s.ID, []series.TaskSpec{
			{ChapterURL: "https://mangasite.example/chapter/1", ChapterNumber: 1, Weight: 0},
		})
		require.NoError(t, err)
		require.NoError(t, store.SetStatus(ctx, s.ID, series.StatusSyncing, ""))
	}

	finish := func(s *series.Series, status series.TaskStatus) {
		tasks, err := store.GetTasksForSeries(ctx, s.ID)
		require.NoError(t, err)
		require.NoError(t, store.SetTaskStatus(ctx, tasks[0].ID, status, series.TaskUpdate{}))
	}
	finish(clean, series.TaskCompleted)
	finish(dirty, series.TaskFailed)

	require.NoError(t, store.ResolveCompletedSyncingSeries(ctx))

	gotClean, err := store.GetSeries(ctx, clean.ID)
	require.NoError(t, err)
	assert.Equal(t, series.StatusIdle, gotClean.Status)
	assert.NotNil(t, gotClean.LastSyncedAt)

	gotDirty, err := store.GetSeries(ctx, dirty.ID)
	require.NoError(t, err)
	assert.Equal(t, series.StatusError, gotDirty.Status)
	assert.NotEmpty(t, gotDirty.LastError)

	gotBusy, err := store.GetSeries(ctx, busy.ID)
	require.NoError(t, err)
	assert.Equal(t, series.StatusSyncing, gotBusy.Status)
}

/*
TestStore_RecoverStaleTasks verifies boot recovery after an unclean shutdown:
in-flight tasks resume at their checkpoint and stuck series are recomputed
from their tasks.
*/
func TestStore_RecoverStaleTasks(t *testing.T) {
	store := series.NewMemoryStore()
	ctx := context.Background()
	s := newTestSeries(t, store, "manga-1")

	_, err := store.CreateTasks(ctx, s.ID, []series.TaskSpec{
		{ChapterURL: "https://mangasite.example/chapter/1", ChapterNumber: 1, Weight: 0},
		{ChapterURL: "https://mangasite.example/chapter/2", ChapterNumber: 2, Weight: 1},
	})
	require.NoError(t, err)

	tasks, err := store.GetTasksForSeries(ctx, s.ID)
	require.NoError(t, err)

	// 1. Simulate a crash mid-pipeline: one task scraping, one uploading with
	// a staged zip
	require.NoError(t, store.SetTaskStatus(ctx, tasks[0].ID, series.TaskScraping, series.TaskUpdate{}))
	require.NoError(t, store.SetTaskStatus(ctx, tasks[1].ID, series.TaskUploading, series.TaskUpdate{
		ZipURL: pointer.To("https://stage.example/chapters/2.zip"),
	}))
	require.NoError(t, store.SetStatus(ctx, s.ID, series.StatusSyncing, ""))

	// 2. Boot recovery
	require.NoError(t, store.RecoverStaleTasks(ctx))

	// 3. The scraping task restarts from pending, the uploading task resumes
	// at the storage step
	tasks, err = store.GetTasksForSeries(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, series.TaskPending, tasks[0].Status)
	assert.Equal(t, series.TaskScraped, tasks[1].Status)
	require.NotNil(t, tasks[1].ZipURL)

	// 4. The series stays syncing because active work remains
	got, err := store.GetSeries(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, series.StatusSyncing, got.Status)
}

/*
TestStore_RecoverStaleTasks_AdoptsLastSynced verifies the clean-slate branch
of boot recovery: a stuck series with no remaining work returns to idle and
gains a first last_synced_at, while a series that already carries one keeps
its original stamp.
*/
func TestStore_RecoverStaleTasks_AdoptsLastSynced(t *testing.T) {
	store := series.NewMemoryStore()
	ctx := context.Background()

	// 1. One series that never finished a drain, one with a prior stamp
	fresh := newTestSeries(t, store, "manga-fresh")
	require.NoError(t, store.SetStatus(ctx, fresh.ID, series.StatusSyncing, ""))

	stamped := newTestSeries(t, store, "manga-stamped")
	require.NoError(t, store.SetLastSyncedAt(ctx, stamped.ID))
	before, err := store.GetSeries(ctx, stamped.ID)
	require.NoError(t, err)
	require.NotNil(t, before.LastSyncedAt)
	require.NoError(t, store.SetStatus(ctx, stamped.ID, series.StatusScanning, ""))

	// 2. Boot recovery
	require.NoError(t, store.RecoverStaleTasks(ctx))

	// 3. The never-synced series goes idle and adopts the recovery time
	gotFresh, err := store.GetSeries(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, series.StatusIdle, gotFresh.Status)
	require.NotNil(t, gotFresh.LastSyncedAt)

	// 4. The prior stamp survives
	gotStamped, err := store.GetSeries(ctx, stamped.ID)
	require.NoError(t, err)
	assert.Equal(t, series.StatusIdle, gotStamped.Status)
	require.NotNil(t, gotStamped.LastSyncedAt)
	assert.Equal(t, *before.LastSyncedAt, *gotStamped.LastSyncedAt)
}

/*
TestStore_RecordScanResult_DoesNotClobberSyncing verifies that persisting a
scan outcome only drops scanning back to idle and leaves a concurrent syncing
transition alone.
*/
func TestStore_RecordScanResult_DoesNotClobberSyncing(t *testing.T) {
	store := series.NewMemoryStore()
	ctx := context.Background()
	s := newTestSeries(t, store, "manga-1")

	result := series.ScanResult{
		SourceChapterCount: 12,
		SourceLastChapter:  pointer.To(12.0),
		NextScanAt:         time.Now().Add(6 * time.Hour),
	}

	// 1. scanning → idle on a no-work scan
	require.NoError(t, store.SetStatus(ctx, s.ID, series.StatusScanning, ""))
	require.NoError(t, store.RecordScanResult(ctx, s.ID, result))

	got, err := store.GetSeries(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, series.StatusIdle, got.Status)
	assert.Equal(t, 12, got.SourceChapterCount)
	assert.NotNil(t, got.LastScannedAt)

	// 2. syncing survives the scan bookkeeping
	require.NoError(t, store.SetStatus(ctx, s.ID, series.StatusSyncing, ""))
	require.NoError(t, store.RecordScanResult(ctx, s.ID, result))

	got, err = store.GetSeries(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, series.StatusSyncing, got.Status)
}

/*
TestStore_TriggerForceScan verifies the force-scan semantics: the next scan
is due immediately, an errored series is cleared back to idle, and a syncing
series keeps draining.
*/
func TestStore_TriggerForceScan(t *testing.T) {
	store := series.NewMemoryStore()
	ctx := context.Background()
	s := newTestSeries(t, store, "manga-1")

	// 1. An errored series is reset and rescheduled
	require.NoError(t, store.SetStatus(ctx, s.ID, series.StatusError, "scan blew up"))
	require.NoError(t, store.TriggerForceScan(ctx, s.ID))

	got, err := store.GetSeries(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, series.StatusIdle, got.Status)
	require.NotNil(t, got.NextScanAt)
	assert.False(t, got.NextScanAt.After(time.Now()))

	// 2. A syncing series keeps its status
	require.NoError(t, store.SetStatus(ctx, s.ID, series.StatusSyncing, ""))
	require.NoError(t, store.TriggerForceScan(ctx, s.ID))

	got, err = store.GetSeries(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, series.StatusSyncing, got.Status)
}

/*
TestStore_GetDueSeries verifies the scheduler query: only auto-enabled idle
series with a due next_scan_at qualify, highest priority first.
*/
func TestStore_GetDueSeries(t *testing.T) {
	store := series.NewMemoryStore()
	ctx := context.Background()

	low := newTestSeries(t, store, "manga-low")
	high := newTestSeries(t, store, "manga-high")
	busy := newTestSeries(t, store, "manga-busy")
	future := newTestSeries(t, store, "manga-future")

	_, err := store.UpdateSeries(ctx, high.ID, series.Patch{Priority: pointer.To(10)})
	require.NoError(t, err)
	require.NoError(t, store.SetStatus(ctx, busy.ID, series.StatusSyncing, ""))
	require.NoError(t, store.RecordScanResult(ctx, future.ID, series.ScanResult{
		NextScanAt: time.Now().Add(time.Hour),
	}))

	due, err := store.GetDueSeries(ctx)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, high.ID, due[0].ID)
	assert.Equal(t, low.ID, due[1].ID)
}

/*
TestStore_MigrateDomain verifies hostname migration: the dry run previews
without mutating, the live run rewrites URLs byte-identically except for the
host and resyncs the series denormalization.
*/
func TestStore_MigrateDomain(t *testing.T) {
	store := series.NewMemoryStore()
	ctx := context.Background()
	s := newTestSeries(t, store, "manga-1")

	// 1. Dry run reports the change without applying it
	result, err := store.MigrateDomain(ctx, "mangasite.example", "mangasite.new", nil, true)
	require.NoError(t, err)
	assert.True(t, result.DryRun)
	assert.Equal(t, 1, result.AffectedCount)
	require.Len(t, result.Sample, 1)
	assert.Equal(t, "https://mangasite.new/manga/solo-leveling", result.Sample[0].NewURL)

	got, err := store.GetSeries(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "mangasite.example", got.SourceDomain)

	// 2. Live run rewrites the source and the denormalized primary fields
	result, err = store.MigrateDomain(ctx, "mangasite.example", "mangasite.new", nil, false)
	require.NoError(t, err)
	assert.False(t, result.DryRun)
	assert.Equal(t, 1, result.UpdatedCount)

	got, err = store.GetSeries(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "mangasite.new", got.SourceDomain)
	assert.Equal(t, "https://mangasite.new/manga/solo-leveling", got.MangaURL)
	require.Len(t, got.Sources, 1)
	assert.Equal(t, "mangasite.new", got.Sources[0].SourceDomain)
}

/*
TestNormalizeSourceURLs exercises the source URL validation rules.
*/
func TestNormalizeSourceURLs(t *testing.T) {
	tests := []struct {
		name    string
		urls    []string
		wantLen int
		wantErr bool
	}{
		{"single_valid", []string{"https://a.example/manga/x"}, 1, false},
		{"three_valid", []string{"https://a.example/x", "https://b.example/x", "https://c.example/x"}, 3, false},
		{"dedupe_case_insensitive", []string{"https://a.example/x", "HTTPS://A.EXAMPLE/X"}, 1, false},
		{"trims_and_skips_blank", []string{"  https://a.example/x  ", "   "}, 1, false},
		{"empty", nil, 0, true},
		{"too_many", []string{"https://a.example/1", "https://b.example/2", "https://c.example/3", "https://d.example/4"}, 0, true},
		{"relative_url", []string{"/manga/x"}, 0, true},
		{"bad_scheme", []string{"ftp://a.example/x"}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			normalized, err := series.NormalizeSourceURLs(tt.urls)

			if tt.wantErr {
				require.Error(t, err)
				ae := apperr.As(err)
				require.NotNil(t, ae)
				assert.Equal(t, "VALIDATION_ERROR", ae.Code)
				return
			}

			require.NoError(t, err)
			require.Len(t, normalized, tt.wantLen)
			for i, n := range normalized {
				assert.Equal(t, i+1, n.Priority)
			}
		})
	}
}
