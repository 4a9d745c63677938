// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package series

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/taibuivan/yomira-sync/internal/platform/apperr"
	"github.com/taibuivan/yomira-sync/internal/platform/constants"
	"github.com/taibuivan/yomira-sync/pkg/urlx"
	"github.com/taibuivan/yomira-sync/pkg/uuid"
)

// # In-Memory Repository

// memoryStore is a mutex-guarded [Store] used by tests. It mirrors the
// PostgreSQL semantics exactly, including the conditional status transitions
// and the upsert behavior of CreateTasks.
type memoryStore struct {
	mu      sync.Mutex
	series  map[string]*Series
	sources map[string]*Source
	tasks   map[string]*SyncTask
}

// NewMemoryStore constructs an empty in-memory registry store.
func NewMemoryStore() Store {
	return &memoryStore{
		series:  make(map[string]*Series),
		sources: make(map[string]*Source),
		tasks:   make(map[string]*SyncTask),
	}
}

func cloneSeries(s *Series) *Series {
	clone := *s
	clone.Sources = nil
	return &clone
}

func cloneSource(src *Source) *Source {
	clone := *src
	return &clone
}

func cloneTask(t *SyncTask) *SyncTask {
	clone := *t
	return &clone
}

// attach hydrates a cloned series with clones of its sources, primary first.
func (store *memoryStore) attach(clone *Series) *Series {
	for _, src := range store.sources {
		if src.SeriesID == clone.ID {
			clone.Sources = append(clone.Sources, cloneSource(src))
		}
	}
	sort.Slice(clone.Sources, func(i, j int) bool {
		return clone.Sources[i].Priority < clone.Sources[j].Priority
	})
	return clone
}

// seriesTasks returns the live (un-cloned) tasks of a series, weight order.
func (store *memoryStore) seriesTasks(seriesID string) []*SyncTask {
	var list []*SyncTask
	for _, t := range store.tasks {
		if t.SeriesID == seriesID {
			list = append(list, t)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Weight < list[j].Weight })
	return list
}

func (store *memoryStore) hasTaskIn(seriesID string, match func(TaskStatus) bool) bool {
	for _, t := range store.tasks {
		if t.SeriesID == seriesID && match(t.Status) {
			return true
		}
	}
	return false
}

// # Series CRUD

func (store *memoryStore) CreateSeries(_ context.Context, s *Series) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	for _, existing := range store.series {
		if existing.ExternalID == s.ExternalID {
			return apperr.Conflict("Series is already registered for this catalog id")
		}
	}

	now := time.Now()
	stored := cloneSeries(s)
	stored.CreatedAt = now
	stored.UpdatedAt = now
	store.series[stored.ID] = stored

	for _, src := range s.Sources {
		storedSrc := cloneSource(src)
		storedSrc.SeriesID = stored.ID
		storedSrc.CreatedAt = now
		storedSrc.UpdatedAt = now
		store.sources[storedSrc.ID] = storedSrc
	}

	return nil
}

func (store *memoryStore) GetSeries(_ context.Context, id string) (*Series, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	s, ok := store.series[id]
	if !ok {
		return nil, apperr.NotFound("Series")
	}
	return store.attach(cloneSeries(s)), nil
}

func (store *memoryStore) GetSeriesByExternalID(_ context.Context, externalID string) (*Series, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	for _, s := range store.series {
		if s.ExternalID == externalID {
			return store.attach(cloneSeries(s)), nil
		}
	}
	return nil, apperr.NotFound("Series")
}

func (store *memoryStore) ListSeries(_ context.Context, filter Filter) ([]*Series, int, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	var matches []*Series
	for _, s := range store.series {
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		if filter.Title != "" && !strings.Contains(strings.ToLower(s.Title), strings.ToLower(filter.Title)) {
			continue
		}
		matches = append(matches, s)
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Priority != matches[j].Priority {
			return matches[i].Priority > matches[j].Priority
		}
		return matches[i].CreatedAt.Before(matches[j].CreatedAt)
	})

	total := len(matches)
	offset := filter.Offset()
	if offset > total {
		offset = total
	}
	end := total
	if filter.PageSize > 0 && offset+filter.PageSize < end {
		end = offset + filter.PageSize
	}

	page := make([]*Series, 0, end-offset)
	for _, s := range matches[offset:end] {
		page = append(page, store.attach(cloneSeries(s)))
	}

	return page, total, nil
}

func (store *memoryStore) UpdateSeries(ctx context.Context, id string, patch Patch) (*Series, error) {
	store.mu.Lock()

	s, ok := store.series[id]
	if !ok {
		store.mu.Unlock()
		return nil, apperr.NotFound("Series")
	}

	if patch.Title != nil {
		s.Title = *patch.Title
	}
	if patch.CheckIntervalMinutes != nil {
		s.CheckIntervalMinutes = *patch.CheckIntervalMinutes
	}
	if patch.Priority != nil {
		s.Priority = *patch.Priority
	}
	if patch.AutoSyncEnabled != nil {
		s.AutoSyncEnabled = *patch.AutoSyncEnabled
	}
	s.UpdatedAt = time.Now()

	store.mu.Unlock()
	return store.GetSeries(ctx, id)
}

func (store *memoryStore) DeleteSeries(_ context.Context, id string) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	if _, ok := store.series[id]; !ok {
		return apperr.NotFound("Series")
	}
	delete(store.series, id)

	for srcID, src := range store.sources {
		if src.SeriesID == id {
			delete(store.sources, srcID)
		}
	}
	for taskID, t := range store.tasks {
		if t.SeriesID == id {
			delete(store.tasks, taskID)
		}
	}

	return nil
}

// # Sources

func (store *memoryStore) ReplaceSources(_ context.Context, seriesID string, sources []NormalizedSource) ([]*Source, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	s, ok := store.series[seriesID]
	if !ok {
		return nil, apperr.NotFound("Series")
	}

	for srcID, src := range store.sources {
		if src.SeriesID == seriesID {
			delete(store.sources, srcID)
		}
	}

	now := time.Now()
	inserted := make([]*Source, 0, len(sources))
	for _, n := range sources {
		src := &Source{
			ID:           uuid.New(),
			SeriesID:     seriesID,
			SourceURL:    n.SourceURL,
			SourceDomain: n.SourceDomain,
			MangaSlug:    n.MangaSlug,
			Priority:     n.Priority,
			IsEnabled:    true,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		store.sources[src.ID] = src
		inserted = append(inserted, cloneSource(src))
	}

	primary := sources[0]
	s.MangaURL = primary.SourceURL
	s.SourceDomain = primary.SourceDomain
	s.MangaSlug = primary.MangaSlug
	s.UpdatedAt = now

	return inserted, nil
}

func (store *memoryStore) GetEnabledSources(_ context.Context, seriesID string) ([]*Source, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	var list []*Source
	for _, src := range store.sources {
		if src.SeriesID == seriesID && src.IsEnabled {
			list = append(list, cloneSource(src))
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Priority < list[j].Priority })

	return list, nil
}

func (store *memoryStore) UpdateSourceScan(_ context.Context, sourceID string, record SourceScanRecord) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	src, ok := store.sources[sourceID]
	if !ok {
		return apperr.NotFound("Source")
	}

	now := time.Now()
	src.LastChapterCount = record.ChapterCount
	src.LastChapterNumber = record.LastChapter
	src.LastScanStatus = record.Status
	src.LastScanError = record.Error
	src.LastScanAt = &now
	src.UpdatedAt = now

	return nil
}

// # Series State Transitions

func (store *memoryStore) SetStatus(_ context.Context, id string, status Status, errorMessage string) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	s, ok := store.series[id]
	if !ok {
		return apperr.NotFound("Series")
	}

	now := time.Now()
	s.Status = status
	if errorMessage != "" {
		s.LastError = errorMessage
		s.LastErrorAt = &now
		s.ConsecutiveFailures++
	}
	s.UpdatedAt = now

	return nil
}

func (store *memoryStore) RecordScanResult(_ context.Context, id string, result ScanResult) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	s, ok := store.series[id]
	if !ok {
		return apperr.NotFound("Series")
	}

	now := time.Now()
	next := result.NextScanAt
	s.SourceChapterCount = result.SourceChapterCount
	s.SourceLastChapter = result.SourceLastChapter
	s.NextScanAt = &next
	s.LastScannedAt = &now
	s.ConsecutiveFailures = 0
	s.LastError = ""
	if s.Status == StatusScanning {
		s.Status = StatusIdle
	}
	s.UpdatedAt = now

	return nil
}

func (store *memoryStore) UpdateBackendChapterStats(_ context.Context, id string, count int, last *float64) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	s, ok := store.series[id]
	if !ok {
		return apperr.NotFound("Series")
	}

	s.BackendChapterCount = count
	s.BackendLastChapter = last
	s.UpdatedAt = time.Now()

	return nil
}

func (store *memoryStore) IncrementBackendChapterStats(_ context.Context, id string, chapterNumber float64) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	s, ok := store.series[id]
	if !ok {
		return apperr.NotFound("Series")
	}

	s.BackendChapterCount++
	if s.BackendLastChapter == nil || chapterNumber > *s.BackendLastChapter {
		s.BackendLastChapter = &chapterNumber
	}
	s.UpdatedAt = time.Now()

	return nil
}

func (store *memoryStore) IncrementSyncProgressTotal(_ context.Context, id string, delta int) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	s, ok := store.series[id]
	if !ok {
		return apperr.NotFound("Series")
	}

	s.SyncProgressTotal += delta
	s.UpdatedAt = time.Now()

	return nil
}

func (store *memoryStore) RefreshSyncProgress(_ context.Context, id string) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	s, ok := store.series[id]
	if !ok {
		return apperr.NotFound("Series")
	}

	completed, failed := 0, 0
	for _, t := range store.tasks {
		if t.SeriesID != id {
			continue
		}
		switch t.Status {
		case TaskCompleted, TaskSkipped:
			completed++
		case TaskFailed:
			failed++
		}
	}

	s.SyncProgressCompleted = completed
	s.SyncProgressFailed = failed
	s.UpdatedAt = time.Now()

	return nil
}

func (store *memoryStore) SetLastSyncedAt(_ context.Context, id string) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	s, ok := store.series[id]
	if !ok {
		return apperr.NotFound("Series")
	}

	now := time.Now()
	s.LastSyncedAt = &now
	s.UpdatedAt = now

	return nil
}

func (store *memoryStore) TriggerForceScan(_ context.Context, id string) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	s, ok := store.series[id]
	if !ok {
		return apperr.NotFound("Series")
	}

	now := time.Now()
	s.NextScanAt = &now
	if s.Status != StatusSyncing {
		s.Status = StatusIdle
	}
	s.UpdatedAt = now

	return nil
}

// # Tasks

func (store *memoryStore) CreateTasks(_ context.Context, seriesID string, specs []TaskSpec) (int, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	if _, ok := store.series[seriesID]; !ok {
		return 0, apperr.NotFound("Series")
	}

	now := time.Now()
	created := 0

	for _, spec := range specs {
		var existing *SyncTask
		for _, t := range store.tasks {
			if t.SeriesID == seriesID && t.ChapterNumber == spec.ChapterNumber {
				existing = t
				break
			}
		}

		if existing != nil {
			existing.UpdatedAt = now
			continue
		}

		task := &SyncTask{
			ID:            uuid.New(),
			SeriesID:      seriesID,
			SourceID:      spec.SourceID,
			ChapterURL:    spec.ChapterURL,
			ChapterNumber: spec.ChapterNumber,
			Weight:        spec.Weight,
			Status:        TaskPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		store.tasks[task.ID] = task
		created++
	}

	return created, nil
}

func (store *memoryStore) GetPendingTasks(_ context.Context, seriesID string, limit int) ([]*SyncTask, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	var list []*SyncTask
	for _, t := range store.seriesTasks(seriesID) {
		if t.Status != TaskPending && t.Status != TaskScraped {
			continue
		}
		list = append(list, cloneTask(t))
		if limit > 0 && len(list) == limit {
			break
		}
	}

	return list, nil
}

func (store *memoryStore) GetTasksForSeries(_ context.Context, seriesID string) ([]*SyncTask, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	var list []*SyncTask
	for _, t := range store.seriesTasks(seriesID) {
		list = append(list, cloneTask(t))
	}

	return list, nil
}

func (store *memoryStore) GetFailedTasks(_ context.Context, seriesID string) ([]*SyncTask, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	var list []*SyncTask
	for _, t := range store.seriesTasks(seriesID) {
		if t.Status == TaskFailed {
			list = append(list, cloneTask(t))
		}
	}

	return list, nil
}

func (store *memoryStore) SetTaskStatus(_ context.Context, taskID string, status TaskStatus, update TaskUpdate) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	t, ok := store.tasks[taskID]
	if !ok {
		return apperr.NotFound("Sync task")
	}

	t.Status = status
	if update.ZipURL != nil {
		t.ZipURL = update.ZipURL
	}
	if update.Error != nil {
		t.Error = *update.Error
	}
	if status == TaskFailed {
		t.RetryCount++
	}
	t.UpdatedAt = time.Now()

	return nil
}

func (store *memoryStore) RetryFailed(_ context.Context, seriesID string) (int, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	s, ok := store.series[seriesID]
	if !ok {
		return 0, apperr.NotFound("Series")
	}

	now := time.Now()
	revived := 0
	for _, t := range store.tasks {
		if t.SeriesID == seriesID && t.Status == TaskFailed {
			t.Status = TaskPending
			t.Error = ""
			t.UpdatedAt = now
			revived++
		}
	}

	if revived > 0 {
		s.Status = StatusSyncing
		s.LastError = ""
		s.UpdatedAt = now
	}

	return revived, nil
}

// # Scheduler Queries

func (store *memoryStore) GetDueSeries(_ context.Context) ([]*Series, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	now := time.Now()
	var due []*Series
	for _, s := range store.series {
		if s.AutoSyncEnabled && s.Status == StatusIdle && s.NextScanAt != nil && !s.NextScanAt.After(now) {
			due = append(due, cloneSeries(s))
		}
	}

	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority > due[j].Priority
		}
		return due[i].NextScanAt.Before(*due[j].NextScanAt)
	})

	return due, nil
}

func (store *memoryStore) GetSeriesWithActiveTasks(_ context.Context) ([]*Series, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	var list []*Series
	for _, s := range store.series {
		if s.Status == StatusSyncing && store.hasTaskIn(s.ID, TaskStatus.IsActive) {
			list = append(list, cloneSeries(s))
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Priority > list[j].Priority })

	return list, nil
}

func (store *memoryStore) ResolveCompletedSyncingSeries(_ context.Context) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	now := time.Now()
	for _, s := range store.series {
		if s.Status != StatusSyncing || store.hasTaskIn(s.ID, TaskStatus.IsActive) {
			continue
		}

		if store.hasTaskIn(s.ID, func(st TaskStatus) bool { return st == TaskFailed }) {
			s.Status = StatusError
			s.LastError = "Some chapters failed to sync"
			s.LastErrorAt = &now
			s.ConsecutiveFailures++
		} else {
			s.Status = StatusIdle
			s.LastSyncedAt = &now
		}
		s.UpdatedAt = now
	}

	return nil
}

func (store *memoryStore) RecoverStaleTasks(_ context.Context) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	now := time.Now()
	for _, t := range store.tasks {
		if t.Status == TaskScraping || t.Status == TaskUploading {
			if t.ZipURL != nil {
				t.Status = TaskScraped
			} else {
				t.Status = TaskPending
			}
			t.UpdatedAt = now
		}
	}

	for _, s := range store.series {
		if s.Status != StatusScanning && s.Status != StatusSyncing {
			continue
		}

		switch {
		case store.hasTaskIn(s.ID, TaskStatus.IsActive):
			s.Status = StatusSyncing
		case store.hasTaskIn(s.ID, func(st TaskStatus) bool { return st == TaskFailed }):
			s.Status = StatusError
			s.LastError = "Interrupted sync left failed chapters"
			s.LastErrorAt = &now
		default:
			s.Status = StatusIdle
			if s.LastSyncedAt == nil {
				t := now
				s.LastSyncedAt = &t
			}
		}
		s.UpdatedAt = now
	}

	return nil
}

// # Maintenance

func (store *memoryStore) MigrateDomain(_ context.Context, oldDomain, newDomain string, seriesIDs []string, dryRun bool) (*DomainMigrationResult, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	scope := make(map[string]bool, len(seriesIDs))
	for _, id := range seriesIDs {
		scope[id] = true
	}

	oldLower := strings.ToLower(oldDomain)
	var affected []*Source
	var sample []URLChange

	ordered := make([]*Source, 0, len(store.sources))
	for _, src := range store.sources {
		ordered = append(ordered, src)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	for _, src := range ordered {
		if src.SourceDomain != oldLower {
			continue
		}
		if len(scope) > 0 && !scope[src.SeriesID] {
			continue
		}

		newURL, ok := urlx.ReplaceHost(src.SourceURL, oldDomain, newDomain)
		if !ok {
			continue
		}

		affected = append(affected, src)
		if len(sample) < constants.DomainMigrationSampleSize {
			sample = append(sample, URLChange{SourceID: src.ID, OldURL: src.SourceURL, NewURL: newURL})
		}
	}

	if dryRun {
		return &DomainMigrationResult{DryRun: true, AffectedCount: len(affected), Sample: sample}, nil
	}

	now := time.Now()
	newLower := strings.ToLower(newDomain)
	touched := make(map[string]bool)

	for _, src := range affected {
		newURL, ok := urlx.ReplaceHost(src.SourceURL, oldDomain, newDomain)
		if !ok {
			continue
		}
		src.SourceURL = newURL
		src.SourceDomain = newLower
		src.UpdatedAt = now
		touched[src.SeriesID] = true
	}

	for seriesID := range touched {
		s, ok := store.series[seriesID]
		if !ok {
			continue
		}
		for _, src := range store.sources {
			if src.SeriesID == seriesID && src.Priority == 1 {
				s.MangaURL = src.SourceURL
				s.SourceDomain = src.SourceDomain
				s.MangaSlug = src.MangaSlug
				s.UpdatedAt = now
				break
			}
		}
	}

	return &DomainMigrationResult{
		DryRun:        false,
		AffectedCount: len(affected),
		UpdatedCount:  len(affected),
		Sample:        sample,
	}, nil
}
