// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package series

import "time"

// # Task Lifecycle

// TaskStatus is the pipeline state of one sync task.
type TaskStatus string

const (
	// TaskPending means the task is queued and untouched.
	TaskPending TaskStatus = "pending"

	// TaskScraping means Step A (image enumeration) is in flight.
	TaskScraping TaskStatus = "scraping"

	// TaskScraped means the chapter is staged and a zip URL is recorded.
	TaskScraped TaskStatus = "scraped"

	// TaskUploading means Step C (durable storage upload) is in flight.
	TaskUploading TaskStatus = "uploading"

	// TaskCompleted means the chapter is registered in the catalog.
	TaskCompleted TaskStatus = "completed"

	// TaskFailed means a pipeline step failed; retriable.
	TaskFailed TaskStatus = "failed"

	// TaskSkipped means the chapter was found already present downstream.
	TaskSkipped TaskStatus = "skipped"
)

// IsActive reports whether the status is non-terminal (still owned by the
// processor or awaiting it).
func (s TaskStatus) IsActive() bool {
	switch s {
	case TaskPending, TaskScraping, TaskScraped, TaskUploading:
		return true
	}
	return false
}

// IsTerminal reports whether the status is a final pipeline outcome.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskSkipped:
		return true
	}
	return false
}

// # Task Entity

// SyncTask is the durable intent to move one chapter from a source into the
// catalog. Unique per (series, chapter number).
type SyncTask struct {
	ID       string  `json:"id"`
	SeriesID string  `json:"series_id"`
	SourceID *string `json:"source_id"`

	ChapterURL    string  `json:"chapter_url"`
	ChapterNumber float64 `json:"chapter_number"`

	// Weight is the FIFO ordering key within a series (listing index).
	Weight int `json:"weight"`

	Status TaskStatus `json:"status"`

	// ZipURL is set after staging succeeds; its presence lets a retry skip
	// straight to the storage upload.
	ZipURL *string `json:"zip_url"`

	Error      string `json:"error,omitempty"`
	RetryCount int    `json:"retry_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TaskSpec is the scanner's input for creating one sync task.
type TaskSpec struct {
	ChapterURL    string
	ChapterNumber float64
	Weight        int
	SourceID      *string
}

// TaskUpdate carries the optional fields of a task status transition.
// A nil ZipURL preserves the stored value so mid-pipeline resumes keep the
// staged archive.
type TaskUpdate struct {
	ZipURL *string
	Error  *string
}
