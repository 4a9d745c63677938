package schema

// SyncTaskTable represents the 'sync.task' table
type SyncTaskTable struct {
	Table         string
	ID            string
	SeriesID      string
	SourceID      string
	ChapterURL    string
	ChapterNumber string
	Weight        string
	Status        string
	ZipURL        string
	Error         string
	RetryCount    string
	CreatedAt     string
	UpdatedAt     string
}

var SyncTask = SyncTaskTable{
	Table:         "sync.task",
	ID:            "id",
	SeriesID:      "seriesid",
	SourceID:      "sourceid",
	ChapterURL:    "chapterurl",
	ChapterNumber: "chapternumber",
	Weight:        "weight",
	Status:        "status",
	ZipURL:        "zipurl",
	Error:         "error",
	RetryCount:    "retrycount",
	CreatedAt:     "createdat",
	UpdatedAt:     "updatedat",
}
