package schema

// SyncSeriesTable represents the 'sync.series' table
type SyncSeriesTable struct {
	Table                 string
	ID                    string
	ExternalID            string
	Title                 string
	MangaURL              string
	SourceDomain          string
	MangaSlug             string
	AutoSyncEnabled       string
	CheckIntervalMinutes  string
	Priority              string
	SourceChapterCount    string
	SourceLastChapter     string
	BackendChapterCount   string
	BackendLastChapter    string
	Status                string
	SyncProgressTotal     string
	SyncProgressCompleted string
	SyncProgressFailed    string
	LastScannedAt         string
	LastSyncedAt          string
	NextScanAt            string
	LastError             string
	LastErrorAt           string
	ConsecutiveFailures   string
	CreatedAt             string
	UpdatedAt             string
}

var SyncSeries = SyncSeriesTable{
	Table:                 "sync.series",
	ID:                    "id",
	ExternalID:            "externalid",
	Title:                 "title",
	MangaURL:              "mangaurl",
	SourceDomain:          "sourcedomain",
	MangaSlug:             "mangaslug",
	AutoSyncEnabled:       "autosyncenabled",
	CheckIntervalMinutes:  "checkintervalminutes",
	Priority:              "priority",
	SourceChapterCount:    "sourcechaptercount",
	SourceLastChapter:     "sourcelastchapter",
	BackendChapterCount:   "backendchaptercount",
	BackendLastChapter:    "backendlastchapter",
	Status:                "status",
	SyncProgressTotal:     "syncprogresstotal",
	SyncProgressCompleted: "syncprogresscompleted",
	SyncProgressFailed:    "syncprogressfailed",
	LastScannedAt:         "lastscannedat",
	LastSyncedAt:          "lastsyncedat",
	NextScanAt:            "nextscanat",
	LastError:             "lasterror",
	LastErrorAt:           "lasterrorat",
	ConsecutiveFailures:   "consecutivefailures",
	CreatedAt:             "createdat",
	UpdatedAt:             "updatedat",
}
