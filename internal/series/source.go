// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package series

import (
	"net/url"
	"strings"
	"time"

	"github.com/taibuivan/yomira-sync/internal/platform/apperr"
	"github.com/taibuivan/yomira-sync/internal/platform/constants"
	"github.com/taibuivan/yomira-sync/pkg/slug"
	"github.com/taibuivan/yomira-sync/pkg/urlx"
)

// # Source Scan Outcomes

// ScanStatus is the recorded outcome of the most recent per-source scan.
type ScanStatus string

const (
	ScanStatusSuccess ScanStatus = "success"
	ScanStatusEmpty   ScanStatus = "empty"
	ScanStatusTimeout ScanStatus = "timeout"
	ScanStatusError   ScanStatus = "error"
)

// # Source Entity

// Source is one upstream website a series' chapters are discovered on.
// Priorities are 1-based; the priority-1 source is the primary.
type Source struct {
	ID       string `json:"id"`
	SeriesID string `json:"series_id"`

	SourceURL    string `json:"source_url"`
	SourceDomain string `json:"source_domain"`
	MangaSlug    string `json:"manga_slug"`

	Priority  int  `json:"priority"`
	IsEnabled bool `json:"is_enabled"`

	// Per-source scan record
	LastChapterCount  int        `json:"last_chapter_count"`
	LastChapterNumber *float64   `json:"last_chapter_number"`
	LastScanStatus    ScanStatus `json:"last_scan_status,omitempty"`
	LastScanError     string     `json:"last_scan_error,omitempty"`
	LastScanAt        *time.Time `json:"last_scan_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SourceScanRecord updates a source's scan bookkeeping after one listing fetch.
type SourceScanRecord struct {
	ChapterCount int
	LastChapter  *float64
	Status       ScanStatus
	Error        string
}

// # URL Normalization

// NormalizedSource is the outcome of validating one registered source URL.
type NormalizedSource struct {
	SourceURL    string
	SourceDomain string
	MangaSlug    string
	Priority     int
}

/*
NormalizeSourceURLs validates and canonicalizes a registered source URL list.

Description: Trims whitespace, requires absolute http(s) URLs, deduplicates
(case-insensitive), and assigns 1-based priorities in input order. The slug is
derived from the last non-empty path segment, normalized to the catalog's
slug alphabet.

Returns:
  - []NormalizedSource: Between 1 and 3 canonical sources
  - error: apperr.ValidationError on any violation
*/
func NormalizeSourceURLs(urls []string) ([]NormalizedSource, error) {

	seen := make(map[string]bool, len(urls))
	normalized := make([]NormalizedSource, 0, len(urls))

	for _, raw := range urls {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}

		parsed, err := url.Parse(trimmed)
		if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return nil, apperr.ValidationError("Source URLs must be absolute http(s) URLs", apperr.FieldError{
				Field:   "source_urls",
				Message: "Invalid URL: " + trimmed,
			})
		}

		dedupeKey := strings.ToLower(trimmed)
		if seen[dedupeKey] {
			continue
		}
		seen[dedupeKey] = true

		normalized = append(normalized, NormalizedSource{
			SourceURL:    trimmed,
			SourceDomain: strings.ToLower(parsed.Hostname()),
			MangaSlug:    slug.From(urlx.LastSegment(trimmed)),
			Priority:     len(normalized) + 1,
		})
	}

	if len(normalized) < constants.MinSourcesPerSeries || len(normalized) > constants.MaxSourcesPerSeries {
		return nil, apperr.ValidationError("A series requires between 1 and 3 unique source URLs")
	}

	return normalized, nil
}
