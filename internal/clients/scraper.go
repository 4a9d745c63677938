// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package clients

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"golang.org/x/time/rate"

	"github.com/taibuivan/yomira-sync/internal/platform/config"
	"github.com/taibuivan/yomira-sync/internal/platform/constants"
	"github.com/taibuivan/yomira-sync/pkg/urlx"
)

// maxListingPolls bounds the loading/not_cached retry loop so a source that
// never becomes ready cannot pin a scan forever.
const maxListingPolls = 40

// perDomainRate paces chapter-image scrapes against any single source site.
var perDomainRate = rate.Every(constants.ScraperPerDomainInterval)

// # Scraper Wire Types

// SourceChapter is one listing entry reported by the scraper.
type SourceChapter struct {
	Title  string   `json:"title"`
	URL    string   `json:"url"`
	Date   string   `json:"date"`
	Weight *float64 `json:"weight,omitempty"`
}

// ChapterImage is one page of a chapter, in reading order.
type ChapterImage struct {
	Index       int    `json:"index"`
	DownloadURL string `json:"download_url"`
}

// SourceMeta is the lightweight metadata the scan optimization consults.
type SourceMeta struct {
	LastChapter struct {
		Number float64 `json:"number"`
	} `json:"lastChapter"`
	Total int `json:"total"`
}

// StageRequest asks the stager to download and package one chapter.
type StageRequest struct {
	ImageDataArray   []ChapterImage `json:"imageDataArray"`
	SeriesExternalID string         `json:"series_external_id"`
	ChapterNumber    string         `json:"chapterNumber"`
	SeriesTitle      string         `json:"seriesTitle"`
	ChapterURL       string         `json:"chapterUrl"`
}

// StagedArchive is the stager's receipt for a packaged chapter.
type StagedArchive struct {
	PublicURL   string `json:"publicUrl"`
	FileName    string `json:"fileName"`
	TotalImages int    `json:"totalImages"`
}

type listingResponse struct {
	Status  string          `json:"status"`
	Data    []SourceChapter `json:"data"`
	HasMore bool            `json:"hasMore"`
	Page    int             `json:"page"`
	Limit   int             `json:"limit"`
}

type imagesResponse struct {
	Status string         `json:"status"`
	Data   []ChapterImage `json:"data"`
}

type metaResponse struct {
	Data SourceMeta `json:"data"`
}

type stageResponse struct {
	Success bool          `json:"success"`
	Error   string        `json:"error"`
	Data    StagedArchive `json:"data"`
}

// # Scraper Client

// Scraper talks to the source scraper and stager services. Listing fetches
// rotate through the host pool; chapter scrapes are paced per source domain.
type Scraper struct {
	pool       *HostPool
	stagerBase string
	http       *http.Client
	cfg        *config.Config
	logger     *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewScraper builds the scraper/stager client from configuration.
func NewScraper(cfg *config.Config, logger *slog.Logger) *Scraper {
	return &Scraper{
		pool:       NewHostPool(cfg.ScraperBaseURLs),
		stagerBase: cfg.StagerBaseURL,
		http:       &http.Client{},
		cfg:        cfg,
		logger:     logger,
		limiters:   make(map[string]*rate.Limiter),
	}
}

// limiter returns the rate limiter for one source domain.
func (s *Scraper) limiter(domain string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	limiter, ok := s.limiters[domain]
	if !ok {
		limiter = rate.NewLimiter(perDomainRate, 1)
		s.limiters[domain] = limiter
	}
	return limiter
}

/*
ListChapters fetches the complete chapter listing of one source URL.

Description: Pages are consumed until the scraper reports no more. A
transient "loading" or "not_cached" status is re-polled after a short delay
until the listing is ready, bounded so a dead source cannot spin forever.
*/
func (s *Scraper) ListChapters(ctx context.Context, sourceURL string) ([]SourceChapter, error) {

	base := s.pool.Pick()
	var chapters []SourceChapter
	page := 1
	polls := 0

	for {
		endpoint := fmt.Sprintf("%s/api/v1/chapters?url=%s&page=%d",
			base, url.QueryEscape(sourceURL), page)

		var response listingResponse
		if err := callJSON(ctx, s.http, http.MethodGet, endpoint, "", nil, &response, s.cfg.FetchTimeout()); err != nil {
			s.pool.Failure(base)
			return nil, err
		}

		// Source not cached upstream yet: wait and re-poll the same page.
		if response.Status == "loading" || response.Status == "not_cached" {
			polls++
			if polls >= maxListingPolls {
				s.pool.Failure(base)
				return nil, fmt.Errorf("clients: source listing never became ready: %s", sourceURL)
			}
			if err := sleepCtx(ctx, constants.ScraperRetryDelay); err != nil {
				return nil, err
			}
			continue
		}

		chapters = append(chapters, response.Data...)
		if !response.HasMore {
			break
		}
		page++
	}

	s.pool.Success(base)
	return chapters, nil
}

// GetChapterImages enumerates the pages of one chapter, paced per domain.
func (s *Scraper) GetChapterImages(ctx context.Context, chapterURL string) ([]ChapterImage, error) {

	domain, err := urlx.Domain(chapterURL)
	if err != nil {
		// Unparsable URLs share one conservative bucket.
		domain = ""
	}
	if err := s.limiter(domain).Wait(ctx); err != nil {
		return nil, err
	}

	base := s.pool.Pick()
	endpoint := fmt.Sprintf("%s/api/v1/chapter/images?url=%s", base, url.QueryEscape(chapterURL))

	var response imagesResponse
	if err := callJSON(ctx, s.http, http.MethodGet, endpoint, "", nil, &response, s.cfg.ScrapeTimeout()); err != nil {
		s.pool.Failure(base)
		return nil, err
	}

	s.pool.Success(base)
	return response.Data, nil
}

// GetSourceMeta fetches the lightweight last-chapter/total metadata used to
// short-circuit a full scan.
func (s *Scraper) GetSourceMeta(ctx context.Context, sourceURL string) (*SourceMeta, error) {

	base := s.pool.Pick()
	endpoint := fmt.Sprintf("%s/api/v1/source/meta?url=%s", base, url.QueryEscape(sourceURL))

	var response metaResponse
	if err := callJSON(ctx, s.http, http.MethodGet, endpoint, "", nil, &response, s.cfg.FetchTimeout()); err != nil {
		s.pool.Failure(base)
		return nil, err
	}

	s.pool.Success(base)
	return &response.Data, nil
}

// StageChapter asks the stager to download, package, and persist one chapter
// as an intermediate archive.
func (s *Scraper) StageChapter(ctx context.Context, request StageRequest) (*StagedArchive, error) {

	endpoint := s.stagerBase + "/api/v1/chapters/stage"

	var response stageResponse
	if err := callJSON(ctx, s.http, http.MethodPost, endpoint, "", request, &response, s.cfg.UploadTimeout()); err != nil {
		return nil, err
	}

	if !response.Success {
		return nil, fmt.Errorf("clients: stager rejected chapter: %s", response.Error)
	}

	return &response.Data, nil
}
