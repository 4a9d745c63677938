// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package clients

import (
	"context"
	"fmt"
	"net/http"

	"github.com/taibuivan/yomira-sync/internal/platform/config"
	"github.com/taibuivan/yomira-sync/pkg/slice"
)

// catalogPageSize is the maximum page size the catalog accepts.
const catalogPageSize = 100

// retcodeOK is the catalog's application-level success code.
const retcodeOK = 200

// # Catalog Wire Types

// CatalogChapter is one published chapter row as the catalog reports it.
type CatalogChapter struct {
	ChapterNumber float64 `json:"chapter_number"`
}

// ChapterEntry registers one uploaded chapter in the catalog.
type ChapterEntry struct {
	ChapterID         string   `json:"chapter_id"`
	ChapterNumber     float64  `json:"chapter_number"`
	ChapterTitle      string   `json:"chapter_title"`
	ChapterImages     []string `json:"chapter_images"`
	Path              string   `json:"path"`
	ThumbnailImageURL string   `json:"thumbnail_image_url"`
}

type catalogListResponse struct {
	Retcode int              `json:"retcode"`
	Data    []CatalogChapter `json:"data"`
	Meta    struct {
		Page        int `json:"page"`
		PageSize    int `json:"page_size"`
		TotalPage   int `json:"total_page"`
		TotalRecord int `json:"total_record"`
	} `json:"meta"`
}

type catalogCreateResponse struct {
	Retcode int    `json:"retcode"`
	Message string `json:"message"`
}

// # Catalog Client

// Catalog talks to the backend system of record for published chapters.
type Catalog struct {
	baseURL string
	apiKey  string
	http    *http.Client
	cfg     *config.Config
}

// NewCatalog builds the catalog backend client from configuration.
func NewCatalog(cfg *config.Config) *Catalog {
	return &Catalog{
		baseURL: cfg.CatalogBaseURL,
		apiKey:  cfg.CatalogAPIKey,
		http:    &http.Client{},
		cfg:     cfg,
	}
}

/*
ListChapterNumbers fetches the complete published chapter-number set of one
series, consuming every page.

Returns:
  - []float64: Chapter numbers in ascending order
  - int: Total record count the catalog reports
*/
func (c *Catalog) ListChapterNumbers(ctx context.Context, externalID string) ([]float64, int, error) {

	var numbers []float64
	total := 0
	page := 1

	for {
		endpoint := fmt.Sprintf("%s/api/v1/manga/%s/chapters?page=%d&page_size=%d&sort_order=asc",
			c.baseURL, externalID, page, catalogPageSize)

		var response catalogListResponse
		if err := callJSON(ctx, c.http, http.MethodGet, endpoint, c.apiKey, nil, &response, c.cfg.FetchTimeout()); err != nil {
			return nil, 0, err
		}

		if response.Retcode != retcodeOK {
			return nil, 0, fmt.Errorf("clients: catalog listing failed with retcode %d", response.Retcode)
		}

		numbers = append(numbers, slice.Map(response.Data, func(chapter CatalogChapter) float64 {
			return chapter.ChapterNumber
		})...)
		total = response.Meta.TotalRecord

		if page >= response.Meta.TotalPage || len(response.Data) == 0 {
			break
		}
		page++
	}

	return numbers, total, nil
}

// CreateChapters registers uploaded chapters under a series.
func (c *Catalog) CreateChapters(ctx context.Context, externalID string, entries []ChapterEntry) error {

	endpoint := fmt.Sprintf("%s/api/v1/manga/%s/chapters", c.baseURL, externalID)
	request := map[string]any{"chapters": entries}

	var response catalogCreateResponse
	if err := callJSON(ctx, c.http, http.MethodPost, endpoint, c.apiKey, request, &response, c.cfg.FetchTimeout()); err != nil {
		return err
	}

	if response.Retcode != retcodeOK {
		return fmt.Errorf("clients: catalog create failed with retcode %d: %s", response.Retcode, response.Message)
	}

	return nil
}
