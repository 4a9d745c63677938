// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package clients

import (
	"context"
	"fmt"
	"net/http"

	"github.com/taibuivan/yomira-sync/internal/platform/config"
)

// # Uploader Wire Types

// UploadRequest persists one staged archive into the catalog's storage.
type UploadRequest struct {
	ZipURL           string  `json:"zip_url"`
	SeriesExternalID string  `json:"series_external_id"`
	ChapterNumber    float64 `json:"chapter_number"`
}

// UploadResult is the uploader's receipt. The uploader is idempotent per
// (series, chapter_number): repeats replace and return the same chapter id.
type UploadResult struct {
	ChapterID     string   `json:"chapter_id"`
	ChapterNumber string   `json:"chapter_number"`
	Data          []string `json:"data"`
	Path          string   `json:"path"`
}

type uploadResponse struct {
	Results UploadResult `json:"results"`
}

// # Uploader Client

// Uploader moves staged chapter archives into durable catalog storage.
type Uploader struct {
	baseURL string
	apiKey  string
	http    *http.Client
	cfg     *config.Config
}

// NewUploader builds the storage uploader client from configuration.
func NewUploader(cfg *config.Config) *Uploader {
	return &Uploader{
		baseURL: cfg.UploaderBaseURL,
		apiKey:  cfg.UploaderAPIKey,
		http:    &http.Client{},
		cfg:     cfg,
	}
}

// UploadSingle persists one staged archive and returns the stable chapter id
// plus the resulting file manifest and storage path.
func (u *Uploader) UploadSingle(ctx context.Context, request UploadRequest) (*UploadResult, error) {

	endpoint := u.baseURL + "/api/v1/upload/single"

	var response uploadResponse
	if err := callJSON(ctx, u.http, http.MethodPost, endpoint, u.apiKey, request, &response, u.cfg.UploadTimeout()); err != nil {
		return nil, err
	}

	if response.Results.ChapterID == "" {
		return nil, fmt.Errorf("clients: uploader returned no chapter id")
	}

	return &response.Results, nil
}
