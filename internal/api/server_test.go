// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/yomira-sync/internal/api"
	"github.com/taibuivan/yomira-sync/internal/events"
	"github.com/taibuivan/yomira-sync/internal/platform/config"
	"github.com/taibuivan/yomira-sync/internal/platform/constants"
	"github.com/taibuivan/yomira-sync/internal/platform/sec"
	"github.com/taibuivan/yomira-sync/internal/series"
)

const testAdminKey = "test-admin-key"

func newTestServer(t *testing.T) (*api.Server, series.Store) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := series.NewMemoryStore()
	service := series.NewService(store, events.NopPublisher{}, nil, logger)

	liveness, readiness := api.NewHealthHandlers(api.HealthDependencies{}, logger)
	handlers := api.Handlers{
		Liveness:   liveness,
		Readiness:  readiness,
		Series:     series.NewHandler(service),
		EventToken: api.NewEventTokenHandler(sec.NewCapabilityService("test-event-key", constants.CapabilityIssuer)),
	}

	cfg := &config.Config{Host: "127.0.0.1", Port: "0"}
	return api.NewServer(context.Background(), cfg, logger, sec.NewAPIKeyVerifier(testAdminKey), handlers), store
}

func doJSON(t *testing.T, server *api.Server, method, path, apiKey string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}

	request := httptest.NewRequest(method, path, reader)
	if apiKey != "" {
		request.Header.Set(constants.HeaderAPIKey, apiKey)
	}

	recorder := httptest.NewRecorder()
	server.Router().ServeHTTP(recorder, request)
	return recorder
}

/*
TestServer_RequiresAPIKey verifies that every admin operation is gated by
the shared secret while the health probe stays anonymous.
*/
func TestServer_RequiresAPIKey(t *testing.T) {
	server, _ := newTestServer(t)

	// 1. Anonymous admin call is rejected
	recorder := doJSON(t, server, http.MethodGet, "/api/v1/series", "", nil)
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)

	// 2. Wrong key is rejected
	recorder = doJSON(t, server, http.MethodGet, "/api/v1/series", "wrong-key", nil)
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)

	// 3. Correct key passes
	recorder = doJSON(t, server, http.MethodGet, "/api/v1/series", testAdminKey, nil)
	assert.Equal(t, http.StatusOK, recorder.Code)

	// 4. Liveness needs no key
	recorder = doJSON(t, server, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, recorder.Code)
}

/*
TestServer_SeriesLifecycle drives register → get → retry-without-failures →
delete through the full router.
*/
func TestServer_SeriesLifecycle(t *testing.T) {
	server, _ := newTestServer(t)

	// 1. Register
	recorder := doJSON(t, server, http.MethodPost, "/api/v1/series", testAdminKey, map[string]any{
		"external_id": "manga-1",
		"title":       "Solo Leveling",
		"source_urls": []string{"https://mangasite.example/manga/solo-leveling"},
	})
	require.Equal(t, http.StatusCreated, recorder.Code)

	var created struct {
		Success bool          `json:"success"`
		Data    series.Series `json:"data"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &created))
	require.True(t, created.Success)
	require.NotEmpty(t, created.Data.ID)

	// 2. Duplicate registration conflicts
	recorder = doJSON(t, server, http.MethodPost, "/api/v1/series", testAdminKey, map[string]any{
		"external_id": "manga-1",
		"title":       "Solo Leveling",
		"source_urls": []string{"https://mangasite.example/manga/solo-leveling"},
	})
	assert.Equal(t, http.StatusConflict, recorder.Code)

	// 3. Get returns the series with its (empty) failed task list
	recorder = doJSON(t, server, http.MethodGet, "/api/v1/series/"+created.Data.ID, testAdminKey, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	var detail struct {
		Data series.Detail `json:"data"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &detail))
	assert.Equal(t, "manga-1", detail.Data.Series.ExternalID)
	assert.Empty(t, detail.Data.FailedTasks)

	// 4. Retry with nothing failed is a 400
	recorder = doJSON(t, server, http.MethodPost, "/api/v1/series/"+created.Data.ID+"/retry", testAdminKey, nil)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	// 5. Force-scan is idempotent 200
	recorder = doJSON(t, server, http.MethodPost, "/api/v1/series/"+created.Data.ID+"/force-scan", testAdminKey, nil)
	assert.Equal(t, http.StatusOK, recorder.Code)

	// 6. Delete, then 404 on re-read
	recorder = doJSON(t, server, http.MethodDelete, "/api/v1/series/"+created.Data.ID, testAdminKey, nil)
	assert.Equal(t, http.StatusOK, recorder.Code)

	recorder = doJSON(t, server, http.MethodGet, "/api/v1/series/"+created.Data.ID, testAdminKey, nil)
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

/*
TestServer_EventToken verifies capability minting and channel validation.
*/
func TestServer_EventToken(t *testing.T) {
	server, _ := newTestServer(t)

	// 1. A valid channel mints a verifiable token
	recorder := doJSON(t, server, http.MethodPost, "/api/v1/events/token", testAdminKey, map[string]string{
		"channel": "manga:manga-1",
	})
	require.Equal(t, http.StatusOK, recorder.Code)

	var minted struct {
		Data struct {
			Token   string `json:"token"`
			Channel string `json:"channel"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &minted))
	require.NotEmpty(t, minted.Data.Token)

	capabilities := sec.NewCapabilityService("test-event-key", constants.CapabilityIssuer)
	claims, err := capabilities.Verify(minted.Data.Token)
	require.NoError(t, err)
	assert.True(t, claims.Allows("manga:manga-1"))
	assert.False(t, claims.Allows("manga:other"))

	// 2. Unknown channel shapes are rejected
	recorder = doJSON(t, server, http.MethodPost, "/api/v1/events/token", testAdminKey, map[string]string{
		"channel": "users:42",
	})
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

/*
TestServer_UpdateDomain_DryRunDefault verifies that the maintenance endpoint
previews without mutating unless dry_run is explicitly false.
*/
func TestServer_UpdateDomain_DryRunDefault(t *testing.T) {
	server, store := newTestServer(t)

	recorder := doJSON(t, server, http.MethodPost, "/api/v1/series", testAdminKey, map[string]any{
		"external_id": "manga-1",
		"title":       "Solo Leveling",
		"source_urls": []string{"https://old.example/manga/solo-leveling"},
	})
	require.Equal(t, http.StatusCreated, recorder.Code)

	// 1. Preview: affected counted, nothing rewritten
	recorder = doJSON(t, server, http.MethodPost, "/api/v1/series/update-domain", testAdminKey, map[string]any{
		"old_domain": "old.example",
		"new_domain": "new.example",
	})
	require.Equal(t, http.StatusOK, recorder.Code)

	var preview struct {
		Data series.DomainMigrationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &preview))
	assert.True(t, preview.Data.DryRun)
	assert.Equal(t, 1, preview.Data.AffectedCount)
	require.NotEmpty(t, preview.Data.Sample)
	assert.Equal(t, "https://new.example/manga/solo-leveling", preview.Data.Sample[0].NewURL)

	// 2. Live run rewrites and resyncs the denormalized fields
	recorder = doJSON(t, server, http.MethodPost, "/api/v1/series/update-domain", testAdminKey, map[string]any{
		"old_domain": "old.example",
		"new_domain": "new.example",
		"dry_run":    false,
	})
	require.Equal(t, http.StatusOK, recorder.Code)

	migrated, err := store.GetSeriesByExternalID(context.Background(), "manga-1")
	require.NoError(t, err)
	assert.Equal(t, "new.example", migrated.SourceDomain)
	assert.Equal(t, "https://new.example/manga/solo-leveling", migrated.MangaURL)
}
