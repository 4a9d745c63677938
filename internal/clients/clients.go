// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package clients holds the thin HTTP clients for the external collaborators of
the sync pipeline: the source scraper, the stager, the storage uploader, the
catalog backend, the cache purger, and the failure notifier.

Architecture:

  - Contract-bearing: each client exposes exactly the operations the scanner
    and processor consume; the collaborators stay black boxes.
  - Bounded: every call runs under a per-call deadline from configuration.
  - Resilient: the scraper fronts a host pool with health tracking, and the
    fire-and-forget collaborators (purge, notify) swallow their own errors.
*/
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/taibuivan/yomira-sync/internal/platform/constants"
)

// maxResponseBytes caps collaborator response bodies. Listings are large but
// bounded; anything bigger is a misbehaving upstream.
const maxResponseBytes = 16 << 20

// callJSON performs one JSON round-trip under the given deadline.
//
// A nil body sends no payload. A non-2xx status is returned as an error
// carrying the status code so callers can log it verbatim.
func callJSON(ctx context.Context, client *http.Client, method, url, apiKey string, body, out any, timeout time.Duration) error {

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("clients: failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	request, err := http.NewRequestWithContext(callCtx, method, url, reader)
	if err != nil {
		return fmt.Errorf("clients: failed to build request: %w", err)
	}

	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if apiKey != "" {
		request.Header.Set(constants.HeaderAPIKey, apiKey)
	}

	response, err := client.Do(request)
	if err != nil {
		return fmt.Errorf("clients: request failed: %w", err)
	}
	defer func() { _ = response.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("clients: failed to read response: %w", err)
	}

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return fmt.Errorf("clients: %s %s returned status %d", method, url, response.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("clients: failed to decode response: %w", err)
		}
	}

	return nil
}

// sleepCtx pauses for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
