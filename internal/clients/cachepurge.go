// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package clients

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	"github.com/taibuivan/yomira-sync/internal/platform/config"
)

// # Debounced Cache Purger

// CachePurger coalesces tag invalidations and flushes them in one call.
//
// The processor schedules a tag after every completed task; the flush happens
// once per scheduler turn, so a burst of completions costs a single purge
// round-trip. Purge failures are logged and swallowed: a stale edge cache
// must never fail a sync.
type CachePurger struct {
	purgeURL string
	apiKey   string
	http     *http.Client
	cfg      *config.Config
	logger   *slog.Logger

	mu   sync.Mutex
	tags map[string]bool
}

// NewCachePurger builds the purge client. An empty purge URL disables it.
func NewCachePurger(cfg *config.Config, logger *slog.Logger) *CachePurger {
	return &CachePurger{
		purgeURL: cfg.CachePurgeURL,
		apiKey:   cfg.CachePurgeAPIKey,
		http:     &http.Client{},
		cfg:      cfg,
		logger:   logger,
		tags:     make(map[string]bool),
	}
}

// Schedule queues tags for the next flush.
func (p *CachePurger) Schedule(tags ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, tag := range tags {
		p.tags[tag] = true
	}
}

// Pending reports how many distinct tags await the next flush.
func (p *CachePurger) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tags)
}

// Flush sends every queued tag in one purge call and clears the queue.
// Errors are logged, never returned.
func (p *CachePurger) Flush(ctx context.Context) {
	p.mu.Lock()
	if len(p.tags) == 0 {
		p.mu.Unlock()
		return
	}
	tags := make([]string, 0, len(p.tags))
	for tag := range p.tags {
		tags = append(tags, tag)
	}
	p.tags = make(map[string]bool)
	p.mu.Unlock()

	sort.Strings(tags)

	if p.purgeURL == "" {
		return
	}

	request := map[string]any{"tags": tags}
	if err := callJSON(ctx, p.http, http.MethodPost, p.purgeURL, p.apiKey, request, nil, p.cfg.FetchTimeout()); err != nil {
		p.logger.Warn("cache purge failed",
			slog.Int("tags", len(tags)),
			slog.String("error", err.Error()),
		)
	}
}
