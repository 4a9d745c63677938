// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package clients

import (
	"sync"
	"time"

	"github.com/taibuivan/yomira-sync/internal/platform/constants"
)

// # Scraper Host Pool

// HostPool rotates scraper base URLs round-robin with health tracking.
//
// A host that fails HostPoolMaxFailures times in a row is skipped for a
// cool-down window. When every host is unhealthy the pool resets rather than
// starving the scanner. Success clears a host's failure counter.
type HostPool struct {
	mu    sync.Mutex
	hosts []*poolHost
	next  int
	now   func() time.Time
}

type poolHost struct {
	baseURL        string
	failures       int
	unhealthyUntil time.Time
}

// NewHostPool builds a pool over the configured scraper base URLs.
func NewHostPool(baseURLs []string) *HostPool {
	pool := &HostPool{now: time.Now}
	for _, u := range baseURLs {
		pool.hosts = append(pool.hosts, &poolHost{baseURL: u})
	}
	return pool
}

// Pick returns the next healthy base URL. When all hosts are cooling down
// the pool resets and serves the next host in rotation anyway.
func (p *HostPool) Pick() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for range p.hosts {
		host := p.hosts[p.next%len(p.hosts)]
		p.next++
		if host.unhealthyUntil.Before(now) || host.unhealthyUntil.Equal(now) {
			return host.baseURL
		}
	}

	// Full pool reset
	for _, host := range p.hosts {
		host.failures = 0
		host.unhealthyUntil = time.Time{}
	}
	host := p.hosts[p.next%len(p.hosts)]
	p.next++
	return host.baseURL
}

// Success clears the failure counter of a host.
func (p *HostPool) Success(baseURL string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if host := p.find(baseURL); host != nil {
		host.failures = 0
		host.unhealthyUntil = time.Time{}
	}
}

// Failure records one failure; at the threshold the host enters cool-down.
func (p *HostPool) Failure(baseURL string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	host := p.find(baseURL)
	if host == nil {
		return
	}

	host.failures++
	if host.failures >= constants.HostPoolMaxFailures {
		host.unhealthyUntil = p.now().Add(constants.HostPoolCooldown)
	}
}

func (p *HostPool) find(baseURL string) *poolHost {
	for _, host := range p.hosts {
		if host.baseURL == baseURL {
			return host
		}
	}
	return nil
}
