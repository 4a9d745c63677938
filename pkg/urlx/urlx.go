// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

// Package urlx provides URL inspection and rewriting helpers for source links.
//
// # Why not url.URL.String()?
//
// Domain migrations must replace ONLY the hostname: path, query, and fragment
// have to survive byte-identical, and round-tripping through [url.URL] can
// re-encode them. ReplaceHost therefore splices the new hostname into the raw
// string instead of re-serializing.
package urlx

import (
	"net/url"
	"strings"
)

// Domain returns the lowercase hostname of a URL, without port.
func Domain(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return strings.ToLower(parsed.Hostname()), nil
}

// LastSegment returns the last non-empty path segment of a URL.
// It returns an empty string when the path has no segments.
func LastSegment(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if segments[i] != "" {
			return segments[i]
		}
	}

	return ""
}

// ReplaceHost swaps the hostname of rawURL for newHost when it currently
// equals oldHost (case-insensitive). The port, path, query, and fragment are
// preserved byte-identical. It reports false when the hostname did not match.
func ReplaceHost(rawURL, oldHost, newHost string) (string, bool) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL, false
	}

	hostname := parsed.Hostname()
	if !strings.EqualFold(hostname, oldHost) {
		return rawURL, false
	}

	// Locate the authority section in the raw string so everything after it
	// is carried over untouched.
	schemeEnd := strings.Index(rawURL, "://")
	if schemeEnd < 0 {
		return rawURL, false
	}
	authorityStart := schemeEnd + len("://")

	authorityEnd := len(rawURL)
	for _, delimiter := range []string{"/", "?", "#"} {
		if idx := strings.Index(rawURL[authorityStart:], delimiter); idx >= 0 && authorityStart+idx < authorityEnd {
			authorityEnd = authorityStart + idx
		}
	}

	authority := rawURL[authorityStart:authorityEnd]

	// Preserve userinfo and port around the hostname.
	rebuilt := strings.Replace(authority, hostname, newHost, 1)

	return rawURL[:authorityStart] + rebuilt + rawURL[authorityEnd:], true
}
