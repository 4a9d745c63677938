// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

// Package chapternum resolves canonical chapter numbers for discovered chapters.
//
// # Resolution Policy
//
// The canonical number is resolved in strict priority order:
//
//  1. A trailing "chapter" segment in the URL path (e.g. /chapter-36.5).
//  2. A purely numeric trailing path segment (e.g. /manga/x/102).
//  3. An explicit non-negative weight reported by the source.
//  4. The first numeric run in the chapter title.
//
// URLs are preferred over titles because titles carry noise such as
// "SIDE 1" or "END" that parses into wrong numbers.
package chapternum

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var (
	// chapterSegment matches a trailing "chapter" marker followed by a number,
	// e.g. ".../chapter-36.5", ".../chapter/12", case-insensitive.
	chapterSegment = regexp.MustCompile(`(?i)\bchapter\b[/-](\d+(?:\.\d+)?)/?$`)

	// numericSegment matches a purely numeric trailing path segment.
	numericSegment = regexp.MustCompile(`^(\d+(?:\.\d+)?)$`)

	// numericRun matches the first number appearing anywhere in a title.
	numericRun = regexp.MustCompile(`(\d+(?:\.\d+)?)`)
)

// FromURL extracts the chapter number from a chapter URL path.
// It reports false when the path carries no positional number.
func FromURL(rawURL string) (float64, bool) {

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return 0, false
	}

	path := strings.TrimRight(parsed.Path, "/")

	// 1. Explicit "chapter" marker
	if match := chapterSegment.FindStringSubmatch(path); match != nil {
		return parseNumber(match[1])
	}

	// 2. Purely numeric trailing segment
	segments := strings.Split(path, "/")
	if len(segments) > 0 {
		last := segments[len(segments)-1]
		if match := numericSegment.FindStringSubmatch(last); match != nil {
			return parseNumber(match[1])
		}
	}

	return 0, false
}

// FromTitle extracts the first numeric run from a chapter title.
// It reports false when the title contains no number.
func FromTitle(title string) (float64, bool) {
	if match := numericRun.FindStringSubmatch(title); match != nil {
		return parseNumber(match[1])
	}
	return 0, false
}

// Resolve applies the full resolution policy for a discovered chapter.
//
// The weight pointer is the source-reported ordinal, used only when the URL
// yields nothing and the weight is non-negative. It reports false when no
// strategy produced a number.
func Resolve(chapterURL, title string, weight *float64) (float64, bool) {

	// 1. URL-derived numbers win
	if number, ok := FromURL(chapterURL); ok {
		return number, true
	}

	// 2. Source-reported weight
	if weight != nil && *weight >= 0 {
		return *weight, true
	}

	// 3. Title fallback
	return FromTitle(title)
}

// parseNumber converts a matched numeric string, guarding against overflow.
func parseNumber(s string) (float64, bool) {
	number, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return number, true
}
