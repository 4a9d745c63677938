// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package chapternum_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/taibuivan/yomira-sync/pkg/chapternum"
	"github.com/taibuivan/yomira-sync/pkg/pointer"
)

/*
TestFromURL covers the URL-first extraction strategies.
*/
func TestFromURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want float64
		ok   bool
	}{
		{"chapter_hyphen", "https://src.example/manga/solo/chapter-36.5", 36.5, true},
		{"chapter_slash", "https://src.example/manga/solo/chapter/12", 12, true},
		{"chapter_uppercase", "https://src.example/manga/solo/Chapter-7", 7, true},
		{"trailing_slash", "https://src.example/manga/solo/chapter-101/", 101, true},
		{"numeric_segment", "https://src.example/manga/solo/102", 102, true},
		{"fractional_segment", "https://src.example/manga/solo/36.5", 36.5, true},
		{"no_number", "https://src.example/manga/solo/extras", 0, false},
		{"number_mid_path", "https://src.example/manga/12/about", 0, false},
		{"invalid_url", "://not-a-url", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := chapternum.FromURL(tt.url)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

/*
TestFromTitle verifies the title fallback picks the first numeric run.
*/
func TestFromTitle(t *testing.T) {
	tests := []struct {
		name  string
		title string
		want  float64
		ok    bool
	}{
		{"plain", "Chapter 42", 42, true},
		{"fractional", "Ch. 36.5: The Return", 36.5, true},
		{"noise_prefix", "SIDE 1", 1, true},
		{"no_number", "Epilogue END", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := chapternum.FromTitle(tt.title)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

/*
TestResolve verifies the strict priority ordering of the policy.
*/
func TestResolve(t *testing.T) {

	// 1. URL beats weight and title, even when they disagree
	number, ok := chapternum.Resolve(
		"https://src.example/manga/solo/chapter-9",
		"SIDE 1",
		pointer.To(3.0),
	)
	assert.True(t, ok)
	assert.Equal(t, 9.0, number)

	// 2. Weight beats title when the URL yields nothing
	number, ok = chapternum.Resolve(
		"https://src.example/manga/solo/extra",
		"SIDE 1",
		pointer.To(4.0),
	)
	assert.True(t, ok)
	assert.Equal(t, 4.0, number)

	// 3. Negative weight is ignored; title is the last resort
	number, ok = chapternum.Resolve(
		"https://src.example/manga/solo/extra",
		"Special 2",
		pointer.To(-1.0),
	)
	assert.True(t, ok)
	assert.Equal(t, 2.0, number)

	// 4. Nothing resolvable
	_, ok = chapternum.Resolve("https://src.example/manga/solo/extra", "END", nil)
	assert.False(t, ok)
}
