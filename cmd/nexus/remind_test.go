package main

import (
	"testing"
	"time"

	"github.com/TrungLeVn/ResearchNexus-sub000/internal/schema"
)

func TestResolveID(t *testing.T) {
	items := []string{"3f2a9c10-aaaa", "3f2b0000-bbbb", "77aa0000-cccc"}
	id := func(s string) string { return s }

	tests := []struct {
		prefix string
		want   string
	}{
		{"77", "77aa0000-cccc"},
		{"3f2a", "3f2a9c10-aaaa"},
		{"3f2", "3f2"}, // ambiguous
		{"3f2b0000-bbbb", "3f2b0000-bbbb"},
		{"zz", "zz"},
	}
	for _, tt := range tests {
		if got := resolveID(items, tt.prefix, id); got != tt.want {
			t.Errorf("resolveID(%q) = %q, want %q", tt.prefix, got, tt.want)
		}
	}
}

func TestLastWeek(t *testing.T) {
	today := time.Date(2025, 3, 7, 12, 0, 0, 0, time.UTC)
	h := schema.Habit{ID: "h1", Title: "Write", History: []string{"2025-03-01", "2025-03-06", "2025-03-07"}}
	if got, want := lastWeek(h, today), "■····■■"; got != want {
		t.Errorf("lastWeek = %q, want %q", got, want)
	}
}
