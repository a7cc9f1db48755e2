package domain

import (
	"errors"
	"testing"
	"time"
)

func ids(entries []StockEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in   string
		want Strategy
	}{
		{"", FIFO},
		{"FIFO", FIFO},
		{"lifo", LIFO},
		{" fefo ", FEFO},
	}
	for _, tt := range tests {
		got, err := ParseStrategy(tt.in)
		if err != nil {
			t.Fatalf("ParseStrategy(%q): unexpected error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseStrategy(%q) = %s, want %s", tt.in, got.Name(), tt.want.Name())
		}
	}

	_, err := ParseStrategy("RANDOM")
	if !errors.Is(err, ErrInvalidStrategy) {
		t.Errorf("expected ErrInvalidStrategy, got %v", err)
	}
}

func TestSortEntries(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	soon := base.Add(48 * time.Hour)
	later := base.Add(96 * time.Hour)

	entries := []StockEntry{
		{ID: "e4", BatchID: "b2", ReceivedAt: base.Add(2 * time.Hour)},
		{ID: "e3", BatchID: "b1", ReceivedAt: base.Add(2 * time.Hour), ExpiresAt: &later},
		{ID: "e1", BatchID: "b9", ReceivedAt: base, ExpiresAt: &later},
		{ID: "e2", BatchID: "b5", ReceivedAt: base.Add(time.Hour), ExpiresAt: &soon},
	}

	tests := []struct {
		strategy Strategy
		want     []string
	}{
		{FIFO, []string{"e1", "e2", "e3", "e4"}},
		{LIFO, []string{"e3", "e4", "e2", "e1"}},
		{FEFO, []string{"e2", "e1", "e3", "e4"}},
	}
	for _, tt := range tests {
		got := ids(SortEntries(entries, tt.strategy))
		if !equalIDs(got, tt.want) {
			t.Errorf("%s: expected %v, got %v", tt.strategy.Name(), tt.want, got)
		}
	}

	if entries[0].ID != "e4" {
		t.Error("SortEntries must not reorder its input")
	}
}

func TestSortEntries_SameBatchFallsBackToID(t *testing.T) {
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	entries := []StockEntry{
		{ID: "z", BatchID: "b", ReceivedAt: at},
		{ID: "a", BatchID: "b", ReceivedAt: at},
	}
	got := ids(SortEntries(entries, FIFO))
	if !equalIDs(got, []string{"a", "z"}) {
		t.Errorf("expected [a z], got %v", got)
	}
}
