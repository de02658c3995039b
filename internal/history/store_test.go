package history

import (
	"context"
	"testing"
	"time"

	"github.com/lexiqai/speech-coach/internal/backend"
	"github.com/lexiqai/speech-coach/internal/stats"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_RecordAndRecent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"first", "second", "third"} {
		_, err := s.Record(ctx, Entry{
			SessionID:  id,
			Transcript: "hello world ",
			Stats:      stats.Snapshot{Fluency: float64(60 + i)},
			Analysis: backend.FinalAnalysis{
				OverallScore: float64(5 + i),
				Strengths:    []string{"clear"},
			},
			RecordedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("record %s: %v", id, err)
		}
	}

	entries, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].SessionID != "third" || entries[1].SessionID != "second" {
		t.Errorf("Expected newest first, got %s, %s", entries[0].SessionID, entries[1].SessionID)
	}
	if entries[0].Analysis.OverallScore != 7 || entries[0].Stats.Fluency != 62 {
		t.Errorf("Unexpected round-tripped entry: %+v", entries[0])
	}
	if len(entries[0].Analysis.Strengths) != 1 {
		t.Errorf("Expected strengths preserved, got %v", entries[0].Analysis.Strengths)
	}
	if !entries[0].RecordedAt.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("Expected recorded time preserved, got %v", entries[0].RecordedAt)
	}
}

func TestStore_Count(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	n, err := s.Count(ctx)
	if err != nil || n != 0 {
		t.Fatalf("Expected empty archive, got %d, %v", n, err)
	}

	s.Record(ctx, Entry{SessionID: "a"})
	s.Record(ctx, Entry{SessionID: "b"})

	n, err = s.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2, got %d", n)
	}
}

func TestStore_RecentEmpty(t *testing.T) {
	s := openTestStore(t)

	entries, err := s.Recent(context.Background(), 0)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected no entries, got %d", len(entries))
	}
}
