package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/vithurshanselvarajah/WakeOnPi/internal/types"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "episodes.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func testEpisode(id string, start time.Time, d time.Duration) types.MotionEpisode {
	return types.MotionEpisode{
		ID:        id,
		StartedAt: start,
		EndedAt:   start.Add(d),
		PeakScore: 42.5,
		Samples:   3,
		Trace: []types.TracePoint{
			{At: start, Score: 18.0},
			{At: start.Add(time.Second), Score: 42.5},
			{At: start.Add(2 * time.Second), Score: 12.25},
		},
	}
}

// TestRecordAndRecall verifies a full episode round-trips through the
// database, trace included.
func TestRecordAndRecall(t *testing.T) {
	j := openTestJournal(t)

	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	want := testEpisode("ep-1", start, 30*time.Second)
	if err := j.RecordEpisode(want); err != nil {
		t.Fatalf("RecordEpisode failed: %v", err)
	}

	got, err := j.RecentEpisodes(10)
	if err != nil {
		t.Fatalf("RecentEpisodes failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Expected 1 episode, got %d", len(got))
	}

	ep := got[0]
	if ep.ID != want.ID {
		t.Errorf("Expected id %s, got %s", want.ID, ep.ID)
	}
	if !ep.StartedAt.Equal(want.StartedAt) || !ep.EndedAt.Equal(want.EndedAt) {
		t.Errorf("Timestamps did not round-trip: %v-%v", ep.StartedAt, ep.EndedAt)
	}
	if ep.PeakScore != want.PeakScore {
		t.Errorf("Expected peak %v, got %v", want.PeakScore, ep.PeakScore)
	}
	if ep.Samples != want.Samples {
		t.Errorf("Expected %d samples, got %d", want.Samples, ep.Samples)
	}
	if len(ep.Trace) != len(want.Trace) {
		t.Fatalf("Expected %d trace points, got %d", len(want.Trace), len(ep.Trace))
	}
	for i := range want.Trace {
		if ep.Trace[i].Score != want.Trace[i].Score {
			t.Errorf("Trace point %d: expected score %v, got %v", i, want.Trace[i].Score, ep.Trace[i].Score)
		}
		if !ep.Trace[i].At.Equal(want.Trace[i].At) {
			t.Errorf("Trace point %d: expected time %v, got %v", i, want.Trace[i].At, ep.Trace[i].At)
		}
	}

	if got := j.Stats().Recorded; got != 1 {
		t.Errorf("Expected 1 recorded, got %d", got)
	}
}

// TestRecentEpisodesOrderAndLimit verifies newest-first ordering and the
// limit clamp.
func TestRecentEpisodesOrderAndLimit(t *testing.T) {
	j := openTestJournal(t)

	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		ep := testEpisode(
			[]string{"ep-a", "ep-b", "ep-c", "ep-d", "ep-e"}[i],
			base.Add(time.Duration(i)*time.Hour),
			10*time.Second,
		)
		if err := j.RecordEpisode(ep); err != nil {
			t.Fatalf("RecordEpisode failed: %v", err)
		}
	}

	got, err := j.RecentEpisodes(2)
	if err != nil {
		t.Fatalf("RecentEpisodes failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 episodes, got %d", len(got))
	}
	if got[0].ID != "ep-e" || got[1].ID != "ep-d" {
		t.Errorf("Expected newest first (ep-e, ep-d), got (%s, %s)", got[0].ID, got[1].ID)
	}
}

// TestRecordEpisodeWithoutTrace verifies a trace-less episode is valid.
func TestRecordEpisodeWithoutTrace(t *testing.T) {
	j := openTestJournal(t)

	ep := types.MotionEpisode{
		ID:        "bare",
		StartedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		EndedAt:   time.Date(2025, 6, 1, 12, 0, 5, 0, time.UTC),
		PeakScore: 11,
		Samples:   1,
	}
	if err := j.RecordEpisode(ep); err != nil {
		t.Fatalf("RecordEpisode failed: %v", err)
	}

	got, err := j.RecentEpisodes(1)
	if err != nil {
		t.Fatalf("RecentEpisodes failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Expected 1 episode, got %d", len(got))
	}
	if len(got[0].Trace) != 0 {
		t.Errorf("Expected empty trace, got %d points", len(got[0].Trace))
	}
}

// TestDuplicateEpisodeID verifies the primary key rejects double records.
func TestDuplicateEpisodeID(t *testing.T) {
	j := openTestJournal(t)

	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ep := testEpisode("dup", start, time.Second)
	if err := j.RecordEpisode(ep); err != nil {
		t.Fatalf("RecordEpisode failed: %v", err)
	}
	if err := j.RecordEpisode(ep); err == nil {
		t.Error("Expected error recording duplicate episode id")
	}
}
