package storage

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func insertTestEpisode(t *testing.T, s *Store, id, userID, eventType string, importance float64, ts time.Time) {
	t.Helper()
	err := s.InsertEpisode(Episode{
		ID:          id,
		UserID:      userID,
		EventType:   eventType,
		Description: "episode " + id,
		Importance:  importance,
		Timestamp:   ts,
	})
	if err != nil {
		t.Fatalf("InsertEpisode(%s): %v", id, err)
	}
}

// TestEpisodeRoundTrip inserts an episode and reads it back.
func TestEpisodeRoundTrip(t *testing.T) {
	s := openTestStore(t)

	ts := time.Now().UTC().Truncate(time.Second)
	want := Episode{
		ID:               "ep-001",
		UserID:           "user_001",
		EventType:        "conversation",
		Description:      "talked about sourdough starters",
		Timestamp:        ts,
		EmotionalContext: `{"joy":0.8}`,
		Importance:       0.7,
	}
	if err := s.InsertEpisode(want); err != nil {
		t.Fatalf("InsertEpisode: %v", err)
	}

	got, err := s.GetEpisode("ep-001")
	if err != nil {
		t.Fatalf("GetEpisode: %v", err)
	}
	if got.UserID != want.UserID || got.Description != want.Description ||
		got.EmotionalContext != want.EmotionalContext || got.Importance != want.Importance {
		t.Errorf("round-trip mismatch: got %+v", got)
	}
	if got.Metadata != "{}" {
		t.Errorf("empty metadata should default to {}, got %q", got.Metadata)
	}
	if !got.Timestamp.Equal(ts) {
		t.Errorf("timestamp mismatch: %v != %v", got.Timestamp, ts)
	}
}

// TestListEpisodesFilter exercises the user, type, and time filters.
func TestListEpisodesFilter(t *testing.T) {
	s := openTestStore(t)

	now := time.Now().UTC()
	insertTestEpisode(t, s, "e1", "alice", "conversation", 0.5, now.Add(-48*time.Hour))
	insertTestEpisode(t, s, "e2", "alice", "event", 0.5, now.Add(-2*time.Hour))
	insertTestEpisode(t, s, "e3", "bob", "conversation", 0.5, now.Add(-time.Hour))

	byUser, err := s.ListEpisodes(EpisodeFilter{UserID: "alice"})
	if err != nil {
		t.Fatalf("ListEpisodes(user): %v", err)
	}
	if len(byUser) != 2 {
		t.Fatalf("expected 2 episodes for alice, got %d", len(byUser))
	}
	// Newest first.
	if byUser[0].ID != "e2" || byUser[1].ID != "e1" {
		t.Errorf("wrong order: %s, %s", byUser[0].ID, byUser[1].ID)
	}

	byType, err := s.ListEpisodes(EpisodeFilter{UserID: "alice", EventType: "event"})
	if err != nil {
		t.Fatalf("ListEpisodes(type): %v", err)
	}
	if len(byType) != 1 || byType[0].ID != "e2" {
		t.Errorf("type filter returned %v", byType)
	}

	recent, err := s.ListEpisodes(EpisodeFilter{Since: now.Add(-3 * time.Hour)})
	if err != nil {
		t.Fatalf("ListEpisodes(since): %v", err)
	}
	if len(recent) != 2 {
		t.Errorf("expected 2 recent episodes, got %d", len(recent))
	}

	limited, err := s.ListEpisodes(EpisodeFilter{Limit: 1})
	if err != nil {
		t.Fatalf("ListEpisodes(limit): %v", err)
	}
	if len(limited) != 1 || limited[0].ID != "e3" {
		t.Errorf("limit filter returned %v", limited)
	}
}

// TestDeleteEpisodesBefore removes only old, unimportant episodes.
func TestDeleteEpisodesBefore(t *testing.T) {
	s := openTestStore(t)

	now := time.Now().UTC()
	old := now.AddDate(-2, 0, 0)
	insertTestEpisode(t, s, "old-trivial", "u", "event", 0.1, old)
	insertTestEpisode(t, s, "old-important", "u", "event", 0.9, old)
	insertTestEpisode(t, s, "new-trivial", "u", "event", 0.1, now)

	removed, err := s.DeleteEpisodesBefore(now.AddDate(-1, 0, 0), 0.3)
	if err != nil {
		t.Fatalf("DeleteEpisodesBefore: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := s.GetEpisode("old-trivial"); !errors.Is(err, ErrNotFound) {
		t.Error("old trivial episode should be gone")
	}
	if _, err := s.GetEpisode("old-important"); err != nil {
		t.Error("old important episode should survive")
	}
}

// TestTrimEpisodes removes the least important episodes first, up to the cap.
func TestTrimEpisodes(t *testing.T) {
	s := openTestStore(t)

	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		insertTestEpisode(t, s, fmt.Sprintf("trivial-%d", i), "u", "event", 0.05, now.Add(time.Duration(i)*time.Minute))
	}
	insertTestEpisode(t, s, "keeper", "u", "event", 0.5, now)

	removed, err := s.TrimEpisodes(0.1, 3)
	if err != nil {
		t.Fatalf("TrimEpisodes: %v", err)
	}
	if removed != 3 {
		t.Errorf("removed = %d, want 3", removed)
	}

	total, err := s.CountEpisodes()
	if err != nil {
		t.Fatalf("CountEpisodes: %v", err)
	}
	if total != 3 {
		t.Errorf("remaining = %d, want 3", total)
	}
	if _, err := s.GetEpisode("keeper"); err != nil {
		t.Error("important episode should never be trimmed")
	}
	// Oldest trivial episodes go first.
	if _, err := s.GetEpisode("trivial-0"); !errors.Is(err, ErrNotFound) {
		t.Error("oldest trivial episode should be trimmed first")
	}
}

// TestEpisodeAggregates checks counts and averages used by stats.
func TestEpisodeAggregates(t *testing.T) {
	s := openTestStore(t)

	avg, err := s.AvgEpisodeImportance()
	if err != nil {
		t.Fatalf("AvgEpisodeImportance on empty: %v", err)
	}
	if avg != 0 {
		t.Errorf("empty avg = %v, want 0", avg)
	}

	now := time.Now().UTC()
	insertTestEpisode(t, s, "a1", "alice", "event", 0.2, now)
	insertTestEpisode(t, s, "a2", "alice", "event", 0.6, now)
	insertTestEpisode(t, s, "b1", "bob", "event", 0.4, now)

	users, err := s.CountEpisodeUsers()
	if err != nil {
		t.Fatalf("CountEpisodeUsers: %v", err)
	}
	if users != 2 {
		t.Errorf("users = %d, want 2", users)
	}

	avg, err = s.AvgEpisodeImportance()
	if err != nil {
		t.Fatalf("AvgEpisodeImportance: %v", err)
	}
	if avg < 0.39 || avg > 0.41 {
		t.Errorf("avg = %v, want 0.4", avg)
	}
}
