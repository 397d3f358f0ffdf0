package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/kalambet/mnemo/internal/storage"
)

// mockRetrieverStore serves canned facts and episodes and records bumps.
type mockRetrieverStore struct {
	mu       sync.Mutex
	facts    []storage.Fact
	episodes []storage.Episode
	bumped   []int64
}

func (m *mockRetrieverStore) SearchFacts(query string, limit int) ([]storage.Fact, error) {
	return m.facts, nil
}

func (m *mockRetrieverStore) BumpFactAccess(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bumped = append(m.bumped, id)
	return nil
}

func (m *mockRetrieverStore) ListEpisodes(f storage.EpisodeFilter) ([]storage.Episode, error) {
	return m.episodes, nil
}

// TestRelatedFactsRanking orders facts by word overlap with the query and
// bumps every returned fact.
func TestRelatedFactsRanking(t *testing.T) {
	store := &mockRetrieverStore{
		facts: []storage.Fact{
			{ID: 1, Subject: "bob", Predicate: "likes", Object: "classical"},
			{ID: 2, Subject: "alice", Predicate: "likes", Object: "jazz music"},
		},
	}
	r := NewRetriever(store)

	scored, err := r.RelatedFacts("alice jazz", 10)
	if err != nil {
		t.Fatalf("RelatedFacts: %v", err)
	}
	if len(scored) != 2 {
		t.Fatalf("got %d facts, want 2", len(scored))
	}
	if scored[0].ID != 2 {
		t.Errorf("best match ID = %d, want 2", scored[0].ID)
	}
	if scored[0].Relevance != 1.0 {
		t.Errorf("relevance = %v, want 1.0", scored[0].Relevance)
	}
	if len(store.bumped) != 2 {
		t.Errorf("bumped %d facts, want 2", len(store.bumped))
	}
}

// TestRelevanceFraction computes the share of query words present in the fact.
func TestRelevanceFraction(t *testing.T) {
	f := storage.Fact{Subject: "alice", Predicate: "lives_in", Object: "Amsterdam"}

	got := relevance(wordSet("where does alice live"), f)
	// Only "alice" of the four query words appears in the fact text.
	if got != 0.25 {
		t.Errorf("relevance = %v, want 0.25", got)
	}

	if relevance(wordSet(""), f) != 0 {
		t.Error("empty query should score 0")
	}
}

// TestJaccard covers the similarity edge cases.
func TestJaccard(t *testing.T) {
	a := wordSet("the cat sat on the mat")
	b := wordSet("the cat sat")

	got := jaccard(a, b)
	// Sets: {the cat sat on mat} and {the cat sat}: 3 common, 5 union.
	if got < 0.59 || got > 0.61 {
		t.Errorf("jaccard = %v, want 0.6", got)
	}

	if jaccard(a, a) != 1.0 {
		t.Error("identical sets should score 1.0")
	}
	if jaccard(a, wordSet("")) != 0 {
		t.Error("empty set should score 0")
	}
	if jaccard(wordSet("dog"), wordSet("cat")) != 0 {
		t.Error("disjoint sets should score 0")
	}
}

// TestSimilarEpisodesThreshold drops episodes below the similarity floor and
// orders the rest best-first.
func TestSimilarEpisodesThreshold(t *testing.T) {
	store := &mockRetrieverStore{
		episodes: []storage.Episode{
			{ID: "near", Description: "talked about jazz concerts in Amsterdam"},
			{ID: "exact", Description: "jazz concerts in Amsterdam"},
			{ID: "far", Description: "debugging a kernel panic on the test rig"},
		},
	}
	r := NewRetriever(store)

	scored, err := r.SimilarEpisodes(context.Background(), "jazz concerts in Amsterdam", "")
	if err != nil {
		t.Fatalf("SimilarEpisodes: %v", err)
	}
	if len(scored) != 2 {
		t.Fatalf("got %d episodes, want 2", len(scored))
	}
	if scored[0].ID != "exact" {
		t.Errorf("best match = %s, want exact", scored[0].ID)
	}
	if scored[0].Similarity != 1.0 {
		t.Errorf("similarity = %v, want 1.0", scored[0].Similarity)
	}
}

// TestSimilarEpisodesCap limits results to the maximum.
func TestSimilarEpisodesCap(t *testing.T) {
	store := &mockRetrieverStore{}
	for i := 0; i < 20; i++ {
		store.episodes = append(store.episodes, storage.Episode{
			ID:          fmt.Sprintf("e%d", i),
			Description: "morning coffee at the usual cafe",
		})
	}
	r := NewRetriever(store)

	scored, err := r.SimilarEpisodes(context.Background(), "coffee at the cafe", "")
	if err != nil {
		t.Fatalf("SimilarEpisodes: %v", err)
	}
	if len(scored) != maxSimilarEpisodes {
		t.Errorf("got %d episodes, want %d", len(scored), maxSimilarEpisodes)
	}
}

// TestSimilarEpisodesEmpty returns nothing for an empty store.
func TestSimilarEpisodesEmpty(t *testing.T) {
	r := NewRetriever(&mockRetrieverStore{})

	scored, err := r.SimilarEpisodes(context.Background(), "anything", "")
	if err != nil {
		t.Fatalf("SimilarEpisodes: %v", err)
	}
	if scored != nil {
		t.Errorf("expected nil, got %v", scored)
	}
}

// TestSimilarEpisodesCancelled respects a cancelled context.
func TestSimilarEpisodesCancelled(t *testing.T) {
	store := &mockRetrieverStore{
		episodes: []storage.Episode{{ID: "e1", Description: "something"}},
	}
	r := NewRetriever(store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := r.SimilarEpisodes(ctx, "something", ""); err == nil {
		t.Error("expected context error")
	}
}
