package memory

import (
	"strings"
	"sync"
	"testing"

	"github.com/kalambet/mnemo/internal/storage"
)

// mockConsolidatorStore records stored episodes and facts in memory.
type mockConsolidatorStore struct {
	mu       sync.Mutex
	episodes map[string]storage.Episode
	facts    []storage.Fact
	nextID   int64
}

func newMockConsolidatorStore() *mockConsolidatorStore {
	return &mockConsolidatorStore{episodes: make(map[string]storage.Episode)}
}

func (m *mockConsolidatorStore) InsertEpisode(e storage.Episode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.episodes[e.ID] = e
	return nil
}

func (m *mockConsolidatorStore) GetEpisode(id string) (storage.Episode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.episodes[id]
	if !ok {
		return storage.Episode{}, storage.ErrNotFound
	}
	return e, nil
}

func (m *mockConsolidatorStore) UpsertFact(subject, predicate, object string, confidence float64, source string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.facts {
		if f.Subject == subject && f.Predicate == predicate && f.Object == object {
			return f.ID, false, nil
		}
	}
	m.nextID++
	m.facts = append(m.facts, storage.Fact{
		ID: m.nextID, Subject: subject, Predicate: predicate, Object: object,
		Confidence: confidence, Source: source,
	})
	return m.nextID, true, nil
}

// TestStoreEpisodeValidation rejects missing user and description, and
// clamps importance into [0,1].
func TestStoreEpisodeValidation(t *testing.T) {
	store := newMockConsolidatorStore()
	c := NewConsolidator(store)

	if _, err := c.StoreEpisode("", "event", "something happened", nil, 0.5); err == nil {
		t.Error("expected error for empty user ID")
	}
	if _, err := c.StoreEpisode("u", "event", "", nil, 0.5); err == nil {
		t.Error("expected error for empty description")
	}

	id, err := c.StoreEpisode("u", "event", "something happened", nil, 3.0)
	if err != nil {
		t.Fatalf("StoreEpisode: %v", err)
	}
	e := store.episodes[id]
	if e.Importance != 1.0 {
		t.Errorf("importance = %v, want clamped to 1.0", e.Importance)
	}
	if e.EmotionalContext != "{}" {
		t.Errorf("emotional context = %q, want {}", e.EmotionalContext)
	}
}

// TestStoreEpisodeEmotionalContext serializes the emotion map.
func TestStoreEpisodeEmotionalContext(t *testing.T) {
	store := newMockConsolidatorStore()
	c := NewConsolidator(store)

	id, err := c.StoreEpisode("u", "event", "great news", map[string]float64{"joy": 0.9}, 0.5)
	if err != nil {
		t.Fatalf("StoreEpisode: %v", err)
	}
	if got := store.episodes[id].EmotionalContext; got != `{"joy":0.9}` {
		t.Errorf("emotional context = %q", got)
	}
}

// TestStoreFactValidation rejects incomplete triples.
func TestStoreFactValidation(t *testing.T) {
	c := NewConsolidator(newMockConsolidatorStore())

	if _, err := c.StoreFact("", "likes", "jazz", 1.0, "test"); err == nil {
		t.Error("expected error for empty subject")
	}
	if _, err := c.StoreFact("alice", "", "jazz", 1.0, "test"); err == nil {
		t.Error("expected error for empty predicate")
	}
	if _, err := c.StoreFact("alice", "likes", "", 1.0, "test"); err == nil {
		t.Error("expected error for empty object")
	}
}

// TestConsolidateBatch stores a mixed batch and skips invalid items.
func TestConsolidateBatch(t *testing.T) {
	store := newMockConsolidatorStore()
	c := NewConsolidator(store)

	res := c.Consolidate([]ShortTermItem{
		{Kind: "episode", UserID: "u", Description: "went to the market"},
		{Kind: "fact", Subject: "alice", Predicate: "likes", Object: "jazz"},
		{Kind: "episode", UserID: "", Description: "missing user"},
		{Kind: "banana"},
	})

	if res.EpisodesStored != 1 {
		t.Errorf("episodes stored = %d, want 1", res.EpisodesStored)
	}
	if res.FactsStored != 1 {
		t.Errorf("facts stored = %d, want 1", res.FactsStored)
	}
	if res.Skipped != 2 {
		t.Errorf("skipped = %d, want 2", res.Skipped)
	}

	// Fact with zero confidence gets the 1.0 default and the short_term source.
	f := store.facts[0]
	if f.Confidence != 1.0 {
		t.Errorf("default confidence = %v, want 1.0", f.Confidence)
	}
	if f.Source != "short_term" {
		t.Errorf("default source = %q, want short_term", f.Source)
	}
}

// TestExtractTriples covers the pattern-matching extraction rules.
func TestExtractTriples(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []triple
	}{
		{
			name: "lives in",
			text: "Alice lives in Amsterdam",
			want: []triple{{"Alice", "lives_in", "Amsterdam"}},
		},
		{
			name: "case insensitive",
			text: "Bob LIKES jazz",
			want: []triple{{"Bob", "likes", "jazz"}},
		},
		{
			name: "loves maps to likes",
			text: "Carol loves hiking in the mountains",
			want: []triple{{"Carol", "likes", "hiking in the mountains"}},
		},
		{
			name: "multiple sentences",
			text: "Alice works at Acme. Alice hates mornings.",
			want: []triple{
				{"Alice", "works_at", "Acme"},
				{"Alice", "dislikes", "mornings"},
			},
		},
		{
			name: "no subject",
			text: "likes jazz",
			want: nil,
		},
		{
			name: "no object",
			text: "Alice likes",
			want: nil,
		},
		{
			name: "no pattern",
			text: "the weather was nice today",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractTriples(tt.text)
			if len(got) != len(tt.want) {
				t.Fatalf("extracted %d triples, want %d: %v", len(got), len(tt.want), got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("triple %d = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

// TestExtractFactsFromEpisode mines facts with reduced confidence and an
// episode-tagged source.
func TestExtractFactsFromEpisode(t *testing.T) {
	store := newMockConsolidatorStore()
	c := NewConsolidator(store)

	id, err := c.StoreEpisode("u", "conversation", "Alice lives in Amsterdam. Alice likes cycling.", nil, 0.5)
	if err != nil {
		t.Fatalf("StoreEpisode: %v", err)
	}

	ids, err := c.ExtractFactsFromEpisode(id)
	if err != nil {
		t.Fatalf("ExtractFactsFromEpisode: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("extracted %d facts, want 2", len(ids))
	}

	for _, f := range store.facts {
		if f.Confidence != extractedFactConfidence {
			t.Errorf("confidence = %v, want %v", f.Confidence, extractedFactConfidence)
		}
		if !strings.HasPrefix(f.Source, "episode:") {
			t.Errorf("source = %q, want episode-tagged", f.Source)
		}
	}
}

// TestExtractFactsFromMissingEpisode propagates the not-found error.
func TestExtractFactsFromMissingEpisode(t *testing.T) {
	c := NewConsolidator(newMockConsolidatorStore())

	if _, err := c.ExtractFactsFromEpisode("ghost"); err == nil {
		t.Error("expected error for missing episode")
	}
}
