package memory

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/kalambet/mnemo/internal/storage"
)

// extractedFactConfidence is assigned to facts mined from episode text, lower
// than directly-stated facts.
const extractedFactConfidence = 0.7

// ConsolidatorStore defines the storage operations the Consolidator needs.
type ConsolidatorStore interface {
	InsertEpisode(e storage.Episode) error
	GetEpisode(id string) (storage.Episode, error)
	UpsertFact(subject, predicate, object string, confidence float64, source string) (int64, bool, error)
}

// Consolidator moves information into long-term memory: episodes into the
// episodic store, facts into the semantic store, and facts mined out of
// episode descriptions.
type Consolidator struct {
	store  ConsolidatorStore
	logger *slog.Logger
}

func NewConsolidator(store ConsolidatorStore) *Consolidator {
	return &Consolidator{store: store, logger: slog.Default()}
}

// StoreEpisode persists an event in episodic memory and returns its ID.
// Importance is clamped to [0,1].
func (c *Consolidator) StoreEpisode(userID, eventType, description string, emotional map[string]float64, importance float64) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("user_id is required")
	}
	if description == "" {
		return "", fmt.Errorf("description is required")
	}

	emotionalJSON := "{}"
	if len(emotional) > 0 {
		b, err := json.Marshal(emotional)
		if err != nil {
			return "", fmt.Errorf("marshalling emotional context: %w", err)
		}
		emotionalJSON = string(b)
	}

	e := storage.Episode{
		ID:               uuid.New().String(),
		UserID:           userID,
		EventType:        eventType,
		Description:      description,
		EmotionalContext: emotionalJSON,
		Importance:       clampImportance(importance),
	}
	if err := c.store.InsertEpisode(e); err != nil {
		return "", fmt.Errorf("storing episode: %w", err)
	}

	c.logger.Info("episode stored", "episode_id", e.ID, "user_id", userID, "event_type", eventType)
	return e.ID, nil
}

// StoreFact persists a subject-predicate-object triple in semantic memory.
// An existing triple has its confidence replaced and access count bumped.
func (c *Consolidator) StoreFact(subject, predicate, object string, confidence float64, source string) (int64, error) {
	if subject == "" || predicate == "" || object == "" {
		return 0, fmt.Errorf("subject, predicate, and object are all required")
	}

	id, created, err := c.store.UpsertFact(subject, predicate, object, confidence, source)
	if err != nil {
		return 0, fmt.Errorf("storing fact: %w", err)
	}
	if created {
		c.logger.Debug("fact created", "fact_id", id, "subject", subject, "predicate", predicate)
	} else {
		c.logger.Debug("fact updated", "fact_id", id)
	}
	return id, nil
}

// ShortTermItem is a unit of short-term memory handed over for consolidation.
// Kind selects which fields are meaningful.
type ShortTermItem struct {
	Kind string `json:"kind"` // "episode" or "fact"

	// Episode fields.
	UserID      string             `json:"user_id,omitempty"`
	EventType   string             `json:"event_type,omitempty"`
	Description string             `json:"description,omitempty"`
	Emotional   map[string]float64 `json:"emotional_context,omitempty"`
	Importance  float64            `json:"importance,omitempty"`

	// Fact fields.
	Subject    string  `json:"subject,omitempty"`
	Predicate  string  `json:"predicate,omitempty"`
	Object     string  `json:"object,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Source     string  `json:"source,omitempty"`
}

// ConsolidateResult counts what a batch consolidation stored.
type ConsolidateResult struct {
	EpisodesStored int `json:"episodes_stored"`
	FactsStored    int `json:"facts_stored"`
	Skipped        int `json:"skipped"`
}

// Consolidate stores a batch of short-term items. Invalid items are skipped,
// not fatal; the result reports how each item fared.
func (c *Consolidator) Consolidate(items []ShortTermItem) ConsolidateResult {
	var res ConsolidateResult
	for _, item := range items {
		switch item.Kind {
		case "episode":
			if _, err := c.StoreEpisode(item.UserID, item.EventType, item.Description, item.Emotional, item.Importance); err != nil {
				c.logger.Warn("skipping episode during consolidation", "error", err)
				res.Skipped++
				continue
			}
			res.EpisodesStored++
		case "fact":
			confidence := item.Confidence
			if confidence == 0 {
				confidence = 1.0
			}
			source := item.Source
			if source == "" {
				source = "short_term"
			}
			if _, err := c.StoreFact(item.Subject, item.Predicate, item.Object, confidence, source); err != nil {
				c.logger.Warn("skipping fact during consolidation", "error", err)
				res.Skipped++
				continue
			}
			res.FactsStored++
		default:
			c.logger.Warn("unknown short-term item kind", "kind", item.Kind)
			res.Skipped++
		}
	}
	c.logger.Info("consolidation finished",
		"episodes", res.EpisodesStored, "facts", res.FactsStored, "skipped", res.Skipped)
	return res
}

// ExtractFactsFromEpisode mines subject-predicate-object triples out of an
// episode description and stores them with reduced confidence. Returns the
// IDs of the stored facts.
func (c *Consolidator) ExtractFactsFromEpisode(episodeID string) ([]int64, error) {
	episode, err := c.store.GetEpisode(episodeID)
	if err != nil {
		return nil, fmt.Errorf("loading episode %s: %w", episodeID, err)
	}

	triples := extractTriples(episode.Description)
	ids := make([]int64, 0, len(triples))
	for _, t := range triples {
		id, err := c.StoreFact(t.subject, t.predicate, t.object,
			extractedFactConfidence, "episode:"+episodeID)
		if err != nil {
			c.logger.Warn("skipping extracted fact", "episode_id", episodeID, "error", err)
			continue
		}
		ids = append(ids, id)
	}

	c.logger.Info("facts extracted from episode", "episode_id", episodeID, "count", len(ids))
	return ids, nil
}

type triple struct {
	subject, predicate, object string
}

// factPatterns maps a phrase in running text to a fact predicate. The phrase
// splits the sentence: words before become the subject, words after the object.
var factPatterns = []struct {
	phrase    string
	predicate string
}{
	{"lives in", "lives_in"},
	{"works at", "works_at"},
	{"works as", "works_as"},
	{"likes", "likes"},
	{"loves", "likes"},
	{"dislikes", "dislikes"},
	{"hates", "dislikes"},
}

// extractTriples performs shallow pattern matching over the description.
// It is deliberately naive; richer extraction belongs to an NLP layer
// upstream of the memory service.
func extractTriples(text string) []triple {
	var out []triple
	for _, sentence := range strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == ';' || r == '\n'
	}) {
		words := strings.Fields(sentence)
		for _, p := range factPatterns {
			phraseWords := strings.Fields(p.phrase)
			idx := indexOfPhrase(words, phraseWords)
			if idx <= 0 || idx+len(phraseWords) >= len(words) {
				continue
			}
			out = append(out, triple{
				subject:   strings.Join(words[:idx], " "),
				predicate: p.predicate,
				object:    strings.Join(words[idx+len(phraseWords):], " "),
			})
			break
		}
	}
	return out
}

func indexOfPhrase(words, phrase []string) int {
	for i := 0; i+len(phrase) <= len(words); i++ {
		match := true
		for j, pw := range phrase {
			if !strings.EqualFold(words[i+j], pw) {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func clampImportance(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
