package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/kalambet/mnemo/internal/storage"
)

// maxHistoryTurns caps the in-profile conversation history. Older turns are
// expected to have been consolidated into episodic memory.
const maxHistoryTurns = 50

// ProfileStore defines the storage operations the Manager needs.
// Implemented by storage.Store.
type ProfileStore interface {
	SaveProfile(p storage.ProfileRecord) error
	GetProfile(userID string) (storage.ProfileRecord, error)
	DeleteProfile(userID string) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type cacheEntry struct {
	profile  Profile
	cachedAt time.Time
}

// Manager provides cached, structured access to per-user profiles stored in
// SQLite. A profile is created on first access with neutral defaults.
type Manager struct {
	store ProfileStore
	clock Clock
	ttl   time.Duration

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// NewManager creates a Manager with a 60-second cache TTL.
func NewManager(store ProfileStore) *Manager {
	return NewManagerWithClock(store, realClock{}, 60*time.Second)
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store ProfileStore, clock Clock, ttl time.Duration) *Manager {
	return &Manager{
		store: store,
		clock: clock,
		ttl:   ttl,
		cache: make(map[string]cacheEntry),
	}
}

// Get returns the profile for userID, creating and persisting a default one
// if none exists yet. The returned profile is a deep copy.
func (m *Manager) Get(userID string) (Profile, error) {
	// Fast path: read lock for cache hit.
	m.mu.RLock()
	if e, ok := m.cache[userID]; ok && m.clock.Now().Before(e.cachedAt.Add(m.ttl)) {
		p := deepCopy(e.profile)
		m.mu.RUnlock()
		return p, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock.
	if e, ok := m.cache[userID]; ok && m.clock.Now().Before(e.cachedAt.Add(m.ttl)) {
		return deepCopy(e.profile), nil
	}

	p, err := m.load(userID)
	if err != nil {
		return Profile{}, err
	}

	m.cache[userID] = cacheEntry{profile: p, cachedAt: m.clock.Now()}
	return deepCopy(p), nil
}

// load reads a profile from storage, creating a default one on first access.
func (m *Manager) load(userID string) (Profile, error) {
	rec, err := m.store.GetProfile(userID)
	if errors.Is(err, storage.ErrNotFound) {
		p := m.defaultProfile(userID)
		if err := m.store.SaveProfile(toRecord(p)); err != nil {
			return Profile{}, fmt.Errorf("creating default profile for %q: %w", userID, err)
		}
		return p, nil
	}
	if err != nil {
		return Profile{}, fmt.Errorf("loading profile for %q: %w", userID, err)
	}
	return fromRecord(rec), nil
}

func (m *Manager) defaultProfile(userID string) Profile {
	now := m.clock.Now().UTC()
	return Profile{
		UserID:            userID,
		EmotionalBaseline: "neutral",
		TrustLevel:        0.5,
		KnowledgeLevel:    0.1,
		PersonalFacts:     map[string]string{},
		Relationships:     map[string]string{},
		CreatedAt:         now,
		LastUpdated:       now,
	}
}

// Apply merges a partial update into the profile and persists it.
func (m *Manager) Apply(userID string, upd Update) (Profile, error) {
	return m.mutate(userID, func(p *Profile) {
		if upd.Preferences != nil {
			p.Preferences = *upd.Preferences
		}
		if upd.LearnedPatterns != nil {
			p.LearnedPatterns = *upd.LearnedPatterns
		}
		if upd.EmotionalBaseline != nil {
			p.EmotionalBaseline = *upd.EmotionalBaseline
		}
		if upd.TrustLevel != nil {
			p.TrustLevel = clamp01(*upd.TrustLevel)
		}
		if upd.KnowledgeLevel != nil {
			p.KnowledgeLevel = clamp01(*upd.KnowledgeLevel)
		}
		for k, v := range upd.PersonalFacts {
			if p.PersonalFacts == nil {
				p.PersonalFacts = map[string]string{}
			}
			p.PersonalFacts[k] = v
		}
		for k, v := range upd.Relationships {
			if p.Relationships == nil {
				p.Relationships = map[string]string{}
			}
			p.Relationships[k] = v
		}
	})
}

// RecordTurn appends a conversation turn, capping history at maxHistoryTurns,
// and increments the interaction counter.
func (m *Manager) RecordTurn(userID string, turn Turn) (Profile, error) {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = m.clock.Now().UTC()
	}
	return m.mutate(userID, func(p *Profile) {
		p.ConversationHistory = append(p.ConversationHistory, turn)
		if n := len(p.ConversationHistory); n > maxHistoryTurns {
			p.ConversationHistory = p.ConversationHistory[n-maxHistoryTurns:]
		}
		p.InteractionCount++
	})
}

// AdjustTrust shifts the trust level by delta, clamped to [0,1].
func (m *Manager) AdjustTrust(userID string, delta float64) (Profile, error) {
	return m.mutate(userID, func(p *Profile) {
		p.TrustLevel = clamp01(p.TrustLevel + delta)
	})
}

// AdjustKnowledge shifts the knowledge level by delta, clamped to [0,1].
func (m *Manager) AdjustKnowledge(userID string, delta float64) (Profile, error) {
	return m.mutate(userID, func(p *Profile) {
		p.KnowledgeLevel = clamp01(p.KnowledgeLevel + delta)
	})
}

// Delete removes a profile and drops it from the cache.
func (m *Manager) Delete(userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.cache, userID)
	return m.store.DeleteProfile(userID)
}

func (m *Manager) mutate(userID string, fn func(*Profile)) (Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.load(userID)
	if err != nil {
		return Profile{}, err
	}

	fn(&p)
	p.LastUpdated = m.clock.Now().UTC()

	if err := m.store.SaveProfile(toRecord(p)); err != nil {
		return Profile{}, fmt.Errorf("saving profile for %q: %w", userID, err)
	}

	m.cache[userID] = cacheEntry{profile: p, cachedAt: m.clock.Now()}
	return deepCopy(p), nil
}

// maxSummaryChars caps the summary to stay under ~500 tokens (4 chars/token).
const maxSummaryChars = 2000

// Summary returns a compact string representation of the profile suitable
// for injection into a system prompt.
func (m *Manager) Summary(userID string) (string, error) {
	p, err := m.Get(userID)
	if err != nil {
		return "", fmt.Errorf("getting profile for summary: %w", err)
	}
	return summarize(p), nil
}

func summarize(p Profile) string {
	var parts []string

	if p.Preferences.Language != "" {
		parts = append(parts, fmt.Sprintf("Language: %s.", p.Preferences.Language))
	}
	if p.Preferences.CommunicationStyle != "" {
		parts = append(parts, fmt.Sprintf("Prefers a %s style.", p.Preferences.CommunicationStyle))
	}
	if len(p.Preferences.TopicsOfInterest) > 0 {
		parts = append(parts, fmt.Sprintf("Interests: %s.", strings.Join(p.Preferences.TopicsOfInterest, ", ")))
	}
	if len(p.Preferences.AvoidTopics) > 0 {
		parts = append(parts, fmt.Sprintf("Avoid: %s.", strings.Join(p.Preferences.AvoidTopics, ", ")))
	}

	parts = append(parts, fmt.Sprintf("Baseline mood %s, trust %.2f, knowledge %.2f.",
		p.EmotionalBaseline, p.TrustLevel, p.KnowledgeLevel))

	// Personal facts, sorted for deterministic output.
	if len(p.PersonalFacts) > 0 {
		keys := make([]string, 0, len(p.PersonalFacts))
		for k := range p.PersonalFacts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var facts []string
		for _, k := range keys {
			facts = append(facts, fmt.Sprintf("%s: %s", k, p.PersonalFacts[k]))
		}
		parts = append(parts, fmt.Sprintf("Known facts: %s.", strings.Join(facts, "; ")))
	}

	if len(p.LearnedPatterns.ResponsePreferences) > 0 {
		contexts := make([]string, 0, len(p.LearnedPatterns.ResponsePreferences))
		for c := range p.LearnedPatterns.ResponsePreferences {
			contexts = append(contexts, c)
		}
		sort.Strings(contexts)
		var prefs []string
		for _, c := range contexts {
			prefs = append(prefs, fmt.Sprintf("%s → %s", c, p.LearnedPatterns.ResponsePreferences[c]))
		}
		parts = append(parts, fmt.Sprintf("Response style: %s.", strings.Join(prefs, ", ")))
	}

	summary := strings.Join(parts, " ")
	if len(summary) > maxSummaryChars {
		// Ensure we don't split a multi-byte UTF-8 character.
		end := maxSummaryChars
		for end > 0 && !utf8.RuneStart(summary[end]) {
			end--
		}
		if idx := strings.LastIndex(summary[:end], " "); idx > 0 {
			summary = summary[:idx]
		} else {
			summary = summary[:end]
		}
	}
	return summary
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func deepCopy(p Profile) Profile {
	cp := p

	if p.ConversationHistory != nil {
		cp.ConversationHistory = make([]Turn, len(p.ConversationHistory))
		copy(cp.ConversationHistory, p.ConversationHistory)
	}
	cp.Preferences.TopicsOfInterest = copyStrings(p.Preferences.TopicsOfInterest)
	cp.Preferences.AvoidTopics = copyStrings(p.Preferences.AvoidTopics)
	cp.LearnedPatterns.FrequentPhrases = copyStrings(p.LearnedPatterns.FrequentPhrases)
	cp.LearnedPatterns.ResponsePreferences = copyStringMap(p.LearnedPatterns.ResponsePreferences)
	if p.LearnedPatterns.SentimentTriggers != nil {
		cp.LearnedPatterns.SentimentTriggers = make(map[string][]string, len(p.LearnedPatterns.SentimentTriggers))
		for k, v := range p.LearnedPatterns.SentimentTriggers {
			cp.LearnedPatterns.SentimentTriggers[k] = copyStrings(v)
		}
	}
	cp.PersonalFacts = copyStringMap(p.PersonalFacts)
	cp.Relationships = copyStringMap(p.Relationships)
	return cp
}

func copyStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func copyStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// toRecord flattens a Profile into its storage row. Structured fields are
// JSON text columns.
func toRecord(p Profile) storage.ProfileRecord {
	return storage.ProfileRecord{
		UserID:              p.UserID,
		Preferences:         marshalField("preferences", p.Preferences),
		ConversationHistory: marshalField("conversation_history", p.ConversationHistory),
		LearnedPatterns:     marshalField("learned_patterns", p.LearnedPatterns),
		EmotionalBaseline:   p.EmotionalBaseline,
		TrustLevel:          clamp01(p.TrustLevel),
		KnowledgeLevel:      clamp01(p.KnowledgeLevel),
		PersonalFacts:       marshalField("personal_facts", p.PersonalFacts),
		Relationships:       marshalField("relationships", p.Relationships),
		CreatedAt:           p.CreatedAt,
		LastUpdated:         p.LastUpdated,
		InteractionCount:    p.InteractionCount,
	}
}

func fromRecord(rec storage.ProfileRecord) Profile {
	p := Profile{
		UserID:            rec.UserID,
		EmotionalBaseline: rec.EmotionalBaseline,
		TrustLevel:        clamp01(rec.TrustLevel),
		KnowledgeLevel:    clamp01(rec.KnowledgeLevel),
		CreatedAt:         rec.CreatedAt,
		LastUpdated:       rec.LastUpdated,
		InteractionCount:  rec.InteractionCount,
	}
	unmarshalField(rec.UserID, "preferences", rec.Preferences, &p.Preferences)
	unmarshalField(rec.UserID, "conversation_history", rec.ConversationHistory, &p.ConversationHistory)
	unmarshalField(rec.UserID, "learned_patterns", rec.LearnedPatterns, &p.LearnedPatterns)
	unmarshalField(rec.UserID, "personal_facts", rec.PersonalFacts, &p.PersonalFacts)
	unmarshalField(rec.UserID, "relationships", rec.Relationships, &p.Relationships)
	if p.PersonalFacts == nil {
		p.PersonalFacts = map[string]string{}
	}
	if p.Relationships == nil {
		p.Relationships = map[string]string{}
	}
	return p
}

func marshalField(field string, v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		// Only reachable with non-serializable values, which the types rule out.
		slog.Warn("failed to marshal profile field", "field", field, "error", err)
		return "{}"
	}
	return string(b)
}

// unmarshalField decodes a JSON column into target, logging a warning if the
// stored value is malformed.
func unmarshalField(userID, field, raw string, target any) {
	if raw == "" {
		return
	}
	if err := json.Unmarshal([]byte(raw), target); err != nil {
		slog.Warn("malformed profile field, skipping", "user_id", userID, "field", field, "error", err)
	}
}
