package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ProfileRecord is the persisted form of a user profile. The structured
// fields (preferences, history, patterns, facts, relationships) are JSON
// text; the profile package owns their shapes.
type ProfileRecord struct {
	UserID              string
	Preferences         string
	ConversationHistory string
	LearnedPatterns     string
	EmotionalBaseline   string
	TrustLevel          float64
	KnowledgeLevel      float64
	PersonalFacts       string
	Relationships       string
	CreatedAt           time.Time
	LastUpdated         time.Time
	InteractionCount    int
}

// Episode is a single event in episodic memory.
type Episode struct {
	ID               string
	UserID           string
	EventType        string
	Description      string
	Timestamp        time.Time
	EmotionalContext string // JSON object stored as text
	Importance       float64
	Metadata         string // JSON object stored as text
}

// EpisodeFilter narrows ListEpisodes. Zero values mean "no constraint".
type EpisodeFilter struct {
	UserID    string
	EventType string
	Since     time.Time
	Limit     int
}

// Fact is a subject-predicate-object triple in semantic memory.
type Fact struct {
	ID           int64
	Subject      string
	Predicate    string
	Object       string
	Confidence   float64
	Source       string
	LastAccessed time.Time
	AccessCount  int
	Metadata     string
}

// Entity is a node in the knowledge graph.
type Entity struct {
	ID         int64
	Name       string
	Type       string
	Attributes string // JSON object stored as text
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// RelatedEntity is an entity plus the relationship that reached it.
type RelatedEntity struct {
	Entity
	RelationshipType string
	Confidence       float64
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
