package profile

import "time"

// Profile is the full per-user record: who the user is, how they talk, what
// the system has learned about them. JSON field names match the on-disk
// profile format of earlier versions so exported profiles stay readable.
type Profile struct {
	UserID              string            `json:"user_id"`
	Preferences         Preferences       `json:"preferences"`
	ConversationHistory []Turn            `json:"conversation_history"`
	LearnedPatterns     LearnedPatterns   `json:"learned_patterns"`
	EmotionalBaseline   string            `json:"emotional_baseline"`
	TrustLevel          float64           `json:"trust_level"`
	KnowledgeLevel      float64           `json:"knowledge_level"`
	PersonalFacts       map[string]string `json:"personal_facts"`
	Relationships       map[string]string `json:"relationships"`
	CreatedAt           time.Time         `json:"created_at"`
	LastUpdated         time.Time         `json:"last_updated"`
	InteractionCount    int               `json:"interaction_count"`
}

// Preferences captures language and conversational taste.
type Preferences struct {
	Language           string   `json:"language"`
	CommunicationStyle string   `json:"communication_style"`
	TopicsOfInterest   []string `json:"topics_of_interest"`
	AvoidTopics        []string `json:"avoid_topics"`
}

// Turn is one exchange in the conversation history.
type Turn struct {
	Timestamp     time.Time `json:"timestamp"`
	UserInput     string    `json:"user_input"`
	Response      string    `json:"response"`
	EmotionalTone string    `json:"emotional_tone"`
}

// LearnedPatterns holds interaction patterns mined from past conversations.
type LearnedPatterns struct {
	FrequentPhrases     []string            `json:"frequent_phrases"`
	ResponsePreferences map[string]string   `json:"response_preferences"` // context label → style, e.g. "greeting" → "warm"
	SentimentTriggers   map[string][]string `json:"sentiment_triggers"`   // polarity → trigger phrases
}

// Update describes a partial profile change. Nil fields are left untouched;
// PersonalFacts and Relationships entries are merged into the existing maps.
type Update struct {
	Preferences       *Preferences      `json:"preferences,omitempty"`
	LearnedPatterns   *LearnedPatterns  `json:"learned_patterns,omitempty"`
	EmotionalBaseline *string           `json:"emotional_baseline,omitempty"`
	TrustLevel        *float64          `json:"trust_level,omitempty"`
	KnowledgeLevel    *float64          `json:"knowledge_level,omitempty"`
	PersonalFacts     map[string]string `json:"personal_facts,omitempty"`
	Relationships     map[string]string `json:"relationships,omitempty"`
}
