package storage

import (
	"database/sql"
	"fmt"
	"time"
)

const profileColumns = `user_id, preferences, conversation_history, learned_patterns,
	emotional_baseline, trust_level, knowledge_level, personal_facts, relationships,
	created_at, last_updated, interaction_count`

// SaveProfile inserts or replaces a full profile record.
func (s *Store) SaveProfile(p ProfileRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO user_profiles (`+profileColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			preferences = excluded.preferences,
			conversation_history = excluded.conversation_history,
			learned_patterns = excluded.learned_patterns,
			emotional_baseline = excluded.emotional_baseline,
			trust_level = excluded.trust_level,
			knowledge_level = excluded.knowledge_level,
			personal_facts = excluded.personal_facts,
			relationships = excluded.relationships,
			last_updated = excluded.last_updated,
			interaction_count = excluded.interaction_count`,
		p.UserID, p.Preferences, p.ConversationHistory, p.LearnedPatterns,
		p.EmotionalBaseline, p.TrustLevel, p.KnowledgeLevel, p.PersonalFacts, p.Relationships,
		p.CreatedAt.UTC().Format(time.RFC3339), p.LastUpdated.UTC().Format(time.RFC3339),
		p.InteractionCount,
	)
	return err
}

// GetProfile loads a profile record by user ID.
func (s *Store) GetProfile(userID string) (ProfileRecord, error) {
	var p ProfileRecord
	var createdAt, lastUpdated string
	err := s.db.QueryRow(`
		SELECT `+profileColumns+` FROM user_profiles WHERE user_id = ?`, userID,
	).Scan(&p.UserID, &p.Preferences, &p.ConversationHistory, &p.LearnedPatterns,
		&p.EmotionalBaseline, &p.TrustLevel, &p.KnowledgeLevel, &p.PersonalFacts, &p.Relationships,
		&createdAt, &lastUpdated, &p.InteractionCount)
	if err == sql.ErrNoRows {
		return ProfileRecord{}, ErrNotFound
	}
	if err != nil {
		return ProfileRecord{}, err
	}
	if p.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return ProfileRecord{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if p.LastUpdated, err = time.Parse(time.RFC3339, lastUpdated); err != nil {
		return ProfileRecord{}, fmt.Errorf("parsing last_updated: %w", err)
	}
	return p, nil
}

// DeleteProfile removes a profile by user ID.
func (s *Store) DeleteProfile(userID string) error {
	res, err := s.db.Exec(`DELETE FROM user_profiles WHERE user_id = ?`, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListProfileIDs returns all known user IDs.
func (s *Store) ListProfileIDs() ([]string, error) {
	rows, err := s.db.Query(`SELECT user_id FROM user_profiles ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteProfilesNotUpdatedSince removes profiles whose last_updated is before
// cutoff and returns the number removed.
func (s *Store) DeleteProfilesNotUpdatedSince(cutoff time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM user_profiles WHERE last_updated < ?`,
		cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// CountProfiles returns the number of stored profiles.
func (s *Store) CountProfiles() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM user_profiles`).Scan(&n)
	return n, err
}
