package storage

import (
	"database/sql"
	"fmt"
	"time"
)

const episodeColumns = `id, user_id, event_type, description, timestamp,
	emotional_context, importance_score, metadata`

// InsertEpisode stores a new episode. Timestamp defaults to now if zero.
func (s *Store) InsertEpisode(e Episode) error {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	emotional := e.EmotionalContext
	if emotional == "" {
		emotional = "{}"
	}
	metadata := e.Metadata
	if metadata == "" {
		metadata = "{}"
	}
	_, err := s.db.Exec(`
		INSERT INTO episodes (`+episodeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.EventType, e.Description, ts.UTC().Format(time.RFC3339),
		emotional, e.Importance, metadata,
	)
	return err
}

// GetEpisode loads a single episode by ID.
func (s *Store) GetEpisode(id string) (Episode, error) {
	row := s.db.QueryRow(`SELECT `+episodeColumns+` FROM episodes WHERE id = ?`, id)
	e, err := scanEpisode(row)
	if err == sql.ErrNoRows {
		return Episode{}, ErrNotFound
	}
	return e, err
}

// ListEpisodes returns episodes matching the filter, newest first.
func (s *Store) ListEpisodes(f EpisodeFilter) ([]Episode, error) {
	query := `SELECT ` + episodeColumns + ` FROM episodes WHERE 1=1`
	var args []any
	if f.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, f.UserID)
	}
	if f.EventType != "" {
		query += ` AND event_type = ?`
		args = append(args, f.EventType)
	}
	if !f.Since.IsZero() {
		query += ` AND timestamp > ?`
		args = append(args, f.Since.UTC().Format(time.RFC3339))
	}
	query += ` ORDER BY timestamp DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Episode
	for rows.Next() {
		e, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// DeleteEpisode removes an episode by ID.
func (s *Store) DeleteEpisode(id string) error {
	res, err := s.db.Exec(`DELETE FROM episodes WHERE id = ?`, id)
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

// DeleteEpisodesBefore removes episodes older than cutoff whose importance is
// below maxImportance and returns the number removed.
func (s *Store) DeleteEpisodesBefore(cutoff time.Time, maxImportance float64) (int, error) {
	res, err := s.db.Exec(`
		DELETE FROM episodes WHERE timestamp < ? AND importance_score < ?`,
		cutoff.UTC().Format(time.RFC3339), maxImportance)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// TrimEpisodes removes up to n episodes with importance below maxImportance,
// least important and oldest first. Used when episodic memory overflows.
func (s *Store) TrimEpisodes(maxImportance float64, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	res, err := s.db.Exec(`
		DELETE FROM episodes WHERE id IN (
			SELECT id FROM episodes
			WHERE importance_score < ?
			ORDER BY importance_score ASC, timestamp ASC
			LIMIT ?)`,
		maxImportance, n)
	if err != nil {
		return 0, err
	}
	removed, err := res.RowsAffected()
	return int(removed), err
}

// CountEpisodes returns the total number of episodes.
func (s *Store) CountEpisodes() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM episodes`).Scan(&n)
	return n, err
}

// CountEpisodeUsers returns the number of distinct users with episodes.
func (s *Store) CountEpisodeUsers() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(DISTINCT user_id) FROM episodes`).Scan(&n)
	return n, err
}

// AvgEpisodeImportance returns the mean importance score, 0 when empty.
func (s *Store) AvgEpisodeImportance() (float64, error) {
	var avg sql.NullFloat64
	err := s.db.QueryRow(`SELECT AVG(importance_score) FROM episodes`).Scan(&avg)
	return avg.Float64, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEpisode(row rowScanner) (Episode, error) {
	var e Episode
	var ts string
	err := row.Scan(&e.ID, &e.UserID, &e.EventType, &e.Description, &ts,
		&e.EmotionalContext, &e.Importance, &e.Metadata)
	if err != nil {
		return Episode{}, err
	}
	if e.Timestamp, err = time.Parse(time.RFC3339, ts); err != nil {
		return Episode{}, fmt.Errorf("parsing episode timestamp: %w", err)
	}
	return e, nil
}
