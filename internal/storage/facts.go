package storage

import (
	"database/sql"
	"fmt"
	"time"
)

const factColumns = `id, subject, predicate, object, confidence, source,
	last_accessed, access_count, metadata`

// UpsertFact stores a subject-predicate-object triple. When the triple
// already exists its confidence is replaced and the access count bumped;
// otherwise a new fact is created. Returns the fact ID and whether the fact
// was newly created.
func (s *Store) UpsertFact(subject, predicate, object string, confidence float64, source string) (int64, bool, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	var id int64
	err := s.db.QueryRow(`
		SELECT id FROM facts WHERE subject = ? AND predicate = ? AND object = ?`,
		subject, predicate, object,
	).Scan(&id)
	switch {
	case err == sql.ErrNoRows:
		res, err := s.db.Exec(`
			INSERT INTO facts (subject, predicate, object, confidence, source, last_accessed)
			VALUES (?, ?, ?, ?, ?, ?)`,
			subject, predicate, object, confidence, source, now)
		if err != nil {
			return 0, false, err
		}
		id, err = res.LastInsertId()
		return id, true, err
	case err != nil:
		return 0, false, err
	}

	_, err = s.db.Exec(`
		UPDATE facts SET confidence = ?, last_accessed = ?, access_count = access_count + 1
		WHERE id = ?`, confidence, now, id)
	return id, false, err
}

// GetFact loads a single fact by ID.
func (s *Store) GetFact(id int64) (Fact, error) {
	row := s.db.QueryRow(`SELECT `+factColumns+` FROM facts WHERE id = ?`, id)
	f, err := scanFact(row)
	if err == sql.ErrNoRows {
		return Fact{}, ErrNotFound
	}
	return f, err
}

// SearchFacts returns facts whose subject, predicate, or object contains the
// query substring, highest confidence and most accessed first.
func (s *Store) SearchFacts(query string, limit int) ([]Fact, error) {
	pattern := "%" + query + "%"
	rows, err := s.db.Query(`
		SELECT `+factColumns+` FROM facts
		WHERE subject LIKE ? OR predicate LIKE ? OR object LIKE ?
		ORDER BY confidence DESC, access_count DESC
		LIMIT ?`, pattern, pattern, pattern, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectFacts(rows)
}

// FactsMatchingAny returns facts where any of subject, predicate, or object
// matches exactly. Used by the knowledge graph to find association candidates.
func (s *Store) FactsMatchingAny(subject, predicate, object string) ([]Fact, error) {
	rows, err := s.db.Query(`
		SELECT `+factColumns+` FROM facts
		WHERE subject = ? OR predicate = ? OR object = ?`,
		subject, predicate, object)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectFacts(rows)
}

// BumpFactAccess increments a fact's access count and refreshes last_accessed.
func (s *Store) BumpFactAccess(id int64) error {
	_, err := s.db.Exec(`
		UPDATE facts SET access_count = access_count + 1, last_accessed = ?
		WHERE id = ?`, time.Now().UTC().Format(time.RFC3339), id)
	return err
}

// DeleteFact removes a fact by ID.
func (s *Store) DeleteFact(id int64) error {
	res, err := s.db.Exec(`DELETE FROM facts WHERE id = ?`, id)
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

// DeleteLowConfidenceFacts removes facts below the confidence threshold that
// have been accessed fewer than minAccess times.
func (s *Store) DeleteLowConfidenceFacts(maxConfidence float64, minAccess int) (int, error) {
	res, err := s.db.Exec(`
		DELETE FROM facts WHERE confidence < ? AND access_count < ?`,
		maxConfidence, minAccess)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// DeleteUnusedFacts removes facts not accessed since cutoff with fewer than
// minAccess accesses.
func (s *Store) DeleteUnusedFacts(cutoff time.Time, minAccess int) (int, error) {
	res, err := s.db.Exec(`
		DELETE FROM facts WHERE last_accessed < ? AND access_count < ?`,
		cutoff.UTC().Format(time.RFC3339), minAccess)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// CountFacts returns the total number of facts.
func (s *Store) CountFacts() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM facts`).Scan(&n)
	return n, err
}

// AvgFactConfidence returns the mean confidence, 0 when empty.
func (s *Store) AvgFactConfidence() (float64, error) {
	var avg sql.NullFloat64
	err := s.db.QueryRow(`SELECT AVG(confidence) FROM facts`).Scan(&avg)
	return avg.Float64, err
}

// AvgFactAccessCount returns the mean access count, 0 when empty.
func (s *Store) AvgFactAccessCount() (float64, error) {
	var avg sql.NullFloat64
	err := s.db.QueryRow(`SELECT AVG(access_count) FROM facts`).Scan(&avg)
	return avg.Float64, err
}

func scanFact(row rowScanner) (Fact, error) {
	var f Fact
	var lastAccessed string
	err := row.Scan(&f.ID, &f.Subject, &f.Predicate, &f.Object, &f.Confidence,
		&f.Source, &lastAccessed, &f.AccessCount, &f.Metadata)
	if err != nil {
		return Fact{}, err
	}
	if f.LastAccessed, err = time.Parse(time.RFC3339, lastAccessed); err != nil {
		return Fact{}, fmt.Errorf("parsing fact last_accessed: %w", err)
	}
	return f, nil
}

func collectFacts(rows *sql.Rows) ([]Fact, error) {
	var results []Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, f)
	}
	return results, rows.Err()
}
