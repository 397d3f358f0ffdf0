package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertEntity creates or refreshes a named entity and returns its ID.
// Attributes replace the stored ones when non-empty.
func (s *Store) UpsertEntity(name, entityType, attributes string) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	if attributes == "" {
		attributes = "{}"
	}

	var id int64
	err := s.db.QueryRow(`SELECT id FROM entities WHERE name = ?`, name).Scan(&id)
	switch {
	case err == sql.ErrNoRows:
		res, err := s.db.Exec(`
			INSERT INTO entities (name, type, attributes, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)`,
			name, entityType, attributes, now, now)
		if err != nil {
			return 0, err
		}
		return res.LastInsertId()
	case err != nil:
		return 0, err
	}

	_, err = s.db.Exec(`
		UPDATE entities SET type = ?, attributes = ?, updated_at = ? WHERE id = ?`,
		entityType, attributes, now, id)
	return id, err
}

// GetEntityByName loads an entity by exact name.
func (s *Store) GetEntityByName(name string) (Entity, error) {
	row := s.db.QueryRow(`
		SELECT id, name, type, attributes, created_at, updated_at
		FROM entities WHERE name = ?`, name)
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return Entity{}, ErrNotFound
	}
	return e, err
}

// SearchEntities returns entities whose name contains the query substring.
func (s *Store) SearchEntities(query string) ([]Entity, error) {
	rows, err := s.db.Query(`
		SELECT id, name, type, attributes, created_at, updated_at
		FROM entities WHERE name LIKE ?`, "%"+query+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// InsertRelationship links two entities and returns the relationship ID.
func (s *Store) InsertRelationship(sourceID, targetID int64, relType string, confidence float64, metadata string) (int64, error) {
	if metadata == "" {
		metadata = "{}"
	}
	res, err := s.db.Exec(`
		INSERT INTO relationships (source_id, target_id, relationship_type, confidence, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sourceID, targetID, relType, confidence, metadata,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// RelatedEntities returns entities linked to entityID in either direction,
// optionally restricted to one relationship type.
func (s *Store) RelatedEntities(entityID int64, relType string) ([]RelatedEntity, error) {
	query := `
		SELECT e.id, e.name, e.type, e.attributes, e.created_at, e.updated_at,
		       r.relationship_type, r.confidence
		FROM entities e
		JOIN relationships r ON e.id = r.target_id
		WHERE r.source_id = ?` + typeClause(relType) + `
		UNION
		SELECT e.id, e.name, e.type, e.attributes, e.created_at, e.updated_at,
		       r.relationship_type, r.confidence
		FROM entities e
		JOIN relationships r ON e.id = r.source_id
		WHERE r.target_id = ?` + typeClause(relType)

	var args []any
	args = append(args, entityID)
	if relType != "" {
		args = append(args, relType)
	}
	args = append(args, entityID)
	if relType != "" {
		args = append(args, relType)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []RelatedEntity
	for rows.Next() {
		var re RelatedEntity
		var createdAt, updatedAt string
		if err := rows.Scan(&re.ID, &re.Name, &re.Type, &re.Attributes,
			&createdAt, &updatedAt, &re.RelationshipType, &re.Confidence); err != nil {
			return nil, err
		}
		if re.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing entity created_at: %w", err)
		}
		if re.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
			return nil, fmt.Errorf("parsing entity updated_at: %w", err)
		}
		results = append(results, re)
	}
	return results, rows.Err()
}

func typeClause(relType string) string {
	if relType == "" {
		return ""
	}
	return " AND r.relationship_type = ?"
}

// RelationshipStrength returns the maximum confidence across all links
// between two entities in either direction, 0 when unlinked.
func (s *Store) RelationshipStrength(aID, bID int64) (float64, error) {
	var strength sql.NullFloat64
	err := s.db.QueryRow(`
		SELECT MAX(confidence) FROM relationships
		WHERE (source_id = ? AND target_id = ?) OR (source_id = ? AND target_id = ?)`,
		aID, bID, bID, aID).Scan(&strength)
	return strength.Float64, err
}

// CountEntities returns the number of knowledge-graph entities.
func (s *Store) CountEntities() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM entities`).Scan(&n)
	return n, err
}

// CountRelationships returns the number of knowledge-graph relationships.
func (s *Store) CountRelationships() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM relationships`).Scan(&n)
	return n, err
}

func scanEntity(row rowScanner) (Entity, error) {
	var e Entity
	var createdAt, updatedAt string
	err := row.Scan(&e.ID, &e.Name, &e.Type, &e.Attributes, &createdAt, &updatedAt)
	if err != nil {
		return Entity{}, err
	}
	if e.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Entity{}, fmt.Errorf("parsing entity created_at: %w", err)
	}
	if e.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Entity{}, fmt.Errorf("parsing entity updated_at: %w", err)
	}
	return e, nil
}
