// Package graph maintains the knowledge graph: named entities and
// confidence-weighted relationships between them, including automatic
// association of newly learned facts with existing ones.
package graph

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/kalambet/mnemo/internal/storage"
)

// DefaultAssociationThreshold is the similarity above which two facts are
// linked automatically.
const DefaultAssociationThreshold = 0.7

// GraphStore defines the storage operations the Service needs.
type GraphStore interface {
	UpsertEntity(name, entityType, attributes string) (int64, error)
	GetEntityByName(name string) (storage.Entity, error)
	SearchEntities(query string) ([]storage.Entity, error)
	InsertRelationship(sourceID, targetID int64, relType string, confidence float64, metadata string) (int64, error)
	RelatedEntities(entityID int64, relType string) ([]storage.RelatedEntity, error)
	RelationshipStrength(aID, bID int64) (float64, error)
	FactsMatchingAny(subject, predicate, object string) ([]storage.Fact, error)
}

// Service wraps graph operations over the store.
type Service struct {
	store     GraphStore
	threshold float64
	logger    *slog.Logger
}

// New creates a Service. A non-positive threshold falls back to the default.
func New(store GraphStore, threshold float64) *Service {
	if threshold <= 0 {
		threshold = DefaultAssociationThreshold
	}
	return &Service{store: store, threshold: threshold, logger: slog.Default()}
}

// UpsertEntity creates or refreshes an entity and returns its ID.
func (s *Service) UpsertEntity(name, entityType string, attributes map[string]string) (int64, error) {
	if name == "" {
		return 0, fmt.Errorf("entity name is required")
	}
	if entityType == "" {
		entityType = "concept"
	}

	attrJSON := "{}"
	if len(attributes) > 0 {
		b, err := json.Marshal(attributes)
		if err != nil {
			return 0, fmt.Errorf("marshalling attributes: %w", err)
		}
		attrJSON = string(b)
	}

	id, err := s.store.UpsertEntity(name, entityType, attrJSON)
	if err != nil {
		return 0, fmt.Errorf("upserting entity %q: %w", name, err)
	}
	return id, nil
}

// Associate links two entities with a typed, confidence-weighted relationship.
func (s *Service) Associate(sourceID, targetID int64, relType string, confidence float64, metadata map[string]string) (int64, error) {
	if relType == "" {
		return 0, fmt.Errorf("relationship type is required")
	}

	metaJSON := "{}"
	if len(metadata) > 0 {
		b, err := json.Marshal(metadata)
		if err != nil {
			return 0, fmt.Errorf("marshalling metadata: %w", err)
		}
		metaJSON = string(b)
	}

	id, err := s.store.InsertRelationship(sourceID, targetID, relType, confidence, metaJSON)
	if err != nil {
		return 0, fmt.Errorf("creating association: %w", err)
	}
	s.logger.Debug("association created", "relationship_id", id, "source", sourceID, "target", targetID, "type", relType)
	return id, nil
}

// Related finds entities matching name (substring) and returns everything
// linked to them, optionally restricted to one relationship type.
func (s *Service) Related(name, relType string) ([]storage.RelatedEntity, error) {
	entities, err := s.store.SearchEntities(name)
	if err != nil {
		return nil, fmt.Errorf("searching entities: %w", err)
	}

	var results []storage.RelatedEntity
	for _, e := range entities {
		related, err := s.store.RelatedEntities(e.ID, relType)
		if err != nil {
			return nil, fmt.Errorf("finding entities related to %q: %w", e.Name, err)
		}
		results = append(results, related...)
	}
	return results, nil
}

// Strength returns the maximum relationship confidence between two named
// entities, 0 when either is unknown or they are unlinked.
func (s *Service) Strength(nameA, nameB string) (float64, error) {
	a, err := s.store.GetEntityByName(nameA)
	if err != nil {
		if err == storage.ErrNotFound {
			return 0, nil
		}
		return 0, err
	}
	b, err := s.store.GetEntityByName(nameB)
	if err != nil {
		if err == storage.ErrNotFound {
			return 0, nil
		}
		return 0, err
	}
	return s.store.RelationshipStrength(a.ID, b.ID)
}

// AutoAssociate compares a newly stored fact against existing facts sharing
// any triple component and links the subjects of sufficiently similar facts
// with "similar_to" relationships. Returns the created relationship IDs.
func (s *Service) AutoAssociate(fact storage.Fact) ([]int64, error) {
	candidates, err := s.store.FactsMatchingAny(fact.Subject, fact.Predicate, fact.Object)
	if err != nil {
		return nil, fmt.Errorf("finding association candidates: %w", err)
	}

	sourceID, err := s.UpsertEntity(fact.Subject, "subject", nil)
	if err != nil {
		return nil, err
	}

	var created []int64
	for _, cand := range candidates {
		if cand.ID == fact.ID {
			continue
		}
		score := factSimilarity(fact, cand)
		if score <= s.threshold {
			continue
		}

		targetID, err := s.UpsertEntity(cand.Subject, "subject", nil)
		if err != nil {
			return created, err
		}
		if targetID == sourceID {
			continue
		}

		relID, err := s.Associate(sourceID, targetID, "similar_to", score, nil)
		if err != nil {
			return created, err
		}
		created = append(created, relID)
	}

	s.logger.Info("auto-association finished", "fact_id", fact.ID, "created", len(created))
	return created, nil
}

// factSimilarity weighs component matches: subject and predicate matter most,
// with a small bonus when two or more components agree.
func factSimilarity(a, b storage.Fact) float64 {
	score := 0.0
	matches := 0

	if a.Subject == b.Subject {
		score += 0.4
		matches++
	}
	if a.Predicate == b.Predicate {
		score += 0.4
		matches++
	}
	if a.Object == b.Object {
		score += 0.2
		matches++
	}
	if matches >= 2 {
		score += 0.1
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}
