package storage

import (
	"errors"
	"testing"
)

// TestUpsertEntityIdempotent creates an entity and verifies a second upsert
// updates in place instead of duplicating.
func TestUpsertEntityIdempotent(t *testing.T) {
	s := openTestStore(t)

	id1, err := s.UpsertEntity("Amsterdam", "place", "")
	if err != nil {
		t.Fatalf("first UpsertEntity: %v", err)
	}
	id2, err := s.UpsertEntity("Amsterdam", "city", `{"country":"NL"}`)
	if err != nil {
		t.Fatalf("second UpsertEntity: %v", err)
	}
	if id1 != id2 {
		t.Errorf("IDs differ: %d != %d", id1, id2)
	}

	e, err := s.GetEntityByName("Amsterdam")
	if err != nil {
		t.Fatalf("GetEntityByName: %v", err)
	}
	if e.Type != "city" {
		t.Errorf("type = %q, want city", e.Type)
	}
	if e.Attributes != `{"country":"NL"}` {
		t.Errorf("attributes = %q", e.Attributes)
	}

	n, err := s.CountEntities()
	if err != nil {
		t.Fatalf("CountEntities: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 entity, got %d", n)
	}
}

// TestGetEntityByNameNotFound verifies the sentinel error.
func TestGetEntityByNameNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetEntityByName("nowhere")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// TestSearchEntities matches on name substring.
func TestSearchEntities(t *testing.T) {
	s := openTestStore(t)

	for _, name := range []string{"jazz club", "jazz festival", "opera house"} {
		if _, err := s.UpsertEntity(name, "place", ""); err != nil {
			t.Fatal(err)
		}
	}

	results, err := s.SearchEntities("jazz")
	if err != nil {
		t.Fatalf("SearchEntities: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("expected 2 matches, got %d", len(results))
	}
}

// TestRelatedEntities links entities and reads neighbors in both directions.
func TestRelatedEntities(t *testing.T) {
	s := openTestStore(t)

	alice, err := s.UpsertEntity("alice", "person", "")
	if err != nil {
		t.Fatal(err)
	}
	bob, err := s.UpsertEntity("bob", "person", "")
	if err != nil {
		t.Fatal(err)
	}
	ams, err := s.UpsertEntity("Amsterdam", "place", "")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.InsertRelationship(alice, bob, "knows", 0.9, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := s.InsertRelationship(ams, alice, "home_of", 0.7, ""); err != nil {
		t.Fatal(err)
	}

	// alice is a source of one link and a target of the other.
	related, err := s.RelatedEntities(alice, "")
	if err != nil {
		t.Fatalf("RelatedEntities: %v", err)
	}
	if len(related) != 2 {
		t.Fatalf("expected 2 neighbors, got %d", len(related))
	}
	names := map[string]string{}
	for _, re := range related {
		names[re.Name] = re.RelationshipType
	}
	if names["bob"] != "knows" || names["Amsterdam"] != "home_of" {
		t.Errorf("unexpected neighbors: %v", names)
	}

	// Type filter narrows to a single edge.
	knows, err := s.RelatedEntities(alice, "knows")
	if err != nil {
		t.Fatalf("RelatedEntities(knows): %v", err)
	}
	if len(knows) != 1 || knows[0].Name != "bob" {
		t.Errorf("type filter returned %v", knows)
	}
}

// TestRelationshipStrength takes the maximum confidence across directions.
func TestRelationshipStrength(t *testing.T) {
	s := openTestStore(t)

	a, err := s.UpsertEntity("a", "thing", "")
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.UpsertEntity("b", "thing", "")
	if err != nil {
		t.Fatal(err)
	}
	c, err := s.UpsertEntity("c", "thing", "")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.InsertRelationship(a, b, "related_to", 0.4, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := s.InsertRelationship(b, a, "similar_to", 0.8, ""); err != nil {
		t.Fatal(err)
	}

	strength, err := s.RelationshipStrength(a, b)
	if err != nil {
		t.Fatalf("RelationshipStrength: %v", err)
	}
	if strength != 0.8 {
		t.Errorf("strength = %v, want 0.8", strength)
	}

	none, err := s.RelationshipStrength(a, c)
	if err != nil {
		t.Fatalf("RelationshipStrength(unlinked): %v", err)
	}
	if none != 0 {
		t.Errorf("unlinked strength = %v, want 0", none)
	}
}
