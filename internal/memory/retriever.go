package memory

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/mnemo/internal/storage"
)

const (
	// minEpisodeSimilarity filters out episodes that barely overlap the query.
	minEpisodeSimilarity = 0.3
	// maxSimilarEpisodes caps SimilarEpisodes results.
	maxSimilarEpisodes = 10
	// episodeScanWindow bounds how many recent episodes are scored per query.
	episodeScanWindow = 50
	// scoreConcurrency bounds parallel episode scoring.
	scoreConcurrency = 4
)

// RetrieverStore defines the storage operations the Retriever needs.
type RetrieverStore interface {
	SearchFacts(query string, limit int) ([]storage.Fact, error)
	BumpFactAccess(id int64) error
	ListEpisodes(f storage.EpisodeFilter) ([]storage.Episode, error)
}

// ScoredFact is a fact plus its relevance to the query that found it.
type ScoredFact struct {
	storage.Fact
	Relevance float64 `json:"relevance"`
}

// ScoredEpisode is an episode plus its similarity to the query description.
type ScoredEpisode struct {
	storage.Episode
	Similarity float64 `json:"similarity"`
}

// Retriever searches long-term memory. Facts are matched by substring and
// ranked by word overlap with the query; episodes by Jaccard similarity of
// their descriptions.
type Retriever struct {
	store  RetrieverStore
	logger *slog.Logger
}

func NewRetriever(store RetrieverStore) *Retriever {
	return &Retriever{store: store, logger: slog.Default()}
}

// RelatedFacts returns facts relevant to the query, most relevant first.
// Each returned fact has its access count bumped.
func (r *Retriever) RelatedFacts(query string, limit int) ([]ScoredFact, error) {
	if limit <= 0 {
		limit = 10
	}

	facts, err := r.store.SearchFacts(query, limit)
	if err != nil {
		return nil, fmt.Errorf("searching facts: %w", err)
	}

	queryWords := wordSet(query)
	scored := make([]ScoredFact, len(facts))
	for i, f := range facts {
		scored[i] = ScoredFact{
			Fact:      f,
			Relevance: relevance(queryWords, f),
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Relevance > scored[j].Relevance
	})

	for _, sf := range scored {
		if err := r.store.BumpFactAccess(sf.ID); err != nil {
			r.logger.Warn("failed to bump fact access count", "fact_id", sf.ID, "error", err)
		}
	}

	r.logger.Debug("related facts retrieved", "query", query, "count", len(scored))
	return scored, nil
}

// SimilarEpisodes finds episodes whose descriptions resemble the given one.
// When userID is non-empty only that user's episodes are considered. Scoring
// runs concurrently over the most recent episodeScanWindow episodes.
func (r *Retriever) SimilarEpisodes(ctx context.Context, description, userID string) ([]ScoredEpisode, error) {
	episodes, err := r.store.ListEpisodes(storage.EpisodeFilter{
		UserID: userID,
		Limit:  episodeScanWindow,
	})
	if err != nil {
		return nil, fmt.Errorf("listing episodes: %w", err)
	}
	if len(episodes) == 0 {
		return nil, nil
	}

	queryWords := wordSet(description)

	// Buffered channel prevents goroutines from blocking on send after we stop reading.
	results := make(chan ScoredEpisode, len(episodes))
	sem := make(chan struct{}, scoreConcurrency)

	var wg sync.WaitGroup
	for _, ep := range episodes {
		wg.Add(1)
		go func(episode storage.Episode) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()

			score := jaccard(queryWords, wordSet(episode.Description))
			if score > minEpisodeSimilarity {
				results <- ScoredEpisode{Episode: episode, Similarity: score}
			}
		}(ep)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var scored []ScoredEpisode
	for se := range results {
		scored = append(scored, se)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})
	if len(scored) > maxSimilarEpisodes {
		scored = scored[:maxSimilarEpisodes]
	}

	r.logger.Debug("similar episodes retrieved", "count", len(scored))
	return scored, nil
}

// UserEpisodes returns a user's episodes from the past daysBack days,
// optionally restricted to one event type.
func (r *Retriever) UserEpisodes(userID string, daysBack int, eventType string) ([]storage.Episode, error) {
	if daysBack <= 0 {
		daysBack = 30
	}
	return r.store.ListEpisodes(storage.EpisodeFilter{
		UserID:    userID,
		EventType: eventType,
		Since:     time.Now().UTC().AddDate(0, 0, -daysBack),
	})
}

var wordPattern = regexp.MustCompile(`\w+`)

func wordSet(text string) map[string]struct{} {
	words := wordPattern.FindAllString(strings.ToLower(text), -1)
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// relevance is the fraction of query words present in the fact text.
func relevance(queryWords map[string]struct{}, f storage.Fact) float64 {
	if len(queryWords) == 0 {
		return 0
	}
	factWords := wordSet(f.Subject + " " + f.Predicate + " " + f.Object)
	common := 0
	for w := range queryWords {
		if _, ok := factWords[w]; ok {
			common++
		}
	}
	return float64(common) / float64(len(queryWords))
}

// jaccard is |a∩b| / |a∪b| over word sets.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	common := 0
	for w := range a {
		if _, ok := b[w]; ok {
			common++
		}
	}
	union := len(a) + len(b) - common
	if union == 0 {
		return 0
	}
	return float64(common) / float64(union)
}
