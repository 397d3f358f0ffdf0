package memory

import (
	"fmt"
	"log/slog"
	"time"
)

// Forgetting thresholds, matching the long-standing behavior of the system:
// memories survive on age, importance, confidence, and usage.
const (
	lowImportance     = 0.3 // old episodes below this are forgotten
	trivialImportance = 0.1 // overflow trimming removes episodes below this
	lowConfidence     = 0.3 // facts below this with little use are forgotten
	minFactAccess     = 5   // accesses that protect a low-confidence fact
	unusedFactAccess  = 2   // accesses that protect an idle fact
)

// ForgetterStore defines the storage operations the Forgetter needs.
type ForgetterStore interface {
	DeleteEpisodesBefore(cutoff time.Time, maxImportance float64) (int, error)
	TrimEpisodes(maxImportance float64, n int) (int, error)
	DeleteLowConfidenceFacts(maxConfidence float64, minAccess int) (int, error)
	DeleteUnusedFacts(cutoff time.Time, minAccess int) (int, error)
	DeleteProfilesNotUpdatedSince(cutoff time.Time) (int, error)
	CountEpisodes() (int, error)
	CountEpisodeUsers() (int, error)
	AvgEpisodeImportance() (float64, error)
	CountFacts() (int, error)
	AvgFactConfidence() (float64, error)
	AvgFactAccessCount() (float64, error)
	CountEntities() (int, error)
	CountRelationships() (int, error)
	CountProfiles() (int, error)
	Vacuum() error
}

// Limits tune the forgetting process.
type Limits struct {
	MaxEntries           int // episodic memory soft cap
	EpisodeRetentionDays int // age threshold for unimportant episodes
	FactUnusedDays       int // idle threshold for rarely-used facts
	ProfileRetentionDays int // stale-profile threshold
}

// DefaultLimits mirror the retention policy the system has always used.
func DefaultLimits() Limits {
	return Limits{
		MaxEntries:           100000,
		EpisodeRetentionDays: 365,
		FactUnusedDays:       180,
		ProfileRetentionDays: 365,
	}
}

// CleanupResult counts what one forgetting pass removed.
type CleanupResult struct {
	OldEpisodesRemoved     int `json:"old_episodes_removed"`
	TrimmedEpisodesRemoved int `json:"trimmed_episodes_removed"`
	LowConfidenceFacts     int `json:"low_confidence_facts_removed"`
	UnusedFactsRemoved     int `json:"unused_facts_removed"`
	StaleProfilesRemoved   int `json:"stale_profiles_removed"`
}

// Total returns the number of records removed across all categories.
func (r CleanupResult) Total() int {
	return r.OldEpisodesRemoved + r.TrimmedEpisodesRemoved +
		r.LowConfidenceFacts + r.UnusedFactsRemoved + r.StaleProfilesRemoved
}

// Stats is a snapshot of long-term memory usage.
type Stats struct {
	TotalEpisodes        int     `json:"total_episodes"`
	UniqueUsers          int     `json:"unique_users"`
	AvgEpisodeImportance float64 `json:"avg_episode_importance"`
	TotalFacts           int     `json:"total_facts"`
	AvgFactConfidence    float64 `json:"avg_fact_confidence"`
	AvgFactAccessCount   float64 `json:"avg_fact_access_count"`
	TotalEntities        int     `json:"total_entities"`
	TotalRelationships   int     `json:"total_relationships"`
	TotalProfiles        int     `json:"total_profiles"`
	MemoryUsagePercent   float64 `json:"memory_usage_percent"`
	LastCleanup          string  `json:"last_cleanup,omitempty"`
}

// Forgetter removes stale and unimportant memories so the stores stay
// bounded and relevant.
type Forgetter struct {
	store  ForgetterStore
	limits Limits
	logger *slog.Logger

	lastCleanup time.Time
}

func NewForgetter(store ForgetterStore, limits Limits) *Forgetter {
	if limits.MaxEntries <= 0 {
		limits.MaxEntries = DefaultLimits().MaxEntries
	}
	if limits.EpisodeRetentionDays <= 0 {
		limits.EpisodeRetentionDays = DefaultLimits().EpisodeRetentionDays
	}
	if limits.FactUnusedDays <= 0 {
		limits.FactUnusedDays = DefaultLimits().FactUnusedDays
	}
	if limits.ProfileRetentionDays <= 0 {
		limits.ProfileRetentionDays = DefaultLimits().ProfileRetentionDays
	}
	return &Forgetter{store: store, limits: limits, logger: slog.Default()}
}

// Cleanup runs one full forgetting pass.
func (f *Forgetter) Cleanup() (CleanupResult, error) {
	var res CleanupResult
	now := time.Now().UTC()

	// Old episodes that never mattered much.
	episodeCutoff := now.AddDate(0, 0, -f.limits.EpisodeRetentionDays)
	n, err := f.store.DeleteEpisodesBefore(episodeCutoff, lowImportance)
	if err != nil {
		return res, fmt.Errorf("removing old episodes: %w", err)
	}
	res.OldEpisodesRemoved = n

	// Overflow trimming: only when episodic memory is above 80% of its cap.
	total, err := f.store.CountEpisodes()
	if err != nil {
		return res, fmt.Errorf("counting episodes: %w", err)
	}
	if float64(total) > float64(f.limits.MaxEntries)*0.8 {
		excess := total - f.limits.MaxEntries
		if excess > 0 {
			n, err = f.store.TrimEpisodes(trivialImportance, excess)
			if err != nil {
				return res, fmt.Errorf("trimming episodes: %w", err)
			}
			res.TrimmedEpisodesRemoved = n
		}
	}

	// Facts nobody believed or used.
	n, err = f.store.DeleteLowConfidenceFacts(lowConfidence, minFactAccess)
	if err != nil {
		return res, fmt.Errorf("removing low-confidence facts: %w", err)
	}
	res.LowConfidenceFacts = n

	factCutoff := now.AddDate(0, 0, -f.limits.FactUnusedDays)
	n, err = f.store.DeleteUnusedFacts(factCutoff, unusedFactAccess)
	if err != nil {
		return res, fmt.Errorf("removing unused facts: %w", err)
	}
	res.UnusedFactsRemoved = n

	// Profiles of users who never came back.
	profileCutoff := now.AddDate(0, 0, -f.limits.ProfileRetentionDays)
	n, err = f.store.DeleteProfilesNotUpdatedSince(profileCutoff)
	if err != nil {
		return res, fmt.Errorf("removing stale profiles: %w", err)
	}
	res.StaleProfilesRemoved = n

	f.lastCleanup = now
	f.logger.Info("memory cleanup finished",
		"old_episodes", res.OldEpisodesRemoved,
		"trimmed_episodes", res.TrimmedEpisodesRemoved,
		"low_confidence_facts", res.LowConfidenceFacts,
		"unused_facts", res.UnusedFactsRemoved,
		"stale_profiles", res.StaleProfilesRemoved,
	)
	return res, nil
}

// Optimize compacts the database. Worth running after a large cleanup.
func (f *Forgetter) Optimize() error {
	if err := f.store.Vacuum(); err != nil {
		return fmt.Errorf("vacuuming database: %w", err)
	}
	return nil
}

// Stats returns a snapshot of memory usage across all stores.
func (f *Forgetter) Stats() (Stats, error) {
	var s Stats
	var err error

	if s.TotalEpisodes, err = f.store.CountEpisodes(); err != nil {
		return s, fmt.Errorf("counting episodes: %w", err)
	}
	if s.UniqueUsers, err = f.store.CountEpisodeUsers(); err != nil {
		return s, fmt.Errorf("counting episode users: %w", err)
	}
	if s.AvgEpisodeImportance, err = f.store.AvgEpisodeImportance(); err != nil {
		return s, fmt.Errorf("averaging episode importance: %w", err)
	}
	if s.TotalFacts, err = f.store.CountFacts(); err != nil {
		return s, fmt.Errorf("counting facts: %w", err)
	}
	if s.AvgFactConfidence, err = f.store.AvgFactConfidence(); err != nil {
		return s, fmt.Errorf("averaging fact confidence: %w", err)
	}
	if s.AvgFactAccessCount, err = f.store.AvgFactAccessCount(); err != nil {
		return s, fmt.Errorf("averaging fact access count: %w", err)
	}
	if s.TotalEntities, err = f.store.CountEntities(); err != nil {
		return s, fmt.Errorf("counting entities: %w", err)
	}
	if s.TotalRelationships, err = f.store.CountRelationships(); err != nil {
		return s, fmt.Errorf("counting relationships: %w", err)
	}
	if s.TotalProfiles, err = f.store.CountProfiles(); err != nil {
		return s, fmt.Errorf("counting profiles: %w", err)
	}

	usage := float64(s.TotalEpisodes) / float64(f.limits.MaxEntries) * 100
	if usage > 100 {
		usage = 100
	}
	s.MemoryUsagePercent = usage

	if !f.lastCleanup.IsZero() {
		s.LastCleanup = f.lastCleanup.Format(time.RFC3339)
	}
	return s, nil
}
