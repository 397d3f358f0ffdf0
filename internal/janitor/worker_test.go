package janitor

import (
	"context"
	"sync"
	"testing"

	"github.com/kalambet/mnemo/internal/memory"
	"github.com/kalambet/mnemo/internal/storage"
)

// mockJobStore hands out queued jobs and records completions and failures.
type mockJobStore struct {
	mu        sync.Mutex
	queue     []*storage.Job
	enqueued  []storage.Job
	completed []string
	failed    map[string]string
}

func newMockJobStore() *mockJobStore {
	return &mockJobStore{failed: make(map[string]string)}
}

func (m *mockJobStore) ClaimNextJob(types []string) (*storage.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return nil, nil
	}
	job := m.queue[0]
	m.queue = m.queue[1:]
	return job, nil
}

func (m *mockJobStore) CompleteJob(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, id)
	return nil
}

func (m *mockJobStore) FailJob(id string, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed[id] = errMsg
	return nil
}

func (m *mockJobStore) EnqueueJob(job storage.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enqueued = append(m.enqueued, job)
	return nil
}

// mockExtractor returns canned fact IDs.
type mockExtractor struct {
	ids      []int64
	err      error
	episodes []string
}

func (m *mockExtractor) ExtractFactsFromEpisode(episodeID string) ([]int64, error) {
	m.episodes = append(m.episodes, episodeID)
	return m.ids, m.err
}

// mockFactLoader serves facts by ID.
type mockFactLoader struct {
	facts map[int64]storage.Fact
}

func (m *mockFactLoader) GetFact(id int64) (storage.Fact, error) {
	f, ok := m.facts[id]
	if !ok {
		return storage.Fact{}, storage.ErrNotFound
	}
	return f, nil
}

// mockAssociator records which facts were associated.
type mockAssociator struct {
	associated []int64
}

func (m *mockAssociator) AutoAssociate(fact storage.Fact) ([]int64, error) {
	m.associated = append(m.associated, fact.ID)
	return nil, nil
}

// mockCleaner returns a canned cleanup result.
type mockCleaner struct {
	result    memory.CleanupResult
	cleanups  int
	optimizes int
}

func (m *mockCleaner) Cleanup() (memory.CleanupResult, error) {
	m.cleanups++
	return m.result, nil
}

func (m *mockCleaner) Optimize() error {
	m.optimizes++
	return nil
}

func newTestWorker(jobs *mockJobStore, ex *mockExtractor, fl *mockFactLoader, as *mockAssociator, cl *mockCleaner) *Worker {
	if ex == nil {
		ex = &mockExtractor{}
	}
	if fl == nil {
		fl = &mockFactLoader{facts: map[int64]storage.Fact{}}
	}
	if as == nil {
		as = &mockAssociator{}
	}
	if cl == nil {
		cl = &mockCleaner{}
	}
	return NewWorker(jobs, ex, fl, as, cl, 0)
}

// TestRunOnceEmptyQueue reports no work without error.
func TestRunOnceEmptyQueue(t *testing.T) {
	w := newTestWorker(newMockJobStore(), nil, nil, nil, nil)

	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if done {
		t.Error("no job should have been processed")
	}
}

// TestConsolidateJob drives extraction, fact loading, and association.
func TestConsolidateJob(t *testing.T) {
	jobs := newMockJobStore()
	jobs.queue = []*storage.Job{{
		ID:          "j1",
		Type:        JobConsolidateEpisode,
		PayloadJSON: `{"episode_id":"ep-1"}`,
	}}
	ex := &mockExtractor{ids: []int64{1, 2}}
	fl := &mockFactLoader{facts: map[int64]storage.Fact{
		1: {ID: 1, Subject: "alice", Predicate: "likes", Object: "jazz"},
		2: {ID: 2, Subject: "alice", Predicate: "lives_in", Object: "Amsterdam"},
	}}
	as := &mockAssociator{}
	w := newTestWorker(jobs, ex, fl, as, nil)

	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !done {
		t.Fatal("job should have been processed")
	}
	if len(ex.episodes) != 1 || ex.episodes[0] != "ep-1" {
		t.Errorf("extracted episodes = %v, want [ep-1]", ex.episodes)
	}
	if len(as.associated) != 2 {
		t.Errorf("associated %d facts, want 2", len(as.associated))
	}
	if len(jobs.completed) != 1 || jobs.completed[0] != "j1" {
		t.Errorf("completed = %v, want [j1]", jobs.completed)
	}
	if len(jobs.failed) != 0 {
		t.Errorf("unexpected failures: %v", jobs.failed)
	}
}

// TestConsolidateJobBadPayload fails the job instead of completing it.
func TestConsolidateJobBadPayload(t *testing.T) {
	jobs := newMockJobStore()
	jobs.queue = []*storage.Job{{
		ID:          "j1",
		Type:        JobConsolidateEpisode,
		PayloadJSON: `not json`,
	}}
	w := newTestWorker(jobs, nil, nil, nil, nil)

	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !done {
		t.Fatal("job should have been claimed")
	}
	if _, ok := jobs.failed["j1"]; !ok {
		t.Error("job with bad payload should be failed")
	}
	if len(jobs.completed) != 0 {
		t.Errorf("job should not complete: %v", jobs.completed)
	}
}

// TestConsolidateJobMissingEpisodeID rejects an empty payload.
func TestConsolidateJobMissingEpisodeID(t *testing.T) {
	jobs := newMockJobStore()
	jobs.queue = []*storage.Job{{
		ID:          "j1",
		Type:        JobConsolidateEpisode,
		PayloadJSON: `{}`,
	}}
	w := newTestWorker(jobs, nil, nil, nil, nil)

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if _, ok := jobs.failed["j1"]; !ok {
		t.Error("job without episode_id should be failed")
	}
}

// TestUnknownJobType fails the job.
func TestUnknownJobType(t *testing.T) {
	jobs := newMockJobStore()
	jobs.queue = []*storage.Job{{ID: "j1", Type: "mystery", PayloadJSON: "{}"}}
	w := newTestWorker(jobs, nil, nil, nil, nil)

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if _, ok := jobs.failed["j1"]; !ok {
		t.Error("unknown job type should be failed")
	}
}

// TestCleanupJobSkipsOptimizeWhenIdle only compacts after a pass that
// removed something.
func TestCleanupJobSkipsOptimizeWhenIdle(t *testing.T) {
	jobs := newMockJobStore()
	jobs.queue = []*storage.Job{{ID: "j1", Type: JobMemoryCleanup, PayloadJSON: "{}"}}
	cl := &mockCleaner{}
	w := newTestWorker(jobs, nil, nil, nil, cl)

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if cl.cleanups != 1 {
		t.Errorf("cleanups = %d, want 1", cl.cleanups)
	}
	if cl.optimizes != 0 {
		t.Errorf("optimize should not run after an empty pass, ran %d times", cl.optimizes)
	}
}

// TestCleanupJobOptimizesAfterRemoval compacts when the pass freed records.
func TestCleanupJobOptimizesAfterRemoval(t *testing.T) {
	jobs := newMockJobStore()
	jobs.queue = []*storage.Job{{ID: "j1", Type: JobMemoryCleanup, PayloadJSON: "{}"}}
	cl := &mockCleaner{result: memory.CleanupResult{OldEpisodesRemoved: 5}}
	w := newTestWorker(jobs, nil, nil, nil, cl)

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if cl.optimizes != 1 {
		t.Errorf("optimizes = %d, want 1", cl.optimizes)
	}
	if len(jobs.completed) != 1 {
		t.Errorf("completed = %v, want one job", jobs.completed)
	}
}

// TestSchedulerTrigger enqueues a well-formed cleanup job.
func TestSchedulerTrigger(t *testing.T) {
	jobs := newMockJobStore()
	s := NewScheduler(jobs, 0)

	if err := s.Trigger(); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if len(jobs.enqueued) != 1 {
		t.Fatalf("enqueued %d jobs, want 1", len(jobs.enqueued))
	}
	job := jobs.enqueued[0]
	if job.Type != JobMemoryCleanup {
		t.Errorf("job type = %q, want %q", job.Type, JobMemoryCleanup)
	}
	if job.ID == "" {
		t.Error("job ID should be set")
	}
	if job.PayloadJSON != "{}" {
		t.Errorf("payload = %q, want {}", job.PayloadJSON)
	}
}
