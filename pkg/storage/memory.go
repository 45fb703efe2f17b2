package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tasklab/fanin/pkg/core"
)

// MemoryStore is an in-memory core.Store for tests, examples, and
// single-process embedding. UpdateJob runs under the store mutex, so
// mutations are serialized (stricter than the shared-storage backends).
type MemoryStore struct {
	mu        sync.RWMutex
	jobs      map[string]*core.Job
	triggers  map[string]triggerEntry
	overrides map[string]any
	now       func() time.Time
}

type triggerEntry struct {
	rec       core.TriggerRecord
	expiresAt time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:     make(map[string]*core.Job),
		triggers: make(map[string]triggerEntry),
		now:      time.Now,
	}
}

func (s *MemoryStore) CreateJob(ctx context.Context, job *core.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return core.ErrJobExists
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *MemoryStore) GetJob(ctx context.Context, id string) (*core.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, core.ErrJobNotFound
	}
	return job.Clone(), nil
}

func (s *MemoryStore) UpdateJob(ctx context.Context, id string, mutate func(*core.Job) error) (*core.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, core.ErrJobNotFound
	}
	updated := job.Clone()
	if err := mutate(updated); err != nil {
		return nil, err
	}
	updated.UpdatedAt = s.now()
	s.jobs[id] = updated
	return updated.Clone(), nil
}

func (s *MemoryStore) ListActiveJobs(ctx context.Context, limit int) ([]*core.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	active := make([]*core.Job, 0)
	for _, job := range s.jobs {
		if !job.Status.Terminal() {
			active = append(active, job.Clone())
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].CreatedAt.Before(active[j].CreatedAt)
	})
	if limit > 0 && len(active) > limit {
		active = active[:limit]
	}
	return active, nil
}

func (s *MemoryStore) PutTriggerRecord(ctx context.Context, rec *core.TriggerRecord, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggers[rec.JobID+":"+rec.Queue] = triggerEntry{
		rec:       *rec,
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

func (s *MemoryStore) GetTriggerRecord(ctx context.Context, jobID, queue string) (*core.TriggerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.triggers[jobID+":"+queue]
	if !ok || s.now().After(entry.expiresAt) {
		return nil, nil
	}
	rec := entry.rec
	return &rec, nil
}

func (s *MemoryStore) GetConfigOverride(ctx context.Context) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.overrides == nil {
		return nil, nil
	}
	out := make(map[string]any, len(s.overrides))
	for k, v := range s.overrides {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) PutConfigOverride(ctx context.Context, values map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides = values
	return nil
}
