package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process ArtifactStore for tests and one-shot CLI
// runs.
type MemoryStore struct {
	mu        sync.Mutex
	artifacts map[string]*Artifact
	runs      map[string]*Run
}

var _ ArtifactStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		artifacts: make(map[string]*Artifact),
		runs:      make(map[string]*Run),
	}
}

func (s *MemoryStore) GetArtifact(ctx context.Context, id string) (*Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.artifacts[id]
	if !ok {
		return nil, nil
	}
	return a.clone(), nil
}

func (s *MemoryStore) CreateArtifact(ctx context.Context, a *Artifact) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.artifacts[a.ID]; ok {
		return false, nil
	}
	if a.CreatedAt == 0 {
		a.CreatedAt = time.Now().Unix()
	}
	stored := a.clone()
	stored.IsDuplicate = false
	s.artifacts[a.ID] = stored
	return true, nil
}

func (s *MemoryStore) PutRun(ctx context.Context, run *Run) error {
	now := time.Now().Unix()
	if run.CreatedAt == 0 {
		run.CreatedAt = now
	}
	run.UpdatedAt = now
	s.mu.Lock()
	s.runs[run.ID] = run.clone()
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetRun(ctx context.Context, id string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, nil
	}
	return r.clone(), nil
}
