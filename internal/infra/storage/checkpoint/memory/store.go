// Package memory holds checkpoints in process memory. It backs tests and
// one-shot runs that do not need to survive a restart.
package memory

import (
	"context"
	"sync"

	"github.com/fscrawl/fscrawl/internal/domain/crawl"
)

var _ crawl.CheckpointStore = (*Store)(nil)

// Store is an in-memory crawl.CheckpointStore.
type Store struct {
	mu          sync.RWMutex
	checkpoints map[string]*crawl.Checkpoint
	saves       int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{checkpoints: make(map[string]*crawl.Checkpoint)}
}

// Load returns a copy of the job's checkpoint.
func (s *Store) Load(_ context.Context, jobName string) (*crawl.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.checkpoints[jobName]
	if !ok {
		return nil, crawl.ErrCheckpointNotFound
	}
	return cp.Clone(), nil
}

// Save stores a copy of cp.
func (s *Store) Save(_ context.Context, cp *crawl.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.checkpoints[cp.JobName] = cp.Clone()
	s.saves++
	return nil
}

// Delete removes the job's checkpoint.
func (s *Store) Delete(_ context.Context, jobName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.checkpoints, jobName)
	return nil
}

// Saves returns how many times Save was called.
func (s *Store) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}
