package commands

import (
	"context"
	"sort"
	"sync"
)

// RunStore records command runs.
type RunStore interface {
	Record(ctx context.Context, run Run) error
	List(ctx context.Context, tenant string) ([]Run, error)
	DeleteTenant(ctx context.Context, tenant string) error
}

type MemoryRunStore struct {
	mu   sync.Mutex
	runs []Run
}

func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{}
}

func (s *MemoryRunStore) Record(_ context.Context, run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	return nil
}

// List returns the tenant's runs, oldest first.
func (s *MemoryRunStore) List(_ context.Context, tenant string) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Run, 0)
	for _, run := range s.runs {
		if run.Tenant == tenant {
			out = append(out, run)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (s *MemoryRunStore) DeleteTenant(_ context.Context, tenant string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.runs[:0]
	for _, run := range s.runs {
		if run.Tenant != tenant {
			kept = append(kept, run)
		}
	}
	s.runs = kept
	return nil
}

var _ RunStore = (*MemoryRunStore)(nil)
