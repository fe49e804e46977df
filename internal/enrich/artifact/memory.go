package artifact

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps artifacts in process. Each append publishes a private
// copy, and readers receive copies.
type MemoryStore struct {
	mu   sync.RWMutex
	byKw map[string][]*Artifact
	now  func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byKw: map[string][]*Artifact{},
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, a *Artifact) error {
	if err := a.validate(); err != nil {
		return err
	}
	a.prepare(s.now())
	stored := a.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	versions := s.byKw[a.Keyword]
	if latest := len(versions); a.Version != latest+1 {
		return conflict(a.Keyword, a.Version, latest)
	}
	s.byKw[a.Keyword] = append(versions, stored)
	return nil
}

// Latest implements Store.
func (s *MemoryStore) Latest(_ context.Context, keyword string) (*Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.byKw[keyword]
	if len(versions) == 0 {
		return nil, ErrNotFound
	}
	return versions[len(versions)-1].Clone(), nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, keyword string, version int) (*Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.byKw[keyword]
	if version < 1 || version > len(versions) {
		return nil, ErrNotFound
	}
	return versions[version-1].Clone(), nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, q Query) ([]*Artifact, error) {
	s.mu.RLock()
	var out []*Artifact
	for _, versions := range s.byKw {
		for _, a := range versions {
			if q.match(a) {
				out = append(out, a.Clone())
			}
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		if out[i].Keyword != out[j].Keyword {
			return out[i].Keyword < out[j].Keyword
		}
		return out[i].Version > out[j].Version
	})
	if len(out) > q.limit() {
		out = out[:q.limit()]
	}
	return out, nil
}
