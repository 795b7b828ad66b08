package registry

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRegistry is an in-memory Registry. Thread-safe for concurrent access.
type MemoryRegistry struct {
	mu     sync.RWMutex
	movies map[string]*Movie
}

// NewMemoryRegistry creates a new in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		movies: make(map[string]*Movie),
	}
}

func (r *MemoryRegistry) CreateMovie(ctx context.Context, movieID string) error {
	if movieID == "" {
		return ErrInvalidMovieID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.movies[movieID]; exists {
		return ErrMovieExists
	}

	now := time.Now()
	r.movies[movieID] = &Movie{MovieID: movieID, Created: now, Updated: now}
	return nil
}

func (r *MemoryRegistry) GetMovie(ctx context.Context, movieID string) (*Movie, error) {
	if movieID == "" {
		return nil, ErrInvalidMovieID
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	m, exists := r.movies[movieID]
	if !exists {
		return nil, ErrMovieNotFound
	}
	return copyMovie(m), nil
}

func (r *MemoryRegistry) RecordRun(ctx context.Context, movieID, runID, revision string, status RunStatus, runErr string) error {
	if movieID == "" {
		return ErrInvalidMovieID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	m, exists := r.movies[movieID]
	if !exists {
		m = &Movie{MovieID: movieID, Created: now}
		r.movies[movieID] = m
	}

	m.Updated = now
	m.LastRunID = runID
	m.LastRevision = revision
	m.LastRunStatus = status
	m.LastRunError = runErr
	m.LastRunAt = &now
	return nil
}

func (r *MemoryRegistry) DeleteMovie(ctx context.Context, movieID string) error {
	if movieID == "" {
		return ErrInvalidMovieID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.movies[movieID]; !exists {
		return ErrMovieNotFound
	}
	delete(r.movies, movieID)
	return nil
}

func (r *MemoryRegistry) ListMovies(ctx context.Context, filter *ListFilter) ([]*Movie, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var movies []*Movie
	for _, m := range r.movies {
		if matchesFilter(m, filter) {
			movies = append(movies, copyMovie(m))
		}
	}

	sort.Slice(movies, func(i, j int) bool {
		return movies[i].Created.After(movies[j].Created)
	})

	if filter == nil {
		return movies, nil
	}
	if filter.Offset > 0 {
		if filter.Offset >= len(movies) {
			return []*Movie{}, nil
		}
		movies = movies[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(movies) {
		movies = movies[:filter.Limit]
	}
	return movies, nil
}

func (r *MemoryRegistry) Close() error {
	return nil
}

func copyMovie(m *Movie) *Movie {
	if m == nil {
		return nil
	}
	cp := *m
	if m.LastRunAt != nil {
		t := *m.LastRunAt
		cp.LastRunAt = &t
	}
	return &cp
}

func matchesFilter(m *Movie, filter *ListFilter) bool {
	if filter == nil {
		return true
	}
	if len(filter.Status) > 0 {
		found := false
		for _, s := range filter.Status {
			if m.LastRunStatus == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.CreatedAfter != nil && m.Created.Before(*filter.CreatedAfter) {
		return false
	}
	if filter.CreatedBefore != nil && m.Created.After(*filter.CreatedBefore) {
		return false
	}
	return true
}
