// Package registry tracks which movies exist and the outcome of their last
// run. It is a secondary, queryable index alongside the canonical manifest
// (see pkg/manifest) — deleting a registry entry never deletes a movie's
// manifests, event logs, or blobs; it only forgets the index row.
package registry

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrMovieNotFound is returned when a movie does not exist
	ErrMovieNotFound = errors.New("movie not found")

	// ErrMovieExists is returned when attempting to register a movie that
	// already exists
	ErrMovieExists = errors.New("movie already registered")

	// ErrInvalidMovieID is returned for an empty movie ID
	ErrInvalidMovieID = errors.New("invalid movie ID")
)

// RunStatus is the outcome of the most recently completed dispatcher run
// for a movie.
type RunStatus string

const (
	RunStatusNone      RunStatus = ""
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Movie is a bookkeeping record: the movie's ID, when it was first seen,
// and what its last run did.
type Movie struct {
	MovieID       string
	Created       time.Time
	Updated       time.Time
	LastRunID     string
	LastRevision  string
	LastRunStatus RunStatus
	LastRunError  string
	LastRunAt     *time.Time
}

// IsTerminal reports whether the last run reached a final outcome.
func (m *Movie) IsTerminal() bool {
	return m.LastRunStatus == RunStatusSucceeded || m.LastRunStatus == RunStatusFailed
}

// ListFilter narrows ListMovies results.
type ListFilter struct {
	Status []RunStatus

	CreatedAfter  *time.Time
	CreatedBefore *time.Time

	Limit  int
	Offset int
}

// Registry is the interface for movie/run bookkeeping.
type Registry interface {
	// CreateMovie registers a movie that has never been run before.
	CreateMovie(ctx context.Context, movieID string) error

	// GetMovie retrieves a movie's bookkeeping record.
	GetMovie(ctx context.Context, movieID string) (*Movie, error)

	// RecordRun updates a movie's last-run outcome, creating the movie
	// record first if it doesn't already exist.
	RecordRun(ctx context.Context, movieID string, runID string, revision string, status RunStatus, runErr string) error

	// DeleteMovie removes a movie's bookkeeping record (not its manifests
	// or blobs).
	DeleteMovie(ctx context.Context, movieID string) error

	// ListMovies lists movies with optional filtering.
	ListMovies(ctx context.Context, filter *ListFilter) ([]*Movie, error)

	// Close releases any resources held by the registry.
	Close() error
}
