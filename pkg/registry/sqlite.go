package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// movieRow is the gorm model backing SQLRegistry. It mirrors Movie but
// uses column tags gorm understands; RowID exists only so every record has
// a stable generated primary key distinct from the movie's own ID.
type movieRow struct {
	RowID         uuid.UUID `gorm:"type:text;primaryKey"`
	MovieID       string    `gorm:"column:movie_id;uniqueIndex;not null"`
	Created       time.Time `gorm:"column:created_at;not null"`
	Updated       time.Time `gorm:"column:updated_at;not null"`
	LastRunID     string    `gorm:"column:last_run_id"`
	LastRevision  string    `gorm:"column:last_revision"`
	LastRunStatus string    `gorm:"column:last_run_status"`
	LastRunError  string    `gorm:"column:last_run_error"`
	LastRunAt     *time.Time `gorm:"column:last_run_at"`
}

func (movieRow) TableName() string {
	return "movie_registry"
}

// SQLRegistry is a gorm-backed Registry. It is optional: the engine runs
// fine on MemoryRegistry alone; this exists for deployments that want the
// bookkeeping index to survive process restarts.
type SQLRegistry struct {
	db *gorm.DB
}

// NewSQLiteRegistry opens (creating if absent) a sqlite database at path
// and migrates the registry's table.
func NewSQLiteRegistry(path string) (*SQLRegistry, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open sqlite registry: %w", err)
	}
	if err := db.AutoMigrate(&movieRow{}); err != nil {
		return nil, fmt.Errorf("migrate registry schema: %w", err)
	}
	return &SQLRegistry{db: db}, nil
}

func (s *SQLRegistry) CreateMovie(ctx context.Context, movieID string) error {
	if movieID == "" {
		return ErrInvalidMovieID
	}

	var existing movieRow
	err := s.db.WithContext(ctx).Where("movie_id = ?", movieID).First(&existing).Error
	if err == nil {
		return ErrMovieExists
	}
	if err != gorm.ErrRecordNotFound {
		return fmt.Errorf("check existing movie: %w", err)
	}

	now := time.Now()
	row := movieRow{RowID: uuid.New(), MovieID: movieID, Created: now, Updated: now}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("create movie: %w", err)
	}
	return nil
}

func (s *SQLRegistry) GetMovie(ctx context.Context, movieID string) (*Movie, error) {
	if movieID == "" {
		return nil, ErrInvalidMovieID
	}

	var row movieRow
	err := s.db.WithContext(ctx).Where("movie_id = ?", movieID).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrMovieNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get movie: %w", err)
	}
	return rowToMovie(row), nil
}

func (s *SQLRegistry) RecordRun(ctx context.Context, movieID, runID, revision string, status RunStatus, runErr string) error {
	if movieID == "" {
		return ErrInvalidMovieID
	}

	now := time.Now()
	var row movieRow
	err := s.db.WithContext(ctx).Where("movie_id = ?", movieID).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		row = movieRow{RowID: uuid.New(), MovieID: movieID, Created: now}
	} else if err != nil {
		return fmt.Errorf("lookup movie for run record: %w", err)
	}

	row.Updated = now
	row.LastRunID = runID
	row.LastRevision = revision
	row.LastRunStatus = string(status)
	row.LastRunError = runErr
	row.LastRunAt = &now

	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("save run record: %w", err)
	}
	return nil
}

func (s *SQLRegistry) DeleteMovie(ctx context.Context, movieID string) error {
	if movieID == "" {
		return ErrInvalidMovieID
	}
	result := s.db.WithContext(ctx).Where("movie_id = ?", movieID).Delete(&movieRow{})
	if result.Error != nil {
		return fmt.Errorf("delete movie: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrMovieNotFound
	}
	return nil
}

func (s *SQLRegistry) ListMovies(ctx context.Context, filter *ListFilter) ([]*Movie, error) {
	query := s.db.WithContext(ctx).Model(&movieRow{}).Order("created_at DESC")

	if filter != nil {
		if len(filter.Status) > 0 {
			statuses := make([]string, len(filter.Status))
			for i, st := range filter.Status {
				statuses[i] = string(st)
			}
			query = query.Where("last_run_status IN ?", statuses)
		}
		if filter.CreatedAfter != nil {
			query = query.Where("created_at > ?", *filter.CreatedAfter)
		}
		if filter.CreatedBefore != nil {
			query = query.Where("created_at < ?", *filter.CreatedBefore)
		}
		if filter.Limit > 0 {
			query = query.Limit(filter.Limit)
		}
		if filter.Offset > 0 {
			query = query.Offset(filter.Offset)
		}
	}

	var rows []movieRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list movies: %w", err)
	}

	movies := make([]*Movie, len(rows))
	for i, row := range rows {
		movies[i] = rowToMovie(row)
	}
	return movies, nil
}

func (s *SQLRegistry) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("access underlying sqlite handle: %w", err)
	}
	return sqlDB.Close()
}

func rowToMovie(row movieRow) *Movie {
	return &Movie{
		MovieID:       row.MovieID,
		Created:       row.Created,
		Updated:       row.Updated,
		LastRunID:     row.LastRunID,
		LastRevision:  row.LastRevision,
		LastRunStatus: RunStatus(row.LastRunStatus),
		LastRunError:  row.LastRunError,
		LastRunAt:     row.LastRunAt,
	}
}
