package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/kibblewatch/crawler/internal/crawler"
)

// RunStore persists crawl run records. Expected schema:
//
//	CREATE TABLE crawl_runs (
//		id          UUID PRIMARY KEY,
//		started_at  TIMESTAMPTZ NOT NULL,
//		finished_at TIMESTAMPTZ,
//		total_items INTEGER NOT NULL,
//		status      TEXT NOT NULL
//	);
type RunStore struct {
	db     DB
	logger *zap.Logger
}

// NewRunStore constructs a RunStore over an existing pool.
func NewRunStore(db DB, logger *zap.Logger) (*RunStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunStore{db: db, logger: logger}, nil
}

// LastTotal returns the catalog total observed by the most recent run, or
// zero when no run has been recorded yet.
func (s *RunStore) LastTotal(ctx context.Context) (int, error) {
	var total int
	err := s.db.QueryRow(ctx, `
SELECT total_items FROM crawl_runs
ORDER BY started_at DESC
LIMIT 1`).Scan(&total)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("query last run total: %w", err)
	}
	return total, nil
}

// StartRun records a new run.
func (s *RunStore) StartRun(ctx context.Context, run crawler.CrawlRun) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO crawl_runs (id, started_at, total_items, status)
VALUES ($1, $2, $3, $4)`,
		run.ID, run.StartedAt, run.TotalItems, run.Status,
	)
	if err != nil {
		return fmt.Errorf("insert crawl run: %w", err)
	}
	return nil
}

// CompleteRun marks a run finished.
func (s *RunStore) CompleteRun(ctx context.Context, id uuid.UUID, finishedAt time.Time, status string) error {
	_, err := s.db.Exec(ctx, `
UPDATE crawl_runs SET finished_at = $1, status = $2 WHERE id = $3`,
		finishedAt, status, id,
	)
	if err != nil {
		return fmt.Errorf("complete crawl run: %w", err)
	}
	return nil
}
