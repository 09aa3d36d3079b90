package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kibblewatch/crawler/internal/crawler"
)

func newMockedRunStore(t *testing.T) (*RunStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewRunStore(mock, zap.NewNop())
	require.NoError(t, err)
	return store, mock
}

func TestRunStoreLastTotal(t *testing.T) {
	t.Parallel()

	store, mock := newMockedRunStore(t)
	mock.ExpectQuery("SELECT total_items FROM crawl_runs").
		WillReturnRows(pgxmock.NewRows([]string{"total_items"}).AddRow(3513))

	total, err := store.LastTotal(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3513, total)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreLastTotalNoRuns(t *testing.T) {
	t.Parallel()

	store, mock := newMockedRunStore(t)
	mock.ExpectQuery("SELECT total_items FROM crawl_runs").
		WillReturnRows(pgxmock.NewRows([]string{"total_items"}))

	total, err := store.LastTotal(context.Background())
	require.NoError(t, err)
	require.Zero(t, total)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreStartAndComplete(t *testing.T) {
	t.Parallel()

	store, mock := newMockedRunStore(t)
	run := crawler.CrawlRun{
		ID:         uuid.New(),
		StartedAt:  time.Unix(1000, 0).UTC(),
		TotalItems: 3513,
		Status:     crawler.RunRunning,
	}

	mock.ExpectExec("INSERT INTO crawl_runs").
		WithArgs(run.ID, run.StartedAt, run.TotalItems, run.Status).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, store.StartRun(context.Background(), run))

	finished := time.Unix(2000, 0).UTC()
	mock.ExpectExec("UPDATE crawl_runs SET finished_at").
		WithArgs(finished, crawler.RunCompleted, run.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.CompleteRun(context.Background(), run.ID, finished, crawler.RunCompleted))

	require.NoError(t, mock.ExpectationsWereMet())
}
