// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/kibblewatch/crawler/internal/crawler"
)

const uniqueViolationCode = "23505"

// DB is the subset of pgxpool.Pool the stores need; narrowed so tests can
// substitute a mock pool.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PoolConfig controls the shared Postgres connection pool.
type PoolConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// ItemStore implements the dedup-and-upsert gate over the foods and diets
// tables. Expected schema:
//
//	CREATE TABLE foods (
//		item_num    INTEGER NOT NULL,
//		url         TEXT NOT NULL UNIQUE,
//		ingredients TEXT NOT NULL,
//		brand       TEXT,
//		xsm_breed   BOOLEAN NOT NULL DEFAULT FALSE,
//		sm_breed    BOOLEAN NOT NULL DEFAULT FALSE,
//		md_breed    BOOLEAN NOT NULL DEFAULT FALSE,
//		lg_breed    BOOLEAN NOT NULL DEFAULT FALSE,
//		xlg_breed   BOOLEAN NOT NULL DEFAULT FALSE,
//		food_form   TEXT,
//		lifestage   TEXT,
//		compliant   BOOLEAN NOT NULL
//	);
//	CREATE TABLE diets (
//		diet     TEXT NOT NULL,
//		item_num INTEGER NOT NULL REFERENCES foods (item_num)
//	);
type ItemStore struct {
	db     DB
	logger *zap.Logger
}

// Connect builds a pgx pool from the store configuration. The pool is
// shared by the item and run stores.
func Connect(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// NewItemStore connects a pool and returns the store.
func NewItemStore(ctx context.Context, cfg PoolConfig, logger *zap.Logger) (*ItemStore, error) {
	pool, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewItemStoreWithDB(pool, logger)
}

// NewItemStoreWithDB constructs a store from an existing pool (primarily
// for testing).
func NewItemStoreWithDB(db DB, logger *zap.Logger) (*ItemStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ItemStore{db: db, logger: logger}, nil
}

// Ping reports whether the database is reachable.
func (s *ItemStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close releases the underlying pool resources.
func (s *ItemStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	s.db.Close()
}

// Exists reports whether the canonical URL is already cataloged. Storage
// errors are logged and reported as "not present": the caller will scrape
// and the insert's unique constraint settles the race.
func (s *ItemStore) Exists(ctx context.Context, rawURL string) bool {
	url := crawler.CanonicalURL(rawURL)
	var one int
	err := s.db.QueryRow(ctx, `SELECT 1 FROM foods WHERE url = $1`, url).Scan(&one)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			s.logger.Warn("existence check failed, treating as not present",
				zap.String("url", url),
				zap.Error(err),
			)
		}
		return false
	}
	return true
}

// Insert writes the food row and one diets row per tag in a single
// transaction. A unique-violation on the URL surfaces as
// crawler.ErrDuplicateItem; everything is rolled back on any failure.
func (s *ItemStore) Insert(ctx context.Context, food crawler.Food, diets []string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin insert transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	_, err = tx.Exec(ctx, `
INSERT INTO foods (
	item_num, url, ingredients, brand,
	xsm_breed, sm_breed, md_breed, lg_breed, xlg_breed,
	food_form, lifestage, compliant
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		food.ItemNumber,
		food.URL,
		food.Ingredients,
		food.Brand,
		food.XSmallBreed,
		food.SmallBreed,
		food.MediumBreed,
		food.LargeBreed,
		food.GiantBreed,
		food.FoodForm,
		food.Lifestage,
		food.Compliant,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert food %s: %w", food.URL, crawler.ErrDuplicateItem)
		}
		return fmt.Errorf("insert food %s: %w", food.URL, err)
	}

	for _, diet := range diets {
		if _, err := tx.Exec(ctx,
			`INSERT INTO diets (diet, item_num) VALUES ($1, $2)`,
			diet, food.ItemNumber,
		); err != nil {
			return fmt.Errorf("insert diet %q for item %d: %w", diet, food.ItemNumber, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit insert transaction: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}
