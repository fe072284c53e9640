// Package postgres persists listing records to a Postgres table.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/car-listing-crawler/internal/crawler"
	"github.com/JakeFAU/car-listing-crawler/internal/id/uuid"
)

// DefaultTable receives listing rows when no table is configured.
const DefaultTable = "car_listings"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for listing rows.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// EnsureSchema creates the table on open when it does not exist.
	EnsureSchema bool `mapstructure:"ensure_schema"`
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Ping(context.Context) error
	Close()
}

// ListingStore writes listing rows into Postgres.
type ListingStore struct {
	pool  pool
	table string
	ids   crawler.IDGenerator
}

var _ crawler.Sink = (*ListingStore)(nil)

// Open connects a pool using cfg.
func Open(ctx context.Context, cfg Config) (*ListingStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("sink.postgres.dsn is required")
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
	pgPool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithPool(pgPool, cfg.Table, uuid.New())
	if err != nil {
		pgPool.Close()
		return nil, err
	}
	if cfg.EnsureSchema {
		if err := store.EnsureSchema(ctx); err != nil {
			pgPool.Close()
			return nil, err
		}
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, table string, ids crawler.IDGenerator) (*ListingStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if ids == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &ListingStore{pool: p, table: table, ids: ids}, nil
}

// EnsureSchema creates the listing table and its url index.
func (s *ListingStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id         UUID PRIMARY KEY,
	run_id     TEXT NOT NULL,
	url        TEXT NOT NULL,
	title      TEXT NOT NULL,
	price      DOUBLE PRECISION NOT NULL,
	mileage    INTEGER NOT NULL,
	year       INTEGER,
	page       INTEGER NOT NULL,
	scraped_at TIMESTAMPTZ NOT NULL,
	document   JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS %[1]s_url_idx ON %[1]s (url)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Ping checks connectivity before a run starts.
func (s *ListingStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Store inserts a listing row and returns its generated ID.
func (s *ListingStore) Store(ctx context.Context, record crawler.ListingRecord) (string, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return "", err
	}
	document, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("marshal listing: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	run_id,
	url,
	title,
	price,
	mileage,
	year,
	page,
	scraped_at,
	document
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)`, s.table)

	args := []any{
		id,
		record.RunID,
		record.URL,
		record.Title,
		record.Price,
		record.Mileage,
		nullableYear(record.Year),
		record.Page,
		record.ScrapedAt,
		document,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return "", fmt.Errorf("insert listing: %w", err)
	}
	return id, nil
}

// Close releases the underlying pool resources.
func (s *ListingStore) Close(context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func nullableYear(year int) any {
	if year <= 0 {
		return nil
	}
	return year
}
