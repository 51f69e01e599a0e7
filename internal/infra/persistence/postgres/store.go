// Package postgres keeps the greenhouse catalog, greenhouses and seeds in a
// Postgres JSONB table. Transactions and rules run in memory; each committed
// transaction rewrites one row per entity collection.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"greenhouse/internal/infra/persistence/memory"
	"greenhouse/pkg/domain"
)

var _ domain.PersistentStore = (*Store)(nil)

const (
	driverName = "pgx"
	// localDSN targets a local greenhouse database when no DSN is configured.
	localDSN = "postgres://localhost/greenhouse?sslmode=disable"

	createSnapshotTable = `CREATE TABLE IF NOT EXISTS greenhouse_snapshot (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`
	selectSnapshot = `SELECT bucket, payload FROM greenhouse_snapshot`
	upsertBucket   = `INSERT INTO greenhouse_snapshot(bucket, payload) VALUES($1, $2)
		ON CONFLICT(bucket) DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()`
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// bucket maps a snapshot row onto the collection it holds.
type bucket struct {
	name string
	ref  func(*memory.Snapshot) any
}

// buckets is written in this order on every commit.
var buckets = []bucket{
	{"seed_types", func(s *memory.Snapshot) any { return &s.SeedTypes }},
	{"substrates", func(s *memory.Snapshot) any { return &s.Substrates }},
	{"greenhouses", func(s *memory.Snapshot) any { return &s.Greenhouses }},
	{"seeds", func(s *memory.Snapshot) any { return &s.Seeds }},
}

func lookupBucket(name string) (bucket, bool) {
	for _, b := range buckets {
		if b.name == name {
			return b, true
		}
	}
	return bucket{}, false
}

// Store is a memory.Store whose committed state is mirrored to Postgres.
type Store struct {
	*memory.Store
	db      *sql.DB
	writeMu sync.Mutex
}

// NewStore connects with dsn (or localDSN), creates the snapshot table when
// missing and restores any greenhouses and seeds saved by a previous run.
func NewStore(ctx context.Context, dsn string, engine *domain.RulesEngine) (*Store, error) {
	if dsn == "" {
		dsn = localDSN
	}
	openMu.Lock()
	db, err := sqlOpen(driverName, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, createSnapshotTable); err != nil {
		return nil, fmt.Errorf("create greenhouse_snapshot: %w", err)
	}
	restored, err := readSnapshot(ctx, db)
	if err != nil {
		return nil, err
	}
	mem := memory.NewStore(engine)
	mem.ImportState(restored)
	return &Store{Store: mem, db: db}, nil
}

// RunInTransaction commits in memory first. A failed write to Postgres is
// returned to the caller; the in-memory commit stands.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	return res, s.writeSnapshot(ctx)
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the connection pool to tests.
func (s *Store) DB() *sql.DB { return s.db }

func readSnapshot(ctx context.Context, db *sql.DB) (memory.Snapshot, error) {
	var snapshot memory.Snapshot
	rows, err := db.QueryContext(ctx, selectSnapshot)
	if err != nil {
		return snapshot, fmt.Errorf("read greenhouse_snapshot: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			name    string
			payload []byte
		)
		if err := rows.Scan(&name, &payload); err != nil {
			return memory.Snapshot{}, fmt.Errorf("scan greenhouse_snapshot: %w", err)
		}
		b, known := lookupBucket(name)
		if !known || len(payload) == 0 {
			continue
		}
		if err := json.Unmarshal(payload, b.ref(&snapshot)); err != nil {
			return memory.Snapshot{}, fmt.Errorf("decode %s: %w", name, err)
		}
	}
	if err := rows.Err(); err != nil {
		return memory.Snapshot{}, fmt.Errorf("read greenhouse_snapshot: %w", err)
	}
	return snapshot, nil
}

func (s *Store) writeSnapshot(ctx context.Context) (err error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current := s.ExportState()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot write: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, b := range buckets {
		payload, err := json.Marshal(b.ref(&current))
		if err != nil {
			return fmt.Errorf("encode %s: %w", b.name, err)
		}
		if _, err := tx.ExecContext(ctx, upsertBucket, b.name, payload); err != nil {
			return fmt.Errorf("upsert %s: %w", b.name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot write: %w", err)
	}
	return nil
}

// OverrideSQLOpen replaces the connection opener for tests. Call the returned
// func to restore it.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
