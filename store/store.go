// Package store is the persistence layer: schema, migrations, and typed
// repositories over PostgreSQL + pgvector. All identifiers are UUIDs.
// Multi-statement writes (InsertChunks, AppendMessage) run inside explicit
// transactions via inTx, mirroring the teacher engine's inTx(ctx, fn)
// helper generalized from database/sql to pgx's pool-and-transaction
// model; single-statement writes run directly on the pool.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store wraps a pgx connection pool and exposes the typed repositories
// ingestion, retrieval, conversations, feedback, and templates all need.
type Store struct {
	pool         *pgxpool.Pool
	embeddingDim int
}

// Open connects to databaseURL, runs pending migrations from migrationsDir,
// and returns a ready Store. A failed migration aborts startup per the
// migration-runner contract.
func Open(ctx context.Context, databaseURL, migrationsDir string, embeddingDim int) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	if poolCfg.MaxConns <= 0 {
		poolCfg.MaxConns = 20
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := RunMigrations(ctx, pool, migrationsDir); err != nil {
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{pool: pool, embeddingDim: embeddingDim}, nil
}

// Pool exposes the underlying pool for components (e.g. the feedback
// analyzer's LISTEN/NOTIFY consumer) that need a dedicated connection.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// EmbeddingDim returns the configured vector width.
func (s *Store) EmbeddingDim() int { return s.embeddingDim }

// Close releases all pooled connections.
func (s *Store) Close() { s.pool.Close() }

// inTx runs fn inside a transaction, committing on success and rolling back
// on any error or panic. Read-after-write within fn sees its own writes.
func (s *Store) inTx(ctx context.Context, fn func(pgx.Tx) error) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			tx.Rollback(ctx)
			return
		}
		err = tx.Commit(ctx)
	}()

	err = fn(tx)
	return err
}
