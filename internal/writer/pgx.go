package writer

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolExecutor runs each batch in its own transaction on a pooled
// connection. The connection is held by one worker for the whole batch.
type PoolExecutor struct {
	pool *pgxpool.Pool
}

// NewPoolExecutor creates an executor backed by pool
func NewPoolExecutor(pool *pgxpool.Pool) *PoolExecutor {
	return &PoolExecutor{pool: pool}
}

// Execute sends the statements as one pipelined batch inside a transaction.
// Either all statements commit or none do.
func (e *PoolExecutor) Execute(ctx context.Context, stmts []Statement) error {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	b := &pgx.Batch{}
	for _, s := range stmts {
		b.Queue(s.SQL, s.Args...)
	}

	br := tx.SendBatch(ctx, b)
	for i, s := range stmts {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return &StatementError{Index: i, SQL: s.SQL, Err: err}
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("failed to close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}
