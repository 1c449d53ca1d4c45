package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TransactionManager wraps work in begin/commit/rollback with bounded
// retry for transient failures.
type TransactionManager struct {
	// MaxAttempts counts the initial try plus retries.
	MaxAttempts int
	// RetryDelay sleeps between attempts.
	RetryDelay time.Duration

	log *slog.Logger
}

// NewTransactionManager creates a manager with a single retry.
func NewTransactionManager() *TransactionManager {
	return &TransactionManager{
		MaxAttempts: 2,
		RetryDelay:  500 * time.Millisecond,
		log:         slog.With("component", "tx"),
	}
}

// Run executes fn inside a transaction on the given connection. The
// transaction is rolled back on error or panic and retried when the
// failure is transient (serialization, deadlock, lost connection).
func (tm *TransactionManager) Run(ctx context.Context, conn *pgxpool.Conn, fn func(pgx.Tx) error) error {
	attempts := max(tm.MaxAttempts, 1)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = tm.runOnce(ctx, conn, fn)
		if lastErr == nil {
			return nil
		}
		if attempt == attempts || !IsRetryable(lastErr) {
			return lastErr
		}
		tm.log.Warn("Transaction failed, retrying",
			"attempt", attempt, "error", lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(tm.RetryDelay):
		}
	}
	return lastErr
}

func (tm *TransactionManager) runOnce(ctx context.Context, conn *pgxpool.Conn, fn func(pgx.Tx) error) (err error) {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(context.Background())
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// IsRetryable reports whether an error is a transient database failure
// worth retrying: serialization failures, deadlocks, and connection loss.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"08000", // connection_exception
			"08003", // connection_does_not_exist
			"08006": // connection_failure
			return true
		}
		return false
	}
	return pgconn.SafeToRetry(err)
}
