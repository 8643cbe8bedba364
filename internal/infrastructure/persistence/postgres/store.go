package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rezkam/taskstream/internal/application/consumer"
	"github.com/rezkam/taskstream/internal/application/outbox"
	"github.com/rezkam/taskstream/internal/application/scheduler"
	"github.com/rezkam/taskstream/internal/application/task"
	"github.com/rezkam/taskstream/internal/notification"
)

// querier is the subset of pgx shared by pools and transactions; Store runs
// all SQL through it so the same methods work inside and outside Atomic.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides the PostgreSQL implementation of every repository surface.
//
// This store implements:
// - application/task.Repository (via TaskStore)
// - notification.Repository (via NotificationStore)
// - application/outbox.Repository
// - application/scheduler.Repository
// - application/consumer.AuditStore and GeneratorStore
type Store struct {
	pool *pgxpool.Pool
	db   querier
}

// Compile-time verification of the repository surfaces.
var (
	_ task.Repository         = TaskStore{}
	_ notification.Repository = NotificationStore{}
	_ outbox.Repository       = (*Store)(nil)
	_ scheduler.Repository    = (*Store)(nil)
	_ consumer.AuditStore     = (*Store)(nil)
	_ consumer.GeneratorStore = (*Store)(nil)
)

// NewStore creates a PostgreSQL store over the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, db: pool}
}

// Pool returns the underlying connection pool.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Close closes the database connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Tasks returns the store as the mutation API's repository.
func (s *Store) Tasks() TaskStore {
	return TaskStore{s}
}

// Notifications returns the store as the notifier's repository.
func (s *Store) Notifications() NotificationStore {
	return NotificationStore{s}
}

// finalizeTx handles transaction cleanup for normal error/success cases.
// Rolls back on error, commits on success.
// Panics are handled separately in the defer blocks before finalizeTx runs.
func finalizeTx(ctx context.Context, tx pgx.Tx, err *error) {
	if *err != nil {
		slog.ErrorContext(ctx, "transaction failed, rolling back",
			"error", *err)
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			slog.ErrorContext(ctx, "rollback failed",
				"original_error", *err,
				"rollback_error", rbErr)
			*err = fmt.Errorf("transaction failed: %w (rollback error: %v)", *err, rbErr)
		}
	} else {
		*err = tx.Commit(ctx)
		if *err != nil {
			slog.ErrorContext(ctx, "transaction commit failed",
				"error", *err)
		}
	}
}

// executeInTransaction runs a callback within a transaction with logging and
// panic recovery.
func (s *Store) executeInTransaction(ctx context.Context, operationName string, fn func(txStore *Store) error) (err error) {
	start := time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to begin transaction",
			"operation", operationName,
			"error", err)
		return fmt.Errorf("failed to begin transaction: %w", mapError(err))
	}

	defer func() {
		if p := recover(); p != nil {
			slog.ErrorContext(ctx, "transaction panic, rolling back",
				"operation", operationName,
				"panic", p)
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				slog.ErrorContext(ctx, "rollback after panic failed",
					"operation", operationName,
					"panic", p,
					"rollback_error", rbErr)
			}
			panic(p)
		}

		finalizeTx(ctx, tx, &err)
		if err == nil {
			slog.DebugContext(ctx, "transaction completed",
				"operation", operationName,
				"duration_ms", time.Since(start).Milliseconds())
		}
	}()

	txStore := &Store{pool: s.pool, db: tx}

	err = fn(txStore)
	return
}

// TaskStore adapts Store to the mutation API's repository interface. The
// wrapper exists because the Atomic callback type differs per application
// package while the leaf methods are shared.
type TaskStore struct {
	*Store
}

// Atomic executes fn within a database transaction.
func (s TaskStore) Atomic(ctx context.Context, fn func(task.Repository) error) error {
	return s.executeInTransaction(ctx, "task_atomic", func(txStore *Store) error {
		return fn(TaskStore{txStore})
	})
}

// NotificationStore adapts Store to the notifier's repository interface.
type NotificationStore struct {
	*Store
}

// Atomic executes fn within a database transaction.
func (s NotificationStore) Atomic(ctx context.Context, fn func(notification.Repository) error) error {
	return s.executeInTransaction(ctx, "notification_atomic", func(txStore *Store) error {
		return fn(NotificationStore{txStore})
	})
}
