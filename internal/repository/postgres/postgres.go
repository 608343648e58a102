// Package postgres implements the repository interfaces on PostgreSQL via a
// pgx connection pool.
//
// Write serialization works differently from the sqlite backend. Transactions
// run at READ COMMITTED and, before checking for conflicts, take a
// transaction-scoped advisory lock per participant id (in sorted order, so
// two writers never wait on each other in a cycle). Writers touching
// disjoint participant sets proceed in parallel; writers sharing a
// participant are serialized. SET LOCAL lock_timeout bounds the wait, and an
// expired wait surfaces as apperror.ErrTransient.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/sakif/meeting-scheduler/internal/apperror"
	"github.com/sakif/meeting-scheduler/internal/repository"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DefaultLockTimeout bounds how long a writer waits for a participant lock.
const DefaultLockTimeout = 5 * time.Second

// SQLSTATE codes the store reacts to.
const (
	codeUniqueViolation      = "23505"
	codeCheckViolation       = "23514"
	codeLockNotAvailable     = "55P03"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeQueryCanceled        = "57014"
)

// DB wraps a pgx pool and hands out the per-entity repositories.
type DB struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

var _ repository.Store = (*DB)(nil)

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// New connects to databaseURL, verifies the connection and applies the
// embedded migrations.
func New(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: creating pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: pinging database: %w", err)
	}

	db := &DB{pool: pool, lockTimeout: DefaultLockTimeout}

	if err := db.migrate(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: running migrations: %w", err)
	}

	return db, nil
}

// SetLockTimeout overrides DefaultLockTimeout. Intended for tests.
func (db *DB) SetLockTimeout(d time.Duration) {
	db.lockTimeout = d
}

// Close releases every pooled connection.
func (db *DB) Close() error {
	db.pool.Close()
	return nil
}

func (db *DB) Users() repository.UserRepository { return &UserDB{pool: db.pool} }

func (db *DB) Meetings() repository.MeetingRepository {
	return &MeetingDB{pool: db.pool, lockTimeout: db.lockTimeout}
}

func (db *DB) Sweeps() repository.SweepRepository { return &SweepDB{pool: db.pool} }

// migrate runs golang-migrate through a database/sql view of the pool.
func (db *DB) migrate() error {
	sqlDB := stdlib.OpenDBFromPool(db.pool)

	drv, err := migratepgx.WithInstance(sqlDB, &migratepgx.Config{})
	if err != nil {
		sqlDB.Close()
		return fmt.Errorf("creating migration driver: %w", err)
	}
	return applyMigrations(drv)
}

// applyMigrations brings drv up to the latest embedded migration. drv is
// closed on every path; for pgx that returns its pinned connection to the pool.
func applyMigrations(drv database.Driver) (err error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		drv.Close()
		return fmt.Errorf("loading embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "pgx5", drv)
	if err != nil {
		src.Close()
		drv.Close()
		return fmt.Errorf("creating migrator: %w", err)
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			err = errors.Join(err, srcErr, dbErr)
		}
	}()

	if err = m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// withTx runs fn in a READ COMMITTED transaction. The deferred Rollback is a
// no-op after Commit.
func withTx(ctx context.Context, pool *pgxpool.Pool, op string, fn func(tx pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return translate(op, err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return translate(op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return translate(op, err)
	}
	return nil
}

// lockParticipants takes one advisory lock per participant for the rest of
// the transaction. ids are locked in sorted order to rule out deadlocks
// between writers with overlapping sets.
func lockParticipants(ctx context.Context, tx pgx.Tx, timeout time.Duration, ids []string) error {
	if timeout > 0 {
		// SET does not accept bind parameters.
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", timeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return err
		}
	}

	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	for _, id := range sorted {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, id); err != nil {
			return err
		}
	}
	return nil
}

// translate turns pgx and context errors into domain errors. AppErrors pass
// through untouched.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}

	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return err
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apperror.Transient(op, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeLockNotAvailable, codeSerializationFailure, codeDeadlockDetected, codeQueryCanceled:
			return apperror.Transient(op, err)
		case codeCheckViolation:
			if pgErr.ConstraintName == "meetings_interval_check" {
				return apperror.ValidationFailed("end_time", "end time must be after start time")
			}
		}
	}

	return fmt.Errorf("postgres: %s: %w", op, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}

// uniqueStrings drops duplicates and empty strings, keeping first-seen order.
func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
