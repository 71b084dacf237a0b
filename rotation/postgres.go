package rotation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Schema is the table expected by [PostgresStore]. Apply it with your
// migration tool of choice; the store never creates it implicitly.
const Schema = `
CREATE TABLE IF NOT EXISTS renewal_credentials (
    id                  UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    subject_id          TEXT        NOT NULL,
    credential_hash     TEXT        NOT NULL,
    idle_expires_at     TIMESTAMPTZ NOT NULL,
    absolute_expires_at TIMESTAMPTZ NOT NULL,
    used_at             TIMESTAMPTZ,
    revoked             BOOLEAN     NOT NULL DEFAULT FALSE,
    created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS renewal_credentials_hash_idx
    ON renewal_credentials (credential_hash);

CREATE INDEX IF NOT EXISTS renewal_credentials_subject_idx
    ON renewal_credentials (subject_id);
`

// pgUniqueViolation is the Postgres error code for a unique constraint hit.
const pgUniqueViolation = "23505"

// querier is the subset of database/sql shared by *sql.DB and *sql.Tx, so the
// same statement helpers serve both direct calls and atomic scopes.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore is a [Store] backed by PostgreSQL through database/sql and the
// pgx stdlib driver. FindForRotation uses SELECT ... FOR UPDATE, so the
// find-check-mark sequence inside one Atomic scope is serialized per hash
// across every process sharing the database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle. The caller owns the handle's
// lifecycle and pool configuration.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgresStore opens a connection pool for the given DSN, verifies it
// with a ping, and returns a store over it.
func OpenPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &PostgresStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// pgOps binds the statement helpers to either the pool or an open transaction.
type pgOps struct {
	q      querier
	locked bool
}

// Atomic runs fn inside one database transaction. Row locks taken by
// FindForRotation are held until commit or rollback.
func (s *PostgresStore) Atomic(ctx context.Context, fn func(ops Ops) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if err := fn(pgOps{q: tx, locked: true}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w: rollback after %v: %v", ErrUnavailable, err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// FindForRotation implements [Ops]. Outside an atomic scope no row lock is
// taken; rotation must always go through Atomic.
func (s *PostgresStore) FindForRotation(ctx context.Context, hash string) (*Record, error) {
	return pgOps{q: s.db}.FindForRotation(ctx, hash)
}

// Insert implements [Ops].
func (s *PostgresStore) Insert(ctx context.Context, rec *Record) error {
	return pgOps{q: s.db}.Insert(ctx, rec)
}

// MarkUsed implements [Ops].
func (s *PostgresStore) MarkUsed(ctx context.Context, id string, at time.Time) error {
	return pgOps{q: s.db}.MarkUsed(ctx, id, at)
}

// DeleteBySubject implements [Ops].
func (s *PostgresStore) DeleteBySubject(ctx context.Context, subjectID string) error {
	return pgOps{q: s.db}.DeleteBySubject(ctx, subjectID)
}

// DeleteByID implements [Ops].
func (s *PostgresStore) DeleteByID(ctx context.Context, id string) error {
	return pgOps{q: s.db}.DeleteByID(ctx, id)
}

// SweepExpired implements [Store].
func (s *PostgresStore) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM renewal_credentials WHERE idle_expires_at < $1 OR absolute_expires_at < $1`,
		now)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}

func (o pgOps) FindForRotation(ctx context.Context, hash string) (*Record, error) {
	query := `SELECT id, subject_id, credential_hash, idle_expires_at,
        absolute_expires_at, used_at, revoked, created_at
        FROM renewal_credentials WHERE credential_hash = $1`
	if o.locked {
		query += ` FOR UPDATE`
	}

	var rec Record
	var usedAt sql.NullTime
	err := o.q.QueryRowContext(ctx, query, hash).Scan(
		&rec.ID, &rec.SubjectID, &rec.CredentialHash,
		&rec.IdleExpiresAt, &rec.AbsoluteExpiresAt,
		&usedAt, &rec.Revoked, &rec.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if usedAt.Valid {
		t := usedAt.Time
		rec.UsedAt = &t
	}
	return &rec, nil
}

func (o pgOps) Insert(ctx context.Context, rec *Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	var usedAt any
	if rec.UsedAt != nil {
		usedAt = *rec.UsedAt
	}

	err := o.q.QueryRowContext(ctx,
		`INSERT INTO renewal_credentials
            (subject_id, credential_hash, idle_expires_at, absolute_expires_at,
             used_at, revoked, created_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7)
         RETURNING id`,
		rec.SubjectID, rec.CredentialHash, rec.IdleExpiresAt, rec.AbsoluteExpiresAt,
		usedAt, rec.Revoked, rec.CreatedAt,
	).Scan(&rec.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrConflict
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (o pgOps) MarkUsed(ctx context.Context, id string, at time.Time) error {
	_, err := o.q.ExecContext(ctx,
		`UPDATE renewal_credentials
         SET used_at = COALESCE(used_at, $2), revoked = TRUE
         WHERE id = $1`,
		id, at)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (o pgOps) DeleteBySubject(ctx context.Context, subjectID string) error {
	_, err := o.q.ExecContext(ctx,
		`DELETE FROM renewal_credentials WHERE subject_id = $1`, subjectID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (o pgOps) DeleteByID(ctx context.Context, id string) error {
	_, err := o.q.ExecContext(ctx,
		`DELETE FROM renewal_credentials WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
