package rotation

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by FindForRotation when no record matches the hash.
	ErrNotFound = errors.New("rotation record not found")
	// ErrConflict is returned by Insert when the credential hash collides with
	// an existing record.
	ErrConflict = errors.New("rotation record hash conflict")
	// ErrUnavailable wraps transient backing-store failures. Operations failing
	// with ErrUnavailable committed nothing and are safe to retry whole.
	ErrUnavailable = errors.New("rotation store unavailable")
)

// Ops is the set of record operations available both directly on a [Store]
// and inside an [Store.Atomic] scope.
type Ops interface {
	// FindForRotation returns the record matching hash and acquires exclusive
	// ownership of it for the duration of the enclosing atomic scope: two
	// concurrent rotation attempts on the same hash cannot both observe the
	// record as unused. Returns ErrNotFound when no record matches.
	FindForRotation(ctx context.Context, hash string) (*Record, error)

	// Insert persists a new record. Fails with ErrConflict when CredentialHash
	// collides with an existing record.
	Insert(ctx context.Context, rec *Record) error

	// MarkUsed sets UsedAt and Revoked together on the record with the given
	// id. Idempotent: marking an already-used record keeps the original
	// UsedAt. Callers must still check record state before deciding to mark.
	MarkUsed(ctx context.Context, id string, at time.Time) error

	// DeleteBySubject removes every record belonging to the subject. Used for
	// replay containment and logout-all.
	DeleteBySubject(ctx context.Context, subjectID string) error

	// DeleteByID removes a single record. Absence is not an error.
	DeleteByID(ctx context.Context, id string) error
}

// Store is the transactional persistence contract for renewal credential
// records. All implementations must guarantee that the find–check–mark
// sequence inside one Atomic scope is serialized per credential hash across
// every process sharing the backing store.
type Store interface {
	Ops

	// Atomic runs fn inside one unit of work. Locks taken by FindForRotation
	// are held until fn returns. When fn returns an error the unit of work is
	// rolled back and the error is returned; otherwise it is committed.
	Atomic(ctx context.Context, fn func(ops Ops) error) error

	// SweepExpired bulk-deletes records whose idle or absolute deadline is
	// before now and returns how many were removed. Intended for periodic
	// background invocation, never for the request path.
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
}
