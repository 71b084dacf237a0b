package flows

import (
	"context"
	"errors"
	"time"

	"github.com/mvellekoop/rotauth/rotation"
)

// RotateFailureKind classifies rotation flow failures for root-level mapping.
type RotateFailureKind int

const (
	RotateFailureNone RotateFailureKind = iota
	RotateFailureDecode
	RotateFailureRateLimited
	RotateFailureReplay
	RotateFailureExpired
	RotateFailureConflict
	RotateFailureMint
	RotateFailureIssueAccess
	RotateFailureStore
)

// RotateResult carries either the issued token pair or failure metadata.
type RotateResult struct {
	Failure      RotateFailureKind
	Err          error
	SubjectID    string
	AccessToken  string
	RenewalToken string
}

type RotateRateLimiter interface {
	CheckRotate(ctx context.Context, subjectID string) error
}

// RotateDeps captures rotation flow dependencies.
type RotateDeps struct {
	ParseRenewal func(string) (string, error)
	Hash         func(string) string
	NewRenewal   func(subjectID string, ttl time.Duration) (string, error)
	IssueAccess  func(subjectID string) (string, error)
	Now          func() time.Time
	IdleTTL      time.Duration
	Store        rotation.Store
	RateLimiter  RotateRateLimiter
	TrackReplay  func(ctx context.Context, subjectID string) error
	Warn         func(string, ...any)
}

// errMint wraps credential minting failures inside the atomic scope so the
// post-scope classifier can tell them apart from store errors.
type errMint struct{ err error }

func (e errMint) Error() string { return e.err.Error() }
func (e errMint) Unwrap() error { return e.err }

// rotateOutcome records a business decision taken inside an atomic scope that
// must commit (replay purge, expiry delete) even though the operation fails.
type rotateOutcome int

const (
	outcomeRotated rotateOutcome = iota
	outcomeReplay
	outcomeExpired
)

// RunRotate executes single-use credential rotation without root package
// dependencies. Exactly one of N concurrent calls on the same credential can
// succeed; the rest observe a consumed record and trigger replay containment.
func RunRotate(ctx context.Context, rawCredential string, deps RotateDeps) RotateResult {
	claimedSubject, err := deps.ParseRenewal(rawCredential)
	if err != nil {
		return RotateResult{Failure: RotateFailureDecode, Err: err}
	}

	if deps.RateLimiter != nil {
		if err := deps.RateLimiter.CheckRotate(ctx, claimedSubject); err != nil {
			return RotateResult{
				Failure:   RotateFailureRateLimited,
				Err:       err,
				SubjectID: claimedSubject,
			}
		}
	}

	hash := deps.Hash(rawCredential)

	// One retry on hash collision: re-entering the scope re-mints the
	// successor, so a fresh hash is generated.
	const attempts = 2
	var lastErr error
	for i := 0; i < attempts; i++ {
		res, err := rotateOnce(ctx, claimedSubject, hash, deps)
		if errors.Is(err, rotation.ErrConflict) {
			lastErr = err
			continue
		}
		if err != nil {
			var mint errMint
			if errors.As(err, &mint) {
				return RotateResult{Failure: RotateFailureMint, Err: mint.err, SubjectID: claimedSubject}
			}
			return RotateResult{Failure: RotateFailureStore, Err: err, SubjectID: claimedSubject}
		}
		return res
	}
	return RotateResult{Failure: RotateFailureConflict, Err: lastErr, SubjectID: claimedSubject}
}

func rotateOnce(ctx context.Context, claimedSubject, hash string, deps RotateDeps) (RotateResult, error) {
	outcome := outcomeRotated
	subjectID := claimedSubject
	var renewalToken string

	err := deps.Store.Atomic(ctx, func(ops rotation.Ops) error {
		rec, err := ops.FindForRotation(ctx, hash)
		if errors.Is(err, rotation.ErrNotFound) {
			// A verified credential with no record was already rotated away
			// or explicitly revoked. Either way a copy of it is circulating,
			// so the whole family for the claimed subject is purged.
			outcome = outcomeReplay
			return ops.DeleteBySubject(ctx, claimedSubject)
		}
		if err != nil {
			return err
		}
		subjectID = rec.SubjectID

		if rec.Used() {
			outcome = outcomeReplay
			return ops.DeleteBySubject(ctx, rec.SubjectID)
		}

		now := deps.Now()
		if rec.ExpiredAt(now) {
			// Simple expiry is not an attack signal: only this record goes.
			outcome = outcomeExpired
			return ops.DeleteByID(ctx, rec.ID)
		}

		if err := ops.MarkUsed(ctx, rec.ID, now); err != nil {
			return err
		}

		next, err := deps.NewRenewal(rec.SubjectID, rec.AbsoluteExpiresAt.Sub(now))
		if err != nil {
			return errMint{err: err}
		}

		successor := &rotation.Record{
			SubjectID:         rec.SubjectID,
			CredentialHash:    deps.Hash(next),
			IdleExpiresAt:     now.Add(deps.IdleTTL),
			AbsoluteExpiresAt: rec.AbsoluteExpiresAt,
			CreatedAt:         now,
		}
		if err := ops.Insert(ctx, successor); err != nil {
			return err
		}

		renewalToken = next
		return nil
	})
	if err != nil {
		return RotateResult{}, err
	}

	switch outcome {
	case outcomeReplay:
		if deps.TrackReplay != nil {
			if trackErr := deps.TrackReplay(ctx, subjectID); trackErr != nil && deps.Warn != nil {
				deps.Warn("rotauth: replay anomaly tracking failed")
			}
		}
		return RotateResult{Failure: RotateFailureReplay, SubjectID: subjectID}, nil
	case outcomeExpired:
		return RotateResult{Failure: RotateFailureExpired, SubjectID: subjectID}, nil
	}

	access, err := deps.IssueAccess(subjectID)
	if err != nil {
		return RotateResult{
			Failure:   RotateFailureIssueAccess,
			Err:       err,
			SubjectID: subjectID,
		}, nil
	}

	return RotateResult{
		SubjectID:    subjectID,
		AccessToken:  access,
		RenewalToken: renewalToken,
	}, nil
}
