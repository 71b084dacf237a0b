package flows

import (
	"context"
	"errors"

	"github.com/mvellekoop/rotauth/rotation"
)

// RevokeDeps captures revocation flow dependencies.
type RevokeDeps struct {
	ParseRenewal func(string) (string, error)
	Hash         func(string) string
	Store        rotation.Store
}

// RevokeResult reports which record, if any, a revocation removed.
type RevokeResult struct {
	SubjectID string
	Removed   bool
	Err       error
}

// RunRevoke deletes the single record matching the credential. Absence is not
// an error: revoking an already-rotated or never-issued credential is a no-op.
// Deliberately narrower than replay containment, which purges the family.
func RunRevoke(ctx context.Context, rawCredential string, deps RevokeDeps) RevokeResult {
	subjectID, err := deps.ParseRenewal(rawCredential)
	if err != nil {
		return RevokeResult{Err: err}
	}

	hash := deps.Hash(rawCredential)
	removed := false
	err = deps.Store.Atomic(ctx, func(ops rotation.Ops) error {
		rec, err := ops.FindForRotation(ctx, hash)
		if errors.Is(err, rotation.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		removed = true
		return ops.DeleteByID(ctx, rec.ID)
	})
	return RevokeResult{SubjectID: subjectID, Removed: removed, Err: err}
}

// RunRevokeAll removes every record belonging to the subject.
func RunRevokeAll(ctx context.Context, subjectID string, deps RevokeDeps) error {
	return deps.Store.DeleteBySubject(ctx, subjectID)
}
