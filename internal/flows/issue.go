package flows

import (
	"context"
	"errors"
	"time"

	"github.com/mvellekoop/rotauth/rotation"
)

// IssueFailureKind classifies issuance flow failures for root-level mapping.
type IssueFailureKind int

const (
	IssueFailureNone IssueFailureKind = iota
	IssueFailureMint
	IssueFailureConflict
	IssueFailureIssueAccess
	IssueFailureStore
)

// IssueResult carries either the issued token pair or failure metadata.
type IssueResult struct {
	Failure      IssueFailureKind
	Err          error
	SubjectID    string
	AccessToken  string
	RenewalToken string
}

// IssueDeps captures first-issuance flow dependencies.
type IssueDeps struct {
	NewRenewal  func(subjectID string, ttl time.Duration) (string, error)
	IssueAccess func(subjectID string) (string, error)
	Hash        func(string) string
	Now         func() time.Time
	IdleTTL     time.Duration
	AbsoluteTTL time.Duration
	Store       rotation.Store
}

// RunIssue starts a fresh credential chain for the subject. The absolute
// deadline fixed here is inherited by every successor the chain produces.
func RunIssue(ctx context.Context, subjectID string, deps IssueDeps) IssueResult {
	const attempts = 2
	var lastErr error

	for i := 0; i < attempts; i++ {
		now := deps.Now()

		renewal, err := deps.NewRenewal(subjectID, deps.AbsoluteTTL)
		if err != nil {
			return IssueResult{Failure: IssueFailureMint, Err: err, SubjectID: subjectID}
		}

		rec := &rotation.Record{
			SubjectID:         subjectID,
			CredentialHash:    deps.Hash(renewal),
			IdleExpiresAt:     now.Add(deps.IdleTTL),
			AbsoluteExpiresAt: now.Add(deps.AbsoluteTTL),
			CreatedAt:         now,
		}
		err = deps.Store.Insert(ctx, rec)
		if errors.Is(err, rotation.ErrConflict) {
			lastErr = err
			continue
		}
		if err != nil {
			return IssueResult{Failure: IssueFailureStore, Err: err, SubjectID: subjectID}
		}

		access, err := deps.IssueAccess(subjectID)
		if err != nil {
			return IssueResult{Failure: IssueFailureIssueAccess, Err: err, SubjectID: subjectID}
		}

		return IssueResult{
			SubjectID:    subjectID,
			AccessToken:  access,
			RenewalToken: renewal,
		}
	}
	return IssueResult{Failure: IssueFailureConflict, Err: lastErr, SubjectID: subjectID}
}
