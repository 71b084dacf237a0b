package flows

import (
	"context"
)

// LoginFailureKind classifies login flow failures for root-level mapping.
type LoginFailureKind int

const (
	LoginFailureNone LoginFailureKind = iota
	LoginFailureRateLimited
	LoginFailureUserLookup
	LoginFailureBadCredentials
	LoginFailureIssue
)

// LoginResult carries either the issued token pair or failure metadata.
type LoginResult struct {
	Failure      LoginFailureKind
	Err          error
	SubjectID    string
	AccessToken  string
	RenewalToken string
}

type LoginRateLimiter interface {
	CheckLogin(ctx context.Context, identifier string) error
}

// LoginDeps captures login flow dependencies. Lookup returns the subject ID
// and stored password hash for an identifier; a not-found error from Lookup
// surfaces the same way as a bad password so callers cannot probe which
// identifiers exist.
type LoginDeps struct {
	Lookup         func(ctx context.Context, identifier string) (subjectID, passwordHash string, err error)
	VerifyPassword func(password, hash string) (bool, error)
	RateLimiter    LoginRateLimiter
	Issue          IssueDeps
}

// RunLogin authenticates the identifier/password pair and starts a fresh
// credential chain on success.
func RunLogin(ctx context.Context, identifier, password string, deps LoginDeps) LoginResult {
	if deps.RateLimiter != nil {
		if err := deps.RateLimiter.CheckLogin(ctx, identifier); err != nil {
			return LoginResult{Failure: LoginFailureRateLimited, Err: err}
		}
	}

	subjectID, passwordHash, err := deps.Lookup(ctx, identifier)
	if err != nil {
		return LoginResult{Failure: LoginFailureUserLookup, Err: err}
	}

	ok, err := deps.VerifyPassword(password, passwordHash)
	if err != nil || !ok {
		return LoginResult{Failure: LoginFailureBadCredentials, Err: err, SubjectID: subjectID}
	}

	issued := RunIssue(ctx, subjectID, deps.Issue)
	if issued.Failure != IssueFailureNone {
		return LoginResult{Failure: LoginFailureIssue, Err: issued.Err, SubjectID: subjectID}
	}

	return LoginResult{
		SubjectID:    subjectID,
		AccessToken:  issued.AccessToken,
		RenewalToken: issued.RenewalToken,
	}
}
