package rotauth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mvellekoop/rotauth/internal/audit"
	"github.com/mvellekoop/rotauth/internal/flows"
	"github.com/mvellekoop/rotauth/internal/rate"
	"github.com/mvellekoop/rotauth/jwt"
	"github.com/mvellekoop/rotauth/password"
	"github.com/mvellekoop/rotauth/rotation"
)

// Engine defines a public type used by rotauth APIs.
//
// Engine instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Engine struct {
	config       Config
	store        rotation.Store
	jwtManager   *jwt.Manager
	passwordHash *password.Argon2
	userProvider UserProvider
	rateLimiter  *rate.Limiter
	audit        *audit.Dispatcher
	metrics      *Metrics

	// now is swapped in tests to control expiry decisions.
	now func() time.Time

	// flowDeps is built once; every request method delegates to the matching
	// flow with its pre-wired dependency set.
	flowDeps flows.Deps

	sweepDone chan struct{}
	sweepWG   sync.WaitGroup
	closeOnce sync.Once
}

// PasswordUpdater is an optional extension of [UserProvider]. Providers that
// implement it get stored hashes transparently re-hashed on login when the
// configured Argon2 parameters are stronger than the stored ones.
type PasswordUpdater interface {
	UpdatePasswordHash(ctx context.Context, subjectID, passwordHash string) error
}

// loginLimiter adapts the Redis limiter to the login flow, resolving the
// caller IP from context.
type loginLimiter struct {
	limiter *rate.Limiter
}

func (l loginLimiter) CheckLogin(ctx context.Context, identifier string) error {
	return l.limiter.CheckLogin(ctx, identifier, clientIPFromContext(ctx))
}

/*
====================================
TOKEN ISSUANCE
====================================
*/

// Issue starts a fresh credential chain for an already-authenticated subject.
// Use it when authentication happened outside the engine (SSO, social login).
//
// Issue may return an error when input validation, dependency calls, or security checks fail.
// Issue does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Issue(ctx context.Context, subjectID string) (*AuthResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if subjectID == "" {
		return nil, errors.New("subjectID must not be empty")
	}

	res := flows.RunIssue(ctx, subjectID, e.flowDeps.Issue)
	err := e.mapIssueFailure(res.Failure, res.Err)

	if err != nil {
		e.metrics.Inc(MetricIssueFailure)
	} else {
		e.metrics.Inc(MetricIssueSuccess)
	}
	e.emitAudit(ctx, auditEventIssue, subjectID, "", err, nil)

	if err != nil {
		return nil, err
	}
	return &AuthResult{
		SubjectID: res.SubjectID,
		Tokens: TokenPair{
			AccessToken:  res.AccessToken,
			RenewalToken: res.RenewalToken,
		},
	}, nil
}

/*
====================================
LOGIN
====================================
*/

// Login authenticates the identifier/password pair against the configured
// [UserProvider] and issues a token pair. Unknown identifiers and wrong
// passwords both return [ErrInvalidCredentials].
//
// Login may return an error when input validation, dependency calls, or security checks fail.
// Login does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Login(ctx context.Context, identifier, pass string) (*AuthResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if e.userProvider == nil {
		return nil, ErrEngineNotReady
	}

	res := flows.RunLogin(ctx, identifier, pass, e.flowDeps.Login)

	var err error
	switch res.Failure {
	case flows.LoginFailureNone:
	case flows.LoginFailureRateLimited:
		err = ErrLoginRateLimited
		e.metrics.Inc(MetricLoginRateLimited)
		e.emitRateLimit(ctx, "login", "")
	case flows.LoginFailureUserLookup, flows.LoginFailureBadCredentials:
		// Unknown identifier and bad password are indistinguishable to the
		// caller.
		err = ErrInvalidCredentials
		if e.rateLimiter != nil {
			if incErr := e.rateLimiter.IncrementLogin(ctx, identifier, clientIPFromContext(ctx)); incErr != nil && !errors.Is(incErr, rate.ErrRateLimited) {
				log.Printf("rotauth: failed login counter increment failed")
			}
		}
	case flows.LoginFailureIssue:
		err = e.wrapStore(res.Err)
	}

	if err != nil {
		e.metrics.Inc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, res.SubjectID, "", err, nil)
		return nil, err
	}

	if e.rateLimiter != nil {
		if resetErr := e.rateLimiter.ResetLogin(ctx, identifier, clientIPFromContext(ctx)); resetErr != nil {
			log.Printf("rotauth: login counter reset failed")
		}
	}
	e.maybeUpgradePassword(ctx, identifier, res.SubjectID, pass)

	e.metrics.Inc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, res.SubjectID, "", nil, nil)

	return &AuthResult{
		SubjectID: res.SubjectID,
		Tokens: TokenPair{
			AccessToken:  res.AccessToken,
			RenewalToken: res.RenewalToken,
		},
	}, nil
}

func (e *Engine) maybeUpgradePassword(ctx context.Context, identifier, subjectID, pass string) {
	if !e.config.Password.UpgradeOnLogin {
		return
	}
	updater, ok := e.userProvider.(PasswordUpdater)
	if !ok {
		return
	}

	user, err := e.userProvider.FindByIdentifier(ctx, identifier)
	if err != nil || user == nil || user.PasswordHash == "" {
		return
	}

	needs, err := e.passwordHash.NeedsUpgrade(user.PasswordHash)
	if err != nil || !needs {
		return
	}
	newHash, err := e.passwordHash.Hash(pass)
	if err != nil {
		return
	}
	if err := updater.UpdatePasswordHash(ctx, subjectID, newHash); err != nil {
		log.Printf("rotauth: password hash upgrade failed")
	}
}

/*
====================================
ACCOUNT CREATION
====================================
*/

// Register creates an account through the [UserProvider] and, when AutoLogin
// is enabled, issues a token pair for the new subject.
//
// Register may return an error when input validation, dependency calls, or security checks fail.
// Register does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Register(ctx context.Context, identifier, pass string) (*AuthResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if !e.config.Account.Enabled {
		return nil, ErrAccountCreationDisabled
	}
	if e.userProvider == nil {
		return nil, ErrEngineNotReady
	}

	passwordHash, err := e.passwordHash.Hash(pass)
	if err != nil {
		return nil, err
	}

	user, err := e.userProvider.Create(ctx, CreateUserInput{
		Identifier:   identifier,
		PasswordHash: passwordHash,
	})
	if err != nil {
		if errors.Is(err, ErrProviderDuplicateIdentifier) {
			e.metrics.Inc(MetricAccountCreationDuplicate)
			e.emitAudit(ctx, auditEventAccountCreation, "", "", ErrAccountExists, nil)
			return nil, ErrAccountExists
		}
		e.emitAudit(ctx, auditEventAccountCreation, "", "", err, nil)
		return nil, err
	}

	e.metrics.Inc(MetricAccountCreationSuccess)
	e.emitAudit(ctx, auditEventAccountCreation, user.SubjectID, "", nil, nil)

	if !e.config.Account.AutoLogin {
		return &AuthResult{SubjectID: user.SubjectID}, nil
	}
	return e.Issue(ctx, user.SubjectID)
}

/*
====================================
ROTATION
====================================
*/

// Rotate exchanges a single-use renewal credential for a fresh token pair.
// A credential presented twice is treated as stolen: the second presentation
// fails with [ErrReplayDetected] and every live credential for the subject is
// purged, forcing re-authentication on all devices.
//
// Rotate may return an error when input validation, dependency calls, or security checks fail.
// Rotate does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Rotate(ctx context.Context, renewalToken string) (*AuthResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	res := flows.RunRotate(ctx, renewalToken, e.flowDeps.Rotate)
	hashPrefix := rotation.HashPrefix(rotation.HashCredential(renewalToken))

	var err error
	switch res.Failure {
	case flows.RotateFailureNone:
	case flows.RotateFailureDecode:
		err = fmt.Errorf("%w: %v", ErrInvalidCredential, res.Err)
	case flows.RotateFailureRateLimited:
		err = ErrRotateRateLimited
		e.metrics.Inc(MetricRotateRateLimited)
		e.emitRateLimit(ctx, "rotate", res.SubjectID)
	case flows.RotateFailureReplay:
		err = ErrReplayDetected
		e.metrics.Inc(MetricReplayDetected)
		e.emitAudit(ctx, auditEventReplayDetected, res.SubjectID, hashPrefix, err, nil)
	case flows.RotateFailureExpired:
		err = ErrCredentialExpired
		e.metrics.Inc(MetricCredentialExpired)
		e.emitAudit(ctx, auditEventCredentialExpired, res.SubjectID, hashPrefix, err, nil)
	case flows.RotateFailureConflict:
		err = ErrRotationConflict
		e.metrics.Inc(MetricRotateConflict)
	case flows.RotateFailureMint, flows.RotateFailureIssueAccess:
		err = res.Err
	case flows.RotateFailureStore:
		err = e.wrapStore(res.Err)
	}

	if err != nil {
		e.metrics.Inc(MetricRotateFailure)
		if res.Failure != flows.RotateFailureReplay && res.Failure != flows.RotateFailureExpired {
			e.emitAudit(ctx, auditEventRotateInvalid, res.SubjectID, hashPrefix, err, nil)
		}
		return nil, err
	}

	e.metrics.Inc(MetricRotateSuccess)
	e.emitAudit(ctx, auditEventRotateSuccess, res.SubjectID, hashPrefix, nil, nil)

	return &AuthResult{
		SubjectID: res.SubjectID,
		Tokens: TokenPair{
			AccessToken:  res.AccessToken,
			RenewalToken: res.RenewalToken,
		},
	}, nil
}

/*
====================================
REVOCATION
====================================
*/

// Revoke invalidates a single renewal credential. Revoking a credential that
// no longer exists is a no-op, not an error, so logout is always safe to
// retry. A copy of the revoked credential presented later is treated as a
// replay.
//
// Revoke may return an error when input validation, dependency calls, or security checks fail.
// Revoke does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Revoke(ctx context.Context, renewalToken string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	res := flows.RunRevoke(ctx, renewalToken, e.flowDeps.Revoke)
	if res.Err != nil {
		if res.SubjectID == "" {
			return fmt.Errorf("%w: %v", ErrInvalidCredential, res.Err)
		}
		return e.wrapStore(res.Err)
	}

	e.metrics.Inc(MetricRevoke)
	e.emitAudit(ctx, auditEventRevoke, res.SubjectID, "", nil, map[string]string{
		"removed": fmt.Sprintf("%t", res.Removed),
	})
	return nil
}

// RevokeAll removes every live renewal credential for the subject, signing
// the subject out of every device at once.
//
// RevokeAll may return an error when input validation, dependency calls, or security checks fail.
// RevokeAll does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) RevokeAll(ctx context.Context, subjectID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if subjectID == "" {
		return errors.New("subjectID must not be empty")
	}

	if err := flows.RunRevokeAll(ctx, subjectID, e.flowDeps.Revoke); err != nil {
		return e.wrapStore(err)
	}

	e.metrics.Inc(MetricRevokeAll)
	e.emitAudit(ctx, auditEventRevokeAll, subjectID, "", nil, nil)
	return nil
}

/*
====================================
VALIDATION
====================================
*/

// ValidateAccess verifies an access token's signature, expiry, and kind and
// returns its claims. This is the hot path: no store, no Redis, pure CPU.
//
// ValidateAccess may return an error when input validation, dependency calls, or security checks fail.
// ValidateAccess does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ValidateAccess(accessToken string) (*AccessClaims, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	start := time.Now()
	claims, err := e.jwtManager.ParseAccess(accessToken)
	e.metrics.Observe(MetricValidateLatency, time.Since(start))

	if err != nil {
		e.metrics.Inc(MetricValidateFailure)
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	e.metrics.Inc(MetricValidateSuccess)
	return &AccessClaims{
		SubjectID: claims.Subject,
		Extra:     claims.Extra,
	}, nil
}

/*
====================================
MAINTENANCE
====================================
*/

// Sweep removes expired records in bulk. Expiry is already enforced at
// rotation time; the sweeper only reclaims storage for chains that were
// abandoned without a final rotation attempt.
//
// Sweep may return an error when input validation, dependency calls, or security checks fail.
func (e *Engine) Sweep(ctx context.Context) (int64, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}

	removed, err := e.store.SweepExpired(ctx, e.now())
	if err != nil {
		return removed, e.wrapStore(err)
	}
	if removed > 0 {
		e.metrics.Add(MetricSweepRemoved, uint64(removed))
		e.emitAudit(ctx, auditEventSweep, "", "", nil, map[string]string{
			"removed": fmt.Sprintf("%d", removed),
		})
	}
	return removed, nil
}

func (e *Engine) runSweeper() {
	defer e.sweepWG.Done()

	ticker := time.NewTicker(e.config.Sweep.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := e.Sweep(context.Background()); err != nil {
				log.Printf("rotauth: expiry sweep failed")
			}
		case <-e.sweepDone:
			return
		}
	}
}

// ReplayAnomalies reports how many replays have been detected for the subject
// within the tracking window. Returns zero when replay tracking is disabled.
func (e *Engine) ReplayAnomalies(ctx context.Context, subjectID string) (int, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}
	if e.rateLimiter == nil || !e.config.Security.EnableReplayTracking {
		return 0, nil
	}
	return e.rateLimiter.ReplayAnomalies(ctx, subjectID)
}

// MetricsSnapshot describes the metricssnapshot operation and its observable behavior.
//
// MetricsSnapshot does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return MetricsSnapshot{}
	}
	return e.metrics.Snapshot()
}

// AuditDropped describes the auditdropped operation and its observable behavior.
//
// AuditDropped does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// Close stops the background sweeper and drains the audit dispatcher. Safe to
// call more than once.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.closeOnce.Do(func() {
		close(e.sweepDone)
		e.sweepWG.Wait()
		e.audit.Close()
	})
}

/*
====================================
HELPERS
====================================
*/

// buildFlowDeps wires the four dependency sets. Closures read e.now through
// the receiver so a test clock swapped in after Build still takes effect.
func (e *Engine) buildFlowDeps() flows.Deps {
	issueAccess := func(subjectID string) (string, error) {
		return e.jwtManager.CreateAccess(subjectID, nil)
	}
	now := func() time.Time { return e.now() }

	issue := flows.IssueDeps{
		NewRenewal:  e.jwtManager.CreateRenewal,
		IssueAccess: issueAccess,
		Hash:        rotation.HashCredential,
		Now:         now,
		IdleTTL:     e.config.Rotation.IdleTTL,
		AbsoluteTTL: e.config.Rotation.AbsoluteTTL,
		Store:       e.store,
	}

	rotate := flows.RotateDeps{
		ParseRenewal: e.parseRenewalSubject,
		Hash:         rotation.HashCredential,
		NewRenewal:   e.jwtManager.CreateRenewal,
		IssueAccess:  issueAccess,
		Now:          now,
		IdleTTL:      e.config.Rotation.IdleTTL,
		Store:        e.store,
		Warn:         log.Printf,
	}
	if e.rateLimiter != nil {
		rotate.RateLimiter = e.rateLimiter
		if e.config.Security.EnableReplayTracking {
			rotate.TrackReplay = func(ctx context.Context, subjectID string) error {
				return e.rateLimiter.TrackReplayAnomaly(ctx, subjectID, e.config.Rotation.AbsoluteTTL)
			}
		}
	}

	revoke := flows.RevokeDeps{
		ParseRenewal: e.parseRenewalSubject,
		Hash:         rotation.HashCredential,
		Store:        e.store,
	}

	login := flows.LoginDeps{
		Lookup: func(ctx context.Context, identifier string) (string, string, error) {
			user, err := e.userProvider.FindByIdentifier(ctx, identifier)
			if err != nil {
				return "", "", err
			}
			return user.SubjectID, user.PasswordHash, nil
		},
		VerifyPassword: e.passwordHash.Verify,
		Issue:          issue,
	}
	if e.rateLimiter != nil {
		login.RateLimiter = loginLimiter{limiter: e.rateLimiter}
	}

	return flows.Deps{
		Issue:  issue,
		Rotate: rotate,
		Revoke: revoke,
		Login:  login,
	}
}

func (e *Engine) parseRenewalSubject(raw string) (string, error) {
	claims, err := e.jwtManager.ParseRenewal(raw)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

func (e *Engine) mapIssueFailure(kind flows.IssueFailureKind, err error) error {
	switch kind {
	case flows.IssueFailureNone:
		return nil
	case flows.IssueFailureConflict:
		return ErrRotationConflict
	case flows.IssueFailureStore:
		return e.wrapStore(err)
	default:
		return err
	}
}

func (e *Engine) wrapStore(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
