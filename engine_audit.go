package rotauth

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventLoginSuccess      = "login_success"
	auditEventLoginFailure      = "login_failure"
	auditEventIssue             = "token_issue"
	auditEventRotateSuccess     = "rotate_success"
	auditEventRotateInvalid     = "rotate_invalid"
	auditEventReplayDetected    = "replay_detected"
	auditEventCredentialExpired = "credential_expired"
	auditEventRevoke            = "revoke"
	auditEventRevokeAll         = "revoke_all"
	auditEventAccountCreation   = "account_creation"
	auditEventRateLimit         = "rate_limit_triggered"
	auditEventSweep             = "sweep"
)

// AuditErrorCode defines a public type used by rotauth APIs.
//
// AuditErrorCode instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditErrorCode string

const (
	// AuditErrorNone is an exported constant or variable used by the authentication engine.
	AuditErrorNone AuditErrorCode = ""
	// AuditErrorInvalidCredential is an exported constant or variable used by the authentication engine.
	AuditErrorInvalidCredential AuditErrorCode = "invalid_credential"
	// AuditErrorReplayDetected is an exported constant or variable used by the authentication engine.
	AuditErrorReplayDetected AuditErrorCode = "replay_detected"
	// AuditErrorCredentialExpired is an exported constant or variable used by the authentication engine.
	AuditErrorCredentialExpired AuditErrorCode = "credential_expired"
	// AuditErrorRotationConflict is an exported constant or variable used by the authentication engine.
	AuditErrorRotationConflict AuditErrorCode = "rotation_conflict"
	// AuditErrorStoreUnavailable is an exported constant or variable used by the authentication engine.
	AuditErrorStoreUnavailable AuditErrorCode = "store_unavailable"
	// AuditErrorInvalidCredentials is an exported constant or variable used by the authentication engine.
	AuditErrorInvalidCredentials AuditErrorCode = "invalid_credentials"
	// AuditErrorRateLimited is an exported constant or variable used by the authentication engine.
	AuditErrorRateLimited AuditErrorCode = "rate_limited"
	// AuditErrorAccountExists is an exported constant or variable used by the authentication engine.
	AuditErrorAccountExists AuditErrorCode = "account_exists"
	// AuditErrorInternal is an exported constant or variable used by the authentication engine.
	AuditErrorInternal AuditErrorCode = "internal_error"
)

func auditErrorCode(err error) AuditErrorCode {
	switch {
	case err == nil:
		return AuditErrorNone
	case errors.Is(err, ErrReplayDetected):
		return AuditErrorReplayDetected
	case errors.Is(err, ErrCredentialExpired):
		return AuditErrorCredentialExpired
	case errors.Is(err, ErrInvalidCredential), errors.Is(err, ErrTokenInvalid):
		return AuditErrorInvalidCredential
	case errors.Is(err, ErrRotationConflict):
		return AuditErrorRotationConflict
	case errors.Is(err, ErrStoreUnavailable):
		return AuditErrorStoreUnavailable
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrUserNotFound):
		return AuditErrorInvalidCredentials
	case errors.Is(err, ErrLoginRateLimited), errors.Is(err, ErrRotateRateLimited):
		return AuditErrorRateLimited
	case errors.Is(err, ErrAccountExists):
		return AuditErrorAccountExists
	default:
		return AuditErrorInternal
	}
}

func (e *Engine) emitAudit(ctx context.Context, eventType, subjectID, hashPrefix string, err error, metadata map[string]string) {
	if e.audit == nil {
		return
	}

	event := AuditEvent{
		Timestamp:      time.Now(),
		EventType:      eventType,
		SubjectID:      subjectID,
		CredentialHash: hashPrefix,
		IP:             clientIPFromContext(ctx),
		Success:        err == nil,
		Metadata:       metadata,
	}
	if code := auditErrorCode(err); code != AuditErrorNone {
		event.Error = string(code)
	}
	if userAgent := userAgentFromContext(ctx); userAgent != "" {
		if event.Metadata == nil {
			event.Metadata = map[string]string{}
		}
		event.Metadata["user_agent"] = userAgent
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(ctx context.Context, operation, subjectID string) {
	e.metrics.Inc(MetricRateLimitHit)
	e.emitAudit(ctx, auditEventRateLimit, subjectID, "", ErrRotateRateLimited, map[string]string{
		"operation": operation,
	})
}
