package internaldefs

import (
	rotauth "github.com/mvellekoop/rotauth"
)

// CounterDef defines a public type used by rotauth APIs.
//
// CounterDef instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type CounterDef struct {
	ID   rotauth.MetricID
	Name string
	Help string
}

// HistogramDef defines a public type used by rotauth APIs.
//
// HistogramDef instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type HistogramDef struct {
	ID   rotauth.MetricID
	Name string
	Help string
}

// CounterDefs is an exported constant or variable used by the authentication engine.
var CounterDefs = []CounterDef{
	{ID: rotauth.MetricLoginSuccess, Name: "rotauth_login_success_total", Help: "Successful login attempts."},
	{ID: rotauth.MetricLoginFailure, Name: "rotauth_login_failure_total", Help: "Failed login attempts."},
	{ID: rotauth.MetricLoginRateLimited, Name: "rotauth_login_rate_limited_total", Help: "Rate-limited login attempts."},
	{ID: rotauth.MetricIssueSuccess, Name: "rotauth_issue_success_total", Help: "Successful first issuances of credential chains."},
	{ID: rotauth.MetricIssueFailure, Name: "rotauth_issue_failure_total", Help: "Failed first issuances of credential chains."},
	{ID: rotauth.MetricRotateSuccess, Name: "rotauth_rotate_success_total", Help: "Successful credential rotations."},
	{ID: rotauth.MetricRotateFailure, Name: "rotauth_rotate_failure_total", Help: "Failed credential rotations."},
	{ID: rotauth.MetricReplayDetected, Name: "rotauth_replay_detected_total", Help: "Detected credential replays."},
	{ID: rotauth.MetricCredentialExpired, Name: "rotauth_credential_expired_total", Help: "Rotations rejected for idle or absolute expiry."},
	{ID: rotauth.MetricRotateRateLimited, Name: "rotauth_rotate_rate_limited_total", Help: "Rate-limited rotation attempts."},
	{ID: rotauth.MetricRotateConflict, Name: "rotauth_rotate_conflict_total", Help: "Rotations aborted after repeated digest conflicts."},
	{ID: rotauth.MetricRevoke, Name: "rotauth_revoke_total", Help: "Single-credential revocations."},
	{ID: rotauth.MetricRevokeAll, Name: "rotauth_revoke_all_total", Help: "Subject-wide revocations."},
	{ID: rotauth.MetricAccountCreationSuccess, Name: "rotauth_account_creation_success_total", Help: "Successful account creations."},
	{ID: rotauth.MetricAccountCreationDuplicate, Name: "rotauth_account_creation_duplicate_total", Help: "Account creation attempts rejected as duplicate."},
	{ID: rotauth.MetricRateLimitHit, Name: "rotauth_rate_limit_hit_total", Help: "Rate-limit checks that denied requests."},
	{ID: rotauth.MetricValidateSuccess, Name: "rotauth_validate_success_total", Help: "Successful access token validations."},
	{ID: rotauth.MetricValidateFailure, Name: "rotauth_validate_failure_total", Help: "Failed access token validations."},
	{ID: rotauth.MetricSweepRemoved, Name: "rotauth_sweep_removed_total", Help: "Expired records removed by the sweeper."},
}

// HistogramDefs is an exported constant or variable used by the authentication engine.
var HistogramDefs = []HistogramDef{
	{ID: rotauth.MetricValidateLatency, Name: "rotauth_validate_latency_seconds", Help: "Validate latency histogram."},
}

// HistogramBounds is an exported constant or variable used by the authentication engine.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix is an exported constant or variable used by the authentication engine.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets describes the normalizebuckets operation and its observable behavior.
//
// NormalizeBuckets may return an error when input validation, dependency calls, or security checks fail.
// NormalizeBuckets does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets describes the cumulativebuckets operation and its observable behavior.
//
// CumulativeBuckets may return an error when input validation, dependency calls, or security checks fail.
// CumulativeBuckets does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
