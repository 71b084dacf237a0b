// Package rate provides internal primitives used to build Redis-backed rate limit keys,
// errors, and limiter behavior for security-sensitive authentication workflows.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Key prefixes:
//   - rl:  — login per-identifier
//   - rli: — login per-IP
//   - rr:  — rotation per-subject
//   - rra: — replay anomalies per-subject
//
// # What this package must NOT do
//
//   - Implement domain-specific policies (those live in the engine flows).
//   - Be imported outside the rotauth module.
package rate
