// Package rotauth provides a refresh-token-rotation engine with JWT access
// tokens, single-use signed renewal credentials, replay containment, and a
// transactional rotation store (in-memory or Postgres).
//
// The package is designed for concurrent server workloads: Engine methods are safe to call
// from multiple goroutines after initialization through [Builder.Build].
//
// # Architecture boundaries
//
// rotauth is the public surface. It exposes [Engine], [Builder], [Config], and value types
// (TokenPair, MetricsSnapshot, etc.). All internal coordination — flow orchestration,
// rate limiting, audit dispatch — lives under internal/ and is never exported.
// Record persistence lives in the rotation sub-package so alternative stores
// can be plugged in.
//
// # What this package must NOT do
//
//   - Expose Redis clients, internal stores, or encoding details in its public API.
//   - Perform I/O outside of Engine methods (construction via Builder is allocation-only
//     until Build).
//   - Import any sub-package that re-imports rotauth (no import cycles).
//
// # Performance contract
//
// ValidateAccess is the hot path. It must not allocate beyond the returned claims and
// completes without any store round-trip. Rotate, Login, and Revoke are allowed one
// store transaction per call.
package rotauth
