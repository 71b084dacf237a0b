// Package rotation implements the persistence model for rotating renewal
// credentials: the record type, the one-way credential hasher used as the
// storage key, and the transactional Store contract with in-memory and
// Postgres implementations.
//
// # Architecture boundaries
//
// This package owns record state and storage exclusivity. Rotation policy —
// replay classification, family purges, expiry outcomes — is decided by the
// engine flows, never here.
//
// # What this package must NOT do
//
//   - Mint, sign, or parse credentials (that is the jwt package's job).
//   - Import rotauth (to avoid import cycles).
//   - Decide replay vs. expiry outcomes; it only reports record state.
package rotation
