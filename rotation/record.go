package rotation

import "time"

// Record is one persisted renewal credential. A record is created on login or
// on successful rotation, marked used exactly once when a rotation consumes
// it, and deleted on logout, replay containment, or expiry sweep.
//
// Record instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Record struct {
	// ID is the store-assigned opaque identifier, immutable after insert.
	ID string

	// SubjectID identifies the authenticated principal owning this credential.
	SubjectID string

	// CredentialHash is the SHA-256 hex digest of the raw credential string.
	// The raw value is never persisted. Globally unique across all records.
	CredentialHash string

	// IdleExpiresAt is the sliding deadline. It is fixed on this row; a
	// successful rotation extends the chain by inserting a successor row
	// with a fresh deadline, never by mutating this one.
	IdleExpiresAt time.Time

	// AbsoluteExpiresAt is fixed at first issuance of the chain and copied
	// unchanged into every successor. Never extended.
	AbsoluteExpiresAt time.Time

	// UsedAt is set exactly once, together with Revoked, when a rotation
	// consumes the record. nil while the record is live.
	UsedAt *time.Time

	// Revoked is set atomically with UsedAt. The two fields are kept as
	// separate signals so a partial write still reads as consumed.
	Revoked bool

	CreatedAt time.Time
}

// Used reports whether the record has been consumed by a rotation.
// Either signal alone is sufficient.
func (r *Record) Used() bool {
	return r.Revoked || r.UsedAt != nil
}

// ExpiredAt reports whether the record is past its idle or absolute deadline
// at the given instant.
func (r *Record) ExpiredAt(now time.Time) bool {
	return now.After(r.IdleExpiresAt) || now.After(r.AbsoluteExpiresAt)
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	if r.UsedAt != nil {
		t := *r.UsedAt
		out.UsedAt = &t
	}
	return &out
}
