package rotation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process [Store] for tests and single-process
// deployments. A single mutex serializes every atomic scope, which trivially
// satisfies the per-hash exclusivity contract. Not suitable when multiple
// processes share credential state.
type MemoryStore struct {
	mu     sync.Mutex
	byHash map[string]*Record
	byID   map[string]*Record
}

// NewMemoryStore creates an empty in-memory rotation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byHash: make(map[string]*Record),
		byID:   make(map[string]*Record),
	}
}

// memoryOps is a view of the store bound to a held mutex. All methods assume
// the store lock is already taken by the enclosing Atomic scope.
type memoryOps struct {
	s *MemoryStore
}

// Atomic runs fn under the store mutex. State is snapshotted first and
// restored when fn fails, so a failed unit of work commits nothing.
func (s *MemoryStore) Atomic(ctx context.Context, fn func(ops Ops) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	byHash, byID := s.snapshotLocked()
	if err := fn(memoryOps{s: s}); err != nil {
		s.byHash = byHash
		s.byID = byID
		return err
	}
	return nil
}

func (s *MemoryStore) snapshotLocked() (map[string]*Record, map[string]*Record) {
	byHash := make(map[string]*Record, len(s.byHash))
	byID := make(map[string]*Record, len(s.byID))
	for h, rec := range s.byHash {
		c := rec.Clone()
		byHash[h] = c
		byID[c.ID] = c
	}
	return byHash, byID
}

// FindForRotation implements [Ops].
func (s *MemoryStore) FindForRotation(ctx context.Context, hash string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return memoryOps{s: s}.FindForRotation(ctx, hash)
}

// Insert implements [Ops]. An empty rec.ID is assigned by the store.
func (s *MemoryStore) Insert(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return memoryOps{s: s}.Insert(ctx, rec)
}

// MarkUsed implements [Ops].
func (s *MemoryStore) MarkUsed(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return memoryOps{s: s}.MarkUsed(ctx, id, at)
}

// DeleteBySubject implements [Ops].
func (s *MemoryStore) DeleteBySubject(ctx context.Context, subjectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return memoryOps{s: s}.DeleteBySubject(ctx, subjectID)
}

// DeleteByID implements [Ops].
func (s *MemoryStore) DeleteByID(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return memoryOps{s: s}.DeleteByID(ctx, id)
}

// SweepExpired implements [Store].
func (s *MemoryStore) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for hash, rec := range s.byHash {
		if rec.ExpiredAt(now) {
			delete(s.byHash, hash)
			delete(s.byID, rec.ID)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored records. Test helper.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byHash)
}

// CountBySubject returns how many records the subject owns. Test helper.
func (s *MemoryStore) CountBySubject(subjectID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, rec := range s.byHash {
		if rec.SubjectID == subjectID {
			n++
		}
	}
	return n
}

func (o memoryOps) FindForRotation(ctx context.Context, hash string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rec, ok := o.s.byHash[hash]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (o memoryOps) Insert(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, exists := o.s.byHash[rec.CredentialHash]; exists {
		return ErrConflict
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	stored := rec.Clone()
	o.s.byHash[stored.CredentialHash] = stored
	o.s.byID[stored.ID] = stored
	return nil
}

func (o memoryOps) MarkUsed(ctx context.Context, id string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	rec, ok := o.s.byID[id]
	if !ok {
		return nil
	}
	if rec.UsedAt == nil {
		t := at
		rec.UsedAt = &t
	}
	rec.Revoked = true
	return nil
}

func (o memoryOps) DeleteBySubject(ctx context.Context, subjectID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	for hash, rec := range o.s.byHash {
		if rec.SubjectID == subjectID {
			delete(o.s.byHash, hash)
			delete(o.s.byID, rec.ID)
		}
	}
	return nil
}

func (o memoryOps) DeleteByID(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	rec, ok := o.s.byID[id]
	if !ok {
		return nil
	}
	delete(o.s.byHash, rec.CredentialHash)
	delete(o.s.byID, id)
	return nil
}
