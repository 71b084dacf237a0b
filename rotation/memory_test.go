package rotation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestRecord(subject, hash string, now time.Time) *Record {
	return &Record{
		SubjectID:         subject,
		CredentialHash:    hash,
		IdleExpiresAt:     now.Add(time.Hour),
		AbsoluteExpiresAt: now.Add(24 * time.Hour),
		CreatedAt:         now,
	}
}

func TestMemoryStoreInsertAndFind(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now().UTC()

	rec := newTestRecord("alice", HashCredential("tok-1"), now)
	if err := store.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if rec.ID == "" {
		t.Fatal("expected store-assigned ID")
	}

	got, err := store.FindForRotation(ctx, rec.CredentialHash)
	if err != nil {
		t.Fatalf("FindForRotation failed: %v", err)
	}
	if got.SubjectID != "alice" || got.ID != rec.ID {
		t.Fatalf("unexpected record: %+v", got)
	}

	// Returned records must be copies, not aliases into store state.
	got.Revoked = true
	again, err := store.FindForRotation(ctx, rec.CredentialHash)
	if err != nil {
		t.Fatalf("FindForRotation failed: %v", err)
	}
	if again.Revoked {
		t.Fatal("mutating a returned record leaked into the store")
	}
}

func TestMemoryStoreFindMissing(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.FindForRotation(context.Background(), HashCredential("absent"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreInsertConflict(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now().UTC()
	hash := HashCredential("tok-dup")

	if err := store.Insert(ctx, newTestRecord("alice", hash, now)); err != nil {
		t.Fatalf("first Insert failed: %v", err)
	}
	err := store.Insert(ctx, newTestRecord("bob", hash, now))
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestMemoryStoreMarkUsedIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now().UTC()

	rec := newTestRecord("alice", HashCredential("tok-used"), now)
	if err := store.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	first := now.Add(time.Minute)
	if err := store.MarkUsed(ctx, rec.ID, first); err != nil {
		t.Fatalf("MarkUsed failed: %v", err)
	}
	if err := store.MarkUsed(ctx, rec.ID, now.Add(2*time.Minute)); err != nil {
		t.Fatalf("second MarkUsed failed: %v", err)
	}

	got, err := store.FindForRotation(ctx, rec.CredentialHash)
	if err != nil {
		t.Fatalf("FindForRotation failed: %v", err)
	}
	if !got.Used() {
		t.Fatal("record should be used")
	}
	if !got.Revoked || got.UsedAt == nil {
		t.Fatal("MarkUsed must set both UsedAt and Revoked")
	}
	if !got.UsedAt.Equal(first) {
		t.Fatalf("UsedAt changed on second mark: got %v want %v", got.UsedAt, first)
	}
}

func TestMemoryStoreDeleteBySubject(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now().UTC()

	for _, raw := range []string{"a1", "a2", "a3"} {
		if err := store.Insert(ctx, newTestRecord("alice", HashCredential(raw), now)); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}
	other := newTestRecord("bob", HashCredential("b1"), now)
	if err := store.Insert(ctx, other); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	if err := store.DeleteBySubject(ctx, "alice"); err != nil {
		t.Fatalf("DeleteBySubject failed: %v", err)
	}
	if n := store.CountBySubject("alice"); n != 0 {
		t.Fatalf("expected alice purged, %d records remain", n)
	}
	if _, err := store.FindForRotation(ctx, other.CredentialHash); err != nil {
		t.Fatalf("unrelated subject's record was removed: %v", err)
	}
}

func TestMemoryStoreDeleteByID(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now().UTC()

	rec := newTestRecord("alice", HashCredential("tok-del"), now)
	if err := store.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := store.DeleteByID(ctx, rec.ID); err != nil {
		t.Fatalf("DeleteByID failed: %v", err)
	}
	if _, err := store.FindForRotation(ctx, rec.CredentialHash); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	// Deleting an absent record is not an error.
	if err := store.DeleteByID(ctx, rec.ID); err != nil {
		t.Fatalf("repeat DeleteByID failed: %v", err)
	}
}

func TestMemoryStoreAtomicRollback(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now().UTC()

	rec := newTestRecord("alice", HashCredential("tok-rb"), now)
	if err := store.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	boom := errors.New("boom")
	err := store.Atomic(ctx, func(ops Ops) error {
		if err := ops.MarkUsed(ctx, rec.ID, now); err != nil {
			return err
		}
		if err := ops.Insert(ctx, newTestRecord("alice", HashCredential("tok-rb-2"), now)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error to surface, got %v", err)
	}

	got, err := store.FindForRotation(ctx, rec.CredentialHash)
	if err != nil {
		t.Fatalf("FindForRotation failed: %v", err)
	}
	if got.Used() {
		t.Fatal("MarkUsed survived a rolled-back scope")
	}
	if _, err := store.FindForRotation(ctx, HashCredential("tok-rb-2")); !errors.Is(err, ErrNotFound) {
		t.Fatal("Insert survived a rolled-back scope")
	}
}

func TestMemoryStoreSweepExpired(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now().UTC()

	idleDead := newTestRecord("alice", HashCredential("idle-dead"), now)
	idleDead.IdleExpiresAt = now.Add(-time.Minute)

	absDead := newTestRecord("alice", HashCredential("abs-dead"), now)
	absDead.AbsoluteExpiresAt = now.Add(-time.Minute)

	live := newTestRecord("alice", HashCredential("live"), now)

	for _, rec := range []*Record{idleDead, absDead, live} {
		if err := store.Insert(ctx, rec); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	removed, err := store.SweepExpired(ctx, now)
	if err != nil {
		t.Fatalf("SweepExpired failed: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}
	if _, err := store.FindForRotation(ctx, live.CredentialHash); err != nil {
		t.Fatalf("live record was swept: %v", err)
	}
}

func TestMemoryStoreAtomicSerializesRotation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now().UTC()

	rec := newTestRecord("alice", HashCredential("tok-race"), now)
	if err := store.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	const workers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.Atomic(ctx, func(ops Ops) error {
				got, err := ops.FindForRotation(ctx, rec.CredentialHash)
				if err != nil {
					return err
				}
				if got.Used() {
					return errors.New("already used")
				}
				return ops.MarkUsed(ctx, got.ID, time.Now().UTC())
			})
			if err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("expected exactly 1 winning scope, got %d", winners)
	}
}
