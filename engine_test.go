package rotauth

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mvellekoop/rotauth/rotation"
)

func testKeyPair(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return pub, priv
}

func testConfig(t *testing.T) Config {
	t.Helper()
	pub, priv := testKeyPair(t)

	cfg := defaultConfig()
	cfg.Tokens.PrivateKey = priv
	cfg.Tokens.PublicKey = pub
	cfg.Tokens.AccessTTL = 15 * time.Minute
	cfg.Rotation.IdleTTL = 7 * 24 * time.Hour
	cfg.Rotation.AbsoluteTTL = 30 * 24 * time.Hour
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Metrics.Enabled = true
	cfg.Sweep.Enabled = false
	return cfg
}

type memoryUserProvider struct {
	mu    sync.Mutex
	users map[string]*UserRecord // keyed by identifier
	seq   int
}

func newMemoryUserProvider() *memoryUserProvider {
	return &memoryUserProvider{users: make(map[string]*UserRecord)}
}

func (p *memoryUserProvider) FindByIdentifier(_ context.Context, identifier string) (*UserRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	user, ok := p.users[identifier]
	if !ok {
		return nil, ErrUserNotFound
	}
	out := *user
	return &out, nil
}

func (p *memoryUserProvider) Create(_ context.Context, input CreateUserInput) (*UserRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.users[input.Identifier]; ok {
		return nil, ErrProviderDuplicateIdentifier
	}
	p.seq++
	user := &UserRecord{
		SubjectID:    "u-" + input.Identifier,
		Identifier:   input.Identifier,
		PasswordHash: input.PasswordHash,
	}
	p.users[input.Identifier] = user
	out := *user
	return &out, nil
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *rotation.MemoryStore, *memoryUserProvider) {
	t.Helper()

	store := rotation.NewMemoryStore()
	provider := newMemoryUserProvider()
	engine, err := New().
		WithConfig(cfg).
		WithStore(store).
		WithUserProvider(provider).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine, store, provider
}

func TestIssueAndValidateAccess(t *testing.T) {
	engine, store, _ := newTestEngine(t, testConfig(t))
	ctx := context.Background()

	res, err := engine.Issue(ctx, "alice")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if res.SubjectID != "alice" {
		t.Fatalf("unexpected subject %q", res.SubjectID)
	}
	if res.Tokens.AccessToken == "" || res.Tokens.RenewalToken == "" {
		t.Fatal("expected both tokens")
	}
	if store.Len() != 1 {
		t.Fatalf("expected one stored record, got %d", store.Len())
	}

	claims, err := engine.ValidateAccess(res.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if claims.SubjectID != "alice" {
		t.Fatalf("unexpected claims subject %q", claims.SubjectID)
	}
}

func TestValidateAccessRejectsRenewalToken(t *testing.T) {
	engine, _, _ := newTestEngine(t, testConfig(t))
	ctx := context.Background()

	res, err := engine.Issue(ctx, "alice")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	if _, err := engine.ValidateAccess(res.Tokens.RenewalToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for renewal token, got %v", err)
	}
}

func TestRotateSingleUse(t *testing.T) {
	engine, store, _ := newTestEngine(t, testConfig(t))
	ctx := context.Background()

	issued, err := engine.Issue(ctx, "alice")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	rotated, err := engine.Rotate(ctx, issued.Tokens.RenewalToken)
	if err != nil {
		t.Fatalf("first rotation failed: %v", err)
	}
	if rotated.Tokens.RenewalToken == issued.Tokens.RenewalToken {
		t.Fatal("rotation returned the same credential")
	}

	// Second presentation of the consumed credential is a replay. The whole
	// family goes, including the successor that was just handed out.
	if _, err := engine.Rotate(ctx, issued.Tokens.RenewalToken); !errors.Is(err, ErrReplayDetected) {
		t.Fatalf("expected ErrReplayDetected, got %v", err)
	}
	if store.CountBySubject("alice") != 0 {
		t.Fatalf("expected purged family, got %d records", store.CountBySubject("alice"))
	}
	if _, err := engine.Rotate(ctx, rotated.Tokens.RenewalToken); !errors.Is(err, ErrReplayDetected) {
		t.Fatalf("expected successor to be dead after purge, got %v", err)
	}
}

func TestRotateReplayLeavesOtherSubjectsAlone(t *testing.T) {
	engine, store, _ := newTestEngine(t, testConfig(t))
	ctx := context.Background()

	alice, err := engine.Issue(ctx, "alice")
	if err != nil {
		t.Fatalf("issue alice failed: %v", err)
	}
	if _, err := engine.Issue(ctx, "bob"); err != nil {
		t.Fatalf("issue bob failed: %v", err)
	}

	if _, err := engine.Rotate(ctx, alice.Tokens.RenewalToken); err != nil {
		t.Fatalf("rotation failed: %v", err)
	}
	if _, err := engine.Rotate(ctx, alice.Tokens.RenewalToken); !errors.Is(err, ErrReplayDetected) {
		t.Fatalf("expected ErrReplayDetected, got %v", err)
	}

	if store.CountBySubject("bob") != 1 {
		t.Fatalf("expected bob's chain untouched, got %d records", store.CountBySubject("bob"))
	}
}

func TestRotateIdleExpiryDeletesOnlyThatRecord(t *testing.T) {
	cfg := testConfig(t)
	engine, store, _ := newTestEngine(t, cfg)
	ctx := context.Background()

	issued, err := engine.Issue(ctx, "alice")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if _, err := engine.Issue(ctx, "alice"); err != nil {
		t.Fatalf("second issue failed: %v", err)
	}

	engine.now = func() time.Time { return time.Now().Add(cfg.Rotation.IdleTTL + time.Hour) }

	if _, err := engine.Rotate(ctx, issued.Tokens.RenewalToken); !errors.Is(err, ErrCredentialExpired) {
		t.Fatalf("expected ErrCredentialExpired, got %v", err)
	}
	// Expiry is not an attack signal: the sibling chain survives.
	if store.CountBySubject("alice") != 1 {
		t.Fatalf("expected one surviving record, got %d", store.CountBySubject("alice"))
	}
}

func TestRotateChainRespectsAbsoluteDeadline(t *testing.T) {
	cfg := testConfig(t)
	cfg.Rotation.IdleTTL = 24 * time.Hour
	cfg.Rotation.AbsoluteTTL = 72 * time.Hour
	engine, _, _ := newTestEngine(t, cfg)
	ctx := context.Background()

	base := time.Now()
	engine.now = func() time.Time { return base }

	issued, err := engine.Issue(ctx, "alice")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	credential := issued.Tokens.RenewalToken

	// Rotating every 12 hours keeps the chain inside the idle window, but the
	// absolute deadline at +72h is fixed at first issuance and never moves.
	for hop := 1; hop <= 5; hop++ {
		engine.now = func() time.Time { return base.Add(time.Duration(hop) * 12 * time.Hour) }
		res, err := engine.Rotate(ctx, credential)
		if err != nil {
			t.Fatalf("hop %d failed: %v", hop, err)
		}
		credential = res.Tokens.RenewalToken
	}

	engine.now = func() time.Time { return base.Add(73 * time.Hour) }
	if _, err := engine.Rotate(ctx, credential); !errors.Is(err, ErrCredentialExpired) {
		t.Fatalf("expected ErrCredentialExpired past absolute deadline, got %v", err)
	}
}

func TestRevokeThenRotateIsReplay(t *testing.T) {
	engine, store, _ := newTestEngine(t, testConfig(t))
	ctx := context.Background()

	issued, err := engine.Issue(ctx, "alice")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	if err := engine.Revoke(ctx, issued.Tokens.RenewalToken); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}
	// Revoking again is a no-op, not an error.
	if err := engine.Revoke(ctx, issued.Tokens.RenewalToken); err != nil {
		t.Fatalf("second revoke failed: %v", err)
	}

	// A revoked credential presented for rotation is indistinguishable from a
	// stolen copy: it verifies but has no record.
	if _, err := engine.Rotate(ctx, issued.Tokens.RenewalToken); !errors.Is(err, ErrReplayDetected) {
		t.Fatalf("expected ErrReplayDetected after revoke, got %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("expected empty store, got %d records", store.Len())
	}
}

func TestRevokeAllSparesOtherSubjects(t *testing.T) {
	engine, store, _ := newTestEngine(t, testConfig(t))
	ctx := context.Background()

	if _, err := engine.Issue(ctx, "alice"); err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if _, err := engine.Issue(ctx, "alice"); err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if _, err := engine.Issue(ctx, "bob"); err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	if err := engine.RevokeAll(ctx, "alice"); err != nil {
		t.Fatalf("revoke all failed: %v", err)
	}
	if store.CountBySubject("alice") != 0 {
		t.Fatalf("expected no alice records, got %d", store.CountBySubject("alice"))
	}
	if store.CountBySubject("bob") != 1 {
		t.Fatalf("expected bob untouched, got %d", store.CountBySubject("bob"))
	}
}

func TestRotateConcurrencySingleWinner(t *testing.T) {
	engine, store, _ := newTestEngine(t, testConfig(t))
	ctx := context.Background()

	issued, err := engine.Issue(ctx, "alice")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	const n = 16
	var wg sync.WaitGroup
	wg.Add(n)

	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := engine.Rotate(ctx, issued.Tokens.RenewalToken)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	success := 0
	replays := 0
	for err := range results {
		if err == nil {
			success++
			continue
		}
		if errors.Is(err, ErrReplayDetected) {
			replays++
			continue
		}
		t.Fatalf("unexpected rotation error: %v", err)
	}

	if success != 1 {
		t.Fatalf("expected exactly one rotation success, got %d", success)
	}
	if replays != n-1 {
		t.Fatalf("expected %d replay failures, got %d", n-1, replays)
	}
	// At least one loser ran after the winner, so containment purged the
	// winner's successor too.
	if got := store.CountBySubject("alice"); got != 0 {
		t.Fatalf("expected purged family after concurrent replay, got %d records", got)
	}
}

func TestRotateRejectsGarbage(t *testing.T) {
	engine, _, _ := newTestEngine(t, testConfig(t))

	if _, err := engine.Rotate(context.Background(), "not-a-token"); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}
}

func TestLoginIssuesChain(t *testing.T) {
	engine, store, provider := newTestEngine(t, testConfig(t))
	ctx := context.Background()

	if _, err := engine.Register(ctx, "alice", "correct-password-123"); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	res, err := engine.Login(ctx, "alice", "correct-password-123")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if res.SubjectID != "u-alice" {
		t.Fatalf("unexpected subject %q", res.SubjectID)
	}
	if store.CountBySubject("u-alice") != 1 {
		t.Fatalf("expected one record, got %d", store.CountBySubject("u-alice"))
	}

	if _, err := engine.Login(ctx, "alice", "wrong-password-456"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong password, got %v", err)
	}
	if _, err := engine.Login(ctx, "nobody", "correct-password-123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown identifier, got %v", err)
	}

	if _, ok := provider.users["alice"]; !ok {
		t.Fatal("expected provider to hold the account")
	}
}

func TestRegisterDuplicateAndAutoLogin(t *testing.T) {
	cfg := testConfig(t)
	cfg.Account.AutoLogin = true
	engine, _, _ := newTestEngine(t, cfg)
	ctx := context.Background()

	res, err := engine.Register(ctx, "alice", "correct-password-123")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if res.Tokens.AccessToken == "" || res.Tokens.RenewalToken == "" {
		t.Fatal("expected auto-login tokens")
	}

	if _, err := engine.Register(ctx, "alice", "correct-password-123"); !errors.Is(err, ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}
}

func TestRegisterDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Account.Enabled = false

	store := rotation.NewMemoryStore()
	engine, err := New().WithConfig(cfg).WithStore(store).Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	defer engine.Close()

	if _, err := engine.Register(context.Background(), "alice", "correct-password-123"); !errors.Is(err, ErrAccountCreationDisabled) {
		t.Fatalf("expected ErrAccountCreationDisabled, got %v", err)
	}
}

func TestSweepRemovesExpiredOnly(t *testing.T) {
	cfg := testConfig(t)
	engine, store, _ := newTestEngine(t, cfg)
	ctx := context.Background()

	if _, err := engine.Issue(ctx, "alice"); err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	stale := &rotation.Record{
		SubjectID:         "bob",
		CredentialHash:    rotation.HashCredential("stale"),
		IdleExpiresAt:     time.Now().Add(-time.Hour),
		AbsoluteExpiresAt: time.Now().Add(24 * time.Hour),
		CreatedAt:         time.Now().Add(-48 * time.Hour),
	}
	if err := store.Insert(ctx, stale); err != nil {
		t.Fatalf("insert stale record: %v", err)
	}

	removed, err := engine.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected one removed record, got %d", removed)
	}
	if store.CountBySubject("alice") != 1 {
		t.Fatalf("expected live record to survive sweep")
	}

	if got := engine.MetricsSnapshot().Counters[MetricSweepRemoved]; got != 1 {
		t.Fatalf("expected sweep metric 1, got %d", got)
	}
}

func TestMetricsTrackOutcomes(t *testing.T) {
	engine, _, _ := newTestEngine(t, testConfig(t))
	ctx := context.Background()

	issued, err := engine.Issue(ctx, "alice")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if _, err := engine.Rotate(ctx, issued.Tokens.RenewalToken); err != nil {
		t.Fatalf("rotation failed: %v", err)
	}
	if _, err := engine.Rotate(ctx, issued.Tokens.RenewalToken); !errors.Is(err, ErrReplayDetected) {
		t.Fatalf("expected ErrReplayDetected, got %v", err)
	}

	snap := engine.MetricsSnapshot()
	if snap.Counters[MetricIssueSuccess] != 1 {
		t.Fatalf("expected issue success 1, got %d", snap.Counters[MetricIssueSuccess])
	}
	if snap.Counters[MetricRotateSuccess] != 1 {
		t.Fatalf("expected rotate success 1, got %d", snap.Counters[MetricRotateSuccess])
	}
	if snap.Counters[MetricReplayDetected] != 1 {
		t.Fatalf("expected replay detected 1, got %d", snap.Counters[MetricReplayDetected])
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sweep.Enabled = true
	cfg.Sweep.Interval = time.Hour

	store := rotation.NewMemoryStore()
	engine, err := New().WithConfig(cfg).WithStore(store).WithUserProvider(newMemoryUserProvider()).Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}

	engine.Close()
	engine.Close()
}
