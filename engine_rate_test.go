package rotauth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/mvellekoop/rotauth/rotation"
)

func newRedisEngine(t *testing.T, mutate func(*Config)) (*Engine, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := testConfig(t)
	if mutate != nil {
		mutate(&cfg)
	}

	engine, err := New().
		WithConfig(cfg).
		WithStore(rotation.NewMemoryStore()).
		WithUserProvider(newMemoryUserProvider()).
		WithRedis(client).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine, mr
}

func TestRotateThrottleLimitsBurst(t *testing.T) {
	engine, _ := newRedisEngine(t, func(cfg *Config) {
		cfg.Security.EnableRotateThrottle = true
		cfg.Security.MaxRotateAttempts = 3
		cfg.Security.RotateCooldownDuration = time.Minute
	})
	ctx := context.Background()

	issued, err := engine.Issue(ctx, "alice")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	credential := issued.Tokens.RenewalToken

	for i := 0; i < 3; i++ {
		res, err := engine.Rotate(ctx, credential)
		if err != nil {
			t.Fatalf("rotation %d failed: %v", i, err)
		}
		credential = res.Tokens.RenewalToken
	}

	if _, err := engine.Rotate(ctx, credential); !errors.Is(err, ErrRotateRateLimited) {
		t.Fatalf("expected ErrRotateRateLimited, got %v", err)
	}
}

func TestRotateThrottleWindowResets(t *testing.T) {
	engine, mr := newRedisEngine(t, func(cfg *Config) {
		cfg.Security.EnableRotateThrottle = true
		cfg.Security.MaxRotateAttempts = 1
		cfg.Security.RotateCooldownDuration = time.Minute
	})
	ctx := context.Background()

	issued, err := engine.Issue(ctx, "alice")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	res, err := engine.Rotate(ctx, issued.Tokens.RenewalToken)
	if err != nil {
		t.Fatalf("rotation failed: %v", err)
	}
	if _, err := engine.Rotate(ctx, res.Tokens.RenewalToken); !errors.Is(err, ErrRotateRateLimited) {
		t.Fatalf("expected ErrRotateRateLimited, got %v", err)
	}

	mr.FastForward(2 * time.Minute)

	if _, err := engine.Rotate(ctx, res.Tokens.RenewalToken); err != nil {
		t.Fatalf("expected rotation after window reset, got %v", err)
	}
}

func TestLoginThrottleAfterRepeatedFailures(t *testing.T) {
	engine, _ := newRedisEngine(t, func(cfg *Config) {
		cfg.Security.MaxLoginAttempts = 2
		cfg.Security.LoginCooldownDuration = 15 * time.Minute
	})
	ctx := context.Background()

	if _, err := engine.Register(ctx, "alice", "correct-password-123"); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := engine.Login(ctx, "alice", "wrong-password-456"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
	}

	// Budget is exhausted: even the correct password is refused now.
	if _, err := engine.Login(ctx, "alice", "correct-password-123"); !errors.Is(err, ErrLoginRateLimited) {
		t.Fatalf("expected ErrLoginRateLimited, got %v", err)
	}
}

func TestReplayAnomalyTracking(t *testing.T) {
	engine, _ := newRedisEngine(t, func(cfg *Config) {
		cfg.Security.EnableReplayTracking = true
		cfg.Security.EnableRotateThrottle = false
	})
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

	count, err := engine.ReplayAnomalies(ctx, "alice")
	if err != nil {
		t.Fatalf("replay anomalies lookup failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one tracked anomaly, got %d", count)
	}
}
