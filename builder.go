package rotauth

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mvellekoop/rotauth/internal/audit"
	"github.com/mvellekoop/rotauth/internal/rate"
	"github.com/mvellekoop/rotauth/jwt"
	"github.com/mvellekoop/rotauth/password"
	"github.com/mvellekoop/rotauth/rotation"
)

// Builder defines a public type used by rotauth APIs.
//
// Builder instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Builder struct {
	config       Config
	store        rotation.Store
	redisClient  redis.UniversalClient
	userProvider UserProvider
	auditSink    AuditSink
}

// New describes the new operation and its observable behavior.
//
// New does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig describes the withconfig operation and its observable behavior.
//
// WithConfig does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets the rotation store backing renewal credential records.
// Required: the engine cannot start without one.
func (b *Builder) WithStore(store rotation.Store) *Builder {
	b.store = store
	return b
}

// WithRedis sets the Redis client used for rate limiting and replay anomaly
// tracking. Optional: without it those protections are disabled.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redisClient = client
	return b
}

// WithUserProvider describes the withuserprovider operation and its observable behavior.
//
// WithUserProvider does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithUserProvider(provider UserProvider) *Builder {
	b.userProvider = provider
	return b
}

// WithAuditSink describes the withauditsink operation and its observable behavior.
//
// WithAuditSink does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled describes the withmetricsenabled operation and its observable behavior.
//
// WithMetricsEnabled does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms describes the withlatencyhistograms operation and its observable behavior.
//
// WithLatencyHistograms does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build describes the build operation and its observable behavior.
//
// Build may return an error when input validation, dependency calls, or security checks fail.
// Build does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) Build() (*Engine, error) {
	if err := b.config.Validate(); err != nil {
		return nil, err
	}
	if b.store == nil {
		return nil, errors.New("rotation store is required")
	}
	if b.config.Account.Enabled && b.userProvider == nil {
		return nil, errors.New("user provider is required when account management is enabled")
	}

	jwtManager, err := jwt.NewManager(jwt.Config{
		AccessTTL:     b.config.Tokens.AccessTTL,
		SigningMethod: jwt.SigningMethod(b.config.Tokens.SigningMethod),
		PrivateKey:    b.config.Tokens.PrivateKey,
		PublicKey:     b.config.Tokens.PublicKey,
		Issuer:        b.config.Tokens.Issuer,
		Audience:      b.config.Tokens.Audience,
		Leeway:        b.config.Tokens.Leeway,
	})
	if err != nil {
		return nil, err
	}

	passwordHash, err := password.NewArgon2(password.Config{
		Memory:      b.config.Password.Memory,
		Time:        b.config.Password.Time,
		Parallelism: b.config.Password.Parallelism,
		SaltLength:  b.config.Password.SaltLength,
		KeyLength:   b.config.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	var rateLimiter *rate.Limiter
	if b.redisClient != nil {
		rateLimiter = rate.New(b.redisClient, rate.Config{
			EnableIPThrottle:       b.config.Security.EnableIPThrottle,
			EnableRotateThrottle:   b.config.Security.EnableRotateThrottle,
			MaxLoginAttempts:       b.config.Security.MaxLoginAttempts,
			LoginCooldownDuration:  b.config.Security.LoginCooldownDuration,
			MaxRotateAttempts:      b.config.Security.MaxRotateAttempts,
			RotateCooldownDuration: b.config.Security.RotateCooldownDuration,
		})
	}

	dispatcher := audit.NewDispatcher(audit.Config{
		Enabled:    b.config.Audit.Enabled,
		BufferSize: b.config.Audit.BufferSize,
		DropIfFull: b.config.Audit.DropIfFull,
	}, b.auditSink)

	engine := &Engine{
		config:       b.config,
		store:        b.store,
		jwtManager:   jwtManager,
		passwordHash: passwordHash,
		userProvider: b.userProvider,
		rateLimiter:  rateLimiter,
		audit:        dispatcher,
		metrics:      NewMetrics(b.config.Metrics),
		now:          time.Now,
		sweepDone:    make(chan struct{}),
	}

	engine.flowDeps = engine.buildFlowDeps()

	if b.config.Sweep.Enabled {
		engine.sweepWG.Add(1)
		go engine.runSweeper()
	}

	return engine, nil
}
