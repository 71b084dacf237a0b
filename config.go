package rotauth

import (
	"errors"
	"time"
)

// Config defines a public type used by rotauth APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	Tokens   TokenConfig
	Rotation RotationConfig
	Password PasswordConfig
	Account  AccountConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
	Security SecurityConfig
	Sweep    SweepConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig defines a public type used by rotauth APIs.
//
// TokenConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type TokenConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "ed25519" (default), "hs256" optional
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

/*
====================================
ROTATION CONFIG
====================================
*/

// RotationConfig defines a public type used by rotauth APIs.
//
// RotationConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type RotationConfig struct {
	// IdleTTL is the sliding window: a credential must be rotated within
	// IdleTTL of its issuance or it expires.
	IdleTTL time.Duration

	// AbsoluteTTL caps the total lifetime of a rotation chain. Fixed at first
	// issuance and never extended by rotation.
	AbsoluteTTL time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig defines a public type used by rotauth APIs.
//
// PasswordConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	UpgradeOnLogin bool
}

// AccountConfig defines a public type used by rotauth APIs.
//
// AccountConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AccountConfig struct {
	Enabled   bool
	AutoLogin bool
}

// AuditConfig defines a public type used by rotauth APIs.
//
// AuditConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig defines a public type used by rotauth APIs.
//
// MetricsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig defines a public type used by rotauth APIs.
//
// SecurityConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type SecurityConfig struct {
	EnableIPThrottle       bool
	EnableRotateThrottle   bool
	EnableReplayTracking   bool
	MaxLoginAttempts       int
	LoginCooldownDuration  time.Duration
	MaxRotateAttempts      int
	RotateCooldownDuration time.Duration
}

// SweepConfig defines a public type used by rotauth APIs.
//
// SweepConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type SweepConfig struct {
	Enabled  bool
	Interval time.Duration
}

/*
====================================
DEFAULT CONFIG
====================================
*/

func defaultConfig() Config {
	return Config{
		Tokens: TokenConfig{
			AccessTTL:     15 * time.Minute,
			SigningMethod: "ed25519",
		},
		Rotation: RotationConfig{
			IdleTTL:     7 * 24 * time.Hour,
			AbsoluteTTL: 30 * 24 * time.Hour,
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
		},
		Account: AccountConfig{
			Enabled:   true,
			AutoLogin: false,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Security: SecurityConfig{
			EnableIPThrottle:       false,
			EnableRotateThrottle:   true,
			EnableReplayTracking:   true,
			MaxLoginAttempts:       5,
			LoginCooldownDuration:  15 * time.Minute,
			MaxRotateAttempts:      20,
			RotateCooldownDuration: 1 * time.Minute,
		},
		Sweep: SweepConfig{
			Enabled:  true,
			Interval: 1 * time.Hour,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Tokens.PrivateKey = cloneBytes(cfg.Tokens.PrivateKey)
	out.Tokens.PublicKey = cloneBytes(cfg.Tokens.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate describes the validate operation and its observable behavior.
//
// Validate may return an error when input validation, dependency calls, or security checks fail.
// Validate does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c *Config) Validate() error {
	// Tokens
	if c.Tokens.AccessTTL <= 0 {
		return errors.New("Tokens AccessTTL must be > 0")
	}
	if c.Tokens.SigningMethod != "ed25519" && c.Tokens.SigningMethod != "hs256" {
		return errors.New("unsupported token signing method")
	}
	if c.Tokens.SigningMethod == "ed25519" && len(c.Tokens.PrivateKey) == 0 {
		return errors.New("ed25519 requires PrivateKey")
	}
	if c.Tokens.SigningMethod == "ed25519" && len(c.Tokens.PublicKey) == 0 {
		return errors.New("ed25519 requires PublicKey")
	}
	if c.Tokens.SigningMethod == "hs256" && len(c.Tokens.PrivateKey) == 0 {
		return errors.New("hs256 requires PrivateKey")
	}
	if c.Tokens.Leeway < 0 {
		return errors.New("Tokens Leeway must be >= 0")
	}

	// Rotation
	if c.Rotation.IdleTTL <= 0 {
		return errors.New("Rotation IdleTTL must be > 0")
	}
	if c.Rotation.AbsoluteTTL <= 0 {
		return errors.New("Rotation AbsoluteTTL must be > 0")
	}
	if c.Rotation.AbsoluteTTL < c.Rotation.IdleTTL {
		return errors.New("Rotation AbsoluteTTL must be >= IdleTTL")
	}
	if c.Tokens.AccessTTL >= c.Rotation.IdleTTL {
		return errors.New("Tokens AccessTTL must be < Rotation IdleTTL")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	// Security
	if c.Security.MaxLoginAttempts < 0 {
		return errors.New("Security MaxLoginAttempts must be >= 0")
	}
	if c.Security.LoginCooldownDuration < 0 {
		return errors.New("Security LoginCooldownDuration must be >= 0")
	}
	if c.Security.EnableRotateThrottle {
		if c.Security.MaxRotateAttempts <= 0 {
			return errors.New("Security MaxRotateAttempts must be > 0 when rotate throttle is enabled")
		}
		if c.Security.RotateCooldownDuration <= 0 {
			return errors.New("Security RotateCooldownDuration must be > 0 when rotate throttle is enabled")
		}
	}

	// Sweep
	if c.Sweep.Enabled && c.Sweep.Interval <= 0 {
		return errors.New("Sweep Interval must be > 0 when enabled")
	}

	return nil
}
