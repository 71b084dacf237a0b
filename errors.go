package rotauth

import "errors"

var (
	// ErrInvalidCredential is an exported constant or variable used by the authentication engine.
	ErrInvalidCredential = errors.New("invalid renewal credential")
	// ErrReplayDetected is an exported constant or variable used by the authentication engine.
	ErrReplayDetected = errors.New("credential replay detected")
	// ErrCredentialExpired is an exported constant or variable used by the authentication engine.
	ErrCredentialExpired = errors.New("renewal credential expired")
	// ErrRotationConflict is an exported constant or variable used by the authentication engine.
	ErrRotationConflict = errors.New("rotation hash conflict")
	// ErrStoreUnavailable is an exported constant or variable used by the authentication engine.
	ErrStoreUnavailable = errors.New("rotation store unavailable")
	// ErrTokenInvalid is an exported constant or variable used by the authentication engine.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrInvalidCredentials is an exported constant or variable used by the authentication engine.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserNotFound is an exported constant or variable used by the authentication engine.
	ErrUserNotFound = errors.New("user not found")
	// ErrLoginRateLimited is an exported constant or variable used by the authentication engine.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrRotateRateLimited is an exported constant or variable used by the authentication engine.
	ErrRotateRateLimited = errors.New("rotation rate limited")
	// ErrAccountExists is an exported constant or variable used by the authentication engine.
	ErrAccountExists = errors.New("account already exists")
	// ErrAccountCreationDisabled is an exported constant or variable used by the authentication engine.
	ErrAccountCreationDisabled = errors.New("account creation disabled")
	// ErrEngineNotReady is an exported constant or variable used by the authentication engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrProviderDuplicateIdentifier is an exported constant or variable used by the authentication engine.
	ErrProviderDuplicateIdentifier = errors.New("provider duplicate identifier")
)
