package rotauth

import "context"

// TokenPair defines a public type used by rotauth APIs.
//
// TokenPair instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type TokenPair struct {
	// AccessToken is a short-lived signed bearer token.
	AccessToken string

	// RenewalToken is the single-use credential accepted by [Engine.Rotate].
	// This is the only place the raw value exists outside process memory;
	// the store keeps only its digest.
	RenewalToken string
}

// AuthResult defines a public type used by rotauth APIs.
//
// AuthResult instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuthResult struct {
	SubjectID string
	Tokens    TokenPair
}

// AccessClaims is the verified claim set returned by [Engine.ValidateAccess].
type AccessClaims struct {
	SubjectID string
	Extra     map[string]any
}

// UserRecord is the provider-side view of an account.
type UserRecord struct {
	SubjectID    string
	Identifier   string
	PasswordHash string
}

// CreateUserInput carries the fields the engine hands to
// [UserProvider.Create]. The password arrives pre-hashed; providers never see
// plaintext.
type CreateUserInput struct {
	Identifier   string
	PasswordHash string
}

// UserProvider is the host application's account backend. The engine owns
// credentials and tokens; the provider owns identities.
//
// FindByIdentifier must return [ErrUserNotFound] for unknown identifiers.
// Create must return [ErrProviderDuplicateIdentifier] when the identifier is
// already taken, so the engine can map it to [ErrAccountExists] without
// leaking provider internals.
type UserProvider interface {
	FindByIdentifier(ctx context.Context, identifier string) (*UserRecord, error)
	Create(ctx context.Context, input CreateUserInput) (*UserRecord, error)
}
