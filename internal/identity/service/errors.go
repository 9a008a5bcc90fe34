package service

import (
	"errors"

	"github.com/althaafka/pdfhub-api/internal/identity"
)

// Sentinel errors returned by AuthService. They are deliberately coarse: callers learn the
// category of a failure, never which internal check failed.
var (
	// ErrValidation is matched by every *identity.ValidationError returned from Register.
	ErrValidation          = identity.ErrValidation
	ErrEmailTaken          = errors.New("email already registered")
	ErrUsernameTaken       = errors.New("username already taken")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrInvalidRefreshToken = errors.New("invalid or expired refresh token")
	ErrStorageUnavailable  = errors.New("identity or session storage unavailable")
	ErrRateLimited         = errors.New("too many failed login attempts")
	ErrSigningFailure      = errors.New("access token signing failed")
)

// Kind is the failure category of an AuthService error.
type Kind string

const (
	KindNone                Kind = ""
	KindValidation          Kind = "validation"
	KindConflict            Kind = "conflict"
	KindInvalidCredentials  Kind = "invalid_credentials"
	KindInvalidRefreshToken Kind = "invalid_refresh_token"
	KindStorageUnavailable  Kind = "storage_unavailable"
	KindRateLimited         Kind = "rate_limited"
	KindSigningFailure      Kind = "signing_failure"
	KindInternal            Kind = "internal"
)

// KindOf classifies err. nil maps to KindNone; anything unrecognized to KindInternal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrEmailTaken), errors.Is(err, ErrUsernameTaken):
		return KindConflict
	case errors.Is(err, ErrInvalidCredentials):
		return KindInvalidCredentials
	case errors.Is(err, ErrInvalidRefreshToken):
		return KindInvalidRefreshToken
	case errors.Is(err, ErrStorageUnavailable):
		return KindStorageUnavailable
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrSigningFailure):
		return KindSigningFailure
	default:
		return KindInternal
	}
}
