package service

import (
	"errors"
	"fmt"
)

// Manager errors. Callers classify with errors.Is.
var (
	// ErrNotFound means no session matches the presented token (revoke path).
	ErrNotFound = errors.New("refresh session not found")
	// ErrUnauthorized means the session belongs to a different owner.
	ErrUnauthorized = errors.New("refresh session belongs to another identity")
	// ErrInvalidToken means no session matches the presented token (rotate path).
	ErrInvalidToken = errors.New("refresh token not recognized")
	// ErrTokenNotActive means the session was already rotated or revoked.
	ErrTokenNotActive = errors.New("refresh token is no longer active")
	// ErrTokenExpired means the session is past its expiry.
	ErrTokenExpired = errors.New("refresh token expired")
	// ErrOwnerRejected means the session owner no longer exists or may not hold sessions.
	ErrOwnerRejected = errors.New("session owner rejected")
	// ErrStorageUnavailable wraps any ledger failure.
	ErrStorageUnavailable = errors.New("session storage unavailable")
	// ErrSigningFailure means the access token could not be signed.
	ErrSigningFailure = errors.New("access token signing failed")
)

var passthrough = []error{
	ErrNotFound,
	ErrUnauthorized,
	ErrInvalidToken,
	ErrTokenNotActive,
	ErrTokenExpired,
	ErrOwnerRejected,
	ErrSigningFailure,
}

// classify keeps manager sentinels intact and reports everything else as a storage failure.
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range passthrough {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
}
