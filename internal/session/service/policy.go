package service

import (
	"errors"
	"time"
)

// Policy holds the session limits. It is built once at startup and never mutated.
type Policy struct {
	AccessTTL              time.Duration
	RefreshTTL             time.Duration
	MaxSessionsPerIdentity int
}

// DefaultPolicy returns 15 minute access tokens, 7 day refresh tokens and at most 5 sessions per identity.
func DefaultPolicy() Policy {
	return Policy{
		AccessTTL:              15 * time.Minute,
		RefreshTTL:             7 * 24 * time.Hour,
		MaxSessionsPerIdentity: 5,
	}
}

// Validate rejects non-positive limits.
func (p Policy) Validate() error {
	if p.AccessTTL <= 0 {
		return errors.New("session policy: access TTL must be positive")
	}
	if p.RefreshTTL <= 0 {
		return errors.New("session policy: refresh TTL must be positive")
	}
	if p.MaxSessionsPerIdentity < 1 {
		return errors.New("session policy: max sessions per identity must be at least 1")
	}
	return nil
}
