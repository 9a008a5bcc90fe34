package domain

import (
	"errors"
	"time"
)

// ErrAlreadyReplaced is returned when a successor link is set twice on the same session.
var ErrAlreadyReplaced = errors.New("session already has a successor")

// Revocation reasons recorded on RefreshSession.RevocationReason.
const (
	ReasonLogout       = "logout"
	ReasonRotation     = "rotation"
	ReasonChainRevoked = "chain_revoked"
)

// Origin is the client context a session was created from. Informational only.
type Origin struct {
	IP        string
	UserAgent string
}

// RefreshSession is one issued refresh credential. The ledger stores TokenHash;
// Token carries the plaintext only on the value returned at issuance.
type RefreshSession struct {
	ID               int64
	Token            string
	TokenHash        string
	OwnerID          string
	IssuedAt         time.Time
	ExpiresAt        time.Time
	Active           bool
	RevokedAt        *time.Time // nil while active
	RevocationReason string
	ReplacedBy       *int64 // successor created by rotation
	Origin           Origin
}

// Expired reports whether the session is past its expiry at now.
func (s *RefreshSession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Revoke deactivates the session. It returns false, and changes nothing, when
// the session was already revoked; revokedAt is set exactly once.
func (s *RefreshSession) Revoke(now time.Time, reason string) bool {
	if !s.Active {
		return false
	}
	s.Active = false
	t := now
	s.RevokedAt = &t
	s.RevocationReason = reason
	return true
}

// LinkReplacement records the successor created by rotation.
func (s *RefreshSession) LinkReplacement(id int64) error {
	if s.ReplacedBy != nil {
		return ErrAlreadyReplaced
	}
	s.ReplacedBy = &id
	return nil
}

// Clone returns a deep copy.
func (s *RefreshSession) Clone() *RefreshSession {
	if s == nil {
		return nil
	}
	c := *s
	if s.RevokedAt != nil {
		t := *s.RevokedAt
		c.RevokedAt = &t
	}
	if s.ReplacedBy != nil {
		id := *s.ReplacedBy
		c.ReplacedBy = &id
	}
	return &c
}
