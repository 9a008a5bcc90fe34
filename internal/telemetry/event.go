package telemetry

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Event types emitted by the authentication and session paths.
const (
	EventRegistered      = "identity.registered"
	EventLoginSucceeded  = "session.login_succeeded"
	EventLoginFailed     = "session.login_failed"
	EventLoginThrottled  = "session.login_throttled"
	EventRefreshed       = "session.refreshed"
	EventRefreshRejected = "session.refresh_rejected"
	EventLoggedOut       = "session.logged_out"
	EventChainRevoked    = "session.chain_revoked"
)

// Event is one session lifecycle event. It carries no token material.
type Event struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	OwnerID    string            `json:"owner_id,omitempty"`
	SessionID  string            `json:"session_id,omitempty"`
	IP         string            `json:"ip,omitempty"`
	UserAgent  string            `json:"user_agent,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// NewEvent returns an event of the given type stamped with a ULID and the current UTC time.
func NewEvent(eventType, ownerID string) *Event {
	now := time.Now().UTC()
	return &Event{
		ID:         ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Type:       eventType,
		OwnerID:    ownerID,
		OccurredAt: now,
	}
}

// With sets a metadata key and returns e.
func (e *Event) With(key, value string) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}
