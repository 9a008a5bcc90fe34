package domain

import "time"

// Actions recorded by the authentication paths.
const (
	ActionRegister        = "register"
	ActionLoginSuccess    = "login_success"
	ActionLoginFailure    = "login_failure"
	ActionLogout          = "logout"
	ActionRefresh         = "refresh"
	ActionRefreshRejected = "refresh_rejected"
	ActionChainRevoked    = "chain_revoked"
)

// AuditLog represents an audit event.
type AuditLog struct {
	ID        string
	UserID    string
	Action    string
	Resource  string
	IP        string
	Metadata  string
	CreatedAt time.Time
}
