// Package service is the authentication entry point: register, login, logout and refresh.
// It verifies identities and leaves every token decision to the session manager.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/althaafka/pdfhub-api/internal/audit"
	auditdomain "github.com/althaafka/pdfhub-api/internal/audit/domain"
	"github.com/althaafka/pdfhub-api/internal/identity"
	"github.com/althaafka/pdfhub-api/internal/policy"
	"github.com/althaafka/pdfhub-api/internal/security"
	sessiondomain "github.com/althaafka/pdfhub-api/internal/session/domain"
	sessionservice "github.com/althaafka/pdfhub-api/internal/session/service"
	"github.com/althaafka/pdfhub-api/internal/telemetry"
	"github.com/althaafka/pdfhub-api/internal/throttle"
	userdomain "github.com/althaafka/pdfhub-api/internal/user/domain"
	userrepo "github.com/althaafka/pdfhub-api/internal/user/repository"
)

// TokenTypeBearer is the only token type issued.
const TokenTypeBearer = "Bearer"

// Tokens is the credential pair returned by Login and Refresh.
type Tokens struct {
	AccessToken            string
	RefreshToken           string
	AccessTokenExpiration  time.Time
	RefreshTokenExpiration time.Time
	TokenType              string
}

// RegisterResult identifies the account Register created. No tokens are issued; call Login.
type RegisterResult struct {
	UserID   string
	Email    string
	Username string
}

// Identities is the identity store as seen by the facade.
type Identities interface {
	FindByEmail(ctx context.Context, email string) (*userdomain.User, error)
	FindByUsername(ctx context.Context, username string) (*userdomain.User, error)
	FindByIdentifier(ctx context.Context, identifier string) (*userdomain.User, error)
	VerifyPassword(u *userdomain.User, password string) bool
	CreateIdentity(ctx context.Context, r identity.Registration) (*userdomain.User, error)
}

// Sessions is the part of the session manager the facade drives.
type Sessions interface {
	CreateSession(ctx context.Context, sub security.Subject, origin sessiondomain.Origin) (*sessionservice.Issued, error)
	RevokeSession(ctx context.Context, ownerID, token string) error
	RotateSession(ctx context.Context, token string, origin sessiondomain.Origin) (*sessionservice.Issued, error)
}

// AuthService implements password register, login, logout and refresh.
type AuthService struct {
	identities Identities
	sessions   Sessions
	limiter    throttle.Limiter
	admission  policy.Evaluator
	audit      audit.AuditLogger
	events     telemetry.EventEmitter
}

// Option configures optional collaborators of AuthService.
type Option func(*AuthService)

// WithThrottle counts failed logins per identifier. Without it logins are never throttled.
func WithThrottle(l throttle.Limiter) Option {
	return func(s *AuthService) { s.limiter = l }
}

// WithAdmission evaluates a login policy after the password check. Without it every verified identity is admitted.
func WithAdmission(e policy.Evaluator) Option {
	return func(s *AuthService) { s.admission = e }
}

// WithAudit records security events.
func WithAudit(a audit.AuditLogger) Option {
	return func(s *AuthService) { s.audit = a }
}

// WithEvents emits session events asynchronously.
func WithEvents(e telemetry.EventEmitter) Option {
	return func(s *AuthService) { s.events = e }
}

// NewAuthService returns an AuthService over the identity store and session manager.
func NewAuthService(identities Identities, sessions Sessions, opts ...Option) *AuthService {
	s := &AuthService{
		identities: identities,
		sessions:   sessions,
		limiter:    throttle.Disabled{},
		admission:  policy.AllowAll{},
		audit:      audit.Nop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates an account. Email and username collisions are reported before the
// registration is validated; validation messages are returned unchanged.
func (s *AuthService) Register(ctx context.Context, email, username, password string) (*RegisterResult, error) {
	reg := identity.Registration{Email: email, Username: username, Password: password}.Normalize()

	if reg.Email != "" {
		existing, err := s.identities.FindByEmail(ctx, reg.Email)
		if err != nil {
			return nil, storageErr(err)
		}
		if existing != nil {
			return nil, ErrEmailTaken
		}
	}
	if reg.Username != "" {
		existing, err := s.identities.FindByUsername(ctx, reg.Username)
		if err != nil {
			return nil, storageErr(err)
		}
		if existing != nil {
			return nil, ErrUsernameTaken
		}
	}

	u, err := s.identities.CreateIdentity(ctx, reg)
	switch {
	case err == nil:
	case errors.Is(err, identity.ErrValidation):
		return nil, err
	case errors.Is(err, userrepo.ErrEmailTaken):
		return nil, ErrEmailTaken
	case errors.Is(err, userrepo.ErrUsernameTaken):
		return nil, ErrUsernameTaken
	default:
		return nil, storageErr(err)
	}

	s.audit.LogEvent(ctx, u.ID, auditdomain.ActionRegister, audit.ResourceAccount, "", "")
	telemetry.EmitAsync(ctx, s.events, telemetry.NewEvent(telemetry.EventRegistered, u.ID))
	return &RegisterResult{UserID: u.ID, Email: u.Email, Username: u.Username}, nil
}

// Login verifies identifier (email first, then username) and password and opens a new session.
// Every identity or password mismatch yields ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, identifier, password string, origin sessiondomain.Origin) (*Tokens, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	key := throttle.Key(identifier)

	allowed, err := s.limiter.Allowed(ctx, key)
	if err != nil {
		log.Printf("auth: throttle check failed, allowing attempt: %v", err)
		allowed = true
	}
	if !allowed {
		s.loginFailed(ctx, "", origin, "throttled")
		return nil, ErrRateLimited
	}

	u, err := s.identities.FindByIdentifier(ctx, identifier)
	if err != nil {
		return nil, storageErr(err)
	}
	if !s.identities.VerifyPassword(u, password) {
		if err := s.limiter.Fail(ctx, key); err != nil {
			log.Printf("auth: throttle record failed: %v", err)
		}
		ownerID := ""
		if u != nil {
			ownerID = u.ID
		}
		s.loginFailed(ctx, ownerID, origin, "bad_credentials")
		return nil, ErrInvalidCredentials
	}

	admitted, err := s.admission.Allow(ctx, policy.Request{
		IdentityID: u.ID,
		Username:   u.Username,
		Email:      u.Email,
		Status:     string(u.Status),
		IP:         origin.IP,
		UserAgent:  origin.UserAgent,
	})
	if err != nil {
		log.Printf("auth: login policy evaluation failed, denying: %v", err)
	}
	if err != nil || !admitted {
		s.loginFailed(ctx, u.ID, origin, "policy_denied")
		return nil, ErrInvalidCredentials
	}

	issued, err := s.sessions.CreateSession(ctx, identity.SubjectOf(u), origin)
	if err != nil {
		return nil, sessionErr(err)
	}
	if err := s.limiter.Reset(ctx, key); err != nil {
		log.Printf("auth: throttle reset failed: %v", err)
	}

	sid := strconv.FormatInt(issued.SessionID, 10)
	s.audit.LogEvent(ctx, u.ID, auditdomain.ActionLoginSuccess, audit.ResourceSession, origin.IP, "session_id="+sid)
	ev := telemetry.NewEvent(telemetry.EventLoginSucceeded, u.ID)
	ev.SessionID, ev.IP, ev.UserAgent = sid, origin.IP, origin.UserAgent
	telemetry.EmitAsync(ctx, s.events, ev)
	return tokensFrom(issued), nil
}

// Logout revokes the session holding refreshToken. Unknown tokens and tokens of another
// identity both yield ErrInvalidRefreshToken. Logging out twice succeeds.
func (s *AuthService) Logout(ctx context.Context, ownerID, refreshToken string) error {
	if strings.TrimSpace(ownerID) == "" || refreshToken == "" {
		return ErrInvalidRefreshToken
	}
	err := s.sessions.RevokeSession(ctx, ownerID, refreshToken)
	switch {
	case err == nil:
	case errors.Is(err, sessionservice.ErrNotFound), errors.Is(err, sessionservice.ErrUnauthorized):
		return ErrInvalidRefreshToken
	default:
		return sessionErr(err)
	}

	s.audit.LogEvent(ctx, ownerID, auditdomain.ActionLogout, audit.ResourceSession, "", "")
	telemetry.EmitAsync(ctx, s.events, telemetry.NewEvent(telemetry.EventLoggedOut, ownerID))
	return nil
}

// Refresh rotates refreshToken into a new credential pair. Unknown, rotated, revoked and
// expired tokens, and tokens whose owner may no longer log in, all yield ErrInvalidRefreshToken.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, origin sessiondomain.Origin) (*Tokens, error) {
	if refreshToken == "" {
		return nil, ErrInvalidRefreshToken
	}
	issued, err := s.sessions.RotateSession(ctx, refreshToken, origin)
	if err != nil {
		mapped := sessionErr(err)
		if errors.Is(mapped, ErrInvalidRefreshToken) {
			reason := rotationFailure(err)
			s.audit.LogEvent(ctx, "", auditdomain.ActionRefreshRejected, audit.ResourceSession, origin.IP, "reason="+reason)
			ev := telemetry.NewEvent(telemetry.EventRefreshRejected, "").With("reason", reason)
			ev.IP, ev.UserAgent = origin.IP, origin.UserAgent
			telemetry.EmitAsync(ctx, s.events, ev)
		}
		return nil, mapped
	}

	sid := strconv.FormatInt(issued.SessionID, 10)
	prev := strconv.FormatInt(issued.PreviousSessionID, 10)
	s.audit.LogEvent(ctx, issued.OwnerID, auditdomain.ActionRefresh, audit.ResourceSession, origin.IP,
		"session_id="+sid+" previous_session_id="+prev)
	ev := telemetry.NewEvent(telemetry.EventRefreshed, issued.OwnerID).With("previous_session_id", prev)
	ev.SessionID, ev.IP, ev.UserAgent = sid, origin.IP, origin.UserAgent
	telemetry.EmitAsync(ctx, s.events, ev)
	return tokensFrom(issued), nil
}

func (s *AuthService) loginFailed(ctx context.Context, ownerID string, origin sessiondomain.Origin, reason string) {
	s.audit.LogEvent(ctx, ownerID, auditdomain.ActionLoginFailure, audit.ResourceSession, origin.IP, "reason="+reason)
	eventType := telemetry.EventLoginFailed
	if reason == "throttled" {
		eventType = telemetry.EventLoginThrottled
	}
	ev := telemetry.NewEvent(eventType, ownerID).With("reason", reason)
	ev.IP, ev.UserAgent = origin.IP, origin.UserAgent
	telemetry.EmitAsync(ctx, s.events, ev)
}

func tokensFrom(i *sessionservice.Issued) *Tokens {
	return &Tokens{
		AccessToken:            i.AccessToken,
		RefreshToken:           i.RefreshToken,
		AccessTokenExpiration:  i.AccessTokenExpiresAt,
		RefreshTokenExpiration: i.RefreshTokenExpiresAt,
		TokenType:              TokenTypeBearer,
	}
}

func storageErr(err error) error {
	return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
}

// sessionErr maps manager failures onto the facade taxonomy. Token-level failures
// collapse into ErrInvalidRefreshToken.
func sessionErr(err error) error {
	switch {
	case errors.Is(err, sessionservice.ErrStorageUnavailable):
		return storageErr(err)
	case errors.Is(err, sessionservice.ErrSigningFailure):
		return fmt.Errorf("%w: %w", ErrSigningFailure, err)
	case errors.Is(err, sessionservice.ErrInvalidToken),
		errors.Is(err, sessionservice.ErrTokenNotActive),
		errors.Is(err, sessionservice.ErrTokenExpired),
		errors.Is(err, sessionservice.ErrOwnerRejected),
		errors.Is(err, sessionservice.ErrNotFound),
		errors.Is(err, sessionservice.ErrUnauthorized):
		return ErrInvalidRefreshToken
	default:
		return fmt.Errorf("auth: %w", err)
	}
}

func rotationFailure(err error) string {
	switch {
	case errors.Is(err, sessionservice.ErrTokenNotActive):
		return "not_active"
	case errors.Is(err, sessionservice.ErrTokenExpired):
		return "expired"
	case errors.Is(err, sessionservice.ErrOwnerRejected):
		return "owner_rejected"
	default:
		return "unknown_token"
	}
}
