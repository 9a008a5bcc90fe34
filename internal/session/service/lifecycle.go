// Package service implements the refresh-session lifecycle: issuing, rotating,
// revoking and bounding the set of active refresh sessions per identity.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/althaafka/pdfhub-api/internal/security"
	"github.com/althaafka/pdfhub-api/internal/session/domain"
	"github.com/althaafka/pdfhub-api/internal/session/repository"
)

const instrumentationName = "github.com/althaafka/pdfhub-api/internal/session/service"

// insertAttempts bounds retries when a freshly generated secret collides with a recorded one.
const insertAttempts = 3

// TokenSigner issues access tokens.
type TokenSigner interface {
	IssueAccessToken(sub security.Subject, ttl time.Duration) (string, time.Time, error)
}

// SubjectResolver loads the access-token subject for a session owner at rotation time.
// It returns ErrOwnerRejected when the owner is gone or may no longer hold sessions.
type SubjectResolver interface {
	ResolveSubject(ctx context.Context, ownerID string) (security.Subject, error)
}

// Issued is the credential pair handed to a client after login or refresh.
type Issued struct {
	SessionID             int64
	OwnerID               string
	AccessToken           string
	AccessTokenExpiresAt  time.Time
	RefreshToken          string
	RefreshTokenExpiresAt time.Time

	// PreviousSessionID is the rotated-out session; zero for a fresh login.
	PreviousSessionID int64
}

// Manager owns refresh sessions. All ledger writes for one owner run as a single atomic unit.
type Manager struct {
	ledger    repository.Ledger
	signer    TokenSigner
	subjects  SubjectResolver
	policy    Policy
	now       func() time.Time
	newSecret func() (string, error)
	tracer    trace.Tracer
	meter     metric.Meter
	counters  counters
}

type counters struct {
	created  metric.Int64Counter
	rotated  metric.Int64Counter
	revoked  metric.Int64Counter
	evicted  metric.Int64Counter
	rejected metric.Int64Counter
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithSecretSource overrides refresh token generation.
func WithSecretSource(fn func() (string, error)) Option {
	return func(m *Manager) { m.newSecret = fn }
}

// WithTracerProvider sets the tracer provider; the global provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(m *Manager) { m.tracer = tp.Tracer(instrumentationName) }
}

// WithMeterProvider sets the meter provider; the global provider is used otherwise.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(m *Manager) { m.meter = mp.Meter(instrumentationName) }
}

// NewManager returns a Manager. policy must pass Validate.
func NewManager(ledger repository.Ledger, signer TokenSigner, subjects SubjectResolver, policy Policy, opts ...Option) (*Manager, error) {
	if ledger == nil || signer == nil || subjects == nil {
		return nil, errors.New("session: ledger, signer and subject resolver are required")
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		ledger:    ledger,
		signer:    signer,
		subjects:  subjects,
		policy:    policy,
		now:       time.Now,
		newSecret: security.NewOpaqueSecret,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.tracer == nil {
		m.tracer = otel.Tracer(instrumentationName)
	}
	if m.meter == nil {
		m.meter = otel.Meter(instrumentationName)
	}
	if err := m.initCounters(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) initCounters() error {
	var err error
	if m.counters.created, err = m.meter.Int64Counter("session.created", metric.WithDescription("Refresh sessions issued at login")); err != nil {
		return err
	}
	if m.counters.rotated, err = m.meter.Int64Counter("session.rotated", metric.WithDescription("Refresh sessions rotated")); err != nil {
		return err
	}
	if m.counters.revoked, err = m.meter.Int64Counter("session.revoked", metric.WithDescription("Refresh sessions revoked by logout or chain revocation")); err != nil {
		return err
	}
	if m.counters.evicted, err = m.meter.Int64Counter("session.evicted", metric.WithDescription("Refresh sessions deleted by the per-identity quota")); err != nil {
		return err
	}
	if m.counters.rejected, err = m.meter.Int64Counter("session.rotation_rejected", metric.WithDescription("Refresh attempts refused")); err != nil {
		return err
	}
	return nil
}

// Policy returns the limits the manager enforces.
func (m *Manager) Policy() Policy { return m.policy }

// CreateSession issues a new refresh session and access token for sub. When sub already
// holds MaxSessionsPerIdentity active sessions, the oldest are deleted to make room for one.
func (m *Manager) CreateSession(ctx context.Context, sub security.Subject, origin domain.Origin) (_ *Issued, err error) {
	ctx, span := m.tracer.Start(ctx, "session.create", trace.WithAttributes(attribute.String("owner.id", sub.ID)))
	defer func() { endSpan(span, err) }()

	if sub.ID == "" {
		return nil, errors.New("session: owner id is required")
	}

	var (
		issued  *Issued
		evicted int
	)
	for attempt := 0; attempt < insertAttempts; attempt++ {
		secret, genErr := m.newSecret()
		if genErr != nil {
			return nil, fmt.Errorf("session: generate refresh token: %w", genErr)
		}
		now := m.now().UTC()
		row := m.newRow(sub.ID, secret, origin, now)

		err = m.ledger.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			if err := tx.LockOwner(ctx, sub.ID); err != nil {
				return err
			}
			n, err := m.enforceQuota(ctx, tx, sub.ID)
			if err != nil {
				return err
			}
			if _, err := tx.Insert(ctx, row); err != nil {
				return err
			}
			issued, err = m.issue(sub, row)
			evicted = n
			return err
		})
		if !errors.Is(err, repository.ErrDuplicateToken) {
			break
		}
	}
	if err != nil {
		return nil, classify(err)
	}

	m.counters.created.Add(ctx, 1)
	if evicted > 0 {
		m.counters.evicted.Add(ctx, int64(evicted))
		span.SetAttributes(attribute.Int("session.evicted", evicted))
	}
	return issued, nil
}

// enforceQuota deletes the oldest active sessions so that one more fits under the limit.
func (m *Manager) enforceQuota(ctx context.Context, tx repository.Tx, ownerID string) (int, error) {
	active, err := tx.ListActiveByOwner(ctx, ownerID)
	if err != nil {
		return 0, err
	}
	excess := len(active) - (m.policy.MaxSessionsPerIdentity - 1)
	if excess <= 0 {
		return 0, nil
	}
	victims := active[len(active)-excess:]
	ids := make([]int64, len(victims))
	for i, s := range victims {
		ids[i] = s.ID
	}
	if err := tx.DeleteMany(ctx, ids); err != nil {
		return 0, err
	}
	return excess, nil
}

// RevokeSession deactivates the session holding token. Revoking an already revoked
// session of the same owner succeeds without changing it.
func (m *Manager) RevokeSession(ctx context.Context, ownerID, token string) (err error) {
	ctx, span := m.tracer.Start(ctx, "session.revoke", trace.WithAttributes(attribute.String("owner.id", ownerID)))
	defer func() { endSpan(span, err) }()

	hash := security.HashRefreshToken(token)
	revoked := false
	err = m.ledger.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		s, err := lockedByToken(ctx, tx, hash)
		if err != nil {
			return err
		}
		if s == nil {
			return ErrNotFound
		}
		if s.OwnerID != ownerID {
			return ErrUnauthorized
		}
		if !s.Revoke(m.now().UTC(), domain.ReasonLogout) {
			return nil
		}
		revoked = true
		return tx.Save(ctx, s)
	})
	if err != nil {
		return classify(err)
	}
	if revoked {
		m.counters.revoked.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", domain.ReasonLogout)))
	}
	return nil
}

// RotateSession exchanges an active, unexpired refresh token for a new credential pair.
// The old session is revoked and linked to its successor in the same atomic unit.
func (m *Manager) RotateSession(ctx context.Context, token string, origin domain.Origin) (_ *Issued, err error) {
	ctx, span := m.tracer.Start(ctx, "session.rotate")
	defer func() { endSpan(span, err) }()

	hash := security.HashRefreshToken(token)
	var issued *Issued
	for attempt := 0; attempt < insertAttempts; attempt++ {
		secret, genErr := m.newSecret()
		if genErr != nil {
			return nil, fmt.Errorf("session: generate refresh token: %w", genErr)
		}
		err = m.ledger.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			old, err := lockedByToken(ctx, tx, hash)
			if err != nil {
				return err
			}
			if old == nil {
				return ErrInvalidToken
			}
			now := m.now().UTC()
			if !old.Active {
				return ErrTokenNotActive
			}
			if old.Expired(now) {
				return ErrTokenExpired
			}
			span.SetAttributes(attribute.String("owner.id", old.OwnerID), attribute.Int64("session.previous_id", old.ID))

			sub, err := m.subjects.ResolveSubject(ctx, old.OwnerID)
			if err != nil {
				return err
			}
			next := m.newRow(old.OwnerID, secret, origin, now)
			if _, err := tx.Insert(ctx, next); err != nil {
				return err
			}
			old.Revoke(now, domain.ReasonRotation)
			if err := old.LinkReplacement(next.ID); err != nil {
				return err
			}
			if err := tx.Save(ctx, old); err != nil {
				return err
			}
			issued, err = m.issue(sub, next)
			if issued != nil {
				issued.PreviousSessionID = old.ID
			}
			return err
		})
		if !errors.Is(err, repository.ErrDuplicateToken) {
			break
		}
	}
	if err != nil {
		err = classify(err)
		m.counters.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", rejectionReason(err))))
		return nil, err
	}
	m.counters.rotated.Add(ctx, 1)
	return issued, nil
}

// Chain returns the session holding token followed by every successor reachable through
// replacedBy links, oldest first. A link to an evicted session ends the chain.
func (m *Manager) Chain(ctx context.Context, token string) (_ []*domain.RefreshSession, err error) {
	ctx, span := m.tracer.Start(ctx, "session.chain")
	defer func() { endSpan(span, err) }()

	var chain []*domain.RefreshSession
	err = m.ledger.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		s, err := lockedByToken(ctx, tx, security.HashRefreshToken(token))
		if err != nil {
			return err
		}
		if s == nil {
			return ErrNotFound
		}
		chain, err = walkChain(ctx, tx, s)
		return err
	})
	if err != nil {
		return nil, classify(err)
	}
	return chain, nil
}

// RevokeChain revokes every still-active session in the chain starting at token and
// reports how many were revoked.
func (m *Manager) RevokeChain(ctx context.Context, token string) (_ int, err error) {
	ctx, span := m.tracer.Start(ctx, "session.revoke_chain")
	defer func() { endSpan(span, err) }()

	revoked := 0
	err = m.ledger.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		s, err := lockedByToken(ctx, tx, security.HashRefreshToken(token))
		if err != nil {
			return err
		}
		if s == nil {
			return ErrNotFound
		}
		chain, err := walkChain(ctx, tx, s)
		if err != nil {
			return err
		}
		now := m.now().UTC()
		for _, link := range chain {
			if !link.Revoke(now, domain.ReasonChainRevoked) {
				continue
			}
			if err := tx.Save(ctx, link); err != nil {
				return err
			}
			revoked++
		}
		return nil
	})
	if err != nil {
		return 0, classify(err)
	}
	if revoked > 0 {
		m.counters.revoked.Add(ctx, int64(revoked), metric.WithAttributes(attribute.String("reason", domain.ReasonChainRevoked)))
	}
	span.SetAttributes(attribute.Int("session.revoked", revoked))
	return revoked, nil
}

// ListSessions returns every recorded session of ownerID, newest first.
func (m *Manager) ListSessions(ctx context.Context, ownerID string) ([]*domain.RefreshSession, error) {
	list, err := m.ledger.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, classify(err)
	}
	return list, nil
}

func (m *Manager) newRow(ownerID, secret string, origin domain.Origin, now time.Time) *domain.RefreshSession {
	return &domain.RefreshSession{
		Token:     secret,
		TokenHash: security.HashRefreshToken(secret),
		OwnerID:   ownerID,
		IssuedAt:  now,
		ExpiresAt: now.Add(m.policy.RefreshTTL),
		Active:    true,
		Origin:    origin,
	}
}

func (m *Manager) issue(sub security.Subject, row *domain.RefreshSession) (*Issued, error) {
	access, accessExp, err := m.signer.IssueAccessToken(sub, m.policy.AccessTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSigningFailure, err)
	}
	return &Issued{
		SessionID:             row.ID,
		OwnerID:               row.OwnerID,
		AccessToken:           access,
		AccessTokenExpiresAt:  accessExp,
		RefreshToken:          row.Token,
		RefreshTokenExpiresAt: row.ExpiresAt,
	}, nil
}

// lockedByToken finds the session for hash and takes its owner's lock before re-reading it,
// so the returned state cannot change until the unit ends.
func lockedByToken(ctx context.Context, tx repository.Tx, hash string) (*domain.RefreshSession, error) {
	peek, err := tx.FindByToken(ctx, hash)
	if err != nil || peek == nil {
		return nil, err
	}
	if err := tx.LockOwner(ctx, peek.OwnerID); err != nil {
		return nil, err
	}
	return tx.FindByToken(ctx, hash)
}

func walkChain(ctx context.Context, tx repository.Tx, start *domain.RefreshSession) ([]*domain.RefreshSession, error) {
	chain := []*domain.RefreshSession{start}
	seen := map[int64]bool{start.ID: true}
	cur := start
	for cur.ReplacedBy != nil && !seen[*cur.ReplacedBy] {
		next, err := tx.FindByID(ctx, *cur.ReplacedBy)
		if err != nil {
			return nil, err
		}
		if next == nil {
			break
		}
		seen[next.ID] = true
		chain = append(chain, next)
		cur = next
	}
	return chain, nil
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidToken):
		return "invalid"
	case errors.Is(err, ErrTokenNotActive):
		return "not_active"
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrOwnerRejected):
		return "owner_rejected"
	case errors.Is(err, ErrSigningFailure):
		return "signing"
	default:
		return "storage"
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
