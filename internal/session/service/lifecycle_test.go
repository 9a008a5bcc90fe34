package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/althaafka/pdfhub-api/internal/security"
	"github.com/althaafka/pdfhub-api/internal/session/domain"
	"github.com/althaafka/pdfhub-api/internal/session/repository"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type memSubjects struct {
	mu       sync.Mutex
	subjects map[string]security.Subject
	rejected map[string]bool
}

func newMemSubjects(subs ...security.Subject) *memSubjects {
	m := &memSubjects{subjects: make(map[string]security.Subject), rejected: make(map[string]bool)}
	for _, s := range subs {
		m.subjects[s.ID] = s
	}
	return m
}

func (m *memSubjects) ResolveSubject(_ context.Context, ownerID string) (security.Subject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subjects[ownerID]
	if !ok || m.rejected[ownerID] {
		return security.Subject{}, ErrOwnerRejected
	}
	return s, nil
}

type failingLedger struct{ err error }

func (f failingLedger) InTx(context.Context, func(context.Context, repository.Tx) error) error {
	return f.err
}

func (f failingLedger) ListByOwner(context.Context, string) ([]*domain.RefreshSession, error) {
	return nil, f.err
}

type brokenSigner struct{}

func (brokenSigner) IssueAccessToken(security.Subject, time.Duration) (string, time.Time, error) {
	return "", time.Time{}, errors.New("key unusable")
}

var (
	alice = security.Subject{ID: "u-alice", Email: "alice@example.com", Name: "alice_reads"}
	bob   = security.Subject{ID: "u-bob", Email: "bob@example.com", Name: "bob_writes"}
	web   = domain.Origin{IP: "203.0.113.7", UserAgent: "Mozilla/5.0"}
)

type fixture struct {
	mgr      *Manager
	ledger   *repository.MemoryLedger
	clock    *fakeClock
	signer   *security.Signer
	subjects *memSubjects
}

func newFixture(t *testing.T, policy Policy) *fixture {
	t.Helper()
	f := &fixture{
		ledger:   repository.NewMemoryLedger(),
		clock:    &fakeClock{now: time.Now().UTC()},
		signer:   security.NewTestSigner(),
		subjects: newMemSubjects(alice, bob),
	}
	mgr, err := NewManager(f.ledger, f.signer, f.subjects, policy, WithClock(f.clock.Now))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	f.mgr = mgr
	return f
}

func (f *fixture) activeCount(t *testing.T, ownerID string) int {
	t.Helper()
	list, err := f.mgr.ListSessions(context.Background(), ownerID)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	n := 0
	for _, s := range list {
		if s.Active {
			n++
		}
	}
	return n
}

func TestCreateSession_IssuesTokenPair(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	ctx := context.Background()

	issued, err := f.mgr.CreateSession(ctx, alice, web)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if issued.RefreshToken == "" || issued.AccessToken == "" {
		t.Fatal("empty token in issued pair")
	}
	if want := f.clock.Now().Add(7 * 24 * time.Hour); !issued.RefreshTokenExpiresAt.Equal(want) {
		t.Errorf("refresh expiry = %v, want %v", issued.RefreshTokenExpiresAt, want)
	}
	claims, err := f.signer.ValidateAccessToken(issued.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccessToken: %v", err)
	}
	if claims.OwnerID() != alice.ID || claims.Email != alice.Email || claims.Name != alice.Name {
		t.Errorf("claims = %+v", claims)
	}

	list, _ := f.mgr.ListSessions(ctx, alice.ID)
	if len(list) != 1 {
		t.Fatalf("sessions = %d, want 1", len(list))
	}
	s := list[0]
	if !s.Active || s.RevokedAt != nil || s.ReplacedBy != nil {
		t.Errorf("new session state = %+v", s)
	}
	if s.Origin != web {
		t.Errorf("origin = %+v, want %+v", s.Origin, web)
	}
	if s.Token != "" || s.TokenHash != security.HashRefreshToken(issued.RefreshToken) {
		t.Error("ledger should hold only the token hash")
	}
}

func TestCreateSession_QuotaEvictsOldest(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	ctx := context.Background()

	var tokens []string
	for i := 0; i < 6; i++ {
		issued, err := f.mgr.CreateSession(ctx, alice, web)
		if err != nil {
			t.Fatalf("login %d: %v", i+1, err)
		}
		tokens = append(tokens, issued.RefreshToken)
		f.clock.Advance(time.Second)
	}

	if got := f.activeCount(t, alice.ID); got != 5 {
		t.Fatalf("active sessions = %d, want 5", got)
	}
	if _, err := f.mgr.RotateSession(ctx, tokens[0], web); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("evicted token refresh: want ErrInvalidToken, got %v", err)
	}
	for i, tok := range tokens[1:] {
		if _, err := f.mgr.RotateSession(ctx, tok, web); err != nil {
			t.Errorf("token %d should still rotate: %v", i+2, err)
		}
	}
	if got := f.activeCount(t, bob.ID); got != 0 {
		t.Errorf("bob's sessions touched: %d", got)
	}
}

func TestCreateSession_QuotaOfOne(t *testing.T) {
	p := DefaultPolicy()
	p.MaxSessionsPerIdentity = 1
	f := newFixture(t, p)
	ctx := context.Background()

	first, _ := f.mgr.CreateSession(ctx, alice, web)
	if _, err := f.mgr.CreateSession(ctx, alice, web); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if got := f.activeCount(t, alice.ID); got != 1 {
		t.Errorf("active = %d, want 1", got)
	}
	if _, err := f.mgr.RotateSession(ctx, first.RefreshToken, web); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("want ErrInvalidToken, got %v", err)
	}
}

func TestCreateSession_RevokedSessionsDoNotCountTowardQuota(t *testing.T) {
	p := DefaultPolicy()
	p.MaxSessionsPerIdentity = 2
	f := newFixture(t, p)
	ctx := context.Background()

	a, _ := f.mgr.CreateSession(ctx, alice, web)
	if err := f.mgr.RevokeSession(ctx, alice.ID, a.RefreshToken); err != nil {
		t.Fatalf("RevokeSession: %v", err)
	}
	b, _ := f.mgr.CreateSession(ctx, alice, web)
	if _, err := f.mgr.CreateSession(ctx, alice, web); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := f.mgr.RotateSession(ctx, b.RefreshToken, web); err != nil {
		t.Errorf("b should survive, got %v", err)
	}
}

func TestRotateSession_LinksAndRejectsReplay(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	ctx := context.Background()

	first, _ := f.mgr.CreateSession(ctx, alice, web)
	f.clock.Advance(time.Minute)
	mobile := domain.Origin{IP: "198.51.100.2", UserAgent: "pdfhub-ios"}
	second, err := f.mgr.RotateSession(ctx, first.RefreshToken, mobile)
	if err != nil {
		t.Fatalf("RotateSession: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("rotation must issue a new refresh token")
	}
	if second.OwnerID != alice.ID {
		t.Errorf("owner = %q", second.OwnerID)
	}

	chain, err := f.mgr.Chain(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("Chain: %v", err)
	}
	if len(chain) != 2 {
		t.Fatalf("chain length = %d, want 2", len(chain))
	}
	old, next := chain[0], chain[1]
	if old.Active || old.RevokedAt == nil || old.RevocationReason != domain.ReasonRotation {
		t.Errorf("old session = %+v", old)
	}
	if old.ReplacedBy == nil || *old.ReplacedBy != next.ID || next.ID != second.SessionID {
		t.Errorf("replacedBy = %v, want %d", old.ReplacedBy, second.SessionID)
	}
	if !next.Active || next.Origin != mobile {
		t.Errorf("next session = %+v", next)
	}

	if _, err := f.mgr.RotateSession(ctx, first.RefreshToken, web); !errors.Is(err, ErrTokenNotActive) {
		t.Errorf("replay: want ErrTokenNotActive, got %v", err)
	}
	if got := f.activeCount(t, alice.ID); got != 1 {
		t.Errorf("active after rotation = %d, want 1", got)
	}
}

func TestRotateSession_Failures(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	ctx := context.Background()

	if _, err := f.mgr.RotateSession(ctx, "never-issued", web); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("unknown token: want ErrInvalidToken, got %v", err)
	}

	issued, _ := f.mgr.CreateSession(ctx, alice, web)
	f.clock.Advance(7*24*time.Hour + time.Second)
	if _, err := f.mgr.RotateSession(ctx, issued.RefreshToken, web); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("expired: want ErrTokenExpired, got %v", err)
	}
}

func TestRotateSession_AtExpiryBoundaryStillValid(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	ctx := context.Background()
	issued, _ := f.mgr.CreateSession(ctx, alice, web)
	f.clock.Advance(7 * 24 * time.Hour)
	if _, err := f.mgr.RotateSession(ctx, issued.RefreshToken, web); err != nil {
		t.Errorf("rotation exactly at expiresAt: %v", err)
	}
}

func TestRotateSession_OwnerRejectedLeavesSessionActive(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	ctx := context.Background()
	issued, _ := f.mgr.CreateSession(ctx, alice, web)

	f.subjects.mu.Lock()
	f.subjects.rejected[alice.ID] = true
	f.subjects.mu.Unlock()

	if _, err := f.mgr.RotateSession(ctx, issued.RefreshToken, web); !errors.Is(err, ErrOwnerRejected) {
		t.Fatalf("want ErrOwnerRejected, got %v", err)
	}
	if got := f.activeCount(t, alice.ID); got != 1 {
		t.Errorf("active = %d, want untouched session", got)
	}
}

func TestRotateSession_ConcurrentExactlyOneWins(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	ctx := context.Background()
	issued, _ := f.mgr.CreateSession(ctx, alice, web)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		notActive int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.mgr.RotateSession(ctx, issued.RefreshToken, web)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrTokenNotActive):
				notActive++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if successes != 1 || notActive != workers-1 {
		t.Errorf("successes=%d notActive=%d, want 1 and %d", successes, notActive, workers-1)
	}
}

func TestRevokeSession(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	ctx := context.Background()
	issued, _ := f.mgr.CreateSession(ctx, alice, web)

	if err := f.mgr.RevokeSession(ctx, alice.ID, "unknown"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown token: want ErrNotFound, got %v", err)
	}
	if err := f.mgr.RevokeSession(ctx, bob.ID, issued.RefreshToken); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("other owner: want ErrUnauthorized, got %v", err)
	}
	if got := f.activeCount(t, alice.ID); got != 1 {
		t.Fatalf("unauthorized revoke must not change state")
	}

	if err := f.mgr.RevokeSession(ctx, alice.ID, issued.RefreshToken); err != nil {
		t.Fatalf("RevokeSession: %v", err)
	}
	list, _ := f.mgr.ListSessions(ctx, alice.ID)
	firstRevokedAt := *list[0].RevokedAt
	if list[0].Active || list[0].RevocationReason != domain.ReasonLogout {
		t.Errorf("session after logout = %+v", list[0])
	}

	f.clock.Advance(time.Minute)
	if err := f.mgr.RevokeSession(ctx, alice.ID, issued.RefreshToken); err != nil {
		t.Errorf("second logout should succeed, got %v", err)
	}
	list, _ = f.mgr.ListSessions(ctx, alice.ID)
	if !list[0].RevokedAt.Equal(firstRevokedAt) {
		t.Errorf("revokedAt changed on repeat logout: %v -> %v", firstRevokedAt, *list[0].RevokedAt)
	}
	if err := f.mgr.RevokeSession(ctx, bob.ID, issued.RefreshToken); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("other owner on revoked session: want ErrUnauthorized, got %v", err)
	}

	if _, err := f.mgr.RotateSession(ctx, issued.RefreshToken, web); !errors.Is(err, ErrTokenNotActive) {
		t.Errorf("refresh after logout: want ErrTokenNotActive, got %v", err)
	}
}

func TestRevokeChain(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	ctx := context.Background()

	root, _ := f.mgr.CreateSession(ctx, alice, web)
	tok := root.RefreshToken
	for i := 0; i < 3; i++ {
		next, err := f.mgr.RotateSession(ctx, tok, web)
		if err != nil {
			t.Fatalf("rotation %d: %v", i, err)
		}
		tok = next.RefreshToken
	}
	other, _ := f.mgr.CreateSession(ctx, alice, web)

	chain, err := f.mgr.Chain(ctx, root.RefreshToken)
	if err != nil {
		t.Fatalf("Chain: %v", err)
	}
	if len(chain) != 4 {
		t.Fatalf("chain length = %d, want 4", len(chain))
	}
	for i := 0; i < len(chain)-1; i++ {
		if chain[i].ReplacedBy == nil || *chain[i].ReplacedBy != chain[i+1].ID {
			t.Errorf("link %d broken", i)
		}
	}

	n, err := f.mgr.RevokeChain(ctx, root.RefreshToken)
	if err != nil {
		t.Fatalf("RevokeChain: %v", err)
	}
	if n != 1 {
		t.Errorf("revoked = %d, want 1 (only the head was active)", n)
	}
	if _, err := f.mgr.RotateSession(ctx, tok, web); !errors.Is(err, ErrTokenNotActive) {
		t.Errorf("head after chain revoke: want ErrTokenNotActive, got %v", err)
	}
	if _, err := f.mgr.RotateSession(ctx, other.RefreshToken, web); err != nil {
		t.Errorf("unrelated session affected: %v", err)
	}
	if _, err := f.mgr.RevokeChain(ctx, "unknown"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown: want ErrNotFound, got %v", err)
	}
}

func TestManager_StorageFailure(t *testing.T) {
	down := errors.New("connection refused")
	mgr, err := NewManager(failingLedger{err: down}, security.NewTestSigner(), newMemSubjects(alice), DefaultPolicy())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	ctx := context.Background()

	if _, err := mgr.CreateSession(ctx, alice, web); !errors.Is(err, ErrStorageUnavailable) || !errors.Is(err, down) {
		t.Errorf("CreateSession: want ErrStorageUnavailable wrapping cause, got %v", err)
	}
	if _, err := mgr.RotateSession(ctx, "t", web); !errors.Is(err, ErrStorageUnavailable) {
		t.Errorf("RotateSession: want ErrStorageUnavailable, got %v", err)
	}
	if err := mgr.RevokeSession(ctx, alice.ID, "t"); !errors.Is(err, ErrStorageUnavailable) {
		t.Errorf("RevokeSession: want ErrStorageUnavailable, got %v", err)
	}
	if _, err := mgr.ListSessions(ctx, alice.ID); !errors.Is(err, ErrStorageUnavailable) {
		t.Errorf("ListSessions: want ErrStorageUnavailable, got %v", err)
	}
}

func TestCreateSession_SigningFailureRollsBack(t *testing.T) {
	ledger := repository.NewMemoryLedger()
	mgr, err := NewManager(ledger, brokenSigner{}, newMemSubjects(alice), DefaultPolicy())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if _, err := mgr.CreateSession(context.Background(), alice, web); !errors.Is(err, ErrSigningFailure) {
		t.Fatalf("want ErrSigningFailure, got %v", err)
	}
	list, _ := ledger.ListByOwner(context.Background(), alice.ID)
	if len(list) != 0 {
		t.Errorf("session persisted despite signing failure")
	}
}

func TestCreateSession_RetriesSecretCollision(t *testing.T) {
	secrets := []string{"same", "same", "fresh"}
	var mu sync.Mutex
	next := func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		s := secrets[0]
		secrets = secrets[1:]
		return s, nil
	}
	mgr, err := NewManager(repository.NewMemoryLedger(), security.NewTestSigner(), newMemSubjects(alice), DefaultPolicy(), WithSecretSource(next))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	ctx := context.Background()
	if _, err := mgr.CreateSession(ctx, alice, web); err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := mgr.CreateSession(ctx, alice, web)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if second.RefreshToken != "fresh" {
		t.Errorf("refresh token = %q, want regenerated secret", second.RefreshToken)
	}
}

func TestNewManager_Validation(t *testing.T) {
	ledger := repository.NewMemoryLedger()
	signer := security.NewTestSigner()
	subjects := newMemSubjects()

	if _, err := NewManager(nil, signer, subjects, DefaultPolicy()); err == nil {
		t.Error("nil ledger should fail")
	}
	bad := []Policy{
		{AccessTTL: 0, RefreshTTL: time.Hour, MaxSessionsPerIdentity: 1},
		{AccessTTL: time.Minute, RefreshTTL: 0, MaxSessionsPerIdentity: 1},
		{AccessTTL: time.Minute, RefreshTTL: time.Hour, MaxSessionsPerIdentity: 0},
	}
	for i, p := range bad {
		if _, err := NewManager(ledger, signer, subjects, p); err == nil {
			t.Errorf("policy %d should be rejected", i)
		}
	}
}

func TestCreateSession_AccessExpiryFollowsPolicy(t *testing.T) {
	p := DefaultPolicy()
	p.AccessTTL = 2 * time.Minute
	f := newFixture(t, p)

	issued, err := f.mgr.CreateSession(context.Background(), alice, web)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if d := time.Until(issued.AccessTokenExpiresAt); d <= time.Minute || d > 2*time.Minute {
		t.Errorf("access expiry in %v, want ~2m", d)
	}
	claims, err := f.signer.ValidateAccessToken(issued.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccessToken: %v", err)
	}
	if !claims.ExpiresAt.Time.Equal(issued.AccessTokenExpiresAt.Truncate(time.Second)) {
		t.Errorf("exp claim = %v, want %v", claims.ExpiresAt.Time, issued.AccessTokenExpiresAt)
	}
}
