package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/althaafka/pdfhub-api/internal/security"
	sessionservice "github.com/althaafka/pdfhub-api/internal/session/service"
	"github.com/althaafka/pdfhub-api/internal/user/domain"
	"github.com/althaafka/pdfhub-api/internal/user/repository"
)

// Store is the identity store: account lookup, password verification and account creation.
type Store struct {
	users  repository.Repository
	hasher *security.Hasher
	now    func() time.Time
	newID  func() string
}

// NewStore returns a Store over users. hasher may be nil, in which case bcrypt's default cost is used.
func NewStore(users repository.Repository, hasher *security.Hasher) *Store {
	if hasher == nil {
		hasher = security.NewHasher(0)
	}
	return &Store{
		users:  users,
		hasher: hasher,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.users.GetByEmail(ctx, email)
}

func (s *Store) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	return s.users.GetByUsername(ctx, username)
}

func (s *Store) FindByID(ctx context.Context, id string) (*domain.User, error) {
	return s.users.GetByID(ctx, id)
}

// FindByIdentifier resolves identifier as an email first, then as a username.
func (s *Store) FindByIdentifier(ctx context.Context, identifier string) (*domain.User, error) {
	u, err := s.users.GetByEmail(ctx, identifier)
	if err != nil || u != nil {
		return u, err
	}
	return s.users.GetByUsername(ctx, identifier)
}

// VerifyPassword reports whether password matches u's hash. A nil user still costs one bcrypt comparison.
func (s *Store) VerifyPassword(u *domain.User, password string) bool {
	if u == nil {
		return s.hasher.Verify("", password)
	}
	return s.hasher.Verify(u.PasswordHash, password)
}

// CreateIdentity validates r, hashes the password and persists a new active user.
// Collisions surface as repository.ErrEmailTaken or repository.ErrUsernameTaken.
func (s *Store) CreateIdentity(ctx context.Context, r Registration) (*domain.User, error) {
	r = r.Normalize()
	if err := r.Validate(); err != nil {
		return nil, err
	}
	hash, err := s.hasher.Hash(r.Password)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	u := &domain.User{
		ID:           s.newID(),
		Username:     r.Username,
		Email:        r.Email,
		PasswordHash: hash,
		Status:       domain.UserStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// SetStatus enables or disables an account. Disabled accounts cannot log in or rotate sessions.
func (s *Store) SetStatus(ctx context.Context, id string, status domain.UserStatus) error {
	if !status.Valid() {
		return &ValidationError{Fields: map[string]string{"status": "unknown status"}}
	}
	return s.users.SetStatus(ctx, id, status)
}

// ResolveSubject returns the token subject for ownerID, or sessionservice.ErrOwnerRejected
// when the account is gone or not active.
func (s *Store) ResolveSubject(ctx context.Context, ownerID string) (security.Subject, error) {
	u, err := s.users.GetByID(ctx, ownerID)
	if err != nil {
		return security.Subject{}, err
	}
	if u == nil || u.Status != domain.UserStatusActive {
		return security.Subject{}, sessionservice.ErrOwnerRejected
	}
	return SubjectOf(u), nil
}

// SubjectOf maps a user to the claims carried in its access tokens.
func SubjectOf(u *domain.User) security.Subject {
	return security.Subject{ID: u.ID, Email: u.Email, Name: u.Username}
}

// IsConflict reports whether err is an email or username collision.
func IsConflict(err error) bool {
	return errors.Is(err, repository.ErrEmailTaken) || errors.Is(err, repository.ErrUsernameTaken)
}
