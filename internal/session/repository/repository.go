package repository

import (
	"context"
	"errors"

	"github.com/althaafka/pdfhub-api/internal/session/domain"
)

var (
	// ErrSessionNotFound is returned by Save when the row no longer exists.
	ErrSessionNotFound = errors.New("refresh session not found")
	// ErrDuplicateToken is returned by Insert when the token hash is already recorded.
	ErrDuplicateToken = errors.New("refresh token already recorded")
)

// Tx is the set of ledger operations available inside one atomic unit.
// Lookups return (nil, nil) when no row matches.
type Tx interface {
	// LockOwner serializes this unit against every other unit touching ownerID's sessions.
	LockOwner(ctx context.Context, ownerID string) error
	// Insert persists s and sets s.ID.
	Insert(ctx context.Context, s *domain.RefreshSession) (int64, error)
	FindByToken(ctx context.Context, tokenHash string) (*domain.RefreshSession, error)
	FindByID(ctx context.Context, id int64) (*domain.RefreshSession, error)
	// ListActiveByOwner returns active sessions newest first.
	ListActiveByOwner(ctx context.Context, ownerID string) ([]*domain.RefreshSession, error)
	DeleteMany(ctx context.Context, ids []int64) error
	// Save writes the mutable fields: active, revoked_at, revocation_reason, replaced_by.
	Save(ctx context.Context, s *domain.RefreshSession) error
}

// Ledger is the durable store of refresh sessions.
type Ledger interface {
	// InTx runs fn as one atomic unit. Any error from fn discards every write fn made.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// ListByOwner returns all of ownerID's sessions, active or not, newest first.
	ListByOwner(ctx context.Context, ownerID string) ([]*domain.RefreshSession, error)
}
