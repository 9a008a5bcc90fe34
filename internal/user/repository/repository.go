package repository

import (
	"context"
	"errors"

	"github.com/althaafka/pdfhub-api/internal/user/domain"
)

var (
	// ErrEmailTaken is returned by Create when another user has the same email (case-insensitive).
	ErrEmailTaken = errors.New("email already registered")
	// ErrUsernameTaken is returned by Create when another user has the same username (case-insensitive).
	ErrUsernameTaken = errors.New("username already taken")
	// ErrUserNotFound is returned by SetStatus for an unknown id.
	ErrUserNotFound = errors.New("user not found")
)

// Repository defines persistence for users. Lookups return (nil, nil) when nothing matches.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
	SetStatus(ctx context.Context, id string, status domain.UserStatus) error
}
