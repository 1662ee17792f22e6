package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/deepdrill-ai/deepdrill/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface for identity data: users and the
// session keys the chat client authenticates with.
type Store interface {
	Ping(ctx context.Context) error

	GetSessionKeysByPrefix(ctx context.Context, prefix string) ([]*models.SessionKey, error)
	ListSessionKeys(ctx context.Context, userID uuid.UUID) ([]*models.SessionKey, error)
	UpdateSessionKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateSessionKey(ctx context.Context, key *models.SessionKey) error
	RevokeSessionKey(ctx context.Context, id uuid.UUID) error

	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
}
