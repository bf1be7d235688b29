package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/courier-im/courier/internal/models"
)

var (
	// ErrNotFound indicates a referenced user or record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrUnavailable indicates a transient backend failure; callers may retry
	// with backoff.
	ErrUnavailable = errors.New("store: unavailable")
	// ErrDuplicateEmail indicates the email is already registered.
	ErrDuplicateEmail = errors.New("store: email already registered")
)

// DataStore defines the interface for persistent storage of users and
// per-user message logs. Both PostgresStore and SQLiteStore implement it.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Account operations
	CreateUser(ctx context.Context, username, email, passwordHash string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	CountUsers(ctx context.Context) (int64, error)

	// Message log operations. Each user owns an independent copy of their
	// conversations: AppendMessage writes into ownerID's log only, and
	// ClearBetween removes only ownerID's copies.
	AppendMessage(ctx context.Context, ownerID string, msg *models.StoredMessage) error
	ListBetween(ctx context.Context, ownerID, counterpartID string) ([]models.StoredMessage, error)
	ClearBetween(ctx context.Context, ownerID, counterpartID string) error
}

// NewUserID generates a time-ordered UUID v7 for a new user.
func NewUserID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// unavailable wraps a backend failure as a retryable ErrUnavailable.
func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}
