// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/ashureev/chatrelay/internal/domain"
)

// Repository defines the interface for persisting users and chat history.
type Repository interface {
	// GetOrCreateUser returns the user with displayName, creating it on first
	// sight and bumping last_activity otherwise.
	GetOrCreateUser(ctx context.Context, displayName string) (*domain.User, error)

	// GetUserByName retrieves a user by display name.
	// Returns an error matching errdefs.IsNotFound when absent.
	GetUserByName(ctx context.Context, displayName string) (*domain.User, error)

	// AddParticipant records that userID joined conversationID. Repeated calls are no-ops.
	AddParticipant(ctx context.Context, conversationID, userID string) error

	// SaveMessage appends a message and fills in its ID and CreatedAt.
	SaveMessage(ctx context.Context, msg *domain.Message) error

	// History returns the latest limit messages of a conversation, oldest first.
	History(ctx context.Context, conversationID string, limit int) ([]domain.Message, error)

	// GetConversation retrieves conversation metadata.
	GetConversation(ctx context.Context, conversationID string) (*domain.Conversation, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
