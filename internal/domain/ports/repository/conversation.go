package repository

import (
	"context"

	"chat-proxy/internal/domain/model"
)

// -----------------------------
// Conversations
// -----------------------------

// ConversationRepository loads and stores whole conversation records.
// FindByID returns domain.ErrNotFound for an unknown id. Save replaces the
// stored record in full. No locking is provided.
type ConversationRepository interface {
	FindByID(ctx context.Context, id string) (*model.Conversation, error)
	Save(ctx context.Context, c *model.Conversation) error
}
