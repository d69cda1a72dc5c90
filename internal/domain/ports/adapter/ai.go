package adapter

import (
	"context"
	"errors"

	"chat-proxy/internal/domain/model"
)

// ErrRateLimited is the signal every provider maps its rate-limit response to.
// It is the only upstream failure the gateway retries.
var ErrRateLimited = errors.New("upstream rate limited")

// CompletionRequest carries the full message history plus the generation
// parameters fixed on the conversation.
type CompletionRequest struct {
	Model           string
	Messages        []model.Message
	MaxTokens       int
	Temperature     float64
	PresencePenalty float64
}

// Usage for a single completion call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Completion is one assistant message produced by the upstream model.
type Completion struct {
	Message model.Message
	Usage   Usage
}

// Completer is the port for the upstream chat-completion API.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (Completion, error)
}
