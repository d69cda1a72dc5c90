package ai

import (
	"context"
	"time"

	"chat-proxy/internal/domain/model"
	"chat-proxy/internal/domain/ports/adapter"
)

var _ adapter.Completer = (*EchoAdapter)(nil)

// EchoAdapter answers with the last user message. Used in -dev runs without
// upstream credentials.
type EchoAdapter struct {
	delay time.Duration
}

func NewEchoAdapter(delay time.Duration) *EchoAdapter {
	return &EchoAdapter{delay: delay}
}

func (a *EchoAdapter) Complete(ctx context.Context, req adapter.CompletionRequest) (adapter.Completion, error) {
	start := time.Now()
	if a.delay > 0 {
		select {
		case <-time.After(a.delay):
		case <-ctx.Done():
			return adapter.Completion{}, ctx.Err()
		}
	}

	text := "(echo)"
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == model.RoleUser {
			text = "echo: " + req.Messages[i].Content
			break
		}
	}
	observe("echo", req.Model, adapter.Usage{}, start, true)
	return adapter.Completion{Message: model.Message{Role: model.RoleAssistant, Content: text}}, nil
}
