package ai

import (
	"context"

	"chat-proxy/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.Completer = (*limitedAI)(nil)

type limitedAI struct {
	inner adapter.Completer
	sem   chan struct{}
}

// NewLimitedAI caps concurrent upstream calls. A slot wait is abandoned when
// ctx is done.
func NewLimitedAI(inner adapter.Completer, maxConcurrent int) adapter.Completer {
	if maxConcurrent <= 0 {
		return inner
	}
	return &limitedAI{
		inner: inner,
		sem:   make(chan struct{}, maxConcurrent),
	}
}

func (l *limitedAI) Complete(ctx context.Context, req adapter.CompletionRequest) (adapter.Completion, error) {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return adapter.Completion{}, ctx.Err()
	}
	defer func() { <-l.sem }()
	return l.inner.Complete(ctx, req)
}
