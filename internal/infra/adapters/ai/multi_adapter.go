// File: internal/infra/adapters/ai/multi_adapter.go
package ai

import (
	"context"
	"errors"
	"strings"

	"chat-proxy/internal/domain/ports/adapter"
)

var _ adapter.Completer = (*MultiAIAdapter)(nil)

var ErrNoProvider = errors.New("no completion provider configured")

type MultiAIAdapter struct {
	defaultProvider string // e.g., "openai" or "gemini"
	byProvider      map[string]adapter.Completer
	modelToProvider map[string]string // model -> provider ("openai" | "gemini")
}

// NewMultiAIAdapter routes each request to a provider by model name. The
// model itself is passed through untouched.
func NewMultiAIAdapter(
	defaultProvider string,
	byProvider map[string]adapter.Completer,
	modelToProvider map[string]string,
) *MultiAIAdapter {
	return &MultiAIAdapter{
		defaultProvider: strings.ToLower(defaultProvider),
		byProvider:      byProvider,
		modelToProvider: modelToProvider,
	}
}

func (m *MultiAIAdapter) resolveProvider(model string) string {
	if p := m.modelToProvider[model]; p != "" {
		return strings.ToLower(p)
	}
	l := strings.ToLower(model)
	switch {
	case strings.HasPrefix(l, "gemini"):
		return "gemini"
	case strings.HasPrefix(l, "gpt"), isOpenAIReasoning(l):
		return "openai"
	default:
		return m.defaultProvider
	}
}

// o1, o3-mini, o4-mini, ...
func isOpenAIReasoning(l string) bool {
	return len(l) >= 2 && l[0] == 'o' && l[1] >= '0' && l[1] <= '9'
}

func (m *MultiAIAdapter) pick(model string) adapter.Completer {
	prov := m.resolveProvider(model)
	if a := m.byProvider[prov]; a != nil {
		return a
	}
	if a := m.byProvider[m.defaultProvider]; a != nil {
		return a
	}
	// last resort: first available
	for _, a := range m.byProvider {
		if a != nil {
			return a
		}
	}
	return nil
}

func (m *MultiAIAdapter) Complete(ctx context.Context, req adapter.CompletionRequest) (adapter.Completion, error) {
	a := m.pick(req.Model)
	if a == nil {
		return adapter.Completion{}, ErrNoProvider
	}
	return a.Complete(ctx, req)
}
