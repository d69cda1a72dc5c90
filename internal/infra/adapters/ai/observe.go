package ai

import (
	"time"

	"chat-proxy/internal/domain/ports/adapter"
	"chat-proxy/internal/infra/metrics"
)

func observe(provider, model string, u adapter.Usage, start time.Time, success bool) {
	metrics.ObserveCompletion(provider, model, u.PromptTokens, u.CompletionTokens, u.TotalTokens,
		int(time.Since(start).Milliseconds()), success)
}
