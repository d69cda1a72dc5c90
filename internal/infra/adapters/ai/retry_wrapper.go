// File: internal/infra/adapters/ai/retry_wrapper.go
package ai

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"chat-proxy/internal/domain/ports/adapter"
	"chat-proxy/internal/infra/metrics"
)

// Compile-time check
var _ adapter.Completer = (*RetryingCompleter)(nil)

// RetryingCompleter retries rate-limited completions with exponential
// backoff: base, 2*base, 4*base, ... for at most maxRetries extra attempts.
// Every other error is returned as is.
type RetryingCompleter struct {
	inner      adapter.Completer
	maxRetries int
	base       time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
	log        *zerolog.Logger
}

type RetryOption func(*RetryingCompleter)

// WithRetrySleep replaces the context-aware timer used between attempts.
func WithRetrySleep(fn func(ctx context.Context, d time.Duration) error) RetryOption {
	return func(r *RetryingCompleter) { r.sleep = fn }
}

func NewRetryingCompleter(inner adapter.Completer, maxRetries int, base time.Duration, logger *zerolog.Logger, opts ...RetryOption) *RetryingCompleter {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	r := &RetryingCompleter{
		inner:      inner,
		maxRetries: maxRetries,
		base:       base,
		sleep:      sleepCtx,
		log:        logger,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *RetryingCompleter) Complete(ctx context.Context, req adapter.CompletionRequest) (adapter.Completion, error) {
	for attempt := 0; ; attempt++ {
		res, err := r.inner.Complete(ctx, req)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, adapter.ErrRateLimited) {
			return adapter.Completion{}, err
		}
		if attempt >= r.maxRetries {
			metrics.IncRetry("exhausted")
			r.log.Warn().Err(err).Str("model", req.Model).Int("attempts", attempt+1).Msg("rate limited, giving up")
			return adapter.Completion{}, err
		}

		delay := r.base << attempt
		metrics.IncRetry("retry")
		r.log.Info().Str("model", req.Model).Int("attempt", attempt+1).Dur("delay", delay).Msg("rate limited, retrying")
		if err := r.sleep(ctx, delay); err != nil {
			return adapter.Completion{}, err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
