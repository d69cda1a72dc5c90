// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"chat-proxy/internal/config"
	"chat-proxy/internal/domain/ports/adapter"
	"chat-proxy/internal/domain/ports/repository"
	aiAdapters "chat-proxy/internal/infra/adapters/ai"
	"chat-proxy/internal/infra/api"
	"chat-proxy/internal/infra/db/jsonfs"
	"chat-proxy/internal/infra/lock"
	"chat-proxy/internal/infra/logging"
	"chat-proxy/internal/infra/metrics"
	red "chat-proxy/internal/infra/redis"
	"chat-proxy/internal/infra/tokens"
	"chat-proxy/internal/usecase"
)

// Set via -ldflags.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (echo completions when no AI key is set)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] Enabled")
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("exit")
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) error {
	// ---- Redis (optional) ----
	var redisClient *red.Client
	if cfg.Redis.URL != "" {
		c, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer c.Close()
		redisClient = c
		logger.Info().Str("redis", logging.Redact(cfg.Redis.URL, cfg.Runtime.Dev)).Msg("redis connected")
	}

	// ---- Conversation store ----
	var repo repository.ConversationRepository = jsonfs.NewConversationRepo(cfg.Storage.DataDir, logger)
	if redisClient != nil && cfg.Storage.CacheTTL > 0 {
		repo = red.NewCachedConversationRepo(repo, red.NewChatCache(redisClient, cfg.Storage.CacheTTL), logger)
		logger.Info().Dur("ttl", cfg.Storage.CacheTTL).Msg("conversation cache enabled")
	}
	logger.Info().Str("data_dir", cfg.Storage.DataDir).Msg("conversation store ready")

	// ---- Completion gateway ----
	completer, err := buildCompleter(ctx, cfg, logger)
	if err != nil {
		return err
	}

	// ---- Use case ----
	defaults := cfg.Defaults.Resolve(time.Now())
	opts := []usecase.ConversationOption{usecase.WithTokenCounter(tokens.NewTiktokenCounter())}
	if cfg.Redis.Lock {
		var locker adapter.Locker = lock.NewMemoryLocker()
		if redisClient != nil {
			locker = red.NewLocker(redisClient)
		}
		opts = append(opts, usecase.WithLocker(locker, cfg.Redis.LockTTL))
	}
	convUC := usecase.NewConversationUseCase(repo, completer, &defaults, cfg.Auth.Token, logger, opts...)

	// ---- HTTP ----
	apiOpts := api.Options{RequestTimeout: cfg.HTTP.RequestTimeout}
	if redisClient != nil && cfg.Redis.RateMax > 0 {
		apiOpts.Limiter = red.NewRateLimiter(redisClient)
		apiOpts.LimiterKey = red.ClientKey
		apiOpts.RateMax = cfg.Redis.RateMax
		apiOpts.RateWindow = cfg.Redis.RateWin
	}
	server := api.NewServer(convUC, apiOpts, logger).NewHTTPServer(cfg.HTTP.Port)

	errc := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	// ---- Graceful shutdown ----
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown requested")
	case err := <-errc:
		return fmt.Errorf("http server: %w", err)
	}
	shutCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Info().Msg("bye")
	return nil
}

// buildCompleter assembles providers -> router -> concurrency cap -> retry.
func buildCompleter(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (adapter.Completer, error) {
	providers := map[string]adapter.Completer{}
	if cfg.AI.OpenAIKey != "" {
		a, err := aiAdapters.NewOpenAIAdapter(cfg.AI.OpenAIKey, cfg.AI.OpenAIBaseURL, cfg.AI.Timeout)
		if err != nil {
			return nil, fmt.Errorf("openai adapter: %w", err)
		}
		providers["openai"] = a
		logger.Info().Str("key", logging.Redact(cfg.AI.OpenAIKey, false)).Msg("AI provider: openai")
	}
	if cfg.AI.GeminiKey != "" {
		a, err := aiAdapters.NewGeminiAdapter(ctx, cfg.AI.GeminiKey, cfg.AI.GeminiURL, cfg.AI.Timeout)
		if err != nil {
			return nil, fmt.Errorf("gemini adapter: %w", err)
		}
		providers["gemini"] = a
		logger.Info().Str("key", logging.Redact(cfg.AI.GeminiKey, false)).Msg("AI provider: gemini")
	}
	if len(providers) == 0 {
		if !cfg.Runtime.Dev {
			return nil, errors.New("no AI provider configured")
		}
		providers[cfg.AI.DefaultProvider] = aiAdapters.NewEchoAdapter(200 * time.Millisecond)
		logger.Warn().Msg("AI provider: echo (dev mode, no upstream key)")
	}

	var c adapter.Completer = aiAdapters.NewMultiAIAdapter(cfg.AI.DefaultProvider, providers, cfg.AI.ModelProviders)
	c = aiAdapters.NewLimitedAI(c, cfg.AI.ConcurrentLimit)
	return aiAdapters.NewRetryingCompleter(c, cfg.AI.MaxRetries, cfg.AI.RetryBaseDelay, logger), nil
}
