// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"chat-proxy/internal/domain/model"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type HTTPConfig struct {
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	ShutdownGrace  time.Duration `yaml:"shutdown_grace"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error or NONE|BASIC|VERBOSE|ALL
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type StorageConfig struct {
	DataDir  string        `yaml:"data_dir"`
	CacheTTL time.Duration `yaml:"cache_ttl"` // redis read-through cache; 0 disables
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Lock     bool          `yaml:"lock"` // per-conversation locking around mutations
	LockTTL  time.Duration `yaml:"lock_ttl"`
	RateMax  int           `yaml:"rate_max"` // requests per window per client; 0 disables
	RateWin  time.Duration `yaml:"rate_window"`
}

type AIConfig struct {
	OpenAIKey       string            `yaml:"openai_key"`
	OpenAIBaseURL   string            `yaml:"openai_base_url"`
	GeminiKey       string            `yaml:"gemini_key"`
	GeminiURL       string            `yaml:"gemini_url"`
	DefaultProvider string            `yaml:"default_provider"` // openai|gemini
	ModelProviders  map[string]string `yaml:"model_providers"`  // model -> provider
	ConcurrentLimit int               `yaml:"concurrent_limit"` // max concurrent AI calls
	MaxRetries      int               `yaml:"max_retries"`      // retries on rate limiting
	RetryBaseDelay  time.Duration     `yaml:"retry_base_delay"`
	Timeout         time.Duration     `yaml:"timeout"` // per upstream call
}

type AuthConfig struct {
	Token string `yaml:"token"`
}

type DefaultsConfig struct {
	Model           string   `yaml:"model"`
	Prompt          string   `yaml:"prompt"`
	MaxTokens       int      `yaml:"max_tokens"`
	PresencePenalty *float64 `yaml:"presence_penalty"`
	Temperature     *float64 `yaml:"temperature"`
}

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Log      LogConfig      `yaml:"log"`
	Storage  StorageConfig  `yaml:"storage"`
	Redis    RedisConfig    `yaml:"redis"`
	AI       AIConfig       `yaml:"ai"`
	Auth     AuthConfig     `yaml:"auth"`
	Defaults DefaultsConfig `yaml:"defaults"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path (a missing file is not an error) and
// applies environment overrides from the process environment.
func LoadConfig(path string, dev bool) (*Config, error) {
	return LoadConfigWithEnv(path, dev, os.Getenv)
}

// LoadConfigWithEnv is LoadConfig with an explicit environment lookup.
func LoadConfigWithEnv(path string, dev bool, getenv func(string) string) (*Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
			// env-only deployment
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := applyEnv(&cfg, getenv); err != nil {
		return nil, err
	}

	// defaults
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 3000
	}
	if cfg.HTTP.RequestTimeout <= 0 {
		cfg.HTTP.RequestTimeout = 2 * time.Minute
	}
	if cfg.HTTP.ShutdownGrace <= 0 {
		cfg.HTTP.ShutdownGrace = 10 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "./data"
	}
	if cfg.Redis.LockTTL <= 0 {
		cfg.Redis.LockTTL = 3 * time.Minute
	}
	if cfg.Redis.RateWin <= 0 {
		cfg.Redis.RateWin = time.Minute
	}
	if cfg.AI.ConcurrentLimit <= 0 {
		cfg.AI.ConcurrentLimit = 16
	}
	if cfg.AI.MaxRetries <= 0 {
		cfg.AI.MaxRetries = 3
	}
	if cfg.AI.RetryBaseDelay <= 0 {
		cfg.AI.RetryBaseDelay = time.Second
	}
	if cfg.AI.Timeout <= 0 {
		cfg.AI.Timeout = 60 * time.Second
	}
	if cfg.AI.DefaultProvider == "" {
		cfg.AI.DefaultProvider = "openai"
	}
	cfg.AI.DefaultProvider = strings.ToLower(cfg.AI.DefaultProvider)

	// Minimal validation
	if cfg.Auth.Token == "" {
		return nil, errors.New("auth.token (AUTH_TOKEN) is required")
	}
	if cfg.AI.OpenAIKey == "" && cfg.AI.GeminiKey == "" && !dev {
		return nil, errors.New("no AI provider configured: set ai.openai_key (OPENAI_API_KEY) or ai.gemini_key (GEMINI_API_KEY)")
	}
	if cfg.Defaults.MaxTokens < 0 {
		return nil, errors.New("defaults.max_tokens must be positive")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	if v := getenv("OPENAI_API_KEY"); v != "" {
		cfg.AI.OpenAIKey = v
	}
	if v := getenv("GEMINI_API_KEY"); v != "" {
		cfg.AI.GeminiKey = v
	}
	if v := getenv("AUTH_TOKEN"); v != "" {
		cfg.Auth.Token = v
	}
	if v := getenv("DEBUG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 {
			return fmt.Errorf("invalid PORT %q", v)
		}
		cfg.HTTP.Port = port
	}
	return nil
}

// Resolve merges configured defaults over the built-in ones. Called once at
// start-up; the result is shared read-only.
func (d DefaultsConfig) Resolve(now time.Time) model.Defaults {
	out := model.BuiltinDefaults(now)
	if d.Model != "" {
		out.Model = d.Model
	}
	if d.Prompt != "" {
		out.Prompt = d.Prompt
	}
	if d.MaxTokens > 0 {
		out.MaxTokens = d.MaxTokens
	}
	if d.PresencePenalty != nil {
		out.PresencePenalty = *d.PresencePenalty
	}
	if d.Temperature != nil {
		out.Temperature = *d.Temperature
	}
	return out
}
