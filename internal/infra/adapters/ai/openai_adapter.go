package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"chat-proxy/internal/domain/model"
	"chat-proxy/internal/domain/ports/adapter"
)

// Compile-time assurance this adapter satisfies the port
var _ adapter.Completer = (*OpenAIAdapter)(nil)

// OpenAIAdapter implements adapter.Completer on the Chat Completions API.
type OpenAIAdapter struct {
	client openai.Client
}

// NewOpenAIAdapter builds the client with SDK retries disabled; rate limits
// are surfaced as adapter.ErrRateLimited for RetryingCompleter to handle.
func NewOpenAIAdapter(apiKey, baseURL string, timeout time.Duration) (*OpenAIAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key empty")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}
	return &OpenAIAdapter{client: openai.NewClient(opts...)}, nil
}

func (o *OpenAIAdapter) Complete(ctx context.Context, req adapter.CompletionRequest) (adapter.Completion, error) {
	start := time.Now()
	params := openai.ChatCompletionNewParams{
		Model:           openai.ChatModel(req.Model),
		Messages:        toOpenAIMessages(req.Messages),
		Temperature:     openai.Float(req.Temperature),
		PresencePenalty: openai.Float(req.PresencePenalty),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		observe("openai", req.Model, adapter.Usage{}, start, false)
		return adapter.Completion{}, classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		observe("openai", req.Model, adapter.Usage{}, start, false)
		return adapter.Completion{}, errors.New("openai: no choices")
	}

	u := adapter.Usage{
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:      int(resp.Usage.TotalTokens),
	}
	observe("openai", req.Model, u, start, true)
	return adapter.Completion{
		Message: model.Message{Role: model.RoleAssistant, Content: resp.Choices[0].Message.Content},
		Usage:   u,
	}, nil
}

func toOpenAIMessages(msgs []model.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case model.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case model.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func classifyOpenAIError(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		if apierr.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("openai: %w: %v", adapter.ErrRateLimited, err)
		}
		return fmt.Errorf("openai http %d: %w", apierr.StatusCode, err)
	}
	return fmt.Errorf("openai: %w", err)
}
