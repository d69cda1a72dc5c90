// File: internal/usecase/conversation_uc.go
package usecase

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chat-proxy/internal/domain"
	"chat-proxy/internal/domain/model"
	"chat-proxy/internal/domain/ports/adapter"
	"chat-proxy/internal/domain/ports/repository"
	"chat-proxy/internal/infra/logging"
)

// Compile-time check
var _ ConversationUseCase = (*conversationUC)(nil)

// CreateParams holds the caller-supplied fields of a new conversation.
// Nil or empty optional fields take the configured defaults.
type CreateParams struct {
	OwnerToken      string
	Model           string
	Prompt          string
	MaxTokens       *int
	PresencePenalty *float64
	Temperature     *float64
}

// ConversationUseCase owns every transition of a conversation's message history.
type ConversationUseCase interface {
	Create(ctx context.Context, p CreateParams) (id string, err error)
	Get(ctx context.Context, id, ownerToken string) (*model.Conversation, error)
	SendMessage(ctx context.Context, id, ownerToken, text string) (model.Message, error)
	Undo(ctx context.Context, id, ownerToken string) (*model.Conversation, error)
	Regenerate(ctx context.Context, id, ownerToken string) (*model.Conversation, error)
}

type ConversationOption func(*conversationUC)

// WithLocker serializes mutations per conversation id. Without it, concurrent
// mutations of one conversation are last-writer-wins.
func WithLocker(l adapter.Locker, ttl time.Duration) ConversationOption {
	return func(c *conversationUC) {
		c.locker = l
		c.lockTTL = ttl
	}
}

// WithTokenCounter sets the estimator used when the upstream reports no usage.
func WithTokenCounter(tc adapter.TokenCounter) ConversationOption {
	return func(c *conversationUC) { c.tokens = tc }
}

// WithIDGenerator replaces uuid.NewString for minting conversation ids.
func WithIDGenerator(fn func() string) ConversationOption {
	return func(c *conversationUC) { c.newID = fn }
}

type conversationUC struct {
	repo      repository.ConversationRepository
	ai        adapter.Completer
	defaults  *model.Defaults
	authToken string

	locker  adapter.Locker
	lockTTL time.Duration
	tokens  adapter.TokenCounter
	newID   func() string
	log     *zerolog.Logger
}

// NewConversationUseCase wires the lifecycle manager. authToken is the
// system-wide credential required to create conversations. logger may be nil.
func NewConversationUseCase(
	repo repository.ConversationRepository,
	ai adapter.Completer,
	defaults *model.Defaults,
	authToken string,
	logger *zerolog.Logger,
	opts ...ConversationOption,
) ConversationUseCase {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	c := &conversationUC{
		repo:      repo,
		ai:        ai,
		defaults:  defaults,
		authToken: authToken,
		lockTTL:   3 * time.Minute,
		newID:     uuid.NewString,
		log:       logger,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *conversationUC) Create(ctx context.Context, p CreateParams) (string, error) {
	defer logging.TraceDuration(c.log, "ConversationUC.Create")()

	if c.authToken == "" || !tokensEqual(p.OwnerToken, c.authToken) {
		logging.With(ctx, c.log).Warn().Str("auth_token", logging.Redact(p.OwnerToken, false)).Msg("create rejected: invalid auth token")
		return "", domain.ErrUnauthorized
	}

	d := c.defaults
	modelName := strings.TrimSpace(p.Model)
	if modelName == "" {
		modelName = d.Model
	}
	prompt := p.Prompt
	if strings.TrimSpace(prompt) == "" {
		prompt = d.Prompt
	}
	maxTokens := d.MaxTokens
	if p.MaxTokens != nil {
		if *p.MaxTokens <= 0 {
			return "", fmt.Errorf("%w: max_tokens must be positive", domain.ErrInvalidArgument)
		}
		maxTokens = *p.MaxTokens
	}
	presence := d.PresencePenalty
	if p.PresencePenalty != nil {
		if *p.PresencePenalty < -2 || *p.PresencePenalty > 2 {
			return "", fmt.Errorf("%w: presence_penalty must be within [-2, 2]", domain.ErrInvalidArgument)
		}
		presence = *p.PresencePenalty
	}
	temperature := d.Temperature
	if p.Temperature != nil {
		if *p.Temperature < 0 || *p.Temperature > 2 {
			return "", fmt.Errorf("%w: temperature must be within [0, 2]", domain.ErrInvalidArgument)
		}
		temperature = *p.Temperature
	}

	conv := model.NewConversation(c.newID(), p.OwnerToken, modelName, prompt, maxTokens, presence, temperature)
	if err := c.repo.Save(ctx, conv); err != nil {
		return "", fmt.Errorf("save conversation: %w", err)
	}
	logging.With(logging.WithChatID(ctx, conv.ID), c.log).Info().Str("model", conv.Model).Msg("conversation created")
	return conv.ID, nil
}

func (c *conversationUC) Get(ctx context.Context, id, ownerToken string) (*model.Conversation, error) {
	defer logging.TraceDuration(c.log, "ConversationUC.Get")()
	return c.load(ctx, id, ownerToken)
}

func (c *conversationUC) SendMessage(ctx context.Context, id, ownerToken, text string) (model.Message, error) {
	defer logging.TraceDuration(c.log, "ConversationUC.SendMessage")()

	if strings.TrimSpace(text) == "" {
		return model.Message{}, fmt.Errorf("%w: message is required", domain.ErrInvalidArgument)
	}

	var reply model.Message
	err := c.withLock(ctx, id, func() error {
		conv, err := c.load(ctx, id, ownerToken)
		if err != nil {
			return err
		}
		if len(conv.Messages) == 0 {
			return domain.ErrEmptyConversation
		}

		// The stored conversation is only touched once the reply is in hand.
		msgs := conv.CloneMessages()
		msgs = append(msgs, model.Message{Role: model.RoleUser, Content: text})
		reply, err = c.complete(ctx, conv, msgs)
		if err != nil {
			return err
		}
		conv.Messages = append(msgs, reply)
		return c.save(ctx, conv)
	})
	if err != nil {
		return model.Message{}, err
	}
	return reply, nil
}

func (c *conversationUC) Undo(ctx context.Context, id, ownerToken string) (*model.Conversation, error) {
	defer logging.TraceDuration(c.log, "ConversationUC.Undo")()

	var out *model.Conversation
	err := c.withLock(ctx, id, func() error {
		conv, err := c.load(ctx, id, ownerToken)
		if err != nil {
			return err
		}
		out = conv
		if len(conv.Messages) <= 2 {
			logging.With(logging.WithChatID(ctx, id), c.log).Debug().Int("messages", len(conv.Messages)).Msg("undo: nothing to remove")
			return nil
		}
		conv.Messages = conv.Messages[:len(conv.Messages)-2]
		return c.save(ctx, conv)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Regenerate drops the last message whatever its role and completes again
// over the remainder. A conversation holding nothing but its system message
// is returned unchanged.
func (c *conversationUC) Regenerate(ctx context.Context, id, ownerToken string) (*model.Conversation, error) {
	defer logging.TraceDuration(c.log, "ConversationUC.Regenerate")()

	var out *model.Conversation
	err := c.withLock(ctx, id, func() error {
		conv, err := c.load(ctx, id, ownerToken)
		if err != nil {
			return err
		}
		out = conv
		if len(conv.Messages) <= 1 {
			return nil
		}

		msgs := conv.CloneMessages()
		msgs = msgs[:len(msgs)-1]
		reply, err := c.complete(ctx, conv, msgs)
		if err != nil {
			return err
		}
		conv.Messages = append(msgs, reply)
		return c.save(ctx, conv)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// --- internal ---

// load resolves and authorizes a conversation. Any read failure is reported
// as not found.
func (c *conversationUC) load(ctx context.Context, id, ownerToken string) (*model.Conversation, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: chatId is required", domain.ErrInvalidArgument)
	}
	conv, err := c.repo.FindByID(ctx, id)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			logging.With(logging.WithChatID(ctx, id), c.log).Error().Err(err).Msg("load conversation failed")
		}
		return nil, domain.ErrNotFound
	}
	if !tokensEqual(conv.OwnerToken, ownerToken) {
		return nil, domain.ErrUnauthorized
	}
	return conv, nil
}

func (c *conversationUC) complete(ctx context.Context, conv *model.Conversation, msgs []model.Message) (model.Message, error) {
	res, err := c.ai.Complete(ctx, adapter.CompletionRequest{
		Model:           conv.Model,
		Messages:        msgs,
		MaxTokens:       conv.MaxTokens,
		Temperature:     conv.Temperature,
		PresencePenalty: conv.PresencePenalty,
	})
	if err != nil {
		logging.With(logging.WithChatID(ctx, conv.ID), c.log).Error().Err(err).Str("model", conv.Model).Msg("completion failed")
		return model.Message{}, fmt.Errorf("%w: %w", domain.ErrUpstream, err)
	}

	reply := res.Message
	reply.Role = model.RoleAssistant

	switch {
	case res.Usage.TotalTokens > 0:
		conv.LastTokenCount = res.Usage.TotalTokens
	case c.tokens != nil:
		n, err := c.tokens.CountTokens(conv.Model, append(msgs[:len(msgs):len(msgs)], reply))
		if err != nil {
			logging.With(ctx, c.log).Debug().Err(err).Msg("token estimate unavailable")
			break
		}
		conv.LastTokenCount = n
	}
	return reply, nil
}

func (c *conversationUC) save(ctx context.Context, conv *model.Conversation) error {
	if err := c.repo.Save(ctx, conv); err != nil {
		logging.With(logging.WithChatID(ctx, conv.ID), c.log).Error().Err(err).Msg("save conversation failed")
		return fmt.Errorf("save conversation: %w", err)
	}
	return nil
}

func (c *conversationUC) withLock(ctx context.Context, id string, fn func() error) error {
	if c.locker == nil {
		return fn()
	}
	key := LockKey(id)
	token, err := c.locker.TryLock(ctx, key, c.lockTTL)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrConversationBusy, err)
	}
	defer func() {
		if err := c.locker.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
			logging.With(logging.WithChatID(ctx, id), c.log).Warn().Err(err).Msg("unlock failed")
		}
	}()
	return fn()
}

// LockKey is the locker key guarding one conversation.
func LockKey(id string) string { return "chat_lock:" + id }

func tokensEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
