package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"chat-proxy/internal/domain/model"
	"chat-proxy/internal/domain/ports/repository"
	"chat-proxy/internal/infra/metrics"
)

// ChatCache keeps serialized conversations under chat:<id>.
type ChatCache struct {
	client RedisClient
	ttl    time.Duration
}

func NewChatCache(client RedisClient, ttl time.Duration) *ChatCache {
	return &ChatCache{
		client: client,
		ttl:    ttl,
	}
}

func chatKey(id string) string { return "chat:" + id }

func (c *ChatCache) Store(ctx context.Context, conv *model.Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, chatKey(conv.ID), data, c.ttl)
}

// Get returns (nil, nil) on a miss.
func (c *ChatCache) Get(ctx context.Context, id string) (*model.Conversation, error) {
	data, err := c.client.Get(ctx, chatKey(id))
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var conv model.Conversation
	if err := json.Unmarshal([]byte(data), &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (c *ChatCache) Delete(ctx context.Context, id string) error {
	return c.client.Del(ctx, chatKey(id))
}

var _ repository.ConversationRepository = (*CachedConversationRepo)(nil)

// CachedConversationRepo is a read-through, write-through cache in front of
// the durable store. The store stays authoritative; cache failures are logged
// and otherwise ignored.
type CachedConversationRepo struct {
	inner repository.ConversationRepository
	cache *ChatCache
	log   *zerolog.Logger
}

func NewCachedConversationRepo(inner repository.ConversationRepository, cache *ChatCache, logger *zerolog.Logger) *CachedConversationRepo {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &CachedConversationRepo{inner: inner, cache: cache, log: logger}
}

func (r *CachedConversationRepo) FindByID(ctx context.Context, id string) (*model.Conversation, error) {
	conv, err := r.cache.Get(ctx, id)
	switch {
	case err != nil:
		metrics.IncCacheRequest("conversation", "error")
		r.log.Warn().Err(err).Str("chat_id", id).Msg("conversation cache read failed")
	case conv != nil:
		metrics.IncCacheRequest("conversation", "hit")
		return conv, nil
	default:
		metrics.IncCacheRequest("conversation", "miss")
	}

	conv, err = r.inner.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.cache.Store(ctx, conv); err != nil {
		r.log.Warn().Err(err).Str("chat_id", id).Msg("conversation cache fill failed")
	}
	return conv, nil
}

func (r *CachedConversationRepo) Save(ctx context.Context, conv *model.Conversation) error {
	if err := r.inner.Save(ctx, conv); err != nil {
		// Drop the entry so the next read goes back to the store.
		if derr := r.cache.Delete(ctx, conv.ID); derr != nil {
			r.log.Warn().Err(derr).Str("chat_id", conv.ID).Msg("conversation cache evict failed")
		}
		return err
	}
	if err := r.cache.Store(ctx, conv); err != nil {
		r.log.Warn().Err(err).Str("chat_id", conv.ID).Msg("conversation cache update failed")
		_ = r.cache.Delete(ctx, conv.ID)
	}
	return nil
}
