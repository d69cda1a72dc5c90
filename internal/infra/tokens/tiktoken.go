// File: internal/infra/tokens/tiktoken.go
package tokens

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"chat-proxy/internal/domain/model"
	"chat-proxy/internal/domain/ports/adapter"
)

var _ adapter.TokenCounter = (*TiktokenCounter)(nil)

const fallbackEncoding = "cl100k_base"

// Per-message framing overhead of the chat format (role markers, separators).
const (
	tokensPerMessage = 3
	tokensPerReply   = 3
)

// TiktokenCounter estimates token usage locally. Encoders are loaded lazily
// per model and cached; unknown models use cl100k_base.
type TiktokenCounter struct {
	mu       sync.Mutex
	byModel  map[string]*tiktoken.Tiktoken
	encoding func(model string) (*tiktoken.Tiktoken, error)
}

func NewTiktokenCounter() *TiktokenCounter {
	return &TiktokenCounter{
		byModel:  make(map[string]*tiktoken.Tiktoken),
		encoding: encodingFor,
	}
}

func (c *TiktokenCounter) CountTokens(modelName string, messages []model.Message) (int, error) {
	tkm, err := c.encoder(modelName)
	if err != nil {
		return 0, err
	}
	n := tokensPerReply
	for _, m := range messages {
		n += tokensPerMessage
		n += len(tkm.Encode(string(m.Role), nil, nil))
		n += len(tkm.Encode(m.Content, nil, nil))
	}
	return n, nil
}

func (c *TiktokenCounter) encoder(modelName string) (*tiktoken.Tiktoken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tkm, ok := c.byModel[modelName]; ok {
		return tkm, nil
	}
	tkm, err := c.encoding(modelName)
	if err != nil {
		return nil, err
	}
	c.byModel[modelName] = tkm
	return tkm, nil
}

func encodingFor(modelName string) (*tiktoken.Tiktoken, error) {
	if tkm, err := tiktoken.EncodingForModel(modelName); err == nil {
		return tkm, nil
	}
	tkm, err := tiktoken.GetEncoding(fallbackEncoding)
	if err != nil {
		return nil, fmt.Errorf("tiktoken: load %s: %w", fallbackEncoding, err)
	}
	return tkm, nil
}
