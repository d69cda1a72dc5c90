package adapter

import "chat-proxy/internal/domain/model"

// TokenCounter estimates the prompt size of a message history. Used when the
// upstream response carries no usage report.
type TokenCounter interface {
	CountTokens(model string, messages []model.Message) (int, error)
}
