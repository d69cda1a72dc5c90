package model

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message represents one entry of a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Conversation is the aggregate root for a chat with a model. The field
// names of its JSON form are the on-disk record format.
type Conversation struct {
	ID              string    `json:"chatId"`
	OwnerToken      string    `json:"owner_token"`
	Model           string    `json:"model"`
	Messages        []Message `json:"messages"`
	MaxTokens       int       `json:"max_tokens"`
	LastTokenCount  int       `json:"last_token_count"`
	PresencePenalty float64   `json:"presence_penalty"`
	Temperature     float64   `json:"temperature"`
}

// NewConversation builds a conversation whose only message is the system prompt.
func NewConversation(id, ownerToken, model, prompt string, maxTokens int, presencePenalty, temperature float64) *Conversation {
	return &Conversation{
		ID:              id,
		OwnerToken:      ownerToken,
		Model:           model,
		Messages:        []Message{{Role: RoleSystem, Content: prompt}},
		MaxTokens:       maxTokens,
		PresencePenalty: presencePenalty,
		Temperature:     temperature,
	}
}

// CloneMessages returns a copy of the message history with spare capacity for
// one user/assistant pair, so callers can mutate it without touching c.
func (c *Conversation) CloneMessages() []Message {
	out := make([]Message, len(c.Messages), len(c.Messages)+2)
	copy(out, c.Messages)
	return out
}

// Last returns the most recent message, if any.
func (c *Conversation) Last() (Message, bool) {
	if len(c.Messages) == 0 {
		return Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}
