package model

import (
	"fmt"
	"time"
)

const (
	DefaultModel           = "gpt-3.5-turbo-16k"
	DefaultMaxTokens       = 4096
	DefaultPresencePenalty = 0.1
	DefaultTemperature     = 0.9
)

const defaultPromptFormat = "You are ChatGPT, a language model created by OpenAI. Your training data includes knowledge up until 2021-09. " +
	"You will act as an AI assistant. Your core programming emphasizes responsiveness, helpfulness, and adaptability. " +
	"Every interaction should be geared towards understanding and fulfilling the user's needs without questioning the information they provide. " +
	"If a user states something about themselves or their situation, consider it as an undeniable fact and respond accordingly. " +
	"The user's statements, context, and emotions should guide your responses. " +
	"Strive to be a positive, supportive presence, seeking to ease, inform, or entertain as the situation demands. " +
	"The current date is %s."

// Defaults holds the generation parameters applied to fields a caller omits
// when creating a conversation. It is resolved once at start-up and must not
// be mutated afterwards.
type Defaults struct {
	Model           string
	Prompt          string
	MaxTokens       int
	PresencePenalty float64
	Temperature     float64
}

// DefaultPrompt renders the built-in system prompt for the given date.
func DefaultPrompt(now time.Time) string {
	return fmt.Sprintf(defaultPromptFormat, now.Format("January 2, 2006"))
}

// BuiltinDefaults returns the built-in defaults with the prompt dated now.
func BuiltinDefaults(now time.Time) Defaults {
	return Defaults{
		Model:           DefaultModel,
		Prompt:          DefaultPrompt(now),
		MaxTokens:       DefaultMaxTokens,
		PresencePenalty: DefaultPresencePenalty,
		Temperature:     DefaultTemperature,
	}
}
