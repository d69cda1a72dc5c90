package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound          = errors.New("conversation not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrEmptyConversation = errors.New("conversation has no messages")
	ErrUpstream          = errors.New("upstream completion failed")
	ErrConversationBusy  = errors.New("conversation is being modified by another request")
)
