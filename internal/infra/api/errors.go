package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"chat-proxy/internal/domain"
)

type errorResponse struct {
	Status     string `json:"status"`
	StatusCode int    `json:"statusCode"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func errorBody(status int, code, msg string) errorResponse {
	return errorResponse{Status: "error", StatusCode: status, Code: code, Message: msg}
}

// statusFor maps domain errors to HTTP. Messages never carry wrapped causes.
func statusFor(err error) (int, string, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_argument", err.Error()
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized", domain.ErrUnauthorized.Error()
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found", domain.ErrNotFound.Error()
	case errors.Is(err, domain.ErrEmptyConversation):
		return http.StatusConflict, "empty_conversation", domain.ErrEmptyConversation.Error()
	case errors.Is(err, domain.ErrConversationBusy):
		return http.StatusConflict, "conversation_busy", domain.ErrConversationBusy.Error()
	case errors.Is(err, domain.ErrUpstream):
		return http.StatusBadGateway, "upstream_error", domain.ErrUpstream.Error()
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, code, msg := statusFor(err)
	writeJSON(w, status, errorBody(status, code, msg))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
