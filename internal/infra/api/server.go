package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"chat-proxy/internal/domain"
	"chat-proxy/internal/domain/model"
	"chat-proxy/internal/infra/logging"
	"chat-proxy/internal/usecase"
)

const maxBodyBytes = 1 << 20

// Options tune the router. Zero values disable the feature.
type Options struct {
	RequestTimeout time.Duration
	Limiter        Allower
	LimiterKey     func(client string) string
	RateMax        int
	RateWindow     time.Duration
}

// Server exposes the conversation operations over HTTP.
type Server struct {
	convUC usecase.ConversationUseCase
	opts   Options
	log    *zerolog.Logger
}

func NewServer(convUC usecase.ConversationUseCase, opts Options, logger *zerolog.Logger) *Server {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if opts.LimiterKey == nil {
		opts.LimiterKey = func(c string) string { return "rate_limit:" + c }
	}
	return &Server{convUC: convUC, opts: opts, log: logger}
}

// Routes builds the chi router with the middleware stack applied.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(
		TraceID(),
		RequestLog(s.log),
		Recover(s.log),
	)

	r.Get("/", s.handleRoot)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/util/randUUID", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"uuid": uuid.NewString()})
	})

	r.Route("/openai", func(r chi.Router) {
		r.Use(
			RateLimit(s.opts.Limiter, s.opts.LimiterKey, s.opts.RateMax, s.opts.RateWindow, s.log),
			Timeout(s.opts.RequestTimeout),
		)
		r.Post("/createNewChat", s.handleCreate)
		r.Post("/getChat", s.handleGet)
		r.Post("/simpleChat", s.handleSend)
		r.Post("/undoLastCompletion", s.handleUndo)
		r.Post("/regenerateLastCompletion", s.handleRegenerate)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody(http.StatusNotFound, "not_found", "route not found"))
	})
	return r
}

// NewHTTPServer wraps the router in an http.Server listening on port.
func (s *Server) NewHTTPServer(port int) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusNotImplemented, map[string]string{
		"message": "The requested endpoint is not available at this time.",
	})
}

// ---- request bodies ----

type createRequest struct {
	AuthToken       string   `json:"authToken"`
	Model           string   `json:"model"`
	Prompt          string   `json:"prompt"`
	MaxTokens       *int     `json:"max_tokens"`
	PresencePenalty *float64 `json:"presence_penalty"`
	Temperature     *float64 `json:"temperature"`
}

type chatRequest struct {
	ChatID    string `json:"chatId"`
	AuthToken string `json:"authToken"`
	Message   string `json:"message"`
}

// ---- handlers ----

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.AuthToken == "" {
		writeError(w, missing("authToken"))
		return
	}

	id, err := s.convUC.Create(r.Context(), usecase.CreateParams{
		OwnerToken:      req.AuthToken,
		Model:           req.Model,
		Prompt:          req.Prompt,
		MaxTokens:       req.MaxTokens,
		PresencePenalty: req.PresencePenalty,
		Temperature:     req.Temperature,
	})
	if err != nil {
		s.fail(r.Context(), w, "createNewChat", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"chatId": id})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	req, ok := s.chatRequest(w, r, false)
	if !ok {
		return
	}
	conv, err := s.convUC.Get(r.Context(), req.ChatID, req.AuthToken)
	if err != nil {
		s.fail(r.Context(), w, "getChat", err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Messages       []model.Message `json:"messages"`
		LastTokenCount int             `json:"lastTokenCount"`
		Model          string          `json:"model"`
	}{conv.Messages, conv.LastTokenCount, conv.Model})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	req, ok := s.chatRequest(w, r, true)
	if !ok {
		return
	}
	reply, err := s.convUC.SendMessage(r.Context(), req.ChatID, req.AuthToken, req.Message)
	if err != nil {
		s.fail(r.Context(), w, "simpleChat", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]model.Message{"response": reply})
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	req, ok := s.chatRequest(w, r, false)
	if !ok {
		return
	}
	if _, err := s.convUC.Undo(r.Context(), req.ChatID, req.AuthToken); err != nil {
		s.fail(r.Context(), w, "undoLastCompletion", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Last completion undone successfully"})
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	req, ok := s.chatRequest(w, r, false)
	if !ok {
		return
	}
	conv, err := s.convUC.Regenerate(r.Context(), req.ChatID, req.AuthToken)
	if err != nil {
		s.fail(r.Context(), w, "regenerateLastCompletion", err)
		return
	}
	last, _ := conv.Last()
	writeJSON(w, http.StatusOK, last)
}

// ---- helpers ----

func (s *Server) chatRequest(w http.ResponseWriter, r *http.Request, needMessage bool) (chatRequest, bool) {
	var req chatRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return req, false
	}
	switch {
	case req.ChatID == "":
		writeError(w, missing("chatId"))
		return req, false
	case req.AuthToken == "":
		writeError(w, missing("authToken"))
		return req, false
	case needMessage && strings.TrimSpace(req.Message) == "":
		writeError(w, missing("message"))
		return req, false
	}
	return req, true
}

func (s *Server) fail(ctx context.Context, w http.ResponseWriter, op string, err error) {
	status, code, _ := statusFor(err)
	ev := logging.With(ctx, s.log).Warn()
	if status >= http.StatusInternalServerError {
		ev = logging.With(ctx, s.log).Error()
	}
	ev.Err(err).Str("op", op).Str("code", code).Int("status", status).Msg("request failed")
	writeError(w, err)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is required", domain.ErrInvalidArgument)
		}
		return fmt.Errorf("%w: malformed JSON body", domain.ErrInvalidArgument)
	}
	return nil
}

func missing(field string) error {
	return fmt.Errorf("%w: %s is required", domain.ErrInvalidArgument, field)
}
