package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"chat-proxy/internal/domain/model"
	"chat-proxy/internal/domain/ports/adapter"
	"chat-proxy/internal/infra/api"
	"chat-proxy/internal/infra/db/jsonfs"
	"chat-proxy/internal/usecase"
)

const systemToken = "T"

type scriptAI struct {
	mu      sync.Mutex
	replies []string
	err     error
	calls   int
}

func (s *scriptAI) Complete(ctx context.Context, req adapter.CompletionRequest) (adapter.Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return adapter.Completion{}, s.err
	}
	text := fmt.Sprintf("reply-%d", s.calls)
	if len(s.replies) > 0 {
		text, s.replies = s.replies[0], s.replies[1:]
	}
	return adapter.Completion{
		Message: model.Message{Role: model.RoleAssistant, Content: text},
		Usage:   adapter.Usage{TotalTokens: 10 * s.calls},
	}, nil
}

type denyAll struct{ n int }

func (d *denyAll) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	d.n++
	return d.n <= limit, nil
}

func newLogger() *zerolog.Logger { l := zerolog.Nop(); return &l }

func newTestServer(t *testing.T, fa adapter.Completer, opts api.Options) http.Handler {
	t.Helper()
	d := model.BuiltinDefaults(time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC))
	uc := usecase.NewConversationUseCase(jsonfs.NewConversationRepo(t.TempDir(), nil), fa, &d, systemToken, newLogger())
	return api.NewServer(uc, opts, newLogger()).Routes()
}

func post(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

type errBody struct {
	Status     string `json:"status"`
	StatusCode int    `json:"statusCode"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

type chatView struct {
	Messages       []model.Message `json:"messages"`
	LastTokenCount int             `json:"lastTokenCount"`
	Model          string          `json:"model"`
}

func createChat(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := post(t, h, "/openai/createNewChat", map[string]any{"authToken": systemToken})
	if rec.Code != http.StatusOK {
		t.Fatalf("create: want 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	id := decode[map[string]string](t, rec)["chatId"]
	if id == "" {
		t.Fatal("create: empty chatId")
	}
	return id
}

func TestConversationFlow(t *testing.T) {
	fa := &scriptAI{replies: []string{"Hello!", "Hi there", "Hey."}}
	h := newTestServer(t, fa, api.Options{RequestTimeout: time.Minute})
	id := createChat(t, h)
	auth := map[string]any{"chatId": id, "authToken": systemToken}

	t.Run("send", func(t *testing.T) {
		rec := post(t, h, "/openai/simpleChat", map[string]any{"chatId": id, "authToken": systemToken, "message": "Hi"})
		if rec.Code != http.StatusOK {
			t.Fatalf("want 200, got %d body=%s", rec.Code, rec.Body.String())
		}
		got := decode[map[string]model.Message](t, rec)["response"]
		if got.Role != model.RoleAssistant || got.Content != "Hello!" {
			t.Fatalf("unexpected reply %+v", got)
		}
	})

	t.Run("get", func(t *testing.T) {
		rec := post(t, h, "/openai/getChat", auth)
		if rec.Code != http.StatusOK {
			t.Fatalf("want 200, got %d", rec.Code)
		}
		v := decode[chatView](t, rec)
		if len(v.Messages) != 3 || v.Messages[0].Role != model.RoleSystem || v.LastTokenCount != 10 || v.Model != "gpt-3.5-turbo-16k" {
			t.Fatalf("unexpected view %+v", v)
		}
	})

	t.Run("regenerate", func(t *testing.T) {
		rec := post(t, h, "/openai/regenerateLastCompletion", auth)
		if rec.Code != http.StatusOK {
			t.Fatalf("want 200, got %d body=%s", rec.Code, rec.Body.String())
		}
		got := decode[model.Message](t, rec)
		if got.Role != model.RoleAssistant || got.Content != "Hi there" {
			t.Fatalf("unexpected regenerated message %+v", got)
		}
	})

	t.Run("undo", func(t *testing.T) {
		rec := post(t, h, "/openai/undoLastCompletion", auth)
		if rec.Code != http.StatusOK {
			t.Fatalf("want 200, got %d", rec.Code)
		}
		if msg := decode[map[string]string](t, rec)["message"]; msg != "Last completion undone successfully" {
			t.Fatalf("unexpected message %q", msg)
		}
		v := decode[chatView](t, post(t, h, "/openai/getChat", auth))
		if len(v.Messages) != 1 {
			t.Fatalf("expected only the system message after undo, got %d", len(v.Messages))
		}

		// second undo is a no-op but still succeeds
		if rec := post(t, h, "/openai/undoLastCompletion", auth); rec.Code != http.StatusOK {
			t.Fatalf("no-op undo: want 200, got %d", rec.Code)
		}
	})
}

func TestCreate_CustomParameters(t *testing.T) {
	h := newTestServer(t, &scriptAI{}, api.Options{})
	rec := post(t, h, "/openai/createNewChat", map[string]any{
		"authToken": systemToken, "model": "gpt-4o", "prompt": "Be terse.",
		"max_tokens": 256, "temperature": 0, "presence_penalty": 0.5,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	id := decode[map[string]string](t, rec)["chatId"]
	v := decode[chatView](t, post(t, h, "/openai/getChat", map[string]any{"chatId": id, "authToken": systemToken}))
	if v.Model != "gpt-4o" || v.Messages[0].Content != "Be terse." {
		t.Fatalf("custom parameters not applied: %+v", v)
	}
}

func TestErrorMapping(t *testing.T) {
	fa := &scriptAI{}
	h := newTestServer(t, fa, api.Options{})
	id := createChat(t, h)

	cases := []struct {
		name   string
		path   string
		body   any
		status int
		code   string
	}{
		{"create with wrong token", "/openai/createNewChat", map[string]any{"authToken": "nope"}, 401, "unauthorized"},
		{"create without token", "/openai/createNewChat", map[string]any{}, 400, "invalid_argument"},
		{"create with bad temperature", "/openai/createNewChat", map[string]any{"authToken": systemToken, "temperature": 5}, 400, "invalid_argument"},
		{"malformed json", "/openai/simpleChat", "{oops", 400, "invalid_argument"},
		{"empty body", "/openai/getChat", "", 400, "invalid_argument"},
		{"missing chatId", "/openai/getChat", map[string]any{"authToken": systemToken}, 400, "invalid_argument"},
		{"missing message", "/openai/simpleChat", map[string]any{"chatId": id, "authToken": systemToken}, 400, "invalid_argument"},
		{"unknown chat", "/openai/getChat", map[string]any{"chatId": "does-not-exist", "authToken": systemToken}, 404, "not_found"},
		{"path-like chat id", "/openai/getChat", map[string]any{"chatId": "../../etc/passwd", "authToken": systemToken}, 404, "not_found"},
		{"wrong owner", "/openai/undoLastCompletion", map[string]any{"chatId": id, "authToken": "other"}, 401, "unauthorized"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := post(t, h, tc.path, tc.body)
			if rec.Code != tc.status {
				t.Fatalf("want %d, got %d body=%s", tc.status, rec.Code, rec.Body.String())
			}
			b := decode[errBody](t, rec)
			if b.Status != "error" || b.StatusCode != tc.status || b.Code != tc.code {
				t.Fatalf("unexpected error body %+v", b)
			}
		})
	}
	if fa.calls != 0 {
		t.Fatalf("no request above should reach upstream, got %d calls", fa.calls)
	}
}

func TestUpstreamFailureIs502AndLeavesChatUntouched(t *testing.T) {
	fa := &scriptAI{err: fmt.Errorf("openai: %w", errors.New("connection reset"))}
	h := newTestServer(t, fa, api.Options{})
	id := createChat(t, h)
	auth := map[string]any{"chatId": id, "authToken": systemToken}

	rec := post(t, h, "/openai/simpleChat", map[string]any{"chatId": id, "authToken": systemToken, "message": "Hi"})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("want 502, got %d", rec.Code)
	}
	b := decode[errBody](t, rec)
	if b.Code != "upstream_error" || strings.Contains(b.Message, "connection reset") {
		t.Fatalf("upstream details must not leak: %+v", b)
	}
	v := decode[chatView](t, post(t, h, "/openai/getChat", auth))
	if len(v.Messages) != 1 {
		t.Fatalf("failed send must not change the chat, got %d messages", len(v.Messages))
	}
}

func TestUtilityRoutes(t *testing.T) {
	h := newTestServer(t, &scriptAI{}, api.Options{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("root: want 501, got %d", rec.Code)
	}
	if msg := decode[map[string]string](t, rec)["message"]; msg != "The requested endpoint is not available at this time." {
		t.Fatalf("root: unexpected message %q", msg)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/util/randUUID", nil))
	if rec.Code != http.StatusOK || len(decode[map[string]string](t, rec)["uuid"]) != 36 {
		t.Fatalf("randUUID: unexpected response %d", rec.Code)
	}
	if rec.Header().Get("X-Trace-Id") == "" {
		t.Fatal("expected X-Trace-Id header")
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("health: unexpected response %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: want 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/openai/createNewChat", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET on a POST route: want 405, got %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	h := newTestServer(t, &scriptAI{}, api.Options{Limiter: &denyAll{}, RateMax: 2, RateWindow: time.Minute})

	for i := 0; i < 2; i++ {
		if rec := post(t, h, "/openai/createNewChat", map[string]any{"authToken": systemToken}); rec.Code != http.StatusOK {
			t.Fatalf("request %d: want 200, got %d", i, rec.Code)
		}
	}
	rec := post(t, h, "/openai/createNewChat", map[string]any{"authToken": systemToken})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("want 429, got %d", rec.Code)
	}
	if b := decode[errBody](t, rec); b.Code != "rate_limited" {
		t.Fatalf("unexpected error body %+v", b)
	}
}

func TestRecover(t *testing.T) {
	h := api.Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }),
		api.TraceID(), api.Recover(newLogger()))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("want 500, got %d", rec.Code)
	}
	if b := decode[errBody](t, rec); b.Code != "internal_error" {
		t.Fatalf("unexpected error body %+v", b)
	}
}
