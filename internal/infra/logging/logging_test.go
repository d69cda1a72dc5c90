package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"chat-proxy/internal/config"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"NONE":    zerolog.ErrorLevel,
		"basic":   zerolog.InfoLevel,
		"VERBOSE": zerolog.DebugLevel,
		"All":     zerolog.TraceLevel,
		"warn":    zerolog.WarnLevel,
		"":        zerolog.InfoLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestWith_AttachesContextFields(t *testing.T) {
	var buf bytes.Buffer
	base := NewWithWriter(&buf, config.LogConfig{Level: "info", Format: "json"}, false)

	ctx := WithChatID(WithTraceID(context.Background(), "t-1"), "c-1")
	With(ctx, base).Info().Msg("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if line["trace_id"] != "t-1" || line["chat_id"] != "c-1" {
		t.Fatalf("expected trace_id and chat_id fields, got %v", line)
	}
	if TraceID(ctx) != "t-1" {
		t.Fatalf("TraceID() = %q", TraceID(ctx))
	}
}

func TestNew_LevelFiltersOutput(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, config.LogConfig{Level: "NONE", Format: "json"}, false)
	l.Info().Msg("dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected info to be filtered at NONE, got %q", buf.String())
	}
	l.Error().Msg("kept")
	if buf.Len() == 0 {
		t.Fatal("expected error to be written at NONE")
	}
}

func TestRedact(t *testing.T) {
	if got := Redact("short", false); got != "***" {
		t.Errorf("Redact(short) = %q", got)
	}
	if got := Redact("sk-1234567890", false); got != "sk-1...90" {
		t.Errorf("Redact(long) = %q", got)
	}
	if got := Redact("sk-1234567890", true); got != "sk-1234567890" {
		t.Errorf("dev mode should not redact, got %q", got)
	}
}
