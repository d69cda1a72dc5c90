package jsonfs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"chat-proxy/internal/domain"
	"chat-proxy/internal/domain/model"
)

func sampleConversation(id string) *model.Conversation {
	c := model.NewConversation(id, "tok", "gpt-3.5-turbo-16k", "P", 4096, 0.1, 0.9)
	c.Messages = append(c.Messages,
		model.Message{Role: model.RoleUser, Content: "hello"},
		model.Message{Role: model.RoleAssistant, Content: "hi"},
	)
	c.LastTokenCount = 12
	return c
}

func TestConversationRepo_RoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	repo := NewConversationRepo(dir, nil)

	c := sampleConversation("3f0c9a9e-1111-4a2b-8c1d-5e6f7a8b9c0d")
	if err := repo.Save(ctx, c); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "chats", c.ID+".json")); err != nil {
		t.Fatalf("expected file under chats/: %v", err)
	}

	got, err := repo.FindByID(ctx, c.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !reflect.DeepEqual(got, c) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, c)
	}
}

func TestConversationRepo_SaveIsIdempotentAndOverwrites(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	repo := NewConversationRepo(dir, nil)
	c := sampleConversation("abc")
	path := filepath.Join(dir, "chats", "abc.json")

	if err := repo.Save(ctx, c); err != nil {
		t.Fatalf("save 1: %v", err)
	}
	first, _ := os.ReadFile(path)
	if err := repo.Save(ctx, c); err != nil {
		t.Fatalf("save 2: %v", err)
	}
	second, _ := os.ReadFile(path)
	if string(first) != string(second) {
		t.Fatalf("saving unchanged state twice should yield identical content")
	}

	c.Messages = c.Messages[:1]
	if err := repo.Save(ctx, c); err != nil {
		t.Fatalf("save 3: %v", err)
	}
	got, err := repo.FindByID(ctx, "abc")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got.Messages) != 1 {
		t.Fatalf("overwrite should replace in full, got %d messages", len(got.Messages))
	}
	if _, err := os.Stat(path + ".tmp"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("temp file should not survive a successful save: %v", err)
	}
}

func TestConversationRepo_NotFound(t *testing.T) {
	ctx := context.Background()
	repo := NewConversationRepo(t.TempDir(), nil)

	for _, id := range []string{"missing", "", "../etc/passwd", `a\b`, ".."} {
		if _, err := repo.FindByID(ctx, id); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("FindByID(%q): expected ErrNotFound, got %v", id, err)
		}
	}
}

func TestConversationRepo_CorruptFileIsAnError(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	repo := NewConversationRepo(dir, nil)
	if err := os.MkdirAll(filepath.Join(dir, "chats"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "chats", "bad.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := repo.FindByID(ctx, "bad")
	if err == nil || errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected a decode error distinct from not found, got %v", err)
	}
}

func TestConversationRepo_SaveRejectsInvalidID(t *testing.T) {
	repo := NewConversationRepo(t.TempDir(), nil)
	if err := repo.Save(context.Background(), &model.Conversation{ID: "../escape"}); err == nil {
		t.Fatal("expected error for path-like id")
	}
	if err := repo.Save(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil conversation")
	}
}

func TestConversationRepo_FailedWriteKeepsPreviousFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	repo := NewConversationRepo(dir, nil)
	c := sampleConversation("keep")
	if err := repo.Save(ctx, c); err != nil {
		t.Fatalf("save: %v", err)
	}

	// A directory squatting on the temp path makes the write fail.
	if err := os.Mkdir(filepath.Join(dir, "chats", "keep.json.tmp"), 0o755); err != nil {
		t.Fatal(err)
	}
	changed := *c
	changed.Messages = changed.Messages[:1]
	if err := repo.Save(ctx, &changed); err == nil {
		t.Fatal("expected write error")
	}

	got, err := repo.FindByID(ctx, "keep")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got.Messages) != 3 {
		t.Fatalf("previous record should be intact, got %d messages", len(got.Messages))
	}
}
