// File: internal/infra/db/jsonfs/conversation_repo.go
package jsonfs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"chat-proxy/internal/domain"
	"chat-proxy/internal/domain/model"
	"chat-proxy/internal/domain/ports/repository"
	"chat-proxy/internal/infra/metrics"
)

var _ repository.ConversationRepository = (*ConversationRepo)(nil)

// ConversationRepo stores one JSON file per conversation.
//
// Layout:
//
//	<dataDir>/chats/<chatId>.json
//
// Save writes to <chatId>.json.tmp and renames it into place, so a failed
// write leaves the previous record intact.
type ConversationRepo struct {
	dir string
	log *zerolog.Logger
}

// NewConversationRepo returns a store rooted at dataDir. Nothing is created on
// disk until the first Save. logger may be nil.
func NewConversationRepo(dataDir string, logger *zerolog.Logger) *ConversationRepo {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &ConversationRepo{dir: filepath.Join(dataDir, "chats"), log: logger}
}

func (r *ConversationRepo) FindByID(ctx context.Context, id string) (*model.Conversation, error) {
	start := time.Now()
	if !validID(id) {
		metrics.ObserveStoreOp("load", "not_found", time.Since(start))
		return nil, domain.ErrNotFound
	}
	path := r.path(id)
	r.log.Debug().Str("chat_id", id).Str("path", path).Msg("reading conversation")

	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			metrics.ObserveStoreOp("load", "not_found", time.Since(start))
			return nil, domain.ErrNotFound
		}
		metrics.ObserveStoreOp("load", "error", time.Since(start))
		return nil, fmt.Errorf("conversation store: read %s: %w", path, err)
	}
	var c model.Conversation
	if err := json.Unmarshal(b, &c); err != nil {
		metrics.ObserveStoreOp("load", "error", time.Since(start))
		return nil, fmt.Errorf("conversation store: decode %s: %w", path, err)
	}
	r.log.Trace().Str("chat_id", id).Int("bytes", len(b)).Msg("conversation read")
	metrics.ObserveStoreOp("load", "ok", time.Since(start))
	return &c, nil
}

func (r *ConversationRepo) Save(ctx context.Context, c *model.Conversation) error {
	start := time.Now()
	if c == nil || !validID(c.ID) {
		metrics.ObserveStoreOp("save", "error", time.Since(start))
		return fmt.Errorf("conversation store: invalid chat id %q", idOf(c))
	}
	b, err := json.Marshal(c)
	if err != nil {
		metrics.ObserveStoreOp("save", "error", time.Since(start))
		return fmt.Errorf("conversation store: encode %s: %w", c.ID, err)
	}
	path := r.path(c.ID)
	r.log.Debug().Str("chat_id", c.ID).Str("path", path).Msg("storing conversation")
	if err := writeFileAtomic(path, b, 0o644); err != nil {
		metrics.ObserveStoreOp("save", "error", time.Since(start))
		return err
	}
	metrics.ObserveStoreOp("save", "ok", time.Since(start))
	return nil
}

func (r *ConversationRepo) path(id string) string {
	return filepath.Join(r.dir, id+".json")
}

// validID rejects ids that could escape the chats directory.
func validID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, `/\`) && !strings.Contains(id, "..") && !strings.ContainsRune(id, 0)
}

func idOf(c *model.Conversation) string {
	if c == nil {
		return ""
	}
	return c.ID
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("conversation store: ensure dir for %s: %w", path, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("conversation store: write temp file %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("conversation store: rename temp file to %s: %w", path, err)
	}
	return nil
}
