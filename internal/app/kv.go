package app

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Collection names. Each collection round-trips as one JSON file.
const (
	collectionChats        = "chats"
	collectionConversation = "conversation"
	collectionUsage        = "usage"
)

// FileStore is a key-value persistence adapter with whole-collection
// granularity: one JSON file per collection under Root.
//
// Writes are write-behind. Put snapshots the value immediately and a
// background writer flushes the latest snapshot per collection to disk.
// Write failures are logged and otherwise ignored; the in-memory state
// upstream is authoritative and this is only a local cache, so state
// transitions never block on (or roll back for) persistence.
type FileStore struct {
	Root   string
	logger *Logger

	mu      sync.Mutex
	pending map[string][]byte
	kick    chan struct{}
	done    chan struct{}
	stopped chan struct{}
}

func DefaultStorageRoot() string {
	// Prefer XDG data dir (Linux/macOS). If unavailable, fall back to ~/.local/share.
	if base := strings.TrimSpace(os.Getenv("XDG_DATA_HOME")); base != "" {
		return filepath.Join(base, "chatwin", "storage")
	}
	if base, err := os.UserHomeDir(); err == nil && base != "" {
		return filepath.Join(base, ".local", "share", "chatwin", "storage")
	}
	return filepath.Join(os.TempDir(), "chatwin", "storage")
}

func NewFileStore(root string, logger *Logger) *FileStore {
	if strings.TrimSpace(root) == "" {
		root = DefaultStorageRoot()
	}
	s := &FileStore{
		Root:    root,
		logger:  logger,
		pending: make(map[string][]byte),
		kick:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go s.writeLoop()
	return s
}

func (s *FileStore) path(collection string) string {
	return filepath.Join(s.Root, collection+".json")
}

// Load reads a collection synchronously. The second return is false when
// the collection does not exist yet.
func (s *FileStore) Load(collection string, v interface{}) (bool, error) {
	b, err := os.ReadFile(s.path(collection))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, err
	}
	return true, nil
}

// Put schedules the latest snapshot of a collection for writing and
// returns immediately.
func (s *FileStore) Put(collection string, v interface{}) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		s.logger.Error("marshal collection failed", map[string]interface{}{
			"collection": collection, "error": err.Error(),
		})
		return
	}
	s.mu.Lock()
	s.pending[collection] = b
	s.mu.Unlock()
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Remove schedules deletion of a collection's file.
func (s *FileStore) Remove(collection string) {
	s.mu.Lock()
	s.pending[collection] = nil
	s.mu.Unlock()
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Close flushes outstanding writes and stops the writer.
func (s *FileStore) Close() {
	close(s.done)
	<-s.stopped
}

func (s *FileStore) writeLoop() {
	defer close(s.stopped)
	for {
		select {
		case <-s.kick:
			s.flush()
		case <-s.done:
			s.flush()
			return
		}
	}
}

func (s *FileStore) flush() {
	s.mu.Lock()
	batch := s.pending
	s.pending = make(map[string][]byte)
	s.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	if err := os.MkdirAll(s.Root, 0o755); err != nil {
		s.logger.Error("create storage root failed", map[string]interface{}{
			"root": s.Root, "error": err.Error(),
		})
		return
	}
	for collection, b := range batch {
		if b == nil {
			if err := os.Remove(s.path(collection)); err != nil && !errors.Is(err, os.ErrNotExist) {
				s.logger.Error("remove collection failed", map[string]interface{}{
					"collection": collection, "error": err.Error(),
				})
			}
			continue
		}
		if err := os.WriteFile(s.path(collection), b, 0o644); err != nil {
			s.logger.Error("write collection failed", map[string]interface{}{
				"collection": collection, "error": err.Error(),
			})
		}
	}
}
