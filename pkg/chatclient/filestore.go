package chatclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileStore is a durable OutboxStore backed by a single JSON file, so queued
// messages survive a process restart. Every mutation rewrites the file; the
// queue is small (unsent messages of one user), so this stays cheap.
type FileStore struct {
	mu    sync.Mutex
	path  string
	items []OutboxItem
}

// OpenFileStore loads the queue from path, creating parent directories as
// needed. A missing file is an empty queue.
func OpenFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("chatclient: create outbox dir: %w", err)
	}
	s := &FileStore{path: path}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("chatclient: read outbox: %w", err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &s.items); err != nil {
			return nil, fmt.Errorf("chatclient: parse outbox: %w", err)
		}
	}
	return s, nil
}

// flush writes via a temp file and rename so a crash never leaves a
// half-written queue. Caller holds the lock.
func (s *FileStore) flush() error {
	data, err := json.MarshalIndent(s.items, "", "  ")
	if err != nil {
		return fmt.Errorf("chatclient: encode outbox: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("chatclient: write outbox: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("chatclient: replace outbox: %w", err)
	}
	return nil
}

func (s *FileStore) Enqueue(item OutboxItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].TempID == item.TempID {
			s.items[i] = item
			return s.flush()
		}
	}
	s.items = append(s.items, item)
	return s.flush()
}

func (s *FileStore) Update(item OutboxItem) error {
	return s.Enqueue(item)
}

func (s *FileStore) Dequeue(tempID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].TempID == tempID {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return s.flush()
		}
	}
	return nil
}

func (s *FileStore) Get(tempID string) (OutboxItem, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.items {
		if item.TempID == tempID {
			return item, true, nil
		}
	}
	return OutboxItem{}, false, nil
}

func (s *FileStore) List() ([]OutboxItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]OutboxItem, len(s.items))
	copy(out, s.items)
	return out, nil
}
