// Package chatclient is the client-side SDK: an offline outbox with durable
// storage, an optimistic-record reconciler, and a sender that drains the
// queue in order when connectivity returns.
package chatclient

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status of an outbox item. Pending items replay automatically on reconnect;
// Failed items wait for a manual retry.
type Status string

const (
	StatusPending Status = "pending"
	StatusSending Status = "sending"
	StatusFailed  Status = "failed"
)

// Kind selects which of the two independent queues an item belongs to.
type Kind string

const (
	KindDirect Kind = "direct"
	KindGroup  Kind = "group"
)

// OutboxItem is one queued outgoing message. TempID is generated once and
// survives retries; it is the reconciliation key between the optimistic
// local record and the server-confirmed message.
type OutboxItem struct {
	TempID     string    `json:"tempId"`
	Kind       Kind      `json:"kind"`
	Target     string    `json:"target"`
	Text       string    `json:"text,omitempty"`
	Image      string    `json:"image,omitempty"`
	ReplyTo    *string   `json:"replyTo,omitempty"`
	Status     Status    `json:"status"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// NewTempID generates a client-side id. The "tmp-" prefix keeps it disjoint
// from server-assigned ids.
func NewTempID() string {
	return "tmp-" + uuid.NewString()
}

// OutboxStore is the durable queue. List returns items in enqueue order.
type OutboxStore interface {
	Enqueue(item OutboxItem) error
	Update(item OutboxItem) error
	Dequeue(tempID string) error
	Get(tempID string) (OutboxItem, bool, error)
	List() ([]OutboxItem, error)
}

// MemoryStore is an in-process OutboxStore for tests and throwaway sessions.
type MemoryStore struct {
	mu    sync.Mutex
	order []string
	items map[string]OutboxItem
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]OutboxItem)}
}

func (s *MemoryStore) Enqueue(item OutboxItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[item.TempID]; !ok {
		s.order = append(s.order, item.TempID)
	}
	s.items[item.TempID] = item
	return nil
}

func (s *MemoryStore) Update(item OutboxItem) error {
	return s.Enqueue(item)
}

func (s *MemoryStore) Dequeue(tempID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[tempID]; !ok {
		return nil
	}
	delete(s.items, tempID)
	for i, id := range s.order {
		if id == tempID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) Get(tempID string) (OutboxItem, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[tempID]
	return item, ok, nil
}

func (s *MemoryStore) List() ([]OutboxItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]OutboxItem, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.items[id])
	}
	return out, nil
}
