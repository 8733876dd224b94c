package chatclient

import (
	"sync"
	"time"
)

// Message is the client's view of a message. Before server confirmation only
// TempID and Status are meaningful; after confirmation ID carries the
// server-assigned id while TempID stays attached so UI components keyed on
// it do not remount.
type Message struct {
	ID        string    `json:"_id,omitempty"`
	TempID    string    `json:"tempId,omitempty"`
	Kind      Kind      `json:"kind"`
	Target    string    `json:"target"`
	Text      string    `json:"text,omitempty"`
	Image     string    `json:"image,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// Reconciler owns the optimistic conversation state. All mutation goes
// through ApplyOptimistic, Confirm, MarkFailed, and Rollback; there is no
// other way to touch a record.
type Reconciler struct {
	mu      sync.Mutex
	byTemp  map[string]*Message
	ordered []string
}

func NewReconciler() *Reconciler {
	return &Reconciler{byTemp: make(map[string]*Message)}
}

// ApplyOptimistic materializes the local record for a queued item so the
// conversation view shows it without waiting for the network.
func (r *Reconciler) ApplyOptimistic(item OutboxItem) Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.byTemp[item.TempID]; ok {
		m.Status = string(item.Status)
		return *m
	}
	m := &Message{
		TempID:    item.TempID,
		Kind:      item.Kind,
		Target:    item.Target,
		Text:      item.Text,
		Image:     item.Image,
		Status:    string(item.Status),
		CreatedAt: item.EnqueuedAt,
	}
	r.byTemp[item.TempID] = m
	r.ordered = append(r.ordered, item.TempID)
	return *m
}

// Confirm replaces the optimistic record with the server-confirmed one,
// keyed by tempID, preserving TempID on the result.
func (r *Reconciler) Confirm(tempID string, confirmed Message) Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	confirmed.TempID = tempID
	if m, ok := r.byTemp[tempID]; ok {
		if confirmed.Kind == "" {
			confirmed.Kind = m.Kind
		}
		if confirmed.Target == "" {
			confirmed.Target = m.Target
		}
		*m = confirmed
		return *m
	}
	m := confirmed
	r.byTemp[tempID] = &m
	r.ordered = append(r.ordered, tempID)
	return m
}

// MarkFailed flips the record to the failed state, keeping it visible for a
// manual retry.
func (r *Reconciler) MarkFailed(tempID string) {
	r.setStatus(tempID, StatusFailed)
}

// MarkSending flags the record while its replay is in flight.
func (r *Reconciler) MarkSending(tempID string) {
	r.setStatus(tempID, StatusSending)
}

// MarkPending returns the record to the replay queue state.
func (r *Reconciler) MarkPending(tempID string) {
	r.setStatus(tempID, StatusPending)
}

func (r *Reconciler) setStatus(tempID string, st Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.byTemp[tempID]; ok {
		m.Status = string(st)
	}
}

// Rollback removes an optimistic record entirely (user discarded a failed
// send).
func (r *Reconciler) Rollback(tempID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byTemp[tempID]; !ok {
		return
	}
	delete(r.byTemp, tempID)
	for i, id := range r.ordered {
		if id == tempID {
			r.ordered = append(r.ordered[:i], r.ordered[i+1:]...)
			break
		}
	}
}

// Get returns the record for tempID.
func (r *Reconciler) Get(tempID string) (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byTemp[tempID]
	if !ok {
		return Message{}, false
	}
	return *m, true
}

// Conversation returns this client's records for one target in apply order.
func (r *Reconciler) Conversation(kind Kind, target string) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Message
	for _, id := range r.ordered {
		m := r.byTemp[id]
		if m.Kind == kind && m.Target == target {
			out = append(out, *m)
		}
	}
	return out
}
