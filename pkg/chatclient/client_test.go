package chatclient

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/chatline/internal/apperr"
)

// fakeSender records sends in arrival order and can fail specific messages.
type fakeSender struct {
	sent    []string
	nextID  int
	failAll error
	failOne map[string]error
}

func newFakeSender() *fakeSender {
	return &fakeSender{failOne: make(map[string]error)}
}

func (f *fakeSender) send(text string) (Message, error) {
	if f.failAll != nil {
		return Message{}, f.failAll
	}
	if err, ok := f.failOne[text]; ok {
		delete(f.failOne, text)
		return Message{}, err
	}
	f.nextID++
	f.sent = append(f.sent, text)
	return Message{ID: fmt.Sprintf("m%d", 99+f.nextID), Text: text, Status: "sent"}, nil
}

func (f *fakeSender) SendDirect(_ context.Context, _, text, _ string) (Message, error) {
	return f.send(text)
}

func (f *fakeSender) SendGroup(_ context.Context, _, text, _ string, _ *string) (Message, error) {
	return f.send(text)
}

func newTestClient(t *testing.T) (*Client, *fakeSender) {
	t.Helper()
	sender := newFakeSender()
	c, err := New(sender, NewMemoryStore())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, sender
}

func TestOfflineSendQueuesPending(t *testing.T) {
	c, sender := newTestClient(t)

	m, err := c.Send(context.Background(), KindDirect, "bob", "hi", "", nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if m.Status != string(StatusPending) {
		t.Fatalf("status = %q, want pending", m.Status)
	}
	if m.TempID == "" || m.ID != "" {
		t.Fatalf("optimistic record = %+v, want tempId only", m)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("offline send hit the network: %v", sender.sent)
	}
}

func TestReconnectReplaysInEnqueueOrder(t *testing.T) {
	c, sender := newTestClient(t)

	var temps []string
	for _, text := range []string{"m1", "m2", "m3"} {
		m, err := c.Send(context.Background(), KindDirect, "bob", text, "", nil)
		if err != nil {
			t.Fatalf("Send(%s): %v", text, err)
		}
		temps = append(temps, m.TempID)
	}

	c.SetOnline(true)

	want := []string{"m1", "m2", "m3"}
	if len(sender.sent) != len(want) {
		t.Fatalf("sent %v, want %v", sender.sent, want)
	}
	for i, text := range want {
		if sender.sent[i] != text {
			t.Fatalf("sent[%d] = %q, want %q", i, sender.sent[i], text)
		}
	}

	for i, tempID := range temps {
		m, ok := c.View().Get(tempID)
		if !ok {
			t.Fatalf("record %s gone from view", tempID)
		}
		if m.ID == "" || m.TempID != tempID {
			t.Fatalf("record %d = %+v, want confirmed with original tempId", i, m)
		}
		if m.Status != "sent" {
			t.Fatalf("record %d status = %q, want sent", i, m.Status)
		}
	}

	items := c.View().Conversation(KindDirect, "bob")
	if len(items) != 3 {
		t.Fatalf("conversation has %d records, want 3", len(items))
	}
	left, err := listQueued(c)
	if err != nil {
		t.Fatalf("list queue: %v", err)
	}
	if len(left) != 0 {
		t.Fatalf("queue not empty after drain: %v", left)
	}
}

func TestConfirmPreservesTempID(t *testing.T) {
	c, sender := newTestClient(t)

	m, err := c.Send(context.Background(), KindDirect, "bob", "hi", "", nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	tempID := m.TempID

	c.SetOnline(true)

	got, ok := c.View().Get(tempID)
	if !ok {
		t.Fatal("record gone after confirm")
	}
	if got.ID != "m100" {
		t.Fatalf("server id = %q, want m100", got.ID)
	}
	if got.TempID != tempID {
		t.Fatalf("tempId = %q, want %q preserved", got.TempID, tempID)
	}
	if len(sender.sent) != 1 || sender.sent[0] != "hi" {
		t.Fatalf("sent = %v", sender.sent)
	}
}

func TestOnlineNonConnectivityFailureMarksFailed(t *testing.T) {
	c, sender := newTestClient(t)
	c.SetOnline(true)
	sender.failAll = fmt.Errorf("rejected: %w", apperr.ErrValidation)

	m, err := c.Send(context.Background(), KindDirect, "bob", "hi", "", nil)
	if err == nil {
		t.Fatal("want error for rejected send")
	}
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
	if m.Status != string(StatusFailed) {
		t.Fatalf("status = %q, want failed", m.Status)
	}

	// Failed items do not auto-retry on reconnect.
	sender.failAll = nil
	c.SetOnline(false)
	c.SetOnline(true)
	if len(sender.sent) != 0 {
		t.Fatalf("failed item replayed automatically: %v", sender.sent)
	}

	// Manual retry reuses the same tempId.
	got, err := c.Retry(context.Background(), m.TempID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if got.TempID != m.TempID || got.ID == "" {
		t.Fatalf("retried record = %+v", got)
	}
}

func TestConnectivityLossMidDrainStopsAndKeepsPending(t *testing.T) {
	c, sender := newTestClient(t)

	for _, text := range []string{"m1", "m2", "m3"} {
		if _, err := c.Send(context.Background(), KindDirect, "bob", text, "", nil); err != nil {
			t.Fatalf("Send(%s): %v", text, err)
		}
	}
	sender.failOne["m2"] = fmt.Errorf("send: %w", apperr.ErrOffline)

	c.SetOnline(true)

	if len(sender.sent) != 1 || sender.sent[0] != "m1" {
		t.Fatalf("sent = %v, want just m1", sender.sent)
	}
	if c.Online() {
		t.Fatal("client still online after connectivity loss")
	}

	left, err := listQueued(c)
	if err != nil {
		t.Fatalf("list queue: %v", err)
	}
	if len(left) != 2 {
		t.Fatalf("queue has %d items, want 2", len(left))
	}
	for _, item := range left {
		if item.Status != StatusPending {
			t.Fatalf("item %s status = %q, want pending", item.TempID, item.Status)
		}
	}

	// Second reconnect finishes the job.
	c.SetOnline(true)
	want := []string{"m1", "m2", "m3"}
	for i, text := range want {
		if sender.sent[i] != text {
			t.Fatalf("sent = %v, want %v", sender.sent, want)
		}
	}
}

func TestFileStoreSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.json")

	store, err := OpenFileStore(path)
	if err != nil {
		t.Fatalf("OpenFileStore: %v", err)
	}
	c1, err := New(newFakeSender(), store)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m, err := c1.Send(context.Background(), KindGroup, "g1", "queued offline", "", nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	// Restart: reopen the file and build a fresh client.
	store2, err := OpenFileStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	sender := newFakeSender()
	c2, err := New(sender, store2)
	if err != nil {
		t.Fatalf("New after restart: %v", err)
	}

	got, ok := c2.View().Get(m.TempID)
	if !ok {
		t.Fatal("queued record lost across restart")
	}
	if got.Text != "queued offline" || got.Status != string(StatusPending) {
		t.Fatalf("restored record = %+v", got)
	}

	c2.SetOnline(true)
	if len(sender.sent) != 1 {
		t.Fatalf("restored item not replayed: %v", sender.sent)
	}
	confirmed, _ := c2.View().Get(m.TempID)
	if confirmed.ID == "" || confirmed.TempID != m.TempID {
		t.Fatalf("confirmed record = %+v", confirmed)
	}
}

func TestDiscardRemovesEverywhere(t *testing.T) {
	c, _ := newTestClient(t)

	m, err := c.Send(context.Background(), KindDirect, "bob", "oops", "", nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := c.Discard(m.TempID); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	if _, ok := c.View().Get(m.TempID); ok {
		t.Fatal("record still in view after discard")
	}
	left, err := listQueued(c)
	if err != nil {
		t.Fatalf("list queue: %v", err)
	}
	if len(left) != 0 {
		t.Fatalf("queue not empty after discard: %v", left)
	}
}

func listQueued(c *Client) ([]OutboxItem, error) {
	return c.store.List()
}
