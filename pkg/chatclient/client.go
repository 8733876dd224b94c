package chatclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chatline/internal/apperr"
)

// Sender performs the actual network send. HTTPSender is the production
// implementation; tests substitute their own.
type Sender interface {
	SendDirect(ctx context.Context, peerID, text, image string) (Message, error)
	SendGroup(ctx context.Context, groupID, text, image string, replyTo *string) (Message, error)
}

// Client ties the outbox, the reconciler, and a Sender together. Send works
// whatever the connectivity state: online it sends immediately, offline it
// queues; SetOnline(true) drains the queue in enqueue order.
type Client struct {
	mu     sync.Mutex
	online bool

	store  OutboxStore
	view   *Reconciler
	sender Sender
	now    func() time.Time
}

// New restores any queued items from the store into the view, so a restarted
// client shows its unsent messages again.
func New(sender Sender, store OutboxStore) (*Client, error) {
	c := &Client{
		store:  store,
		view:   NewReconciler(),
		sender: sender,
		now:    time.Now,
	}
	items, err := store.List()
	if err != nil {
		return nil, fmt.Errorf("chatclient: restore outbox: %w", err)
	}
	for _, item := range items {
		// A Sending item means the process died mid-replay; its fate is
		// unknown, so it goes back to Pending and replays.
		if item.Status == StatusSending {
			item.Status = StatusPending
			if err := c.store.Update(item); err != nil {
				return nil, err
			}
		}
		c.view.ApplyOptimistic(item)
	}
	return c, nil
}

// View exposes the reconciler for conversation rendering.
func (c *Client) View() *Reconciler { return c.view }

// Online reports the current connectivity assumption.
func (c *Client) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// Send attempts to deliver a message, falling back to the outbox on
// connectivity loss. The returned Message is the confirmed record when the
// send succeeded and the optimistic record otherwise; err is non-nil only
// for non-connectivity failures.
func (c *Client) Send(ctx context.Context, kind Kind, target, text, image string, replyTo *string) (Message, error) {
	item := OutboxItem{
		TempID:     NewTempID(),
		Kind:       kind,
		Target:     target,
		Text:       text,
		Image:      image,
		ReplyTo:    replyTo,
		Status:     StatusPending,
		EnqueuedAt: c.now(),
	}

	if !c.Online() {
		if err := c.store.Enqueue(item); err != nil {
			return Message{}, err
		}
		return c.view.ApplyOptimistic(item), nil
	}

	optimistic := c.view.ApplyOptimistic(item)
	confirmed, err := c.dispatch(ctx, item)
	if err == nil {
		return c.view.Confirm(item.TempID, confirmed), nil
	}
	if apperr.IsConnectivity(err) {
		c.SetOnline(false)
		item.Status = StatusPending
		c.view.MarkPending(item.TempID)
		if qerr := c.store.Enqueue(item); qerr != nil {
			return Message{}, qerr
		}
		return optimistic, nil
	}
	item.Status = StatusFailed
	c.view.MarkFailed(item.TempID)
	if qerr := c.store.Enqueue(item); qerr != nil {
		return Message{}, qerr
	}
	return c.viewOrZero(item.TempID), err
}

// Retry re-attempts a failed item with its original tempId.
func (c *Client) Retry(ctx context.Context, tempID string) (Message, error) {
	item, ok, err := c.store.Get(tempID)
	if err != nil {
		return Message{}, err
	}
	if !ok {
		return Message{}, fmt.Errorf("chatclient: retry %s: %w", tempID, apperr.ErrNotFound)
	}
	return c.replay(ctx, item)
}

// SetOnline records the connectivity transition; going online drains the
// queue before returning.
func (c *Client) SetOnline(online bool) {
	c.mu.Lock()
	was := c.online
	c.online = online
	c.mu.Unlock()
	if online && !was {
		c.drain(context.Background())
	}
}

// drain replays pending items strictly in enqueue order. A non-connectivity
// failure marks that item Failed and moves on; a connectivity failure puts
// the item back to Pending and stops, since nothing later can succeed either.
func (c *Client) drain(ctx context.Context) {
	items, err := c.store.List()
	if err != nil {
		return
	}
	for _, item := range items {
		if item.Status != StatusPending {
			continue
		}
		if _, err := c.replay(ctx, item); err != nil && apperr.IsConnectivity(err) {
			return
		}
	}
}

func (c *Client) replay(ctx context.Context, item OutboxItem) (Message, error) {
	item.Status = StatusSending
	c.view.MarkSending(item.TempID)
	if err := c.store.Update(item); err != nil {
		return Message{}, err
	}

	confirmed, err := c.dispatch(ctx, item)
	if err == nil {
		m := c.view.Confirm(item.TempID, confirmed)
		return m, c.store.Dequeue(item.TempID)
	}
	if apperr.IsConnectivity(err) {
		c.SetOnline(false)
		item.Status = StatusPending
		c.view.MarkPending(item.TempID)
		_ = c.store.Update(item)
		return c.viewOrZero(item.TempID), err
	}
	item.Status = StatusFailed
	c.view.MarkFailed(item.TempID)
	_ = c.store.Update(item)
	return c.viewOrZero(item.TempID), err
}

func (c *Client) dispatch(ctx context.Context, item OutboxItem) (Message, error) {
	switch item.Kind {
	case KindGroup:
		return c.sender.SendGroup(ctx, item.Target, item.Text, item.Image, item.ReplyTo)
	default:
		return c.sender.SendDirect(ctx, item.Target, item.Text, item.Image)
	}
}

func (c *Client) viewOrZero(tempID string) Message {
	m, _ := c.view.Get(tempID)
	return m
}

// Discard drops a failed item from both the queue and the view.
func (c *Client) Discard(tempID string) error {
	c.view.Rollback(tempID)
	return c.store.Dequeue(tempID)
}
