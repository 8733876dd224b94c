package ws

import (
	"context"
	"sync"
	"time"

	"github.com/chatline/internal/conv"
	"github.com/chatline/internal/delivery"
	"github.com/chatline/internal/logger"
	"github.com/chatline/internal/presence"
	"github.com/chatline/internal/typing"
)

// Hub owns the live connections. Connections are keyed by an opaque
// connection id; the presence registry maps users to their single active
// connection, so Emit is a two-step lookup. The hub implements
// delivery.Notifier.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*Client // connID -> client
	maxConns int

	presence *presence.Registry
	typing   *typing.Coordinator
	convs    delivery.ConversationStore

	// pipeline is set after construction; the pipeline needs the hub as its
	// Notifier first.
	pipeline *delivery.Pipeline

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(registry *presence.Registry, convs delivery.ConversationStore, maxConns int) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	h := &Hub{
		clients:    make(map[string]*Client),
		maxConns:   maxConns,
		presence:   registry,
		convs:      convs,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
	h.typing = typing.NewCoordinator(h.broadcastTyping)
	return h
}

// SetPipeline wires the delivery pipeline in after both sides exist.
func (h *Hub) SetPipeline(p *delivery.Pipeline) { h.pipeline = p }

// Typing exposes the coordinator for tests and diagnostics.
func (h *Hub) Typing() *typing.Coordinator { return h.typing }

func (h *Hub) Register(c *Client)   { h.register <- c }
func (h *Hub) Unregister(c *Client) { h.unregister <- c }

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	all := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		all = append(all, c)
	}
	h.clients = make(map[string]*Client)
	h.mu.Unlock()

	// Close connections outside the lock (network I/O).
	for _, c := range all {
		c.Close()
	}
	for _, c := range all {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if len(h.clients) >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		c.Close()
		return
	}
	h.clients[c.connID] = c
	h.mu.Unlock()

	prev, replaced := h.presence.Register(c.userID, c.connID)
	if replaced {
		h.mu.Lock()
		stale := h.clients[prev]
		delete(h.clients, prev)
		h.mu.Unlock()
		if stale != nil {
			stale.Close()
		}
	}

	h.broadcastOnlineUsers()

	// Reconcile messages that arrived while the user was offline. Runs
	// concurrently so a large backlog does not stall the register loop.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := h.pipeline.Backfill(ctx, c.userID); err != nil {
			logger.Errorf("ws backfill user=%s: %v", c.userID, err)
		}
	}()
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	cur, ok := h.clients[c.connID]
	if !ok || cur != c {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.connID)
	h.mu.Unlock()

	c.Close()

	wentOffline := h.presence.Unregister(c.userID, c.connID)
	h.typing.ClearUser(c.userID)
	if wentOffline {
		h.broadcastOnlineUsers()
	}
}

// Emit sends one event to a user's live connection. The boolean is the
// delivered/offline signal the pipeline builds receipts from.
func (h *Hub) Emit(userID, event string, payload any) bool {
	connID, ok := h.presence.Lookup(userID)
	if !ok {
		return false
	}
	h.mu.RLock()
	c := h.clients[connID]
	h.mu.RUnlock()
	if c == nil {
		return false
	}
	return h.send(c, OutgoingMessage{Type: EventType(event), Payload: payload})
}

// send is a non-blocking enqueue; a client whose buffer is full is dropped
// rather than allowed to stall the hub.
func (h *Hub) send(c *Client, msg OutgoingMessage) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		logger.Errorf("ws send buffer full user=%s, dropping connection", c.userID)
		go h.Unregister(c)
		return false
	}
}

// broadcastOnlineUsers pushes the full online-user snapshot to everyone.
func (h *Hub) broadcastOnlineUsers() {
	snapshot := h.presence.Snapshot()
	msg := OutgoingMessage{Type: EventOnlineUsers, Payload: snapshot}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		h.send(c, msg)
	}
}

// broadcastTyping is the typing coordinator's notify hook. For a 1:1
// conversation the id encodes both participants; for a group the member list
// comes from storage.
func (h *Hub) broadcastTyping(conversationID, userID string, isTyping, isGroup bool) {
	ev := TypingEvent{
		ConversationID: conversationID,
		UserID:         userID,
		IsTyping:       isTyping,
		IsGroup:        isGroup,
	}
	if !isGroup {
		peer, ok := conv.OtherParticipant(conversationID, userID)
		if !ok {
			logger.Errorf("ws typing bad conversation id %q for user=%s", conversationID, userID)
			return
		}
		h.Emit(peer, string(EventUserTyping), ev)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	group, err := h.convs.GetByID(ctx, conversationID)
	if err != nil {
		logger.Errorf("ws typing lookup group=%s: %v", conversationID, err)
		return
	}
	for _, pid := range group.RecipientIDs(userID) {
		h.Emit(pid, string(EventUserTyping), ev)
	}
}

// HandleMessage dispatches one inbound socket event.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	switch msg.Type {
	case EventTyping:
		h.handleTyping(c, msg, true)
	case EventStopTyping:
		h.handleTyping(c, msg, false)
	case EventMarkAsSeen:
		h.handleMarkAsSeen(ctx, c, msg)
	case EventMarkGroupAsSeen:
		h.handleMarkGroupAsSeen(ctx, c, msg)
	default:
		h.send(c, OutgoingMessage{Type: EventError, Payload: ErrorEvent{Event: msg.Type, Reason: "unknown event"}})
	}
}

func (h *Hub) handleTyping(c *Client, msg IncomingMessage, start bool) {
	if msg.ConversationID == "" {
		h.send(c, OutgoingMessage{Type: EventError, Payload: ErrorEvent{Event: msg.Type, Reason: "conversationId required"}})
		return
	}
	if !msg.IsGroup {
		// the sender must actually be part of the conversation id it claims
		if _, ok := conv.OtherParticipant(msg.ConversationID, c.userID); !ok {
			h.send(c, OutgoingMessage{Type: EventError, Payload: ErrorEvent{Event: msg.Type, Reason: "not a participant"}})
			return
		}
	}
	if start {
		h.typing.Start(msg.ConversationID, c.userID, msg.IsGroup)
	} else {
		h.typing.Stop(msg.ConversationID, c.userID)
	}
}

func (h *Hub) handleMarkAsSeen(ctx context.Context, c *Client, msg IncomingMessage) {
	if msg.ConversationID == "" {
		h.send(c, OutgoingMessage{Type: EventError, Payload: ErrorEvent{Event: msg.Type, Reason: "conversationId required"}})
		return
	}
	peer, ok := conv.OtherParticipant(msg.ConversationID, c.userID)
	if !ok {
		h.send(c, OutgoingMessage{Type: EventError, Payload: ErrorEvent{Event: msg.Type, Reason: "not a participant"}})
		return
	}
	if err := h.pipeline.MarkSeen(ctx, c.userID, peer); err != nil {
		logger.Errorf("ws mark seen user=%s peer=%s: %v", c.userID, peer, err)
	}
}

func (h *Hub) handleMarkGroupAsSeen(ctx context.Context, c *Client, msg IncomingMessage) {
	if msg.GroupID == "" {
		h.send(c, OutgoingMessage{Type: EventError, Payload: ErrorEvent{Event: msg.Type, Reason: "groupId required"}})
		return
	}
	if err := h.pipeline.MarkGroupSeen(ctx, c.userID, msg.GroupID); err != nil {
		logger.Errorf("ws mark group seen user=%s group=%s: %v", c.userID, msg.GroupID, err)
	}
}
