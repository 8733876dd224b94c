// Package typing tracks ephemeral typing state per (conversation, user) and
// expires it after a short inactivity window.
package typing

import (
	"sync"
	"time"
)

// DefaultTTL is the inactivity window after which a typing entry self-expires.
const DefaultTTL = 3 * time.Second

// Notify is invoked on every state transition: true on Idle->Typing, false on
// expiry, explicit stop, or disconnect. The coordinator never calls it while
// holding its lock.
type Notify func(conversationID, userID string, isTyping, isGroup bool)

type entry struct {
	timer   *time.Timer
	isGroup bool
}

// Coordinator is one of the two process-local shared mutable structures
// (the other is the presence registry); all map access is mutex-guarded.
type Coordinator struct {
	mu      sync.Mutex
	entries map[string]map[string]*entry // conversationID -> userID -> entry
	notify  Notify
	ttl     time.Duration
}

func NewCoordinator(notify Notify) *Coordinator {
	return NewCoordinatorTTL(notify, DefaultTTL)
}

// NewCoordinatorTTL exists for tests that need a short expiry window.
func NewCoordinatorTTL(notify Notify, ttl time.Duration) *Coordinator {
	return &Coordinator{
		entries: make(map[string]map[string]*entry),
		notify:  notify,
		ttl:     ttl,
	}
}

// Start records that userID is typing in conversationID. The first call
// broadcasts isTyping=true; each subsequent call only re-arms the expiry
// timer (debounced), so a held-down key does not flood the other side.
func (c *Coordinator) Start(conversationID, userID string, isGroup bool) {
	c.mu.Lock()
	byUser, ok := c.entries[conversationID]
	if !ok {
		byUser = make(map[string]*entry)
		c.entries[conversationID] = byUser
	}
	if e, ok := byUser[userID]; ok {
		e.timer.Reset(c.ttl)
		c.mu.Unlock()
		return
	}
	e := &entry{isGroup: isGroup}
	e.timer = time.AfterFunc(c.ttl, func() { c.expire(conversationID, userID) })
	byUser[userID] = e
	c.mu.Unlock()

	c.notify(conversationID, userID, true, isGroup)
}

// Stop clears the typing entry and broadcasts isTyping=false. No-op when the
// entry already expired.
func (c *Coordinator) Stop(conversationID, userID string) {
	if isGroup, ok := c.remove(conversationID, userID); ok {
		c.notify(conversationID, userID, false, isGroup)
	}
}

// ClearUser drops every typing entry owned by userID (connection teardown)
// and broadcasts stop to each affected conversation. Timers are canceled so
// nothing fires after the disconnect.
func (c *Coordinator) ClearUser(userID string) {
	type cleared struct {
		conversationID string
		isGroup        bool
	}
	c.mu.Lock()
	var affected []cleared
	for conversationID, byUser := range c.entries {
		if e, ok := byUser[userID]; ok {
			e.timer.Stop()
			delete(byUser, userID)
			if len(byUser) == 0 {
				delete(c.entries, conversationID)
			}
			affected = append(affected, cleared{conversationID, e.isGroup})
		}
	}
	c.mu.Unlock()

	for _, a := range affected {
		c.notify(a.conversationID, userID, false, a.isGroup)
	}
}

func (c *Coordinator) expire(conversationID, userID string) {
	if isGroup, ok := c.remove(conversationID, userID); ok {
		c.notify(conversationID, userID, false, isGroup)
	}
}

func (c *Coordinator) remove(conversationID, userID string) (isGroup bool, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byUser, found := c.entries[conversationID]
	if !found {
		return false, false
	}
	e, found := byUser[userID]
	if !found {
		return false, false
	}
	e.timer.Stop()
	delete(byUser, userID)
	if len(byUser) == 0 {
		delete(c.entries, conversationID)
	}
	return e.isGroup, true
}
