package ws

type EventType string

// Inbound events. Everything else a client can do goes over HTTP; the socket
// carries only the low-latency signals.
const (
	EventTyping          EventType = "typing"
	EventStopTyping      EventType = "stop_typing"
	EventMarkAsSeen      EventType = "mark_as_seen"
	EventMarkGroupAsSeen EventType = "mark_group_as_seen"
)

// Outbound events owned by the hub itself. The delivery package owns the
// message and receipt event names.
const (
	EventOnlineUsers EventType = "getOnlineUsers"
	EventUserTyping  EventType = "user_typing"
	EventError       EventType = "error"
)

// IncomingMessage is the closed set of client-to-server socket events. The
// payload shape is validated per event type before dispatch.
type IncomingMessage struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversationId,omitempty"`
	GroupID        string    `json:"groupId,omitempty"`
	UserID         string    `json:"userId,omitempty"`
	IsGroup        bool      `json:"isGroup,omitempty"`
}

// OutgoingMessage wraps every server-to-client event.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// TypingEvent is broadcast to the other conversation participants while a
// user types, and again with IsTyping=false on stop or expiry.
type TypingEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
	IsGroup        bool   `json:"isGroup"`
}

// ErrorEvent reports a rejected inbound event.
type ErrorEvent struct {
	Event  EventType `json:"event"`
	Reason string    `json:"reason"`
}
