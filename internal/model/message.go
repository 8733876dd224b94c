package model

import "time"

// Message is a 1:1 direct message. Delivered and SeenBy are flat user-id
// sets; Status is the cached watermark over them.
type Message struct {
	ID         string        `json:"_id"`
	SenderID   string        `json:"senderId"`
	ReceiverID string        `json:"receiverId"`
	Text       string        `json:"text,omitempty"`
	Image      string        `json:"image,omitempty"`
	Delivered  []string      `json:"isDeliveredTo"`
	Seen       []string      `json:"isSeenBy"`
	Status     MessageStatus `json:"status"`
	CreatedAt  time.Time     `json:"createdAt"`
	Sender     *UserPublic   `json:"sender,omitempty"`
}

func (m *Message) DeliveredTo() []string { return m.Delivered }
func (m *Message) SeenBy() []string      { return m.Seen }

// DeliveredToUser reports whether the message's delivery set contains userID.
func (m *Message) DeliveredToUser(userID string) bool {
	for _, id := range m.Delivered {
		if id == userID {
			return true
		}
	}
	return false
}

func (m *Message) SeenByUser(userID string) bool {
	for _, id := range m.Seen {
		if id == userID {
			return true
		}
	}
	return false
}

// GroupMessage carries per-user timestamped receipt logs instead of flat
// sets, plus soft per-user deletion and reply threading.
type GroupMessage struct {
	ID             string         `json:"_id"`
	ConversationID string         `json:"conversationId"`
	SenderID       string         `json:"senderId"`
	Text           string         `json:"text,omitempty"`
	Image          string         `json:"image,omitempty"`
	Delivered      []ReceiptEntry `json:"isDeliveredTo"`
	Seen           []ReceiptEntry `json:"isSeenBy"`
	Status         MessageStatus  `json:"status"`
	DeletedFor     []string       `json:"deletedFor,omitempty"`
	ReplyToID      *string        `json:"replyTo,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	Sender         *UserPublic    `json:"sender,omitempty"`
	ReplyTo        *GroupMessage  `json:"replyToMessage,omitempty"`
}

func (m *GroupMessage) DeliveredTo() []string { return receiptUserIDs(m.Delivered) }
func (m *GroupMessage) SeenBy() []string      { return receiptUserIDs(m.Seen) }

func (m *GroupMessage) DeliveredToUser(userID string) bool {
	return receiptHasUser(m.Delivered, userID)
}

func (m *GroupMessage) SeenByUser(userID string) bool {
	return receiptHasUser(m.Seen, userID)
}

func (m *GroupMessage) DeletedForUser(userID string) bool {
	for _, id := range m.DeletedFor {
		if id == userID {
			return true
		}
	}
	return false
}

func receiptUserIDs(entries []ReceiptEntry) []string {
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.UserID)
	}
	return ids
}

func receiptHasUser(entries []ReceiptEntry, userID string) bool {
	for _, e := range entries {
		if e.UserID == userID {
			return true
		}
	}
	return false
}

// MessagePage is one page of backward (cursor) pagination, already reversed
// to chronological order. NextCursor is the id of the oldest item in the
// page, empty when the history is exhausted.
type MessagePage[T any] struct {
	Messages   []T    `json:"messages"`
	NextCursor string `json:"nextCursor,omitempty"`
	HasMore    bool   `json:"hasMore"`
}
