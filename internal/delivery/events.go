package delivery

import "time"

// Outbound event names. These are part of the wire contract with existing
// clients and must not be renamed.
const (
	EventNewMessage            = "newMessage"
	EventNewGroupMessage       = "new_group_message"
	EventMessageDelivered      = "message_delivered"
	EventGroupMessageDelivered = "group_message_delivered"
	EventMessagesSeen          = "messages_seen"
	EventGroupMessagesSeen     = "group_messages_seen"
	EventNewGroupCreated       = "new_group_created"
	EventGroupUpdated          = "group_updated"
	EventParticipantsAdded     = "participants_added"
	EventParticipantRemoved    = "participant_removed"
	EventParticipantLeft       = "participant_left"
	EventRemovedFromGroup      = "removed_from_group"
	EventNewAdminAdded         = "new_admin_added"
	EventGroupMessageDeleted   = "group_message_deleted"
)

// DeliveredEvent confirms delivery to the sender. For a 1:1 message
// DeliveredTo holds one id; for a group send it is the batch of recipients
// that were live, and backfill later emits one-element batches per
// reconnecting user.
type DeliveredEvent struct {
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId,omitempty"`
	DeliveredTo    []string  `json:"deliveredTo"`
	DeliveredAt    time.Time `json:"deliveredAt"`
}

// SeenEvent notifies the author(s) that a batch of messages was seen.
type SeenEvent struct {
	MessageIDs     []string  `json:"messageIds"`
	ConversationID string    `json:"conversationId,omitempty"`
	SeenBy         string    `json:"seenBy"`
	SeenAt         time.Time `json:"seenAt"`
}

// MemberEvent accompanies group membership changes.
type MemberEvent struct {
	ConversationID string   `json:"conversationId"`
	UserIDs        []string `json:"userIds,omitempty"`
	UserID         string   `json:"userId,omitempty"`
	By             string   `json:"by"`
}

// MessageDeletedEvent announces a delete-for-everyone.
type MessageDeletedEvent struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	By             string `json:"by"`
}
