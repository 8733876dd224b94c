package model

import "time"

const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// GroupConversation is a persisted group chat. A 1:1 conversation is not a
// persisted entity; its identity is computed by the conv package.
type GroupConversation struct {
	ID                string       `json:"_id"`
	Name              string       `json:"name"`
	Description       string       `json:"description"`
	AvatarURL         string       `json:"avatar"`
	ParticipantIDs    []string     `json:"participantIds"`
	AdminIDs          []string     `json:"adminIds"`
	CreatedBy         string       `json:"createdBy"`
	LastMessageText   string       `json:"lastMessageText"`
	LastMessageSender string       `json:"lastMessageSender,omitempty"`
	LastMessageAt     time.Time    `json:"lastMessageAt"`
	CreatedAt         time.Time    `json:"createdAt"`
	UpdatedAt         time.Time    `json:"updatedAt"`
	Participants      []UserPublic `json:"participants,omitempty"`
	UnreadCount       int          `json:"unreadCount,omitempty"`
}

func (c *GroupConversation) IsParticipant(userID string) bool {
	for _, id := range c.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func (c *GroupConversation) IsAdmin(userID string) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// RecipientIDs returns all participants except the sender.
func (c *GroupConversation) RecipientIDs(senderID string) []string {
	out := make([]string, 0, len(c.ParticipantIDs))
	for _, id := range c.ParticipantIDs {
		if id != senderID {
			out = append(out, id)
		}
	}
	return out
}
