package model

import "time"

// MessageStatus is the watermark summary of a message's receipt state:
// the most-advanced state reached by any recipient (group) or by the single
// recipient (1:1). It never moves backwards.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusSeen      MessageStatus = "seen"
)

var statusRank = map[MessageStatus]int{
	StatusSent:      0,
	StatusDelivered: 1,
	StatusSeen:      2,
}

// AdvanceStatus returns the more advanced of cur and next. Receipt updates may
// arrive out of order (a seen can race a delivered), so writers and readers
// both go through this to keep the displayed status monotonic.
func AdvanceStatus(cur, next MessageStatus) MessageStatus {
	if statusRank[next] > statusRank[cur] {
		return next
	}
	return cur
}

type ReceiptKind string

const (
	ReceiptDelivered ReceiptKind = "delivered"
	ReceiptSeen      ReceiptKind = "seen"
)

// ReceiptEntry is one per-user entry in a group message's receipt log.
type ReceiptEntry struct {
	UserID string    `json:"userId"`
	At     time.Time `json:"at"`
}

// ReceiptLog is the shared watermark query over the two receipt shapes:
// the flat user-id sets of 1:1 messages and the timestamped per-user logs
// of group messages.
type ReceiptLog interface {
	DeliveredTo() []string
	SeenBy() []string
}

// Watermark derives the summary status from a receipt log. Seen by anyone
// implies delivered for display purposes even when the delivered set is
// empty (delivered and seen are independently settable flags).
func Watermark(log ReceiptLog) MessageStatus {
	if len(log.SeenBy()) > 0 {
		return StatusSeen
	}
	if len(log.DeliveredTo()) > 0 {
		return StatusDelivered
	}
	return StatusSent
}
