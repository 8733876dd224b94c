package model

import (
	"testing"
	"time"
)

func TestAdvanceStatusIsMonotonic(t *testing.T) {
	tests := []struct {
		name string
		cur  MessageStatus
		next MessageStatus
		want MessageStatus
	}{
		{"sent to delivered", StatusSent, StatusDelivered, StatusDelivered},
		{"delivered to seen", StatusDelivered, StatusSeen, StatusSeen},
		{"sent straight to seen", StatusSent, StatusSeen, StatusSeen},
		{"seen never regresses to delivered", StatusSeen, StatusDelivered, StatusSeen},
		{"delivered never regresses to sent", StatusDelivered, StatusSent, StatusDelivered},
		{"same state is a no-op", StatusDelivered, StatusDelivered, StatusDelivered},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AdvanceStatus(tt.cur, tt.next); got != tt.want {
				t.Fatalf("AdvanceStatus(%s, %s) = %s, want %s", tt.cur, tt.next, got, tt.want)
			}
		})
	}
}

// Out-of-order receipt events must not move the displayed status backwards.
func TestAdvanceStatusOutOfOrderEvents(t *testing.T) {
	status := StatusSent
	for _, ev := range []MessageStatus{StatusSeen, StatusDelivered} {
		status = AdvanceStatus(status, ev)
	}
	if status != StatusSeen {
		t.Fatalf("status = %s after seen then late delivered, want seen", status)
	}
}

func TestWatermarkDirect(t *testing.T) {
	tests := []struct {
		name      string
		delivered []string
		seen      []string
		want      MessageStatus
	}{
		{"no receipts", nil, nil, StatusSent},
		{"delivered only", []string{"u2"}, nil, StatusDelivered},
		{"delivered and seen", []string{"u2"}, []string{"u2"}, StatusSeen},
		{"seen without delivered implies delivered", nil, []string{"u2"}, StatusSeen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Message{Delivered: tt.delivered, Seen: tt.seen}
			if got := Watermark(m); got != tt.want {
				t.Fatalf("Watermark = %s, want %s", got, tt.want)
			}
		})
	}
}

// The group watermark reflects the most-advanced recipient, not all of them.
func TestWatermarkGroupBestRecipient(t *testing.T) {
	now := time.Now()
	m := &GroupMessage{
		Delivered: []ReceiptEntry{{UserID: "u2", At: now}},
		Seen:      []ReceiptEntry{{UserID: "u3", At: now}},
	}
	if got := Watermark(m); got != StatusSeen {
		t.Fatalf("Watermark = %s, want seen when any recipient saw it", got)
	}

	partial := &GroupMessage{Delivered: []ReceiptEntry{{UserID: "u2", At: now}}}
	if got := Watermark(partial); got != StatusDelivered {
		t.Fatalf("Watermark = %s, want delivered with one of two recipients", got)
	}
}
