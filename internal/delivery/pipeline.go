package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chatline/internal/apperr"
	"github.com/chatline/internal/logger"
	"github.com/chatline/internal/model"
	"github.com/chatline/internal/repository"
	"github.com/google/uuid"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 100

	// deleteWindow bounds delete-for-everyone: after an hour the message is
	// part of the conversation's record and can only be hidden per-user.
	deleteWindow = time.Hour
)

// MessageStore is the persistence surface the pipeline needs for direct
// messages. *repository.MessageRepository implements it; tests use an
// in-memory fake.
type MessageStore interface {
	Create(ctx context.Context, m *model.Message) error
	GetByID(ctx context.Context, id string) (*model.Message, error)
	GetCursor(ctx context.Context, id string) (repository.Cursor, error)
	ListBetween(ctx context.Context, userA, userB string, before *repository.Cursor, limit int) ([]model.Message, error)
	AddReceipt(ctx context.Context, messageID, userID string, kind model.ReceiptKind, at time.Time) (bool, error)
	MarkConversationSeen(ctx context.Context, senderID, viewerID string, at time.Time) ([]string, error)
	ListUndelivered(ctx context.Context, userID string) ([]model.Message, error)
}

type GroupMessageStore interface {
	Create(ctx context.Context, m *model.GroupMessage) error
	GetByID(ctx context.Context, id string) (*model.GroupMessage, error)
	GetCursor(ctx context.Context, id string) (repository.Cursor, error)
	ListConversation(ctx context.Context, conversationID, viewerID string, before *repository.Cursor, limit int) ([]model.GroupMessage, error)
	AddReceipt(ctx context.Context, messageID, userID string, kind model.ReceiptKind, at time.Time) (bool, error)
	MarkConversationSeen(ctx context.Context, conversationID, viewerID string, at time.Time) ([]string, error)
	ListUndelivered(ctx context.Context, userID string) ([]model.GroupMessage, error)
	AddDeletion(ctx context.Context, messageID, userID string) error
	Delete(ctx context.Context, id string) error
}

type ConversationStore interface {
	Create(ctx context.Context, c *model.GroupConversation) error
	GetByID(ctx context.Context, id string) (*model.GroupConversation, error)
	ListForUser(ctx context.Context, userID string) ([]model.GroupConversation, error)
	AddParticipants(ctx context.Context, conversationID string, userIDs []string, at time.Time) error
	RemoveParticipant(ctx context.Context, conversationID, userID string) error
	SetRole(ctx context.Context, conversationID, userID, role string) error
	UpdateInfo(ctx context.Context, conversationID, name, description, avatarURL string) error
	UpdateLastMessage(ctx context.Context, conversationID, text, senderName string, at time.Time) error
	Delete(ctx context.Context, conversationID string) error
}

// Notifier pushes an event to a user's live connection. Emit reports whether
// the user had one; a false return is the offline signal, not an error.
type Notifier interface {
	Emit(userID, event string, payload any) bool
}

// Pusher delivers an out-of-band notification to users with no live
// connection. Optional.
type Pusher interface {
	Notify(userID, title, body string)
}

// Pipeline implements message fan-out: persist, deliver to live connections,
// record receipts, confirm to senders, and reconcile on reconnect.
type Pipeline struct {
	messages MessageStore
	groups   GroupMessageStore
	convs    ConversationStore
	notify   Notifier
	pusher   Pusher

	now func() time.Time
}

func NewPipeline(messages MessageStore, groups GroupMessageStore, convs ConversationStore, notify Notifier) *Pipeline {
	return &Pipeline{
		messages: messages,
		groups:   groups,
		convs:    convs,
		notify:   notify,
		now:      time.Now,
	}
}

// SetPusher enables offline push notifications.
func (p *Pipeline) SetPusher(pusher Pusher) { p.pusher = pusher }

// SendDirect persists a 1:1 message and attempts live delivery. The created
// message is returned to the sender whether or not the receiver was online.
func (p *Pipeline) SendDirect(ctx context.Context, senderID, receiverID, text, image string) (*model.Message, error) {
	defer logger.DeferLogDuration("delivery.SendDirect", time.Now())()
	text = strings.TrimSpace(text)
	if text == "" && image == "" {
		return nil, fmt.Errorf("%w: message needs text or image", apperr.ErrValidation)
	}
	if receiverID == "" || receiverID == senderID {
		return nil, fmt.Errorf("%w: bad receiver", apperr.ErrValidation)
	}

	now := p.now().UTC()
	m := &model.Message{
		ID:         uuid.NewString(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Text:       text,
		Image:      image,
		CreatedAt:  now,
	}
	if err := p.messages.Create(ctx, m); err != nil {
		return nil, err
	}
	m, err := p.messages.GetByID(ctx, m.ID)
	if err != nil {
		return nil, err
	}

	if p.notify.Emit(receiverID, EventNewMessage, m) {
		if _, err := p.messages.AddReceipt(ctx, m.ID, receiverID, model.ReceiptDelivered, now); err != nil {
			return nil, err
		}
		m.Delivered = []string{receiverID}
		m.Status = model.AdvanceStatus(m.Status, model.StatusDelivered)
		p.notify.Emit(senderID, EventMessageDelivered, DeliveredEvent{
			MessageID:   m.ID,
			DeliveredTo: []string{receiverID},
			DeliveredAt: now,
		})
	} else if p.pusher != nil {
		p.pusher.Notify(receiverID, m.Sender.FullName, previewText(m.Text, m.Image))
	}
	return m, nil
}

// SendGroup persists a group message and fans it out to every live
// participant. Delivery receipts for the live ones are written in a batch and
// the sender gets one summary event naming them.
func (p *Pipeline) SendGroup(ctx context.Context, senderID, conversationID, text, image string, replyToID *string) (*model.GroupMessage, error) {
	defer logger.DeferLogDuration("delivery.SendGroup", time.Now())()
	text = strings.TrimSpace(text)
	if text == "" && image == "" {
		return nil, fmt.Errorf("%w: message needs text or image", apperr.ErrValidation)
	}
	conv, err := p.convs.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.IsParticipant(senderID) {
		return nil, fmt.Errorf("%w: not a participant", apperr.ErrForbidden)
	}
	if replyToID != nil {
		parent, err := p.groups.GetByID(ctx, *replyToID)
		if err != nil {
			return nil, fmt.Errorf("%w: reply target", apperr.ErrValidation)
		}
		if parent.ConversationID != conversationID {
			return nil, fmt.Errorf("%w: reply target in another conversation", apperr.ErrValidation)
		}
	}

	now := p.now().UTC()
	m := &model.GroupMessage{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Text:           text,
		Image:          image,
		ReplyToID:      replyToID,
		CreatedAt:      now,
	}
	if err := p.groups.Create(ctx, m); err != nil {
		return nil, err
	}
	m, err = p.groups.GetByID(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	if err := p.convs.UpdateLastMessage(ctx, conversationID, previewText(text, image), m.Sender.FullName, now); err != nil {
		return nil, err
	}

	var liveTo []string
	for _, userID := range conv.RecipientIDs(senderID) {
		if p.notify.Emit(userID, EventNewGroupMessage, m) {
			if _, err := p.groups.AddReceipt(ctx, m.ID, userID, model.ReceiptDelivered, now); err != nil {
				return nil, err
			}
			liveTo = append(liveTo, userID)
		} else if p.pusher != nil {
			p.pusher.Notify(userID, conv.Name, m.Sender.FullName+": "+previewText(text, image))
		}
	}
	if len(liveTo) > 0 {
		for _, userID := range liveTo {
			m.Delivered = append(m.Delivered, model.ReceiptEntry{UserID: userID, At: now})
		}
		m.Status = model.AdvanceStatus(m.Status, model.StatusDelivered)
		p.notify.Emit(senderID, EventGroupMessageDelivered, DeliveredEvent{
			MessageID:      m.ID,
			ConversationID: conversationID,
			DeliveredTo:    liveTo,
			DeliveredAt:    now,
		})
	}
	return m, nil
}

// Backfill marks everything addressed to a freshly-connected user as
// delivered, replays the messages to their connection, and notifies each
// original sender. Called from the presence register path.
func (p *Pipeline) Backfill(ctx context.Context, userID string) error {
	defer logger.DeferLogDuration("delivery.Backfill", time.Now())()
	now := p.now().UTC()

	direct, err := p.messages.ListUndelivered(ctx, userID)
	if err != nil {
		return err
	}
	for i := range direct {
		m := &direct[i]
		added, err := p.messages.AddReceipt(ctx, m.ID, userID, model.ReceiptDelivered, now)
		if err != nil {
			return err
		}
		if !added {
			continue
		}
		m.Delivered = append(m.Delivered, userID)
		m.Status = model.AdvanceStatus(m.Status, model.StatusDelivered)
		p.notify.Emit(userID, EventNewMessage, m)
		p.notify.Emit(m.SenderID, EventMessageDelivered, DeliveredEvent{
			MessageID:   m.ID,
			DeliveredTo: []string{userID},
			DeliveredAt: now,
		})
	}

	group, err := p.groups.ListUndelivered(ctx, userID)
	if err != nil {
		return err
	}
	for i := range group {
		m := &group[i]
		added, err := p.groups.AddReceipt(ctx, m.ID, userID, model.ReceiptDelivered, now)
		if err != nil {
			return err
		}
		if !added {
			continue
		}
		m.Delivered = append(m.Delivered, model.ReceiptEntry{UserID: userID, At: now})
		m.Status = model.AdvanceStatus(m.Status, model.StatusDelivered)
		p.notify.Emit(userID, EventNewGroupMessage, m)
		p.notify.Emit(m.SenderID, EventGroupMessageDelivered, DeliveredEvent{
			MessageID:      m.ID,
			ConversationID: m.ConversationID,
			DeliveredTo:    []string{userID},
			DeliveredAt:    now,
		})
	}
	return nil
}

// MarkSeen records that the viewer has seen every message the peer sent them.
// Idempotent; the peer is notified only when at least one message changed.
func (p *Pipeline) MarkSeen(ctx context.Context, viewerID, peerID string) error {
	defer logger.DeferLogDuration("delivery.MarkSeen", time.Now())()
	now := p.now().UTC()
	ids, err := p.messages.MarkConversationSeen(ctx, peerID, viewerID, now)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	p.notify.Emit(peerID, EventMessagesSeen, SeenEvent{
		MessageIDs: ids,
		SeenBy:     viewerID,
		SeenAt:     now,
	})
	return nil
}

// MarkGroupSeen is the group analog of MarkSeen; every other participant is
// notified so their member-level receipt views stay current.
func (p *Pipeline) MarkGroupSeen(ctx context.Context, viewerID, conversationID string) error {
	defer logger.DeferLogDuration("delivery.MarkGroupSeen", time.Now())()
	conv, err := p.convs.GetByID(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.IsParticipant(viewerID) {
		return fmt.Errorf("%w: not a participant", apperr.ErrForbidden)
	}
	now := p.now().UTC()
	ids, err := p.groups.MarkConversationSeen(ctx, conversationID, viewerID, now)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	ev := SeenEvent{
		MessageIDs:     ids,
		ConversationID: conversationID,
		SeenBy:         viewerID,
		SeenAt:         now,
	}
	for _, userID := range conv.RecipientIDs(viewerID) {
		p.notify.Emit(userID, EventGroupMessagesSeen, ev)
	}
	return nil
}

// History pages a 1:1 conversation backwards from cursorID (or from the
// newest message when empty). The page comes back in chronological order.
func (p *Pipeline) History(ctx context.Context, viewerID, peerID, cursorID string, limit int) (model.MessagePage[model.Message], error) {
	defer logger.DeferLogDuration("delivery.History", time.Now())()
	var page model.MessagePage[model.Message]
	limit = clampLimit(limit)

	var before *repository.Cursor
	if cursorID != "" {
		c, err := p.messages.GetCursor(ctx, cursorID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return page, fmt.Errorf("%w: unknown cursor", apperr.ErrValidation)
			}
			return page, err
		}
		before = &c
	}

	rows, err := p.messages.ListBetween(ctx, viewerID, peerID, before, limit+1)
	if err != nil {
		return page, err
	}
	page.Messages, page.NextCursor, page.HasMore = assemblePage(rows, limit, func(m model.Message) string { return m.ID })
	return page, nil
}

// GroupHistory pages a group conversation for one viewer, excluding messages
// they deleted for themselves.
func (p *Pipeline) GroupHistory(ctx context.Context, viewerID, conversationID, cursorID string, limit int) (model.MessagePage[model.GroupMessage], error) {
	defer logger.DeferLogDuration("delivery.GroupHistory", time.Now())()
	var page model.MessagePage[model.GroupMessage]
	conv, err := p.convs.GetByID(ctx, conversationID)
	if err != nil {
		return page, err
	}
	if !conv.IsParticipant(viewerID) {
		return page, fmt.Errorf("%w: not a participant", apperr.ErrForbidden)
	}
	limit = clampLimit(limit)

	var before *repository.Cursor
	if cursorID != "" {
		c, err := p.groups.GetCursor(ctx, cursorID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return page, fmt.Errorf("%w: unknown cursor", apperr.ErrValidation)
			}
			return page, err
		}
		before = &c
	}

	rows, err := p.groups.ListConversation(ctx, conversationID, viewerID, before, limit+1)
	if err != nil {
		return page, err
	}
	page.Messages, page.NextCursor, page.HasMore = assemblePage(rows, limit, func(m model.GroupMessage) string { return m.ID })
	return page, nil
}

// DeleteGroupForMe hides a message from the caller only.
func (p *Pipeline) DeleteGroupForMe(ctx context.Context, userID, messageID string) error {
	defer logger.DeferLogDuration("delivery.DeleteGroupForMe", time.Now())()
	m, err := p.groups.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	conv, err := p.convs.GetByID(ctx, m.ConversationID)
	if err != nil {
		return err
	}
	if !conv.IsParticipant(userID) {
		return fmt.Errorf("%w: not a participant", apperr.ErrForbidden)
	}
	return p.groups.AddDeletion(ctx, messageID, userID)
}

// DeleteGroupForEveryone removes the caller's own message for all
// participants, allowed within an hour of sending.
func (p *Pipeline) DeleteGroupForEveryone(ctx context.Context, userID, messageID string) error {
	defer logger.DeferLogDuration("delivery.DeleteGroupForEveryone", time.Now())()
	m, err := p.groups.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	if m.SenderID != userID {
		return fmt.Errorf("%w: only the sender can delete for everyone", apperr.ErrForbidden)
	}
	if p.now().UTC().Sub(m.CreatedAt) > deleteWindow {
		return fmt.Errorf("%w: delete window expired", apperr.ErrPolicy)
	}
	conv, err := p.convs.GetByID(ctx, m.ConversationID)
	if err != nil {
		return err
	}
	if err := p.groups.Delete(ctx, messageID); err != nil {
		return err
	}
	ev := MessageDeletedEvent{
		ConversationID: m.ConversationID,
		MessageID:      messageID,
		By:             userID,
	}
	for _, pid := range conv.RecipientIDs(userID) {
		p.notify.Emit(pid, EventGroupMessageDeleted, ev)
	}
	return nil
}

// assemblePage applies the limit+1 overflow check, trims, reverses to
// chronological order, and points the cursor at the oldest returned item.
func assemblePage[T any](rows []T, limit int, id func(T) string) ([]T, string, bool) {
	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}
	var next string
	if hasMore && len(rows) > 0 {
		next = id(rows[len(rows)-1])
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, next, hasMore
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}

func previewText(text, image string) string {
	if text != "" {
		if len(text) > 120 {
			return text[:120]
		}
		return text
	}
	if image != "" {
		return "\U0001F4F7 Photo"
	}
	return ""
}
