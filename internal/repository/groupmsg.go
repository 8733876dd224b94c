package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chatline/internal/logger"
	"github.com/chatline/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const groupMsgCols = `m.id, m.conversation_id, m.sender_id, COALESCE(m.text,''), COALESCE(m.image,''), m.reply_to_id, m.created_at,
	u.id, u.full_name, u.email, COALESCE(u.avatar_url,''), u.is_verified`

const groupMsgFrom = ` FROM group_messages m JOIN users u ON u.id = m.sender_id`

type GroupMessageRepository struct {
	pool *pgxpool.Pool
}

func NewGroupMessageRepository(pool *pgxpool.Pool) *GroupMessageRepository {
	return &GroupMessageRepository{pool: pool}
}

func scanGroupMessage(s interface{ Scan(dest ...any) error }, m *model.GroupMessage) error {
	sender := &model.UserPublic{}
	err := s.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Text, &m.Image, &m.ReplyToID, &m.CreatedAt,
		&sender.ID, &sender.FullName, &sender.Email, &sender.AvatarURL, &sender.IsVerified)
	if err != nil {
		return err
	}
	m.Delivered = []model.ReceiptEntry{}
	m.Seen = []model.ReceiptEntry{}
	m.Sender = sender
	return nil
}

// loadReceipts attaches receipt logs to a batch of messages in one query and
// recomputes each watermark.
func (r *GroupMessageRepository) loadReceipts(ctx context.Context, msgs []*model.GroupMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	byID := make(map[string]*model.GroupMessage, len(msgs))
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		byID[m.ID] = m
		ids = append(ids, m.ID)
	}
	rows, err := r.pool.Query(ctx,
		`SELECT message_id, user_id, kind, created_at
		 FROM group_message_receipts WHERE message_id = ANY($1)
		 ORDER BY created_at ASC`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("groupMsgRepo.loadReceipts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var msgID string
		var kind model.ReceiptKind
		var e model.ReceiptEntry
		if err := rows.Scan(&msgID, &e.UserID, &kind, &e.At); err != nil {
			return fmt.Errorf("groupMsgRepo.loadReceipts scan: %w", err)
		}
		m := byID[msgID]
		if m == nil {
			continue
		}
		switch kind {
		case model.ReceiptDelivered:
			m.Delivered = append(m.Delivered, e)
		case model.ReceiptSeen:
			m.Seen = append(m.Seen, e)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("groupMsgRepo.loadReceipts rows: %w", err)
	}
	for _, m := range msgs {
		m.Status = model.Watermark(m)
	}
	return nil
}

func (r *GroupMessageRepository) Create(ctx context.Context, m *model.GroupMessage) error {
	defer logger.DeferLogDuration("groupMsg.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO group_messages (id, conversation_id, sender_id, text, image, reply_to_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.ConversationID, m.SenderID, m.Text, m.Image, m.ReplyToID, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("groupMsgRepo.Create: %w", err)
	}
	return nil
}

func (r *GroupMessageRepository) GetByID(ctx context.Context, id string) (*model.GroupMessage, error) {
	defer logger.DeferLogDuration("groupMsg.GetByID", time.Now())()
	m := &model.GroupMessage{}
	row := r.pool.QueryRow(ctx, `SELECT `+groupMsgCols+groupMsgFrom+` WHERE m.id = $1`, id)
	if err := scanGroupMessage(row, m); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("groupMsgRepo.GetByID: %w", err)
	}
	if err := r.loadReceipts(ctx, []*model.GroupMessage{m}); err != nil {
		return nil, err
	}
	return m, nil
}

func (r *GroupMessageRepository) GetCursor(ctx context.Context, id string) (Cursor, error) {
	c := Cursor{ID: id}
	err := r.pool.QueryRow(ctx,
		`SELECT created_at FROM group_messages WHERE id = $1`, id,
	).Scan(&c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Cursor{}, ErrNotFound
	}
	if err != nil {
		return Cursor{}, fmt.Errorf("groupMsgRepo.GetCursor: %w", err)
	}
	return c, nil
}

// ListConversation pages a group's history newest first, skipping messages
// the viewer deleted for themselves, with receipts and reply previews
// attached.
func (r *GroupMessageRepository) ListConversation(ctx context.Context, conversationID, viewerID string, before *Cursor, limit int) ([]model.GroupMessage, error) {
	defer logger.DeferLogDuration("groupMsg.ListConversation", time.Now())()
	sql := `SELECT ` + groupMsgCols + groupMsgFrom + `
		 WHERE m.conversation_id = $1
		   AND NOT EXISTS(SELECT 1 FROM group_message_deletions d WHERE d.message_id = m.id AND d.user_id = $2)`
	args := []any{conversationID, viewerID}
	if before != nil {
		sql += ` AND (m.created_at, m.id) < ($3, $4)`
		args = append(args, before.CreatedAt, before.ID)
	}
	args = append(args, limit)
	sql += fmt.Sprintf(` ORDER BY m.created_at DESC, m.id DESC LIMIT $%d`, len(args))

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("groupMsgRepo.ListConversation query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.GroupMessage, 0, limit)
	for rows.Next() {
		var m model.GroupMessage
		if err := scanGroupMessage(rows, &m); err != nil {
			return nil, fmt.Errorf("groupMsgRepo.ListConversation scan: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("groupMsgRepo.ListConversation rows: %w", err)
	}

	ptrs := make([]*model.GroupMessage, len(messages))
	for i := range messages {
		ptrs[i] = &messages[i]
	}
	if err := r.loadReceipts(ctx, ptrs); err != nil {
		return nil, err
	}
	if err := r.loadReplyPreviews(ctx, ptrs); err != nil {
		return nil, err
	}
	return messages, nil
}

// loadReplyPreviews resolves reply_to_id references to lightweight previews
// (no receipts) in one query.
func (r *GroupMessageRepository) loadReplyPreviews(ctx context.Context, msgs []*model.GroupMessage) error {
	var ids []string
	for _, m := range msgs {
		if m.ReplyToID != nil {
			ids = append(ids, *m.ReplyToID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	rows, err := r.pool.Query(ctx, `SELECT `+groupMsgCols+groupMsgFrom+` WHERE m.id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("groupMsgRepo.loadReplyPreviews: %w", err)
	}
	defer rows.Close()
	previews := make(map[string]*model.GroupMessage, len(ids))
	for rows.Next() {
		var p model.GroupMessage
		if err := scanGroupMessage(rows, &p); err != nil {
			return fmt.Errorf("groupMsgRepo.loadReplyPreviews scan: %w", err)
		}
		previews[p.ID] = &p
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("groupMsgRepo.loadReplyPreviews rows: %w", err)
	}
	for _, m := range msgs {
		if m.ReplyToID != nil {
			m.ReplyTo = previews[*m.ReplyToID]
		}
	}
	return nil
}

func (r *GroupMessageRepository) AddReceipt(ctx context.Context, messageID, userID string, kind model.ReceiptKind, at time.Time) (bool, error) {
	defer logger.DeferLogDuration("groupMsg.AddReceipt", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO group_message_receipts (message_id, user_id, kind, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (message_id, user_id, kind) DO NOTHING`,
		messageID, userID, kind, at,
	)
	if err != nil {
		return false, fmt.Errorf("groupMsgRepo.AddReceipt: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkConversationSeen records seen receipts for every message in the group
// the viewer has not seen (own messages excluded) and returns the affected ids.
func (r *GroupMessageRepository) MarkConversationSeen(ctx context.Context, conversationID, viewerID string, at time.Time) ([]string, error) {
	defer logger.DeferLogDuration("groupMsg.MarkConversationSeen", time.Now())()
	rows, err := r.pool.Query(ctx,
		`INSERT INTO group_message_receipts (message_id, user_id, kind, created_at)
		 SELECT m.id, $2, 'seen', $3 FROM group_messages m
		 WHERE m.conversation_id = $1 AND m.sender_id != $2
		 ON CONFLICT (message_id, user_id, kind) DO NOTHING
		 RETURNING message_id`,
		conversationID, viewerID, at,
	)
	if err != nil {
		return nil, fmt.Errorf("groupMsgRepo.MarkConversationSeen: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("groupMsgRepo.MarkConversationSeen scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListUndelivered returns group messages in the user's conversations with no
// delivery receipt from the user yet, oldest first.
func (r *GroupMessageRepository) ListUndelivered(ctx context.Context, userID string) ([]model.GroupMessage, error) {
	defer logger.DeferLogDuration("groupMsg.ListUndelivered", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+groupMsgCols+groupMsgFrom+`
		 JOIN group_participants p ON p.conversation_id = m.conversation_id AND p.user_id = $1
		 WHERE m.sender_id != $1
		   AND NOT EXISTS(SELECT 1 FROM group_message_receipts r WHERE r.message_id = m.id AND r.user_id = $1 AND r.kind = 'delivered')
		   AND NOT EXISTS(SELECT 1 FROM group_message_deletions d WHERE d.message_id = m.id AND d.user_id = $1)
		 ORDER BY m.created_at ASC, m.id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("groupMsgRepo.ListUndelivered query: %w", err)
	}
	defer rows.Close()
	var messages []model.GroupMessage
	for rows.Next() {
		var m model.GroupMessage
		if err := scanGroupMessage(rows, &m); err != nil {
			return nil, fmt.Errorf("groupMsgRepo.ListUndelivered scan: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("groupMsgRepo.ListUndelivered rows: %w", err)
	}
	ptrs := make([]*model.GroupMessage, len(messages))
	for i := range messages {
		ptrs[i] = &messages[i]
	}
	if err := r.loadReceipts(ctx, ptrs); err != nil {
		return nil, err
	}
	return messages, nil
}

// AddDeletion hides a message for one user only.
func (r *GroupMessageRepository) AddDeletion(ctx context.Context, messageID, userID string) error {
	defer logger.DeferLogDuration("groupMsg.AddDeletion", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO group_message_deletions (message_id, user_id)
		 VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		messageID, userID,
	)
	if err != nil {
		return fmt.Errorf("groupMsgRepo.AddDeletion: %w", err)
	}
	return nil
}

// Delete removes a message for everyone. Receipts and deletions cascade;
// replies keep their rows with reply_to_id set to NULL.
func (r *GroupMessageRepository) Delete(ctx context.Context, id string) error {
	defer logger.DeferLogDuration("groupMsg.Delete", time.Now())()
	_, err := r.pool.Exec(ctx, `DELETE FROM group_messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("groupMsgRepo.Delete: %w", err)
	}
	return nil
}
