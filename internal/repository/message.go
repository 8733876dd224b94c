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

// msgCols selects a direct message with its receipt flags and sender profile.
// A 1:1 message has exactly one recipient, so the receipt sets collapse to
// two EXISTS flags.
const msgCols = `m.id, m.sender_id, m.receiver_id, COALESCE(m.text,''), COALESCE(m.image,''), m.created_at,
	EXISTS(SELECT 1 FROM message_receipts r WHERE r.message_id = m.id AND r.kind = 'delivered'),
	EXISTS(SELECT 1 FROM message_receipts r WHERE r.message_id = m.id AND r.kind = 'seen'),
	u.id, u.full_name, u.email, COALESCE(u.avatar_url,''), u.is_verified`

const msgFrom = ` FROM messages m JOIN users u ON u.id = m.sender_id`

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func scanMessage(s interface{ Scan(dest ...any) error }, m *model.Message) error {
	var delivered, seen bool
	sender := &model.UserPublic{}
	err := s.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Text, &m.Image, &m.CreatedAt,
		&delivered, &seen,
		&sender.ID, &sender.FullName, &sender.Email, &sender.AvatarURL, &sender.IsVerified)
	if err != nil {
		return err
	}
	m.Delivered = []string{}
	m.Seen = []string{}
	if delivered {
		m.Delivered = append(m.Delivered, m.ReceiverID)
	}
	if seen {
		m.Seen = append(m.Seen, m.ReceiverID)
	}
	m.Status = model.Watermark(m)
	m.Sender = sender
	return nil
}

func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO messages (id, sender_id, receiver_id, text, image, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.SenderID, m.ReceiverID, m.Text, m.Image, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.Create: %w", err)
	}
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetByID", time.Now())()
	m := &model.Message{}
	row := r.pool.QueryRow(ctx, `SELECT `+msgCols+msgFrom+` WHERE m.id = $1`, id)
	if err := scanMessage(row, m); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("msgRepo.GetByID: %w", err)
	}
	return m, nil
}

// GetCursor resolves a message id to its pagination position.
func (r *MessageRepository) GetCursor(ctx context.Context, id string) (Cursor, error) {
	c := Cursor{ID: id}
	err := r.pool.QueryRow(ctx,
		`SELECT created_at FROM messages WHERE id = $1`, id,
	).Scan(&c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Cursor{}, ErrNotFound
	}
	if err != nil {
		return Cursor{}, fmt.Errorf("msgRepo.GetCursor: %w", err)
	}
	return c, nil
}

// ListBetween returns up to limit messages between two users, newest first,
// strictly older than the cursor when one is given.
func (r *MessageRepository) ListBetween(ctx context.Context, userA, userB string, before *Cursor, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ListBetween", time.Now())()
	sql := `SELECT ` + msgCols + msgFrom + `
		 WHERE ((m.sender_id = $1 AND m.receiver_id = $2) OR (m.sender_id = $2 AND m.receiver_id = $1))`
	args := []any{userA, userB}
	if before != nil {
		sql += ` AND (m.created_at, m.id) < ($3, $4)`
		args = append(args, before.CreatedAt, before.ID)
	}
	args = append(args, limit)
	sql += fmt.Sprintf(` ORDER BY m.created_at DESC, m.id DESC LIMIT $%d`, len(args))

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListBetween query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, limit)
	for rows.Next() {
		var m model.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, fmt.Errorf("msgRepo.ListBetween scan: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.ListBetween rows: %w", err)
	}
	return messages, nil
}

// AddReceipt records a delivery or seen receipt. Inserting twice is a no-op;
// the bool reports whether this call was the first.
func (r *MessageRepository) AddReceipt(ctx context.Context, messageID, userID string, kind model.ReceiptKind, at time.Time) (bool, error) {
	defer logger.DeferLogDuration("msg.AddReceipt", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO message_receipts (message_id, user_id, kind, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (message_id, user_id, kind) DO NOTHING`,
		messageID, userID, kind, at,
	)
	if err != nil {
		return false, fmt.Errorf("msgRepo.AddReceipt: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkConversationSeen inserts seen receipts for every message from senderID
// to viewerID that the viewer has not seen yet, and returns the affected
// message ids. Re-running it returns an empty slice.
func (r *MessageRepository) MarkConversationSeen(ctx context.Context, senderID, viewerID string, at time.Time) ([]string, error) {
	defer logger.DeferLogDuration("msg.MarkConversationSeen", time.Now())()
	rows, err := r.pool.Query(ctx,
		`INSERT INTO message_receipts (message_id, user_id, kind, created_at)
		 SELECT m.id, $2, 'seen', $3 FROM messages m
		 WHERE m.sender_id = $1 AND m.receiver_id = $2
		 ON CONFLICT (message_id, user_id, kind) DO NOTHING
		 RETURNING message_id`,
		senderID, viewerID, at,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.MarkConversationSeen: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("msgRepo.MarkConversationSeen scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListUndelivered returns messages addressed to userID with no delivery
// receipt yet, oldest first, for the reconnect backfill.
func (r *MessageRepository) ListUndelivered(ctx context.Context, userID string) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ListUndelivered", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+msgCols+msgFrom+`
		 WHERE m.receiver_id = $1
		   AND NOT EXISTS(SELECT 1 FROM message_receipts r WHERE r.message_id = m.id AND r.user_id = $1 AND r.kind = 'delivered')
		 ORDER BY m.created_at ASC, m.id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListUndelivered query: %w", err)
	}
	defer rows.Close()
	var messages []model.Message
	for rows.Next() {
		var m model.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, fmt.Errorf("msgRepo.ListUndelivered scan: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.ListUndelivered rows: %w", err)
	}
	return messages, nil
}

// PartnerSummary is one row of the 1:1 conversation sidebar.
type PartnerSummary struct {
	Partner       model.UserPublic `json:"partner"`
	LastMessageAt time.Time        `json:"lastMessageAt"`
	LastMessage   string           `json:"lastMessage"`
	UnreadCount   int              `json:"unreadCount"`
}

// ListPartners returns every user this user has exchanged messages with,
// most recent conversation first, with an unseen-incoming count.
func (r *MessageRepository) ListPartners(ctx context.Context, userID string) ([]PartnerSummary, error) {
	defer logger.DeferLogDuration("msg.ListPartners", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT u.id, u.full_name, u.email, COALESCE(u.avatar_url,''), u.is_verified,
		        last.created_at, COALESCE(last.text,''),
		        (SELECT COUNT(*) FROM messages n
		         WHERE n.sender_id = u.id AND n.receiver_id = $1
		           AND NOT EXISTS(SELECT 1 FROM message_receipts r WHERE r.message_id = n.id AND r.user_id = $1 AND r.kind = 'seen'))
		 FROM (
			SELECT CASE WHEN sender_id = $1 THEN receiver_id ELSE sender_id END AS partner_id,
			       MAX(created_at) AS last_at
			FROM messages
			WHERE sender_id = $1 OR receiver_id = $1
			GROUP BY 1
		 ) p
		 JOIN users u ON u.id = p.partner_id
		 JOIN LATERAL (
			SELECT text, created_at FROM messages m
			WHERE (m.sender_id = $1 AND m.receiver_id = u.id) OR (m.sender_id = u.id AND m.receiver_id = $1)
			ORDER BY m.created_at DESC, m.id DESC LIMIT 1
		 ) last ON true
		 ORDER BY p.last_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListPartners query: %w", err)
	}
	defer rows.Close()

	var out []PartnerSummary
	for rows.Next() {
		var s PartnerSummary
		if err := rows.Scan(&s.Partner.ID, &s.Partner.FullName, &s.Partner.Email, &s.Partner.AvatarURL, &s.Partner.IsVerified,
			&s.LastMessageAt, &s.LastMessage, &s.UnreadCount); err != nil {
			return nil, fmt.Errorf("msgRepo.ListPartners scan: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.ListPartners rows: %w", err)
	}
	return out, nil
}
