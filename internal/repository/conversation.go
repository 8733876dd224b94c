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

type ConversationRepository struct {
	pool *pgxpool.Pool
}

func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

// Create inserts the conversation and its initial member set in one
// transaction. The creator becomes an admin.
func (r *ConversationRepository) Create(ctx context.Context, c *model.GroupConversation) error {
	defer logger.DeferLogDuration("conv.Create", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("convRepo.Create begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO group_conversations (id, name, description, avatar_url, created_by, last_message_text, last_message_sender, last_message_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, '', '', $6, $6, $6)`,
		c.ID, c.Name, c.Description, c.AvatarURL, c.CreatedBy, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("convRepo.Create insert: %w", err)
	}
	for _, userID := range c.ParticipantIDs {
		role := model.RoleMember
		if userID == c.CreatedBy {
			role = model.RoleAdmin
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO group_participants (conversation_id, user_id, role, joined_at)
			 VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`,
			c.ID, userID, role, c.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("convRepo.Create member: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("convRepo.Create commit: %w", err)
	}
	return nil
}

func (r *ConversationRepository) GetByID(ctx context.Context, id string) (*model.GroupConversation, error) {
	defer logger.DeferLogDuration("conv.GetByID", time.Now())()
	c := &model.GroupConversation{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, COALESCE(description,''), COALESCE(avatar_url,''), created_by,
		        COALESCE(last_message_text,''), COALESCE(last_message_sender,''), last_message_at, created_at, updated_at
		 FROM group_conversations WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.Description, &c.AvatarURL, &c.CreatedBy,
		&c.LastMessageText, &c.LastMessageSender, &c.LastMessageAt, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("convRepo.GetByID: %w", err)
	}
	if err := r.loadMembers(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *ConversationRepository) loadMembers(ctx context.Context, c *model.GroupConversation) error {
	rows, err := r.pool.Query(ctx,
		`SELECT p.user_id, p.role, u.id, u.full_name, u.email, COALESCE(u.avatar_url,''), u.is_verified
		 FROM group_participants p JOIN users u ON u.id = p.user_id
		 WHERE p.conversation_id = $1 ORDER BY p.joined_at ASC`,
		c.ID,
	)
	if err != nil {
		return fmt.Errorf("convRepo.loadMembers: %w", err)
	}
	defer rows.Close()
	c.ParticipantIDs = c.ParticipantIDs[:0]
	c.AdminIDs = c.AdminIDs[:0]
	c.Participants = c.Participants[:0]
	for rows.Next() {
		var userID, role string
		var u model.UserPublic
		if err := rows.Scan(&userID, &role, &u.ID, &u.FullName, &u.Email, &u.AvatarURL, &u.IsVerified); err != nil {
			return fmt.Errorf("convRepo.loadMembers scan: %w", err)
		}
		c.ParticipantIDs = append(c.ParticipantIDs, userID)
		if role == model.RoleAdmin {
			c.AdminIDs = append(c.AdminIDs, userID)
		}
		c.Participants = append(c.Participants, u)
	}
	return rows.Err()
}

// ListForUser returns the user's groups, most recently active first, with an
// unseen-message count per group.
func (r *ConversationRepository) ListForUser(ctx context.Context, userID string) ([]model.GroupConversation, error) {
	defer logger.DeferLogDuration("conv.ListForUser", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT c.id, c.name, COALESCE(c.description,''), COALESCE(c.avatar_url,''), c.created_by,
		        COALESCE(c.last_message_text,''), COALESCE(c.last_message_sender,''), c.last_message_at, c.created_at, c.updated_at,
		        (SELECT COUNT(*) FROM group_messages m
		         WHERE m.conversation_id = c.id AND m.sender_id != $1
		           AND NOT EXISTS(SELECT 1 FROM group_message_receipts r WHERE r.message_id = m.id AND r.user_id = $1 AND r.kind = 'seen')
		           AND NOT EXISTS(SELECT 1 FROM group_message_deletions d WHERE d.message_id = m.id AND d.user_id = $1))
		 FROM group_conversations c
		 JOIN group_participants p ON p.conversation_id = c.id AND p.user_id = $1
		 ORDER BY c.last_message_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("convRepo.ListForUser query: %w", err)
	}
	defer rows.Close()

	var convs []model.GroupConversation
	for rows.Next() {
		var c model.GroupConversation
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.AvatarURL, &c.CreatedBy,
			&c.LastMessageText, &c.LastMessageSender, &c.LastMessageAt, &c.CreatedAt, &c.UpdatedAt,
			&c.UnreadCount); err != nil {
			return nil, fmt.Errorf("convRepo.ListForUser scan: %w", err)
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("convRepo.ListForUser rows: %w", err)
	}
	for i := range convs {
		if err := r.loadMembers(ctx, &convs[i]); err != nil {
			return nil, err
		}
	}
	return convs, nil
}

func (r *ConversationRepository) AddParticipants(ctx context.Context, conversationID string, userIDs []string, at time.Time) error {
	defer logger.DeferLogDuration("conv.AddParticipants", time.Now())()
	for _, userID := range userIDs {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO group_participants (conversation_id, user_id, role, joined_at)
			 VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`,
			conversationID, userID, model.RoleMember, at,
		)
		if err != nil {
			return fmt.Errorf("convRepo.AddParticipants: %w", err)
		}
	}
	return nil
}

func (r *ConversationRepository) RemoveParticipant(ctx context.Context, conversationID, userID string) error {
	defer logger.DeferLogDuration("conv.RemoveParticipant", time.Now())()
	_, err := r.pool.Exec(ctx,
		`DELETE FROM group_participants WHERE conversation_id = $1 AND user_id = $2`,
		conversationID, userID,
	)
	if err != nil {
		return fmt.Errorf("convRepo.RemoveParticipant: %w", err)
	}
	return nil
}

func (r *ConversationRepository) SetRole(ctx context.Context, conversationID, userID, role string) error {
	defer logger.DeferLogDuration("conv.SetRole", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE group_participants SET role = $1 WHERE conversation_id = $2 AND user_id = $3`,
		role, conversationID, userID,
	)
	if err != nil {
		return fmt.Errorf("convRepo.SetRole: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ConversationRepository) UpdateInfo(ctx context.Context, conversationID, name, description, avatarURL string) error {
	defer logger.DeferLogDuration("conv.UpdateInfo", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE group_conversations SET name = $1, description = $2, avatar_url = $3, updated_at = NOW()
		 WHERE id = $4`,
		name, description, avatarURL, conversationID,
	)
	if err != nil {
		return fmt.Errorf("convRepo.UpdateInfo: %w", err)
	}
	return nil
}

// UpdateLastMessage refreshes the sidebar preview columns after a send.
func (r *ConversationRepository) UpdateLastMessage(ctx context.Context, conversationID, text, senderName string, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE group_conversations SET last_message_text = $1, last_message_sender = $2, last_message_at = $3, updated_at = $3
		 WHERE id = $4`,
		text, senderName, at, conversationID,
	)
	if err != nil {
		return fmt.Errorf("convRepo.UpdateLastMessage: %w", err)
	}
	return nil
}

// Delete removes the conversation; members, messages and receipts cascade.
func (r *ConversationRepository) Delete(ctx context.Context, conversationID string) error {
	defer logger.DeferLogDuration("conv.Delete", time.Now())()
	_, err := r.pool.Exec(ctx, `DELETE FROM group_conversations WHERE id = $1`, conversationID)
	if err != nil {
		return fmt.Errorf("convRepo.Delete: %w", err)
	}
	return nil
}
