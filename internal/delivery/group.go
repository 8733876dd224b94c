package delivery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chatline/internal/apperr"
	"github.com/chatline/internal/logger"
	"github.com/chatline/internal/model"
	"github.com/google/uuid"
)

// Group lifecycle operations. Each mutation is persisted first, then the
// resulting state is broadcast to the affected participants.

// CreateGroup creates a conversation with the caller as admin. memberIDs may
// or may not include the caller.
func (p *Pipeline) CreateGroup(ctx context.Context, creatorID, name, description, avatarURL string, memberIDs []string) (*model.GroupConversation, error) {
	defer logger.DeferLogDuration("delivery.CreateGroup", time.Now())()
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: group name required", apperr.ErrValidation)
	}
	ids := dedupe(append(memberIDs, creatorID))
	if len(ids) < 2 {
		return nil, fmt.Errorf("%w: a group needs at least two members", apperr.ErrValidation)
	}

	conv := &model.GroupConversation{
		ID:             uuid.NewString(),
		Name:           name,
		Description:    description,
		AvatarURL:      avatarURL,
		ParticipantIDs: ids,
		CreatedBy:      creatorID,
		CreatedAt:      p.now().UTC(),
	}
	if err := p.convs.Create(ctx, conv); err != nil {
		return nil, err
	}
	conv, err := p.convs.GetByID(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	for _, userID := range conv.RecipientIDs(creatorID) {
		p.notify.Emit(userID, EventNewGroupCreated, conv)
	}
	return conv, nil
}

// UpdateGroup changes name, description or avatar. Admin only.
func (p *Pipeline) UpdateGroup(ctx context.Context, userID, conversationID, name, description, avatarURL string) (*model.GroupConversation, error) {
	defer logger.DeferLogDuration("delivery.UpdateGroup", time.Now())()
	conv, err := p.requireAdmin(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: group name required", apperr.ErrValidation)
	}
	if err := p.convs.UpdateInfo(ctx, conversationID, name, description, avatarURL); err != nil {
		return nil, err
	}
	conv, err = p.convs.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	for _, pid := range conv.RecipientIDs(userID) {
		p.notify.Emit(pid, EventGroupUpdated, conv)
	}
	return conv, nil
}

// AddParticipants invites users into the group. Admin only. Already-present
// users are skipped silently.
func (p *Pipeline) AddParticipants(ctx context.Context, userID, conversationID string, newIDs []string) (*model.GroupConversation, error) {
	defer logger.DeferLogDuration("delivery.AddParticipants", time.Now())()
	conv, err := p.requireAdmin(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	var added []string
	for _, id := range dedupe(newIDs) {
		if !conv.IsParticipant(id) {
			added = append(added, id)
		}
	}
	if len(added) == 0 {
		return conv, nil
	}
	if err := p.convs.AddParticipants(ctx, conversationID, added, p.now().UTC()); err != nil {
		return nil, err
	}
	conv, err = p.convs.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	ev := MemberEvent{ConversationID: conversationID, UserIDs: added, By: userID}
	for _, pid := range conv.RecipientIDs(userID) {
		p.notify.Emit(pid, EventParticipantsAdded, ev)
	}
	return conv, nil
}

// RemoveParticipant kicks a member. Admin only; admins cannot be removed,
// they must step down or leave.
func (p *Pipeline) RemoveParticipant(ctx context.Context, userID, conversationID, targetID string) error {
	defer logger.DeferLogDuration("delivery.RemoveParticipant", time.Now())()
	conv, err := p.requireAdmin(ctx, userID, conversationID)
	if err != nil {
		return err
	}
	if !conv.IsParticipant(targetID) {
		return fmt.Errorf("%w: no such participant", apperr.ErrNotFound)
	}
	if conv.IsAdmin(targetID) {
		return fmt.Errorf("%w: cannot remove an admin", apperr.ErrForbidden)
	}
	if err := p.convs.RemoveParticipant(ctx, conversationID, targetID); err != nil {
		return err
	}
	ev := MemberEvent{ConversationID: conversationID, UserID: targetID, By: userID}
	p.notify.Emit(targetID, EventRemovedFromGroup, ev)
	for _, pid := range conv.RecipientIDs(userID) {
		if pid != targetID {
			p.notify.Emit(pid, EventParticipantRemoved, ev)
		}
	}
	return nil
}

// LeaveGroup removes the caller. The last admin leaving promotes the
// longest-standing remaining member so the group is never admin-less.
func (p *Pipeline) LeaveGroup(ctx context.Context, userID, conversationID string) error {
	defer logger.DeferLogDuration("delivery.LeaveGroup", time.Now())()
	conv, err := p.convs.GetByID(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.IsParticipant(userID) {
		return fmt.Errorf("%w: not a participant", apperr.ErrForbidden)
	}
	if err := p.convs.RemoveParticipant(ctx, conversationID, userID); err != nil {
		return err
	}

	remaining := conv.RecipientIDs(userID)
	if len(remaining) == 0 {
		return p.convs.Delete(ctx, conversationID)
	}
	if conv.IsAdmin(userID) && len(conv.AdminIDs) == 1 {
		heir := remaining[0]
		if err := p.convs.SetRole(ctx, conversationID, heir, model.RoleAdmin); err != nil {
			return err
		}
		ev := MemberEvent{ConversationID: conversationID, UserID: heir, By: userID}
		for _, pid := range remaining {
			p.notify.Emit(pid, EventNewAdminAdded, ev)
		}
	}
	ev := MemberEvent{ConversationID: conversationID, UserID: userID, By: userID}
	for _, pid := range remaining {
		p.notify.Emit(pid, EventParticipantLeft, ev)
	}
	return nil
}

// PromoteAdmin grants admin to an existing member. Admin only.
func (p *Pipeline) PromoteAdmin(ctx context.Context, userID, conversationID, targetID string) error {
	defer logger.DeferLogDuration("delivery.PromoteAdmin", time.Now())()
	conv, err := p.requireAdmin(ctx, userID, conversationID)
	if err != nil {
		return err
	}
	if !conv.IsParticipant(targetID) {
		return fmt.Errorf("%w: no such participant", apperr.ErrNotFound)
	}
	if conv.IsAdmin(targetID) {
		return nil
	}
	if err := p.convs.SetRole(ctx, conversationID, targetID, model.RoleAdmin); err != nil {
		return err
	}
	ev := MemberEvent{ConversationID: conversationID, UserID: targetID, By: userID}
	for _, pid := range conv.RecipientIDs(userID) {
		p.notify.Emit(pid, EventNewAdminAdded, ev)
	}
	return nil
}

// ListGroups returns the caller's conversations for the sidebar.
func (p *Pipeline) ListGroups(ctx context.Context, userID string) ([]model.GroupConversation, error) {
	defer logger.DeferLogDuration("delivery.ListGroups", time.Now())()
	return p.convs.ListForUser(ctx, userID)
}

// GetGroup returns one conversation, participants included.
func (p *Pipeline) GetGroup(ctx context.Context, userID, conversationID string) (*model.GroupConversation, error) {
	conv, err := p.convs.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.IsParticipant(userID) {
		return nil, fmt.Errorf("%w: not a participant", apperr.ErrForbidden)
	}
	return conv, nil
}

func (p *Pipeline) requireAdmin(ctx context.Context, userID, conversationID string) (*model.GroupConversation, error) {
	conv, err := p.convs.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.IsParticipant(userID) {
		return nil, fmt.Errorf("%w: not a participant", apperr.ErrForbidden)
	}
	if !conv.IsAdmin(userID) {
		return nil, fmt.Errorf("%w: admin only", apperr.ErrForbidden)
	}
	return conv, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
