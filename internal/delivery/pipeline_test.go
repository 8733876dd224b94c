package delivery

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/chatline/internal/apperr"
	"github.com/chatline/internal/model"
	"github.com/chatline/internal/repository"
)

// fakeNotifier records events per user; only users marked online count as
// reachable.
type fakeNotifier struct {
	online map[string]bool
	events map[string][]emitted
}

type emitted struct {
	event   string
	payload any
}

func newFakeNotifier(online ...string) *fakeNotifier {
	n := &fakeNotifier{online: map[string]bool{}, events: map[string][]emitted{}}
	for _, u := range online {
		n.online[u] = true
	}
	return n
}

func (n *fakeNotifier) Emit(userID, event string, payload any) bool {
	if !n.online[userID] {
		return false
	}
	n.events[userID] = append(n.events[userID], emitted{event: event, payload: payload})
	return true
}

func (n *fakeNotifier) count(userID, event string) int {
	c := 0
	for _, e := range n.events[userID] {
		if e.event == event {
			c++
		}
	}
	return c
}

func (n *fakeNotifier) last(userID, event string) (emitted, bool) {
	for i := len(n.events[userID]) - 1; i >= 0; i-- {
		if n.events[userID][i].event == event {
			return n.events[userID][i], true
		}
	}
	return emitted{}, false
}

// memMessages is an in-memory MessageStore.
type memMessages struct {
	users map[string]model.UserPublic
	msgs  map[string]*model.Message
}

func newMemMessages(users map[string]model.UserPublic) *memMessages {
	return &memMessages{users: users, msgs: map[string]*model.Message{}}
}

func (s *memMessages) Create(ctx context.Context, m *model.Message) error {
	cp := *m
	cp.Delivered = []string{}
	cp.Seen = []string{}
	s.msgs[m.ID] = &cp
	return nil
}

func (s *memMessages) GetByID(ctx context.Context, id string) (*model.Message, error) {
	m, ok := s.msgs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return s.view(m), nil
}

func (s *memMessages) view(m *model.Message) *model.Message {
	cp := *m
	cp.Delivered = append([]string{}, m.Delivered...)
	cp.Seen = append([]string{}, m.Seen...)
	u := s.users[m.SenderID]
	cp.Sender = &u
	cp.Status = model.Watermark(&cp)
	return &cp
}

func (s *memMessages) GetCursor(ctx context.Context, id string) (repository.Cursor, error) {
	m, ok := s.msgs[id]
	if !ok {
		return repository.Cursor{}, repository.ErrNotFound
	}
	return repository.Cursor{CreatedAt: m.CreatedAt, ID: m.ID}, nil
}

func (s *memMessages) ListBetween(ctx context.Context, a, b string, before *repository.Cursor, limit int) ([]model.Message, error) {
	var out []*model.Message
	for _, m := range s.msgs {
		if (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a) {
			if before != nil && !olderThan(m.CreatedAt, m.ID, before) {
				continue
			}
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	res := make([]model.Message, 0, len(out))
	for _, m := range out {
		res = append(res, *s.view(m))
	}
	return res, nil
}

func olderThan(at time.Time, id string, c *repository.Cursor) bool {
	if at.Before(c.CreatedAt) {
		return true
	}
	return at.Equal(c.CreatedAt) && id < c.ID
}

func (s *memMessages) AddReceipt(ctx context.Context, messageID, userID string, kind model.ReceiptKind, at time.Time) (bool, error) {
	m, ok := s.msgs[messageID]
	if !ok {
		return false, repository.ErrNotFound
	}
	switch kind {
	case model.ReceiptDelivered:
		if m.DeliveredToUser(userID) {
			return false, nil
		}
		m.Delivered = append(m.Delivered, userID)
	case model.ReceiptSeen:
		if m.SeenByUser(userID) {
			return false, nil
		}
		m.Seen = append(m.Seen, userID)
	}
	return true, nil
}

func (s *memMessages) MarkConversationSeen(ctx context.Context, senderID, viewerID string, at time.Time) ([]string, error) {
	var ids []string
	for _, m := range s.msgs {
		if m.SenderID == senderID && m.ReceiverID == viewerID && !m.SeenByUser(viewerID) {
			m.Seen = append(m.Seen, viewerID)
			ids = append(ids, m.ID)
		}
	}
	return ids, nil
}

func (s *memMessages) ListUndelivered(ctx context.Context, userID string) ([]model.Message, error) {
	var out []*model.Message
	for _, m := range s.msgs {
		if m.ReceiverID == userID && !m.DeliveredToUser(userID) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	res := make([]model.Message, 0, len(out))
	for _, m := range out {
		res = append(res, *s.view(m))
	}
	return res, nil
}

// memGroups is an in-memory GroupMessageStore.
type memGroups struct {
	users   map[string]model.UserPublic
	convs   *memConvs
	msgs    map[string]*model.GroupMessage
	deleted map[string]map[string]bool
}

func newMemGroups(users map[string]model.UserPublic, convs *memConvs) *memGroups {
	return &memGroups{users: users, convs: convs, msgs: map[string]*model.GroupMessage{}, deleted: map[string]map[string]bool{}}
}

func (s *memGroups) Create(ctx context.Context, m *model.GroupMessage) error {
	cp := *m
	cp.Delivered = []model.ReceiptEntry{}
	cp.Seen = []model.ReceiptEntry{}
	s.msgs[m.ID] = &cp
	return nil
}

func (s *memGroups) GetByID(ctx context.Context, id string) (*model.GroupMessage, error) {
	m, ok := s.msgs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return s.view(m), nil
}

func (s *memGroups) view(m *model.GroupMessage) *model.GroupMessage {
	cp := *m
	cp.Delivered = append([]model.ReceiptEntry{}, m.Delivered...)
	cp.Seen = append([]model.ReceiptEntry{}, m.Seen...)
	u := s.users[m.SenderID]
	cp.Sender = &u
	cp.Status = model.Watermark(&cp)
	return &cp
}

func (s *memGroups) GetCursor(ctx context.Context, id string) (repository.Cursor, error) {
	m, ok := s.msgs[id]
	if !ok {
		return repository.Cursor{}, repository.ErrNotFound
	}
	return repository.Cursor{CreatedAt: m.CreatedAt, ID: m.ID}, nil
}

func (s *memGroups) ListConversation(ctx context.Context, conversationID, viewerID string, before *repository.Cursor, limit int) ([]model.GroupMessage, error) {
	var out []*model.GroupMessage
	for _, m := range s.msgs {
		if m.ConversationID != conversationID || s.deleted[m.ID][viewerID] {
			continue
		}
		if before != nil && !olderThan(m.CreatedAt, m.ID, before) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	res := make([]model.GroupMessage, 0, len(out))
	for _, m := range out {
		res = append(res, *s.view(m))
	}
	return res, nil
}

func (s *memGroups) AddReceipt(ctx context.Context, messageID, userID string, kind model.ReceiptKind, at time.Time) (bool, error) {
	m, ok := s.msgs[messageID]
	if !ok {
		return false, repository.ErrNotFound
	}
	switch kind {
	case model.ReceiptDelivered:
		if m.DeliveredToUser(userID) {
			return false, nil
		}
		m.Delivered = append(m.Delivered, model.ReceiptEntry{UserID: userID, At: at})
	case model.ReceiptSeen:
		if m.SeenByUser(userID) {
			return false, nil
		}
		m.Seen = append(m.Seen, model.ReceiptEntry{UserID: userID, At: at})
	}
	return true, nil
}

func (s *memGroups) MarkConversationSeen(ctx context.Context, conversationID, viewerID string, at time.Time) ([]string, error) {
	var ids []string
	for _, m := range s.msgs {
		if m.ConversationID == conversationID && m.SenderID != viewerID && !m.SeenByUser(viewerID) {
			m.Seen = append(m.Seen, model.ReceiptEntry{UserID: viewerID, At: at})
			ids = append(ids, m.ID)
		}
	}
	return ids, nil
}

func (s *memGroups) ListUndelivered(ctx context.Context, userID string) ([]model.GroupMessage, error) {
	var out []*model.GroupMessage
	for _, m := range s.msgs {
		conv := s.convs.convs[m.ConversationID]
		if conv == nil || !conv.IsParticipant(userID) {
			continue
		}
		if m.SenderID == userID || m.DeliveredToUser(userID) || s.deleted[m.ID][userID] {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	res := make([]model.GroupMessage, 0, len(out))
	for _, m := range out {
		res = append(res, *s.view(m))
	}
	return res, nil
}

func (s *memGroups) AddDeletion(ctx context.Context, messageID, userID string) error {
	if s.deleted[messageID] == nil {
		s.deleted[messageID] = map[string]bool{}
	}
	s.deleted[messageID][userID] = true
	return nil
}

func (s *memGroups) Delete(ctx context.Context, id string) error {
	delete(s.msgs, id)
	return nil
}

// memConvs is an in-memory ConversationStore.
type memConvs struct {
	users map[string]model.UserPublic
	convs map[string]*model.GroupConversation
}

func newMemConvs(users map[string]model.UserPublic) *memConvs {
	return &memConvs{users: users, convs: map[string]*model.GroupConversation{}}
}

func (s *memConvs) Create(ctx context.Context, c *model.GroupConversation) error {
	cp := *c
	cp.ParticipantIDs = append([]string{}, c.ParticipantIDs...)
	cp.AdminIDs = []string{c.CreatedBy}
	s.convs[c.ID] = &cp
	return nil
}

func (s *memConvs) GetByID(ctx context.Context, id string) (*model.GroupConversation, error) {
	c, ok := s.convs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	cp.ParticipantIDs = append([]string{}, c.ParticipantIDs...)
	cp.AdminIDs = append([]string{}, c.AdminIDs...)
	for _, id := range c.ParticipantIDs {
		cp.Participants = append(cp.Participants, s.users[id])
	}
	return &cp, nil
}

func (s *memConvs) ListForUser(ctx context.Context, userID string) ([]model.GroupConversation, error) {
	var out []model.GroupConversation
	for id, c := range s.convs {
		if c.IsParticipant(userID) {
			cp, _ := s.GetByID(ctx, id)
			out = append(out, *cp)
		}
	}
	return out, nil
}

func (s *memConvs) AddParticipants(ctx context.Context, conversationID string, userIDs []string, at time.Time) error {
	c := s.convs[conversationID]
	for _, id := range userIDs {
		if !c.IsParticipant(id) {
			c.ParticipantIDs = append(c.ParticipantIDs, id)
		}
	}
	return nil
}

func (s *memConvs) RemoveParticipant(ctx context.Context, conversationID, userID string) error {
	c := s.convs[conversationID]
	var keep, admins []string
	for _, id := range c.ParticipantIDs {
		if id != userID {
			keep = append(keep, id)
		}
	}
	for _, id := range c.AdminIDs {
		if id != userID {
			admins = append(admins, id)
		}
	}
	c.ParticipantIDs, c.AdminIDs = keep, admins
	return nil
}

func (s *memConvs) SetRole(ctx context.Context, conversationID, userID, role string) error {
	c := s.convs[conversationID]
	if role == model.RoleAdmin && !c.IsAdmin(userID) {
		c.AdminIDs = append(c.AdminIDs, userID)
	}
	return nil
}

func (s *memConvs) UpdateInfo(ctx context.Context, conversationID, name, description, avatarURL string) error {
	c := s.convs[conversationID]
	c.Name, c.Description, c.AvatarURL = name, description, avatarURL
	return nil
}

func (s *memConvs) UpdateLastMessage(ctx context.Context, conversationID, text, senderName string, at time.Time) error {
	c := s.convs[conversationID]
	c.LastMessageText, c.LastMessageSender, c.LastMessageAt = text, senderName, at
	return nil
}

func (s *memConvs) Delete(ctx context.Context, conversationID string) error {
	delete(s.convs, conversationID)
	return nil
}

func testUsers() map[string]model.UserPublic {
	return map[string]model.UserPublic{
		"alice": {ID: "alice", FullName: "Alice"},
		"bob":   {ID: "bob", FullName: "Bob"},
		"carol": {ID: "carol", FullName: "Carol"},
	}
}

func newTestPipeline(online ...string) (*Pipeline, *memMessages, *memGroups, *memConvs, *fakeNotifier) {
	users := testUsers()
	convs := newMemConvs(users)
	msgs := newMemMessages(users)
	groups := newMemGroups(users, convs)
	notify := newFakeNotifier(online...)
	p := NewPipeline(msgs, groups, convs, notify)
	return p, msgs, groups, convs, notify
}

func TestSendDirectToOnlineReceiver(t *testing.T) {
	p, _, _, _, notify := newTestPipeline("alice", "bob")
	ctx := context.Background()

	m, err := p.SendDirect(ctx, "alice", "bob", "hi", "")
	if err != nil {
		t.Fatalf("SendDirect: %v", err)
	}
	if m.Status != model.StatusDelivered {
		t.Errorf("status = %q, want delivered", m.Status)
	}
	if !m.DeliveredToUser("bob") {
		t.Errorf("delivered set = %v, want bob", m.Delivered)
	}
	if notify.count("bob", EventNewMessage) != 1 {
		t.Errorf("bob got %d newMessage events, want 1", notify.count("bob", EventNewMessage))
	}
	ev, ok := notify.last("alice", EventMessageDelivered)
	if !ok {
		t.Fatal("alice got no delivery confirmation")
	}
	de := ev.payload.(DeliveredEvent)
	if de.MessageID != m.ID || len(de.DeliveredTo) != 1 || de.DeliveredTo[0] != "bob" {
		t.Errorf("delivery event = %+v", de)
	}
}

func TestSendDirectToOfflineReceiver(t *testing.T) {
	p, _, _, _, notify := newTestPipeline("alice")
	ctx := context.Background()

	m, err := p.SendDirect(ctx, "alice", "bob", "hi", "")
	if err != nil {
		t.Fatalf("SendDirect: %v", err)
	}
	if m.Status != model.StatusSent {
		t.Errorf("status = %q, want sent", m.Status)
	}
	if len(m.Delivered) != 0 {
		t.Errorf("delivered set = %v, want empty", m.Delivered)
	}
	if notify.count("alice", EventMessageDelivered) != 0 {
		t.Error("sender must not get a delivery confirmation for an offline receiver")
	}
}

func TestSendDirectValidation(t *testing.T) {
	p, _, _, _, _ := newTestPipeline("alice")
	ctx := context.Background()

	if _, err := p.SendDirect(ctx, "alice", "bob", "   ", ""); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("blank text: err = %v, want ErrValidation", err)
	}
	if _, err := p.SendDirect(ctx, "alice", "alice", "hi", ""); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("self-send: err = %v, want ErrValidation", err)
	}
}

func TestBackfillDeliversOnceAndNotifiesSender(t *testing.T) {
	p, _, _, _, notify := newTestPipeline("alice")
	ctx := context.Background()

	m, err := p.SendDirect(ctx, "alice", "bob", "while you were out", "")
	if err != nil {
		t.Fatalf("SendDirect: %v", err)
	}

	// bob comes online
	notify.online["bob"] = true
	if err := p.Backfill(ctx, "bob"); err != nil {
		t.Fatalf("Backfill: %v", err)
	}
	if notify.count("bob", EventNewMessage) != 1 {
		t.Errorf("bob got %d replayed messages, want 1", notify.count("bob", EventNewMessage))
	}
	ev, ok := notify.last("alice", EventMessageDelivered)
	if !ok {
		t.Fatal("sender not notified on backfill")
	}
	if ev.payload.(DeliveredEvent).MessageID != m.ID {
		t.Errorf("wrong message in backfill notification")
	}

	// second backfill must be a no-op
	if err := p.Backfill(ctx, "bob"); err != nil {
		t.Fatalf("Backfill again: %v", err)
	}
	if notify.count("bob", EventNewMessage) != 1 {
		t.Error("backfill replayed an already-delivered message")
	}
	if notify.count("alice", EventMessageDelivered) != 1 {
		t.Error("duplicate delivery notification after second backfill")
	}
}

func TestMarkSeenIsIdempotent(t *testing.T) {
	p, msgs, _, _, notify := newTestPipeline("alice", "bob")
	ctx := context.Background()

	m, err := p.SendDirect(ctx, "alice", "bob", "hi", "")
	if err != nil {
		t.Fatalf("SendDirect: %v", err)
	}
	if err := p.MarkSeen(ctx, "bob", "alice"); err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}
	if notify.count("alice", EventMessagesSeen) != 1 {
		t.Fatalf("alice got %d seen events, want 1", notify.count("alice", EventMessagesSeen))
	}

	if err := p.MarkSeen(ctx, "bob", "alice"); err != nil {
		t.Fatalf("MarkSeen again: %v", err)
	}
	if notify.count("alice", EventMessagesSeen) != 1 {
		t.Error("redundant seen notification emitted")
	}
	got, _ := msgs.GetByID(ctx, m.ID)
	if len(got.Seen) != 1 {
		t.Errorf("seen set = %v, want exactly one entry", got.Seen)
	}
}

func TestHistoryPaginationWalksWholeConversation(t *testing.T) {
	p, msgs, _, _, _ := newTestPipeline()
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	want := []string{"m1", "m2", "m3", "m4", "m5"}
	for i, id := range want {
		msgs.Create(ctx, &model.Message{
			ID: id, SenderID: "alice", ReceiverID: "bob",
			Text: id, CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	var got []string
	cursor := ""
	for {
		page, err := p.History(ctx, "bob", "alice", cursor, 2)
		if err != nil {
			t.Fatalf("History(cursor=%q): %v", cursor, err)
		}
		for _, m := range page.Messages {
			got = append(got, m.ID)
		}
		if !page.HasMore {
			break
		}
		cursor = page.NextCursor
	}

	// each page is chronological; walking back-to-front yields newest pages
	// first: m4,m5 then m2,m3 then m1
	wantWalk := []string{"m4", "m5", "m2", "m3", "m1"}
	if len(got) != len(wantWalk) {
		t.Fatalf("walked %v, want %v", got, wantWalk)
	}
	for i := range got {
		if got[i] != wantWalk[i] {
			t.Fatalf("walked %v, want %v", got, wantWalk)
		}
	}
}

func TestHistoryUnknownCursor(t *testing.T) {
	p, _, _, _, _ := newTestPipeline()
	if _, err := p.History(context.Background(), "bob", "alice", "nope", 10); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func TestGroupSendDeliveryScenario(t *testing.T) {
	// alice sends to a group of three; bob online, carol offline.
	p, _, _, _, notify := newTestPipeline("alice", "bob")
	ctx := context.Background()

	conv, err := p.CreateGroup(ctx, "alice", "trio", "", "", []string{"bob", "carol"})
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	m, err := p.SendGroup(ctx, "alice", conv.ID, "hello all", "", nil)
	if err != nil {
		t.Fatalf("SendGroup: %v", err)
	}
	if m.Status != model.StatusDelivered {
		t.Errorf("status = %q, want delivered", m.Status)
	}
	if !m.DeliveredToUser("bob") || m.DeliveredToUser("carol") {
		t.Errorf("delivered set = %v, want bob only", m.Delivered)
	}
	ev, ok := notify.last("alice", EventGroupMessageDelivered)
	if !ok {
		t.Fatal("sender got no delivery summary")
	}
	de := ev.payload.(DeliveredEvent)
	if len(de.DeliveredTo) != 1 || de.DeliveredTo[0] != "bob" {
		t.Errorf("summary names %v, want [bob]", de.DeliveredTo)
	}

	// carol reconnects; sender gets a second, individual notification
	notify.online["carol"] = true
	if err := p.Backfill(ctx, "carol"); err != nil {
		t.Fatalf("Backfill: %v", err)
	}
	if notify.count("alice", EventGroupMessageDelivered) != 2 {
		t.Errorf("sender got %d delivery events, want 2", notify.count("alice", EventGroupMessageDelivered))
	}
	ev, _ = notify.last("alice", EventGroupMessageDelivered)
	de = ev.payload.(DeliveredEvent)
	if len(de.DeliveredTo) != 1 || de.DeliveredTo[0] != "carol" {
		t.Errorf("backfill summary names %v, want [carol]", de.DeliveredTo)
	}
}

func TestMarkGroupSeenExcludesOwnMessages(t *testing.T) {
	p, _, groups, _, notify := newTestPipeline("alice", "bob", "carol")
	ctx := context.Background()

	conv, err := p.CreateGroup(ctx, "alice", "trio", "", "", []string{"bob", "carol"})
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	sent, err := p.SendGroup(ctx, "alice", conv.ID, "from alice", "", nil)
	if err != nil {
		t.Fatalf("SendGroup: %v", err)
	}
	mine, err := p.SendGroup(ctx, "bob", conv.ID, "from bob", "", nil)
	if err != nil {
		t.Fatalf("SendGroup: %v", err)
	}

	if err := p.MarkGroupSeen(ctx, "bob", conv.ID); err != nil {
		t.Fatalf("MarkGroupSeen: %v", err)
	}
	got, _ := groups.GetByID(ctx, sent.ID)
	if !got.SeenByUser("bob") {
		t.Error("alice's message not marked seen by bob")
	}
	own, _ := groups.GetByID(ctx, mine.ID)
	if own.SeenByUser("bob") {
		t.Error("bob's own message marked seen by himself")
	}
	if notify.count("alice", EventGroupMessagesSeen) != 1 {
		t.Errorf("alice got %d seen events, want 1", notify.count("alice", EventGroupMessagesSeen))
	}
	if notify.count("carol", EventGroupMessagesSeen) != 1 {
		t.Errorf("carol got %d seen events, want 1", notify.count("carol", EventGroupMessagesSeen))
	}
}

func TestDeleteGroupForEveryoneWindow(t *testing.T) {
	p, _, _, _, _ := newTestPipeline("alice", "bob")
	ctx := context.Background()

	conv, err := p.CreateGroup(ctx, "alice", "pair", "", "", []string{"bob"})
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	m, err := p.SendGroup(ctx, "alice", conv.ID, "oops", "", nil)
	if err != nil {
		t.Fatalf("SendGroup: %v", err)
	}

	sent := m.CreatedAt
	p.now = func() time.Time { return sent.Add(59 * time.Minute) }
	if err := p.DeleteGroupForEveryone(ctx, "alice", m.ID); err != nil {
		t.Errorf("delete at 59m: %v", err)
	}

	m2, err := p.SendGroup(ctx, "alice", conv.ID, "oops again", "", nil)
	if err != nil {
		t.Fatalf("SendGroup: %v", err)
	}
	p.now = func() time.Time { return m2.CreatedAt.Add(61 * time.Minute) }
	if err := p.DeleteGroupForEveryone(ctx, "alice", m2.ID); !errors.Is(err, apperr.ErrPolicy) {
		t.Errorf("delete at 61m: err = %v, want ErrPolicy", err)
	}
}

func TestDeleteGroupForEveryoneSenderOnly(t *testing.T) {
	p, _, _, _, _ := newTestPipeline("alice", "bob")
	ctx := context.Background()

	conv, _ := p.CreateGroup(ctx, "alice", "pair", "", "", []string{"bob"})
	m, _ := p.SendGroup(ctx, "alice", conv.ID, "mine", "", nil)
	if err := p.DeleteGroupForEveryone(ctx, "bob", m.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("err = %v, want ErrForbidden", err)
	}
}

func TestDeleteGroupForMeHidesFromHistory(t *testing.T) {
	p, _, _, _, _ := newTestPipeline("alice", "bob")
	ctx := context.Background()

	conv, _ := p.CreateGroup(ctx, "alice", "pair", "", "", []string{"bob"})
	m, _ := p.SendGroup(ctx, "alice", conv.ID, "noise", "", nil)
	if err := p.DeleteGroupForMe(ctx, "bob", m.ID); err != nil {
		t.Fatalf("DeleteGroupForMe: %v", err)
	}

	bobPage, err := p.GroupHistory(ctx, "bob", conv.ID, "", 10)
	if err != nil {
		t.Fatalf("GroupHistory: %v", err)
	}
	if len(bobPage.Messages) != 0 {
		t.Errorf("bob still sees %d messages", len(bobPage.Messages))
	}
	alicePage, err := p.GroupHistory(ctx, "alice", conv.ID, "", 10)
	if err != nil {
		t.Fatalf("GroupHistory: %v", err)
	}
	if len(alicePage.Messages) != 1 {
		t.Errorf("alice sees %d messages, want 1", len(alicePage.Messages))
	}
}

func TestLeaveGroupPromotesNewAdmin(t *testing.T) {
	p, _, _, convs, notify := newTestPipeline("alice", "bob", "carol")
	ctx := context.Background()

	conv, _ := p.CreateGroup(ctx, "alice", "trio", "", "", []string{"bob", "carol"})
	if err := p.LeaveGroup(ctx, "alice", conv.ID); err != nil {
		t.Fatalf("LeaveGroup: %v", err)
	}
	got, err := convs.GetByID(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.IsParticipant("alice") {
		t.Error("alice still a participant")
	}
	if len(got.AdminIDs) == 0 {
		t.Error("group left without an admin")
	}
	if notify.count("bob", EventNewAdminAdded) != 1 {
		t.Error("remaining members not told about the new admin")
	}
}

func TestRemoveParticipantRequiresAdmin(t *testing.T) {
	p, _, _, _, _ := newTestPipeline("alice", "bob", "carol")
	ctx := context.Background()

	conv, _ := p.CreateGroup(ctx, "alice", "trio", "", "", []string{"bob", "carol"})
	if err := p.RemoveParticipant(ctx, "bob", conv.ID, "carol"); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("err = %v, want ErrForbidden", err)
	}
	if err := p.RemoveParticipant(ctx, "alice", conv.ID, "carol"); err != nil {
		t.Errorf("admin removal failed: %v", err)
	}
}
