package services

import (
	"context"
	"testing"
	"time"

	"WeGo/server/internal/config"
	"WeGo/server/internal/models"
	"WeGo/server/internal/repository"
	apperrors "WeGo/server/pkg/errors"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChatStore struct {
	chats      map[int]*models.Chat
	nextChatID int
	nextMsgID  int
}

func newFakeChatStore() *fakeChatStore {
	return &fakeChatStore{chats: map[int]*models.Chat{}}
}

func (f *fakeChatStore) assignIDs(chat *models.Chat) {
	for _, m := range chat.PendingNewMessages() {
		f.nextMsgID++
		m.ID = f.nextMsgID
	}
	chat.ResetChanges()
}

func (f *fakeChatStore) CreateDirect(_ context.Context, a, b *models.User, now time.Time) (*models.Chat, bool, error) {
	for _, c := range f.chats {
		if c.Type == models.ChatTypeDirect && c.HasParticipant(a.ID) && c.HasParticipant(b.ID) {
			return c, false, nil
		}
	}
	chat := models.NewDirectChat(a, b, now)
	f.nextChatID++
	chat.ID = f.nextChatID
	f.chats[chat.ID] = chat
	return chat, true, nil
}

func (f *fakeChatStore) CreateGroup(_ context.Context, chat *models.Chat) error {
	f.nextChatID++
	chat.ID = f.nextChatID
	f.assignIDs(chat)
	f.chats[chat.ID] = chat
	return nil
}

func (f *fakeChatStore) GetChat(_ context.Context, chatID int) (*models.Chat, error) {
	chat, ok := f.chats[chatID]
	if !ok {
		return nil, apperrors.NotFound("Chat not found")
	}
	return chat, nil
}

func (f *fakeChatStore) Mutate(ctx context.Context, chatID int, fn func(chat *models.Chat) error) (*models.Chat, error) {
	chat, err := f.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if err := fn(chat); err != nil {
		return nil, err
	}
	if chat.Destroyed() {
		delete(f.chats, chatID)
	}
	f.assignIDs(chat)
	return chat, nil
}

func (f *fakeChatStore) ListForUser(context.Context, int, string, int, int) ([]*repository.ChatSummary, int, error) {
	return nil, 0, nil
}

func (f *fakeChatStore) UnreadTotal(context.Context, int) (int, error) { return 0, nil }

type published struct {
	target  string // "chat", "user", "all"
	id      int
	event   string
	exclude string
}

type fakeNotifier struct {
	events []published
}

func (f *fakeNotifier) ToChat(chatID int, event string, _ any, excludeConn string) {
	f.events = append(f.events, published{"chat", chatID, event, excludeConn})
}

func (f *fakeNotifier) ToUser(userID int, event string, _ any) {
	f.events = append(f.events, published{"user", userID, event, ""})
}

func (f *fakeNotifier) ToAll(event string, _ any) {
	f.events = append(f.events, published{"all", 0, event, ""})
}

func (f *fakeNotifier) byEvent(event string) []published {
	var out []published
	for _, e := range f.events {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

// byChatEvent keeps only room broadcasts, filtering out the per-user copies
// some operations also publish.
func (f *fakeNotifier) byChatEvent(event string) []published {
	var out []published
	for _, e := range f.byEvent(event) {
		if e.target == "chat" {
			out = append(out, e)
		}
	}
	return out
}

type fakeUsers struct {
	users map[int]*models.User
}

func (f *fakeUsers) GetUserByID(_ context.Context, id int) (*models.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, apperrors.NotFound("User not found")
	}
	return u, nil
}

func (f *fakeUsers) GetUsersByIDs(_ context.Context, ids []int) ([]*models.User, error) {
	var out []*models.User
	for _, id := range ids {
		if u, ok := f.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeUsers) ProfilesFor(_ context.Context, ids []int) (map[int]models.Profile, error) {
	out := map[int]models.Profile{}
	for _, id := range ids {
		out[id] = models.Profile{UserID: id}
	}
	return out, nil
}

type fakeActivities struct {
	activity    *models.Activity
	roster      map[int]bool
	removed     []int
	deleted     []int
	metaUpdates int
}

func (f *fakeActivities) Get(_ context.Context, id int) (*models.Activity, error) {
	if f.activity == nil || f.activity.ID != id {
		return nil, apperrors.NotFound("Activity not found")
	}
	return f.activity, nil
}

func (f *fakeActivities) IsParticipant(_ context.Context, _, userID int) (bool, error) {
	return f.roster[userID], nil
}

func (f *fakeActivities) RemoveParticipant(_ context.Context, _, userID int) error {
	f.removed = append(f.removed, userID)
	return nil
}

func (f *fakeActivities) UpdateMeta(_ context.Context, _ int, _, _ *string, _ *int) error {
	f.metaUpdates++
	return nil
}

func (f *fakeActivities) Delete(_ context.Context, id int) error {
	f.deleted = append(f.deleted, id)
	return nil
}

type fixture struct {
	svc        *ChatService
	store      *fakeChatStore
	notifier   *fakeNotifier
	activities *fakeActivities
	clock      *clockwork.FakeClock
}

func newFixture(t *testing.T, policy string) *fixture {
	t.Helper()
	users := &fakeUsers{users: map[int]*models.User{
		1: {ID: 1, Username: "alice", Email: "alice@example.com"},
		2: {ID: 2, Username: "bob", Email: "bob@example.com"},
		3: {ID: 3, Username: "carol", Email: "carol@example.com"},
	}}
	store := newFakeChatStore()
	notifier := &fakeNotifier{}
	activities := &fakeActivities{roster: map[int]bool{}}
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	svc := NewChatService(store, users, users, activities, notifier, clock, policy)
	return &fixture{svc: svc, store: store, notifier: notifier, activities: activities, clock: clock}
}

func (fx *fixture) group(t *testing.T, memberIDs []int, related *int) *ChatView {
	t.Helper()
	view, err := fx.svc.CreateGroupChat(context.Background(), 1, CreateGroupParams{
		Name:              "Trip",
		MemberIDs:         memberIDs,
		RelatedActivityID: related,
	})
	require.NoError(t, err)
	return view
}

func TestCreateDirectChatWithSelf(t *testing.T) {
	fx := newFixture(t, "")
	_, _, err := fx.svc.CreateDirectChat(context.Background(), 1, 1)
	assert.Equal(t, apperrors.CodeInvalidArgument, apperrors.CodeOf(err))
}

func TestCreateDirectChatUnknownUser(t *testing.T) {
	fx := newFixture(t, "")
	_, _, err := fx.svc.CreateDirectChat(context.Background(), 1, 99)
	assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))
}

func TestCreateDirectChatIdempotent(t *testing.T) {
	fx := newFixture(t, "")
	ctx := context.Background()

	first, created, err := fx.svc.CreateDirectChat(ctx, 1, 2)
	require.NoError(t, err)
	assert.True(t, created)

	// second call, either direction, returns the same chat
	second, created, err := fx.svc.CreateDirectChat(ctx, 2, 1)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	// only the creation notified the other side
	assert.Len(t, fx.notifier.byEvent(EventChatUpdated), 1)
}

func TestCreateGroupChatNotifiesMembers(t *testing.T) {
	fx := newFixture(t, "")
	fx.group(t, []int{2, 3}, nil)

	updates := fx.notifier.byEvent(EventChatUpdated)
	require.Len(t, updates, 2)
	for _, e := range updates {
		assert.Equal(t, "user", e.target)
		assert.NotEqual(t, 1, e.id, "the creator already holds the response")
	}
}

func TestCreateGroupChatRequiresName(t *testing.T) {
	fx := newFixture(t, "")
	_, err := fx.svc.CreateGroupChat(context.Background(), 1, CreateGroupParams{Name: "  "})
	assert.Equal(t, apperrors.CodeInvalidArgument, apperrors.CodeOf(err))
}

func TestSendMessagePublishesExcludingSender(t *testing.T) {
	fx := newFixture(t, "")
	view := fx.group(t, []int{2}, nil)

	msg, err := fx.svc.SendMessage(context.Background(), 1, view.ID, "hello", "", "", "conn-1")
	require.NoError(t, err)
	assert.NotZero(t, msg.ID)
	require.NotNil(t, msg.Sender)
	assert.Equal(t, "alice", msg.Sender.Username)

	received := fx.notifier.byEvent(EventMessageReceive)
	require.Len(t, received, 1)
	assert.Equal(t, "chat", received[0].target)
	assert.Equal(t, view.ID, received[0].id)
	assert.Equal(t, "conn-1", received[0].exclude)
}

func TestSendMessageToUnknownChat(t *testing.T) {
	fx := newFixture(t, "")
	_, err := fx.svc.SendMessage(context.Background(), 1, 999, "hello", "", "", "")
	assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))
	assert.Empty(t, fx.notifier.events, "failed mutations publish nothing")
}

func TestMarkReadPublishesAndCounts(t *testing.T) {
	fx := newFixture(t, "")
	view := fx.group(t, []int{2}, nil)
	ctx := context.Background()

	_, err := fx.svc.SendMessage(ctx, 2, view.ID, "one", "", "", "")
	require.NoError(t, err)
	_, err = fx.svc.SendMessage(ctx, 2, view.ID, "two", "", "", "")
	require.NoError(t, err)

	unread, err := fx.svc.MarkRead(ctx, 1, view.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, unread)
	assert.Len(t, fx.notifier.byEvent(EventMessageReadUpdate), 1)
}

func TestEditAndDeletePublish(t *testing.T) {
	fx := newFixture(t, "")
	view := fx.group(t, []int{2}, nil)
	ctx := context.Background()

	msg, err := fx.svc.SendMessage(ctx, 1, view.ID, "typo", "", "", "")
	require.NoError(t, err)

	_, err = fx.svc.EditMessage(ctx, 1, view.ID, msg.ID, "fixed")
	require.NoError(t, err)
	_, err = fx.svc.DeleteMessage(ctx, 1, view.ID, msg.ID)
	require.NoError(t, err)

	// group creation notifies bob user-side; the edit and the delete are the
	// only room broadcasts
	assert.Len(t, fx.notifier.byChatEvent(EventChatUpdated), 2)
}

func TestRemoveLastParticipantDeletesChat(t *testing.T) {
	fx := newFixture(t, "")
	view := fx.group(t, nil, nil)
	ctx := context.Background()

	require.NoError(t, fx.svc.RemoveParticipant(ctx, 1, view.ID, 1))

	deleted := fx.notifier.byEvent(EventChatDeleted)
	require.Len(t, deleted, 1)
	assert.Equal(t, "chat", deleted[0].target)

	_, err := fx.svc.GetChat(ctx, 1, view.ID)
	assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))
}

func TestRemoveParticipantDirectChatRejected(t *testing.T) {
	fx := newFixture(t, "")
	ctx := context.Background()

	view, _, err := fx.svc.CreateDirectChat(ctx, 1, 2)
	require.NoError(t, err)

	// the participants endpoint is group-only, even for self-removal
	err = fx.svc.RemoveParticipant(ctx, 1, view.ID, 1)
	assert.Equal(t, apperrors.CodeFailedPrecondition, apperrors.CodeOf(err))
	assert.True(t, fx.store.chats[view.ID].HasParticipant(1))

	// leaving the chat still works for direct chats
	require.NoError(t, fx.svc.LeaveChat(ctx, 1, view.ID))
	assert.False(t, fx.store.chats[view.ID].HasParticipant(1))
}

func TestRemoveParticipantSyncsActivity(t *testing.T) {
	fx := newFixture(t, "")
	activityID := 5
	fx.activities.activity = &models.Activity{ID: activityID}
	view := fx.group(t, []int{2}, &activityID)

	require.NoError(t, fx.svc.RemoveParticipant(context.Background(), 2, view.ID, 2))
	assert.Equal(t, []int{2}, fx.activities.removed)
}

func TestDeleteGroupDeletesActivity(t *testing.T) {
	fx := newFixture(t, "")
	activityID := 5
	fx.activities.activity = &models.Activity{ID: activityID}
	view := fx.group(t, []int{2}, &activityID)

	require.NoError(t, fx.svc.DeleteGroup(context.Background(), 1, view.ID))
	assert.Equal(t, []int{activityID}, fx.activities.deleted)
	assert.Len(t, fx.notifier.byEvent(EventChatDeleted), 1)
}

func TestDeleteGroupNotOwner(t *testing.T) {
	fx := newFixture(t, "")
	view := fx.group(t, []int{2}, nil)

	err := fx.svc.DeleteGroup(context.Background(), 2, view.ID)
	assert.Equal(t, apperrors.CodePermissionDenied, apperrors.CodeOf(err))
}

func TestUpdateGroupInfoSyncsActivity(t *testing.T) {
	fx := newFixture(t, "")
	activityID := 5
	fx.activities.activity = &models.Activity{ID: activityID}
	view := fx.group(t, []int{2}, &activityID)

	name := "New Trip"
	updated, err := fx.svc.UpdateGroupInfo(context.Background(), 1, view.ID, UpdateGroupParams{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "New Trip", updated.Name)
	assert.Equal(t, 1, fx.activities.metaUpdates)
}

func TestGetChatNonParticipant(t *testing.T) {
	fx := newFixture(t, "")
	view := fx.group(t, nil, nil)

	_, err := fx.svc.GetChat(context.Background(), 2, view.ID)
	assert.Equal(t, apperrors.CodePermissionDenied, apperrors.CodeOf(err))
}

func TestGetChatJoinViaActivity(t *testing.T) {
	fx := newFixture(t, "")
	activityID := 5
	fx.activities.activity = &models.Activity{ID: activityID}
	fx.activities.roster[2] = true
	view := fx.group(t, nil, &activityID)

	got, err := fx.svc.GetChat(context.Background(), 2, view.ID)
	require.NoError(t, err)

	found := false
	for _, p := range got.Participants {
		if p.ID == 2 {
			found = true
			assert.Equal(t, models.RoleMember, p.Role)
		}
	}
	assert.True(t, found, "activity participant joins the chat on first access")
	assert.NotEmpty(t, fx.notifier.byEvent(EventChatUpdated))
}

func TestStrictPolicyLocksOutNonRosterUser(t *testing.T) {
	fx := newFixture(t, config.ActivityFullStrict)
	activityID := 5
	max := 1
	fx.activities.activity = &models.Activity{ID: activityID, MaxParticipants: &max, ParticipantCount: 1}
	view := fx.group(t, []int{2}, &activityID)

	// bob is a chat participant but not on the full activity's roster
	_, err := fx.svc.GetChat(context.Background(), 2, view.ID)
	assert.Equal(t, apperrors.CodePermissionDenied, apperrors.CodeOf(err))

	// soft policy lets existing participants through
	soft := newFixture(t, config.ActivityFullSoft)
	soft.activities.activity = &models.Activity{ID: activityID, MaxParticipants: &max, ParticipantCount: 1}
	softView := soft.group(t, []int{2}, &activityID)
	_, err = soft.svc.GetChat(context.Background(), 2, softView.ID)
	assert.NoError(t, err)
}

// Full lifecycle: create the "Trip" group with bob, message it, remove bob,
// then the owner leaves and the chat disappears.
func TestGroupRemoveAllThenDeleted(t *testing.T) {
	fx := newFixture(t, "")
	view := fx.group(t, []int{2}, nil)
	ctx := context.Background()

	_, err := fx.svc.SendMessage(ctx, 1, view.ID, "hello", "", "", "")
	require.NoError(t, err)

	require.NoError(t, fx.svc.RemoveParticipant(ctx, 1, view.ID, 2))
	got, err := fx.svc.GetChat(ctx, 1, view.ID)
	require.NoError(t, err)
	require.Len(t, got.Participants, 1)
	assert.Equal(t, models.RoleOwner, got.Participants[0].Role)

	require.NoError(t, fx.svc.RemoveParticipant(ctx, 1, view.ID, 1))
	_, err = fx.svc.GetChat(ctx, 1, view.ID)
	assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))
	assert.Len(t, fx.notifier.byEvent(EventChatDeleted), 2, "room broadcast plus the removed user's own notice")
}

func TestUnknownEditorGetsTaxonomyError(t *testing.T) {
	fx := newFixture(t, "")
	view := fx.group(t, []int{2}, nil)
	ctx := context.Background()

	msg, err := fx.svc.SendMessage(ctx, 1, view.ID, "mine", "", "", "")
	require.NoError(t, err)

	_, err = fx.svc.EditMessage(ctx, 2, view.ID, msg.ID, "not yours")
	assert.Equal(t, apperrors.CodePermissionDenied, apperrors.CodeOf(err))
}
