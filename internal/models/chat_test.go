package models

import (
	"testing"
	"time"

	apperrors "WeGo/server/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testUser(id int, username string) *User {
	return &User{ID: id, Username: username, Email: username + "@example.com"}
}

// flushIDs simulates the repository flush: pending messages get ids assigned
// in append order, then the change set clears.
func flushIDs(c *Chat, next *int) {
	for _, m := range c.PendingNewMessages() {
		*next++
		m.ID = *next
	}
	c.ResetChanges()
}

func newTestGroup(t *testing.T) (*Chat, *int) {
	t.Helper()
	owner := testUser(1, "alice")
	members := []*User{testUser(2, "bob"), testUser(3, "carol")}
	chat := NewGroupChat(owner, members, GroupInfo{Name: "Trip"}, baseTime)
	chat.ID = 10
	next := 0
	return chat, &next
}

func TestNewGroupChatCreatorIsOwner(t *testing.T) {
	creator := testUser(1, "alice")
	chat := NewGroupChat(creator, []*User{testUser(2, "bob"), testUser(1, "alice"), nil}, GroupInfo{Name: "Trip"}, baseTime)

	require.Len(t, chat.Participants, 2)
	assert.Equal(t, RoleOwner, chat.Participants[0].Role)
	assert.Equal(t, 1, chat.Participants[0].UserID)
	assert.Equal(t, RoleMember, chat.Participants[1].Role)
}

func TestAddMessageRequiresParticipant(t *testing.T) {
	chat, _ := newTestGroup(t)

	_, err := chat.AddMessage(99, "hi", "", "", baseTime)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodePermissionDenied, apperrors.CodeOf(err))
}

func TestAddMessageValidation(t *testing.T) {
	chat, _ := newTestGroup(t)

	_, err := chat.AddMessage(1, "   ", "", "", baseTime)
	assert.Equal(t, apperrors.CodeInvalidArgument, apperrors.CodeOf(err))

	_, err = chat.AddMessage(1, "hi", "carrier-pigeon", "", baseTime)
	assert.Equal(t, apperrors.CodeInvalidArgument, apperrors.CodeOf(err))

	msg, err := chat.AddMessage(1, "hi", "", "", baseTime)
	require.NoError(t, err)
	assert.Equal(t, MessageTypeText, msg.Type)
	require.NotNil(t, chat.LastMessageAt)
	assert.Equal(t, baseTime, *chat.LastMessageAt)
}

func TestEditMessageOnlySender(t *testing.T) {
	chat, next := newTestGroup(t)
	msg, err := chat.AddMessage(2, "original", "", "", baseTime)
	require.NoError(t, err)
	flushIDs(chat, next)

	_, err = chat.EditMessage(1, msg.ID, "hijacked", baseTime)
	assert.Equal(t, apperrors.CodePermissionDenied, apperrors.CodeOf(err))

	edited, err := chat.EditMessage(2, msg.ID, "fixed", baseTime.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, edited.IsEdited)
	assert.Equal(t, "fixed", edited.Content)
}

func TestEditDeletedMessageFails(t *testing.T) {
	chat, next := newTestGroup(t)
	msg, _ := chat.AddMessage(2, "oops", "", "", baseTime)
	flushIDs(chat, next)

	_, err := chat.DeleteMessage(2, msg.ID, baseTime)
	require.NoError(t, err)

	_, err = chat.EditMessage(2, msg.ID, "too late", baseTime)
	assert.Equal(t, apperrors.CodeFailedPrecondition, apperrors.CodeOf(err))
}

func TestDeleteMessagePermissions(t *testing.T) {
	chat, next := newTestGroup(t)
	msg, _ := chat.AddMessage(2, "to delete", "", "", baseTime)
	flushIDs(chat, next)

	// another plain member may not delete it
	_, err := chat.DeleteMessage(3, msg.ID, baseTime)
	assert.Equal(t, apperrors.CodePermissionDenied, apperrors.CodeOf(err))

	// the owner may
	deleted, err := chat.DeleteMessage(1, msg.ID, baseTime)
	require.NoError(t, err)
	assert.True(t, deleted.IsDeleted)
	assert.Equal(t, DeletedMessageContent, deleted.Content)
}

func TestDeleteMessageIdempotent(t *testing.T) {
	chat, next := newTestGroup(t)
	msg, _ := chat.AddMessage(2, "bye", "", "", baseTime)
	flushIDs(chat, next)

	first, err := chat.DeleteMessage(2, msg.ID, baseTime)
	require.NoError(t, err)
	deletedAt := *first.DeletedAt

	again, err := chat.DeleteMessage(2, msg.ID, baseTime.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, deletedAt, *again.DeletedAt, "second delete must not change the tombstone")
}

func TestUnreadCountExcludesOwnAndDeleted(t *testing.T) {
	chat, next := newTestGroup(t)
	chat.AddMessage(1, "from alice", "", "", baseTime)
	m2, _ := chat.AddMessage(2, "from bob", "", "", baseTime.Add(time.Second))
	chat.AddMessage(3, "from carol", "", "", baseTime.Add(2*time.Second))
	flushIDs(chat, next)

	// alice: bob + carol unread, her own excluded
	assert.Equal(t, 2, chat.UnreadCount(1))

	_, err := chat.DeleteMessage(2, m2.ID, baseTime)
	require.NoError(t, err)
	assert.Equal(t, 1, chat.UnreadCount(1), "deleted messages leave unread counts")
}

func TestMarkReadWatermark(t *testing.T) {
	chat, next := newTestGroup(t)
	chat.AddMessage(2, "one", "", "", baseTime)
	chat.AddMessage(2, "two", "", "", baseTime.Add(time.Second))
	m3, _ := chat.AddMessage(2, "three", "", "", baseTime.Add(2*time.Second))
	flushIDs(chat, next)

	require.NoError(t, chat.MarkRead(1, nil))
	assert.Equal(t, 0, chat.UnreadCount(1))
	assert.Equal(t, m3.ID, chat.Participant(1).LastReadMessageID)

	// a later message becomes unread again
	chat.AddMessage(2, "four", "", "", baseTime.Add(3*time.Second))
	flushIDs(chat, next)
	assert.Equal(t, 1, chat.UnreadCount(1))
}

func TestMarkReadExplicitIDs(t *testing.T) {
	chat, next := newTestGroup(t)
	m1, _ := chat.AddMessage(2, "one", "", "", baseTime)
	chat.AddMessage(2, "two", "", "", baseTime.Add(time.Second))
	flushIDs(chat, next)

	require.NoError(t, chat.MarkRead(1, []int{m1.ID, 9999}))
	assert.Equal(t, m1.ID, chat.Participant(1).LastReadMessageID, "unknown ids must not advance the watermark")
	assert.Equal(t, 1, chat.UnreadCount(1))
}

func TestMarkReadNeverRegresses(t *testing.T) {
	chat, next := newTestGroup(t)
	m1, _ := chat.AddMessage(2, "one", "", "", baseTime)
	m2, _ := chat.AddMessage(2, "two", "", "", baseTime.Add(time.Second))
	flushIDs(chat, next)

	require.NoError(t, chat.MarkRead(1, []int{m2.ID}))
	require.NoError(t, chat.MarkRead(1, []int{m1.ID}))
	assert.Equal(t, m2.ID, chat.Participant(1).LastReadMessageID)
}

func TestAddParticipant(t *testing.T) {
	chat, _ := newTestGroup(t)
	dave := testUser(4, "dave")

	// a plain member cannot add
	err := chat.AddParticipantBy(2, dave, RoleMember, baseTime)
	assert.Equal(t, apperrors.CodePermissionDenied, apperrors.CodeOf(err))

	// the owner can
	require.NoError(t, chat.AddParticipantBy(1, dave, RoleMember, baseTime))
	assert.True(t, chat.HasParticipant(4))

	// duplicate add conflicts
	err = chat.AddParticipantBy(1, dave, RoleMember, baseTime)
	assert.Equal(t, apperrors.CodeAlreadyExists, apperrors.CodeOf(err))

	// a system message was recorded
	last := chat.Messages[len(chat.Messages)-1]
	assert.Equal(t, MessageTypeSystem, last.Type)
	assert.Contains(t, last.Content, "has been added")
}

func TestAddParticipantCapacity(t *testing.T) {
	owner := testUser(1, "alice")
	chat := NewGroupChat(owner, []*User{testUser(2, "bob")}, GroupInfo{Name: "Trip", MaxMembers: 2}, baseTime)

	err := chat.AddParticipantBy(1, testUser(3, "carol"), RoleMember, baseTime)
	assert.Equal(t, apperrors.CodeAlreadyExists, apperrors.CodeOf(err))
}

func TestAddParticipantDirectChatFails(t *testing.T) {
	chat := NewDirectChat(testUser(1, "alice"), testUser(2, "bob"), baseTime)
	err := chat.AddParticipantBy(1, testUser(3, "carol"), RoleMember, baseTime)
	assert.Equal(t, apperrors.CodeFailedPrecondition, apperrors.CodeOf(err))
}

func TestRemoveParticipantPermissions(t *testing.T) {
	chat, _ := newTestGroup(t)

	// a member cannot remove another member
	_, err := chat.RemoveParticipantBy(2, 3, baseTime)
	assert.Equal(t, apperrors.CodePermissionDenied, apperrors.CodeOf(err))

	// but can leave
	_, err = chat.RemoveParticipantBy(2, 2, baseTime)
	require.NoError(t, err)
	assert.False(t, chat.HasParticipant(2))

	last := chat.Messages[len(chat.Messages)-1]
	assert.Contains(t, last.Content, "has left the chat")
}

func TestOwnerLeavingPromotesEarliestAdmin(t *testing.T) {
	owner := testUser(1, "alice")
	chat := NewGroupChat(owner, []*User{testUser(2, "bob"), testUser(3, "carol"), testUser(4, "dave")}, GroupInfo{Name: "Trip"}, baseTime)
	require.NoError(t, chat.UpdateRoleBy(1, 3, RoleAdmin))
	require.NoError(t, chat.UpdateRoleBy(1, 4, RoleAdmin))

	promoted, err := chat.RemoveParticipantBy(1, 1, baseTime)
	require.NoError(t, err)
	require.NotNil(t, promoted)
	assert.Equal(t, 3, promoted.UserID, "earliest-joined admin wins")
	assert.Equal(t, RoleOwner, promoted.Role)
	assert.Nil(t, chat.Participant(1))

	// exactly one owner remains
	owners := 0
	for _, p := range chat.Participants {
		if p.Role == RoleOwner {
			owners++
		}
	}
	assert.Equal(t, 1, owners)
}

func TestOwnerLeavingNoAdminPromotesEarliestMember(t *testing.T) {
	owner := testUser(1, "alice")
	chat := NewGroupChat(owner, []*User{testUser(2, "bob"), testUser(3, "carol")}, GroupInfo{Name: "Trip"}, baseTime)

	promoted, err := chat.RemoveParticipantBy(1, 1, baseTime)
	require.NoError(t, err)
	require.NotNil(t, promoted)
	assert.Equal(t, 2, promoted.UserID)
	assert.Equal(t, RoleOwner, promoted.Role)

	// the transfer is recorded before the departure message
	require.GreaterOrEqual(t, len(chat.Messages), 2)
	assert.Contains(t, chat.Messages[len(chat.Messages)-2].Content, "Ownership has been transferred to bob")
	assert.Contains(t, chat.Messages[len(chat.Messages)-1].Content, "has left the chat")
}

func TestLastParticipantLeavingDestroysChat(t *testing.T) {
	owner := testUser(1, "alice")
	chat := NewGroupChat(owner, nil, GroupInfo{Name: "Trip"}, baseTime)

	_, err := chat.RemoveParticipantBy(1, 1, baseTime)
	require.NoError(t, err)
	assert.True(t, chat.Destroyed())
	assert.Empty(t, chat.Participants)
}

func TestRepairOwner(t *testing.T) {
	owner := testUser(1, "alice")
	chat := NewGroupChat(owner, []*User{testUser(2, "bob"), testUser(3, "carol")}, GroupInfo{Name: "Trip"}, baseTime)
	require.NoError(t, chat.UpdateRoleBy(1, 3, RoleAdmin))

	// simulate the owner's user record being purged
	chat.Participants = chat.Participants[1:]
	chat.ResetChanges()

	require.True(t, chat.RepairOwner(2, baseTime))
	assert.Equal(t, RoleOwner, chat.Participant(3).Role, "admin preferred over older member")
	assert.False(t, chat.RepairOwner(2, baseTime), "repair is a no-op once an owner exists")
}

func TestUpdateRoleRules(t *testing.T) {
	chat, _ := newTestGroup(t)

	err := chat.UpdateRoleBy(2, 3, RoleAdmin)
	assert.Equal(t, apperrors.CodePermissionDenied, apperrors.CodeOf(err))

	err = chat.UpdateRoleBy(1, 3, "president")
	assert.Equal(t, apperrors.CodeInvalidArgument, apperrors.CodeOf(err))

	err = chat.UpdateRoleBy(1, 1, RoleMember)
	assert.Equal(t, apperrors.CodeFailedPrecondition, apperrors.CodeOf(err), "owner role only changes through succession")

	require.NoError(t, chat.UpdateRoleBy(1, 2, RoleAdmin))
	assert.Equal(t, RoleAdmin, chat.Participant(2).Role)

	// admins may update roles too
	require.NoError(t, chat.UpdateRoleBy(2, 3, RoleAdmin))
}

func TestDestroyByOwnerOnly(t *testing.T) {
	chat, _ := newTestGroup(t)

	err := chat.DestroyBy(2)
	assert.Equal(t, apperrors.CodePermissionDenied, apperrors.CodeOf(err))

	require.NoError(t, chat.DestroyBy(1))
	assert.True(t, chat.Destroyed())
}

func TestJoinGroup(t *testing.T) {
	owner := testUser(1, "alice")
	chat := NewGroupChat(owner, nil, GroupInfo{Name: "Trip", MaxMembers: 2}, baseTime)

	require.NoError(t, chat.Join(testUser(2, "bob"), baseTime))
	assert.Equal(t, RoleMember, chat.Participant(2).Role)

	err := chat.Join(testUser(2, "bob"), baseTime)
	assert.Equal(t, apperrors.CodeAlreadyExists, apperrors.CodeOf(err))

	err = chat.Join(testUser(3, "carol"), baseTime)
	assert.Equal(t, apperrors.CodeAlreadyExists, apperrors.CodeOf(err), "capacity applies to joins")
}

func TestPaginationCountsFromTail(t *testing.T) {
	chat, next := newTestGroup(t)
	for i := 0; i < 25; i++ {
		chat.AddMessage(2, "msg", "", "", baseTime.Add(time.Duration(i)*time.Second))
	}
	flushIDs(chat, next)

	page1 := chat.PageMessages(1, 10)
	require.Len(t, page1.Messages, 10)
	assert.Equal(t, 25, page1.Total)
	assert.Equal(t, 3, page1.TotalPages)
	assert.True(t, page1.HasMore)
	// page 1 holds the newest messages, chronological within the page
	assert.Equal(t, 16, page1.Messages[0].ID)
	assert.Equal(t, 25, page1.Messages[9].ID)

	page3 := chat.PageMessages(3, 10)
	require.Len(t, page3.Messages, 5)
	assert.Equal(t, 1, page3.Messages[0].ID)
	assert.False(t, page3.HasMore)

	page4 := chat.PageMessages(4, 10)
	assert.Empty(t, page4.Messages)
}

func TestPaginationStableUnderDeletion(t *testing.T) {
	chat, next := newTestGroup(t)
	for i := 0; i < 20; i++ {
		chat.AddMessage(2, "msg", "", "", baseTime.Add(time.Duration(i)*time.Second))
	}
	flushIDs(chat, next)

	// delete inside what would be page 2
	_, err := chat.DeleteMessage(2, 5, baseTime)
	require.NoError(t, err)

	page1 := chat.PageMessages(1, 10)
	require.Len(t, page1.Messages, 10)
	assert.Equal(t, 19, page1.Total, "tombstones drop out before page math")
	for _, m := range page1.Messages {
		assert.False(t, m.IsDeleted)
	}

	page2 := chat.PageMessages(2, 10)
	require.Len(t, page2.Messages, 9)
	for _, m := range page2.Messages {
		assert.NotEqual(t, 5, m.ID)
	}
}

func TestLastVisibleMessageSkipsTombstones(t *testing.T) {
	chat, next := newTestGroup(t)
	m1, _ := chat.AddMessage(2, "first", "", "", baseTime)
	m2, _ := chat.AddMessage(2, "second", "", "", baseTime.Add(time.Second))
	flushIDs(chat, next)

	require.Equal(t, m2.ID, chat.LastVisibleMessage().ID)

	_, err := chat.DeleteMessage(2, m2.ID, baseTime)
	require.NoError(t, err)
	require.Equal(t, m1.ID, chat.LastVisibleMessage().ID)

	_, err = chat.DeleteMessage(2, m1.ID, baseTime)
	require.NoError(t, err)
	assert.Nil(t, chat.LastVisibleMessage())
}

// The full lifecycle of a trip-planning group: create, chat, promote, lose
// the owner, tombstone a message, and verify every invariant along the way.
func TestGroupLifecycle(t *testing.T) {
	alice := testUser(1, "alice")
	bob := testUser(2, "bob")
	carol := testUser(3, "carol")
	chat := NewGroupChat(alice, []*User{bob, carol}, GroupInfo{Name: "Trip"}, baseTime)
	chat.ID = 42
	next := 0

	_, err := chat.AddMessage(1, "Who's in for the weekend?", "", "", baseTime.Add(time.Minute))
	require.NoError(t, err)
	m2, err := chat.AddMessage(2, "Count me in", "", "", baseTime.Add(2*time.Minute))
	require.NoError(t, err)
	flushIDs(chat, &next)

	assert.Equal(t, 1, chat.UnreadCount(1), "alice has bob's reply unread")
	assert.Equal(t, 1, chat.UnreadCount(2), "bob has alice's question unread")
	assert.Equal(t, 2, chat.UnreadCount(3), "carol has both unread")

	require.NoError(t, chat.MarkRead(3, nil))
	assert.Equal(t, 0, chat.UnreadCount(3))

	require.NoError(t, chat.UpdateRoleBy(1, 2, RoleAdmin))

	promoted, err := chat.RemoveParticipantBy(1, 1, baseTime.Add(3*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, promoted)
	assert.Equal(t, 2, promoted.UserID)
	flushIDs(chat, &next)

	// transfer + departure system messages are part of the log
	sys := 0
	for _, m := range chat.Messages {
		if m.Type == MessageTypeSystem {
			sys++
		}
	}
	assert.Equal(t, 2, sys)

	// the new owner tombstones bob's old message
	deleted, err := chat.DeleteMessage(2, m2.ID, baseTime.Add(4*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, DeletedMessageContent, deleted.Content)
	assert.Equal(t, len(chat.Messages)-1, len(chat.VisibleMessages()))

	// carol's watermark still stands; only visible messages count
	assert.Equal(t, 2, chat.UnreadCount(3), "system messages after the watermark are unread")
}
