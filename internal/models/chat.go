package models

import (
	"fmt"
	"strings"
	"time"

	apperrors "WeGo/server/pkg/errors"
)

const (
	ChatTypeDirect = "direct"
	ChatTypeGroup  = "group"
)

const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

type GroupInfo struct {
	Name              string `json:"name"`
	Description       string `json:"description"`
	MaxMembers        int    `json:"max_members,omitempty"`
	RelatedActivityID *int   `json:"related_activity_id,omitempty"`
}

type Participant struct {
	UserID            int       `json:"user_id"`
	Role              string    `json:"role,omitempty"`
	IsMuted           bool      `json:"is_muted"`
	JoinedAt          time.Time `json:"joined_at"`
	LastReadMessageID int       `json:"-"`

	User *User `json:"user,omitempty"`
}

func (p *Participant) IsAdmin() bool {
	return p.Role == RoleAdmin || p.Role == RoleOwner
}

// Chat is the aggregate root for a conversation. Participants and the message
// log are owned by the chat and mutated only through its methods; the
// repository flushes whatever a method recorded in the change set, inside one
// transaction per mutation.
type Chat struct {
	ID            int        `json:"id"`
	Type          string     `json:"type"`
	GroupInfo     *GroupInfo `json:"group_info,omitempty"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	IsActive      bool       `json:"is_active"`
	CreatedBy     int        `json:"created_by"`
	CreatedAt     time.Time  `json:"created_at"`

	Participants []*Participant `json:"participants"`
	Messages     []*Message     `json:"-"`

	changes changeSet
}

type changeSet struct {
	row               bool
	newParticipants   []*Participant
	dirtyParticipants map[int]bool
	removedUserIDs    []int
	dirtyMessageIDs   map[int]bool
	destroyed         bool
}

func NewDirectChat(a, b *User, now time.Time) *Chat {
	return &Chat{
		Type:      ChatTypeDirect,
		IsActive:  true,
		CreatedBy: a.ID,
		CreatedAt: now,
		Participants: []*Participant{
			{UserID: a.ID, JoinedAt: now, User: a},
			{UserID: b.ID, JoinedAt: now, User: b},
		},
	}
}

// NewGroupChat puts the creator first with role owner and deduplicates the
// member list by user id (the creator never appears twice).
func NewGroupChat(creator *User, members []*User, info GroupInfo, now time.Time) *Chat {
	chat := &Chat{
		Type:      ChatTypeGroup,
		GroupInfo: &info,
		IsActive:  true,
		CreatedBy: creator.ID,
		CreatedAt: now,
		Participants: []*Participant{
			{UserID: creator.ID, Role: RoleOwner, JoinedAt: now, User: creator},
		},
	}
	seen := map[int]bool{creator.ID: true}
	for _, m := range members {
		if m == nil || seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		chat.Participants = append(chat.Participants, &Participant{
			UserID:   m.ID,
			Role:     RoleMember,
			JoinedAt: now,
			User:     m,
		})
	}
	return chat
}

func (c *Chat) Participant(userID int) *Participant {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

func (c *Chat) HasParticipant(userID int) bool {
	return c.Participant(userID) != nil
}

func (c *Chat) Owner() *Participant {
	for _, p := range c.Participants {
		if p.Role == RoleOwner {
			return p
		}
	}
	return nil
}

// AddMessage appends to the log and moves the inbox ordering timestamp.
// The message id stays zero until the repository flushes the aggregate.
func (c *Chat) AddMessage(senderID int, content, msgType, fileURL string, now time.Time) (*Message, error) {
	if !c.HasParticipant(senderID) {
		return nil, apperrors.Forbidden("You are not a participant in this chat")
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperrors.InvalidArg("Message content is required")
	}
	if msgType == "" {
		msgType = MessageTypeText
	}
	if !ValidMessageType(msgType) {
		return nil, apperrors.InvalidArg("Invalid message type")
	}
	return c.appendMessage(senderID, content, msgType, fileURL, now), nil
}

func (c *Chat) appendMessage(senderID int, content, msgType, fileURL string, now time.Time) *Message {
	sender := senderID
	msg := &Message{
		ChatID:    c.ID,
		SenderID:  &sender,
		Content:   content,
		Type:      msgType,
		FileURL:   fileURL,
		CreatedAt: now,
	}
	c.Messages = append(c.Messages, msg)
	ts := now
	c.LastMessageAt = &ts
	c.changes.row = true
	return msg
}

func (c *Chat) addSystemMessage(actorID int, content string, now time.Time) *Message {
	return c.appendMessage(actorID, content, MessageTypeSystem, "", now)
}

func (c *Chat) message(messageID int) *Message {
	if messageID == 0 {
		return nil
	}
	for _, m := range c.Messages {
		if m.ID == messageID {
			return m
		}
	}
	return nil
}

// EditMessage mutates the slot in place; ordering and pagination stay stable.
func (c *Chat) EditMessage(actorID, messageID int, content string, now time.Time) (*Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperrors.InvalidArg("Message content is required")
	}
	msg := c.message(messageID)
	if msg == nil {
		return nil, apperrors.NotFound("Message not found")
	}
	if msg.SenderID == nil || *msg.SenderID != actorID {
		return nil, apperrors.Forbidden("You can only edit your own messages")
	}
	if msg.IsDeleted {
		return nil, apperrors.InvalidState("Cannot edit a deleted message")
	}
	msg.Content = content
	msg.IsEdited = true
	ts := now
	msg.EditedAt = &ts
	c.markMessageDirty(msg)
	return msg, nil
}

// DeleteMessage tombstones the slot: the id stays addressable, the content is
// redacted and the message drops out of unread counts and default listings.
func (c *Chat) DeleteMessage(actorID, messageID int, now time.Time) (*Message, error) {
	msg := c.message(messageID)
	if msg == nil {
		return nil, apperrors.NotFound("Message not found")
	}
	actor := c.Participant(actorID)
	isSender := msg.SenderID != nil && *msg.SenderID == actorID
	if !isSender && (actor == nil || !actor.IsAdmin()) {
		return nil, apperrors.Forbidden("You can only delete your own messages or be an admin")
	}
	if msg.IsDeleted {
		return msg, nil
	}
	msg.IsDeleted = true
	ts := now
	msg.DeletedAt = &ts
	msg.Content = DeletedMessageContent
	c.markMessageDirty(msg)
	c.changes.row = true
	return msg, nil
}

// MarkRead advances the caller's watermark. Without explicit ids every
// currently-visible message is covered; with ids the watermark moves to the
// highest id that actually exists in this chat.
func (c *Chat) MarkRead(userID int, messageIDs []int) error {
	p := c.Participant(userID)
	if p == nil {
		return apperrors.Forbidden("You are not a participant in this chat")
	}
	mark := 0
	if len(messageIDs) == 0 {
		for _, m := range c.Messages {
			if !m.IsDeleted && m.ID > mark {
				mark = m.ID
			}
		}
	} else {
		for _, id := range messageIDs {
			if c.message(id) != nil && id > mark {
				mark = id
			}
		}
	}
	if mark > p.LastReadMessageID {
		p.LastReadMessageID = mark
		c.markParticipantDirty(p)
	}
	return nil
}

// UnreadCount is derived from the watermark: non-deleted messages past it,
// excluding the caller's own.
func (c *Chat) UnreadCount(userID int) int {
	p := c.Participant(userID)
	if p == nil {
		return 0
	}
	count := 0
	for _, m := range c.Messages {
		if m.IsDeleted || m.ID <= p.LastReadMessageID {
			continue
		}
		if m.SenderID != nil && *m.SenderID == userID {
			continue
		}
		count++
	}
	return count
}

func (c *Chat) AddParticipantBy(actorID int, user *User, role string, now time.Time) error {
	if c.Type != ChatTypeGroup {
		return apperrors.InvalidState("Can only add participants to group chats")
	}
	actor := c.Participant(actorID)
	if actor == nil || !actor.IsAdmin() {
		return apperrors.Forbidden("Only admins can add participants")
	}
	if role == "" {
		role = RoleMember
	}
	if role != RoleAdmin && role != RoleMember {
		return apperrors.InvalidArg("Invalid role. Must be admin or member")
	}
	if c.HasParticipant(user.ID) {
		return apperrors.Conflict("User is already a participant")
	}
	if c.GroupInfo != nil && c.GroupInfo.MaxMembers > 0 && len(c.Participants) >= c.GroupInfo.MaxMembers {
		return apperrors.Conflict("Group chat is full")
	}
	p := &Participant{UserID: user.ID, Role: role, JoinedAt: now, User: user}
	c.Participants = append(c.Participants, p)
	c.changes.newParticipants = append(c.changes.newParticipants, p)
	c.addSystemMessage(actorID, fmt.Sprintf("%s has been added to the chat", user.Email), now)
	return nil
}

// Join adds the user themselves, used when an activity participant enters the
// activity's group chat. No admin gate; capacity still applies.
func (c *Chat) Join(user *User, now time.Time) error {
	if c.Type != ChatTypeGroup {
		return apperrors.InvalidState("Can only join group chats")
	}
	if c.HasParticipant(user.ID) {
		return apperrors.Conflict("User is already a participant")
	}
	if c.GroupInfo != nil && c.GroupInfo.MaxMembers > 0 && len(c.Participants) >= c.GroupInfo.MaxMembers {
		return apperrors.Conflict("Group chat is full")
	}
	p := &Participant{UserID: user.ID, Role: RoleMember, JoinedAt: now, User: user}
	c.Participants = append(c.Participants, p)
	c.changes.newParticipants = append(c.changes.newParticipants, p)
	c.addSystemMessage(user.ID, fmt.Sprintf("%s has joined the chat", participantName(p)), now)
	return nil
}

// RemoveParticipantBy removes userID, running ownership succession first when
// the owner departs so the chat is never observable without an owner. The
// promoted participant is returned when a transfer happened. Removing the
// last participant destroys the chat.
func (c *Chat) RemoveParticipantBy(actorID, userID int, now time.Time) (*Participant, error) {
	actor := c.Participant(actorID)
	isSelf := actorID == userID
	if !isSelf && (actor == nil || !actor.IsAdmin()) {
		return nil, apperrors.Forbidden("Only admins can remove other participants")
	}
	target := c.Participant(userID)
	if target == nil {
		return nil, apperrors.NotFound("Participant not found")
	}

	var promoted *Participant
	if c.Type == ChatTypeGroup && target.Role == RoleOwner {
		promoted = c.nextOwner(userID)
		if promoted != nil {
			promoted.Role = RoleOwner
			c.markParticipantDirty(promoted)
			c.addSystemMessage(actorID,
				fmt.Sprintf("Ownership has been transferred to %s", participantName(promoted)), now)
		}
	}

	c.removeParticipant(userID)

	if len(c.Participants) == 0 {
		c.changes.destroyed = true
		return promoted, nil
	}

	if c.Type == ChatTypeGroup {
		if isSelf {
			c.addSystemMessage(actorID, fmt.Sprintf("%s has left the chat", participantName(target)), now)
		} else {
			c.addSystemMessage(actorID, fmt.Sprintf("%s has been removed from the chat", participantName(target)), now)
		}
	}
	return promoted, nil
}

// nextOwner picks the succession candidate: earliest-joined admin, else the
// earliest-joined remaining participant. Join order is participant order.
func (c *Chat) nextOwner(departingUserID int) *Participant {
	var fallback *Participant
	for _, p := range c.Participants {
		if p.UserID == departingUserID {
			continue
		}
		if p.Role == RoleAdmin {
			return p
		}
		if fallback == nil {
			fallback = p
		}
	}
	return fallback
}

// RepairOwner restores the owner invariant on a group chat that was read back
// ownerless (e.g. the owner's user record was purged). Reports whether a
// promotion happened.
func (c *Chat) RepairOwner(actorID int, now time.Time) bool {
	if c.Type != ChatTypeGroup || len(c.Participants) == 0 || c.Owner() != nil {
		return false
	}
	newOwner := c.nextOwner(0)
	if newOwner == nil {
		return false
	}
	newOwner.Role = RoleOwner
	c.markParticipantDirty(newOwner)
	c.addSystemMessage(actorID,
		fmt.Sprintf("System: Ownership transferred to %s automatically.", participantName(newOwner)), now)
	return true
}

func (c *Chat) UpdateRoleBy(actorID, targetUserID int, role string) error {
	if c.Type != ChatTypeGroup {
		return apperrors.InvalidState("Can only update roles in group chats")
	}
	actor := c.Participant(actorID)
	if actor == nil || !actor.IsAdmin() {
		return apperrors.Forbidden("Only admins can update participant roles")
	}
	if role != RoleAdmin && role != RoleMember {
		return apperrors.InvalidArg("Invalid role. Must be admin or member")
	}
	target := c.Participant(targetUserID)
	if target == nil {
		return apperrors.NotFound("Participant not found")
	}
	if target.Role == RoleOwner {
		return apperrors.InvalidState("Ownership can only change through succession")
	}
	if target.Role != role {
		target.Role = role
		c.markParticipantDirty(target)
	}
	return nil
}

func (c *Chat) SetMutedBy(userID int, muted bool) error {
	p := c.Participant(userID)
	if p == nil {
		return apperrors.Forbidden("You are not a participant in this chat")
	}
	if p.IsMuted != muted {
		p.IsMuted = muted
		c.markParticipantDirty(p)
	}
	return nil
}

func (c *Chat) UpdateGroupInfoBy(actorID int, name, description *string, maxMembers *int) error {
	if c.Type != ChatTypeGroup || c.GroupInfo == nil {
		return apperrors.InvalidState("Can only update group info on group chats")
	}
	actor := c.Participant(actorID)
	if actor == nil || !actor.IsAdmin() {
		return apperrors.Forbidden("Permission denied. Only admins can edit group info.")
	}
	if name != nil && strings.TrimSpace(*name) != "" {
		c.GroupInfo.Name = strings.TrimSpace(*name)
	}
	if description != nil {
		c.GroupInfo.Description = *description
	}
	if maxMembers != nil {
		c.GroupInfo.MaxMembers = *maxMembers
	}
	c.changes.row = true
	return nil
}

func (c *Chat) DestroyBy(actorID int) error {
	actor := c.Participant(actorID)
	if actor == nil || actor.Role != RoleOwner {
		return apperrors.Forbidden("Permission denied. Only the group owner can delete this group.")
	}
	c.changes.destroyed = true
	return nil
}

// VisibleMessages filters tombstones out before any pagination math so page
// boundaries stay stable regardless of deletions.
func (c *Chat) VisibleMessages() []*Message {
	visible := make([]*Message, 0, len(c.Messages))
	for _, m := range c.Messages {
		if !m.IsDeleted {
			visible = append(visible, m)
		}
	}
	return visible
}

func (c *Chat) LastVisibleMessage() *Message {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if !c.Messages[i].IsDeleted {
			return c.Messages[i]
		}
	}
	return nil
}

type MessagePage struct {
	Messages   []*Message `json:"messages"`
	Total      int        `json:"total"`
	Page       int        `json:"page"`
	Limit      int        `json:"limit"`
	TotalPages int        `json:"totalPages"`
	HasMore    bool       `json:"hasMore"`
}

// PageMessages returns page N counted from the tail of the log, in
// chronological order within the page (page 1 = the most recent messages).
func (c *Chat) PageMessages(page, limit int) MessagePage {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 50
	}
	visible := c.VisibleMessages()
	total := len(visible)
	skip := (page - 1) * limit

	end := total - skip
	if end < 0 {
		end = 0
	}
	start := end - limit
	if start < 0 {
		start = 0
	}

	return MessagePage{
		Messages:   visible[start:end],
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: (total + limit - 1) / limit,
		HasMore:    skip+limit < total,
	}
}

func (c *Chat) removeParticipant(userID int) {
	for i, p := range c.Participants {
		if p.UserID == userID {
			c.Participants = append(c.Participants[:i], c.Participants[i+1:]...)
			break
		}
	}
	c.changes.removedUserIDs = append(c.changes.removedUserIDs, userID)
}

func (c *Chat) markParticipantDirty(p *Participant) {
	if c.changes.dirtyParticipants == nil {
		c.changes.dirtyParticipants = make(map[int]bool)
	}
	c.changes.dirtyParticipants[p.UserID] = true
}

func (c *Chat) markMessageDirty(m *Message) {
	if m.ID == 0 {
		return
	}
	if c.changes.dirtyMessageIDs == nil {
		c.changes.dirtyMessageIDs = make(map[int]bool)
	}
	c.changes.dirtyMessageIDs[m.ID] = true
}

func participantName(p *Participant) string {
	if p.User != nil && p.User.Username != "" {
		return p.User.Username
	}
	return "new owner"
}

// Change-set accessors used by the repository when flushing the aggregate.

func (c *Chat) Destroyed() bool  { return c.changes.destroyed }
func (c *Chat) RowChanged() bool { return c.changes.row }

func (c *Chat) PendingNewMessages() []*Message {
	var out []*Message
	for _, m := range c.Messages {
		if m.ID == 0 {
			out = append(out, m)
		}
	}
	return out
}

func (c *Chat) PendingDirtyMessages() []*Message {
	var out []*Message
	for _, m := range c.Messages {
		if c.changes.dirtyMessageIDs[m.ID] {
			out = append(out, m)
		}
	}
	return out
}

func (c *Chat) PendingNewParticipants() []*Participant {
	return c.changes.newParticipants
}

func (c *Chat) PendingDirtyParticipants() []*Participant {
	var out []*Participant
	for _, p := range c.Participants {
		if c.changes.dirtyParticipants[p.UserID] {
			out = append(out, p)
		}
	}
	return out
}

func (c *Chat) PendingRemovedParticipants() []int {
	return c.changes.removedUserIDs
}

// ResetChanges clears the change set after a successful flush.
func (c *Chat) ResetChanges() {
	c.changes = changeSet{}
}
