package services

import (
	"context"
	"log"
	"strings"
	"time"

	"WeGo/server/internal/config"
	"WeGo/server/internal/models"
	"WeGo/server/internal/repository"
	apperrors "WeGo/server/pkg/errors"

	"github.com/jonboulle/clockwork"
)

// ChatStore is the persistence surface ChatService needs. Mutate runs fn
// against the aggregate with the chat row locked, so every mutation of one
// chat serializes while other chats proceed concurrently.
type ChatStore interface {
	CreateDirect(ctx context.Context, a, b *models.User, now time.Time) (*models.Chat, bool, error)
	CreateGroup(ctx context.Context, chat *models.Chat) error
	GetChat(ctx context.Context, chatID int) (*models.Chat, error)
	Mutate(ctx context.Context, chatID int, fn func(chat *models.Chat) error) (*models.Chat, error)
	ListForUser(ctx context.Context, userID int, chatType string, limit, page int) ([]*repository.ChatSummary, int, error)
	UnreadTotal(ctx context.Context, userID int) (int, error)
}

// ActivityStore is the slice of the activity subsystem chat operations touch.
type ActivityStore interface {
	Get(ctx context.Context, id int) (*models.Activity, error)
	IsParticipant(ctx context.Context, activityID, userID int) (bool, error)
	RemoveParticipant(ctx context.Context, activityID, userID int) error
	UpdateMeta(ctx context.Context, id int, title, description *string, maxParticipants *int) error
	Delete(ctx context.Context, id int) error
}

type ChatService struct {
	chats      ChatStore
	users      UserDirectory
	profiles   ProfileSource
	activities ActivityStore
	notifier   Notifier
	clock      clockwork.Clock
	fullPolicy string
}

func NewChatService(chats ChatStore, users UserDirectory, profiles ProfileSource,
	activities ActivityStore, notifier Notifier, clock clockwork.Clock, fullPolicy string) *ChatService {
	if fullPolicy == "" {
		fullPolicy = config.ActivityFullSoft
	}
	return &ChatService{
		chats:      chats,
		users:      users,
		profiles:   profiles,
		activities: activities,
		notifier:   notifier,
		clock:      clock,
		fullPolicy: fullPolicy,
	}
}

// ChatView is the wire shape of a chat, built per viewer (unread counts
// differ between participants).
type ChatView struct {
	ID                int                        `json:"id"`
	Type              string                     `json:"type"`
	Name              string                     `json:"name,omitempty"`
	Description       string                     `json:"description,omitempty"`
	MaxMembers        int                        `json:"maxMembers,omitempty"`
	RelatedActivityID *int                       `json:"relatedActivityId,omitempty"`
	Participants      []models.ParticipantView   `json:"participants"`
	LastMessage       *models.LastMessagePreview `json:"lastMessage,omitempty"`
	LastMessageAt     *time.Time                 `json:"lastMessageAt,omitempty"`
	UnreadCount       int                        `json:"unreadCount"`
	CreatedBy         int                        `json:"createdBy"`
	CreatedAt         time.Time                  `json:"createdAt"`
}

type Pagination struct {
	Total      int  `json:"total"`
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	TotalPages int  `json:"totalPages"`
	HasNext    bool `json:"hasNext"`
	HasPrev    bool `json:"hasPrev"`
}

type ChatListPage struct {
	Chats      []*ChatView `json:"chats"`
	Pagination Pagination  `json:"pagination"`
}

// MessageEvent is the payload of message:receive / message:sent.
type MessageEvent struct {
	ChatID  int             `json:"chatId"`
	Message *models.Message `json:"message"`
}

// ReadEvent is the payload of message:read_update.
type ReadEvent struct {
	ChatID     int   `json:"chatId"`
	UserID     int   `json:"userId"`
	MessageIDs []int `json:"messageIds,omitempty"`
}

// ChatDeletedEvent is the payload of chat:deleted.
type ChatDeletedEvent struct {
	ChatID int `json:"chatId"`
}

// CreateDirectChat returns the existing chat for the pair when one exists.
// The second return reports whether a chat was created by this call.
func (s *ChatService) CreateDirectChat(ctx context.Context, userID, otherUserID int) (*ChatView, bool, error) {
	if userID == otherUserID {
		return nil, false, apperrors.InvalidArg("Cannot create a chat with yourself")
	}
	me, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	other, err := s.users.GetUserByID(ctx, otherUserID)
	if err != nil {
		return nil, false, err
	}

	chat, created, err := s.chats.CreateDirect(ctx, me, other, s.clock.Now())
	if err != nil {
		return nil, false, err
	}
	view, err := s.buildChatView(ctx, chat, userID)
	if err != nil {
		return nil, false, err
	}
	if created {
		log.Printf("Direct chat %d created between users %d and %d", chat.ID, userID, otherUserID)
		s.publishToUserView(ctx, chat, otherUserID, EventChatUpdated)
	}
	return view, created, nil
}

type CreateGroupParams struct {
	Name              string
	Description       string
	MaxMembers        int
	RelatedActivityID *int
	MemberIDs         []int
}

func (s *ChatService) CreateGroupChat(ctx context.Context, creatorID int, params CreateGroupParams) (*ChatView, error) {
	if strings.TrimSpace(params.Name) == "" {
		return nil, apperrors.InvalidArg("Group name is required")
	}
	creator, err := s.users.GetUserByID(ctx, creatorID)
	if err != nil {
		return nil, err
	}
	if params.RelatedActivityID != nil {
		if _, err := s.activities.Get(ctx, *params.RelatedActivityID); err != nil {
			return nil, err
		}
	}
	members, err := s.users.GetUsersByIDs(ctx, params.MemberIDs)
	if err != nil {
		return nil, err
	}

	chat := models.NewGroupChat(creator, members, models.GroupInfo{
		Name:              strings.TrimSpace(params.Name),
		Description:       params.Description,
		MaxMembers:        params.MaxMembers,
		RelatedActivityID: params.RelatedActivityID,
	}, s.clock.Now())
	if err := s.chats.CreateGroup(ctx, chat); err != nil {
		return nil, err
	}
	log.Printf("Group chat %d (%s) created by user %d with %d participants",
		chat.ID, chat.GroupInfo.Name, creatorID, len(chat.Participants))

	view, err := s.buildChatView(ctx, chat, creatorID)
	if err != nil {
		return nil, err
	}
	for _, p := range chat.Participants {
		if p.UserID != creatorID {
			s.notifier.ToUser(p.UserID, EventChatUpdated, view)
		}
	}
	return view, nil
}

// ListChats returns one inbox page for the user.
func (s *ChatService) ListChats(ctx context.Context, userID int, chatType string, page, limit int) (*ChatListPage, error) {
	if limit < 1 {
		limit = 20
	}
	if page < 1 {
		page = 1
	}
	summaries, total, err := s.chats.ListForUser(ctx, userID, chatType, limit, page)
	if err != nil {
		return nil, err
	}

	views := make([]*ChatView, 0, len(summaries))
	for _, sum := range summaries {
		view, err := s.summaryView(ctx, sum)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}

	totalPages := (total + limit - 1) / limit
	return &ChatListPage{
		Chats: views,
		Pagination: Pagination{
			Total:      total,
			Page:       page,
			Limit:      limit,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
			HasPrev:    page > 1,
		},
	}, nil
}

// GetChat loads one chat for the viewer. Non-participants may enter an
// activity-linked group when they participate in the activity; an ownerless
// group is repaired on the way out.
func (s *ChatService) GetChat(ctx context.Context, userID, chatID int) (*ChatView, error) {
	chat, err := s.chats.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}

	if !chat.HasParticipant(userID) {
		chat, err = s.joinViaActivity(ctx, chat, userID)
		if err != nil {
			return nil, err
		}
	} else if err := s.fullnessGate(ctx, chat, userID); err != nil {
		return nil, err
	}

	if chat.Type == models.ChatTypeGroup && len(chat.Participants) > 0 && chat.Owner() == nil {
		chat, err = s.chats.Mutate(ctx, chatID, func(c *models.Chat) error {
			if c.RepairOwner(userID, s.clock.Now()) {
				log.Printf("Chat %d: owner repaired on load", chatID)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return s.buildChatView(ctx, chat, userID)
}

// joinViaActivity lets an activity participant into the activity's group
// chat. Everyone else stays locked out.
func (s *ChatService) joinViaActivity(ctx context.Context, chat *models.Chat, userID int) (*models.Chat, error) {
	notParticipant := apperrors.Forbidden("You are not a participant in this chat")
	if chat.Type != models.ChatTypeGroup || chat.GroupInfo == nil || chat.GroupInfo.RelatedActivityID == nil {
		return nil, notParticipant
	}
	isMember, err := s.activities.IsParticipant(ctx, *chat.GroupInfo.RelatedActivityID, userID)
	if err != nil {
		return nil, err
	}
	if !isMember {
		return nil, notParticipant
	}
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	joined, err := s.chats.Mutate(ctx, chat.ID, func(c *models.Chat) error {
		return c.Join(user, s.clock.Now())
	})
	if err != nil {
		return nil, err
	}
	log.Printf("User %d joined chat %d via activity %d", userID, chat.ID, *chat.GroupInfo.RelatedActivityID)
	s.publishChatView(ctx, joined, EventChatUpdated)
	return joined, nil
}

// fullnessGate applies the strict activity-full policy: a full related
// activity locks out everyone who is not on the activity roster. The soft
// policy never blocks existing chat participants.
func (s *ChatService) fullnessGate(ctx context.Context, chat *models.Chat, userID int) error {
	if s.fullPolicy != config.ActivityFullStrict {
		return nil
	}
	if chat.Type != models.ChatTypeGroup || chat.GroupInfo == nil || chat.GroupInfo.RelatedActivityID == nil {
		return nil
	}
	activityID := *chat.GroupInfo.RelatedActivityID
	activity, err := s.activities.Get(ctx, activityID)
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.CodeNotFound {
			return nil
		}
		return err
	}
	isMember, err := s.activities.IsParticipant(ctx, activityID, userID)
	if err != nil {
		return err
	}
	if activity.IsFull(isMember) && !isMember {
		return apperrors.Forbidden("Activity is full")
	}
	return nil
}

// SendMessage appends the message and fans it out to the chat channel,
// skipping the sender's own connection (the caller echoes message:sent).
func (s *ChatService) SendMessage(ctx context.Context, userID, chatID int, content, msgType, fileURL, excludeConn string) (*models.Message, error) {
	var msg *models.Message
	chat, err := s.chats.Mutate(ctx, chatID, func(c *models.Chat) error {
		m, err := c.AddMessage(userID, content, msgType, fileURL, s.clock.Now())
		if err != nil {
			return err
		}
		msg = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.attachSender(chat, msg)
	s.enrichSenders(ctx, []*models.Message{msg})
	s.notifier.ToChat(chatID, EventMessageReceive, MessageEvent{ChatID: chatID, Message: msg}, excludeConn)
	return msg, nil
}

func (s *ChatService) EditMessage(ctx context.Context, userID, chatID, messageID int, content string) (*models.Message, error) {
	var msg *models.Message
	chat, err := s.chats.Mutate(ctx, chatID, func(c *models.Chat) error {
		m, err := c.EditMessage(userID, messageID, content, s.clock.Now())
		if err != nil {
			return err
		}
		msg = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.attachSender(chat, msg)
	s.enrichSenders(ctx, []*models.Message{msg})
	s.notifier.ToChat(chatID, EventChatUpdated, MessageEvent{ChatID: chatID, Message: msg}, "")
	return msg, nil
}

// DeleteMessage tombstones the message. Deleting an already-deleted message
// succeeds without changes.
func (s *ChatService) DeleteMessage(ctx context.Context, userID, chatID, messageID int) (*models.Message, error) {
	var msg *models.Message
	_, err := s.chats.Mutate(ctx, chatID, func(c *models.Chat) error {
		m, err := c.DeleteMessage(userID, messageID, s.clock.Now())
		if err != nil {
			return err
		}
		msg = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notifier.ToChat(chatID, EventChatUpdated, MessageEvent{ChatID: chatID, Message: msg}, "")
	return msg, nil
}

// MarkRead advances the caller's watermark and returns the remaining unread
// count for this chat.
func (s *ChatService) MarkRead(ctx context.Context, userID, chatID int, messageIDs []int) (int, error) {
	var unread int
	_, err := s.chats.Mutate(ctx, chatID, func(c *models.Chat) error {
		if err := c.MarkRead(userID, messageIDs); err != nil {
			return err
		}
		unread = c.UnreadCount(userID)
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.notifier.ToChat(chatID, EventMessageReadUpdate, ReadEvent{ChatID: chatID, UserID: userID, MessageIDs: messageIDs}, "")
	return unread, nil
}

// GetMessages returns one page counted from the tail, senders enriched with
// avatars. Deleted messages never appear and never shift page boundaries.
func (s *ChatService) GetMessages(ctx context.Context, userID, chatID, page, limit int) (*models.MessagePage, error) {
	chat, err := s.chats.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.HasParticipant(userID) {
		return nil, apperrors.Forbidden("You are not a participant in this chat")
	}
	pageData := chat.PageMessages(page, limit)
	s.enrichSenders(ctx, pageData.Messages)
	return &pageData, nil
}

func (s *ChatService) GetParticipants(ctx context.Context, userID, chatID int) ([]models.ParticipantView, error) {
	chat, err := s.chats.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.HasParticipant(userID) {
		return nil, apperrors.Forbidden("You are not a participant in this chat")
	}
	return s.participantViews(ctx, chat.Participants)
}

func (s *ChatService) AddParticipant(ctx context.Context, actorID, chatID, userID int, role string) (*ChatView, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	chat, err := s.chats.Mutate(ctx, chatID, func(c *models.Chat) error {
		return c.AddParticipantBy(actorID, user, role, s.clock.Now())
	})
	if err != nil {
		return nil, err
	}
	log.Printf("User %d added to chat %d by user %d", userID, chatID, actorID)

	view, err := s.buildChatView(ctx, chat, actorID)
	if err != nil {
		return nil, err
	}
	s.notifier.ToChat(chatID, EventChatUpdated, view, "")
	s.publishToUserView(ctx, chat, userID, EventChatUpdated)
	return view, nil
}

// RemoveParticipant removes userID from the chat (self-removal is leaving).
// Owner departure transfers ownership first; removing the last participant
// deletes the chat. An activity-linked group also drops the user from the
// activity roster.
// RemoveParticipant backs the participants endpoint, which exists for group
// chats only. Direct chats are left through LeaveChat.
func (s *ChatService) RemoveParticipant(ctx context.Context, actorID, chatID, userID int) error {
	return s.removeParticipant(ctx, actorID, chatID, userID, true)
}

// LeaveChat removes the caller from any chat type, direct chats included.
func (s *ChatService) LeaveChat(ctx context.Context, userID, chatID int) error {
	return s.removeParticipant(ctx, userID, chatID, userID, false)
}

func (s *ChatService) removeParticipant(ctx context.Context, actorID, chatID, userID int, groupOnly bool) error {
	chat, err := s.chats.Mutate(ctx, chatID, func(c *models.Chat) error {
		if groupOnly && c.Type != models.ChatTypeGroup {
			return apperrors.InvalidState("Can only remove participants from group chats")
		}
		_, err := c.RemoveParticipantBy(actorID, userID, s.clock.Now())
		return err
	})
	if err != nil {
		return err
	}
	log.Printf("User %d removed from chat %d by user %d", userID, chatID, actorID)

	if chat.Type == models.ChatTypeGroup && chat.GroupInfo != nil && chat.GroupInfo.RelatedActivityID != nil {
		if err := s.activities.RemoveParticipant(ctx, *chat.GroupInfo.RelatedActivityID, userID); err != nil {
			log.Printf("Failed to sync activity %d after removal: %v", *chat.GroupInfo.RelatedActivityID, err)
		}
	}

	if len(chat.Participants) == 0 {
		s.notifier.ToChat(chatID, EventChatDeleted, ChatDeletedEvent{ChatID: chatID}, "")
		return nil
	}
	s.publishChatView(ctx, chat, EventChatUpdated)
	s.notifier.ToUser(userID, EventChatDeleted, ChatDeletedEvent{ChatID: chatID})
	return nil
}

func (s *ChatService) UpdateRole(ctx context.Context, actorID, chatID, userID int, role string) (*ChatView, error) {
	chat, err := s.chats.Mutate(ctx, chatID, func(c *models.Chat) error {
		return c.UpdateRoleBy(actorID, userID, role)
	})
	if err != nil {
		return nil, err
	}
	log.Printf("Chat %d: user %d role set to %s by user %d", chatID, userID, role, actorID)

	view, err := s.buildChatView(ctx, chat, actorID)
	if err != nil {
		return nil, err
	}
	s.notifier.ToChat(chatID, EventChatUpdated, view, "")
	return view, nil
}

func (s *ChatService) SetMuted(ctx context.Context, userID, chatID int, muted bool) error {
	_, err := s.chats.Mutate(ctx, chatID, func(c *models.Chat) error {
		return c.SetMutedBy(userID, muted)
	})
	return err
}

type UpdateGroupParams struct {
	Name        *string
	Description *string
	MaxMembers  *int
}

// UpdateGroupInfo edits the group metadata and mirrors the change onto the
// related activity.
func (s *ChatService) UpdateGroupInfo(ctx context.Context, actorID, chatID int, params UpdateGroupParams) (*ChatView, error) {
	chat, err := s.chats.Mutate(ctx, chatID, func(c *models.Chat) error {
		return c.UpdateGroupInfoBy(actorID, params.Name, params.Description, params.MaxMembers)
	})
	if err != nil {
		return nil, err
	}

	if chat.GroupInfo != nil && chat.GroupInfo.RelatedActivityID != nil {
		err := s.activities.UpdateMeta(ctx, *chat.GroupInfo.RelatedActivityID,
			params.Name, params.Description, params.MaxMembers)
		if err != nil {
			log.Printf("Failed to sync activity %d after group update: %v", *chat.GroupInfo.RelatedActivityID, err)
		}
	}

	view, err := s.buildChatView(ctx, chat, actorID)
	if err != nil {
		return nil, err
	}
	s.notifier.ToChat(chatID, EventChatUpdated, view, "")
	return view, nil
}

// DeleteGroup destroys the group chat (owner only) and the related activity
// with it.
func (s *ChatService) DeleteGroup(ctx context.Context, actorID, chatID int) error {
	chat, err := s.chats.Mutate(ctx, chatID, func(c *models.Chat) error {
		return c.DestroyBy(actorID)
	})
	if err != nil {
		return err
	}
	log.Printf("Group chat %d deleted by user %d", chatID, actorID)

	if chat.GroupInfo != nil && chat.GroupInfo.RelatedActivityID != nil {
		if err := s.activities.Delete(ctx, *chat.GroupInfo.RelatedActivityID); err != nil {
			log.Printf("Failed to delete activity %d with its chat: %v", *chat.GroupInfo.RelatedActivityID, err)
		}
	}
	s.notifier.ToChat(chatID, EventChatDeleted, ChatDeletedEvent{ChatID: chatID}, "")
	return nil
}

// UnreadTotal is the badge count: unread messages across all active chats.
func (s *ChatService) UnreadTotal(ctx context.Context, userID int) (int, error) {
	return s.chats.UnreadTotal(ctx, userID)
}

// NotifyActivityChange broadcasts an activity update to every connection.
func (s *ChatService) NotifyActivityChange(activityID int, data any) {
	s.notifier.ToAll(EventActivityNotify, map[string]any{"activityId": activityID, "data": data})
}

func (s *ChatService) buildChatView(ctx context.Context, chat *models.Chat, userID int) (*ChatView, error) {
	participants, err := s.participantViews(ctx, chat.Participants)
	if err != nil {
		return nil, err
	}
	view := &ChatView{
		ID:            chat.ID,
		Type:          chat.Type,
		Participants:  participants,
		LastMessageAt: chat.LastMessageAt,
		UnreadCount:   chat.UnreadCount(userID),
		CreatedBy:     chat.CreatedBy,
		CreatedAt:     chat.CreatedAt,
	}
	if chat.GroupInfo != nil {
		view.Name = chat.GroupInfo.Name
		view.Description = chat.GroupInfo.Description
		view.MaxMembers = chat.GroupInfo.MaxMembers
		view.RelatedActivityID = chat.GroupInfo.RelatedActivityID
	}
	if last := chat.LastVisibleMessage(); last != nil {
		s.enrichSenders(ctx, []*models.Message{last})
		view.LastMessage = &models.LastMessagePreview{
			Content:   last.Content,
			Type:      last.Type,
			Sender:    last.Sender,
			CreatedAt: last.CreatedAt,
		}
	}
	return view, nil
}

func (s *ChatService) summaryView(ctx context.Context, sum *repository.ChatSummary) (*ChatView, error) {
	participants, err := s.participantViews(ctx, sum.Chat.Participants)
	if err != nil {
		return nil, err
	}
	view := &ChatView{
		ID:            sum.Chat.ID,
		Type:          sum.Chat.Type,
		Participants:  participants,
		LastMessageAt: sum.Chat.LastMessageAt,
		UnreadCount:   sum.UnreadCount,
		CreatedBy:     sum.Chat.CreatedBy,
		CreatedAt:     sum.Chat.CreatedAt,
	}
	if sum.Chat.GroupInfo != nil {
		view.Name = sum.Chat.GroupInfo.Name
		view.Description = sum.Chat.GroupInfo.Description
		view.MaxMembers = sum.Chat.GroupInfo.MaxMembers
		view.RelatedActivityID = sum.Chat.GroupInfo.RelatedActivityID
	}
	if sum.LastMessage != nil {
		view.LastMessage = &models.LastMessagePreview{
			Content:   sum.LastMessage.Content,
			Type:      sum.LastMessage.Type,
			Sender:    sum.LastMessage.Sender,
			CreatedAt: sum.LastMessage.CreatedAt,
		}
	}
	return view, nil
}

func (s *ChatService) participantViews(ctx context.Context, participants []*models.Participant) ([]models.ParticipantView, error) {
	ids := make([]int, 0, len(participants))
	for _, p := range participants {
		ids = append(ids, p.UserID)
	}
	profiles, err := s.profiles.ProfilesFor(ctx, ids)
	if err != nil {
		return nil, err
	}

	views := make([]models.ParticipantView, 0, len(participants))
	for _, p := range participants {
		v := models.ParticipantView{
			ID:       p.UserID,
			Role:     p.Role,
			IsMuted:  p.IsMuted,
			JoinedAt: p.JoinedAt,
			Avatar:   profiles[p.UserID].Avatar,
			Bio:      profiles[p.UserID].Bio,
		}
		if p.User != nil {
			v.Email = p.User.Email
			v.Username = p.User.Username
			v.IsOnline = p.User.IsOnline
			v.CreatedAt = p.User.CreatedAt
		}
		views = append(views, v)
	}
	return views, nil
}

// attachSender fills the joined sender view on a freshly appended message.
func (s *ChatService) attachSender(chat *models.Chat, msg *models.Message) {
	if msg == nil || msg.Sender != nil || msg.SenderID == nil {
		return
	}
	if p := chat.Participant(*msg.SenderID); p != nil && p.User != nil {
		msg.Sender = &models.MessageSender{
			ID:       p.User.ID,
			Username: p.User.Username,
			Email:    p.User.Email,
			IsOnline: p.User.IsOnline,
		}
	}
}

// enrichSenders fills avatars on message sender views via the profile cache.
func (s *ChatService) enrichSenders(ctx context.Context, messages []*models.Message) {
	var ids []int
	seen := map[int]bool{}
	for _, m := range messages {
		if m.SenderID != nil && !seen[*m.SenderID] {
			seen[*m.SenderID] = true
			ids = append(ids, *m.SenderID)
		}
	}
	if len(ids) == 0 {
		return
	}
	profiles, err := s.profiles.ProfilesFor(ctx, ids)
	if err != nil {
		log.Printf("Failed to load sender profiles: %v", err)
		return
	}
	for _, m := range messages {
		if m.Sender != nil && m.SenderID != nil {
			m.Sender.Avatar = profiles[*m.SenderID].Avatar
		}
	}
}

func (s *ChatService) publishChatView(ctx context.Context, chat *models.Chat, event string) {
	view, err := s.buildChatView(ctx, chat, 0)
	if err != nil {
		log.Printf("Failed to build chat %d view for publish: %v", chat.ID, err)
		return
	}
	s.notifier.ToChat(chat.ID, event, view, "")
}

func (s *ChatService) publishToUserView(ctx context.Context, chat *models.Chat, userID int, event string) {
	view, err := s.buildChatView(ctx, chat, userID)
	if err != nil {
		log.Printf("Failed to build chat %d view for user %d: %v", chat.ID, userID, err)
		return
	}
	s.notifier.ToUser(userID, event, view)
}
