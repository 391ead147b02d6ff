package services

import (
	"context"
	"log"
	"strings"

	"WeGo/server/internal/models"
	apperrors "WeGo/server/pkg/errors"
)

// DMStore is the persistence surface DMService needs.
type DMStore interface {
	Create(ctx context.Context, dm *models.DirectMessage) error
	History(ctx context.Context, a, b, limit int) ([]*models.DirectMessage, error)
}

// ProfileSource resolves avatar/bio when shaping payloads.
type ProfileSource interface {
	ProfilesFor(ctx context.Context, userIDs []int) (map[int]models.Profile, error)
}

// UserDirectory is the read-only user lookup services share.
type UserDirectory interface {
	GetUserByID(ctx context.Context, id int) (*models.User, error)
	GetUsersByIDs(ctx context.Context, ids []int) ([]*models.User, error)
}

type DMService struct {
	dms      DMStore
	users    UserDirectory
	profiles ProfileSource
	notifier Notifier
}

func NewDMService(dms DMStore, users UserDirectory, profiles ProfileSource, notifier Notifier) *DMService {
	return &DMService{dms: dms, users: users, profiles: profiles, notifier: notifier}
}

// Send persists the message and delivers dm:receive to every connection of the
// recipient. The enriched view is returned so the caller can echo dm:sent.
func (s *DMService) Send(ctx context.Context, fromID, toID int, text string) (*models.DirectMessageView, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperrors.InvalidArg("Message text is required")
	}
	if fromID == toID {
		return nil, apperrors.InvalidArg("Cannot message yourself")
	}

	from, err := s.users.GetUserByID(ctx, fromID)
	if err != nil {
		return nil, err
	}
	to, err := s.users.GetUserByID(ctx, toID)
	if err != nil {
		return nil, err
	}

	dm := &models.DirectMessage{FromID: fromID, ToID: toID, Text: text}
	if err := s.dms.Create(ctx, dm); err != nil {
		return nil, err
	}

	view := s.buildView(ctx, dm, from, to)
	s.notifier.ToUser(toID, EventDMReceive, view)
	log.Printf("DM %d: user %d -> user %d", dm.ID, fromID, toID)
	return view, nil
}

func (s *DMService) History(ctx context.Context, userID, otherID, limit int) ([]*models.DirectMessage, error) {
	if _, err := s.users.GetUserByID(ctx, otherID); err != nil {
		return nil, err
	}
	return s.dms.History(ctx, userID, otherID, limit)
}

func (s *DMService) buildView(ctx context.Context, dm *models.DirectMessage, from, to *models.User) *models.DirectMessageView {
	profiles, err := s.profiles.ProfilesFor(ctx, []int{from.ID, to.ID})
	if err != nil {
		log.Printf("Failed to load profiles for DM %d: %v", dm.ID, err)
		profiles = map[int]models.Profile{}
	}
	return &models.DirectMessageView{
		ID:        dm.ID,
		From:      dmUser(from, profiles[from.ID]),
		To:        dmUser(to, profiles[to.ID]),
		Text:      dm.Text,
		IsRead:    dm.IsRead,
		CreatedAt: dm.CreatedAt,
		UpdatedAt: dm.UpdatedAt,
	}
}

func dmUser(u *models.User, p models.Profile) models.DMUser {
	return models.DMUser{ID: u.ID, Username: u.Username, Email: u.Email, Avatar: p.Avatar}
}
