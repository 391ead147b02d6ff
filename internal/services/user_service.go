package services

import (
	"context"
	"log"

	"WeGo/server/internal/models"

	lru "github.com/hashicorp/golang-lru/v2"
)

// UserStore is the persistence surface UserService needs.
type UserStore interface {
	GetByID(ctx context.Context, id int) (*models.User, error)
	GetByIDs(ctx context.Context, ids []int) ([]*models.User, error)
	SetOnline(ctx context.Context, userID int, online bool) error
	ProfilesFor(ctx context.Context, userIDs []int) (map[int]models.Profile, error)
}

const profileCacheSize = 2048

type UserService struct {
	users    UserStore
	profiles *lru.Cache[int, models.Profile]
}

func NewUserService(users UserStore) *UserService {
	cache, _ := lru.New[int, models.Profile](profileCacheSize)
	return &UserService{users: users, profiles: cache}
}

func (s *UserService) GetUserByID(ctx context.Context, id int) (*models.User, error) {
	return s.users.GetByID(ctx, id)
}

func (s *UserService) GetUsersByIDs(ctx context.Context, ids []int) ([]*models.User, error) {
	return s.users.GetByIDs(ctx, ids)
}

// SetOnline persists the presence flag. Called by the pool hub on connection
// edges only, so multi-device users do not thrash the row.
func (s *UserService) SetOnline(ctx context.Context, userID int, online bool) error {
	if err := s.users.SetOnline(ctx, userID, online); err != nil {
		return err
	}
	log.Printf("User %d online=%v", userID, online)
	return nil
}

// ProfilesFor resolves avatar/bio for the given users through a bounded LRU.
// Users without a profile row get a cached empty profile so repeated misses
// do not keep hitting the database.
func (s *UserService) ProfilesFor(ctx context.Context, userIDs []int) (map[int]models.Profile, error) {
	result := make(map[int]models.Profile, len(userIDs))
	var missing []int
	for _, id := range userIDs {
		if p, ok := s.profiles.Get(id); ok {
			result[id] = p
		} else {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return result, nil
	}
	fetched, err := s.users.ProfilesFor(ctx, missing)
	if err != nil {
		return nil, err
	}
	for _, id := range missing {
		p := fetched[id]
		p.UserID = id
		s.profiles.Add(id, p)
		result[id] = p
	}
	return result, nil
}
