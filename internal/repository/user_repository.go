package repository

import (
	"context"

	"WeGo/server/internal/models"
	apperrors "WeGo/server/pkg/errors"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func (r *UserRepository) GetByID(ctx context.Context, id int) (*models.User, error) {
	sqlStr, args, err := psql.Select("id", "username", "email", "is_online", "last_active", "created_at").
		From("users").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "userRepo.GetByID.Build")
	}
	u := &models.User{}
	err = r.pool.QueryRow(ctx, sqlStr, args...).
		Scan(&u.ID, &u.Username, &u.Email, &u.IsOnline, &u.LastActive, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("User not found")
		}
		return nil, errors.Wrap(err, "userRepo.GetByID.Scan")
	}
	return u, nil
}

// GetByIDs keeps the input order for the ids that exist; missing ids are
// silently dropped so group creation can dedupe against reality.
func (r *UserRepository) GetByIDs(ctx context.Context, ids []int) ([]*models.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, username, email, is_online, last_active, created_at
		 FROM users WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "userRepo.GetByIDs.Query")
	}
	defer rows.Close()

	byID := make(map[int]*models.User, len(ids))
	for rows.Next() {
		u := &models.User{}
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.IsOnline, &u.LastActive, &u.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "userRepo.GetByIDs.Scan")
		}
		byID[u.ID] = u
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "userRepo.GetByIDs.Rows")
	}

	users := make([]*models.User, 0, len(byID))
	for _, id := range ids {
		if u, ok := byID[id]; ok {
			users = append(users, u)
		}
	}
	return users, nil
}

func (r *UserRepository) SetOnline(ctx context.Context, userID int, online bool) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET is_online = $1, last_active = NOW() WHERE id = $2`,
		online, userID)
	return errors.Wrap(err, "userRepo.SetOnline")
}

// ProfilesFor returns the avatar/bio rows for the given users; users without
// a profile row are simply absent from the map.
func (r *UserRepository) ProfilesFor(ctx context.Context, userIDs []int) (map[int]models.Profile, error) {
	profiles := make(map[int]models.Profile, len(userIDs))
	if len(userIDs) == 0 {
		return profiles, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, COALESCE(avatar, ''), COALESCE(bio, '')
		 FROM profiles WHERE user_id = ANY($1)`, userIDs)
	if err != nil {
		return nil, errors.Wrap(err, "userRepo.ProfilesFor.Query")
	}
	defer rows.Close()

	for rows.Next() {
		var p models.Profile
		if err := rows.Scan(&p.UserID, &p.Avatar, &p.Bio); err != nil {
			return nil, errors.Wrap(err, "userRepo.ProfilesFor.Scan")
		}
		profiles[p.UserID] = p
	}
	return profiles, errors.Wrap(rows.Err(), "userRepo.ProfilesFor.Rows")
}
