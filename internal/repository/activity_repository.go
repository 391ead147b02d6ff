package repository

import (
	"context"
	"log"

	"WeGo/server/internal/models"
	apperrors "WeGo/server/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

type ActivityRepository struct {
	pool *pgxpool.Pool
}

func NewActivityRepository(pool *pgxpool.Pool) *ActivityRepository {
	return &ActivityRepository{pool: pool}
}

// Get loads the activity with its current participant count.
func (r *ActivityRepository) Get(ctx context.Context, id int) (*models.Activity, error) {
	a := &models.Activity{}
	err := r.pool.QueryRow(ctx,
		`SELECT a.id, a.title, COALESCE(a.description, ''), COALESCE(a.category, ''),
		        COALESCE(a.location, ''), a.max_participants, a.created_by, a.created_at,
		        (SELECT COUNT(*) FROM activity_participants ap WHERE ap.activity_id = a.id)
		 FROM activities a WHERE a.id = $1`, id).
		Scan(&a.ID, &a.Title, &a.Description, &a.Category, &a.Location,
			&a.MaxParticipants, &a.CreatedBy, &a.CreatedAt, &a.ParticipantCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("Activity not found")
		}
		return nil, errors.Wrap(err, "activityRepo.Get")
	}
	return a, nil
}

func (r *ActivityRepository) IsParticipant(ctx context.Context, activityID, userID int) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM activity_participants WHERE activity_id = $1 AND user_id = $2
		 )`, activityID, userID).Scan(&exists)
	return exists, errors.Wrap(err, "activityRepo.IsParticipant")
}

// RemoveParticipant drops the user from the activity roster. Used to keep the
// activity in step when someone leaves its group chat; absence is not an
// error.
func (r *ActivityRepository) RemoveParticipant(ctx context.Context, activityID, userID int) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM activity_participants WHERE activity_id = $1 AND user_id = $2`,
		activityID, userID)
	if err != nil {
		return errors.Wrap(err, "activityRepo.RemoveParticipant")
	}
	if tag.RowsAffected() > 0 {
		log.Printf("User %d removed from activity %d", userID, activityID)
	}
	return nil
}

// UpdateMeta applies the subset of activity fields a chat rename is allowed
// to touch. Nil fields stay as they are.
func (r *ActivityRepository) UpdateMeta(ctx context.Context, id int, title, description *string, maxParticipants *int) error {
	update := psql.Update("activities").Where("id = ?", id)
	changed := false
	if title != nil {
		update = update.Set("title", *title)
		changed = true
	}
	if description != nil {
		update = update.Set("description", *description)
		changed = true
	}
	if maxParticipants != nil {
		update = update.Set("max_participants", *maxParticipants)
		changed = true
	}
	if !changed {
		return nil
	}
	sqlStr, args, err := update.ToSql()
	if err != nil {
		return errors.Wrap(err, "activityRepo.UpdateMeta.Build")
	}
	_, err = r.pool.Exec(ctx, sqlStr, args...)
	return errors.Wrap(err, "activityRepo.UpdateMeta")
}

// Delete removes the activity; its participant rows follow by cascade.
func (r *ActivityRepository) Delete(ctx context.Context, id int) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM activities WHERE id = $1`, id)
	return errors.Wrap(err, "activityRepo.Delete")
}
