package repository

import (
	"context"

	"WeGo/server/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

type DMRepository struct {
	pool *pgxpool.Pool
}

func NewDMRepository(pool *pgxpool.Pool) *DMRepository {
	return &DMRepository{pool: pool}
}

func (r *DMRepository) Create(ctx context.Context, dm *models.DirectMessage) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO direct_messages (from_id, to_id, text)
		 VALUES ($1, $2, $3)
		 RETURNING id, is_read, created_at, updated_at`,
		dm.FromID, dm.ToID, dm.Text).
		Scan(&dm.ID, &dm.IsRead, &dm.CreatedAt, &dm.UpdatedAt)
	return errors.Wrap(err, "dmRepo.Create")
}

// History returns the conversation between two users, oldest first.
func (r *DMRepository) History(ctx context.Context, a, b, limit int) ([]*models.DirectMessage, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, from_id, to_id, text, is_read, created_at, updated_at
		 FROM (
			SELECT id, from_id, to_id, text, is_read, created_at, updated_at
			FROM direct_messages
			WHERE (from_id = $1 AND to_id = $2) OR (from_id = $2 AND to_id = $1)
			ORDER BY id DESC
			LIMIT $3
		 ) tail
		 ORDER BY id`, a, b, limit)
	if err != nil {
		return nil, errors.Wrap(err, "dmRepo.History.Query")
	}
	defer rows.Close()

	var msgs []*models.DirectMessage
	for rows.Next() {
		dm := &models.DirectMessage{}
		if err := rows.Scan(&dm.ID, &dm.FromID, &dm.ToID, &dm.Text, &dm.IsRead, &dm.CreatedAt, &dm.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "dmRepo.History.Scan")
		}
		msgs = append(msgs, dm)
	}
	return msgs, errors.Wrap(rows.Err(), "dmRepo.History.Rows")
}
