package repository

import (
	"context"
	"log"
	"strconv"
	"time"

	"WeGo/server/internal/models"
	apperrors "WeGo/server/pkg/errors"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/sethvargo/go-retry"
)

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type ChatRepository struct {
	pool *pgxpool.Pool
}

func NewChatRepository(pool *pgxpool.Pool) *ChatRepository {
	return &ChatRepository{pool: pool}
}

// ChatSummary is one row of the inbox listing.
type ChatSummary struct {
	*models.Chat
	UnreadCount int             `json:"unread_count"`
	LastMessage *models.Message `json:"-"`
}

func directKey(a, b int) string {
	if a > b {
		a, b = b, a
	}
	return strconv.Itoa(a) + ":" + strconv.Itoa(b)
}

// CreateDirect returns the existing chat for the unordered pair when one
// exists; the unique direct_key makes concurrent first requests converge on a
// single row. Reports whether a new chat was created.
func (r *ChatRepository) CreateDirect(ctx context.Context, a, b *models.User, now time.Time) (*models.Chat, bool, error) {
	key := directKey(a.ID, b.ID)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, errors.Wrap(err, "chatRepo.CreateDirect.Begin")
	}
	defer tx.Rollback(ctx)

	var chatID int
	err = tx.QueryRow(ctx,
		`INSERT INTO chats (type, direct_key, created_by, created_at)
		 VALUES ('direct', $1, $2, $3)
		 ON CONFLICT (direct_key) DO NOTHING
		 RETURNING id`, key, a.ID, now).Scan(&chatID)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, false, errors.Wrap(err, "chatRepo.CreateDirect.Insert")
		}
		// Lost the race or the pair already chatted: reuse the existing row.
		if err := tx.QueryRow(ctx, `SELECT id FROM chats WHERE direct_key = $1`, key).Scan(&chatID); err != nil {
			return nil, false, errors.Wrap(err, "chatRepo.CreateDirect.Select")
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, false, errors.Wrap(err, "chatRepo.CreateDirect.Commit")
		}
		chat, err := r.loadChat(ctx, r.pool, chatID, false)
		return chat, false, err
	}

	for _, u := range []*models.User{a, b} {
		if _, err := tx.Exec(ctx,
			`INSERT INTO chat_participants (chat_id, user_id, role, joined_at) VALUES ($1, $2, '', $3)`,
			chatID, u.ID, now); err != nil {
			return nil, false, errors.Wrap(err, "chatRepo.CreateDirect.InsertParticipant")
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, errors.Wrap(err, "chatRepo.CreateDirect.Commit")
	}

	chat, err := r.loadChat(ctx, r.pool, chatID, false)
	return chat, true, err
}

// CreateGroup persists a freshly constructed group aggregate and fills in its
// id. System messages recorded on the new aggregate are flushed too.
func (r *ChatRepository) CreateGroup(ctx context.Context, chat *models.Chat) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "chatRepo.CreateGroup.Begin")
	}
	defer tx.Rollback(ctx)

	info := chat.GroupInfo
	err = tx.QueryRow(ctx,
		`INSERT INTO chats (type, name, description, max_members, related_activity_id, created_by, created_at)
		 VALUES ('group', $1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		info.Name, info.Description, info.MaxMembers, info.RelatedActivityID, chat.CreatedBy, chat.CreatedAt).
		Scan(&chat.ID)
	if err != nil {
		return errors.Wrap(err, "chatRepo.CreateGroup.Insert")
	}

	for _, p := range chat.Participants {
		if _, err := tx.Exec(ctx,
			`INSERT INTO chat_participants (chat_id, user_id, role, joined_at) VALUES ($1, $2, $3, $4)`,
			chat.ID, p.UserID, p.Role, p.JoinedAt); err != nil {
			return errors.Wrap(err, "chatRepo.CreateGroup.InsertParticipant")
		}
	}
	if err := r.flush(ctx, tx, chat); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "chatRepo.CreateGroup.Commit")
	}
	chat.ResetChanges()
	return nil
}

// Mutate runs fn against the aggregate inside one transaction, with the chat
// row locked FOR UPDATE so mutations to the same chat serialize while other
// chats proceed untouched. Serialization and deadlock failures are retried.
func (r *ChatRepository) Mutate(ctx context.Context, chatID int, fn func(chat *models.Chat) error) (*models.Chat, error) {
	var result *models.Chat
	backoff := retry.WithMaxRetries(3, retry.NewExponential(25*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		chat, err := r.mutateOnce(ctx, chatID, fn)
		if err != nil {
			if isRetryablePgError(err) {
				log.Printf("Retrying mutation of chat %d: %v", chatID, err)
				return retry.RetryableError(err)
			}
			return err
		}
		result = chat
		return nil
	})
	return result, err
}

func (r *ChatRepository) mutateOnce(ctx context.Context, chatID int, fn func(chat *models.Chat) error) (*models.Chat, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "chatRepo.Mutate.Begin")
	}
	defer tx.Rollback(ctx)

	chat, err := r.loadChat(ctx, tx, chatID, true)
	if err != nil {
		return nil, err
	}
	if err := fn(chat); err != nil {
		return nil, err
	}
	if err := r.flush(ctx, tx, chat); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "chatRepo.Mutate.Commit")
	}
	chat.ResetChanges()
	return chat, nil
}

func isRetryablePgError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// serialization_failure, deadlock_detected
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

// GetChat loads the aggregate without locking, for read-only paths.
func (r *ChatRepository) GetChat(ctx context.Context, chatID int) (*models.Chat, error) {
	return r.loadChat(ctx, r.pool, chatID, false)
}

func (r *ChatRepository) loadChat(ctx context.Context, q querier, chatID int, forUpdate bool) (*models.Chat, error) {
	query := `SELECT id, type, name, description, max_members, related_activity_id,
	                 last_message_at, is_active, COALESCE(created_by, 0), created_at
	          FROM chats WHERE id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}

	chat := &models.Chat{}
	var (
		name, description string
		maxMembers        int
		activityID        *int
	)
	err := q.QueryRow(ctx, query, chatID).Scan(
		&chat.ID, &chat.Type, &name, &description, &maxMembers, &activityID,
		&chat.LastMessageAt, &chat.IsActive, &chat.CreatedBy, &chat.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("Chat not found")
		}
		return nil, errors.Wrap(err, "chatRepo.loadChat.Scan")
	}
	if chat.Type == models.ChatTypeGroup {
		chat.GroupInfo = &models.GroupInfo{
			Name:              name,
			Description:       description,
			MaxMembers:        maxMembers,
			RelatedActivityID: activityID,
		}
	}

	if err := r.loadParticipants(ctx, q, chat); err != nil {
		return nil, err
	}
	if err := r.loadMessages(ctx, q, chat); err != nil {
		return nil, err
	}
	return chat, nil
}

func (r *ChatRepository) loadParticipants(ctx context.Context, q querier, chat *models.Chat) error {
	rows, err := q.Query(ctx,
		`SELECT cp.user_id, cp.role, cp.is_muted, cp.joined_at, cp.last_read_message_id,
		        u.username, u.email, u.is_online, u.created_at
		 FROM chat_participants cp
		 JOIN users u ON u.id = cp.user_id
		 WHERE cp.chat_id = $1
		 ORDER BY cp.joined_at, cp.user_id`, chat.ID)
	if err != nil {
		return errors.Wrap(err, "chatRepo.loadParticipants.Query")
	}
	defer rows.Close()

	chat.Participants = nil
	for rows.Next() {
		p := &models.Participant{User: &models.User{}}
		if err := rows.Scan(&p.UserID, &p.Role, &p.IsMuted, &p.JoinedAt, &p.LastReadMessageID,
			&p.User.Username, &p.User.Email, &p.User.IsOnline, &p.User.CreatedAt); err != nil {
			return errors.Wrap(err, "chatRepo.loadParticipants.Scan")
		}
		p.User.ID = p.UserID
		chat.Participants = append(chat.Participants, p)
	}
	return errors.Wrap(rows.Err(), "chatRepo.loadParticipants.Rows")
}

func (r *ChatRepository) loadMessages(ctx context.Context, q querier, chat *models.Chat) error {
	rows, err := q.Query(ctx,
		`SELECT m.id, m.sender_id, m.content, m.type, m.file_url,
		        m.is_edited, m.edited_at, m.is_deleted, m.deleted_at, m.created_at,
		        u.username, u.email, u.is_online
		 FROM messages m
		 LEFT JOIN users u ON u.id = m.sender_id
		 WHERE m.chat_id = $1
		 ORDER BY m.id`, chat.ID)
	if err != nil {
		return errors.Wrap(err, "chatRepo.loadMessages.Query")
	}
	defer rows.Close()

	chat.Messages = nil
	for rows.Next() {
		m := &models.Message{ChatID: chat.ID}
		var username, email *string
		var isOnline *bool
		if err := rows.Scan(&m.ID, &m.SenderID, &m.Content, &m.Type, &m.FileURL,
			&m.IsEdited, &m.EditedAt, &m.IsDeleted, &m.DeletedAt, &m.CreatedAt,
			&username, &email, &isOnline); err != nil {
			return errors.Wrap(err, "chatRepo.loadMessages.Scan")
		}
		if m.SenderID != nil && username != nil {
			m.Sender = &models.MessageSender{
				ID:       *m.SenderID,
				Username: *username,
				Email:    *email,
				IsOnline: isOnline != nil && *isOnline,
			}
		} else {
			m.Sender = models.DeletedUserSender()
		}
		chat.Messages = append(chat.Messages, m)
	}
	return errors.Wrap(rows.Err(), "chatRepo.loadMessages.Rows")
}

// flush writes the aggregate's recorded changes. Destruction wins: the chat
// row goes away and participants/messages follow by cascade.
func (r *ChatRepository) flush(ctx context.Context, tx pgx.Tx, chat *models.Chat) error {
	if chat.Destroyed() {
		if chat.ID == 0 {
			return nil
		}
		if _, err := tx.Exec(ctx, `DELETE FROM chats WHERE id = $1`, chat.ID); err != nil {
			return errors.Wrap(err, "chatRepo.flush.DeleteChat")
		}
		log.Printf("Chat %d deleted", chat.ID)
		return nil
	}

	for _, m := range chat.PendingNewMessages() {
		err := tx.QueryRow(ctx,
			`INSERT INTO messages (chat_id, sender_id, content, type, file_url, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING id`,
			chat.ID, m.SenderID, m.Content, m.Type, m.FileURL, m.CreatedAt).Scan(&m.ID)
		if err != nil {
			return errors.Wrap(err, "chatRepo.flush.InsertMessage")
		}
	}

	for _, m := range chat.PendingDirtyMessages() {
		if _, err := tx.Exec(ctx,
			`UPDATE messages
			 SET content = $1, is_edited = $2, edited_at = $3, is_deleted = $4, deleted_at = $5
			 WHERE id = $6`,
			m.Content, m.IsEdited, m.EditedAt, m.IsDeleted, m.DeletedAt, m.ID); err != nil {
			return errors.Wrap(err, "chatRepo.flush.UpdateMessage")
		}
	}

	for _, p := range chat.PendingNewParticipants() {
		if _, err := tx.Exec(ctx,
			`INSERT INTO chat_participants (chat_id, user_id, role, is_muted, joined_at, last_read_message_id)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			chat.ID, p.UserID, p.Role, p.IsMuted, p.JoinedAt, p.LastReadMessageID); err != nil {
			return errors.Wrap(err, "chatRepo.flush.InsertParticipant")
		}
	}

	for _, p := range chat.PendingDirtyParticipants() {
		if _, err := tx.Exec(ctx,
			`UPDATE chat_participants
			 SET role = $1, is_muted = $2, last_read_message_id = $3
			 WHERE chat_id = $4 AND user_id = $5`,
			p.Role, p.IsMuted, p.LastReadMessageID, chat.ID, p.UserID); err != nil {
			return errors.Wrap(err, "chatRepo.flush.UpdateParticipant")
		}
	}

	for _, userID := range chat.PendingRemovedParticipants() {
		if _, err := tx.Exec(ctx,
			`DELETE FROM chat_participants WHERE chat_id = $1 AND user_id = $2`,
			chat.ID, userID); err != nil {
			return errors.Wrap(err, "chatRepo.flush.DeleteParticipant")
		}
	}

	// Chat row last: the recomputed last-message reference needs the new ids.
	var lastID *int
	var lastAt *time.Time
	if last := chat.LastVisibleMessage(); last != nil {
		lastID = &last.ID
		lastAt = &last.CreatedAt
	}
	update := psql.Update("chats").
		Set("last_message_id", lastID).
		Set("last_message_at", lastAt).
		Set("is_active", chat.IsActive).
		Where(squirrel.Eq{"id": chat.ID})
	if chat.GroupInfo != nil {
		update = update.
			Set("name", chat.GroupInfo.Name).
			Set("description", chat.GroupInfo.Description).
			Set("max_members", chat.GroupInfo.MaxMembers)
	}
	sqlStr, args, err := update.ToSql()
	if err != nil {
		return errors.Wrap(err, "chatRepo.flush.BuildUpdate")
	}
	if _, err := tx.Exec(ctx, sqlStr, args...); err != nil {
		return errors.Wrap(err, "chatRepo.flush.UpdateChat")
	}
	return nil
}

// UnreadTotal sums unread messages across every active chat the user is in.
func (r *ChatRepository) UnreadTotal(ctx context.Context, userID int) (int, error) {
	var total int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*)
		 FROM chat_participants me
		 JOIN chats c ON c.id = me.chat_id AND c.is_active
		 JOIN messages m ON m.chat_id = me.chat_id
		 WHERE me.user_id = $1
		   AND NOT m.is_deleted
		   AND m.id > me.last_read_message_id
		   AND (m.sender_id IS NULL OR m.sender_id <> me.user_id)`, userID).
		Scan(&total)
	return total, errors.Wrap(err, "chatRepo.UnreadTotal")
}

// ListForUser returns one inbox page ordered by most recent activity, with
// SQL-side unread counts and the raw last message for previews.
func (r *ChatRepository) ListForUser(ctx context.Context, userID int, chatType string, limit, page int) ([]*ChatSummary, int, error) {
	if limit < 1 {
		limit = 20
	}
	if page < 1 {
		page = 1
	}

	where := squirrel.And{
		squirrel.Eq{"me.user_id": userID},
		squirrel.Eq{"c.is_active": true},
	}
	if chatType == models.ChatTypeDirect || chatType == models.ChatTypeGroup {
		where = append(where, squirrel.Eq{"c.type": chatType})
	}

	countSQL, countArgs, err := psql.Select("COUNT(*)").
		From("chats c").
		Join("chat_participants me ON me.chat_id = c.id").
		Where(where).
		ToSql()
	if err != nil {
		return nil, 0, errors.Wrap(err, "chatRepo.ListForUser.BuildCount")
	}
	var total int
	if err := r.pool.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "chatRepo.ListForUser.Count")
	}

	listSQL, listArgs, err := psql.Select(
		"c.id", "c.type", "c.name", "c.description", "c.max_members", "c.related_activity_id",
		"c.last_message_at", "c.is_active", "COALESCE(c.created_by, 0)", "c.created_at",
		`(SELECT COUNT(*) FROM messages m
		   WHERE m.chat_id = c.id AND NOT m.is_deleted
		     AND m.id > me.last_read_message_id
		     AND (m.sender_id IS NULL OR m.sender_id <> me.user_id)) AS unread_count`,
		"lm.id", "lm.sender_id", "lm.content", "lm.type", "lm.created_at", "lm.username").
		From("chats c").
		Join("chat_participants me ON me.chat_id = c.id").
		JoinClause(`LEFT JOIN LATERAL (
			SELECT m.id, m.sender_id, m.content, m.type, m.created_at, u.username
			FROM messages m
			LEFT JOIN users u ON u.id = m.sender_id
			WHERE m.chat_id = c.id
			ORDER BY m.id DESC
			LIMIT 1
		) lm ON TRUE`).
		Where(where).
		OrderBy("c.last_message_at DESC NULLS LAST", "c.id DESC").
		Limit(uint64(limit)).
		Offset(uint64((page - 1) * limit)).
		ToSql()
	if err != nil {
		return nil, 0, errors.Wrap(err, "chatRepo.ListForUser.BuildList")
	}

	rows, err := r.pool.Query(ctx, listSQL, listArgs...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "chatRepo.ListForUser.Query")
	}
	defer rows.Close()

	var summaries []*ChatSummary
	var chatIDs []int
	for rows.Next() {
		chat := &models.Chat{}
		s := &ChatSummary{Chat: chat}
		var (
			name, description string
			maxMembers        int
			activityID        *int
			lmID, lmSenderID  *int
			lmContent, lmType *string
			lmCreatedAt       *time.Time
			lmUsername        *string
		)
		if err := rows.Scan(&chat.ID, &chat.Type, &name, &description, &maxMembers, &activityID,
			&chat.LastMessageAt, &chat.IsActive, &chat.CreatedBy, &chat.CreatedAt,
			&s.UnreadCount,
			&lmID, &lmSenderID, &lmContent, &lmType, &lmCreatedAt, &lmUsername); err != nil {
			return nil, 0, errors.Wrap(err, "chatRepo.ListForUser.Scan")
		}
		if chat.Type == models.ChatTypeGroup {
			chat.GroupInfo = &models.GroupInfo{
				Name:              name,
				Description:       description,
				MaxMembers:        maxMembers,
				RelatedActivityID: activityID,
			}
		}
		if lmID != nil {
			msg := &models.Message{
				ID:        *lmID,
				ChatID:    chat.ID,
				SenderID:  lmSenderID,
				Content:   *lmContent,
				Type:      *lmType,
				CreatedAt: *lmCreatedAt,
			}
			if lmSenderID != nil && lmUsername != nil {
				msg.Sender = &models.MessageSender{ID: *lmSenderID, Username: *lmUsername}
			} else {
				msg.Sender = models.DeletedUserSender()
			}
			s.LastMessage = msg
		}
		summaries = append(summaries, s)
		chatIDs = append(chatIDs, chat.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Wrap(err, "chatRepo.ListForUser.Rows")
	}

	if err := r.attachParticipants(ctx, summaries, chatIDs); err != nil {
		return nil, 0, err
	}
	return summaries, total, nil
}

func (r *ChatRepository) attachParticipants(ctx context.Context, summaries []*ChatSummary, chatIDs []int) error {
	if len(chatIDs) == 0 {
		return nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT cp.chat_id, cp.user_id, cp.role, cp.is_muted, cp.joined_at, cp.last_read_message_id,
		        u.username, u.email, u.is_online, u.created_at
		 FROM chat_participants cp
		 JOIN users u ON u.id = cp.user_id
		 WHERE cp.chat_id = ANY($1)
		 ORDER BY cp.joined_at, cp.user_id`, chatIDs)
	if err != nil {
		return errors.Wrap(err, "chatRepo.attachParticipants.Query")
	}
	defer rows.Close()

	byChat := make(map[int][]*models.Participant, len(chatIDs))
	for rows.Next() {
		var chatID int
		p := &models.Participant{User: &models.User{}}
		if err := rows.Scan(&chatID, &p.UserID, &p.Role, &p.IsMuted, &p.JoinedAt, &p.LastReadMessageID,
			&p.User.Username, &p.User.Email, &p.User.IsOnline, &p.User.CreatedAt); err != nil {
			return errors.Wrap(err, "chatRepo.attachParticipants.Scan")
		}
		p.User.ID = p.UserID
		byChat[chatID] = append(byChat[chatID], p)
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "chatRepo.attachParticipants.Rows")
	}
	for _, s := range summaries {
		s.Participants = byChat[s.Chat.ID]
	}
	return nil
}
