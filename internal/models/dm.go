package models

import (
	"time"
)

type DirectMessage struct {
	ID        int       `json:"id" db:"id"`
	FromID    int       `json:"from_id" db:"from_id"`
	ToID      int       `json:"to_id" db:"to_id"`
	Text      string    `json:"text" db:"text"`
	IsRead    bool      `json:"is_read" db:"is_read"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type DMUser struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Avatar   string `json:"avatar,omitempty"`
}

// DirectMessageView is the enriched payload delivered on dm:receive/dm:sent.
type DirectMessageView struct {
	ID        int       `json:"id"`
	From      DMUser    `json:"from"`
	To        DMUser    `json:"to"`
	Text      string    `json:"text"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
