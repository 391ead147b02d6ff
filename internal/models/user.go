package models

import (
	"time"
)

type User struct {
	ID           int        `json:"id" db:"id"`
	Username     string     `json:"username" db:"username"`
	Email        string     `json:"email" db:"email"`
	PasswordHash string     `json:"-" db:"password_hash"`
	IsOnline     bool       `json:"is_online" db:"is_online"`
	LastActive   *time.Time `json:"last_active,omitempty" db:"last_active"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}

// Profile is owned by the external profile collaborator; only the fields the
// chat surface joins in are modeled here.
type Profile struct {
	UserID int    `json:"user_id" db:"user_id"`
	Avatar string `json:"avatar" db:"avatar"`
	Bio    string `json:"bio" db:"bio"`
}

// ParticipantView is the wire shape of a participant in chat:participants
// payloads and chat responses.
type ParticipantView struct {
	ID        int       `json:"id"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	Role      string    `json:"role,omitempty"`
	IsOnline  bool      `json:"isOnline"`
	Avatar    string    `json:"avatar"`
	Bio       string    `json:"bio"`
	IsMuted   bool      `json:"is_muted"`
	JoinedAt  time.Time `json:"joined_at"`
	CreatedAt time.Time `json:"createdAt"`
}
