package models

import (
	"time"
)

// Activity is the external activity collaborator, modeled only as far as chat
// operations touch it: the related-activity reference on group chats, the
// fullness gate and participant/metadata sync.
type Activity struct {
	ID              int       `json:"id" db:"id"`
	Title           string    `json:"title" db:"title"`
	Description     string    `json:"description" db:"description"`
	Category        string    `json:"category" db:"category"`
	Location        string    `json:"location" db:"location"`
	MaxParticipants *int      `json:"max_participants,omitempty" db:"max_participants"`
	CreatedBy       *int      `json:"created_by,omitempty" db:"created_by"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`

	ParticipantCount int `json:"participant_count"`
}

// IsFull reports whether the activity has no open slot. The creator occupies
// a slot even when not listed as a participant.
func (a *Activity) IsFull(creatorCounted bool) bool {
	if a.MaxParticipants == nil || *a.MaxParticipants <= 0 {
		return false
	}
	count := a.ParticipantCount
	if a.CreatedBy != nil && !creatorCounted {
		count++
	}
	return count >= *a.MaxParticipants
}
