package models

import (
	"time"
)

const (
	MessageTypeText   = "text"
	MessageTypeImage  = "image"
	MessageTypeFile   = "file"
	MessageTypeSystem = "system"
)

// DeletedMessageContent is the tombstone a deleted message's content is
// replaced with; the slot keeps its id and position.
const DeletedMessageContent = "[Message deleted]"

func ValidMessageType(t string) bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile, MessageTypeSystem:
		return true
	}
	return false
}

type Message struct {
	ID        int        `json:"id"`
	ChatID    int        `json:"chat_id"`
	SenderID  *int       `json:"sender_id,omitempty"`
	Content   string     `json:"content"`
	Type      string     `json:"type"`
	FileURL   string     `json:"file_url,omitempty"`
	IsEdited  bool       `json:"is_edited"`
	EditedAt  *time.Time `json:"edited_at,omitempty"`
	IsDeleted bool       `json:"is_deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`

	Sender *MessageSender `json:"sender,omitempty"`
}

// MessageSender is the joined user view attached to an outgoing message. A
// message whose user record is gone gets the deleted-user placeholder.
type MessageSender struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Avatar   string `json:"avatar"`
	IsOnline bool   `json:"isOnline"`
}

func DeletedUserSender() *MessageSender {
	return &MessageSender{Username: "Deleted User"}
}

// LastMessagePreview is the inbox-listing summary of a chat's newest message.
type LastMessagePreview struct {
	Content   string         `json:"content"`
	Type      string         `json:"type"`
	Sender    *MessageSender `json:"sender"`
	CreatedAt time.Time      `json:"created_at"`
}
