package model

import (
	"time"

	"github.com/google/uuid"
)

// Participant identifies one side of a chat.
type Participant struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// Message is one unit of communication inside a chat. Pending and Failed are
// client-side only: they never round-trip through the backend.
type Message struct {
	ID          string      `json:"id"`
	TempID      string      `json:"-"`
	ChatID      string      `json:"chatId"`
	Sender      Participant `json:"sender"`
	Content     string      `json:"content"`
	Attachments []string    `json:"attachments,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`

	Pending bool `json:"-"`
	Failed  bool `json:"-"`
}

// Confirmed reports whether the message carries a server-assigned identity.
func (m *Message) Confirmed() bool {
	return !m.Pending && !m.Failed
}

// NewPending synthesizes a provisional message for an optimistic send.
// The temp id is prefixed so it can never collide with a server id.
func NewPending(chatID string, sender Participant, content string, attachments []string) *Message {
	now := time.Now()
	return &Message{
		TempID:      "temp-" + uuid.NewString(),
		ChatID:      chatID,
		Sender:      sender,
		Content:     content,
		Attachments: attachments,
		CreatedAt:   now,
		UpdatedAt:   now,
		Pending:     true,
	}
}
