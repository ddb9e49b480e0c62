package model

import "time"

// ProductSummary is the listing snapshot a chat is optionally anchored to.
// It is supplied by the product catalog at chat creation and treated as
// opaque metadata afterwards.
type ProductSummary struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Thumbnail string  `json:"thumbnail,omitempty"`
	Price     float64 `json:"price"`
	Status    string  `json:"status"`
}

// Chat is a thread between exactly two participants.
type Chat struct {
	ID           string          `json:"id"`
	Participants []Participant   `json:"participants"`
	Product      *ProductSummary `json:"product,omitempty"`
	LastMessage  *Message        `json:"lastMessage,omitempty"`
	UnreadCounts map[string]int  `json:"unreadCounts"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// HasParticipant reports whether the given user is part of the chat.
func (c *Chat) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}

// Counterpart returns the participant that is not the given user.
// Falls back to the zero Participant for malformed chats.
func (c *Chat) Counterpart(userID string) Participant {
	for _, p := range c.Participants {
		if p.ID != userID {
			return p
		}
	}
	return Participant{}
}

// UnreadFor returns the unread count for one participant.
func (c *Chat) UnreadFor(userID string) int {
	if c.UnreadCounts == nil {
		return 0
	}
	return c.UnreadCounts[userID]
}

// LastActivity is the timestamp the directory orders by: the last confirmed
// message when one exists, the chat update time otherwise.
func (c *Chat) LastActivity() time.Time {
	if c.LastMessage != nil && c.LastMessage.CreatedAt.After(c.UpdatedAt) {
		return c.LastMessage.CreatedAt
	}
	return c.UpdatedAt
}
