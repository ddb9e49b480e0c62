package realtime

import (
	"encoding/json"

	"github.com/openflea/fleachat/internal/model"
)

// Broker event names. Inbound events are dispatched to registered listeners;
// outbound events are emitted on the same connection.
const (
	evtNewMessage    = "newMessage"
	evtChatUpdated   = "chatUpdated"
	evtChatRead      = "chatRead"
	evtUserTyping    = "userTyping"
	evtStatusChanged = "userStatusChanged"

	evtJoinUserRooms = "joinUserRooms"
	evtJoinRoom      = "joinRoom"
	evtLeaveRoom     = "leaveRoom"
	evtTyping        = "typing"
	evtUpdateStatus  = "updateStatus"
)

// envelope is the broker's JSON frame.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// MessageEvent is the payload of a newMessage push.
type MessageEvent struct {
	ChatID  string         `json:"chatId"`
	Message *model.Message `json:"message"`
}

// ChatUpdatedEvent is the payload of a chatUpdated push.
type ChatUpdatedEvent struct {
	Chat *model.Chat `json:"chat"`
}

// ChatReadEvent is the payload of a chatRead push: userId acknowledged
// everything in chatId.
type ChatReadEvent struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

// TypingEvent is the payload of a userTyping push.
type TypingEvent struct {
	ChatID   string `json:"chatId"`
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// PresenceEvent is the payload of a userStatusChanged push.
type PresenceEvent struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

type joinUserRoomsPayload struct {
	UserID  string   `json:"userId"`
	ChatIDs []string `json:"chatIds"`
}

type updateStatusPayload struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}
