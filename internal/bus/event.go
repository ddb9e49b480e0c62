package bus

import "time"

// Kinds published by the session engine. Subscribers filter by namespace
// prefix, e.g. "message." matches every message-related event.
const (
	KindMessageUpserted = "message.upserted"
	KindMessageSendAck  = "message.send_ack"
	KindMessageFailed   = "message.send_failed"
	KindChatDirectory   = "chat.directory_changed"
	KindChatUnread      = "chat.unread_changed"
	KindChatRemoved     = "chat.removed"
	KindTyping          = "presence.typing"
	KindPresence        = "presence.status"
	KindStatusChanged   = "session.status_changed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
