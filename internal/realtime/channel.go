package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/openflea/fleachat/internal/auth"
	"go.uber.org/zap"
)

// Channel manages the single persistent connection to the message broker:
// bearer handshake, room subscriptions, and dispatch of inbound push events
// to registered listeners. It owns no retry policy — Connect is safe to
// re-invoke at any time, and room subscriptions are not restored across
// reconnects; the consumer re-issues JoinUserRooms after reconnecting.
type Channel struct {
	url    string
	creds  auth.Source
	logger *zap.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	joined  map[string]bool
	userID  string
	closing bool

	onMessage     handlerList[MessageEvent]
	onChatUpdated handlerList[ChatUpdatedEvent]
	onChatRead    handlerList[ChatReadEvent]
	onTyping      handlerList[TypingEvent]
	onPresence    handlerList[PresenceEvent]
	onDisconnect  handlerList[error]
}

// NewChannel creates a channel for the given broker websocket URL.
func NewChannel(url string, creds auth.Source, logger *zap.Logger) *Channel {
	return &Channel{
		url:    url,
		creds:  creds,
		logger: logger,
		joined: make(map[string]bool),
	}
}

// Connect establishes the broker connection with the bearer credential.
// Calling while already connected is a no-op. A rejected handshake leaves
// the channel disconnected; the caller decides whether to retry.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	creds, err := c.creds.Credentials()
	if err != nil {
		return fmt.Errorf("realtime connect: %w", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+creds.Token)

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, c.url, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("broker handshake refused: status=%d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("dial broker: %w", err)
	}

	c.mu.Lock()
	if c.conn != nil {
		// Lost the race against a concurrent Connect; keep the first one.
		c.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	c.conn = conn
	c.userID = creds.User.ID
	c.joined = make(map[string]bool)
	c.closing = false
	c.mu.Unlock()

	c.logger.Info("broker connected", zap.String("user_id", creds.User.ID))
	go c.readPump(conn)
	return nil
}

// Disconnect tears down the connection and discards it. Idempotent.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.closing = true
	c.joined = make(map[string]bool)
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
		c.logger.Info("broker disconnected")
	}
}

// Connected reports whether a broker connection is established.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// JoinUserRooms subscribes to push events for all of the user's chat rooms
// in one emit. No-ops with a warning when disconnected or when the user
// identity is unknown.
func (c *Channel) JoinUserRooms(chatIDs []string) {
	c.mu.Lock()
	if c.conn == nil || c.userID == "" {
		c.mu.Unlock()
		c.logger.Warn("joinUserRooms skipped: not connected or no user identity")
		return
	}
	userID := c.userID
	for _, id := range chatIDs {
		c.joined[id] = true
	}
	c.mu.Unlock()

	c.emit(evtJoinUserRooms, joinUserRoomsPayload{UserID: userID, ChatIDs: chatIDs})
}

// JoinRoom subscribes to a single chat room. Idempotent: re-joining an
// already subscribed room is a no-op.
func (c *Channel) JoinRoom(chatID string) {
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		c.logger.Warn("joinRoom skipped: not connected", zap.String("chat_id", chatID))
		return
	}
	if c.joined[chatID] {
		c.mu.Unlock()
		return
	}
	c.joined[chatID] = true
	c.mu.Unlock()

	c.emit(evtJoinRoom, chatID)
}

// LeaveRoom unsubscribes from a chat room. Idempotent.
func (c *Channel) LeaveRoom(chatID string) {
	c.mu.Lock()
	if c.conn == nil || !c.joined[chatID] {
		c.mu.Unlock()
		return
	}
	delete(c.joined, chatID)
	c.mu.Unlock()

	c.emit(evtLeaveRoom, chatID)
}

// SendTyping emits a typing indicator. Fire-and-forget: no acknowledgement
// is awaited and staleness is harmless.
func (c *Channel) SendTyping(chatID string, isTyping bool) {
	c.mu.Lock()
	userID := c.userID
	c.mu.Unlock()
	c.emit(evtTyping, TypingEvent{ChatID: chatID, UserID: userID, IsTyping: isTyping})
}

// UpdatePresence emits a presence status change. Fire-and-forget.
func (c *Channel) UpdatePresence(status string) {
	c.mu.Lock()
	userID := c.userID
	c.mu.Unlock()
	c.emit(evtUpdateStatus, updateStatusPayload{UserID: userID, Status: status})
}

// OnMessage registers a listener for newMessage pushes.
func (c *Channel) OnMessage(fn func(MessageEvent)) func() {
	return c.onMessage.add(fn)
}

// OnChatUpdated registers a listener for chatUpdated pushes.
func (c *Channel) OnChatUpdated(fn func(ChatUpdatedEvent)) func() {
	return c.onChatUpdated.add(fn)
}

// OnChatRead registers a listener for chatRead pushes.
func (c *Channel) OnChatRead(fn func(ChatReadEvent)) func() {
	return c.onChatRead.add(fn)
}

// OnTyping registers a listener for userTyping pushes.
func (c *Channel) OnTyping(fn func(TypingEvent)) func() {
	return c.onTyping.add(fn)
}

// OnPresenceChange registers a listener for userStatusChanged pushes.
func (c *Channel) OnPresenceChange(fn func(PresenceEvent)) func() {
	return c.onPresence.add(fn)
}

// OnDisconnect registers a listener for the internal disconnect notice fired
// when the connection drops mid-session. Deliberate Disconnect calls do not
// fire it.
func (c *Channel) OnDisconnect(fn func(error)) func() {
	return c.onDisconnect.add(fn)
}

// emit writes one envelope. Writes are serialized by the connection lock;
// failures are logged and swallowed — realtime is best-effort and must never
// crash the session.
func (c *Channel) emit(event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		c.logger.Error("encode emit payload", zap.String("event", event), zap.Error(err))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return
	}
	if err := c.conn.WriteJSON(envelope{Event: event, Data: payload}); err != nil {
		c.logger.Warn("emit failed", zap.String("event", event), zap.Error(err))
	}
}

// readPump reads frames until the connection dies, dispatching each inbound
// event to every registered listener in registration order. The channel does
// not deduplicate or reorder events; ordering guarantees belong to the
// consumer.
func (c *Channel) readPump(conn *websocket.Conn) {
	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			c.mu.Lock()
			deliberate := c.closing || c.conn != conn
			if c.conn == conn {
				c.conn = nil
				c.joined = make(map[string]bool)
			}
			c.mu.Unlock()

			if !deliberate {
				c.logger.Warn("broker connection lost", zap.Error(err))
				c.onDisconnect.dispatch(err)
			}
			return
		}
		c.dispatch(env)
	}
}

func (c *Channel) dispatch(env envelope) {
	switch env.Event {
	case evtNewMessage:
		var evt MessageEvent
		if c.decode(env, &evt) {
			c.onMessage.dispatch(evt)
		}
	case evtChatUpdated:
		var evt ChatUpdatedEvent
		if c.decode(env, &evt) {
			c.onChatUpdated.dispatch(evt)
		}
	case evtChatRead:
		var evt ChatReadEvent
		if c.decode(env, &evt) {
			c.onChatRead.dispatch(evt)
		}
	case evtUserTyping:
		var evt TypingEvent
		if c.decode(env, &evt) {
			c.onTyping.dispatch(evt)
		}
	case evtStatusChanged:
		var evt PresenceEvent
		if c.decode(env, &evt) {
			c.onPresence.dispatch(evt)
		}
	default:
		c.logger.Debug("ignoring unknown broker event", zap.String("event", env.Event))
	}
}

func (c *Channel) decode(env envelope, out any) bool {
	if err := json.Unmarshal(env.Data, out); err != nil {
		c.logger.Warn("malformed broker event",
			zap.String("event", env.Event), zap.Error(err))
		return false
	}
	return true
}
