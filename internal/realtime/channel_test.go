package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/openflea/fleachat/internal/auth"
	"github.com/openflea/fleachat/internal/model"
	"go.uber.org/zap"
)

// broker is a minimal in-process stand-in for the message broker.
type broker struct {
	srv      *httptest.Server
	conns    chan *websocket.Conn
	frames   chan envelope
	upgrades atomic.Int32
}

func newBroker(t *testing.T) *broker {
	t.Helper()
	b := &broker{
		conns:  make(chan *websocket.Conn, 4),
		frames: make(chan envelope, 64),
	}
	upgrader := websocket.Upgrader{}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.upgrades.Add(1)
		b.conns <- conn
		go func() {
			for {
				var env envelope
				if err := conn.ReadJSON(&env); err != nil {
					return
				}
				b.frames <- env
			}
		}()
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *broker) url() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http")
}

func (b *broker) conn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-b.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for broker connection")
		return nil
	}
}

func (b *broker) frame(t *testing.T) envelope {
	t.Helper()
	select {
	case f := <-b.frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for frame")
		return envelope{}
	}
}

func (b *broker) expectNoFrame(t *testing.T) {
	t.Helper()
	select {
	case f := <-b.frames:
		t.Fatalf("unexpected frame: %+v", f)
	case <-time.After(100 * time.Millisecond):
	}
}

func (b *broker) push(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteJSON(envelope{Event: event, Data: payload}); err != nil {
		t.Fatal(err)
	}
}

func testChannel(t *testing.T, b *broker) *Channel {
	t.Helper()
	creds := auth.Static{Token: "tok-1", User: model.Participant{ID: "u1", Name: "Alice"}}
	ch := NewChannel(b.url(), creds, zap.NewNop())
	t.Cleanup(ch.Disconnect)
	return ch
}

func TestConnectIdempotent(t *testing.T) {
	b := newBroker(t)
	ch := testChannel(t, b)

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !ch.Connected() {
		t.Fatal("Connected() = false after Connect")
	}
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}
	if got := b.upgrades.Load(); got != 1 {
		t.Errorf("broker saw %d connections, want 1", got)
	}
}

func TestConnectNoCredentials(t *testing.T) {
	b := newBroker(t)
	ch := NewChannel(b.url(), auth.Static{}, zap.NewNop())

	if err := ch.Connect(context.Background()); err == nil {
		t.Fatal("Connect() should reject without credentials")
	}
	if ch.Connected() {
		t.Error("channel must stay disconnected after a rejected connect")
	}
}

func TestConnectHandshakeRefused(t *testing.T) {
	b := newBroker(t)
	creds := auth.Static{Token: "bad", User: model.Participant{ID: "u1"}}
	ch := NewChannel(b.url(), creds, zap.NewNop())

	if err := ch.Connect(context.Background()); err == nil {
		t.Fatal("Connect() should fail when the broker refuses the handshake")
	}
	// Re-invoking Connect after a refusal must be safe.
	if err := ch.Connect(context.Background()); err == nil {
		t.Fatal("expected second Connect() to fail the same way")
	}
}

func TestJoinRoomIdempotent(t *testing.T) {
	b := newBroker(t)
	ch := testChannel(t, b)
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	ch.JoinRoom("c1")
	ch.JoinRoom("c1")

	f := b.frame(t)
	if f.Event != evtJoinRoom {
		t.Errorf("event = %q, want %q", f.Event, evtJoinRoom)
	}
	var chatID string
	_ = json.Unmarshal(f.Data, &chatID)
	if chatID != "c1" {
		t.Errorf("chatID = %q, want c1", chatID)
	}
	b.expectNoFrame(t)
}

func TestLeaveRoom(t *testing.T) {
	b := newBroker(t)
	ch := testChannel(t, b)
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	ch.JoinRoom("c1")
	_ = b.frame(t)
	ch.LeaveRoom("c1")

	f := b.frame(t)
	if f.Event != evtLeaveRoom {
		t.Errorf("event = %q, want %q", f.Event, evtLeaveRoom)
	}

	// Leaving a room we are not in emits nothing.
	ch.LeaveRoom("c1")
	b.expectNoFrame(t)
}

func TestJoinUserRooms(t *testing.T) {
	b := newBroker(t)
	ch := testChannel(t, b)
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	ch.JoinUserRooms([]string{"c1", "c2"})

	f := b.frame(t)
	if f.Event != evtJoinUserRooms {
		t.Fatalf("event = %q, want %q", f.Event, evtJoinUserRooms)
	}
	var p joinUserRoomsPayload
	_ = json.Unmarshal(f.Data, &p)
	if p.UserID != "u1" || len(p.ChatIDs) != 2 {
		t.Errorf("payload = %+v, want u1 with 2 chat ids", p)
	}
}

func TestJoinUserRoomsDisconnectedIsNoOp(t *testing.T) {
	b := newBroker(t)
	ch := testChannel(t, b)

	// Not connected: must warn and no-op rather than panic or emit.
	ch.JoinUserRooms([]string{"c1"})
	b.expectNoFrame(t)
}

func TestDispatchOrderAndUnsubscribe(t *testing.T) {
	b := newBroker(t)
	ch := testChannel(t, b)
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	serverConn := b.conn(t)

	got := make(chan string, 8)
	unsubFirst := ch.OnMessage(func(evt MessageEvent) { got <- "first:" + evt.Message.ID })
	ch.OnMessage(func(evt MessageEvent) { got <- "second:" + evt.Message.ID })

	b.push(t, serverConn, evtNewMessage, MessageEvent{
		ChatID:  "c1",
		Message: &model.Message{ID: "m1", ChatID: "c1", Content: "hi"},
	})

	for _, want := range []string{"first:m1", "second:m1"} {
		select {
		case v := <-got:
			if v != want {
				t.Errorf("dispatch = %q, want %q (registration order)", v, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for dispatch")
		}
	}

	unsubFirst()
	b.push(t, serverConn, evtNewMessage, MessageEvent{
		ChatID:  "c1",
		Message: &model.Message{ID: "m2", ChatID: "c1"},
	})

	select {
	case v := <-got:
		if v != "second:m2" {
			t.Errorf("dispatch after unsubscribe = %q, want second:m2", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for dispatch")
	}
	select {
	case v := <-got:
		t.Errorf("unexpected dispatch %q after unsubscribe", v)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTypingAndPresenceEmits(t *testing.T) {
	b := newBroker(t)
	ch := testChannel(t, b)
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	ch.SendTyping("c1", true)
	f := b.frame(t)
	if f.Event != evtTyping {
		t.Fatalf("event = %q, want %q", f.Event, evtTyping)
	}
	var typing TypingEvent
	_ = json.Unmarshal(f.Data, &typing)
	if typing.ChatID != "c1" || typing.UserID != "u1" || !typing.IsTyping {
		t.Errorf("typing payload = %+v", typing)
	}

	ch.UpdatePresence("online")
	f = b.frame(t)
	if f.Event != evtUpdateStatus {
		t.Fatalf("event = %q, want %q", f.Event, evtUpdateStatus)
	}
}

func TestChatReadAndPresenceDispatch(t *testing.T) {
	b := newBroker(t)
	ch := testChannel(t, b)
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	serverConn := b.conn(t)

	reads := make(chan ChatReadEvent, 1)
	ch.OnChatRead(func(evt ChatReadEvent) { reads <- evt })
	presences := make(chan PresenceEvent, 1)
	ch.OnPresenceChange(func(evt PresenceEvent) { presences <- evt })

	b.push(t, serverConn, evtChatRead, ChatReadEvent{ChatID: "c1", UserID: "u2"})
	b.push(t, serverConn, evtStatusChanged, PresenceEvent{UserID: "u2", Status: "online"})

	select {
	case evt := <-reads:
		if evt.ChatID != "c1" || evt.UserID != "u2" {
			t.Errorf("chatRead = %+v", evt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for chatRead")
	}
	select {
	case evt := <-presences:
		if evt.Status != "online" {
			t.Errorf("presence = %+v", evt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for presence")
	}
}

func TestDisconnectIdempotentAndSilent(t *testing.T) {
	b := newBroker(t)
	ch := testChannel(t, b)
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	notices := make(chan error, 1)
	ch.OnDisconnect(func(err error) { notices <- err })

	ch.Disconnect()
	ch.Disconnect()

	if ch.Connected() {
		t.Error("Connected() = true after Disconnect")
	}
	select {
	case err := <-notices:
		t.Errorf("deliberate disconnect fired a notice: %v", err)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestDropFiresDisconnectNotice(t *testing.T) {
	b := newBroker(t)
	ch := testChannel(t, b)
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	serverConn := b.conn(t)

	notices := make(chan error, 1)
	ch.OnDisconnect(func(err error) { notices <- err })

	// Hard-close the server side to simulate a mid-session network drop.
	_ = serverConn.Close()

	select {
	case <-notices:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for disconnect notice")
	}
	if ch.Connected() {
		t.Error("channel still reports connected after drop")
	}

	// Reconnect must be safe, and room subscriptions start empty again.
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect error = %v", err)
	}
	ch.JoinRoom("c1")
	f := b.frame(t)
	if f.Event != evtJoinRoom {
		t.Errorf("event = %q, want %q after reconnect", f.Event, evtJoinRoom)
	}
}
