package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/openflea/fleachat/internal/bus"
	"github.com/openflea/fleachat/internal/cache"
	"github.com/openflea/fleachat/internal/model"
	"go.uber.org/zap"
)

var self = model.Participant{ID: "u-self", Name: "Alice"}

type staticView struct {
	chats map[string]*model.Chat
}

func (v *staticView) Self() model.Participant { return self }

func (v *staticView) Chat(chatID string) *model.Chat { return v.chats[chatID] }

func testDB(t *testing.T) *cache.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	db, err := cache.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func confirmed(id, chatID string, sender model.Participant, content string, at time.Time) *model.Message {
	return &model.Message{ID: id, ChatID: chatID, Sender: sender, Content: content, CreatedAt: at}
}

func TestIngestMessage(t *testing.T) {
	db := testDB(t)
	bob := model.Participant{ID: "u-bob", Name: "Bob"}
	view := &staticView{chats: map[string]*model.Chat{
		"chat-1": {
			ID:           "chat-1",
			Participants: []model.Participant{self, bob},
			Product:      &model.ProductSummary{ID: "prod-1", Title: "Bike"},
			UnreadCounts: map[string]int{self.ID: 2},
		},
	}}
	r := NewRecorder(db, bus.New(), view, zap.NewNop())

	msg := confirmed("m1", "chat-1", bob, "still for sale?", time.Now())
	if err := r.IngestMessage(msg); err != nil {
		t.Fatal(err)
	}

	chat, err := db.GetChat("chat-1")
	if err != nil {
		t.Fatal(err)
	}
	if chat == nil {
		t.Fatal("chat row not created")
	}
	if chat.CounterpartID != bob.ID || chat.ProductTitle != "Bike" || chat.UnreadCount != 2 {
		t.Errorf("chat row not flattened from directory: %+v", chat)
	}
	if chat.LastMessagePreview != "still for sale?" {
		t.Errorf("preview = %q", chat.LastMessagePreview)
	}

	msgs, err := db.ListMessages("chat-1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Content != "still for sale?" {
		t.Errorf("got %d messages, want 1", len(msgs))
	}

	// Re-ingesting the same message is a no-op.
	if err := r.IngestMessage(msg); err != nil {
		t.Fatal(err)
	}
	msgs, err = db.ListMessages("chat-1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Errorf("re-ingestion duplicated the message: %d rows", len(msgs))
	}
}

func TestRecorderBusFlow(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	view := &staticView{chats: map[string]*model.Chat{}}
	r := NewRecorder(db, b, view, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	defer r.Stop()

	bob := model.Participant{ID: "u-bob", Name: "Bob"}
	b.Publish(bus.Event{Kind: bus.KindMessageUpserted, Payload: confirmed("m1", "chat-1", bob, "hi", time.Now())})

	waitForRow(t, db, "chat-1", 1)

	// Provisional sends must not be recorded.
	pending := model.NewPending("chat-1", self, "draft", nil)
	b.Publish(bus.Event{Kind: bus.KindMessageUpserted, Payload: pending})
	time.Sleep(50 * time.Millisecond)
	msgs, err := db.ListMessages("chat-1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Errorf("provisional message was cached: %d rows", len(msgs))
	}

	// Chat removal evicts the cached rows.
	b.Publish(bus.Event{Kind: bus.KindChatRemoved, Payload: "chat-1"})
	waitForRow(t, db, "chat-1", 0)
}

func waitForRow(t *testing.T, db *cache.DB, chatID string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msgs, err := db.ListMessages(chatID, 0, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(msgs) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("cache never reached %d rows for %s", want, chatID)
}
