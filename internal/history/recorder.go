package history

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openflea/fleachat/internal/bus"
	"github.com/openflea/fleachat/internal/cache"
	"github.com/openflea/fleachat/internal/model"
	"go.uber.org/zap"
)

// DirectoryView is the read surface the recorder needs from the session
// store to flatten chat metadata at ingestion time.
type DirectoryView interface {
	Self() model.Participant
	Chat(chatID string) *model.Chat
}

// Recorder mirrors confirmed session activity into the offline cache. It
// subscribes to message and chat events on the bus and performs idempotent
// upserts, so replays after a reconnect are harmless.
type Recorder struct {
	db     *cache.DB
	bus    *bus.Bus
	view   DirectoryView
	logger *zap.Logger
	cancel context.CancelFunc
}

func NewRecorder(db *cache.DB, b *bus.Bus, view DirectoryView, logger *zap.Logger) *Recorder {
	return &Recorder{
		db:     db,
		bus:    b,
		view:   view,
		logger: logger,
	}
}

// Start subscribes to message and chat events on the bus.
func (r *Recorder) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	msgCh, unsubMsg := r.bus.Subscribe("message.", 256)
	chatCh, unsubChat := r.bus.Subscribe("chat.", 256)

	go func() {
		defer unsubMsg()
		defer unsubChat()
		for {
			select {
			case evt := <-msgCh:
				r.handleMessageEvent(evt)
			case evt := <-chatCh:
				r.handleChatEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the recorder.
func (r *Recorder) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *Recorder) handleMessageEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindMessageUpserted, bus.KindMessageSendAck:
		msg, ok := evt.Payload.(*model.Message)
		if !ok || !msg.Confirmed() {
			// Provisional and failed sends never reach the cache.
			return
		}
		if err := r.IngestMessage(msg); err != nil {
			r.logger.Error("failed to ingest message", zap.Error(err), zap.String("msg_id", msg.ID))
		}
	}
}

func (r *Recorder) handleChatEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindChatRemoved:
		chatID, ok := evt.Payload.(string)
		if !ok {
			return
		}
		if err := r.db.DeleteChat(chatID); err != nil {
			r.logger.Error("failed to evict chat", zap.Error(err), zap.String("chat_id", chatID))
		}
	case bus.KindChatDirectory, bus.KindChatUnread:
		// Counts and ordering are refreshed lazily on the next message
		// ingestion; the events themselves carry no chat data.
	}
}

// IngestMessage writes one confirmed message and its chat snapshot into the
// cache (idempotent).
func (r *Recorder) IngestMessage(msg *model.Message) error {
	if err := r.db.UpsertChat(r.flattenChat(msg)); err != nil {
		return fmt.Errorf("upsert chat: %w", err)
	}
	if err := r.db.UpsertMessage(flattenMessage(msg)); err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}
	return nil
}

// flattenChat builds the cache row for the message's chat from the live
// directory entry when available, falling back to what the message carries.
func (r *Recorder) flattenChat(msg *model.Message) *cache.Chat {
	row := &cache.Chat{
		ID:                 msg.ChatID,
		LastMessageAt:      msg.CreatedAt.UnixMilli(),
		LastMessagePreview: truncate(msg.Content, 100),
	}
	self := r.view.Self()
	if chat := r.view.Chat(msg.ChatID); chat != nil {
		counterpart := chat.Counterpart(self.ID)
		row.CounterpartID = counterpart.ID
		row.CounterpartName = counterpart.Name
		if chat.Product != nil {
			row.ProductID = chat.Product.ID
			row.ProductTitle = chat.Product.Title
		}
		row.UnreadCount = chat.UnreadFor(self.ID)
	} else if msg.Sender.ID != self.ID {
		row.CounterpartID = msg.Sender.ID
		row.CounterpartName = msg.Sender.Name
	}
	return row
}

func flattenMessage(msg *model.Message) *cache.Message {
	attachments := ""
	if len(msg.Attachments) > 0 {
		if raw, err := json.Marshal(msg.Attachments); err == nil {
			attachments = string(raw)
		}
	}
	return &cache.Message{
		ID:          msg.ID,
		ChatID:      msg.ChatID,
		SenderID:    msg.Sender.ID,
		SenderName:  msg.Sender.Name,
		Content:     msg.Content,
		Attachments: attachments,
		CreatedAt:   msg.CreatedAt.UnixMilli(),
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
