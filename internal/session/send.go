package session

import (
	"context"
	"time"

	"github.com/openflea/fleachat/internal/bus"
	"github.com/openflea/fleachat/internal/model"
	"go.uber.org/zap"
)

// SendMessage runs the optimistic send pipeline on the selected chat:
// a provisional message is appended immediately, then swapped in place for
// the confirmed record when the backend responds, or rolled back on failure.
// No chat selected rejects outright without touching state.
//
// The provisional entry is matched by its temp id, never by content, so a
// push event racing the REST response cannot confuse reconciliation: temp
// ids can never equal server ids, and the racing push is deduplicated in
// handleNewMessage against the pending tail.
func (s *Store) SendMessage(ctx context.Context, content string, attachments []string) (*model.Message, error) {
	s.mu.Lock()
	if s.selectedID == "" {
		s.mu.Unlock()
		return nil, ErrNoSelection
	}
	chatID := s.selectedID
	pending := model.NewPending(chatID, s.self, content, attachments)
	s.timeline = append(s.timeline, pending)
	s.mu.Unlock()

	s.bus.Publish(bus.Event{Kind: bus.KindMessageUpserted, Payload: pending})

	confirmed, err := s.backend.SendMessage(ctx, chatID, content, attachments)
	if err != nil {
		failed := s.rollback(pending, err)
		s.logger.Warn("send failed",
			zap.String("chat_id", chatID),
			zap.String("temp_id", pending.TempID),
			zap.Error(err),
		)
		s.bus.Publish(bus.Event{Kind: bus.KindMessageFailed, Payload: failed})
		return nil, err
	}

	s.confirm(pending.TempID, confirmed)
	s.bus.Publish(bus.Event{Kind: bus.KindMessageSendAck, Payload: confirmed})
	s.bus.Publish(bus.Event{Kind: bus.KindMessageUpserted, Payload: confirmed})
	s.bus.Publish(bus.Event{Kind: bus.KindChatDirectory, Payload: 1})
	return confirmed, nil
}

// confirm replaces the provisional entry, preserving its timeline position,
// and refreshes the owning chat's last-message snapshot. A provisional entry
// that is gone (a new selection replaced the timeline meanwhile) only
// updates the directory.
func (s *Store) confirm(tempID string, confirmed *model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, m := range s.timeline {
		if m.TempID == tempID && m.Pending {
			s.timeline[i] = confirmed
			break
		}
	}

	if chat := s.directory.Get(confirmed.ChatID); chat != nil {
		chat.LastMessage = confirmed
		if confirmed.CreatedAt.After(chat.UpdatedAt) {
			chat.UpdatedAt = confirmed.CreatedAt
		}
		s.directory.Touch()
	}
	// Our own confirmed send counts as a read mark: anything we wrote we
	// have necessarily seen.
	s.reads().markRead(confirmed.ChatID, confirmed.CreatedAt)
	s.lastErr = nil
}

// rollback removes the provisional entry and records the failure. The
// removed message is returned flagged Failed so the failure event carries
// enough for a consumer to offer resend; it never silently disappears
// without trace.
func (s *Store) rollback(pending *model.Message, cause error) *model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, m := range s.timeline {
		if m.TempID == pending.TempID {
			s.timeline = append(s.timeline[:i], s.timeline[i+1:]...)
			break
		}
	}
	failed := *pending
	failed.Pending = false
	failed.Failed = true
	failed.UpdatedAt = time.Now()
	s.lastErr = cause
	return &failed
}
