package session

import (
	"context"
	"time"

	"github.com/openflea/fleachat/internal/bus"
	"github.com/openflea/fleachat/internal/model"
	"github.com/openflea/fleachat/internal/realtime"
	"go.uber.org/zap"
)

// handleNewMessage applies a newMessage push: append to the timeline when
// the chat is selected, refresh the last-message snapshot, and bump the
// unread count for foreign messages on unselected chats.
//
// Dedupe for the optimistic-send race: a push from the current user whose
// content matches a pending message at the timeline tail is the same
// logical send racing its own REST response. The REST response is the sole
// source of truth, so the push-triggered append is discarded. Matching is
// by content+sender because the broker echoes no correlation id; two
// identical sends in quick succession can theoretically collapse here,
// which the wire protocol would have to change to rule out.
func (s *Store) handleNewMessage(evt realtime.MessageEvent) {
	msg := evt.Message
	if msg == nil {
		return
	}
	chatID := evt.ChatID
	if chatID == "" {
		chatID = msg.ChatID
	}

	s.mu.Lock()
	selected := s.selectedID == chatID && s.selState == Ready
	fromSelf := msg.Sender.ID == s.self.ID

	appended := false
	if selected && !(fromSelf && s.pendingTailMatchesLocked(msg)) {
		s.timeline = append(s.timeline, msg)
		appended = true
	}

	chat := s.directory.Get(chatID)
	if chat != nil {
		chat.LastMessage = msg
		if msg.CreatedAt.After(chat.UpdatedAt) {
			chat.UpdatedAt = msg.CreatedAt
		}
		s.directory.Touch()
	}

	unreadBumped := false
	unreadCount := 0
	if !fromSelf {
		unseen := s.reads().foreignMessage(chatID, msg.CreatedAt)
		if selected {
			// The user is looking at the thread; it stays read.
			s.reads().markRead(chatID, msg.CreatedAt)
		} else if unseen && chat != nil {
			if chat.UnreadCounts == nil {
				chat.UnreadCounts = make(map[string]int)
			}
			chat.UnreadCounts[s.self.ID]++
			unreadBumped = true
			unreadCount = chat.UnreadCounts[s.self.ID]
		}
	}
	s.mu.Unlock()

	if chat == nil {
		// First contact on a thread we have never listed; fetch it so the
		// directory picks it up.
		go s.refreshChat(chatID)
	}

	if appended {
		s.bus.Publish(bus.Event{Kind: bus.KindMessageUpserted, Payload: msg})
	}
	if unreadBumped {
		s.bus.Publish(bus.Event{Kind: bus.KindChatUnread, Payload: UnreadChange{ChatID: chatID, UserID: s.self.ID, Count: unreadCount}})
	}
	s.bus.Publish(bus.Event{Kind: bus.KindChatDirectory, Payload: 1})
}

// pendingTailMatchesLocked scans the trailing run of pending messages for
// one from the same sender with identical content. Callers hold the lock.
func (s *Store) pendingTailMatchesLocked(msg *model.Message) bool {
	for i := len(s.timeline) - 1; i >= 0; i-- {
		m := s.timeline[i]
		if !m.Pending {
			return false
		}
		if m.Sender.ID == msg.Sender.ID && m.Content == msg.Content {
			return true
		}
	}
	return false
}

// handleChatUpdated merges pushed chat metadata into the directory entry
// without disturbing fields the event does not carry.
func (s *Store) handleChatUpdated(evt realtime.ChatUpdatedEvent) {
	updated := evt.Chat
	if updated == nil || updated.ID == "" {
		return
	}

	s.mu.Lock()
	existing := s.directory.Get(updated.ID)
	if existing == nil {
		s.directory.Put(updated)
	} else {
		if len(updated.Participants) > 0 {
			existing.Participants = updated.Participants
		}
		if updated.Product != nil {
			existing.Product = updated.Product
		}
		if updated.LastMessage != nil {
			existing.LastMessage = updated.LastMessage
		}
		if updated.UnreadCounts != nil {
			existing.UnreadCounts = updated.UnreadCounts
		}
		if updated.UpdatedAt.After(existing.UpdatedAt) {
			existing.UpdatedAt = updated.UpdatedAt
		}
		s.directory.Touch()
	}
	s.mu.Unlock()

	s.bus.Publish(bus.Event{Kind: bus.KindChatDirectory, Payload: 1})
}

// handleChatRead zeroes the acknowledging participant's unread entry.
func (s *Store) handleChatRead(evt realtime.ChatReadEvent) {
	s.mu.Lock()
	if evt.UserID == s.self.ID {
		// Read receipt for ourselves, e.g. from another device.
		s.markReadLocked(evt.ChatID, evt.UserID)
	} else if chat := s.directory.Get(evt.ChatID); chat != nil {
		if chat.UnreadCounts == nil {
			chat.UnreadCounts = make(map[string]int)
		}
		chat.UnreadCounts[evt.UserID] = 0
	}
	s.mu.Unlock()

	s.bus.Publish(bus.Event{Kind: bus.KindChatUnread, Payload: UnreadChange{ChatID: evt.ChatID, UserID: evt.UserID, Count: 0}})
}

// Typing and presence are ephemeral: forwarded verbatim, last value wins at
// the consumer, no store state changes.
func (s *Store) handleTyping(evt realtime.TypingEvent) {
	s.bus.Publish(bus.Event{Kind: bus.KindTyping, Payload: evt})
}

func (s *Store) handlePresence(evt realtime.PresenceEvent) {
	s.bus.Publish(bus.Event{Kind: bus.KindPresence, Payload: evt})
}

// refreshChat fetches a chat the directory does not know yet.
func (s *Store) refreshChat(chatID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	chat, err := s.backend.GetChat(ctx, chatID)
	if err != nil {
		s.logger.Warn("refresh chat failed", zap.String("chat_id", chatID), zap.Error(err))
		return
	}

	s.mu.Lock()
	if s.directory.Get(chatID) == nil {
		s.directory.Put(chat)
	}
	s.mu.Unlock()

	s.bus.Publish(bus.Event{Kind: bus.KindChatDirectory, Payload: 1})
}
