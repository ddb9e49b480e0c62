package session

import (
	"context"
	"time"

	"github.com/openflea/fleachat/internal/bus"
)

// readTracker reconciles the three unread signals — local selection, push
// read receipts, and foreign-message arrival — into one converging state:
// a chat is fully read iff the newest read mark is no earlier than the
// newest foreign message. Tracking the two high-water marks makes the
// outcome independent of signal arrival order: a foreign message delivered
// late, after a read receipt that already covers it, must not bump the
// counter back up.
type readTracker struct {
	marks   map[string]time.Time // chat id -> newest read mark by the current user
	foreign map[string]time.Time // chat id -> newest message not authored by the current user
}

func newReadTracker() *readTracker {
	return &readTracker{
		marks:   make(map[string]time.Time),
		foreign: make(map[string]time.Time),
	}
}

// markRead records a read-marking action (selection, explicit mark-read, or
// an own confirmed send) at the given time.
func (t *readTracker) markRead(chatID string, at time.Time) {
	if at.After(t.marks[chatID]) {
		t.marks[chatID] = at
	}
}

// foreignMessage records a message not authored by the current user and
// reports whether it counts as unread, i.e. postdates the newest read mark.
func (t *readTracker) foreignMessage(chatID string, at time.Time) bool {
	if at.After(t.foreign[chatID]) {
		t.foreign[chatID] = at
	}
	return at.After(t.marks[chatID])
}

// read reports whether the chat is fully read for the current user.
func (t *readTracker) read(chatID string) bool {
	return !t.foreign[chatID].After(t.marks[chatID])
}

// reads returns the tracker, creating it lazily. Callers hold the store lock.
func (s *Store) reads() *readTracker {
	if s.tracker == nil {
		s.tracker = newReadTracker()
	}
	return s.tracker
}

// markReadLocked zeroes the current user's unread entry for the chat and
// records the read mark. Callers hold the store lock.
func (s *Store) markReadLocked(chatID, userID string) {
	s.reads().markRead(chatID, time.Now())
	chat := s.directory.Get(chatID)
	if chat == nil {
		return
	}
	if chat.UnreadCounts == nil {
		chat.UnreadCounts = make(map[string]int)
	}
	chat.UnreadCounts[userID] = 0
}

// MarkRead explicitly marks the chat read for the current user: the unread
// entry is zeroed optimistically and the backend informed.
func (s *Store) MarkRead(ctx context.Context, chatID string) error {
	s.mu.Lock()
	s.markReadLocked(chatID, s.self.ID)
	s.mu.Unlock()

	s.bus.Publish(bus.Event{Kind: bus.KindChatUnread, Payload: UnreadChange{ChatID: chatID, UserID: s.self.ID, Count: 0}})
	return s.backend.MarkRead(ctx, chatID)
}
