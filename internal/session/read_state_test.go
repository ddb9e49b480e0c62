package session

import (
	"context"
	"testing"
	"time"
)

func TestReadTrackerHighWaterMarks(t *testing.T) {
	tr := newReadTracker()
	t0 := time.Now()

	if !tr.foreignMessage("c", t0) {
		t.Error("message before any read mark should count as unread")
	}
	tr.markRead("c", t0.Add(time.Second))
	if !tr.read("c") {
		t.Error("chat should be read after a covering mark")
	}

	// Older foreign message arriving late does not regress the state.
	if tr.foreignMessage("c", t0.Add(-time.Minute)) {
		t.Error("stale message counted as unread")
	}
	if !tr.read("c") {
		t.Error("stale message regressed the read state")
	}

	// A genuinely newer message flips it back.
	if !tr.foreignMessage("c", t0.Add(2*time.Second)) {
		t.Error("newer message should count as unread")
	}
	if tr.read("c") {
		t.Error("chat reads as read with a newer foreign message")
	}

	// An older read mark does not override a newer one.
	tr.markRead("c", t0)
	if tr.read("c") {
		t.Error("stale read mark overrode the newer foreign message")
	}
}

func TestMarkRead(t *testing.T) {
	s, backend, _, _ := newTestStore(t)
	chat := seedChat(backend, "chat-1", bob)
	chat.UnreadCounts[self.ID] = 5
	if err := s.LoadChats(context.Background()); err != nil {
		t.Fatalf("LoadChats: %v", err)
	}

	if err := s.MarkRead(context.Background(), "chat-1"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if got := s.Chat("chat-1").UnreadFor(self.ID); got != 0 {
		t.Errorf("unread = %d, want 0", got)
	}
	if marked := backend.markedChats(); len(marked) != 1 || marked[0] != "chat-1" {
		t.Errorf("backend marks = %v, want [chat-1]", marked)
	}
}
