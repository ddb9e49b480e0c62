package session

import (
	"context"
	"errors"
	"sync"

	"github.com/openflea/fleachat/internal/bus"
	"github.com/openflea/fleachat/internal/model"
	"github.com/openflea/fleachat/internal/realtime"
	"go.uber.org/zap"
)

// ErrNoSelection is returned when an operation requires a selected chat.
var ErrNoSelection = errors.New("no chat selected")

// SelectionState tracks the lifecycle of the current chat selection.
type SelectionState string

const (
	Unselected     SelectionState = "UNSELECTED"
	Loading        SelectionState = "LOADING"
	Ready          SelectionState = "READY"
	SelectionError SelectionState = "ERROR"
)

// Backend is the REST surface the store depends on.
type Backend interface {
	ListChats(ctx context.Context) ([]*model.Chat, error)
	GetChat(ctx context.Context, chatID string) (*model.Chat, error)
	GetMessages(ctx context.Context, chatID string) ([]*model.Message, error)
	CreateChat(ctx context.Context, receiverID, productID string) (*model.Chat, error)
	SendMessage(ctx context.Context, chatID, content string, attachments []string) (*model.Message, error)
	MarkRead(ctx context.Context, chatID string) error
	DeleteChat(ctx context.Context, chatID string) error
}

// Realtime is the push surface the store subscribes to.
type Realtime interface {
	JoinRoom(chatID string)
	LeaveRoom(chatID string)
	JoinUserRooms(chatIDs []string)
	OnMessage(func(realtime.MessageEvent)) func()
	OnChatUpdated(func(realtime.ChatUpdatedEvent)) func()
	OnChatRead(func(realtime.ChatReadEvent)) func()
	OnTyping(func(realtime.TypingEvent)) func()
	OnPresenceChange(func(realtime.PresenceEvent)) func()
}

// UnreadChange is the bus payload for unread-count mutations.
type UnreadChange struct {
	ChatID string
	UserID string
	Count  int
}

// Store is the authoritative owner of the chat directory and the selected
// thread's timeline. It arbitrates between BackendClient results and push
// events: REST calls and push dispatches may interleave arbitrarily, but
// every mutation of shared state happens under the store lock, and a late
// response for a superseded selection is detected by epoch and dropped.
type Store struct {
	mu      sync.Mutex
	backend Backend
	rt      Realtime
	bus     *bus.Bus
	logger  *zap.Logger
	self    model.Participant

	directory *model.Directory
	timeline  []*model.Message

	selectedID  string
	selState    SelectionState
	selectEpoch uint64

	loading bool
	lastErr error
	tracker *readTracker

	unsubs []func()
}

// NewStore creates the session store and subscribes it to push events.
// Call Close to detach the subscriptions during teardown.
func NewStore(backend Backend, rt Realtime, b *bus.Bus, self model.Participant, logger *zap.Logger) *Store {
	s := &Store{
		backend:   backend,
		rt:        rt,
		bus:       b,
		logger:    logger,
		self:      self,
		directory: model.NewDirectory(),
		selState:  Unselected,
	}
	s.unsubs = []func(){
		rt.OnMessage(s.handleNewMessage),
		rt.OnChatUpdated(s.handleChatUpdated),
		rt.OnChatRead(s.handleChatRead),
		rt.OnTyping(s.handleTyping),
		rt.OnPresenceChange(s.handlePresence),
	}
	return s
}

// Close detaches the store from the realtime channel.
func (s *Store) Close() {
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil
}

// Self returns the current user identity.
func (s *Store) Self() model.Participant {
	return s.self
}

// Chats returns the ordered directory snapshot.
func (s *Store) Chats() []*model.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.directory.List()
}

// Chat returns one directory entry, or nil.
func (s *Store) Chat(chatID string) *model.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.directory.Get(chatID)
}

// Timeline returns a snapshot of the selected thread's messages.
func (s *Store) Timeline() []*model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Message, len(s.timeline))
	copy(out, s.timeline)
	return out
}

// Selection returns the selected chat id and its state.
func (s *Store) Selection() (string, SelectionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedID, s.selState
}

// Loading reports whether a directory load is in flight.
func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Err returns the most recent backend failure, nil after a success.
func (s *Store) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// LoadChats fetches the chat directory and replaces it wholesale. On
// failure the previous directory is preserved and the error recorded.
func (s *Store) LoadChats(ctx context.Context) error {
	s.mu.Lock()
	s.loading = true
	s.mu.Unlock()

	chats, err := s.backend.ListChats(ctx)

	s.mu.Lock()
	s.loading = false
	if err != nil {
		s.lastErr = err
		s.mu.Unlock()
		s.logger.Warn("load chats failed", zap.Error(err))
		return err
	}
	s.directory.Replace(chats)
	s.lastErr = nil
	s.mu.Unlock()

	s.bus.Publish(bus.Event{Kind: bus.KindChatDirectory, Payload: len(chats)})
	return nil
}

// ChatIDs returns the ids of every chat in the directory, used to join the
// user's rooms after (re)connecting.
func (s *Store) ChatIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	chats := s.directory.List()
	ids := make([]string, 0, len(chats))
	for _, c := range chats {
		ids = append(ids, c.ID)
	}
	return ids
}

// SelectChat makes chatID the active thread: it fetches the chat and its
// history concurrently, replaces the timeline, and optimistically zeroes the
// caller's unread count while the mark-read call completes in the
// background. Selecting a different chat while a fetch is in flight bumps
// the selection epoch, so the stale result is discarded at resolution time.
func (s *Store) SelectChat(ctx context.Context, chatID string) error {
	s.mu.Lock()
	s.selectedID = chatID
	s.selState = Loading
	s.selectEpoch++
	epoch := s.selectEpoch
	s.mu.Unlock()

	s.rt.JoinRoom(chatID)

	var (
		wg      sync.WaitGroup
		chat    *model.Chat
		msgs    []*model.Message
		chatErr error
		msgsErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		chat, chatErr = s.backend.GetChat(ctx, chatID)
	}()
	go func() {
		defer wg.Done()
		msgs, msgsErr = s.backend.GetMessages(ctx, chatID)
	}()
	wg.Wait()

	s.mu.Lock()
	if s.selectEpoch != epoch || s.selectedID != chatID {
		// A newer selection superseded this one; drop the result silently.
		s.mu.Unlock()
		return nil
	}

	if err := errors.Join(chatErr, msgsErr); err != nil {
		s.selState = SelectionError
		s.timeline = nil
		s.lastErr = err
		s.mu.Unlock()
		s.logger.Warn("select chat failed", zap.String("chat_id", chatID), zap.Error(err))
		return err
	}

	s.timeline = msgs
	s.selState = Ready
	s.lastErr = nil
	s.directory.Put(chat)
	s.markReadLocked(chatID, s.self.ID)
	s.mu.Unlock()

	s.bus.Publish(bus.Event{Kind: bus.KindChatDirectory, Payload: 1})
	s.bus.Publish(bus.Event{Kind: bus.KindChatUnread, Payload: UnreadChange{ChatID: chatID, UserID: s.self.ID, Count: 0}})

	// The local zeroing above is optimistic; the server ack is not awaited.
	go func() {
		if err := s.backend.MarkRead(ctx, chatID); err != nil {
			s.logger.Warn("mark read failed", zap.String("chat_id", chatID), zap.Error(err))
		}
	}()
	return nil
}

// Deselect clears the current selection and timeline.
func (s *Store) Deselect() {
	s.mu.Lock()
	s.selectedID = ""
	s.selState = Unselected
	s.timeline = nil
	s.selectEpoch++
	s.mu.Unlock()
}

// CreateChat opens (or reuses) a chat with the receiver, prepends it to the
// directory, and selects it with an empty timeline.
func (s *Store) CreateChat(ctx context.Context, receiverID, productID string) (*model.Chat, error) {
	chat, err := s.backend.CreateChat(ctx, receiverID, productID)
	if err != nil {
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		return nil, err
	}

	s.mu.Lock()
	s.directory.Put(chat)
	s.selectedID = chat.ID
	s.selState = Ready
	s.timeline = nil
	s.selectEpoch++
	s.lastErr = nil
	s.mu.Unlock()

	s.rt.JoinRoom(chat.ID)
	s.bus.Publish(bus.Event{Kind: bus.KindChatDirectory, Payload: 1})
	return chat, nil
}

// DeleteChat removes the chat for the caller. If it was selected, the
// selection and timeline are cleared.
func (s *Store) DeleteChat(ctx context.Context, chatID string) error {
	if err := s.backend.DeleteChat(ctx, chatID); err != nil {
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.directory.Remove(chatID)
	if s.selectedID == chatID {
		s.selectedID = ""
		s.selState = Unselected
		s.timeline = nil
		s.selectEpoch++
	}
	s.lastErr = nil
	s.mu.Unlock()

	s.rt.LeaveRoom(chatID)
	s.bus.Publish(bus.Event{Kind: bus.KindChatRemoved, Payload: chatID})
	return nil
}
