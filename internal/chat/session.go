// Package chat binds one order conversation to the realtime transport and
// the REST backend. It paints cached lines first, reconciles optimistic
// sends by reloading from the backend, and polls to cover pushes missed
// while the socket was down.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/zulandar/droptrack/internal/models"
	"github.com/zulandar/droptrack/internal/notify"
	"github.com/zulandar/droptrack/internal/realtime"
)

var (
	// ErrEmptyMessage is returned by Send for blank input.
	ErrEmptyMessage = errors.New("chat: message is empty")
	// ErrNotOpen is returned when no conversation is open.
	ErrNotOpen = errors.New("chat: no conversation open")
)

const (
	defaultPollInterval    = 3 * time.Second
	defaultTypingDebounce  = time.Second
	defaultTypingIndicator = 3 * time.Second
)

// CacheKey returns the persisted cache key for an order conversation.
func CacheKey(orderID string) string { return "chat_messages_" + orderID }

// Transport is the realtime surface a Session uses. *realtime.Client
// satisfies it.
type Transport interface {
	JoinRoom(id string) error
	LeaveRoom(id string) error
	SendMessage(id, text string) error
	Typing(id string) error
	StoppedTyping(id string) error
	SetChatHandler(h realtime.ChatHandler)
	ClearChatHandler(h realtime.ChatHandler)
}

// MessageAPI is the REST surface a Session uses. *api.Backend satisfies it.
type MessageAPI interface {
	ChatMessages(ctx context.Context, orderID string) ([]models.Message, error)
	SendChatMessage(ctx context.Context, orderID, text string) (json.RawMessage, error)
	MarkMessageRead(ctx context.Context, messageID string) error
	MarkAllRead(ctx context.Context, orderID string) error
}

// Cache persists message lists between runs. *store.Store satisfies it.
type Cache interface {
	GetJSON(key string, v any) (bool, error)
	SetJSON(key string, v any) error
}

// View is the displayable state of a session.
type View struct {
	OrderID  string
	Title    string
	Open     bool
	Loading  bool
	Unread   int
	Typing   string
	Messages []models.Message
}

// Session is the controller for one open conversation at a time.
type Session struct {
	transport Transport
	api       MessageAPI
	cache     Cache
	notifier  notify.Notifier
	logger    *zerolog.Logger
	role      string
	onChange  func(View)
	now       func() time.Time
	newID     func() string

	pollInterval    time.Duration
	typingDebounce  time.Duration
	typingIndicator time.Duration

	mu         sync.Mutex
	open       bool
	orderID    string
	label      string
	messages   []models.Message
	pending    []models.Message
	unread     int
	loading    bool
	fetchSeq   int
	typingUser string
	typingOut  *time.Timer
	typingIn   *time.Timer
	pollCancel context.CancelFunc
	pollDone   chan struct{}

	bg sync.WaitGroup
}

// Opts holds parameters for creating a Session.
type Opts struct {
	Transport Transport
	API       MessageAPI
	Cache     Cache // optional
	Notifier  notify.Notifier
	Logger    *zerolog.Logger
	Role      string     // current user's role; decides own lines
	OnChange  func(View) // called after every state change

	PollInterval    time.Duration
	TypingDebounce  time.Duration
	TypingIndicator time.Duration
	Now             func() time.Time
}

// NewSession creates a closed Session.
func NewSession(opts Opts) (*Session, error) {
	if opts.Transport == nil {
		return nil, fmt.Errorf("chat: transport is required")
	}
	if opts.API == nil {
		return nil, fmt.Errorf("chat: api is required")
	}
	s := &Session{
		transport:       opts.Transport,
		api:             opts.API,
		cache:           opts.Cache,
		notifier:        opts.Notifier,
		logger:          opts.Logger,
		role:            opts.Role,
		onChange:        opts.OnChange,
		now:             opts.Now,
		newID:           func() string { return models.TempIDPrefix + uuid.NewString() },
		pollInterval:    opts.PollInterval,
		typingDebounce:  opts.TypingDebounce,
		typingIndicator: opts.TypingIndicator,
	}
	if s.notifier == nil {
		s.notifier = notify.Discard{}
	}
	if s.logger == nil {
		s.logger = &log.Logger
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.pollInterval <= 0 {
		s.pollInterval = defaultPollInterval
	}
	if s.typingDebounce <= 0 {
		s.typingDebounce = defaultTypingDebounce
	}
	if s.typingIndicator <= 0 {
		s.typingIndicator = defaultTypingIndicator
	}
	return s, nil
}

// View returns a snapshot of the current state.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Session) viewLocked() View {
	v := View{
		OrderID: s.orderID,
		Open:    s.open,
		Loading: s.loading,
		Unread:  s.unread,
		Typing:  s.typingUser,
	}
	if s.open {
		v.Title = "Chat"
		if s.label != "" {
			v.Title = "Chat - " + s.label
		}
	}
	v.Messages = make([]models.Message, 0, len(s.messages)+len(s.pending))
	v.Messages = append(v.Messages, s.messages...)
	v.Messages = append(v.Messages, s.pending...)
	return v
}

func (s *Session) changed() {
	if s.onChange == nil {
		return
	}
	s.onChange(s.View())
}

// OrderID returns the open conversation, or "".
func (s *Session) OrderID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return ""
	}
	return s.orderID
}

// Open switches the session to orderID: it joins the room, paints the
// cached lines, fetches the authoritative list and starts polling. An
// already open conversation is closed first.
func (s *Session) Open(ctx context.Context, orderID, label string) error {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return fmt.Errorf("chat: order id is required")
	}
	if current := s.OrderID(); current != "" {
		if current == orderID {
			return nil
		}
		s.Close()
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.open = true
	s.orderID = orderID
	s.label = label
	s.messages = nil
	s.pending = nil
	s.unread = 0
	s.typingUser = ""
	s.pollCancel = cancel
	s.pollDone = make(chan struct{})
	done := s.pollDone
	s.mu.Unlock()

	s.transport.SetChatHandler(s)
	if err := s.transport.JoinRoom(orderID); err != nil {
		// The transport remembers the room and joins on connect.
		s.logger.Debug().Err(err).Str("order", orderID).Msg("chat: join deferred")
	}

	s.loadCache(orderID)
	s.changed()

	if _, err := s.reload(ctx); err != nil {
		s.logger.Warn().Err(err).Str("order", orderID).Msg("chat: initial load failed")
		s.notifier.Notify(ctx, notify.Error(userMessage(err, "could not load messages")))
	} else {
		s.markAllRead(ctx, orderID)
	}

	go s.pollLoop(pollCtx, done)
	s.logger.Info().Str("order", orderID).Msg("chat: opened")
	return nil
}

// userMessage returns the notice carried by err, or def.
func userMessage(err error, def string) string {
	var um interface{ UserMessage() string }
	if errors.As(err, &um) && um.UserMessage() != "" {
		return um.UserMessage()
	}
	return def
}

func (s *Session) loadCache(orderID string) {
	if s.cache == nil {
		return
	}
	var cached []models.Message
	found, err := s.cache.GetJSON(CacheKey(orderID), &cached)
	if err != nil {
		s.logger.Warn().Err(err).Str("order", orderID).Msg("chat: cache read failed")
		return
	}
	if !found {
		return
	}
	s.mu.Lock()
	if s.open && s.orderID == orderID && s.messages == nil {
		s.messages = dedupe(cached)
	}
	s.mu.Unlock()
}

// reload replaces the durable list with the backend's and drops pending
// lines the new list already holds. Only the most recently started fetch is
// applied; older results are discarded. It returns the number of durable
// lines sent by the other party.
func (s *Session) reload(ctx context.Context) (int, error) {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return 0, ErrNotOpen
	}
	s.fetchSeq++
	seq, orderID := s.fetchSeq, s.orderID
	s.loading = true
	s.mu.Unlock()
	s.changed()

	msgs, err := s.api.ChatMessages(ctx, orderID)

	s.mu.Lock()
	current := s.open && s.orderID == orderID && seq == s.fetchSeq
	if seq == s.fetchSeq {
		s.loading = false
	}
	if err != nil || !current {
		n := s.incomingLocked()
		s.mu.Unlock()
		s.changed()
		if err != nil {
			return n, fmt.Errorf("chat: reload %s: %w", orderID, err)
		}
		return n, nil
	}
	s.messages = dedupe(msgs)
	if s.messages == nil {
		s.messages = []models.Message{}
	}
	s.pending = supersede(s.pending, s.messages)
	n := s.incomingLocked()
	snapshot := append([]models.Message(nil), s.messages...)
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.SetJSON(CacheKey(orderID), snapshot); err != nil {
			s.logger.Warn().Err(err).Str("order", orderID).Msg("chat: cache write failed")
		}
	}
	s.changed()
	return n, nil
}

// supersede returns the pending lines that no durable line replaces. A
// durable line replaces at most one pending line with the same sender and
// body created no later than it.
func supersede(pending, durable []models.Message) []models.Message {
	if len(pending) == 0 {
		return pending
	}
	used := make([]bool, len(durable))
	out := pending[:0:0]
	for _, p := range pending {
		hit := false
		for i, d := range durable {
			if used[i] || d.Sender != p.Sender || d.Body != p.Body || d.CreatedAt.Before(p.CreatedAt) {
				continue
			}
			used[i], hit = true, true
			break
		}
		if !hit {
			out = append(out, p)
		}
	}
	return out
}

func (s *Session) incomingLocked() int {
	n := 0
	for _, m := range s.messages {
		if m.Sender != s.role {
			n++
		}
	}
	return n
}

// dedupe drops later entries that repeat a durable id.
func dedupe(msgs []models.Message) []models.Message {
	if msgs == nil {
		return nil
	}
	seen := make(map[models.FlexID]bool, len(msgs))
	out := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.ID != "" {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
		}
		out = append(out, m)
	}
	return out
}

func (s *Session) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

// poll fetches once unless a fetch is already in flight, and raises a
// passive notice when the other party's line count grew.
func (s *Session) poll(ctx context.Context) {
	s.mu.Lock()
	if !s.open || s.loading {
		s.mu.Unlock()
		return
	}
	before := s.incomingLocked()
	s.mu.Unlock()

	after, err := s.reload(ctx)
	if err != nil {
		s.logger.Debug().Err(err).Msg("chat: poll failed")
		return
	}
	if after > before {
		s.logger.Debug().Int("before", before).Int("after", after).Msg("chat: poll found new messages")
		s.notifier.Notify(ctx, notify.Passive("New message", s.lastBody()))
	}
}

func (s *Session) lastBody() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.messages) - 1; i >= 0; i-- {
		if m := s.messages[i]; m.Sender != s.role && m.Body != "" {
			return m.Body
		}
	}
	return "new message"
}

// Send shows text immediately as an optimistic line, posts it, and on
// success reloads the authoritative list. On failure the optimistic line is
// removed and an error notice is raised.
func (s *Session) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return ErrNotOpen
	}
	orderID := s.orderID
	temp := models.Message{
		TempID:    s.newID(),
		OrderID:   models.FlexID(orderID),
		Body:      text,
		Sender:    s.role,
		CreatedAt: s.now(),
	}
	s.pending = append(s.pending, temp)
	s.mu.Unlock()
	s.changed()

	_, err := s.api.SendChatMessage(ctx, orderID, text)
	s.removePending(temp.TempID)
	if err != nil {
		s.changed()
		s.logger.Warn().Err(err).Str("order", orderID).Msg("chat: send failed")
		s.notifier.Notify(ctx, notify.Error("could not send message"))
		return fmt.Errorf("chat: send: %w", err)
	}

	if err := s.transport.SendMessage(orderID, text); err != nil {
		s.logger.Debug().Err(err).Msg("chat: realtime announce skipped")
	}
	if _, err := s.reload(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("chat: reload after send failed")
	}
	return nil
}

func (s *Session) removePending(tempID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.pending {
		if m.TempID == tempID {
			s.pending = append(s.pending[:i:i], s.pending[i+1:]...)
			return
		}
	}
}

// MarkRead marks one message read. Failures are logged only.
func (s *Session) MarkRead(ctx context.Context, messageID string) {
	if messageID == "" {
		return
	}
	if err := s.api.MarkMessageRead(ctx, messageID); err != nil {
		s.logger.Warn().Err(err).Str("message", messageID).Msg("chat: mark read failed")
	}
}

// MarkAllRead marks the open conversation read and resets the unread
// counter. Failures are logged only.
func (s *Session) MarkAllRead(ctx context.Context) {
	if id := s.OrderID(); id != "" {
		s.markAllRead(ctx, id)
	}
}

func (s *Session) markAllRead(ctx context.Context, orderID string) {
	if err := s.api.MarkAllRead(ctx, orderID); err != nil {
		s.logger.Warn().Err(err).Str("order", orderID).Msg("chat: mark all read failed")
		return
	}
	s.mu.Lock()
	s.unread = 0
	s.mu.Unlock()
	s.changed()
}

// Input signals local typing: "typing" now, "stopped typing" once input
// has been idle for the debounce window. Each call restarts the window.
func (s *Session) Input() {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return
	}
	orderID := s.orderID
	if s.typingOut != nil {
		s.typingOut.Stop()
	}
	s.typingOut = time.AfterFunc(s.typingDebounce, func() {
		if err := s.transport.StoppedTyping(orderID); err != nil {
			s.logger.Debug().Err(err).Msg("chat: stopped typing not sent")
		}
	})
	s.mu.Unlock()

	if err := s.transport.Typing(orderID); err != nil {
		s.logger.Debug().Err(err).Msg("chat: typing not sent")
	}
}

// Close stops polling and typing timers, leaves the room and clears the
// in-memory state. Calling it on a closed session does nothing.
func (s *Session) Close() {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return
	}
	orderID := s.orderID
	s.open = false
	s.orderID = ""
	s.label = ""
	s.messages = nil
	s.pending = nil
	s.typingUser = ""
	s.loading = false
	s.fetchSeq++
	for _, t := range []*time.Timer{s.typingOut, s.typingIn} {
		if t != nil {
			t.Stop()
		}
	}
	s.typingOut, s.typingIn = nil, nil
	cancel, done := s.pollCancel, s.pollDone
	s.pollCancel, s.pollDone = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	s.bg.Wait()
	if err := s.transport.LeaveRoom(orderID); err != nil {
		s.logger.Debug().Err(err).Str("order", orderID).Msg("chat: leave not sent")
	}
	s.transport.ClearChatHandler(s)
	s.logger.Info().Str("order", orderID).Msg("chat: closed")
	s.changed()
}

// --- realtime.ChatHandler ---

// HandleMessage reloads the open conversation when a line arrives for it.
// Lines for other orders only bump the unread counter; the transport raises
// the passive notice for them.
func (s *Session) HandleMessage(ev realtime.MessageEvent) {
	s.mu.Lock()
	if !s.open || string(ev.OrderID) != s.orderID {
		s.unread++
		s.mu.Unlock()
		s.changed()
		return
	}
	s.bg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.bg.Done()
		ctx := context.Background()
		if _, err := s.reload(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("chat: reload after push failed")
		}
		s.MarkRead(ctx, string(ev.Message.ID))
	}()
}

// HandleRead flags a message as read by the counterpart.
func (s *Session) HandleRead(ev realtime.ReadEvent) {
	s.mu.Lock()
	hit := false
	for i := range s.messages {
		if s.messages[i].ID == ev.MessageID {
			s.messages[i].Read = true
			hit = true
		}
	}
	s.mu.Unlock()
	if hit {
		s.changed()
	}
}

// HandleTyping shows the typing indicator and hides it after a quiet spell.
func (s *Session) HandleTyping(ev realtime.TypingEvent) {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return
	}
	s.typingUser = ev.User
	if s.typingUser == "" {
		s.typingUser = "someone"
	}
	if s.typingIn != nil {
		s.typingIn.Stop()
	}
	s.typingIn = time.AfterFunc(s.typingIndicator, s.clearTyping)
	s.mu.Unlock()
	s.changed()
}

// HandleStoppedTyping hides the typing indicator.
func (s *Session) HandleStoppedTyping(realtime.TypingEvent) {
	s.mu.Lock()
	if s.typingIn != nil {
		s.typingIn.Stop()
		s.typingIn = nil
	}
	s.mu.Unlock()
	s.clearTyping()
}

func (s *Session) clearTyping() {
	s.mu.Lock()
	was := s.typingUser
	s.typingUser = ""
	s.mu.Unlock()
	if was != "" {
		s.changed()
	}
}
