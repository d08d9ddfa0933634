// Package realtime owns the single websocket session to the delivery
// backend. It authenticates with the stored token, reconnects with capped
// backoff, remembers the open chat room across reconnects and dispatches
// inbound events to registered handlers.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/zulandar/droptrack/internal/models"
	"github.com/zulandar/droptrack/internal/notify"
	"golang.org/x/oauth2"
)

var (
	// ErrNoToken is returned by Connect when no credentials are stored.
	ErrNoToken = errors.New("realtime: not logged in")
	// ErrNotConnected is returned by emits while the session is down.
	ErrNotConnected = errors.New("realtime: not connected")
)

// State is the connection lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

const (
	defaultReconnectDelay    = time.Second
	defaultReconnectDelayMax = 5 * time.Second
	defaultReconnectAttempts = 5

	noticeQueue   = 32
	noticeTimeout = 5 * time.Second
)

// TokenSource supplies the bearer token for the handshake.
type TokenSource interface {
	Token() string
}

// ChatHandler receives chat events. At most one is registered at a time.
type ChatHandler interface {
	HandleMessage(ev MessageEvent)
	HandleRead(ev ReadEvent)
	HandleTyping(ev TypingEvent)
	HandleStoppedTyping(ev TypingEvent)
}

// registry holds removable callbacks.
type registry[T any] struct {
	next int
	fns  map[int]func(T)
}

func (r *registry[T]) add(fn func(T)) int {
	if r.fns == nil {
		r.fns = make(map[int]func(T))
	}
	r.next++
	r.fns[r.next] = fn
	return r.next
}

func (r *registry[T]) snapshot() []func(T) {
	out := make([]func(T), 0, len(r.fns))
	for i := 1; i <= r.next; i++ {
		if fn, ok := r.fns[i]; ok {
			out = append(out, fn)
		}
	}
	return out
}

// Client is the realtime session. Create one per process with NewClient.
type Client struct {
	url      string
	tokens   TokenSource
	dialer   Dialer
	notifier notify.Notifier
	logger   *zerolog.Logger

	delay       time.Duration
	delayMax    time.Duration
	maxAttempts int
	noticeAt    int
	sleep       func(ctx context.Context, d time.Duration) error
	noticeWait  time.Duration

	mu       sync.Mutex
	state    State
	room     string
	joined   string // room announced on conn
	attempts int
	conn     Conn
	cancel   context.CancelFunc
	done     chan struct{}
	chat     ChatHandler
	location registry[LocationEvent]
	status   registry[StatusEvent]
	states   registry[State]
	notices  registry[NotificationEvent]

	writeMu sync.Mutex
}

// Opts holds parameters for creating a Client.
type Opts struct {
	URL         string
	Credentials TokenSource
	Dialer      Dialer // defaults to GorillaDialer
	Notifier    notify.Notifier
	Logger      *zerolog.Logger

	ReconnectDelay     time.Duration
	ReconnectDelayMax  time.Duration
	ReconnectAttempts  int
	MaxReconnectNotice int // attempts before the "cannot reach server" notice
}

// NewClient creates a Client in the disconnected state.
func NewClient(opts Opts) (*Client, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("realtime: url is required")
	}
	if opts.Credentials == nil {
		return nil, fmt.Errorf("realtime: credentials are required")
	}
	c := &Client{
		url:         opts.URL,
		tokens:      opts.Credentials,
		dialer:      opts.Dialer,
		notifier:    opts.Notifier,
		logger:      opts.Logger,
		delay:       opts.ReconnectDelay,
		delayMax:    opts.ReconnectDelayMax,
		maxAttempts: opts.ReconnectAttempts,
		noticeAt:    opts.MaxReconnectNotice,
		sleep:       sleepCtx,
		noticeWait:  noticeTimeout,
		state:       StateDisconnected,
	}
	if c.dialer == nil {
		c.dialer = GorillaDialer{}
	}
	if c.notifier == nil {
		c.notifier = notify.Discard{}
	}
	if c.logger == nil {
		c.logger = &log.Logger
	}
	if c.delay <= 0 {
		c.delay = defaultReconnectDelay
	}
	if c.delayMax <= 0 {
		c.delayMax = defaultReconnectDelayMax
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = defaultReconnectAttempts
	}
	if c.noticeAt <= 0 {
		c.noticeAt = c.maxAttempts
	}
	return c, nil
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CurrentRoom returns the remembered chat room, or "".
func (c *Client) CurrentRoom() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

// Attempts returns the consecutive failed connection attempts.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Done is closed when the connection loop exits. It is nil before Connect.
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Connect starts the connection loop in the background. It fails fast
// without a token, and is a no-op while a loop is already running.
func (c *Client) Connect(ctx context.Context) error {
	token := c.tokens.Token()
	if token == "" {
		c.logger.Warn().Msg("realtime: no token, not connecting")
		return ErrNoToken
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.attempts = 0
	go c.run(runCtx, c.done)
	return nil
}

// Disconnect leaves the current room, stops the loop and closes the
// connection. It waits for the loop to exit.
func (c *Client) Disconnect() {
	c.mu.Lock()
	room := c.room
	c.mu.Unlock()
	if room != "" {
		_ = c.emit(EventLeaveChat, RoomPayload{OrderID: models.FlexID(room)})
	}

	c.mu.Lock()
	c.room = ""
	c.joined = ""
	cancel, done := c.cancel, c.done
	c.cancel = nil
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// outbox carries notices raised by one connection loop to its notice
// goroutine. Only the loop goroutine sends on it.
type outbox chan notify.Notice

func (o outbox) push(logger *zerolog.Logger, n notify.Notice) {
	select {
	case o <- n:
	default:
		logger.Warn().Str("notice", n.String()).Msg("realtime: notice queue full, dropped")
	}
}

// deliver hands queued notices to the notifier until out is closed. Each
// call gets a context bounded by the connection loop's and the notice
// timeout.
func (c *Client) deliver(ctx context.Context, out outbox) {
	for n := range out {
		nctx, cancel := context.WithTimeout(ctx, c.noticeWait)
		c.notifier.Notify(nctx, n)
		cancel()
	}
}

func (c *Client) run(ctx context.Context, done chan struct{}) {
	out := make(outbox, noticeQueue)
	go c.deliver(ctx, out)
	defer func() {
		c.mu.Lock()
		if c.done == done {
			c.cancel = nil
		}
		c.mu.Unlock()
		c.setState(StateDisconnected)
		close(out)
		close(done)
	}()

	for {
		c.setState(StateConnecting)
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			n := c.connectError(err, out)
			c.setState(StateDisconnected)
			if n >= c.maxAttempts {
				c.logger.Warn().Int("attempts", n).Msg("realtime: giving up reconnecting")
				return
			}
			if c.sleep(ctx, c.backoff(n)) != nil {
				return
			}
			continue
		}

		c.connected(conn, out)
		err = c.readLoop(ctx, conn, out)
		c.disconnected(conn, err, out)
		if ctx.Err() != nil {
			return
		}
		if c.sleep(ctx, c.delay) != nil {
			return
		}
	}
}

func (c *Client) dial(ctx context.Context) (Conn, error) {
	token := c.tokens.Token()
	if token == "" {
		return nil, ErrNoToken
	}
	tok := &oauth2.Token{AccessToken: token}
	header := http.Header{}
	header.Set("Authorization", tok.Type()+" "+tok.AccessToken)
	return c.dialer.Dial(ctx, c.url, header)
}

// backoff returns min(delay * 2^(n-1), delayMax) for the nth failure.
func (c *Client) backoff(n int) time.Duration {
	d := c.delay
	for i := 1; i < n; i++ {
		d *= 2
		if d >= c.delayMax {
			return c.delayMax
		}
	}
	if d > c.delayMax {
		return c.delayMax
	}
	return d
}

// connectError records a failed attempt and returns the new count.
func (c *Client) connectError(err error, out outbox) int {
	c.mu.Lock()
	c.attempts++
	n := c.attempts
	c.mu.Unlock()

	c.logger.Warn().Err(err).Int("attempt", n).Int("max", c.maxAttempts).Msg("realtime: connection error")
	if n == c.noticeAt {
		out.push(c.logger, notify.Error("cannot reach the server, check your connection"))
	}
	return n
}

// connected re-announces the remembered room on conn before any inbound
// frame is read from it.
func (c *Client) connected(conn Conn, out outbox) {
	c.mu.Lock()
	c.conn = conn
	c.attempts = 0
	room := c.room
	c.joined = room
	c.mu.Unlock()

	if room != "" {
		c.logger.Debug().Str("room", room).Msg("realtime: rejoining room")
		if err := c.write(conn, EventJoinChat, RoomPayload{OrderID: models.FlexID(room)}); err != nil {
			c.logger.Warn().Err(err).Str("room", room).Msg("realtime: rejoin failed")
		}
	}
	// Joins after this point emit on their own; a JoinRoom that raced the
	// handshake could not, so announce it here.
	c.mu.Lock()
	from := c.state
	c.state = StateConnected
	now := c.room
	late := now != "" && now != c.joined
	if late {
		c.joined = now
	}
	fns := c.states.snapshot()
	c.mu.Unlock()
	c.stateChanged(from, StateConnected, fns)
	if late {
		_ = c.write(conn, EventJoinChat, RoomPayload{OrderID: models.FlexID(now)})
	}
	out.push(c.logger, notify.Success("connected to the realtime server"))
}

func (c *Client) disconnected(conn Conn, err error, out outbox) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.joined = ""
	}
	c.mu.Unlock()
	conn.Close()

	c.logger.Info().Err(err).Msg("realtime: disconnected")
	c.setState(StateDisconnected)
	out.push(c.logger, notify.Warning("disconnected from the server"))
}

func (c *Client) readLoop(ctx context.Context, conn Conn, out outbox) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()
	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return err
		}
		c.dispatch(env, out)
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	from := c.state
	if from == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	fns := c.states.snapshot()
	c.mu.Unlock()
	c.stateChanged(from, s, fns)
}

func (c *Client) stateChanged(from, s State, fns []func(State)) {
	if from == s {
		return
	}
	c.logger.Debug().Str("from", string(from)).Str("to", string(s)).Msg("realtime: state transition")
	for _, fn := range fns {
		fn(s)
	}
}

// --- outbound ---

func (c *Client) write(conn Conn, event string, payload any) error {
	env, err := NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteJSON(env); err != nil {
		return fmt.Errorf("realtime: write %s: %w", event, err)
	}
	return nil
}

func (c *Client) emit(event string, payload any) error {
	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()
	if conn == nil || state != StateConnected {
		return ErrNotConnected
	}
	return c.write(conn, event, payload)
}

// JoinRoom leaves the previous room, joins id and remembers it. The room is
// remembered even while disconnected so the next connect announces it. A
// room already announced on the live connection is not announced again.
func (c *Client) JoinRoom(id string) error {
	c.mu.Lock()
	prev := c.room
	c.room = id
	conn := c.conn
	live := conn != nil && c.state == StateConnected
	announce := live && c.joined != id
	if announce {
		c.joined = id
	}
	c.mu.Unlock()

	if prev != "" && prev != id {
		_ = c.emit(EventLeaveChat, RoomPayload{OrderID: models.FlexID(prev)})
	}
	if !live {
		return ErrNotConnected
	}
	if !announce {
		return nil
	}
	c.logger.Debug().Str("room", id).Msg("realtime: joining room")
	return c.write(conn, EventJoinChat, RoomPayload{OrderID: models.FlexID(id)})
}

// LeaveRoom leaves id and forgets it if it is the current room.
func (c *Client) LeaveRoom(id string) error {
	c.mu.Lock()
	if c.room == id {
		c.room = ""
	}
	if c.joined == id {
		c.joined = ""
	}
	c.mu.Unlock()
	return c.emit(EventLeaveChat, RoomPayload{OrderID: models.FlexID(id)})
}

// SendMessage announces a sent chat line to the room.
func (c *Client) SendMessage(id, text string) error {
	return c.emit(EventSendMessage, SendPayload{OrderID: models.FlexID(id), Message: text})
}

// Typing emits the typing signal. It is a no-op outside a room.
func (c *Client) Typing(id string) error {
	if c.CurrentRoom() == "" {
		return nil
	}
	return c.emit(EventTyping, RoomPayload{OrderID: models.FlexID(id)})
}

// StoppedTyping emits the stopped-typing signal. It is a no-op outside a room.
func (c *Client) StoppedTyping(id string) error {
	if c.CurrentRoom() == "" {
		return nil
	}
	return c.emit(EventStoppedTyping, RoomPayload{OrderID: models.FlexID(id)})
}

// SendLocation reports the local position, optionally scoped to an order.
func (c *Client) SendLocation(p models.LatLng, orderID string) error {
	return c.emit(EventUpdateLocation, LocationPayload{Latitude: p.Lat, Longitude: p.Lng, OrderID: models.FlexID(orderID)})
}

// SendDeliveryStatus reports a delivery status change.
func (c *Client) SendDeliveryStatus(orderID, status string) error {
	return c.emit(EventDeliveryStatus, StatusPayload{OrderID: models.FlexID(orderID), Status: status})
}

// --- handler registration ---

// SetChatHandler registers h as the active chat handler, replacing any
// previous one.
func (c *Client) SetChatHandler(h ChatHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chat = h
}

// ClearChatHandler unregisters h if it is the active handler.
func (c *Client) ClearChatHandler(h ChatHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chat == h {
		c.chat = nil
	}
}

// OnLocation registers fn for counterpart positions. The returned func
// removes it.
func (c *Client) OnLocation(fn func(LocationEvent)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.location.add(fn)
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.location.fns, id)
	}
}

// OnStatus registers fn for delivery status changes.
func (c *Client) OnStatus(fn func(StatusEvent)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.status.add(fn)
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.status.fns, id)
	}
}

// OnStateChange registers fn for connection state transitions.
func (c *Client) OnStateChange(fn func(State)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.states.add(fn)
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.states.fns, id)
	}
}

// OnNotification registers fn for inbound user notifications.
func (c *Client) OnNotification(fn func(NotificationEvent)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.notices.add(fn)
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.notices.fns, id)
	}
}

// --- inbound ---

func decodeEvent[T any](c *Client, env Envelope) (T, bool) {
	var v T
	if len(env.Data) == 0 {
		return v, true
	}
	if err := json.Unmarshal(env.Data, &v); err != nil {
		c.logger.Warn().Err(err).Str("event", env.Event).Msg("realtime: malformed event")
		return v, false
	}
	return v, true
}

func (c *Client) dispatch(env Envelope, out outbox) {
	c.mu.Lock()
	room, chat := c.room, c.chat
	c.mu.Unlock()

	switch env.Event {
	case EventNewMessage:
		ev, ok := decodeEvent[MessageEvent](c, env)
		if !ok {
			return
		}
		if chat != nil {
			chat.HandleMessage(ev)
		}
		if string(ev.OrderID) != room {
			body := ev.Message.Body
			if body == "" {
				body = "new message"
			}
			out.push(c.logger, notify.Passive("New message", body))
		}
	case EventMessageRead:
		if ev, ok := decodeEvent[ReadEvent](c, env); ok && chat != nil {
			chat.HandleRead(ev)
		}
	case EventUserTyping:
		if ev, ok := decodeEvent[TypingEvent](c, env); ok && chat != nil && string(ev.OrderID) == room {
			chat.HandleTyping(ev)
		}
	case EventUserStoppedTyping:
		if ev, ok := decodeEvent[TypingEvent](c, env); ok && chat != nil && string(ev.OrderID) == room {
			chat.HandleStoppedTyping(ev)
		}
	case EventLocationUpdated:
		if ev, ok := decodeEvent[LocationEvent](c, env); ok {
			c.mu.Lock()
			fns := c.location.snapshot()
			c.mu.Unlock()
			for _, fn := range fns {
				fn(ev)
			}
		}
	case EventStatusUpdated, EventStatusUpdatedLegacy:
		if ev, ok := decodeEvent[StatusEvent](c, env); ok {
			c.mu.Lock()
			fns := c.status.snapshot()
			c.mu.Unlock()
			for _, fn := range fns {
				fn(ev)
			}
		}
	case EventNotification:
		if ev, ok := decodeEvent[NotificationEvent](c, env); ok {
			if ev.Message != "" {
				out.push(c.logger, notify.Info(ev.Message))
			}
			c.mu.Lock()
			fns := c.notices.snapshot()
			c.mu.Unlock()
			for _, fn := range fns {
				fn(ev)
			}
		}
	case EventChatJoined:
		if ev, ok := decodeEvent[RoomPayload](c, env); ok {
			c.logger.Debug().Str("room", string(ev.OrderID)).Msg("realtime: joined room")
			c.mu.Lock()
			if c.room == "" {
				c.room = string(ev.OrderID)
			}
			c.mu.Unlock()
		}
	case EventMessageSent:
		c.logger.Debug().Int("bytes", len(env.Data)).Msg("realtime: message acknowledged")
	case EventChatError, EventError:
		ev, _ := decodeEvent[ErrorEvent](c, env)
		msg := ev.Message
		if msg == "" {
			msg = "chat error"
			if env.Event == EventError {
				msg = "connection error"
			}
		}
		out.push(c.logger, notify.Error(msg))
	default:
		c.logger.Debug().Str("event", env.Event).Msg("realtime: unhandled event")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
