package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/droptrack/internal/api"
	"github.com/zulandar/droptrack/internal/models"
	"github.com/zulandar/droptrack/internal/notify"
	"github.com/zulandar/droptrack/internal/realtime"
)

// --- Fakes ---

type fakeTransport struct {
	mu      sync.Mutex
	calls   []string
	handler realtime.ChatHandler
}

func (f *fakeTransport) record(s string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, s)
	return nil
}

func (f *fakeTransport) JoinRoom(id string) error          { return f.record("join:" + id) }
func (f *fakeTransport) LeaveRoom(id string) error         { return f.record("leave:" + id) }
func (f *fakeTransport) SendMessage(id, text string) error { return f.record("send:" + id + ":" + text) }
func (f *fakeTransport) Typing(id string) error            { return f.record("typing:" + id) }
func (f *fakeTransport) StoppedTyping(id string) error     { return f.record("stopped:" + id) }

func (f *fakeTransport) SetChatHandler(h realtime.ChatHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
}

func (f *fakeTransport) ClearChatHandler(h realtime.ChatHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handler == h {
		f.handler = nil
	}
}

func (f *fakeTransport) count(s string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == s {
			n++
		}
	}
	return n
}

func (f *fakeTransport) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeAPI struct {
	mu        sync.Mutex
	msgs      []models.Message
	listErr   error
	listHook  func(call int) ([]models.Message, bool)
	listCalls int
	sendErr   error
	onSend    func(text string)
	markErr   error
	read      []string
	allRead   int
}

func (f *fakeAPI) ChatMessages(_ context.Context, orderID string) ([]models.Message, error) {
	f.mu.Lock()
	f.listCalls++
	call, hook := f.listCalls, f.listHook
	f.mu.Unlock()
	if hook != nil {
		if msgs, ok := hook(call); ok {
			return msgs, nil
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]models.Message(nil), f.msgs...), nil
}

func (f *fakeAPI) SendChatMessage(_ context.Context, orderID, text string) (json.RawMessage, error) {
	if f.onSend != nil {
		f.onSend(text)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	id := models.FlexID(fmt.Sprintf("%d", 100+len(f.msgs)))
	f.msgs = append(f.msgs, models.Message{ID: id, OrderID: models.FlexID(orderID), Body: text, Sender: models.RoleClient, CreatedAt: time.Now()})
	return json.RawMessage(`{"success":true}`), nil
}

func (f *fakeAPI) MarkMessageRead(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.read = append(f.read, id)
	return f.markErr
}

func (f *fakeAPI) MarkAllRead(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allRead++
	return f.markErr
}

func (f *fakeAPI) setMessages(msgs ...models.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = msgs
}

func (f *fakeAPI) ListCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memCache) GetJSON(key string, v any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, v)
}

func (m *memCache) SetJSON(key string, v any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if m.data == nil {
		m.data = map[string][]byte{}
	}
	m.data[key] = raw
	return nil
}

func msg(id, body, sender string) models.Message {
	return models.Message{ID: models.FlexID(id), Body: body, Sender: sender, CreatedAt: time.Date(2026, 3, 1, 14, 5, 0, 0, time.Local)}
}

type harness struct {
	s         *Session
	transport *fakeTransport
	api       *fakeAPI
	cache     *memCache
	notices   *notify.Recorder
}

func newHarness(t *testing.T, initial ...models.Message) *harness {
	t.Helper()
	h := &harness{
		transport: &fakeTransport{},
		api:       &fakeAPI{msgs: initial},
		cache:     &memCache{},
		notices:   notify.NewRecorder(),
	}
	s, err := NewSession(Opts{
		Transport:       h.transport,
		API:             h.api,
		Cache:           h.cache,
		Notifier:        h.notices,
		Role:            models.RoleClient,
		PollInterval:    time.Hour,
		TypingDebounce:  20 * time.Millisecond,
		TypingIndicator: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	h.s = s
	t.Cleanup(s.Close)
	return h
}

func (h *harness) open(t *testing.T, id string) {
	t.Helper()
	if err := h.s.Open(context.Background(), id, "Maria"); err != nil {
		t.Fatalf("Open: %v", err)
	}
}

func bodies(v View) string {
	var out []string
	for _, m := range v.Messages {
		out = append(out, m.Body)
	}
	return strings.Join(out, ",")
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// ---------------------------------------------------------------------------
// Construction and open
// ---------------------------------------------------------------------------

func TestNewSession_Validation(t *testing.T) {
	if _, err := NewSession(Opts{API: &fakeAPI{}}); err == nil {
		t.Error("expected error without transport")
	}
	if _, err := NewSession(Opts{Transport: &fakeTransport{}}); err == nil {
		t.Error("expected error without api")
	}
}

func TestSession_OpenPaintsCacheThenReloads(t *testing.T) {
	h := newHarness(t, msg("1", "oi", models.RoleCourier), msg("2", "tudo bem?", models.RoleClient))
	h.cache.SetJSON(CacheKey("42"), []models.Message{msg("1", "oi", models.RoleCourier)})

	var mu sync.Mutex
	var seen []string
	h.s.onChange = func(v View) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, bodies(v))
	}
	h.open(t, "42")

	mu.Lock()
	if len(seen) == 0 || seen[0] != "oi" {
		t.Errorf("first paint = %v, want cached lines first", seen)
	}
	mu.Unlock()

	v := h.s.View()
	if bodies(v) != "oi,tudo bem?" {
		t.Errorf("messages = %q, want authoritative list", bodies(v))
	}
	if v.Title != "Chat - Maria" || !v.Open || v.Loading {
		t.Errorf("view = %+v", v)
	}
	if h.transport.count("join:42") != 1 {
		t.Errorf("calls = %v, want one join", h.transport.Calls())
	}
	if h.api.allRead != 1 {
		t.Errorf("mark all read = %d, want 1", h.api.allRead)
	}

	var cached []models.Message
	h.cache.GetJSON(CacheKey("42"), &cached)
	if len(cached) != 2 {
		t.Errorf("cached = %d lines, want 2", len(cached))
	}
}

func TestSession_OpenLoadFailureKeepsCache(t *testing.T) {
	h := newHarness(t)
	h.cache.SetJSON(CacheKey("7"), []models.Message{msg("1", "antiga", models.RoleCourier)})
	h.api.listErr = errors.New("503")
	h.open(t, "7")

	if bodies(h.s.View()) != "antiga" {
		t.Errorf("messages = %q, want cached kept", bodies(h.s.View()))
	}
	if h.notices.Levels(notify.LevelError) != 1 {
		t.Errorf("error notices = %d, want 1", h.notices.Levels(notify.LevelError))
	}
}

func TestSession_OpenLoadFailureShowsServiceNotice(t *testing.T) {
	h := newHarness(t)
	h.api.listErr = fmt.Errorf("api: chat messages 7: %w", &api.FetchError{Status: 503, Message: api.MsgServiceStarting})
	h.open(t, "7")

	last, ok := h.notices.Last()
	if !ok || last.Level != notify.LevelError || last.Body != api.MsgServiceStarting {
		t.Errorf("notice = %+v, want the service starting notice", last)
	}
}

func TestSession_OpenRequiresOrder(t *testing.T) {
	h := newHarness(t)
	if err := h.s.Open(context.Background(), "  ", ""); err == nil {
		t.Error("expected error for blank order id")
	}
}

func TestSession_OpenSwitchesConversation(t *testing.T) {
	h := newHarness(t)
	h.open(t, "1")
	h.open(t, "2")
	want := []string{"join:1", "leave:1", "join:2"}
	if got := h.transport.Calls(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", got, want)
	}
	if h.transport.handler != realtime.ChatHandler(h.s) {
		t.Error("session should be the active chat handler")
	}
}

// ---------------------------------------------------------------------------
// Close
// ---------------------------------------------------------------------------

func TestSession_CloseIdempotent(t *testing.T) {
	h := newHarness(t, msg("1", "oi", models.RoleCourier))
	h.open(t, "42")
	h.s.Input()

	h.s.Close()
	h.s.Close()

	if n := h.transport.count("leave:42"); n != 1 {
		t.Errorf("leave emissions = %d, want 1", n)
	}
	if h.transport.handler != nil {
		t.Error("handler should be cleared on close")
	}
	v := h.s.View()
	if v.Open || len(v.Messages) != 0 || v.OrderID != "" {
		t.Errorf("view after close = %+v", v)
	}
	// The debounce timer was stopped with the session.
	time.Sleep(40 * time.Millisecond)
	if n := h.transport.count("stopped:42"); n != 0 {
		t.Errorf("stopped typing after close = %d, want 0", n)
	}
}

func TestSession_CloseStopsPolling(t *testing.T) {
	h := newHarness(t)
	h.s.pollInterval = 5 * time.Millisecond
	h.open(t, "3")
	waitFor(t, "a poll", func() bool { return h.api.ListCalls() >= 2 })
	h.s.Close()
	after := h.api.ListCalls()
	time.Sleep(30 * time.Millisecond)
	if h.api.ListCalls() != after {
		t.Errorf("list calls grew after close: %d -> %d", after, h.api.ListCalls())
	}
}

// ---------------------------------------------------------------------------
// Send
// ---------------------------------------------------------------------------

func TestSession_SendFailureRollsBack(t *testing.T) {
	h := newHarness(t, msg("1", "oi", models.RoleCourier), msg("2", "chegando", models.RoleCourier))
	h.open(t, "42")
	before := Render(h.s.View(), models.RoleClient)

	var during View
	h.api.sendErr = errors.New("network down")
	h.api.onSend = func(string) { during = h.s.View() }

	if err := h.s.Send(context.Background(), "  estou aqui  "); err == nil {
		t.Fatal("expected send error")
	}

	last := during.Messages[len(during.Messages)-1]
	if !last.Optimistic() || last.Body != "estou aqui" || last.Sender != models.RoleClient {
		t.Errorf("optimistic entry = %+v", last)
	}
	if !strings.HasPrefix(last.TempID, models.TempIDPrefix) {
		t.Errorf("temp id = %q, want %s prefix", last.TempID, models.TempIDPrefix)
	}

	after := Render(h.s.View(), models.RoleClient)
	if fmt.Sprint(after) != fmt.Sprint(before) {
		t.Errorf("after = %v, want %v", after, before)
	}
	if h.notices.Levels(notify.LevelError) != 1 {
		t.Errorf("error notices = %d, want 1", h.notices.Levels(notify.LevelError))
	}
	if h.transport.count("send:42:estou aqui") != 0 {
		t.Error("failed send should not be announced")
	}
}

func TestSession_SendSuccessNoDuplicate(t *testing.T) {
	h := newHarness(t, msg("1", "oi", models.RoleCourier))
	h.open(t, "42")

	if err := h.s.Send(context.Background(), "pode deixar na portaria"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	v := h.s.View()
	n := 0
	for _, m := range v.Messages {
		if m.Body == "pode deixar na portaria" {
			n++
			if m.Optimistic() {
				t.Error("optimistic entry survived the reload")
			}
		}
	}
	if n != 1 {
		t.Errorf("entries for sent line = %d, want 1; view = %q", n, bodies(v))
	}
	if h.transport.count("send:42:pode deixar na portaria") != 1 {
		t.Errorf("calls = %v, want realtime announce", h.transport.Calls())
	}
}

func TestSession_SendValidation(t *testing.T) {
	h := newHarness(t)
	if err := h.s.Send(context.Background(), "oi"); !errors.Is(err, ErrNotOpen) {
		t.Errorf("err = %v, want ErrNotOpen", err)
	}
	h.open(t, "1")
	if err := h.s.Send(context.Background(), " \n\t"); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("err = %v, want ErrEmptyMessage", err)
	}
	if len(h.s.View().Messages) != 0 {
		t.Error("blank input should not add an entry")
	}
}

func TestSession_PollKeepsPendingEntry(t *testing.T) {
	h := newHarness(t, msg("1", "oi", models.RoleCourier))
	h.open(t, "42")
	var during View
	h.api.onSend = func(string) {
		h.s.poll(context.Background())
		during = h.s.View()
	}
	h.s.Send(context.Background(), "a caminho?")
	if len(during.Messages) != 2 || !during.Messages[1].Optimistic() {
		t.Errorf("during = %q, want optimistic line kept across poll", bodies(during))
	}
}

func TestSession_PollDropsStoredPendingEntry(t *testing.T) {
	h := newHarness(t, msg("1", "oi", models.RoleCourier))
	h.open(t, "42")
	var during View
	h.api.onSend = func(text string) {
		h.api.setMessages(
			msg("1", "oi", models.RoleCourier),
			models.Message{ID: "2", Body: text, Sender: models.RoleClient, CreatedAt: time.Now()},
		)
		h.s.poll(context.Background())
		during = h.s.View()
	}
	h.s.Send(context.Background(), "a caminho?")

	if bodies(during) != "oi,a caminho?" {
		t.Errorf("during = %q, want the stored line once", bodies(during))
	}
	for _, m := range during.Messages {
		if m.Optimistic() {
			t.Error("optimistic entry survived a reload that stored it")
		}
	}
	if h.notices.PassiveCount() != 0 {
		t.Errorf("passive = %d, want no notice for an own line", h.notices.PassiveCount())
	}
}

func TestSupersede(t *testing.T) {
	at := time.Date(2026, 3, 1, 14, 5, 0, 0, time.Local)
	pending := []models.Message{
		{TempID: "temp_a", Body: "ok", Sender: models.RoleClient, CreatedAt: at},
		{TempID: "temp_b", Body: "ok", Sender: models.RoleClient, CreatedAt: at},
		{TempID: "temp_c", Body: "já vou", Sender: models.RoleClient, CreatedAt: at},
	}
	durable := []models.Message{
		{ID: "1", Body: "ok", Sender: models.RoleClient, CreatedAt: at.Add(-time.Hour)},
		{ID: "2", Body: "ok", Sender: models.RoleCourier, CreatedAt: at.Add(time.Second)},
		{ID: "3", Body: "ok", Sender: models.RoleClient, CreatedAt: at.Add(time.Second)},
	}

	got := supersede(pending, durable)
	if len(got) != 2 || got[0].TempID != "temp_b" || got[1].TempID != "temp_c" {
		t.Errorf("supersede = %+v, want temp_b and temp_c left", got)
	}
}

// ---------------------------------------------------------------------------
// Push and poll
// ---------------------------------------------------------------------------

func TestSession_BackgroundMessageDoesNotMutate(t *testing.T) {
	h := newHarness(t, msg("1", "oi", models.RoleCourier))
	h.open(t, "1")
	before := bodies(h.s.View())
	calls := h.api.ListCalls()

	h.s.HandleMessage(realtime.MessageEvent{OrderID: "2", Message: msg("9", "outro", models.RoleCourier)})
	h.s.bg.Wait()

	v := h.s.View()
	if bodies(v) != before {
		t.Errorf("messages = %q, want %q", bodies(v), before)
	}
	if v.Unread != 1 {
		t.Errorf("unread = %d, want 1", v.Unread)
	}
	if h.api.ListCalls() != calls {
		t.Error("background message should not reload the open conversation")
	}
}

func TestSession_BackgroundMessageEndToEnd(t *testing.T) {
	h := newHarness(t, msg("1", "oi", models.RoleCourier))
	h.open(t, "1")
	before := bodies(h.s.View())

	// The transport raises the notice and forwards to the handler.
	h.notices.Notify(context.Background(), notify.Passive("New message", "outro"))
	h.s.HandleMessage(realtime.MessageEvent{OrderID: "2", Message: msg("9", "outro", models.RoleCourier)})

	if h.notices.PassiveCount() != 1 {
		t.Errorf("passive notices = %d, want 1", h.notices.PassiveCount())
	}
	if bodies(h.s.View()) != before {
		t.Error("displayed list changed")
	}
}

func TestSession_PushForOpenRoomReloads(t *testing.T) {
	h := newHarness(t, msg("1", "oi", models.RoleCourier))
	h.open(t, "1")
	h.api.setMessages(msg("1", "oi", models.RoleCourier), msg("2", "cheguei", models.RoleCourier))

	h.s.HandleMessage(realtime.MessageEvent{OrderID: "1", Message: msg("2", "cheguei", models.RoleCourier)})
	h.s.bg.Wait()

	if bodies(h.s.View()) != "oi,cheguei" {
		t.Errorf("messages = %q", bodies(h.s.View()))
	}
	h.api.mu.Lock()
	defer h.api.mu.Unlock()
	if len(h.api.read) != 1 || h.api.read[0] != "2" {
		t.Errorf("read = %v, want [2]", h.api.read)
	}
}

func TestSession_PollNotifiesOnIncrease(t *testing.T) {
	h := newHarness(t, msg("1", "oi", models.RoleCourier))
	h.open(t, "1")

	h.s.poll(context.Background())
	if h.notices.PassiveCount() != 0 {
		t.Fatalf("passive = %d, want 0 without new lines", h.notices.PassiveCount())
	}

	h.api.setMessages(msg("1", "oi", models.RoleCourier), msg("2", "saindo agora", models.RoleCourier))
	h.s.poll(context.Background())
	if h.notices.PassiveCount() != 1 {
		t.Fatalf("passive = %d, want 1", h.notices.PassiveCount())
	}
	last, _ := h.notices.Last()
	if last.Body != "saindo agora" {
		t.Errorf("notice body = %q", last.Body)
	}
}

func TestSession_PollSkipsWhileFetching(t *testing.T) {
	h := newHarness(t)
	h.open(t, "1")
	calls := h.api.ListCalls()

	h.s.mu.Lock()
	h.s.loading = true
	h.s.mu.Unlock()
	h.s.poll(context.Background())

	if h.api.ListCalls() != calls {
		t.Error("poll should not fetch while a fetch is in flight")
	}
}

func TestSession_StaleFetchDiscarded(t *testing.T) {
	h := newHarness(t, msg("1", "oi", models.RoleCourier))
	h.open(t, "1")

	release := make(chan struct{})
	h.api.listHook = func(call int) ([]models.Message, bool) {
		if call == 2 {
			<-release
			return []models.Message{msg("1", "velha", models.RoleCourier)}, true
		}
		return nil, false
	}
	h.api.setMessages(msg("1", "oi", models.RoleCourier), msg("2", "nova", models.RoleCourier))

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.s.reload(context.Background())
	}()
	waitFor(t, "first fetch started", func() bool { return h.api.ListCalls() == 2 })

	if _, err := h.s.reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	close(release)
	<-done

	if bodies(h.s.View()) != "oi,nova" {
		t.Errorf("messages = %q, want the later fetch to win", bodies(h.s.View()))
	}
	if h.s.View().Loading {
		t.Error("loading should be clear")
	}
}

func TestSession_DedupesDurableIDs(t *testing.T) {
	h := newHarness(t, msg("1", "oi", models.RoleCourier), msg("1", "oi", models.RoleCourier), msg("2", "ok", models.RoleClient))
	h.open(t, "1")
	if bodies(h.s.View()) != "oi,ok" {
		t.Errorf("messages = %q", bodies(h.s.View()))
	}
}

// ---------------------------------------------------------------------------
// Typing and receipts
// ---------------------------------------------------------------------------

func TestSession_InputDebounce(t *testing.T) {
	h := newHarness(t)
	h.open(t, "5")
	h.s.Input()
	h.s.Input()
	h.s.Input()

	if n := h.transport.count("typing:5"); n != 3 {
		t.Errorf("typing = %d, want 3", n)
	}
	if n := h.transport.count("stopped:5"); n != 0 {
		t.Errorf("stopped typing fired early: %d", n)
	}
	waitFor(t, "stopped typing", func() bool { return h.transport.count("stopped:5") == 1 })
	time.Sleep(40 * time.Millisecond)
	if n := h.transport.count("stopped:5"); n != 1 {
		t.Errorf("stopped = %d, want 1 per idle window", n)
	}
}

func TestSession_InputClosedNoop(t *testing.T) {
	h := newHarness(t)
	h.s.Input()
	if len(h.transport.Calls()) != 0 {
		t.Errorf("calls = %v, want none", h.transport.Calls())
	}
}

func TestSession_TypingIndicator(t *testing.T) {
	h := newHarness(t)
	h.open(t, "5")

	h.s.HandleTyping(realtime.TypingEvent{OrderID: "5", User: "João"})
	if h.s.View().Typing != "João" {
		t.Errorf("typing = %q", h.s.View().Typing)
	}
	h.s.HandleStoppedTyping(realtime.TypingEvent{OrderID: "5"})
	if h.s.View().Typing != "" {
		t.Errorf("typing = %q, want cleared", h.s.View().Typing)
	}

	h.s.HandleTyping(realtime.TypingEvent{OrderID: "5"})
	waitFor(t, "indicator hidden", func() bool { return h.s.View().Typing == "" })
}

func TestSession_HandleReadMarksMessage(t *testing.T) {
	h := newHarness(t, msg("1", "oi", models.RoleClient), msg("2", "ok", models.RoleClient))
	h.open(t, "1")
	h.s.HandleRead(realtime.ReadEvent{MessageID: "2", OrderID: "1"})
	v := h.s.View()
	if v.Messages[0].Read || !v.Messages[1].Read {
		t.Errorf("read flags = %v %v, want false true", v.Messages[0].Read, v.Messages[1].Read)
	}
}

func TestSession_MarkReadFailuresSwallowed(t *testing.T) {
	h := newHarness(t)
	h.api.markErr = errors.New("500")
	h.open(t, "1")
	h.s.HandleMessage(realtime.MessageEvent{OrderID: "9"})

	h.s.MarkRead(context.Background(), "3")
	h.s.MarkAllRead(context.Background())

	if h.s.View().Unread != 1 {
		t.Errorf("unread = %d, want 1 kept after failed mark all", h.s.View().Unread)
	}
	if h.notices.Count() != 0 {
		t.Errorf("notices = %v, want none for read failures", h.notices.All())
	}
}

func TestSession_MarkAllReadResetsUnread(t *testing.T) {
	h := newHarness(t)
	h.open(t, "1")
	h.s.HandleMessage(realtime.MessageEvent{OrderID: "9"})
	h.s.HandleMessage(realtime.MessageEvent{OrderID: "9"})
	if h.s.View().Unread != 2 {
		t.Fatalf("unread = %d, want 2", h.s.View().Unread)
	}
	h.s.MarkAllRead(context.Background())
	if h.s.View().Unread != 0 {
		t.Errorf("unread = %d, want 0", h.s.View().Unread)
	}
}
