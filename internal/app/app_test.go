package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zulandar/droptrack/internal/config"
	"github.com/zulandar/droptrack/internal/models"
	"github.com/zulandar/droptrack/internal/notify"
	"github.com/zulandar/droptrack/internal/realtime"
	"github.com/zulandar/droptrack/internal/store"
	"github.com/zulandar/droptrack/internal/tracking"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type pipeConn struct {
	inbound chan realtime.Envelope
	closed  chan struct{}
	once    sync.Once
}

func newPipeConn() *pipeConn {
	return &pipeConn{inbound: make(chan realtime.Envelope, 8), closed: make(chan struct{})}
}

func (c *pipeConn) ReadJSON(v any) error {
	select {
	case env := <-c.inbound:
		*(v.(*realtime.Envelope)) = env
		return nil
	case <-c.closed:
		return errors.New("connection closed")
	}
}

func (c *pipeConn) WriteJSON(any) error { return nil }

func (c *pipeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

type oneDialer struct{ conn *pipeConn }

func (d oneDialer) Dial(context.Context, string, http.Header) (realtime.Conn, error) {
	if d.conn == nil {
		return nil, errors.New("connection refused")
	}
	return d.conn, nil
}

func testConfig(t *testing.T, apiURL, token string) *config.Config {
	t.Helper()
	yaml := fmt.Sprintf("api_url: %s\ntoken: %q\nstore:\n  path: \":memory:\"\nnotify:\n  bell: false\n", apiURL, token)
	cfg, err := config.Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, opts Opts) *App {
	t.Helper()
	s, err := store.Open(cfg.Store)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	opts.Config = cfg
	opts.Store = s
	if opts.Out == nil {
		opts.Out = new(bytes.Buffer)
	}
	a, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		a.Close()
		s.Close()
	})
	return a
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestNew_RequiresConfig(t *testing.T) {
	if _, err := New(Opts{}); err == nil {
		t.Fatal("expected error without config")
	}
}

func TestNew_SeedsTokenFromConfig(t *testing.T) {
	a := newTestApp(t, testConfig(t, "https://api.example.com", "tok-1"), Opts{})
	if got := a.Credentials.Token(); got != "tok-1" {
		t.Errorf("token = %q, want tok-1", got)
	}
	if a.Realtime.State() != realtime.StateDisconnected {
		t.Errorf("state = %s, want disconnected before Start", a.Realtime.State())
	}
}

func TestNew_NotifierFansOut(t *testing.T) {
	rec := notify.NewRecorder()
	out := new(bytes.Buffer)
	a := newTestApp(t, testConfig(t, "https://api.example.com", ""), Opts{Out: out, Notifiers: []notify.Notifier{rec}})

	a.Notifier.Notify(context.Background(), notify.Info("hello"))
	if rec.Count() != 1 {
		t.Errorf("recorder notices = %d, want 1", rec.Count())
	}
	if !strings.Contains(out.String(), "hello") {
		t.Errorf("console output = %q, want to contain hello", out.String())
	}
}

func TestClose_FlushesSlackRelay(t *testing.T) {
	var posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testConfig(t, "https://api.example.com", "")
	cfg.Notify.SlackWebhook = srv.URL
	a := newTestApp(t, cfg, Opts{})

	a.Notifier.Notify(context.Background(), notify.Info("not relayed"))
	a.Notifier.Notify(context.Background(), notify.Passive("New message", "saindo agora"))
	a.Close()

	if got := posts.Load(); got != 1 {
		t.Errorf("webhook posts = %d, want 1", got)
	}
}

func TestStart_WithoutToken(t *testing.T) {
	a := newTestApp(t, testConfig(t, "https://api.example.com", ""), Opts{})
	err := a.Start(context.Background())
	if !errors.Is(err, realtime.ErrNoToken) {
		t.Errorf("Start error = %v, want ErrNoToken", err)
	}
}

func TestStart_NotificationTriggersBadge(t *testing.T) {
	var unread atomic.Int32
	unread.Store(2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/notifications" {
			http.NotFound(w, r)
			return
		}
		var items []string
		for i := 0; i < int(unread.Load()); i++ {
			items = append(items, fmt.Sprintf(`{"id":%d,"mensagem":"n","lida":false}`, i+1))
		}
		fmt.Fprintf(w, "[%s]", strings.Join(items, ","))
	}))
	defer srv.Close()

	var mu sync.Mutex
	var labels []string
	conn := newPipeConn()
	a := newTestApp(t, testConfig(t, srv.URL, "tok"), Opts{
		Dialer: oneDialer{conn: conn},
		OnBadge: func(_ int, label string) {
			mu.Lock()
			labels = append(labels, label)
			mu.Unlock()
		},
	})
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(labels)
	}

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	waitFor(t, "initial badge", func() bool { return count() >= 1 })
	waitFor(t, "connected", func() bool { return a.Realtime.State() == realtime.StateConnected })

	unread.Store(3)
	env, err := realtime.NewEnvelope(realtime.EventNotification, realtime.NotificationEvent{Message: "pedido a caminho"})
	if err != nil {
		t.Fatal(err)
	}
	conn.inbound <- env
	waitFor(t, "triggered refresh", func() bool { return a.Badge.Count() == 3 })

	mu.Lock()
	defer mu.Unlock()
	if labels[0] != "2" || labels[len(labels)-1] != "3" {
		t.Errorf("badge labels = %v, want 2 then 3", labels)
	}
}

func TestAuthFailure_ClearsAndCallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	rec := notify.NewRecorder()
	var called atomic.Bool
	a := newTestApp(t, testConfig(t, srv.URL, "stale"), Opts{
		Notifiers:     []notify.Notifier{rec},
		OnAuthFailure: func() { called.Store(true) },
	})

	if _, err := a.Backend.ChatMessages(context.Background(), "42"); err == nil {
		t.Fatal("expected error on 401")
	}
	if a.Credentials.Authenticated() {
		t.Error("credentials should be cleared")
	}
	if !called.Load() {
		t.Error("OnAuthFailure not called")
	}
	if rec.Levels(notify.LevelWarning) != 1 {
		t.Errorf("warnings = %d, want 1", rec.Levels(notify.LevelWarning))
	}
}

func TestNewChat_UsesStoredRole(t *testing.T) {
	a := newTestApp(t, testConfig(t, "https://api.example.com", "tok"), Opts{})
	if err := a.Credentials.SetUser(models.User{Name: "Rui", Role: models.RoleCourier}); err != nil {
		t.Fatal(err)
	}
	s, err := a.NewChat(nil)
	if err != nil {
		t.Fatalf("NewChat: %v", err)
	}
	defer s.Close()
	if s.View().Open {
		t.Error("new chat session should be closed")
	}
}

func TestNewTracking(t *testing.T) {
	a := newTestApp(t, testConfig(t, "https://api.example.com", "tok"), Opts{})
	if _, err := a.NewTracking(nil, nil, nil); err == nil {
		t.Error("expected error without widget")
	}
	widget := tracking.NewStateWidget()
	s, err := a.NewTracking(widget, nil, nil)
	if err != nil {
		t.Fatalf("NewTracking: %v", err)
	}
	s.Init()
	s.Close()
	if !widget.State().Removed {
		t.Error("widget should be removed on close")
	}
}

func TestClose_Idempotent(t *testing.T) {
	cfg := testConfig(t, "https://api.example.com", "")
	a, err := New(Opts{Config: cfg, Out: new(bytes.Buffer)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("first Close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
