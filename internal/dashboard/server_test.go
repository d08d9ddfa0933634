package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/droptrack/internal/chat"
	"github.com/zulandar/droptrack/internal/models"
	"github.com/zulandar/droptrack/internal/realtime"
	"github.com/zulandar/droptrack/internal/tracking"
)

type fakeStatus struct {
	state    realtime.State
	room     string
	attempts int
}

func (f fakeStatus) State() realtime.State { return f.state }
func (f fakeStatus) CurrentRoom() string   { return f.room }
func (f fakeStatus) Attempts() int         { return f.attempts }

type fakeChat struct{ v chat.View }

func (f fakeChat) View() chat.View { return f.v }

type fakeMap struct{ v tracking.View }

func (f fakeMap) View() tracking.View { return f.v }

type fakeBadge int

func (b fakeBadge) Count() int    { return int(b) }
func (b fakeBadge) Label() string { return "12" }

func init() {
	gin.SetMode(gin.TestMode)
}

func get(t *testing.T, router *gin.Engine, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	router.ServeHTTP(w, req)
	return w
}

func TestStart_RequiresStatus(t *testing.T) {
	err := Start(context.Background(), StartOpts{})
	if err == nil {
		t.Fatal("expected error without status source")
	}
	if !strings.Contains(err.Error(), "status source is required") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "status source is required")
	}
}

func TestHealthz(t *testing.T) {
	w := get(t, NewRouter(Sources{}), "/healthz")
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Errorf("GET /healthz = %d %q", w.Code, w.Body.String())
	}
}

func TestStatus(t *testing.T) {
	router := NewRouter(Sources{Status: fakeStatus{state: realtime.StateConnected, room: "42", attempts: 0}})
	w := get(t, router, "/api/status")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var got StatusView
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.State != realtime.StateConnected || got.Room != "42" {
		t.Errorf("status = %+v", got)
	}
}

func TestStatus_Missing(t *testing.T) {
	w := get(t, NewRouter(Sources{}), "/api/status")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestChat_RendersBubbles(t *testing.T) {
	v := chat.View{
		OrderID: "42",
		Title:   "Chat - Maria",
		Open:    true,
		Messages: []models.Message{
			{ID: "1", Body: "oi", Sender: models.RoleCourier},
			{ID: "2", Body: "", Sender: models.RoleCourier},
			{ID: "3", Body: "tudo certo", Sender: models.RoleClient, CreatedAt: time.Now()},
		},
	}
	router := NewRouter(Sources{Chat: fakeChat{v}, Role: models.RoleClient})
	w := get(t, router, "/api/chat")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var got ChatView
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Bubbles) != 2 {
		t.Fatalf("bubbles = %d, want 2 (malformed skipped)", len(got.Bubbles))
	}
	if got.Bubbles[0].Own || !got.Bubbles[1].Own {
		t.Errorf("own flags = %v %v, want false true", got.Bubbles[0].Own, got.Bubbles[1].Own)
	}
	if got.Title != "Chat - Maria" {
		t.Errorf("title = %q", got.Title)
	}
}

func TestChat_MissingSession(t *testing.T) {
	if w := get(t, NewRouter(Sources{}), "/api/chat"); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestMap_IncludesWidget(t *testing.T) {
	widget := tracking.NewStateWidget()
	widget.AddMarker(tracking.Marker{Name: tracking.MarkerSelf, Position: models.LatLng{Lat: -23.55, Lng: -46.63}})
	src := Sources{
		Map:    fakeMap{tracking.View{OrderID: "7", Open: true, Markers: map[string]models.LatLng{}}},
		Widget: widget,
	}
	w := get(t, NewRouter(src), "/api/map")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{`"order_id":"7"`, `"widget"`, `"name":"self"`} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %s: %s", want, body)
		}
	}
}

func TestBadge(t *testing.T) {
	w := get(t, NewRouter(Sources{Badge: fakeBadge(12)}), "/api/badge")
	var got BadgeView
	json.Unmarshal(w.Body.Bytes(), &got)
	if got.Count != 12 || got.Label != "12" {
		t.Errorf("badge = %+v", got)
	}

	w = get(t, NewRouter(Sources{}), "/api/badge")
	json.Unmarshal(w.Body.Bytes(), &got)
	if got.Count != 0 {
		t.Errorf("badge without source = %+v, want zero", got)
	}
}

func TestSSE_InitialSnapshot(t *testing.T) {
	router := gin.New()
	src := Sources{Status: fakeStatus{state: realtime.StateConnecting}, Badge: fakeBadge(3)}
	router.GET("/events", handleSSE(src, time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	router.ServeHTTP(w, req)

	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		t.Errorf("content-type = %q, want text/event-stream", ct)
	}
	body := w.Body.String()
	for _, want := range []string{"event: connected", "event: status", `"state":"connecting"`, "event: badge"} {
		if !strings.Contains(body, want) {
			t.Errorf("stream missing %q:\n%s", want, body)
		}
	}
}

func TestWriteSSE(t *testing.T) {
	var sb strings.Builder
	writeSSE(&sb, "badge", BadgeView{Count: 1, Label: "1"})
	want := "event: badge\ndata: {\"count\":1,\"label\":\"1\"}\n\n"
	if sb.String() != want {
		t.Errorf("writeSSE = %q, want %q", sb.String(), want)
	}
}
