package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/droptrack/internal/chat"
	"github.com/zulandar/droptrack/internal/models"
	"github.com/zulandar/droptrack/internal/tracking"
)

func TestParsePair(t *testing.T) {
	p, err := parsePair("-23.5505, -46.6333")
	if err != nil || p != (models.LatLng{Lat: -23.5505, Lng: -46.6333}) {
		t.Errorf("parsePair = %v, %v", p, err)
	}
	if _, err := parsePair("-23.5505"); err == nil {
		t.Error("expected error without comma")
	}
}

func TestTrackCmd_InvalidFlags(t *testing.T) {
	cfg := writeConfig(t, "")
	_, err := runCmd(t, "", "track", "42", "-c", cfg, "--at", "nowhere")
	if err == nil || !strings.Contains(err.Error(), "--at") {
		t.Errorf("err = %v, want --at error", err)
	}
	_, err = runCmd(t, "", "track", "42", "-c", cfg, "--dest", "1,x")
	if err == nil || !strings.Contains(err.Error(), "--dest") {
		t.Errorf("err = %v, want --dest error", err)
	}
}

func TestTrackCmd_RequiresToken(t *testing.T) {
	cfg := writeConfig(t, "")
	_, err := runCmd(t, "", "track", "42", "-c", cfg)
	if err == nil || !strings.Contains(err.Error(), "not logged in") {
		t.Errorf("err = %v, want not logged in", err)
	}
}

func TestETAPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := &etaPrinter{out: &buf}

	p.update(tracking.View{Markers: map[string]models.LatLng{}})
	if buf.Len() != 0 {
		t.Errorf("printed without counterpart: %q", buf.String())
	}

	v := tracking.View{
		Markers: map[string]models.LatLng{tracking.MarkerCounterpart: {Lat: -23.55, Lng: -46.63}},
		ETA:     &tracking.ETA{Distance: "1.20 km", Duration: "5 min"},
	}
	p.update(v)
	p.update(v)
	if got := strings.Count(buf.String(), "\n"); got != 1 {
		t.Errorf("lines = %d, want 1 (duplicates suppressed): %q", got, buf.String())
	}
	if !strings.Contains(buf.String(), "courier at -23.550000, -46.630000, 1.20 km, 5 min") {
		t.Errorf("line = %q", buf.String())
	}

	v.ETA = &tracking.ETA{Distance: "900 m", Duration: "unknown", Approximate: true}
	p.update(v)
	if !strings.Contains(buf.String(), "900 m, unknown (approximate)") {
		t.Errorf("approximate line missing: %q", buf.String())
	}
}

func TestTranscriptPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := newTranscriptPrinter(&buf, models.RoleClient)
	at := time.Date(2026, 3, 1, 14, 5, 0, 0, time.Local)

	v := chat.View{
		OrderID: "42",
		Title:   "Chat - #42",
		Open:    true,
		Messages: []models.Message{
			{ID: "1", Body: "saindo agora", Sender: models.RoleCourier, CreatedAt: at},
			{TempID: "temp_x", Body: "ok", Sender: models.RoleClient},
		},
	}
	p.update(v)
	v.Messages = append(v.Messages, models.Message{ID: "2", Body: "obrigado", Sender: models.RoleClient, CreatedAt: at})
	v.Typing = "Rui"
	p.update(v)
	p.update(v)

	out := buf.String()
	if strings.Count(out, "== Chat - #42 ==") != 1 {
		t.Errorf("title printed %d times: %q", strings.Count(out, "== Chat - #42 =="), out)
	}
	if strings.Count(out, "saindo agora") != 1 {
		t.Errorf("message reprinted: %q", out)
	}
	if strings.Contains(out, "ok\n") {
		t.Errorf("pending message printed: %q", out)
	}
	for _, want := range []string{"< [14:05] saindo agora", "> [14:05] obrigado", "Rui is typing..."} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %q", want, out)
		}
	}
	if strings.Count(out, "is typing") != 1 {
		t.Errorf("typing printed more than once: %q", out)
	}
}
