// Package notify is the single transient-notice mechanism. Components raise
// a Notice; the configured Notifier stack decides where it shows up (the
// terminal, a Slack channel, a Discord channel, or a test recorder).
package notify

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// Level is the severity of a notice.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notice is one user-visible message. Passive notices announce events from
// a context the user is not looking at and may be relayed to platforms.
type Notice struct {
	Level   Level
	Title   string
	Body    string
	Passive bool
}

// String renders the notice as a single line.
func (n Notice) String() string {
	if n.Title == "" {
		return n.Body
	}
	if n.Body == "" {
		return n.Title
	}
	return n.Title + ": " + n.Body
}

// Notifier delivers notices. Implementations must not block for long and
// must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

// Info returns a toast-style notice.
func Info(body string) Notice { return Notice{Level: LevelInfo, Body: body} }

// Success returns a success notice.
func Success(body string) Notice { return Notice{Level: LevelSuccess, Body: body} }

// Warning returns a warning notice.
func Warning(body string) Notice { return Notice{Level: LevelWarning, Body: body} }

// Error returns an error notice.
func Error(body string) Notice { return Notice{Level: LevelError, Body: body} }

// Passive returns a background alert: toast, platform notification and bell.
func Passive(title, body string) Notice {
	return Notice{Level: LevelInfo, Title: title, Body: body, Passive: true}
}

// Multi fans a notice out to every notifier.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, n Notice) {
	for _, nt := range m {
		if nt != nil {
			nt.Notify(ctx, n)
		}
	}
}

// Discard drops every notice.
type Discard struct{}

// Notify implements Notifier.
func (Discard) Notify(context.Context, Notice) {}

// Console writes notices to a terminal. With Bell set, passive notices also
// ring the terminal bell.
type Console struct {
	Out  io.Writer
	Bell bool

	mu sync.Mutex
}

// Notify implements Notifier.
func (c *Console) Notify(_ context.Context, n Notice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var b strings.Builder
	if n.Passive && c.Bell {
		b.WriteByte('\a')
	}
	fmt.Fprintf(&b, "[%s] %s\n", strings.ToUpper(string(n.Level)), n.String())
	if _, err := io.WriteString(c.Out, b.String()); err != nil {
		log.Debug().Err(err).Msg("notify: console write")
	}
}

// Recorder keeps every notice it receives. It is used as a Notifier in
// tests across packages.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder { return &Recorder{} }

// Notify implements Notifier.
func (r *Recorder) Notify(_ context.Context, n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

// All returns a copy of all recorded notices.
func (r *Recorder) All() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notice, len(r.notices))
	copy(out, r.notices)
	return out
}

// Count returns the number of recorded notices.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.notices)
}

// PassiveCount returns the number of recorded passive notices.
func (r *Recorder) PassiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, nt := range r.notices {
		if nt.Passive {
			n++
		}
	}
	return n
}

// Last returns the most recent notice, or false if none.
func (r *Recorder) Last() (Notice, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.notices) == 0 {
		return Notice{}, false
	}
	return r.notices[len(r.notices)-1], true
}

// Levels returns the count of notices at lvl.
func (r *Recorder) Levels(lvl Level) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, nt := range r.notices {
		if nt.Level == lvl {
			n++
		}
	}
	return n
}

// Reset drops all recorded notices.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = nil
}
