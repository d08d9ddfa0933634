package dashboard

import (
	"github.com/zulandar/droptrack/internal/chat"
	"github.com/zulandar/droptrack/internal/realtime"
	"github.com/zulandar/droptrack/internal/tracking"
)

// StatusSource reports the realtime connection. *realtime.Client satisfies it.
type StatusSource interface {
	State() realtime.State
	CurrentRoom() string
	Attempts() int
}

// ChatSource exposes the chat view. *chat.Session satisfies it.
type ChatSource interface {
	View() chat.View
}

// MapSource exposes the tracking view. *tracking.Session satisfies it.
type MapSource interface {
	View() tracking.View
}

// BadgeSource exposes the unread notification count.
// *notify.BadgeWatcher satisfies it.
type BadgeSource interface {
	Count() int
	Label() string
}

// Sources are the live objects the dashboard reads. Only Status is
// required; routes for missing sources answer 404.
type Sources struct {
	Status StatusSource
	Chat   ChatSource
	Map    MapSource
	Widget *tracking.StateWidget
	Badge  BadgeSource
	Role   string // current user's role, for chat bubble sides
}

// StatusView is the /api/status payload.
type StatusView struct {
	State    realtime.State `json:"state"`
	Room     string         `json:"room,omitempty"`
	Attempts int            `json:"attempts"`
}

// ChatView is the /api/chat payload.
type ChatView struct {
	OrderID string        `json:"order_id,omitempty"`
	Title   string        `json:"title,omitempty"`
	Open    bool          `json:"open"`
	Loading bool          `json:"loading"`
	Unread  int           `json:"unread"`
	Typing  string        `json:"typing,omitempty"`
	Bubbles []chat.Bubble `json:"bubbles"`
}

// MapView is the /api/map payload.
type MapView struct {
	tracking.View
	Widget *tracking.WidgetState `json:"widget,omitempty"`
}

// BadgeView is the /api/badge payload.
type BadgeView struct {
	Count int    `json:"count"`
	Label string `json:"label"`
}

func statusOf(s StatusSource) StatusView {
	return StatusView{State: s.State(), Room: s.CurrentRoom(), Attempts: s.Attempts()}
}

func badgeOf(b BadgeSource) BadgeView {
	return BadgeView{Count: b.Count(), Label: b.Label()}
}
