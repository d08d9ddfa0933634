package notify

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/zulandar/droptrack/internal/models"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// BadgeLabel formats an unread count the way the header badge shows it.
// Zero yields "" (badge hidden).
func BadgeLabel(n int) string {
	switch {
	case n <= 0:
		return ""
	case n > 99:
		return "99+"
	default:
		return strconv.Itoa(n)
	}
}

// NotificationSource lists the user's notifications.
type NotificationSource interface {
	Notifications(ctx context.Context) ([]models.Notification, error)
}

// BadgeWatcher keeps the unread notification count current. It refreshes
// on its cron schedule and whenever Trigger is called.
type BadgeWatcher struct {
	src      NotificationSource
	schedule cron.Schedule
	onChange func(count int, label string)
	logger   *zerolog.Logger
	now      func() time.Time

	trigger chan struct{}

	mu    sync.Mutex
	count int
}

// BadgeOpts holds parameters for creating a BadgeWatcher.
type BadgeOpts struct {
	Source   NotificationSource
	Schedule string // 5-field cron expression
	OnChange func(count int, label string)
	Logger   *zerolog.Logger
}

// NewBadgeWatcher creates a BadgeWatcher.
func NewBadgeWatcher(opts BadgeOpts) (*BadgeWatcher, error) {
	if opts.Source == nil {
		return nil, fmt.Errorf("notify: notification source is required")
	}
	sched, err := cronParser.Parse(opts.Schedule)
	if err != nil {
		return nil, fmt.Errorf("notify: badge schedule %q: %w", opts.Schedule, err)
	}
	w := &BadgeWatcher{
		src:      opts.Source,
		schedule: sched,
		onChange: opts.OnChange,
		logger:   opts.Logger,
		now:      time.Now,
		trigger:  make(chan struct{}, 1),
	}
	if w.logger == nil {
		w.logger = &log.Logger
	}
	return w, nil
}

// Count returns the last observed unread count.
func (w *BadgeWatcher) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Label returns BadgeLabel(Count()).
func (w *BadgeWatcher) Label() string { return BadgeLabel(w.Count()) }

// Trigger requests an immediate refresh. It never blocks.
func (w *BadgeWatcher) Trigger() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// Refresh fetches notifications and updates the count. A failed fetch
// keeps the previous count.
func (w *BadgeWatcher) Refresh(ctx context.Context) (int, error) {
	items, err := w.src.Notifications(ctx)
	if err != nil {
		w.logger.Debug().Err(err).Msg("notify: badge refresh failed")
		return w.Count(), err
	}
	unread := 0
	for _, n := range items {
		if !n.Read {
			unread++
		}
	}
	w.mu.Lock()
	changed := unread != w.count
	w.count = unread
	w.mu.Unlock()
	if changed && w.onChange != nil {
		w.onChange(unread, BadgeLabel(unread))
	}
	return unread, nil
}

// next returns the wait until the schedule next fires.
func (w *BadgeWatcher) next() time.Duration {
	now := w.now()
	d := w.schedule.Next(now).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Run refreshes immediately, then on schedule and on Trigger, until ctx is
// cancelled.
func (w *BadgeWatcher) Run(ctx context.Context) {
	_, _ = w.Refresh(ctx)
	for {
		timer := time.NewTimer(w.next())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		case <-w.trigger:
			timer.Stop()
		}
		_, _ = w.Refresh(ctx)
	}
}
