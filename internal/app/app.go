// Package app wires the local store, credentials, HTTP backend, realtime
// client, geo client and notifiers into one process-wide root. Chat and
// tracking sessions are created from it and share its single realtime
// connection.
package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/zulandar/droptrack/internal/api"
	"github.com/zulandar/droptrack/internal/auth"
	"github.com/zulandar/droptrack/internal/chat"
	"github.com/zulandar/droptrack/internal/config"
	"github.com/zulandar/droptrack/internal/geo"
	"github.com/zulandar/droptrack/internal/notify"
	"github.com/zulandar/droptrack/internal/realtime"
	"github.com/zulandar/droptrack/internal/store"
	"github.com/zulandar/droptrack/internal/tracking"
)

// App is the process root.
type App struct {
	Config      *config.Config
	Store       *store.Store
	Credentials *auth.Credentials
	API         *api.Client
	Backend     *api.Backend
	Realtime    *realtime.Client
	Geo         *geo.Client
	Notifier    notify.Notifier
	Badge       *notify.BadgeWatcher

	logger    *zerolog.Logger
	ownsStore bool
	sinks     []io.Closer

	mu       sync.Mutex
	cancel   context.CancelFunc
	removers []func()
	wg       sync.WaitGroup
}

// Opts holds parameters for creating an App. Only Config is required.
type Opts struct {
	Config     *config.Config
	Store      *store.Store // opened from Config.Store when nil
	Out        io.Writer    // console notices; defaults to stderr
	Logger     *zerolog.Logger
	HTTPClient *http.Client
	Dialer     realtime.Dialer
	Notifiers  []notify.Notifier // extra sinks, appended after the console
	// OnAuthFailure runs when no token is stored or the backend rejected
	// it. Rejected credentials are already cleared.
	OnAuthFailure func()
	OnBadge       func(count int, label string)
}

// New builds an App from opts.
func New(opts Opts) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("app: config is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = &log.Logger
	}

	a := &App{Config: cfg, logger: logger}

	a.Store = opts.Store
	if a.Store == nil {
		s, err := store.Open(cfg.Store)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		a.Store = s
		a.ownsStore = true
	}

	creds, err := auth.New(a.Store)
	if err != nil {
		a.release()
		return nil, fmt.Errorf("app: %w", err)
	}
	if cfg.Token != "" {
		if err := creds.SetToken(cfg.Token); err != nil {
			a.release()
			return nil, fmt.Errorf("app: %w", err)
		}
	}
	a.Credentials = creds

	notifier, sinks, err := buildNotifier(cfg.Notify, opts, logger)
	a.sinks = sinks
	if err != nil {
		a.release()
		return nil, err
	}
	a.Notifier = notifier

	onAuth := opts.OnAuthFailure
	a.API, err = api.NewClient(api.Opts{
		HTTPClient:  opts.HTTPClient,
		Credentials: creds,
		OnAuthFailure: func() {
			logger.Warn().Msg("app: authentication required")
			a.Notifier.Notify(context.Background(), notify.Warning("please log in again"))
			if onAuth != nil {
				onAuth()
			}
		},
		Retry:     api.RetryPolicy{MaxRetries: cfg.Retry.MaxRetries, BaseDelay: cfg.Retry.BaseDelay, MaxDelay: cfg.Retry.MaxDelay},
		ColdStart: api.RetryPolicy{MaxRetries: cfg.Retry.ColdStartRetries, BaseDelay: cfg.Retry.ColdStartBaseDelay, MaxDelay: cfg.Retry.ColdStartMaxDelay},
		Logger:    logger,
	})
	if err != nil {
		a.release()
		return nil, fmt.Errorf("app: %w", err)
	}
	if a.Backend, err = api.NewBackend(a.API, cfg.APIURL); err != nil {
		a.release()
		return nil, fmt.Errorf("app: %w", err)
	}

	a.Realtime, err = realtime.NewClient(realtime.Opts{
		URL:                cfg.SocketURL,
		Credentials:        creds,
		Dialer:             opts.Dialer,
		Notifier:           notifier,
		Logger:             logger,
		ReconnectDelay:     cfg.Realtime.ReconnectDelay,
		ReconnectDelayMax:  cfg.Realtime.ReconnectDelayMax,
		ReconnectAttempts:  cfg.Realtime.ReconnectAttempts,
		MaxReconnectNotice: cfg.Realtime.MaxReconnectNotice,
	})
	if err != nil {
		a.release()
		return nil, fmt.Errorf("app: %w", err)
	}

	a.Geo, err = geo.NewClient(geo.Opts{
		HTTPClient:  opts.HTTPClient,
		GeocodeURL:  cfg.Geo.GeocodeURL,
		APIKey:      cfg.Geo.APIKey,
		CountryCode: cfg.Geo.CountryCode,
		Language:    cfg.Geo.Language,
		Bounds:      cfg.Geo.Bounds,
		RouteURL:    cfg.Geo.RouteURL,
		Retries:     cfg.Geo.Retries,
		RetryDelay:  cfg.Geo.RetryDelay,
		Timeout:     cfg.Geo.Timeout,
		Logger:      logger,
	})
	if err != nil {
		a.release()
		return nil, fmt.Errorf("app: %w", err)
	}

	a.Badge, err = notify.NewBadgeWatcher(notify.BadgeOpts{
		Source:   a.Backend,
		Schedule: cfg.Notify.BadgeCron,
		OnChange: opts.OnBadge,
		Logger:   logger,
	})
	if err != nil {
		a.release()
		return nil, fmt.Errorf("app: %w", err)
	}
	return a, nil
}

// buildNotifier returns the notifier stack and the platform relays that
// must be closed with the App.
func buildNotifier(cfg config.NotifyConfig, opts Opts, logger *zerolog.Logger) (notify.Notifier, []io.Closer, error) {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	sinks := notify.Multi{&notify.Console{Out: out, Bell: cfg.Bell}}
	var closers []io.Closer
	if cfg.SlackWebhook != "" {
		s, err := notify.NewSlack(notify.SlackOpts{WebhookURL: cfg.SlackWebhook, Logger: logger})
		if err != nil {
			return nil, closers, fmt.Errorf("app: %w", err)
		}
		sinks = append(sinks, s)
		closers = append(closers, s)
	}
	if cfg.DiscordWebhookID != "" {
		d, err := notify.NewDiscord(notify.DiscordOpts{
			WebhookID:    cfg.DiscordWebhookID,
			WebhookToken: cfg.DiscordWebhookToken,
			Logger:       logger,
		})
		if err != nil {
			return nil, closers, fmt.Errorf("app: %w", err)
		}
		sinks = append(sinks, d)
		closers = append(closers, d)
	}
	sinks = append(sinks, opts.Notifiers...)
	return sinks, closers, nil
}

// Start connects the realtime client and starts the badge watcher. Inbound
// notifications trigger an immediate badge refresh. Start is a no-op when
// already started.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return nil
	}
	if err := a.Realtime.Connect(ctx); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.removers = append(a.removers, a.Realtime.OnNotification(func(realtime.NotificationEvent) {
		a.Badge.Trigger()
	}))
	a.removers = append(a.removers, a.Realtime.OnStateChange(func(s realtime.State) {
		a.logger.Debug().Str("state", string(s)).Msg("app: realtime state")
	}))
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.Badge.Run(runCtx)
	}()
	return nil
}

// NewChat creates a chat session over the shared connection. Own lines are
// decided by the stored user's role.
func (a *App) NewChat(onChange func(chat.View)) (*chat.Session, error) {
	return chat.NewSession(chat.Opts{
		Transport:       a.Realtime,
		API:             a.Backend,
		Cache:           a.Store,
		Notifier:        a.Notifier,
		Logger:          a.logger,
		Role:            a.Credentials.Role(),
		OnChange:        onChange,
		PollInterval:    a.Config.Chat.PollInterval,
		TypingDebounce:  a.Config.Chat.TypingDebounce,
		TypingIndicator: a.Config.Chat.TypingIndicator,
	})
}

// NewTracking creates a live map session drawing on widget. A nil locator
// means the device position is unavailable.
func (a *App) NewTracking(widget tracking.Widget, locator tracking.Locator, onChange func(tracking.View)) (*tracking.Session, error) {
	t := a.Config.Tracking
	return tracking.NewSession(tracking.Opts{
		Widget:             widget,
		Locator:            locator,
		Router:             a.Geo,
		Transport:          a.Realtime,
		Notifier:           a.Notifier,
		Logger:             a.logger,
		OnChange:           onChange,
		Center:             t.DefaultCenter,
		Zoom:               t.Zoom,
		GeolocationTimeout: t.GeolocationTimeout,
		Animate:            t.Animate,
		ResizeDelay:        t.ResizeDelay,
		FitPadding:         t.FitPadding,
	})
}

// Close disconnects, stops the badge watcher, flushes the platform relays
// and closes the store if the App opened it. It is safe to call more than
// once.
func (a *App) Close() error {
	a.mu.Lock()
	cancel, removers := a.cancel, a.removers
	a.cancel, a.removers = nil, nil
	a.mu.Unlock()

	for _, rm := range removers {
		rm()
	}
	if cancel != nil {
		cancel()
	}
	a.Realtime.Disconnect()
	a.wg.Wait()
	return a.release()
}

func (a *App) release() error {
	a.mu.Lock()
	sinks := a.sinks
	a.sinks = nil
	a.mu.Unlock()
	for _, c := range sinks {
		if err := c.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("app: close notifier")
		}
	}
	if !a.ownsStore || a.Store == nil {
		return nil
	}
	a.ownsStore = false
	return a.Store.Close()
}
