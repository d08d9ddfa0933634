// Package tracking drives the live delivery map: named markers, the route
// polyline, the device position with a fallback, and distance/ETA updates
// as the counterpart's position arrives over the realtime transport.
package tracking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/zulandar/droptrack/internal/geo"
	"github.com/zulandar/droptrack/internal/models"
	"github.com/zulandar/droptrack/internal/notify"
	"github.com/zulandar/droptrack/internal/realtime"
)

// Logical marker names.
const (
	MarkerSelf        = "self"
	MarkerCounterpart = "counterpart"
	MarkerDestination = "destination"
)

const (
	defaultZoom               = 13
	defaultGeolocationTimeout = 5 * time.Second
	defaultAnimate            = time.Second
	defaultResizeDelay        = 300 * time.Millisecond
	defaultFitPadding         = 50
	animationFrame            = 50 * time.Millisecond
)

var markerIcons = map[string]string{
	MarkerSelf:        "user",
	MarkerCounterpart: "delivery",
	MarkerDestination: "destination",
}

// Router computes routes. *geo.Client satisfies it.
type Router interface {
	Route(ctx context.Context, from, to models.LatLng) geo.Route
}

// Transport is the realtime surface a Session uses. *realtime.Client
// satisfies it.
type Transport interface {
	OnLocation(fn func(realtime.LocationEvent)) func()
	SendLocation(p models.LatLng, orderID string) error
}

// ETA is the displayed distance and travel time.
type ETA struct {
	DistanceMeters  float64 `json:"distance_meters"`
	DurationSeconds float64 `json:"duration_seconds"`
	Approximate     bool    `json:"approximate"`
	Distance        string  `json:"distance"`
	Duration        string  `json:"duration"`
}

// DurationKnown reports whether DurationSeconds is meaningful. A zero
// duration from the fallback path means unknown.
func (e ETA) DurationKnown() bool { return !e.Approximate && e.DurationSeconds > 0 }

func etaOf(r geo.Route) ETA {
	e := ETA{
		DistanceMeters:  r.DistanceMeters,
		DurationSeconds: r.DurationSeconds,
		Approximate:     r.Approximate,
		Distance:        geo.FormatDistance(r.DistanceMeters),
		Duration:        geo.FormatDuration(r.DurationSeconds),
	}
	if r.Approximate {
		e.Duration = geo.FormatDuration(0)
	}
	return e
}

// View is the displayable state of a session.
type View struct {
	OrderID     string                   `json:"order_id,omitempty"`
	Open        bool                     `json:"open"`
	Markers     map[string]models.LatLng `json:"markers"`
	RoutePoints int                      `json:"route_points"`
	ETA         *ETA                     `json:"eta,omitempty"`
	SelfFix     bool                     `json:"self_fix"`
	Watching    bool                     `json:"watching"`
}

type placed struct {
	handle int
	marker Marker
}

// Session is one open tracking view.
type Session struct {
	widget    Widget
	locator   Locator
	router    Router
	transport Transport
	notifier  notify.Notifier
	logger    *zerolog.Logger
	onChange  func(View)

	center        models.LatLng
	zoom          int
	locateTimeout time.Duration
	animate       time.Duration
	frame         time.Duration
	resizeDelay   time.Duration
	padding       int

	mu          sync.Mutex
	initialized bool
	closed      bool
	orderID     string
	markers     map[string]placed
	route       int
	routePoints int
	eta         *ETA
	etaSeq      int
	selfFix     bool
	resize      *time.Timer
	animCancel  context.CancelFunc
	watchCancel context.CancelFunc
	detach      func()

	bg sync.WaitGroup
}

// Opts holds parameters for creating a Session.
type Opts struct {
	Widget    Widget
	Locator   Locator   // nil means geolocation is unsupported
	Router    Router    // nil falls back to straight lines
	Transport Transport // optional
	Notifier  notify.Notifier
	Logger    *zerolog.Logger
	OnChange  func(View)

	Center             models.LatLng
	Zoom               int
	GeolocationTimeout time.Duration
	Animate            time.Duration // negative disables animation
	ResizeDelay        time.Duration
	FitPadding         int
}

// NewSession creates an uninitialized Session.
func NewSession(opts Opts) (*Session, error) {
	if opts.Widget == nil {
		return nil, fmt.Errorf("tracking: widget is required")
	}
	s := &Session{
		widget:        opts.Widget,
		locator:       opts.Locator,
		router:        opts.Router,
		transport:     opts.Transport,
		notifier:      opts.Notifier,
		logger:        opts.Logger,
		onChange:      opts.OnChange,
		center:        opts.Center,
		zoom:          opts.Zoom,
		locateTimeout: opts.GeolocationTimeout,
		animate:       opts.Animate,
		frame:         animationFrame,
		resizeDelay:   opts.ResizeDelay,
		padding:       opts.FitPadding,
		markers:       map[string]placed{},
	}
	if s.notifier == nil {
		s.notifier = notify.Discard{}
	}
	if s.logger == nil {
		s.logger = &log.Logger
	}
	if s.center == (models.LatLng{}) {
		s.center = geo.DefaultCity.Point
	}
	if s.zoom <= 0 {
		s.zoom = defaultZoom
	}
	if s.locateTimeout <= 0 {
		s.locateTimeout = defaultGeolocationTimeout
	}
	if s.animate == 0 {
		s.animate = defaultAnimate
	}
	if s.resizeDelay <= 0 {
		s.resizeDelay = defaultResizeDelay
	}
	if s.padding <= 0 {
		s.padding = defaultFitPadding
	}
	return s, nil
}

// View returns a snapshot of the current state.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := View{
		OrderID:     s.orderID,
		Open:        s.initialized && !s.closed,
		Markers:     make(map[string]models.LatLng, len(s.markers)),
		RoutePoints: s.routePoints,
		SelfFix:     s.selfFix,
		Watching:    s.watchCancel != nil,
	}
	for name, p := range s.markers {
		v.Markers[name] = p.marker.Position
	}
	if s.eta != nil {
		e := *s.eta
		v.ETA = &e
	}
	return v
}

func (s *Session) changed() {
	if s.onChange != nil {
		s.onChange(s.View())
	}
}

// Init centers the widget on the default coordinate. The size is
// recomputed after the resize delay, once the container can report it.
func (s *Session) Init() {
	s.mu.Lock()
	if s.initialized || s.closed {
		s.mu.Unlock()
		return
	}
	s.initialized = true
	s.resize = time.AfterFunc(s.resizeDelay, s.Resize)
	s.mu.Unlock()

	s.widget.SetView(s.center, s.zoom)
	s.changed()
}

// Resize recomputes the widget size. Call it when the container becomes
// visible.
func (s *Session) Resize() {
	s.mu.Lock()
	live := s.initialized && !s.closed
	s.mu.Unlock()
	if live {
		s.widget.InvalidateSize()
	}
}

// SelfLocation returns the device position. On timeout, error, or a
// missing locator it returns the default center and false, after raising a
// warning notice.
func (s *Session) SelfLocation(ctx context.Context) (models.LatLng, bool) {
	if s.locator == nil {
		return s.locationFallback(ctx, ErrUnsupported)
	}
	ctx, cancel := context.WithTimeout(ctx, s.locateTimeout)
	defer cancel()

	type fix struct {
		p   models.LatLng
		err error
	}
	ch := make(chan fix, 1)
	go func() {
		p, err := s.locator.Locate(ctx)
		ch <- fix{p, err}
	}()

	select {
	case <-ctx.Done():
		return s.locationFallback(ctx, ctx.Err())
	case f := <-ch:
		if f.err != nil {
			return s.locationFallback(ctx, f.err)
		}
		if !f.p.Valid() {
			return s.locationFallback(ctx, fmt.Errorf("tracking: invalid fix %s", f.p))
		}
		s.mu.Lock()
		s.selfFix = true
		s.mu.Unlock()
		return f.p, true
	}
}

func (s *Session) locationFallback(ctx context.Context, err error) (models.LatLng, bool) {
	s.logger.Warn().Err(err).Msg("tracking: using fallback location")
	s.notifier.Notify(context.WithoutCancel(ctx), notify.Warning("could not get your location, using the default"))
	return s.center, false
}

// SetMarker places the marker called name at p, replacing any marker
// already under that name.
func (s *Session) SetMarker(name string, p models.LatLng, popup string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	old, had := s.markers[name]
	m := Marker{Name: name, Position: p, Icon: markerIcons[name], Popup: popup}
	if m.Icon == "" {
		m.Icon = "default"
	}
	if had {
		s.widget.RemoveMarker(old.handle)
	}
	s.markers[name] = placed{handle: s.widget.AddMarker(m), marker: m}
	s.mu.Unlock()
	s.changed()
}

// RemoveMarker removes the marker called name, if any.
func (s *Session) RemoveMarker(name string) {
	s.mu.Lock()
	old, had := s.markers[name]
	if had {
		s.widget.RemoveMarker(old.handle)
		delete(s.markers, name)
	}
	s.mu.Unlock()
	if had {
		s.changed()
	}
}

// Marker returns the logical position of the named marker.
func (s *Session) Marker(name string) (models.LatLng, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.markers[name]
	return p.marker.Position, ok
}

// DrawRoute replaces the route polyline and fits the viewport to it.
// An empty point list only clears the current route.
func (s *Session) DrawRoute(points []models.LatLng) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.route != 0 {
		s.widget.RemovePolyline(s.route)
		s.route, s.routePoints = 0, 0
	}
	if b, ok := models.BoundsOf(points); ok {
		s.route = s.widget.AddPolyline(points)
		s.routePoints = len(points)
		s.widget.FitBounds(b, s.padding)
	}
	s.mu.Unlock()
	s.changed()
}

// ClearRoute removes the route polyline.
func (s *Session) ClearRoute() { s.DrawRoute(nil) }

// FitAllMarkers fits the viewport to every marker.
func (s *Session) FitAllMarkers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	points := make([]models.LatLng, 0, len(s.markers))
	for _, p := range s.markers {
		points = append(points, p.marker.Position)
	}
	if b, ok := models.BoundsOf(points); ok {
		s.widget.FitBounds(b, s.padding)
	}
}

// Center moves the viewport to p, changing zoom when zoom > 0.
func (s *Session) Center(p models.LatLng, zoom int) {
	if zoom > 0 {
		s.widget.SetView(p, zoom)
		return
	}
	s.widget.PanTo(p)
}

// RouteTo asks the router for a route, draws it and updates the ETA.
func (s *Session) RouteTo(ctx context.Context, from, to models.LatLng) geo.Route {
	r := s.computeRoute(ctx, from, to)
	s.DrawRoute(r.Points)
	e := etaOf(r)
	s.mu.Lock()
	s.etaSeq++
	s.eta = &e
	s.mu.Unlock()
	s.changed()
	return r
}

func (s *Session) computeRoute(ctx context.Context, from, to models.LatLng) geo.Route {
	if s.router == nil {
		return geo.StraightLine(from, to)
	}
	return s.router.Route(ctx, from, to)
}

// Attach follows orderID: counterpart positions for it arriving over the
// transport move the counterpart marker and refresh the ETA.
func (s *Session) Attach(orderID string) {
	s.mu.Lock()
	if s.detach != nil {
		s.detach()
		s.detach = nil
	}
	s.orderID = orderID
	closed := s.closed
	s.mu.Unlock()
	if closed || s.transport == nil {
		return
	}

	remove := s.transport.OnLocation(func(ev realtime.LocationEvent) {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		s.bg.Add(1)
		s.mu.Unlock()
		go func() {
			defer s.bg.Done()
			s.HandleLocation(context.Background(), ev)
		}()
	})
	s.mu.Lock()
	s.detach = remove
	s.mu.Unlock()
	s.changed()
}

// HandleLocation applies a counterpart position for the attached order.
// Events for other orders and invalid coordinates are ignored.
func (s *Session) HandleLocation(ctx context.Context, ev realtime.LocationEvent) {
	p := ev.Point()
	s.mu.Lock()
	if s.closed || string(ev.OrderID) != s.orderID {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	if !p.Valid() {
		s.logger.Warn().Str("order", string(ev.OrderID)).Msg("tracking: ignoring invalid position")
		return
	}

	s.moveCounterpart(p)
	s.refreshETA(ctx, p)
}

func (s *Session) moveCounterpart(to models.LatLng) {
	s.mu.Lock()
	cur, had := s.markers[MarkerCounterpart]
	if !had {
		s.mu.Unlock()
		s.SetMarker(MarkerCounterpart, to, "")
		return
	}
	from := cur.marker.Position
	cur.marker.Position = to
	s.markers[MarkerCounterpart] = cur
	if s.animCancel != nil {
		s.animCancel()
		s.animCancel = nil
	}
	if s.animate <= 0 || s.animate < s.frame {
		s.widget.MoveMarker(cur.handle, to)
		s.mu.Unlock()
		s.changed()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.animCancel = cancel
	s.bg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.bg.Done()
		s.animateMarker(ctx, cur.handle, from, to)
	}()
	s.changed()
}

// animateMarker moves the widget marker from a to b by linear
// interpolation over the animation window.
func (s *Session) animateMarker(ctx context.Context, handle int, a, b models.LatLng) {
	steps := int(s.animate / s.frame)
	ticker := time.NewTicker(s.frame)
	defer ticker.Stop()
	for i := 1; i <= steps; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		p := Lerp(a, b, float64(i)/float64(steps))
		if i == steps {
			p = b
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		s.widget.MoveMarker(handle, p)
		s.mu.Unlock()
	}
}

// Lerp interpolates between a and b; t is clamped to [0, 1].
func Lerp(a, b models.LatLng, t float64) models.LatLng {
	switch {
	case t <= 0:
		return a
	case t >= 1:
		return b
	}
	return models.LatLng{Lat: a.Lat + (b.Lat-a.Lat)*t, Lng: a.Lng + (b.Lng-a.Lng)*t}
}

// target is where the counterpart is heading: the destination when set,
// otherwise this device.
func (s *Session) target() (models.LatLng, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.markers[MarkerDestination]; ok {
		return d.marker.Position, true
	}
	if d, ok := s.markers[MarkerSelf]; ok {
		return d.marker.Position, true
	}
	return models.LatLng{}, false
}

// refreshETA recomputes distance and duration from p. A slower routing
// reply never overwrites a newer one.
func (s *Session) refreshETA(ctx context.Context, p models.LatLng) {
	to, ok := s.target()
	if !ok {
		return
	}
	s.mu.Lock()
	s.etaSeq++
	seq := s.etaSeq
	s.mu.Unlock()

	e := etaOf(s.computeRoute(ctx, p, to))

	s.mu.Lock()
	if seq != s.etaSeq || s.closed {
		s.mu.Unlock()
		return
	}
	s.eta = &e
	s.mu.Unlock()
	s.logger.Debug().Str("distance", e.Distance).Str("duration", e.Duration).Msg("tracking: eta updated")
	s.changed()
}

// ETA returns the last computed ETA.
func (s *Session) ETA() (ETA, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eta == nil {
		return ETA{}, false
	}
	return *s.eta, true
}

// StartWatch follows the device position: each fix moves the self marker
// and is reported over the transport for the attached order. It stops on
// Close or when ctx is done.
func (s *Session) StartWatch(ctx context.Context) error {
	if s.locator == nil {
		s.notifier.Notify(ctx, notify.Warning("location tracking is not available"))
		return ErrUnsupported
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("tracking: session closed")
	}
	if s.watchCancel != nil {
		s.mu.Unlock()
		return nil
	}
	wctx, cancel := context.WithCancel(ctx)
	s.watchCancel = cancel
	s.mu.Unlock()

	fixes, err := s.locator.Watch(wctx)
	if err != nil {
		cancel()
		s.mu.Lock()
		s.watchCancel = nil
		s.mu.Unlock()
		s.notifier.Notify(ctx, notify.Warning("location tracking is not available"))
		return fmt.Errorf("tracking: watch: %w", err)
	}

	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		for p := range fixes {
			s.applySelf(p)
		}
	}()
	s.changed()
	return nil
}

// StopWatch stops following the device position.
func (s *Session) StopWatch() {
	s.mu.Lock()
	cancel := s.watchCancel
	s.watchCancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		s.changed()
	}
}

func (s *Session) applySelf(p models.LatLng) {
	if !p.Valid() {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	orderID := s.orderID
	s.selfFix = true
	s.mu.Unlock()

	s.SetMarker(MarkerSelf, p, "You are here")
	if s.transport == nil {
		return
	}
	if err := s.transport.SendLocation(p, orderID); err != nil {
		s.logger.Debug().Err(err).Msg("tracking: location not sent")
	}
}

// Close stops watches, animations and timers, detaches from the
// transport, and disposes the widget. Calling it again does nothing.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.resize != nil {
		s.resize.Stop()
	}
	for _, cancel := range []context.CancelFunc{s.animCancel, s.watchCancel} {
		if cancel != nil {
			cancel()
		}
	}
	s.animCancel, s.watchCancel = nil, nil
	detach := s.detach
	s.detach = nil
	s.mu.Unlock()

	if detach != nil {
		detach()
	}
	s.bg.Wait()

	s.mu.Lock()
	for name, p := range s.markers {
		s.widget.RemoveMarker(p.handle)
		delete(s.markers, name)
	}
	if s.route != 0 {
		s.widget.RemovePolyline(s.route)
		s.route, s.routePoints = 0, 0
	}
	s.widget.Remove()
	s.mu.Unlock()
	s.changed()
}
