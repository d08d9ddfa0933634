package tracking

import (
	"sort"
	"sync"

	"github.com/zulandar/droptrack/internal/models"
)

// Marker is a map pin.
type Marker struct {
	Name     string        `json:"name"`
	Position models.LatLng `json:"position"`
	Icon     string        `json:"icon"`
	Popup    string        `json:"popup,omitempty"`
}

// Widget is the rendering surface of a tracking session. Handles are
// widget-assigned and only meaningful to the widget that issued them.
type Widget interface {
	SetView(center models.LatLng, zoom int)
	PanTo(center models.LatLng)
	InvalidateSize()
	AddMarker(m Marker) int
	MoveMarker(handle int, p models.LatLng)
	RemoveMarker(handle int)
	AddPolyline(points []models.LatLng) int
	RemovePolyline(handle int)
	FitBounds(b models.Bounds, padding int)
	Remove()
}

// WidgetState is a snapshot of a StateWidget.
type WidgetState struct {
	Center    models.LatLng     `json:"center"`
	Zoom      int               `json:"zoom"`
	Sized     bool              `json:"sized"`
	Removed   bool              `json:"removed"`
	Markers   []Marker          `json:"markers"`
	Polylines [][]models.LatLng `json:"polylines"`
	Fit       *models.Bounds    `json:"fit,omitempty"`
	Padding   int               `json:"padding"`
	Moves     int               `json:"moves"`
}

// StateWidget is a headless Widget that records geometry. It backs the CLI,
// the dashboard JSON view and tests.
type StateWidget struct {
	mu        sync.Mutex
	next      int
	center    models.LatLng
	zoom      int
	sized     bool
	removed   bool
	markers   map[int]Marker
	polylines map[int][]models.LatLng
	fit       *models.Bounds
	padding   int
	moves     int
}

// NewStateWidget returns an empty StateWidget.
func NewStateWidget() *StateWidget {
	return &StateWidget{markers: map[int]Marker{}, polylines: map[int][]models.LatLng{}}
}

func (w *StateWidget) SetView(center models.LatLng, zoom int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.center, w.zoom = center, zoom
}

func (w *StateWidget) PanTo(center models.LatLng) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.center = center
}

func (w *StateWidget) InvalidateSize() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sized = true
}

func (w *StateWidget) AddMarker(m Marker) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.next++
	w.markers[w.next] = m
	return w.next
}

func (w *StateWidget) MoveMarker(handle int, p models.LatLng) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if m, ok := w.markers[handle]; ok {
		m.Position = p
		w.markers[handle] = m
		w.moves++
	}
}

func (w *StateWidget) RemoveMarker(handle int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.markers, handle)
}

func (w *StateWidget) AddPolyline(points []models.LatLng) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.next++
	w.polylines[w.next] = append([]models.LatLng(nil), points...)
	return w.next
}

func (w *StateWidget) RemovePolyline(handle int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.polylines, handle)
}

func (w *StateWidget) FitBounds(b models.Bounds, padding int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.fit = &b
	w.padding = padding
	w.center = models.LatLng{Lat: (b.MinLat + b.MaxLat) / 2, Lng: (b.MinLng + b.MaxLng) / 2}
}

func (w *StateWidget) Remove() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.removed = true
	w.markers = map[int]Marker{}
	w.polylines = map[int][]models.LatLng{}
}

// State returns a snapshot. Markers are ordered by name.
func (w *StateWidget) State() WidgetState {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := WidgetState{
		Center:  w.center,
		Zoom:    w.zoom,
		Sized:   w.sized,
		Removed: w.removed,
		Padding: w.padding,
		Moves:   w.moves,
	}
	if w.fit != nil {
		b := *w.fit
		s.Fit = &b
	}
	keys := make([]int, 0, len(w.polylines))
	for k := range w.polylines {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	for _, k := range keys {
		s.Polylines = append(s.Polylines, append([]models.LatLng(nil), w.polylines[k]...))
	}
	for _, m := range w.markers {
		s.Markers = append(s.Markers, m)
	}
	sort.Slice(s.Markers, func(i, j int) bool { return s.Markers[i].Name < s.Markers[j].Name })
	return s
}

// MarkersNamed returns the markers carrying name.
func (w *StateWidget) MarkersNamed(name string) []Marker {
	var out []Marker
	for _, m := range w.State().Markers {
		if m.Name == name {
			out = append(out, m)
		}
	}
	return out
}
