package tracking

import (
	"context"
	"errors"
	"time"

	"github.com/zulandar/droptrack/internal/models"
)

// ErrUnsupported is returned by locators that cannot produce a position.
var ErrUnsupported = errors.New("tracking: geolocation not supported")

// Locator supplies the device position.
type Locator interface {
	// Locate returns one fix.
	Locate(ctx context.Context) (models.LatLng, error)
	// Watch streams fixes until ctx is done, then closes the channel.
	Watch(ctx context.Context) (<-chan models.LatLng, error)
}

// FixedLocator always reports Point, or Err when set. Watch repeats the
// point every Interval (once when Interval is zero).
type FixedLocator struct {
	Point    models.LatLng
	Err      error
	Interval time.Duration
}

func (f FixedLocator) Locate(ctx context.Context) (models.LatLng, error) {
	if f.Err != nil {
		return models.LatLng{}, f.Err
	}
	if err := ctx.Err(); err != nil {
		return models.LatLng{}, err
	}
	return f.Point, nil
}

func (f FixedLocator) Watch(ctx context.Context) (<-chan models.LatLng, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	ch := make(chan models.LatLng, 1)
	go func() {
		defer close(ch)
		if f.Interval <= 0 {
			select {
			case ch <- f.Point:
			case <-ctx.Done():
				return
			}
			<-ctx.Done()
			return
		}
		ticker := time.NewTicker(f.Interval)
		defer ticker.Stop()
		for {
			select {
			case ch <- f.Point:
			case <-ctx.Done():
				return
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}
