package realtime

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is a duplex JSON frame channel. *websocket.Conn satisfies it.
type Conn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

// Dialer opens a Conn.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// GorillaDialer dials with gorilla/websocket.
type GorillaDialer struct {
	Dialer *websocket.Dialer // nil uses a copy of websocket.DefaultDialer
}

// Dial implements Dialer.
func (g GorillaDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	d := g.Dialer
	if d == nil {
		dd := *websocket.DefaultDialer
		dd.HandshakeTimeout = 10 * time.Second
		d = &dd
	}
	ws, resp, err := d.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("realtime: dial %s: status %d: %w", url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("realtime: dial %s: %w", url, err)
	}
	return ws, nil
}
