package dashboard

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	defaultSSEInterval = time.Second
	sseHeartbeat       = 15 * time.Second
)

// handleSSE streams status and badge changes. It checks the sources every
// interval and only writes when a snapshot differs from the last one sent.
func handleSSE(src Sources, interval time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		writeSSE(c.Writer, "connected", map[string]string{"type": "connected"})

		var lastStatus StatusView
		var lastBadge BadgeView
		emit := func(first bool) {
			if src.Status != nil {
				if st := statusOf(src.Status); first || st != lastStatus {
					lastStatus = st
					writeSSE(c.Writer, "status", st)
				}
			}
			if src.Badge != nil {
				if b := badgeOf(src.Badge); first || b != lastBadge {
					lastBadge = b
					writeSSE(c.Writer, "badge", b)
				}
			}
			c.Writer.Flush()
		}
		emit(true)

		ctx := c.Request.Context()
		ticker := time.NewTicker(interval)
		heartbeat := time.NewTicker(sseHeartbeat)
		defer ticker.Stop()
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				writeSSE(c.Writer, "heartbeat", map[string]string{
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
				c.Writer.Flush()
			case <-ticker.C:
				emit(false)
			}
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
