// Package dashboard serves the local JSON view of the realtime client:
// connection status, the open chat, the live map and the notification
// badge, plus an SSE stream of changes.
package dashboard

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// StartOpts holds configuration for the dashboard server.
type StartOpts struct {
	Sources Sources
	Port    int
	Out     io.Writer
	Logger  *zerolog.Logger
}

// Start launches the dashboard HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Sources.Status == nil {
		return fmt.Errorf("dashboard: status source is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8090
	}
	logger := opts.Logger
	if logger == nil {
		logger = &log.Logger
	}

	gin.SetMode(gin.ReleaseMode)
	router := NewRouter(opts.Sources)

	addr := fmt.Sprintf(":%d", opts.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Dashboard running at http://localhost:%d\n", opts.Port)
	}
	logger.Info().Int("port", opts.Port).Msg("dashboard: listening")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

// NewRouter builds the Gin engine with every dashboard route.
func NewRouter(src Sources) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, src)
	return router
}
