package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/zulandar/droptrack/internal/app"
	"github.com/zulandar/droptrack/internal/dashboard"
	"github.com/zulandar/droptrack/internal/realtime"
)

func newWatchCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stay connected and report notifications",
		Long:  "Keeps the realtime connection open, prints notices and the unread notification badge, and serves the local status dashboard.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfig, "path to Droptrack config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "dashboard port (defaults to dashboard.port from config)")
	return cmd
}

func runWatch(cmd *cobra.Command, configPath string, port int) error {
	out := cmd.OutOrStdout()
	a, err := openApp(cmd, configPath, app.Opts{
		OnBadge: func(count int, label string) {
			if label == "" {
				label = "none"
			}
			fmt.Fprintf(out, "Unread notifications: %s\n", label)
		},
	})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	remove := a.Realtime.OnStateChange(func(s realtime.State) {
		fmt.Fprintf(out, "Connection: %s\n", s)
	})
	defer remove()

	if err := a.Start(ctx); err != nil {
		return err
	}
	if port == 0 {
		port = a.Config.Dashboard.Port
	}
	return dashboard.Start(ctx, dashboard.StartOpts{
		Sources: dashboard.Sources{
			Status: a.Realtime,
			Badge:  a.Badge,
			Role:   a.Credentials.Role(),
		},
		Port: port,
		Out:  out,
	})
}

// serveDashboard runs the dashboard in the background of another command.
func serveDashboard(ctx context.Context, cmd *cobra.Command, port int, src dashboard.Sources) {
	err := dashboard.Start(ctx, dashboard.StartOpts{Sources: src, Port: port, Out: cmd.ErrOrStderr()})
	if err != nil {
		log.Warn().Err(err).Int("port", port).Msg("dashboard stopped")
	}
}
