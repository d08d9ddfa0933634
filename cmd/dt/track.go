package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/droptrack/internal/app"
	"github.com/zulandar/droptrack/internal/dashboard"
	"github.com/zulandar/droptrack/internal/models"
	"github.com/zulandar/droptrack/internal/tracking"
)

func newTrackCmd() *cobra.Command {
	var (
		configPath string
		at         string
		dest       string
		every      time.Duration
		port       int
	)

	cmd := &cobra.Command{
		Use:   "track <order>",
		Short: "Follow the live position of an order",
		Long:  "Follows the counterpart of an order on the map and prints the distance and time to the destination whenever it changes. With --at, your own position is shared every --every.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := trackOpts{orderID: args[0], every: every, port: port}
			if at != "" {
				p, err := parsePair(at)
				if err != nil {
					return fmt.Errorf("--at: %w", err)
				}
				opts.self = &p
			}
			if dest != "" {
				p, err := parsePair(dest)
				if err != nil {
					return fmt.Errorf("--dest: %w", err)
				}
				opts.dest = &p
			}
			return runTrack(cmd, configPath, opts)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfig, "path to Droptrack config file")
	cmd.Flags().StringVar(&at, "at", "", "your position as lat,lng")
	cmd.Flags().StringVar(&dest, "dest", "", "destination as lat,lng")
	cmd.Flags().DurationVar(&every, "every", 10*time.Second, "how often to share your position")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "also serve the dashboard on this port")
	return cmd
}

type trackOpts struct {
	orderID string
	self    *models.LatLng
	dest    *models.LatLng
	every   time.Duration
	port    int
}

func runTrack(cmd *cobra.Command, configPath string, opts trackOpts) error {
	a, err := openApp(cmd, configPath, app.Opts{})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	if err := a.Start(ctx); err != nil {
		return err
	}

	var locator tracking.Locator
	if opts.self != nil {
		locator = tracking.FixedLocator{Point: *opts.self, Interval: opts.every}
	}

	widget := tracking.NewStateWidget()
	p := &etaPrinter{out: cmd.OutOrStdout()}
	s, err := a.NewTracking(widget, locator, p.update)
	if err != nil {
		return err
	}
	defer s.Close()

	s.Init()
	self, _ := s.SelfLocation(ctx)
	s.SetMarker(tracking.MarkerSelf, self, "You are here")
	if opts.dest != nil {
		s.SetMarker(tracking.MarkerDestination, *opts.dest, "Destination")
	}
	s.FitAllMarkers()
	s.Attach(opts.orderID)
	if locator != nil {
		if err := s.StartWatch(ctx); err != nil {
			return err
		}
	}

	if opts.port > 0 {
		go serveDashboard(ctx, cmd, opts.port, dashboard.Sources{
			Status: a.Realtime,
			Map:    s,
			Widget: widget,
			Badge:  a.Badge,
			Role:   a.Credentials.Role(),
		})
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Tracking order %s, press Ctrl+C to stop.\n", opts.orderID)
	<-ctx.Done()
	return nil
}

// etaPrinter prints the courier position and ETA when they change.
type etaPrinter struct {
	out io.Writer

	mu   sync.Mutex
	last string
}

func (p *etaPrinter) update(v tracking.View) {
	pos, ok := v.Markers[tracking.MarkerCounterpart]
	if !ok {
		return
	}
	line := "courier at " + pos.String()
	if v.ETA != nil {
		line += fmt.Sprintf(", %s, %s", v.ETA.Distance, v.ETA.Duration)
		if v.ETA.Approximate {
			line += " (approximate)"
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if line == p.last {
		return
	}
	p.last = line
	fmt.Fprintln(p.out, line)
}

// parsePair parses "lat,lng".
func parsePair(s string) (models.LatLng, error) {
	lat, lng, ok := strings.Cut(s, ",")
	if !ok {
		return models.LatLng{}, fmt.Errorf("want lat,lng, got %q", s)
	}
	return parsePoint(strings.TrimSpace(lat), strings.TrimSpace(lng))
}
