package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zulandar/droptrack/internal/app"
	"github.com/zulandar/droptrack/internal/geo"
	"github.com/zulandar/droptrack/internal/models"
)

func newGeocodeCmd() *cobra.Command {
	var (
		configPath string
		suggest    bool
	)

	cmd := &cobra.Command{
		Use:   "geocode <address>",
		Short: "Resolve an address to coordinates",
		Long:  "Resolves an address inside the operating area. Unresolved addresses fall back to the nearest known city and are marked approximate.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGeocode(cmd, configPath, strings.Join(args, " "), suggest)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfig, "path to Droptrack config file")
	cmd.Flags().BoolVar(&suggest, "suggest", false, "list up to five candidates instead")
	return cmd
}

func runGeocode(cmd *cobra.Command, configPath, address string, suggest bool) error {
	a, err := openApp(cmd, configPath, app.Opts{})
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	if suggest {
		list := a.Geo.Suggestions(cmd.Context(), address)
		if len(list) == 0 {
			fmt.Fprintln(out, "No suggestions.")
			return nil
		}
		for _, loc := range list {
			fmt.Fprintf(out, "%s\t%s\n", loc.LatLng, loc.Formatted)
		}
		return nil
	}

	loc, err := a.Geo.Geocode(cmd.Context(), address)
	if err != nil {
		return err
	}
	mark := ""
	if loc.Approximate {
		mark = " (approximate)"
	}
	fmt.Fprintf(out, "%s\t%s%s\n", loc.LatLng, loc.Formatted, mark)
	return nil
}

func newReverseCmd() *cobra.Command {
	var (
		configPath string
		structured bool
	)

	cmd := &cobra.Command{
		Use:     "reverse <lat> <lng>",
		Short:   "Resolve coordinates to an address",
		Example: "  dt reverse -- -23.5614 -46.6559\n  dt reverse --structured -- -23.5614 -46.6559",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parsePoint(args[0], args[1])
			if err != nil {
				return err
			}
			return runReverse(cmd, configPath, p, structured)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfig, "path to Droptrack config file")
	cmd.Flags().BoolVar(&structured, "structured", false, "print address fields as JSON")
	return cmd
}

func runReverse(cmd *cobra.Command, configPath string, p models.LatLng, structured bool) error {
	a, err := openApp(cmd, configPath, app.Opts{})
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	if !structured {
		fmt.Fprintln(out, a.Geo.Reverse(cmd.Context(), p.Lat, p.Lng))
		return nil
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(a.Geo.ReverseStructured(cmd.Context(), p.Lat, p.Lng))
}

func newRouteCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:     "route <lat1> <lng1> <lat2> <lng2>",
		Short:   "Show the driving distance and time between two points",
		Long:    "Asks the routing service for a driving route. When it is unreachable the straight-line distance is shown and the duration is unknown.",
		Example: "  dt route -- -23.5614 -46.6559 -23.5505 -46.6333",
		Args:    cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := parsePoint(args[0], args[1])
			if err != nil {
				return err
			}
			to, err := parsePoint(args[2], args[3])
			if err != nil {
				return err
			}
			return runRoute(cmd, configPath, from, to)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfig, "path to Droptrack config file")
	return cmd
}

func runRoute(cmd *cobra.Command, configPath string, from, to models.LatLng) error {
	a, err := openApp(cmd, configPath, app.Opts{})
	if err != nil {
		return err
	}
	defer a.Close()

	r := a.Geo.Route(cmd.Context(), from, to)
	duration := geo.FormatDuration(r.DurationSeconds)
	if !r.DurationKnown() {
		duration = geo.FormatDuration(0)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Distance: %s\n", geo.FormatDistance(r.DistanceMeters))
	fmt.Fprintf(out, "Duration: %s\n", duration)
	fmt.Fprintf(out, "Points:   %d\n", len(r.Points))
	if r.Approximate {
		fmt.Fprintln(out, "(straight line, routing unavailable)")
	}
	return nil
}

func parsePoint(lat, lng string) (models.LatLng, error) {
	la, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return models.LatLng{}, fmt.Errorf("invalid latitude %q", lat)
	}
	ln, err := strconv.ParseFloat(lng, 64)
	if err != nil {
		return models.LatLng{}, fmt.Errorf("invalid longitude %q", lng)
	}
	p := models.LatLng{Lat: la, Lng: ln}
	if !p.Valid() {
		return models.LatLng{}, fmt.Errorf("coordinates out of range: %s", p)
	}
	return p, nil
}
