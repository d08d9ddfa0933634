// Package config provides YAML-based configuration loading for droptrack.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	mysqldrv "github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/zulandar/droptrack/internal/models"
	"gopkg.in/yaml.v3"
)

// Config is the top-level droptrack configuration, loaded from droptrack.yaml.
type Config struct {
	APIURL    string          `yaml:"api_url"`
	SocketURL string          `yaml:"socket_url"`
	Token     string          `yaml:"token"`
	Retry     RetryConfig     `yaml:"retry"`
	Realtime  RealtimeConfig  `yaml:"realtime"`
	Chat      ChatConfig      `yaml:"chat"`
	Geo       GeoConfig       `yaml:"geo"`
	Tracking  TrackingConfig  `yaml:"tracking"`
	Store     StoreConfig     `yaml:"store"`
	Notify    NotifyConfig    `yaml:"notify"`
	Dashboard DashboardConfig `yaml:"dashboard"`
}

// RetryConfig controls the authenticated fetch backoff. The cold-start
// profile is used by call sites that expect the backend to be waking up.
type RetryConfig struct {
	MaxRetries         int           `yaml:"max_retries"`
	BaseDelay          time.Duration `yaml:"base_delay"`
	MaxDelay           time.Duration `yaml:"max_delay"`
	ColdStartRetries   int           `yaml:"cold_start_retries"`
	ColdStartBaseDelay time.Duration `yaml:"cold_start_base_delay"`
	ColdStartMaxDelay  time.Duration `yaml:"cold_start_max_delay"`
}

// RealtimeConfig controls the websocket reconnect policy.
type RealtimeConfig struct {
	ReconnectDelay     time.Duration `yaml:"reconnect_delay"`
	ReconnectDelayMax  time.Duration `yaml:"reconnect_delay_max"`
	ReconnectAttempts  int           `yaml:"reconnect_attempts"`
	MaxReconnectNotice int           `yaml:"max_reconnect_notice"`
}

// ChatConfig holds chat session timings.
type ChatConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval"`
	TypingDebounce  time.Duration `yaml:"typing_debounce"`
	TypingIndicator time.Duration `yaml:"typing_indicator"`
}

// GeoConfig points at the geocoding and routing services.
type GeoConfig struct {
	GeocodeURL  string        `yaml:"geocode_url"`
	APIKey      string        `yaml:"api_key"`
	CountryCode string        `yaml:"country_code"`
	Language    string        `yaml:"language"`
	Bounds      models.Bounds `yaml:"bounds"`
	RouteURL    string        `yaml:"route_url"`
	Retries     int           `yaml:"retries"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	Timeout     time.Duration `yaml:"timeout"`
}

// TrackingConfig holds live map defaults.
type TrackingConfig struct {
	DefaultCenter      models.LatLng `yaml:"default_center"`
	Zoom               int           `yaml:"zoom"`
	GeolocationTimeout time.Duration `yaml:"geolocation_timeout"`
	Animate            time.Duration `yaml:"animate"`
	ResizeDelay        time.Duration `yaml:"resize_delay"`
	FitPadding         int           `yaml:"fit_padding"`
}

// StoreConfig selects the local key-value backend.
type StoreConfig struct {
	Driver string `yaml:"driver"` // "sqlite" (default) or "mysql"
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

// NotifyConfig configures where passive notifications go.
type NotifyConfig struct {
	Bell                bool   `yaml:"bell"`
	SlackWebhook        string `yaml:"slack_webhook"`
	DiscordWebhookID    string `yaml:"discord_webhook_id"`
	DiscordWebhookToken string `yaml:"discord_webhook_token"`
	BadgeCron           string `yaml:"badge_cron"`
}

// DashboardConfig configures the local status server.
type DashboardConfig struct {
	Port int `yaml:"port"`
}

// Load reads a YAML config file from path, applies any .env file and
// environment overrides, and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	// A missing .env is the normal case.
	_ = godotenv.Load()
	return parse(data, os.Getenv)
}

// Parse unmarshals YAML bytes into a validated Config without consulting
// the environment.
func Parse(data []byte) (*Config, error) {
	return parse(data, func(string) string { return "" })
}

func parse(data []byte, getenv func(string) string) (*Config, error) {
	cfg := Config{Notify: NotifyConfig{Bell: true}}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.ApplyEnv(getenv)
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv overrides file values with DT_* environment variables.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("DT_API_URL"); v != "" {
		c.APIURL = v
	}
	if v := getenv("DT_SOCKET_URL"); v != "" {
		c.SocketURL = v
	}
	if v := getenv("DT_TOKEN"); v != "" {
		c.Token = v
	}
	if v := getenv("DT_OPENCAGE_KEY"); v != "" {
		c.Geo.APIKey = v
	}
	if v := getenv("DT_SLACK_WEBHOOK"); v != "" {
		c.Notify.SlackWebhook = v
	}
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	c.APIURL = strings.TrimRight(c.APIURL, "/")
	if c.SocketURL == "" && c.APIURL != "" {
		c.SocketURL = deriveSocketURL(c.APIURL)
	}

	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = 3
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = time.Second
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = 10 * time.Second
	}
	if c.Retry.ColdStartRetries == 0 {
		c.Retry.ColdStartRetries = 5
	}
	if c.Retry.ColdStartBaseDelay == 0 {
		c.Retry.ColdStartBaseDelay = 2 * time.Second
	}
	if c.Retry.ColdStartMaxDelay == 0 {
		c.Retry.ColdStartMaxDelay = 15 * time.Second
	}

	if c.Realtime.ReconnectDelay == 0 {
		c.Realtime.ReconnectDelay = time.Second
	}
	if c.Realtime.ReconnectDelayMax == 0 {
		c.Realtime.ReconnectDelayMax = 5 * time.Second
	}
	if c.Realtime.ReconnectAttempts == 0 {
		c.Realtime.ReconnectAttempts = 5
	}
	if c.Realtime.MaxReconnectNotice == 0 {
		c.Realtime.MaxReconnectNotice = 5
	}

	if c.Chat.PollInterval == 0 {
		c.Chat.PollInterval = 3 * time.Second
	}
	if c.Chat.TypingDebounce == 0 {
		c.Chat.TypingDebounce = time.Second
	}
	if c.Chat.TypingIndicator == 0 {
		c.Chat.TypingIndicator = 3 * time.Second
	}

	if c.Geo.GeocodeURL == "" {
		c.Geo.GeocodeURL = "https://api.opencagedata.com/geocode/v1/json"
	}
	if c.Geo.CountryCode == "" {
		c.Geo.CountryCode = "br"
	}
	if c.Geo.Language == "" {
		c.Geo.Language = "pt"
	}
	if c.Geo.Bounds.Empty() {
		c.Geo.Bounds = models.Bounds{MinLat: -33.75, MaxLat: 5.27, MinLng: -73.99, MaxLng: -34.79}
	}
	if c.Geo.RouteURL == "" {
		c.Geo.RouteURL = "https://router.project-osrm.org"
	}
	if c.Geo.Retries == 0 {
		c.Geo.Retries = 2
	}
	if c.Geo.RetryDelay == 0 {
		c.Geo.RetryDelay = time.Second
	}
	if c.Geo.Timeout == 0 {
		c.Geo.Timeout = 10 * time.Second
	}

	if c.Tracking.DefaultCenter == (models.LatLng{}) {
		c.Tracking.DefaultCenter = models.LatLng{Lat: -23.5505, Lng: -46.6333}
	}
	if c.Tracking.Zoom == 0 {
		c.Tracking.Zoom = 13
	}
	if c.Tracking.GeolocationTimeout == 0 {
		c.Tracking.GeolocationTimeout = 5 * time.Second
	}
	if c.Tracking.Animate == 0 {
		c.Tracking.Animate = time.Second
	}
	if c.Tracking.ResizeDelay == 0 {
		c.Tracking.ResizeDelay = 300 * time.Millisecond
	}
	if c.Tracking.FitPadding == 0 {
		c.Tracking.FitPadding = 50
	}

	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Store.Driver == "sqlite" && c.Store.Path == "" {
		c.Store.Path = "droptrack.db"
	}

	if c.Notify.BadgeCron == "" {
		c.Notify.BadgeCron = "*/1 * * * *"
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8090
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.APIURL == "" {
		errs = append(errs, "api_url is required")
	} else if u, err := url.Parse(c.APIURL); err != nil || u.Host == "" {
		errs = append(errs, fmt.Sprintf("api_url %q is not an absolute URL", c.APIURL))
	}
	if c.SocketURL != "" {
		if u, err := url.Parse(c.SocketURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			errs = append(errs, fmt.Sprintf("socket_url %q must use ws or wss", c.SocketURL))
		}
	}
	if c.Retry.MaxRetries < 0 || c.Retry.MaxRetries > 5 {
		errs = append(errs, "retry.max_retries must be between 0 and 5")
	}
	if c.Retry.ColdStartRetries < 0 || c.Retry.ColdStartRetries > 5 {
		errs = append(errs, "retry.cold_start_retries must be between 0 and 5")
	}
	if c.Realtime.ReconnectAttempts < 1 {
		errs = append(errs, "realtime.reconnect_attempts must be positive")
	}
	if c.Geo.Bounds.MinLat >= c.Geo.Bounds.MaxLat || c.Geo.Bounds.MinLng >= c.Geo.Bounds.MaxLng {
		errs = append(errs, "geo.bounds must have min < max")
	}
	if !c.Tracking.DefaultCenter.Valid() {
		errs = append(errs, "tracking.default_center is out of range")
	}
	switch c.Store.Driver {
	case "sqlite":
	case "mysql":
		if c.Store.DSN == "" {
			errs = append(errs, "store.dsn is required for the mysql driver")
		} else if _, err := mysqldrv.ParseDSN(c.Store.DSN); err != nil {
			errs = append(errs, fmt.Sprintf("store.dsn: %v", err))
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported (sqlite, mysql)", c.Store.Driver))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// deriveSocketURL turns https://host/api into wss://host/ws.
func deriveSocketURL(apiURL string) string {
	u, err := url.Parse(apiURL)
	if err != nil || u.Host == "" {
		return ""
	}
	scheme := "ws"
	if u.Scheme == "https" {
		scheme = "wss"
	}
	return scheme + "://" + u.Host + "/ws"
}
