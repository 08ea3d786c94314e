package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"fsim_map/overlay"
)

// DefaultConfigPath is read when FSIM_CONFIG is not set.
const DefaultConfigPath = "fsim_map.yaml"

// Config is the complete service configuration. It is loaded once at start-up
// from the YAML file and then patched from FSIM_* environment variables.
type Config struct {
	HTTPAddr string `yaml:"http_addr"`

	// Store selects the position store backend: memory or duckdb.
	Store string `yaml:"store"`

	// PositionURL is polled by the overlay. Empty means this service's own
	// /api/location.
	PositionURL  string  `yaml:"position_url"`
	UpdateRateHz float64 `yaml:"update_rate_hz"`

	Log      LogConfig          `yaml:"log"`
	Snapshot SnapshotConfig     `yaml:"snapshot"`
	Map      MapConfig          `yaml:"map"`
	Colors   overlay.ColorModel `yaml:"colors"`
	Tiles    TileConfig         `yaml:"tiles"`
}

// LogConfig controls the slog output.
type LogConfig struct {
	Level string `yaml:"level"`
	// Dir enables the rotating log file when set.
	Dir string `yaml:"dir"`
}

// SnapshotConfig controls the Parquet snapshot of the latest position.
// An empty Path disables snapshots.
type SnapshotConfig struct {
	Path     string        `yaml:"path"`
	Interval time.Duration `yaml:"interval"`
}

// MapConfig holds the initial map view and the aircraft overlay settings.
type MapConfig struct {
	Center       overlay.LonLat `yaml:"center"`
	Zoom         float64        `yaml:"zoom"`
	ShowIcon     bool           `yaml:"show_icon"`
	ShowRings    bool           `yaml:"show_rings"`
	RingRadiiNM  []float64      `yaml:"ring_radii_nm"`
	RingPoints   int            `yaml:"ring_points"`
	RingColor    string         `yaml:"ring_color"`
	OutlineColor string         `yaml:"outline_color"`
	StaleAfter   time.Duration  `yaml:"stale_after"`
}

// TileConfig configures the tile layer catalog and the tile proxy cache.
type TileConfig struct {
	// Service is the base URL of the local PNG tile service.
	Service   string        `yaml:"service"`
	BingKey   string        `yaml:"bing_key"`
	CacheSize int           `yaml:"cache_size"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

func defaultConfig() Config {
	oc := overlay.DefaultControllerConfig()
	return Config{
		HTTPAddr:     ":8080",
		Store:        "memory",
		UpdateRateHz: 1,
		Log:          LogConfig{Level: "info"},
		Snapshot:     SnapshotConfig{Interval: time.Minute},
		Map: MapConfig{
			Center:       oc.Center,
			Zoom:         oc.Zoom,
			ShowIcon:     true,
			ShowRings:    true,
			RingRadiiNM:  oc.RingRadiiNM,
			RingPoints:   oc.RingPoints,
			RingColor:    oc.RingColor,
			OutlineColor: oc.OutlineColor,
			StaleAfter:   oc.StaleAfter,
		},
		Colors: oc.Colors,
		Tiles: TileConfig{
			Service:   "http://127.0.0.1:8081/",
			CacheSize: 512,
			CacheTTL:  10 * time.Minute,
		},
	}
}

// loadConfig reads the YAML file at path over the defaults. A missing file is
// not an error.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// applyEnv overrides cfg from FSIM_* variables. Unparseable values are logged
// and the configured value is kept.
func applyEnv(cfg *Config, logger *slog.Logger) {
	if v := os.Getenv("FSIM_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("FSIM_STORE"); v != "" {
		cfg.Store = strings.ToLower(v)
	}
	if v := os.Getenv("FSIM_POSITION_URL"); v != "" {
		cfg.PositionURL = v
	}
	if v := os.Getenv("FSIM_TILE_SERVICE"); v != "" {
		cfg.Tiles.Service = v
	}
	if v := os.Getenv("FSIM_BING_KEY"); v != "" {
		cfg.Tiles.BingKey = v
	}
	if v := os.Getenv("FSIM_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("FSIM_LOG_DIR"); v != "" {
		cfg.Log.Dir = v
	}
	if v := os.Getenv("FSIM_SNAPSHOT_PATH"); v != "" {
		cfg.Snapshot.Path = v
	}

	if v := os.Getenv("FSIM_UPDATE_RATE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			logger.Warn("invalid FSIM_UPDATE_RATE value, using configured rate", "value", v, "rate", cfg.UpdateRateHz)
		} else {
			cfg.UpdateRateHz = f
		}
	}

	if v := os.Getenv("FSIM_SNAPSHOT_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			logger.Warn("invalid FSIM_SNAPSHOT_INTERVAL value, using configured interval", "value", v, "interval", cfg.Snapshot.Interval)
		} else {
			cfg.Snapshot.Interval = d
		}
	}
}

// validate rejects configurations the service cannot start with.
func (c Config) validate() error {
	if _, _, err := net.SplitHostPort(c.HTTPAddr); err != nil {
		return fmt.Errorf("http_addr %q: %w", c.HTTPAddr, err)
	}
	switch c.Store {
	case "memory", "duckdb":
	default:
		return fmt.Errorf("store %q: want memory or duckdb", c.Store)
	}
	if c.UpdateRateHz <= 0 {
		return fmt.Errorf("update_rate_hz must be positive, got %v", c.UpdateRateHz)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	if err := c.Colors.Validate(); err != nil {
		return fmt.Errorf("colors: %w", err)
	}
	if !c.Map.Center.Valid() {
		return fmt.Errorf("map center %+v out of range", c.Map.Center)
	}
	if math.IsNaN(c.Map.Zoom) || c.Map.Zoom < overlay.MinZoom || c.Map.Zoom > overlay.MaxZoom {
		return fmt.Errorf("map zoom %v out of range [%d, %d]", c.Map.Zoom, overlay.MinZoom, overlay.MaxZoom)
	}
	for _, r := range c.Map.RingRadiiNM {
		if !(r > 0) || math.IsInf(r, 0) {
			return fmt.Errorf("ring radius %v must be positive", r)
		}
	}
	if c.Snapshot.Path != "" && c.Snapshot.Interval <= 0 {
		return fmt.Errorf("snapshot interval must be positive, got %v", c.Snapshot.Interval)
	}
	if c.Tiles.CacheSize < 0 {
		return fmt.Errorf("tile cache size must not be negative, got %d", c.Tiles.CacheSize)
	}
	return nil
}

// positionURL returns the URL the overlay poller fetches.
func (c Config) positionURL() string {
	if c.PositionURL != "" {
		return c.PositionURL
	}
	host, port, err := net.SplitHostPort(c.HTTPAddr)
	if err != nil {
		return "http://127.0.0.1:8080/api/location"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + "/api/location"
}

// overlayConfig maps the file settings onto the overlay controller.
func (c Config) overlayConfig() overlay.ControllerConfig {
	oc := overlay.DefaultControllerConfig()
	oc.Colors = c.Colors
	oc.Center = c.Map.Center
	oc.Zoom = c.Map.Zoom
	oc.RingRadiiNM = c.Map.RingRadiiNM
	if !c.Map.ShowRings {
		oc.RingRadiiNM = nil
	}
	oc.RingPoints = c.Map.RingPoints
	oc.RingColor = c.Map.RingColor
	oc.OutlineColor = c.Map.OutlineColor
	oc.StaleAfter = c.Map.StaleAfter
	return oc
}
