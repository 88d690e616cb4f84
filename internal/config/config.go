package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"habitcal/internal/battery"
	"habitcal/internal/drag"
	"habitcal/internal/haptics"
	"habitcal/internal/ics"
	"habitcal/internal/model"
)

// SubscriptionConfig is one ICS feed imported as habits.
type SubscriptionConfig struct {
	// ID is stored as the source of every imported habit. Keep it stable.
	ID   string `yaml:"id" json:"id"`
	URL  string `yaml:"url" json:"url"`
	Name string `yaml:"name" json:"name"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the Web UI/API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// DragConfig tunes the drag gesture.
type DragConfig struct {
	GridMinutes     int     `yaml:"grid_minutes" json:"grid_minutes"`
	HoldDelayMS     int     `yaml:"hold_delay_ms" json:"hold_delay_ms"`
	DoubleTapMS     int     `yaml:"double_tap_ms" json:"double_tap_ms"`
	SlopPx          float64 `yaml:"slop_px" json:"slop_px"`
	PixelsPerMinute float64 `yaml:"pixels_per_minute" json:"pixels_per_minute"`
	// Mode is the commit mode a new drag starts in: "single_day" or
	// "forward".
	Mode string `yaml:"mode" json:"mode"`
}

// HapticsConfig selects the vibration driver.
type HapticsConfig struct {
	// Driver is "gpio", "log" or "none".
	Driver   string `yaml:"driver" json:"driver"`
	Pin      string `yaml:"pin" json:"pin"`
	LightMS  int    `yaml:"light_ms" json:"light_ms"`
	StrongMS int    `yaml:"strong_ms" json:"strong_ms"`
}

// BatteryConfig selects the battery gauge.
type BatteryConfig struct {
	// Driver is "i2c" or "none".
	Driver string `yaml:"driver" json:"driver"`
	// Bus is the periph.io I2C bus name; empty selects the default bus.
	Bus  string `yaml:"bus" json:"bus"`
	Addr uint16 `yaml:"addr" json:"addr"`
}

// PreviewConfig controls the headless-browser PNG capture of the day view.
type PreviewConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Width   int    `yaml:"width" json:"width"`
	Height  int    `yaml:"height" json:"height"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the Web UI and API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone that defines a "day" (e.g. "Asia/Seoul").
	Timezone string `yaml:"timezone" json:"timezone"`

	// DataPath is the YAML habit store. The ICS cache lives next to it.
	DataPath string `yaml:"data_path" json:"data_path"`

	// LogLevel is "debug", "info", "warn" or "error".
	LogLevel string `yaml:"log_level" json:"log_level"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *")
	// for feed refresh and preview capture.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	Subscriptions []SubscriptionConfig `yaml:"subscriptions" json:"subscriptions"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	Drag    DragConfig    `yaml:"drag" json:"drag"`
	Haptics HapticsConfig `yaml:"haptics" json:"haptics"`
	Battery BatteryConfig `yaml:"battery" json:"battery"`
	Preview PreviewConfig `yaml:"preview" json:"preview"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values with defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.DataPath == "" {
		c.DataPath = "./var/habits.yaml"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = "*/15 * * * *"
	}
	if c.Subscriptions == nil {
		c.Subscriptions = []SubscriptionConfig{}
	}

	d := drag.DefaultConfig()
	if c.Drag.GridMinutes <= 0 {
		c.Drag.GridMinutes = d.GridMinutes
	}
	if c.Drag.HoldDelayMS <= 0 {
		c.Drag.HoldDelayMS = int(d.HoldDelay / time.Millisecond)
	}
	if c.Drag.DoubleTapMS <= 0 {
		c.Drag.DoubleTapMS = int(d.DoubleTapWindow / time.Millisecond)
	}
	if c.Drag.SlopPx <= 0 {
		c.Drag.SlopPx = d.Slop
	}
	if c.Drag.PixelsPerMinute <= 0 {
		c.Drag.PixelsPerMinute = d.PixelsPerMinute
	}
	// Unknown modes fall back to single_day.
	c.Drag.Mode = drag.ParseMode(c.Drag.Mode).String()

	switch c.Haptics.Driver {
	case "gpio", "log", "none":
	default:
		c.Haptics.Driver = "none"
	}
	if c.Haptics.LightMS <= 0 {
		c.Haptics.LightMS = 15
	}
	if c.Haptics.StrongMS <= 0 {
		c.Haptics.StrongMS = 40
	}

	if c.Battery.Driver != "i2c" {
		c.Battery.Driver = "none"
	}
	if c.Battery.Addr == 0 {
		c.Battery.Addr = 0x57
	}

	if c.Preview.Path == "" {
		c.Preview.Path = "./var/preview.png"
	}
	if c.Preview.Width <= 0 {
		c.Preview.Width = 480
	}
	if c.Preview.Height <= 0 {
		c.Preview.Height = 1440
	}
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// CacheDir is where fetched feeds are cached.
func (c *Config) CacheDir() string {
	return filepath.Join(filepath.Dir(c.DataPath), "ics-cache")
}

// DragSettings converts the drag section into controller tuning.
func (c *Config) DragSettings() drag.Config {
	return drag.Config{
		GridMinutes:     c.Drag.GridMinutes,
		HoldDelay:       time.Duration(c.Drag.HoldDelayMS) * time.Millisecond,
		DoubleTapWindow: time.Duration(c.Drag.DoubleTapMS) * time.Millisecond,
		Slop:            c.Drag.SlopPx,
		PixelsPerMinute: c.Drag.PixelsPerMinute,
		Mode:            drag.ParseMode(c.Drag.Mode),
	}
}

// HapticsSettings converts the haptics section into driver settings.
func (c *Config) HapticsSettings() haptics.Config {
	return haptics.Config{
		Driver: c.Haptics.Driver,
		Pin:    c.Haptics.Pin,
		Light:  time.Duration(c.Haptics.LightMS) * time.Millisecond,
		Strong: time.Duration(c.Haptics.StrongMS) * time.Millisecond,
	}
}

// BatterySettings converts the battery section into reader settings.
func (c *Config) BatterySettings() battery.Config {
	return battery.Config{Driver: c.Battery.Driver, Bus: c.Battery.Bus, Addr: c.Battery.Addr}
}

// Feeds lists the configured subscriptions that have a URL.
func (c *Config) Feeds() []ics.Subscription {
	out := make([]ics.Subscription, 0, len(c.Subscriptions))
	for _, s := range c.Subscriptions {
		if s.URL == "" || s.ID == "" {
			continue
		}
		out = append(out, ics.Subscription{ID: s.ID, URL: s.URL, Name: s.Name})
	}
	return out
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is read and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Return cfg with the error so the caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()
	if _, err := cfg.Location(); err != nil {
		return nil, err
	}
	for _, s := range cfg.Subscriptions {
		if s.ID == model.SourceLocal {
			return nil, fmt.Errorf("config: subscription id %q is reserved", s.ID)
		}
	}

	return &cfg, nil
}

// Save writes cfg atomically via a temp file + rename, with 0600 perms.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".habitcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
