// Package config loads the panel controller configuration from TOML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that decodes from strings like "5s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the full controller configuration.
type Config struct {
	Server     ServerConfig     `toml:"server"`
	Panel      PanelConfig      `toml:"panel"`
	Status     StatusConfig     `toml:"status"`
	Supervisor SupervisorConfig `toml:"supervisor"`
	Music      MusicConfig      `toml:"music"`
	Weather    WeatherConfig    `toml:"weather"`
	Host       HostConfig       `toml:"host"`
	Log        LogConfig        `toml:"log"`
	Telemetry  TelemetryConfig  `toml:"telemetry"`

	// Warnings collects non-fatal problems found while loading.
	Warnings []string `toml:"-"`
}

// ServerConfig configures the HTTP control plane.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// PanelConfig describes the display.
type PanelConfig struct {
	Width  int    `toml:"width"`
	Height int    `toml:"height"`
	Driver string `toml:"driver"` // "png" or "memory"
	Output string `toml:"output"` // PNG driver target file

	// Optional TrueType font overrides. Empty means the built-in Go fonts.
	TitleFont string `toml:"title_font"`
	BodyFont  string `toml:"body_font"`
}

// StatusConfig selects the active-task record backend.
type StatusConfig struct {
	Backend string `toml:"backend"` // "file", "nats" or "memory"
	Dir     string `toml:"dir"`
	Key     string `toml:"key"`
	NATSURL string `toml:"nats_url"`
	Bucket  string `toml:"bucket"`
}

// SupervisorConfig configures task launching.
type SupervisorConfig struct {
	Launcher    string   `toml:"launcher"` // "inprocess" or "process"
	StopTimeout Duration `toml:"stop_timeout"`
	Executable  string   `toml:"executable"` // process launcher binary; default: this binary
}

// MusicConfig configures the now-playing monitor.
type MusicConfig struct {
	APIURL       string   `toml:"api_url"`
	APIKey       string   `toml:"api_key"`
	User         string   `toml:"user"`
	PollInterval Duration `toml:"poll_interval"`
	SkipBuffer   Duration `toml:"skip_buffer"`
	FetchTimeout Duration `toml:"fetch_timeout"`
	ArtPolicy    string   `toml:"art_policy"` // "threshold" or "dithered"
	ArtCacheSize int      `toml:"art_cache_size"`
}

// WeatherConfig configures the forecast panel.
type WeatherConfig struct {
	APIURL    string  `toml:"api_url"`
	Latitude  float64 `toml:"latitude"`
	Longitude float64 `toml:"longitude"`
	UserAgent string  `toml:"user_agent"`
	IconDir   string  `toml:"icon_dir"`
	Attempts  uint    `toml:"attempts"`
}

// HostConfig configures the host actions and sampling.
type HostConfig struct {
	ServiceName string `toml:"service_name"`
	AllowPower  bool   `toml:"allow_power"`
	DiskPath    string `toml:"disk_path"` // mount reported on the dashboard
}

// LogConfig configures logging.
type LogConfig struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled  bool    `toml:"enabled"`
	Endpoint string  `toml:"endpoint"`
	Protocol string  `toml:"protocol"` // "grpc" or "http"
	Insecure bool    `toml:"insecure"`
	Sample   float64 `toml:"sample"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":5000"},
		Panel: PanelConfig{
			Width:  250,
			Height: 122,
			Driver: "png",
			Output: "/var/lib/inkpanel/frame.png",
		},
		Status: StatusConfig{
			Backend: "file",
			Dir:     "/var/lib/inkpanel",
			Key:     "state.txt",
			NATSURL: "nats://127.0.0.1:4222",
			Bucket:  "inkpanel",
		},
		Supervisor: SupervisorConfig{
			Launcher:    "inprocess",
			StopTimeout: Duration{5 * time.Second},
		},
		Music: MusicConfig{
			APIURL:       "http://ws.audioscrobbler.com/2.0/",
			PollInterval: Duration{5 * time.Second},
			SkipBuffer:   Duration{20 * time.Second},
			FetchTimeout: Duration{5 * time.Second},
			ArtPolicy:    "threshold",
			ArtCacheSize: 32,
		},
		Weather: WeatherConfig{
			APIURL:    "https://api.weather.gov",
			UserAgent: "inkpanel (admin@localhost)",
			IconDir:   "/usr/share/inkpanel/icons",
			Attempts:  3,
		},
		Host: HostConfig{
			ServiceName: "inky-dashboard.service",
			AllowPower:  true,
			DiskPath:    "/",
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
		Telemetry: TelemetryConfig{
			Protocol: "grpc",
			Sample:   1.0,
		},
	}
}

// StandardPaths returns the config file locations in order of priority.
func StandardPaths() []string {
	paths := []string{"inkpanel.toml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "inkpanel", "inkpanel.toml"))
	}
	paths = append(paths, "/etc/inkpanel/inkpanel.toml")
	return paths
}

// Load reads path if given, else the first standard location that exists.
// With no file at all the defaults are used. Environment overrides are
// applied last. The returned string is the file that was read, if any.
func Load(path string) (*Config, string, error) {
	if path != "" {
		cfg, err := LoadFile(path)
		return cfg, path, err
	}
	for _, p := range StandardPaths() {
		if _, err := os.Stat(p); err == nil {
			cfg, err := LoadFile(p)
			return cfg, p, err
		}
	}
	cfg := Default()
	cfg.applyEnv()
	return cfg, "", cfg.Validate()
}

// LoadFile decodes a TOML file over the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	for _, key := range md.Undecoded() {
		cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("unknown config key %q", key.String()))
	}

	// The API key may live in the file; warn when others can read it.
	if cfg.Music.APIKey != "" && runtime.GOOS != "windows" {
		if info, err := os.Stat(path); err == nil && info.Mode().Perm()&0o077 != 0 {
			cfg.Warnings = append(cfg.Warnings,
				fmt.Sprintf("%s holds an API key and has mode %04o", path, info.Mode().Perm()))
		}
	}

	cfg.applyEnv()
	return cfg, cfg.Validate()
}

// applyEnv overlays environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("LASTFM_API_KEY"); v != "" {
		c.Music.APIKey = v
	}
	if v := os.Getenv("LASTFM_USER"); v != "" {
		c.Music.User = v
	}
	if v := os.Getenv("INKPANEL_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("INKPANEL_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("INKPANEL_STATUS_DIR"); v != "" {
		c.Status.Dir = v
	}
}

// Validate checks values that would otherwise fail deep inside a task.
func (c *Config) Validate() error {
	var problems []string
	if c.Panel.Width <= 0 || c.Panel.Height <= 0 {
		problems = append(problems, "panel width and height must be positive")
	}
	switch c.Panel.Driver {
	case "png", "memory":
	default:
		problems = append(problems, fmt.Sprintf("unknown panel driver %q", c.Panel.Driver))
	}
	switch c.Status.Backend {
	case "file", "nats", "memory":
	default:
		problems = append(problems, fmt.Sprintf("unknown status backend %q", c.Status.Backend))
	}
	if c.Status.Key == "" {
		problems = append(problems, "status key must not be empty")
	}
	switch c.Supervisor.Launcher {
	case "inprocess", "process":
	default:
		problems = append(problems, fmt.Sprintf("unknown launcher %q", c.Supervisor.Launcher))
	}
	// Child processes cannot see an in-memory record.
	if c.Supervisor.Launcher == "process" && c.Status.Backend == "memory" {
		problems = append(problems, "the process launcher needs a file or nats status backend")
	}
	if c.Music.PollInterval.Duration <= 0 {
		problems = append(problems, "music.poll_interval must be positive")
	}
	if c.Music.SkipBuffer.Duration < 0 {
		problems = append(problems, "music.skip_buffer must not be negative")
	}
	switch c.Music.ArtPolicy {
	case "threshold", "dithered":
	default:
		problems = append(problems, fmt.Sprintf("unknown art policy %q", c.Music.ArtPolicy))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
