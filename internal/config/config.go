package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"lcdpanel/internal/convert"
	appLog "lcdpanel/internal/log"
	"lcdpanel/internal/st7735"
)

// SPIConfig selects the SPI port.
type SPIConfig struct {
	// Bus is the periph.io port name, e.g. "SPI0.0" or "/dev/spidev0.0".
	// Empty picks the first port found.
	Bus string `yaml:"bus" json:"bus"`
	// SpeedHz is the clock frequency.
	SpeedHz int64 `yaml:"speed_hz" json:"speed_hz"`
	// MaxTxSize caps one transfer in bytes; 0 uses the port limit.
	MaxTxSize int `yaml:"max_tx_size" json:"max_tx_size"`
}

// PinsConfig names the GPIO lines, as understood by gpioreg.ByName.
type PinsConfig struct {
	DC string `yaml:"dc" json:"dc"`
	// Reset may be empty when the line is not wired.
	Reset string `yaml:"reset" json:"reset"`
}

// PanelConfig describes the module and how it is mounted.
type PanelConfig struct {
	Width      int    `yaml:"width" json:"width"`
	Height     int    `yaml:"height" json:"height"`
	MemWidth   int    `yaml:"mem_width" json:"mem_width"`
	MemHeight  int    `yaml:"mem_height" json:"mem_height"`
	LeftOffset int    `yaml:"left_offset" json:"left_offset"`
	TopOffset  int    `yaml:"top_offset" json:"top_offset"`
	Rotation   int    `yaml:"rotation" json:"rotation"`
	ColorOrder string `yaml:"color_order" json:"color_order"`
	WriteOnly  bool   `yaml:"write_only" json:"write_only"`
	// Layout is "rgb565" or "rbg565".
	Layout string `yaml:"layout" json:"layout"`
}

// SourceConfig selects where frames come from on refresh.
type SourceConfig struct {
	// Kind is "file", "url" or "none".
	Kind string `yaml:"kind" json:"kind"`
	// Path is an image file or a raw little-endian RGB565 frame.
	Path string `yaml:"path" json:"path"`
	// URL is captured with a headless browser.
	URL        string `yaml:"url" json:"url"`
	TimeoutSec int    `yaml:"timeout_sec" json:"timeout_sec"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	SPI    SPIConfig    `yaml:"spi" json:"spi"`
	Pins   PinsConfig   `yaml:"pins" json:"pins"`
	Panel  PanelConfig  `yaml:"panel" json:"panel"`
	Source SourceConfig `yaml:"source" json:"source"`

	// RefreshCron is a standard 5-field cron schedule for pulling a new
	// frame from Source. Empty disables periodic refresh.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// Listen is the HTTP listen address. Empty disables the HTTP API.
	Listen string `yaml:"listen" json:"listen"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	LogLevel string `yaml:"log_level" json:"log_level"`
}

const (
	defaultSpeedHz    = 12_000_000
	defaultDCPin      = "GPIO24"
	defaultResetPin   = "GPIO25"
	defaultListen     = "127.0.0.1:8080"
	defaultRefresh    = "*/5 * * * *"
	defaultTimeoutSec = 30
)

// DefaultConfig returns an in-memory default configuration for the 128x128
// module.
func DefaultConfig() *Config {
	g := st7735.DefaultGeometry
	return &Config{
		SPI: SPIConfig{SpeedHz: defaultSpeedHz},
		Pins: PinsConfig{
			DC:    defaultDCPin,
			Reset: defaultResetPin,
		},
		Panel: PanelConfig{
			Width:      g.Width,
			Height:     g.Height,
			MemWidth:   g.MemWidth,
			MemHeight:  g.MemHeight,
			LeftOffset: g.LeftOffset,
			TopOffset:  g.TopOffset,
			ColorOrder: "bgr",
			Layout:     "rgb565",
		},
		Source: SourceConfig{
			Kind:       "none",
			TimeoutSec: defaultTimeoutSec,
		},
		RefreshCron: defaultRefresh,
		Listen:      defaultListen,
		LogLevel:    "info",
	}
}

// Normalize fills in missing/zero values with defaults so that partially
// filled configs still behave correctly.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.SPI.SpeedHz <= 0 {
		c.SPI.SpeedHz = d.SPI.SpeedHz
	}
	if c.Pins.DC == "" {
		c.Pins.DC = d.Pins.DC
	}
	// A panel section without any geometry gets the default module.
	if c.Panel.Width == 0 && c.Panel.Height == 0 {
		c.Panel.Width, c.Panel.Height = d.Panel.Width, d.Panel.Height
		c.Panel.MemWidth, c.Panel.MemHeight = d.Panel.MemWidth, d.Panel.MemHeight
		c.Panel.LeftOffset, c.Panel.TopOffset = d.Panel.LeftOffset, d.Panel.TopOffset
	}
	if c.Panel.MemWidth == 0 {
		c.Panel.MemWidth = c.Panel.Width + c.Panel.LeftOffset
	}
	if c.Panel.MemHeight == 0 {
		c.Panel.MemHeight = c.Panel.Height + c.Panel.TopOffset
	}
	if c.Panel.ColorOrder == "" {
		c.Panel.ColorOrder = d.Panel.ColorOrder
	}
	if c.Panel.Layout == "" {
		c.Panel.Layout = d.Panel.Layout
	}
	if c.Source.Kind == "" {
		switch {
		case c.Source.Path != "":
			c.Source.Kind = "file"
		case c.Source.URL != "":
			c.Source.Kind = "url"
		default:
			c.Source.Kind = "none"
		}
	}
	if c.Source.TimeoutSec <= 0 {
		c.Source.TimeoutSec = d.Source.TimeoutSec
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
}

// Geometry returns the panel geometry.
func (c *Config) Geometry() st7735.Geometry {
	return st7735.Geometry{
		Width:      c.Panel.Width,
		Height:     c.Panel.Height,
		MemWidth:   c.Panel.MemWidth,
		MemHeight:  c.Panel.MemHeight,
		LeftOffset: c.Panel.LeftOffset,
		TopOffset:  c.Panel.TopOffset,
	}
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	if err := c.Geometry().Validate(); err != nil {
		return fmt.Errorf("config: panel: %w", err)
	}
	if _, err := st7735.ParseRotation(c.Panel.Rotation); err != nil {
		return fmt.Errorf("config: panel.rotation: %w", err)
	}
	if _, err := st7735.ParseColorOrder(c.Panel.ColorOrder); err != nil {
		return fmt.Errorf("config: panel.color_order: %w", err)
	}
	if _, err := convert.ParseLayout(c.Panel.Layout); err != nil {
		return fmt.Errorf("config: panel.layout: %w", err)
	}
	if c.SPI.MaxTxSize < 0 {
		return fmt.Errorf("config: spi.max_tx_size must not be negative")
	}
	switch c.Source.Kind {
	case "none":
	case "file":
		if c.Source.Path == "" {
			return errors.New("config: source.path is required for kind file")
		}
	case "url":
		if c.Source.URL == "" {
			return errors.New("config: source.url is required for kind url")
		}
	default:
		return fmt.Errorf("config: unknown source.kind %q", c.Source.Kind)
	}
	if c.RefreshCron != "" {
		if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
			return fmt.Errorf("config: refresh: %w", err)
		}
	}
	if _, err := appLog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms (creating the parent directory) and returned.
//   - Otherwise the YAML is unmarshalled, normalized and validated.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
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
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
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

	tmp, err := os.CreateTemp(dir, ".lcdpanel-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
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
