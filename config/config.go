package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/timzifer/modspec/codec"
)

// Duration wraps time.Duration to support YAML unmarshalling from strings.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration strings like "5s" or "1m".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return fmt.Errorf("duration value node is nil")
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}
	if raw == "" {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = dur
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

const (
	ProtocolTCP = "tcp"
	ProtocolRTU = "rtu"
)

// EndpointConfig describes how to reach a Modbus slave.
type EndpointConfig struct {
	// Protocol is "tcp" (default) or "rtu".
	Protocol string `yaml:"protocol,omitempty"`
	// Address is host:port for TCP or the serial device for RTU.
	Address string   `yaml:"address"`
	UnitID  uint8    `yaml:"unit_id"`
	Timeout Duration `yaml:"timeout,omitempty"`

	BaudRate int    `yaml:"baud_rate,omitempty"`
	DataBits int    `yaml:"data_bits,omitempty"`
	StopBits int    `yaml:"stop_bits,omitempty"`
	Parity   string `yaml:"parity,omitempty"`
}

// LokiConfig configures optional Loki integration for logging.
type LokiConfig struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Labels  map[string]string `yaml:"labels"`
}

// LoggingConfig encapsulates runtime logging options.
type LoggingConfig struct {
	Level  string     `yaml:"level"`
	Format string     `yaml:"format,omitempty"`
	Loki   LokiConfig `yaml:"loki"`
}

// TelemetryConfig configures runtime telemetry exporters.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider,omitempty"`
	// Listen is the address of the /metrics endpoint.
	Listen string `yaml:"listen,omitempty"`
}

// Config is the configuration of the modspec command.
type Config struct {
	// Schema is the register map, relative paths resolve against the
	// directory of the configuration file.
	Schema    string          `yaml:"schema"`
	ByteOrder string          `yaml:"byte_order,omitempty"`
	Endpoint  EndpointConfig  `yaml:"endpoint"`
	PageWidth int             `yaml:"page_width,omitempty"`
	Poll      Duration        `yaml:"poll,omitempty"`
	HotReload bool            `yaml:"hot_reload,omitempty"`
	Filter    string          `yaml:"filter,omitempty"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	source string
}

// Load reads and decodes the configuration file from disk.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if abs, err := filepath.Abs(path); err == nil {
		cfg.source = abs
	} else {
		cfg.source = path
	}
	return &cfg, nil
}

// Source returns the absolute path the configuration was loaded from.
func (c *Config) Source() string {
	if c == nil {
		return ""
	}
	return c.source
}

// SchemaPath resolves Schema against the configuration directory.
func (c *Config) SchemaPath() string {
	if c == nil || c.Schema == "" {
		return ""
	}
	if filepath.IsAbs(c.Schema) || c.source == "" {
		return c.Schema
	}
	return filepath.Join(filepath.Dir(c.source), c.Schema)
}

// Order returns the configured register byte order.
func (c *Config) Order() (codec.ByteOrder, error) {
	return codec.ParseByteOrder(c.ByteOrder)
}

// PollInterval returns the delay between two dumps.
func (c *Config) PollInterval() time.Duration {
	if c == nil || c.Poll.Duration <= 0 {
		return time.Second
	}
	return c.Poll.Duration
}

// ProtocolName returns the lower-cased protocol, tcp when unset.
func (e EndpointConfig) ProtocolName() string {
	p := strings.ToLower(strings.TrimSpace(e.Protocol))
	if p == "" {
		return ProtocolTCP
	}
	return p
}

// Validate reports every configuration error at once.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Schema) == "" {
		errs = append(errs, errors.New("schema path is required"))
	}
	if _, err := c.Order(); err != nil {
		errs = append(errs, err)
	}
	switch c.Endpoint.ProtocolName() {
	case ProtocolTCP, ProtocolRTU:
	default:
		errs = append(errs, fmt.Errorf("unknown endpoint protocol %q", c.Endpoint.Protocol))
	}
	if c.PageWidth < 0 || c.PageWidth > 125 {
		errs = append(errs, fmt.Errorf("page_width %d outside 1..125", c.PageWidth))
	}
	if c.Endpoint.Timeout.Duration < 0 {
		errs = append(errs, errors.New("endpoint timeout must not be negative"))
	}
	if c.Logging.Loki.Enabled && strings.TrimSpace(c.Logging.Loki.URL) == "" {
		errs = append(errs, errors.New("loki url is required when loki is enabled"))
	}
	return errors.Join(errs...)
}
