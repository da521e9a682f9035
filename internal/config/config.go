// Package config loads the valve-panel YAML settings: which pins carry which
// valves, how they are driven, and where events are published.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/valve-panel/internal/logger"
	"github.com/sweeney/valve-panel/internal/valve"
)

// Driver type names.
const (
	DriverNoop     = "noop"
	DriverGPIOCDev = "gpiocdev"
	DriverPeriph   = "periph"
	DriverModbus   = "modbus"
)

const (
	// DefaultConfigFilename is read when no --config is given.
	DefaultConfigFilename = "valve-panel.yaml"
	// DefaultListen matches the port the panel has always served on.
	DefaultListen = ":3000"
	// DefaultChip is the GPIO character device on a Raspberry Pi.
	DefaultChip = "gpiochip0"
	// DefaultTopicPrefix is the MQTT topic root.
	DefaultTopicPrefix = "gate-valves"
	// DefaultClientID is the MQTT client identifier.
	DefaultClientID = "valve-panel"
	// DefaultModbusTimeout bounds one coil write.
	DefaultModbusTimeout = time.Second
	// DefaultBaudRate is used for Modbus RTU over serial.
	DefaultBaudRate = 9600
)

var (
	errNoValves      = errors.New("at least one valve must be configured")
	errUnknownDriver = errors.New("unknown driver type")
	errNoAddress     = errors.New("modbus driver requires an address")
)

// Config is the whole settings file.
type Config struct {
	Listen   string  `yaml:"listen"`
	LogLevel string  `yaml:"log_level"`
	Valves   []Valve `yaml:"valves"`
	Driver   Driver  `yaml:"driver"`
	MQTT     MQTT    `yaml:"mqtt"`
	Influx   Influx  `yaml:"influx"`
	Metrics  Metrics `yaml:"metrics"`
}

// Valve maps one output pin to a display name. Order defines the index.
type Valve struct {
	Pin  int    `yaml:"pin"`
	Name string `yaml:"name"`
}

// Driver selects and configures the pin driver.
type Driver struct {
	Type string `yaml:"type"`
	// Chip is the GPIO character device (gpiocdev only).
	Chip string `yaml:"chip"`
	// ActiveLow drives the line low to open. Typical relay modules need it.
	ActiveLow bool `yaml:"active_low"`
	// Address is tcp://host:port or a serial device (modbus only).
	Address    string        `yaml:"address"`
	SlaveID    byte          `yaml:"slave_id"`
	CoilOffset uint16        `yaml:"coil_offset"`
	BaudRate   int           `yaml:"baud_rate"`
	Timeout    time.Duration `yaml:"timeout"`
}

// MQTT configures event publishing. An empty broker disables it.
type MQTT struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// Influx configures the event point writer. An empty URL disables it.
type Influx struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

// Metrics toggles the Prometheus endpoint.
type Metrics struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the built-in configuration: the two gate valves on BCM
// pins 27 and 17, served on port 3000 with no hardware attached.
func Default() Config {
	return Config{
		Listen:   DefaultListen,
		LogLevel: "info",
		Valves: []Valve{
			{Pin: 27, Name: "GV Upstream"},
			{Pin: 17, Name: "GV Downstream"},
		},
		Driver: Driver{
			Type:      DriverNoop,
			Chip:      DefaultChip,
			ActiveLow: true,
			SlaveID:   1,
			BaudRate:  DefaultBaudRate,
			Timeout:   DefaultModbusTimeout,
		},
		MQTT: MQTT{
			ClientID:    DefaultClientID,
			TopicPrefix: DefaultTopicPrefix,
		},
		Metrics: Metrics{Enabled: true},
	}
}

// Load reads path on top of Default. A missing default file is not an
// error; a missing explicitly named file is.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	cfg := Default()

	contents, err := os.ReadFile(filepath.Clean(path))
	switch {
	case errors.Is(err, os.ErrNotExist) && path == DefaultConfigFilename:
		// Built-in defaults.
	case err != nil:
		return nil, fmt.Errorf("read settings: %w", err)
	default:
		if err := yaml.Unmarshal(contents, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal settings: %w", err)
		}
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks required fields and fills defaults for empty ones.
func Validate(cfg *Config) error {
	if len(cfg.Valves) == 0 {
		return errNoValves
	}

	pins := make(map[int]bool, len(cfg.Valves))
	for i, v := range cfg.Valves {
		if strings.TrimSpace(v.Name) == "" {
			return fmt.Errorf("valve %d: name is required", i)
		}
		if v.Pin < 0 {
			return fmt.Errorf("valve %q: negative pin %d", v.Name, v.Pin)
		}
		if pins[v.Pin] {
			return fmt.Errorf("valve %q: pin %d is used twice", v.Name, v.Pin)
		}
		pins[v.Pin] = true
	}

	if _, ok := logger.ParseLogLevel(cfg.LogLevel); !ok {
		return fmt.Errorf("invalid log level %q", cfg.LogLevel)
	}

	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}

	if err := validateDriver(&cfg.Driver); err != nil {
		return err
	}

	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = DefaultClientID
	}
	cfg.MQTT.TopicPrefix = strings.Trim(cfg.MQTT.TopicPrefix, "/")
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = DefaultTopicPrefix
	}

	if cfg.Influx.URL != "" && cfg.Influx.Bucket == "" {
		return errors.New("influx bucket is required when url is set")
	}

	return nil
}

func validateDriver(d *Driver) error {
	d.Type = strings.ToLower(strings.TrimSpace(d.Type))
	if d.Type == "" {
		d.Type = DriverNoop
	}

	switch d.Type {
	case DriverNoop, DriverPeriph:
	case DriverGPIOCDev:
		if d.Chip == "" {
			d.Chip = DefaultChip
		}
	case DriverModbus:
		if d.Address == "" {
			return errNoAddress
		}
		if d.SlaveID == 0 {
			d.SlaveID = 1
		}
		if d.BaudRate <= 0 {
			d.BaudRate = DefaultBaudRate
		}
		if d.Timeout <= 0 {
			d.Timeout = DefaultModbusTimeout
		}
	default:
		return fmt.Errorf("%w: %q", errUnknownDriver, d.Type)
	}

	return nil
}

// Specs converts the valve list for the registry.
func (c *Config) Specs() []valve.Spec {
	specs := make([]valve.Spec, len(c.Valves))
	for i, v := range c.Valves {
		specs[i] = valve.Spec{Pin: v.Pin, Name: v.Name}
	}
	return specs
}

// Pins returns the configured pins in index order.
func (c *Config) Pins() []int {
	pins := make([]int, len(c.Valves))
	for i, v := range c.Valves {
		pins[i] = v.Pin
	}
	return pins
}
