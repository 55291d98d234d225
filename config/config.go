// Package config holds the acquisition settings loaded from YAML, together
// with the build information injected at link time.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/mklimuk/nirs/max30101"
	"gopkg.in/yaml.v3"
)

// set with -ldflags -X
var (
	Version   = "dev"
	Commit    = ""
	BuildDate = ""
)

var (
	ErrInvalid = errors.New("invalid configuration")
	// ErrDriveAboveLimit is returned separately so an operator can be asked to
	// confirm the raised drive.
	ErrDriveAboveLimit = errors.New("drive code above limit")
)

// Supported bus adapters.
const (
	AdapterPeriph  = "periph"
	AdapterGobot   = "gobot"
	AdapterSMBus   = "smbus"
	AdapterMCP2221 = "mcp2221"
	AdapterBitBang = "bitbang"
	AdapterSim     = "sim"
)

var adapters = []string{AdapterPeriph, AdapterGobot, AdapterSMBus, AdapterMCP2221, AdapterBitBang, AdapterSim}

// Supported indicators.
const (
	IndicatorNone     = "none"
	IndicatorPin      = "pin"
	IndicatorExpander = "expander"
	IndicatorMCP2221  = "mcp2221"
)

var indicators = []string{IndicatorNone, IndicatorPin, IndicatorExpander, IndicatorMCP2221}

// Output formats.
const (
	FormatText = "text"
	FormatYAML = "yaml"
)

// Config represents the application configuration.
type Config struct {
	Bus         BusConfig         `yaml:"bus"`
	Sensor      SensorConfig      `yaml:"sensor"`
	Acquisition AcquisitionConfig `yaml:"acquisition"`
	Indicator   IndicatorConfig   `yaml:"indicator"`
	Output      OutputConfig      `yaml:"output"`
}

// BusConfig selects and parameterises the bus backend.
type BusConfig struct {
	Adapter string `yaml:"adapter"`
	// periph bus name, e.g. "/dev/i2c-1" or "1"
	Device string `yaml:"device"`
	// bus number for smbus and gobot; -1 picks the adaptor default
	Number int `yaml:"number"`
	// MCP2221 index when several are plugged in; -1 requires exactly one
	AdapterIndex int `yaml:"adapter_index"`
	// GPIO names of the bit-banged lines
	SDA      string        `yaml:"sda"`
	SCL      string        `yaml:"scl"`
	SpeedKHz int           `yaml:"speed_khz"`
	Timeout  time.Duration `yaml:"timeout"`
}

// SensorConfig contains the device settings applied at startup.
type SensorConfig struct {
	Address    uint8  `yaml:"address"`
	Profile    string `yaml:"profile"`
	Drive      int    `yaml:"drive"`
	DriveLimit int    `yaml:"drive_limit"`
}

// AcquisitionConfig contains the periodic trigger parameters.
type AcquisitionConfig struct {
	// Period between triggers; 0 derives it from the profile sample period
	// so that one period yields about Capacity/2 samples.
	Period   time.Duration `yaml:"period"`
	Capacity int           `yaml:"capacity"`
	Mlock    bool          `yaml:"mlock"`
}

// IndicatorConfig selects the output toggled once per period.
type IndicatorConfig struct {
	Kind string `yaml:"kind"`
	// host GPIO name for "pin"
	Pin string `yaml:"pin"`
	// expander address, port (A/B) and bit for "expander"; GP number for "mcp2221"
	Address uint8  `yaml:"address"`
	Port    string `yaml:"port"`
	Bit     uint8  `yaml:"bit"`
}

// OutputConfig contains the foreground consumer settings.
type OutputConfig struct {
	Format string `yaml:"format"`
	// serial port name; empty writes to stdout
	Serial   string        `yaml:"serial"`
	BaudRate int           `yaml:"baud_rate"`
	Interval time.Duration `yaml:"interval"`
	Summary  bool          `yaml:"summary"`
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Bus: BusConfig{
			Adapter:      AdapterPeriph,
			Device:       "",
			Number:       -1,
			AdapterIndex: -1,
			SpeedKHz:     400,
			Timeout:      5 * time.Millisecond,
		},
		Sensor: SensorConfig{
			Address:    max30101.DefaultAddress,
			Profile:    max30101.TripleChannelHighPenetration.String(),
			Drive:      int(max30101.DefaultDrive),
			DriveLimit: int(max30101.DefaultDriveLimit),
		},
		Acquisition: AcquisitionConfig{
			Capacity: 8,
		},
		Indicator: IndicatorConfig{
			Kind: IndicatorNone,
			Port: "A",
		},
		Output: OutputConfig{
			Format:   FormatText,
			BaudRate: 115200,
			Interval: 100 * time.Millisecond,
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.ensureDefaults()
	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (c *Config) ensureDefaults() {
	def := Default()
	if c.Bus.Adapter == "" {
		c.Bus.Adapter = def.Bus.Adapter
	}
	if c.Bus.SpeedKHz == 0 {
		c.Bus.SpeedKHz = def.Bus.SpeedKHz
	}
	if c.Bus.Timeout == 0 {
		c.Bus.Timeout = def.Bus.Timeout
	}
	if c.Sensor.Address == 0 {
		c.Sensor.Address = def.Sensor.Address
	}
	if c.Sensor.Profile == "" {
		c.Sensor.Profile = def.Sensor.Profile
	}
	if c.Sensor.Drive == 0 {
		c.Sensor.Drive = def.Sensor.Drive
	}
	if c.Sensor.DriveLimit == 0 {
		c.Sensor.DriveLimit = def.Sensor.DriveLimit
	}
	if c.Acquisition.Capacity == 0 {
		c.Acquisition.Capacity = def.Acquisition.Capacity
	}
	if c.Indicator.Kind == "" {
		c.Indicator.Kind = def.Indicator.Kind
	}
	if c.Output.Format == "" {
		c.Output.Format = def.Output.Format
	}
	if c.Output.BaudRate == 0 {
		c.Output.BaudRate = def.Output.BaudRate
	}
	if c.Output.Interval == 0 {
		c.Output.Interval = def.Output.Interval
	}
}

// Profile returns the parsed operating profile.
func (c *Config) Profile() (max30101.Profile, error) {
	return max30101.ParseProfile(c.Sensor.Profile)
}

// Drive returns the validated drive code and limit.
func (c *Config) Drive() (max30101.DriveCode, max30101.DriveCode, error) {
	drive, err := max30101.ParseDriveCode(c.Sensor.Drive)
	if err != nil {
		return 0, 0, err
	}
	limit, err := max30101.ParseDriveCode(c.Sensor.DriveLimit)
	if err != nil {
		return 0, 0, fmt.Errorf("drive limit: %w", err)
	}
	return drive, limit, nil
}

// Period returns the trigger period. When unset it is derived from the
// profile sample period and the result buffer capacity.
func (c *Config) Period() (time.Duration, error) {
	if c.Acquisition.Period > 0 {
		return c.Acquisition.Period, nil
	}
	p, err := c.Profile()
	if err != nil {
		return 0, err
	}
	// a period fills half the result buffer so a backlog left by skipped
	// periods drains before the FIFO wraps
	return time.Duration(c.Acquisition.Capacity) * p.SamplePeriod() / 2, nil
}

// Validate checks the configuration. A drive above the limit of a triple
// channel profile is reported with ErrDriveAboveLimit after every other check
// passed.
func (c *Config) Validate() error {
	if !slices.Contains(adapters, c.Bus.Adapter) {
		return fmt.Errorf("%w: unknown bus adapter %q, expected one of %v", ErrInvalid, c.Bus.Adapter, adapters)
	}
	if c.Bus.Adapter == AdapterBitBang && (c.Bus.SDA == "" || c.Bus.SCL == "") {
		return fmt.Errorf("%w: bit-banged bus needs sda and scl pins", ErrInvalid)
	}
	if c.Bus.SpeedKHz <= 0 || c.Bus.SpeedKHz > 1000 {
		return fmt.Errorf("%w: bus speed %d kHz not in (0, 1000]", ErrInvalid, c.Bus.SpeedKHz)
	}
	if c.Bus.Timeout <= 0 {
		return fmt.Errorf("%w: bus timeout must be positive", ErrInvalid)
	}
	if c.Sensor.Address == 0 || c.Sensor.Address > 0x7F {
		return fmt.Errorf("%w: sensor address %#02x is not a 7-bit address", ErrInvalid, c.Sensor.Address)
	}
	profile, err := c.Profile()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	drive, limit, err := c.Drive()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if c.Acquisition.Capacity < 1 || c.Acquisition.Capacity > max30101.FIFODepth {
		return fmt.Errorf("%w: capacity %d not in [1, %d]", ErrInvalid, c.Acquisition.Capacity, max30101.FIFODepth)
	}
	if c.Acquisition.Period < 0 {
		return fmt.Errorf("%w: negative period", ErrInvalid)
	}
	if !slices.Contains(indicators, c.Indicator.Kind) {
		return fmt.Errorf("%w: unknown indicator %q, expected one of %v", ErrInvalid, c.Indicator.Kind, indicators)
	}
	if c.Indicator.Kind == IndicatorPin && c.Indicator.Pin == "" {
		return fmt.Errorf("%w: pin indicator needs a pin name", ErrInvalid)
	}
	if c.Indicator.Kind == IndicatorExpander && c.Indicator.Port != "A" && c.Indicator.Port != "B" {
		return fmt.Errorf("%w: expander port %q must be A or B", ErrInvalid, c.Indicator.Port)
	}
	if c.Output.Format != FormatText && c.Output.Format != FormatYAML {
		return fmt.Errorf("%w: unknown output format %q", ErrInvalid, c.Output.Format)
	}
	if c.Output.Serial != "" && c.Output.BaudRate <= 0 {
		return fmt.Errorf("%w: serial output needs a baud rate", ErrInvalid)
	}
	if c.Output.Interval <= 0 {
		return fmt.Errorf("%w: output interval must be positive", ErrInvalid)
	}
	if profile == max30101.TripleChannelHighPenetration && drive > limit {
		return fmt.Errorf("%w: %s > %s", ErrDriveAboveLimit, drive, limit)
	}
	return nil
}
