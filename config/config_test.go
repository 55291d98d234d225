package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mklimuk/nirs/max30101"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, AdapterPeriph, cfg.Bus.Adapter)
	assert.Equal(t, uint8(0x57), cfg.Sensor.Address)
	assert.Equal(t, 0x4B, cfg.Sensor.Drive)
	assert.Equal(t, 8, cfg.Acquisition.Capacity)
	period, err := cfg.Period()
	require.NoError(t, err)
	assert.Equal(t, 4*max30101.TripleChannelHighPenetration.SamplePeriod(), period)
}

func TestLoad_FileNotExists(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_ValidYAML(t *testing.T) {
	name := filepath.Join(t.TempDir(), "nirs.yaml")
	yamlContent := `
bus:
  adapter: sim
  timeout: 2ms
sensor:
  profile: dual
acquisition:
  period: 250ms
  capacity: 16
output:
  format: yaml
  serial: /dev/ttyUSB0
`
	require.NoError(t, os.WriteFile(name, []byte(yamlContent), 0644))
	cfg, err := Load(name)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, AdapterSim, cfg.Bus.Adapter)
	assert.Equal(t, 2*time.Millisecond, cfg.Bus.Timeout)
	assert.Equal(t, 400, cfg.Bus.SpeedKHz)
	profile, err := cfg.Profile()
	require.NoError(t, err)
	assert.Equal(t, max30101.DualChannelLowPower, profile)
	period, err := cfg.Period()
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, period)
	assert.Equal(t, 16, cfg.Acquisition.Capacity)
	assert.Equal(t, FormatYAML, cfg.Output.Format)
	assert.Equal(t, 115200, cfg.Output.BaudRate)
	assert.Equal(t, IndicatorNone, cfg.Indicator.Kind)
}

func TestLoad_InvalidYAML(t *testing.T) {
	name := filepath.Join(t.TempDir(), "nirs.yaml")
	require.NoError(t, os.WriteFile(name, []byte("bus: [unclosed"), 0644))
	_, err := Load(name)
	assert.Error(t, err)
}

func TestSaveAndLoad(t *testing.T) {
	name := filepath.Join(t.TempDir(), "nirs.yaml")
	cfg := Default()
	cfg.Bus.Adapter = AdapterMCP2221
	cfg.Indicator.Kind = IndicatorMCP2221
	cfg.Indicator.Bit = 1
	require.NoError(t, cfg.Save(name))
	loaded, err := Load(name)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		modify   func(c *Config)
		expected error
	}{
		{"unknown adapter", func(c *Config) { c.Bus.Adapter = "spi" }, ErrInvalid},
		{"bitbang without pins", func(c *Config) { c.Bus.Adapter = AdapterBitBang }, ErrInvalid},
		{"bitbang", func(c *Config) { c.Bus.Adapter = AdapterBitBang; c.Bus.SDA = "GPIO2"; c.Bus.SCL = "GPIO3" }, nil},
		{"too fast", func(c *Config) { c.Bus.SpeedKHz = 3400 }, ErrInvalid},
		{"no timeout", func(c *Config) { c.Bus.Timeout = 0 }, ErrInvalid},
		{"8-bit address", func(c *Config) { c.Sensor.Address = 0xAE }, ErrInvalid},
		{"unknown profile", func(c *Config) { c.Sensor.Profile = "quad" }, max30101.ErrUnknownProfile},
		{"zero drive", func(c *Config) { c.Sensor.Drive = 0 }, max30101.ErrDriveCodeRange},
		{"capacity above depth", func(c *Config) { c.Acquisition.Capacity = 33 }, ErrInvalid},
		{"pin indicator without pin", func(c *Config) { c.Indicator.Kind = IndicatorPin }, ErrInvalid},
		{"expander port", func(c *Config) { c.Indicator.Kind = IndicatorExpander; c.Indicator.Port = "C" }, ErrInvalid},
		{"format", func(c *Config) { c.Output.Format = "csv" }, ErrInvalid},
		{"drive above limit", func(c *Config) { c.Sensor.Drive = 0x90 }, ErrDriveAboveLimit},
		{"raised limit", func(c *Config) { c.Sensor.Drive = 0x90; c.Sensor.DriveLimit = 0xFF }, nil},
		{"dual ignores drive", func(c *Config) { c.Sensor.Profile = "dual"; c.Sensor.Drive = 0x90 }, nil},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := Default()
			test.modify(cfg)
			err := cfg.Validate()
			if test.expected == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, test.expected)
		})
	}
}
