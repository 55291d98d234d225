package main

import (
	"flag"
	"testing"

	"github.com/mklimuk/nirs/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func flagContext(t *testing.T, args ...string) *cli.Context {
	t.Helper()
	set := flag.NewFlagSet("nirs", flag.ContinueOnError)
	set.String("adapter", "", "")
	set.String("device", "", "")
	set.Int("bus", 0, "")
	set.Uint("address", 0, "")
	require.NoError(t, set.Parse(args))
	return cli.NewContext(cli.NewApp(), set, nil)
}

func TestApplyGlobalFlags(t *testing.T) {
	cfg := config.Default()
	c := flagContext(t, "--adapter", "sim", "--bus", "3", "--address", "0x5A")
	require.NoError(t, applyGlobalFlags(c, cfg))
	assert.Equal(t, config.AdapterSim, cfg.Bus.Adapter)
	assert.Equal(t, 3, cfg.Bus.Number)
	assert.Equal(t, uint8(0x5A), cfg.Sensor.Address)
}

func TestApplyGlobalFlags_AddressRange(t *testing.T) {
	tests := []struct {
		name    string
		address string
	}{
		{"above 8 bits", "0x157"},
		{"above 7 bits", "0x80"},
		{"zero", "0"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := config.Default()
			err := applyGlobalFlags(flagContext(t, "--address", test.address), cfg)
			assert.ErrorIs(t, err, config.ErrInvalid)
			assert.Equal(t, config.Default().Sensor.Address, cfg.Sensor.Address)
		})
	}
}
