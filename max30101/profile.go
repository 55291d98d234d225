package max30101

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Profile is one of the fixed operating configurations of the sensor.
type Profile int

const (
	// DualChannelLowPower samples red and IR at 50 sps with low drive.
	DualChannelLowPower Profile = iota + 1
	// TripleChannelHighPenetration samples red, IR and green at 100 sps with a
	// caller supplied drive code.
	TripleChannelHighPenetration
)

var ErrUnknownProfile = errors.New("max30101: unknown operating profile")

func (p Profile) String() string {
	switch p {
	case DualChannelLowPower:
		return "dual-low-power"
	case TripleChannelHighPenetration:
		return "triple-high-penetration"
	default:
		return fmt.Sprintf("profile(%d)", int(p))
	}
}

func ParseProfile(s string) (Profile, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dual", "spo2", "dual-low-power":
		return DualChannelLowPower, nil
	case "triple", "muscle", "nirs", "triple-high-penetration":
		return TripleChannelHighPenetration, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownProfile, s)
}

// Channels returns the number of ADC values per FIFO sample.
func (p Profile) Channels() int {
	switch p {
	case DualChannelLowPower:
		return 2
	case TripleChannelHighPenetration:
		return 3
	default:
		return 0
	}
}

// SamplePeriod is the interval at which averaged samples enter the FIFO.
func (p Profile) SamplePeriod() time.Duration {
	switch p {
	case DualChannelLowPower:
		return SamplesAveraged * 20 * time.Millisecond
	case TripleChannelHighPenetration:
		return SamplesAveraged * 10 * time.Millisecond
	default:
		return 0
	}
}

// DriveCode is the raw LED pulse amplitude register value. It is not a physical
// current; the code to milliamp mapping is device specific.
type DriveCode byte

const (
	LowPowerDrive DriveCode = 0x18
	DefaultDrive  DriveCode = 0x4B
	// DefaultDriveLimit is the highest code accepted without an explicit
	// WithDriveLimit override.
	DefaultDriveLimit DriveCode = 0x7F

	MinDriveCode DriveCode = 0x01
	MaxDriveCode DriveCode = 0xFF
)

var ErrDriveCodeRange = errors.New("max30101: drive code out of range")

// ParseDriveCode validates an integer drive code. Zero switches the emitters
// off and is rejected.
func ParseDriveCode(v int) (DriveCode, error) {
	if v < int(MinDriveCode) || v > int(MaxDriveCode) {
		return 0, fmt.Errorf("%w: %#x not in [%#02x, %#02x]", ErrDriveCodeRange, v, byte(MinDriveCode), byte(MaxDriveCode))
	}
	return DriveCode(v), nil
}

func (d DriveCode) String() string {
	return fmt.Sprintf("%#02x", byte(d))
}

// Step is a single configuration register write.
type Step struct {
	Register Register
	Value    byte
}

func (s Step) String() string {
	return fmt.Sprintf("%s=%#02x", s.Register, s.Value)
}

// Steps returns the ordered register writes that put the device into profile p.
// FIFO pointers are reset after the FIFO and mode registers and before the LED
// drive is switched on. drive is ignored by DualChannelLowPower.
func (p Profile) Steps(drive DriveCode) []Step {
	switch p {
	case DualChannelLowPower:
		return []Step{
			{RegFIFOConfig, fifoAvg8Rollover},
			{RegModeConfig, ModeSpO2},
			{RegSpO2Config, spo2Range2048SR50},
			{RegFIFOReadPtr, 0x00},
			{RegFIFOWritePtr, 0x00},
			{RegOverflowCnt, 0x00},
			{RegLED1Amp, byte(LowPowerDrive)},
			{RegLED2Amp, byte(LowPowerDrive)},
			{RegDieTempCfg, tempEnable},
		}
	case TripleChannelHighPenetration:
		return []Step{
			{RegFIFOConfig, fifoAvg8Rollover},
			{RegModeConfig, ModeMultiLED},
			{RegMultiLED1, multiLEDSlots12},
			{RegMultiLED2, multiLEDSlots34},
			{RegSpO2Config, spo2Range2048SR100},
			{RegFIFOReadPtr, 0x00},
			{RegFIFOWritePtr, 0x00},
			{RegOverflowCnt, 0x00},
			{RegLED1Amp, byte(drive)},
			{RegLED2Amp, byte(drive)},
			{RegLED3Amp, byte(drive)},
			{RegDieTempCfg, tempEnable},
		}
	default:
		return nil
	}
}

// State is the configuration the device was last put into. It is returned by
// the configuration calls and passed to every FIFO read so that the channel
// count always follows the active profile. The zero State is unconfigured.
type State struct {
	Profile Profile
	Drive   DriveCode
}

func (s State) Channels() int {
	return s.Profile.Channels()
}

// SampleBytes is the number of bytes one FIFO sample occupies on the wire.
func (s State) SampleBytes() int {
	return s.Channels() * 2
}

func (s State) Configured() bool {
	return s.Channels() > 0
}

func (s State) String() string {
	if !s.Configured() {
		return "unconfigured"
	}
	if s.Profile == DualChannelLowPower {
		return s.Profile.String()
	}
	return fmt.Sprintf("%s drive=%s", s.Profile, s.Drive)
}
