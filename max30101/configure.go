package max30101

import (
	"context"
	"fmt"
	"log/slog"
)

// ConfigureDualChannelLowPower puts the device into red+IR acquisition at
// 50 sps with low drive and an empty FIFO.
func (d *Device) ConfigureDualChannelLowPower(ctx context.Context) (State, error) {
	return d.Configure(ctx, DualChannelLowPower, LowPowerDrive)
}

// ConfigureTripleChannelHighPenetration puts the device into red+IR+green
// acquisition at 100 sps with drive applied to all three emitters and an
// empty FIFO.
func (d *Device) ConfigureTripleChannelHighPenetration(ctx context.Context, drive DriveCode) (State, error) {
	return d.Configure(ctx, TripleChannelHighPenetration, drive)
}

// Configure writes the register sequence of profile in order. The first failed
// write aborts the sequence and the device must be considered unconfigured.
// Calling it again during acquisition restarts the FIFO from empty.
func (d *Device) Configure(ctx context.Context, profile Profile, drive DriveCode) (State, error) {
	if profile.Channels() == 0 {
		return State{}, fmt.Errorf("%w: %d", ErrUnknownProfile, int(profile))
	}
	if profile == TripleChannelHighPenetration {
		if drive < MinDriveCode || drive > d.config.DriveLimit {
			return State{}, fmt.Errorf("%w: %s exceeds limit %s", ErrDriveCodeRange, drive, d.config.DriveLimit)
		}
	} else {
		drive = LowPowerDrive
	}
	d.pending = 0
	for i, step := range profile.Steps(drive) {
		if err := d.write(ctx, step.Register, step.Value); err != nil {
			return State{}, fmt.Errorf("max30101: configure %s step %d (%s): %w", profile, i, step, err)
		}
	}
	st := State{Profile: profile, Drive: drive}
	slog.Debug("max30101 configured", "state", st.String(), "address", d.config.Address)
	return st, nil
}
