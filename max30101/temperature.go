package max30101

import (
	"context"
	"fmt"
	"time"

	"github.com/mklimuk/nirs"
)

const tempPollInterval = time.Millisecond

// Temperature triggers a die temperature conversion and returns the result in
// degrees Celsius. The wait for the conversion is bounded by ctx and by 100
// polls of the ready flag. It shares the bus with acquisition and must not run
// concurrently with it.
func (d *Device) Temperature(ctx context.Context) (float32, error) {
	if err := d.write(ctx, RegDieTempCfg, tempEnable); err != nil {
		return 0, fmt.Errorf("max30101: could not start temperature conversion: %w", err)
	}
	ready := false
	for range 100 {
		status, err := d.readByte(ctx, RegIntrStatus2)
		if err != nil {
			return 0, fmt.Errorf("max30101: could not read interrupt status: %w", err)
		}
		if status&dieTempReady != 0 {
			ready = true
			break
		}
		timer := time.NewTimer(tempPollInterval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return 0, ctx.Err()
		}
	}
	if !ready {
		return 0, fmt.Errorf("max30101: temperature conversion did not complete: %w", nirs.ErrTimeout)
	}
	buf := d.scratch[:2]
	if err := d.read(ctx, RegDieTempInt, buf); err != nil {
		return 0, fmt.Errorf("max30101: could not read temperature: %w", err)
	}
	return convertTemperature(buf[0], buf[1]), nil
}

// convertTemperature combines the signed integer part and the 1/16 °C fraction.
func convertTemperature(integer, fraction byte) float32 {
	return float32(int8(integer)) + float32(fraction&0x0F)*0.0625
}
