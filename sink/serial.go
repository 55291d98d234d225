package sink

import (
	"fmt"

	"go.bug.st/serial"
)

const DefaultBaudRate = 115200

// OpenSerial opens a serial port for record output, 8N1 at baud.
func OpenSerial(name string, baud int) (serial.Port, error) {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("sink: could not open serial port %s: %w", name, err)
	}
	return port, nil
}

// SerialPorts lists the serial ports present on the host.
func SerialPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("sink: could not list serial ports: %w", err)
	}
	return ports, nil
}
