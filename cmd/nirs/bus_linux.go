package main

import (
	"github.com/mklimuk/nirs/config"
	"github.com/mklimuk/nirs/i2c"
)

func openSMBus(cfg *config.Config) (*bus, error) {
	number := cfg.Bus.Number
	if number < 0 {
		number = 1
	}
	b, err := i2c.NewSMBus(number, cfg.Sensor.Address)
	if err != nil {
		return nil, err
	}
	return &bus{RegisterBus: b, close: b.Close}, nil
}
