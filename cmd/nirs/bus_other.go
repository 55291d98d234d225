//go:build !linux

package main

import (
	"fmt"

	"github.com/mklimuk/nirs/config"
)

func openSMBus(cfg *config.Config) (*bus, error) {
	return nil, fmt.Errorf("%w: smbus adapter is only available on linux", config.ErrInvalid)
}
