package main

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// lockMemory keeps the acquisition process resident so page faults cannot
// stretch a period.
func lockMemory() error {
	if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
		return fmt.Errorf("could not lock memory: %w", err)
	}
	return nil
}
