//go:build linux

// Package gpio delivers timestamped GPIO edge events to the pulse
// counter. PulseLine requests a character-device line with edge
// detection and hands each edge's kernel timestamp, rebased to
// microseconds since start, to a Handler. ResetButton watches a second
// line and reports a press only after the level has been stable for a
// settle window.
package gpio

import (
	"errors"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// DefaultChip is the chip used when none is configured.
const DefaultChip = "gpiochip0"

// Common errors
var (
	ErrLineClosed     = errors.New("gpio: line closed")
	ErrAlreadyStarted = errors.New("gpio: line already started")
	ErrPressTimeout   = errors.New("gpio: timeout waiting for press")
)

// Handler receives one edge timestamp in microseconds. Timestamps are
// strictly positive; zero is the no-edge sentinel in the counter.
// Handlers run on the event goroutine and must not block.
type Handler func(timestampUs uint64)

// EdgeSource is a stream of edge timestamps. Hardware lines implement
// it; tests substitute synthetic generators.
type EdgeSource interface {
	// Start begins edge delivery to handler. Call it once.
	Start(handler Handler) error

	// Close stops edge delivery and releases the line.
	Close() error
}

// ChipAvailable reports whether a GPIO chip character device exists.
// Accepts bare names ("gpiochip0") and full paths.
func ChipAvailable(chip string) bool {
	if chip == "" {
		return false
	}
	if !strings.HasPrefix(chip, "/dev/") {
		chip = "/dev/" + chip
	}
	info, err := os.Stat(chip)
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// monotonicNs reads CLOCK_MONOTONIC, the clock the kernel stamps line
// events with.
func monotonicNs() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	return ts.Nano()
}
