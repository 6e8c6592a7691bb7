//go:build linux

package gpio

import (
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/warthog618/go-gpiocdev"

	"github.com/caosdp-rs/LeituraPulsos/pkg/errors"
)

// LineConfig describes the pulse input line.
type LineConfig struct {
	Chip   string
	Line   int
	Pullup int  // 1 = pull-up, -1 = pull-down, 0 leaves the bias alone
	Invert bool // count falling edges instead of rising
}

// DefaultLineConfig returns the default line configuration: first
// chip, pull-up bias, falling edges. Matches the usual open-collector
// sensor wiring where the line idles high and each pulse pulls it low.
func DefaultLineConfig() LineConfig {
	return LineConfig{Chip: DefaultChip, Pullup: 1, Invert: true}
}

// PulseLine streams edge timestamps from one GPIO line. It implements
// EdgeSource. The hardware debouncer is deliberately not requested;
// every raw edge reaches the handler so the adaptive filter sees the
// bounce it has to learn from.
type PulseLine struct {
	mu      sync.Mutex
	cfg     LineConfig
	line    *gpiocdev.Line
	handler Handler
	baseNs  int64
	want    gpiocdev.LineEventType
	events  atomic.Uint64
	closed  bool
}

// NewPulseLine creates a pulse line for the configured chip and offset.
func NewPulseLine(cfg LineConfig) *PulseLine {
	if cfg.Chip == "" {
		cfg.Chip = DefaultChip
	}
	return &PulseLine{cfg: cfg}
}

// Start requests the line with edge detection and begins delivering
// timestamps to handler. The kernel stamps events with CLOCK_MONOTONIC;
// timestamps are rebased to microseconds relative to this call so the
// counter sees small positive values from the first edge on.
func (l *PulseLine) Start(handler Handler) error {
	if handler == nil {
		return errors.RuntimeErrorInit("pulse line", "nil edge handler")
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLineClosed
	}
	if l.line != nil {
		l.mu.Unlock()
		return ErrAlreadyStarted
	}
	l.handler = handler
	l.baseNs = monotonicNs()
	l.want = gpiocdev.LineEventRisingEdge
	var edge gpiocdev.LineReqOption = gpiocdev.WithRisingEdge
	if l.cfg.Invert {
		l.want = gpiocdev.LineEventFallingEdge
		edge = gpiocdev.WithFallingEdge
	}
	l.mu.Unlock()

	opts := []gpiocdev.LineReqOption{
		gpiocdev.WithConsumer("pulsemeter"),
		edge,
		gpiocdev.WithEventHandler(l.handleEvent),
	}
	switch l.cfg.Pullup {
	case 1:
		opts = append(opts, gpiocdev.WithPullUp)
	case -1:
		opts = append(opts, gpiocdev.WithPullDown)
	}

	line, err := gpiocdev.RequestLine(l.cfg.Chip, l.cfg.Line, opts...)
	if err != nil {
		merr := errors.GpioRequestError(l.cfg.Chip, l.cfg.Line, err)
		if l.cfg.Pullup != 0 && err == syscall.Errno(22) {
			// EINVAL with a bias flag usually means a pre-5.5 kernel
			merr.SetContext("hint", "pull-up/pull-down bias requires Linux 5.5 or later")
		}
		return merr
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		line.Close()
		return ErrLineClosed
	}
	l.line = line
	l.mu.Unlock()
	return nil
}

// handleEvent runs on the gpiocdev event goroutine.
func (l *PulseLine) handleEvent(evt gpiocdev.LineEvent) {
	if evt.Type != l.want {
		return
	}
	l.events.Add(1)
	l.handler(relativeUs(evt.Timestamp, l.baseNs))
}

// relativeUs converts an absolute kernel timestamp to microseconds
// after base, clamped so the result is always at least 1. Zero is the
// no-edge sentinel in the counter, so a real edge must never map to it.
func relativeUs(ts time.Duration, baseNs int64) uint64 {
	ns := int64(ts) - baseNs
	if ns < 0 {
		ns = 0
	}
	us := uint64(ns) / 1000
	if us == 0 {
		us = 1
	}
	return us
}

// Events returns the number of raw edges delivered by the kernel,
// before any debounce decision.
func (l *PulseLine) Events() uint64 {
	return l.events.Load()
}

// GetStatus returns line status for diagnostics.
func (l *PulseLine) GetStatus() map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()
	return map[string]any{
		"chip":    l.cfg.Chip,
		"line":    l.cfg.Line,
		"invert":  l.cfg.Invert,
		"started": l.line != nil,
		"events":  l.events.Load(),
	}
}

// Close releases the line. Safe to call more than once.
func (l *PulseLine) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	line := l.line
	l.line = nil
	l.mu.Unlock()

	if line != nil {
		line.Close()
	}
	return nil
}
