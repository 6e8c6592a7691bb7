//go:build linux

package gpio

import (
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"

	"github.com/caosdp-rs/LeituraPulsos/pkg/errors"
	"github.com/caosdp-rs/LeituraPulsos/pkg/reactor"
)

// ButtonState represents the current state of the reset button.
type ButtonState int

const (
	ButtonUnknown ButtonState = iota
	ButtonReleased
	ButtonPressed
)

func (s ButtonState) String() string {
	switch s {
	case ButtonReleased:
		return "released"
	case ButtonPressed:
		return "pressed"
	default:
		return "unknown"
	}
}

// ButtonConfig describes the reset button line.
type ButtonConfig struct {
	Chip   string
	Line   int
	Pullup int
	Invert bool          // active-low wiring: pressed reads low
	Settle time.Duration // press must be stable this long before it counts
}

// DefaultButtonConfig returns the default button configuration:
// pull-up bias with active-low presses and a 50ms settle window.
func DefaultButtonConfig() ButtonConfig {
	return ButtonConfig{
		Chip:   DefaultChip,
		Pullup: 1,
		Invert: true,
		Settle: 50 * time.Millisecond,
	}
}

// ResetButton watches a GPIO line for a settled press. Both edges are
// requested; a press edge arms a reactor timer, a release edge disarms
// it, and only a timer that survives the settle window fires the press
// callback. Contact bounce therefore either re-arms or cancels the
// window and never produces a second fire.
type ResetButton struct {
	mu sync.Mutex

	cfg     ButtonConfig
	reactor *reactor.Reactor

	settleTimer *reactor.Timer
	line        *gpiocdev.Line

	state      ButtonState
	pressCount uint64
	lastPress  time.Time
	closed     bool

	onPress   func()
	pressChan chan struct{}
}

// NewResetButton creates a button bound to the reactor. Start must be
// called to attach the hardware line.
func NewResetButton(r *reactor.Reactor, cfg ButtonConfig) *ResetButton {
	if cfg.Chip == "" {
		cfg.Chip = DefaultChip
	}
	if cfg.Settle <= 0 {
		cfg.Settle = DefaultButtonConfig().Settle
	}

	b := &ResetButton{
		cfg:       cfg,
		reactor:   r,
		state:     ButtonUnknown,
		pressChan: make(chan struct{}, 1),
	}
	b.settleTimer = r.RegisterTimer(b.settleExpired, reactor.NEVER)
	return b
}

// SetPressCallback sets the callback fired on a settled press. It runs
// on the reactor goroutine.
func (b *ResetButton) SetPressCallback(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onPress = fn
}

// Start requests the button line with both-edge detection.
func (b *ResetButton) Start() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrLineClosed
	}
	if b.line != nil {
		b.mu.Unlock()
		return ErrAlreadyStarted
	}
	b.mu.Unlock()

	opts := []gpiocdev.LineReqOption{
		gpiocdev.WithConsumer("pulsemeter-reset"),
		gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(b.handleEvent),
	}
	switch b.cfg.Pullup {
	case 1:
		opts = append(opts, gpiocdev.WithPullUp)
	case -1:
		opts = append(opts, gpiocdev.WithPullDown)
	}

	line, err := gpiocdev.RequestLine(b.cfg.Chip, b.cfg.Line, opts...)
	if err != nil {
		return errors.GpioRequestError(b.cfg.Chip, b.cfg.Line, err)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		line.Close()
		return ErrLineClosed
	}
	b.line = line
	b.mu.Unlock()
	return nil
}

// handleEvent runs on the gpiocdev event goroutine.
func (b *ResetButton) handleEvent(evt gpiocdev.LineEvent) {
	pressed := evt.Type == gpiocdev.LineEventRisingEdge
	if b.cfg.Invert {
		pressed = !pressed
	}
	b.handleLevel(pressed)
}

// handleLevel advances the press state machine. pressed is the logical
// level after the Invert mapping.
func (b *ResetButton) handleLevel(pressed bool) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if pressed {
		b.state = ButtonPressed
		settle := b.cfg.Settle
		b.mu.Unlock()
		b.reactor.UpdateTimer(b.settleTimer, b.reactor.Monotonic()+settle.Seconds())
		return
	}
	b.state = ButtonReleased
	b.mu.Unlock()
	b.reactor.UpdateTimer(b.settleTimer, reactor.NEVER)
}

// settleExpired fires on the reactor goroutine once the press has been
// stable for the settle window. A release that raced the timer leaves
// the state machine released and the fire is dropped.
func (b *ResetButton) settleExpired(eventtime float64) float64 {
	b.mu.Lock()
	if b.closed || b.state != ButtonPressed {
		b.mu.Unlock()
		return reactor.NEVER
	}
	b.pressCount++
	b.lastPress = time.Now()
	cb := b.onPress
	b.mu.Unlock()

	select {
	case b.pressChan <- struct{}{}:
	default:
	}
	if cb != nil {
		cb()
	}
	return reactor.NEVER
}

// WaitForPress blocks until a settled press or the timeout.
func (b *ResetButton) WaitForPress(timeout time.Duration) error {
	select {
	case <-b.pressChan:
		return nil
	case <-time.After(timeout):
		return ErrPressTimeout
	}
}

// GetState returns the last known button state.
func (b *ResetButton) GetState() ButtonState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// GetPressCount returns the number of settled presses.
func (b *ResetButton) GetPressCount() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pressCount
}

// GetStatus returns button status for diagnostics.
func (b *ResetButton) GetStatus() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return map[string]any{
		"chip":        b.cfg.Chip,
		"line":        b.cfg.Line,
		"state":       b.state.String(),
		"press_count": b.pressCount,
		"last_press":  b.lastPress,
	}
}

// Close releases the line and disarms the settle timer. Safe to call
// more than once.
func (b *ResetButton) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	line := b.line
	b.line = nil
	b.mu.Unlock()

	b.reactor.UnregisterTimer(b.settleTimer)
	if line != nil {
		line.Close()
	}
	return nil
}
