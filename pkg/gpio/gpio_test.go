//go:build linux

package gpio

import (
	"testing"
	"time"
)

func TestDefaultLineConfig(t *testing.T) {
	cfg := DefaultLineConfig()

	if cfg.Chip != "gpiochip0" {
		t.Errorf("Chip = %s, want gpiochip0", cfg.Chip)
	}
	if cfg.Pullup != 1 {
		t.Errorf("Pullup = %d, want 1", cfg.Pullup)
	}
	if !cfg.Invert {
		t.Error("Invert should be true by default, open-collector sensors idle high")
	}
}

func TestNewPulseLineEmptyChip(t *testing.T) {
	l := NewPulseLine(LineConfig{Line: 17})

	if l.cfg.Chip != DefaultChip {
		t.Errorf("empty chip should fall back to %s, got %s", DefaultChip, l.cfg.Chip)
	}
}

func TestRelativeUs(t *testing.T) {
	tests := []struct {
		ts     time.Duration
		baseNs int64
		want   uint64
	}{
		{2500000, 1000000, 1500}, // 2.5ms event, 1ms base
		{1000000, 1000000, 1},    // same instant maps to the minimum
		{1000500, 1000000, 1},    // sub-microsecond delta rounds down to the minimum
		{500000, 1000000, 1},     // clock skew before base clamps
		{1000000000, 0, 1000000}, // one second
	}

	for _, tt := range tests {
		if got := relativeUs(tt.ts, tt.baseNs); got != tt.want {
			t.Errorf("relativeUs(%d, %d) = %d, want %d", tt.ts, tt.baseNs, got, tt.want)
		}
	}
}

func TestRelativeUsNeverZero(t *testing.T) {
	// Zero is the no-edge sentinel downstream; no input may produce it
	for _, ts := range []time.Duration{0, 1, 999, 1000} {
		if got := relativeUs(ts, 0); got == 0 {
			t.Errorf("relativeUs(%d, 0) = 0, must be at least 1", ts)
		}
	}
}

func TestStartNilHandler(t *testing.T) {
	l := NewPulseLine(DefaultLineConfig())

	if err := l.Start(nil); err == nil {
		t.Error("Start with nil handler should fail")
	}
}

func TestStartAfterClose(t *testing.T) {
	l := NewPulseLine(DefaultLineConfig())

	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := l.Start(func(uint64) {}); err != ErrLineClosed {
		t.Errorf("Start after Close = %v, want ErrLineClosed", err)
	}
	// Close is idempotent
	if err := l.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
}

func TestChipAvailable(t *testing.T) {
	if ChipAvailable("") {
		t.Error("empty chip name should not be available")
	}
	if ChipAvailable("nonexistent-chip-99") {
		t.Error("missing chip should not be available")
	}
	if ChipAvailable("/etc/hostname") {
		t.Error("regular file should not be available")
	}
}

func TestLineStatus(t *testing.T) {
	l := NewPulseLine(LineConfig{Chip: "gpiochip1", Line: 4, Invert: true})

	status := l.GetStatus()
	if status["chip"] != "gpiochip1" {
		t.Errorf("status chip = %v, want gpiochip1", status["chip"])
	}
	if status["line"] != 4 {
		t.Errorf("status line = %v, want 4", status["line"])
	}
	if status["invert"] != true {
		t.Error("status invert should be true")
	}
	if status["started"] != false {
		t.Error("status started should be false before Start")
	}
	if l.Events() != 0 {
		t.Errorf("Events = %d, want 0", l.Events())
	}
}
