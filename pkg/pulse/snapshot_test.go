package pulse

import (
	"testing"
	"time"
)

func TestInstantFrequency(t *testing.T) {
	tests := []struct {
		intervalUs uint64
		wantHz     float64
	}{
		{0, 0},
		{1000, 1000.0},
		{2000, 500.0},
		{100, 10000.0},
		{1000000, 1.0},
	}

	for _, tt := range tests {
		s := Snapshot{LastIntervalUs: tt.intervalUs}
		if got := s.InstantFrequencyHz(); got != tt.wantHz {
			t.Errorf("InstantFrequencyHz(interval=%d) = %v, want %v", tt.intervalUs, got, tt.wantHz)
		}
	}
}

func TestPeriodUs(t *testing.T) {
	s := Snapshot{LastIntervalUs: 1234}
	if got := s.PeriodUs(); got != 1234 {
		t.Errorf("PeriodUs() = %d, want 1234", got)
	}
}

func TestWindowedFrequency(t *testing.T) {
	prev := Snapshot{TotalCount: 100}
	cur := Snapshot{TotalCount: 150}

	if got := WindowedFrequencyHz(prev, cur, time.Second); got != 50.0 {
		t.Errorf("WindowedFrequencyHz = %v, want 50", got)
	}
	if got := WindowedFrequencyHz(prev, cur, 2*time.Second); got != 25.0 {
		t.Errorf("WindowedFrequencyHz over 2s = %v, want 25", got)
	}

	// A reset in between restarts the counter; the window is not usable
	if got := WindowedFrequencyHz(cur, prev, time.Second); got != 0 {
		t.Errorf("WindowedFrequencyHz across reset = %v, want 0", got)
	}

	// Degenerate durations
	if got := WindowedFrequencyHz(prev, cur, 0); got != 0 {
		t.Errorf("WindowedFrequencyHz with dt=0 = %v, want 0", got)
	}
	if got := WindowedFrequencyHz(prev, cur, -time.Second); got != 0 {
		t.Errorf("WindowedFrequencyHz with dt<0 = %v, want 0", got)
	}
}

func TestSnapshotIdempotent(t *testing.T) {
	c := New(DefaultConfig())
	c.HandleEdge(2000)
	c.HandleEdge(4000)

	s1 := c.Snapshot()
	s2 := c.Snapshot()
	if s1 != s2 {
		t.Errorf("snapshots differ with no edges in between: %+v vs %+v", s1, s2)
	}

	// Consuming the pending flag does not disturb the snapshot
	c.ConsumePending()
	s3 := c.Snapshot()
	if s3 != s1 {
		t.Errorf("snapshot changed after ConsumePending: %+v vs %+v", s1, s3)
	}

	// A bounced edge does not disturb it either
	c.HandleEdge(4100)
	s4 := c.Snapshot()
	if s4 != s1 {
		t.Errorf("snapshot changed after bounced edge: %+v vs %+v", s1, s4)
	}
}
