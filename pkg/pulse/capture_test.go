package pulse

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.DefaultThresholdUs != 1000 {
		t.Errorf("DefaultThresholdUs = %d, want 1000", cfg.DefaultThresholdUs)
	}
	if cfg.MinThresholdUs != 100 {
		t.Errorf("MinThresholdUs = %d, want 100", cfg.MinThresholdUs)
	}
	if cfg.MaxThresholdUs != 50000 {
		t.Errorf("MaxThresholdUs = %d, want 50000", cfg.MaxThresholdUs)
	}
}

func TestNewNormalizesConfig(t *testing.T) {
	// Zero fields fall back to defaults
	c := New(Config{})
	if got := c.GetThresholdUs(); got != DefaultThresholdUs {
		t.Errorf("threshold = %d, want %d", got, DefaultThresholdUs)
	}

	// Swapped bounds are corrected
	c = New(Config{MinThresholdUs: 5000, MaxThresholdUs: 200, DefaultThresholdUs: 1000})
	if c.filter.minUs != 200 || c.filter.maxUs != 5000 {
		t.Errorf("bounds = [%d, %d], want [200, 5000]", c.filter.minUs, c.filter.maxUs)
	}

	// Default outside bounds is clamped
	c = New(Config{DefaultThresholdUs: 10, MinThresholdUs: 100, MaxThresholdUs: 500})
	if got := c.GetThresholdUs(); got != 100 {
		t.Errorf("clamped default threshold = %d, want 100", got)
	}
}

func TestHandleEdgeCountsSpacedEdges(t *testing.T) {
	c := New(DefaultConfig())

	// Every edge spaced well beyond the threshold is accepted
	ts := uint64(500)
	c.HandleEdge(ts)
	for i := 0; i < 4; i++ {
		ts += 5000
		c.HandleEdge(ts)
	}

	if got := c.GetCount(); got != 5 {
		t.Errorf("count = %d, want 5", got)
	}

	s := c.Snapshot()
	if s.LastIntervalUs != 5000 {
		t.Errorf("LastIntervalUs = %d, want 5000", s.LastIntervalUs)
	}
}

func TestFirstEdgeAccepted(t *testing.T) {
	c := New(DefaultConfig())

	// The first edge is measured against the zero sentinel and always
	// accepted, even when its interval is below the threshold.
	c.HandleEdge(50)

	if got := c.GetCount(); got != 1 {
		t.Errorf("count = %d, want 1", got)
	}
	if s := c.Snapshot(); s.LastIntervalUs != 50 {
		t.Errorf("LastIntervalUs = %d, want 50", s.LastIntervalUs)
	}
}

func TestHandleEdgeRejectsBounce(t *testing.T) {
	c := New(DefaultConfig())

	c.HandleEdge(2000)
	if !c.ConsumePending() {
		t.Fatal("pending should be set after accepted edge")
	}

	before := c.Snapshot()

	// An edge inside the threshold window mutates nothing
	c.HandleEdge(2500)

	after := c.Snapshot()
	if after != before {
		t.Errorf("state changed on bounced edge: %+v -> %+v", before, after)
	}
	if c.ConsumePending() {
		t.Error("pending should not be set by a bounced edge")
	}

	// The next spaced edge is measured from the last accepted one
	c.HandleEdge(4000)
	s := c.Snapshot()
	if s.TotalCount != 2 {
		t.Errorf("count = %d, want 2", s.TotalCount)
	}
	if s.LastIntervalUs != 2000 {
		t.Errorf("LastIntervalUs = %d, want 2000", s.LastIntervalUs)
	}
}

func TestEdgeAtThresholdIsBounce(t *testing.T) {
	c := New(DefaultConfig())

	c.HandleEdge(5000)
	// Interval exactly equal to the threshold still counts as bounce
	c.HandleEdge(6000)

	if got := c.GetCount(); got != 1 {
		t.Errorf("count = %d, want 1", got)
	}
}

func TestConsumePendingOncePerEdge(t *testing.T) {
	c := New(DefaultConfig())

	if c.ConsumePending() {
		t.Error("pending should start clear")
	}

	c.HandleEdge(2000)
	if !c.ConsumePending() {
		t.Error("first consume after edge should be true")
	}
	if c.ConsumePending() {
		t.Error("second consume without a new edge should be false")
	}

	c.HandleEdge(4000)
	if !c.ConsumePending() {
		t.Error("consume after second edge should be true")
	}
}

func TestReset(t *testing.T) {
	c := New(DefaultConfig())

	// Drive the threshold away from its default
	ts := uint64(500)
	c.HandleEdge(ts)
	for i := 0; i < 5; i++ {
		ts += 5000
		c.HandleEdge(ts)
	}
	if got := c.GetThresholdUs(); got == DefaultThresholdUs {
		t.Fatalf("threshold should have moved off the default, still %d", got)
	}

	prev := c.Reset()
	if prev.TotalCount != 6 {
		t.Errorf("pre-reset snapshot count = %d, want 6", prev.TotalCount)
	}
	if prev.LastIntervalUs != 5000 {
		t.Errorf("pre-reset snapshot interval = %d, want 5000", prev.LastIntervalUs)
	}

	s := c.Snapshot()
	if s.TotalCount != 0 {
		t.Errorf("count after reset = %d, want 0", s.TotalCount)
	}
	if s.LastIntervalUs != 0 {
		t.Errorf("interval after reset = %d, want 0", s.LastIntervalUs)
	}
	if s.ThresholdUs != DefaultThresholdUs {
		t.Errorf("threshold after reset = %d, want %d", s.ThresholdUs, DefaultThresholdUs)
	}
	if c.ConsumePending() {
		t.Error("pending should be clear after reset")
	}
	if valid, sum := c.filter.history.stats(); valid != 0 || sum != 0 {
		t.Errorf("history after reset: valid=%d sum=%d, want 0/0", valid, sum)
	}
	if c.filter.history.writeIndex != 0 {
		t.Errorf("writeIndex after reset = %d, want 0", c.filter.history.writeIndex)
	}
	if s.EpochStart.Before(prev.EpochStart) {
		t.Error("epoch start should not move backwards on reset")
	}
}

func TestResetIdempotent(t *testing.T) {
	c := New(DefaultConfig())

	c.HandleEdge(2000)
	c.Reset()
	prev := c.Reset()

	if prev.TotalCount != 0 || prev.LastIntervalUs != 0 {
		t.Errorf("second reset snapshot = %+v, want zeroed counters", prev)
	}
	s := c.Snapshot()
	if s.TotalCount != 0 || s.LastIntervalUs != 0 || s.ThresholdUs != DefaultThresholdUs {
		t.Errorf("state after double reset = %+v", s)
	}
}

func TestGetStatus(t *testing.T) {
	c := New(DefaultConfig())
	c.HandleEdge(2000)
	c.HandleEdge(4000)

	status := c.GetStatus()
	if status["count"] != uint64(2) {
		t.Errorf("status count = %v, want 2", status["count"])
	}
	if status["last_interval_us"] != uint64(2000) {
		t.Errorf("status last_interval_us = %v, want 2000", status["last_interval_us"])
	}
	if status["frequency"] != 500.0 {
		t.Errorf("status frequency = %v, want 500", status["frequency"])
	}
}

func TestConcurrentEdgesAndSnapshots(t *testing.T) {
	c := New(DefaultConfig())
	done := make(chan struct{})

	go func() {
		defer close(done)
		ts := uint64(1000)
		for i := 0; i < 5000; i++ {
			c.HandleEdge(ts)
			ts += 5000
		}
	}()

	var last uint64
	for {
		s := c.Snapshot()
		if s.TotalCount < last {
			t.Errorf("count went backwards: %d -> %d", last, s.TotalCount)
			break
		}
		last = s.TotalCount
		if s.ThresholdUs < MinThresholdUs || s.ThresholdUs > MaxThresholdUs {
			t.Errorf("threshold %d outside [%d, %d]", s.ThresholdUs, MinThresholdUs, MaxThresholdUs)
			break
		}

		select {
		case <-done:
			if got := c.GetCount(); got != 5000 {
				t.Errorf("final count = %d, want 5000", got)
			}
			return
		default:
		}
	}
	<-done
}

func TestConcurrentConsumePending(t *testing.T) {
	c := New(DefaultConfig())

	var trues atomic.Int64
	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if c.ConsumePending() {
					trues.Add(1)
				}
			}
		}()
	}

	ts := uint64(1000)
	for i := 0; i < 1000; i++ {
		c.HandleEdge(ts)
		ts += 5000
	}

	close(stop)
	wg.Wait()
	if c.ConsumePending() {
		trues.Add(1)
	}

	accepted := int64(c.GetCount())
	if trues.Load() > accepted {
		t.Errorf("consumed %d pendings for %d accepted edges", trues.Load(), accepted)
	}
	if trues.Load() == 0 {
		t.Error("no pending was ever consumed")
	}
}

func TestConcurrentResetAndEdges(t *testing.T) {
	c := New(DefaultConfig())
	done := make(chan struct{})

	go func() {
		defer close(done)
		ts := uint64(1000)
		for i := 0; i < 3000; i++ {
			c.HandleEdge(ts)
			ts += 5000
		}
	}()

	for i := 0; ; i++ {
		if i%100 == 0 {
			c.Reset()
		}
		s := c.Snapshot()
		if s.ThresholdUs < MinThresholdUs || s.ThresholdUs > MaxThresholdUs {
			t.Errorf("threshold %d outside bounds during reset churn", s.ThresholdUs)
			break
		}

		select {
		case <-done:
			c.Reset()
			s := c.Snapshot()
			if s.TotalCount != 0 || s.LastIntervalUs != 0 || s.ThresholdUs != DefaultThresholdUs {
				t.Errorf("state after final reset = %+v", s)
			}
			return
		default:
		}
	}
	<-done
}
