// Package pulse implements single-channel pulse-train capture with an
// adaptive debounce filter. One goroutine delivers timestamped edges
// (typically a GPIO event handler); any other goroutine may read
// snapshots, consume the pending flag or reset the measurement epoch.
package pulse

import (
	"sync"
	"time"
)

// Capture holds the measurement state for one pulse channel. A single
// mutex covers every field, so a reset can never expose half-cleared
// state to the edge handler and a snapshot can never tear.
type Capture struct {
	mu sync.Mutex

	// State
	totalCount      uint64
	lastTimestampUs uint64
	lastIntervalUs  uint64
	pending         bool
	filter          adaptiveFilter
	epochStart      time.Time
}

// Config holds capture configuration. All thresholds are microseconds.
type Config struct {
	DefaultThresholdUs uint64
	MinThresholdUs     uint64
	MaxThresholdUs     uint64
}

// DefaultConfig returns the default capture configuration.
func DefaultConfig() Config {
	return Config{
		DefaultThresholdUs: DefaultThresholdUs,
		MinThresholdUs:     MinThresholdUs,
		MaxThresholdUs:     MaxThresholdUs,
	}
}

// New creates a capture channel. Zero config fields fall back to the
// defaults; an inverted min/max pair is swapped; the default threshold
// is clamped into the configured bounds.
func New(cfg Config) *Capture {
	if cfg.DefaultThresholdUs == 0 {
		cfg.DefaultThresholdUs = DefaultThresholdUs
	}
	if cfg.MinThresholdUs == 0 {
		cfg.MinThresholdUs = MinThresholdUs
	}
	if cfg.MaxThresholdUs == 0 {
		cfg.MaxThresholdUs = MaxThresholdUs
	}
	if cfg.MinThresholdUs > cfg.MaxThresholdUs {
		cfg.MinThresholdUs, cfg.MaxThresholdUs = cfg.MaxThresholdUs, cfg.MinThresholdUs
	}
	if cfg.DefaultThresholdUs < cfg.MinThresholdUs {
		cfg.DefaultThresholdUs = cfg.MinThresholdUs
	} else if cfg.DefaultThresholdUs > cfg.MaxThresholdUs {
		cfg.DefaultThresholdUs = cfg.MaxThresholdUs
	}

	return &Capture{
		filter:     newAdaptiveFilter(cfg.DefaultThresholdUs, cfg.MinThresholdUs, cfg.MaxThresholdUs),
		epochStart: time.Now(),
	}
}

// HandleEdge records one hardware edge. timestampUs is the edge time in
// microseconds on a monotonic clock; zero is reserved as the "no edge
// yet" sentinel, so callers must deliver timestamps starting at 1. An
// edge closer to the previous accepted edge than the current threshold
// is bounce and is discarded without touching any state. O(1), no
// allocation, no I/O.
func (c *Capture) HandleEdge(timestampUs uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	interval := timestampUs - c.lastTimestampUs
	if c.lastTimestampUs != 0 && interval <= c.filter.thresholdUs {
		return
	}

	c.lastIntervalUs = interval
	c.lastTimestampUs = timestampUs
	c.filter.observe(interval)
	c.totalCount++
	c.pending = true
}

// ConsumePending reports whether an edge has been accepted since the
// last call, clearing the flag. Returns true at most once per edge.
func (c *Capture) ConsumePending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.pending
	c.pending = false
	return p
}

// Reset clears the measurement state and starts a new epoch: counters
// and timestamps to zero, pending cleared, threshold back to its
// configured default, history emptied. The pre-reset snapshot is
// returned for the caller to report. Idempotent.
func (c *Capture) Reset() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.snapshotLocked()
	c.totalCount = 0
	c.lastTimestampUs = 0
	c.lastIntervalUs = 0
	c.pending = false
	c.filter.reset()
	c.epochStart = time.Now()
	return prev
}

// GetCount returns the number of accepted edges in the current epoch.
func (c *Capture) GetCount() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalCount
}

// GetThresholdUs returns the current debounce threshold.
func (c *Capture) GetThresholdUs() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filter.thresholdUs
}

// GetStatus returns capture status for diagnostics.
func (c *Capture) GetStatus() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.snapshotLocked()
	return map[string]any{
		"count":            s.TotalCount,
		"last_interval_us": s.LastIntervalUs,
		"threshold_us":     s.ThresholdUs,
		"frequency":        s.InstantFrequencyHz(),
		"epoch_start":      s.EpochStart,
	}
}
