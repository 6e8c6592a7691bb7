package pulse

import "time"

// Snapshot is a consistent copy of the capture state at one instant.
// Derivations are pure functions of the copy, so two snapshots taken
// with no accepted edge in between are identical.
type Snapshot struct {
	TotalCount     uint64
	LastIntervalUs uint64
	ThresholdUs    uint64
	EpochStart     time.Time
}

// Snapshot returns a consistent copy of the capture state.
func (c *Capture) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Capture) snapshotLocked() Snapshot {
	return Snapshot{
		TotalCount:     c.totalCount,
		LastIntervalUs: c.lastIntervalUs,
		ThresholdUs:    c.filter.thresholdUs,
		EpochStart:     c.epochStart,
	}
}

// InstantFrequencyHz derives the frequency in Hz from the last accepted
// interval. Zero when no interval has been measured yet.
func (s Snapshot) InstantFrequencyHz() float64 {
	if s.LastIntervalUs == 0 {
		return 0
	}
	return 1e6 / float64(s.LastIntervalUs)
}

// PeriodUs returns the last accepted interval in microseconds.
func (s Snapshot) PeriodUs() uint64 {
	return s.LastIntervalUs
}

// WindowedFrequencyHz computes the average pulse rate between two
// snapshots taken dt apart. Returns zero when dt is not positive or
// when a reset happened in between (the counter restarted).
func WindowedFrequencyHz(prev, cur Snapshot, dt time.Duration) float64 {
	if dt <= 0 || cur.TotalCount < prev.TotalCount {
		return 0
	}
	return float64(cur.TotalCount-prev.TotalCount) / dt.Seconds()
}
