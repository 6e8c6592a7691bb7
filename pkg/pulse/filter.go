package pulse

// HistorySize is the number of accepted intervals the filter keeps.
const HistorySize = 5

// Threshold defaults in microseconds.
const (
	DefaultThresholdUs uint64 = 1000
	MinThresholdUs     uint64 = 100
	MaxThresholdUs     uint64 = 50000
)

// intervalRing is a fixed-capacity ring of accepted intervals in
// microseconds. A zero slot is unset. No allocation after construction.
type intervalRing struct {
	slots      [HistorySize]uint64
	writeIndex int
}

func (r *intervalRing) push(intervalUs uint64) {
	r.slots[r.writeIndex] = intervalUs
	r.writeIndex = (r.writeIndex + 1) % HistorySize
}

// stats returns the number of set slots and their sum.
func (r *intervalRing) stats() (validCount int, sumUs uint64) {
	for _, v := range r.slots {
		if v != 0 {
			validCount++
			sumUs += v
		}
	}
	return validCount, sumUs
}

func (r *intervalRing) clear() {
	r.slots = [HistorySize]uint64{}
	r.writeIndex = 0
}

// adaptiveFilter tunes the debounce threshold to the measured signal.
// The threshold stays within [minUs, maxUs] at all times.
type adaptiveFilter struct {
	thresholdUs uint64
	defaultUs   uint64
	minUs       uint64
	maxUs       uint64
	history     intervalRing
}

func newAdaptiveFilter(defaultUs, minUs, maxUs uint64) adaptiveFilter {
	return adaptiveFilter{
		thresholdUs: defaultUs,
		defaultUs:   defaultUs,
		minUs:       minUs,
		maxUs:       maxUs,
	}
}

// observe records an accepted interval and retunes the threshold.
func (f *adaptiveFilter) observe(intervalUs uint64) {
	f.history.push(intervalUs)
	f.recompute()
}

// recompute derives a new threshold from the history: one twelfth of the
// average accepted interval (~8.3% of the period), clamped into
// [minUs, maxUs], then blended 70/30 into the previous threshold.
// Integer arithmetic throughout, truncation included. Fewer than two
// recorded intervals leave the threshold untouched.
func (f *adaptiveFilter) recompute() {
	validCount, sumUs := f.history.stats()
	if validCount < 2 {
		return
	}
	average := sumUs / uint64(validCount)
	candidate := average / 12
	if candidate < f.minUs {
		candidate = f.minUs
	} else if candidate > f.maxUs {
		candidate = f.maxUs
	}
	f.thresholdUs = (f.thresholdUs*7 + candidate*3) / 10
}

// reset restores the default threshold and empties the history.
func (f *adaptiveFilter) reset() {
	f.thresholdUs = f.defaultUs
	f.history.clear()
}
