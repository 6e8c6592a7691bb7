// Pulse meter metric definitions
//
// Bundles every metric the daemon exports:
// - Edge counts by filter result
// - Current reading (count, frequency, period, threshold)
// - Counter resets by trigger
// - Report generation latency
// - Go runtime statistics
//
// Copyright (C) 2026  LeituraPulsos Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	goruntime "runtime"
	"sync"
	"time"
)

// Trigger labels reported with pulse_resets_total.
const (
	ResetTriggerButton = "button"
	ResetTriggerAPI    = "api"
	ResetTriggerAuto   = "auto"
)

// Result labels reported with pulse_edges_total.
const (
	EdgeResultAccepted = "accepted"
	EdgeResultBounced  = "bounced"
)

// PulseMetrics holds all metrics exported by the pulse meter daemon
type PulseMetrics struct {
	// Edge metrics
	EdgesTotal *Counter

	// Reading metrics
	PulseCount        *Gauge
	FrequencyHz       *Gauge
	WindowFrequencyHz *Gauge
	PeriodUs          *Gauge
	ThresholdUs       *Gauge

	// Reset metrics
	ResetsTotal *Counter

	// Report metrics
	ReportDuration *Histogram

	// System metrics
	Uptime        *Gauge
	GoGoroutines  *Gauge
	GoMemoryHeap  *Gauge
	GoMemoryAlloc *Gauge
	GoGCCycles    *Counter

	// Internal
	startTime time.Time
	registry  *Registry
}

// NewPulseMetrics creates and registers all pulse meter metrics
func NewPulseMetrics() *PulseMetrics {
	pm := &PulseMetrics{
		startTime: time.Now(),
		registry:  NewRegistry(),
	}

	// Edge metrics
	pm.EdgesTotal = NewCounter("pulse_edges_total",
		"Total GPIO edges seen, labeled by filter result")

	// Reading metrics
	pm.PulseCount = NewGauge("pulse_count",
		"Accepted pulses since the last counter reset")
	pm.FrequencyHz = NewGauge("pulse_frequency_hz",
		"Instantaneous frequency from the last accepted interval")
	pm.WindowFrequencyHz = NewGauge("pulse_window_frequency_hz",
		"Average frequency over the last report window")
	pm.PeriodUs = NewGauge("pulse_period_us",
		"Last accepted pulse interval in microseconds")
	pm.ThresholdUs = NewGauge("pulse_threshold_us",
		"Current adaptive debounce threshold in microseconds")

	// Reset metrics
	pm.ResetsTotal = NewCounter("pulse_resets_total",
		"Total counter resets, labeled by trigger")

	// Report metrics
	pm.ReportDuration = NewHistogram("pulse_report_duration_seconds",
		"Time spent generating a periodic report",
		[]float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05})

	// System metrics
	pm.Uptime = NewGauge("pulse_uptime_seconds",
		"Seconds since the daemon started")
	pm.GoGoroutines = NewGauge("pulse_go_goroutines",
		"Number of active goroutines")
	pm.GoMemoryHeap = NewGauge("pulse_go_memory_heap_bytes",
		"Go heap memory in use")
	pm.GoMemoryAlloc = NewGauge("pulse_go_memory_alloc_bytes",
		"Go total memory allocated")
	pm.GoGCCycles = NewCounter("pulse_go_gc_cycles_total",
		"Total Go garbage collection cycles")

	pm.registerAll()

	return pm
}

// registerAll registers all metrics with the internal registry
func (pm *PulseMetrics) registerAll() {
	metrics := []Metric{
		pm.EdgesTotal,
		pm.PulseCount, pm.FrequencyHz, pm.WindowFrequencyHz,
		pm.PeriodUs, pm.ThresholdUs,
		pm.ResetsTotal, pm.ReportDuration,
		pm.Uptime, pm.GoGoroutines, pm.GoMemoryHeap, pm.GoMemoryAlloc,
		pm.GoGCCycles,
	}
	for _, m := range metrics {
		pm.registry.MustRegister(m)
	}
}

// RecordEdge records one GPIO edge and its filter outcome
func (pm *PulseMetrics) RecordEdge(accepted bool) {
	result := EdgeResultAccepted
	if !accepted {
		result = EdgeResultBounced
	}
	pm.EdgesTotal.Inc(Labels{"result": result})
}

// SetReading publishes the values carried by a periodic report
func (pm *PulseMetrics) SetReading(count uint64, freqHz, windowHz float64, periodUs, thresholdUs uint64) {
	pm.PulseCount.Set(nil, float64(count))
	pm.FrequencyHz.Set(nil, freqHz)
	pm.WindowFrequencyHz.Set(nil, windowHz)
	pm.PeriodUs.Set(nil, float64(periodUs))
	pm.ThresholdUs.Set(nil, float64(thresholdUs))
}

// RecordReset records a counter reset and what triggered it
func (pm *PulseMetrics) RecordReset(trigger string) {
	pm.ResetsTotal.Inc(Labels{"trigger": trigger})
}

// RecordReportDuration records the time spent generating one report
func (pm *PulseMetrics) RecordReportDuration(d time.Duration) {
	pm.ReportDuration.Observe(nil, d.Seconds())
}

// UpdateSystemMetrics updates Go runtime metrics
func (pm *PulseMetrics) UpdateSystemMetrics() {
	var m goruntime.MemStats
	goruntime.ReadMemStats(&m)

	pm.Uptime.Set(nil, time.Since(pm.startTime).Seconds())
	pm.GoGoroutines.Set(nil, float64(goruntime.NumGoroutine()))
	pm.GoMemoryHeap.Set(nil, float64(m.HeapAlloc))
	pm.GoMemoryAlloc.Set(nil, float64(m.Alloc))
	pm.GoGCCycles.Add(nil, uint64(m.NumGC)-pm.GoGCCycles.Get(nil))
}

// Gather returns all metrics in Prometheus text format
func (pm *PulseMetrics) Gather() string {
	pm.UpdateSystemMetrics()
	return pm.registry.Gather()
}

// Registry returns the internal registry
func (pm *PulseMetrics) Registry() *Registry {
	return pm.registry
}

// Global metrics instance
var globalMetrics *PulseMetrics
var globalMetricsOnce sync.Once

// GlobalMetrics returns the global pulse metrics instance
func GlobalMetrics() *PulseMetrics {
	globalMetricsOnce.Do(func() {
		globalMetrics = NewPulseMetrics()
	})
	return globalMetrics
}
