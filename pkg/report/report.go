// Package report emits the periodic measurement record. One reactor
// timer drives everything per tick: sample the capture, derive the
// windowed frequency from the previous tick's snapshot, write one line
// to the configured stream, update the metrics gauges, notify
// listeners, and evaluate the auto-reset due time.
package report

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/caosdp-rs/LeituraPulsos/pkg/config"
	"github.com/caosdp-rs/LeituraPulsos/pkg/log"
	"github.com/caosdp-rs/LeituraPulsos/pkg/metrics"
	"github.com/caosdp-rs/LeituraPulsos/pkg/pulse"
	"github.com/caosdp-rs/LeituraPulsos/pkg/reactor"
)

// Config holds reporter configuration.
type Config struct {
	Interval  time.Duration
	Format    string        // "text" or "json"
	AutoReset time.Duration // reset the epoch this long after it starts; zero disables
}

// DefaultConfig returns the default reporter configuration.
func DefaultConfig() Config {
	return Config{
		Interval: time.Second,
		Format:   FormatText,
	}
}

// Reporter samples the capture on a reactor timer and emits one record
// per tick. The windowed frequency pairs each tick's snapshot with the
// previous one, so the capture itself stores no reporting state.
type Reporter struct {
	mu sync.Mutex

	capture *pulse.Capture
	reactor *reactor.Reactor
	timer   *reactor.Timer
	logger  *log.Logger

	interval  time.Duration
	format    string
	autoReset time.Duration

	target     io.Writer
	targetName string

	prev     pulse.Snapshot
	prevTime float64
	havePrev bool

	pm       *metrics.PulseMetrics
	onRecord func(Record)
	onReset  func(pulse.Snapshot)

	reports   uint64
	writeErrs uint64
	running   bool
}

// New creates a reporter writing to stdout. The timer stays dormant
// until Start.
func New(cfg Config, capture *pulse.Capture, r *reactor.Reactor) *Reporter {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.Format == "" {
		cfg.Format = FormatText
	}

	rp := &Reporter{
		capture:    capture,
		reactor:    r,
		logger:     log.GetLogger("report"),
		interval:   cfg.Interval,
		format:     cfg.Format,
		autoReset:  cfg.AutoReset,
		target:     os.Stdout,
		targetName: "stdout",
	}
	rp.timer = r.RegisterTimer(rp.tick, reactor.NEVER)
	return rp
}

// SetTarget redirects report output. name appears in status and logs.
func (rp *Reporter) SetTarget(w io.Writer, name string) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.target = w
	rp.targetName = name
}

// SetMetrics attaches the metrics bundle updated on every tick.
func (rp *Reporter) SetMetrics(pm *metrics.PulseMetrics) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.pm = pm
}

// SetRecordCallback registers a listener for each emitted record. It
// runs on the reactor goroutine and must not block.
func (rp *Reporter) SetRecordCallback(fn func(Record)) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.onRecord = fn
}

// SetResetCallback registers a listener for automatic resets. It
// receives the pre-reset snapshot on the reactor goroutine.
func (rp *Reporter) SetResetCallback(fn func(pulse.Snapshot)) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.onReset = fn
}

// Start arms the report timer one interval from now.
func (rp *Reporter) Start() {
	rp.mu.Lock()
	if rp.running {
		rp.mu.Unlock()
		return
	}
	rp.running = true
	interval := rp.interval
	rp.mu.Unlock()

	rp.reactor.UpdateTimer(rp.timer, rp.reactor.Monotonic()+interval.Seconds())
}

// Stop parks the report timer.
func (rp *Reporter) Stop() {
	rp.mu.Lock()
	if !rp.running {
		rp.mu.Unlock()
		return
	}
	rp.running = false
	rp.mu.Unlock()

	rp.reactor.UpdateTimer(rp.timer, reactor.NEVER)
}

// tick runs on the reactor goroutine.
func (rp *Reporter) tick(eventtime float64) float64 {
	start := time.Now()

	// Consume before sampling so a fresh flag always refers to an edge
	// the snapshot already contains
	fresh := rp.capture.ConsumePending()
	snap := rp.capture.Snapshot()

	rp.mu.Lock()
	if !rp.running {
		rp.mu.Unlock()
		return reactor.NEVER
	}

	var window float64
	if rp.havePrev {
		dt := time.Duration((eventtime - rp.prevTime) * float64(time.Second))
		window = pulse.WindowedFrequencyHz(rp.prev, snap, dt)
	}
	rp.prev = snap
	rp.prevTime = eventtime
	rp.havePrev = true
	rp.reports++

	rec := Record{
		EventTime:   eventtime,
		Pulses:      snap.TotalCount,
		FrequencyHz: snap.InstantFrequencyHz(),
		PeriodUs:    snap.PeriodUs(),
		WindowHz:    window,
		ThresholdUs: snap.ThresholdUs,
		Fresh:       fresh,
	}

	format := rp.format
	target := rp.target
	pm := rp.pm
	onRecord := rp.onRecord
	onReset := rp.onReset
	autoReset := rp.autoReset
	interval := rp.interval
	rp.mu.Unlock()

	line, err := rec.Render(format)
	if err == nil {
		_, err = target.Write(line)
	}
	if err != nil {
		rp.mu.Lock()
		rp.writeErrs++
		rp.mu.Unlock()
		rp.logger.WithError(err).Warn("report write failed")
	}

	if pm != nil {
		pm.SetReading(rec.Pulses, rec.FrequencyHz, rec.WindowHz, rec.PeriodUs, rec.ThresholdUs)
		pm.RecordReportDuration(time.Since(start))
	}
	if onRecord != nil {
		onRecord(rec)
	}

	if autoReset > 0 && time.Since(snap.EpochStart) >= autoReset {
		prevSnap := rp.capture.Reset()
		rp.logger.WithFields(log.Fields{
			"pulses":       prevSnap.TotalCount,
			"threshold_us": prevSnap.ThresholdUs,
		}).Info("auto reset")
		if pm != nil {
			pm.RecordReset(metrics.ResetTriggerAuto)
		}
		if onReset != nil {
			onReset(prevSnap)
		}
		rp.mu.Lock()
		rp.havePrev = false
		rp.mu.Unlock()
	}

	return eventtime + interval.Seconds()
}

// GetName implements config.Module.
func (rp *Reporter) GetName() string {
	return "report"
}

// CanReload implements config.Reloadable. Interval and format apply
// hot; the target stream is owned by the meter and changes only on
// restart.
func (rp *Reporter) CanReload() bool {
	return true
}

// Reload applies a changed [report] section.
func (rp *Reporter) Reload(sec *config.Section) error {
	zero := 0.0
	ival, err := sec.GetFloatWithBounds("interval", config.FloatBounds{Above: &zero}, 1.0)
	if err != nil {
		return err
	}
	format, err := sec.GetChoice("format", []string{FormatText, FormatJSON}, FormatText)
	if err != nil {
		return err
	}

	rp.mu.Lock()
	rp.interval = time.Duration(ival * float64(time.Second))
	rp.format = format
	interval := rp.interval
	running := rp.running
	rp.mu.Unlock()

	if running {
		rp.reactor.UpdateTimer(rp.timer, rp.reactor.Monotonic()+interval.Seconds())
	}
	rp.logger.Info("report config reloaded: interval=%.1fs format=%s", ival, format)
	return nil
}

// GetStatus returns reporter status for diagnostics.
func (rp *Reporter) GetStatus() map[string]any {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	return map[string]any{
		"interval":     rp.interval.Seconds(),
		"format":       rp.format,
		"target":       rp.targetName,
		"reports":      rp.reports,
		"write_errors": rp.writeErrs,
		"running":      rp.running,
	}
}
