//go:build linux

// Pulse meter daemon assembly
//
// Wires the capture core to its inputs and outputs: the GPIO pulse
// line feeding edges in, the periodic reporter writing records out,
// the optional reset button, metrics endpoint and HTTP/websocket API.
// All state transitions (report ticks, button settles, resets) run on
// one reactor goroutine; network-triggered resets are marshalled onto
// it so they serialize with everything else.
//
// Copyright (C) 2026  LeituraPulsos Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package meter

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/caosdp-rs/LeituraPulsos/pkg/api"
	"github.com/caosdp-rs/LeituraPulsos/pkg/config"
	"github.com/caosdp-rs/LeituraPulsos/pkg/errors"
	"github.com/caosdp-rs/LeituraPulsos/pkg/gpio"
	"github.com/caosdp-rs/LeituraPulsos/pkg/log"
	"github.com/caosdp-rs/LeituraPulsos/pkg/metrics"
	"github.com/caosdp-rs/LeituraPulsos/pkg/pulse"
	"github.com/caosdp-rs/LeituraPulsos/pkg/reactor"
	"github.com/caosdp-rs/LeituraPulsos/pkg/report"
	"github.com/caosdp-rs/LeituraPulsos/pkg/serial"
)

// resetWait bounds how long a network reset request waits for the
// event loop before giving up
const resetWait = 5 * time.Second

// Meter is the assembled daemon. Build one with New or NewFromFile,
// then Start it; Shutdown releases the hardware and flushes state.
type Meter struct {
	mu        sync.Mutex
	running   bool
	startTime time.Time

	cfg     *config.MeterConfig
	cfgPath string
	raw     *config.Config
	logger  *log.Logger

	reactor *reactor.Reactor
	capture *pulse.Capture
	pm      *metrics.PulseMetrics

	source   gpio.EdgeSource
	line     *gpio.PulseLine
	button   *gpio.ResetButton
	reporter *report.Reporter

	targetOverride io.Writer
	targetName     string

	serialPort    *serial.Port
	metricsServer *metrics.MetricsServer
	apiServer     *api.Server

	registry  *config.Registry
	reloadMgr *config.ReloadManager
}

// New assembles a meter from a typed configuration. Hardware is not
// touched until Start. Hot reload and threshold persistence need the
// config file context, so they are only available via NewFromFile.
func New(mc *config.MeterConfig) (*Meter, error) {
	if mc == nil {
		return nil, errors.RuntimeErrorInit("meter", "nil configuration")
	}
	if mc.Report.Target == "serial" && mc.Serial == nil {
		return nil, errors.RuntimeErrorInit("meter", "report targets serial but no serial port is configured")
	}

	m := &Meter{
		cfg:     mc,
		logger:  log.GetLogger("meter"),
		reactor: reactor.New(),
		pm:      metrics.NewPulseMetrics(),
	}

	m.capture = pulse.New(pulse.Config{
		DefaultThresholdUs: mc.Debounce.DefaultUs,
		MinThresholdUs:     mc.Debounce.MinUs,
		MaxThresholdUs:     mc.Debounce.MaxUs,
	})

	m.reporter = report.New(report.Config{
		Interval:  mc.Report.Interval,
		Format:    mc.Report.Format,
		AutoReset: mc.AutoReset.Interval,
	}, m.capture, m.reactor)
	m.reporter.SetMetrics(m.pm)

	if mc.ResetButton != nil {
		m.button = gpio.NewResetButton(m.reactor, gpio.ButtonConfig{
			Chip:   mc.ResetButton.Chip,
			Line:   mc.ResetButton.Line,
			Pullup: mc.ResetButton.Pullup,
			Invert: mc.ResetButton.Invert,
			Settle: mc.ResetButton.Settle,
		})
		// The settle timer already runs on the reactor goroutine, so
		// the reset needs no marshalling here
		m.button.SetPressCallback(func() {
			m.resetNow(metrics.ResetTriggerButton)
		})
	}

	if mc.Metrics != nil {
		scfg := metrics.DefaultMetricsServerConfig()
		scfg.Address = mc.Metrics.Address
		scfg.Username = mc.Metrics.AuthUser
		scfg.Password = mc.Metrics.AuthPass
		m.metricsServer = metrics.NewMetricsServerWithConfig(m.pm, scfg)
	}

	if mc.API != nil {
		m.apiServer = api.New(api.Config{
			Address:        mc.API.Address,
			AllowedOrigins: mc.API.AllowedOrigins,
		}, m.capture)
		m.apiServer.SetResetFunc(func() (pulse.Snapshot, error) {
			return m.requestReset(metrics.ResetTriggerAPI)
		})
		m.apiServer.SetStatusFunc(m.GetStatus)
		m.reporter.SetRecordCallback(m.apiServer.BroadcastRecord)
		m.reporter.SetResetCallback(func(prev pulse.Snapshot) {
			m.apiServer.BroadcastReset(prev, metrics.ResetTriggerAuto)
		})
	}

	m.registry = config.NewRegistry()
	m.registry.Register("report", func(sec *config.Section) (config.Module, error) {
		return m.reporter, nil
	})

	return m, nil
}

// NewFromFile loads the config file and assembles a meter with hot
// reload and threshold persistence wired up.
func NewFromFile(path string) (*Meter, error) {
	mc, cfg, err := config.LoadMeterConfigFile(path)
	if err != nil {
		return nil, err
	}

	m, err := New(mc)
	if err != nil {
		return nil, err
	}
	m.cfgPath = path
	m.raw = cfg
	m.reloadMgr = config.NewReloadManager(m.registry, cfg, path)

	if _, err := m.registry.LoadModules(cfg); err != nil {
		return nil, err
	}

	// A typo'd option should be loud but not fatal
	if err := cfg.CheckUnusedOptions(); err != nil {
		m.logger.Warn("%v", err)
	}
	for _, sec := range cfg.GetUnusedSections() {
		m.logger.Warn("config section [%s] is not used", sec)
	}

	return m, nil
}

// SetEdgeSource replaces the hardware pulse line with the given
// source. Must be called before Start. Used by the simulator and by
// tests to inject synthetic edges.
func (m *Meter) SetEdgeSource(src gpio.EdgeSource) {
	m.source = src
}

// SetReportTarget overrides the configured report target with the
// given stream. Must be called before Start.
func (m *Meter) SetReportTarget(w io.Writer, name string) {
	m.targetOverride = w
	m.targetName = name
}

// Capture exposes the capture channel
func (m *Meter) Capture() *pulse.Capture {
	return m.capture
}

// Reporter exposes the report component
func (m *Meter) Reporter() *report.Reporter {
	return m.reporter
}

// Start claims the GPIO lines, opens the report target and begins
// counting and reporting.
func (m *Meter) Start() error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.RuntimeErrorInit("meter", "already started")
	}
	m.running = true
	m.startTime = time.Now()
	m.mu.Unlock()

	m.logger.Info("starting pulse meter: chip=%s line=%d", m.pulseChip(), m.cfg.Pulse.Line)

	if m.source == nil {
		if !gpio.ChipAvailable(m.pulseChip()) {
			m.setStopped()
			return errors.GpioReadError(m.pulseChip(), m.cfg.Pulse.Line, "gpio chip not present")
		}
		m.line = gpio.NewPulseLine(gpio.LineConfig{
			Chip:   m.cfg.Pulse.Chip,
			Line:   m.cfg.Pulse.Line,
			Pullup: m.cfg.Pulse.Pullup,
			Invert: m.cfg.Pulse.Invert,
		})
		m.source = m.line
	}
	if err := m.source.Start(m.handleEdge); err != nil {
		m.setStopped()
		return err
	}

	if m.button != nil {
		if err := m.button.Start(); err != nil {
			_ = m.source.Close()
			m.setStopped()
			return err
		}
	}

	target, name, err := m.openReportTarget()
	if err != nil {
		m.closeInputs()
		m.setStopped()
		return err
	}
	m.reporter.SetTarget(target, name)

	m.reactor.Run()
	m.reporter.Start()

	if m.metricsServer != nil {
		go func() {
			if err := m.metricsServer.Start(); err != nil {
				m.logger.WithError(err).Error("metrics server failed")
			}
		}()
	}
	if m.apiServer != nil {
		go func() {
			if err := m.apiServer.Start(); err != nil {
				m.logger.WithError(err).Error("api server failed")
			}
		}()
	}

	m.logger.Info("pulse meter running: report every %.1fs to %s",
		m.cfg.Report.Interval.Seconds(), name)
	return nil
}

// Shutdown stops edge delivery, emits no further reports, stops the
// servers and persists the learned threshold when configured. Safe to
// call once after a successful Start.
func (m *Meter) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	m.mu.Unlock()

	m.logger.Info("shutting down")

	m.closeInputs()
	m.reporter.Stop()

	var firstErr error
	if m.apiServer != nil {
		if err := m.apiServer.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if m.metricsServer != nil {
		if err := m.metricsServer.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	m.reactor.End()
	m.reactor.Wait()

	if m.serialPort != nil {
		if err := m.serialPort.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if err := m.saveThreshold(); err != nil && firstErr == nil {
		firstErr = err
	}

	m.logger.Info("shutdown complete: %d pulses counted", m.capture.GetCount())
	return firstErr
}

// IsRunning reports whether Start has succeeded and Shutdown has not
// yet been called
func (m *Meter) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Reload re-reads the config file and hot-reloads the components that
// support it. Sections that cannot be reloaded are logged as needing
// a restart.
func (m *Meter) Reload() error {
	if m.reloadMgr == nil {
		return errors.RuntimeError("hot reload requires a meter built from a config file")
	}

	results, err := m.reloadMgr.ReloadFromFile()
	if err != nil {
		return err
	}

	for _, res := range results {
		switch {
		case res.WasReloaded:
			m.logger.Info("reloaded [%s]", res.Section)
		case res.Error != nil:
			m.logger.WithError(res.Error).Warnf("reload of [%s] failed", res.Section)
		default:
			m.logger.Info("[%s] changed; restart required to apply", res.Section)
		}
	}
	return nil
}

// GetStatus returns the status of every component for diagnostics and
// the API status endpoint
func (m *Meter) GetStatus() map[string]any {
	status := map[string]any{
		"pulse":     m.capture.GetStatus(),
		"report":    m.reporter.GetStatus(),
		"eventtime": m.reactor.Monotonic(),
	}

	m.mu.Lock()
	if m.running {
		status["uptime"] = time.Since(m.startTime).Seconds()
	}
	m.mu.Unlock()

	if m.line != nil {
		status["gpio"] = m.line.GetStatus()
	}
	if m.button != nil {
		status["reset_button"] = m.button.GetStatus()
	}
	if m.metricsServer != nil {
		status["metrics"] = m.metricsServer.GetStatus()
	}
	if m.apiServer != nil {
		status["api"] = m.apiServer.GetStatus()
	}
	return status
}

// handleEdge runs on the gpiocdev event goroutine for every detected
// edge. Whether the edge survived the debounce filter is inferred from
// the count, which keeps the hot path free of a second return channel.
func (m *Meter) handleEdge(timestampUs uint64) {
	before := m.capture.GetCount()
	m.capture.HandleEdge(timestampUs)
	m.pm.RecordEdge(m.capture.GetCount() != before)
}

// resetNow performs a reset. Must run on the reactor goroutine so it
// serializes with report ticks.
func (m *Meter) resetNow(trigger string) pulse.Snapshot {
	prev := m.capture.Reset()
	m.logger.WithFields(log.Fields{
		"trigger":      trigger,
		"pulses":       prev.TotalCount,
		"threshold_us": prev.ThresholdUs,
	}).Info("counter reset")
	m.pm.RecordReset(trigger)
	if m.apiServer != nil {
		m.apiServer.BroadcastReset(prev, trigger)
	}
	return prev
}

// requestReset marshals a reset from a network goroutine onto the
// reactor and waits for the pre-reset snapshot.
func (m *Meter) requestReset(trigger string) (pulse.Snapshot, error) {
	completion := m.reactor.RegisterAsyncCallback(func(eventtime float64) interface{} {
		return m.resetNow(trigger)
	}, reactor.NOW)

	result := completion.Wait(resetWait, nil)
	snap, ok := result.(pulse.Snapshot)
	if !ok {
		return pulse.Snapshot{}, errors.RuntimeError("reset not performed: event loop unavailable")
	}
	return snap, nil
}

// openReportTarget resolves the configured report target to a writer
func (m *Meter) openReportTarget() (io.Writer, string, error) {
	if m.targetOverride != nil {
		return m.targetOverride, m.targetName, nil
	}
	switch m.cfg.Report.Target {
	case "stderr":
		return os.Stderr, "stderr", nil
	case "serial":
		return m.openSerialTarget()
	default:
		return os.Stdout, "stdout", nil
	}
}

func (m *Meter) openSerialTarget() (io.Writer, string, error) {
	device, err := serial.ResolveDevice(m.cfg.Serial.Port)
	if err != nil {
		return nil, "", err
	}
	if !serial.IsDeviceAvailable(device) {
		return nil, "", errors.SerialOpenError(device, fmt.Errorf("device not available"))
	}

	scfg := serial.DefaultConfig()
	scfg.Device = device
	scfg.Baud = m.cfg.Serial.Baud
	port, err := serial.Open(scfg)
	if err != nil {
		return nil, "", err
	}
	m.serialPort = port
	m.logger.Info("report target: %s at %d baud", device, scfg.Baud)
	return port, device, nil
}

// saveThreshold persists the learned debounce threshold back into the
// config file so the next run starts from it
func (m *Meter) saveThreshold() error {
	if !m.cfg.Debounce.SaveOnExit || m.raw == nil || m.cfgPath == "" {
		return nil
	}

	thr := m.capture.GetThresholdUs()
	ac := config.NewAutosaveConfig(m.raw, m.cfgPath)
	if err := ac.SetOption("debounce", "default_threshold_us", strconv.FormatUint(thr, 10)); err != nil {
		return err
	}
	if err := ac.SaveChanges(""); err != nil {
		m.logger.WithError(err).Warn("failed to persist learned threshold")
		return err
	}
	m.logger.Info("persisted learned threshold: %dus", thr)
	return nil
}

func (m *Meter) pulseChip() string {
	if m.cfg.Pulse.Chip == "" {
		return gpio.DefaultChip
	}
	return m.cfg.Pulse.Chip
}

func (m *Meter) setStopped() {
	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
}

// closeInputs releases both GPIO lines, tolerating partial startup
func (m *Meter) closeInputs() {
	if m.source != nil {
		_ = m.source.Close()
	}
	if m.button != nil {
		_ = m.button.Close()
	}
}
