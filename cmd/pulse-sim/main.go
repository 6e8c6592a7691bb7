// pulse-sim feeds a synthetic pulse train through the real capture and
// reporting pipeline, without any GPIO hardware. It simulates:
// - A nominal pulse frequency with optional drift over time
// - Per-pulse timing jitter
// - Contact bounce (extra edges shortly after each real pulse)
//
// The reports it prints are produced by the same code the meter daemon
// runs, so it doubles as a smoke test for the filter and the reporter.
//
// Usage:
//
//	pulse-sim -freq 12.5 [-jitter 0.1] [-bounce 3] [-duration 30]
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/caosdp-rs/LeituraPulsos/pkg/pulse"
	"github.com/caosdp-rs/LeituraPulsos/pkg/reactor"
	"github.com/caosdp-rs/LeituraPulsos/pkg/report"
)

const (
	// Frequency bounds for the drifting generator
	MIN_FREQ_HZ = 0.1
	MAX_FREQ_HZ = 5000.0
)

// Generator statistics, shared between the edge goroutine and main
type SimStats struct {
	mu      sync.Mutex
	edges   uint64
	bounces uint64
}

func (s *SimStats) Record(bounces uint64) {
	s.mu.Lock()
	s.edges++
	s.bounces += bounces
	s.mu.Unlock()
}

func (s *SimStats) Totals() (uint64, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.edges, s.bounces
}

type SimConfig struct {
	freq    float64
	jitter  float64
	bounce  int
	gapUs   uint64
	drift   float64
	capture *pulse.Capture
	stats   *SimStats
	rng     *rand.Rand
}

func main() {
	freq := flag.Float64("freq", 10.0, "Nominal pulse frequency in Hz")
	jitter := flag.Float64("jitter", 0.05, "Timing jitter as a fraction of the period")
	bounce := flag.Int("bounce", 2, "Extra bounce edges after each pulse")
	bounceGap := flag.Uint64("bounce-gap", 200, "Spacing of bounce edges in microseconds")
	drift := flag.Float64("drift", 0.0, "Frequency drift in Hz per second")
	interval := flag.Float64("interval", 1.0, "Report interval in seconds")
	format := flag.String("format", "text", "Report format: text or json")
	duration := flag.Float64("duration", 0.0, "Run time in seconds (0 runs until interrupted)")
	seed := flag.Int64("seed", 0, "Random seed (0 seeds from the clock)")
	flag.Parse()

	if *freq < MIN_FREQ_HZ || *freq > MAX_FREQ_HZ {
		fmt.Fprintf(os.Stderr, "Error: -freq must be between %.1f and %.0f Hz\n", MIN_FREQ_HZ, MAX_FREQ_HZ)
		os.Exit(1)
	}
	if *jitter < 0 || *jitter >= 1 {
		fmt.Fprintf(os.Stderr, "Error: -jitter must be in [0, 1)\n")
		os.Exit(1)
	}
	if *interval <= 0 {
		fmt.Fprintf(os.Stderr, "Error: -interval must be positive\n")
		os.Exit(1)
	}

	// Bounce edges must land well inside the pulse period or the
	// timestamps stop being monotonic.
	gapUs := *bounceGap
	if *bounce > 0 {
		periodUs := uint64(1e6 / *freq)
		if uint64(*bounce)*gapUs*2 > periodUs {
			gapUs = periodUs / uint64(*bounce*2)
			if gapUs == 0 {
				gapUs = 1
			}
			fmt.Printf("Bounce gap reduced to %dus to fit the pulse period\n", gapUs)
		}
	}

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(*seed))

	capture := pulse.New(pulse.DefaultConfig())
	r := reactor.New()
	r.Run()

	rp := report.New(report.Config{
		Interval: time.Duration(*interval * float64(time.Second)),
		Format:   *format,
	}, capture, r)
	rp.SetTarget(os.Stdout, "stdout")
	rp.Start()

	fmt.Printf("Pulse simulator: %.2f Hz nominal, jitter %.0f%%, %d bounce edges per pulse\n",
		*freq, *jitter*100, *bounce)
	fmt.Printf("Debounce threshold starts at %dus\n", capture.GetThresholdUs())
	if *duration > 0 {
		fmt.Printf("Running for %.1fs\n", *duration)
	} else {
		fmt.Println("Press Ctrl+C to stop")
	}

	stats := &SimStats{}
	stopCh := make(chan struct{})
	go generate(SimConfig{
		freq:    *freq,
		jitter:  *jitter,
		bounce:  *bounce,
		gapUs:   gapUs,
		drift:   *drift,
		capture: capture,
		stats:   stats,
		rng:     rng,
	}, stopCh)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var timeoutCh <-chan time.Time
	if *duration > 0 {
		timeoutCh = time.After(time.Duration(*duration * float64(time.Second)))
	}

	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
	case <-timeoutCh:
		fmt.Println("Run complete")
	}

	close(stopCh)
	rp.Stop()
	r.End()
	r.Wait()

	edges, bounces := stats.Totals()
	counted := capture.GetCount()
	fmt.Printf("Edges emitted:   %d real, %d bounce\n", edges, bounces)
	fmt.Printf("Pulses counted:  %d\n", counted)
	fmt.Printf("Edges filtered:  %d\n", edges+bounces-counted)
	fmt.Printf("Final threshold: %dus\n", capture.GetThresholdUs())
}

// generate emits the edge train until stopCh closes. Each iteration
// sleeps one jittered period, stamps the real edge from the wall
// clock and follows it with the configured bounce edges.
func generate(cfg SimConfig, stopCh chan struct{}) {
	start := time.Now()
	freq := cfg.freq
	next := start

	for {
		period := time.Duration(float64(time.Second) / freq)
		if cfg.jitter > 0 {
			scale := 1 + cfg.jitter*(2*cfg.rng.Float64()-1)
			period = time.Duration(float64(period) * scale)
		}
		next = next.Add(period)

		if wait := time.Until(next); wait > 0 {
			select {
			case <-stopCh:
				return
			case <-time.After(wait):
			}
		} else {
			select {
			case <-stopCh:
				return
			default:
			}
		}

		ts := uint64(time.Since(start).Microseconds())
		cfg.capture.HandleEdge(ts)
		for i := 1; i <= cfg.bounce; i++ {
			cfg.capture.HandleEdge(ts + uint64(i)*cfg.gapUs)
		}
		cfg.stats.Record(uint64(cfg.bounce))

		if cfg.drift != 0 {
			freq += cfg.drift * period.Seconds()
			if freq < MIN_FREQ_HZ {
				freq = MIN_FREQ_HZ
			} else if freq > MAX_FREQ_HZ {
				freq = MAX_FREQ_HZ
			}
		}
	}
}
