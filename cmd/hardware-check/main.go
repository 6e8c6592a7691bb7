//go:build linux

// hardware-check verifies a pulse meter installation before the daemon
// runs: GPIO chip presence, raw edge delivery on the pulse line, reset
// button wiring and the serial report target.
//
// Usage:
//
//	hardware-check -config /etc/pulsemeter.cfg [options]
//
// Options:
//
//	-config string      Meter configuration file (required for pulse and button checks)
//	-check string       Check to run: "chips", "pulse", "button", "serial", "all" (default "all")
//	-watch duration     How long the pulse check listens for edges (default 10s)
//	-device string      Serial device to probe (default: the configured [serial] port)
//	-baud int           Baud rate for the serial probe (default: configured or 115200)
//
// Examples:
//
//	# Everything the config uses
//	hardware-check -config /etc/pulsemeter.cfg
//
//	# Watch the pulse line for 30 seconds
//	hardware-check -config /etc/pulsemeter.cfg -check pulse -watch 30s
//
//	# Probe a display before putting it in the config
//	hardware-check -check serial -device /dev/ttyAMA0 -baud 9600
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/caosdp-rs/LeituraPulsos/pkg/config"
	"github.com/caosdp-rs/LeituraPulsos/pkg/gpio"
	"github.com/caosdp-rs/LeituraPulsos/pkg/reactor"
	"github.com/caosdp-rs/LeituraPulsos/pkg/serial"
)

func main() {
	configFile := flag.String("config", "", "Meter configuration file")
	check := flag.String("check", "all", "Check to run: chips, pulse, button, serial, all")
	watch := flag.Duration("watch", 10*time.Second, "How long the pulse check listens for edges")
	device := flag.String("device", "", "Serial device to probe")
	baud := flag.Int("baud", 0, "Baud rate for the serial probe")
	flag.Parse()

	var mc *config.MeterConfig
	if *configFile != "" {
		var err error
		mc, _, err = config.LoadMeterConfigFile(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	doneCh := make(chan error, 1)
	go func() {
		var err error
		switch *check {
		case "chips":
			err = checkChips()
		case "pulse":
			err = checkPulse(mc, *watch)
		case "button":
			err = checkButton(mc, *watch)
		case "serial":
			err = checkSerial(serialTarget(mc, *device, *baud))
		case "all":
			err = checkAll(mc, *watch, *device, *baud)
		default:
			err = fmt.Errorf("unknown check: %s", *check)
		}
		doneCh <- err
	}()

	select {
	case err := <-doneCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "\nCheck failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("\nAll checks passed")
	case sig := <-sigCh:
		fmt.Printf("\nReceived signal %v, aborting\n", sig)
		os.Exit(130)
	}
}

func checkAll(mc *config.MeterConfig, watch time.Duration, device string, baud int) error {
	if err := checkChips(); err != nil {
		return err
	}

	dev, db := serialTarget(mc, device, baud)
	if err := checkSerial(dev, db); err != nil {
		return err
	}

	if mc == nil {
		fmt.Println("\nNo -config given; skipping pulse and button checks")
		return nil
	}
	if err := checkPulse(mc, watch); err != nil {
		return err
	}
	if mc.ResetButton == nil {
		fmt.Println("\nNo [reset_button] section; skipping button check")
		return nil
	}
	return checkButton(mc, watch)
}

// checkChips lists the GPIO character devices on this machine.
func checkChips() error {
	fmt.Println("=== Check: GPIO chips ===")

	chips, err := filepath.Glob("/dev/gpiochip*")
	if err != nil {
		return fmt.Errorf("glob gpio chips: %w", err)
	}
	if len(chips) == 0 {
		return fmt.Errorf("no /dev/gpiochip* devices found; is this a board with GPIO?")
	}

	for _, chip := range chips {
		state := "ok"
		if !gpio.ChipAvailable(chip) {
			state = "not a character device"
		}
		fmt.Printf("  %s: %s\n", chip, state)
	}
	return nil
}

// checkPulse requests the configured pulse line and counts raw edges
// for the watch window. Zero edges is reported but is not a failure;
// the meter may simply be idle.
func checkPulse(mc *config.MeterConfig, watch time.Duration) error {
	if mc == nil {
		return fmt.Errorf("pulse check needs -config")
	}

	fmt.Println("=== Check: pulse line ===")
	fmt.Printf("Chip: %s, line: %d, invert: %v\n", mc.Pulse.Chip, mc.Pulse.Line, mc.Pulse.Invert)

	var edges atomic.Uint64
	line := gpio.NewPulseLine(gpio.LineConfig{
		Chip:   mc.Pulse.Chip,
		Line:   mc.Pulse.Line,
		Pullup: mc.Pulse.Pullup,
		Invert: mc.Pulse.Invert,
	})
	if err := line.Start(func(timestampUs uint64) {
		edges.Add(1)
	}); err != nil {
		return fmt.Errorf("request pulse line: %w", err)
	}
	defer line.Close()

	fmt.Printf("Line requested. Listening for %s...\n", watch)
	time.Sleep(watch)

	n := edges.Load()
	fmt.Printf("Raw edges seen: %d (%.1f/s)\n", n, float64(n)/watch.Seconds())
	if n == 0 {
		fmt.Println("No edges. Check the sensor wiring and the pin's ^/! modifiers.")
	}
	return nil
}

// checkButton waits for one settled press on the configured button.
func checkButton(mc *config.MeterConfig, timeout time.Duration) error {
	if mc == nil || mc.ResetButton == nil {
		return fmt.Errorf("button check needs -config with a [reset_button] section")
	}

	fmt.Println("=== Check: reset button ===")
	bc := mc.ResetButton
	fmt.Printf("Chip: %s, line: %d, settle: %s\n", bc.Chip, bc.Line, bc.Settle)

	r := reactor.New()
	r.Run()
	defer func() {
		r.End()
		r.Wait()
	}()

	button := gpio.NewResetButton(r, gpio.ButtonConfig{
		Chip:   bc.Chip,
		Line:   bc.Line,
		Pullup: bc.Pullup,
		Invert: bc.Invert,
		Settle: bc.Settle,
	})
	if err := button.Start(); err != nil {
		return fmt.Errorf("request button line: %w", err)
	}
	defer button.Close()

	fmt.Printf("Press the button now (waiting up to %s)...\n", timeout)
	if err := button.WaitForPress(timeout); err != nil {
		return fmt.Errorf("no settled press detected: %w", err)
	}
	fmt.Printf("Press detected. Presses: %d, state: %s\n",
		button.GetPressCount(), button.GetState())
	return nil
}

// checkSerial lists the serial ports and probes the target device with
// one report-sized write when a device is known.
func checkSerial(device string, baud int) error {
	fmt.Println("=== Check: serial ===")

	ports, err := serial.ListPorts()
	if err != nil {
		return fmt.Errorf("list ports: %w", err)
	}
	if len(ports) == 0 {
		fmt.Println("No serial ports found")
	}
	for _, p := range ports {
		fmt.Printf("  %s\n", p)
	}

	if device == "" {
		fmt.Println("No device to probe; pass -device or configure [serial]")
		return nil
	}

	resolved, err := serial.ResolveDevice(device)
	if err != nil {
		return err
	}
	if !serial.IsDeviceAvailable(resolved) {
		return fmt.Errorf("device %s is not available", resolved)
	}

	cfg := serial.DefaultConfig()
	cfg.Device = resolved
	if baud > 0 {
		cfg.Baud = baud
	}

	fmt.Printf("Opening %s at %d baud...\n", resolved, cfg.Baud)
	port, err := serial.Open(cfg)
	if err != nil {
		return fmt.Errorf("open serial: %w", err)
	}
	defer port.Close()

	probe := []byte("pulses=0 freq=0.00Hz period=0us window=0.00Hz threshold=1000us\r\n")
	if _, err := port.Write(probe); err != nil {
		return fmt.Errorf("write probe: %w", err)
	}
	fmt.Println("Probe line written. Check the display.")
	return nil
}

// serialTarget resolves the probe device and baud from the flags with
// the configured [serial] section as fallback.
func serialTarget(mc *config.MeterConfig, device string, baud int) (string, int) {
	if device == "" && mc != nil && mc.Serial != nil {
		device = mc.Serial.Port
	}
	if baud == 0 && mc != nil && mc.Serial != nil {
		baud = mc.Serial.Baud
	}
	return device, baud
}
