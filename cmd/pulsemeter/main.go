//go:build linux

// pulsemeter counts pulses on a GPIO line, filters out contact bounce
// with an adaptive threshold and reports count, frequency and period
// periodically to stdout, stderr or a serial display.
//
// Usage:
//
//	pulsemeter -config /etc/pulsemeter.cfg [options]
//
// Options:
//
//	-config string      Meter configuration file (required)
//	-log-level string   Log level: debug, info, warn or error (default "info")
//	-log-format string  Log format: text or json (default "text")
//	-log-file string    Also log to this file with rotation
//	-list-ports         List available serial ports and exit
//	-version            Print version and exit
//
// Signals:
//
//	SIGINT, SIGTERM  graceful shutdown (persists the learned threshold
//	                 when [debounce] save_on_exit is set)
//	SIGHUP           reload the configuration file
//
// Minimal config:
//
//	[pulse]
//	pin: ^!17
//
//	[report]
//	interval: 1.0
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caosdp-rs/LeituraPulsos/pkg/log"
	"github.com/caosdp-rs/LeituraPulsos/pkg/meter"
	"github.com/caosdp-rs/LeituraPulsos/pkg/serial"
)

const version = "1.0.0"

// shutdownTimeout bounds how long network servers may take to drain
const shutdownTimeout = 10 * time.Second

func main() {
	configFile := flag.String("config", "", "Meter configuration file (required)")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn or error")
	logFormat := flag.String("log-format", "text", "Log format: text or json")
	logFile := flag.String("log-file", "", "Also log to this file with rotation")
	listPorts := flag.Bool("list-ports", false, "List available serial ports and exit")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("pulsemeter %s\n", version)
		return
	}

	if *listPorts {
		ports, err := serial.ListPorts()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing ports: %v\n", err)
			os.Exit(1)
		}
		if len(ports) == 0 {
			fmt.Println("No serial ports found")
			return
		}
		for _, port := range ports {
			fmt.Println(port)
		}
		return
	}

	if *configFile == "" {
		fmt.Fprintf(os.Stderr, "Error: -config is required\n")
		flag.Usage()
		os.Exit(1)
	}

	logger, cleanup, err := setupLogging(*logLevel, *logFormat, *logFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error setting up logging: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	logger.Info("pulsemeter %s starting: config=%s", version, *configFile)

	m, err := meter.NewFromFile(*configFile)
	if err != nil {
		logger.WithError(err).Error("failed to load configuration")
		os.Exit(1)
	}

	if err := m.Start(); err != nil {
		logger.WithError(err).Error("failed to start")
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			logger.Info("SIGHUP received, reloading configuration")
			if err := m.Reload(); err != nil {
				logger.WithError(err).Error("reload failed")
			}
			continue
		}

		logger.Info("received %s, shutting down", sig)
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		err := m.Shutdown(ctx)
		cancel()
		if err != nil {
			logger.WithError(err).Error("shutdown finished with errors")
			os.Exit(1)
		}
		return
	}
}

// setupLogging builds the process logger from the flags and installs
// it as the package default so component loggers derive from it.
func setupLogging(level, format, file string) (*log.Logger, func(), error) {
	cleanup := func() {}

	var logger *log.Logger
	if file != "" {
		l, writer, err := log.NewConsoleAndFileLogger("pulsemeter", log.RotationConfig{
			Filename: file,
			Compress: true,
		})
		if err != nil {
			return nil, nil, err
		}
		logger = l
		cleanup = func() { _ = writer.Close() }
	} else {
		logger = log.New("pulsemeter")
	}

	logger.SetLevel(log.ParseLevel(level))
	if format == "json" {
		logger.SetFormat(log.FormatJSON)
		logger.SetColorize(false)
	}

	log.SetDefaultLogger(logger)
	return logger, cleanup, nil
}
