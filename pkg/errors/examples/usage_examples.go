// Examples of using the error handling and logging systems together
//
// Copyright (C) 2026  LeituraPulsos Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package examples

import (
	"fmt"

	"github.com/caosdp-rs/LeituraPulsos/pkg/errors"
	"github.com/caosdp-rs/LeituraPulsos/pkg/log"
)

func ExampleConfigErrors() {
	fmt.Println("=== Config Errors ===")

	err := errors.ConfigSectionError("pulse")
	fmt.Printf("Error: %v\n", err)

	err = errors.ConfigOptionError("pulse", "line")
	fmt.Printf("Error: %v\n", err)

	err = errors.ConfigValidationError("debounce", "min_threshold_us", "must be greater than 0")
	fmt.Printf("Error: %v\n", err)

	err = errors.ConfigTypeError("pulse", "line", "abc", "int", fmt.Errorf("not a number"))
	fmt.Printf("Error: %v\n", err)

	fmt.Println()
}

func ExampleHardwareErrors() {
	fmt.Println("=== Hardware Errors ===")

	err := errors.GpioRequestError("gpiochip0", 17, fmt.Errorf("device busy"))
	fmt.Printf("GPIO request: %v\n", err)

	err = errors.GpioReadError("gpiochip0", 17, "event stream closed")
	fmt.Printf("GPIO read: %v\n", err)

	err = errors.SerialOpenError("/dev/ttyUSB0", fmt.Errorf("no such device"))
	fmt.Printf("Serial open: %v\n", err)

	err = errors.SerialIOError("/dev/ttyUSB0", "write", fmt.Errorf("input/output error"))
	fmt.Printf("Serial write: %v\n", err)

	fmt.Println()
}

func ExampleErrorChecking() {
	fmt.Println("=== Error Checking ===")

	configErr := errors.ConfigOptionError("pulse", "chip")
	gpioErr := errors.GpioReadError("gpiochip0", 17, "line released")
	runtimeErr := errors.RuntimeError("unexpected shutdown")

	fmt.Printf("Is config error? %v\n", errors.IsConfig(configErr))
	fmt.Printf("Is GPIO error? %v\n", errors.IsGpio(gpioErr))
	fmt.Printf("Is runtime error? %v\n", errors.IsRuntime(runtimeErr))
	fmt.Printf("Is config error? %v\n", errors.IsConfig(gpioErr))

	fmt.Println()
}

func ExampleLoggingWithErrors() {
	fmt.Println("=== Logging With Errors ===")

	gpioLogger := log.GetLogger("gpio")
	configLogger := log.GetLogger("config")

	if err := requestLine(); err != nil {
		gpioLogger.WithError(err).Error("line request failed")
	}

	if err := loadMeterConfig(); err != nil {
		configLogger.WithField("path", "/etc/pulsemeter.cfg").
			WithError(err).Error("config load failed")
	}

	fmt.Println()
}

func ExamplePanicRecovery() {
	fmt.Println("=== Panic Recovery ===")

	defer func() {
		if err := errors.RecoverPanic(); err != nil {
			log.GetLogger("recovery").Error("recovered from panic: %v", err)
		}
	}()

	panic("edge handler fault")
}

// Helper functions for examples

func requestLine() error {
	return errors.GpioRequestError("gpiochip0", 17, fmt.Errorf("permission denied"))
}

func loadMeterConfig() error {
	return errors.ConfigOptionError("pulse", "line")
}
