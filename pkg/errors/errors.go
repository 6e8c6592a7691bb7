// Unified error handling for the pulse meter
//
// Copyright (C) 2026  LeituraPulsos Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	"fmt"
	"runtime"
)

// ErrorCode represents the category of error
type ErrorCode string

const (
	// Configuration errors
	ErrConfigSection    ErrorCode = "CONFIG_SECTION"
	ErrConfigOption     ErrorCode = "CONFIG_OPTION"
	ErrConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrConfigType       ErrorCode = "CONFIG_TYPE"

	// GPIO errors
	ErrGpioRequest ErrorCode = "GPIO_REQUEST"
	ErrGpioRead    ErrorCode = "GPIO_READ"

	// Serial port errors
	ErrSerialOpen ErrorCode = "SERIAL_OPEN"
	ErrSerialIO   ErrorCode = "SERIAL_IO"

	// Runtime errors
	ErrRuntime     ErrorCode = "RUNTIME"
	ErrRuntimeInit ErrorCode = "RUNTIME_INIT"
)

// MeterError is the unified error type for the meter daemon
type MeterError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// File is the source file (if available)
	File string

	// Line is the line number in the source file (if available)
	Line int

	// Section is the config section or context
	Section string

	// Option is the config option name (if applicable)
	Option string

	// Err wraps the underlying error
	Err error

	// Context provides additional context
	Context map[string]interface{}
}

// Error implements the error interface
func (e *MeterError) Error() string {
	var msg string
	if e.Section != "" {
		msg = fmt.Sprintf("[%s:%s] %s", e.Code, e.Section, e.Message)
	} else {
		msg = fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error
func (e *MeterError) Unwrap() error {
	return e.Err
}

// SetFile sets the source file
func (e *MeterError) SetFile(file string) *MeterError {
	e.File = file
	return e
}

// SetLine sets the line number
func (e *MeterError) SetLine(line int) *MeterError {
	e.Line = line
	return e
}

// SetSection sets the context section
func (e *MeterError) SetSection(section string) *MeterError {
	e.Section = section
	return e
}

// SetOption sets the config option
func (e *MeterError) SetOption(option string) *MeterError {
	e.Option = option
	return e
}

// SetContext adds additional context
func (e *MeterError) SetContext(key string, value interface{}) *MeterError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Wrap wraps an existing error with additional context
func Wrap(err error, code ErrorCode, message string) *MeterError {
	return &MeterError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// New creates a new MeterError
func New(code ErrorCode, message string) *MeterError {
	return &MeterError{
		Code:    code,
		Message: message,
	}
}

// Config errors

// ConfigSectionError creates an error for missing config section
func ConfigSectionError(section string) *MeterError {
	return New(ErrConfigSection, fmt.Sprintf("section '%s' not found", section)).
		SetSection(section)
}

// ConfigOptionError creates an error for missing or invalid config option
func ConfigOptionError(section, option string) *MeterError {
	return New(ErrConfigOption, fmt.Sprintf("option '%s' not found in section '%s'", option, section)).
		SetSection(section).
		SetOption(option)
}

// ConfigValidationError creates an error for config validation failure
func ConfigValidationError(section, option string, reason string) *MeterError {
	return New(ErrConfigValidation, fmt.Sprintf("option '%s' in section '%s': %s", option, section, reason)).
		SetSection(section).
		SetOption(option)
}

// ConfigTypeError creates an error for config type conversion failure
func ConfigTypeError(section, option, value string, targetType string, err error) *MeterError {
	return Wrap(err, ErrConfigType, fmt.Sprintf("option '%s' in section '%s': failed to parse '%s' as %s", option, section, value, targetType)).
		SetSection(section).
		SetOption(option)
}

// GPIO errors

// GpioRequestError creates an error for a failed GPIO line request
func GpioRequestError(chip string, line int, err error) *MeterError {
	return Wrap(err, ErrGpioRequest, fmt.Sprintf("failed to request line %d on %s", line, chip))
}

// GpioReadError creates an error for a failed GPIO read or event stream failure
func GpioReadError(chip string, line int, reason string) *MeterError {
	return New(ErrGpioRead, fmt.Sprintf("line %d on %s: %s", line, chip, reason))
}

// Serial errors

// SerialOpenError creates an error for a failed serial port open
func SerialOpenError(port string, err error) *MeterError {
	return Wrap(err, ErrSerialOpen, fmt.Sprintf("failed to open serial port %s", port))
}

// SerialIOError creates an error for a failed serial read or write
func SerialIOError(port string, operation string, err error) *MeterError {
	return Wrap(err, ErrSerialIO, fmt.Sprintf("serial %s on %s failed", operation, port))
}

// Runtime errors

// RuntimeError creates a general runtime error
func RuntimeError(message string) *MeterError {
	return New(ErrRuntime, message)
}

// RuntimeErrorInit creates an error for initialization failure
func RuntimeErrorInit(component string, reason string) *MeterError {
	return New(ErrRuntimeInit, fmt.Sprintf("failed to initialize %s: %s", component, reason))
}

// Helper functions for adding context

// WithConfigPath adds config file path to error context
func WithConfigPath(err *MeterError, path string) *MeterError {
	if err == nil {
		return nil
	}
	err.SetContext("config_path", path)
	return err
}

// WithLineNumber adds line number to error context
func WithLineNumber(err *MeterError, line int) *MeterError {
	if err == nil {
		return nil
	}
	err.SetLine(line)
	return err
}

// RecoverPanic safely recovers from panic and converts to error
func RecoverPanic() *MeterError {
	if r := recover(); r != nil {
		var err error
		switch x := r.(type) {
		case string:
			err = RuntimeError(fmt.Sprintf("panic: %s", x))
		case error:
			err = RuntimeError(x.Error())
		case runtime.Error:
			err = RuntimeError(x.Error())
		default:
			err = RuntimeError(fmt.Sprintf("panic: %v", x))
		}
		return err.(*MeterError)
	}
	return nil
}

// Is checks if error matches given error code
func Is(err error, code ErrorCode) bool {
	if meterErr, ok := err.(*MeterError); ok {
		return meterErr.Code == code
	}
	return false
}

// IsConfig checks if error is a config error
func IsConfig(err error) bool {
	return Is(err, ErrConfigSection) ||
		Is(err, ErrConfigOption) ||
		Is(err, ErrConfigValidation) ||
		Is(err, ErrConfigType)
}

// IsGpio checks if error is a GPIO error
func IsGpio(err error) bool {
	return Is(err, ErrGpioRequest) ||
		Is(err, ErrGpioRead)
}

// IsSerial checks if error is a serial port error
func IsSerial(err error) bool {
	return Is(err, ErrSerialOpen) ||
		Is(err, ErrSerialIO)
}

// IsRuntime checks if error is a runtime error
func IsRuntime(err error) bool {
	return Is(err, ErrRuntime) ||
		Is(err, ErrRuntimeInit)
}
