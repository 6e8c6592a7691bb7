package config

import (
	"strconv"
	"strings"
)

// DefaultChip is the chip assumed when a pin specification carries no
// explicit chip prefix.
const DefaultChip = "gpiochip0"

// Pin represents a parsed pin specification.
type Pin struct {
	Name   string // Line name (e.g., "17", "gpio25")
	Chip   string // GPIO chip name (default: "gpiochip0")
	Invert bool   // Inverted logic (! prefix)
	Pullup int    // Pullup: 1 = up (^), -1 = down (~), 0 = none
}

// FullName returns the full pin name including chip prefix if not the default.
func (p Pin) FullName() string {
	if p.Chip != "" && p.Chip != DefaultChip {
		return p.Chip + ":" + p.Name
	}
	return p.Name
}

// Offset returns the numeric line offset for character-device access.
// Accepts bare numbers ("17") and gpio-prefixed names ("gpio17").
func (p Pin) Offset() (int, error) {
	name := strings.TrimPrefix(strings.ToLower(p.Name), "gpio")
	n, err := strconv.Atoi(name)
	if err != nil || n < 0 {
		return 0, NewConfigError("", "", "invalid GPIO line name: "+p.Name)
	}
	return n, nil
}

// PinOptions specifies parsing options for pin specifications.
type PinOptions struct {
	CanInvert bool // Allow ! prefix for inverted logic
	CanPullup bool // Allow ^ and ~ prefixes for pullup/pulldown
}

// ParsePin parses a pin specification string.
// Format: [^|~][!][chip:]line_name
// Examples: "17", "!gpio17", "^17", "gpiochip1:4", "^!gpiochip0:27"
func ParsePin(desc string, opts PinOptions) (Pin, error) {
	d := strings.TrimSpace(desc)
	if d == "" {
		return Pin{}, NewConfigError("", "", "empty pin specification")
	}

	p := Pin{Chip: DefaultChip}

	// Parse pullup prefix (^ or ~)
	if opts.CanPullup && len(d) > 0 {
		if d[0] == '^' {
			p.Pullup = 1
			d = strings.TrimSpace(d[1:])
		} else if d[0] == '~' {
			p.Pullup = -1
			d = strings.TrimSpace(d[1:])
		}
	}

	// Parse invert prefix (!)
	if opts.CanInvert && len(d) > 0 && d[0] == '!' {
		p.Invert = true
		d = strings.TrimSpace(d[1:])
	}

	// Parse chip:line format
	if idx := strings.Index(d, ":"); idx >= 0 {
		p.Chip = strings.TrimSpace(d[:idx])
		d = strings.TrimSpace(d[idx+1:])
	}

	// Validate line name
	if d == "" {
		return Pin{}, NewConfigError("", "", "empty pin name in specification: "+desc)
	}
	if strings.ContainsAny(d, "^~!:") {
		return Pin{}, NewConfigError("", "", "invalid characters in pin name: "+desc)
	}

	p.Name = d
	return p, nil
}

// GetPin returns a Pin option value from the section.
func (s *Section) GetPin(option string, opts PinOptions, fallback ...Pin) (Pin, error) {
	key := strings.ToLower(option)
	if v, ok := s.options[key]; ok {
		s.markAccessed(option)
		pin, err := ParsePin(v, opts)
		if err != nil {
			return Pin{}, WrapError(s.name, option, err)
		}
		return pin, nil
	}
	if len(fallback) > 0 {
		s.markAccessed(option)
		return fallback[0], nil
	}
	return Pin{}, ErrMissingOption(s.name, option)
}

// GetPinOptional returns a Pin option value, or nil if not present.
func (s *Section) GetPinOptional(option string, opts PinOptions) (*Pin, error) {
	key := strings.ToLower(option)
	if v, ok := s.options[key]; ok {
		s.markAccessed(option)
		pin, err := ParsePin(v, opts)
		if err != nil {
			return nil, WrapError(s.name, option, err)
		}
		return &pin, nil
	}
	return nil, nil
}
