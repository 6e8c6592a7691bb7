package config

import (
	"time"
)

// Defaults applied when optional sections or options are absent.
const (
	DefaultReportInterval = time.Second
	DefaultButtonSettle   = 50 * time.Millisecond
	DefaultSerialBaud     = 115200
	DefaultMetricsAddress = "127.0.0.1:9100"
	DefaultAPIAddress     = "127.0.0.1:7125"
)

// PulseConfig describes the GPIO line the meter counts pulses on.
type PulseConfig struct {
	Chip   string
	Line   int
	Pullup int  // 1 = pull-up, -1 = pull-down, 0 = none
	Invert bool // count falling edges instead of rising
}

// DebounceConfig carries the adaptive filter thresholds in microseconds.
// Zero values select the built-in defaults.
type DebounceConfig struct {
	DefaultUs  uint64
	MinUs      uint64
	MaxUs      uint64
	SaveOnExit bool // persist the learned threshold on shutdown
}

// ReportConfig controls the periodic report line.
type ReportConfig struct {
	Interval time.Duration
	Format   string // "text" or "json"
	Target   string // "stdout", "stderr" or "serial"
}

// SerialConfig describes the serial port used when reports target it.
type SerialConfig struct {
	Port string
	Baud int
}

// ResetButtonConfig describes the optional hardware reset button.
type ResetButtonConfig struct {
	Chip   string
	Line   int
	Pullup int
	Invert bool
	Settle time.Duration // press must be stable this long
}

// AutoResetConfig controls periodic automatic counter resets.
type AutoResetConfig struct {
	Interval time.Duration // zero disables automatic resets
}

// MetricsConfig describes the optional metrics HTTP endpoint.
type MetricsConfig struct {
	Address  string
	AuthUser string
	AuthPass string
}

// APIConfig describes the optional status/control HTTP endpoint.
type APIConfig struct {
	Address        string
	AllowedOrigins []string
}

// MeterConfig is the complete typed daemon configuration. It is
// assembled through the tracked getters so unused options can be
// reported after loading. Optional components are nil when their
// section is absent.
type MeterConfig struct {
	Pulse       PulseConfig
	Debounce    DebounceConfig
	Report      ReportConfig
	Serial      *SerialConfig
	ResetButton *ResetButtonConfig
	AutoReset   AutoResetConfig
	Metrics     *MetricsConfig
	API         *APIConfig
}

// LoadMeterConfig assembles a MeterConfig from a parsed Config.
// [pulse] is the only required section.
func LoadMeterConfig(cfg *Config) (*MeterConfig, error) {
	mc := &MeterConfig{}

	sec, err := cfg.GetSection("pulse")
	if err != nil {
		return nil, err
	}
	pin, err := sec.GetPin("pin", PinOptions{CanInvert: true, CanPullup: true})
	if err != nil {
		return nil, err
	}
	line, err := pin.Offset()
	if err != nil {
		return nil, WrapError("pulse", "pin", err)
	}
	mc.Pulse = PulseConfig{
		Chip:   pin.Chip,
		Line:   line,
		Pullup: pin.Pullup,
		Invert: pin.Invert,
	}

	if err := loadDebounce(cfg, &mc.Debounce); err != nil {
		return nil, err
	}
	if err := loadReport(cfg, &mc.Report); err != nil {
		return nil, err
	}
	if mc.Serial, err = loadSerial(cfg); err != nil {
		return nil, err
	}
	if mc.Report.Target == "serial" && mc.Serial == nil {
		return nil, NewConfigError("report", "target",
			"targets serial but the [serial] section is missing")
	}
	if mc.ResetButton, err = loadResetButton(cfg); err != nil {
		return nil, err
	}
	if err := loadAutoReset(cfg, &mc.AutoReset); err != nil {
		return nil, err
	}
	if mc.Metrics, err = loadMetrics(cfg); err != nil {
		return nil, err
	}
	if mc.API, err = loadAPI(cfg); err != nil {
		return nil, err
	}

	return mc, nil
}

// LoadMeterConfigFile loads and assembles a MeterConfig from a file path.
func LoadMeterConfigFile(path string) (*MeterConfig, *Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, nil, err
	}
	mc, err := LoadMeterConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	return mc, cfg, nil
}

func loadDebounce(cfg *Config, dc *DebounceConfig) error {
	sec := cfg.GetSectionOptional("debounce")
	if sec == nil {
		return nil
	}

	getUs := func(option string) (uint64, error) {
		v, err := sec.GetInt(option, 0)
		if err != nil {
			return 0, err
		}
		if v < 0 {
			return 0, ErrOutOfRange(sec.GetName(), option, float64(v), "must not be negative")
		}
		return uint64(v), nil
	}

	var err error
	if dc.DefaultUs, err = getUs("default_threshold_us"); err != nil {
		return err
	}
	if dc.MinUs, err = getUs("min_threshold_us"); err != nil {
		return err
	}
	if dc.MaxUs, err = getUs("max_threshold_us"); err != nil {
		return err
	}
	if dc.MinUs != 0 && dc.MaxUs != 0 && dc.MinUs > dc.MaxUs {
		return NewConfigError("debounce", "min_threshold_us",
			"must not exceed max_threshold_us")
	}
	if dc.SaveOnExit, err = sec.GetBool("save_on_exit", false); err != nil {
		return err
	}
	return nil
}

func loadReport(cfg *Config, rc *ReportConfig) error {
	rc.Interval = DefaultReportInterval
	rc.Format = "text"
	rc.Target = "stdout"

	sec := cfg.GetSectionOptional("report")
	if sec == nil {
		return nil
	}

	zero := 0.0
	ival, err := sec.GetFloatWithBounds("interval", FloatBounds{Above: &zero}, 1.0)
	if err != nil {
		return err
	}
	rc.Interval = time.Duration(ival * float64(time.Second))

	if rc.Format, err = sec.GetChoice("format", []string{"text", "json"}, "text"); err != nil {
		return err
	}
	if rc.Target, err = sec.GetChoice("target", []string{"stdout", "stderr", "serial"}, "stdout"); err != nil {
		return err
	}
	return nil
}

func loadSerial(cfg *Config) (*SerialConfig, error) {
	sec := cfg.GetSectionOptional("serial")
	if sec == nil {
		return nil, nil
	}

	port, err := sec.Get("port")
	if err != nil {
		return nil, err
	}
	one := 1
	baud, err := sec.GetIntWithBounds("baud", &one, nil, DefaultSerialBaud)
	if err != nil {
		return nil, err
	}
	return &SerialConfig{Port: port, Baud: baud}, nil
}

func loadResetButton(cfg *Config) (*ResetButtonConfig, error) {
	sec := cfg.GetSectionOptional("reset_button")
	if sec == nil {
		return nil, nil
	}

	pin, err := sec.GetPin("pin", PinOptions{CanInvert: true, CanPullup: true})
	if err != nil {
		return nil, err
	}
	line, err := pin.Offset()
	if err != nil {
		return nil, WrapError("reset_button", "pin", err)
	}
	settle, err := sec.GetSeconds("settle", DefaultButtonSettle.Seconds())
	if err != nil {
		return nil, err
	}
	return &ResetButtonConfig{
		Chip:   pin.Chip,
		Line:   line,
		Pullup: pin.Pullup,
		Invert: pin.Invert,
		Settle: settle,
	}, nil
}

func loadAutoReset(cfg *Config, ac *AutoResetConfig) error {
	sec := cfg.GetSectionOptional("auto_reset")
	if sec == nil {
		return nil
	}

	interval, err := sec.GetSeconds("interval")
	if err != nil {
		return err
	}
	if interval <= 0 {
		return NewConfigError("auto_reset", "interval", "must be greater than 0")
	}
	ac.Interval = interval
	return nil
}

func loadMetrics(cfg *Config) (*MetricsConfig, error) {
	sec := cfg.GetSectionOptional("metrics")
	if sec == nil {
		return nil, nil
	}

	address, err := sec.Get("address", DefaultMetricsAddress)
	if err != nil {
		return nil, err
	}
	user, err := sec.Get("auth_user", "")
	if err != nil {
		return nil, err
	}
	pass, err := sec.Get("auth_pass", "")
	if err != nil {
		return nil, err
	}
	return &MetricsConfig{Address: address, AuthUser: user, AuthPass: pass}, nil
}

func loadAPI(cfg *Config) (*APIConfig, error) {
	sec := cfg.GetSectionOptional("api")
	if sec == nil {
		return nil, nil
	}

	address, err := sec.Get("address", DefaultAPIAddress)
	if err != nil {
		return nil, err
	}
	origins, err := sec.GetList("allowed_origins", ",", []string{"*"})
	if err != nil {
		return nil, err
	}
	return &APIConfig{Address: address, AllowedOrigins: origins}, nil
}
