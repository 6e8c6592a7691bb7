package report

import (
	"encoding/json"
	"fmt"
)

// Report formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Record is one report tick's measurement set.
type Record struct {
	EventTime   float64 `json:"eventtime"`
	Pulses      uint64  `json:"pulses"`
	FrequencyHz float64 `json:"freq_hz"`
	PeriodUs    uint64  `json:"period_us"`
	WindowHz    float64 `json:"window_hz"`
	ThresholdUs uint64  `json:"threshold_us"`
	Fresh       bool    `json:"fresh"`
}

// Text renders the record as the single-line text form understood by
// serial displays and log scrapers.
func (r Record) Text() string {
	return fmt.Sprintf("pulses=%d freq=%.2fHz period=%dus window=%.2fHz threshold=%dus",
		r.Pulses, r.FrequencyHz, r.PeriodUs, r.WindowHz, r.ThresholdUs)
}

// JSON renders the record as a compact JSON object.
func (r Record) JSON() ([]byte, error) {
	return json.Marshal(r)
}

// Render renders the record in the named format, newline terminated.
// Unknown formats fall back to text.
func (r Record) Render(format string) ([]byte, error) {
	if format == FormatJSON {
		b, err := r.JSON()
		if err != nil {
			return nil, err
		}
		return append(b, '\n'), nil
	}
	return []byte(r.Text() + "\n"), nil
}
