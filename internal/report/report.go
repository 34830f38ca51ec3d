// Package report parses apcaccess status text into a typed UPS report.
// There is no I/O and no side effects; Parse is a pure text-to-record
// transform.
package report

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrNoFields is returned by Parse when the input contains no usable
// KEY : VALUE lines at all.
var ErrNoFields = errors.New("report: no usable fields")

// timeLayouts are the timestamp formats apcupsd emits for DATE, XONBATT
// and XOFFBATT, depending on build options and locale.
var timeLayouts = []string{
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05 MST",
	"Mon Jan 02 15:04:05 MST 2006",
}

// onBatteryStatuses is the authoritative set of STATUS tokens meaning the
// UPS is discharging.  Membership here decides the on-battery flag; string
// heuristics such as "not ONLINE" would misread COMMLOST as on battery.
var onBatteryStatuses = map[string]bool{
	"ONBATT": true,
}

// FieldWarning records a field that was present but failed to convert.
// Warnings are diagnostics only; the field is simply absent from the report.
type FieldWarning struct {
	Key   string
	Value string
	Err   error
}

// Report is one parsed status sample.  Pointer fields are nil when the
// report omitted the field or its value failed to convert.
type Report struct {
	Timestamp       time.Time // zero when DATE was absent or unreadable
	Status          string
	LineVoltage     *float64 // volts
	BatteryVoltage  *float64 // volts
	LoadPercent     *float64
	NominalPower    *float64 // watts
	BatteryCharge   *float64 // percent
	TimeLeft        *float64 // minutes
	TransferReason  string
	OnBatterySince  *time.Time // XONBATT
	OffBatterySince *time.Time // XOFFBATT

	Warnings []FieldWarning
}

// TransferInfo is the last power-transfer details embedded in a report.
type TransferInfo struct {
	Timestamp time.Time
	ToBattery bool // true = line→battery
	Reason    string
}

// Parse converts raw apcaccess output into a Report.  Each non-empty line
// is split on its first colon; unknown keys are ignored; a field that fails
// to convert is recorded as a warning and left absent.  Parse fails only
// when the input contains zero usable lines.
func Parse(raw string) (*Report, error) {
	rep := &Report{}
	usable := 0

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		key, value, found := strings.Cut(line, ":")
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if !found || key == "" {
			continue
		}
		usable++

		switch key {
		case "DATE":
			rep.setTime(&rep.Timestamp, key, value)
		case "STATUS":
			rep.Status = value
		case "LINEV":
			rep.setFloat(&rep.LineVoltage, key, value)
		case "BATTV":
			rep.setFloat(&rep.BatteryVoltage, key, value)
		case "LOADPCT":
			rep.setFloat(&rep.LoadPercent, key, value)
		case "NOMPOWER":
			rep.setFloat(&rep.NominalPower, key, value)
		case "BCHARGE":
			rep.setFloat(&rep.BatteryCharge, key, value)
		case "TIMELEFT":
			rep.setFloat(&rep.TimeLeft, key, value)
		case "LASTXFER":
			rep.TransferReason = value
		case "XONBATT":
			var ts time.Time
			if rep.setTime(&ts, key, value) {
				rep.OnBatterySince = &ts
			}
		case "XOFFBATT":
			var ts time.Time
			if rep.setTime(&ts, key, value) {
				rep.OffBatterySince = &ts
			}
		}
	}

	if usable == 0 {
		return nil, ErrNoFields
	}
	return rep, nil
}

// OnBattery reports whether any STATUS token is in the discharging set.
func (r *Report) OnBattery() bool {
	for _, tok := range strings.Fields(r.Status) {
		if onBatteryStatuses[tok] {
			return true
		}
	}
	return false
}

// LoadWatts converts the percentage load into watts against the nominal
// power rating.  ok is false when either input field is absent.
func (r *Report) LoadWatts() (float64, bool) {
	if r.LoadPercent == nil || r.NominalPower == nil {
		return 0, false
	}
	return *r.LoadPercent * *r.NominalPower / 100, true
}

// LastTransfer extracts the report's embedded transfer details: the reason
// string plus the matching transfer timestamp (XONBATT when discharging,
// XOFFBATT when back on line, falling back to whichever is present).
// ok is false when the report carries no transfer information.
func (r *Report) LastTransfer() (TransferInfo, bool) {
	if r.TransferReason == "" {
		return TransferInfo{}, false
	}
	toBattery := r.OnBattery()

	ts := r.OnBatterySince
	if !toBattery {
		ts = r.OffBatterySince
	}
	if ts == nil {
		if ts = r.OnBatterySince; ts == nil {
			ts = r.OffBatterySince
		}
	}
	if ts == nil {
		return TransferInfo{}, false
	}
	return TransferInfo{Timestamp: *ts, ToBattery: toBattery, Reason: r.TransferReason}, true
}

// setFloat parses the leading numeric token of value (dropping any trailing
// unit words such as "Volts") into a fresh *float64, warning on failure.
func (r *Report) setFloat(dst **float64, key, value string) {
	fields := strings.Fields(value)
	if len(fields) == 0 {
		r.warn(key, value, errors.New("empty value"))
		return
	}
	f, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		r.warn(key, value, err)
		return
	}
	*dst = &f
}

// setTime parses value against the known timestamp layouts.
func (r *Report) setTime(dst *time.Time, key, value string) bool {
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			*dst = ts
			return true
		}
	}
	r.warn(key, value, errors.New("unrecognised timestamp"))
	return false
}

func (r *Report) warn(key, value string, err error) {
	r.Warnings = append(r.Warnings, FieldWarning{Key: key, Value: value, Err: err})
}
