// Package store persists UPS observations, transfer events, and the
// normalization tables that intern recurring status/reason strings into
// stable integer identifiers.
package store

import (
	"context"
	"time"
)

// Category names a normalization table.
type Category int

const (
	// CategoryStatus interns STATUS labels ("ONLINE", "ONBATT", …).
	CategoryStatus Category = iota
	// CategoryReason interns LASTXFER reason strings.
	CategoryReason
)

func (c Category) String() string {
	switch c {
	case CategoryStatus:
		return "status"
	case CategoryReason:
		return "reason"
	}
	return "unknown"
}

// Observation is one durable status sample row.  Pointer fields are stored
// as NULL when absent.  Status is interned at write time.
type Observation struct {
	Timestamp      time.Time
	Status         string
	LineVoltage    *float64
	BatteryVoltage *float64
	LoadWatts      *float64
	BatteryCharge  *float64
	TimeLeft       *float64
	OnBattery      bool
}

// Transfer is one durable power-transfer event row.  Reason is interned at
// write time.
type Transfer struct {
	Timestamp time.Time
	ToBattery bool
	Reason    string
}

// Equal reports whether two transfers describe the same physical event:
// same timestamp, same direction, same reason.
func (t Transfer) Equal(o Transfer) bool {
	return t.Timestamp.Equal(o.Timestamp) && t.ToBattery == o.ToBattery && t.Reason == o.Reason
}

// SampleStore is what the recorder needs from persistence.  Postgres is the
// real implementation; Fake is the in-memory test double.
type SampleStore interface {
	// LatestObservationTime returns the timestamp of the most recently
	// stored observation; ok is false when the table is empty.
	LatestObservationTime(ctx context.Context) (ts time.Time, ok bool, err error)

	// LatestTransfer returns the most recently stored transfer event;
	// ok is false when the table is empty.
	LatestTransfer(ctx context.Context) (tr Transfer, ok bool, err error)

	// Apply writes the given rows, plus any normalization entries they
	// require, as a single atomic unit.  Either argument may be nil.
	Apply(ctx context.Context, obs *Observation, tr *Transfer) error
}
