package store

import (
	"context"
	"fmt"
	"time"
)

// Fake is an in-memory SampleStore test double.
//
// It enforces the same constraints the real schema does: one identifier per
// distinct string within a category, and primary-key timestamps on both row
// tables.  Set LatestErr or ApplyErr to inject failures.
type Fake struct {
	Observations []Observation
	Transfers    []Transfer

	StatusIDs map[string]int64
	ReasonIDs map[string]int64

	LatestErr error
	ApplyErr  error

	LatestObservationCalls int
	LatestTransferCalls    int
	ApplyCalls             int
}

// NewFake returns an empty Fake ready for use.
func NewFake() *Fake {
	return &Fake{
		StatusIDs: make(map[string]int64),
		ReasonIDs: make(map[string]int64),
	}
}

// Intern mirrors Postgres.Intern: one stable identifier per (category, value),
// allocated on first sight.
func (f *Fake) Intern(_ context.Context, cat Category, value string) (int64, error) {
	var ids map[string]int64
	switch cat {
	case CategoryStatus:
		ids = f.StatusIDs
	case CategoryReason:
		ids = f.ReasonIDs
	default:
		return 0, fmt.Errorf("unknown normalization category %d", cat)
	}
	if id, ok := ids[value]; ok {
		return id, nil
	}
	id := int64(len(ids) + 1)
	ids[value] = id
	return id, nil
}

// LatestObservationTime implements SampleStore.
func (f *Fake) LatestObservationTime(context.Context) (time.Time, bool, error) {
	f.LatestObservationCalls++
	if f.LatestErr != nil {
		return time.Time{}, false, f.LatestErr
	}
	if len(f.Observations) == 0 {
		return time.Time{}, false, nil
	}
	return f.Observations[len(f.Observations)-1].Timestamp, true, nil
}

// LatestTransfer implements SampleStore.
func (f *Fake) LatestTransfer(context.Context) (Transfer, bool, error) {
	f.LatestTransferCalls++
	if f.LatestErr != nil {
		return Transfer{}, false, f.LatestErr
	}
	if len(f.Transfers) == 0 {
		return Transfer{}, false, nil
	}
	return f.Transfers[len(f.Transfers)-1], true, nil
}

// Apply implements SampleStore.  All-or-nothing like the real transaction:
// a constraint violation on either row leaves the fake unchanged.
func (f *Fake) Apply(ctx context.Context, obs *Observation, tr *Transfer) error {
	f.ApplyCalls++
	if f.ApplyErr != nil {
		return f.ApplyErr
	}

	if obs != nil {
		for _, existing := range f.Observations {
			if existing.Timestamp.Equal(obs.Timestamp) {
				return fmt.Errorf("duplicate observation timestamp %s", obs.Timestamp)
			}
		}
	}
	if tr != nil {
		for _, existing := range f.Transfers {
			if existing.Timestamp.Equal(tr.Timestamp) {
				return fmt.Errorf("duplicate transfer timestamp %s", tr.Timestamp)
			}
		}
	}

	if obs != nil {
		if obs.Status != "" {
			if _, err := f.Intern(ctx, CategoryStatus, obs.Status); err != nil {
				return err
			}
		}
		f.Observations = append(f.Observations, *obs)
	}
	if tr != nil {
		if tr.Reason != "" {
			if _, err := f.Intern(ctx, CategoryReason, tr.Reason); err != nil {
				return err
			}
		}
		f.Transfers = append(f.Transfers, *tr)
	}
	return nil
}

// Reset clears all state so the fake can be reused between sub-tests.
func (f *Fake) Reset() {
	f.Observations = nil
	f.Transfers = nil
	f.StatusIDs = make(map[string]int64)
	f.ReasonIDs = make(map[string]int64)
	f.LatestErr = nil
	f.ApplyErr = nil
	f.LatestObservationCalls = 0
	f.LatestTransferCalls = 0
	f.ApplyCalls = 0
}
