// Package recorder decides which rows a parsed report requires and writes
// them through the sample store.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sweeney/ups-pglog/internal/report"
	"github.com/sweeney/ups-pglog/internal/store"
)

// ErrNoTimestamp is returned when a report carries no usable DATE field;
// without it the duplicate-sample check is impossible.
var ErrNoTimestamp = errors.New("recorder: report has no timestamp")

// Result says which rows a Record call inserted.  Both false is a normal
// outcome: the status utility had nothing new to report.
type Result struct {
	InsertedObservation bool
	InsertedTransfer    bool
}

// Recorder compares each sample against last-known state and inserts only
// what is new.
//
// The cached last-observation/last-transfer state is an optimization, never
// load-bearing: a cold cache falls back to querying the store, and a failed
// write leaves the cache untouched so the next sample re-evaluates from the
// same baseline.
type Recorder struct {
	store store.SampleStore

	obsCached bool // whether the observation cache is warm
	obsExists bool // whether any observation row exists
	obsTime   time.Time

	trCached bool
	trExists bool
	lastTr   store.Transfer
}

// New returns a Recorder with a cold cache over s.
func New(s store.SampleStore) *Recorder {
	return &Recorder{store: s}
}

// Record runs the per-sample decision: insert an observation unless its
// timestamp matches the most recent stored one, and insert a transfer event
// unless the report's (timestamp, direction, reason) triple matches the most
// recent stored one.  The two decisions are independent; whatever is due is
// written in a single transaction.
func (r *Recorder) Record(ctx context.Context, rep *report.Report) (Result, error) {
	var res Result
	if rep.Timestamp.IsZero() {
		return res, ErrNoTimestamp
	}

	lastTime, haveObs, err := r.lastObservationTime(ctx)
	if err != nil {
		return res, err
	}
	var obs *store.Observation
	if !haveObs || !rep.Timestamp.Equal(lastTime) {
		obs = observationFrom(rep)
	}

	var tr *store.Transfer
	if info, ok := rep.LastTransfer(); ok {
		candidate := store.Transfer{
			Timestamp: info.Timestamp,
			ToBattery: info.ToBattery,
			Reason:    info.Reason,
		}
		last, haveTr, err := r.lastTransfer(ctx)
		if err != nil {
			return res, err
		}
		if !haveTr || !last.Equal(candidate) {
			tr = &candidate
		}
	}

	if obs == nil && tr == nil {
		return res, nil
	}
	if err := r.store.Apply(ctx, obs, tr); err != nil {
		return res, fmt.Errorf("recording sample: %w", err)
	}

	// Commit succeeded; only now do the cached pointers advance.
	if obs != nil {
		r.obsCached, r.obsExists, r.obsTime = true, true, obs.Timestamp
		res.InsertedObservation = true
	}
	if tr != nil {
		r.trCached, r.trExists, r.lastTr = true, true, *tr
		res.InsertedTransfer = true
	}
	return res, nil
}

func (r *Recorder) lastObservationTime(ctx context.Context) (time.Time, bool, error) {
	if r.obsCached {
		return r.obsTime, r.obsExists, nil
	}
	ts, ok, err := r.store.LatestObservationTime(ctx)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("loading last observation: %w", err)
	}
	r.obsCached, r.obsExists, r.obsTime = true, ok, ts
	return ts, ok, nil
}

func (r *Recorder) lastTransfer(ctx context.Context) (store.Transfer, bool, error) {
	if r.trCached {
		return r.lastTr, r.trExists, nil
	}
	tr, ok, err := r.store.LatestTransfer(ctx)
	if err != nil {
		return store.Transfer{}, false, fmt.Errorf("loading last transfer: %w", err)
	}
	r.trCached, r.trExists, r.lastTr = true, ok, tr
	return tr, ok, nil
}

func observationFrom(rep *report.Report) *store.Observation {
	obs := &store.Observation{
		Timestamp:      rep.Timestamp,
		Status:         rep.Status,
		LineVoltage:    rep.LineVoltage,
		BatteryVoltage: rep.BatteryVoltage,
		BatteryCharge:  rep.BatteryCharge,
		TimeLeft:       rep.TimeLeft,
		OnBattery:      rep.OnBattery(),
	}
	if w, ok := rep.LoadWatts(); ok {
		obs.LoadWatts = &w
	}
	return obs
}
