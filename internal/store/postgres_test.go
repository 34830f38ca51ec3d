package store

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"
)

// openTestDB connects to the database named by UPS_PGLOG_TEST_DSN and
// resets the schema.  Tests that need a live PostgreSQL are skipped when
// the variable is unset.
func openTestDB(t *testing.T) *Postgres {
	t.Helper()
	dsn := os.Getenv("UPS_PGLOG_TEST_DSN")
	if dsn == "" {
		t.Skip("UPS_PGLOG_TEST_DSN not set; skipping PostgreSQL integration test")
	}
	ctx := context.Background()
	pg, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { pg.Close() }) //nolint:errcheck
	if err := pg.DropSchema(ctx); err != nil {
		t.Fatalf("DropSchema: %v", err)
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	return pg
}

func TestPostgres_Intern_Idempotent(t *testing.T) {
	pg := openTestDB(t)
	ctx := context.Background()

	first, err := pg.Intern(ctx, CategoryStatus, "ONLINE")
	if err != nil {
		t.Fatalf("Intern: %v", err)
	}
	second, err := pg.Intern(ctx, CategoryStatus, "ONLINE")
	if err != nil {
		t.Fatalf("Intern: %v", err)
	}
	if first != second {
		t.Errorf("same value interned twice: %d vs %d", first, second)
	}
}

func TestPostgres_Intern_ConcurrentFirstUse(t *testing.T) {
	pg := openTestDB(t)
	ctx := context.Background()

	const workers = 8
	ids := make([]int64, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = pg.Intern(ctx, CategoryReason, "Low line voltage")
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Errorf("worker %d got id %d, worker 0 got %d", i, ids[i], ids[0])
		}
	}
}

func TestPostgres_ApplyAndLatest(t *testing.T) {
	pg := openTestDB(t)
	ctx := context.Background()
	t1 := time.Date(2026, 2, 23, 16, 40, 18, 0, time.UTC)
	t2 := t1.Add(time.Minute)
	volts := 119.0

	obs1 := &Observation{Timestamp: t1, Status: "ONLINE", LineVoltage: &volts}
	if err := pg.Apply(ctx, obs1, nil); err != nil {
		t.Fatalf("Apply obs1: %v", err)
	}
	tr := &Transfer{Timestamp: t2, ToBattery: true, Reason: "Low line voltage"}
	obs2 := &Observation{Timestamp: t2, Status: "ONBATT", OnBattery: true}
	if err := pg.Apply(ctx, obs2, tr); err != nil {
		t.Fatalf("Apply obs2+transfer: %v", err)
	}

	ts, ok, err := pg.LatestObservationTime(ctx)
	if err != nil || !ok {
		t.Fatalf("LatestObservationTime: ok=%v err=%v", ok, err)
	}
	if !ts.Equal(t2) {
		t.Errorf("latest observation = %v, want %v", ts, t2)
	}

	got, ok, err := pg.LatestTransfer(ctx)
	if err != nil || !ok {
		t.Fatalf("LatestTransfer: ok=%v err=%v", ok, err)
	}
	if !got.Equal(*tr) {
		t.Errorf("latest transfer = %+v, want %+v", got, *tr)
	}
}

func TestPostgres_Apply_DuplicateTimestampFails(t *testing.T) {
	pg := openTestDB(t)
	ctx := context.Background()
	ts := time.Date(2026, 2, 23, 16, 40, 18, 0, time.UTC)

	if err := pg.Apply(ctx, &Observation{Timestamp: ts, Status: "ONLINE"}, nil); err != nil {
		t.Fatalf("first Apply: %v", err)
	}
	if err := pg.Apply(ctx, &Observation{Timestamp: ts, Status: "ONLINE"}, nil); err == nil {
		t.Error("expected primary-key violation on duplicate timestamp")
	}
}

func TestPostgres_Latest_EmptyTables(t *testing.T) {
	pg := openTestDB(t)
	ctx := context.Background()

	if _, ok, err := pg.LatestObservationTime(ctx); err != nil || ok {
		t.Errorf("LatestObservationTime on empty table: ok=%v err=%v", ok, err)
	}
	if _, ok, err := pg.LatestTransfer(ctx); err != nil || ok {
		t.Errorf("LatestTransfer on empty table: ok=%v err=%v", ok, err)
	}
}

// The intern statements are built from the category table; make sure both
// categories produce well-formed SQL against their own tables.
func TestCategorySpecs(t *testing.T) {
	for cat, spec := range categories {
		if spec.table == "" || spec.idCol == "" || spec.valCol == "" {
			t.Errorf("category %s has incomplete spec %+v", cat, spec)
		}
		if !strings.HasPrefix(spec.idCol, spec.valCol) {
			t.Errorf("category %s: id column %q should derive from value column %q", cat, spec.idCol, spec.valCol)
		}
	}
}
