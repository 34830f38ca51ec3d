package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Table names carry the v2 suffix of earlier deployments so an existing
// database keeps working unchanged.
var schemaSteps = []string{
	`CREATE TABLE IF NOT EXISTS status_v2 (
		status_id INTEGER GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
		status    TEXT UNIQUE NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS reason_v2 (
		reason_id INTEGER GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
		reason    TEXT UNIQUE NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS upslog_v2 (
		timestamp   TIMESTAMP WITH TIME ZONE PRIMARY KEY,
		status_id   INTEGER REFERENCES status_v2(status_id),
		linevoltage DOUBLE PRECISION,
		battvoltage DOUBLE PRECISION,
		load        DOUBLE PRECISION,
		batterysoc  DOUBLE PRECISION,
		timeleft    DOUBLE PRECISION,
		onbatt      BOOLEAN)`,
	`CREATE TABLE IF NOT EXISTS transfer_v2 (
		timestamp TIMESTAMP WITH TIME ZONE PRIMARY KEY,
		to_batt   BOOLEAN,
		reason_id INTEGER REFERENCES reason_v2(reason_id))`,
}

var dropSteps = []string{
	`DROP TABLE IF EXISTS transfer_v2`,
	`DROP TABLE IF EXISTS upslog_v2`,
	`DROP TABLE IF EXISTS reason_v2`,
	`DROP TABLE IF EXISTS status_v2`,
}

// categorySpec maps a Category onto its normalization table.
type categorySpec struct {
	table  string
	idCol  string
	valCol string
}

var categories = map[Category]categorySpec{
	CategoryStatus: {table: "status_v2", idCol: "status_id", valCol: "status"},
	CategoryReason: {table: "reason_v2", idCol: "reason_id", valCol: "reason"},
}

const (
	insertObservationSQL = `INSERT INTO upslog_v2
		(timestamp, status_id, linevoltage, battvoltage, load, batterysoc, timeleft, onbatt)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	insertTransferSQL = `INSERT INTO transfer_v2 (timestamp, to_batt, reason_id)
		VALUES ($1, $2, $3)`

	latestObservationSQL = `SELECT timestamp FROM upslog_v2
		ORDER BY timestamp DESC LIMIT 1`

	latestTransferSQL = `SELECT t.timestamp, t.to_batt, r.reason
		FROM transfer_v2 t
		LEFT JOIN reason_v2 r ON r.reason_id = t.reason_id
		ORDER BY t.timestamp DESC LIMIT 1`
)

// Postgres implements SampleStore over a PostgreSQL database.
type Postgres struct {
	db *sql.DB
}

// Open connects to PostgreSQL via the pgx stdlib driver and verifies the
// connection with a ping.
func Open(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return &Postgres{db: db}, nil
}

// NewPostgres wraps an existing database handle; the caller keeps ownership
// of db's lifecycle.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Close releases the underlying connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// EnsureSchema creates any missing tables.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	for _, step := range schemaSteps {
		if _, err := p.db.ExecContext(ctx, step); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}
	return nil
}

// DropSchema removes all tables.  Used by -reset only.
func (p *Postgres) DropSchema(ctx context.Context) error {
	for _, step := range dropSteps {
		if _, err := p.db.ExecContext(ctx, step); err != nil {
			return fmt.Errorf("dropping schema: %w", err)
		}
	}
	return nil
}

// Intern returns the stable identifier for value within cat, allocating a
// new one on first sight.  Safe under concurrent first use: the table's
// uniqueness constraint arbitrates, and losing the insert race falls back
// to a lookup of the winner's row.
func (p *Postgres) Intern(ctx context.Context, cat Category, value string) (int64, error) {
	return intern(ctx, p.db, cat, value)
}

// querier is the subset of *sql.DB and *sql.Tx used by intern.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func intern(ctx context.Context, q querier, cat Category, value string) (int64, error) {
	spec, ok := categories[cat]
	if !ok {
		return 0, fmt.Errorf("unknown normalization category %d", cat)
	}

	insert := fmt.Sprintf(
		`INSERT INTO %s (%s) VALUES ($1) ON CONFLICT (%s) DO NOTHING RETURNING %s`,
		spec.table, spec.valCol, spec.valCol, spec.idCol)

	var id int64
	err := q.QueryRowContext(ctx, insert, value).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("interning %s %q: %w", cat, value, err)
	}

	// DO NOTHING returned no row: the value already exists (possibly
	// inserted by a concurrent writer an instant ago).  Look it up.
	lookup := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1`, spec.idCol, spec.table, spec.valCol)
	if err := q.QueryRowContext(ctx, lookup, value).Scan(&id); err != nil {
		return 0, fmt.Errorf("looking up %s %q: %w", cat, value, err)
	}
	return id, nil
}

// LatestObservationTime implements SampleStore.
func (p *Postgres) LatestObservationTime(ctx context.Context) (time.Time, bool, error) {
	var ts time.Time
	err := p.db.QueryRowContext(ctx, latestObservationSQL).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("querying latest observation: %w", err)
	}
	return ts, true, nil
}

// LatestTransfer implements SampleStore.
func (p *Postgres) LatestTransfer(ctx context.Context) (Transfer, bool, error) {
	var (
		ts     time.Time
		toBatt sql.NullBool
		reason sql.NullString
	)
	err := p.db.QueryRowContext(ctx, latestTransferSQL).Scan(&ts, &toBatt, &reason)
	if errors.Is(err, sql.ErrNoRows) {
		return Transfer{}, false, nil
	}
	if err != nil {
		return Transfer{}, false, fmt.Errorf("querying latest transfer: %w", err)
	}
	return Transfer{Timestamp: ts, ToBattery: toBatt.Bool, Reason: reason.String}, true, nil
}

// Apply implements SampleStore: both rows and any normalization entries they
// trigger commit in one transaction, so a crash mid-sample cannot leave an
// orphaned identifier reference.
func (p *Postgres) Apply(ctx context.Context, obs *Observation, tr *Transfer) error {
	if obs == nil && tr == nil {
		return nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if obs != nil {
		var statusID sql.NullInt64
		if obs.Status != "" {
			id, err := intern(ctx, tx, CategoryStatus, obs.Status)
			if err != nil {
				_ = tx.Rollback()
				return err
			}
			statusID = sql.NullInt64{Int64: id, Valid: true}
		}
		if _, err := tx.ExecContext(ctx, insertObservationSQL,
			obs.Timestamp,
			statusID,
			nullFloat(obs.LineVoltage),
			nullFloat(obs.BatteryVoltage),
			nullFloat(obs.LoadWatts),
			nullFloat(obs.BatteryCharge),
			nullFloat(obs.TimeLeft),
			obs.OnBattery,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("inserting observation at %s: %w", obs.Timestamp, err)
		}
	}

	if tr != nil {
		var reasonID sql.NullInt64
		if tr.Reason != "" {
			id, err := intern(ctx, tx, CategoryReason, tr.Reason)
			if err != nil {
				_ = tx.Rollback()
				return err
			}
			reasonID = sql.NullInt64{Int64: id, Valid: true}
		}
		if _, err := tx.ExecContext(ctx, insertTransferSQL,
			tr.Timestamp, tr.ToBattery, reasonID,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("inserting transfer at %s: %w", tr.Timestamp, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing sample: %w", err)
	}
	return nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
