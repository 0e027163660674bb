package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/cqrtraffic/internal/fintraffic"
	"github.com/banshee-data/cqrtraffic/internal/monitoring"
	"github.com/banshee-data/cqrtraffic/internal/pipeline"
	"github.com/banshee-data/cqrtraffic/internal/timeutil"
	"github.com/banshee-data/cqrtraffic/internal/traffic"
)

// DefaultEmptyDayTTL is how long an empty day stays cached. Fintraffic
// publishes a day's file after the day ends, so an early miss is retried.
const DefaultEmptyDayTTL = 24 * time.Hour

// Store is the SQLite cache of retrieved days and the log of model runs.
type Store struct {
	db       *sql.DB
	path     string
	clock    timeutil.Clock
	emptyTTL time.Duration
}

// OpenStore opens (creating if needed) the database at path and migrates it
// to SchemaVersion.
func OpenStore(path string) (*Store, error) {
	s, err := OpenStoreAt(path)
	if err != nil {
		return nil, err
	}
	if err := s.MigrateUp(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// OpenStoreAt opens the database at path without touching its schema. It is
// meant for migration tooling.
func OpenStoreAt(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection keeps the pragmas in effect and lets :memory: work.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		PRAGMA foreign_keys = ON;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set pragmas: %w", err)
	}

	return &Store{db: db, path: path, clock: timeutil.RealClock{}, emptyTTL: DefaultEmptyDayTTL}, nil
}

// SetEmptyDayTTL changes how long empty days are served from the cache.
// Zero or less means an empty day is never served from the cache.
func (s *Store) SetEmptyDayTTL(ttl time.Duration) { s.emptyTTL = ttl }

// DB exposes the underlying handle for admin tooling.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

const dayKeyWhere = `station_id = ? AND year = ? AND day = ? AND direction = ?
	AND hour_from = ? AND hour_to = ? AND delete_if_faulty = ?`

func dayKeyArgs(req fintraffic.Request) []interface{} {
	return []interface{}{
		req.StationID, req.Day.Year, req.Day.Day, int(req.Direction),
		req.Window.From, req.Window.To, req.DeleteIfFaulty,
	}
}

// LookupDay returns the cached result for req, if any. Empty days older
// than the empty-day TTL count as a miss.
func (s *Store) LookupDay(ctx context.Context, req fintraffic.Request) (traffic.DayResult, bool, error) {
	var (
		dayID     int64
		status    string
		fetchedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT day_id, status, fetched_at FROM raw_days WHERE `+dayKeyWhere, dayKeyArgs(req)...,
	).Scan(&dayID, &status, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return traffic.DayResult{}, false, nil
	}
	if err != nil {
		return traffic.DayResult{}, false, fmt.Errorf("lookup day %s: %w", req.Day, err)
	}
	if status == traffic.DayEmpty.String() {
		if s.clock.Since(time.Unix(0, fetchedAt)) >= s.emptyTTL {
			return traffic.DayResult{}, false, nil
		}
		return traffic.Empty(req.Day), true, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT time_of_day, vehicle, lane, length, speed, faulty
		FROM raw_records WHERE day_id = ? ORDER BY seq`, dayID)
	if err != nil {
		return traffic.DayResult{}, false, fmt.Errorf("query records for day %s: %w", req.Day, err)
	}
	defer rows.Close()

	date := req.Day.Date()
	var records []traffic.RawRecord
	for rows.Next() {
		r := traffic.RawRecord{StationID: req.StationID, Date: date, Direction: req.Direction}
		var class int
		if err := rows.Scan(&r.TimeOfDay, &class, &r.Lane, &r.LengthM, &r.SpeedKmh, &r.Faulty); err != nil {
			return traffic.DayResult{}, false, fmt.Errorf("scan record: %w", err)
		}
		r.Class = traffic.VehicleClass(class)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return traffic.DayResult{}, false, err
	}
	return traffic.OK(req.Day, records), true, nil
}

// StoreDay replaces the cached result for req.
func (s *Store) StoreDay(ctx context.Context, req fintraffic.Request, res traffic.DayResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM raw_records WHERE day_id IN (
		SELECT day_id FROM raw_days WHERE `+dayKeyWhere+`)`, dayKeyArgs(req)...); err != nil {
		return fmt.Errorf("clear cached records: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM raw_days WHERE `+dayKeyWhere, dayKeyArgs(req)...); err != nil {
		return fmt.Errorf("clear cached day: %w", err)
	}

	args := append(dayKeyArgs(req), res.Status.String(), len(res.Records), s.clock.Now().UnixNano())
	result, err := tx.ExecContext(ctx, `
		INSERT INTO raw_days (station_id, year, day, direction, hour_from, hour_to, delete_if_faulty,
			status, record_count, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if err != nil {
		return fmt.Errorf("insert day: %w", err)
	}
	dayID, err := result.LastInsertId()
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO raw_records (day_id, seq, time_of_day, vehicle, lane, length, speed, faulty)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, r := range res.Records {
		if _, err := stmt.ExecContext(ctx, dayID, i, r.TimeOfDay, int(r.Class), r.Lane, r.LengthM, r.SpeedKmh, r.Faulty); err != nil {
			return fmt.Errorf("insert record %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// RunSummary is one row of model_runs.
type RunSummary struct {
	ID             string             `json:"id"`
	StationID      int                `json:"station_id"`
	Direction      traffic.Direction  `json:"direction"`
	Window         traffic.HourWindow `json:"window"`
	DeleteIfFaulty bool               `json:"delete_if_faulty"`
	Days           []traffic.DayRef   `json:"days"`
	Period         time.Duration      `json:"period"`
	GridX          int                `json:"grid_x"`
	GridY          int                `json:"grid_y"`
	DaysRequested  int                `json:"days_requested"`
	DaysLoaded     int                `json:"days_loaded"`
	Observations   int                `json:"observations"`
	Cells          int                `json:"cells"`
	StartedAt      time.Time          `json:"started_at"`
	Elapsed        time.Duration      `json:"elapsed"`
}

// RecordRun stores run and its models under a new id. It satisfies
// pipeline.RunRecorder.
func (s *Store) RecordRun(ctx context.Context, run pipeline.Run) error {
	_, err := s.SaveRun(ctx, run)
	return err
}

// SaveRun stores run and returns its id.
func (s *Store) SaveRun(ctx context.Context, run pipeline.Run) (string, error) {
	days, err := json.Marshal(run.Params.Load.Days)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	p := run.Params
	_, err = tx.ExecContext(ctx, `
		INSERT INTO model_runs (run_id, station_id, direction, hour_from, hour_to, delete_if_faulty,
			days, period_ns, grid_x, grid_y, days_requested, days_loaded, observations, cells,
			started_at, elapsed_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, p.Load.StationID, int(p.Load.Direction), p.Load.Window.From, p.Load.Window.To, p.Load.DeleteIfFaulty,
		string(days), int64(p.Period), p.GridX, p.GridY, run.Report.Requested, run.Report.Loaded,
		run.Aggregate.Len(), run.Bagged.Len(), run.StartedAt.UnixNano(), int64(run.Elapsed))
	if err != nil {
		return "", fmt.Errorf("insert model run: %w", err)
	}

	for i, m := range run.Models {
		x, err := json.Marshal(m.X())
		if err != nil {
			return "", err
		}
		f, err := json.Marshal(m.Frontier())
		if err != nil {
			return "", err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO fitted_models (run_id, position, tau, duration_ns, x, frontier)
			VALUES (?, ?, ?, ?, ?, ?)`, id, i, m.Tau(), int64(m.Duration()), string(x), string(f)); err != nil {
			return "", fmt.Errorf("insert fitted model %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	monitoring.Logf("Recorded model run %s for TMS %d with %d models", id, p.Load.StationID, len(run.Models))
	return id, nil
}

// Runs lists the most recent runs of a station, newest first. stationID 0
// lists every station.
func (s *Store) Runs(ctx context.Context, stationID, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, station_id, direction, hour_from, hour_to, delete_if_faulty, days, period_ns,
			grid_x, grid_y, days_requested, days_loaded, observations, cells, started_at, elapsed_ns
		FROM model_runs
		WHERE ? = 0 OR station_id = ?
		ORDER BY started_at DESC
		LIMIT ?`, stationID, stationID, limit)
	if err != nil {
		return nil, fmt.Errorf("query model runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var (
			r                   RunSummary
			dir                 int
			days                string
			period, elapsed, at int64
		)
		if err := rows.Scan(&r.ID, &r.StationID, &dir, &r.Window.From, &r.Window.To, &r.DeleteIfFaulty,
			&days, &period, &r.GridX, &r.GridY, &r.DaysRequested, &r.DaysLoaded, &r.Observations,
			&r.Cells, &at, &elapsed); err != nil {
			return nil, fmt.Errorf("scan model run: %w", err)
		}
		if err := json.Unmarshal([]byte(days), &r.Days); err != nil {
			return nil, fmt.Errorf("decode days of run %s: %w", r.ID, err)
		}
		r.Direction = traffic.Direction(dir)
		r.Period = time.Duration(period)
		r.Elapsed = time.Duration(elapsed)
		r.StartedAt = time.Unix(0, at).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// RunModels returns the fitted models of a run in tau order.
func (s *Store) RunModels(ctx context.Context, runID string) ([]traffic.FittedModel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tau, duration_ns, x, frontier FROM fitted_models
		WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("query fitted models: %w", err)
	}
	defer rows.Close()

	var out []traffic.FittedModel
	for rows.Next() {
		var (
			tau         float64
			dur         int64
			xs, fs      string
			x, frontier []float64
		)
		if err := rows.Scan(&tau, &dur, &xs, &fs); err != nil {
			return nil, fmt.Errorf("scan fitted model: %w", err)
		}
		if err := json.Unmarshal([]byte(xs), &x); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(fs), &frontier); err != nil {
			return nil, err
		}
		out = append(out, traffic.NewFittedModel(tau, x, frontier, time.Duration(dur)))
	}
	return out, rows.Err()
}
