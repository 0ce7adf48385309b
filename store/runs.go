package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"ukf-tracker/fusion"
)

// ErrRunNotFound is returned for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

// Run is one tracker session.
type Run struct {
	ID         string
	Source     string
	ConfigJSON string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// EstimateRow is a stored pipeline result. NIS is NaN when the result
// carried none.
type EstimateRow struct {
	Addr        uint32
	TimestampUs int64
	Sensor      string
	Flag        int
	X, Y        float64
	Vx, Vy      float64
	Speed       float64
	Heading     float64
	YawRate     float64
	NIS         float64
	Error       string
}

// CreateRun registers a new run and returns its id.
func (db *DB) CreateRun(source string, cfg fusion.Config) (string, error) {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("encode run config: %w", err)
	}
	id := uuid.NewString()
	_, err = db.Exec(`INSERT INTO runs (run_id, source, config_json, started_at) VALUES (?, ?, ?, ?)`,
		id, source, string(cfgJSON), time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// FinishRun stamps the run end time and stores its NIS summaries.
func (db *DB) FinishRun(runID string, summaries []fusion.NISSummary) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`UPDATE runs SET finished_at = ? WHERE run_id = ?`, time.Now().UTC(), runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: %w", runID, ErrRunNotFound)
	}
	for _, s := range summaries {
		_, err := tx.Exec(`INSERT OR REPLACE INTO nis_summaries
			(run_id, sensor, count, dof, mean, threshold_95, exceed_95) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			runID, s.Sensor, s.Count, s.DOF, s.Mean, s.Threshold95, s.Exceed95)
		if err != nil {
			return fmt.Errorf("insert nis summary: %w", err)
		}
	}
	return tx.Commit()
}

func (db *DB) GetRun(runID string) (Run, error) {
	var r Run
	var finished sql.NullTime
	err := db.QueryRow(`SELECT run_id, source, config_json, started_at, finished_at FROM runs WHERE run_id = ?`, runID).
		Scan(&r.ID, &r.Source, &r.ConfigJSON, &r.StartedAt, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return Run{}, err
	}
	if finished.Valid {
		r.FinishedAt = &finished.Time
	}
	return r, nil
}

// Runs lists runs, most recent first.
func (db *DB) Runs() ([]Run, error) {
	rows, err := db.Query(`SELECT run_id, source, config_json, started_at, finished_at FROM runs ORDER BY started_at DESC, rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var r Run
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.Source, &r.ConfigJSON, &r.StartedAt, &finished); err != nil {
			return nil, err
		}
		if finished.Valid {
			r.FinishedAt = &finished.Time
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

// InsertEstimate stores one pipeline result of run runID.
func (db *DB) InsertEstimate(runID string, addr uint32, r fusion.FusionResult) error {
	var errText sql.NullString
	if r.Err != nil {
		errText = sql.NullString{String: r.Err.Error(), Valid: true}
	}
	_, err := db.Exec(`INSERT INTO estimates
		(run_id, addr, ts_us, sensor, flag, x, y, vx, vy, speed, heading, yaw_rate, nis, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, int64(addr), r.TimestampUs, r.Sensor.String(), r.Flag,
		nullFloat(r.X), nullFloat(r.Y), nullFloat(r.Vx), nullFloat(r.Vy),
		nullFloat(r.Speed), nullFloat(r.Heading), nullFloat(r.YawRate), nullFloat(r.NIS), errText)
	if err != nil {
		return fmt.Errorf("insert estimate: %w", err)
	}
	return nil
}

// Estimates returns the stored results of a run in insertion order.
func (db *DB) Estimates(runID string) ([]EstimateRow, error) {
	rows, err := db.Query(`SELECT addr, ts_us, sensor, flag, x, y, vx, vy, speed, heading, yaw_rate, nis, error
		FROM estimates WHERE run_id = ? ORDER BY estimate_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EstimateRow
	for rows.Next() {
		var e EstimateRow
		var addr int64
		var x, y, vx, vy, speed, heading, yawRate, nis sql.NullFloat64
		var errText sql.NullString
		if err := rows.Scan(&addr, &e.TimestampUs, &e.Sensor, &e.Flag,
			&x, &y, &vx, &vy, &speed, &heading, &yawRate, &nis, &errText); err != nil {
			return nil, err
		}
		e.Addr = uint32(addr)
		e.X, e.Y, e.Vx, e.Vy = x.Float64, y.Float64, vx.Float64, vy.Float64
		e.Speed, e.Heading, e.YawRate = speed.Float64, heading.Float64, yawRate.Float64
		e.NIS = math.NaN()
		if nis.Valid {
			e.NIS = nis.Float64
		}
		e.Error = errText.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// NISSummaries returns the summaries stored by FinishRun, ordered by sensor.
func (db *DB) NISSummaries(runID string) ([]fusion.NISSummary, error) {
	rows, err := db.Query(`SELECT sensor, count, dof, mean, threshold_95, exceed_95
		FROM nis_summaries WHERE run_id = ? ORDER BY sensor`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []fusion.NISSummary
	for rows.Next() {
		var s fusion.NISSummary
		if err := rows.Scan(&s.Sensor, &s.Count, &s.DOF, &s.Mean, &s.Threshold95, &s.Exceed95); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteRun removes a run with its estimates and summaries.
func (db *DB) DeleteRun(runID string) error {
	res, err := db.Exec(`DELETE FROM runs WHERE run_id = ?`, runID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete run %s: %w", runID, ErrRunNotFound)
	}
	return nil
}
