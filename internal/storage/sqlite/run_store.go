package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/amombay/Hexcitations/internal/markers"
	"github.com/amombay/Hexcitations/internal/order"
	"github.com/amombay/Hexcitations/internal/pipeline"
)

// ErrRunNotFound is returned when no run has the requested ID.
var ErrRunNotFound = errors.New("run not found")

// Run statuses.
const (
	RunStatusRunning  = "running"
	RunStatusComplete = "complete"
	RunStatusAborted  = "aborted"
)

// Run is one pass of the pipeline over a detection source.
type Run struct {
	RunID           string          `json:"run_id"`
	Source          string          `json:"source"`
	FramesPerSecond float64         `json:"fps"`
	MinMarkers      int             `json:"min_markers"`
	ConfigJSON      json.RawMessage `json:"config_json,omitempty"`
	Status          string          `json:"status"`
	StartedAt       int64           `json:"started_at"`
	FinishedAt      int64           `json:"finished_at,omitempty"`

	FramesProcessed int `json:"frames_processed"`
	FramesRejected  int `json:"frames_rejected"`
	Samples         int `json:"samples"`
	Markers         int `json:"markers"`

	// Summary is nil until the run finishes with at least one sample.
	Summary *RunSummary `json:"summary,omitempty"`
}

// RunSummary holds the order-parameter statistics stored with a run.
type RunSummary struct {
	CurvatureMean      float64 `json:"curvature_mean_rad"`
	CurvatureStdDev    float64 `json:"curvature_stddev_rad"`
	PolarizationMean   float64 `json:"polarization_mean_rad"`
	PolarizationStdDev float64 `json:"polarization_stddev_rad"`
}

// Observation is one stored marker observation.
type Observation struct {
	FrameIndex    int              `json:"frame"`
	MarkerID      markers.MarkerID `json:"marker_id"`
	X             float64          `json:"x"`
	Y             float64          `json:"y"`
	RelativeAngle float64          `json:"relative_angle_rad"`
}

// RunStore provides persistence for runs, observations and samples.
type RunStore struct {
	db  *DB
	now func() time.Time
}

// NewRunStore creates a RunStore.
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db, now: time.Now}
}

// CreateRun inserts run. If RunID is empty a UUID is generated; StartedAt
// defaults to now.
func (s *RunStore) CreateRun(ctx context.Context, run *Run) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.StartedAt == 0 {
		run.StartedAt = s.now().UnixNano()
	}
	if run.Status == "" {
		run.Status = RunStatusRunning
	}

	var configStr interface{}
	if len(run.ConfigJSON) > 0 {
		configStr = string(run.ConfigJSON)
	}

	return retryOnBusy(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO runs (run_id, source, fps, min_markers, config_json, status, started_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			run.RunID, run.Source, run.FramesPerSecond, run.MinMarkers, configStr, run.Status, run.StartedAt,
		)
		if err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		return nil
	})
}

// RecordFrame stores the observations and sample of one snapshot in a
// single transaction.
func (s *RunStore) RecordFrame(ctx context.Context, runID string, snap *pipeline.Snapshot) error {
	return retryOnBusy(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer tx.Rollback()

		obs, err := tx.PrepareContext(ctx, `
			INSERT INTO marker_observations (run_id, frame_index, marker_id, x, y, relative_angle)
			VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare observation insert: %w", err)
		}
		defer obs.Close()

		for _, p := range snap.Present {
			view, ok := snap.Tracks[p.ID]
			if !ok || len(view.Positions) == 0 {
				return fmt.Errorf("marker %d missing from snapshot tracks", p.ID)
			}
			pos := view.Positions[len(view.Positions)-1]
			if _, err := obs.ExecContext(ctx, runID, snap.FrameIndex, int(p.ID), pos.X, pos.Y, p.Angle); err != nil {
				return fmt.Errorf("insert observation of marker %d: %w", p.ID, err)
			}
		}

		if smp := snap.Sample; smp != nil {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO frame_samples (run_id, frame_index, t, mean_curvature, mean_polarization, marker_count)
				VALUES (?, ?, ?, ?, ?, ?)`,
				runID, smp.FrameIndex, smp.Timestamp, smp.MeanCurvature, smp.MeanPolarization, smp.MarkerCount,
			); err != nil {
				return fmt.Errorf("insert sample: %w", err)
			}
		}

		return tx.Commit()
	})
}

// FinishRun records the final counters and summary of a run.
func (s *RunStore) FinishRun(ctx context.Context, runID, status string, stats pipeline.Stats, summary order.Summary) error {
	var curvMean, curvSD, polMean, polSD interface{}
	if summary.Samples > 0 {
		curvMean, curvSD = summary.CurvatureMean, summary.CurvatureStdDev
		polMean, polSD = summary.PolarizationMean, summary.PolarizationStdDev
	}

	return retryOnBusy(func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE runs SET
				status = ?, finished_at = ?,
				frames_processed = ?, frames_rejected = ?, samples = ?, markers = ?,
				curvature_mean = ?, curvature_stddev = ?, polarization_mean = ?, polarization_stddev = ?
			WHERE run_id = ?`,
			status, s.now().UnixNano(),
			stats.FramesProcessed, stats.FramesRejected, stats.Samples, stats.Markers,
			curvMean, curvSD, polMean, polSD,
			runID,
		)
		if err != nil {
			return fmt.Errorf("update run: %w", err)
		}
		return requireOneRow(res, runID)
	})
}

// SetStatus changes the status of a run.
func (s *RunStore) SetStatus(ctx context.Context, runID, status string) error {
	return retryOnBusy(func() error {
		res, err := s.db.ExecContext(ctx, `UPDATE runs SET status = ? WHERE run_id = ?`, status, runID)
		if err != nil {
			return fmt.Errorf("update run status: %w", err)
		}
		return requireOneRow(res, runID)
	})
}

func requireOneRow(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

const runColumns = `
	run_id, source, fps, min_markers, config_json, status, started_at, finished_at,
	frames_processed, frames_rejected, samples, markers,
	curvature_mean, curvature_stddev, polarization_mean, polarization_stddev`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		r                Run
		configStr        sql.NullString
		finishedAt       sql.NullInt64
		curvMean, curvSD sql.NullFloat64
		polMean, polSD   sql.NullFloat64
	)
	if err := row.Scan(
		&r.RunID, &r.Source, &r.FramesPerSecond, &r.MinMarkers, &configStr, &r.Status, &r.StartedAt, &finishedAt,
		&r.FramesProcessed, &r.FramesRejected, &r.Samples, &r.Markers,
		&curvMean, &curvSD, &polMean, &polSD,
	); err != nil {
		return nil, err
	}
	if configStr.Valid {
		r.ConfigJSON = json.RawMessage(configStr.String)
	}
	if finishedAt.Valid {
		r.FinishedAt = finishedAt.Int64
	}
	if curvMean.Valid {
		r.Summary = &RunSummary{
			CurvatureMean:      curvMean.Float64,
			CurvatureStdDev:    curvSD.Float64,
			PolarizationMean:   polMean.Float64,
			PolarizationStdDev: polSD.Float64,
		}
	}
	return &r, nil
}

// GetRun returns a single run by ID.
func (s *RunStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	return r, nil
}

// ListRuns returns the most recently started runs, newest first. A
// non-positive limit defaults to 50.
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ListSamples returns the sample series of a run in frame order.
func (s *RunStore) ListSamples(ctx context.Context, runID string) ([]order.FrameSample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT frame_index, t, mean_curvature, mean_polarization, marker_count
		FROM frame_samples
		WHERE run_id = ?
		ORDER BY frame_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	var samples []order.FrameSample
	for rows.Next() {
		var smp order.FrameSample
		if err := rows.Scan(&smp.FrameIndex, &smp.Timestamp, &smp.MeanCurvature, &smp.MeanPolarization, &smp.MarkerCount); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		samples = append(samples, smp)
	}
	return samples, rows.Err()
}

// ListObservations returns the observations of a run ordered by frame then
// marker. A nil markerID returns every marker.
func (s *RunStore) ListObservations(ctx context.Context, runID string, markerID *markers.MarkerID) ([]Observation, error) {
	query := `
		SELECT frame_index, marker_id, x, y, relative_angle
		FROM marker_observations
		WHERE run_id = ?`
	args := []any{runID}
	if markerID != nil {
		query += ` AND marker_id = ?`
		args = append(args, int(*markerID))
	}
	query += ` ORDER BY frame_index, marker_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()

	var out []Observation
	for rows.Next() {
		var o Observation
		var id int
		if err := rows.Scan(&o.FrameIndex, &id, &o.X, &o.Y, &o.RelativeAngle); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		o.MarkerID = markers.MarkerID(id)
		out = append(out, o)
	}
	return out, rows.Err()
}

// DeleteRun removes a run and everything recorded for it.
func (s *RunStore) DeleteRun(ctx context.Context, runID string) error {
	return retryOnBusy(func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, runID)
		if err != nil {
			return fmt.Errorf("delete run: %w", err)
		}
		return requireOneRow(res, runID)
	})
}

// Recorder is a pipeline sink that records every snapshot under one run.
type Recorder struct {
	store *RunStore
	runID string
}

// Recorder returns a sink that writes into runID.
func (s *RunStore) Recorder(runID string) *Recorder {
	return &Recorder{store: s, runID: runID}
}

// RunID returns the run being recorded.
func (r *Recorder) RunID() string { return r.runID }

// Consume records one snapshot.
func (r *Recorder) Consume(ctx context.Context, snap *pipeline.Snapshot) error {
	return r.store.RecordFrame(ctx, r.runID, snap)
}

// Finish marks the run complete with the snapshot's counters and the
// summary of its series.
func (r *Recorder) Finish(ctx context.Context, snap *pipeline.Snapshot) error {
	return r.store.FinishRun(ctx, r.runID, RunStatusComplete, snap.Stats, order.Summarize(snap.Series))
}
