package sqlite

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amombay/Hexcitations/internal/markers"
	"github.com/amombay/Hexcitations/internal/order"
	"github.com/amombay/Hexcitations/internal/pipeline"
	"github.com/amombay/Hexcitations/internal/testutil"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func createRun(t *testing.T, store *RunStore) *Run {
	t.Helper()
	run := &Run{Source: "synthetic", FramesPerSecond: 10, MinMarkers: 2}
	require.NoError(t, store.CreateRun(context.Background(), run))
	return run
}

// runFrames feeds three frames through a pipeline recording into runID.
func runFrames(t *testing.T, store *RunStore, runID string) *pipeline.Pipeline {
	t.Helper()
	p, err := pipeline.New(pipeline.Config{FramesPerSecond: 10, Sinks: []pipeline.Sink{store.Recorder(runID)}})
	require.NoError(t, err)

	frames := []markers.Frame{
		testutil.FrameOf(0, testutil.MarkerAt(1, 10, 20, 0), testutil.MarkerAt(2, 60, 20, 0.2)),
		testutil.FrameOf(1, testutil.MarkerAt(1, 11, 20, 0.1)),
		testutil.FrameOf(2, testutil.MarkerAt(1, 12, 20, 0.3), testutil.MarkerAt(2, 62, 20, 0.6)),
	}
	for _, f := range frames {
		_, err := p.ProcessFrame(context.Background(), f)
		require.NoError(t, err)
	}
	return p
}

// ---------------------------------------------------------------------------
// Open and migrations
// ---------------------------------------------------------------------------

func TestOpen_MigratesToLatest(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "runs.db")

	db, err := Open(path)
	require.NoError(t, err)
	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)
	require.NoError(t, db.Close())

	// reopening an up-to-date database is a no-op
	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()
	version, _, err = db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.Equal(t, path, db.Path())

	var fk int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

// ---------------------------------------------------------------------------
// RunStore
// ---------------------------------------------------------------------------

func TestRunStore_CreateAndGet(t *testing.T) {
	t.Parallel()
	store := NewRunStore(setupTestDB(t))
	ctx := context.Background()

	run := &Run{Source: "capture.jsonl", FramesPerSecond: 30, MinMarkers: 2, ConfigJSON: json.RawMessage(`{"fps":30}`)}
	require.NoError(t, store.CreateRun(ctx, run))
	assert.Len(t, run.RunID, 36)
	assert.NotZero(t, run.StartedAt)

	got, err := store.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, "capture.jsonl", got.Source)
	assert.Equal(t, RunStatusRunning, got.Status)
	assert.JSONEq(t, `{"fps":30}`, string(got.ConfigJSON))
	assert.Zero(t, got.FinishedAt)
	assert.Nil(t, got.Summary)
}

func TestRunStore_RecordAndList(t *testing.T) {
	t.Parallel()
	store := NewRunStore(setupTestDB(t))
	ctx := context.Background()
	run := createRun(t, store)

	p := runFrames(t, store, run.RunID)

	samples, err := store.ListSamples(ctx, run.RunID)
	require.NoError(t, err)
	if diff := cmp.Diff(p.Series().View(), samples, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("samples mismatch (-want +got):\n%s", diff)
	}
	require.Len(t, samples, 2)
	assert.InDelta(t, 0.2, samples[1].Timestamp, 1e-12)

	obs, err := store.ListObservations(ctx, run.RunID, nil)
	require.NoError(t, err)
	require.Len(t, obs, 5)
	assert.Equal(t, Observation{FrameIndex: 0, MarkerID: 1, X: 10, Y: 20, RelativeAngle: 0}, roundObs(obs[0]))

	id := markers.MarkerID(2)
	obs, err = store.ListObservations(ctx, run.RunID, &id)
	require.NoError(t, err)
	require.Len(t, obs, 2)
	assert.Equal(t, 2, obs[1].FrameIndex)
	assert.InDelta(t, 0.4, obs[1].RelativeAngle, 1e-9)
	assert.InDelta(t, 62, obs[1].X, 1e-9)
}

func roundObs(o Observation) Observation {
	round := func(v float64) float64 { return float64(int64(v*1e6+0.5)) / 1e6 }
	o.X, o.Y, o.RelativeAngle = round(o.X), round(o.Y), round(o.RelativeAngle)
	return o
}

func TestRecorder_FinishStoresSummary(t *testing.T) {
	t.Parallel()
	store := NewRunStore(setupTestDB(t))
	ctx := context.Background()
	run := createRun(t, store)
	store.now = func() time.Time { return time.Unix(0, run.StartedAt+int64(time.Second)) }

	p := runFrames(t, store, run.RunID)
	rec := store.Recorder(run.RunID)
	assert.Equal(t, run.RunID, rec.RunID())
	require.NoError(t, rec.Finish(ctx, p.Latest()))

	got, err := store.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusComplete, got.Status)
	assert.Equal(t, run.StartedAt+int64(time.Second), got.FinishedAt)
	assert.Equal(t, 3, got.FramesProcessed)
	assert.Equal(t, 2, got.Samples)
	assert.Equal(t, 2, got.Markers)

	want := order.Summarize(p.Series().View())
	require.NotNil(t, got.Summary)
	assert.InDelta(t, want.CurvatureMean, got.Summary.CurvatureMean, 1e-12)
	assert.InDelta(t, want.PolarizationStdDev, got.Summary.PolarizationStdDev, 1e-12)

	require.NoError(t, store.SetStatus(ctx, run.RunID, RunStatusAborted))
	got, err = store.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusAborted, got.Status)
}

func TestRunStore_FinishWithoutSamples(t *testing.T) {
	t.Parallel()
	store := NewRunStore(setupTestDB(t))
	ctx := context.Background()
	run := createRun(t, store)

	require.NoError(t, store.FinishRun(ctx, run.RunID, RunStatusComplete, pipeline.Stats{FramesRejected: 4}, order.Summary{}))
	got, err := store.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Nil(t, got.Summary)
	assert.Equal(t, 4, got.FramesRejected)
}

func TestRunStore_NotFound(t *testing.T) {
	t.Parallel()
	store := NewRunStore(setupTestDB(t))
	ctx := context.Background()

	_, err := store.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, store.FinishRun(ctx, "missing", RunStatusComplete, pipeline.Stats{}, order.Summary{}), ErrRunNotFound)
	assert.ErrorIs(t, store.SetStatus(ctx, "missing", RunStatusAborted), ErrRunNotFound)
	assert.ErrorIs(t, store.DeleteRun(ctx, "missing"), ErrRunNotFound)
}

func TestRunStore_RecordIntoUnknownRunFails(t *testing.T) {
	t.Parallel()
	store := NewRunStore(setupTestDB(t))

	p, err := pipeline.New(pipeline.Config{FramesPerSecond: 10, Sinks: []pipeline.Sink{store.Recorder("missing")}})
	require.NoError(t, err)
	_, err = p.ProcessFrame(context.Background(), testutil.FrameOf(0, testutil.MarkerAt(1, 0, 0, 0)))
	assert.Error(t, err, "foreign key should reject observations of an unknown run")
}

func TestRunStore_ListRunsAndDelete(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	store := NewRunStore(db)
	ctx := context.Background()

	older := &Run{Source: "a", FramesPerSecond: 10, MinMarkers: 2, StartedAt: 100}
	newer := &Run{Source: "b", FramesPerSecond: 10, MinMarkers: 2, StartedAt: 200}
	require.NoError(t, store.CreateRun(ctx, older))
	require.NoError(t, store.CreateRun(ctx, newer))
	runFrames(t, store, older.RunID)

	runs, err := store.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, newer.RunID, runs[0].RunID)

	runs, err = store.ListRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	require.NoError(t, store.DeleteRun(ctx, older.RunID))
	counts, err := db.TableCounts()
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"runs": 1, "marker_observations": 0, "frame_samples": 0}, counts)
}

// ---------------------------------------------------------------------------
// Admin routes
// ---------------------------------------------------------------------------

func TestAttachAdminRoutes(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	createRun(t, NewRunStore(db))

	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	for _, path := range []string{"/debug/runs", "/debug/db-stats", "/debug/runs?limit=1"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "127.0.0.1:4321"
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		// Registered routes answer 200, or 403 when debug access is denied.
		assert.NotEqual(t, http.StatusNotFound, w.Code, path)
		if w.Code == http.StatusOK {
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"), path)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/debug/runs?limit=x", nil)
	req.RemoteAddr = "127.0.0.1:4321"
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Contains(t, []int{http.StatusBadRequest, http.StatusForbidden}, w.Code)
}
