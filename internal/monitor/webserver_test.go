package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amombay/Hexcitations/internal/fsutil"
	"github.com/amombay/Hexcitations/internal/order"
	"github.com/amombay/Hexcitations/internal/pipeline"
	"github.com/amombay/Hexcitations/internal/testutil"
	"github.com/amombay/Hexcitations/internal/timeutil"
	"github.com/amombay/Hexcitations/internal/units"
)

func newPipeline(t *testing.T, frames int) *pipeline.Pipeline {
	t.Helper()
	p, err := pipeline.New(pipeline.Config{FramesPerSecond: 10})
	require.NoError(t, err)
	for i := 1; i <= frames; i++ {
		a := 0.1 * float64(i)
		_, err := p.ProcessFrame(context.Background(), testutil.FrameOf(i,
			testutil.MarkerAt(3, 220, 100, 3*a),
			testutil.MarkerAt(1, 100, 100, a),
			testutil.MarkerAt(2, 160, 100, 2*a),
		))
		require.NoError(t, err)
	}
	return p
}

func newServer(t *testing.T, cfg WebServerConfig) *WebServer {
	t.Helper()
	ws, err := NewWebServer(cfg)
	require.NoError(t, err)
	return ws
}

func get(t *testing.T, ws *WebServer, path string) *http.Response {
	t.Helper()
	w := testutil.NewTestRecorder()
	ws.Handler().ServeHTTP(w, testutil.NewTestRequest(http.MethodGet, path))
	return w.Result()
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestNewWebServer_RequiresSnapshots(t *testing.T) {
	_, err := NewWebServer(WebServerConfig{})
	assert.Error(t, err)
}

func TestNewWebServer_Defaults(t *testing.T) {
	ws := newServer(t, WebServerConfig{Snapshots: newPipeline(t, 0), DisplayUnits: "gradians"})
	assert.Equal(t, units.Degrees, ws.units)
	assert.IsType(t, fsutil.OSFileSystem{}, ws.fsys)
	assert.IsType(t, timeutil.RealClock{}, ws.clock)
}

func TestHandleHealth(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	ws := newServer(t, WebServerConfig{Snapshots: newPipeline(t, 0), Clock: clock})

	resp := get(t, ws, "/health")
	testutil.AssertStatusCode(t, resp.StatusCode, http.StatusOK)
	var body map[string]string
	decode(t, resp, &body)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "2026-03-01T12:00:00Z", body["timestamp"])
}

func TestAPIStatus_BeforeFirstFrame(t *testing.T) {
	ws := newServer(t, WebServerConfig{Snapshots: newPipeline(t, 0)})

	resp := get(t, ws, "/api/status")
	testutil.AssertStatusCode(t, resp.StatusCode, http.StatusOK)
	var status StatusResponse
	decode(t, resp, &status)
	assert.False(t, status.Ready)
	assert.Equal(t, -1, status.Frame)
	assert.Nil(t, status.Sample)
}

func TestDataEndpoints_UnavailableBeforeFirstFrame(t *testing.T) {
	ws := newServer(t, WebServerConfig{Snapshots: newPipeline(t, 0)})
	for _, path := range []string{"/api/samples", "/api/tracks", "/api/tracks/1", "/api/present"} {
		resp := get(t, ws, path)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, path)
	}
}

func TestAPIStatus_AfterFrames(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1000, 0))
	ws := newServer(t, WebServerConfig{Snapshots: newPipeline(t, 3), Clock: clock})
	clock.Advance(5 * time.Second)

	var status StatusResponse
	decode(t, get(t, ws, "/api/status"), &status)
	assert.True(t, status.Ready)
	assert.Equal(t, 3, status.Frame)
	assert.InDelta(t, 0.3, status.Timestamp, 1e-12)
	assert.Equal(t, 3, status.Present)
	assert.Equal(t, 3, status.Stats.FramesProcessed)
	assert.Equal(t, 3, status.Stats.Markers)
	assert.InDelta(t, 5.0, status.UptimeSeconds, 1e-9)
	require.NotNil(t, status.Sample)
	// Relative angles at frame 3 are 0.2, 0.4, 0.6.
	assert.InDelta(t, 0.4, status.Sample.MeanCurvature, 1e-9)
	assert.InDelta(t, 0.4, status.Sample.MeanPolarization, 1e-9)
}

func TestHandleSamples(t *testing.T) {
	ws := newServer(t, WebServerConfig{Snapshots: newPipeline(t, 4)})

	tests := []struct {
		path   string
		frames []int
	}{
		{"/api/samples", []int{1, 2, 3, 4}},
		{"/api/samples?since=2", []int{3, 4}},
		{"/api/samples?since=4", []int{}},
		{"/api/samples?limit=1", []int{4}},
		{"/api/samples?since=1&limit=2", []int{3, 4}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp := get(t, ws, tt.path)
			testutil.AssertStatusCode(t, resp.StatusCode, http.StatusOK)
			var body struct {
				Frame   int                 `json:"frame"`
				Samples []order.FrameSample `json:"samples"`
			}
			decode(t, resp, &body)
			assert.Equal(t, 4, body.Frame)
			got := make([]int, len(body.Samples))
			for i, s := range body.Samples {
				got[i] = s.FrameIndex
			}
			assert.Equal(t, tt.frames, got)
		})
	}
}

func TestHandleSamples_BadParams(t *testing.T) {
	ws := newServer(t, WebServerConfig{Snapshots: newPipeline(t, 2)})
	for _, path := range []string{"/api/samples?since=x", "/api/samples?limit=-1", "/api/samples?limit=many"} {
		assert.Equal(t, http.StatusBadRequest, get(t, ws, path).StatusCode, path)
	}
}

func TestHandleTracks(t *testing.T) {
	ws := newServer(t, WebServerConfig{Snapshots: newPipeline(t, 3)})

	var out []TrackSummary
	decode(t, get(t, ws, "/api/tracks"), &out)
	require.Len(t, out, 3)
	for i, s := range out {
		assert.EqualValues(t, i+1, s.ID)
		assert.Equal(t, 3, s.Observations)
		assert.Equal(t, 3, s.LastFrame)
	}
	assert.InDelta(t, 0.6, out[2].RelativeAngle, 1e-9)
	assert.InDelta(t, 220, out[2].LastPosition.X, 1e-9)
}

func TestHandleTrack(t *testing.T) {
	ws := newServer(t, WebServerConfig{Snapshots: newPipeline(t, 3)})

	resp := get(t, ws, "/api/tracks/2")
	testutil.AssertStatusCode(t, resp.StatusCode, http.StatusOK)
	var view struct {
		ID             int       `json:"id"`
		RelativeAngles []float64 `json:"relative_angles_rad"`
		Frames         []int     `json:"frames"`
	}
	decode(t, resp, &view)
	assert.Equal(t, 2, view.ID)
	assert.Equal(t, []int{1, 2, 3}, view.Frames)
	require.Len(t, view.RelativeAngles, 3)
	assert.Zero(t, view.RelativeAngles[0])

	assert.Equal(t, http.StatusNotFound, get(t, ws, "/api/tracks/9").StatusCode)
	assert.Equal(t, http.StatusBadRequest, get(t, ws, "/api/tracks/two").StatusCode)
}

func TestHandlePresent(t *testing.T) {
	ws := newServer(t, WebServerConfig{Snapshots: newPipeline(t, 2)})

	var body struct {
		Frame   int                  `json:"frame"`
		Present []order.PresentAngle `json:"present"`
		Sample  *order.FrameSample   `json:"sample"`
	}
	decode(t, get(t, ws, "/api/present"), &body)
	assert.Equal(t, 2, body.Frame)
	require.Len(t, body.Present, 3)
	assert.EqualValues(t, 1, body.Present[0].ID)
	assert.EqualValues(t, 3, body.Present[2].ID)
	require.NotNil(t, body.Sample)
	assert.Equal(t, 3, body.Sample.MarkerCount)
}

func TestHandleCharts(t *testing.T) {
	for _, frames := range []int{0, 5} {
		ws := newServer(t, WebServerConfig{Snapshots: newPipeline(t, frames)})
		w := testutil.NewTestRecorder()
		ws.Handler().ServeHTTP(w, testutil.NewTestRequest(http.MethodGet, "/charts"))
		testutil.AssertStatusCode(t, w.Code, http.StatusOK)
		assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
		assert.Contains(t, w.Body.String(), "Live run")
	}
}

func TestHandleStatusPage(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "curvature.png"), []byte("png"), 0o644))
	ws := newServer(t, WebServerConfig{Snapshots: newPipeline(t, 3), PlotsDir: dir, Address: ":8090"})

	w := testutil.NewTestRecorder()
	ws.Handler().ServeHTTP(w, testutil.NewTestRequest(http.MethodGet, "/"))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	body := w.Body.String()
	assert.Contains(t, body, "Chain tracking monitor")
	assert.Contains(t, body, ":8090")
	assert.Contains(t, body, "/plots/curvature.png")
	assert.NotContains(t, body, "/plots/chain.png")
	assert.Contains(t, body, "Polarization")

	assert.Equal(t, http.StatusNotFound, get(t, ws, "/nope").StatusCode)
}

func TestHandleStatusPage_NoFrames(t *testing.T) {
	ws := newServer(t, WebServerConfig{Snapshots: newPipeline(t, 0)})
	w := testutil.NewTestRecorder()
	ws.Handler().ServeHTTP(w, testutil.NewTestRequest(http.MethodGet, "/"))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Contains(t, w.Body.String(), "No frames processed yet")
}

func TestHandlePlot(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "chain.png"), []byte("\x89PNG\r\n\x1a\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(dir), "secret.txt"), []byte("x"), 0o644))
	ws := newServer(t, WebServerConfig{Snapshots: newPipeline(t, 1), PlotsDir: dir})

	resp := get(t, ws, "/plots/chain.png")
	testutil.AssertStatusCode(t, resp.StatusCode, http.StatusOK)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	assert.Equal(t, http.StatusNotFound, get(t, ws, "/plots/phase_space.png").StatusCode)
	assert.Equal(t, http.StatusBadRequest, get(t, ws, "/plots/..%5Csecret.txt").StatusCode)
	assert.NotEqual(t, http.StatusOK, get(t, ws, "/plots/..%2Fsecret.txt").StatusCode)
}

func TestHandlePlot_Disabled(t *testing.T) {
	ws := newServer(t, WebServerConfig{Snapshots: newPipeline(t, 1)})
	assert.Equal(t, http.StatusNotFound, get(t, ws, "/plots/chain.png").StatusCode)
}

func TestMethodNotAllowed(t *testing.T) {
	ws := newServer(t, WebServerConfig{Snapshots: newPipeline(t, 1)})
	for _, path := range []string{"/api/status", "/api/samples", "/api/tracks", "/charts"} {
		w := testutil.NewTestRecorder()
		ws.Handler().ServeHTTP(w, testutil.NewTestRequest(http.MethodPost, path))
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code, path)
		assert.Equal(t, "GET, HEAD", w.Header().Get("Allow"))
	}
}

type fakeAdmin struct{ err error }

func (f fakeAdmin) AttachAdminRoutes(mux *http.ServeMux) error {
	if f.err != nil {
		return f.err
	}
	mux.HandleFunc("/debug/fake", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	return nil
}

func TestAdminRoutes(t *testing.T) {
	ws := newServer(t, WebServerConfig{Snapshots: newPipeline(t, 0), Admin: fakeAdmin{}})
	assert.Equal(t, http.StatusTeapot, get(t, ws, "/debug/fake").StatusCode)

	boom := errors.New("boom")
	_, err := NewWebServer(WebServerConfig{Snapshots: newPipeline(t, 0), Admin: fakeAdmin{err: boom}})
	assert.ErrorIs(t, err, boom)
}

func TestStart_ShutsDownOnCancel(t *testing.T) {
	ws := newServer(t, WebServerConfig{Snapshots: newPipeline(t, 0), Address: "127.0.0.1:0"})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- ws.Start(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestStart_ListenError(t *testing.T) {
	ws := newServer(t, WebServerConfig{Snapshots: newPipeline(t, 0), Address: "127.0.0.1:-1"})
	err := ws.Start(context.Background())
	assert.Error(t, err)
}
