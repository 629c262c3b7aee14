package monitor

import (
	"bytes"
	"errors"
	"html/template"
	"io/fs"
	"mime"
	"net/http"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/amombay/Hexcitations/internal/httputil"
	"github.com/amombay/Hexcitations/internal/markers"
	"github.com/amombay/Hexcitations/internal/order"
	"github.com/amombay/Hexcitations/internal/pipeline"
	"github.com/amombay/Hexcitations/internal/plotting"
	"github.com/amombay/Hexcitations/internal/report"
	"github.com/amombay/Hexcitations/internal/security"
	"github.com/amombay/Hexcitations/internal/units"
	"github.com/amombay/Hexcitations/internal/version"
)

const noFramesYet = "no frames processed yet"

// StatusResponse is the body of /api/status.
type StatusResponse struct {
	Ready           bool               `json:"ready"`
	Frame           int                `json:"frame"`
	Timestamp       float64            `json:"t"`
	FramesPerSecond float64            `json:"fps"`
	Present         int                `json:"present"`
	Sample          *order.FrameSample `json:"sample,omitempty"`
	Stats           pipeline.Stats     `json:"stats"`
	UptimeSeconds   float64            `json:"uptime_s"`
	Version         string             `json:"version"`
}

// TrackSummary is one entry of /api/tracks. Histories are served by
// /api/tracks/{id}.
type TrackSummary struct {
	ID            markers.MarkerID `json:"id"`
	Observations  int              `json:"observations"`
	LastFrame     int              `json:"last_frame"`
	RelativeAngle float64          `json:"relative_angle_rad"`
	LastPosition  markers.Point    `json:"last_position"`
	Occlusions    int              `json:"occlusions"`
	MaxGapFrames  int              `json:"max_gap_frames"`
}

// handleHealth handles the health check endpoint
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{
		"status":    "ok",
		"service":   "chaintrack",
		"timestamp": ws.clock.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus renders the HTML landing page.
func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if !httputil.RequireGet(w, r) {
		return
	}

	tmpl, err := template.ParseFS(StatusHTML, "status.html")
	if err != nil {
		http.Error(w, "Error loading template: "+err.Error(), http.StatusInternalServerError)
		return
	}

	status := ws.status()
	data := struct {
		StatusResponse
		Address      string
		Uptime       string
		Units        string
		HasSample    bool
		Curvature    float64
		Polarization float64
		Plots        []string
	}{
		StatusResponse: status,
		Address:        ws.address,
		Uptime:         ws.clock.Since(ws.started).Truncate(time.Second).String(),
		Units:          units.Label(ws.units),
		Plots:          ws.availablePlots(),
	}
	if status.Sample != nil {
		data.HasSample = true
		data.Curvature = units.ConvertAngle(status.Sample.MeanCurvature, ws.units)
		data.Polarization = units.ConvertAngle(status.Sample.MeanPolarization, ws.units)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		http.Error(w, "Error rendering template: "+err.Error(), http.StatusInternalServerError)
		return
	}
	httputil.WriteHTML(w, http.StatusOK, buf.Bytes())
}

func (ws *WebServer) status() StatusResponse {
	resp := StatusResponse{
		Frame:         -1,
		UptimeSeconds: ws.clock.Since(ws.started).Seconds(),
		Version:       version.String(),
	}
	snap := ws.snapshots.Latest()
	if snap == nil {
		return resp
	}
	resp.Ready = true
	resp.Frame = snap.FrameIndex
	resp.Timestamp = snap.Timestamp
	resp.FramesPerSecond = snap.FramesPerSecond
	resp.Present = len(snap.Present)
	resp.Sample = snap.Sample
	resp.Stats = snap.Stats
	return resp
}

func (ws *WebServer) availablePlots() []string {
	if ws.plotsDir == "" {
		return nil
	}
	var out []string
	for _, name := range plotting.Files {
		if ws.fsys.Exists(filepath.Join(ws.plotsDir, name)) {
			out = append(out, name)
		}
	}
	return out
}

// handleAPIStatus returns the run progress as JSON. It answers before the
// first frame with ready=false.
func (ws *WebServer) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGet(w, r) {
		return
	}
	httputil.WriteJSONOK(w, ws.status())
}

// latest writes 503 and returns nil when no frame has been committed.
func (ws *WebServer) latest(w http.ResponseWriter) *pipeline.Snapshot {
	snap := ws.snapshots.Latest()
	if snap == nil {
		httputil.ServiceUnavailable(w, noFramesYet)
	}
	return snap
}

// handleSamples returns the order-parameter series.
// Query params:
//
//	since (optional) only samples with a frame index greater than this
//	limit (optional) at most this many of the most recent samples
func (ws *WebServer) handleSamples(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGet(w, r) {
		return
	}
	snap := ws.latest(w)
	if snap == nil {
		return
	}

	q := r.URL.Query()
	samples := snap.Series
	if s := q.Get("since"); s != "" {
		since, err := strconv.Atoi(s)
		if err != nil {
			httputil.BadRequest(w, "invalid since")
			return
		}
		// Series is ordered by frame index.
		i := sort.Search(len(samples), func(i int) bool { return samples[i].FrameIndex > since })
		samples = samples[i:]
	}
	if s := q.Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 0 {
			httputil.BadRequest(w, "invalid limit")
			return
		}
		if len(samples) > limit {
			samples = samples[len(samples)-limit:]
		}
	}
	if samples == nil {
		samples = []order.FrameSample{}
	}

	httputil.WriteJSONOK(w, map[string]interface{}{
		"frame":   snap.FrameIndex,
		"samples": samples,
	})
}

// handleTracks lists every marker seen so far, ordered by ID.
func (ws *WebServer) handleTracks(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGet(w, r) {
		return
	}
	snap := ws.latest(w)
	if snap == nil {
		return
	}

	out := make([]TrackSummary, 0, len(snap.Tracks))
	for _, id := range snap.IDs() {
		view := snap.Tracks[id]
		s := TrackSummary{
			ID:           id,
			Observations: len(view.RelativeAngles),
			Occlusions:   view.Occlusions,
			MaxGapFrames: view.MaxGapFrames,
		}
		if rel, frame, ok := view.Latest(); ok {
			s.RelativeAngle = rel
			s.LastFrame = frame
			s.LastPosition = view.Positions[len(view.Positions)-1]
		}
		out = append(out, s)
	}
	httputil.WriteJSONOK(w, out)
}

// handleTrack returns the full history of one marker.
func (ws *WebServer) handleTrack(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGet(w, r) {
		return
	}
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		httputil.BadRequest(w, "invalid marker id")
		return
	}
	snap := ws.latest(w)
	if snap == nil {
		return
	}
	view, ok := snap.Tracks[markers.MarkerID(id)]
	if !ok {
		httputil.NotFound(w, "marker not tracked")
		return
	}
	httputil.WriteJSONOK(w, view)
}

// handlePresent returns the current frame's present set and sample.
func (ws *WebServer) handlePresent(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGet(w, r) {
		return
	}
	snap := ws.latest(w)
	if snap == nil {
		return
	}
	present := snap.Present
	if present == nil {
		present = []order.PresentAngle{}
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"frame":   snap.FrameIndex,
		"t":       snap.Timestamp,
		"present": present,
		"sample":  snap.Sample,
	})
}

// handleCharts renders the interactive report of the latest snapshot.
func (ws *WebServer) handleCharts(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGet(w, r) {
		return
	}
	snap := ws.snapshots.Latest()
	if snap == nil {
		snap = &pipeline.Snapshot{}
	}

	var buf bytes.Buffer
	if err := report.Render(&buf, snap, report.Options{Title: "Live run", Units: ws.units}); err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteHTML(w, http.StatusOK, buf.Bytes())
}

// handlePlot serves a rendered chart from the plots directory.
func (ws *WebServer) handlePlot(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGet(w, r) {
		return
	}
	if ws.plotsDir == "" {
		httputil.NotFound(w, "plots are not enabled")
		return
	}

	name := r.PathValue("file")
	path, err := security.ResolveInDirectory(ws.plotsDir, name)
	if err != nil {
		httputil.BadRequest(w, "invalid file name")
		return
	}
	data, err := ws.fsys.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		httputil.NotFound(w, "plot not found")
		return
	}
	if err != nil {
		httputil.InternalServerError(w, "failed to read plot")
		return
	}

	ctype := mime.TypeByExtension(filepath.Ext(name))
	if ctype == "" {
		ctype = http.DetectContentType(data)
	}
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("Cache-Control", "no-store")
	w.Write(data)
}
