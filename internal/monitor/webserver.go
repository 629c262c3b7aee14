// Package monitor serves a live view of a tracking run over HTTP.
package monitor

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/amombay/Hexcitations/internal/fsutil"
	"github.com/amombay/Hexcitations/internal/monitoring"
	"github.com/amombay/Hexcitations/internal/pipeline"
	"github.com/amombay/Hexcitations/internal/timeutil"
	"github.com/amombay/Hexcitations/internal/units"
)

//go:embed status.html
var StatusHTML embed.FS

// SnapshotSource yields the most recently published snapshot, or nil before
// the first frame. *pipeline.Pipeline satisfies it.
type SnapshotSource interface {
	Latest() *pipeline.Snapshot
}

// AdminRoutes attaches debug routes to the server mux. *sqlite.DB satisfies it.
type AdminRoutes interface {
	AttachAdminRoutes(mux *http.ServeMux) error
}

// WebServer handles the HTTP interface for monitoring a run.
type WebServer struct {
	server    *http.Server
	address   string
	snapshots SnapshotSource
	plotsDir  string
	fsys      fsutil.FileSystem
	units     string
	clock     timeutil.Clock
	started   time.Time
}

// WebServerConfig contains configuration options for the web server.
type WebServerConfig struct {
	Address   string
	Snapshots SnapshotSource
	// PlotsDir is where PNG charts are written; empty disables /plots/.
	PlotsDir     string
	FS           fsutil.FileSystem
	DisplayUnits string
	Clock        timeutil.Clock
	Admin        AdminRoutes
}

// NewWebServer creates a new web server with the provided configuration.
func NewWebServer(config WebServerConfig) (*WebServer, error) {
	if config.Snapshots == nil {
		return nil, errors.New("monitor: snapshot source is required")
	}
	if config.FS == nil {
		config.FS = fsutil.OSFileSystem{}
	}
	if config.Clock == nil {
		config.Clock = timeutil.RealClock{}
	}
	if !units.IsValidAngle(config.DisplayUnits) {
		config.DisplayUnits = units.Degrees
	}

	ws := &WebServer{
		address:   config.Address,
		snapshots: config.Snapshots,
		plotsDir:  config.PlotsDir,
		fsys:      config.FS,
		units:     config.DisplayUnits,
		clock:     config.Clock,
		started:   config.Clock.Now(),
	}

	mux := ws.setupRoutes()
	if config.Admin != nil {
		if err := config.Admin.AttachAdminRoutes(mux); err != nil {
			return nil, fmt.Errorf("attach admin routes: %w", err)
		}
	}

	ws.server = &http.Server{
		Addr:              ws.address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return ws, nil
}

// Handler returns the server's request handler.
func (ws *WebServer) Handler() http.Handler {
	return ws.server.Handler
}

// Start runs the HTTP server until ctx is cancelled.
func (ws *WebServer) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		monitoring.Logf("Starting HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	monitoring.Logf("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			monitoring.Logf("HTTP server force close error: %v", err)
		}
	}

	monitoring.Logf("HTTP server routine stopped")
	return nil
}

// setupRoutes configures the HTTP routes and handlers
func (ws *WebServer) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/", ws.handleStatus)
	mux.HandleFunc("/api/status", ws.handleAPIStatus)
	mux.HandleFunc("/api/samples", ws.handleSamples)
	mux.HandleFunc("/api/tracks", ws.handleTracks)
	mux.HandleFunc("/api/tracks/{id}", ws.handleTrack)
	mux.HandleFunc("/api/present", ws.handlePresent)
	mux.HandleFunc("/charts", ws.handleCharts)
	mux.HandleFunc("/plots/{file}", ws.handlePlot)

	return mux
}
