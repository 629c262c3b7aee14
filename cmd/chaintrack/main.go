// Command chaintrack tracks a chain of square markers through a detection log
// or a synthetic chain and reports its curvature and polarization.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"sync"
	"syscall"

	"github.com/amombay/Hexcitations/internal/config"
	"github.com/amombay/Hexcitations/internal/fsutil"
	"github.com/amombay/Hexcitations/internal/monitor"
	"github.com/amombay/Hexcitations/internal/monitoring"
	"github.com/amombay/Hexcitations/internal/pipeline"
	"github.com/amombay/Hexcitations/internal/plotting"
	"github.com/amombay/Hexcitations/internal/report"
	"github.com/amombay/Hexcitations/internal/source"
	"github.com/amombay/Hexcitations/internal/storage/sqlite"
	"github.com/amombay/Hexcitations/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to a tracking config JSON file (defaults built in)")
	input       = flag.String("input", "", "Detection log to replay (.jsonl, .ndjson or .csv)")
	synthetic   = flag.Bool("synthetic", false, "Track a generated chain instead of a detection log")
	markerCount = flag.Int("markers", 8, "Markers in the synthetic chain")
	frameCount  = flag.Int("frames", 600, "Frames to generate with -synthetic (0 = until interrupted)")
	seed        = flag.Int64("seed", 1, "Random seed for -synthetic")
	fps         = flag.Float64("fps", 0, "Frames per second (overrides config when > 0)")
	dbPath      = flag.String("db", "", "SQLite file to record the run into (disabled when empty)")
	plotsDir    = flag.String("plots", "", "Directory for PNG charts (disabled when empty)")
	reportPath  = flag.String("report", "", "HTML report file written at the end of the run (disabled when empty)")
	listen      = flag.String("listen", "", "Address for the live monitor, e.g. :8080 (disabled when empty)")
	realtime    = flag.Bool("realtime", false, "Pace replay at the configured frame rate (overrides config)")
	debug       = flag.Bool("debug", false, "Enable debug logging")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// options holds everything a run needs, resolved from flags.
type options struct {
	ConfigPath  string
	Input       string
	Synthetic   bool
	Markers     int
	Frames      int
	Seed        int64
	FPS         float64
	Realtime    bool
	RealtimeSet bool
	DBPath      string
	PlotsDir    string
	ReportPath  string
	Listen      string
}

func optionsFromFlags() options {
	o := options{
		ConfigPath: *configPath,
		Input:      *input,
		Synthetic:  *synthetic,
		Markers:    *markerCount,
		Frames:     *frameCount,
		Seed:       *seed,
		FPS:        *fps,
		Realtime:   *realtime,
		DBPath:     *dbPath,
		PlotsDir:   *plotsDir,
		ReportPath: *reportPath,
		Listen:     *listen,
	}
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "realtime" {
			o.RealtimeSet = true
		}
	})
	return o
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	monitoring.SetDebug(*debug)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, optionsFromFlags()); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("chaintrack: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}

// loadConfig reads path, or returns the built-in defaults when path is empty,
// then applies command-line overrides.
func loadConfig(o options) (*config.TrackingConfig, error) {
	cfg := config.DefaultTrackingConfig()
	if o.ConfigPath != "" {
		var err error
		if cfg, err = config.LoadTrackingConfig(o.ConfigPath); err != nil {
			return nil, err
		}
	}
	if o.FPS > 0 {
		v := o.FPS
		cfg.FramesPerSecond = &v
	}
	if o.RealtimeSet {
		v := o.Realtime
		cfg.Realtime = &v
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// openSource returns the frame source selected by o, a label for the run
// record and a close function.
func openSource(fsys fsutil.FileSystem, o options) (pipeline.FrameSource, string, func() error, error) {
	switch {
	case o.Input != "" && o.Synthetic:
		return nil, "", nil, errors.New("-input and -synthetic are mutually exclusive")
	case o.Input != "":
		f, err := source.Open(fsys, o.Input)
		if err != nil {
			return nil, "", nil, err
		}
		return f, f.Path(), f.Close, nil
	case o.Synthetic:
		if o.Markers < 1 {
			return nil, "", nil, fmt.Errorf("-markers must be at least 1, got %d", o.Markers)
		}
		g := source.NewSyntheticChain(o.Markers, o.Seed)
		g.Frames = o.Frames
		label := fmt.Sprintf("synthetic:markers=%d,seed=%d", o.Markers, o.Seed)
		return g, label, func() error { return nil }, nil
	default:
		return nil, "", nil, errors.New("one of -input or -synthetic is required")
	}
}

func run(ctx context.Context, o options) error {
	cfg, err := loadConfig(o)
	if err != nil {
		return err
	}
	fsys := fsutil.OSFileSystem{}

	src, label, closeSource, err := openSource(fsys, o)
	if err != nil {
		return err
	}
	defer closeSource()

	p, err := pipeline.New(pipeline.ConfigFromTracking(cfg))
	if err != nil {
		return err
	}

	var (
		db       *sqlite.DB
		store    *sqlite.RunStore
		recorder *sqlite.Recorder
	)
	if o.DBPath != "" {
		if db, err = sqlite.Open(o.DBPath); err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()

		cfgJSON, err := json.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		store = sqlite.NewRunStore(db)
		rec := &sqlite.Run{
			Source:          label,
			FramesPerSecond: cfg.GetFramesPerSecond(),
			MinMarkers:      cfg.GetMinMarkersPerSample(),
			ConfigJSON:      cfgJSON,
		}
		if err := store.CreateRun(ctx, rec); err != nil {
			return err
		}
		recorder = store.Recorder(rec.RunID)
		p.AddSink(recorder)
		log.Printf("recording run %s into %s", rec.RunID, o.DBPath)
	}
	if o.PlotsDir != "" {
		p.AddSink(plotting.NewPlotter(fsys, o.PlotsDir, cfg.GetDisplayUnits(), cfg.GetPlotEveryFrames()))
	}
	if o.ReportPath != "" {
		p.AddSink(report.NewWriter(fsys, o.ReportPath, report.Options{Title: label, Units: cfg.GetDisplayUnits()}))
	}

	var wg sync.WaitGroup
	serverCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()

	if o.Listen != "" {
		var admin monitor.AdminRoutes
		if db != nil {
			admin = db
		}
		ws, err := monitor.NewWebServer(monitor.WebServerConfig{
			Address:      o.Listen,
			Snapshots:    p,
			PlotsDir:     o.PlotsDir,
			FS:           fsys,
			DisplayUnits: cfg.GetDisplayUnits(),
			Admin:        admin,
		})
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ws.Start(serverCtx); err != nil {
				log.Printf("monitor: %v", err)
			}
		}()
	}

	stats, runErr := p.Run(ctx, src)
	if recorder != nil && ctx.Err() != nil {
		if err := store.SetStatus(context.WithoutCancel(ctx), recorder.RunID(), sqlite.RunStatusAborted); err != nil {
			log.Printf("failed to mark run aborted: %v", err)
		}
	}

	// Keep serving the final state until interrupted.
	if o.Listen != "" && runErr == nil {
		log.Printf("processed %d frames; monitor still serving on %s, interrupt to exit", stats.FramesProcessed, o.Listen)
		<-ctx.Done()
	}
	stopServer()
	wg.Wait()

	return runErr
}
