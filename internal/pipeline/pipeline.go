package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/amombay/Hexcitations/internal/config"
	"github.com/amombay/Hexcitations/internal/markers"
	"github.com/amombay/Hexcitations/internal/monitoring"
	"github.com/amombay/Hexcitations/internal/order"
	"github.com/amombay/Hexcitations/internal/timeutil"
	"github.com/amombay/Hexcitations/internal/tracks"
)

var (
	// ErrDuplicateMarker is returned when a frame holds the same marker ID
	// more than once and the duplicate policy rejects the frame.
	ErrDuplicateMarker = errors.New("duplicate marker in frame")
	// ErrFrameOrder is returned for a frame whose index does not increase.
	ErrFrameOrder = errors.New("frame index out of order")
)

// FrameError reports a frame that was rejected. The pipeline state is
// unchanged by a rejected frame.
type FrameError struct {
	Frame int
	Err   error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("frame %d rejected: %v", e.Frame, e.Err)
}

func (e *FrameError) Unwrap() error { return e.Err }

// ---------------------------------------------------------------------------
// Collaborator interfaces
// ---------------------------------------------------------------------------

// FrameSource delivers frames in order. Next returns io.EOF when the source
// is exhausted.
type FrameSource interface {
	Next(ctx context.Context) (markers.Frame, error)
}

// Sink receives every published snapshot, in registration order.
type Sink interface {
	Consume(ctx context.Context, snap *Snapshot) error
}

// Finisher is implemented by sinks that need to flush at the end of a run.
// Finish is called once with the last published snapshot, which may be
// empty if no frame was accepted.
type Finisher interface {
	Finish(ctx context.Context, snap *Snapshot) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, snap *Snapshot) error

// Consume calls f.
func (f SinkFunc) Consume(ctx context.Context, snap *Snapshot) error { return f(ctx, snap) }

// Config holds the run-level parameters and collaborators of a Pipeline.
type Config struct {
	FramesPerSecond float64
	MinMarkers      int
	MalformedPolicy string // config.PolicyRejectFrame or config.PolicySkipDetection
	DuplicatePolicy string // config.PolicyRejectFrame or config.PolicyLastWins

	// Realtime paces Run so that frames are processed at FramesPerSecond.
	Realtime bool
	// Clock defaults to timeutil.RealClock.
	Clock timeutil.Clock
	Sinks []Sink
}

// ConfigFromTracking builds a Config from the tracking configuration file.
// Sinks and Clock are left for the caller.
func ConfigFromTracking(cfg *config.TrackingConfig) Config {
	return Config{
		FramesPerSecond: cfg.GetFramesPerSecond(),
		MinMarkers:      cfg.GetMinMarkersPerSample(),
		MalformedPolicy: cfg.GetMalformedPolicy(),
		DuplicatePolicy: cfg.GetDuplicatePolicy(),
		Realtime:        cfg.GetRealtime(),
	}
}

// Pipeline owns the tracking state of one run.
type Pipeline struct {
	cfg        Config
	registry   *tracks.Registry
	aggregator *order.Aggregator

	lastFrame int
	seenFrame bool

	statsMu sync.Mutex
	stats   Stats

	latest atomic.Pointer[Snapshot]
}

// New validates cfg and creates a pipeline with an empty registry.
func New(cfg Config) (*Pipeline, error) {
	if cfg.MinMarkers == 0 {
		cfg.MinMarkers = order.DefaultMinMarkers
	}
	if cfg.MalformedPolicy == "" {
		cfg.MalformedPolicy = config.PolicyRejectFrame
	}
	if cfg.DuplicatePolicy == "" {
		cfg.DuplicatePolicy = config.PolicyRejectFrame
	}
	switch cfg.MalformedPolicy {
	case config.PolicyRejectFrame, config.PolicySkipDetection:
	default:
		return nil, fmt.Errorf("unknown malformed policy %q", cfg.MalformedPolicy)
	}
	switch cfg.DuplicatePolicy {
	case config.PolicyRejectFrame, config.PolicyLastWins:
	default:
		return nil, fmt.Errorf("unknown duplicate policy %q", cfg.DuplicatePolicy)
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}

	agg, err := order.NewAggregator(cfg.FramesPerSecond, cfg.MinMarkers)
	if err != nil {
		return nil, fmt.Errorf("create aggregator: %w", err)
	}
	return &Pipeline{
		cfg:        cfg,
		registry:   tracks.NewRegistry(),
		aggregator: agg,
	}, nil
}

// AddSink registers a sink. It must not be called while Run is in progress.
func (p *Pipeline) AddSink(s Sink) {
	p.cfg.Sinks = append(p.cfg.Sinks, s)
}

// Registry returns the run's tracking registry.
func (p *Pipeline) Registry() *tracks.Registry { return p.registry }

// Series returns the run's sample series.
func (p *Pipeline) Series() *order.Series { return p.aggregator.Series() }

// FramesPerSecond returns the run's frame rate.
func (p *Pipeline) FramesPerSecond() float64 { return p.cfg.FramesPerSecond }

// Latest returns the most recently published snapshot, or nil before the
// first accepted frame. Safe for concurrent use.
func (p *Pipeline) Latest() *Snapshot {
	return p.latest.Load()
}

// Stats returns a copy of the run counters. Safe for concurrent use.
func (p *Pipeline) Stats() Stats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.stats
}

func (p *Pipeline) updateStats(fn func(*Stats)) Stats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	fn(&p.stats)
	return p.stats
}

// ProcessFrame commits one frame and hands the resulting snapshot to the
// sinks.
//
// A rejected frame returns a *FrameError and leaves every track, the series
// and the latest snapshot untouched. A sink error is returned wrapped after
// the frame has been committed.
func (p *Pipeline) ProcessFrame(ctx context.Context, frame markers.Frame) (*Snapshot, error) {
	if p.seenFrame && frame.Index <= p.lastFrame {
		return nil, p.reject(frame.Index, fmt.Errorf("%w: %d after %d", ErrFrameOrder, frame.Index, p.lastFrame))
	}
	if frame.Index < 0 {
		return nil, p.reject(frame.Index, fmt.Errorf("%w: negative index %d", ErrFrameOrder, frame.Index))
	}

	detections, err := p.admit(frame)
	if err != nil {
		return nil, p.reject(frame.Index, err)
	}
	p.lastFrame = frame.Index
	p.seenFrame = true

	present := make([]order.PresentAngle, 0, len(detections))
	for _, det := range detections {
		pose := markers.ExtractPose(det)
		track, created := p.registry.GetOrCreate(det.ID)
		if created {
			monitoring.Debugf("frame %d: new marker %d", frame.Index, det.ID)
		}
		relative := track.Observe(frame.Index, pose.RawAngle, pose.Centroid)
		present = append(present, order.PresentAngle{ID: det.ID, Angle: relative})
	}

	snap := &Snapshot{
		FrameIndex:      frame.Index,
		Timestamp:       float64(frame.Index) / p.cfg.FramesPerSecond,
		FramesPerSecond: p.cfg.FramesPerSecond,
		Present:         order.SortByID(present),
	}
	if sample, ok := p.aggregator.Aggregate(frame.Index, present); ok {
		snap.Sample = &sample
		monitoring.Debugf("frame %d: %d markers curvature=%.4f polarization=%.4f",
			frame.Index, sample.MarkerCount, sample.MeanCurvature, sample.MeanPolarization)
	}
	snap.Tracks = p.registry.Snapshot()
	snap.Series = p.aggregator.Series().View()
	snap.Stats = p.updateStats(func(s *Stats) {
		s.FramesProcessed++
		if snap.Sample != nil {
			s.Samples++
		}
		s.Markers = len(snap.Tracks)
	})

	p.latest.Store(snap)

	for _, sink := range p.cfg.Sinks {
		if err := sink.Consume(ctx, snap); err != nil {
			return snap, fmt.Errorf("sink: frame %d: %w", frame.Index, err)
		}
	}
	return snap, nil
}

func (p *Pipeline) reject(frameIndex int, err error) error {
	p.updateStats(func(s *Stats) { s.FramesRejected++ })
	return &FrameError{Frame: frameIndex, Err: err}
}

// admit applies the malformed and duplicate policies to the frame's
// detections without touching any state besides counters.
func (p *Pipeline) admit(frame markers.Frame) ([]markers.Detection, error) {
	admitted := make([]markers.Detection, 0, len(frame.Detections))
	position := make(map[markers.MarkerID]int, len(frame.Detections))
	skipped, dropped := 0, 0

	for i, det := range frame.Detections {
		if err := det.Validate(); err != nil {
			if p.cfg.MalformedPolicy == config.PolicySkipDetection {
				monitoring.Logf("frame %d: skipping detection %d (marker %d): %v", frame.Index, i, det.ID, err)
				skipped++
				continue
			}
			return nil, fmt.Errorf("detection %d (marker %d): %w", i, det.ID, err)
		}
		if at, dup := position[det.ID]; dup {
			if p.cfg.DuplicatePolicy != config.PolicyLastWins {
				return nil, fmt.Errorf("%w: marker %d", ErrDuplicateMarker, det.ID)
			}
			admitted[at] = det
			dropped++
			continue
		}
		position[det.ID] = len(admitted)
		admitted = append(admitted, det)
	}

	if skipped > 0 || dropped > 0 {
		p.updateStats(func(s *Stats) {
			s.DetectionsSkipped += skipped
			s.DuplicatesDropped += dropped
		})
	}
	return admitted, nil
}

// Run processes frames from src until it is exhausted or ctx is cancelled.
//
// Rejected frames are logged and counted; the run continues. Source and sink
// errors end the run. Finishers are called in every case, so committed state
// is flushed even after cancellation.
func (p *Pipeline) Run(ctx context.Context, src FrameSource) (Stats, error) {
	clock := p.cfg.Clock
	started := clock.Now()
	var pacer *timeutil.Pacer
	if p.cfg.Realtime {
		pacer = timeutil.NewPacer(clock, p.cfg.FramesPerSecond)
	}

	runErr := func() error {
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			frame, err := src.Next(ctx)
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("read frame: %w", err)
			}

			if pacer != nil {
				if err := pacer.Wait(ctx, frame.Index); err != nil {
					return err
				}
			}

			if _, err := p.ProcessFrame(ctx, frame); err != nil {
				var frameErr *FrameError
				if errors.As(err, &frameErr) {
					monitoring.Logf("%v", frameErr)
					continue
				}
				return err
			}
		}
	}()

	finishErr := p.finish(context.WithoutCancel(ctx))
	stats := p.Stats()

	summary := order.Summarize(p.Series().View())
	monitoring.Logf("run complete in %v: %d frames, %d rejected, %d markers, %d samples",
		clock.Since(started).Round(time.Millisecond), stats.FramesProcessed, stats.FramesRejected, stats.Markers, stats.Samples)
	if summary.Samples > 0 {
		monitoring.Logf("curvature mean=%.4f sd=%.4f range=[%.4f, %.4f] polarization mean=%.4f sd=%.4f",
			summary.CurvatureMean, summary.CurvatureStdDev, summary.CurvatureMin, summary.CurvatureMax,
			summary.PolarizationMean, summary.PolarizationStdDev)
	}

	if runErr != nil {
		return stats, runErr
	}
	return stats, finishErr
}

func (p *Pipeline) finish(ctx context.Context) error {
	snap := p.Latest()
	if snap == nil {
		snap = &Snapshot{
			FramesPerSecond: p.cfg.FramesPerSecond,
			Tracks:          map[markers.MarkerID]tracks.TrackView{},
			Stats:           p.Stats(),
		}
	} else if s := p.Stats(); s != snap.Stats {
		// Rejections after the last accepted frame only change counters.
		cp := *snap
		cp.Stats = s
		snap = &cp
	}

	var errs []error
	for _, sink := range p.cfg.Sinks {
		f, ok := sink.(Finisher)
		if !ok {
			continue
		}
		if err := f.Finish(ctx, snap); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("finish sinks: %w", err)
	}
	return nil
}

func sortIDs(ids []markers.MarkerID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
