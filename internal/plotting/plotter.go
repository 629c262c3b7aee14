// Package plotting renders the order-parameter charts of a run as PNG files
// using gonum/plot.
package plotting

import (
	"context"
	"fmt"
	"image/color"
	"io"
	"path/filepath"
	"sync"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/amombay/Hexcitations/internal/fsutil"
	"github.com/amombay/Hexcitations/internal/monitoring"
	"github.com/amombay/Hexcitations/internal/pipeline"
	"github.com/amombay/Hexcitations/internal/units"
)

// Chart file names written into the output directory.
const (
	TrajectoriesFile = "trajectories.png"
	PolarizationFile = "polarization.png"
	CurvatureFile    = "curvature.png"
	PhaseSpaceFile   = "phase_space.png"
	MarkerAnglesFile = "marker_angles.png"
	ChainFile        = "chain.png"
)

// Files lists every chart file in rendering order.
var Files = []string{
	TrajectoriesFile, PolarizationFile, CurvatureFile,
	PhaseSpaceFile, MarkerAnglesFile, ChainFile,
}

var (
	startColor   = color.RGBA{G: 160, A: 255}
	currentColor = color.RGBA{R: 220, A: 255}
	seriesColor  = color.RGBA{B: 200, A: 255}
)

// Plotter is a pipeline sink that renders the charts every N frames and at
// the end of the run.
type Plotter struct {
	mu        sync.Mutex
	fsys      fsutil.FileSystem
	outputDir string
	units     string
	every     int
	rendered  int

	Width  vg.Length
	Height vg.Length
}

// NewPlotter creates a plotter writing to outputDir. Angles are drawn in
// the given display units. every is the refresh cadence in frames; 0
// renders only when the run finishes.
func NewPlotter(fsys fsutil.FileSystem, outputDir, displayUnits string, every int) *Plotter {
	if !units.IsValidAngle(displayUnits) {
		displayUnits = units.Degrees
	}
	return &Plotter{
		fsys:      fsys,
		outputDir: outputDir,
		units:     displayUnits,
		every:     every,
		Width:     8 * vg.Inch,
		Height:    6 * vg.Inch,
	}
}

// OutputDir returns the directory charts are written to.
func (p *Plotter) OutputDir() string { return p.outputDir }

// Rendered returns how many times the chart set has been written.
func (p *Plotter) Rendered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rendered
}

// Consume renders on every Nth processed frame.
func (p *Plotter) Consume(_ context.Context, snap *pipeline.Snapshot) error {
	if p.every <= 0 || snap.Stats.FramesProcessed%p.every != 0 {
		return nil
	}
	return p.Render(snap)
}

// Finish renders the final state of the run.
func (p *Plotter) Finish(_ context.Context, snap *pipeline.Snapshot) error {
	if err := p.Render(snap); err != nil {
		return err
	}
	monitoring.Logf("wrote %d charts to %s", len(Files), p.outputDir)
	return nil
}

// Render writes every chart for snap.
func (p *Plotter) Render(snap *pipeline.Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.fsys.MkdirAll(p.outputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	builders := map[string]func(*pipeline.Snapshot) (*plot.Plot, error){
		TrajectoriesFile: p.trajectories,
		PolarizationFile: p.polarization,
		CurvatureFile:    p.curvature,
		PhaseSpaceFile:   p.phaseSpace,
		MarkerAnglesFile: p.markerAngles,
		ChainFile:        p.chain,
	}
	for _, name := range Files {
		pl, err := builders[name](snap)
		if err != nil {
			return fmt.Errorf("build %s: %w", name, err)
		}
		if err := p.save(pl, name); err != nil {
			return err
		}
	}
	p.rendered++
	return nil
}

func (p *Plotter) save(pl *plot.Plot, name string) error {
	wt, err := pl.WriterTo(p.Width, p.Height, "png")
	if err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}
	path := filepath.Join(p.outputDir, name)
	return fsutil.WriteAtomic(p.fsys, path, func(w io.Writer) error {
		_, err := wt.WriteTo(w)
		return err
	})
}

func (p *Plotter) angleLabel(name string) string {
	return fmt.Sprintf("%s (%s)", name, units.Label(p.units))
}

func (p *Plotter) angle(rad float64) float64 {
	return units.ConvertAngle(rad, p.units)
}

func newPlot(title, x, y string) *plot.Plot {
	pl := plot.New()
	pl.Title.Text = title
	pl.X.Label.Text = x
	pl.Y.Label.Text = y
	pl.Add(plotter.NewGrid())
	pl.Legend.Top = true
	pl.Legend.Left = false
	pl.Legend.XOffs = -10
	pl.Legend.YOffs = -10
	return pl
}

// trajectories draws each marker's centroid path in image coordinates, so
// the y axis points down.
func (p *Plotter) trajectories(snap *pipeline.Snapshot) (*plot.Plot, error) {
	pl := newPlot("Marker trajectories", "x (px)", "y (px)")
	pl.Y.Scale = plot.InvertedScale{Normalizer: pl.Y.Scale}

	ids := snap.IDs()
	colors := generateColors(len(ids))
	for i, id := range ids {
		view := snap.Tracks[id]
		if len(view.Positions) == 0 {
			continue
		}
		pts := make(plotter.XYs, len(view.Positions))
		for j, pos := range view.Positions {
			pts[j] = plotter.XY{X: pos.X, Y: pos.Y}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, err
		}
		line.Color = colors[i]
		line.Width = vg.Points(1)
		pl.Add(line)
		pl.Legend.Add(fmt.Sprintf("marker %d", id), line)
	}
	return pl, nil
}

func (p *Plotter) timeSeries(snap *pipeline.Snapshot, title, name string, value func(i int) float64) (*plot.Plot, error) {
	pl := newPlot(title, "t (s)", p.angleLabel(name))
	if len(snap.Series) == 0 {
		return pl, nil
	}
	pts := make(plotter.XYs, len(snap.Series))
	for i, smp := range snap.Series {
		pts[i] = plotter.XY{X: smp.Timestamp, Y: p.angle(value(i))}
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, err
	}
	line.Color = seriesColor
	line.Width = vg.Points(1.5)
	pl.Add(line)
	return pl, nil
}

func (p *Plotter) polarization(snap *pipeline.Snapshot) (*plot.Plot, error) {
	return p.timeSeries(snap, "Mean polarization Ω(t)", "Ω", func(i int) float64 {
		return snap.Series[i].MeanPolarization
	})
}

func (p *Plotter) curvature(snap *pipeline.Snapshot) (*plot.Plot, error) {
	return p.timeSeries(snap, "Mean curvature Θ(t)", "Θ", func(i int) float64 {
		return snap.Series[i].MeanCurvature
	})
}

// phaseSpace draws the (Θ, Ω) trajectory with its first and latest points
// highlighted.
func (p *Plotter) phaseSpace(snap *pipeline.Snapshot) (*plot.Plot, error) {
	pl := newPlot("Phase space", p.angleLabel("Θ"), p.angleLabel("Ω"))
	n := len(snap.Series)
	if n == 0 {
		return pl, nil
	}

	pts := make(plotter.XYs, n)
	for i, smp := range snap.Series {
		pts[i] = plotter.XY{X: p.angle(smp.MeanCurvature), Y: p.angle(smp.MeanPolarization)}
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, err
	}
	line.Color = seriesColor
	line.Width = vg.Points(1)
	pl.Add(line)

	for _, m := range []struct {
		label string
		pt    plotter.XY
		color color.Color
	}{
		{"start", pts[0], startColor},
		{"current", pts[n-1], currentColor},
	} {
		sc, err := plotter.NewScatter(plotter.XYs{m.pt})
		if err != nil {
			return nil, err
		}
		sc.GlyphStyle.Color = m.color
		sc.GlyphStyle.Radius = vg.Points(4)
		sc.GlyphStyle.Shape = draw.CircleGlyph{}
		pl.Add(sc)
		pl.Legend.Add(m.label, sc)
	}
	return pl, nil
}

// markerAngles draws every marker's relative angle against the time of each
// of its observations.
func (p *Plotter) markerAngles(snap *pipeline.Snapshot) (*plot.Plot, error) {
	pl := newPlot("Marker angles", "t (s)", p.angleLabel("angle"))
	if snap.FramesPerSecond <= 0 {
		return pl, nil
	}

	ids := snap.IDs()
	colors := generateColors(len(ids))
	for i, id := range ids {
		view := snap.Tracks[id]
		if len(view.Frames) == 0 {
			continue
		}
		pts := make(plotter.XYs, len(view.Frames))
		for j, frame := range view.Frames {
			pts[j] = plotter.XY{X: float64(frame) / snap.FramesPerSecond, Y: p.angle(view.RelativeAngles[j])}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, err
		}
		line.Color = colors[i]
		line.Width = vg.Points(1)
		pl.Add(line)
		pl.Legend.Add(fmt.Sprintf("marker %d", id), line)
	}
	return pl, nil
}

// chain draws the present markers' angles along the chain for the latest
// frame.
func (p *Plotter) chain(snap *pipeline.Snapshot) (*plot.Plot, error) {
	pl := newPlot(fmt.Sprintf("Chain configuration, frame %d", snap.FrameIndex), "marker", p.angleLabel("angle"))
	if len(snap.Present) == 0 {
		return pl, nil
	}
	pts := make(plotter.XYs, len(snap.Present))
	for i, pa := range snap.Present {
		pts[i] = plotter.XY{X: float64(pa.ID), Y: p.angle(pa.Angle)}
	}
	line, points, err := plotter.NewLinePoints(pts)
	if err != nil {
		return nil, err
	}
	line.Color = seriesColor
	points.Color = currentColor
	points.Shape = draw.CircleGlyph{}
	pl.Add(line, points)
	return pl, nil
}
