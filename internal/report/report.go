// Package report builds an interactive HTML report of a run with go-echarts.
package report

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/amombay/Hexcitations/internal/fsutil"
	"github.com/amombay/Hexcitations/internal/monitoring"
	"github.com/amombay/Hexcitations/internal/pipeline"
	"github.com/amombay/Hexcitations/internal/units"
)

// DefaultAssetsHost serves the echarts JavaScript used by rendered pages.
const DefaultAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// Options controls how a report is rendered.
type Options struct {
	Title      string
	Units      string // units.Radians or units.Degrees
	AssetsHost string
}

func (o Options) withDefaults() Options {
	if o.Title == "" {
		o.Title = "Chain tracking run"
	}
	if !units.IsValidAngle(o.Units) {
		o.Units = units.Degrees
	}
	if o.AssetsHost == "" {
		o.AssetsHost = DefaultAssetsHost
	}
	return o
}

// Render writes the report page for snap to w.
func Render(w io.Writer, snap *pipeline.Snapshot, o Options) error {
	page := BuildPage(snap, o)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}

// BuildPage assembles the six charts of a run into one page.
func BuildPage(snap *pipeline.Snapshot, o Options) *components.Page {
	o = o.withDefaults()
	b := builder{snap: snap, units: o.Units, assets: o.AssetsHost}

	page := components.NewPage()
	page.PageTitle = o.Title
	page.SetAssetsHost(o.AssetsHost)
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(
		b.trajectories(),
		b.polarization(),
		b.curvature(),
		b.phaseSpace(),
		b.markerAngles(),
		b.chain(),
	)
	return page
}

type builder struct {
	snap   *pipeline.Snapshot
	units  string
	assets string
}

func (b builder) angle(rad float64) float64 {
	return units.ConvertAngle(rad, b.units)
}

func (b builder) angleName(name string) string {
	return fmt.Sprintf("%s (%s)", name, units.Label(b.units))
}

func (b builder) globals(title, subtitle, xName, yName string) []charts.GlobalOpts {
	return []charts.GlobalOpts{
		charts.WithInitializationOpts(opts.Initialization{Width: "640px", Height: "480px", AssetsHost: b.assets}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: xName, NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: yName, NameLocation: "middle", NameGap: 45}),
	}
}

// trajectories plots centroid paths. Image y grows downwards, so it is
// negated to keep the picture upright.
func (b builder) trajectories() *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(b.globals("Marker trajectories", "image coordinates", "x (px)", "-y (px)")...)
	for _, id := range b.snap.IDs() {
		view := b.snap.Tracks[id]
		data := make([]opts.LineData, len(view.Positions))
		for i, pos := range view.Positions {
			data[i] = opts.LineData{Value: []interface{}{pos.X, -pos.Y}}
		}
		line.AddSeries(fmt.Sprintf("marker %d", id), data)
	}
	return line
}

func (b builder) series(title, name string, value func(i int) float64) *charts.Line {
	data := make([]opts.LineData, len(b.snap.Series))
	for i, smp := range b.snap.Series {
		data[i] = opts.LineData{Value: []interface{}{smp.Timestamp, b.angle(value(i))}}
	}
	line := charts.NewLine()
	line.SetGlobalOptions(b.globals(title, fmt.Sprintf("%d samples", len(data)), "t (s)", b.angleName(name))...)
	line.AddSeries(name, data)
	return line
}

func (b builder) polarization() *charts.Line {
	return b.series("Mean polarization Ω(t)", "Ω", func(i int) float64 { return b.snap.Series[i].MeanPolarization })
}

func (b builder) curvature() *charts.Line {
	return b.series("Mean curvature Θ(t)", "Θ", func(i int) float64 { return b.snap.Series[i].MeanCurvature })
}

func (b builder) phaseSpace() *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(b.globals("Phase space", "Ω against Θ", b.angleName("Θ"), b.angleName("Ω"))...)

	n := len(b.snap.Series)
	data := make([]opts.LineData, n)
	for i, smp := range b.snap.Series {
		data[i] = opts.LineData{Value: []interface{}{b.angle(smp.MeanCurvature), b.angle(smp.MeanPolarization)}}
	}
	line.AddSeries("trajectory", data)
	if n == 0 {
		return line
	}

	first, last := b.snap.Series[0], b.snap.Series[n-1]
	points := charts.NewScatter()
	points.AddSeries("start", []opts.ScatterData{{Value: []interface{}{b.angle(first.MeanCurvature), b.angle(first.MeanPolarization)}}},
		charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 12}))
	points.AddSeries("current", []opts.ScatterData{{Value: []interface{}{b.angle(last.MeanCurvature), b.angle(last.MeanPolarization)}}},
		charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 12}))
	line.Overlap(points)
	return line
}

func (b builder) markerAngles() *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(b.globals("Marker angles", "relative to first observation", "t (s)", b.angleName("angle"))...)
	fps := b.snap.FramesPerSecond
	if fps <= 0 {
		return line
	}
	for _, id := range b.snap.IDs() {
		view := b.snap.Tracks[id]
		data := make([]opts.LineData, len(view.Frames))
		for i, frame := range view.Frames {
			data[i] = opts.LineData{Value: []interface{}{float64(frame) / fps, b.angle(view.RelativeAngles[i])}}
		}
		line.AddSeries(fmt.Sprintf("marker %d", id), data)
	}
	return line
}

func (b builder) chain() *charts.Line {
	ids := make([]string, len(b.snap.Present))
	data := make([]opts.LineData, len(b.snap.Present))
	for i, p := range b.snap.Present {
		ids[i] = strconv.Itoa(int(p.ID))
		data[i] = opts.LineData{Value: b.angle(p.Angle)}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "640px", Height: "480px", AssetsHost: b.assets}),
		charts.WithTitleOpts(opts.Title{Title: "Chain configuration", Subtitle: fmt.Sprintf("frame %d", b.snap.FrameIndex)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "marker", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: b.angleName("angle"), NameLocation: "middle", NameGap: 45}),
	)
	line.SetXAxis(ids).AddSeries("angle", data)
	return line
}

// Writer is a pipeline sink that writes the report to a file when the run
// finishes.
type Writer struct {
	fsys fsutil.FileSystem
	path string
	opts Options
}

// NewWriter creates a report writer for path.
func NewWriter(fsys fsutil.FileSystem, path string, o Options) *Writer {
	return &Writer{fsys: fsys, path: path, opts: o}
}

// Path returns the report file path.
func (w *Writer) Path() string { return w.path }

// Consume does nothing; the report is written once at the end of a run.
func (w *Writer) Consume(context.Context, *pipeline.Snapshot) error { return nil }

// Finish renders snap and writes the report file.
func (w *Writer) Finish(_ context.Context, snap *pipeline.Snapshot) error {
	var buf bytes.Buffer
	if err := Render(&buf, snap, w.opts); err != nil {
		return err
	}
	if dir := filepath.Dir(w.path); dir != "." {
		if err := w.fsys.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}
	if err := w.fsys.WriteFile(w.path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	monitoring.Logf("wrote report to %s", w.path)
	return nil
}
