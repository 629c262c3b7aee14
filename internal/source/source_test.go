package source

import (
	"bytes"
	"context"
	"io"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amombay/Hexcitations/internal/fsutil"
	"github.com/amombay/Hexcitations/internal/markers"
	"github.com/amombay/Hexcitations/internal/pipeline"
)

func drain(t *testing.T, src Source) []markers.Frame {
	t.Helper()
	var frames []markers.Frame
	for {
		f, err := src.Next(context.Background())
		if err == io.EOF {
			return frames
		}
		require.NoError(t, err)
		frames = append(frames, f)
	}
}

func square(id int) markers.Detection {
	return markers.Detection{ID: markers.MarkerID(id), Corners: squareCorners(markers.Point{X: 10, Y: 20}, 4, 0.5)}
}

// ---------------------------------------------------------------------------
// JSON Lines
// ---------------------------------------------------------------------------

func TestJSONL_WriterOutputReadsBack(t *testing.T) {
	t.Parallel()

	want := []markers.Frame{
		{Index: 0, Detections: []markers.Detection{square(1), square(2)}},
		{Index: 3, Detections: []markers.Detection{}},
		{Index: 4, Detections: []markers.Detection{square(2)}},
	}

	var buf bytes.Buffer
	w := NewJSONLWriter(&buf)
	for _, f := range want {
		require.NoError(t, w.Write(f))
	}
	require.NoError(t, w.Flush())
	assert.Equal(t, 3, strings.Count(buf.String(), "\n"))

	got := drain(t, NewJSONLSource(&buf))
	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("frames mismatch (-want +got):\n%s", diff)
	}
}

func TestJSONL_MissingFrameUsesCounter(t *testing.T) {
	t.Parallel()

	input := `{"detections": []}

{"frame": 10, "detections": []}
{"detections": [{"id": 4, "corners": [[0,0],[1,0],[1,1],[0,1]]}]}
`
	frames := drain(t, NewJSONLSource(strings.NewReader(input)))
	require.Len(t, frames, 3)
	assert.Equal(t, 0, frames[0].Index)
	assert.Equal(t, 10, frames[1].Index)
	assert.Equal(t, 11, frames[2].Index)
	assert.Equal(t, markers.MarkerID(4), frames[2].Detections[0].ID)
	assert.NoError(t, frames[2].Detections[0].Validate())
}

func TestJSONL_BadPairBecomesMalformedDetection(t *testing.T) {
	t.Parallel()

	input := `{"frame": 0, "detections": [{"id": 1, "corners": [[0,0],[1],[1,1],[0,1]]}]}`
	frames := drain(t, NewJSONLSource(strings.NewReader(input)))
	require.Len(t, frames, 1)
	assert.ErrorIs(t, frames[0].Detections[0].Validate(), markers.ErrMalformedDetection)
}

func TestJSONL_BadLine(t *testing.T) {
	t.Parallel()

	src := NewJSONLSource(strings.NewReader("{\"frame\": 0}\nnot json\n"))
	_, err := src.Next(context.Background())
	require.NoError(t, err)
	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, ErrBadRecord)
	assert.Contains(t, err.Error(), "line 2")
}

func TestJSONL_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewJSONLSource(strings.NewReader("{}\n")).Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

// ---------------------------------------------------------------------------
// CSV
// ---------------------------------------------------------------------------

func TestCSV_GroupsRowsByFrame(t *testing.T) {
	t.Parallel()

	input := `frame,marker_id,x0,y0,x1,y1,x2,y2,x3,y3
0,1,0,0,1,0,1,1,0,1
0,2,10,0,11,0,11,1,10,1
# occluded frame 1
2,2,10,0,11,0,11,1,10,1
`
	frames := drain(t, NewCSVSource(strings.NewReader(input)))
	require.Len(t, frames, 2)
	assert.Equal(t, 0, frames[0].Index)
	require.Len(t, frames[0].Detections, 2)
	assert.Equal(t, markers.Point{X: 11, Y: 1}, frames[0].Detections[1].Corners[2])
	assert.Equal(t, 2, frames[1].Index)
	assert.Len(t, frames[1].Detections, 1)
}

func TestCSV_HeaderOptional(t *testing.T) {
	t.Parallel()

	frames := drain(t, NewCSVSource(strings.NewReader("5,3,0,0,1,0,1,1,0,1\n")))
	require.Len(t, frames, 1)
	assert.Equal(t, 5, frames[0].Index)
	assert.Equal(t, markers.MarkerID(3), frames[0].Detections[0].ID)
}

func TestCSV_BadRows(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{"too few columns", "0,1,0,0,1,0\n"},
		{"non-numeric frame", "a,1,0,0,1,0,1,1,0,1\n"},
		{"non-numeric marker", "0,b,0,0,1,0,1,1,0,1\n"},
		{"non-numeric coordinate", "0,1,0,0,x,0,1,1,0,1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCSVSource(strings.NewReader(tt.input)).Next(context.Background())
			assert.ErrorIs(t, err, ErrBadRecord)
		})
	}
}

func TestCSV_EmptyInput(t *testing.T) {
	t.Parallel()

	_, err := NewCSVSource(strings.NewReader("")).Next(context.Background())
	assert.Equal(t, io.EOF, err)
}

// ---------------------------------------------------------------------------
// Open
// ---------------------------------------------------------------------------

func TestOpen_ByExtension(t *testing.T) {
	t.Parallel()

	fsys := fsutil.NewMemoryFileSystem()
	require.NoError(t, fsys.WriteFile("run/a.jsonl", []byte(`{"frame": 7, "detections": []}`+"\n"), 0o644))
	require.NoError(t, fsys.WriteFile("run/a.csv", []byte("8,1,0,0,1,0,1,1,0,1\n"), 0o644))

	for path, want := range map[string]int{"run/a.jsonl": 7, "run/a.csv": 8} {
		f, err := Open(fsys, path)
		require.NoError(t, err, path)
		frames := drain(t, f)
		require.NoError(t, f.Close())
		require.Len(t, frames, 1, path)
		assert.Equal(t, want, frames[0].Index, path)
		assert.Equal(t, path, f.Path())
	}

	_, err := Open(fsys, "run/a.txt")
	assert.Error(t, err)
	_, err = Open(fsys, "run/missing.jsonl")
	assert.Error(t, err)
}

// ---------------------------------------------------------------------------
// SyntheticChain
// ---------------------------------------------------------------------------

func TestSynthetic_DeterministicForSeed(t *testing.T) {
	t.Parallel()

	gen := func() []markers.Frame {
		g := NewSyntheticChain(6, 42)
		g.Frames = 30
		g.Occlusion = 0.2
		g.Jitter = 0.5
		return drain(t, g)
	}
	a, b := gen(), gen()
	require.Len(t, a, 30)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("same seed produced different frames (-a +b):\n%s", diff)
	}
}

func TestSynthetic_HeadingsMatchExtraction(t *testing.T) {
	t.Parallel()

	g := NewSyntheticChain(5, 1)
	g.Frames = 10
	for _, f := range drain(t, g) {
		require.Len(t, f.Detections, 5)
		for _, d := range f.Detections {
			require.NoError(t, d.Validate())
			want := markers.NormalizeAngle(g.Heading(d.ID, f.Index))
			assert.InDelta(t, want, markers.ExtractPose(d).RawAngle, 1e-9)
		}
	}
}

func TestSynthetic_Occlusion(t *testing.T) {
	t.Parallel()

	g := NewSyntheticChain(10, 7)
	g.Frames = 200
	g.Occlusion = 0.3

	total := 0
	for _, f := range drain(t, g) {
		total += len(f.Detections)
	}
	frac := 1 - float64(total)/2000
	assert.InDelta(t, 0.3, frac, 0.05)
}

func TestSynthetic_PipelineRecoversSpin(t *testing.T) {
	t.Parallel()

	g := NewSyntheticChain(4, 3)
	g.Frames = 300
	g.Spin = 0.15
	g.Occlusion = 0.1

	p, err := pipeline.New(pipeline.Config{FramesPerSecond: 30})
	require.NoError(t, err)
	_, err = p.Run(context.Background(), g)
	require.NoError(t, err)

	snap := p.Latest()
	require.NotNil(t, snap)
	for id, view := range snap.Tracks {
		require.NotEmpty(t, view.Frames)
		first := g.Heading(id, view.Frames[0])
		for i, frame := range view.Frames {
			want := g.Heading(id, frame) - first
			assert.InDelta(t, want, view.RelativeAngles[i], 1e-6, "marker %d frame %d", id, frame)
		}
		// several full turns were unwrapped
		assert.Greater(t, view.RelativeAngles[len(view.RelativeAngles)-1], 4*math.Pi)
	}
}
