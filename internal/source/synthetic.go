package source

import (
	"context"
	"io"
	"math"
	"math/rand"

	"github.com/amombay/Hexcitations/internal/markers"
)

// SyntheticChain generates detections of a chain of square markers bent by
// a travelling wave. Output is fully determined by the seed and the
// exported fields, which may be changed before the first call to Next.
type SyntheticChain struct {
	// Configuration
	Markers    int           // markers in the chain, IDs 1..Markers
	Frames     int           // frames to emit; 0 means unbounded
	Spacing    float64       // pixels between neighbouring centroids
	Side       float64       // marker side length in pixels
	Origin     markers.Point // centroid of marker 1 at rest
	Amplitude  float64       // peak bend of each marker in radians
	Wavelength float64       // wave length in markers
	Period     float64       // wave period in frames
	Spin       float64       // rigid rotation of the whole chain in radians per frame
	Occlusion  float64       // probability that a marker is missing from a frame
	Jitter     float64       // standard deviation of corner noise in pixels

	// Internal state
	rng   *rand.Rand
	frame int
}

// NewSyntheticChain creates a generator with sensible defaults for a chain
// of n markers.
func NewSyntheticChain(n int, seed int64) *SyntheticChain {
	return &SyntheticChain{
		Markers:    n,
		Spacing:    60,
		Side:       40,
		Origin:     markers.Point{X: 100, Y: 300},
		Amplitude:  0.6,
		Wavelength: 8,
		Period:     90,
		rng:        rand.New(rand.NewSource(seed)),
	}
}

// Heading returns the noise-free raw heading of marker id at frame, before
// normalisation into (−π, π].
func (g *SyntheticChain) Heading(id markers.MarkerID, frame int) float64 {
	phase := 2 * math.Pi * (float64(id-1)/g.Wavelength - float64(frame)/g.Period)
	return g.Amplitude*math.Sin(phase) + g.Spin*float64(frame)
}

// Next emits the next frame, or io.EOF once Frames frames have been emitted.
func (g *SyntheticChain) Next(ctx context.Context) (markers.Frame, error) {
	if err := ctx.Err(); err != nil {
		return markers.Frame{}, err
	}
	if g.Frames > 0 && g.frame >= g.Frames {
		return markers.Frame{}, io.EOF
	}

	frame := markers.Frame{Index: g.frame, Detections: make([]markers.Detection, 0, g.Markers)}

	// Walk the chain from marker 1, stepping along the mean heading of each
	// neighbouring pair.
	centre := g.Origin
	prev := g.Heading(1, g.frame)
	for i := 1; i <= g.Markers; i++ {
		id := markers.MarkerID(i)
		heading := g.Heading(id, g.frame)
		if i > 1 {
			step := (prev + heading) / 2
			centre.X += g.Spacing * math.Cos(step)
			centre.Y += g.Spacing * math.Sin(step)
		}
		prev = heading

		// Draw every random number regardless of occlusion so the stream
		// of positions does not depend on which markers were hidden.
		hidden := g.rng.Float64() < g.Occlusion
		corners := squareCorners(centre, g.Side, heading)
		for c := range corners {
			corners[c].X += g.rng.NormFloat64() * g.Jitter
			corners[c].Y += g.rng.NormFloat64() * g.Jitter
		}
		if hidden {
			continue
		}
		frame.Detections = append(frame.Detections, markers.Detection{ID: id, Corners: corners})
	}

	g.frame++
	return frame, nil
}

// squareCorners returns a square whose Corners[0]→Corners[1] edge yields
// heading as its raw angle.
func squareCorners(c markers.Point, side, heading float64) []markers.Point {
	phi := heading + math.Pi/2
	ux, uy := math.Cos(phi), math.Sin(phi)
	vx, vy := -uy, ux
	h := side / 2

	corner := func(a, b float64) markers.Point {
		return markers.Point{X: c.X + a*h*ux + b*h*vx, Y: c.Y + a*h*uy + b*h*vy}
	}
	return []markers.Point{corner(-1, -1), corner(1, -1), corner(1, 1), corner(-1, 1)}
}
