package order

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/amombay/Hexcitations/internal/markers"
)

// DefaultMinMarkers is the smallest present-set that yields a sample.
const DefaultMinMarkers = 2

// ErrInvalidRate is returned for a non-positive or non-finite frame rate.
var ErrInvalidRate = errors.New("frames per second must be positive and finite")

// PresentAngle is one marker's relative angle in the current frame.
type PresentAngle struct {
	ID    markers.MarkerID `json:"id"`
	Angle float64          `json:"angle_rad"`
}

// FrameSample holds the order parameters of one frame, in radians.
type FrameSample struct {
	FrameIndex       int     `json:"frame"`
	Timestamp        float64 `json:"t"`
	MeanCurvature    float64 `json:"curvature_rad"`
	MeanPolarization float64 `json:"polarization_rad"`
	MarkerCount      int     `json:"markers"`
}

// Aggregator turns present-sets into FrameSamples and appends them to the
// run's Series.
type Aggregator struct {
	fps        float64
	minMarkers int
	series     *Series
}

// NewAggregator creates an aggregator that timestamps samples at
// frameIndex/fps and skips frames with fewer than minMarkers present.
func NewAggregator(fps float64, minMarkers int) (*Aggregator, error) {
	if fps <= 0 || math.IsNaN(fps) || math.IsInf(fps, 0) {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidRate, fps)
	}
	if minMarkers < 1 {
		return nil, fmt.Errorf("min markers must be at least 1, got %d", minMarkers)
	}
	return &Aggregator{fps: fps, minMarkers: minMarkers, series: &Series{}}, nil
}

// Series returns the run's sample series.
func (a *Aggregator) Series() *Series {
	return a.series
}

// FramesPerSecond returns the rate used for timestamps.
func (a *Aggregator) FramesPerSecond() float64 {
	return a.fps
}

// Aggregate computes and appends the sample for frameIndex. ok is false,
// and nothing is appended, when too few markers are present.
func (a *Aggregator) Aggregate(frameIndex int, present []PresentAngle) (sample FrameSample, ok bool) {
	if len(present) < a.minMarkers || len(present) == 0 {
		return FrameSample{}, false
	}

	curvature, polarization := Compute(present)
	sample = FrameSample{
		FrameIndex:       frameIndex,
		Timestamp:        float64(frameIndex) / a.fps,
		MeanCurvature:    curvature,
		MeanPolarization: polarization,
		MarkerCount:      len(present),
	}
	a.series.append(sample)
	return sample, true
}

// SortByID returns a copy of present ordered by ascending marker ID.
func SortByID(present []PresentAngle) []PresentAngle {
	sorted := make([]PresentAngle, len(present))
	copy(sorted, present)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	return sorted
}

// Compute returns the curvature (angle of the highest-ID marker minus the
// angle of the lowest-ID marker) and polarization (mean angle) of a
// non-empty present-set. The input is not modified.
func Compute(present []PresentAngle) (curvature, polarization float64) {
	sorted := SortByID(present)
	angles := make([]float64, len(sorted))
	for i, p := range sorted {
		angles[i] = p.Angle
	}
	curvature = angles[len(angles)-1] - angles[0]
	polarization = stat.Mean(angles, nil)
	return curvature, polarization
}
