package tracks

import (
	"github.com/amombay/Hexcitations/internal/markers"
)

// TrackState represents the lifecycle state of a marker track.
type TrackState string

const (
	TrackUninitialized TrackState = "uninitialized" // No observation yet
	TrackTracking      TrackState = "tracking"      // At least one observation
)

// MarkerTrack is the continuity state of a single marker.
//
// positions, relativeAngles and frames are parallel, append-only histories:
// entry i of each describes the i-th observation of the marker.
type MarkerTrack struct {
	ID    markers.MarkerID
	state TrackState

	// lastUnwrapped is the most recent continuous (pre-baseline) angle, used
	// only to unwrap the next raw angle.
	lastUnwrapped float64
	// baseline is the continuous angle at the first observation. Set once.
	baseline float64

	positions      []markers.Point
	relativeAngles []float64
	frames         []int

	// Gap statistics
	occlusions   int // Number of gaps between consecutive observations
	maxGapFrames int // Longest gap in frames
}

// NewMarkerTrack returns an uninitialized track for id.
func NewMarkerTrack(id markers.MarkerID) *MarkerTrack {
	return &MarkerTrack{ID: id, state: TrackUninitialized}
}

// Observe feeds one raw angle and centroid seen at frameIndex and returns
// the marker's rotation since it was first seen, in radians.
//
// The first observation fixes the baseline, so it always returns exactly 0.
// Later observations are unwrapped against the previous continuous angle,
// which bounds the step between consecutive observations to π even across
// gaps where the marker was not seen.
func (t *MarkerTrack) Observe(frameIndex int, rawAngle float64, pos markers.Point) float64 {
	var continuous float64
	if t.state == TrackUninitialized {
		continuous = rawAngle
		t.baseline = continuous
		t.state = TrackTracking
	} else {
		continuous = Unwrap(t.lastUnwrapped, rawAngle)
	}
	t.lastUnwrapped = continuous

	relative := continuous - t.baseline

	if n := len(t.frames); n > 0 {
		if gap := frameIndex - t.frames[n-1] - 1; gap > 0 {
			t.occlusions++
			if gap > t.maxGapFrames {
				t.maxGapFrames = gap
			}
		}
	}

	t.positions = append(t.positions, pos)
	t.relativeAngles = append(t.relativeAngles, relative)
	t.frames = append(t.frames, frameIndex)

	return relative
}

// State returns the lifecycle state of the track.
func (t *MarkerTrack) State() TrackState {
	return t.state
}

// LastUnwrappedAngle returns the most recent continuous angle; ok is false
// before the first observation.
func (t *MarkerTrack) LastUnwrappedAngle() (angle float64, ok bool) {
	return t.lastUnwrapped, t.state == TrackTracking
}

// BaselineAngle returns the continuous angle recorded at the first
// observation; ok is false before the first observation.
func (t *MarkerTrack) BaselineAngle() (angle float64, ok bool) {
	return t.baseline, t.state == TrackTracking
}

// Len returns the number of observations recorded.
func (t *MarkerTrack) Len() int {
	return len(t.frames)
}

// TrackView is a read-only snapshot of a MarkerTrack.
//
// The history slices share backing arrays with the live track but are capped
// at their snapshot length, so later observations never show through and
// appending to them reallocates. Callers must not modify elements.
type TrackView struct {
	ID             markers.MarkerID `json:"id"`
	State          TrackState       `json:"state"`
	LastUnwrapped  float64          `json:"last_unwrapped_rad"`
	Baseline       float64          `json:"baseline_rad"`
	Positions      []markers.Point  `json:"positions"`
	RelativeAngles []float64        `json:"relative_angles_rad"`
	Frames         []int            `json:"frames"`
	Occlusions     int              `json:"occlusions"`
	MaxGapFrames   int              `json:"max_gap_frames"`
}

// View captures the track's current state.
func (t *MarkerTrack) View() TrackView {
	n := len(t.frames)
	return TrackView{
		ID:             t.ID,
		State:          t.state,
		LastUnwrapped:  t.lastUnwrapped,
		Baseline:       t.baseline,
		Positions:      t.positions[:n:n],
		RelativeAngles: t.relativeAngles[:n:n],
		Frames:         t.frames[:n:n],
		Occlusions:     t.occlusions,
		MaxGapFrames:   t.maxGapFrames,
	}
}

// Latest returns the most recent relative angle and its frame; ok is false
// when the view holds no observations.
func (v TrackView) Latest() (relative float64, frame int, ok bool) {
	n := len(v.Frames)
	if n == 0 {
		return 0, 0, false
	}
	return v.RelativeAngles[n-1], v.Frames[n-1], true
}
