package markers

import (
	"errors"
	"fmt"
	"math"
)

// CornerCount is the number of corners every marker quadrilateral carries.
const CornerCount = 4

// ErrMalformedDetection is returned for detections whose quadrilateral does
// not have exactly four finite corners.
var ErrMalformedDetection = errors.New("malformed detection")

// MarkerID identifies a physical marker. IDs are stable across frames and are
// assumed to encode the marker's position along the chain.
type MarkerID int

// Point is a 2D image coordinate in pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Detection is one marker seen in one frame. Corners follow the detector's
// winding order; the edge Corners[0]→Corners[1] defines orientation.
type Detection struct {
	ID      MarkerID `json:"id"`
	Corners []Point  `json:"corners"`
}

// Frame is the set of detections produced for one time step. Index is the
// zero-based frame sequence number used for timestamps.
type Frame struct {
	Index      int         `json:"frame"`
	Detections []Detection `json:"detections"`
}

// Validate reports ErrMalformedDetection when the quadrilateral is unusable.
func (d Detection) Validate() error {
	if len(d.Corners) != CornerCount {
		return fmt.Errorf("marker %d: %w: expected %d corners, got %d", d.ID, ErrMalformedDetection, CornerCount, len(d.Corners))
	}
	for i, p := range d.Corners {
		if !isFinite(p.X) || !isFinite(p.Y) {
			return fmt.Errorf("marker %d: %w: corner %d is not finite (%v, %v)", d.ID, ErrMalformedDetection, i, p.X, p.Y)
		}
	}
	if d.Corners[0] == d.Corners[1] {
		return fmt.Errorf("marker %d: %w: orientation edge has zero length", d.ID, ErrMalformedDetection)
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
