package markers

import "math"

// Pose is the per-detection output of ExtractPose.
type Pose struct {
	Centroid Point
	// RawAngle is the marker orientation in (−π, π], known only modulo 2π.
	RawAngle float64
}

// ExtractPose computes the centroid and raw orientation of a validated
// detection. The raw angle is the direction of the first corner edge
// rotated by −π/2, so that an edge pointing along +x reads −π/2.
//
// Callers must run Validate first; ExtractPose does not check its input.
func ExtractPose(d Detection) Pose {
	var cx, cy float64
	for _, p := range d.Corners[:CornerCount] {
		cx += p.X
		cy += p.Y
	}
	cx /= CornerCount
	cy /= CornerCount

	p1, p2 := d.Corners[0], d.Corners[1]
	raw := math.Atan2(p2.Y-p1.Y, p2.X-p1.X) - math.Pi/2

	return Pose{
		Centroid: Point{X: cx, Y: cy},
		RawAngle: NormalizeAngle(raw),
	}
}

// NormalizeAngle folds a into the half-open range (−π, π].
func NormalizeAngle(a float64) float64 {
	r := math.Mod(a+math.Pi, 2*math.Pi)
	if r <= 0 {
		r += 2 * math.Pi
	}
	return r - math.Pi
}
