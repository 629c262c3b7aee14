package tracks

import "math"

// Unwrap returns the representative of raw + 2πk closest to prev.
//
// Steps smaller than π in magnitude are returned unchanged. Otherwise the
// difference is folded into [−π, π); an exact −π result is flipped to +π
// when the raw step was positive, so ties keep the sign of the raw step.
func Unwrap(prev, raw float64) float64 {
	d := raw - prev
	if math.Abs(d) < math.Pi {
		return raw
	}

	folded := math.Mod(d+math.Pi, 2*math.Pi)
	if folded < 0 {
		folded += 2 * math.Pi
	}
	folded -= math.Pi
	if folded == -math.Pi && d > 0 {
		folded = math.Pi
	}

	return raw + (folded - d)
}
