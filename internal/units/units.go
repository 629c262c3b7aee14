// Package units provides shared constants and conversion for angle display
// units. Angles are always stored in radians; conversion happens only at
// presentation time.
package units

import "math"

// Angle unit constants
const (
	Radians = "rad"
	Degrees = "deg"
)

// ValidAngleUnits contains all valid angle unit values
var ValidAngleUnits = []string{Radians, Degrees}

// IsValidAngle checks if the given unit is in the list of valid angle units
func IsValidAngle(unit string) bool {
	for _, validUnit := range ValidAngleUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidAngleUnitsString returns a comma-separated string of valid units for error messages
func GetValidAngleUnitsString() string {
	return "rad, deg"
}

// ConvertAngle converts an angle in radians to the target units.
// Unknown units leave the value in radians.
func ConvertAngle(rad float64, targetUnits string) float64 {
	switch targetUnits {
	case Degrees:
		return rad * 180 / math.Pi
	default:
		return rad
	}
}

// ConvertAngles converts a slice of radian values into a new slice in the target units.
func ConvertAngles(rad []float64, targetUnits string) []float64 {
	out := make([]float64, len(rad))
	for i, v := range rad {
		out[i] = ConvertAngle(v, targetUnits)
	}
	return out
}

// Label returns the axis suffix for the given units, e.g. "deg".
func Label(targetUnits string) string {
	if targetUnits == Degrees {
		return "deg"
	}
	return "rad"
}
