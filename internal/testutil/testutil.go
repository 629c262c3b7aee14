// Package testutil provides shared test utilities and fixtures.
//
// This package centralises common test helpers to reduce code duplication
// across test files and improve test maintainability.
package testutil

import (
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/amombay/Hexcitations/internal/markers"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// NewTestRequest creates a test HTTP request.
func NewTestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

// NewTestRecorder creates a test response recorder.
func NewTestRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}

// SquareCorners returns the corners of a square marker of the given side
// centred on (cx, cy) whose extracted raw angle is rawAngle.
func SquareCorners(cx, cy, side, rawAngle float64) []markers.Point {
	phi := rawAngle + math.Pi/2
	ux, uy := math.Cos(phi), math.Sin(phi)
	vx, vy := -uy, ux
	h := side / 2

	corner := func(a, b float64) markers.Point {
		return markers.Point{X: cx + a*h*ux + b*h*vx, Y: cy + a*h*uy + b*h*vy}
	}
	return []markers.Point{corner(-1, -1), corner(1, -1), corner(1, 1), corner(-1, 1)}
}

// MarkerAt builds a detection whose pose extracts to (cx, cy, rawAngle).
func MarkerAt(id int, cx, cy, rawAngle float64) markers.Detection {
	return markers.Detection{
		ID:      markers.MarkerID(id),
		Corners: SquareCorners(cx, cy, 40, rawAngle),
	}
}

// FrameOf builds a frame from detections.
func FrameOf(index int, dets ...markers.Detection) markers.Frame {
	return markers.Frame{Index: index, Detections: dets}
}
