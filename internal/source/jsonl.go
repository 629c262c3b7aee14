package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"

	"github.com/amombay/Hexcitations/internal/markers"
)

const maxLineBytes = 1 << 20

// jsonlFrame is the on-disk form of a frame:
//
//	{"frame": 12, "detections": [{"id": 3, "corners": [[x, y], [x, y], [x, y], [x, y]]}]}
//
// frame may be omitted, in which case frames are numbered consecutively.
type jsonlFrame struct {
	Frame      *int             `json:"frame,omitempty"`
	Detections []jsonlDetection `json:"detections"`
}

type jsonlDetection struct {
	ID      int         `json:"id"`
	Corners [][]float64 `json:"corners"`
}

// JSONLSource reads frames from a JSON Lines detection log.
type JSONLSource struct {
	scan *bufio.Scanner
	line int
	next int
}

// NewJSONLSource reads frames from r, one JSON object per line. Blank lines
// are ignored.
func NewJSONLSource(r io.Reader) *JSONLSource {
	scan := bufio.NewScanner(r)
	scan.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &JSONLSource{scan: scan}
}

// Next decodes the next frame.
func (s *JSONLSource) Next(ctx context.Context) (markers.Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return markers.Frame{}, err
		}
		if !s.scan.Scan() {
			if err := s.scan.Err(); err != nil {
				return markers.Frame{}, fmt.Errorf("read line %d: %w", s.line+1, err)
			}
			return markers.Frame{}, io.EOF
		}
		s.line++

		line := bytes.TrimSpace(s.scan.Bytes())
		if len(line) == 0 {
			continue
		}

		var rec jsonlFrame
		if err := json.Unmarshal(line, &rec); err != nil {
			return markers.Frame{}, fmt.Errorf("line %d: %w: %v", s.line, ErrBadRecord, err)
		}

		frame := markers.Frame{Index: s.next}
		if rec.Frame != nil {
			frame.Index = *rec.Frame
		}
		s.next = frame.Index + 1

		frame.Detections = make([]markers.Detection, len(rec.Detections))
		for i, d := range rec.Detections {
			frame.Detections[i] = markers.Detection{ID: markers.MarkerID(d.ID), Corners: toPoints(d.Corners)}
		}
		return frame, nil
	}
}

// toPoints converts [x, y] pairs. A pair of the wrong arity becomes a NaN
// point so that validation rejects the detection rather than the whole log.
func toPoints(pairs [][]float64) []markers.Point {
	pts := make([]markers.Point, len(pairs))
	for i, p := range pairs {
		if len(p) != 2 {
			pts[i] = markers.Point{X: math.NaN(), Y: math.NaN()}
			continue
		}
		pts[i] = markers.Point{X: p[0], Y: p[1]}
	}
	return pts
}

// JSONLWriter writes frames in the format read by JSONLSource.
type JSONLWriter struct {
	w   *bufio.Writer
	enc *json.Encoder
}

// NewJSONLWriter creates a writer. Call Flush when done.
func NewJSONLWriter(w io.Writer) *JSONLWriter {
	bw := bufio.NewWriter(w)
	return &JSONLWriter{w: bw, enc: json.NewEncoder(bw)}
}

// Write appends one frame as a single line.
func (w *JSONLWriter) Write(frame markers.Frame) error {
	idx := frame.Index
	rec := jsonlFrame{Frame: &idx, Detections: make([]jsonlDetection, len(frame.Detections))}
	for i, d := range frame.Detections {
		corners := make([][]float64, len(d.Corners))
		for j, p := range d.Corners {
			corners[j] = []float64{p.X, p.Y}
		}
		rec.Detections[i] = jsonlDetection{ID: int(d.ID), Corners: corners}
	}
	if err := w.enc.Encode(rec); err != nil {
		return fmt.Errorf("encode frame %d: %w", frame.Index, err)
	}
	return nil
}

// Flush writes any buffered data to the underlying writer.
func (w *JSONLWriter) Flush() error {
	return w.w.Flush()
}
