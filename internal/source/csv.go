package source

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/amombay/Hexcitations/internal/markers"
)

// csvColumns is the column count of a detection row:
// frame,marker_id,x0,y0,x1,y1,x2,y2,x3,y3
const csvColumns = 2 + 2*markers.CornerCount

// CSVSource reads frames from a CSV detection log with one detection per
// row. Consecutive rows with the same frame value form one frame. A header
// row starting with "frame" is skipped.
type CSVSource struct {
	r       *csv.Reader
	row     int
	pending *csvRow
	done    bool
}

type csvRow struct {
	frame int
	det   markers.Detection
}

// NewCSVSource reads frames from r.
func NewCSVSource(r io.Reader) *CSVSource {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'
	return &CSVSource{r: cr}
}

// Next returns the next group of rows sharing a frame value.
func (s *CSVSource) Next(ctx context.Context) (markers.Frame, error) {
	if err := ctx.Err(); err != nil {
		return markers.Frame{}, err
	}

	if s.pending == nil && !s.done {
		row, err := s.readRow()
		if err != nil {
			return markers.Frame{}, err
		}
		s.pending = row
	}
	if s.pending == nil {
		return markers.Frame{}, io.EOF
	}

	frame := markers.Frame{Index: s.pending.frame, Detections: []markers.Detection{s.pending.det}}
	s.pending = nil
	for !s.done {
		row, err := s.readRow()
		if err != nil {
			return markers.Frame{}, err
		}
		if row == nil {
			break
		}
		if row.frame != frame.Index {
			s.pending = row
			break
		}
		frame.Detections = append(frame.Detections, row.det)
	}
	return frame, nil
}

// readRow returns nil, nil at end of input.
func (s *CSVSource) readRow() (*csvRow, error) {
	for {
		rec, err := s.r.Read()
		if errors.Is(err, io.EOF) {
			s.done = true
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		s.row++

		if s.row == 1 && len(rec) > 0 && strings.EqualFold(strings.TrimSpace(rec[0]), "frame") {
			continue
		}
		if len(rec) != csvColumns {
			return nil, fmt.Errorf("row %d: %w: expected %d columns, got %d", s.row, ErrBadRecord, csvColumns, len(rec))
		}

		frame, err := strconv.Atoi(strings.TrimSpace(rec[0]))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w: frame: %v", s.row, ErrBadRecord, err)
		}
		id, err := strconv.Atoi(strings.TrimSpace(rec[1]))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w: marker_id: %v", s.row, ErrBadRecord, err)
		}

		det := markers.Detection{ID: markers.MarkerID(id), Corners: make([]markers.Point, markers.CornerCount)}
		for i := range det.Corners {
			x, errX := strconv.ParseFloat(strings.TrimSpace(rec[2+2*i]), 64)
			y, errY := strconv.ParseFloat(strings.TrimSpace(rec[3+2*i]), 64)
			if err := errors.Join(errX, errY); err != nil {
				return nil, fmt.Errorf("row %d: %w: corner %d: %v", s.row, ErrBadRecord, i, err)
			}
			det.Corners[i] = markers.Point{X: x, Y: y}
		}
		return &csvRow{frame: frame, det: det}, nil
	}
}
