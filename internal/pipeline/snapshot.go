package pipeline

import (
	"github.com/amombay/Hexcitations/internal/markers"
	"github.com/amombay/Hexcitations/internal/order"
	"github.com/amombay/Hexcitations/internal/tracks"
)

// Stats counts what the pipeline has done so far in a run.
type Stats struct {
	FramesProcessed   int `json:"frames_processed"`
	FramesRejected    int `json:"frames_rejected"`
	DetectionsSkipped int `json:"detections_skipped"`
	DuplicatesDropped int `json:"duplicates_dropped"`
	Samples           int `json:"samples"`
	Markers           int `json:"markers"`
}

// Snapshot is the state published after a frame has been fully committed.
//
// A Snapshot is never modified once published. Its slices are capped views
// of append-only histories and must be treated as read-only.
type Snapshot struct {
	FrameIndex      int     `json:"frame"`
	Timestamp       float64 `json:"t"`
	FramesPerSecond float64 `json:"fps"`

	// Present holds this frame's markers ordered by ascending ID.
	Present []order.PresentAngle `json:"present"`
	// Sample is nil when too few markers were present for a sample.
	Sample *order.FrameSample                    `json:"sample,omitempty"`
	Tracks map[markers.MarkerID]tracks.TrackView `json:"tracks"`
	Series []order.FrameSample                   `json:"series"`
	Stats  Stats                                 `json:"stats"`
}

// IDs returns the IDs of every track in the snapshot in ascending order.
func (s *Snapshot) IDs() []markers.MarkerID {
	ids := make([]markers.MarkerID, 0, len(s.Tracks))
	for id := range s.Tracks {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

// Empty reports whether no frame has been committed.
func (s *Snapshot) Empty() bool {
	return s == nil || (len(s.Tracks) == 0 && len(s.Series) == 0 && s.Stats.FramesProcessed == 0)
}
