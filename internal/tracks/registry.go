package tracks

import (
	"sort"
	"sync"

	"github.com/amombay/Hexcitations/internal/markers"
)

// Registry maps marker IDs to their tracks for the lifetime of a run.
// Tracks are created lazily on first sighting and never removed.
//
// The map itself is guarded by mu. Track contents are mutated only by the
// single frame-processing goroutine; other goroutines should consume the
// views published by that goroutine rather than calling Snapshot directly.
type Registry struct {
	mu     sync.RWMutex
	tracks map[markers.MarkerID]*MarkerTrack
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tracks: make(map[markers.MarkerID]*MarkerTrack)}
}

// GetOrCreate returns the track for id, creating an uninitialized one if the
// marker has never been seen. created reports whether a track was added.
func (r *Registry) GetOrCreate(id markers.MarkerID) (track *MarkerTrack, created bool) {
	r.mu.RLock()
	track, ok := r.tracks[id]
	r.mu.RUnlock()
	if ok {
		return track, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if track, ok = r.tracks[id]; ok {
		return track, false
	}
	track = NewMarkerTrack(id)
	r.tracks[id] = track
	return track, true
}

// Get returns the track for id if it exists.
func (r *Registry) Get(id markers.MarkerID) (*MarkerTrack, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	track, ok := r.tracks[id]
	return track, ok
}

// Len returns the number of tracks ever created.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tracks)
}

// IDs returns every known marker ID in ascending order.
func (r *Registry) IDs() []markers.MarkerID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]markers.MarkerID, 0, len(r.tracks))
	for id := range r.tracks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Snapshot returns a read-only view of every track keyed by marker ID.
func (r *Registry) Snapshot() map[markers.MarkerID]TrackView {
	r.mu.RLock()
	defer r.mu.RUnlock()
	views := make(map[markers.MarkerID]TrackView, len(r.tracks))
	for id, track := range r.tracks {
		views[id] = track.View()
	}
	return views
}
