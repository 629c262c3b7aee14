// Package tracks owns per-marker continuity across frames.
//
// Responsibilities: phase unwrapping of the raw 2π-periodic marker angle
// into a continuous signal, first-seen baseline subtraction, append-only
// position/angle history, and the registry that maps marker IDs to their
// tracks for the lifetime of a run.
// Key types: MarkerTrack, Registry, TrackView.
//
// Tracks are never evicted: a marker missing from a frame is a skipped
// observation, and on reappearance it unwraps from its last angle.
// No aggregation or rendering code belongs in this package.
package tracks
