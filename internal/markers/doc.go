// Package markers owns the per-frame detection model: marker identifiers,
// corner quadrilaterals, frames, and the pose extraction that turns a
// quadrilateral into a centroid and a raw orientation angle.
//
// Detections are ephemeral. Nothing in this package keeps state between
// frames; continuity across frames belongs to package tracks.
package markers
