// Package pipeline sequences detection frames through pose extraction,
// marker tracking and order-parameter aggregation.
//
// Frames are processed one at a time on the caller's goroutine. After each
// accepted frame the pipeline publishes an immutable Snapshot, which other
// goroutines may read through Latest while later frames are processed.
package pipeline
