// Package dispatch selects calls that are ready for transcription, claims
// them atomically so concurrent cycles never double-enqueue, and feeds a
// bounded worker pool.
package dispatch
