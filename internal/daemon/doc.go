// Package daemon coordinates the pipeline's background services: the
// periodic collector, processor, and dispatcher tasks plus the
// transcription worker pool, under a single-instance file lock.
package daemon
