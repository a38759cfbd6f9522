// Package store manages callpipe persistence backed by SQLite.
//
// It owns the calls, processing_state, transcripts, feeds, and poll_log
// tables, the embedded schema with its version guard, and every state
// transition the pipeline performs. Claims are expressed as conditional
// writes whose affected-row count decides ownership, so concurrent daemon
// tasks and transcription workers never process the same call twice.
package store
