// Package enhance runs the ffmpeg enhancement pass and validates its output.
//
// The executor makes exactly one attempt per call traversal under a hard
// timeout; retry policy lives with the state tracker, not here. The validator
// rejects output ffmpeg produced without complaint but that is unusable:
// wrong format, silent, truncated, or clipped.
package enhance
