// Package process runs the enhancement leg of the pipeline: it claims
// pending calls, measures audio quality, picks a processing tier, runs the
// ffmpeg enhancement pass, validates the output, and uploads it.
package process
