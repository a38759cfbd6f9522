// Package audio decodes and encodes the 16-bit PCM WAV files the pipeline
// exchanges with ffmpeg. Samples are normalized to float64 in [-1, 1] for the
// quality analyzer and output validator.
package audio
