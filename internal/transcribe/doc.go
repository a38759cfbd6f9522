// Package transcribe turns stored call audio into transcripts through a
// speech-to-text backend and advances calls along the transcription ladder.
package transcribe
