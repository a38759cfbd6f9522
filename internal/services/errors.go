package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTransient marks upstream/network failures that are safe to retry.
	ErrTransient = errors.New("transient failure")
	// ErrDecode marks audio decode or quality-analysis failures. Terminal
	// per call: a sample that cannot be decoded will not decode better on
	// a second attempt.
	ErrDecode = errors.New("audio decode error")
	// ErrConversion marks enhancement subprocess failures and timeouts.
	ErrConversion = errors.New("conversion error")
	// ErrValidation marks produced audio that failed output validation.
	ErrValidation = errors.New("validation error")
	// ErrTranscription marks speech-to-text backend failures.
	ErrTranscription = errors.New("transcription error")
	// ErrIndexing marks search index write failures. Never fatal.
	ErrIndexing = errors.New("indexing error")
	// ErrConfiguration marks invalid or missing configuration.
	ErrConfiguration = errors.New("configuration error")
	// ErrNotFound marks missing records or objects.
	ErrNotFound = errors.New("not found")
)

// Wrap builds an error carrying stage context while tagging it with the
// provided kind marker for later policy decisions. The marker should be one
// of the exported sentinel errors above; nil defaults to ErrTransient.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Retryable reports whether the state tracker should retry the failed stage,
// bounded by the per-call retry budget. Decode and configuration failures are
// never retried; indexing failures are not retried because they are not
// failures of the pipeline at all.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrDecode), errors.Is(err, ErrConfiguration), errors.Is(err, ErrNotFound):
		return false
	case errors.Is(err, ErrIndexing):
		return false
	default:
		return true
	}
}

// Terminal reports whether the failure should immediately park the call in
// the error state regardless of remaining retries.
func Terminal(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrDecode) || errors.Is(err, ErrConfiguration)
}

// NonFatal reports whether the failure must not block the pipeline from
// reaching a terminal success status.
func NonFatal(err error) bool {
	return err != nil && errors.Is(err, ErrIndexing)
}

// Kind returns a short label for the error's sentinel kind, used in logs and
// the processing_state.last_error prefix.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDecode):
		return "decode"
	case errors.Is(err, ErrConversion):
		return "conversion"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrTranscription):
		return "transcription"
	case errors.Is(err, ErrIndexing):
		return "indexing"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "transient"
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
