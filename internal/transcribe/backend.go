package transcribe

import "context"

// Segment is one timed slice of a transcript.
type Segment struct {
	ID         int     `json:"id"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	AvgLogprob float64 `json:"avg_logprob"`
}

// Result is the structured output of one speech-to-text call.
type Result struct {
	Text            string
	Language        string
	DurationSeconds float64
	Segments        []Segment
	Confidence      float64
}

// Backend converts audio bytes into a transcription result. Injectable so
// worker tests run without a live endpoint.
type Backend interface {
	Transcribe(ctx context.Context, filename string, audio []byte) (*Result, error)
}

// confidenceFromSegments maps Whisper per-segment avg_logprob onto a 0..1
// confidence. Logprobs typically run from about -0.2 (excellent) down to
// -1.5 (poor); with no segments the result is an agnostic 0.5.
func confidenceFromSegments(segments []Segment) float64 {
	if len(segments) == 0 {
		return 0.5
	}
	var sum float64
	for _, seg := range segments {
		sum += seg.AvgLogprob
	}
	confidence := (sum/float64(len(segments)) + 1.5) / 1.3
	if confidence < 0 {
		return 0
	}
	if confidence > 1 {
		return 1
	}
	return confidence
}
