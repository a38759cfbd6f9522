package store

import "time"

// CallStatus tracks a call through the enhancement stage.
type CallStatus string

const (
	// CallPending means the call metadata is ingested and awaiting enhancement.
	CallPending CallStatus = "pending"
	// CallProcessing means an enhancement pass currently owns the call.
	CallProcessing CallStatus = "processing"
	// CallCompleted means enhanced audio has been validated and uploaded.
	CallCompleted CallStatus = "completed"
	// CallFailed means enhancement failed terminally.
	CallFailed CallStatus = "failed"
)

// StageStatus tracks a call through the transcription pipeline. The empty
// value maps to SQL NULL and means no stage has claimed the call yet.
type StageStatus string

const (
	StageNone        StageStatus = ""
	StageQueued      StageStatus = "queued"
	StageDownloaded  StageStatus = "downloaded"
	StageTranscribed StageStatus = "transcribed"
	StageIndexed     StageStatus = "indexed"
	StageError       StageStatus = "error"
)

// Terminal reports whether the status is an end state.
func (s StageStatus) Terminal() bool {
	return s == StageIndexed || s == StageError
}

// CallRecord is one ingested radio call and its enhancement results.
type CallRecord struct {
	CallUID   string
	FeedID    string
	SystemID  int64
	GroupID   string
	SourceID  string
	Frequency float64
	Ts        int64
	Duration  float64
	AudioURL  string
	Codec     string

	Status   CallStatus
	PickedAt *time.Time

	QualityScore     *float64
	SNRDb            *float64
	Tier             string
	ConversionTimeMS *int64
	S3Bucket         string
	S3Key            string

	ErrorMessage string
	LastAttempt  *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CallTime returns the call timestamp as wall-clock time.
func (c *CallRecord) CallTime() time.Time {
	return time.Unix(c.Ts, 0).UTC()
}

// EnhancementResult carries the outcome of a successful enhancement pass.
type EnhancementResult struct {
	QualityScore     float64
	SNRDb            float64
	Tier             string
	ConversionTimeMS int64
	S3Bucket         string
	S3Key            string
}

// ProcessingState is the transcription-pipeline bookkeeping row for a call.
type ProcessingState struct {
	CallUID    string
	Status     StageStatus
	RetryCount int
	MaxRetries int
	LastError  string
	ClaimedAt  *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// RetriesExhausted reports whether the retry budget is spent.
func (p *ProcessingState) RetriesExhausted() bool {
	return p.RetryCount >= p.MaxRetries
}

// Transcript is the stored speech-to-text output for a call.
type Transcript struct {
	CallUID         string
	Text            string
	Language        string
	Confidence      float64
	Model           string
	DurationSeconds float64
	SegmentsJSON    string
	S3Bucket        string
	S3Key           string
	CreatedAt       time.Time
}

// Feed is one upstream playlist the collector polls.
type Feed struct {
	ID        string
	Name      string
	Sync      bool
	LastPos   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PollLogEntry records one collector poll cycle against a feed.
type PollLogEntry struct {
	ID         int64
	FeedID     string
	StartedAt  time.Time
	FinishedAt *time.Time
	Success    bool
	NewCalls   int
	Note       string
}
