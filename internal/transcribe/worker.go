package transcribe

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"

	"callpipe/internal/config"
	"callpipe/internal/logging"
	"callpipe/internal/search"
	"callpipe/internal/services"
	"callpipe/internal/store"
)

// AudioFetcher reads stored call audio back from the object store.
type AudioFetcher interface {
	Fetch(ctx context.Context, key string) (io.ReadCloser, error)
}

// Indexer pushes transcript documents to the search index.
type Indexer interface {
	Index(ctx context.Context, doc search.Document) error
}

// Worker takes one claimed call from queued to indexed.
type Worker struct {
	store      *store.Store
	fetcher    AudioFetcher
	backend    Backend
	indexer    Indexer
	logger     *slog.Logger
	model      string
	maxRetries int
}

// NewWorker wires a transcription worker.
func NewWorker(cfg *config.Config, st *store.Store, fetcher AudioFetcher, backend Backend, indexer Indexer, logger *slog.Logger) *Worker {
	return &Worker{
		store:      st,
		fetcher:    fetcher,
		backend:    backend,
		indexer:    indexer,
		logger:     logging.NewComponentLogger(logger, "transcribe"),
		model:      cfg.Transcription.Model,
		maxRetries: cfg.Transcription.MaxRetries,
	}
}

// Process runs the ladder for one claimed call. It is idempotent: an
// existing transcript short-circuits straight to indexing, so re-running
// after a partial crash never transcribes twice.
func (w *Worker) Process(ctx context.Context, callUID string) error {
	ctx = services.WithCallUID(ctx, callUID)

	call, err := w.store.GetCall(ctx, callUID)
	if err != nil {
		return w.fail(ctx, callUID, store.StageNone, err)
	}

	exists, err := w.store.HasTranscript(ctx, callUID)
	if err != nil {
		return w.fail(ctx, callUID, store.StageNone, err)
	}
	if exists {
		w.logger.Info("transcript already present, re-running index only",
			logging.String(logging.FieldCallUID, callUID))
		return w.index(ctx, call)
	}

	body, err := w.fetcher.Fetch(ctx, call.S3Key)
	if err != nil {
		return w.fail(ctx, callUID, store.StageNone, err)
	}
	audio, err := io.ReadAll(body)
	body.Close()
	if err != nil {
		return w.fail(ctx, callUID, store.StageNone,
			services.Wrap(services.ErrTransient, "transcribe", "read stored audio", call.S3Key, err))
	}
	if err := w.store.MarkDownloaded(ctx, callUID); err != nil {
		return w.fail(ctx, callUID, store.StageNone, err)
	}

	result, err := w.backend.Transcribe(ctx, callUID+".wav", audio)
	if err != nil {
		return w.fail(ctx, callUID, store.StageDownloaded, err)
	}

	segments, err := json.Marshal(result.Segments)
	if err != nil {
		return w.fail(ctx, callUID, store.StageDownloaded,
			services.Wrap(services.ErrTranscription, "transcribe", "encode segments", callUID, err))
	}
	err = w.store.SaveTranscript(ctx, &store.Transcript{
		CallUID:         callUID,
		Text:            result.Text,
		Language:        result.Language,
		Confidence:      result.Confidence,
		Model:           w.model,
		DurationSeconds: result.DurationSeconds,
		SegmentsJSON:    string(segments),
		S3Bucket:        call.S3Bucket,
		S3Key:           call.S3Key,
	})
	if err != nil {
		return w.fail(ctx, callUID, store.StageDownloaded, err)
	}

	w.logger.Info("call transcribed",
		logging.String(logging.FieldCallUID, callUID),
		logging.Int("chars", len(result.Text)),
		logging.Float64("confidence", result.Confidence),
	)
	return w.index(ctx, call)
}

// index performs the best-effort search write and advances the call to its
// terminal success state. An index failure is logged and explicitly
// skipped; it never rolls back the transcript or blocks completion.
func (w *Worker) index(ctx context.Context, call *store.CallRecord) error {
	transcript, err := w.store.GetTranscript(ctx, call.CallUID)
	if err != nil {
		return w.fail(ctx, call.CallUID, store.StageTranscribed, err)
	}

	err = w.indexer.Index(ctx, search.Document{
		ID:         call.CallUID,
		CallUID:    call.CallUID,
		Text:       transcript.Text,
		Language:   transcript.Language,
		FeedID:     call.FeedID,
		Timestamp:  call.Ts,
		Confidence: transcript.Confidence,
	})
	if err != nil {
		w.logger.Warn("index write failed, marking indexed anyway",
			logging.String(logging.FieldCallUID, call.CallUID),
			logging.Error(err),
		)
	}

	if err := w.store.MarkIndexed(ctx, call.CallUID); err != nil {
		return w.fail(ctx, call.CallUID, store.StageTranscribed, err)
	}
	return nil
}

// fail applies the retry policy for a stage failure: non-retryable faults
// park the call in the terminal error state, everything else rolls back to
// the prior stable stage and burns one retry.
func (w *Worker) fail(ctx context.Context, callUID string, rollback store.StageStatus, cause error) error {
	message := cause.Error()

	if !services.Retryable(cause) {
		if err := w.store.MarkTerminalError(ctx, callUID, w.maxRetries, message); err != nil {
			w.logger.Error("terminal state not recorded", logging.Error(err))
		}
		w.logger.Error("call failed terminally",
			logging.String(logging.FieldCallUID, callUID),
			logging.String("kind", services.Kind(cause)),
			logging.Error(cause),
		)
		return cause
	}

	state, err := w.store.RecordStageFailure(ctx, callUID, rollback, message)
	if err != nil {
		w.logger.Error("retry bookkeeping failed", logging.Error(err))
		return cause
	}
	if state.Status == store.StageError {
		w.logger.Error("call failed after exhausting retries",
			logging.String(logging.FieldCallUID, callUID),
			logging.Error(cause),
		)
	} else {
		w.logger.Warn("stage failed, rolled back for retry",
			logging.String(logging.FieldCallUID, callUID),
			logging.String(logging.FieldStage, string(state.Status)),
			logging.Int("retry_count", state.RetryCount),
			logging.Error(cause),
		)
	}
	return cause
}
