package process

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"callpipe/internal/audio"
	"callpipe/internal/config"
	"callpipe/internal/enhance"
	"callpipe/internal/logging"
	"callpipe/internal/quality"
	"callpipe/internal/services"
	"callpipe/internal/store"
	"callpipe/internal/tier"
)

// AudioFetcher downloads call source audio.
type AudioFetcher interface {
	FetchAudio(ctx context.Context, audioURL string) ([]byte, error)
}

// Uploader stores validated audio and reports where it landed.
type Uploader interface {
	Upload(ctx context.Context, call *store.CallRecord, payload []byte) (bucket, key string, err error)
}

// Processor drives one enhancement cycle over claimed pending calls.
type Processor struct {
	store      *store.Store
	fetcher    AudioFetcher
	executor   *enhance.Executor
	validator  *enhance.Validator
	analyzer   *quality.Analyzer
	selector   *tier.Selector
	uploader   Uploader
	logger     *slog.Logger
	stagingDir string
	batchSize  int
	maxRetries int
	claimTTL   time.Duration
}

// NewProcessor wires the enhancement pipeline from config.
func NewProcessor(cfg *config.Config, st *store.Store, fetcher AudioFetcher, uploader Uploader, logger *slog.Logger) *Processor {
	return &Processor{
		store:      st,
		fetcher:    fetcher,
		executor:   enhance.NewExecutor(cfg, logger),
		validator:  enhance.NewValidator(cfg),
		analyzer:   quality.NewAnalyzer(cfg),
		selector:   tier.NewSelector(cfg),
		uploader:   uploader,
		logger:     logging.NewComponentLogger(logger, "process"),
		stagingDir: cfg.Paths.StagingDir,
		batchSize:  cfg.Transcription.BatchSize,
		maxRetries: cfg.Transcription.MaxRetries,
		claimTTL:   time.Duration(cfg.Transcription.ClaimTimeout) * time.Second,
	}
}

// Executor exposes the enhancement executor so tests can stub subprocesses.
func (p *Processor) Executor() *enhance.Executor { return p.executor }

// CycleResult summarizes one processing cycle.
type CycleResult struct {
	Claimed   int
	Completed int
	Retried   int
	Failed    int
	Reclaimed int64
}

// Run claims a batch of pending calls and enhances each in turn. Stuck
// processing claims from crashed runs are reclaimed first.
func (p *Processor) Run(ctx context.Context) (CycleResult, error) {
	var result CycleResult

	reclaimed, err := p.store.ReclaimStuckProcessing(ctx, time.Now().Add(-p.claimTTL))
	if err != nil {
		return result, err
	}
	result.Reclaimed = reclaimed
	if reclaimed > 0 {
		p.logger.Warn("reclaimed stuck processing calls", logging.Int64("count", reclaimed))
	}

	calls, err := p.store.ClaimPendingCalls(ctx, p.batchSize)
	if err != nil {
		return result, err
	}
	result.Claimed = len(calls)

	for _, call := range calls {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		callCtx := services.WithCallUID(ctx, call.CallUID)
		if err := p.processCall(callCtx, call); err != nil {
			p.recordFailure(callCtx, call, err, &result)
			continue
		}
		result.Completed++
	}
	return result, nil
}

// processCall takes one call from claimed to completed: download, decode,
// analyze, enhance, validate, upload.
func (p *Processor) processCall(ctx context.Context, call *store.CallRecord) error {
	sourcePath := filepath.Join(p.stagingDir, call.CallUID+"."+call.Codec)
	decodedPath := filepath.Join(p.stagingDir, call.CallUID+".src.wav")
	enhancedPath := filepath.Join(p.stagingDir, call.CallUID+".wav")
	defer func() {
		for _, path := range []string{sourcePath, decodedPath, enhancedPath} {
			_ = os.Remove(path)
		}
	}()

	payload, err := p.fetcher.FetchAudio(ctx, call.AudioURL)
	if err != nil {
		return err
	}
	if err := os.WriteFile(sourcePath, payload, 0o644); err != nil {
		return services.Wrap(services.ErrTransient, "process", "stage source", sourcePath, err)
	}

	duration, err := p.executor.ProbeDuration(ctx, sourcePath)
	if err != nil {
		// The declared feed duration is good enough for timeout sizing.
		p.logger.Warn("ffprobe failed, using declared duration",
			logging.String(logging.FieldCallUID, call.CallUID),
			logging.Error(err),
		)
		duration = call.Duration
	}

	if err := p.executor.Decode(ctx, sourcePath, decodedPath, duration); err != nil {
		return err
	}
	clip, err := audio.DecodeFile(decodedPath)
	if err != nil {
		return err
	}

	metrics, err := p.analyzer.Analyze(clip)
	if err != nil {
		return err
	}
	selected := p.selector.Select(metrics.Score)
	p.logger.Info("quality analyzed",
		logging.String(logging.FieldCallUID, call.CallUID),
		logging.Float64("score", metrics.Score),
		logging.Float64("snr_db", metrics.SNRDb),
		logging.String(logging.FieldTier, string(selected)),
	)

	elapsed, enhanceErr := p.executor.Enhance(ctx, sourcePath, enhancedPath, selected, duration)
	// conversion_time_ms is observability data, recorded win or lose.
	if err := p.store.SetConversionTime(ctx, call.CallUID, elapsed); err != nil {
		p.logger.Warn("conversion time not recorded", logging.Error(err))
	}
	if enhanceErr != nil {
		return enhanceErr
	}

	enhanced, err := audio.DecodeFile(enhancedPath)
	if err != nil {
		return err
	}
	if err := p.validator.Validate(enhanced, duration); err != nil {
		return err
	}

	output, err := os.ReadFile(enhancedPath)
	if err != nil {
		return services.Wrap(services.ErrTransient, "process", "read enhanced output", enhancedPath, err)
	}
	bucket, key, err := p.uploader.Upload(ctx, call, output)
	if err != nil {
		return err
	}

	return p.store.MarkCallCompleted(ctx, call.CallUID, store.EnhancementResult{
		QualityScore:     metrics.Score,
		SNRDb:            metrics.SNRDb,
		Tier:             string(selected),
		ConversionTimeMS: elapsed,
		S3Bucket:         bucket,
		S3Key:            key,
	})
}

// recordFailure applies the error policy: decode and configuration faults
// are terminal immediately, everything else retries until the cap.
func (p *Processor) recordFailure(ctx context.Context, call *store.CallRecord, cause error, result *CycleResult) {
	message := cause.Error()

	if services.Terminal(cause) {
		if err := p.store.MarkTerminalError(ctx, call.CallUID, p.maxRetries, message); err != nil {
			p.logger.Error("terminal state not recorded", logging.Error(err))
		}
		if err := p.store.MarkCallFailed(ctx, call.CallUID, message); err != nil {
			p.logger.Error("call failure not recorded", logging.Error(err))
		}
		result.Failed++
		p.logger.Error("call failed terminally",
			logging.String(logging.FieldCallUID, call.CallUID),
			logging.String("kind", services.Kind(cause)),
			logging.Error(cause),
		)
		return
	}

	exhausted, err := p.store.RecordEnhancementFailure(ctx, call.CallUID, p.maxRetries, message)
	if err != nil {
		p.logger.Error("retry bookkeeping failed", logging.Error(err))
	}
	if exhausted {
		if err := p.store.MarkCallFailed(ctx, call.CallUID, message); err != nil {
			p.logger.Error("call failure not recorded", logging.Error(err))
		}
		result.Failed++
		p.logger.Error("call failed after exhausting retries",
			logging.String(logging.FieldCallUID, call.CallUID),
			logging.Error(cause),
		)
		return
	}

	if err := p.store.ReleaseCallForRetry(ctx, call.CallUID, message); err != nil {
		p.logger.Error("call release failed", logging.Error(err))
	}
	result.Retried++
	p.logger.Warn("call released for retry",
		logging.String(logging.FieldCallUID, call.CallUID),
		logging.String("kind", services.Kind(cause)),
		logging.Error(cause),
	)
}
