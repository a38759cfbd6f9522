package dispatch

import (
	"context"
	"log/slog"
	"time"

	"callpipe/internal/config"
	"callpipe/internal/logging"
	"callpipe/internal/store"
)

// Enqueuer accepts claimed call UIDs for background processing.
type Enqueuer interface {
	Submit(callUID string) bool
}

// Dispatcher claims transcription-ready calls and hands them to the pool.
type Dispatcher struct {
	store      *store.Store
	pool       Enqueuer
	logger     *slog.Logger
	batchSize  int
	maxRetries int
	maxAge     time.Duration
	claimTTL   time.Duration
	now        func() time.Time
}

// NewDispatcher wires a dispatcher from config.
func NewDispatcher(cfg *config.Config, st *store.Store, pool Enqueuer, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:      st,
		pool:       pool,
		logger:     logging.NewComponentLogger(logger, "dispatch"),
		batchSize:  cfg.Transcription.BatchSize,
		maxRetries: cfg.Transcription.MaxRetries,
		maxAge:     time.Duration(cfg.Transcription.MaxAgeHours) * time.Hour,
		claimTTL:   time.Duration(cfg.Transcription.ClaimTimeout) * time.Second,
		now:        time.Now,
	}
}

// WithClock overrides the time source for tests.
func (d *Dispatcher) WithClock(now func() time.Time) {
	if d != nil && now != nil {
		d.now = now
	}
}

// Run executes one dispatch cycle: find eligible calls, claim each, enqueue
// the grants. The claim is the concurrency barrier, so two overlapping
// cycles can both see a call but only one ever enqueues it.
func (d *Dispatcher) Run(ctx context.Context) (int, error) {
	now := d.now()
	oldest := now.Add(-d.maxAge).Unix()
	staleCutoff := now.Add(-d.claimTTL)

	eligible, err := d.store.EligibleForTranscription(ctx, d.batchSize, oldest, staleCutoff)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, callUID := range eligible {
		if ctx.Err() != nil {
			return enqueued, ctx.Err()
		}
		granted, err := d.store.ClaimForTranscription(ctx, callUID, d.maxRetries, staleCutoff)
		if err != nil {
			d.logger.Error("claim failed",
				logging.String(logging.FieldCallUID, callUID),
				logging.Error(err),
			)
			continue
		}
		if !granted {
			continue
		}
		if !d.pool.Submit(callUID) {
			// The claim goes stale and a later cycle re-dispatches.
			d.logger.Warn("worker queue full, dropping claim",
				logging.String(logging.FieldCallUID, callUID))
			continue
		}
		enqueued++
	}

	if enqueued > 0 {
		d.logger.Info("dispatched calls for transcription",
			logging.Int("eligible", len(eligible)),
			logging.Int("enqueued", enqueued),
		)
	}
	return enqueued, nil
}
