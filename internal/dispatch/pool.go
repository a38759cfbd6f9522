package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"callpipe/internal/logging"
)

// ProcessFunc handles one claimed call UID.
type ProcessFunc func(ctx context.Context, callUID string) error

// Pool is a fixed-size transcription worker pool fed from a buffered queue.
type Pool struct {
	queue   chan string
	workers int
	process ProcessFunc
	logger  *slog.Logger

	startOnce sync.Once
	wg        sync.WaitGroup
}

// NewPool sizes a pool. The queue holds up to depth claimed UIDs beyond the
// ones currently being worked.
func NewPool(workers, depth int, process ProcessFunc, logger *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if depth < 1 {
		depth = workers
	}
	return &Pool{
		queue:   make(chan string, depth),
		workers: workers,
		process: process,
		logger:  logging.NewComponentLogger(logger, "dispatch"),
	}
}

// Start launches the workers. They drain the queue until it is closed, then
// exit; ctx cancels work in flight.
func (p *Pool) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.worker(ctx, i)
		}
	})
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for callUID := range p.queue {
		if ctx.Err() != nil {
			return
		}
		if err := p.process(ctx, callUID); err != nil {
			p.logger.Warn("worker finished with error",
				logging.Int("worker", id),
				logging.String(logging.FieldCallUID, callUID),
				logging.Error(err),
			)
		}
	}
}

// Submit offers a claimed call to the queue without blocking. A false
// return means the queue is full; the claim will go stale and be reclaimed
// on a later cycle.
func (p *Pool) Submit(callUID string) bool {
	select {
	case p.queue <- callUID:
		return true
	default:
		return false
	}
}

// Close stops accepting work and waits for the workers to drain the queue.
func (p *Pool) Close() {
	close(p.queue)
	p.wg.Wait()
}
