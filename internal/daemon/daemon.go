package daemon

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"callpipe/internal/config"
	"callpipe/internal/dispatch"
	"callpipe/internal/logging"
	"callpipe/internal/services"
)

// TaskFunc is one periodic pipeline cycle.
type TaskFunc func(ctx context.Context) error

// periodicTask runs on a fixed interval with at-most-one instance at a
// time; ticks that land while a run is still in flight are skipped.
type periodicTask struct {
	name     string
	interval time.Duration
	run      TaskFunc
	inflight atomic.Bool
}

// Daemon owns the periodic tasks and worker pool and enforces
// single-instance execution through a file lock.
type Daemon struct {
	logger   *slog.Logger
	lockPath string
	lock     *flock.Flock
	pool     *dispatch.Pool
	tasks    []*periodicTask

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs a daemon. Tasks are registered before Start.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || logger == nil {
		return nil, errors.New("daemon requires config and logger")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	lockPath := cfg.LockPath()
	return &Daemon{
		logger:   logging.NewComponentLogger(logger, "daemon"),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Register adds a periodic task. Must be called before Start.
func (d *Daemon) Register(name string, interval time.Duration, run TaskFunc) {
	d.tasks = append(d.tasks, &periodicTask{name: name, interval: interval, run: run})
}

// SetPool attaches the transcription worker pool whose lifecycle the
// daemon manages.
func (d *Daemon) SetPool(pool *dispatch.Pool) {
	d.pool = pool
}

// Start acquires the instance lock and launches the pool and all tasks.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("another callpipe daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if d.pool != nil {
		d.pool.Start(runCtx)
	}
	for _, task := range d.tasks {
		d.wg.Add(1)
		go d.loop(runCtx, task)
	}

	d.running.Store(true)
	d.logger.Info("daemon started",
		logging.String("lock", d.lockPath),
		logging.Int("tasks", len(d.tasks)),
	)
	return nil
}

func (d *Daemon) loop(ctx context.Context, task *periodicTask) {
	defer d.wg.Done()

	ticker := time.NewTicker(task.interval)
	defer ticker.Stop()

	// One immediate run so a restart does not wait a full interval.
	d.runOnce(ctx, task)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.runOnce(ctx, task)
		}
	}
}

func (d *Daemon) runOnce(ctx context.Context, task *periodicTask) {
	if !task.inflight.CompareAndSwap(false, true) {
		d.logger.Debug("task still in flight, skipping tick", logging.String("task", task.name))
		return
	}
	defer task.inflight.Store(false)

	// Each cycle carries a correlation id so log lines from one run of a
	// task can be grouped.
	cycleCtx := services.WithStage(ctx, task.name)
	cycleCtx = services.WithRequestID(cycleCtx, uuid.NewString())

	if err := task.run(cycleCtx); err != nil && !errors.Is(err, context.Canceled) {
		logging.WithContext(cycleCtx, d.logger).Error("task cycle failed", logging.Error(err))
	}
}

// Stop cancels the tasks, drains the pool, and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()
	if d.pool != nil {
		d.pool.Close()
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("daemon stopped")
}

// Running reports whether Start has completed and Stop has not.
func (d *Daemon) Running() bool {
	return d.running.Load()
}
