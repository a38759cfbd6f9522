package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"callpipe/internal/config"
	"callpipe/internal/dispatch"
	"callpipe/internal/feed"
	"callpipe/internal/ingest"
	"callpipe/internal/logging"
	"callpipe/internal/objectstore"
	"callpipe/internal/process"
	"callpipe/internal/search"
	"callpipe/internal/store"
	"callpipe/internal/transcribe"
)

// Run wires the full pipeline and blocks until the context is cancelled or
// a termination signal arrives.
func Run(cmdCtx context.Context, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	pidPath := filepath.Join(cfg.Paths.LogDir, "callpiped.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	st, err := store.Open(cfg)
	if err != nil {
		logger.Error("open store", logging.Error(err))
		return err
	}
	defer st.Close()

	feedClient := feed.NewClient(cfg, feed.NewTokenSource(cfg), logger)
	writer := objectstore.NewWriter(objectstore.NewClient(cfg), cfg, logger)

	collector := ingest.NewCollector(st, feedClient, logger)
	processor := process.NewProcessor(cfg, st, feedClient, writer, logger)

	worker := transcribe.NewWorker(cfg, st, writer,
		transcribe.NewWhisperClient(cfg),
		search.NewIndexer(cfg, logger),
		logger,
	)
	pool := dispatch.NewPool(cfg.Transcription.Workers, cfg.Transcription.Workers*2, worker.Process, logger)
	dispatcher := dispatch.NewDispatcher(cfg, st, pool, logger)

	d, err := New(cfg, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	d.SetPool(pool)
	d.Register("collector", interval(cfg.Workflow.CollectInterval), func(ctx context.Context) error {
		_, err := collector.Run(ctx)
		return err
	})
	d.Register("processor", interval(cfg.Workflow.ProcessInterval), func(ctx context.Context) error {
		_, err := processor.Run(ctx)
		return err
	})
	d.Register("dispatcher", interval(cfg.Workflow.DispatchInterval), func(ctx context.Context) error {
		_, err := dispatcher.Run(ctx)
		return err
	})

	if err := d.Start(signalCtx); err != nil {
		logger.Error("daemon start failed", logging.Error(err))
		return err
	}
	defer d.Stop()

	<-signalCtx.Done()
	logger.Info("callpipe daemon shutting down")
	return nil
}

func interval(seconds int) time.Duration {
	if seconds < 1 {
		seconds = 1
	}
	return time.Duration(seconds) * time.Second
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
