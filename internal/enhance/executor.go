package enhance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"callpipe/internal/config"
	"callpipe/internal/logging"
	"callpipe/internal/services"
	"callpipe/internal/tier"
)

// Executor drives the ffmpeg enhancement subprocess.
type Executor struct {
	logger        *slog.Logger
	selector      *tier.Selector
	run           commandRunner
	ffmpegBinary  string
	ffprobeBinary string
	minTimeout    time.Duration
}

// NewExecutor constructs an executor from config.
func NewExecutor(cfg *config.Config, logger *slog.Logger) *Executor {
	return &Executor{
		logger:        logging.NewComponentLogger(logger, "enhance"),
		selector:      tier.NewSelector(cfg),
		run:           defaultCommandRunner,
		ffmpegBinary:  cfg.FFmpegBinary(),
		ffprobeBinary: cfg.FFprobeBinary(),
		minTimeout:    time.Duration(cfg.Audio.MinTimeout) * time.Second,
	}
}

// WithCommandRunner allows injecting a custom command runner for tests.
func (e *Executor) WithCommandRunner(r commandRunner) {
	if e != nil && r != nil {
		e.run = r
	}
}

// Timeout returns the hard subprocess deadline for a source of the given
// duration: twice the media length, floored at the configured minimum.
func (e *Executor) Timeout(durationSeconds float64) time.Duration {
	scaled := time.Duration(durationSeconds * 2 * float64(time.Second))
	if scaled < e.minTimeout {
		return e.minTimeout
	}
	return scaled
}

// Enhance runs one ffmpeg pass over inputPath, writing tier-appropriate
// enhanced audio to outputPath. It makes exactly one attempt and always
// reports the elapsed subprocess time, including on failure.
func (e *Executor) Enhance(ctx context.Context, inputPath, outputPath string, t tier.Tier, durationSeconds float64) (int64, error) {
	timeout := e.Timeout(durationSeconds)
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{
		"-y", "-hide_banner", "-nostdin",
		"-i", inputPath,
		"-af", e.selector.FilterChain(t),
	}
	args = append(args, e.selector.OutputArgs()...)
	args = append(args, outputPath)

	e.logger.Debug("running ffmpeg",
		logging.String(logging.FieldTier, string(t)),
		logging.Duration("timeout", timeout),
		logging.String("input", inputPath),
	)

	start := time.Now()
	_, err := e.run(runCtx, e.ffmpegBinary, args...)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		_ = os.Remove(outputPath)
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return elapsed, services.Wrap(services.ErrConversion, "enhance", "run ffmpeg",
				fmt.Sprintf("timed out after %s", timeout), err)
		}
		return elapsed, services.Wrap(services.ErrConversion, "enhance", "run ffmpeg", string(t), err)
	}

	if info, statErr := os.Stat(outputPath); statErr != nil || info.Size() == 0 {
		return elapsed, services.Wrap(services.ErrConversion, "enhance", "run ffmpeg", "no output produced", statErr)
	}
	return elapsed, nil
}

// Decode transcodes source audio to plain target-format WAV with no filter
// chain, so the quality analyzer has PCM samples to work from.
func (e *Executor) Decode(ctx context.Context, inputPath, outputPath string, durationSeconds float64) error {
	runCtx, cancel := context.WithTimeout(ctx, e.Timeout(durationSeconds))
	defer cancel()

	args := []string{"-y", "-hide_banner", "-nostdin", "-i", inputPath}
	args = append(args, e.selector.OutputArgs()...)
	args = append(args, outputPath)

	if _, err := e.run(runCtx, e.ffmpegBinary, args...); err != nil {
		_ = os.Remove(outputPath)
		return services.Wrap(services.ErrConversion, "enhance", "decode source", inputPath, err)
	}
	return nil
}
