package enhance

import (
	"context"
	"strconv"
	"strings"

	"callpipe/internal/services"
)

// ProbeDuration asks ffprobe for a media file's duration in seconds.
func (e *Executor) ProbeDuration(ctx context.Context, path string) (float64, error) {
	out, err := e.run(ctx, e.ffprobeBinary,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, services.Wrap(services.ErrConversion, "enhance", "probe duration", path, err)
	}
	value := strings.TrimSpace(string(out))
	duration, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, services.Wrap(services.ErrConversion, "enhance", "probe duration",
			"unparseable ffprobe output "+strconv.Quote(value), err)
	}
	if duration <= 0 {
		return 0, services.Wrap(services.ErrConversion, "enhance", "probe duration", "non-positive duration", nil)
	}
	return duration, nil
}
