package process_test

import (
	"context"
	"errors"
	"math"
	"os"
	"strings"
	"testing"

	"callpipe/internal/audio"
	"callpipe/internal/config"
	"callpipe/internal/logging"
	"callpipe/internal/objectstore"
	"callpipe/internal/process"
	"callpipe/internal/store"
	"callpipe/internal/testsupport"
)

type fakeFetcher struct {
	payload []byte
	err     error
	fetched []string
}

func (f *fakeFetcher) FetchAudio(_ context.Context, audioURL string) ([]byte, error) {
	f.fetched = append(f.fetched, audioURL)
	if f.err != nil {
		return nil, f.err
	}
	return f.payload, nil
}

func writeTone(t *testing.T, path string, seconds, amplitude float64) {
	t.Helper()
	n := int(16000 * seconds)
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = amplitude * math.Sin(2*math.Pi*440*float64(i)/16000)
	}
	clip := &audio.Clip{SampleRate: 16000, Channels: 1, Samples: samples}
	if err := audio.EncodeFile(path, clip); err != nil {
		t.Fatalf("EncodeFile: %v", err)
	}
}

// stubFFmpeg answers ffprobe with a fixed duration and lets the test decide
// what each ffmpeg invocation writes to its output path.
func stubFFmpeg(t *testing.T, p *process.Processor, onFFmpeg func(t *testing.T, args []string, outputPath string) error) {
	t.Helper()
	p.Executor().WithCommandRunner(func(_ context.Context, name string, args ...string) ([]byte, error) {
		if name == "ffprobe" {
			return []byte("1.000000\n"), nil
		}
		outputPath := args[len(args)-1]
		return nil, onFFmpeg(t, args, outputPath)
	})
}

func newProcessor(t *testing.T, cfg *config.Config, st *store.Store, fetcher *fakeFetcher) (*process.Processor, *testsupport.FakeS3) {
	t.Helper()
	fake := testsupport.NewFakeS3()
	writer := objectstore.NewWriter(fake, cfg, logging.NewNop())
	return process.NewProcessor(cfg, st, fetcher, writer, logging.NewNop()), fake
}

func TestProcessorCompletesCall(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	testsupport.NewFeed(t, st, "pl-1", "downtown")
	call := testsupport.NewCall(t, st, "pl-1", "1201-100")

	fetcher := &fakeFetcher{payload: []byte("fake m4a")}
	processor, fake := newProcessor(t, cfg, st, fetcher)
	stubFFmpeg(t, processor, func(t *testing.T, args []string, outputPath string) error {
		writeTone(t, outputPath, 1.0, 0.5)
		return nil
	})

	result, err := processor.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Claimed != 1 || result.Completed != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(fetcher.fetched) != 1 || fetcher.fetched[0] != call.AudioURL {
		t.Fatalf("source audio not fetched: %v", fetcher.fetched)
	}

	got, err := st.GetCall(context.Background(), call.CallUID)
	if err != nil {
		t.Fatalf("GetCall: %v", err)
	}
	if got.Status != store.CallCompleted {
		t.Fatalf("status = %s", got.Status)
	}
	if got.QualityScore == nil || *got.QualityScore <= 0 {
		t.Fatal("quality score not recorded")
	}
	if got.Tier == "" {
		t.Fatal("tier not recorded")
	}
	if got.ConversionTimeMS == nil {
		t.Fatal("conversion time not recorded")
	}
	if got.S3Key == "" || !strings.Contains(got.S3Key, call.CallUID) {
		t.Fatalf("s3 key = %q", got.S3Key)
	}
	if _, ok := fake.Objects[got.S3Key]; !ok {
		t.Fatalf("uploaded object missing at %q", got.S3Key)
	}
}

func TestProcessorRetriesConversionFailures(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	testsupport.NewFeed(t, st, "pl-1", "downtown")
	call := testsupport.NewCall(t, st, "pl-1", "1201-101")

	fetcher := &fakeFetcher{payload: []byte("fake m4a")}
	processor, _ := newProcessor(t, cfg, st, fetcher)
	stubFFmpeg(t, processor, func(t *testing.T, args []string, outputPath string) error {
		for _, a := range args {
			if a == "-af" {
				return errors.New("filter graph failed")
			}
		}
		writeTone(t, outputPath, 1.0, 0.5)
		return nil
	})

	result, err := processor.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Retried != 1 || result.Failed != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}

	got, err := st.GetCall(context.Background(), call.CallUID)
	if err != nil {
		t.Fatalf("GetCall: %v", err)
	}
	if got.Status != store.CallPending {
		t.Fatalf("failed call should return to pending, got %s", got.Status)
	}
	if got.ConversionTimeMS == nil {
		t.Fatal("conversion time must be recorded on failure too")
	}

	state, err := st.GetState(context.Background(), call.CallUID)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if state.RetryCount != 1 {
		t.Fatalf("retry count = %d", state.RetryCount)
	}
}

func TestProcessorDecodeFailureIsTerminal(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	testsupport.NewFeed(t, st, "pl-1", "downtown")
	call := testsupport.NewCall(t, st, "pl-1", "1201-102")

	fetcher := &fakeFetcher{payload: []byte("fake m4a")}
	processor, _ := newProcessor(t, cfg, st, fetcher)
	stubFFmpeg(t, processor, func(t *testing.T, args []string, outputPath string) error {
		// Not a RIFF file: the PCM decode downstream must fail.
		return os.WriteFile(outputPath, []byte("garbage"), 0o644)
	})

	result, err := processor.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Failed != 1 || result.Retried != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}

	got, err := st.GetCall(context.Background(), call.CallUID)
	if err != nil {
		t.Fatalf("GetCall: %v", err)
	}
	if got.Status != store.CallFailed {
		t.Fatalf("status = %s", got.Status)
	}

	state, err := st.GetState(context.Background(), call.CallUID)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if state.Status != store.StageError {
		t.Fatalf("decode failure must park the call in error, got %q", state.Status)
	}
}

func TestProcessorRejectsSilentOutput(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	testsupport.NewFeed(t, st, "pl-1", "downtown")
	call := testsupport.NewCall(t, st, "pl-1", "1201-103")

	fetcher := &fakeFetcher{payload: []byte("fake m4a")}
	processor, fake := newProcessor(t, cfg, st, fetcher)
	stubFFmpeg(t, processor, func(t *testing.T, args []string, outputPath string) error {
		for _, a := range args {
			if a == "-af" {
				// Enhancement pass drops the signal entirely.
				writeTone(t, outputPath, 1.0, 0)
				return nil
			}
		}
		writeTone(t, outputPath, 1.0, 0.5)
		return nil
	})

	result, err := processor.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Retried != 1 {
		t.Fatalf("invalid output should be retried: %+v", result)
	}
	if len(fake.Objects) != 0 {
		t.Fatal("invalid output must never be uploaded")
	}

	got, err := st.GetCall(context.Background(), call.CallUID)
	if err != nil {
		t.Fatalf("GetCall: %v", err)
	}
	if got.Status != store.CallPending {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestProcessorExhaustsRetriesToFailed(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMaxRetries(2))
	st := testsupport.MustOpenStore(t, cfg)
	testsupport.NewFeed(t, st, "pl-1", "downtown")
	call := testsupport.NewCall(t, st, "pl-1", "1201-104")

	fetcher := &fakeFetcher{err: errors.New("audio host unreachable")}
	processor, _ := newProcessor(t, cfg, st, fetcher)

	for i := 0; i < 2; i++ {
		if _, err := processor.Run(context.Background()); err != nil {
			t.Fatalf("Run %d: %v", i, err)
		}
	}

	got, err := st.GetCall(context.Background(), call.CallUID)
	if err != nil {
		t.Fatalf("GetCall: %v", err)
	}
	if got.Status != store.CallFailed {
		t.Fatalf("status after exhausting retries = %s", got.Status)
	}

	state, err := st.GetState(context.Background(), call.CallUID)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if state.Status != store.StageError || state.RetryCount != 2 {
		t.Fatalf("unexpected state: %+v", state)
	}
}
