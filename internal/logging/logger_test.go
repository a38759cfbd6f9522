package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"callpipe/internal/services"
)

func TestConsoleHandlerFormatsComponentPrefix(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	lvl.Set(slog.LevelInfo)
	logger := slog.New(newConsoleHandler(&buf, lvl))

	logger = logger.With(String(FieldComponent, "collector"))
	logger.Info("poll complete", Int("new_calls", 3), String("feed", "metro fire"))

	line := buf.String()
	if !strings.Contains(line, " INFO collector: poll complete") {
		t.Fatalf("unexpected line: %q", line)
	}
	if !strings.Contains(line, "new_calls=3") {
		t.Fatalf("missing attr in line: %q", line)
	}
	if !strings.Contains(line, `feed="metro fire"`) {
		t.Fatalf("expected quoted value in line: %q", line)
	}
}

func TestConsoleHandlerFlattensGroups(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	lvl.Set(slog.LevelDebug)
	logger := slog.New(newConsoleHandler(&buf, lvl))

	logger.Debug("uploaded", slog.Group("object", String("bucket", "calls"), Int64("size", 1024)))

	line := buf.String()
	if !strings.Contains(line, "object.bucket=calls") || !strings.Contains(line, "object.size=1024") {
		t.Fatalf("group attrs not flattened: %q", line)
	}
}

func TestConsoleHandlerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	lvl.Set(slog.LevelWarn)
	logger := slog.New(newConsoleHandler(&buf, lvl))

	logger.Info("ignored")
	if buf.Len() != 0 {
		t.Fatalf("info line emitted below level: %q", buf.String())
	}
	logger.Warn("kept")
	if !strings.Contains(buf.String(), "WARN kept") {
		t.Fatalf("warn line missing: %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"unknown": slog.LevelInfo,
	}
	for input, want := range cases {
		if got := parseLevel(input); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestWithContextCarriesCallFields(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	lvl.Set(slog.LevelInfo)
	base := slog.New(newConsoleHandler(&buf, lvl))

	ctx := services.WithCallUID(context.Background(), "1755276238-1201")
	ctx = services.WithStage(ctx, "transcribe")

	WithContext(ctx, base).Info("claimed")

	line := buf.String()
	if !strings.Contains(line, "call_uid=1755276238-1201") || !strings.Contains(line, "stage=transcribe") {
		t.Fatalf("context fields missing: %q", line)
	}
}

func TestFormatValueTime(t *testing.T) {
	at := time.Date(2025, 8, 15, 16, 3, 58, 0, time.UTC)
	if got := formatValue(slog.TimeValue(at)); got != "2025-08-15T16:03:58Z" {
		t.Fatalf("formatValue time = %q", got)
	}
}
