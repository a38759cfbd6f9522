package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"callpipe/internal/config"
	"callpipe/internal/store"
)

// writeTestConfig writes a minimal valid config file under a temp dir and
// returns its path.
func writeTestConfig(t *testing.T) string {
	t.Helper()

	base := t.TempDir()
	content := fmt.Sprintf(`[paths]
staging_dir = %q
database_dir = %q
log_dir = %q

[feed]
api_key = "test-feed-key"
api_key_id = "test-key-id"
app_id = "test-app"

[storage]
bucket = "test-bucket"
access_key = "test-access"
secret_key = "test-secret"

[transcription]
api_key = "test-stt-key"
`,
		filepath.Join(base, "staging"),
		filepath.Join(base, "db"),
		filepath.Join(base, "logs"),
	)

	path := filepath.Join(base, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write test config: %v", err)
	}
	return path
}

// openTestStore opens the store behind a test config path for seeding.
func openTestStore(t *testing.T, configPath string) *store.Store {
	t.Helper()

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("load test config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// runCLI executes the root command with the given args against the config
// path, returning combined output.
func runCLI(t *testing.T, configPath string, args ...string) (string, error) {
	t.Helper()

	var buf bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(append(args, "--config", configPath))
	err := cmd.Execute()
	return buf.String(), err
}

func requireContains(t *testing.T, output, want string) {
	t.Helper()
	if !strings.Contains(output, want) {
		t.Fatalf("output missing %q:\n%s", want, output)
	}
}
