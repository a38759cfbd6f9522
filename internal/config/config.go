package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StagingDir  string `toml:"staging_dir"`
	DatabaseDir string `toml:"database_dir"`
	LogDir      string `toml:"log_dir"`
}

// Feed contains configuration for the upstream call feed API.
type Feed struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	APIKeyID       string `toml:"api_key_id"`
	AppID          string `toml:"app_id"`
	RequestTimeout int    `toml:"request_timeout"`
	LookbackWindow int    `toml:"lookback_window"`
	TokenTTL       int    `toml:"token_ttl"`
}

// Audio contains quality analysis and enhancement configuration.
type Audio struct {
	SampleRate int `toml:"sample_rate"`
	// TargetLUFS is the loudness normalization target passed to loudnorm.
	TargetLUFS float64 `toml:"target_lufs"`
	// HighThreshold and LowThreshold are the quality score boundaries for
	// tier selection. Scores above HighThreshold get the light chain.
	HighThreshold float64 `toml:"high_threshold"`
	LowThreshold  float64 `toml:"low_threshold"`
	// SNROffset and SNRGain shape the composite quality score:
	// clamp((snr_db + offset) * gain, 0, 100).
	SNROffset float64 `toml:"snr_offset"`
	SNRGain   float64 `toml:"snr_gain"`
	// DurationTolerance is the allowed relative drift between input and
	// enhanced output durations.
	DurationTolerance float64 `toml:"duration_tolerance"`
	// SilenceFloor is the peak amplitude below which output counts as silent.
	SilenceFloor float64 `toml:"silence_floor"`
	// ClippingCeiling is the maximum fraction of near-full-scale samples.
	ClippingCeiling float64 `toml:"clipping_ceiling"`
	// MinTimeout is the floor, in seconds, for the enhancement subprocess
	// timeout. The effective timeout is max(min_timeout, 2 * duration).
	MinTimeout int `toml:"min_timeout"`
}

// Storage contains S3-compatible object storage configuration.
type Storage struct {
	Endpoint     string `toml:"endpoint"`
	Region       string `toml:"region"`
	Bucket       string `toml:"bucket"`
	Prefix       string `toml:"prefix"`
	AccessKey    string `toml:"access_key"`
	SecretKey    string `toml:"secret_key"`
	UsePathStyle bool   `toml:"use_path_style"`
}

// Transcription contains speech-to-text backend and worker configuration.
type Transcription struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	Language       string `toml:"language"`
	Workers        int    `toml:"workers"`
	BatchSize      int    `toml:"batch_size"`
	MaxRetries     int    `toml:"max_retries"`
	ClaimTimeout   int    `toml:"claim_timeout"`
	MaxAgeHours    int    `toml:"max_age_hours"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Search contains Meilisearch configuration. Indexing is best-effort and can
// be disabled entirely.
type Search struct {
	Enabled bool   `toml:"enabled"`
	Host    string `toml:"host"`
	APIKey  string `toml:"api_key"`
	Index   string `toml:"index"`
}

// Workflow contains daemon timing and interval configuration, in seconds.
type Workflow struct {
	CollectInterval    int `toml:"collect_interval"`
	ProcessInterval    int `toml:"process_interval"`
	DispatchInterval   int `toml:"dispatch_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for callpipe.
//
// Configuration sections by subsystem:
//   - Paths: staging, database, and log directories
//   - Feed: upstream call feed API connection and polling limits
//   - Audio: quality scoring weights, tier thresholds, validation limits
//   - Storage: S3-compatible object storage for enhanced audio
//   - Transcription: STT backend, worker pool, retry budget
//   - Search: Meilisearch transcript index
//   - Workflow: daemon polling intervals
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Feed          Feed          `toml:"feed"`
	Audio         Audio         `toml:"audio"`
	Storage       Storage       `toml:"storage"`
	Transcription Transcription `toml:"transcription"`
	Search        Search        `toml:"search"`
	Workflow      Workflow      `toml:"workflow"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/callpipe/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("callpipe.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StagingDir, c.Paths.DatabaseDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite database file location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DatabaseDir, "callpipe.db")
}

// LockPath returns the daemon single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DatabaseDir, "callpiped.lock")
}

// FFmpegBinary returns the ffmpeg executable name used for enhancement.
func (c *Config) FFmpegBinary() string {
	return "ffmpeg"
}

// FFprobeBinary returns the ffprobe executable name used for duration probes.
func (c *Config) FFprobeBinary() string {
	return "ffprobe"
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
