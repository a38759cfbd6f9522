package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateFeed(); err != nil {
		return err
	}
	if err := c.validateAudio(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateTranscription(); err != nil {
		return err
	}
	if err := c.validateSearch(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateFeed() error {
	if c.Feed.APIKey == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/callpipe/config.toml"
		}
		return fmt.Errorf("feed.api_key is required. Set CALLPIPE_FEED_API_KEY env var or edit %s (create with 'callpipe config init')", defaultPath)
	}
	if c.Feed.APIKeyID == "" {
		return errors.New("feed.api_key_id must be set for feed token signing")
	}
	if c.Feed.AppID == "" {
		return errors.New("feed.app_id must be set for feed token signing")
	}
	return nil
}

func (c *Config) validateAudio() error {
	if c.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if c.Audio.LowThreshold < 0 || c.Audio.LowThreshold > 100 {
		return errors.New("audio.low_threshold must be between 0 and 100")
	}
	if c.Audio.HighThreshold < 0 || c.Audio.HighThreshold > 100 {
		return errors.New("audio.high_threshold must be between 0 and 100")
	}
	if c.Audio.LowThreshold >= c.Audio.HighThreshold {
		return errors.New("audio.low_threshold must be less than audio.high_threshold")
	}
	if c.Audio.SNRGain <= 0 {
		return errors.New("audio.snr_gain must be positive")
	}
	if c.Audio.DurationTolerance <= 0 || c.Audio.DurationTolerance >= 1 {
		return errors.New("audio.duration_tolerance must be between 0 and 1")
	}
	if c.Audio.SilenceFloor <= 0 {
		return errors.New("audio.silence_floor must be positive")
	}
	if c.Audio.ClippingCeiling <= 0 || c.Audio.ClippingCeiling > 1 {
		return errors.New("audio.clipping_ceiling must be between 0 and 1")
	}
	if c.Audio.MinTimeout <= 0 {
		return errors.New("audio.min_timeout must be positive (seconds)")
	}
	return nil
}

func (c *Config) validateStorage() error {
	if c.Storage.Bucket == "" {
		return errors.New("storage.bucket must be set")
	}
	if c.Storage.AccessKey == "" || c.Storage.SecretKey == "" {
		return errors.New("storage.access_key and storage.secret_key must be set")
	}
	return nil
}

func (c *Config) validateTranscription() error {
	if c.Transcription.APIKey == "" {
		return errors.New("transcription.api_key must be set. Set CALLPIPE_STT_API_KEY env var or edit the config file")
	}
	return ensurePositiveMap(map[string]int{
		"transcription.workers":         c.Transcription.Workers,
		"transcription.batch_size":      c.Transcription.BatchSize,
		"transcription.max_retries":     c.Transcription.MaxRetries,
		"transcription.claim_timeout":   c.Transcription.ClaimTimeout,
		"transcription.max_age_hours":   c.Transcription.MaxAgeHours,
		"transcription.request_timeout": c.Transcription.RequestTimeout,
	})
}

func (c *Config) validateSearch() error {
	if !c.Search.Enabled {
		return nil
	}
	if c.Search.Host == "" {
		return errors.New("search.host must be set when search.enabled is true")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	return ensurePositiveMap(map[string]int{
		"workflow.collect_interval":     c.Workflow.CollectInterval,
		"workflow.process_interval":     c.Workflow.ProcessInterval,
		"workflow.dispatch_interval":    c.Workflow.DispatchInterval,
		"workflow.error_retry_interval": c.Workflow.ErrorRetryInterval,
		"feed.request_timeout":          c.Feed.RequestTimeout,
		"feed.lookback_window":          c.Feed.LookbackWindow,
		"feed.token_ttl":                c.Feed.TokenTTL,
	})
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
