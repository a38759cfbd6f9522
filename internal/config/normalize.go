package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeFeed()
	c.normalizeStorage()
	c.normalizeTranscription()
	c.normalizeSearch()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		c.Paths.StagingDir = defaultStagingDir
	}
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.DatabaseDir) == "" {
		c.Paths.DatabaseDir = defaultDatabaseDir
	}
	if c.Paths.DatabaseDir, err = expandPath(c.Paths.DatabaseDir); err != nil {
		return fmt.Errorf("paths.database_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeFeed() {
	c.Feed.BaseURL = strings.TrimRight(strings.TrimSpace(c.Feed.BaseURL), "/")
	if c.Feed.BaseURL == "" {
		c.Feed.BaseURL = defaultFeedBaseURL
	}
	if c.Feed.APIKey == "" {
		if value, ok := os.LookupEnv("CALLPIPE_FEED_API_KEY"); ok {
			c.Feed.APIKey = strings.TrimSpace(value)
		}
	}
	if c.Feed.RequestTimeout <= 0 {
		c.Feed.RequestTimeout = defaultFeedRequestTimeout
	}
	if c.Feed.LookbackWindow <= 0 {
		c.Feed.LookbackWindow = defaultFeedLookbackWindow
	}
	if c.Feed.TokenTTL <= 0 {
		c.Feed.TokenTTL = defaultFeedTokenTTL
	}
}

func (c *Config) normalizeStorage() {
	c.Storage.Endpoint = strings.TrimRight(strings.TrimSpace(c.Storage.Endpoint), "/")
	c.Storage.Bucket = strings.TrimSpace(c.Storage.Bucket)
	c.Storage.Prefix = strings.Trim(strings.TrimSpace(c.Storage.Prefix), "/")
	if c.Storage.Prefix == "" {
		c.Storage.Prefix = defaultStoragePrefix
	}
	if strings.TrimSpace(c.Storage.Region) == "" {
		c.Storage.Region = defaultStorageRegion
	}
	if c.Storage.AccessKey == "" {
		if value, ok := os.LookupEnv("CALLPIPE_S3_ACCESS_KEY"); ok {
			c.Storage.AccessKey = strings.TrimSpace(value)
		}
	}
	if c.Storage.SecretKey == "" {
		if value, ok := os.LookupEnv("CALLPIPE_S3_SECRET_KEY"); ok {
			c.Storage.SecretKey = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeTranscription() {
	c.Transcription.BaseURL = strings.TrimRight(strings.TrimSpace(c.Transcription.BaseURL), "/")
	if c.Transcription.BaseURL == "" {
		c.Transcription.BaseURL = defaultTranscriptionBaseURL
	}
	if c.Transcription.APIKey == "" {
		if value, ok := os.LookupEnv("CALLPIPE_STT_API_KEY"); ok {
			c.Transcription.APIKey = strings.TrimSpace(value)
		}
	}
	if strings.TrimSpace(c.Transcription.Model) == "" {
		c.Transcription.Model = defaultTranscriptionModel
	}
	if c.Transcription.Workers <= 0 {
		c.Transcription.Workers = defaultTranscriptionWorkers
	}
	if c.Transcription.BatchSize <= 0 {
		c.Transcription.BatchSize = defaultTranscriptionBatchSize
	}
	if c.Transcription.MaxRetries <= 0 {
		c.Transcription.MaxRetries = defaultTranscriptionMaxRetries
	}
	if c.Transcription.ClaimTimeout <= 0 {
		c.Transcription.ClaimTimeout = defaultTranscriptionClaimTimeout
	}
	if c.Transcription.MaxAgeHours <= 0 {
		c.Transcription.MaxAgeHours = defaultTranscriptionMaxAgeHours
	}
	if c.Transcription.RequestTimeout <= 0 {
		c.Transcription.RequestTimeout = defaultTranscriptionRequestTimeout
	}
}

func (c *Config) normalizeSearch() {
	c.Search.Host = strings.TrimRight(strings.TrimSpace(c.Search.Host), "/")
	if strings.TrimSpace(c.Search.Index) == "" {
		c.Search.Index = defaultSearchIndex
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
