package config

const (
	defaultStagingDir  = "~/.local/share/callpipe/staging"
	defaultDatabaseDir = "~/.local/share/callpipe/db"
	defaultLogDir      = "~/.local/share/callpipe/logs"

	defaultFeedBaseURL        = "https://api.broadcastify.com/calls"
	defaultFeedRequestTimeout = 30
	defaultFeedLookbackWindow = 300
	defaultFeedTokenTTL       = 3600

	defaultAudioSampleRate        = 16000
	defaultAudioTargetLUFS        = -20.0
	defaultAudioHighThreshold     = 70.0
	defaultAudioLowThreshold      = 40.0
	defaultAudioSNROffset         = 10.0
	defaultAudioSNRGain           = 5.0
	defaultAudioDurationTolerance = 0.10
	defaultAudioSilenceFloor      = 0.001
	defaultAudioClippingCeiling   = 0.01
	defaultAudioMinTimeout        = 60

	defaultStorageRegion = "us-east-1"
	defaultStoragePrefix = "calls"

	defaultTranscriptionBaseURL        = "https://api.openai.com/v1"
	defaultTranscriptionModel          = "whisper-1"
	defaultTranscriptionLanguage       = "en"
	defaultTranscriptionWorkers        = 4
	defaultTranscriptionBatchSize      = 16
	defaultTranscriptionMaxRetries     = 3
	defaultTranscriptionClaimTimeout   = 600
	defaultTranscriptionMaxAgeHours    = 24
	defaultTranscriptionRequestTimeout = 120

	defaultSearchIndex = "transcripts"

	defaultWorkflowCollectInterval    = 10
	defaultWorkflowProcessInterval    = 5
	defaultWorkflowDispatchInterval   = 30
	defaultWorkflowErrorRetryInterval = 60

	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir:  defaultStagingDir,
			DatabaseDir: defaultDatabaseDir,
			LogDir:      defaultLogDir,
		},
		Feed: Feed{
			BaseURL:        defaultFeedBaseURL,
			RequestTimeout: defaultFeedRequestTimeout,
			LookbackWindow: defaultFeedLookbackWindow,
			TokenTTL:       defaultFeedTokenTTL,
		},
		Audio: Audio{
			SampleRate:        defaultAudioSampleRate,
			TargetLUFS:        defaultAudioTargetLUFS,
			HighThreshold:     defaultAudioHighThreshold,
			LowThreshold:      defaultAudioLowThreshold,
			SNROffset:         defaultAudioSNROffset,
			SNRGain:           defaultAudioSNRGain,
			DurationTolerance: defaultAudioDurationTolerance,
			SilenceFloor:      defaultAudioSilenceFloor,
			ClippingCeiling:   defaultAudioClippingCeiling,
			MinTimeout:        defaultAudioMinTimeout,
		},
		Storage: Storage{
			Region: defaultStorageRegion,
			Prefix: defaultStoragePrefix,
		},
		Transcription: Transcription{
			BaseURL:        defaultTranscriptionBaseURL,
			Model:          defaultTranscriptionModel,
			Language:       defaultTranscriptionLanguage,
			Workers:        defaultTranscriptionWorkers,
			BatchSize:      defaultTranscriptionBatchSize,
			MaxRetries:     defaultTranscriptionMaxRetries,
			ClaimTimeout:   defaultTranscriptionClaimTimeout,
			MaxAgeHours:    defaultTranscriptionMaxAgeHours,
			RequestTimeout: defaultTranscriptionRequestTimeout,
		},
		Search: Search{
			Index: defaultSearchIndex,
		},
		Workflow: Workflow{
			CollectInterval:    defaultWorkflowCollectInterval,
			ProcessInterval:    defaultWorkflowProcessInterval,
			DispatchInterval:   defaultWorkflowDispatchInterval,
			ErrorRetryInterval: defaultWorkflowErrorRetryInterval,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
