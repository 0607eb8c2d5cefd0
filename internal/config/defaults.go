package config

const (
	defaultConfigPath             = "~/.config/assetopt/config.toml"
	defaultStateDir               = "~/.local/share/assetopt"
	defaultLogDir                 = "~/.local/share/assetopt/logs"
	defaultDatoBaseURL            = "https://site-api.datocms.com"
	defaultDatoAPIVersion         = "3"
	defaultLocale                 = "en"
	defaultPageSize               = 100
	maxPageSize                   = 500
	defaultRequestsPerSecond      = 15
	defaultRequestTimeout         = 120
	defaultJobPollIntervalMS      = 2000
	defaultJobMaxAttempts         = 60
	defaultNotifyRequestTimeout   = 10
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	defaultHistoryRetentionDays   = 90
	defaultLargeAssetThresholdMB  = 5
	defaultVeryLargeThresholdMB   = 10
	defaultQualityLarge           = 80
	defaultQualityVeryLarge       = 70
	defaultLargeImageMaxWidth     = 2560
	defaultVeryLargeImageMaxWidth = 1920
	defaultTargetFormat           = "avif"
	defaultMinimumReduction       = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		DatoCMS: DatoCMS{
			BaseURL:           defaultDatoBaseURL,
			APIVersion:        defaultDatoAPIVersion,
			Locale:            defaultLocale,
			PageSize:          defaultPageSize,
			RequestsPerSecond: defaultRequestsPerSecond,
			RequestTimeout:    defaultRequestTimeout,
		},
		Jobs: Jobs{
			PollIntervalMS: defaultJobPollIntervalMS,
			MaxAttempts:    defaultJobMaxAttempts,
		},
		Optimization: DefaultOptimization(),
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			RunStarted:     false,
			RunCompleted:   true,
			Errors:         true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		History: History{
			RetentionDays: defaultHistoryRetentionDays,
		},
	}
}

// DefaultOptimization returns the documented optimization defaults.
func DefaultOptimization() Optimization {
	return Optimization{
		LargeAssetThreshold:     defaultLargeAssetThresholdMB,
		VeryLargeAssetThreshold: defaultVeryLargeThresholdMB,
		QualityLarge:            defaultQualityLarge,
		QualityVeryLarge:        defaultQualityVeryLarge,
		ResizeLargeImages:       true,
		LargeImageMaxWidth:      defaultLargeImageMaxWidth,
		VeryLargeImageMaxWidth:  defaultVeryLargeImageMaxWidth,
		TargetFormat:            defaultTargetFormat,
		MinimumReduction:        defaultMinimumReduction,
	}
}
