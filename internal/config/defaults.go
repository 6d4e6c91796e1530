package config

const (
	defaultStateDir                  = "~/.local/share/optibatch"
	defaultLogDir                    = "~/.local/share/optibatch/logs"
	defaultAPIBind                   = "127.0.0.1:7489"
	defaultRemoteTimeoutSeconds      = 30
	defaultRemoteUserAgent           = "optibatch/0.1.0"
	defaultPendingFilter             = "all"
	defaultQuality                   = 82
	defaultMaxWidth                  = 2048
	defaultMinSizeKB                 = 10
	defaultFormat                    = "jpeg"
	defaultYieldIntervalMS           = 50
	defaultBackgroundYieldIntervalMS = 1000
	defaultSyncBatchSize             = 5
	defaultEventBuffer               = 64
	defaultNotifyRequestTimeout      = 10
	defaultLogFormat                 = "console"
	defaultLogLevel                  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
			APIBind:  defaultAPIBind,
		},
		Remote: Remote{
			TimeoutSeconds: defaultRemoteTimeoutSeconds,
			UserAgent:      defaultRemoteUserAgent,
			PendingFilter:  defaultPendingFilter,
		},
		Optimize: Optimize{
			Quality:         defaultQuality,
			Resize:          true,
			MaxWidth:        defaultMaxWidth,
			SkipSmall:       true,
			MinSizeKB:       defaultMinSizeKB,
			AutoReplaceURLs: true,
			Format:          defaultFormat,
		},
		Workflow: Workflow{
			YieldIntervalMS:           defaultYieldIntervalMS,
			BackgroundYieldIntervalMS: defaultBackgroundYieldIntervalMS,
			SyncBatchSize:             defaultSyncBatchSize,
			EventBuffer:               defaultEventBuffer,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			RunCompleted:   true,
			QuotaBlocked:   true,
			BulkCompleted:  true,
			Errors:         true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
