package config

const (
	defaultConfigPath            = "~/.config/schoolsync/config.toml"
	defaultDataDir               = "~/.local/share/schoolsync"
	defaultLogDir                = "~/.local/share/schoolsync/logs"
	defaultAPIBind               = "127.0.0.1:7590"
	defaultBackendBaseURL        = "http://127.0.0.1:8000"
	defaultSyncPath              = "/api/sync/"
	defaultManifestPath          = "/api/students/manifest/"
	defaultVerifyPath            = "/canteen/auth/verify/"
	defaultRequestTimeout        = 30
	defaultAuthScheme            = "Token"
	defaultCSRFHeader            = "X-CSRFToken"
	defaultDeviceHeader          = "X-Device-ID"
	defaultOutboxMaxEntries      = 5000
	defaultOutboxMaxBytes        = 50 << 20
	defaultOutboxMaxRequestBytes = 10 << 20
	defaultSyncMode              = SyncModeReplay
	defaultSyncBatchSize         = 50
	defaultSyncInterval          = 300
	defaultProbePath             = "/"
	defaultProbeInterval         = 15
	defaultProbeTimeout          = 5
	defaultWorkerBind            = "127.0.0.1:8088"
	defaultCacheName             = "school-sys"
	defaultCacheVersion          = 1
	defaultLandingPage           = "/canteen/"
	defaultInstallConcurrency    = 4
	defaultManifestRefresh       = 3600
	defaultManifestRecordsKey    = "students"
	defaultNotifyRequestTimeout  = 10
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
)

// Sync modes.
const (
	SyncModeReplay = "replay"
	SyncModeBulk   = "bulk"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Backend: Backend{
			BaseURL:        defaultBackendBaseURL,
			SyncPath:       defaultSyncPath,
			ManifestPath:   defaultManifestPath,
			VerifyPath:     defaultVerifyPath,
			RequestTimeout: defaultRequestTimeout,
			AuthScheme:     defaultAuthScheme,
			CSRFHeader:     defaultCSRFHeader,
			DeviceHeader:   defaultDeviceHeader,
		},
		Outbox: Outbox{
			MaxEntries:      defaultOutboxMaxEntries,
			MaxBytes:        defaultOutboxMaxBytes,
			MaxRequestBytes: defaultOutboxMaxRequestBytes,
		},
		Sync: Sync{
			Mode:                    defaultSyncMode,
			BatchSize:               defaultSyncBatchSize,
			Interval:                defaultSyncInterval,
			SyncOnStart:             true,
			RetryableClientStatuses: []int{401, 403, 408, 425, 429},
		},
		Connectivity: Connectivity{
			ProbePath:     defaultProbePath,
			ProbeInterval: defaultProbeInterval,
			ProbeTimeout:  defaultProbeTimeout,
		},
		Worker: Worker{
			Enabled:      true,
			Bind:         defaultWorkerBind,
			CacheName:    defaultCacheName,
			CacheVersion: defaultCacheVersion,
			Precache: []string{
				"/",
				"/canteen/",
				"/canteen/ui/",
				"/canteen/list/",
				"/canteen/management/",
				"/static/js/auth_manager.js",
				"/static/js/offline_manager.js",
				"/static/images/logo.png",
				"/static/manifest.json",
			},
			BypassPrefixes:     []string{"/api/", "/auth/", "/canteen/auth/"},
			LandingPage:        defaultLandingPage,
			InstallConcurrency: defaultInstallConcurrency,
		},
		Manifest: Manifest{
			RefreshInterval: defaultManifestRefresh,
			RecordsKey:      defaultManifestRecordsKey,
			NameFields:      []string{"first_name", "last_name", "full_name"},
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			SavedOffline:   true,
			Synced:         true,
			Connectivity:   false,
			Errors:         true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
