package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid"`
	OutboxDBPath string             `json:"outboxDbPath"`
	AssetDBPath  string             `json:"assetDbPath,omitempty"`
	LockFilePath string             `json:"lockFilePath"`
	Connectivity ConnectivityStatus `json:"connectivity"`
	Session      SessionInfo        `json:"session"`
	Outbox       OutboxUsage        `json:"outbox"`
	Sync         SyncStatus         `json:"sync"`
	Manifest     *ManifestInfo      `json:"manifest,omitempty"`
	Worker       WorkerStatus       `json:"worker"`
	Warnings     []Notice           `json:"warnings,omitempty"`
}

// ConnectivityStatus mirrors the connectivity monitor.
type ConnectivityStatus struct {
	Online    bool   `json:"online"`
	Source    string `json:"source"`
	Since     string `json:"since,omitempty"`
	LastProbe string `json:"lastProbe,omitempty"`
	LastError string `json:"lastError,omitempty"`
}

// SessionInfo describes the active session without exposing its token.
type SessionInfo struct {
	Active    bool   `json:"active"`
	Username  string `json:"username,omitempty"`
	Role      string `json:"role,omitempty"`
	StartedAt string `json:"startedAt,omitempty"`
	DeviceID  string `json:"deviceId"`
	Token     string `json:"token,omitempty"`
}

// OutboxUsage reports occupancy against the configured quota.
type OutboxUsage struct {
	Entries    int   `json:"entries"`
	Bytes      int64 `json:"bytes"`
	MaxEntries int   `json:"maxEntries"`
	MaxBytes   int64 `json:"maxBytes"`
}

// OutboxEntry is one queued write.
type OutboxEntry struct {
	ID             int64  `json:"id"`
	URL            string `json:"url"`
	Method         string `json:"method"`
	BodyType       string `json:"bodyType"`
	ContentType    string `json:"contentType,omitempty"`
	Size           int    `json:"size"`
	CreatedAt      string `json:"createdAt,omitempty"`
	Session        string `json:"session"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// OutboxListResponse wraps queued entries.
type OutboxListResponse struct {
	Entries []OutboxEntry `json:"entries"`
}

// SyncStatus summarizes the sync engine.
type SyncStatus struct {
	Running     bool        `json:"running"`
	Mode        string      `json:"mode"`
	LastTrigger string      `json:"lastTrigger,omitempty"`
	LastRunAt   string      `json:"lastRunAt,omitempty"`
	LastReport  *SyncReport `json:"lastReport,omitempty"`
}

// SyncReport describes one sync run.
type SyncReport struct {
	Trigger       string `json:"trigger"`
	RequestID     string `json:"requestId"`
	Mode          string `json:"mode"`
	StartedAt     string `json:"startedAt,omitempty"`
	FinishedAt    string `json:"finishedAt,omitempty"`
	Synced        int    `json:"synced"`
	Dropped       int    `json:"dropped"`
	Orphaned      int    `json:"orphaned"`
	Remaining     int    `json:"remaining"`
	Drained       bool   `json:"drained"`
	Skipped       bool   `json:"skipped,omitempty"`
	StopReason    string `json:"stopReason,omitempty"`
	StoppedAt     int64  `json:"stoppedAt,omitempty"`
	CleanupFailed bool   `json:"cleanupFailed,omitempty"`
	Summary       string `json:"summary"`
}

// ManifestInfo describes the stored manifest.
type ManifestInfo struct {
	SHA256    string `json:"sha256"`
	FetchedAt string `json:"fetchedAt,omitempty"`
	Records   int    `json:"records"`
	Bytes     int    `json:"bytes"`
}

// ManifestMatch is one search hit.
type ManifestMatch struct {
	Name   string         `json:"name"`
	Score  int            `json:"score"`
	Record map[string]any `json:"record"`
}

// ManifestSearchResponse wraps search hits.
type ManifestSearchResponse struct {
	Query   string          `json:"query"`
	Matches []ManifestMatch `json:"matches"`
}

// WorkerStatus describes the cache-serving gateway.
type WorkerStatus struct {
	Enabled    bool   `json:"enabled"`
	Bind       string `json:"bind,omitempty"`
	Generation string `json:"generation,omitempty"`
	Served     string `json:"served,omitempty"`
}

// Generation describes one cache generation.
type Generation struct {
	Name        string `json:"name"`
	State       string `json:"state"`
	Entries     int    `json:"entries"`
	Bytes       int64  `json:"bytes"`
	CreatedAt   string `json:"createdAt,omitempty"`
	ActivatedAt string `json:"activatedAt,omitempty"`
}

// Notice is a user-facing notification retained by the daemon.
type Notice struct {
	Event    string `json:"event"`
	Title    string `json:"title"`
	Message  string `json:"message"`
	Blocking bool   `json:"blocking"`
	At       string `json:"at,omitempty"`
}
