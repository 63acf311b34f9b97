package ipc

import "schoolsync/internal/api"

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse is the daemon status as served over HTTP.
type StatusResponse = api.DaemonStatus

// OutboxEntry mirrors the HTTP API outbox DTO for IPC callers.
type OutboxEntry = api.OutboxEntry

// OutboxListRequest lists pending entries.
type OutboxListRequest struct{}

// OutboxListResponse contains pending entries in replay order.
type OutboxListResponse = api.OutboxListResponse

// OutboxRemoveRequest discards specific entries.
type OutboxRemoveRequest struct {
	IDs []int64 `json:"ids"`
}

// OutboxRemoveResponse reports which entries were discarded.
type OutboxRemoveResponse struct {
	Removed []int64 `json:"removed"`
	Missing []int64 `json:"missing,omitempty"`
}

// OutboxClearRequest discards every pending entry.
type OutboxClearRequest struct{}

// OutboxClearResponse reports how many entries were discarded.
type OutboxClearResponse struct {
	Removed int64 `json:"removed"`
}

// OutboxExportRequest asks for an export document.
type OutboxExportRequest struct{}

// OutboxExportResponse carries the export document.
type OutboxExportResponse struct {
	Count    int    `json:"count"`
	Document []byte `json:"document"`
}

// OutboxImportRequest appends entries from an export document.
type OutboxImportRequest struct {
	Document []byte `json:"document"`
}

// OutboxImportResponse reports how many entries were appended.
type OutboxImportResponse struct {
	Imported int `json:"imported"`
}

// SyncRequest drains the outbox now.
type SyncRequest struct{}

// SyncResponse is the report of the run.
type SyncResponse = api.SyncReport

// SessionSetRequest records the signed-in identity.
type SessionSetRequest struct {
	Token     string `json:"token"`
	CSRFToken string `json:"csrf_token"`
	Username  string `json:"username"`
	Role      string `json:"role"`
	Verify    bool   `json:"verify"`
}

// SessionResponse describes the session after a change.
type SessionResponse = api.SessionInfo

// SessionClearRequest signs out.
type SessionClearRequest struct{}

// SessionShowRequest fetches the active session.
type SessionShowRequest struct{}

// ManifestRefreshRequest downloads a fresh manifest.
type ManifestRefreshRequest struct{}

// ManifestInfoResponse describes the stored manifest.
type ManifestInfoResponse = api.ManifestInfo

// ManifestShowRequest fetches the stored manifest description.
type ManifestShowRequest struct{}

// ManifestSearchRequest looks up records by name.
type ManifestSearchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

// ManifestSearchResponse wraps search hits.
type ManifestSearchResponse = api.ManifestSearchResponse

// WorkerInstallRequest precaches the configured generation.
type WorkerInstallRequest struct{}

// WorkerInstallResponse reports the precache result.
type WorkerInstallResponse struct {
	Generation string            `json:"generation"`
	Cached     []string          `json:"cached"`
	Failed     map[string]string `json:"failed,omitempty"`
}

// WorkerActivateRequest switches serving to the configured generation.
type WorkerActivateRequest struct{}

// WorkerActivateResponse names the served generation and what was deleted.
type WorkerActivateResponse struct {
	Generation string   `json:"generation"`
	Deleted    []string `json:"deleted,omitempty"`
}

// WorkerGenerationsRequest lists cache generations.
type WorkerGenerationsRequest struct{}

// WorkerGenerationsResponse lists cache generations, oldest first.
type WorkerGenerationsResponse struct {
	Generations []api.Generation `json:"generations"`
}

// WarningsAckRequest dismisses retained blocking warnings.
type WarningsAckRequest struct{}

// WarningsAckResponse reports how many warnings were dismissed.
type WarningsAckResponse struct {
	Acknowledged int `json:"acknowledged"`
}

// TestNotificationRequest triggers a test notification.
type TestNotificationRequest struct{}

// TestNotificationResponse reports the notification result.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
