package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func call[Req, Resp any](c *Client, method string, req Req) (*Resp, error) {
	var resp Resp
	if err := c.client.Call(serviceName+"."+method, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	return call[StatusRequest, StatusResponse](c, "Status", StatusRequest{})
}

// OutboxList returns pending entries.
func (c *Client) OutboxList() (*OutboxListResponse, error) {
	return call[OutboxListRequest, OutboxListResponse](c, "OutboxList", OutboxListRequest{})
}

// OutboxRemove discards the given entries.
func (c *Client) OutboxRemove(ids []int64) (*OutboxRemoveResponse, error) {
	return call[OutboxRemoveRequest, OutboxRemoveResponse](c, "OutboxRemove", OutboxRemoveRequest{IDs: ids})
}

// OutboxClear discards every pending entry.
func (c *Client) OutboxClear() (*OutboxClearResponse, error) {
	return call[OutboxClearRequest, OutboxClearResponse](c, "OutboxClear", OutboxClearRequest{})
}

// OutboxExport fetches an export document of the pending entries.
func (c *Client) OutboxExport() (*OutboxExportResponse, error) {
	return call[OutboxExportRequest, OutboxExportResponse](c, "OutboxExport", OutboxExportRequest{})
}

// OutboxImport appends entries from an export document.
func (c *Client) OutboxImport(document []byte) (*OutboxImportResponse, error) {
	return call[OutboxImportRequest, OutboxImportResponse](c, "OutboxImport", OutboxImportRequest{Document: document})
}

// SyncNow drains the outbox and returns the run report.
func (c *Client) SyncNow() (*SyncResponse, error) {
	return call[SyncRequest, SyncResponse](c, "SyncNow", SyncRequest{})
}

// SessionSet records the signed-in identity.
func (c *Client) SessionSet(req SessionSetRequest) (*SessionResponse, error) {
	return call[SessionSetRequest, SessionResponse](c, "SessionSet", req)
}

// SessionClear signs out.
func (c *Client) SessionClear() (*SessionResponse, error) {
	return call[SessionClearRequest, SessionResponse](c, "SessionClear", SessionClearRequest{})
}

// SessionShow returns the active session.
func (c *Client) SessionShow() (*SessionResponse, error) {
	return call[SessionShowRequest, SessionResponse](c, "SessionShow", SessionShowRequest{})
}

// ManifestRefresh downloads a fresh manifest.
func (c *Client) ManifestRefresh() (*ManifestInfoResponse, error) {
	return call[ManifestRefreshRequest, ManifestInfoResponse](c, "ManifestRefresh", ManifestRefreshRequest{})
}

// ManifestShow describes the stored manifest.
func (c *Client) ManifestShow() (*ManifestInfoResponse, error) {
	return call[ManifestShowRequest, ManifestInfoResponse](c, "ManifestShow", ManifestShowRequest{})
}

// ManifestSearch looks up records by name.
func (c *Client) ManifestSearch(query string, limit int) (*ManifestSearchResponse, error) {
	return call[ManifestSearchRequest, ManifestSearchResponse](c, "ManifestSearch", ManifestSearchRequest{Query: query, Limit: limit})
}

// WorkerInstall precaches the configured generation.
func (c *Client) WorkerInstall() (*WorkerInstallResponse, error) {
	return call[WorkerInstallRequest, WorkerInstallResponse](c, "WorkerInstall", WorkerInstallRequest{})
}

// WorkerActivate switches serving to the configured generation.
func (c *Client) WorkerActivate() (*WorkerActivateResponse, error) {
	return call[WorkerActivateRequest, WorkerActivateResponse](c, "WorkerActivate", WorkerActivateRequest{})
}

// WorkerGenerations lists cache generations.
func (c *Client) WorkerGenerations() (*WorkerGenerationsResponse, error) {
	return call[WorkerGenerationsRequest, WorkerGenerationsResponse](c, "WorkerGenerations", WorkerGenerationsRequest{})
}

// WarningsAck dismisses retained blocking warnings.
func (c *Client) WarningsAck() (*WarningsAckResponse, error) {
	return call[WarningsAckRequest, WarningsAckResponse](c, "WarningsAck", WarningsAckRequest{})
}

// TestNotification asks the daemon to send a test notification.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	return call[TestNotificationRequest, TestNotificationResponse](c, "TestNotification", TestNotificationRequest{})
}
