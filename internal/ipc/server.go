package ipc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"

	"schoolsync/internal/api"
	"schoolsync/internal/daemon"
	"schoolsync/internal/logging"
	"schoolsync/internal/session"
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logger, ctx: ctx}
	if err := rpcServer.RegisterName(serviceName, srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "CLI commands may fail to reach the daemon"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "remove the socket file manually"))
	}
}

const serviceName = "SchoolSync"

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) log() *slog.Logger {
	if s.logger == nil {
		return logging.NewNop()
	}
	return s.logger.With(logging.String(logging.FieldComponent, "ipc"))
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	*resp = s.daemon.Status(s.ctx)
	return nil
}

func (s *service) OutboxList(_ OutboxListRequest, resp *OutboxListResponse) error {
	entries, err := s.daemon.ListOutbox(s.ctx)
	if err != nil {
		return err
	}
	resp.Entries = api.FromRequests(entries)
	return nil
}

func (s *service) OutboxRemove(req OutboxRemoveRequest, resp *OutboxRemoveResponse) error {
	if len(req.IDs) == 0 {
		return errors.New("no outbox entry ids provided")
	}
	resp.Removed = make([]int64, 0, len(req.IDs))
	for _, id := range req.IDs {
		if id <= 0 {
			return fmt.Errorf("invalid outbox entry id %d", id)
		}
		err := s.daemon.RemoveOutbox(s.ctx, id)
		switch {
		case err == nil:
			resp.Removed = append(resp.Removed, id)
		case errors.Is(err, daemon.ErrEntryNotFound):
			resp.Missing = append(resp.Missing, id)
		default:
			return err
		}
	}
	return nil
}

func (s *service) OutboxClear(_ OutboxClearRequest, resp *OutboxClearResponse) error {
	s.log().Debug("outbox clear requested")
	removed, err := s.daemon.ClearOutbox(s.ctx)
	if err != nil {
		return err
	}
	resp.Removed = removed
	return nil
}

func (s *service) OutboxExport(_ OutboxExportRequest, resp *OutboxExportResponse) error {
	var buf bytes.Buffer
	n, err := s.daemon.ExportOutbox(s.ctx, &buf)
	if err != nil {
		return err
	}
	resp.Count = n
	resp.Document = buf.Bytes()
	return nil
}

func (s *service) OutboxImport(req OutboxImportRequest, resp *OutboxImportResponse) error {
	if len(req.Document) == 0 {
		return errors.New("empty outbox export document")
	}
	n, err := s.daemon.ImportOutbox(s.ctx, bytes.NewReader(req.Document))
	resp.Imported = n
	return err
}

func (s *service) SyncNow(_ SyncRequest, resp *SyncResponse) error {
	s.log().Debug("sync requested")
	*resp = api.FromReport(s.daemon.SyncNow(s.ctx))
	return nil
}

func (s *service) SessionSet(req SessionSetRequest, resp *SessionResponse) error {
	err := s.daemon.SetSession(s.ctx, session.Session{
		Token:     req.Token,
		CSRFToken: req.CSRFToken,
		Username:  req.Username,
		Role:      req.Role,
	}, req.Verify)
	if err != nil {
		return err
	}
	*resp = api.FromSession(s.daemon.CurrentSession())
	return nil
}

func (s *service) SessionClear(_ SessionClearRequest, resp *SessionResponse) error {
	if err := s.daemon.ClearSession(s.ctx); err != nil {
		return err
	}
	*resp = api.FromSession(s.daemon.CurrentSession())
	return nil
}

func (s *service) SessionShow(_ SessionShowRequest, resp *SessionResponse) error {
	*resp = api.FromSession(s.daemon.CurrentSession())
	return nil
}

func (s *service) ManifestRefresh(_ ManifestRefreshRequest, resp *ManifestInfoResponse) error {
	snap, err := s.daemon.RefreshManifest(s.ctx)
	if err != nil {
		return err
	}
	*resp = api.FromSnapshot(snap)
	return nil
}

func (s *service) ManifestShow(_ ManifestShowRequest, resp *ManifestInfoResponse) error {
	snap, err := s.daemon.ManifestInfo(s.ctx)
	if err != nil {
		return err
	}
	*resp = api.FromSnapshot(snap)
	return nil
}

func (s *service) ManifestSearch(req ManifestSearchRequest, resp *ManifestSearchResponse) error {
	matches, err := s.daemon.SearchManifest(s.ctx, req.Query, req.Limit)
	if err != nil {
		return err
	}
	resp.Query = req.Query
	resp.Matches = api.FromMatches(matches)
	return nil
}

func (s *service) WorkerInstall(_ WorkerInstallRequest, resp *WorkerInstallResponse) error {
	report, err := s.daemon.InstallWorker(s.ctx)
	if err != nil {
		return err
	}
	resp.Generation = report.Generation
	resp.Cached = report.Cached
	resp.Failed = report.Failed
	return nil
}

func (s *service) WorkerActivate(_ WorkerActivateRequest, resp *WorkerActivateResponse) error {
	report, err := s.daemon.ActivateWorker(s.ctx)
	if err != nil {
		return err
	}
	resp.Generation = report.Generation
	resp.Deleted = report.Deleted
	return nil
}

func (s *service) WorkerGenerations(_ WorkerGenerationsRequest, resp *WorkerGenerationsResponse) error {
	gens, err := s.daemon.WorkerGenerations(s.ctx)
	if err != nil {
		return err
	}
	resp.Generations = api.FromGenerations(gens)
	return nil
}

func (s *service) WarningsAck(_ WarningsAckRequest, resp *WarningsAckResponse) error {
	resp.Acknowledged = s.daemon.AcknowledgeWarnings()
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, message, err := s.daemon.TestNotification(s.ctx)
	resp.Sent = sent
	resp.Message = message
	if err != nil {
		s.log().Warn("test notification failed", logging.Error(err))
		resp.Message = fmt.Sprintf("%s: %v", message, err)
	}
	return nil
}
