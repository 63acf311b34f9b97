package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"schoolsync/internal/api"
	"schoolsync/internal/backend"
	"schoolsync/internal/cacheworker"
	"schoolsync/internal/config"
	"schoolsync/internal/connectivity"
	"schoolsync/internal/interceptor"
	"schoolsync/internal/logging"
	"schoolsync/internal/manifest"
	"schoolsync/internal/notifications"
	"schoolsync/internal/outbox"
	"schoolsync/internal/session"
	"schoolsync/internal/syncer"
)

// ErrWorkerDisabled is returned by worker operations when the gateway cache is off.
var ErrWorkerDisabled = errors.New("cache worker disabled")

// Options carries optional collaborators.
type Options struct {
	// Assets is the worker's private cache. Nil disables the cache worker.
	Assets *cacheworker.Store
	// Notifier receives user notifications; the daemon wraps it in a journal.
	Notifier notifications.Service
	// Upstream is the network transport to the backend. Nil uses http.DefaultTransport.
	Upstream http.RoundTripper
}

// Daemon coordinates the background services and enforces single-instance execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *outbox.Store
	assets *cacheworker.Store

	client    *backend.Client
	journal   *notifications.Journal
	session   *session.Tracker
	monitor   *connectivity.Monitor
	engine    *syncer.Engine
	manifest  *manifest.Service
	worker    *cacheworker.Worker
	transport http.RoundTripper

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	unsub   func()
	api     atomic.Pointer[apiServer]
	gateway atomic.Pointer[gateway]
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *outbox.Store, logger *slog.Logger, opts Options) (*Daemon, error) {
	if cfg == nil || store == nil {
		return nil, errors.New("daemon requires config and outbox store")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	upstream := opts.Upstream
	if upstream == nil {
		upstream = http.DefaultTransport
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}

	tracker, err := session.NewTracker(context.Background(), store, logger)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		assets:   opts.Assets,
		client:   backend.NewClient(cfg, upstream),
		journal:  notifications.NewJournal(notifier, 50),
		session:  tracker,
		lockPath: filepath.Join(cfg.Paths.LogDir, "schoolsyncd.lock"),
	}
	d.lock = flock.New(d.lockPath)
	d.monitor = connectivity.NewMonitor(cfg, d.client, logger)
	d.transport = interceptor.NewTransport(cfg, interceptor.Deps{
		Credentials: tracker,
		Base:        upstream,
		Logger:      logger,
		Offline: interceptor.Options{
			Store:        store,
			Connectivity: d.monitor,
			Session:      tracker,
			Notifier:     d.journal,
		},
	})
	d.engine = syncer.NewEngine(cfg, syncer.Options{
		Store:     store,
		Session:   tracker,
		Transport: upstream,
		Bulk:      d.client,
		Notifier:  d.journal,
		Logger:    logger,
	})
	d.manifest = manifest.NewService(cfg, store, d.client, tracker, d.monitor, logger)

	if cfg.Worker.Enabled && opts.Assets != nil {
		worker, err := cacheworker.New(cfg, opts.Assets, upstream, newBackendProxy(cfg, d.transport, logger), logger)
		if err != nil {
			return nil, fmt.Errorf("create cache worker: %w", err)
		}
		d.worker = worker
	}
	return d, nil
}

// Start acquires the daemon lock and launches every background service.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	if err := os.MkdirAll(filepath.Dir(d.lockPath), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another schoolsync daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	apiSrv := newAPIServer(d.cfg, d, d.logger)
	gw := newGateway(d.cfg, d.gatewayHandler(), d.logger)
	for _, start := range []func(context.Context) error{apiSrv.start, gw.start, d.monitor.Start} {
		if err := start(runCtx); err != nil {
			apiSrv.stop()
			gw.stop()
			d.monitor.Stop()
			cancel()
			_ = d.lock.Unlock()
			return err
		}
	}
	d.api.Store(apiSrv)
	d.gateway.Store(gw)

	d.engine.Start(runCtx)
	d.unsub = d.monitor.Subscribe(d.onConnectivity)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.schedule(runCtx)
	}()
	if d.worker != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.startWorker(runCtx)
		}()
	}
	if d.cfg.Sync.SyncOnStart {
		d.engine.Trigger(syncer.TriggerStartup)
	}

	d.running.Store(true)
	d.logger.Info("schoolsync daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", apiSrv.addr()),
		logging.String("gateway", gw.addr()),
	)
	return nil
}

// Stop stops background services and releases the daemon lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	if d.unsub != nil {
		d.unsub()
		d.unsub = nil
	}
	d.api.Swap(nil).stop()
	d.gateway.Swap(nil).stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.engine.Stop()
	d.monitor.Stop()
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("schoolsync daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.worker != nil {
		d.worker.Close()
	}
	var errs []error
	if d.assets != nil {
		errs = append(errs, d.assets.Close())
	}
	if d.store != nil {
		errs = append(errs, d.store.Close())
	}
	return errors.Join(errs...)
}

// Transport returns the intercepting round tripper used for page-side traffic.
func (d *Daemon) Transport() http.RoundTripper { return d.transport }

// APIAddr returns the control API listen address, or "" when not listening.
func (d *Daemon) APIAddr() string {
	return d.api.Load().addr()
}

// GatewayAddr returns the gateway listen address, or "" when not listening.
func (d *Daemon) GatewayAddr() string {
	return d.gateway.Load().addr()
}

func (d *Daemon) gatewayHandler() http.Handler {
	if d.worker != nil {
		return d.worker
	}
	return newBackendProxy(d.cfg, d.transport, d.logger)
}

func (d *Daemon) onConnectivity(event connectivity.Event) {
	if event.Online {
		d.engine.Trigger(syncer.TriggerOnline)
	}
	notifications.PublishAsync(d.journal, notifications.EventConnectivityChanged, notifications.Payload{
		"online": event.Online,
		"source": event.Source,
	}, 0, func(err error) {
		d.logger.Debug("connectivity notification failed", logging.Error(err))
	})
}

func (d *Daemon) startWorker(ctx context.Context) {
	install, activate, err := d.worker.Start(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logging.WarnWithContext(d.logger, "cache worker start failed", "worker_start_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "pages keep loading from the previous cache generation"),
			logging.String(logging.FieldErrorHint, "run schoolsync worker install once the backend is reachable"),
		)
		return
	}
	d.logger.Info("cache worker ready",
		logging.String(logging.FieldGeneration, activate.Generation),
		logging.Int("cached", len(install.Cached)),
		logging.Int("failed", len(install.Failed)),
	)
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	status := api.DaemonStatus{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		OutboxDBPath: d.store.Path(),
		LockFilePath: d.lockPath,
		Connectivity: api.FromConnectivity(d.monitor.Snapshot()),
		Session:      api.FromSession(d.session.Current(), d.session.DeviceID()),
		Sync:         api.FromSyncStatus(d.engine.Status(), d.cfg.Sync.Mode),
		Worker:       api.WorkerStatus{Enabled: d.worker != nil, Bind: d.cfg.Worker.Bind},
		Warnings:     api.FromNotices(d.journal.Blocking()),
	}
	if d.assets != nil {
		status.AssetDBPath = d.assets.Path()
	}
	if usage, err := d.store.Usage(ctx); err == nil {
		status.Outbox = api.FromUsage(usage)
	} else {
		d.logger.Warn("outbox usage unavailable", logging.Error(err))
	}
	if info, err := d.manifest.Info(ctx); err == nil {
		converted := api.FromSnapshot(info)
		status.Manifest = &converted
	}
	if d.worker != nil {
		status.Worker.Generation = d.worker.Generation()
		status.Worker.Served = d.worker.Served()
		if addr := d.GatewayAddr(); addr != "" {
			status.Worker.Bind = addr
		}
	}
	return status
}

func (d *Daemon) schedule(ctx context.Context) {
	syncEvery := time.Duration(d.cfg.Sync.Interval) * time.Second
	manifestEvery := time.Duration(d.cfg.Manifest.RefreshInterval) * time.Second

	var syncTick, manifestTick <-chan time.Time
	if syncEvery > 0 {
		ticker := time.NewTicker(syncEvery)
		defer ticker.Stop()
		syncTick = ticker.C
	}
	if manifestEvery > 0 {
		ticker := time.NewTicker(manifestEvery)
		defer ticker.Stop()
		manifestTick = ticker.C
		d.refreshManifestQuietly(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-syncTick:
			d.engine.Trigger(syncer.TriggerInterval)
		case <-manifestTick:
			d.refreshManifestQuietly(ctx)
		}
	}
}

// refreshManifestQuietly refreshes when possible and only logs failures.
func (d *Daemon) refreshManifestQuietly(ctx context.Context) {
	if !d.monitor.Online() || d.session.Token() == "" {
		return
	}
	if _, err := d.manifest.Refresh(ctx); err != nil && ctx.Err() == nil {
		d.logger.Info("scheduled manifest refresh failed; keeping stored copy", logging.Error(err))
	}
}
