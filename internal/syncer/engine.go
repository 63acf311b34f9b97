package syncer

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"schoolsync/internal/backend"
	"schoolsync/internal/config"
	"schoolsync/internal/logging"
	"schoolsync/internal/notifications"
	"schoolsync/internal/outbox"
)

// Triggers recorded on reports.
const (
	TriggerStartup  = "startup"
	TriggerOnline   = "online"
	TriggerInterval = "interval"
	TriggerManual   = "manual"
	TriggerSession  = "session"
)

// Store is the part of the outbox the engine drains.
type Store interface {
	ListPending(ctx context.Context) ([]outbox.Request, error)
	Remove(ctx context.Context, id int64) error
	Count(ctx context.Context) (int, error)
}

// Session supplies the active identity.
type Session interface {
	Token() string
	Credentials() backend.Credentials
}

// BulkPoster submits a batch of records to the backend sync route.
type BulkPoster interface {
	PostSync(ctx context.Context, payload []byte, creds backend.Credentials) (*http.Response, error)
}

// Engine drains the outbox in id order. Runs never overlap.
type Engine struct {
	cfg        *config.Config
	store      Store
	session    Session
	transport  http.RoundTripper
	bulk       BulkPoster
	classifier Classifier
	notifier   notifications.Service
	logger     *slog.Logger
	timeout    time.Duration

	group singleflight.Group

	mu        sync.RWMutex
	status    Status
	subs      map[int]func(Status)
	nextSubID int
	rerun     bool

	running bool
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Options wires the engine's collaborators. Transport must be the plain
// transport, never the intercepting one, or failed replays would re-queue.
type Options struct {
	Store     Store
	Session   Session
	Transport http.RoundTripper
	Bulk      BulkPoster
	Notifier  notifications.Service
	Logger    *slog.Logger
}

// NewEngine constructs a sync engine.
func NewEngine(cfg *config.Config, opts Options) *Engine {
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	return &Engine{
		cfg:        cfg,
		store:      opts.Store,
		session:    opts.Session,
		transport:  transport,
		bulk:       opts.Bulk,
		classifier: NewClassifier(cfg.Sync.RetryableClientStatuses),
		notifier:   notifier,
		logger:     logging.NewComponentLogger(opts.Logger, "syncer"),
		timeout:    cfg.RequestTimeout(),
		subs:       make(map[int]func(Status)),
	}
}

// Start enables asynchronous triggers. Runs started by Trigger are cancelled by Stop.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	e.baseCtx, e.cancel = context.WithCancel(ctx)
	e.running = true
}

// Stop cancels in-flight triggered runs and waits for them.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	cancel := e.cancel
	e.running = false
	e.cancel = nil
	e.mu.Unlock()

	cancel()
	e.wg.Wait()
}

// Trigger starts a run in the background and returns immediately. A trigger
// that arrives during a run schedules exactly one follow-up run so entries
// queued meanwhile are not left waiting for the next event.
func (e *Engine) Trigger(reason string) {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		e.logger.Debug("sync trigger ignored; engine not started", logging.String(logging.FieldTrigger, reason))
		return
	}
	if e.status.Running {
		e.rerun = true
		e.mu.Unlock()
		return
	}
	ctx := e.baseCtx
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		e.Run(ctx, reason)
		for e.takeRerun() && ctx.Err() == nil {
			e.Run(ctx, reason+"+rerun")
		}
	}()
}

func (e *Engine) takeRerun() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	rerun := e.rerun
	e.rerun = false
	return rerun
}

// Run drains the outbox once and returns the report. Callers arriving while a
// run is in progress wait for it and share its report.
func (e *Engine) Run(ctx context.Context, trigger string) Report {
	v, _, _ := e.group.Do("sync", func() (any, error) {
		return e.run(ctx, trigger), nil
	})
	return v.(Report)
}
