// Package connectivity tracks whether the backend is reachable.
//
// State is fed from two directions: the interceptor reports the outcome of
// every live attempt, and an optional probe loop checks the backend on a fixed
// interval. Subscribers are told about transitions only, never repeats.
package connectivity

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"schoolsync/internal/config"
	"schoolsync/internal/logging"
)

// Sources recorded on transitions.
const (
	SourceProbe       = "probe"
	SourceInterceptor = "interceptor"
	SourceManual      = "manual"
	SourceStartup     = "startup"
)

// Prober checks backend reachability. A nil error means online.
type Prober interface {
	Probe(ctx context.Context) error
}

// Event describes one online/offline transition.
type Event struct {
	Online bool      `json:"online"`
	Source string    `json:"source"`
	At     time.Time `json:"at"`
}

// State is a snapshot of the monitor.
type State struct {
	Online    bool      `json:"online"`
	Source    string    `json:"source"`
	Since     time.Time `json:"since"`
	LastProbe time.Time `json:"last_probe,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// Monitor owns the online flag.
type Monitor struct {
	prober   Prober
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration

	mu        sync.Mutex
	state     State
	subs      map[int]func(Event)
	nextSubID int

	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewMonitor builds a monitor that starts out online. prober may be nil, in
// which case only Report changes state.
func NewMonitor(cfg *config.Config, prober Prober, logger *slog.Logger) *Monitor {
	interval := 15 * time.Second
	timeout := 5 * time.Second
	if cfg != nil {
		if cfg.Connectivity.ProbeInterval > 0 {
			interval = time.Duration(cfg.Connectivity.ProbeInterval) * time.Second
		}
		if cfg.Connectivity.ProbeTimeout > 0 {
			timeout = time.Duration(cfg.Connectivity.ProbeTimeout) * time.Second
		}
	}
	return &Monitor{
		prober:   prober,
		logger:   logging.NewComponentLogger(logger, "connectivity"),
		interval: interval,
		timeout:  timeout,
		state:    State{Online: true, Source: SourceStartup, Since: time.Now().UTC()},
		subs:     make(map[int]func(Event)),
	}
}

// Online reports the current belief about backend reachability.
func (m *Monitor) Online() bool {
	if m == nil {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Online
}

// Snapshot returns the current state.
func (m *Monitor) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers fn for transitions. The returned func unregisters it.
// Callbacks run on the reporting goroutine and must not block.
func (m *Monitor) Subscribe(fn func(Event)) func() {
	if fn == nil {
		return func() {}
	}
	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subs[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Report records an observation. Subscribers fire only when the state flips.
func (m *Monitor) Report(online bool, source string) {
	if m == nil {
		return
	}
	now := time.Now().UTC()
	m.mu.Lock()
	if m.state.Online == online {
		m.mu.Unlock()
		return
	}
	m.state.Online = online
	m.state.Source = source
	m.state.Since = now
	subs := make([]func(Event), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	if online {
		m.logger.Info("backend reachable", logging.String("source", source))
	} else {
		logging.WarnWithContext(m.logger, "backend unreachable", "connectivity_lost",
			logging.String("source", source),
			logging.String(logging.FieldImpact, "mutations will be queued until the connection returns"),
		)
	}

	event := Event{Online: online, Source: source, At: now}
	for _, fn := range subs {
		fn(event)
	}
}

// ProbeNow runs one probe and reports its result.
func (m *Monitor) ProbeNow(ctx context.Context) error {
	if m.prober == nil {
		return errors.New("connectivity prober unavailable")
	}
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	err := m.prober.Probe(probeCtx)
	if ctx.Err() != nil {
		// shutting down; the result says nothing about the backend
		return ctx.Err()
	}

	m.mu.Lock()
	m.state.LastProbe = time.Now().UTC()
	if err != nil {
		m.state.LastError = err.Error()
	} else {
		m.state.LastError = ""
	}
	m.mu.Unlock()

	if err != nil {
		m.logger.Debug("probe failed", logging.Error(err))
	}
	m.Report(err == nil, SourceProbe)
	return err
}

// Run probes until ctx is cancelled. The first probe happens immediately.
func (m *Monitor) Run(ctx context.Context) {
	if m.prober == nil {
		<-ctx.Done()
		return
	}
	_ = m.ProbeNow(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = m.ProbeNow(ctx)
		}
	}
}

// Start launches Run in the background.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("connectivity monitor already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.Run(runCtx)
	}()
	return nil
}

// Stop cancels the probe loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}
