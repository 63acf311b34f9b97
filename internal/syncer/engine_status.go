package syncer

import "time"

// Status is the observable state of the engine.
type Status struct {
	Running     bool      `json:"running"`
	LastTrigger string    `json:"last_trigger,omitempty"`
	LastRunAt   time.Time `json:"last_run_at,omitempty"`
	LastReport  *Report   `json:"last_report,omitempty"`
	Pending     int       `json:"pending"`
}

// Status returns a snapshot of the engine state.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	status := e.status
	if status.LastReport != nil {
		copy := *status.LastReport
		status.LastReport = &copy
	}
	return status
}

// Subscribe registers fn for status changes. The returned func unregisters it.
func (e *Engine) Subscribe(fn func(Status)) func() {
	if fn == nil {
		return func() {}
	}
	e.mu.Lock()
	id := e.nextSubID
	e.nextSubID++
	e.subs[id] = fn
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

func (e *Engine) markRunning(trigger string) {
	e.mu.Lock()
	e.status.Running = true
	e.status.LastTrigger = trigger
	snapshot, subs := e.snapshotLocked()
	e.mu.Unlock()
	notify(subs, snapshot)
}

func (e *Engine) markFinished(report Report) {
	e.mu.Lock()
	e.status.Running = false
	e.status.LastRunAt = report.FinishedAt
	e.status.LastReport = &report
	e.status.Pending = report.Remaining
	snapshot, subs := e.snapshotLocked()
	e.mu.Unlock()
	notify(subs, snapshot)
}

func (e *Engine) snapshotLocked() (Status, []func(Status)) {
	status := e.status
	if status.LastReport != nil {
		copy := *status.LastReport
		status.LastReport = &copy
	}
	subs := make([]func(Status), 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	return status, subs
}

func notify(subs []func(Status), status Status) {
	for _, fn := range subs {
		fn(status)
	}
}
