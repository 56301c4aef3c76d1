// Package poller runs the per-session polling timers: a fast cycle for
// resource-proxy metrics feeding fixed-capacity histories, and a slow cycle
// for database stats, query logs and reconnection.
package poller

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gookit/slog"

	"pgdash/model"
	"pgdash/util"
)

// Metric history keys.
const (
	MetricCPU    = "cpu"
	MetricMemory = "memory"
	MetricIO     = "io"
	MetricDisk   = "disk"
)

const historyCapacity = 30

var metricNames = []string{MetricCPU, MetricMemory, MetricIO, MetricDisk}

type pollState struct {
	cancel   context.CancelFunc
	fastBusy atomic.Bool
	slowBusy atomic.Bool

	mu        sync.Mutex
	connected bool
	rings     map[string]*Ring
	stats     *model.DBStats
	resource  *model.ResourceStats
	logs      []model.QueryLogEntry
	statsAt   time.Time
	logsAt    time.Time
}

type Engine struct {
	collector Collector
	fast      time.Duration
	slow      time.Duration

	mu     sync.Mutex
	states map[string]*pollState
}

func New(collector Collector, fast, slow time.Duration) *Engine {
	return &Engine{
		collector: collector,
		fast:      fast,
		slow:      slow,
		states:    make(map[string]*pollState),
	}
}

// Start begins polling for a session. Idempotent: a running engine for the
// same session is cancelled and replaced, timers never stack.
func (e *Engine) Start(sessionID string) {
	e.start(sessionID, true)
}

// EnsureStarted begins polling only when the session has no timers yet; a
// running session keeps its history.
func (e *Engine) EnsureStarted(sessionID string) {
	e.start(sessionID, false)
}

func (e *Engine) start(sessionID string, replace bool) {
	e.mu.Lock()
	if prev, ok := e.states[sessionID]; ok {
		if !replace {
			e.mu.Unlock()
			return
		}
		prev.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	st := &pollState{
		cancel:    cancel,
		connected: true,
		rings:     make(map[string]*Ring, len(metricNames)),
	}
	for _, name := range metricNames {
		st.rings[name] = NewRing(historyCapacity)
	}
	e.states[sessionID] = st
	e.mu.Unlock()

	go e.fastLoop(ctx, sessionID, st)
	go e.slowLoop(ctx, sessionID, st)
	slog.Infof("polling started for session %s", sessionID)
}

// Stop cancels the session's timers. Idempotent.
func (e *Engine) Stop(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.states[sessionID]; ok {
		st.cancel()
		delete(e.states, sessionID)
		slog.Infof("polling stopped for session %s", sessionID)
	}
}

// StopAll cancels every session's timers; used at shutdown.
func (e *Engine) StopAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, st := range e.states {
		st.cancel()
		delete(e.states, id)
	}
}

func (e *Engine) state(sessionID string) *pollState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.states[sessionID]
}

func (e *Engine) fastLoop(ctx context.Context, sessionID string, st *pollState) {
	ticker := time.NewTicker(e.fast)
	defer ticker.Stop()

	e.fastTick(ctx, sessionID, st)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.fastTick(ctx, sessionID, st)
		}
	}
}

func (e *Engine) slowLoop(ctx context.Context, sessionID string, st *pollState) {
	ticker := time.NewTicker(e.slow)
	defer ticker.Stop()

	e.slowTick(ctx, sessionID, st)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.slowTick(ctx, sessionID, st)
		}
	}
}

// fastTick refreshes the resource proxies and appends one sample per metric.
// At most one run in flight; an overlapping tick is skipped, not queued.
func (e *Engine) fastTick(ctx context.Context, sessionID string, st *pollState) {
	if !st.fastBusy.CompareAndSwap(false, true) {
		return
	}
	defer st.fastBusy.Store(false)

	st.mu.Lock()
	connected := st.connected
	st.mu.Unlock()
	if !connected {
		return
	}

	res, err := e.collector.Resource(ctx, sessionID)
	if err != nil {
		slog.Warnf("session %s: resource poll failed: %v", sessionID, err)
		e.markDisconnected(sessionID, st)
		return
	}

	now := time.Now()
	st.mu.Lock()
	st.resource = res
	st.rings[MetricCPU].Append(model.MetricSample{Timestamp: now, Value: float64(res.CPU.ActiveQueries)})
	st.rings[MetricMemory].Append(model.MetricSample{Timestamp: now, Value: res.Memory.SharedBuffersMB})
	st.rings[MetricIO].Append(model.MetricSample{Timestamp: now, Value: res.IO.HitRatio})
	st.mu.Unlock()
}

// slowTick refreshes db stats and query logs, and is the reconnect point
// after a connection loss.
func (e *Engine) slowTick(ctx context.Context, sessionID string, st *pollState) {
	if !st.slowBusy.CompareAndSwap(false, true) {
		return
	}
	defer st.slowBusy.Store(false)

	cost := util.TimeCost()
	defer cost(fmt.Sprintf("session %s: slow poll cycle", sessionID))

	stats, err := e.collector.Stats(ctx, sessionID)
	if err != nil {
		slog.Warnf("session %s: stats poll failed: %v", sessionID, err)
		e.markDisconnected(sessionID, st)
		return
	}

	now := time.Now()
	st.mu.Lock()
	if !st.connected {
		slog.Infof("session %s: reconnected", sessionID)
	}
	st.connected = true
	st.stats = stats
	st.statsAt = now
	st.rings[MetricDisk].Append(model.MetricSample{Timestamp: now, Value: util.ParseSizeMB(stats.Size)})
	st.mu.Unlock()

	// isolated from the stats refresh; a log failure keeps the last batch
	logs, err := e.collector.Logs(ctx, sessionID)
	if err != nil {
		slog.Warnf("session %s: query log poll failed: %v", sessionID, err)
		return
	}
	st.mu.Lock()
	st.logs = logs
	st.logsAt = now
	st.mu.Unlock()
}

func (e *Engine) markDisconnected(sessionID string, st *pollState) {
	st.mu.Lock()
	wasConnected := st.connected
	st.connected = false
	st.mu.Unlock()
	if wasConnected {
		e.collector.Invalidate(sessionID)
		slog.Warnf("session %s: marked disconnected, will retry on next slow tick", sessionID)
	}
}

// History returns the session's metric history, oldest first. Unknown
// sessions or metrics yield an empty slice.
func (e *Engine) History(sessionID, metric string) []model.MetricSample {
	st := e.state(sessionID)
	if st == nil {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	ring, ok := st.rings[metric]
	if !ok {
		return nil
	}
	return ring.Samples()
}

// LatestStats returns the last slow-cycle stats when fresh enough for the
// facade to serve without a live query. The result is a copy; callers may
// annotate it without touching the engine's cached state.
func (e *Engine) LatestStats(sessionID string, maxAge time.Duration) (*model.DBStats, bool) {
	st := e.state(sessionID)
	if st == nil {
		return nil, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.stats == nil || time.Since(st.statsAt) > maxAge {
		return nil, false
	}
	stats := *st.stats
	return &stats, true
}

// LatestResource returns a copy of the last fast-cycle resource snapshot
// when fresh.
func (e *Engine) LatestResource(sessionID string, maxAge time.Duration) (*model.ResourceStats, bool) {
	st := e.state(sessionID)
	if st == nil {
		return nil, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.resource == nil || time.Since(st.resource.Timestamp) > maxAge {
		return nil, false
	}
	res := *st.resource
	return &res, true
}

// LatestLogs returns the last query-log batch when fresh enough.
func (e *Engine) LatestLogs(sessionID string, maxAge time.Duration) ([]model.QueryLogEntry, bool) {
	st := e.state(sessionID)
	if st == nil {
		return nil, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.logs == nil || time.Since(st.logsAt) > maxAge {
		return nil, false
	}
	return st.logs, true
}

// Connected reports whether the session's engine is running and its last
// poll succeeded.
func (e *Engine) Connected(sessionID string) bool {
	st := e.state(sessionID)
	if st == nil {
		return false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.connected
}
