package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pgdash/model"
)

// fakeCollector returns canned results and can be flipped into a failing
// state to drive the disconnect path.
type fakeCollector struct {
	mu             sync.Mutex
	down           bool
	logsDown       bool
	invalidated    int
	countResources bool
	resourceCalls  int
	resource       model.ResourceStats
	stats          model.DBStats
	logs           []model.QueryLogEntry
}

func (c *fakeCollector) setDown(down bool) {
	c.mu.Lock()
	c.down = down
	c.mu.Unlock()
}

func (c *fakeCollector) Resource(context.Context, string) (*model.ResourceStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return nil, errors.New("connection refused")
	}
	res := c.resource
	res.Timestamp = time.Now()
	if c.countResources {
		c.resourceCalls++
		res.CPU.ActiveQueries = c.resourceCalls
	}
	return &res, nil
}

func (c *fakeCollector) Stats(context.Context, string) (*model.DBStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return nil, errors.New("connection refused")
	}
	stats := c.stats
	return &stats, nil
}

func (c *fakeCollector) Logs(context.Context, string) ([]model.QueryLogEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down || c.logsDown {
		return nil, errors.New("connection refused")
	}
	return c.logs, nil
}

func (c *fakeCollector) Invalidate(string) {
	c.mu.Lock()
	c.invalidated++
	c.mu.Unlock()
}

func (c *fakeCollector) invalidations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.invalidated
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func testCollector() *fakeCollector {
	return &fakeCollector{
		resource: model.ResourceStats{
			CPU:    model.CPUProxy{ActiveQueries: 2},
			Memory: model.MemoryProxy{SharedBuffersMB: 128},
			IO:     model.IOProxy{HitRatio: 99.5},
		},
		stats: model.DBStats{Size: "10 MB", TableCount: 5, Connections: 3},
		logs:  []model.QueryLogEntry{{Query: "select 1", Status: model.QueryStatusCompleted}},
	}
}

func TestEnginePollsAndRecordsHistory(t *testing.T) {
	c := testCollector()
	e := New(c, 10*time.Millisecond, 20*time.Millisecond)
	defer e.StopAll()

	e.Start("s1")

	waitFor(t, func() bool {
		return len(e.History("s1", MetricCPU)) >= 3 && len(e.History("s1", MetricDisk)) >= 1
	}, "history never filled")

	cpu := e.History("s1", MetricCPU)
	assert.Equal(t, 2.0, cpu[0].Value)
	assert.Equal(t, 128.0, e.History("s1", MetricMemory)[0].Value)
	assert.Equal(t, 99.5, e.History("s1", MetricIO)[0].Value)
	assert.Equal(t, 10.0, e.History("s1", MetricDisk)[0].Value)

	stats, ok := e.LatestStats("s1", time.Minute)
	require.True(t, ok)
	assert.Equal(t, 5, stats.TableCount)

	res, ok := e.LatestResource("s1", time.Minute)
	require.True(t, ok)
	assert.Equal(t, 2, res.CPU.ActiveQueries)

	logs, ok := e.LatestLogs("s1", time.Minute)
	require.True(t, ok)
	require.Len(t, logs, 1)
	assert.Equal(t, "select 1", logs[0].Query)

	assert.True(t, e.Connected("s1"))
}

func TestEngineHistoryCapped(t *testing.T) {
	c := testCollector()
	e := New(c, time.Millisecond, time.Hour)
	defer e.StopAll()

	e.Start("s1")
	waitFor(t, func() bool {
		return len(e.History("s1", MetricCPU)) == historyCapacity
	}, "history never reached capacity")

	time.Sleep(20 * time.Millisecond)
	assert.Len(t, e.History("s1", MetricCPU), historyCapacity)
}

func TestEngineDisconnectAndRecover(t *testing.T) {
	c := testCollector()
	e := New(c, 5*time.Millisecond, 15*time.Millisecond)
	defer e.StopAll()

	e.Start("s1")
	waitFor(t, func() bool { return e.Connected("s1") && len(e.History("s1", MetricCPU)) > 0 }, "never connected")

	c.setDown(true)
	waitFor(t, func() bool { return !e.Connected("s1") }, "never marked disconnected")
	assert.GreaterOrEqual(t, c.invalidations(), 1)

	// fast cycle stays quiet while disconnected
	time.Sleep(20 * time.Millisecond)
	n := len(e.History("s1", MetricCPU))
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, len(e.History("s1", MetricCPU)))

	// next slow tick reconnects
	c.setDown(false)
	waitFor(t, func() bool { return e.Connected("s1") }, "never reconnected")
	waitFor(t, func() bool { return len(e.History("s1", MetricCPU)) > n }, "fast cycle never resumed")
}

func TestEngineLogFailureKeepsLastBatch(t *testing.T) {
	c := testCollector()
	e := New(c, time.Hour, 10*time.Millisecond)
	defer e.StopAll()

	e.Start("s1")
	waitFor(t, func() bool {
		_, ok := e.LatestLogs("s1", time.Minute)
		return ok
	}, "logs never collected")

	c.mu.Lock()
	c.logsDown = true
	c.mu.Unlock()
	time.Sleep(30 * time.Millisecond)

	// stats keep refreshing, logs keep the last good batch
	assert.True(t, e.Connected("s1"))
	logs, ok := e.LatestLogs("s1", time.Minute)
	require.True(t, ok)
	assert.Len(t, logs, 1)
}

func TestEngineStartIsIdempotent(t *testing.T) {
	c := testCollector()
	e := New(c, 5*time.Millisecond, 10*time.Millisecond)
	defer e.StopAll()

	e.Start("s1")
	waitFor(t, func() bool { return len(e.History("s1", MetricCPU)) > 0 }, "never polled")

	// restart resets history instead of stacking timers
	e.Start("s1")
	waitFor(t, func() bool { return len(e.History("s1", MetricCPU)) > 0 }, "never polled after restart")
	assert.True(t, e.Connected("s1"))
}

func TestEngineStop(t *testing.T) {
	c := testCollector()
	e := New(c, 5*time.Millisecond, 10*time.Millisecond)

	e.Start("s1")
	waitFor(t, func() bool { return len(e.History("s1", MetricCPU)) > 0 }, "never polled")

	e.Stop("s1")
	assert.False(t, e.Connected("s1"))
	assert.Empty(t, e.History("s1", MetricCPU))

	// idempotent
	e.Stop("s1")
}

func TestLatestSnapshotsAreCopies(t *testing.T) {
	c := testCollector()
	e := New(c, 5*time.Millisecond, 5*time.Millisecond)
	defer e.StopAll()

	e.Start("s1")
	waitFor(t, func() bool {
		_, ok := e.LatestStats("s1", time.Minute)
		return ok
	}, "stats never collected")
	waitFor(t, func() bool {
		_, ok := e.LatestResource("s1", time.Minute)
		return ok
	}, "resource never collected")

	// annotating a served snapshot must not leak into the engine's cache
	stats, ok := e.LatestStats("s1", time.Minute)
	require.True(t, ok)
	stats.DatabaseID = "annotated"
	stats.DatabaseName = "annotated"

	again, ok := e.LatestStats("s1", time.Minute)
	require.True(t, ok)
	assert.Empty(t, again.DatabaseID)
	assert.Empty(t, again.DatabaseName)

	res, ok := e.LatestResource("s1", time.Minute)
	require.True(t, ok)
	res.CPU.ActiveQueries = 999

	resAgain, ok := e.LatestResource("s1", time.Minute)
	require.True(t, ok)
	assert.NotEqual(t, 999, resAgain.CPU.ActiveQueries)
}

func TestEngineEnsureStarted(t *testing.T) {
	c := testCollector()
	c.countResources = true
	e := New(c, time.Hour, time.Hour)
	defer e.StopAll()

	// fresh session gets timers
	e.EnsureStarted("s1")
	waitFor(t, func() bool { return len(e.History("s1", MetricCPU)) == 1 }, "never polled")
	first := e.History("s1", MetricCPU)
	require.Len(t, first, 1)

	// running session keeps its history; no restart, no extra tick
	e.EnsureStarted("s1")
	time.Sleep(20 * time.Millisecond)
	again := e.History("s1", MetricCPU)
	require.Len(t, again, 1)
	assert.Equal(t, first[0].Value, again[0].Value)

	// after Stop the session is fresh again
	e.Stop("s1")
	e.EnsureStarted("s1")
	waitFor(t, func() bool { return len(e.History("s1", MetricCPU)) == 1 }, "never polled after restart")
	assert.NotEqual(t, first[0].Value, e.History("s1", MetricCPU)[0].Value)
}

func TestEngineUnknownSession(t *testing.T) {
	e := New(testCollector(), time.Hour, time.Hour)
	assert.Nil(t, e.History("ghost", MetricCPU))
	assert.False(t, e.Connected("ghost"))
	_, ok := e.LatestStats("ghost", time.Minute)
	assert.False(t, ok)
}

func TestEngineUnknownMetric(t *testing.T) {
	e := New(testCollector(), time.Hour, time.Hour)
	defer e.StopAll()
	e.Start("s1")
	assert.Nil(t, e.History("s1", "bogus"))
}
