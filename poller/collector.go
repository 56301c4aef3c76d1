package poller

import (
	"context"

	"pgdash/catalog"
	"pgdash/model"
	"pgdash/session"
)

// Collector supplies the engine's per-session probe results. The production
// implementation resolves the session's current pool; tests inject fakes.
type Collector interface {
	Resource(ctx context.Context, sessionID string) (*model.ResourceStats, error)
	Stats(ctx context.Context, sessionID string) (*model.DBStats, error)
	Logs(ctx context.Context, sessionID string) ([]model.QueryLogEntry, error)
	// Invalidate tears down the session's current pool after an
	// unrecoverable failure so the next cycle reconnects.
	Invalidate(sessionID string)
}

type dbCollector struct {
	sessions *session.Manager
}

func NewCollector(sessions *session.Manager) Collector {
	return &dbCollector{sessions: sessions}
}

func (c *dbCollector) pool(ctx context.Context, sessionID string) (catalog.Querier, error) {
	connID, err := c.sessions.CurrentDatabase(sessionID)
	if err != nil {
		return nil, err
	}
	return c.sessions.GetPool(ctx, connID, sessionID)
}

func (c *dbCollector) Resource(ctx context.Context, sessionID string) (*model.ResourceStats, error) {
	pool, err := c.pool(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return catalog.CollectResourceStats(ctx, pool)
}

func (c *dbCollector) Stats(ctx context.Context, sessionID string) (*model.DBStats, error) {
	pool, err := c.pool(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return catalog.CollectDBStats(ctx, pool)
}

func (c *dbCollector) Logs(ctx context.Context, sessionID string) ([]model.QueryLogEntry, error) {
	pool, err := c.pool(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return catalog.CollectQueryLogs(ctx, pool)
}

func (c *dbCollector) Invalidate(sessionID string) {
	connID, err := c.sessions.CurrentDatabase(sessionID)
	if err != nil {
		return
	}
	c.sessions.InvalidatePool(sessionID, connID)
}
