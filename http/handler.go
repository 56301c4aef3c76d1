package http

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gookit/slog"
	"github.com/jackc/pgx/v5/pgxpool"

	"pgdash/catalog"
	"pgdash/model"
	"pgdash/poller"
	"pgdash/registry"
	"pgdash/session"
)

const (
	analyzeCacheTTL = 10 * time.Second
	statsMaxAge     = 15 * time.Second
	resourceMaxAge  = 5 * time.Second
)

// Handlers is the stateless translation layer over the registry, session
// manager and polling engine.
type Handlers struct {
	registry *registry.Registry
	sessions *session.Manager
	engine   *poller.Engine
	cache    resultCache
}

func NewHandlers(reg *registry.Registry, sessions *session.Manager, engine *poller.Engine) *Handlers {
	return &Handlers{registry: reg, sessions: sessions, engine: engine}
}

// resolveSession reads the session id from header or query, auto-provisions
// when absent or expired, and echoes the id back on the response.
func (h *Handlers) resolveSession(c *gin.Context) string {
	id := c.GetHeader("X-Session-ID")
	if id == "" {
		id = c.Query("sessionId")
	}
	id = h.sessions.Resolve(id)
	c.Header("X-Session-ID", id)
	return id
}

func (h *Handlers) GetSession(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessionId": h.resolveSession(c)})
}

func (h *Handlers) ListConnections(c *gin.Context) {
	h.resolveSession(c)
	list, err := h.registry.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]gin.H, 0, len(list))
	for _, cfg := range list {
		out = append(out, gin.H{"id": cfg.ID, "name": cfg.Label(), "isDefault": cfg.IsActive})
	}
	c.JSON(http.StatusOK, out)
}

type connectParams struct {
	Name     string `json:"name"`
	Host     string `json:"host"`
	Port     uint16 `json:"port"`
	Database string `json:"database"`
	Username string `json:"username"`
	Password string `json:"password"`
	UseSSL   bool   `json:"useSSL"`
}

func (p *connectParams) validate() error {
	switch {
	case p.Host == "":
		return &model.ValidationError{Field: "host"}
	case p.Database == "":
		return &model.ValidationError{Field: "database"}
	case p.Username == "":
		return &model.ValidationError{Field: "username"}
	}
	return nil
}

func (p *connectParams) config() *model.ConnectionConfig {
	port := p.Port
	if port == 0 {
		port = 5432
	}
	return &model.ConnectionConfig{
		Name:     p.Name,
		Host:     p.Host,
		Port:     port,
		Database: p.Database,
		Username: p.Username,
		Password: p.Password,
		UseSSL:   p.UseSSL,
	}
}

// TestConnectionParams tests without persisting anything. Validation is a
// 400; a failed test is still a 200 with the success flag down.
func (h *Handlers) TestConnectionParams(c *gin.Context) {
	h.resolveSession(c)
	var p connectParams
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body: " + err.Error()})
		return
	}
	if err := p.validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	version, err := h.sessions.TestConnection(c.Request.Context(), p.config())
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "version": version})
}

// Connect tests, registers and activates a connection in one step. The test
// runs first; on failure nothing is registered.
func (h *Handlers) Connect(c *gin.Context) {
	sid := h.resolveSession(c)
	var p connectParams
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body: " + err.Error()})
		return
	}
	if err := p.validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	h.register(c, sid, p.config())
}

type connectStringParams struct {
	Name             string `json:"name"`
	ConnectionString string `json:"connectionString"`
}

// ConnectString is Connect with a DATABASE_URL style URI.
func (h *Handlers) ConnectString(c *gin.Context) {
	sid := h.resolveSession(c)
	var p connectStringParams
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body: " + err.Error()})
		return
	}
	if p.ConnectionString == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": (&model.ValidationError{Field: "connectionString"}).Error()})
		return
	}

	cfg, err := session.ConfigFromURI(p.ConnectionString)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	cfg.Name = p.Name
	h.register(c, sid, cfg)
}

func (h *Handlers) register(c *gin.Context, sid string, cfg *model.ConnectionConfig) {
	if _, err := h.sessions.TestConnection(c.Request.Context(), cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	cfg.IsActive = true
	if err := h.registry.Add(cfg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	id, name, err := h.sessions.SetActiveDatabase(c.Request.Context(), cfg.ID, sid)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	h.engine.Start(sid)

	c.JSON(http.StatusOK, gin.H{"success": true, "sessionId": sid, "connectionId": id, "name": name})
}

// RegisterConnection adds a connection without activating it.
func (h *Handlers) RegisterConnection(c *gin.Context) {
	h.resolveSession(c)
	var p connectParams
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body: " + err.Error()})
		return
	}
	if err := p.validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	cfg := p.config()
	if _, err := h.sessions.TestConnection(c.Request.Context(), cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	if err := h.registry.Add(cfg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "connectionId": cfg.ID, "name": cfg.Label()})
}

// UpdateConnection replaces a registered connection, re-testing when the
// target or credentials change.
func (h *Handlers) UpdateConnection(c *gin.Context) {
	h.resolveSession(c)
	id := c.Param("id")

	existing, err := h.registry.Get(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	if existing == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "connection not found"})
		return
	}

	var p connectParams
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body: " + err.Error()})
		return
	}
	if err := p.validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	cfg := p.config()
	cfg.ID = existing.ID
	cfg.IsActive = existing.IsActive
	if cfg.Password == "" {
		cfg.Password = existing.Password
	}

	targetChanged := cfg.Host != existing.Host || cfg.Port != existing.Port ||
		cfg.Database != existing.Database || cfg.Username != existing.Username ||
		cfg.Password != existing.Password || cfg.UseSSL != existing.UseSSL
	if targetChanged {
		if _, err := h.sessions.TestConnection(c.Request.Context(), cfg); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}
	}

	if err := h.registry.Update(cfg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handlers) DeleteConnection(c *gin.Context) {
	h.resolveSession(c)
	if err := h.registry.Delete(c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type setActiveParams struct {
	ConnectionID string `json:"connectionId"`
}

func (h *Handlers) SetActiveConnection(c *gin.Context) {
	sid := h.resolveSession(c)
	var p setActiveParams
	if err := c.ShouldBindJSON(&p); err != nil || p.ConnectionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": (&model.ValidationError{Field: "connectionId"}).Error()})
		return
	}

	id, name, err := h.sessions.SetActiveDatabase(c.Request.Context(), p.ConnectionID, sid)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.engine.Start(sid)
	c.JSON(http.StatusOK, gin.H{"id": id, "name": name})
}

// ConnectionStatus reports the session's current target. An unreachable
// target is a "disconnected" body, not a non-2xx.
func (h *Handlers) ConnectionStatus(c *gin.Context) {
	sid := h.resolveSession(c)

	connID, err := h.sessions.CurrentDatabase(sid)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"status": "disconnected", "error": err.Error()})
		return
	}
	pool, err := h.sessions.GetPool(c.Request.Context(), connID, sid)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"status": "disconnected", "error": err.Error()})
		return
	}
	h.engine.EnsureStarted(sid)
	version, err := catalog.ServerVersion(c.Request.Context(), pool)
	if err != nil {
		h.sessions.InvalidatePool(sid, connID)
		c.JSON(http.StatusOK, gin.H{"status": "disconnected", "error": err.Error()})
		return
	}

	name := ""
	if cfg, err := h.registry.Get(connID); err == nil && cfg != nil {
		name = cfg.Label()
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       "connected",
		"version":      version,
		"databaseId":   connID,
		"databaseName": name,
	})
}

func (h *Handlers) Stats(c *gin.Context) {
	sid := h.resolveSession(c)

	connID, err := h.sessions.CurrentDatabase(sid)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	stats, ok := h.engine.LatestStats(sid, statsMaxAge)
	if !ok {
		pool, err := h.sessions.GetPool(c.Request.Context(), connID, sid)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		h.engine.EnsureStarted(sid)
		stats, err = catalog.CollectDBStats(c.Request.Context(), pool)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}

	stats.DatabaseID = connID
	if cfg, err := h.registry.Get(connID); err == nil && cfg != nil {
		stats.DatabaseName = cfg.Label()
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handlers) ResourceStats(c *gin.Context) {
	sid := h.resolveSession(c)

	if stats, ok := h.engine.LatestResource(sid, resourceMaxAge); ok {
		c.JSON(http.StatusOK, stats)
		return
	}

	pool, err := h.currentPool(c, sid)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	stats, err := catalog.CollectResourceStats(c.Request.Context(), pool)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handlers) TableStats(c *gin.Context) {
	sid := h.resolveSession(c)

	pool, err := h.currentPool(c, sid)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	sizes, err := catalog.CollectTableStats(c.Request.Context(), pool)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if sizes == nil {
		sizes = []model.TableSize{}
	}
	c.JSON(http.StatusOK, gin.H{"tableSizes": sizes, "timestamp": time.Now()})
}

func (h *Handlers) QueryLogs(c *gin.Context) {
	sid := h.resolveSession(c)

	if logs, ok := h.engine.LatestLogs(sid, statsMaxAge); ok {
		c.JSON(http.StatusOK, logs)
		return
	}

	pool, err := h.currentPool(c, sid)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	logs, err := catalog.CollectQueryLogs(c.Request.Context(), pool)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if logs == nil {
		logs = []model.QueryLogEntry{}
	}
	c.JSON(http.StatusOK, logs)
}

func (h *Handlers) MetricHistory(c *gin.Context) {
	sid := h.resolveSession(c)
	metric := c.Query("metric")
	switch metric {
	case poller.MetricCPU, poller.MetricMemory, poller.MetricIO, poller.MetricDisk:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown metric: %s", metric)})
		return
	}

	samples := h.engine.History(sid, metric)
	if samples == nil {
		samples = []model.MetricSample{}
	}
	c.JSON(http.StatusOK, gin.H{"metric": metric, "samples": samples})
}

type runQueryParams struct {
	Query string `json:"query"`
}

// RunQuery executes one ad hoc SELECT statement after the policy check.
func (h *Handlers) RunQuery(c *gin.Context) {
	sid := h.resolveSession(c)
	var p runQueryParams
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	if err := CheckQueryPolicy(p.Query); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}

	pool, err := h.currentPool(c, sid)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	start := time.Now()
	rows, err := pool.Query(c.Request.Context(), p.Query)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer rows.Close()

	out, err := catalog.RowsToMaps(rows)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	elapsed := time.Since(start)
	slog.Infof("session %s: ad hoc query returned %d rows in %dms", sid, len(out), elapsed.Milliseconds())
	c.Header("X-Query-Duration-Ms", strconv.FormatInt(elapsed.Milliseconds(), 10))
	c.JSON(http.StatusOK, out)
}

// Analyze runs a named diagnostic probe. Without a key it lists the catalog.
func (h *Handlers) Analyze(c *gin.Context) {
	sid := h.resolveSession(c)
	key := c.Query("key")

	if key == "" {
		list := catalog.Probes()
		out := make([]gin.H, 0, len(list))
		for _, p := range list {
			out = append(out, gin.H{"key": p.Key, "description": p.Description})
		}
		c.JSON(http.StatusOK, gin.H{"probes": out})
		return
	}

	probe, err := catalog.Get(key)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	if res, ok := h.cache.get(sid, key); ok {
		c.JSON(http.StatusOK, res)
		return
	}

	pool, err := h.currentPool(c, sid)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	res, err := probe.Run(c.Request.Context(), pool)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if res.Rows == nil {
		res.Rows = [][]any{}
	}
	h.cache.put(sid, key, res)
	c.JSON(http.StatusOK, res)
}

func (h *Handlers) currentPool(c *gin.Context, sid string) (*pgxpool.Pool, error) {
	connID, err := h.sessions.CurrentDatabase(sid)
	if err != nil {
		return nil, err
	}
	pool, err := h.sessions.GetPool(c.Request.Context(), connID, sid)
	if err != nil {
		return nil, err
	}
	// sessions riding the registry default still get polling
	h.engine.EnsureStarted(sid)
	return pool, nil
}

// resultCache is the short-lived per (session, key) diagnostic result cache.
type resultCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	res *model.DiagnosticResult
	at  time.Time
}

func (rc *resultCache) get(sid, key string) (*model.DiagnosticResult, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	e, ok := rc.entries[sid+"|"+key]
	if !ok || time.Since(e.at) > analyzeCacheTTL {
		return nil, false
	}
	return e.res, true
}

func (rc *resultCache) put(sid, key string, res *model.DiagnosticResult) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.entries == nil {
		rc.entries = make(map[string]cacheEntry)
	}
	// lazy prune keeps the map bounded by live sessions
	for k, e := range rc.entries {
		if time.Since(e.at) > analyzeCacheTTL {
			delete(rc.entries, k)
		}
	}
	rc.entries[sid+"|"+key] = cacheEntry{res: res, at: time.Now()}
}
