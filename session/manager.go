// Package session multiplexes client sessions onto PostgreSQL connection
// pools. A session owns at most one pool per connection id; pools are built
// lazily and torn down on session expiry or shutdown.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gookit/slog"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pgdash/model"
	"pgdash/registry"
)

const poolMaxConns = 4

type state struct {
	ID                 string
	CreatedAt          time.Time
	LastActivity       time.Time
	ActiveConnectionID string
	pools              map[string]*pgxpool.Pool // keyed by connection id
	mu                 sync.Mutex
}

type Manager struct {
	registry       *registry.Registry
	sessions       map[string]*state
	connectTimeout time.Duration
	sessionTimeout time.Duration
	mu             sync.RWMutex
}

func NewManager(reg *registry.Registry, connectTimeout, sessionTimeout time.Duration) *Manager {
	return &Manager{
		registry:       reg,
		sessions:       make(map[string]*state),
		connectTimeout: connectTimeout,
		sessionTimeout: sessionTimeout,
	}
}

// Resolve returns candidate unchanged when it names a live session,
// refreshing its activity; otherwise it mints a new session. Expired or
// unknown ids are treated the same as absent ones.
func (m *Manager) Resolve(candidate string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[candidate]; ok {
		s.mu.Lock()
		s.LastActivity = time.Now()
		s.mu.Unlock()
		return candidate
	}

	id := uuid.NewString()
	now := time.Now()
	m.sessions[id] = &state{
		ID:           id,
		CreatedAt:    now,
		LastActivity: now,
		pools:        make(map[string]*pgxpool.Pool),
	}
	slog.Infof("session %s created", id)
	return id
}

func (m *Manager) session(sessionID string) *state {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[sessionID]
}

// GetPool returns the session's pool for the given connection id, building
// it on first use. A healthy cached pool is never silently recreated.
func (m *Manager) GetPool(ctx context.Context, connectionID, sessionID string) (*pgxpool.Pool, error) {
	s := m.session(sessionID)
	if s == nil {
		return nil, &model.ConnectionError{Message: fmt.Sprintf("no such session: %s", sessionID)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastActivity = time.Now()

	if pool, ok := s.pools[connectionID]; ok {
		return pool, nil
	}

	cfg, err := m.registry.Get(connectionID)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, &model.ConnectionError{Message: fmt.Sprintf("unknown connection: %s", connectionID)}
	}

	pool, err := m.buildPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s.pools[connectionID] = pool
	return pool, nil
}

func (m *Manager) buildPool(ctx context.Context, cfg *model.ConnectionConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, &model.ConnectionError{Message: fmt.Sprintf("invalid connection parameters: %v", err)}
	}
	poolCfg.MaxConns = poolMaxConns
	poolCfg.ConnConfig.ConnectTimeout = m.connectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, classifyConnErr(err, m.connectTimeout)
	}

	pingCtx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, classifyConnErr(err, m.connectTimeout)
	}

	// best effort; most targets won't allow this and that is fine
	extCtx, cancel2 := context.WithTimeout(ctx, m.connectTimeout)
	defer cancel2()
	if _, err := pool.Exec(extCtx, "create extension if not exists pg_stat_statements"); err != nil {
		slog.Warnf("pg_stat_statements not enabled on %s: %v", cfg.Label(), err)
	}

	slog.Infof("pool created for connection %s (%s)", cfg.ID, cfg.Label())
	return pool, nil
}

func classifyConnErr(err error, timeout time.Duration) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &model.ConnectionError{
			Message: fmt.Sprintf("connection timeout after %s", timeout),
			Timeout: true,
		}
	}
	return &model.ConnectionError{Message: err.Error()}
}

// SetActiveDatabase ensures a pool exists for the connection and marks it as
// the session's current database. Other pools stay open for fast switching.
func (m *Manager) SetActiveDatabase(ctx context.Context, connectionID, sessionID string) (id, name string, err error) {
	if _, err := m.GetPool(ctx, connectionID, sessionID); err != nil {
		return "", "", err
	}
	cfg, err := m.registry.Get(connectionID)
	if err != nil {
		return "", "", err
	}
	if cfg == nil {
		return "", "", &model.ConnectionError{Message: fmt.Sprintf("unknown connection: %s", connectionID)}
	}

	s := m.session(sessionID)
	if s == nil {
		return "", "", &model.ConnectionError{Message: fmt.Sprintf("no such session: %s", sessionID)}
	}
	s.mu.Lock()
	s.ActiveConnectionID = connectionID
	s.mu.Unlock()
	return cfg.ID, cfg.Label(), nil
}

// CurrentDatabase returns the session's most recently activated connection
// id, falling back to the registry default.
func (m *Manager) CurrentDatabase(sessionID string) (string, error) {
	if s := m.session(sessionID); s != nil {
		s.mu.Lock()
		active := s.ActiveConnectionID
		s.mu.Unlock()
		if active != "" {
			return active, nil
		}
	}
	cfg, err := m.registry.GetActive()
	if err != nil {
		return "", err
	}
	if cfg == nil {
		return "", &model.ConnectionError{Message: "no connection configured"}
	}
	return cfg.ID, nil
}

// InvalidatePool tears down the session's pool for a connection after an
// unrecoverable failure; the next use rebuilds it.
func (m *Manager) InvalidatePool(sessionID, connectionID string) {
	s := m.session(sessionID)
	if s == nil {
		return
	}
	s.mu.Lock()
	pool, ok := s.pools[connectionID]
	if ok {
		delete(s.pools, connectionID)
	}
	s.mu.Unlock()
	if ok {
		pool.Close()
		slog.Infof("session %s: pool for connection %s invalidated", sessionID, connectionID)
	}
}

// ReapExpired evicts sessions idle longer than the session timeout, closing
// their pools. Returns the reaped session ids.
func (m *Manager) ReapExpired() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var reaped []string
	for id, s := range m.sessions {
		s.mu.Lock()
		expired := now.Sub(s.LastActivity) > m.sessionTimeout
		s.mu.Unlock()
		if !expired {
			continue
		}
		s.mu.Lock()
		for _, pool := range s.pools {
			pool.Close()
		}
		s.pools = make(map[string]*pgxpool.Pool)
		s.mu.Unlock()
		delete(m.sessions, id)
		reaped = append(reaped, id)
		slog.Infof("session %s expired after %s idle", id, m.sessionTimeout)
	}
	return reaped
}

// Shutdown closes every pool across every session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		s.mu.Lock()
		for _, pool := range s.pools {
			pool.Close()
		}
		s.pools = make(map[string]*pgxpool.Pool)
		s.mu.Unlock()
		delete(m.sessions, id)
	}
	slog.Infof("session manager shut down")
}

// ConfigFromURI builds a ConnectionConfig from a DATABASE_URL style string,
// validating it with the driver's own parser.
func ConfigFromURI(uri string) (*model.ConnectionConfig, error) {
	parsed, err := pgx.ParseConfig(uri)
	if err != nil {
		return nil, &model.ValidationError{Field: "connectionString"}
	}
	return &model.ConnectionConfig{
		Host:     parsed.Host,
		Port:     parsed.Port,
		Database: parsed.Database,
		Username: parsed.User,
		Password: parsed.Password,
		UseSSL:   uriRequiresTLS(uri),
	}, nil
}

// uriRequiresTLS reports whether the connection string names an sslmode that
// mandates TLS. pgx's implicit default is "prefer", which must stay UseSSL
// false so the stored DSN keeps working against servers without TLS.
func uriRequiresTLS(uri string) bool {
	mode := ""
	if u, err := url.Parse(uri); err == nil {
		mode = u.Query().Get("sslmode")
	}
	if mode == "" {
		// keyword/value form
		for _, f := range strings.Fields(uri) {
			if v, ok := strings.CutPrefix(f, "sslmode="); ok {
				mode = v
			}
		}
	}
	switch mode {
	case "require", "verify-ca", "verify-full":
		return true
	}
	return false
}

// TestConnection attempts a short-lived connection and returns the server
// version. Nothing is registered or cached.
func (m *Manager) TestConnection(ctx context.Context, cfg *model.ConnectionConfig) (string, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return "", &model.ConnectionError{Message: fmt.Sprintf("invalid connection parameters: %v", err)}
	}
	poolCfg.MaxConns = 1
	poolCfg.ConnConfig.ConnectTimeout = m.connectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return "", classifyConnErr(err, m.connectTimeout)
	}
	defer pool.Close()

	testCtx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	defer cancel()
	var version string
	if err := pool.QueryRow(testCtx, "select version()").Scan(&version); err != nil {
		return "", classifyConnErr(err, m.connectTimeout)
	}
	return version, nil
}
