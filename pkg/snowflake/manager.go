package snowflake

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultMaxIdle       = 30 * time.Minute
	defaultSweepInterval = time.Minute

	// truncatedIDLen is how many id characters Stats keeps for display.
	truncatedIDLen = 8
)

// ManagerConfig configures a Manager. Zero values take defaults.
type ManagerConfig struct {
	// MaxIdle is how long a session may sit unused before eviction.
	MaxIdle time.Duration

	// SweepInterval is how often the background sweep scans for idle
	// sessions.
	SweepInterval time.Duration
}

// Manager is a concurrent registry of Sessions. It owns creation,
// lookup-with-liveness-check, explicit removal, and a background sweep
// that evicts idle sessions. Only registry bookkeeping happens under the
// lock; liveness probes are network I/O and run outside it.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	maxIdle       time.Duration
	sweepInterval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a session manager. Call Start to begin the
// background sweep and Close to stop it and release every session.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.MaxIdle <= 0 {
		cfg.MaxIdle = defaultMaxIdle
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	return &Manager{
		sessions:      make(map[string]*Session),
		maxIdle:       cfg.MaxIdle,
		sweepInterval: cfg.SweepInterval,
	}
}

// Create registers a new session around an already-established
// connection and returns its generated id. Authentication happens before
// this call; the Manager never connects on its own.
func (m *Manager) Create(conn Conn, user, account, warehouse, database, schema, role string) string {
	sess := NewSession(conn, user, account, warehouse, database, schema, role)
	sess.ID = uuid.NewString()

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	slog.Info("session created",
		"session_id", truncateID(sess.ID),
		"user", user,
		"warehouse", warehouse)
	return sess.ID
}

// Get returns the live session for id, or nil. An expired session or one
// whose liveness probe fails is removed and closed as a side effect.
// A returned session has been touched.
func (m *Manager) Get(ctx context.Context, id string) *Session {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	if sess.IsExpired(m.maxIdle) {
		m.removeLocked(id)
		m.mu.Unlock()
		slog.Info("session expired on lookup", "session_id", truncateID(id))
		return nil
	}
	m.mu.Unlock()

	// The probe is I/O; never hold the registry lock across it.
	if !sess.IsAlive(ctx) {
		m.mu.Lock()
		m.removeLocked(id)
		m.mu.Unlock()
		slog.Warn("session connection dead, removed", "session_id", truncateID(id))
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		// Swept while we were probing.
		return nil
	}
	sess.Touch()
	return sess
}

// GetAny returns an arbitrary currently-live session, or nil when none
// exists. This is a convenience for single-tenant deployments: when
// several sessions exist it is unspecified which one is chosen.
func (m *Manager) GetAny(ctx context.Context) *Session {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if sess := m.Get(ctx, id); sess != nil {
			return sess
		}
	}
	return nil
}

// Remove pops and closes the session for id, reporting whether a session
// was actually removed. Safe to call repeatedly (idempotent disconnect).
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(id)
}

// removeLocked removes and closes a session. Caller must hold the lock.
func (m *Manager) removeLocked(id string) bool {
	sess, ok := m.sessions[id]
	if !ok {
		return false
	}
	delete(m.sessions, id)
	sess.Close()
	return true
}

// Sweep evicts every session idle longer than MaxIdle and returns the
// count. Liveness is deliberately not re-checked here to avoid a probe
// storm on every tick.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []string
	for id, sess := range m.sessions {
		if sess.IsExpired(m.maxIdle) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		m.removeLocked(id)
	}
	if len(expired) > 0 {
		slog.Info("session sweep evicted idle sessions", "count", len(expired))
	}
	return len(expired)
}

// Start launches the background sweep goroutine. It runs until Close.
func (m *Manager) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)

		ticker := time.NewTicker(m.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sweep()
			}
		}
	}()
}

// Close stops the sweep goroutine, waits for it to exit, and closes
// every remaining session. Safe to call even if Start was never called.
func (m *Manager) Close() error {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.sessions {
		m.removeLocked(id)
	}
	return nil
}

// Stats is a snapshot of the registry, sorted most-recently-used first.
type Stats struct {
	ActiveSessions int           `json:"active_sessions"`
	MaxIdleMinutes float64       `json:"max_idle_minutes"`
	Sessions       []SessionInfo `json:"sessions"`
}

// Stats snapshots the registry. Session ids are truncated for display
// unless includeFullIDs is set.
func (m *Manager) Stats(includeFullIDs bool) Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]SessionInfo, 0, len(m.sessions))
	for _, sess := range m.sessions {
		info := sess.Info()
		if !includeFullIDs {
			info.SessionID = truncateID(info.SessionID)
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].LastUsedAt.After(infos[j].LastUsedAt)
	})

	return Stats{
		ActiveSessions: len(m.sessions),
		MaxIdleMinutes: m.maxIdle.Minutes(),
		Sessions:       infos,
	}
}

func truncateID(id string) string {
	if len(id) <= truncatedIDLen {
		return id
	}
	return id[:truncatedIDLen] + "..."
}
