package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/BaSui01/siteflow/browser"
	"github.com/BaSui01/siteflow/metrics"
	"github.com/BaSui01/siteflow/types"
)

// Config configures the session pool.
type Config struct {
	// MaxSessions caps concurrent sessions. Default 20.
	MaxSessions int `json:"max_sessions" yaml:"max_sessions"`
	// IdleTimeout evicts sessions inactive this long. Default 600s.
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
	// ThrottleRPS optionally caps aggregate page-control calls per second
	// across all sessions. Zero disables the throttle.
	ThrottleRPS float64 `json:"throttle_rps" yaml:"throttle_rps"`
}

// DefaultConfig returns the default pool bounds.
func DefaultConfig() Config {
	return Config{
		MaxSessions: 20,
		IdleTimeout: 600 * time.Second,
	}
}

// Manager owns the session pool. One lock guards the map; per-session state
// is guarded by each session's own mutex.
type Manager struct {
	driver    browser.Driver
	config    Config
	logger    *zap.Logger
	collector *metrics.Collector
	throttle  *rate.Limiter
	now       func() time.Time

	mu       sync.Mutex // guards the session map
	sessions map[string]*Session
	shutdown bool
}

// NewManager creates a pool over the given driver.
func NewManager(driver browser.Driver, config Config, logger *zap.Logger, collector *metrics.Collector) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxSessions <= 0 {
		config.MaxSessions = DefaultConfig().MaxSessions
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = DefaultConfig().IdleTimeout
	}
	m := &Manager{
		driver:    driver,
		config:    config,
		logger:    logger.With(zap.String("component", "session_manager")),
		collector: collector,
		now:       time.Now,
		sessions:  make(map[string]*Session),
	}
	if config.ThrottleRPS > 0 {
		m.throttle = rate.NewLimiter(rate.Limit(config.ThrottleRPS), int(config.ThrottleRPS)+1)
	}
	return m
}

// WithNow swaps the clock, for tests.
func (m *Manager) WithNow(now func() time.Time) *Manager {
	m.now = now
	return m
}

func (m *Manager) lock()   { m.mu.Lock() }
func (m *Manager) unlock() { m.mu.Unlock() }

// Throttle blocks until the aggregate page-control budget admits one call.
// A nil throttle admits immediately.
func (m *Manager) Throttle(ctx context.Context) error {
	if m.throttle == nil {
		return nil
	}
	return m.throttle.Wait(ctx)
}

// GetOrCreate returns the user's session, touching its activity clock, or
// creates one. Idle-expired sessions are evicted first, the caller's own
// included, so an owner returning after the idle window gets a fresh session
// rather than a revived one. If the pool is still full, the
// least-recently-active session is evicted to make room.
func (m *Manager) GetOrCreate(ctx context.Context, userID string) (*Session, error) {
	m.lock()
	if m.shutdown {
		m.unlock()
		return nil, types.NewError(types.ErrSessionClosed, "session manager is shut down")
	}
	now := m.now()
	evicted := m.evictExpiredLocked(now)
	if s, ok := m.sessions[userID]; ok {
		m.unlock()
		m.release(evicted)
		s.Touch(now)
		return s, nil
	}

	if len(m.sessions) >= m.config.MaxSessions {
		if victim := m.lruLocked(); victim != nil {
			delete(m.sessions, victim.UserID)
			evicted = append(evicted, evictedSession{victim, "capacity"})
		}
	}
	if len(m.sessions) >= m.config.MaxSessions {
		m.unlock()
		m.release(evicted)
		return nil, types.NewError(types.ErrSessionLimit, "session pool is full")
	}
	// Reserve the slot before the page launch so concurrent callers cannot
	// overshoot the cap while NewPage blocks.
	placeholder := &Session{UserID: userID}
	m.sessions[userID] = placeholder
	m.unlock()

	m.release(evicted)

	page, err := m.driver.NewPage(ctx)
	if err != nil {
		m.lock()
		if m.sessions[userID] == placeholder {
			delete(m.sessions, userID)
		}
		m.unlock()
		return nil, err
	}

	s := newSession(userID, page, now)
	m.lock()
	if m.shutdown {
		m.unlock()
		s.close()
		return nil, types.NewError(types.ErrSessionClosed, "session manager is shut down")
	}
	m.sessions[userID] = s
	m.unlock()

	m.collector.SessionOpened()
	m.logger.Info("session created",
		zap.String("session_id", s.ID),
		zap.String("user_id", userID))
	return s, nil
}

type evictedSession struct {
	session *Session
	reason  string
}

// evictExpiredLocked removes idle sessions from the map. Caller holds the
// map lock; returned sessions are closed after it is released.
func (m *Manager) evictExpiredLocked(now time.Time) []evictedSession {
	var evicted []evictedSession
	for userID, s := range m.sessions {
		if s.Page == nil || s.Paused() {
			continue
		}
		if now.Sub(s.LastActive()) > m.config.IdleTimeout {
			delete(m.sessions, userID)
			evicted = append(evicted, evictedSession{s, "idle"})
		}
	}
	return evicted
}

// lruLocked picks the least-recently-active evictable session.
func (m *Manager) lruLocked() *Session {
	var victim *Session
	for _, s := range m.sessions {
		if s.Page == nil {
			continue // creation in flight
		}
		if victim == nil || s.LastActive().Before(victim.LastActive()) {
			victim = s
		}
	}
	return victim
}

func (m *Manager) release(evicted []evictedSession) {
	for _, e := range evicted {
		if err := e.session.close(); err != nil {
			m.logger.Warn("session close failed",
				zap.String("session_id", e.session.ID),
				zap.Error(err))
		}
		m.collector.SessionClosed()
		m.collector.SessionEvicted(e.reason)
		m.logger.Info("session evicted",
			zap.String("session_id", e.session.ID),
			zap.String("user_id", e.session.UserID),
			zap.String("reason", e.reason))
	}
}

// CloseSession releases the user's session. Returns false when none exists.
func (m *Manager) CloseSession(userID string) bool {
	m.lock()
	s, ok := m.sessions[userID]
	if ok {
		delete(m.sessions, userID)
	}
	m.unlock()
	if !ok || s.Page == nil {
		return false
	}
	m.release([]evictedSession{{s, "explicit"}})
	return true
}

// SessionInfo is a point-in-time snapshot for listing.
type SessionInfo struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
	Paused     bool      `json:"paused"`
}

// ListSessions snapshots the pool ordered by most recent activity.
func (m *Manager) ListSessions() []SessionInfo {
	m.lock()
	infos := make([]SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s.Page == nil {
			continue
		}
		infos = append(infos, SessionInfo{
			ID:         s.ID,
			UserID:     s.UserID,
			CreatedAt:  s.CreatedAt(),
			LastActive: s.LastActive(),
			Paused:     s.Paused(),
		})
	}
	m.unlock()
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].LastActive.After(infos[j].LastActive)
	})
	return infos
}

// Len reports the current pool size.
func (m *Manager) Len() int {
	m.lock()
	defer m.unlock()
	return len(m.sessions)
}

// Shutdown closes every session concurrently, then the driver. The manager
// rejects further GetOrCreate calls afterwards.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.lock()
	if m.shutdown {
		m.unlock()
		return nil
	}
	m.shutdown = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s.Page != nil {
			sessions = append(sessions, s)
		}
	}
	m.sessions = make(map[string]*Session)
	m.unlock()

	g, _ := errgroup.WithContext(ctx)
	for _, s := range sessions {
		g.Go(func() error {
			err := s.close()
			m.collector.SessionClosed()
			return err
		})
	}
	closeErr := g.Wait()

	m.logger.Info("session manager shut down", zap.Int("sessions_closed", len(sessions)))
	if err := m.driver.Close(); err != nil {
		return err
	}
	return closeErr
}
