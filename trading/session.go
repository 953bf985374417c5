package trading

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/decred/slog"
)

const (
	defaultMaxLoginAttempts     = 10
	defaultMaxReconnectAttempts = 5
	defaultLivenessInterval     = 60 * time.Second
)

// ManagerConfig configures the session manager.
type ManagerConfig struct {
	Session NetworkSession
	Log     slog.Logger

	// MaxLoginAttempts caps consecutive login attempts before Run returns
	// ErrLoginAttemptsExceeded. Defaults to 10.
	MaxLoginAttempts int

	// MaxReconnectAttempts caps consecutive reconnect schedules before Run
	// returns ErrReconnectAttemptsExceeded. Defaults to 5.
	MaxReconnectAttempts int

	// LivenessInterval is the period of the independent usability check.
	// Defaults to 60s.
	LivenessInterval time.Duration
}

// Manager owns the single authenticated session to the trading network. It
// drives the login state machine, recovers from critical errors with
// exponential backoff and keeps the derived web credential fresh.
type Manager struct {
	log  slog.Logger
	sess NetworkSession

	maxLogin     int
	maxReconnect int
	liveness     time.Duration
	backoffBase  time.Duration

	mu                sync.RWMutex
	state             SessionState
	webOK             bool
	loginAttempts     int
	reconnectAttempts int
	established       chan struct{}

	reloginReq chan struct{}
	done       chan struct{}
}

func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Session == nil {
		return nil, fmt.Errorf("session manager requires a network session")
	}
	if cfg.Log == nil {
		return nil, fmt.Errorf("session manager requires a logger")
	}
	if cfg.MaxLoginAttempts <= 0 {
		cfg.MaxLoginAttempts = defaultMaxLoginAttempts
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}
	if cfg.LivenessInterval <= 0 {
		cfg.LivenessInterval = defaultLivenessInterval
	}
	return &Manager{
		log:          cfg.Log,
		sess:         cfg.Session,
		maxLogin:     cfg.MaxLoginAttempts,
		maxReconnect: cfg.MaxReconnectAttempts,
		liveness:     cfg.LivenessInterval,
		backoffBase:  time.Second,
		state:        LoggedOut,
		established:  make(chan struct{}),
		reloginReq:   make(chan struct{}, 1),
		done:         make(chan struct{}),
	}, nil
}

// State returns the current session state.
func (m *Manager) State() SessionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsUsable reports whether the session is logged on with a current web
// credential. The dispatcher requires this before any submission.
func (m *Manager) IsUsable() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == LoggedOn && m.webOK
}

// Relogin forces a fresh login and blocks until the session is established
// and usable, the context expires, or the manager stops.
func (m *Manager) Relogin(ctx context.Context) error {
	ch := m.establishedChan()

	select {
	case m.reloginReq <- struct{}{}:
	default:
		// A relogin is already queued; wait on the same establishment.
	}

	select {
	case <-ch:
		if !m.IsUsable() {
			return fmt.Errorf("session established but web credential refresh failed")
		}
		return nil
	case <-m.done:
		return fmt.Errorf("session manager stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) establishedChan() chan struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.established
}

// reconnectDelay returns the backoff delay before reconnect attempt n,
// counted from zero: base, 2*base, 4*base, ...
func reconnectDelay(attempt int, base time.Duration) time.Duration {
	return time.Duration(1<<uint(attempt)) * base
}

// Run drives the session until ctx is canceled or a fatal error occurs.
// Fatal errors (attempt ceilings exceeded) are returned to the caller, which
// is expected to terminate the process.
func (m *Manager) Run(ctx context.Context) error {
	defer close(m.done)
	defer m.sess.LogOff()

	liveTick := time.NewTicker(m.liveness)
	defer liveTick.Stop()

	var reconnectC <-chan time.Time

	c, err := m.attemptLogin(ctx)
	if err != nil {
		return err
	}
	reconnectC = c

	for {
		select {
		case <-ctx.Done():
			// Graceful shutdown: deliberate logoff, no reconnect.
			m.setState(LoggedOut)
			m.log.Infof("session: graceful shutdown")
			return nil

		case ev := <-m.sess.Events():
			switch ev.Type {
			case EventEstablished:
				m.handleEstablished(ctx)
			case EventCritical:
				m.log.Warnf("session: critical error: %v", ev.Err)
				c, err := m.scheduleReconnect()
				if err != nil {
					return err
				}
				reconnectC = c
			default:
				m.log.Debugf("session: non-critical error ignored: %v", ev.Err)
			}

		case <-reconnectC:
			reconnectC = nil
			c, err := m.attemptLogin(ctx)
			if err != nil {
				return err
			}
			reconnectC = c

		case <-m.reloginReq:
			c, err := m.attemptLogin(ctx)
			if err != nil {
				return err
			}
			reconnectC = c

		case <-liveTick.C:
			if m.State() != LoggedOn {
				continue
			}
			if !m.webCredentialOK() {
				// The last refresh failed; try again before declaring
				// the session unusable.
				if err := m.sess.RefreshWebSession(ctx); err == nil {
					m.setWebOK(true)
					continue
				}
			}
			if !m.sess.WebSessionValid(ctx) {
				// Covers silent disconnects that never produced an
				// error signal.
				m.log.Warnf("session: liveness check failed; scheduling reconnect")
				c, err := m.scheduleReconnect()
				if err != nil {
					return err
				}
				reconnectC = c
			}
		}
	}
}

// attemptLogin initiates the authentication handshake. Success is observed
// asynchronously as an EventEstablished signal. A synchronous invocation
// failure schedules a reconnect; the returned channel, when non-nil, fires
// when the next attempt is due.
func (m *Manager) attemptLogin(ctx context.Context) (<-chan time.Time, error) {
	m.mu.Lock()
	if m.loginAttempts >= m.maxLogin {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %d attempts", ErrLoginAttemptsExceeded, m.loginAttempts)
	}
	m.loginAttempts++
	m.state = LoggingIn
	m.webOK = false
	attempt := m.loginAttempts
	m.mu.Unlock()

	m.log.Infof("session: logging in (attempt %d/%d)", attempt, m.maxLogin)
	if err := m.sess.LogOn(ctx); err != nil {
		m.log.Warnf("session: logon failed: %v", err)
		return m.scheduleReconnect()
	}
	return nil, nil
}

// scheduleReconnect arms the exponential backoff timer: 2^n seconds for the
// n-th consecutive attempt. Exceeding the ceiling is fatal.
func (m *Manager) scheduleReconnect() (<-chan time.Time, error) {
	m.mu.Lock()
	if m.reconnectAttempts >= m.maxReconnect {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %d attempts", ErrReconnectAttemptsExceeded, m.reconnectAttempts)
	}
	delay := reconnectDelay(m.reconnectAttempts, m.backoffBase)
	m.reconnectAttempts++
	m.state = Reconnecting
	m.webOK = false
	m.mu.Unlock()

	m.log.Infof("session: reconnecting in %s", delay)
	return time.After(delay), nil
}

// handleEstablished resets the attempt counters, refreshes the web
// credential and wakes any Relogin waiters.
func (m *Manager) handleEstablished(ctx context.Context) {
	m.mu.Lock()
	m.state = LoggedOn
	m.loginAttempts = 0
	m.reconnectAttempts = 0
	old := m.established
	m.established = make(chan struct{})
	m.mu.Unlock()

	if err := m.sess.RefreshWebSession(ctx); err != nil {
		m.log.Errorf("session: web credential refresh failed: %v", err)
		m.setWebOK(false)
	} else {
		m.setWebOK(true)
	}
	m.log.Infof("session: established")

	// Wake waiters only after the web credential state is settled.
	close(old)
}

func (m *Manager) setState(s SessionState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) setWebOK(ok bool) {
	m.mu.Lock()
	m.webOK = ok
	m.mu.Unlock()
}

func (m *Manager) webCredentialOK() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.webOK
}
