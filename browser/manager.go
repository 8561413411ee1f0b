// Package browser creates and destroys browser sessions, one per execution context, and hides
// the automation engine behind the Session and Element interfaces.
//
// Chrome sessions are driven by Rod over the DevTools protocol; Firefox sessions by
// Playwright. Either can run locally or against a remote execution grid, selected by Config's
// Endpoint (see ResolveEndpoint), so scenario code never branches on where it runs.
package browser

import (
	"errors"
	"io"
	"sort"
	"sync"

	"gopkg.in/launchdarkly/go-sdk-common.v2/ldlog"

	"github.com/storefront-qa/storefront-e2e-tests/telemetry"
)

// Engine opens sessions for one browser kind.
type Engine interface {
	Open(cfg Config) (Session, error)
}

// EngineFunc adapts a function to the Engine interface.
type EngineFunc func(cfg Config) (Session, error)

func (f EngineFunc) Open(cfg Config) (Session, error) { return f(cfg) }

// Manager tracks which owner holds which session. Each owner has at most one session.
//
// A Manager is safe for concurrent use by different owners.
type Manager struct {
	engines  map[Kind]Engine
	sessions map[string]Session
	loggers  ldlog.Loggers
	metrics  *telemetry.Metrics
	lock     sync.Mutex
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithEngine registers the engine used for a browser kind, replacing any default.
func WithEngine(kind Kind, engine Engine) ManagerOption {
	return func(m *Manager) { m.engines[kind] = engine }
}

func WithLoggers(loggers ldlog.Loggers) ManagerOption {
	return func(m *Manager) { m.loggers = loggers }
}

func WithMetrics(metrics *telemetry.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = metrics }
}

// NewManager creates a Manager with the Rod engine for Chrome and the Playwright engine for
// Firefox, unless options replace them.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		engines:  make(map[Kind]Engine),
		sessions: make(map[string]Session),
		loggers:  ldlog.NewDisabledLoggers(),
	}
	for _, o := range opts {
		o(m)
	}
	if _, ok := m.engines[Chrome]; !ok {
		m.engines[Chrome] = NewRodEngine(m.loggers)
	}
	if _, ok := m.engines[Firefox]; !ok {
		m.engines[Firefox] = NewPlaywrightEngine(m.loggers)
	}
	return m
}

// Create opens a new session for owner, applying the configured timeouts and viewport.
//
// Any failure, including an unsupported kind, a malformed or unreachable endpoint, or an owner
// that already has a session, is returned as a *ProvisioningError.
func (m *Manager) Create(owner string, cfg Config) (Session, error) {
	cfg = cfg.withDefaults()
	fail := func(err error) (Session, error) {
		m.loggers.Errorf("Could not create %s session for %s: %s", cfg.Kind, owner, err)
		return nil, &ProvisioningError{Kind: cfg.Kind, Endpoint: cfg.Endpoint, Err: err}
	}

	engine, ok := m.engines[cfg.Kind]
	if !ok {
		return fail(ErrUnsupportedKind)
	}
	if err := cfg.Endpoint.validate(); err != nil {
		return fail(err)
	}
	if m.has(owner) {
		return fail(ErrSessionExists)
	}

	m.loggers.Infof("Creating %s session for %s (endpoint: %s, headless: %t)", cfg.Kind, owner, cfg.Endpoint, cfg.Headless)
	session, err := engine.Open(cfg)
	if err != nil {
		return fail(err)
	}

	m.lock.Lock()
	if _, exists := m.sessions[owner]; exists {
		m.lock.Unlock()
		_ = session.Close()
		return fail(ErrSessionExists)
	}
	m.sessions[owner] = session
	m.lock.Unlock()

	m.metrics.SessionOpened()
	return session, nil
}

func (m *Manager) has(owner string) bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	_, ok := m.sessions[owner]
	return ok
}

// Current returns owner's session, or a *NoActiveSessionError.
func (m *Manager) Current(owner string) (Session, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if s, ok := m.sessions[owner]; ok {
		return s, nil
	}
	return nil, &NoActiveSessionError{Owner: owner}
}

// Destroy closes owner's session and forgets it. It does nothing if owner has no session, so
// it is safe to call more than once.
func (m *Manager) Destroy(owner string) error {
	m.lock.Lock()
	session, ok := m.sessions[owner]
	delete(m.sessions, owner)
	m.lock.Unlock()
	if !ok {
		return nil
	}

	m.metrics.SessionClosed()
	if err := session.Close(); err != nil {
		m.loggers.Warnf("Error closing browser session for %s: %s", owner, err)
		return err
	}
	m.loggers.Infof("Closed browser session for %s", owner)
	return nil
}

// Active returns the number of open sessions.
func (m *Manager) Active() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return len(m.sessions)
}

// DestroyAll destroys every remaining session. It is the safety net for sessions whose owners
// never reached teardown.
func (m *Manager) DestroyAll() error {
	m.lock.Lock()
	owners := make([]string, 0, len(m.sessions))
	for owner := range m.sessions {
		owners = append(owners, owner)
	}
	m.lock.Unlock()
	sort.Strings(owners)

	var errs []error
	for _, owner := range owners {
		m.loggers.Warnf("Browser session for %s was still open at shutdown", owner)
		if err := m.Destroy(owner); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close calls DestroyAll and then shuts down engines that hold resources of their own.
func (m *Manager) Close() error {
	errs := []error{m.DestroyAll()}
	for _, engine := range m.engines {
		if c, ok := engine.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
