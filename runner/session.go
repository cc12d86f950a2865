package runner

import (
	"errors"
	"sync"
)

var (
	ErrSessionActive     = errors.New("a reporting session is already active in this process")
	ErrReportingDisabled = errors.New("reporting is disabled")
	ErrNoCollector       = errors.New("no collector configured")

	errSessionClosed = errors.New("reporting session closed")
)

var (
	sessionMu     sync.Mutex
	activeSession *Session
)

// Session is the process-wide reporting session returned by Install.
type Session struct {
	*Coordinator

	closeOnce sync.Once
	closeErr  error
}

// Install creates the reporting session. At most one session may be active
// per process; Close releases it.
func Install(cfg Config) (*Session, error) {
	if !cfg.Enabled {
		return nil, ErrReportingDisabled
	}
	if cfg.Collector == nil {
		return nil, ErrNoCollector
	}

	sessionMu.Lock()
	defer sessionMu.Unlock()
	if activeSession != nil {
		return nil, ErrSessionActive
	}
	activeSession = &Session{Coordinator: NewCoordinator(cfg)}
	return activeSession, nil
}

// Close finishes a launch that is still running and releases the session.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.RunAborted(errSessionClosed)

		sessionMu.Lock()
		if activeSession == s {
			activeSession = nil
		}
		sessionMu.Unlock()
	})
	return s.closeErr
}
