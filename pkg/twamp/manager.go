package twamp

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// SessionKind distinguishes responder and sender sessions.
type SessionKind string

const (
	KindResponder SessionKind = "responder"
	KindSender    SessionKind = "sender"
)

// SessionInfo is a snapshot of a registered session.
type SessionInfo struct {
	Name      string
	Kind      SessionKind
	Target    string // "addr:port" for senders, ":port" for responders
	StartedAt time.Time
	Running   bool
	Result    *Result // populated when a sender session finishes
	Err       error
}

type session struct {
	info   SessionInfo
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager tracks long-running TWAMP sessions started from the CLI or API.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

// NewManager creates an empty session registry.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*session)}
}

func (m *Manager) register(name string, kind SessionKind, target string, cancel context.CancelFunc) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.sessions[name]; ok {
		select {
		case <-old.done:
			// finished session with the same name is replaced
		default:
			return nil, fmt.Errorf("%w: %q", ErrSessionExists, name)
		}
	}
	s := &session{
		info: SessionInfo{
			Name:      name,
			Kind:      kind,
			Target:    target,
			StartedAt: time.Now(),
			Running:   true,
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.sessions[name] = s
	return s, nil
}

// StartResponder launches a responder session in the background.
func (m *Manager) StartResponder(ctx context.Context, name string, opts ResponderOptions) error {
	r, err := NewResponder(opts)
	if err != nil {
		return err
	}

	sctx, cancel := context.WithCancel(ctx)
	s, err := m.register(name, KindResponder, fmt.Sprintf(":%d", opts.Port), cancel)
	if err != nil {
		cancel()
		return err
	}

	go func() {
		err := r.Run(sctx)
		m.mu.Lock()
		s.info.Running = false
		s.info.Err = err
		m.mu.Unlock()
		close(s.done)
		if err != nil {
			slog.Warn("twamp responder session ended with error", "name", name, "err", err)
		}
	}()

	select {
	case <-r.Ready():
		return nil
	case <-s.done:
		m.mu.RLock()
		defer m.mu.RUnlock()
		return s.info.Err
	}
}

// StartSender launches a background sender session. The result becomes
// available through List/Result when the run completes.
func (m *Manager) StartSender(ctx context.Context, name string, opts SenderOptions) error {
	snd, err := NewSender(opts)
	if err != nil {
		return err
	}

	sctx, cancel := context.WithCancel(ctx)
	target := fmt.Sprintf("%s:%d", opts.Destination, opts.Port)
	s, err := m.register(name, KindSender, target, cancel)
	if err != nil {
		cancel()
		return err
	}

	go func() {
		res, err := snd.Run(sctx)
		m.mu.Lock()
		s.info.Running = false
		s.info.Result = res
		s.info.Err = err
		m.mu.Unlock()
		close(s.done)
	}()
	return nil
}

// Stop cancels a session and waits for it to finish.
func (m *Manager) Stop(name string) error {
	m.mu.Lock()
	s, ok := m.sessions[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrSessionNotFound, name)
	}
	delete(m.sessions, name)
	m.mu.Unlock()

	s.cancel()
	<-s.done
	return nil
}

// StopAll cancels every session.
func (m *Manager) StopAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.cancel()
		<-s.done
	}
}

// Result returns the outcome of a finished sender session.
func (m *Manager) Result(name string) (*Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSessionNotFound, name)
	}
	if s.info.Result == nil {
		return nil, fmt.Errorf("session %q has no result yet", name)
	}
	return s.info.Result, nil
}

// List returns a snapshot of all sessions sorted by name.
func (m *Manager) List() []SessionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.sessions))
	for name := range m.sessions {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]SessionInfo, 0, len(names))
	for _, name := range names {
		out = append(out, m.sessions[name].info)
	}
	return out
}
