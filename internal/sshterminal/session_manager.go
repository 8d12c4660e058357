package sshterminal

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/Aurora-Studio-Dev/SimpleSSH/internal/logutil"
)

// Observer builds a handler for a newly created session. Observers let
// process-wide collaborators such as the audit trail follow every session
// while still being subscribed to one session at a time.
type Observer func(s *Session) EventHandler

// SessionManager owns the set of open sessions, keyed by id.
type SessionManager struct {
	dialer Dialer
	opts   Options

	mu        sync.RWMutex
	sessions  map[string]*Session
	observers []Observer
}

// NewSessionManager creates a manager whose sessions dial through dialer
// and share opts.
func NewSessionManager(dialer Dialer, opts Options) *SessionManager {
	return &SessionManager{
		dialer:   dialer,
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// AddObserver subscribes obs to every session opened from now on.
func (sm *SessionManager) AddObserver(obs Observer) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.observers = append(sm.observers, obs)
}

// Open connects a new session to target and returns its id. The handlers
// are subscribed before connecting, so they observe the whole lifecycle
// including a failed attempt. A session that fails to connect is never
// stored and its id is never handed out again.
func (sm *SessionManager) Open(ctx context.Context, target Target, password string, handlers ...EventHandler) (string, error) {
	if err := target.Validate(); err != nil {
		return "", fmt.Errorf("open: %w", err)
	}

	id := uuid.New().String()
	s, err := NewSession(id, target, sm.dialer, sm.opts)
	if err != nil {
		return "", fmt.Errorf("open: %w", err)
	}

	sm.mu.RLock()
	observers := make([]Observer, len(sm.observers))
	copy(observers, sm.observers)
	sm.mu.RUnlock()

	for _, obs := range observers {
		if h := obs(s); h != nil {
			s.Subscribe(h)
		}
	}
	for _, h := range handlers {
		s.Subscribe(h)
	}
	s.onDisconnect = func(s *Session) { sm.remove(s.ID) }

	if err := s.Connect(ctx, password); err != nil {
		return "", err
	}

	sm.mu.Lock()
	sm.sessions[id] = s
	sm.mu.Unlock()

	// The remote end may already have closed the shell, in which case the
	// disconnect hook ran before the session was stored.
	if s.State() != StateConnected {
		sm.remove(id)
	}

	log.Printf("[session-mgr] opened session %s to %s", id, logutil.SanitizeForLog(target.String()))
	return id, nil
}

// Get returns the session with the given id.
func (sm *SessionManager) Get(id string) (*Session, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	s, ok := sm.sessions[id]
	return s, ok
}

// List returns the open sessions ordered by creation time.
func (sm *SessionManager) List() []*Session {
	sm.mu.RLock()
	result := make([]*Session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		result = append(result, s)
	}
	sm.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// Count returns the number of open sessions.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// Execute sends command to the session with the given id.
func (sm *SessionManager) Execute(id, command string) error {
	s, ok := sm.Get(id)
	if !ok {
		return &Error{Kind: KindStreamNotInitialized, Op: "execute", Err: fmt.Errorf("session %s not found", id)}
	}
	return s.Execute(command)
}

// ChangeDirectory changes the working directory of the session's shell.
func (sm *SessionManager) ChangeDirectory(id, path string) error {
	s, ok := sm.Get(id)
	if !ok {
		return &Error{Kind: KindStreamNotInitialized, Op: "cd", Err: fmt.Errorf("session %s not found", id)}
	}
	return s.ChangeDirectory(path)
}

// Subscribe registers h for the events of the session with the given id.
func (sm *SessionManager) Subscribe(id string, h EventHandler) (func(), error) {
	s, ok := sm.Get(id)
	if !ok {
		return nil, fmt.Errorf("session %s not found", id)
	}
	return s.Subscribe(h), nil
}

// Close disconnects and removes the session. Unknown ids are ignored.
func (sm *SessionManager) Close(id string) error {
	s, ok := sm.Get(id)
	if !ok {
		return nil
	}
	err := s.Disconnect()
	sm.remove(id)
	log.Printf("[session-mgr] closed session %s", id)
	return err
}

// CloseAll disconnects and removes every session. Sessions are closed
// concurrently; a failure in one does not stop the others. It returns
// the joined teardown errors.
func (sm *SessionManager) CloseAll() error {
	sm.mu.RLock()
	sessions := make([]*Session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		sessions = append(sessions, s)
	}
	sm.mu.RUnlock()

	if len(sessions) == 0 {
		return nil
	}

	var (
		wg    sync.WaitGroup
		errMu sync.Mutex
		errs  []error
	)
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			defer func() {
				if p := recover(); p != nil {
					errMu.Lock()
					errs = append(errs, fmt.Errorf("session %s: disconnect panic: %v", s.ID, p))
					errMu.Unlock()
				}
				sm.remove(s.ID)
			}()
			if err := s.Disconnect(); err != nil {
				errMu.Lock()
				errs = append(errs, fmt.Errorf("session %s: %w", s.ID, err))
				errMu.Unlock()
			}
		}(s)
	}
	wg.Wait()

	log.Printf("[session-mgr] closed %d session(s)", len(sessions))
	if len(errs) > 0 {
		err := errors.Join(errs...)
		log.Printf("[session-mgr] close all: %v", err)
		return err
	}
	return nil
}

func (sm *SessionManager) remove(id string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.sessions, id)
}
