package shell

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wsterm/wsterm/pkg/logging"
	"github.com/wsterm/wsterm/pkg/must"
)

// reapTick is how often the registry checks for sessions that have been
// detached longer than their timeout.
const reapTick = time.Second

// Session is one detachable shell: a shell process plus the bookkeeping a
// registry needs to know whether anyone is currently attached to it and,
// if not, how long it's been idle.
//
// A session's output is forwarded by exactly one Forward goroutine, started
// once by Registry.Create and running for the session's entire lifetime
// (detach and reattach do not start or stop it). What changes across
// detach/reattach is the sink that goroutine delivers to: SetSink installs
// the currently attached connection's callbacks, and ClearSink (called from
// a connection's close handler) drops them back to nothing, so a connection
// that has gone away stops receiving writes instead of racing a second
// reader started for whoever reattaches next.
type Session struct {
	ID       string
	Shell    Shell
	Timeout  time.Duration
	attached bool
	detachedAt time.Time

	sinkMu   sync.Mutex
	onOutput func([]byte)
	onExit   func(int)
}

// SetSink installs the output/exit callbacks for the connection currently
// attached to the session.
func (s *Session) SetSink(onOutput func([]byte), onExit func(int)) {
	s.sinkMu.Lock()
	defer s.sinkMu.Unlock()
	s.onOutput = onOutput
	s.onExit = onExit
}

// ClearSink detaches the session's sink. Output produced while nobody is
// attached is dropped rather than delivered to a connection that has
// already closed.
func (s *Session) ClearSink() {
	s.SetSink(nil, nil)
}

func (s *Session) dispatchOutput(chunk []byte) {
	s.sinkMu.Lock()
	onOutput := s.onOutput
	s.sinkMu.Unlock()
	if onOutput != nil {
		onOutput(chunk)
	}
}

func (s *Session) dispatchExit(code int) {
	s.sinkMu.Lock()
	onExit := s.onExit
	s.sinkMu.Unlock()
	if onExit != nil {
		onExit(code)
	}
}

// Registry is the process-wide table of live shell sessions, keyed by a
// UUIDv4 session id. Only the handler currently attached to a session
// touches that session's shell; the registry itself only arbitrates
// attachment and reaps sessions that have been detached past their
// timeout.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	logger   *logging.Logger

	stop chan struct{}
}

// NewRegistry creates an empty registry and starts its background reaper.
func NewRegistry(logger *logging.Logger) *Registry {
	r := &Registry{
		sessions: make(map[string]*Session),
		logger:   logger,
		stop:     make(chan struct{}),
	}
	go r.reapLoop()
	return r
}

// Create registers a new session wrapping sh and returns it, attached
// by default (a session is always created on behalf of the connection that
// asked for it). It starts the session's single, lifetime-long Forward
// goroutine; the caller still needs to call SetSink to receive its output.
func (r *Registry) Create(sh Shell, timeout time.Duration) *Session {
	session := &Session{
		ID:      uuid.NewString(),
		Shell:   sh,
		Timeout: timeout,
		attached: true,
	}

	r.mu.Lock()
	r.sessions[session.ID] = session
	r.mu.Unlock()

	go Forward(sh, session.dispatchOutput, func(code int) {
		session.dispatchExit(code)
		r.Remove(session.ID)
	})

	return session
}

// Get returns the session with the given id, if it's still registered.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	return session, ok
}

// Attach marks a session as attached, undoing any pending detach timeout.
func (r *Registry) Attach(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	session.attached = true
	return session, true
}

// Detach marks a session as detached, starting its idle-timeout clock.
func (r *Registry) Detach(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if session, ok := r.sessions[id]; ok {
		session.attached = false
		session.detachedAt = time.Now()
	}
}

// Remove unregisters and closes a session unconditionally, e.g. when its
// shell exits on its own.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	session, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if ok {
		must.Close(session.Shell, r.logger)
	}
}

// Close stops the reaper and closes every registered session's shell.
func (r *Registry) Close() {
	close(r.stop)

	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, session := range sessions {
		must.Close(session.Shell, r.logger)
	}
}

func (r *Registry) reapLoop() {
	ticker := time.NewTicker(reapTick)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.reapOnce()
		}
	}
}

func (r *Registry) reapOnce() {
	now := time.Now()

	r.mu.Lock()
	var expired []*Session
	for id, session := range r.sessions {
		if !session.attached && session.Timeout > 0 && now.Sub(session.detachedAt) >= session.Timeout {
			expired = append(expired, session)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, session := range expired {
		r.logger.Debugf("Reaping idle session %s", session.ID)
		must.Close(session.Shell, r.logger)
	}
}
