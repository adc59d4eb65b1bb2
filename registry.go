package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"

	"golang.org/x/exp/maps"
)

// a delivery route to one connected client, analogous to one outbound frame queue
type Route = chan []byte

// Session is one authenticated live push-channel connection.
// A user may hold several concurrent sessions (tabs, devices); each is
// independent and none is authoritative over another.
type Session struct {
	SessionId string
	UserId    Id
	Role      Role

	// guards `send` against delivery racing close
	mutex          sync.Mutex
	send           Route
	closed         bool
	lastActivityAt time.Time
}

func NewSession(sessionId string, userId Id, role Role, sendBufferSize int) *Session {
	return &Session{
		SessionId:      sessionId,
		UserId:         userId,
		Role:           role,
		send:           make(Route, sendBufferSize),
		lastActivityAt: time.Now(),
	}
}

// Deliver appends a frame to the session's outbound queue.
// Returns false if the session is closed or the queue is full.
// A false return is a drop, never an error. Removal of broken sessions
// belongs to the registry, driven by the transport's own close event.
func (self *Session) Deliver(frame []byte) bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	if self.closed {
		return false
	}
	select {
	case self.send <- frame:
		return true
	default:
		// the client is not draining its queue
		return false
	}
}

// Send exposes the outbound queue for the transport write loop.
// The channel is closed exactly once, when the session closes.
func (self *Session) Send() <-chan []byte {
	return self.send
}

func (self *Session) Touch() {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.lastActivityAt = time.Now()
}

func (self *Session) LastActivityAt() time.Time {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.lastActivityAt
}

func (self *Session) close() {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	if self.closed {
		return
	}
	self.closed = true
	close(self.send)
}

func (self *Session) IsClosed() bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.closed
}

type ClientRegistrySettings struct {
	// a session idle longer than this is proactively terminated,
	// protecting the table from leaking entries when close events are lost
	IdleTimeout   time.Duration
	SweepInterval time.Duration
}

func DefaultClientRegistrySettings() *ClientRegistrySettings {
	return &ClientRegistrySettings{
		IdleTimeout:   120 * time.Second,
		SweepInterval: 30 * time.Second,
	}
}

// ClientRegistry is the table of currently connected sessions.
// Existence in the table is the sole authorization for receiving routed
// changes; deregistration immediately halts delivery to that session.
type ClientRegistry struct {
	ctx    context.Context
	cancel context.CancelFunc

	settings *ClientRegistrySettings

	// guards the maps only. per-session state has its own lock so that
	// one session's churn never delays delivery to others.
	mutex        sync.RWMutex
	sessions     map[string]*Session
	userSessions map[Id]map[string]*Session
}

func NewClientRegistryWithDefaults(ctx context.Context) *ClientRegistry {
	return NewClientRegistry(ctx, DefaultClientRegistrySettings())
}

func NewClientRegistry(ctx context.Context, settings *ClientRegistrySettings) *ClientRegistry {
	cancelCtx, cancel := context.WithCancel(ctx)
	registry := &ClientRegistry{
		ctx:          cancelCtx,
		cancel:       cancel,
		settings:     settings,
		sessions:     map[string]*Session{},
		userSessions: map[Id]map[string]*Session{},
	}
	go registry.run()
	return registry
}

func (self *ClientRegistry) run() {
	for {
		select {
		case <-self.ctx.Done():
			return
		case <-time.After(self.settings.SweepInterval):
			self.sweep()
		}
	}
}

func (self *ClientRegistry) sweep() {
	idle := []*Session{}
	cutoff := time.Now().Add(-self.settings.IdleTimeout)

	self.mutex.RLock()
	for _, session := range self.sessions {
		if session.LastActivityAt().Before(cutoff) {
			idle = append(idle, session)
		}
	}
	self.mutex.RUnlock()

	for _, session := range idle {
		glog.Infof("[registry]sweep idle session %s user %s\n", session.SessionId, session.UserId)
		self.Deregister(session)
	}
}

// Register inserts or replaces the entry for a transport.
func (self *ClientRegistry) Register(session *Session) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if previous, ok := self.sessions[session.SessionId]; ok && previous != session {
		previous.close()
		self.removeLocked(previous)
	}

	self.sessions[session.SessionId] = session
	sessions, ok := self.userSessions[session.UserId]
	if !ok {
		sessions = map[string]*Session{}
		self.userSessions[session.UserId] = sessions
	}
	sessions[session.SessionId] = session

	glog.V(2).Infof("[registry]register %s user %s (%s)\n", session.SessionId, session.UserId, session.Role)
}

// Deregister removes the session and closes its outbound queue.
// Safe to call concurrently with in-flight delivery: delivery either
// observes the open session or it does not.
func (self *ClientRegistry) Deregister(session *Session) {
	self.mutex.Lock()
	if current, ok := self.sessions[session.SessionId]; !ok || current != session {
		self.mutex.Unlock()
		session.close()
		return
	}
	self.removeLocked(session)
	self.mutex.Unlock()

	session.close()
	glog.V(2).Infof("[registry]deregister %s user %s\n", session.SessionId, session.UserId)
}

func (self *ClientRegistry) removeLocked(session *Session) {
	delete(self.sessions, session.SessionId)
	if sessions, ok := self.userSessions[session.UserId]; ok {
		delete(sessions, session.SessionId)
		if len(sessions) == 0 {
			delete(self.userSessions, session.UserId)
		}
	}
}

func (self *ClientRegistry) Session(sessionId string) *Session {
	self.mutex.RLock()
	defer self.mutex.RUnlock()
	return self.sessions[sessionId]
}

// SessionsForUser returns a copy of the user's current sessions.
func (self *ClientRegistry) SessionsForUser(userId Id) []*Session {
	self.mutex.RLock()
	defer self.mutex.RUnlock()
	sessions, ok := self.userSessions[userId]
	if !ok {
		return nil
	}
	return maps.Values(sessions)
}

// SessionsForRole returns a copy of all current sessions with the role.
func (self *ClientRegistry) SessionsForRole(role Role) []*Session {
	self.mutex.RLock()
	defer self.mutex.RUnlock()
	sessions := []*Session{}
	for _, session := range self.sessions {
		if session.Role == role {
			sessions = append(sessions, session)
		}
	}
	return sessions
}

func (self *ClientRegistry) SessionCount() int {
	self.mutex.RLock()
	defer self.mutex.RUnlock()
	return len(self.sessions)
}

func (self *ClientRegistry) Close() {
	self.cancel()

	self.mutex.Lock()
	sessions := maps.Values(self.sessions)
	self.sessions = map[string]*Session{}
	self.userSessions = map[Id]map[string]*Session{}
	self.mutex.Unlock()

	for _, session := range sessions {
		session.close()
	}
}
