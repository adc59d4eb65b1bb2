package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/gorilla/websocket"
)

var ErrUnauthorized = errors.New("unauthorized")

type ConnectionState string

const (
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
	ConnectionStateReconnecting ConnectionState = "reconnecting"
)

type ConnectionManagerSettings struct {
	WsHandshakeTimeout time.Duration
	// liveness probe interval while connected. the heartbeat lets the
	// server see half-open connections; reconnection on this side is
	// driven by transport close events, not missed heartbeats.
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
	ReadTimeout       time.Duration

	ReconnectBase        time.Duration
	ReconnectGrowth      float64
	MaxReconnectAttempts int

	// minimum spacing between foreground-triggered reconnects,
	// independent of the backoff counter, so a burst of foregrounded
	// tabs cannot storm the server
	VisibilityCooldown time.Duration

	// out-of-band user notices
	NotificationCallback func(data json.RawMessage)
}

func DefaultConnectionManagerSettings() *ConnectionManagerSettings {
	return &ConnectionManagerSettings{
		WsHandshakeTimeout:   2 * time.Second,
		HeartbeatInterval:    30 * time.Second,
		WriteTimeout:         10 * time.Second,
		ReadTimeout:          90 * time.Second,
		ReconnectBase:        1 * time.Second,
		ReconnectGrowth:      2.0,
		MaxReconnectAttempts: 8,
		VisibilityCooldown:   5 * time.Second,
	}
}

// ConnectionManager owns one push channel for an authenticated client.
// It is long-lived: there is no terminal state, only disconnected.
// Inbound frames are dispatched straight to the cache, so the
// manager-reconciler dependency is visible in the constructor rather
// than hidden behind an event bus.
type ConnectionManager struct {
	ctx    context.Context
	cancel context.CancelFunc

	url   string
	cache *ClientCache

	settings *ConnectionManagerSettings

	// serializes concurrent writers (heartbeat, callers) on one transport
	writeMutex sync.Mutex

	mutex          sync.Mutex
	state          ConnectionState
	ws             *websocket.Conn
	runCancel      context.CancelFunc
	lastForeground time.Time
	wake           chan struct{}
}

func NewConnectionManagerWithDefaults(ctx context.Context, wsUrl string, cache *ClientCache) *ConnectionManager {
	return NewConnectionManager(ctx, wsUrl, cache, DefaultConnectionManagerSettings())
}

func NewConnectionManager(ctx context.Context, wsUrl string, cache *ClientCache, settings *ConnectionManagerSettings) *ConnectionManager {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &ConnectionManager{
		ctx:      cancelCtx,
		cancel:   cancel,
		url:      wsUrl,
		cache:    cache,
		settings: settings,
		state:    ConnectionStateDisconnected,
		wake:     make(chan struct{}, 1),
	}
}

func (self *ConnectionManager) State() ConnectionState {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.state
}

func (self *ConnectionManager) setState(state ConnectionState) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	if self.state != state {
		glog.V(2).Infof("[manager]%s -> %s\n", self.state, state)
		self.state = state
	}
}

// Connect opens the push channel with the given credential. Calling it
// while already connecting or connected first tears down the prior
// transport, so at most one transport is live per manager.
func (self *ConnectionManager) Connect(credential string) {
	self.mutex.Lock()
	if self.runCancel != nil {
		self.runCancel()
		self.runCancel = nil
	}
	if self.ws != nil {
		self.ws.Close()
		self.ws = nil
	}
	runCtx, runCancel := context.WithCancel(self.ctx)
	self.runCancel = runCancel
	self.mutex.Unlock()

	go self.run(runCtx, credential)
}

func (self *ConnectionManager) run(ctx context.Context, credential string) {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			self.setState(ConnectionStateDisconnected)
			return
		default:
		}

		self.setState(ConnectionStateConnecting)
		ws, err := self.dial(ctx, credential)
		if err != nil {
			if errors.Is(err, ErrUnauthorized) {
				// the credential is stale. retrying with it cannot
				// succeed; the caller must connect with a fresh one.
				glog.Infof("[manager]unauthorized = %s\n", err)
				self.setState(ConnectionStateDisconnected)
				return
			}
			glog.Infof("[manager]connect error = %s\n", err)
			if !self.awaitReconnect(ctx, &attempt) {
				self.setState(ConnectionStateDisconnected)
				return
			}
			continue
		}

		self.setWs(ws)
		self.setState(ConnectionStateConnected)
		attempt = 0

		graceful := self.serve(ctx, ws)
		self.setWs(nil)

		if graceful {
			self.setState(ConnectionStateDisconnected)
			return
		}

		self.setState(ConnectionStateReconnecting)
		if !self.awaitReconnect(ctx, &attempt) {
			self.setState(ConnectionStateDisconnected)
			return
		}
	}
}

func (self *ConnectionManager) dial(ctx context.Context, credential string) (*websocket.Conn, error) {
	u, err := url.Parse(self.url)
	if err != nil {
		return nil, err
	}
	query := u.Query()
	query.Set("auth", credential)
	u.RawQuery = query.Encode()

	dialer := &websocket.Dialer{
		HandshakeTimeout: self.settings.WsHandshakeTimeout,
	}
	ws, response, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if response != nil && response.StatusCode == http.StatusUnauthorized {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	return ws, nil
}

func (self *ConnectionManager) setWs(ws *websocket.Conn) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.ws = ws
}

// serve reads frames until the transport closes.
// Returns true for a graceful close that should not reconnect.
func (self *ConnectionManager) serve(ctx context.Context, ws *websocket.Conn) bool {
	handleCtx, handleCancel := context.WithCancel(ctx)
	defer handleCancel()

	// cancellation stops the heartbeat first, then unblocks the read
	go func() {
		<-handleCtx.Done()
		ws.Close()
	}()

	go func() {
		for {
			select {
			case <-handleCtx.Done():
				return
			case <-time.After(self.settings.HeartbeatInterval):
				if err := self.writeMessage(ws, MessageTypePing, nil); err != nil {
					glog.V(2).Infof("[manager]heartbeat error = %s\n", err)
					handleCancel()
					return
				}
			}
		}
	}()

	for {
		ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
		_, frame, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.ClosePolicyViolation) {
				// server closed the channel on purpose, e.g. identity revoked
				glog.Infof("[manager]closed by server = %s\n", err)
				return true
			}
			glog.V(2).Infof("[manager]read error = %s\n", err)
			return false
		}
		self.dispatch(frame)
	}
}

// awaitReconnect sleeps out the backoff for the current attempt.
// After the attempt cap the manager parks until an external trigger.
// Returns false when the run loop should exit.
func (self *ConnectionManager) awaitReconnect(ctx context.Context, attempt *int) bool {
	if self.settings.MaxReconnectAttempts <= *attempt {
		self.setState(ConnectionStateDisconnected)
		glog.Infof("[manager]reconnect attempts exhausted, parked\n")
		select {
		case <-ctx.Done():
			return false
		case <-self.wake:
			*attempt = 0
			return true
		}
	}

	delay := self.reconnectDelay(*attempt)
	*attempt += 1
	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	case <-self.wake:
		// foreground recovery bypasses the remaining backoff
		return true
	}
}

func (self *ConnectionManager) reconnectDelay(attempt int) time.Duration {
	return time.Duration(
		float64(self.settings.ReconnectBase) * math.Pow(self.settings.ReconnectGrowth, float64(attempt)),
	)
}

// NotifyForeground signals that the host environment foregrounded the
// client. If the transport is not open, reconnect immediately, subject
// only to the visibility cooldown.
func (self *ConnectionManager) NotifyForeground() {
	self.mutex.Lock()
	if self.state == ConnectionStateConnected || self.state == ConnectionStateConnecting {
		self.mutex.Unlock()
		return
	}
	now := time.Now()
	if now.Sub(self.lastForeground) < self.settings.VisibilityCooldown {
		self.mutex.Unlock()
		return
	}
	self.lastForeground = now
	self.mutex.Unlock()

	select {
	case self.wake <- struct{}{}:
	default:
	}
}

// Send transmits one frame. Sending while not connected is a warned
// no-op, never an error; callers tolerate drops and rely on the
// fallback path.
func (self *ConnectionManager) Send(messageType MessageType, data any) {
	self.mutex.Lock()
	state := self.state
	ws := self.ws
	self.mutex.Unlock()

	if state != ConnectionStateConnected || ws == nil {
		glog.Infof("[manager]send %s dropped while %s\n", messageType, state)
		return
	}
	if err := self.writeMessage(ws, messageType, data); err != nil {
		glog.Infof("[manager]send %s error = %s\n", messageType, err)
	}
}

func (self *ConnectionManager) RequestSync() {
	self.Send(MessageTypeSyncRequest, nil)
}

func (self *ConnectionManager) SendChanges(changes []*EntityChange) {
	self.Send(MessageTypeChanges, &ChangesPayload{
		Changes: changes,
	})
}

func (self *ConnectionManager) writeMessage(ws *websocket.Conn, messageType MessageType, data any) error {
	frame, err := EncodeMessage(messageType, data)
	if err != nil {
		return err
	}
	self.writeMutex.Lock()
	defer self.writeMutex.Unlock()
	ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
	return ws.WriteMessage(websocket.TextMessage, frame)
}

func (self *ConnectionManager) dispatch(frame []byte) {
	message, err := DecodeMessage(frame)
	if err != nil {
		glog.Infof("[manager]malformed frame dropped = %s\n", err)
		return
	}

	switch message.Type {
	case MessageTypeConnected:
		glog.V(2).Infof("[manager]connected\n")
	case MessageTypePong:
		// heartbeat reply
	case MessageTypeSyncResponse:
		snapshot := &Snapshot{}
		if err := json.Unmarshal(message.Data, snapshot); err != nil {
			glog.Infof("[manager]bad snapshot dropped = %s\n", err)
			return
		}
		if err := self.cache.ApplySnapshot(snapshot); err != nil {
			glog.Infof("[manager]apply snapshot error = %s\n", err)
		}
	case MessageTypeUpdate:
		change := &EntityChange{}
		if err := json.Unmarshal(message.Data, change); err != nil {
			glog.Infof("[manager]bad change dropped = %s\n", err)
			return
		}
		self.cache.ApplyChange(change)
	case MessageTypeChangesAck:
		glog.V(2).Infof("[manager]changes acked\n")
	case MessageTypeNotification:
		if self.settings.NotificationCallback != nil {
			self.settings.NotificationCallback(message.Data)
		}
	case MessageTypeError:
		payload := &ErrorPayload{}
		json.Unmarshal(message.Data, payload)
		glog.Infof("[manager]server error = %s\n", payload.Message)
	default:
		// unknown kinds are dropped, never crash the manager
		glog.Infof("[manager]unknown message type %s dropped\n", message.Type)
	}
}

// Close tears down the manager: pending heartbeat and reconnect timers
// cancel before the transport closes, so no reconnect fires against a
// dormant manager.
func (self *ConnectionManager) Close() {
	self.cancel()

	self.mutex.Lock()
	ws := self.ws
	self.ws = nil
	self.mutex.Unlock()
	if ws != nil {
		ws.Close()
	}
}
