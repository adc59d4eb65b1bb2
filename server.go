package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/golang/glog"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type ServerSettings struct {
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	SyncTimeout    time.Duration
	MaxMessageSize int64
	SendBufferSize int
}

func DefaultServerSettings() *ServerSettings {
	return &ServerSettings{
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    90 * time.Second,
		SyncTimeout:    10 * time.Second,
		MaxMessageSize: 64 * 1024,
		SendBufferSize: 256,
	}
}

// Server terminates push channels and serves the http fallback.
// Inbound frames for one session are handled on that session's read
// loop, so no two frames from the same session process concurrently.
type Server struct {
	ctx    context.Context
	cancel context.CancelFunc

	registry   *ClientRegistry
	router     *ChangeRouter
	snapshots  *SnapshotService
	limiter    *RateLimiter
	identities *IdentityResolverChain

	settings *ServerSettings

	upgrader websocket.Upgrader
}

func NewServer(
	ctx context.Context,
	registry *ClientRegistry,
	router *ChangeRouter,
	snapshots *SnapshotService,
	limiter *RateLimiter,
	identities *IdentityResolverChain,
	settings *ServerSettings,
) *Server {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &Server{
		ctx:        cancelCtx,
		cancel:     cancel,
		registry:   registry,
		router:     router,
		snapshots:  snapshots,
		limiter:    limiter,
		identities: identities,
		settings:   settings,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (self *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", self.HandleWs)
	mux.HandleFunc("/sync", self.HandleSync)
	mux.HandleFunc("/sync/changes", self.HandleSyncChanges)
	mux.HandleFunc("/status", self.HandleStatus)
	return mux
}

// HandleWs authenticates, registers a session and runs the pumps.
// A missing or invalid credential rejects the connection with an
// unauthorized status before any message exchange.
func (self *Server) HandleWs(w http.ResponseWriter, r *http.Request) {
	identity, err := self.identities.ResolveIdentity(r)
	if err != nil {
		glog.V(2).Infof("[server]ws unauthorized = %s\n", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := self.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Infof("[server]upgrade error = %s\n", err)
		return
	}

	session := NewSession(uuid.New().String(), identity.UserId, identity.Role, self.settings.SendBufferSize)
	self.registry.Register(session)

	self.deliverTo(session, MessageTypeConnected, &ConnectedPayload{
		UserId:   identity.UserId,
		UserType: identity.Role,
	})

	go self.writePump(ws, session)
	self.readPump(ws, session)
}

func (self *Server) writePump(ws *websocket.Conn, session *Session) {
	defer ws.Close()

	for frame := range session.Send() {
		ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
		if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
			glog.V(2).Infof("[server]%s-> error = %s\n", session.SessionId, err)
			return
		}
		glog.V(2).Infof("[server]%s->\n", session.SessionId)
	}

	// the session was deregistered. close the channel gracefully.
	ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
	ws.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
}

func (self *Server) readPump(ws *websocket.Conn, session *Session) {
	defer func() {
		self.registry.Deregister(session)
		ws.Close()
	}()

	ws.SetReadLimit(self.settings.MaxMessageSize)
	for {
		ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
		_, frame, err := ws.ReadMessage()
		if err != nil {
			glog.V(2).Infof("[server]%s<- closed = %s\n", session.SessionId, err)
			return
		}
		session.Touch()
		self.handleFrame(session, frame)
	}
}

func (self *Server) handleFrame(session *Session, frame []byte) {
	message, err := DecodeMessage(frame)
	if err != nil {
		// malformed frames are dropped, the connection stays up
		glog.Infof("[server]%s malformed frame dropped = %s\n", session.SessionId, err)
		return
	}

	switch message.Type {
	case MessageTypePing:
		self.deliverTo(session, MessageTypePong, nil)
	case MessageTypeSyncRequest:
		syncCtx, syncCancel := context.WithTimeout(self.ctx, self.settings.SyncTimeout)
		defer syncCancel()
		snapshot, err := self.snapshots.ComputeSnapshot(syncCtx, session.UserId, session.Role)
		if err != nil {
			glog.Infof("[server]%s snapshot error = %s\n", session.SessionId, err)
			self.deliverTo(session, MessageTypeError, &ErrorPayload{
				Message: "snapshot failed",
			})
			return
		}
		self.deliverTo(session, MessageTypeSyncResponse, snapshot)
	case MessageTypeChanges:
		if !self.limiter.Allow(session.UserId) {
			// rejected, not punitive: the session stays connected
			glog.Infof("[server]%s rate limited\n", session.SessionId)
			self.deliverTo(session, MessageTypeError, &ErrorPayload{
				Message: "rate limit exceeded",
			})
			return
		}
		payload := &ChangesPayload{}
		if err := json.Unmarshal(message.Data, payload); err != nil {
			glog.Infof("[server]%s bad changes payload dropped = %s\n", session.SessionId, err)
			return
		}
		count := 0
		for _, change := range payload.Changes {
			if err := change.Validate(); err != nil {
				glog.Infof("[server]%s invalid change dropped = %s\n", session.SessionId, err)
				continue
			}
			change.OriginatingUserId = session.UserId
			self.router.Enqueue(change, session.SessionId)
			count += 1
		}
		self.deliverTo(session, MessageTypeChangesAck, &ChangesAckPayload{
			Count: count,
		})
	default:
		glog.V(2).Infof("[server]%s unexpected %s dropped\n", session.SessionId, message.Type)
	}
}

// NotifyUser pushes an out-of-band notice to every session of the user.
func (self *Server) NotifyUser(userId Id, data any) {
	frame, err := EncodeMessage(MessageTypeNotification, data)
	if err != nil {
		glog.Infof("[server]encode notification error = %s\n", err)
		return
	}
	for _, session := range self.registry.SessionsForUser(userId) {
		session.Deliver(frame)
	}
}

func (self *Server) deliverTo(session *Session, messageType MessageType, data any) {
	frame, err := EncodeMessage(messageType, data)
	if err != nil {
		glog.Infof("[server]encode %s error = %s\n", messageType, err)
		return
	}
	session.Deliver(frame)
}

type syncResult struct {
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
	*Snapshot
}

type changesResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// HandleSync is the fallback read path: the same snapshot the push
// channel serves, over plain request/response.
func (self *Server) HandleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	identity, err := self.identities.ResolveIdentity(r)
	if err != nil {
		writeJson(w, http.StatusUnauthorized, &changesResult{
			Success: false,
			Message: "unauthorized",
		})
		return
	}

	snapshot, err := self.snapshots.ComputeSnapshot(r.Context(), identity.UserId, identity.Role)
	if err != nil {
		glog.Infof("[server]sync snapshot error = %s\n", err)
		writeJson(w, http.StatusInternalServerError, &changesResult{
			Success: false,
			Message: "snapshot failed",
		})
		return
	}

	writeJson(w, http.StatusOK, &syncResult{
		Success:   true,
		Timestamp: time.Now().UTC(),
		Snapshot:  snapshot,
	})
}

// HandleSyncChanges is the fallback write path. Acceptance acknowledges
// receipt; push delivery to other parties stays best-effort.
func (self *Server) HandleSyncChanges(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	identity, err := self.identities.ResolveIdentity(r)
	if err != nil {
		writeJson(w, http.StatusUnauthorized, &changesResult{
			Success: false,
			Message: "unauthorized",
		})
		return
	}
	if !self.limiter.Allow(identity.UserId) {
		writeJson(w, http.StatusTooManyRequests, &changesResult{
			Success: false,
			Message: "rate limit exceeded",
		})
		return
	}

	payload := &ChangesPayload{}
	if err := json.NewDecoder(r.Body).Decode(payload); err != nil {
		writeJson(w, http.StatusBadRequest, &changesResult{
			Success: false,
			Message: "bad request",
		})
		return
	}

	count := 0
	for _, change := range payload.Changes {
		if err := change.Validate(); err != nil {
			glog.Infof("[server]invalid fallback change dropped = %s\n", err)
			continue
		}
		change.OriginatingUserId = identity.UserId
		// no origin session: the http path has no transport to exclude
		self.router.Enqueue(change, "")
		count += 1
	}

	writeJson(w, http.StatusOK, &changesResult{
		Success: true,
		Message: "accepted",
	})
	glog.V(2).Infof("[server]fallback accepted %d changes from %s\n", count, identity.UserId)
}

func (self *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJson(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": self.registry.SessionCount(),
	})
}

func writeJson(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (self *Server) Close() {
	self.cancel()
}
