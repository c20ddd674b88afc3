package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prudhvinik1/focuspresence/internal/models"
	"github.com/prudhvinik1/focuspresence/internal/services"
)

const (
	wsMaxPayloadBytes = 64 << 10
	wsSendBuffer      = 64
	wsPongWait        = 60 * time.Second
	wsPingPeriod      = wsPongWait * 9 / 10
	wsWriteWait       = 10 * time.Second
)

// Client frame types.
const (
	frameHeartbeat   = "heartbeat"
	frameSubscribe   = "subscribe"
	frameUnsubscribe = "unsubscribe"
	frameStatus      = "status"
)

// clientFrame is anything a client sends; fields apply per type.
type clientFrame struct {
	Type     string                `json:"type"`
	GroupIDs []string              `json:"groupIds,omitempty"`
	GroupID  *string               `json:"groupId,omitempty"`
	Status   models.PresenceStatus `json:"status,omitempty"`
	Activity *string               `json:"activity,omitempty"`
}

type presenceFrame struct {
	Type      string              `json:"type"`
	Topic     string              `json:"topic"`
	Kind      models.EventKind    `json:"kind"`
	Record    models.PresenceView `json:"record"`
	Timestamp time.Time           `json:"timestamp"`
}

type ackFrame struct {
	Type         string               `json:"type"`
	For          string               `json:"for"`
	UserID       string               `json:"userId"`
	ConnectionID string               `json:"connectionId,omitempty"`
	ResumedFrom  string               `json:"resumedFrom,omitempty"`
	Groups       []string             `json:"groups,omitempty"`
	Record       *models.PresenceView `json:"record,omitempty"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WebSocketHandler turns each socket into a presence connection: open is a
// connect (or a resume), close is a disconnect, and the hub pushes feed events
// down the socket.
type WebSocketHandler struct {
	svc      *services.PresenceService
	hub      *services.Hub
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[*wsSession]struct{}
	closing  bool
	wg       sync.WaitGroup
}

func NewWebSocketHandler(svc *services.PresenceService, hub *services.Hub, logger *slog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		svc:    svc,
		hub:    hub,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
		sessions: make(map[*wsSession]struct{}),
	}
}

type wsSession struct {
	handler *WebSocketHandler
	conn    *websocket.Conn
	send    chan []byte
	ctx     context.Context
	cancel  context.CancelFunc

	userID       string
	connectionID string
	resumedFrom  string
	logger       *slog.Logger
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing identity"})
		return
	}

	if h.isClosing() {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "server is shutting down"})
		return
	}

	// Every socket gets its own connection id. The id a resuming client
	// presents only names the session it is resuming; recovery is keyed by
	// user, and the old socket may still be attached.
	query := r.URL.Query()
	groupID := query.Get("groupId")
	resume := query.Get("resume") == "1"
	resumedFrom := ""
	if resume {
		resumedFrom = query.Get("connectionId")
	}
	connectionID := uuid.NewString()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "user", userID, "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	s := &wsSession{
		handler:      h,
		conn:         conn,
		send:         make(chan []byte, wsSendBuffer),
		ctx:          ctx,
		cancel:       cancel,
		userID:       userID,
		connectionID: connectionID,
		resumedFrom:  resumedFrom,
		logger:       h.logger.With("user", userID, "conn", connectionID),
	}
	if !h.track(s) {
		s.close()
		return
	}
	defer h.untrack(s)
	s.run(groupID, resume)
}

func (h *WebSocketHandler) isClosing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closing
}

func (h *WebSocketHandler) track(s *wsSession) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.sessions[s] = struct{}{}
	h.wg.Add(1)
	return true
}

func (h *WebSocketHandler) untrack(s *wsSession) {
	h.mu.Lock()
	delete(h.sessions, s)
	h.mu.Unlock()
	h.wg.Done()
}

// Shutdown refuses new sockets, closes the open ones and waits until each
// has run its disconnect. http.Server.Shutdown does not see hijacked
// connections, so the server must call this as well.
func (h *WebSocketHandler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	open := make([]*wsSession, 0, len(h.sessions))
	for s := range h.sessions {
		open = append(open, s)
	}
	h.mu.Unlock()

	h.logger.Info("closing websocket sessions", "count", len(open))
	for _, s := range open {
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(wsWriteWait))
		s.close()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *wsSession) run(groupID string, resume bool) {
	defer s.close()
	go s.writeLoop()

	unregister := s.handler.hub.Register(s.userID, s.connectionID, s)
	defer unregister()

	var view *models.PresenceView
	var err error
	if resume {
		view, err = s.handler.svc.RecoverPresenceState(s.ctx, s.userID, s.connectionID, groupID)
	} else {
		view, err = s.handler.svc.HandleConnect(s.ctx, s.userID, s.connectionID, groupID)
	}
	if err != nil {
		s.logger.Error("failed to attach connection", "error", err)
		s.sendError("connect_failed", "presence is temporarily unavailable")
		s.flush()
		return
	}
	defer s.handler.svc.HandleDisconnect(context.WithoutCancel(s.ctx), s.userID, s.connectionID)

	s.enqueue(ackFrame{
		Type:         "ack",
		For:          "connect",
		UserID:       s.userID,
		ConnectionID: s.connectionID,
		ResumedFrom:  s.resumedFrom,
		Record:       view,
	})
	s.readLoop()
}

func (s *wsSession) close() {
	s.cancel()
	_ = s.conn.Close()
}

// flush gives the write loop a moment to send a final frame before close.
func (s *wsSession) flush() {
	deadline := time.Now().Add(wsWriteWait)
	for len(s.send) > 0 && s.ctx.Err() == nil && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
}

func (s *wsSession) readLoop() {
	s.conn.SetReadLimit(wsMaxPayloadBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		if messageType != websocket.TextMessage {
			continue
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.sendError("invalid_frame", err.Error())
			continue
		}
		s.handleFrame(&frame)
	}
}

func (s *wsSession) handleFrame(frame *clientFrame) {
	svc := s.handler.svc
	switch frame.Type {
	case frameHeartbeat:
		if err := svc.RecordActivity(s.ctx, s.userID); err != nil {
			s.logger.Warn("heartbeat failed", "error", err)
		}
		s.enqueue(ackFrame{Type: "ack", For: frameHeartbeat, UserID: s.userID})

	case frameSubscribe:
		groups := svc.Subscribe(s.userID, frame.GroupIDs...)
		s.enqueue(ackFrame{Type: "ack", For: frameSubscribe, UserID: s.userID, Groups: groups})

	case frameUnsubscribe:
		if frame.GroupID == nil || *frame.GroupID == "" {
			s.sendError("invalid_frame", "groupId is required")
			return
		}
		groups := svc.Unsubscribe(s.userID, *frame.GroupID)
		s.enqueue(ackFrame{Type: "ack", For: frameUnsubscribe, UserID: s.userID, Groups: groups})

	case frameStatus:
		view, err := svc.UpdatePresence(s.ctx, services.UpdateRequest{
			UserID:   s.userID,
			Status:   frame.Status,
			GroupID:  frame.GroupID,
			Activity: frame.Activity,
		})
		if err != nil {
			s.sendServiceError(err)
			return
		}
		s.enqueue(ackFrame{Type: "ack", For: frameStatus, UserID: s.userID, Record: view})

	default:
		s.sendError("unknown_frame", "unsupported frame type "+frame.Type)
	}
}

func (s *wsSession) writeLoop() {
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.close()
				return
			}
		case <-ping.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				s.close()
				return
			}
		}
	}
}

// Send implements services.Subscriber.
func (s *wsSession) Send(event *models.PresenceEvent) bool {
	return s.enqueue(presenceFrame{
		Type:      "presence",
		Topic:     event.Topic,
		Kind:      event.Kind,
		Record:    event.Record,
		Timestamp: event.Timestamp,
	})
}

func (s *wsSession) enqueue(frame any) bool {
	data, err := json.Marshal(frame)
	if err != nil {
		s.logger.Error("failed to encode frame", "error", err)
		return false
	}
	select {
	case <-s.ctx.Done():
		return false
	case s.send <- data:
		return true
	default:
		return false
	}
}

func (s *wsSession) sendError(code, message string) {
	s.enqueue(errorFrame{Type: "error", Code: code, Message: message})
}

func (s *wsSession) sendServiceError(err error) {
	var vErr *services.ValidationError
	if errors.As(err, &vErr) {
		s.sendError("validation_failed", vErr.Error())
		return
	}
	s.logger.Error("presence operation failed", "error", err)
	s.sendError("unavailable", "presence is temporarily unavailable")
}
