// Package ws adapts the call relay core to websocket transport. Each
// connection authenticates with a signed token at upgrade time, registers
// its user in the relay, then exchanges JSON event envelopes until the
// socket closes.
package ws

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/waveline/callrelay/internal/api/middleware"
	"github.com/waveline/callrelay/internal/config"
	"github.com/waveline/callrelay/internal/relay"
)

// Server upgrades HTTP requests to websocket connections and bridges them to
// the relay manager. It keeps the handle-to-connection map the relay core
// deliberately knows nothing about.
type Server struct {
	manager   *relay.Manager
	jwtSecret []byte
	logger    *slog.Logger
	upgrader  websocket.Upgrader

	readLimit    int64
	pongWait     time.Duration
	pingInterval time.Duration
	writeWait    time.Duration

	mu      sync.RWMutex
	clients map[relay.Handle]*client
}

// NewServer wires a websocket endpoint to the relay manager. Read limit and
// keepalive timing come from config; the origin check is left to the CORS
// layer in front of the mux.
func NewServer(manager *relay.Manager, cfg *config.Config, jwtSecret []byte, logger *slog.Logger) *Server {
	pingInterval := cfg.WSPingInterval
	if pingInterval <= 0 || pingInterval >= cfg.WSPongWait {
		pingInterval = cfg.WSPongWait / 2
	}

	return &Server{
		manager:   manager,
		jwtSecret: jwtSecret,
		logger:    logger.With("subsystem", "ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		readLimit:    cfg.WSReadLimit,
		pongWait:     cfg.WSPongWait,
		pingInterval: pingInterval,
		writeWait:    5 * time.Second,
		clients:      make(map[relay.Handle]*client),
	}
}

// ServeHTTP handles the websocket handshake. The token travels in a query
// parameter because browsers cannot set headers on websocket upgrades.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, err := middleware.ParseUserToken(s.jwtSecret, r.URL.Query().Get("token"))
	if err != nil {
		s.logger.Debug("rejected upgrade", "remote", r.RemoteAddr, "error", err)
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &client{
		handle:    relay.Handle(uuid.NewString()),
		userID:    claims.UserID,
		conn:      conn,
		writeWait: s.writeWait,
	}

	conn.SetReadLimit(s.readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(s.pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(s.pongWait))
		return nil
	})

	s.mu.Lock()
	s.clients[c.handle] = c
	s.mu.Unlock()

	s.Dispatch(s.manager.Register(c.userID, c.handle, relay.Profile{Name: claims.Name}))

	stopPing := make(chan struct{})
	go s.pingLoop(c, stopPing)

	s.readLoop(c)

	close(stopPing)
	s.mu.Lock()
	delete(s.clients, c.handle)
	s.mu.Unlock()
	_ = conn.Close()

	s.Dispatch(s.manager.HandleDisconnect(c.handle))
	s.logger.Info("connection closed", "user_id", c.userID, "handle", string(c.handle))
}

// Dispatch delivers relay notices to their target connections. Targets that
// disappeared between the state change and delivery are skipped; the close
// path already tears their sessions down.
func (s *Server) Dispatch(notices []relay.Notice) {
	for _, n := range notices {
		s.mu.RLock()
		c, ok := s.clients[n.Target]
		s.mu.RUnlock()
		if !ok {
			s.logger.Debug("dropping notice for gone handle",
				"handle", string(n.Target),
				"event", n.Event.EventName(),
			)
			continue
		}
		if err := c.send(n.Event); err != nil {
			s.logger.Debug("write failed",
				"user_id", c.userID,
				"event", n.Event.EventName(),
				"error", err,
			)
			_ = c.conn.Close()
		}
	}
}

func (s *Server) pingLoop(c *client, stop <-chan struct{}) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.ping(); err != nil {
				_ = c.conn.Close()
				return
			}
		case <-stop:
			return
		}
	}
}

func (s *Server) readLoop(c *client) {
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("read error", "user_id", c.userID, "error", err)
			}
			return
		}

		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			_ = c.sendError("malformed event envelope")
			continue
		}
		s.handleEvent(c, env)
	}
}

func (s *Server) handleEvent(c *client, env envelope) {
	switch env.Event {
	case "start_call":
		var req struct {
			ReceiverID string `json:"receiver_id"`
			Kind       string `json:"kind"`
			CallID     string `json:"call_id"`
			RoomToken  string `json:"room_token"`
		}
		if !decode(c, env.Data, &req) {
			return
		}
		if req.Kind != "" && !relay.ValidCallKind(req.Kind) {
			_ = c.send(relay.CallFailedEvent{
				CallID:     req.CallID,
				ReceiverID: req.ReceiverID,
				Reason:     relay.ReasonInvalidRequest,
			})
			return
		}
		session, notices, err := s.manager.StartCall(c.userID, req.ReceiverID, req.Kind, req.CallID, req.RoomToken)
		if err != nil {
			var callErr *relay.CallError
			reason := relay.ReasonInvalidRequest
			if errors.As(err, &callErr) {
				reason = callErr.Reason
			}
			_ = c.send(relay.CallFailedEvent{
				CallID:     req.CallID,
				ReceiverID: req.ReceiverID,
				Reason:     reason,
			})
			return
		}
		s.logger.Info("call started",
			"call_id", session.CallID,
			"caller_id", session.CallerID,
			"receiver_id", session.ReceiverID,
			"kind", session.Kind,
		)
		s.Dispatch(notices)

	case "accept_call":
		var req struct {
			CallID string `json:"call_id"`
		}
		if !decode(c, env.Data, &req) {
			return
		}
		s.Dispatch(s.manager.AcceptCall(req.CallID, c.userID))

	case "decline_call":
		var req struct {
			CallID string `json:"call_id"`
		}
		if !decode(c, env.Data, &req) {
			return
		}
		s.Dispatch(s.manager.DeclineCall(req.CallID, c.userID))

	case "end_call":
		var req struct {
			CallID string `json:"call_id"`
		}
		if !decode(c, env.Data, &req) {
			return
		}
		s.Dispatch(s.manager.EndCall(req.CallID, c.userID))

	case "signal":
		var req struct {
			CallID   string          `json:"call_id"`
			ToUserID string          `json:"to_user_id"`
			Payload  json.RawMessage `json:"payload"`
		}
		if !decode(c, env.Data, &req) {
			return
		}
		s.Dispatch(s.manager.ForwardSignal(c.userID, req.ToUserID, req.CallID, req.Payload))

	case "change_call_kind":
		var req struct {
			CallID string `json:"call_id"`
			Kind   string `json:"kind"`
			Reason string `json:"reason"`
		}
		if !decode(c, env.Data, &req) {
			return
		}
		if !relay.ValidCallKind(req.Kind) {
			_ = c.sendError("unknown call kind: " + req.Kind)
			return
		}
		s.Dispatch(s.manager.ChangeCallKind(req.CallID, c.userID, req.Kind, req.Reason))

	case "switch_platform":
		var req struct {
			CallID   string `json:"call_id"`
			Platform string `json:"platform"`
		}
		if !decode(c, env.Data, &req) {
			return
		}
		s.Dispatch(s.manager.SwitchPlatform(req.CallID, c.userID, req.Platform))

	case "join_meeting":
		var req struct {
			RoomToken   string `json:"room_token"`
			DisplayName string `json:"display_name"`
		}
		if !decode(c, env.Data, &req) {
			return
		}
		s.Dispatch(s.manager.JoinMeeting(c.userID, req.RoomToken, req.DisplayName))

	case "leave_meeting":
		var req struct {
			RoomToken string `json:"room_token"`
		}
		if !decode(c, env.Data, &req) {
			return
		}
		s.Dispatch(s.manager.LeaveMeeting(c.userID, req.RoomToken))

	case "send_message":
		var req struct {
			ToUserID string          `json:"to_user_id"`
			Payload  json.RawMessage `json:"payload"`
		}
		if !decode(c, env.Data, &req) {
			return
		}
		s.Dispatch(s.manager.ForwardToUser(req.ToUserID, relay.MessageEvent{
			FromUserID: c.userID,
			Payload:    req.Payload,
		}))

	case "typing":
		var req struct {
			ToUserID string `json:"to_user_id"`
		}
		if !decode(c, env.Data, &req) {
			return
		}
		s.Dispatch(s.manager.ForwardToUser(req.ToUserID, relay.TypingEvent{FromUserID: c.userID}))

	case "stop_typing":
		var req struct {
			ToUserID string `json:"to_user_id"`
		}
		if !decode(c, env.Data, &req) {
			return
		}
		s.Dispatch(s.manager.ForwardToUser(req.ToUserID, relay.StopTypingEvent{FromUserID: c.userID}))

	default:
		_ = c.sendError("unknown event: " + env.Event)
	}
}

func decode(c *client, data json.RawMessage, dst any) bool {
	if len(data) == 0 {
		_ = c.sendError("event data missing")
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		_ = c.sendError("malformed event data")
		return false
	}
	return true
}
