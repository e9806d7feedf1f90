// Package ws provides WebSocket server functionality for group members.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/xiaot623/dinematch/internal/auth"
	"github.com/xiaot623/dinematch/internal/config"
	"github.com/xiaot623/dinematch/internal/domain"
	"github.com/xiaot623/dinematch/internal/hub"
	"github.com/xiaot623/dinematch/internal/protocol"
	"github.com/xiaot623/dinematch/internal/service"
	"github.com/xiaot623/dinematch/internal/validation"
)

const requestTimeout = 10 * time.Second

// Server handles WebSocket connections.
type Server struct {
	cfg      *config.Config
	hub      *hub.Hub
	service  *service.Service
	auth     *auth.Authenticator
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewServer creates a new WebSocket server.
func NewServer(cfg *config.Config, h *hub.Hub, svc *service.Service, authenticator *auth.Authenticator, logger *zap.Logger) *Server {
	return &Server{
		cfg:     cfg,
		hub:     h,
		service: svc,
		auth:    authenticator,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// RegisterRoutes mounts the WebSocket endpoint.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws", s.HandleWebSocket)
}

// HandleWebSocket authenticates the caller, then upgrades and runs the connection.
func (s *Server) HandleWebSocket(c echo.Context) error {
	userID, err := s.auth.Verify(auth.TokenFromRequest(c.Request()))
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{
			"code":    protocol.ErrorCodeUnauthorized,
			"message": err.Error(),
		})
	}

	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("failed to upgrade websocket", zap.Error(err))
		return nil
	}

	conn := s.hub.NewConnection(ws, userID)
	s.hub.Register(conn)

	ws.SetReadLimit(s.cfg.MaxMessageSize)

	go s.writePump(conn)
	go s.readPump(conn)

	return nil
}

// readPump reads messages from the WebSocket connection.
func (s *Server) readPump(conn *hub.Connection) {
	defer func() {
		if room, ok := s.hub.Unregister(conn); ok {
			s.announcePresence(room)
		}
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Info("websocket closed", zap.String("conn_id", conn.ID), zap.Error(err))
			}
			break
		}

		s.handleMessage(conn, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (s *Server) writePump(conn *hub.Connection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				// Hub closed the channel
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.logger.Debug("failed to write message", zap.String("conn_id", conn.ID), zap.Error(err))
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches incoming messages to appropriate handlers.
func (s *Server) handleMessage(conn *hub.Connection, data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.sendError(conn, "", "", protocol.ErrorCodeInvalidMessage, "invalid JSON message")
		return
	}

	switch env.Type {
	case protocol.TypeJoinSession:
		s.handleJoin(conn, data)
	case protocol.TypeLeaveSession:
		s.handleLeave(conn, data)
	case protocol.TypeSwipe:
		s.handleSwipe(conn, data)
	default:
		s.sendError(conn, env.RequestID, env.SessionID, protocol.ErrorCodeInvalidMessage, "unknown message type: "+env.Type)
	}
}

// handleJoin subscribes the connection to the session's group room and
// replies with the current state.
func (s *Server) handleJoin(conn *hub.Connection, data []byte) {
	var msg protocol.JoinSessionMessage
	if !s.decode(conn, data, &msg) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	state, err := s.service.GetSessionState(ctx, msg.SessionID, conn.UserID)
	if err != nil {
		s.sendDomainError(conn, msg.RequestID, msg.SessionID, err)
		return
	}

	previous, moved := s.hub.Join(conn, state.Session.GroupID, msg.SessionID)
	s.hub.SendJSONToConnection(conn, protocol.JoinedMessage{
		BaseMessage: protocol.NewBase(protocol.TypeJoined, msg.RequestID, msg.SessionID),
		State:       *state,
	})

	if moved && previous.GroupID != state.Session.GroupID {
		s.announcePresence(previous)
	}
	s.announcePresence(hub.Room{GroupID: state.Session.GroupID, SessionID: msg.SessionID})
	s.logger.Debug("joined session",
		zap.String("conn_id", conn.ID),
		zap.String("user_id", conn.UserID),
		zap.String("session_id", msg.SessionID))
}

// handleLeave unsubscribes the connection from its room.
func (s *Server) handleLeave(conn *hub.Connection, data []byte) {
	var msg protocol.LeaveSessionMessage
	if !s.decode(conn, data, &msg) {
		return
	}

	room, ok := s.hub.RoomOf(conn)
	if !ok || room.SessionID != msg.SessionID {
		s.sendError(conn, msg.RequestID, msg.SessionID, protocol.ErrorCodeSessionRequired, "not joined to this session")
		return
	}
	s.hub.Leave(conn)
	s.hub.SendJSONToConnection(conn, protocol.NewBase(protocol.TypeLeft, msg.RequestID, msg.SessionID))
	s.announcePresence(room)
}

// handleSwipe applies a swipe in its own goroutine so a slow store never
// stalls the read loop.
func (s *Server) handleSwipe(conn *hub.Connection, data []byte) {
	var msg protocol.SwipeMessage
	if !s.decode(conn, data, &msg) {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		ack, err := s.service.SubmitSwipe(ctx, msg.SessionID, conn.UserID, service.SwipeRequest{
			RestaurantID: msg.RestaurantID,
			Direction:    msg.Direction,
		})
		if err != nil {
			s.sendDomainError(conn, msg.RequestID, msg.SessionID, err)
			return
		}

		s.hub.SendJSONToConnection(conn, protocol.SwipeAckMessage{
			BaseMessage:  protocol.NewBase(protocol.TypeSwipeAck, msg.RequestID, msg.SessionID),
			RestaurantID: ack.RestaurantID,
			Direction:    ack.Direction,
			Duplicate:    ack.Duplicate,
			SequenceNo:   ack.SequenceNo,
		})
	}()
}

// decode unmarshals and validates a client message, replying with an error
// when it is malformed.
func (s *Server) decode(conn *hub.Connection, data []byte, v interface{}) bool {
	if err := json.Unmarshal(data, v); err != nil {
		s.sendError(conn, "", "", protocol.ErrorCodeInvalidMessage, "invalid message")
		return false
	}
	if err := validation.Struct(v); err != nil {
		s.sendError(conn, "", "", protocol.ErrorCodeInvalidMessage, err.Error())
		return false
	}
	return true
}

func (s *Server) announcePresence(room hub.Room) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	s.service.AnnouncePresence(ctx, room.GroupID, room.SessionID, s.hub.ConnectedUsers(room.GroupID))
}

// sendDomainError reports a failed request to the sender only.
func (s *Server) sendDomainError(conn *hub.Connection, requestID, sessionID string, err error) {
	code := domain.ErrorCode(err)
	message := err.Error()
	if code == domain.ErrorCodeInternal {
		s.logger.Error("request failed", zap.String("conn_id", conn.ID), zap.Error(err))
		message = "internal error"
	}
	s.sendError(conn, requestID, sessionID, code, message)
}

// sendError sends an error message to a connection.
func (s *Server) sendError(conn *hub.Connection, requestID, sessionID, code, message string) {
	s.hub.SendJSONToConnection(conn, protocol.ErrorMessage{
		BaseMessage: protocol.NewBase(protocol.TypeError, requestID, sessionID),
		Code:        code,
		Message:     message,
	})
}
