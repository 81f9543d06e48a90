package network

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/scarlin90/signingroom/internal/apperr"
	"github.com/scarlin90/signingroom/internal/logger"
	"github.com/scarlin90/signingroom/internal/protocol"
	"github.com/scarlin90/signingroom/internal/room"
)

// Server upgrades HTTP requests into room sessions.
type Server struct {
	hub      *room.Hub
	upgrader websocket.Upgrader
}

// NewServer creates a Server. allowOrigin decides which browser origins may
// open sockets; nil allows any.
func NewServer(hub *room.Hub, allowOrigin func(origin string) bool) *Server {
	s := &Server{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	if allowOrigin != nil {
		s.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowOrigin(origin)
		}
	} else {
		s.upgrader.CheckOrigin = func(*http.Request) bool { return true }
	}
	return s
}

// ServeRoom upgrades the request and runs the session until either side
// closes it.
func (s *Server) ServeRoom(w http.ResponseWriter, r *http.Request, roomID string) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.ForRoom(roomID).WithError(err).Warn("WebSocket upgrade failed")
		return
	}
	conn := NewConn(ws)
	log := logger.ForConn(roomID, r.RemoteAddr)

	ctx := context.Background()
	rm, err := s.hub.Join(ctx, roomID, conn)
	if err != nil {
		if IsRejection(err) {
			log.WithError(err).Info("Session rejected")
		} else {
			log.WithError(err).Warn("Failed to join room")
		}
		conn.Close(protocol.CloseNormal, "")
		<-conn.Done()
		return
	}
	defer rm.Leave(ctx, conn)

	err = conn.readLoop(func(frame []byte) {
		if err := rm.Deliver(ctx, conn, frame); err != nil && !errors.Is(err, room.ErrClosed) {
			log.WithError(err).Warn("Failed to deliver frame")
		}
	})
	if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		log.WithError(err).Debug("Session read ended")
	}
	conn.Close(protocol.CloseNormal, "")
	<-conn.Done()
}

// IsRejection reports whether err is one of the admission refusals a
// session can get.
func IsRejection(err error) bool {
	return errors.Is(err, apperr.ErrNotFound) || errors.Is(err, apperr.ErrRoomFull) || errors.Is(err, apperr.ErrLocked)
}
