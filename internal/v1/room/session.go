package room

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/traybueno/watchtower-api/internal/v1/logging"
	"github.com/traybueno/watchtower-api/internal/v1/metrics"
	"github.com/traybueno/watchtower-api/internal/v1/types"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024
	// Buffered outbound frames per session before drops begin.
	sendBufferSize = 256
)

// wsConn is the slice of *websocket.Conn the session uses. Tests swap in
// a scripted fake.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

// session is one WebSocket attached to a room. The actor pointer is bound
// during admission, before the read pump starts, and is only ever written
// from the goroutine running the admission loop.
type session struct {
	hub      *Hub
	gameID   types.GameID
	playerID types.PlayerID
	conn     wsConn
	ctx      context.Context
	actor    *actor
	openedAt time.Time

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
	send      chan []byte
}

func newSession(h *Hub, gameID types.GameID, playerID types.PlayerID, conn wsConn) *session {
	ctx := context.WithValue(context.Background(), logging.GameIDKey, string(gameID))
	ctx = context.WithValue(ctx, logging.PlayerIDKey, string(playerID))
	return &session{
		hub:      h,
		gameID:   gameID,
		playerID: playerID,
		conn:     conn,
		ctx:      ctx,
		openedAt: time.Now(),
		send:     make(chan []byte, sendBufferSize),
	}
}

// readPump pumps frames from the socket into the room actor. It runs on
// the HTTP handler goroutine and owns the teardown: close notification,
// session lifecycle stats, and the connection gauge all fire exactly once
// from its deferred block.
func (s *session) readPump() {
	defer func() {
		if a := s.actor; a != nil {
			a.notifyClose(s)
		}
		s.conn.Close()
		s.hub.stats.Track(s.ctx, s.gameID, s.playerID, types.EventSessionEnd)
		s.hub.stats.TrackPlaytime(s.ctx, s.gameID, s.playerID, time.Since(s.openedAt))
		metrics.DecConnection()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				logging.Warn(s.ctx, "WebSocket closed unexpectedly", zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if a := s.actor; a != nil {
			a.deliverFrame(s, data)
		}
	}
}

// writePump pumps frames from the send channel to the socket and keeps
// the connection alive with pings. One writePump per session is the only
// writer of data frames on the connection.
func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendRaw queues a frame for delivery, dropping it if the session is
// closed or its buffer is full. A slow consumer never blocks the actor.
func (s *session) sendRaw(data []byte) {
	if data == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logging.Warn(s.ctx, "Recovered from send on closed session", zap.Any("panic", r))
		}
	}()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	select {
	case s.send <- data:
	default:
		metrics.WebsocketFrames.WithLabelValues("dropped", "egress").Inc()
		logging.Warn(s.ctx, "Send buffer full, dropping frame",
			zap.String("player_id", string(s.playerID)))
	}
}

// shutdown closes the socket with a close frame. Safe to call from any
// goroutine; only the first close wins.
func (s *session) shutdown(code int, reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		deadline := time.Now().Add(writeWait)
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), deadline)
		close(s.send)
	})
}

// finish releases the write pump after a close initiated by the peer.
func (s *session) finish() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.send)
	})
}
