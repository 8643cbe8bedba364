package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Heartbeat timing. Clients ping every 30 seconds; the read deadline allows
// two missed beats plus slack before the connection is declared dead.
const (
	heartbeatInterval = 30 * time.Second
	readDeadline      = 2*heartbeatInterval + 5*time.Second
	writeTimeout      = 10 * time.Second

	// sendBuffer bounds the per-connection backlog. A client that cannot
	// drain this many frames is too slow and gets disconnected.
	sendBuffer = 64
)

// Session is one live WebSocket connection owned by a single user.
type Session struct {
	userID string
	conn   *websocket.Conn
	out    chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func newSession(userID string, conn *websocket.Conn) *Session {
	return &Session{
		userID: userID,
		conn:   conn,
		out:    make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}
}

// send queues a frame without blocking. A full buffer kills the session;
// the client can reconnect and resync rather than stall the hub.
func (s *Session) send(frame []byte) {
	select {
	case <-s.done:
	case s.out <- frame:
	default:
		slog.Warn("disconnecting slow live stream client", "user_id", s.userID)
		s.close()
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// closeGracefully sends a close frame and lets queued writes drain until
// ctx expires.
func (s *Session) closeGracefully(ctx context.Context) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(5 * time.Second)
	}
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), deadline)

	select {
	case <-s.done:
	case <-ctx.Done():
	}
	s.close()
}

// readPump consumes client frames. Text "ping" heartbeats get a "pong"
// reply; any traffic resets the read deadline. Returns on error or close.
func (s *Session) readPump(hub *Hub) {
	defer func() {
		hub.unregister(s)
		s.close()
	}()

	s.conn.SetReadLimit(512)
	_ = s.conn.SetReadDeadline(time.Now().Add(readDeadline))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(readDeadline))
	})
	s.conn.SetPingHandler(func(appData string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return s.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeTimeout))
	})

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("live stream read failed", "user_id", s.userID, "error", err)
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(readDeadline))

		if msgType == websocket.TextMessage && string(data) == "ping" {
			select {
			case s.out <- []byte("pong"):
			case <-s.done:
				return
			default:
				// Heartbeat reply lost to a full buffer; the client will
				// retry on the next interval.
			}
		}
	}
}

// writePump serialises all writes to the connection.
func (s *Session) writePump() {
	defer s.close()

	for {
		select {
		case <-s.done:
			return
		case frame := <-s.out:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				slog.Warn("live stream write failed", "user_id", s.userID, "error", err)
				return
			}
		}
	}
}
