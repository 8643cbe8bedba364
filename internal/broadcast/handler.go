package broadcast

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rezkam/taskstream/internal/auth"
)

// Handler upgrades authenticated requests into live stream sessions.
type Handler struct {
	hub      *Hub
	verifier *auth.TokenVerifier
	upgrader websocket.Upgrader
}

// NewHandler creates the attach endpoint handler.
func NewHandler(hub *Hub, verifier *auth.TokenVerifier) *Handler {
	return &Handler{
		hub:      hub,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Tokens authenticate the user; the stream carries only that
			// user's own data, so cross-origin pages are acceptable.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP implements the attach protocol: authenticate, upgrade, register.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := auth.TokenFromRequest(r)
	if token == "" {
		http.Error(w, "missing auth token", http.StatusUnauthorized)
		return
	}
	userID, err := h.verifier.Verify(token)
	if err != nil {
		http.Error(w, "invalid auth token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		slog.WarnContext(r.Context(), "websocket upgrade failed", "user_id", userID, "error", err)
		return
	}

	s := newSession(userID, conn)
	if !h.hub.register(s) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}

	slog.InfoContext(r.Context(), "live stream attached", "user_id", userID)
	go s.writePump()
	go s.readPump(h.hub)
}
