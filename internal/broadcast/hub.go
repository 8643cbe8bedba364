// Package broadcast pushes live task updates to connected clients.
//
// Each replica keeps its own user → connections map and consumes the
// task-updates topic under a replica-unique group ID, so every replica sees
// every message and delivers only to the users it is holding connections
// for. Replicas share no state; scaling out is adding pods.
package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rezkam/taskstream/internal/bus"
	"github.com/rezkam/taskstream/internal/event"
)

// Frame is the server→client wire format of the live stream.
type Frame struct {
	Type      event.Type         `json:"type"`
	Task      event.TaskSnapshot `json:"task"`
	Timestamp time.Time          `json:"timestamp"`
}

// GroupID returns a fresh per-replica consumer group name. A new group reads
// from latest, which is correct: live clients only care about updates after
// they attach.
func GroupID() string {
	return "broadcaster-" + uuid.NewString()
}

// Hub routes decoded update frames to the sessions of one replica.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[*Session]struct{} // user_id → connections
	closed   bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{sessions: make(map[string]map[*Session]struct{})}
}

// HandleUpdate is the bus handler for the task-updates topic. Messages for
// users with no local connection are dropped; another replica holds them.
func (h *Hub) HandleUpdate(ctx context.Context, msg bus.Message) error {
	env, err := event.Decode(msg.Value)
	if err != nil {
		slog.ErrorContext(ctx, "dropping undecodable update message",
			"topic", msg.Topic, "error", err)
		return nil
	}

	payload, err := env.TaskPayload()
	if err != nil {
		slog.ErrorContext(ctx, "dropping update event with bad payload",
			"event_id", env.ID, "error", err)
		return nil
	}

	frame, err := json.Marshal(Frame{
		Type:      env.Type,
		Task:      payload.Task,
		Timestamp: env.Timestamp,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal live frame", "event_id", env.ID, "error", err)
		return nil
	}

	h.mu.RLock()
	conns := h.sessions[env.UserID]
	targets := make([]*Session, 0, len(conns))
	for s := range conns {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		s.send(frame)
	}
	return nil
}

// register adds the session under its user. Returns false when the hub is
// already shutting down.
func (h *Hub) register(s *Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	if h.sessions[s.userID] == nil {
		h.sessions[s.userID] = make(map[*Session]struct{})
	}
	h.sessions[s.userID][s] = struct{}{}
	return true
}

// unregister removes the session, dropping the user entry when it empties.
func (h *Hub) unregister(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns := h.sessions[s.userID]
	delete(conns, s)
	if len(conns) == 0 {
		delete(h.sessions, s.userID)
	}
}

// ConnectionCount reports the live connections for one user.
func (h *Hub) ConnectionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[userID])
}

// Shutdown closes every session with a close frame and waits for writes to
// drain, bounded by ctx. New registrations are refused once it starts.
func (h *Hub) Shutdown(ctx context.Context) {
	h.mu.Lock()
	h.closed = true
	var all []*Session
	for _, conns := range h.sessions {
		for s := range conns {
			all = append(all, s)
		}
	}
	h.mu.Unlock()

	slog.InfoContext(ctx, "closing live stream sessions", "count", len(all))

	var wg sync.WaitGroup
	for _, s := range all {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.closeGracefully(ctx)
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.WarnContext(ctx, "live stream drain deadline exceeded")
	}
}
