package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezkam/taskstream/internal/auth"
	"github.com/rezkam/taskstream/internal/bus"
	"github.com/rezkam/taskstream/internal/domain"
	"github.com/rezkam/taskstream/internal/event"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString(testSecret)
	require.NoError(t, err)
	return signed
}

func newTestServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub()
	h := NewHandler(hub, auth.NewTokenVerifier(testSecret))
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, header http.Header, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func updateMessage(t *testing.T, task *domain.Task, typ event.Type) bus.Message {
	t.Helper()
	env, err := event.NewTaskEvent(typ, task, nil)
	require.NoError(t, err)
	raw, err := env.Encode()
	require.NoError(t, err)
	return bus.Message{Topic: event.TopicTaskUpdates, Key: task.UserID, Value: raw}
}

func waitForConnection(t *testing.T, hub *Hub, userID string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return hub.ConnectionCount(userID) == n
	}, 2*time.Second, 5*time.Millisecond)
}

func TestAttachRejectsMissingToken(t *testing.T) {
	_, srv := newTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAttachRejectsForgedToken(t *testing.T) {
	_, srv := newTestServer(t)

	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "user-1"})
	signed, err := forged.SignedString([]byte("wrong-secret"))
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?token=" + signed
	_, resp, dialErr := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, dialErr)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAttachViaAuthorizationHeader(t *testing.T) {
	hub, srv := newTestServer(t)

	header := http.Header{"Authorization": {"Bearer " + signToken(t, "user-1")}}
	dial(t, srv, header, "")
	waitForConnection(t, hub, "user-1", 1)
}

func TestUpdateReachesOnlyOwningUser(t *testing.T) {
	hub, srv := newTestServer(t)

	connA := dial(t, srv, nil, "?token="+signToken(t, "user-a"))
	connB := dial(t, srv, nil, "?token="+signToken(t, "user-b"))
	waitForConnection(t, hub, "user-a", 1)
	waitForConnection(t, hub, "user-b", 1)

	task := &domain.Task{ID: "task-1", UserID: "user-a", Title: "only for a"}
	require.NoError(t, hub.HandleUpdate(context.Background(), updateMessage(t, task, event.TypeTaskUpdated)))

	require.NoError(t, connA.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := connA.ReadMessage()
	require.NoError(t, err)

	var frame Frame
	require.NoError(t, json.Unmarshal(data, &frame))
	assert.Equal(t, event.TypeTaskUpdated, frame.Type)
	assert.Equal(t, "task-1", frame.Task.ID)
	assert.Equal(t, "only for a", frame.Task.Title)

	// user-b must see nothing.
	require.NoError(t, connB.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err = connB.ReadMessage()
	assert.Error(t, err, "cross-user frames must never be delivered")
}

func TestMultipleConnectionsSameUserAllReceive(t *testing.T) {
	hub, srv := newTestServer(t)

	token := signToken(t, "user-a")
	conn1 := dial(t, srv, nil, "?token="+token)
	conn2 := dial(t, srv, nil, "?token="+token)
	waitForConnection(t, hub, "user-a", 2)

	task := &domain.Task{ID: "task-1", UserID: "user-a", Title: "fanout"}
	require.NoError(t, hub.HandleUpdate(context.Background(), updateMessage(t, task, event.TypeTaskCompleted)))

	for _, conn := range []*websocket.Conn{conn1, conn2} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var frame Frame
		require.NoError(t, json.Unmarshal(data, &frame))
		assert.Equal(t, event.TypeTaskCompleted, frame.Type)
	}
}

func TestTextPingGetsPong(t *testing.T) {
	hub, srv := newTestServer(t)

	conn := dial(t, srv, nil, "?token="+signToken(t, "user-a"))
	waitForConnection(t, hub, "user-a", 1)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "pong", string(data))
}

func TestDisconnectRemovesUserEntry(t *testing.T) {
	hub, srv := newTestServer(t)

	conn := dial(t, srv, nil, "?token="+signToken(t, "user-a"))
	waitForConnection(t, hub, "user-a", 1)

	conn.Close()
	waitForConnection(t, hub, "user-a", 0)
}

func TestShutdownSendsCloseFrame(t *testing.T) {
	hub, srv := newTestServer(t)

	conn := dial(t, srv, nil, "?token="+signToken(t, "user-a"))
	waitForConnection(t, hub, "user-a", 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go hub.Shutdown(ctx)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)
}

func TestHubDropsMessagesForAbsentUsers(t *testing.T) {
	hub := NewHub()
	task := &domain.Task{ID: "task-1", UserID: "nobody-here", Title: "t"}
	err := hub.HandleUpdate(context.Background(), updateMessage(t, task, event.TypeTaskCreated))
	assert.NoError(t, err, "messages for users on other replicas are dropped, not errors")
}

func TestGroupIDIsUniquePerReplica(t *testing.T) {
	a, b := GroupID(), GroupID()
	assert.True(t, strings.HasPrefix(a, "broadcaster-"))
	assert.NotEqual(t, a, b)
}
