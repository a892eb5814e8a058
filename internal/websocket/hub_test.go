package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studentforge-backend/internal/models"
)

type stubParser struct{ userID uuid.UUID }

func (p stubParser) ParseToken(tokenStr string) (uuid.UUID, error) {
	if tokenStr != "good" {
		return uuid.Nil, errors.New("invalid token")
	}
	return p.userID, nil
}

func newTestHub(t *testing.T, userID uuid.UUID) (*Hub, *httptest.Server, chan struct{}) {
	t.Helper()
	h := NewHub(nil, stubParser{userID: userID}, "http://localhost:5173")
	unsubscribed := make(chan struct{}, 1)
	h.subscribe = func(ctx context.Context, _ uuid.UUID) {
		<-ctx.Done()
		unsubscribed <- struct{}{}
	}
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	t.Cleanup(srv.Close)
	return h, srv, unsubscribed
}

func wsURL(srv *httptest.Server, token string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/?token=" + token
}

func TestHub_RejectsBadToken(t *testing.T) {
	_, srv, _ := newTestHub(t, uuid.New())

	for _, token := range []string{"", "bad"} {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, token), nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
}

func TestHub_RejectsForeignOrigin(t *testing.T) {
	_, srv, _ := newTestHub(t, uuid.New())

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "good"), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHub_DeliversToUserAndUnsubscribes(t *testing.T) {
	userID := uuid.New()
	h, srv, unsubscribed := newTestHub(t, userID)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "good"), nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.Connections(userID) == 1 }, time.Second, 10*time.Millisecond)

	h.SendToUser(userID, models.WSMessage{Type: models.EventXPAwarded, Payload: map[string]int{"amount": 10}})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"xp_awarded"`)

	// Messages for other users never reach this socket.
	h.SendToUser(uuid.New(), models.WSMessage{Type: models.EventXPAwarded})

	conn.Close()
	require.Eventually(t, func() bool { return h.Connections(userID) == 0 }, time.Second, 10*time.Millisecond)

	select {
	case <-unsubscribed:
	case <-time.After(time.Second):
		t.Fatal("expected pub/sub subscription to be cancelled after the last connection closed")
	}
}
