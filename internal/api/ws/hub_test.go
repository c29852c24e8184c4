package ws

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/photoproc/pkg/dto"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubDeliversFilteredDeadLetters(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	r := gin.New()
	r.GET("/ws", hub.HandleWS)
	srv := httptest.NewServer(r)
	defer srv.Close()

	watched := uuid.New()
	all := dial(t, srv, "")
	one := dial(t, srv, "?photo_id="+watched.String())

	// registration happens asynchronously after the upgrade
	require.Eventually(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		return len(hub.clients) == 2
	}, time.Second, 10*time.Millisecond)

	other := uuid.New()
	hub.Broadcast(&dto.OpsEvent{Type: "dead_letter", PhotoID: other, Attempts: 3, Error: "boom"})
	hub.Broadcast(&dto.OpsEvent{Type: "dead_letter", PhotoID: watched, Attempts: 1, Error: "asset unreadable"})

	var evt dto.OpsEvent
	_ = all.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, all.ReadJSON(&evt))
	assert.Equal(t, other, evt.PhotoID)
	require.NoError(t, all.ReadJSON(&evt))
	assert.Equal(t, watched, evt.PhotoID)

	_ = one.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, one.ReadJSON(&evt))
	assert.Equal(t, watched, evt.PhotoID)
	assert.Equal(t, "asset unreadable", evt.Error)
}
