package api

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ChainPulse/internal/domain/models"
)

func dialFeed(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/cycles"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestCycleFeedBroadcastsSummaries(t *testing.T) {
	feed := NewCycleFeed(nil)
	e := echo.New()
	feed.RegisterRoutes(e)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	a := dialFeed(t, srv)
	b := dialFeed(t, srv)
	require.Eventually(t, func() bool { return feed.Clients() == 2 }, 2*time.Second, 10*time.Millisecond)

	feed.Broadcast(models.CycleSummary{RunID: "r-7", Cycle: 7})

	for _, conn := range []*websocket.Conn{a, b} {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		var got models.CycleSummary
		require.NoError(t, json.Unmarshal(msg, &got))
		assert.Equal(t, "r-7", got.RunID)
		assert.Equal(t, 7, got.Cycle)
	}
}

func TestCycleFeedForgetsClosedClients(t *testing.T) {
	feed := NewCycleFeed(nil)
	e := echo.New()
	feed.RegisterRoutes(e)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	conn := dialFeed(t, srv)
	require.Eventually(t, func() bool { return feed.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return feed.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)

	feed.Close()
	feed.Broadcast(models.CycleSummary{Cycle: 1})
	assert.Zero(t, feed.Clients())
}
