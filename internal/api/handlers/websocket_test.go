package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberguard/cyberguard/internal/models"
	"github.com/cyberguard/cyberguard/internal/scan"
)

func newWebSocketServer(t *testing.T, allowed []string) (*WebSocketHandler, *httptest.Server) {
	t.Helper()
	h := NewWebSocketHandler(allowed, createTestLogger())
	srv := httptest.NewServer(http.HandlerFunc(h.ScanWebSocket))
	t.Cleanup(func() {
		h.Shutdown()
		srv.Close()
	})
	return h, srv
}

func dialWebSocket(t *testing.T, srv *httptest.Server, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	return websocket.DefaultDialer.Dial(url, header)
}

func TestWebSocketHandler_BroadcastsScanEvents(t *testing.T) {
	h, srv := newWebSocketServer(t, nil)

	conn, _, err := dialWebSocket(t, srv, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return h.ConnectedClients() == 1 }, time.Second, 5*time.Millisecond)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h.ScanEvent(scan.Event{
		Type: scan.EventProgress,
		Scan: models.ScanResult{ID: "scan-1", Target: "10.0.0.1", Status: models.ScanRunning, Progress: 30},
		At:   at,
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg struct {
		Type      string    `json:"type"`
		Timestamp time.Time `json:"timestamp"`
		Data      struct {
			Event string            `json:"event"`
			Scan  models.ScanResult `json:"scan"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, MessageTypeScanUpdate, msg.Type)
	assert.True(t, at.Equal(msg.Timestamp))
	assert.Equal(t, string(scan.EventProgress), msg.Data.Event)
	assert.Equal(t, "scan-1", msg.Data.Scan.ID)
	assert.Equal(t, 30, msg.Data.Scan.Progress)
}

func TestWebSocketHandler_FansOutToAllClients(t *testing.T) {
	h, srv := newWebSocketServer(t, nil)

	var conns []*websocket.Conn
	for i := 0; i < 3; i++ {
		conn, _, err := dialWebSocket(t, srv, nil)
		require.NoError(t, err)
		defer conn.Close()
		conns = append(conns, conn)
	}
	require.Eventually(t, func() bool { return h.ConnectedClients() == 3 }, time.Second, 5*time.Millisecond)

	h.ScanEvent(scan.Event{Type: scan.EventCreated, Scan: models.ScanResult{ID: "s"}, At: time.Now()})

	for _, conn := range conns {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Contains(t, string(data), `"event":"created"`)
	}
}

func TestWebSocketHandler_UnregistersClosedClients(t *testing.T) {
	h, srv := newWebSocketServer(t, nil)

	conn, _, err := dialWebSocket(t, srv, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.ConnectedClients() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool { return h.ConnectedClients() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestWebSocketHandler_OriginCheck(t *testing.T) {
	tests := []struct {
		name      string
		allowed   []string
		origin    string
		expectErr bool
	}{
		{name: "no origin header", origin: ""},
		{name: "allowed origin", allowed: []string{"http://dashboard.local"}, origin: "http://dashboard.local"},
		{name: "wildcard", allowed: []string{"*"}, origin: "http://anything.example"},
		{name: "foreign origin", allowed: []string{"http://dashboard.local"}, origin: "http://evil.example", expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, srv := newWebSocketServer(t, tt.allowed)

			header := http.Header{}
			if tt.origin != "" {
				header.Set("Origin", tt.origin)
			}
			conn, resp, err := dialWebSocket(t, srv, header)
			if tt.expectErr {
				require.Error(t, err)
				require.NotNil(t, resp)
				assert.Equal(t, http.StatusForbidden, resp.StatusCode)
				return
			}
			require.NoError(t, err)
			_ = conn.Close()
		})
	}
}

func TestWebSocketHandler_ShutdownClosesClients(t *testing.T) {
	h := NewWebSocketHandler(nil, createTestLogger())
	srv := httptest.NewServer(http.HandlerFunc(h.ScanWebSocket))
	defer srv.Close()

	conn, _, err := dialWebSocket(t, srv, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return h.ConnectedClients() == 1 }, time.Second, 5*time.Millisecond)

	h.Shutdown()
	h.Shutdown()

	assert.Equal(t, 0, h.ConnectedClients())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway))

	// Events after shutdown are dropped without blocking.
	h.ScanEvent(scan.Event{Type: scan.EventCreated, At: time.Now()})
}

func TestWebSocketHandler_IsScanObserver(t *testing.T) {
	env := newTestEnv(t)
	h, srv := newWebSocketServer(t, nil)
	env.manager.Subscribe(h)

	conn, _, err := dialWebSocket(t, srv, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return h.ConnectedClients() == 1 }, time.Second, 5*time.Millisecond)

	_, err = env.manager.CreateScan(t.Context(), "10.1.1.1")
	require.NoError(t, err)

	sawCompleted := false
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for !sawCompleted {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		sawCompleted = strings.Contains(string(data), `"event":"completed"`)
	}
	assert.True(t, sawCompleted)
}
