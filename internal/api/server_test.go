package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	apihandlers "github.com/cyberguard/cyberguard/internal/api/handlers"
	"github.com/cyberguard/cyberguard/internal/auth"
	"github.com/cyberguard/cyberguard/internal/config"
	"github.com/cyberguard/cyberguard/internal/dashboard"
	"github.com/cyberguard/cyberguard/internal/metrics"
	"github.com/cyberguard/cyberguard/internal/models"
	"github.com/cyberguard/cyberguard/internal/scan"
	"github.com/cyberguard/cyberguard/internal/store"
)

const testSecret = "test-secret-that-is-at-least-32-bytes-long"

func createTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func createTestConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.Port = 0
	cfg.Session.Secret = testSecret
	cfg.RateLimit.Enabled = false
	cfg.Scan = scan.Policy{Step: 10, Interval: 5 * time.Millisecond, InitialDelay: time.Millisecond}
	return cfg
}

type testServer struct {
	*httptest.Server
	api     *Server
	metrics *metrics.PrometheusMetrics
	client  *http.Client
}

func newTestServer(t *testing.T, cfg *config.Config) *testServer {
	t.Helper()

	st := store.NewMemory()
	sessions, err := auth.NewSessionManager(cfg.Session.Secret, cfg.Session.TTL)
	require.NoError(t, err)
	gate := auth.NewGate(st, sessions, auth.WithBcryptCost(bcrypt.MinCost), auth.WithLogger(createTestLogger()))
	_, err = store.Seed(context.Background(), st, gate, store.Fixtures(time.Now()))
	require.NoError(t, err)

	pm := metrics.NewPrometheusMetrics()
	manager, err := scan.NewManager(st, cfg.Scan, createTestLogger(), pm)
	require.NoError(t, err)

	srv, err := New(cfg, Dependencies{
		Store:     st,
		Gate:      gate,
		Dashboard: dashboard.NewService(st),
		Scans:     manager,
		Metrics:   pm,
		Build:     apihandlers.BuildInfo{Version: "test"},
		Logger:    createTestLogger(),
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.WebSocket().Shutdown()
		ts.Close()
		_ = manager.Close()
	})

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &testServer{
		Server:  ts,
		api:     srv,
		metrics: pm,
		client:  &http.Client{Jar: jar, Timeout: 5 * time.Second},
	}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := ts.client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (ts *testServer) login(t *testing.T, username string) apihandlers.LoginResponse {
	t.Helper()
	body := `{"username":"` + username + `","email":"` + username + `@cyberguard.com","password":"` + username + `123"}`
	resp := ts.do(t, http.MethodPost, "/api/auth/login", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out apihandlers.LoginResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(createTestConfig(), Dependencies{})
	require.Error(t, err)
}

func TestServer_EndToEndScanFlow(t *testing.T) {
	ts := newTestServer(t, createTestConfig())

	login := ts.login(t, "admin")
	assert.Equal(t, "admin", login.User.Username)
	assert.Equal(t, models.RoleAdmin, login.User.Role)

	resp := ts.do(t, http.MethodGet, "/api/dashboard", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	summary := decode[dashboard.Summary](t, resp)
	assert.Equal(t, 4, summary.DeviceCount)
	assert.Equal(t, 4, summary.OpenPortsCount)
	assert.Equal(t, 2, summary.CriticalCVECount)

	resp = ts.do(t, http.MethodPost, "/api/scan", `{"target":"192.168.1.0/24"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	created := decode[apihandlers.ScanResponse](t, resp)
	assert.Equal(t, models.ScanPending, created.Scan.Status)
	assert.Equal(t, 0, created.Scan.Progress)

	var final apihandlers.ScanResponse
	require.Eventually(t, func() bool {
		resp := ts.do(t, http.MethodGet, "/api/scan/"+created.Scan.ID, "")
		if resp.StatusCode != http.StatusOK {
			return false
		}
		final = decode[apihandlers.ScanResponse](t, resp)
		return final.Scan.Status == models.ScanCompleted
	}, 3*time.Second, 20*time.Millisecond)

	assert.Equal(t, 100, final.Scan.Progress)
	require.NotNil(t, final.Scan.Results)
	assert.Contains(t, *final.Scan.Results, "192.168.1.0/24")
	assert.NotNil(t, final.Scan.CompletedAt)

	resp = ts.do(t, http.MethodGet, "/api/scans", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[apihandlers.ScansResponse](t, resp).Scans, 1)
}

func TestServer_ProtectedRoutesRequireSession(t *testing.T) {
	ts := newTestServer(t, createTestConfig())

	routes := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodGet, "/api/auth/me", ""},
		{http.MethodGet, "/api/dashboard", ""},
		{http.MethodGet, "/api/dashboard/severity", ""},
		{http.MethodGet, "/api/devices", ""},
		{http.MethodGet, "/api/open-ports", ""},
		{http.MethodGet, "/api/cves", ""},
		{http.MethodGet, "/api/users", ""},
		{http.MethodPost, "/api/users", `{"username":"x","email":"x@x.com","password":"x"}`},
		{http.MethodPost, "/api/scan", `{"target":"10.0.0.1"}`},
		{http.MethodGet, "/api/scan/anything", ""},
		{http.MethodGet, "/api/scans", ""},
		{http.MethodGet, "/api/ws/scans", ""},
	}

	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			resp := ts.do(t, rt.method, rt.path, rt.body)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			body := decode[map[string]interface{}](t, resp)
			assert.Equal(t, "UNAUTHENTICATED", body["code"])
		})
	}
}

func TestServer_BearerTokenAndLogout(t *testing.T) {
	ts := newTestServer(t, createTestConfig())
	login := ts.login(t, "analyst")

	bare := &http.Client{Timeout: 5 * time.Second}
	get := func() *http.Response {
		req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/auth/me", nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+login.Token)
		resp, err := bare.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	resp := get()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "analyst", decode[apihandlers.UserResponse](t, resp).User.Username)

	resp = ts.do(t, http.MethodPost, "/api/auth/logout", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, http.StatusUnauthorized, get().StatusCode)
	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/api/dashboard", "").StatusCode)
}

func TestServer_UsersRequireAdmin(t *testing.T) {
	ts := newTestServer(t, createTestConfig())

	ts.login(t, "analyst")
	resp := ts.do(t, http.MethodGet, "/api/users", "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	ts.login(t, "admin")
	resp = ts.do(t, http.MethodGet, "/api/users", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[apihandlers.UsersResponse](t, resp).Users, 2)
}

func TestServer_InvalidScanTarget(t *testing.T) {
	ts := newTestServer(t, createTestConfig())
	ts.login(t, "analyst")

	resp := ts.do(t, http.MethodPost, "/api/scan", `{"target":"not an ip!!"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode[map[string]interface{}](t, resp)
	assert.Equal(t, "TARGET_INVALID", body["code"])

	resp = ts.do(t, http.MethodGet, "/api/scans", "")
	assert.Empty(t, decode[apihandlers.ScansResponse](t, resp).Scans)
}

func TestServer_PublicEndpoints(t *testing.T) {
	ts := newTestServer(t, createTestConfig())

	resp := ts.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	resp = ts.do(t, http.MethodGet, "/api/version", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "test", decode[apihandlers.VersionResponse](t, resp).Version)

	resp = ts.do(t, http.MethodGet, "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = ts.do(t, http.MethodDelete, "/api/health", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServer_MethodMismatch(t *testing.T) {
	ts := newTestServer(t, createTestConfig())

	tests := []struct {
		name           string
		method         string
		path           string
		expectedStatus int
	}{
		{"public route wrong method", http.MethodDelete, "/api/health", http.StatusMethodNotAllowed},
		{"login wrong method", http.MethodGet, "/api/auth/login", http.StatusMethodNotAllowed},
		{"protected route wrong method", http.MethodDelete, "/api/scans", http.StatusMethodNotAllowed},
		{"protected route right method", http.MethodGet, "/api/scans", http.StatusUnauthorized},
		{"unknown path", http.MethodGet, "/api/does-not-exist", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(t, tt.method, tt.path, "")
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)
		})
	}
}

func TestServer_RejectsNonJSONBodies(t *testing.T) {
	ts := newTestServer(t, createTestConfig())

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/auth/login", bytes.NewBufferString("username=admin"))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := ts.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestServer_LoginRateLimit(t *testing.T) {
	cfg := createTestConfig()
	cfg.RateLimit = config.RateLimitConfig{Enabled: true, LoginRPS: 0.01, LoginBurst: 2, APIRPS: 100, APIBurst: 100}
	ts := newTestServer(t, cfg)

	body := `{"username":"admin","email":"admin@cyberguard.com","password":"wrong"}`
	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodPost, "/api/auth/login", body).StatusCode)
	}

	resp := ts.do(t, http.MethodPost, "/api/auth/login", body)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	assert.Equal(t, "RATE_LIMITED", decode[map[string]interface{}](t, resp)["code"])
}

func TestServer_MetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, createTestConfig())
	ts.login(t, "admin")
	ts.do(t, http.MethodGet, "/api/dashboard", "")

	resp := ts.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(data)
	assert.Contains(t, text, `cyberguard_auth_login_attempts_total{outcome="success"} 1`)
	assert.Contains(t, text, `route="/api/dashboard"`)
}

func TestServer_CORS(t *testing.T) {
	cfg := createTestConfig()
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000"}
	ts := newTestServer(t, cfg)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/auth/login", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := ts.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))
}

func TestServer_WebSocketStreamsScanUpdates(t *testing.T) {
	ts := newTestServer(t, createTestConfig())
	login := ts.login(t, "analyst")

	header := http.Header{}
	header.Set("Authorization", "Bearer "+login.Token)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/ws/scans", header)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return ts.api.WebSocket().ConnectedClients() == 1 },
		time.Second, 5*time.Millisecond)

	resp := ts.do(t, http.MethodPost, "/api/scan", `{"target":"example.com"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg apihandlers.WebSocketMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, apihandlers.MessageTypeScanUpdate, msg.Type)
	assert.Contains(t, string(data), `"event":"created"`)
	assert.Contains(t, string(data), `"target":"example.com"`)
}

func TestServer_StartAndStop(t *testing.T) {
	cfg := createTestConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.ShutdownTimeout = 2 * time.Second

	st := store.NewMemory()
	sessions, err := auth.NewSessionManager(testSecret, time.Hour)
	require.NoError(t, err)
	manager, err := scan.NewManager(st, cfg.Scan, createTestLogger())
	require.NoError(t, err)
	defer manager.Close()

	srv, err := New(cfg, Dependencies{
		Store:     st,
		Gate:      auth.NewGate(st, sessions),
		Dashboard: dashboard.NewService(st),
		Scans:     manager,
		Logger:    createTestLogger(),
	})
	require.NoError(t, err)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, listener) }()

	url := "http://" + listener.Addr().String() + "/api/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + listener.Addr().String() + "/metrics")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.NoError(t, srv.Stop())
}
