package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/storyteller/server/adapters/catalog"
	"github.com/storyteller/server/adapters/devicestore"
	"github.com/storyteller/server/adapters/memstore"
	"github.com/storyteller/server/adapters/realtime"
	"github.com/storyteller/server/adapters/rediscache"
	"github.com/storyteller/server/domain/entities"
	"github.com/storyteller/server/internal/auth"
	"github.com/storyteller/server/internal/orchestrator"
	"github.com/storyteller/server/internal/websocket"
)

func newTestServer(t *testing.T) (*echo.Echo, Dependencies) {
	t.Helper()

	logger := zap.NewNop()
	registry := prometheus.NewRegistry()
	orch := orchestrator.New(
		realtime.NewMockService(logger),
		memstore.NewUsers(),
		memstore.NewProgress(),
		catalog.NewSeeded(),
		rediscache.NewMemory(),
		orchestrator.NewMetrics(registry),
		orchestrator.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
		logger,
	)

	hub := websocket.NewHub(orch, logger)
	go hub.Run()

	devices := devicestore.NewMemory()
	if err := devices.Register(context.Background(), &entities.Device{
		ID:           "esp32-registered",
		SerialNumber: "SN-001",
		Model:        "esp32-s3",
	}, "top-secret"); err != nil {
		t.Fatalf("register device: %v", err)
	}

	deps := Dependencies{
		Hub:          hub,
		Orchestrator: orch,
		Catalog:      catalog.NewSeeded(),
		Devices:      devices,
		Auth:         auth.New("test-signing-secret"),
		Registry:     registry,
		Logger:       logger,
	}

	e := echo.New()
	InitRoutes(e, deps)
	return e, deps
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			decoded = nil
		}
	}
	return rec, decoded
}

func TestHealthEndpoint(t *testing.T) {
	e, _ := newTestServer(t)

	rec, body := doJSON(t, e, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["status"] != "ok" || body["service"] != "storyteller-server" {
		t.Errorf("body = %v", body)
	}
}

func TestStatusEndpoint(t *testing.T) {
	e, _ := newTestServer(t)

	rec, body := doJSON(t, e, http.MethodGet, "/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["active_devices"] != float64(0) || body["active_sessions"] != float64(0) {
		t.Errorf("expected empty server, got %v", body)
	}
}

func TestListEpisodes(t *testing.T) {
	e, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/episodes", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var episodes []entities.EpisodeSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &episodes); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(episodes) != 3 {
		t.Fatalf("got %d episodes, want 3", len(episodes))
	}
	if episodes[0].Key() != "spanish_1_1" {
		t.Errorf("episodes not sorted: first is %s", episodes[0].Key())
	}
}

func TestDeviceAuthIssuesValidToken(t *testing.T) {
	e, deps := newTestServer(t)

	rec, body := doJSON(t, e, http.MethodPost, "/api/v1/device/auth",
		`{"serial_number":"SN-001","secret_key":"top-secret"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	token, _ := body["token"].(string)
	if token == "" {
		t.Fatal("no token in response")
	}
	claims, err := deps.Auth.ValidateToken(token)
	if err != nil {
		t.Fatalf("issued token does not validate: %v", err)
	}
	if claims.DeviceID != "esp32-registered" || claims.Role != "device" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestDeviceAuthRejectsBadSecret(t *testing.T) {
	e, _ := newTestServer(t)

	rec, body := doJSON(t, e, http.MethodPost, "/api/v1/device/auth",
		`{"serial_number":"SN-001","secret_key":"wrong"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["error"] != "authentication_failed" {
		t.Errorf("body = %v", body)
	}
}

func TestDeviceAuthRejectsMissingFields(t *testing.T) {
	e, _ := newTestServer(t)

	rec, _ := doJSON(t, e, http.MethodPost, "/api/v1/device/auth", `{"serial_number":"SN-001"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestWebsocketRejectsMissingToken(t *testing.T) {
	e, _ := newTestServer(t)

	rec, body := doJSON(t, e, http.MethodGet, "/ws", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["error"] != "missing_token" {
		t.Errorf("body = %v", body)
	}
}

func TestWebsocketRejectsUserToken(t *testing.T) {
	e, deps := newTestServer(t)

	token, err := deps.Auth.GenerateUserToken("user-1")
	if err != nil {
		t.Fatalf("GenerateUserToken: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestSessionNotFound(t *testing.T) {
	e, _ := newTestServer(t)

	rec, body := doJSON(t, e, http.MethodGet, "/sessions/no-such-device", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["error"] != "session_not_found" {
		t.Errorf("body = %v", body)
	}
}

func TestDeviceNotFound(t *testing.T) {
	e, _ := newTestServer(t)

	rec, _ := doJSON(t, e, http.MethodGet, "/devices/no-such-device", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestMetricsEndpointScrapes(t *testing.T) {
	e, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "storyteller_active_sessions") {
		t.Error("expected storyteller metrics in scrape output")
	}
}
