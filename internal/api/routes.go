package api

import (
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/storyteller/server/domain/repositories"
	"github.com/storyteller/server/internal/auth"
	"github.com/storyteller/server/internal/orchestrator"
	"github.com/storyteller/server/internal/websocket"
)

// Dependencies collects everything the route handlers reach into.
type Dependencies struct {
	Hub          *websocket.Hub
	Orchestrator *orchestrator.Orchestrator
	Catalog      repositories.EpisodeCatalog
	Devices      repositories.DeviceRepository
	Auth         *auth.Auth
	Registry     *prometheus.Registry
	Logger       *zap.Logger
}

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, deps Dependencies) {
	startedAt := time.Now()

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "storyteller-server",
		})
	})

	// Operator status surface
	e.GET("/status", func(c echo.Context) error {
		return c.JSON(http.StatusOK, StatusResponse{
			Status:         "ok",
			Service:        "storyteller-server",
			StartedAt:      startedAt,
			UptimeSeconds:  int64(time.Since(startedAt).Seconds()),
			ActiveDevices:  len(deps.Hub.DeviceIDs()),
			ActiveSessions: len(deps.Orchestrator.Sessions()),
		})
	})

	e.GET("/devices", func(c echo.Context) error {
		return listDevices(c, deps)
	})
	e.GET("/devices/:id", func(c echo.Context) error {
		return getDevice(c, deps)
	})
	e.GET("/sessions", func(c echo.Context) error {
		return c.JSON(http.StatusOK, deps.Orchestrator.Sessions())
	})
	e.GET("/sessions/:deviceID", func(c echo.Context) error {
		status, found := deps.Orchestrator.Session(c.Param("deviceID"))
		if !found {
			return c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "session_not_found",
				Message: "No live session for this device",
			})
		}
		return c.JSON(http.StatusOK, status)
	})
	e.GET("/episodes", func(c echo.Context) error {
		return listEpisodes(c, deps)
	})

	// Prometheus scrape endpoint
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))

	// API v1 routes
	v1 := e.Group("/api/v1")

	// Device APIs
	v1.POST("/device/auth", func(c echo.Context) error {
		return deviceAuth(c, deps)
	})

	// WebSocket endpoint with JWT validation
	e.GET("/ws", func(c echo.Context) error {
		return websocketWithAuth(c, deps)
	})
}

func listDevices(c echo.Context, deps Dependencies) error {
	ids := deps.Hub.DeviceIDs()
	sort.Strings(ids)

	devices := make([]DeviceStatusResponse, 0, len(ids))
	for _, id := range ids {
		entry := DeviceStatusResponse{DeviceID: id, Connected: true}
		if status, found := deps.Orchestrator.Session(id); found {
			entry.Session = &status
		}
		devices = append(devices, entry)
	}
	return c.JSON(http.StatusOK, devices)
}

func getDevice(c echo.Context, deps Dependencies) error {
	id := c.Param("id")
	connected := deps.Hub.IsConnected(id)
	status, found := deps.Orchestrator.Session(id)
	if !connected && !found {
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "device_not_found",
			Message: "Device is not connected",
		})
	}

	entry := DeviceStatusResponse{DeviceID: id, Connected: connected}
	if found {
		entry.Session = &status
	}
	return c.JSON(http.StatusOK, entry)
}

func listEpisodes(c echo.Context, deps Dependencies) error {
	episodes, err := deps.Catalog.ListEpisodes(c.Request().Context())
	if err != nil {
		deps.Logger.Error("Failed to list episodes", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "catalog_unavailable",
			Message: "Failed to list episodes",
		})
	}
	return c.JSON(http.StatusOK, episodes)
}

func deviceAuth(c echo.Context, deps Dependencies) error {
	var req DeviceAuthRequest

	// Bind and validate request
	if err := c.Bind(&req); err != nil {
		deps.Logger.Error("Failed to bind device auth request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	// Validate required fields
	if req.SerialNumber == "" || req.SecretKey == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "Serial number and secret key are required",
		})
	}

	device, err := deps.Devices.ValidateDevice(req.SerialNumber, req.SecretKey)
	if err != nil {
		deps.Logger.Warn("Device authentication failed",
			zap.String("serial_number", req.SerialNumber),
			zap.Error(err))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "authentication_failed",
			Message: "Invalid device credentials",
		})
	}

	// Generate JWT token for the device
	token, err := deps.Auth.GenerateDeviceToken(device.ID)
	if err != nil {
		deps.Logger.Error("Failed to generate device token",
			zap.String("device_id", device.ID),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "token_generation_failed",
			Message: "Failed to generate authentication token",
		})
	}

	// Calculate expiration time (24 hours from now, matching JWT claims)
	expiresAt := time.Now().Add(24 * time.Hour)

	deps.Logger.Info("Device authenticated successfully",
		zap.String("device_id", device.ID),
		zap.String("serial_number", device.SerialNumber))

	return c.JSON(http.StatusOK, DeviceAuthResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		DeviceID:  device.ID,
	})
}

// websocketWithAuth handles WebSocket connections with JWT authentication
func websocketWithAuth(c echo.Context, deps Dependencies) error {
	// Extract JWT token from Authorization header only
	var token string
	authHeader := c.Request().Header.Get("Authorization")
	if authHeader != "" && len(authHeader) > 7 && authHeader[:7] == "Bearer " {
		token = authHeader[7:]
	}

	if token == "" {
		deps.Logger.Warn("WebSocket connection rejected: missing token")
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "missing_token",
			Message: "JWT token is required in Authorization header",
		})
	}

	// Validate JWT token
	claims, err := deps.Auth.ValidateToken(token)
	if err != nil {
		deps.Logger.Warn("WebSocket connection rejected: invalid token", zap.Error(err))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "invalid_token",
			Message: "Invalid or expired JWT token",
		})
	}

	// Verify this is a device token
	if claims.Role != "device" {
		deps.Logger.Warn("WebSocket connection rejected: invalid role",
			zap.String("role", claims.Role))
		return c.JSON(http.StatusForbidden, ErrorResponse{
			Error:   "invalid_role",
			Message: "Only device tokens are allowed for WebSocket connections",
		})
	}

	// Extract device ID from JWT claims
	deviceID := claims.DeviceID
	if deviceID == "" {
		deps.Logger.Error("WebSocket connection rejected: missing device ID in token")
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_token_claims",
			Message: "Device ID not found in token",
		})
	}

	deps.Logger.Info("WebSocket connection authenticated",
		zap.String("device_id", deviceID),
		zap.String("role", claims.Role))

	// Handle WebSocket connection with authenticated device ID
	return websocket.HandleWebSocketWithAuth(deps.Hub, c, deviceID, deps.Logger)
}
