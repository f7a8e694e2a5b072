package api

import (
	"time"

	"github.com/storyteller/server/internal/orchestrator"
)

// DeviceAuthRequest represents the request payload for device authentication
type DeviceAuthRequest struct {
	SerialNumber string `json:"serial_number" validate:"required"`
	SecretKey    string `json:"secret_key" validate:"required"`
}

// DeviceAuthResponse represents the response payload for device authentication
type DeviceAuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	DeviceID  string    `json:"device_id"`
}

// StatusResponse is the operator-facing server snapshot.
type StatusResponse struct {
	Status         string    `json:"status"`
	Service        string    `json:"service"`
	StartedAt      time.Time `json:"started_at"`
	UptimeSeconds  int64     `json:"uptime_seconds"`
	ActiveDevices  int       `json:"active_devices"`
	ActiveSessions int       `json:"active_sessions"`
}

// DeviceStatusResponse describes one connected device's live state.
type DeviceStatusResponse struct {
	DeviceID  string                      `json:"device_id"`
	Connected bool                        `json:"connected"`
	Session   *orchestrator.SessionStatus `json:"session,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
