package entities

import (
	"errors"
	"time"
)

// Device represents one registered physical device.
type Device struct {
	ID              string    `json:"id"`
	SerialNumber    string    `json:"serial_number"`
	Model           string    `json:"model"`
	FirmwareVersion string    `json:"firmware_version,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (d *Device) Validate() error {
	if d.SerialNumber == "" {
		return errors.New("serial number is required")
	}
	if d.Model == "" {
		return errors.New("model is required")
	}
	return nil
}
