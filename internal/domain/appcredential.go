package domain

import (
	"time"
)

// AppCredential represents a per-installation credential issued at app
// registration. The 16-digit private key is revealed to the caller exactly
// once; rows are deactivated, never deleted, to keep the audit trail.
// Maps to CockroachDB app_credentials table
type AppCredential struct {
	AppID               string    `json:"app_id" db:"app_id"`
	AppPrivateKey       string    `json:"-" db:"app_private_key"`
	DeviceID            string    `json:"device_id" db:"device_id"`
	ServerPublicKey     string    `json:"server_public_key" db:"server_public_key"`
	EncryptionAlgorithm string    `json:"encryption_algorithm" db:"encryption_algorithm"`
	IsActive            bool      `json:"is_active" db:"is_active"`
	DeviceName          string    `json:"device_name" db:"device_name"`
	OSVersion           string    `json:"os_version" db:"os_version"`
	AppVersion          string    `json:"app_version" db:"app_version"`
	Platform            string    `json:"platform" db:"platform"`
	RegisteredAt        time.Time `json:"registered_at" db:"registered_at"`
}

// AppRegistration represents data submitted at app install time
type AppRegistration struct {
	DeviceID   string `json:"device_id" binding:"required"`
	DeviceName string `json:"device_name"`
	OSVersion  string `json:"os_version"`
	AppVersion string `json:"app_version"`
	Platform   string `json:"platform" binding:"required,oneof=ios android web"`
}
