// Package models holds the persistent data model of the sync engine.
package models

import "time"

// AuthMode selects how requests to the remote origin are authenticated.
type AuthMode string

const (
	AuthModeBasic  AuthMode = "basic"
	AuthModeBearer AuthMode = "bearer"
)

// Site is a tenant's remote-origin connection. LastSyncAt is the incremental
// pull watermark and is monotonically non-decreasing.
type Site struct {
	ID               string
	OrganizationID   string
	BaseURL          string
	AuthMode         AuthMode
	AuthUser         string
	AuthSecretEnc    string
	WebhookSecretEnc string
	LastSyncAt       *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// SiteCredentials is the decrypted view of a site's origin access,
// resolved on demand by the credentials provider.
type SiteCredentials struct {
	BaseURL  string
	AuthMode AuthMode
	User     string
	Secret   string
}
