package models

import (
	"encoding/json"
	"time"
)

// ConflictType classifies a detected write-write divergence.
type ConflictType string

const (
	ConflictTypeLocalNewer  ConflictType = "local_newer"
	ConflictTypeRemoteNewer ConflictType = "remote_newer"
	ConflictTypeDiverged    ConflictType = "diverged"
)

// ResolutionStatus tracks manual follow-up. A conflict is immutable once
// it leaves the open state.
type ResolutionStatus string

const (
	ResolutionStatusOpen     ResolutionStatus = "open"
	ResolutionStatusResolved ResolutionStatus = "resolved"
	ResolutionStatusIgnored  ResolutionStatus = "ignored"
)

// SyncConflict records both sides of an LWW divergence for audit and manual
// reconciliation. The automated sync path never blocks on it.
type SyncConflict struct {
	ID               string
	OrganizationID   string
	SiteID           string
	EntityType       EntityType
	RemoteID         int64
	LocalID          string
	ConflictType     ConflictType
	LocalSnapshot    json.RawMessage
	RemoteSnapshot   json.RawMessage
	ResolutionStatus ResolutionStatus
	ResolvedBy       string
	ResolutionNote   string
	DetectedAt       time.Time
	ResolvedAt       *time.Time
}
