package models

import (
	"encoding/json"
	"time"
)

// EntityType is the mirrored remote collection kind.
type EntityType string

const (
	EntityTypePage     EntityType = "page"
	EntityTypePost     EntityType = "post"
	EntityTypeCategory EntityType = "category"
	EntityTypeMedia    EntityType = "media"
)

// Entity is a local mirror of one remote item, uniquely keyed by
// (SiteID, Type, RemoteID). SyncedAt is the last-seen remote synced
// timestamp and anchors the LWW comparison; PushedAt feeds the anti-loop
// guard. The sync engine never hard-deletes an entity: remote deletes only
// set ArchivedAt.
type Entity struct {
	ID               string
	SiteID           string
	Type             EntityType
	RemoteID         int64
	Title            string
	Content          string
	Excerpt          string
	Status           string
	ParentRemoteID   int64
	Taxonomy         json.RawMessage
	CustomFields     json.RawMessage
	SourceURL        string
	StorageKey       string
	RemoteModifiedAt time.Time
	SyncedAt         time.Time
	PushedAt         *time.Time
	ArchivedAt       *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
