package models

import "time"

// ChunkSet is a versioned projection of an entity's normalized content for
// downstream indexing, keyed by (SiteID, SourceType, SourceID). At most one
// set per key is active at any instant: a new generation deactivates the
// previous active set in the same transaction that inserts the new one.
type ChunkSet struct {
	ID            string
	SiteID        string
	SourceType    EntityType
	SourceID      string
	ContentHash   string
	Active        bool
	CreatedAt     time.Time
	DeactivatedAt *time.Time
}
