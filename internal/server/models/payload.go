package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cmstack/mirrorsync/internal/common"
)

// Envelope carries the fields every job payload shares. Each job type is a
// tagged variant of this envelope; payloads are decoded at the queue
// boundary so processors receive a strongly-shaped value instead of an
// untyped bag.
type Envelope struct {
	OrganizationID string `json:"organizationId"`
	SiteID         string `json:"siteId"`
	CorrelationID  string `json:"correlationId"`
}

// FullSyncPayload requests a bulk paged pull of one entity type.
type FullSyncPayload struct {
	Envelope
	EntityType EntityType `json:"entityType"`
	BatchSize  int        `json:"batchSize"`
}

// IncrementalPullPayload requests a watermark-window diff pull for a site.
type IncrementalPullPayload struct {
	Envelope
}

// IncrementalSyncPayload processes one modified remote item. Origin is
// either "webhook" or "cron".
type IncrementalSyncPayload struct {
	Envelope
	EntityType  EntityType `json:"wpEntityType"`
	RemoteID    int64      `json:"wpId"`
	Action      string     `json:"action,omitempty"`
	ModifiedGMT *time.Time `json:"modifiedGmt,omitempty"`
	Origin      string     `json:"origin,omitempty"`
}

// EmbedIndexPayload hands normalized text to the downstream indexing
// pipeline, which is outside this system's scope.
type EmbedIndexPayload struct {
	Envelope
	SourceType  EntityType `json:"sourceType"`
	SourceID    string     `json:"sourceId"`
	ChunkSetID  string     `json:"chunkSetId"`
	ContentHash string     `json:"contentHash"`
	Content     string     `json:"content"`
}

// DecodePayload unmarshals raw into the variant matching jobType. Unknown
// job types are rejected so a mistyped row can never reach a processor.
func DecodePayload(jobType JobType, raw json.RawMessage) (any, error) {
	switch jobType {
	case JobTypeFullSync:
		var p FullSyncPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", jobType, err)
		}
		return &p, nil
	case JobTypeIncrementalPull:
		var p IncrementalPullPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", jobType, err)
		}
		return &p, nil
	case JobTypeIncrementalSync:
		var p IncrementalSyncPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", jobType, err)
		}
		return &p, nil
	case JobTypeEmbedIndex:
		var p EmbedIndexPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", jobType, err)
		}
		return &p, nil
	default:
		return nil, fmt.Errorf("%w: %q has no payload variant", common.ErrUnknownJobType, jobType)
	}
}

// EncodePayload marshals a typed payload for storage.
func EncodePayload(p any) (json.RawMessage, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return b, nil
}
