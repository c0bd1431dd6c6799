package models

import (
	"encoding/json"
	"time"
)

// JobType tags the closed set of queue job kinds.
type JobType string

const (
	JobTypeFullSync        JobType = "full_sync"
	JobTypeIncrementalPull JobType = "incremental_pull"
	JobTypeIncrementalSync JobType = "incremental_sync"
	JobTypeEmbedIndex      JobType = "embed_index"
)

// JobStatus is the queue state machine. Completed and failed are terminal;
// failed is reached only once attempts >= max_attempts.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// SyncJob is a row in the durable job queue. Mutated only by the worker
// holding the lock, except for the stuck-lock sweep.
type SyncJob struct {
	ID          string
	Type        JobType
	Status      JobStatus
	Payload     json.RawMessage
	Attempts    int
	MaxAttempts int
	LockedBy    *string
	LockedAt    *time.Time
	RunAt       time.Time
	Result      json.RawMessage
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
