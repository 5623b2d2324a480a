package domain

import (
	"encoding/json"
	"time"
)

// JobKind identifies the work a queue entry carries.
type JobKind string

const (
	JobKindSync     JobKind = "sync"
	JobKindBriefing JobKind = "briefing"
	JobKindNarrate  JobKind = "narrate"
)

// JobStatus tracks a job instance through its state machine.
type JobStatus string

const (
	JobScheduled   JobStatus = "scheduled"
	JobRunning     JobStatus = "running"
	JobSucceeded   JobStatus = "succeeded"
	JobFailedRetry JobStatus = "failed_retry"
	JobFailedFatal JobStatus = "failed_fatal"
)

// Job is a queue entry. Payload holds the kind-specific arguments.
type Job struct {
	ID      string          `json:"id"`
	Kind    JobKind         `json:"kind"`
	Payload json.RawMessage `json:"payload"`
	Attempt int             `json:"attempt"`
}

// Lease is a dequeued job awaiting ack or nack.
type Lease struct {
	MessageID string
	Job       Job
}

// SyncPayload names the source a sync job covers.
type SyncPayload struct {
	SourceID string `json:"source_id"`
}

// BriefingPayload names the owner, window and scoring reference of a
// briefing generation job.
type BriefingPayload struct {
	OwnerID     string    `json:"owner_id"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	AsOf        time.Time `json:"as_of"`
}

// NarratePayload names the briefing whose narration should be retried.
type NarratePayload struct {
	BriefingID string `json:"briefing_id"`
}

// RunOutcome summarizes how a sync run ended.
type RunOutcome string

const (
	OutcomeSuccess RunOutcome = "success"
	OutcomePartial RunOutcome = "partial"
	OutcomeFailed  RunOutcome = "failed"
)

// SyncState is the resumable per-source sync position. It is mutated only
// by the sync job holding the per-source lock.
type SyncState struct {
	SourceID     string
	Cursor       string
	LastRunAt    time.Time
	LastOutcome  RunOutcome
	ItemsFetched int
	ItemsNew     int
	ItemsUpdated int
	ErrorMessage string
}
