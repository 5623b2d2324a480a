package ports

import (
	"context"
	"time"

	"dailybrief/internal/domain"
)

// Connector pulls raw items from one external source, resumable from an
// opaque cursor. Fetch is safe to call repeatedly with the same cursor.
type Connector interface {
	Kind() string
	Fetch(ctx context.Context, cursor string) (items []domain.RawItem, next string, err error)
}

// ContentStore persists canonical records and their classifications under
// upsert semantics keyed by record id and fingerprint.
type ContentStore interface {
	GroupByFingerprint(ctx context.Context, fingerprint string) (domain.GroupRef, bool, error)
	UpsertRecord(ctx context.Context, rec domain.ContentRecord) (created bool, err error)
	AttachClassification(ctx context.Context, cl domain.Classification) error
	RecordsInWindow(ctx context.Context, w domain.Window) ([]domain.ContentRecord, error)
}

// BriefingStore persists briefings with replace-in-place semantics per
// (owner, window start).
type BriefingStore interface {
	Replace(ctx context.Context, b domain.Briefing) error
	Get(ctx context.Context, id string) (domain.Briefing, error)
	HasReady(ctx context.Context, ownerID string, windowStart time.Time) (bool, error)
	RecentGroupIDs(ctx context.Context, ownerID string, since, before time.Time) (map[string]bool, error)
	SetNarration(ctx context.Context, briefingID, ref string, failed bool) error
}

// SyncStateStore keeps the resumable per-source cursor and last outcome.
type SyncStateStore interface {
	Get(ctx context.Context, sourceID string) (domain.SyncState, error)
	Put(ctx context.Context, st domain.SyncState) error
}

// Classifier assigns labels and a composite relevance score. The result is
// deterministic for a fixed record, as-of reference and classifier version.
type Classifier interface {
	Classify(rec domain.ContentRecord, asOf time.Time) domain.Classification
}

// Narrator submits briefing text to an external TTS capability and returns
// an audio reference.
type Narrator interface {
	Synthesize(ctx context.Context, text string) (string, error)
}

// JobQueue is the distributed queue driving sync and briefing jobs.
// Dequeue returns a nil lease when no job is due.
type JobQueue interface {
	Enqueue(ctx context.Context, job domain.Job, notBefore time.Time) error
	Promote(ctx context.Context, now time.Time) (int, error)
	Dequeue(ctx context.Context, consumer string) (*domain.Lease, error)
	Ack(ctx context.Context, lease *domain.Lease) error
	Nack(ctx context.Context, lease *domain.Lease, retryAfter time.Duration) error
	AcquireLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, owner string) error
}
