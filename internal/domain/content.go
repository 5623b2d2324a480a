package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// RawItem is a single item pulled from an external source. It lives only
// between a connector and the normalizer and is never persisted as-is.
type RawItem struct {
	SourceID   string
	ExternalID string
	FetchedAt  time.Time
	Payload    []byte
}

// ContentRecord is the canonical, persisted form of an item. Its identity
// is derived from (source id, external id); the fingerprint drives
// deduplication across sources.
type ContentRecord struct {
	ID          string
	SourceID    string
	SourceIDs   []string
	ExternalID  string
	Title       string
	Body        string
	URL         string
	PublishedAt time.Time
	Fingerprint string
	GroupID     string
}

// RecordID derives the stable record identity from source and external ids.
func RecordID(sourceID, externalID string) string {
	sum := sha256.Sum256([]byte(sourceID + "\x00" + externalID))
	return hex.EncodeToString(sum[:])
}

// GroupRef describes an existing dedup group as seen by the store.
type GroupRef struct {
	GroupID           string
	EarliestPublished time.Time
	SourceIDs         []string
}

// Label is a single topic assignment with its confidence.
type Label struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// Classification captures labels and the composite relevance score for one
// record. Recomputing with the same record, as-of reference and version
// yields an identical result.
type Classification struct {
	RecordID string
	Labels   []Label
	Score    float64
	Version  string
	AsOf     time.Time
}
