package normalize

import (
	"context"
	"fmt"
	"sort"

	"dailybrief/internal/domain"
)

// GroupLookup resolves a fingerprint to an existing dedup group.
type GroupLookup func(ctx context.Context, fingerprint string) (domain.GroupRef, bool, error)

// Deduper assigns records to dedup groups by fingerprint. Equal
// fingerprints always resolve to the same group; collisions across
// different true stories are an accepted, tunable risk.
type Deduper struct {
	lookup GroupLookup
}

// NewDeduper wires the group lookup, typically backed by the content store.
func NewDeduper(lookup GroupLookup) *Deduper {
	return &Deduper{lookup: lookup}
}

// Assign resolves the record's dedup group. On a fingerprint hit the record
// merges into the existing group: it keeps the group's earliest published
// timestamp and the union of source ids referencing the story. Otherwise
// the fingerprint seeds a new group.
func (d *Deduper) Assign(ctx context.Context, rec domain.ContentRecord) (domain.ContentRecord, bool, error) {
	if d.lookup == nil {
		return rec, false, nil
	}

	ref, ok, err := d.lookup(ctx, rec.Fingerprint)
	if err != nil {
		return rec, false, fmt.Errorf("lookup group for %s: %w", rec.ID, err)
	}
	if !ok {
		rec.GroupID = rec.Fingerprint
		rec.SourceIDs = []string{rec.SourceID}
		return rec, false, nil
	}

	rec.GroupID = ref.GroupID
	if !ref.EarliestPublished.IsZero() && ref.EarliestPublished.Before(rec.PublishedAt) {
		rec.PublishedAt = ref.EarliestPublished
	}
	rec.SourceIDs = unionSources(ref.SourceIDs, rec.SourceID)

	return rec, true, nil
}

func unionSources(existing []string, add string) []string {
	seen := make(map[string]struct{}, len(existing)+1)
	for _, s := range existing {
		seen[s] = struct{}{}
	}
	seen[add] = struct{}{}

	union := make([]string, 0, len(seen))
	for s := range seen {
		union = append(union, s)
	}
	sort.Strings(union)
	return union
}
