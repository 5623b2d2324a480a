package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	sq "github.com/Masterminds/squirrel"

	"dailybrief/internal/domain"
	"dailybrief/internal/ports"
)

var _ ports.ContentStore = (*Store)(nil)

// GroupByFingerprint collects the existing dedup group for a fingerprint:
// its group id, the earliest published time and the union of source ids.
func (s *Store) GroupByFingerprint(ctx context.Context, fingerprint string) (domain.GroupRef, bool, error) {
	query, args, err := s.sb.
		Select("group_id", "published_at", "source_ids").
		From("content_records").
		Where(sq.Eq{"fingerprint": fingerprint}).
		ToSql()
	if err != nil {
		return domain.GroupRef{}, false, fmt.Errorf("build group query: %w", err)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return domain.GroupRef{}, false, fmt.Errorf("query group: %w", err)
	}
	defer rows.Close()

	var ref domain.GroupRef
	var found bool
	seen := map[string]bool{}
	for rows.Next() {
		var (
			groupID   string
			published time.Time
			sourceIDs []string
		)
		if err := rows.Scan(&groupID, &published, &sourceIDs); err != nil {
			return domain.GroupRef{}, false, fmt.Errorf("scan group row: %w", err)
		}
		if !found {
			ref.GroupID = groupID
			ref.EarliestPublished = published
			found = true
		} else if published.Before(ref.EarliestPublished) {
			ref.EarliestPublished = published
		}
		for _, id := range sourceIDs {
			seen[id] = true
		}
	}
	if err := rows.Err(); err != nil {
		return domain.GroupRef{}, false, fmt.Errorf("group rows: %w", err)
	}
	if !found {
		return domain.GroupRef{}, false, nil
	}

	for id := range seen {
		ref.SourceIDs = append(ref.SourceIDs, id)
	}
	sort.Strings(ref.SourceIDs)

	return ref, true, nil
}

// UpsertRecord inserts or refreshes a canonical record. On conflict the
// published time keeps the earliest value seen. The returned flag reports
// whether a new row was created.
func (s *Store) UpsertRecord(ctx context.Context, rec domain.ContentRecord) (bool, error) {
	query, args, err := s.sb.
		Insert("content_records").
		Columns("id", "source_id", "source_ids", "external_id", "title", "body", "url",
			"published_at", "fingerprint", "group_id").
		Values(rec.ID, rec.SourceID, rec.SourceIDs, rec.ExternalID, rec.Title, rec.Body, rec.URL,
			rec.PublishedAt, rec.Fingerprint, rec.GroupID).
		Suffix(`ON CONFLICT (id) DO UPDATE
			SET title = EXCLUDED.title,
			    body = EXCLUDED.body,
			    url = EXCLUDED.url,
			    source_ids = EXCLUDED.source_ids,
			    published_at = LEAST(content_records.published_at, EXCLUDED.published_at),
			    fingerprint = EXCLUDED.fingerprint,
			    group_id = EXCLUDED.group_id,
			    updated_at = NOW()
			RETURNING (xmax = 0)`).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build record upsert: %w", err)
	}

	var created bool
	if err := s.db.QueryRow(ctx, query, args...).Scan(&created); err != nil {
		return false, fmt.Errorf("upsert record: %w", err)
	}

	return created, nil
}

// AttachClassification stores the latest classification for a record,
// replacing any previous one.
func (s *Store) AttachClassification(ctx context.Context, cl domain.Classification) error {
	labels, err := json.Marshal(cl.Labels)
	if err != nil {
		return fmt.Errorf("encode labels: %w", err)
	}

	query, args, err := s.sb.
		Insert("classifications").
		Columns("record_id", "labels", "score", "version", "as_of").
		Values(cl.RecordID, labels, cl.Score, cl.Version, cl.AsOf).
		Suffix(`ON CONFLICT (record_id) DO UPDATE
			SET labels = EXCLUDED.labels,
			    score = EXCLUDED.score,
			    version = EXCLUDED.version,
			    as_of = EXCLUDED.as_of`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build classification upsert: %w", err)
	}

	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert classification: %w", err)
	}

	return nil
}

// RecordsInWindow returns records published inside the half-open window,
// newest first.
func (s *Store) RecordsInWindow(ctx context.Context, w domain.Window) ([]domain.ContentRecord, error) {
	query, args, err := s.sb.
		Select("id", "source_id", "source_ids", "external_id", "title", "body", "url",
			"published_at", "fingerprint", "group_id").
		From("content_records").
		Where(sq.GtOrEq{"published_at": w.Start}).
		Where(sq.Lt{"published_at": w.End}).
		OrderBy("published_at DESC", "id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build window query: %w", err)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query window: %w", err)
	}
	defer rows.Close()

	var records []domain.ContentRecord
	for rows.Next() {
		var rec domain.ContentRecord
		if err := rows.Scan(&rec.ID, &rec.SourceID, &rec.SourceIDs, &rec.ExternalID,
			&rec.Title, &rec.Body, &rec.URL, &rec.PublishedAt, &rec.Fingerprint, &rec.GroupID); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("window rows: %w", err)
	}

	return records, nil
}
