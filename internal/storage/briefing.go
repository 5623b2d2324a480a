package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"dailybrief/internal/domain"
	"dailybrief/internal/ports"
)

var _ ports.BriefingStore = (*Store)(nil)

// ErrBriefingNotFound is returned when a briefing id does not exist.
var ErrBriefingNotFound = errors.New("briefing not found")

// Replace atomically swaps the briefing for (owner, window start) with the
// given one. Any previous briefing and its items are removed in the same
// transaction.
func (s *Store) Replace(ctx context.Context, b domain.Briefing) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`DELETE FROM briefing_items
		 WHERE briefing_id IN (SELECT id FROM briefings WHERE owner_id = $1 AND window_start = $2)`,
		b.OwnerID, b.WindowStart)
	if err != nil {
		return fmt.Errorf("delete old items: %w", err)
	}

	_, err = tx.Exec(ctx,
		`DELETE FROM briefings WHERE owner_id = $1 AND window_start = $2`,
		b.OwnerID, b.WindowStart)
	if err != nil {
		return fmt.Errorf("delete old briefing: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO briefings (id, owner_id, window_start, window_end, status, digest,
			generated_at, narration_ref, narration_failed, error_message)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		b.ID, b.OwnerID, b.WindowStart, b.WindowEnd, string(b.Status), b.Digest,
		b.GeneratedAt, b.NarrationRef, b.NarrationFailed, b.ErrorMessage)
	if err != nil {
		return fmt.Errorf("insert briefing: %w", err)
	}

	for _, item := range b.Items {
		_, err = tx.Exec(ctx,
			`INSERT INTO briefing_items (briefing_id, position, record_id, group_id,
				source_id, title, summary, score)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			b.ID, item.Position, item.RecordID, item.GroupID,
			item.SourceID, item.Title, item.Summary, item.Score)
		if err != nil {
			return fmt.Errorf("insert item %d: %w", item.Position, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit replace: %w", err)
	}

	return nil
}

// Get loads a briefing and its items by id.
func (s *Store) Get(ctx context.Context, id string) (domain.Briefing, error) {
	query, args, err := s.sb.
		Select("id", "owner_id", "window_start", "window_end", "status", "digest",
			"generated_at", "narration_ref", "narration_failed", "error_message").
		From("briefings").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return domain.Briefing{}, fmt.Errorf("build briefing query: %w", err)
	}

	var b domain.Briefing
	var status string
	err = s.db.QueryRow(ctx, query, args...).Scan(&b.ID, &b.OwnerID, &b.WindowStart,
		&b.WindowEnd, &status, &b.Digest, &b.GeneratedAt, &b.NarrationRef,
		&b.NarrationFailed, &b.ErrorMessage)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Briefing{}, ErrBriefingNotFound
	}
	if err != nil {
		return domain.Briefing{}, fmt.Errorf("query briefing: %w", err)
	}
	b.Status = domain.BriefingStatus(status)

	items, err := s.briefingItems(ctx, id)
	if err != nil {
		return domain.Briefing{}, err
	}
	b.Items = items

	return b, nil
}

func (s *Store) briefingItems(ctx context.Context, briefingID string) ([]domain.BriefingItem, error) {
	query, args, err := s.sb.
		Select("position", "record_id", "group_id", "source_id", "title", "summary", "score").
		From("briefing_items").
		Where(sq.Eq{"briefing_id": briefingID}).
		OrderBy("position ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build items query: %w", err)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var items []domain.BriefingItem
	for rows.Next() {
		var item domain.BriefingItem
		if err := rows.Scan(&item.Position, &item.RecordID, &item.GroupID,
			&item.SourceID, &item.Title, &item.Summary, &item.Score); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("item rows: %w", err)
	}

	return items, nil
}

// HasReady reports whether a ready briefing already exists for the owner
// and window start.
func (s *Store) HasReady(ctx context.Context, ownerID string, windowStart time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM briefings
			WHERE owner_id = $1 AND window_start = $2 AND status = $3
		 )`,
		ownerID, windowStart, string(domain.BriefingReady)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query has ready: %w", err)
	}

	return exists, nil
}

// RecentGroupIDs returns the dedup groups already surfaced to the owner in
// ready briefings whose window start falls in [since, before).
func (s *Store) RecentGroupIDs(ctx context.Context, ownerID string, since, before time.Time) (map[string]bool, error) {
	rows, err := s.db.Query(ctx,
		`SELECT DISTINCT bi.group_id
		 FROM briefing_items bi
		 JOIN briefings b ON b.id = bi.briefing_id
		 WHERE b.owner_id = $1 AND b.status = $2
		   AND b.window_start >= $3 AND b.window_start < $4`,
		ownerID, string(domain.BriefingReady), since, before)
	if err != nil {
		return nil, fmt.Errorf("query recent groups: %w", err)
	}
	defer rows.Close()

	groups := make(map[string]bool)
	for rows.Next() {
		var groupID string
		if err := rows.Scan(&groupID); err != nil {
			return nil, fmt.Errorf("scan group id: %w", err)
		}
		groups[groupID] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recent group rows: %w", err)
	}

	return groups, nil
}

// SetNarration records the narration outcome for a briefing.
func (s *Store) SetNarration(ctx context.Context, briefingID, ref string, failed bool) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE briefings SET narration_ref = $1, narration_failed = $2 WHERE id = $3`,
		ref, failed, briefingID)
	if err != nil {
		return fmt.Errorf("update narration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBriefingNotFound
	}

	return nil
}
