package storage

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"dailybrief/internal/domain"
	"dailybrief/internal/ports"
)

// SyncStates persists per-source sync cursors and run outcomes.
type SyncStates struct {
	db DB
	sb sq.StatementBuilderType
}

var _ ports.SyncStateStore = (*SyncStates)(nil)

// NewSyncStates wires a pgx-backed sync state store.
func NewSyncStates(db DB) *SyncStates {
	return &SyncStates{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Get loads the sync state for a source. A source with no recorded state
// yields a zero state with only the source id set.
func (s *SyncStates) Get(ctx context.Context, sourceID string) (domain.SyncState, error) {
	query, args, err := s.sb.
		Select("source_id", "cursor", "last_run_at", "last_outcome",
			"items_fetched", "items_new", "items_updated", "error_message").
		From("sync_states").
		Where(sq.Eq{"source_id": sourceID}).
		ToSql()
	if err != nil {
		return domain.SyncState{}, fmt.Errorf("build state query: %w", err)
	}

	var st domain.SyncState
	var outcome string
	err = s.db.QueryRow(ctx, query, args...).Scan(&st.SourceID, &st.Cursor,
		&st.LastRunAt, &outcome, &st.ItemsFetched, &st.ItemsNew, &st.ItemsUpdated,
		&st.ErrorMessage)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SyncState{SourceID: sourceID}, nil
	}
	if err != nil {
		return domain.SyncState{}, fmt.Errorf("query state: %w", err)
	}
	st.LastOutcome = domain.RunOutcome(outcome)

	return st, nil
}

// Put upserts the sync state for a source.
func (s *SyncStates) Put(ctx context.Context, st domain.SyncState) error {
	query, args, err := s.sb.
		Insert("sync_states").
		Columns("source_id", "cursor", "last_run_at", "last_outcome",
			"items_fetched", "items_new", "items_updated", "error_message").
		Values(st.SourceID, st.Cursor, st.LastRunAt, string(st.LastOutcome),
			st.ItemsFetched, st.ItemsNew, st.ItemsUpdated, st.ErrorMessage).
		Suffix(`ON CONFLICT (source_id) DO UPDATE
			SET cursor = EXCLUDED.cursor,
			    last_run_at = EXCLUDED.last_run_at,
			    last_outcome = EXCLUDED.last_outcome,
			    items_fetched = EXCLUDED.items_fetched,
			    items_new = EXCLUDED.items_new,
			    items_updated = EXCLUDED.items_updated,
			    error_message = EXCLUDED.error_message`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build state upsert: %w", err)
	}

	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert state: %w", err)
	}

	return nil
}
