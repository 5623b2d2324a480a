// Package usecase orchestrates the sync and briefing pipelines over the
// driven adapters.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"dailybrief/internal/domain"
	"dailybrief/internal/normalize"
	"dailybrief/internal/ports"
)

// SyncDeps wires the adapters the sync pipeline drives.
type SyncDeps struct {
	Connectors map[string]ports.Connector
	Normalizer *normalize.Normalizer
	Deduper    *normalize.Deduper
	Classifier ports.Classifier
	Content    ports.ContentStore
	States     ports.SyncStateStore
	Logger     *slog.Logger
}

// SyncPipeline ingests one source: fetch from the stored cursor, normalize
// and dedup each item, persist, classify. The cursor advances only after a
// page is fully persisted, so a crash-retry from the same cursor cannot
// lose items, and dedup by fingerprint keeps the rerun free of duplicates.
type SyncPipeline struct {
	connectors map[string]ports.Connector
	normalizer *normalize.Normalizer
	deduper    *normalize.Deduper
	classifier ports.Classifier
	content    ports.ContentStore
	states     ports.SyncStateStore
	logger     *slog.Logger
	now        func() time.Time
}

// NewSyncPipeline constructs the sync orchestration component.
func NewSyncPipeline(deps SyncDeps) *SyncPipeline {
	return &SyncPipeline{
		connectors: deps.Connectors,
		normalizer: deps.Normalizer,
		deduper:    deps.Deduper,
		classifier: deps.Classifier,
		content:    deps.Content,
		states:     deps.States,
		logger:     deps.Logger,
		now:        time.Now,
	}
}

// Run executes one sync job for the named source. Per-item malformations
// are logged and skipped; fetch failures abort the run and leave the last
// successful cursor untouched for the scheduler to decide on retry.
func (p *SyncPipeline) Run(ctx context.Context, sourceID string) error {
	conn, ok := p.connectors[sourceID]
	if !ok {
		return fmt.Errorf("%w: no connector for source %q", domain.ErrSourceContractViolation, sourceID)
	}

	st, err := p.states.Get(ctx, sourceID)
	if err != nil {
		return fmt.Errorf("load sync state %s: %w", sourceID, err)
	}
	st.SourceID = sourceID

	start := p.now()
	asOf := start
	cursor := st.Cursor

	var fetched, created, updated, skipped int
	var runErr error

pages:
	for {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		items, next, err := conn.Fetch(ctx, cursor)
		if errors.Is(err, domain.ErrSourceExhausted) {
			break
		}
		if err != nil {
			runErr = err
			break
		}

		for _, item := range items {
			fetched++

			rec, err := p.normalizer.Normalize(item)
			if errors.Is(err, domain.ErrMalformedItem) {
				p.logger.Warn("skipping malformed item",
					"source", sourceID,
					"external_id", item.ExternalID,
					"error", err)
				skipped++
				continue
			}
			if err != nil {
				runErr = err
				break pages
			}

			rec, merged, err := p.deduper.Assign(ctx, rec)
			if err != nil {
				runErr = err
				break pages
			}

			isNew, err := p.content.UpsertRecord(ctx, rec)
			if err != nil {
				runErr = fmt.Errorf("persist record %s: %w", rec.ID, err)
				break pages
			}
			if isNew && !merged {
				created++
			} else {
				updated++
			}

			cl := p.classifier.Classify(rec, asOf)
			if err := p.content.AttachClassification(ctx, cl); err != nil {
				runErr = fmt.Errorf("attach classification %s: %w", rec.ID, err)
				break pages
			}
		}
		if runErr != nil {
			break
		}

		if next == cursor {
			break
		}
		cursor = next

		// Advance the resumption point only once the page is persisted.
		st.Cursor = cursor
		if err := p.states.Put(ctx, st); err != nil {
			runErr = fmt.Errorf("advance cursor %s: %w", sourceID, err)
			break
		}
	}

	st.LastRunAt = start
	st.ItemsFetched = fetched
	st.ItemsNew = created
	st.ItemsUpdated = updated

	switch {
	case runErr != nil:
		st.LastOutcome = domain.OutcomeFailed
		st.ErrorMessage = runErr.Error()
	case skipped > 0:
		st.LastOutcome = domain.OutcomePartial
		st.ErrorMessage = fmt.Sprintf("%d malformed items skipped", skipped)
	default:
		st.LastOutcome = domain.OutcomeSuccess
		st.ErrorMessage = ""
	}

	if err := p.states.Put(ctx, st); err != nil {
		if runErr == nil {
			runErr = fmt.Errorf("record sync outcome %s: %w", sourceID, err)
		} else {
			p.logger.Error("record sync outcome", "source", sourceID, "error", err)
		}
	}

	if runErr != nil {
		return fmt.Errorf("sync %s (cursor %q): %w", sourceID, st.Cursor, runErr)
	}

	p.logger.Info("sync finished",
		"source", sourceID,
		"fetched", fetched,
		"new", created,
		"updated", updated,
		"skipped", skipped)
	return nil
}
