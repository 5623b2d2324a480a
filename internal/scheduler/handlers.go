package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"dailybrief/internal/domain"
	"dailybrief/internal/ports"
	"dailybrief/internal/usecase"
)

// NewSyncHandler wraps the sync pipeline with per-source serialization.
// Two sync jobs for the same source never run concurrently; the loser
// fails retryable and comes back after backoff.
func NewSyncHandler(queue ports.JobQueue, pipeline *usecase.SyncPipeline, lockTTL time.Duration, logger *slog.Logger) Handler {
	return func(ctx context.Context, job domain.Job) error {
		var payload domain.SyncPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("%w: decode sync payload: %v", domain.ErrSourceContractViolation, err)
		}

		locked, err := queue.AcquireLock(ctx, "sync:"+payload.SourceID, job.ID, lockTTL)
		if err != nil {
			return fmt.Errorf("acquire source lock: %w", err)
		}
		if !locked {
			return fmt.Errorf("source %s sync already running", payload.SourceID)
		}
		defer func() {
			if err := queue.ReleaseLock(ctx, "sync:"+payload.SourceID, job.ID); err != nil {
				logger.Error("release source lock", "source", payload.SourceID, "error", err)
			}
		}()

		return pipeline.Run(ctx, payload.SourceID)
	}
}

// NewBriefingHandler runs briefing compilation. When narration fails, a
// separate narrate job retries it later without recompiling.
func NewBriefingHandler(queue ports.JobQueue, pipeline *usecase.BriefingPipeline, narrateRetryAfter time.Duration, logger *slog.Logger) Handler {
	return func(ctx context.Context, job domain.Job) error {
		var payload domain.BriefingPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("%w: decode briefing payload: %v", domain.ErrSourceContractViolation, err)
		}

		window := domain.Window{Start: payload.WindowStart, End: payload.WindowEnd}
		b, err := pipeline.Run(ctx, payload.OwnerID, window, payload.AsOf)
		if errors.Is(err, domain.ErrNoContent) {
			return nil
		}
		if err != nil {
			return err
		}

		if b.NarrationFailed {
			if err := enqueueNarrate(ctx, queue, b.ID, narrateRetryAfter); err != nil {
				logger.Error("schedule narration retry", "briefing_id", b.ID, "error", err)
			}
		}
		return nil
	}
}

// NewNarrateHandler retries narration for an already compiled briefing.
func NewNarrateHandler(pipeline *usecase.BriefingPipeline) Handler {
	return func(ctx context.Context, job domain.Job) error {
		var payload domain.NarratePayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("%w: decode narrate payload: %v", domain.ErrSourceContractViolation, err)
		}
		return pipeline.Narrate(ctx, payload.BriefingID)
	}
}

func enqueueNarrate(ctx context.Context, queue ports.JobQueue, briefingID string, after time.Duration) error {
	payload, err := json.Marshal(domain.NarratePayload{BriefingID: briefingID})
	if err != nil {
		return err
	}
	job := domain.Job{
		ID:      "narrate-" + briefingID,
		Kind:    domain.JobKindNarrate,
		Payload: payload,
	}
	return queue.Enqueue(ctx, job, time.Now().Add(after))
}
