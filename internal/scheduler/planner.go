package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"dailybrief/internal/domain"
	"dailybrief/internal/ports"
)

// SourceSchedule triggers a recurring sync job for one source.
type SourceSchedule struct {
	SourceID string
	Every    time.Duration
}

// OwnerSchedule triggers a daily briefing job for one owner at a local
// wall-clock time; the briefing covers the window of the given length
// ending at that time.
type OwnerSchedule struct {
	OwnerID string
	At      string // "15:04"
	Window  time.Duration
}

// Planner turns schedules into queue entries with explicit not-before
// timestamps and promotes due delayed jobs on every tick.
type Planner struct {
	queue        ports.JobQueue
	sources      []SourceSchedule
	owners       []OwnerSchedule
	tick         time.Duration
	location     *time.Location
	logger       *slog.Logger
	now          func() time.Time
	nextSync     map[string]time.Time
	nextBriefing map[string]time.Time
}

// NewPlanner builds a planner over the given schedules.
func NewPlanner(queue ports.JobQueue, sources []SourceSchedule, owners []OwnerSchedule, tick time.Duration, location *time.Location, logger *slog.Logger) *Planner {
	if location == nil {
		location = time.UTC
	}
	return &Planner{
		queue:        queue,
		sources:      sources,
		owners:       owners,
		tick:         tick,
		location:     location,
		logger:       logger,
		now:          time.Now,
		nextSync:     map[string]time.Time{},
		nextBriefing: map[string]time.Time{},
	}
}

// Run ticks until ctx is cancelled.
func (p *Planner) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()

	p.plan(ctx, p.now())
	for {
		select {
		case t := <-ticker.C:
			p.plan(ctx, t)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Planner) plan(ctx context.Context, now time.Time) {
	if promoted, err := p.queue.Promote(ctx, now); err != nil {
		p.logger.Error("promote delayed jobs", "error", err)
	} else if promoted > 0 {
		p.logger.Debug("promoted delayed jobs", "count", promoted)
	}

	p.planSyncs(ctx, now)
	p.planBriefings(ctx, now)
}

func (p *Planner) planSyncs(ctx context.Context, now time.Time) {
	for _, s := range p.sources {
		due, ok := p.nextSync[s.SourceID]
		if !ok {
			due = now
		}
		if now.Before(due) {
			continue
		}

		if err := p.enqueueSync(ctx, s.SourceID, due); err != nil {
			p.logger.Error("enqueue sync job", "source", s.SourceID, "error", err)
			continue
		}
		p.nextSync[s.SourceID] = now.Add(s.Every)
	}
}

func (p *Planner) planBriefings(ctx context.Context, now time.Time) {
	for _, o := range p.owners {
		next, ok := p.nextBriefing[o.OwnerID]
		if !ok {
			var err error
			next, err = p.firstRun(o.At, now)
			if err != nil {
				p.logger.Error("bad briefing schedule", "owner", o.OwnerID, "at", o.At, "error", err)
				continue
			}
			p.nextBriefing[o.OwnerID] = next
		}
		if now.Before(next) {
			continue
		}

		window := domain.Window{Start: next.Add(-o.Window), End: next}
		if err := p.enqueueBriefing(ctx, o.OwnerID, window, next); err != nil {
			p.logger.Error("enqueue briefing job", "owner", o.OwnerID, "error", err)
			continue
		}
		p.nextBriefing[o.OwnerID] = next.Add(24 * time.Hour)
	}
}

// firstRun resolves the owner's next generation instant: today's At in the
// planner's location, which may already be in the past (the missed
// briefing is then generated immediately).
func (p *Planner) firstRun(at string, now time.Time) (time.Time, error) {
	parsed, err := time.Parse("15:04", at)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %q: %w", at, err)
	}
	local := now.In(p.location)
	return time.Date(local.Year(), local.Month(), local.Day(),
		parsed.Hour(), parsed.Minute(), 0, 0, p.location), nil
}

func (p *Planner) enqueueSync(ctx context.Context, sourceID string, notBefore time.Time) error {
	payload, err := json.Marshal(domain.SyncPayload{SourceID: sourceID})
	if err != nil {
		return err
	}
	job := domain.Job{
		ID:      uuid.NewString(),
		Kind:    domain.JobKindSync,
		Payload: payload,
	}
	p.logger.Debug("job scheduled", "job_id", job.ID, "kind", job.Kind, "status", domain.JobScheduled, "source", sourceID)
	return p.queue.Enqueue(ctx, job, notBefore)
}

func (p *Planner) enqueueBriefing(ctx context.Context, ownerID string, window domain.Window, asOf time.Time) error {
	payload, err := json.Marshal(domain.BriefingPayload{
		OwnerID:     ownerID,
		WindowStart: window.Start,
		WindowEnd:   window.End,
		AsOf:        asOf,
	})
	if err != nil {
		return err
	}
	job := domain.Job{
		ID:      uuid.NewString(),
		Kind:    domain.JobKindBriefing,
		Payload: payload,
	}
	p.logger.Debug("job scheduled", "job_id", job.ID, "kind", job.Kind, "status", domain.JobScheduled, "owner", ownerID)
	return p.queue.Enqueue(ctx, job, asOf)
}
