package briefing

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"dailybrief/internal/domain"
	"dailybrief/internal/ports"
)

// Options bound what a compiled briefing may contain.
type Options struct {
	MaxItems int
	MinScore float64
	Lookback time.Duration
}

// Compiler selects and orders scored content into a bounded briefing for
// one owner and window. Compilation reads content and classifications but
// never mutates them; writing the briefing is an atomic replace.
type Compiler struct {
	content    ports.ContentStore
	briefings  ports.BriefingStore
	classifier ports.Classifier
	opts       Options
	logger     *slog.Logger
}

// NewCompiler wires the stores and classifier.
func NewCompiler(content ports.ContentStore, briefings ports.BriefingStore, classifier ports.Classifier, opts Options, logger *slog.Logger) *Compiler {
	if opts.MaxItems <= 0 {
		opts.MaxItems = 10
	}
	return &Compiler{
		content:    content,
		briefings:  briefings,
		classifier: classifier,
		opts:       opts,
		logger:     logger,
	}
}

type candidate struct {
	rec   domain.ContentRecord
	score float64
}

// Compile builds and upserts the briefing for (owner, window), scoring
// records as of asOf. Recompiling the same window replaces the prior ready
// briefing in one step; a compile that finds nothing leaves it untouched
// and returns ErrNoContent instead.
func (c *Compiler) Compile(ctx context.Context, ownerID string, window domain.Window, asOf time.Time) (domain.Briefing, error) {
	records, err := c.content.RecordsInWindow(ctx, window)
	if err != nil {
		return domain.Briefing{}, fmt.Errorf("load window records: %w", err)
	}

	excluded, err := c.briefings.RecentGroupIDs(ctx, ownerID, window.Start.Add(-c.opts.Lookback), window.Start)
	if err != nil {
		return domain.Briefing{}, fmt.Errorf("load recent groups: %w", err)
	}

	candidates := make([]candidate, 0, len(records))
	for _, rec := range records {
		if excluded[rec.GroupID] {
			continue
		}
		cl := c.classifier.Classify(rec, asOf)
		if cl.Score < c.opts.MinScore {
			continue
		}
		candidates = append(candidates, candidate{rec: rec, score: cl.Score})
	}

	rank(candidates)

	items := make([]domain.BriefingItem, 0, c.opts.MaxItems)
	seenGroups := map[string]bool{}
	for _, cand := range candidates {
		if len(items) >= c.opts.MaxItems {
			break
		}
		if seenGroups[cand.rec.GroupID] {
			continue
		}
		seenGroups[cand.rec.GroupID] = true

		items = append(items, domain.BriefingItem{
			Position: len(items) + 1,
			RecordID: cand.rec.ID,
			GroupID:  cand.rec.GroupID,
			SourceID: cand.rec.SourceID,
			Title:    cand.rec.Title,
			Summary:  summarize(cand.rec.Body),
			Score:    cand.score,
		})
	}

	if len(items) == 0 {
		return c.compileEmpty(ctx, ownerID, window, asOf)
	}

	b := domain.Briefing{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		WindowStart: window.Start,
		WindowEnd:   window.End,
		Items:       items,
		Status:      domain.BriefingReady,
		Digest:      renderDigest(window, items),
		GeneratedAt: asOf,
	}

	if err := c.briefings.Replace(ctx, b); err != nil {
		return domain.Briefing{}, fmt.Errorf("replace briefing: %w", err)
	}

	c.logger.Info("briefing compiled", "owner", ownerID, "window_start", window.Start, "items", len(items))
	return b, nil
}

// compileEmpty keeps a prior ready briefing visible rather than replacing
// it with an empty one; only a window with no briefing at all records the
// failure.
func (c *Compiler) compileEmpty(ctx context.Context, ownerID string, window domain.Window, asOf time.Time) (domain.Briefing, error) {
	ready, err := c.briefings.HasReady(ctx, ownerID, window.Start)
	if err != nil {
		return domain.Briefing{}, fmt.Errorf("check prior briefing: %w", err)
	}
	if ready {
		c.logger.Info("no new content, keeping prior briefing", "owner", ownerID, "window_start", window.Start)
		return domain.Briefing{}, domain.ErrNoContent
	}

	b := domain.Briefing{
		ID:           uuid.NewString(),
		OwnerID:      ownerID,
		WindowStart:  window.Start,
		WindowEnd:    window.End,
		Status:       domain.BriefingFailed,
		GeneratedAt:  asOf,
		ErrorMessage: "no content available for briefing",
	}
	if err := c.briefings.Replace(ctx, b); err != nil {
		return domain.Briefing{}, fmt.Errorf("record empty briefing: %w", err)
	}
	return b, nil
}

// rank orders by score descending, more recent published_at first on ties,
// then stable record id order.
func rank(candidates []candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if !a.rec.PublishedAt.Equal(b.rec.PublishedAt) {
			return a.rec.PublishedAt.After(b.rec.PublishedAt)
		}
		return a.rec.ID < b.rec.ID
	})
}
