package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"dailybrief/internal/briefing"
	"dailybrief/internal/domain"
	"dailybrief/internal/ports"
)

// BriefingPipeline compiles a briefing and attaches narration. Narration
// failure never blocks text delivery: the briefing stays ready with the
// narration-failed flag set.
type BriefingPipeline struct {
	compiler  *briefing.Compiler
	briefings ports.BriefingStore
	narrator  ports.Narrator
	logger    *slog.Logger
}

// NewBriefingPipeline constructs the briefing orchestration component. A
// nil narrator disables narration entirely.
func NewBriefingPipeline(compiler *briefing.Compiler, briefings ports.BriefingStore, narrator ports.Narrator, logger *slog.Logger) *BriefingPipeline {
	return &BriefingPipeline{
		compiler:  compiler,
		briefings: briefings,
		narrator:  narrator,
		logger:    logger,
	}
}

// Run compiles the (owner, window) briefing as of asOf and narrates it.
// The returned briefing reflects the final persisted state.
func (p *BriefingPipeline) Run(ctx context.Context, ownerID string, window domain.Window, asOf time.Time) (domain.Briefing, error) {
	b, err := p.compiler.Compile(ctx, ownerID, window, asOf)
	if errors.Is(err, domain.ErrNoContent) {
		return domain.Briefing{}, err
	}
	if err != nil {
		return domain.Briefing{}, fmt.Errorf("compile briefing: %w", err)
	}
	if b.Status != domain.BriefingReady || p.narrator == nil {
		return b, nil
	}

	ref, err := p.narrator.Synthesize(ctx, b.Digest)
	if err != nil {
		p.logger.Warn("narration failed, delivering text only",
			"owner", ownerID,
			"briefing_id", b.ID,
			"error", err)
		b.NarrationFailed = true
		if err := p.briefings.SetNarration(ctx, b.ID, "", true); err != nil {
			return b, fmt.Errorf("flag narration failure: %w", err)
		}
		return b, nil
	}

	b.NarrationRef = ref
	if err := p.briefings.SetNarration(ctx, b.ID, ref, false); err != nil {
		return b, fmt.Errorf("attach narration: %w", err)
	}
	return b, nil
}

// Narrate retries narration for an existing briefing, independently of
// compilation.
func (p *BriefingPipeline) Narrate(ctx context.Context, briefingID string) error {
	if p.narrator == nil {
		return nil
	}

	b, err := p.briefings.Get(ctx, briefingID)
	if err != nil {
		return fmt.Errorf("load briefing %s: %w", briefingID, err)
	}
	if b.NarrationRef != "" {
		return nil
	}

	ref, err := p.narrator.Synthesize(ctx, b.Digest)
	if err != nil {
		return fmt.Errorf("narrate briefing %s: %w", briefingID, err)
	}

	return p.briefings.SetNarration(ctx, briefingID, ref, false)
}
