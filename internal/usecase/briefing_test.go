package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dailybrief/internal/briefing"
	"dailybrief/internal/domain"
	"dailybrief/internal/ports"
)

type memBriefings struct {
	byID      map[string]domain.Briefing
	narration []narrationCall
}

type narrationCall struct {
	briefingID string
	ref        string
	failed     bool
}

func newMemBriefings() *memBriefings {
	return &memBriefings{byID: map[string]domain.Briefing{}}
}

func (m *memBriefings) Replace(ctx context.Context, b domain.Briefing) error {
	for id, old := range m.byID {
		if old.OwnerID == b.OwnerID && old.WindowStart.Equal(b.WindowStart) {
			delete(m.byID, id)
		}
	}
	m.byID[b.ID] = b
	return nil
}

func (m *memBriefings) Get(ctx context.Context, id string) (domain.Briefing, error) {
	b, ok := m.byID[id]
	if !ok {
		return domain.Briefing{}, errors.New("not found")
	}
	return b, nil
}

func (m *memBriefings) HasReady(ctx context.Context, ownerID string, windowStart time.Time) (bool, error) {
	for _, b := range m.byID {
		if b.OwnerID == ownerID && b.WindowStart.Equal(windowStart) && b.Status == domain.BriefingReady {
			return true, nil
		}
	}
	return false, nil
}

func (m *memBriefings) RecentGroupIDs(ctx context.Context, ownerID string, since, before time.Time) (map[string]bool, error) {
	groups := map[string]bool{}
	for _, b := range m.byID {
		if b.OwnerID != ownerID || b.Status != domain.BriefingReady {
			continue
		}
		if b.WindowStart.Before(since) || !b.WindowStart.Before(before) {
			continue
		}
		for _, item := range b.Items {
			groups[item.GroupID] = true
		}
	}
	return groups, nil
}

func (m *memBriefings) SetNarration(ctx context.Context, briefingID, ref string, failed bool) error {
	b, ok := m.byID[briefingID]
	if !ok {
		return errors.New("not found")
	}
	b.NarrationRef = ref
	b.NarrationFailed = failed
	m.byID[briefingID] = b
	m.narration = append(m.narration, narrationCall{briefingID: briefingID, ref: ref, failed: failed})
	return nil
}

type fakeNarrator struct {
	ref   string
	err   error
	calls int
}

func (f *fakeNarrator) Synthesize(ctx context.Context, text string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.ref, nil
}

func briefingFixture(t *testing.T, narrator *fakeNarrator) (*BriefingPipeline, *memBriefings, domain.Window, time.Time) {
	t.Helper()

	window := domain.Window{
		Start: time.Date(2026, 3, 9, 7, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC),
	}
	asOf := window.End

	content := newMemContent()
	_, err := content.UpsertRecord(context.Background(), domain.ContentRecord{
		ID:          "r1",
		SourceID:    "s1",
		Title:       "Story",
		Body:        "Body",
		PublishedAt: window.Start.Add(time.Hour),
		Fingerprint: "fp1",
		GroupID:     "fp1",
	})
	require.NoError(t, err)

	briefings := newMemBriefings()
	compiler := briefing.NewCompiler(content, briefings, passClassifier{},
		briefing.Options{MaxItems: 10, MinScore: 0.1, Lookback: 72 * time.Hour},
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	var n ports.Narrator
	if narrator != nil {
		n = narrator
	}
	pipeline := NewBriefingPipeline(compiler, briefings, n,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	return pipeline, briefings, window, asOf
}

func TestBriefingRunWithNarration(t *testing.T) {
	t.Parallel()

	narrator := &fakeNarrator{ref: "audio://b1.mp3"}
	pipeline, store, window, asOf := briefingFixture(t, narrator)

	b, err := pipeline.Run(context.Background(), "owner", window, asOf)
	require.NoError(t, err)

	assert.Equal(t, domain.BriefingReady, b.Status)
	assert.Equal(t, "audio://b1.mp3", b.NarrationRef)
	assert.False(t, b.NarrationFailed)
	assert.Equal(t, 1, narrator.calls)

	stored, err := store.Get(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, "audio://b1.mp3", stored.NarrationRef)
}

func TestBriefingNarrationFailureKeepsTextReady(t *testing.T) {
	t.Parallel()

	narrator := &fakeNarrator{err: domain.ErrNarrationUnavailable}
	pipeline, store, window, asOf := briefingFixture(t, narrator)

	b, err := pipeline.Run(context.Background(), "owner", window, asOf)
	require.NoError(t, err, "narration failure must not fail the briefing")

	assert.Equal(t, domain.BriefingReady, b.Status)
	assert.True(t, b.NarrationFailed)
	assert.Empty(t, b.NarrationRef)

	stored, err := store.Get(context.Background(), b.ID)
	require.NoError(t, err)
	assert.True(t, stored.NarrationFailed)
	assert.Equal(t, domain.BriefingReady, stored.Status)
}

func TestBriefingWithoutNarrator(t *testing.T) {
	t.Parallel()

	pipeline, store, window, asOf := briefingFixture(t, nil)

	b, err := pipeline.Run(context.Background(), "owner", window, asOf)
	require.NoError(t, err)

	assert.Equal(t, domain.BriefingReady, b.Status)
	assert.Empty(t, b.NarrationRef)
	assert.False(t, b.NarrationFailed)
	assert.Empty(t, store.narration)
}

func TestNarrateRetry(t *testing.T) {
	t.Parallel()

	narrator := &fakeNarrator{err: domain.ErrNarrationUnavailable}
	pipeline, store, window, asOf := briefingFixture(t, narrator)

	b, err := pipeline.Run(context.Background(), "owner", window, asOf)
	require.NoError(t, err)
	require.True(t, b.NarrationFailed)

	narrator.err = nil
	narrator.ref = "audio://retry.mp3"

	require.NoError(t, pipeline.Narrate(context.Background(), b.ID))

	stored, err := store.Get(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, "audio://retry.mp3", stored.NarrationRef)
	assert.False(t, stored.NarrationFailed)
}

func TestNarrateSkipsWhenAlreadyNarrated(t *testing.T) {
	t.Parallel()

	narrator := &fakeNarrator{ref: "audio://first.mp3"}
	pipeline, _, window, asOf := briefingFixture(t, narrator)

	b, err := pipeline.Run(context.Background(), "owner", window, asOf)
	require.NoError(t, err)
	require.Equal(t, 1, narrator.calls)

	require.NoError(t, pipeline.Narrate(context.Background(), b.ID))
	assert.Equal(t, 1, narrator.calls, "an existing narration must not be redone")
}
