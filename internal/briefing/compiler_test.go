package briefing

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dailybrief/internal/domain"
)

type fakeContent struct {
	records []domain.ContentRecord
}

func (f *fakeContent) GroupByFingerprint(ctx context.Context, fingerprint string) (domain.GroupRef, bool, error) {
	return domain.GroupRef{}, false, nil
}

func (f *fakeContent) UpsertRecord(ctx context.Context, rec domain.ContentRecord) (bool, error) {
	return false, nil
}

func (f *fakeContent) AttachClassification(ctx context.Context, cl domain.Classification) error {
	return nil
}

func (f *fakeContent) RecordsInWindow(ctx context.Context, w domain.Window) ([]domain.ContentRecord, error) {
	var in []domain.ContentRecord
	for _, rec := range f.records {
		if w.Contains(rec.PublishedAt) {
			in = append(in, rec)
		}
	}
	return in, nil
}

type fakeBriefings struct {
	replaced []domain.Briefing
	ready    bool
	recent   map[string]bool
}

func (f *fakeBriefings) Replace(ctx context.Context, b domain.Briefing) error {
	f.replaced = append(f.replaced, b)
	return nil
}

func (f *fakeBriefings) Get(ctx context.Context, id string) (domain.Briefing, error) {
	return domain.Briefing{}, nil
}

func (f *fakeBriefings) HasReady(ctx context.Context, ownerID string, windowStart time.Time) (bool, error) {
	return f.ready, nil
}

func (f *fakeBriefings) RecentGroupIDs(ctx context.Context, ownerID string, since, before time.Time) (map[string]bool, error) {
	if f.recent == nil {
		return map[string]bool{}, nil
	}
	return f.recent, nil
}

func (f *fakeBriefings) SetNarration(ctx context.Context, briefingID, ref string, failed bool) error {
	return nil
}

type fixedClassifier struct {
	scores map[string]float64
}

func (f fixedClassifier) Classify(rec domain.ContentRecord, asOf time.Time) domain.Classification {
	return domain.Classification{RecordID: rec.ID, Score: f.scores[rec.ID], AsOf: asOf}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testWindow() (domain.Window, time.Time) {
	start := time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC)
	return domain.Window{Start: start, End: start.Add(24 * time.Hour)}, start.Add(24 * time.Hour)
}

func record(id, group string, published time.Time) domain.ContentRecord {
	return domain.ContentRecord{
		ID:          id,
		SourceID:    "s1",
		Title:       "title " + id,
		Body:        "body " + id,
		PublishedAt: published,
		Fingerprint: group,
		GroupID:     group,
	}
}

func TestCompileRanksAndBounds(t *testing.T) {
	t.Parallel()

	window, asOf := testWindow()
	content := &fakeContent{records: []domain.ContentRecord{
		record("c1", "g1", window.Start.Add(10*time.Hour)),
		record("c2", "g2", window.Start.Add(2*time.Hour)),
		record("c3", "g3", window.Start.Add(12*time.Hour)),
	}}
	store := &fakeBriefings{}
	classifier := fixedClassifier{scores: map[string]float64{"c1": 0.9, "c2": 0.9, "c3": 0.5}}

	c := NewCompiler(content, store, classifier, Options{MaxItems: 2, MinScore: 0.2, Lookback: 72 * time.Hour}, testLogger())

	b, err := c.Compile(context.Background(), "owner", window, asOf)
	require.NoError(t, err)

	require.Len(t, b.Items, 2)
	// Equal scores rank the later-published record first.
	assert.Equal(t, "c1", b.Items[0].RecordID)
	assert.Equal(t, "c2", b.Items[1].RecordID)
	assert.Equal(t, 1, b.Items[0].Position)
	assert.Equal(t, 2, b.Items[1].Position)
	assert.Equal(t, domain.BriefingReady, b.Status)
	assert.NotEmpty(t, b.Digest)
	assert.Equal(t, asOf, b.GeneratedAt)
	require.Len(t, store.replaced, 1)
}

func TestCompileOneItemPerGroup(t *testing.T) {
	t.Parallel()

	window, asOf := testWindow()
	content := &fakeContent{records: []domain.ContentRecord{
		record("a", "shared", window.Start.Add(3*time.Hour)),
		record("b", "shared", window.Start.Add(5*time.Hour)),
	}}
	store := &fakeBriefings{}
	classifier := fixedClassifier{scores: map[string]float64{"a": 0.8, "b": 0.6}}

	c := NewCompiler(content, store, classifier, Options{MaxItems: 10, MinScore: 0}, testLogger())

	b, err := c.Compile(context.Background(), "owner", window, asOf)
	require.NoError(t, err)

	require.Len(t, b.Items, 1)
	assert.Equal(t, "a", b.Items[0].RecordID)
}

func TestCompileExcludesRecentGroups(t *testing.T) {
	t.Parallel()

	window, asOf := testWindow()
	content := &fakeContent{records: []domain.ContentRecord{
		record("seen", "g-old", window.Start.Add(time.Hour)),
		record("new", "g-new", window.Start.Add(2*time.Hour)),
	}}
	store := &fakeBriefings{recent: map[string]bool{"g-old": true}}
	classifier := fixedClassifier{scores: map[string]float64{"seen": 0.9, "new": 0.4}}

	c := NewCompiler(content, store, classifier, Options{MaxItems: 10, MinScore: 0.2, Lookback: 72 * time.Hour}, testLogger())

	b, err := c.Compile(context.Background(), "owner", window, asOf)
	require.NoError(t, err)

	require.Len(t, b.Items, 1)
	assert.Equal(t, "new", b.Items[0].RecordID)
}

func TestCompileMinScoreFilter(t *testing.T) {
	t.Parallel()

	window, asOf := testWindow()
	content := &fakeContent{records: []domain.ContentRecord{
		record("keep", "g1", window.Start.Add(time.Hour)),
		record("drop", "g2", window.Start.Add(2*time.Hour)),
	}}
	store := &fakeBriefings{}
	classifier := fixedClassifier{scores: map[string]float64{"keep": 0.5, "drop": 0.1}}

	c := NewCompiler(content, store, classifier, Options{MaxItems: 10, MinScore: 0.2}, testLogger())

	b, err := c.Compile(context.Background(), "owner", window, asOf)
	require.NoError(t, err)

	require.Len(t, b.Items, 1)
	assert.Equal(t, "keep", b.Items[0].RecordID)
}

func TestCompileEmptyKeepsPriorReady(t *testing.T) {
	t.Parallel()

	window, asOf := testWindow()
	content := &fakeContent{}
	store := &fakeBriefings{ready: true}

	c := NewCompiler(content, store, fixedClassifier{}, Options{MaxItems: 10}, testLogger())

	_, err := c.Compile(context.Background(), "owner", window, asOf)
	require.ErrorIs(t, err, domain.ErrNoContent)
	assert.Empty(t, store.replaced)
}

func TestCompileEmptyRecordsFailure(t *testing.T) {
	t.Parallel()

	window, asOf := testWindow()
	content := &fakeContent{}
	store := &fakeBriefings{}

	c := NewCompiler(content, store, fixedClassifier{}, Options{MaxItems: 10}, testLogger())

	b, err := c.Compile(context.Background(), "owner", window, asOf)
	require.NoError(t, err)

	assert.Equal(t, domain.BriefingFailed, b.Status)
	assert.NotEmpty(t, b.ErrorMessage)
	require.Len(t, store.replaced, 1)
}

func TestSummarizeWordBoundary(t *testing.T) {
	t.Parallel()

	short := "fits entirely"
	assert.Equal(t, short, summarize(short))

	long := ""
	for i := 0; i < 60; i++ {
		long += "words "
	}
	got := summarize(long)
	assert.LessOrEqual(t, len(got), summaryLimit+3)
	assert.Contains(t, got, "...")
}
