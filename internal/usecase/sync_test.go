package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dailybrief/internal/domain"
	"dailybrief/internal/normalize"
	"dailybrief/internal/ports"
)

type memContent struct {
	records         map[string]domain.ContentRecord
	classifications map[string]domain.Classification
}

func newMemContent() *memContent {
	return &memContent{
		records:         map[string]domain.ContentRecord{},
		classifications: map[string]domain.Classification{},
	}
}

func (m *memContent) GroupByFingerprint(ctx context.Context, fingerprint string) (domain.GroupRef, bool, error) {
	var ref domain.GroupRef
	found := false
	seen := map[string]bool{}
	for _, rec := range m.records {
		if rec.Fingerprint != fingerprint {
			continue
		}
		if !found {
			ref.GroupID = rec.GroupID
			ref.EarliestPublished = rec.PublishedAt
			found = true
		} else if rec.PublishedAt.Before(ref.EarliestPublished) {
			ref.EarliestPublished = rec.PublishedAt
		}
		for _, s := range rec.SourceIDs {
			if !seen[s] {
				seen[s] = true
				ref.SourceIDs = append(ref.SourceIDs, s)
			}
		}
	}
	return ref, found, nil
}

func (m *memContent) UpsertRecord(ctx context.Context, rec domain.ContentRecord) (bool, error) {
	_, exists := m.records[rec.ID]
	m.records[rec.ID] = rec
	return !exists, nil
}

func (m *memContent) AttachClassification(ctx context.Context, cl domain.Classification) error {
	m.classifications[cl.RecordID] = cl
	return nil
}

func (m *memContent) RecordsInWindow(ctx context.Context, w domain.Window) ([]domain.ContentRecord, error) {
	var out []domain.ContentRecord
	for _, rec := range m.records {
		if w.Contains(rec.PublishedAt) {
			out = append(out, rec)
		}
	}
	return out, nil
}

type memStates struct {
	states map[string]domain.SyncState
}

func newMemStates() *memStates {
	return &memStates{states: map[string]domain.SyncState{}}
}

func (m *memStates) Get(ctx context.Context, sourceID string) (domain.SyncState, error) {
	return m.states[sourceID], nil
}

func (m *memStates) Put(ctx context.Context, st domain.SyncState) error {
	m.states[st.SourceID] = st
	return nil
}

// scriptedConnector serves pages keyed by cursor; unknown cursors report
// exhaustion, mirroring a source with nothing new.
type scriptedConnector struct {
	pages map[string]scriptedPage
	err   error
}

type scriptedPage struct {
	items []domain.RawItem
	next  string
}

func (c *scriptedConnector) Kind() string { return "scripted" }

func (c *scriptedConnector) Fetch(ctx context.Context, cursor string) ([]domain.RawItem, string, error) {
	if c.err != nil {
		return nil, cursor, c.err
	}
	page, ok := c.pages[cursor]
	if !ok {
		return nil, cursor, fmt.Errorf("scripted: %w", domain.ErrSourceExhausted)
	}
	return page.items, page.next, nil
}

type passClassifier struct{}

func (passClassifier) Classify(rec domain.ContentRecord, asOf time.Time) domain.Classification {
	return domain.Classification{RecordID: rec.ID, Score: 0.5, Version: "test", AsOf: asOf}
}

func rawItem(t *testing.T, sourceID, externalID, title string, published time.Time) domain.RawItem {
	t.Helper()
	payload, err := normalize.EncodePayload(normalize.Envelope{
		Title:       title,
		Body:        "body of " + title,
		PublishedAt: published,
	})
	require.NoError(t, err)
	return domain.RawItem{
		SourceID:   sourceID,
		ExternalID: externalID,
		FetchedAt:  published,
		Payload:    payload,
	}
}

func newTestPipeline(content *memContent, states *memStates, connectors map[string]ports.Connector) *SyncPipeline {
	return NewSyncPipeline(SyncDeps{
		Connectors: connectors,
		Normalizer: normalize.New(512),
		Deduper:    normalize.NewDeduper(content.GroupByFingerprint),
		Classifier: passClassifier{},
		Content:    content,
		States:     states,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestSyncIngestsAndClassifies(t *testing.T) {
	t.Parallel()

	published := time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)
	conn := &scriptedConnector{pages: map[string]scriptedPage{
		"": {
			items: []domain.RawItem{
				rawItem(t, "s1", "e1", "First story", published),
				rawItem(t, "s1", "e2", "Second story", published.Add(time.Hour)),
			},
			next: "p1",
		},
	}}

	content := newMemContent()
	states := newMemStates()
	p := newTestPipeline(content, states, map[string]ports.Connector{"s1": conn})

	require.NoError(t, p.Run(context.Background(), "s1"))

	assert.Len(t, content.records, 2)
	assert.Len(t, content.classifications, 2)

	st := states.states["s1"]
	assert.Equal(t, "p1", st.Cursor)
	assert.Equal(t, domain.OutcomeSuccess, st.LastOutcome)
	assert.Equal(t, 2, st.ItemsFetched)
	assert.Equal(t, 2, st.ItemsNew)
	assert.Equal(t, 0, st.ItemsUpdated)
}

func TestSyncRerunFromOldCursorCreatesNoDuplicates(t *testing.T) {
	t.Parallel()

	published := time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)
	conn := &scriptedConnector{pages: map[string]scriptedPage{
		"": {
			items: []domain.RawItem{rawItem(t, "s1", "e1", "Only story", published)},
			next:  "p1",
		},
	}}

	content := newMemContent()
	states := newMemStates()
	p := newTestPipeline(content, states, map[string]ports.Connector{"s1": conn})

	require.NoError(t, p.Run(context.Background(), "s1"))
	require.Len(t, content.records, 1)

	// Simulate a crash-retry that restarts from the pre-run cursor.
	st := states.states["s1"]
	st.Cursor = ""
	require.NoError(t, states.Put(context.Background(), st))

	require.NoError(t, p.Run(context.Background(), "s1"))

	assert.Len(t, content.records, 1)
	final := states.states["s1"]
	assert.Equal(t, domain.OutcomeSuccess, final.LastOutcome)
	assert.Equal(t, 0, final.ItemsNew)
	assert.Equal(t, 1, final.ItemsUpdated)
}

func TestSyncUnavailableLeavesCursorUntouched(t *testing.T) {
	t.Parallel()

	conn := &scriptedConnector{err: fmt.Errorf("dial: %w", domain.ErrSourceUnavailable)}

	content := newMemContent()
	states := newMemStates()
	require.NoError(t, states.Put(context.Background(), domain.SyncState{SourceID: "s1", Cursor: "p5"}))

	p := newTestPipeline(content, states, map[string]ports.Connector{"s1": conn})

	err := p.Run(context.Background(), "s1")
	require.ErrorIs(t, err, domain.ErrSourceUnavailable)

	st := states.states["s1"]
	assert.Equal(t, "p5", st.Cursor)
	assert.Equal(t, domain.OutcomeFailed, st.LastOutcome)
	assert.NotEmpty(t, st.ErrorMessage)
	assert.Empty(t, content.records)
}

func TestSyncSkipsMalformedItems(t *testing.T) {
	t.Parallel()

	published := time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)
	conn := &scriptedConnector{pages: map[string]scriptedPage{
		"": {
			items: []domain.RawItem{
				rawItem(t, "s1", "good", "Valid story", published),
				{SourceID: "s1", ExternalID: "bad", FetchedAt: published}, // no payload
			},
			next: "p1",
		},
	}}

	content := newMemContent()
	states := newMemStates()
	p := newTestPipeline(content, states, map[string]ports.Connector{"s1": conn})

	require.NoError(t, p.Run(context.Background(), "s1"))

	assert.Len(t, content.records, 1)
	st := states.states["s1"]
	assert.Equal(t, domain.OutcomePartial, st.LastOutcome)
	assert.Equal(t, 2, st.ItemsFetched)
	assert.Equal(t, 1, st.ItemsNew)
	assert.Contains(t, st.ErrorMessage, "malformed")
}

func TestSyncCrossSourceDedup(t *testing.T) {
	t.Parallel()

	published := time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)
	content := newMemContent()
	states := newMemStates()

	first := &scriptedConnector{pages: map[string]scriptedPage{
		"": {items: []domain.RawItem{rawItem(t, "s1", "e1", "Shared story", published)}, next: "p1"},
	}}
	second := &scriptedConnector{pages: map[string]scriptedPage{
		"": {items: []domain.RawItem{rawItem(t, "s2", "other-id", "Shared story", published.Add(time.Hour))}, next: "p1"},
	}}

	connectors := map[string]ports.Connector{"s1": first, "s2": second}
	p := newTestPipeline(content, states, connectors)

	require.NoError(t, p.Run(context.Background(), "s1"))
	require.NoError(t, p.Run(context.Background(), "s2"))

	require.Len(t, content.records, 2)

	var groups []string
	for _, rec := range content.records {
		groups = append(groups, rec.GroupID)
	}
	assert.Equal(t, groups[0], groups[1], "same fingerprint must share a group")

	merged := content.records[domain.RecordID("s2", "other-id")]
	assert.ElementsMatch(t, []string{"s1", "s2"}, merged.SourceIDs)
	assert.True(t, merged.PublishedAt.Equal(published), "merged record keeps the earliest published time")

	st := states.states["s2"]
	assert.Equal(t, 0, st.ItemsNew)
	assert.Equal(t, 1, st.ItemsUpdated)
}

func TestSyncMissingConnectorIsFatal(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(newMemContent(), newMemStates(), map[string]ports.Connector{})

	err := p.Run(context.Background(), "ghost")
	require.ErrorIs(t, err, domain.ErrSourceContractViolation)
}
