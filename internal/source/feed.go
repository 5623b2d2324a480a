package source

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"dailybrief/internal/domain"
	"dailybrief/internal/normalize"
)

// KindFeed identifies the RSS/Atom pull connector.
const KindFeed = "feed"

// FeedConnector pulls an RSS/Atom feed over HTTP. The cursor is the
// RFC 3339 timestamp of the newest item seen so far.
type FeedConnector struct {
	sourceID string
	feedURL  string
	parser   *gofeed.Parser
	now      func() time.Time
}

// NewFeedConnector wires a gofeed parser over the given HTTP client.
func NewFeedConnector(sourceID, feedURL string, client *http.Client) *FeedConnector {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	parser := gofeed.NewParser()
	parser.Client = client

	return &FeedConnector{
		sourceID: sourceID,
		feedURL:  feedURL,
		parser:   parser,
		now:      time.Now,
	}
}

// Kind identifies the connector inside the registry.
func (c *FeedConnector) Kind() string {
	return KindFeed
}

// Fetch parses the feed and returns items published after the cursor.
// Calling again with the same cursor returns the same items.
func (c *FeedConnector) Fetch(ctx context.Context, cursor string) ([]domain.RawItem, string, error) {
	since, err := parseTimeCursor(cursor)
	if err != nil {
		return nil, cursor, fmt.Errorf("%w: bad feed cursor %q", domain.ErrSourceContractViolation, cursor)
	}

	feed, err := c.parser.ParseURLWithContext(c.feedURL, ctx)
	if err != nil {
		return nil, cursor, fmt.Errorf("%w: parse %s: %v", domain.ErrSourceUnavailable, c.feedURL, err)
	}

	fetchedAt := c.now()
	newest := since
	var items []domain.RawItem

	for _, entry := range feed.Items {
		published := fetchedAt
		if entry.PublishedParsed != nil {
			published = *entry.PublishedParsed
		}
		if !published.After(since) {
			continue
		}

		body := entry.Content
		if body == "" {
			body = entry.Description
		}

		payload, err := normalize.EncodePayload(normalize.Envelope{
			Title:       entry.Title,
			Body:        body,
			URL:         entry.Link,
			PublishedAt: published.UTC(),
		})
		if err != nil {
			return nil, cursor, fmt.Errorf("encode feed item: %w", err)
		}

		externalID := entry.GUID
		if externalID == "" {
			externalID = entry.Link
		}

		items = append(items, domain.RawItem{
			SourceID:   c.sourceID,
			ExternalID: externalID,
			FetchedAt:  fetchedAt,
			Payload:    payload,
		})

		if published.After(newest) {
			newest = published
		}
	}

	if len(items) == 0 {
		return nil, cursor, fmt.Errorf("feed %s: %w", c.feedURL, domain.ErrSourceExhausted)
	}

	return items, newest.UTC().Format(time.RFC3339Nano), nil
}

func parseTimeCursor(cursor string) (time.Time, error) {
	if cursor == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, cursor)
}
