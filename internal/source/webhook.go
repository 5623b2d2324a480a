package source

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"dailybrief/internal/domain"
)

// KindWebhook identifies the webhook replay connector.
const KindWebhook = "webhook"

// WebhookConnector replays webhook deliveries buffered in a Redis stream by
// the ingress layer. The cursor is the last consumed stream entry ID, so a
// crash-retry with the same cursor loses nothing.
type WebhookConnector struct {
	sourceID string
	stream   string
	client   *redis.Client
	batch    int64
	now      func() time.Time
}

// NewWebhookConnector wires a replay connector over the given stream.
func NewWebhookConnector(sourceID, stream string, client *redis.Client) *WebhookConnector {
	return &WebhookConnector{
		sourceID: sourceID,
		stream:   stream,
		client:   client,
		batch:    100,
		now:      time.Now,
	}
}

// Kind identifies the connector inside the registry.
func (c *WebhookConnector) Kind() string {
	return KindWebhook
}

// Fetch reads the next batch of buffered deliveries after the cursor.
func (c *WebhookConnector) Fetch(ctx context.Context, cursor string) ([]domain.RawItem, string, error) {
	start := "-"
	if cursor != "" {
		next, err := nextEntryID(cursor)
		if err != nil {
			return nil, cursor, fmt.Errorf("%w: bad replay cursor %q", domain.ErrSourceContractViolation, cursor)
		}
		start = next
	}

	msgs, err := c.client.XRangeN(ctx, c.stream, start, "+", c.batch).Result()
	if err != nil {
		return nil, cursor, fmt.Errorf("%w: read %s: %v", domain.ErrSourceUnavailable, c.stream, err)
	}
	if len(msgs) == 0 {
		return nil, cursor, fmt.Errorf("stream %s: %w", c.stream, domain.ErrSourceExhausted)
	}

	fetchedAt := c.now()
	items := make([]domain.RawItem, 0, len(msgs))
	for _, msg := range msgs {
		externalID := msg.ID
		if v, ok := msg.Values["external_id"].(string); ok && v != "" {
			externalID = v
		}
		payload, _ := msg.Values["payload"].(string)

		items = append(items, domain.RawItem{
			SourceID:   c.sourceID,
			ExternalID: externalID,
			FetchedAt:  fetchedAt,
			Payload:    []byte(payload),
		})
	}

	return items, msgs[len(msgs)-1].ID, nil
}

// nextEntryID returns the smallest stream ID strictly after id.
func nextEntryID(id string) (string, error) {
	ms, seq, ok := strings.Cut(id, "-")
	if !ok {
		return "", fmt.Errorf("stream id %q has no sequence", id)
	}
	n, err := strconv.ParseUint(seq, 10, 64)
	if err != nil {
		return "", err
	}
	return ms + "-" + strconv.FormatUint(n+1, 10), nil
}
