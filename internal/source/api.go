package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"dailybrief/internal/domain"
	"dailybrief/internal/normalize"
)

// KindAPI identifies the JSON API pull connector.
const KindAPI = "api"

// APIConnector pulls paginated items from a JSON endpoint. The server owns
// the cursor format; the connector treats it as opaque.
type APIConnector struct {
	sourceID string
	endpoint string
	apiKey   string
	client   *http.Client
	now      func() time.Time
}

// NewAPIConnector creates a reusable HTTP pull connector.
func NewAPIConnector(sourceID, endpoint, apiKey string) *APIConnector {
	return &APIConnector{
		sourceID: sourceID,
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 15 * time.Second},
		now:      time.Now,
	}
}

// Kind identifies the connector inside the registry.
func (c *APIConnector) Kind() string {
	return KindAPI
}

type apiItem struct {
	ExternalID  string    `json:"external_id"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"published_at"`
}

type apiPage struct {
	Items      []apiItem `json:"items"`
	NextCursor string    `json:"next_cursor"`
}

// Fetch requests one page past the cursor. A server that returns items
// without advancing the cursor violates the contract.
func (c *APIConnector) Fetch(ctx context.Context, cursor string) ([]domain.RawItem, string, error) {
	pageURL, err := c.buildURL(cursor)
	if err != nil {
		return nil, cursor, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, cursor, fmt.Errorf("new request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, cursor, fmt.Errorf("%w: %s: %v", domain.ErrSourceUnavailable, c.endpoint, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests:
		return nil, cursor, fmt.Errorf("%w: %s returned %s", domain.ErrSourceUnavailable, c.endpoint, resp.Status)
	default:
		return nil, cursor, fmt.Errorf("%w: %s returned %s", domain.ErrSourceContractViolation, c.endpoint, resp.Status)
	}

	var page apiPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, cursor, fmt.Errorf("%w: decode page: %v", domain.ErrSourceContractViolation, err)
	}

	if len(page.Items) == 0 {
		return nil, cursor, fmt.Errorf("api %s: %w", c.endpoint, domain.ErrSourceExhausted)
	}
	if page.NextCursor == cursor {
		return nil, cursor, fmt.Errorf("%w: %s returned items without advancing cursor", domain.ErrSourceContractViolation, c.endpoint)
	}

	fetchedAt := c.now()
	items := make([]domain.RawItem, 0, len(page.Items))
	for _, it := range page.Items {
		payload, err := normalize.EncodePayload(normalize.Envelope{
			Title:       it.Title,
			Body:        it.Body,
			URL:         it.URL,
			PublishedAt: it.PublishedAt,
		})
		if err != nil {
			return nil, cursor, fmt.Errorf("encode api item: %w", err)
		}
		items = append(items, domain.RawItem{
			SourceID:   c.sourceID,
			ExternalID: it.ExternalID,
			FetchedAt:  fetchedAt,
			Payload:    payload,
		})
	}

	return items, page.NextCursor, nil
}

func (c *APIConnector) buildURL(cursor string) (string, error) {
	parsed, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %s: %w", c.endpoint, err)
	}
	query := parsed.Query()
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
