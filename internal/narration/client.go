package narration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"dailybrief/internal/config"
	"dailybrief/internal/domain"
	"dailybrief/internal/ports"
)

// Client submits briefing text to an external text-to-speech service and
// returns the audio reference it hands back. The service is a black box;
// any failure maps to ErrNarrationUnavailable so callers can degrade to
// text-only delivery.
type Client struct {
	endpoint   string
	apiKey     string
	voice      string
	httpClient *http.Client
}

var _ ports.Narrator = (*Client)(nil)

// NewClient builds a client from configuration.
func NewClient(cfg config.NarrationConfig) *Client {
	return &Client{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		voice:    cfg.Voice,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Synthesize posts the text and returns the service's audio reference.
func (c *Client) Synthesize(ctx context.Context, text string) (string, error) {
	if c == nil || c.endpoint == "" {
		return "", fmt.Errorf("%w: narration client misconfigured", domain.ErrNarrationUnavailable)
	}

	body, err := json.Marshal(map[string]string{
		"text":  text,
		"voice": c.voice,
	})
	if err != nil {
		return "", fmt.Errorf("marshal narration payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrNarrationUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: service returned %s", domain.ErrNarrationUnavailable, resp.Status)
	}

	var out struct {
		AudioRef string `json:"audio_ref"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", domain.ErrNarrationUnavailable, err)
	}
	if out.AudioRef == "" {
		return "", fmt.Errorf("%w: empty audio reference", domain.ErrNarrationUnavailable)
	}

	return out.AudioRef, nil
}
