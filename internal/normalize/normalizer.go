package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"html"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"

	"dailybrief/internal/domain"
)

// Normalizer converts raw items into canonical content records and computes
// their dedup fingerprints.
type Normalizer struct {
	policy     *bluemonday.Policy
	bodyPrefix int
}

// New builds a normalizer. bodyPrefixBytes bounds how much of the body
// participates in the fingerprint; longer prefixes trade dedup recall for
// fewer false merges.
func New(bodyPrefixBytes int) *Normalizer {
	if bodyPrefixBytes <= 0 {
		bodyPrefixBytes = 512
	}
	return &Normalizer{
		policy:     bluemonday.StrictPolicy(),
		bodyPrefix: bodyPrefixBytes,
	}
}

// Normalize validates and canonicalizes one raw item. A missing source id,
// external id, or empty payload is a per-item failure wrapped with
// ErrMalformedItem; it never aborts the containing batch.
func (n *Normalizer) Normalize(item domain.RawItem) (domain.ContentRecord, error) {
	if item.SourceID == "" {
		return domain.ContentRecord{}, fmt.Errorf("%w: missing source id", domain.ErrMalformedItem)
	}
	if item.ExternalID == "" {
		return domain.ContentRecord{}, fmt.Errorf("%w: missing external id (source %s)", domain.ErrMalformedItem, item.SourceID)
	}
	if len(item.Payload) == 0 {
		return domain.ContentRecord{}, fmt.Errorf("%w: empty payload (source %s, item %s)", domain.ErrMalformedItem, item.SourceID, item.ExternalID)
	}

	var env Envelope
	if err := json.Unmarshal(item.Payload, &env); err != nil {
		return domain.ContentRecord{}, fmt.Errorf("%w: decode payload (source %s, item %s): %v", domain.ErrMalformedItem, item.SourceID, item.ExternalID, err)
	}

	title := n.cleanText(env.Title)
	body := n.cleanText(env.Body)
	if title == "" && body == "" {
		return domain.ContentRecord{}, fmt.Errorf("%w: no text content (source %s, item %s)", domain.ErrMalformedItem, item.SourceID, item.ExternalID)
	}

	publishedAt := env.PublishedAt
	if publishedAt.IsZero() {
		publishedAt = item.FetchedAt
	}

	fingerprint := n.fingerprint(title, body)

	return domain.ContentRecord{
		ID:          domain.RecordID(item.SourceID, item.ExternalID),
		SourceID:    item.SourceID,
		SourceIDs:   []string{item.SourceID},
		ExternalID:  item.ExternalID,
		Title:       title,
		Body:        body,
		URL:         env.URL,
		PublishedAt: publishedAt.UTC(),
		Fingerprint: fingerprint,
		GroupID:     fingerprint,
	}, nil
}

// cleanText strips markup and formatting noise down to collapsed plain text.
func (n *Normalizer) cleanText(s string) string {
	if strings.Contains(s, "<") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(s)); err == nil {
			doc.Find("script, style, noscript").Remove()
			s = doc.Text()
		}
	}
	s = n.policy.Sanitize(s)
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}

// fingerprint hashes the normalized title plus a bounded body prefix.
func (n *Normalizer) fingerprint(title, body string) string {
	prefix := body
	if len(prefix) > n.bodyPrefix {
		prefix = prefix[:n.bodyPrefix]
	}
	sum := sha256.Sum256([]byte(strings.ToLower(title) + "\n" + strings.ToLower(prefix)))
	return hex.EncodeToString(sum[:])
}
