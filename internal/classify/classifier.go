package classify

import (
	"math"
	"sort"
	"strings"
	"time"

	"dailybrief/internal/config"
	"dailybrief/internal/domain"
	"dailybrief/internal/ports"
)

// RuleClassifier assigns topic labels from configured keyword lists and
// combines topic confidence, freshness decay and source trust into one
// composite score. The score depends only on the record, the explicit
// as-of reference and the configured version, so recomputation is
// idempotent.
type RuleClassifier struct {
	cfg config.ClassifierConfig
}

var _ ports.Classifier = (*RuleClassifier)(nil)

// New builds a classifier from configuration.
func New(cfg config.ClassifierConfig) *RuleClassifier {
	return &RuleClassifier{cfg: cfg}
}

// Classify labels the record and computes its composite relevance score.
// For equal topic confidence, content published later never scores lower.
func (c *RuleClassifier) Classify(rec domain.ContentRecord, asOf time.Time) domain.Classification {
	text := strings.ToLower(rec.Title + " " + rec.Body)

	labels := c.matchLabels(text)

	topConfidence := 0.0
	if len(labels) > 0 {
		topConfidence = labels[0].Confidence
	}

	score := c.cfg.TopicWeight*topConfidence +
		c.cfg.FreshnessWeight*c.freshness(rec.PublishedAt, asOf) +
		c.cfg.TrustWeight*c.trust(rec.SourceID)

	return domain.Classification{
		RecordID: rec.ID,
		Labels:   labels,
		Score:    score,
		Version:  c.cfg.Version,
		AsOf:     asOf,
	}
}

// matchLabels scores every configured category, keeping those with at
// least one keyword hit, ordered by confidence then name.
func (c *RuleClassifier) matchLabels(text string) []domain.Label {
	var labels []domain.Label
	for name, keywords := range c.cfg.Categories {
		confidence := keywordConfidence(text, keywords)
		if confidence > 0 {
			labels = append(labels, domain.Label{Name: name, Confidence: confidence})
		}
	}

	sort.Slice(labels, func(i, j int) bool {
		if labels[i].Confidence != labels[j].Confidence {
			return labels[i].Confidence > labels[j].Confidence
		}
		return labels[i].Name < labels[j].Name
	})

	return labels
}

// freshness decays exponentially with age relative to as-of; content from
// the future clamps to 1.
func (c *RuleClassifier) freshness(publishedAt, asOf time.Time) float64 {
	age := asOf.Sub(publishedAt)
	if age <= 0 {
		return 1
	}
	halfLife := c.cfg.HalfLife()
	if halfLife <= 0 {
		return 1
	}
	return math.Exp(-math.Ln2 * age.Seconds() / halfLife.Seconds())
}

func (c *RuleClassifier) trust(sourceID string) float64 {
	if t, ok := c.cfg.SourceTrust[sourceID]; ok {
		return t
	}
	return c.cfg.DefaultTrust
}

func keywordConfidence(text string, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	matches := 0
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			matches++
		}
	}
	confidence := float64(matches) / float64(len(keywords)) * 2
	if confidence > 1 {
		confidence = 1
	}
	return confidence
}
