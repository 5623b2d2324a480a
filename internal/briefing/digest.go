package briefing

import (
	"fmt"
	"strings"

	"dailybrief/internal/domain"
)

const summaryLimit = 280

// renderDigest produces the plain-text digest handed to the narration
// adapter and the API layer. Stable for a fixed item list.
func renderDigest(window domain.Window, items []domain.BriefingItem) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Your briefing for %s to %s\n\n",
		window.Start.UTC().Format("Jan 2 15:04"),
		window.End.UTC().Format("Jan 2 15:04"))

	for _, item := range items {
		fmt.Fprintf(&sb, "- %s\nScore: %.2f\n%s\n\n",
			item.Title,
			item.Score,
			item.Summary)
	}

	return strings.TrimRight(sb.String(), "\n")
}

// summarize truncates a body to a short excerpt on a word boundary.
func summarize(body string) string {
	if len(body) <= summaryLimit {
		return body
	}
	cut := body[:summaryLimit]
	if idx := strings.LastIndexByte(cut, ' '); idx > 0 {
		cut = cut[:idx]
	}
	return cut + "..."
}
