package domain

import "time"

// BriefingStatus enumerates lifecycle states of a compiled briefing.
type BriefingStatus string

const (
	BriefingPending BriefingStatus = "pending"
	BriefingReady   BriefingStatus = "ready"
	BriefingFailed  BriefingStatus = "failed"
)

// Window is a half-open time interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// BriefingItem is one selected record inside a briefing, in rank order.
type BriefingItem struct {
	Position int
	RecordID string
	GroupID  string
	SourceID string
	Title    string
	Summary  string
	Score    float64
}

// Briefing is a bounded, ordered selection of content for one owner and
// window. At most one ready briefing exists per (owner, window start);
// recompilation replaces it in place.
type Briefing struct {
	ID              string
	OwnerID         string
	WindowStart     time.Time
	WindowEnd       time.Time
	Items           []BriefingItem
	Status          BriefingStatus
	Digest          string
	GeneratedAt     time.Time
	NarrationRef    string
	NarrationFailed bool
	ErrorMessage    string
}

// Window returns the briefing's half-open time window.
func (b Briefing) Window() Window {
	return Window{Start: b.WindowStart, End: b.WindowEnd}
}
