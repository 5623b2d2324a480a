package normalize

import (
	"encoding/json"
	"time"
)

// Envelope is the payload format connectors place inside a RawItem. The
// normalizer is the only consumer; sources fill whichever fields they have.
type Envelope struct {
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"published_at"`
}

// EncodePayload serializes an envelope for a RawItem payload.
func EncodePayload(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}
