package domain

import "time"

// Event types emitted by the integrity services.
const (
	EventTokenIssued        = "token_issued"
	EventVoteAccepted       = "vote_accepted"
	EventVoteRejected       = "vote_rejected"
	EventRateLimited        = "rate_limited"
	EventSuspicionEscalated = "suspicion_escalated"
)

// Event is one integrity event. It is serialized as JSON onto Kafka and into Loki.
type Event struct {
	ID          string            `json:"id"`
	EventType   string            `json:"event_type"`
	Source      string            `json:"source"`
	Fingerprint string            `json:"fingerprint,omitempty"`
	IP          string            `json:"ip,omitempty"`
	Outcome     string            `json:"outcome,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}
