package domain

import "time"

// Violation is durable evidence that a client exceeded a rate limit on an endpoint.
type Violation struct {
	ID          int64
	IPAddress   string
	Fingerprint string // empty when the endpoint is not fingerprint-scoped
	Endpoint    string
	CreatedAt   time.Time
}
