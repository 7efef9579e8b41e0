package domain

import "time"

// IPChange records one observed transition of a fingerprint's client IP. OldIP is empty
// when the session had no IP on record.
type IPChange struct {
	ID          int64
	Fingerprint string
	OldIP       string
	NewIP       string
	CreatedAt   time.Time
}
