package domain

import "time"

// AuditLog represents an audit event about one fingerprint.
type AuditLog struct {
	ID          string
	Fingerprint string
	Action      string
	Resource    string
	IP          string
	Metadata    string
	CreatedAt   time.Time
}
