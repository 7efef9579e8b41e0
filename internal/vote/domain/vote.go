package domain

import (
	"strings"
	"time"
)

// Vote is one immutable ledger entry. At most one exists per (fingerprint, contestant).
type Vote struct {
	ID                 int64
	Fingerprint        string
	Contestant         string
	IPAddress          string
	VerifiedViaCaptcha bool
	VerifiedViaSMS     bool
	CreatedAt          time.Time
}

// NormalizeContestant trims and lowercases a contestant name.
func NormalizeContestant(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
