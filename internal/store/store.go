// Package store provides the unit of work that every integrity decision runs in: a set of
// repositories bound to one transaction, serialized per fingerprint and per IP.
package store

import (
	"context"
	"sort"

	mobilityrepo "vote-integrity/backend/internal/mobility/repository"
	ratelimitrepo "vote-integrity/backend/internal/ratelimit/repository"
	sessionrepo "vote-integrity/backend/internal/session/repository"
	voterepo "vote-integrity/backend/internal/vote/repository"
)

// Repos bundles the repositories a unit of work operates on.
type Repos struct {
	Sessions   sessionrepo.Repository
	Votes      voterepo.Repository
	IPChanges  mobilityrepo.Repository
	Violations ratelimitrepo.Repository
}

// UnitOfWork runs fn with exclusive hold of every key in keys. Work done through the
// Repos passed to fn commits together when fn returns nil.
type UnitOfWork interface {
	Do(ctx context.Context, keys []string, fn func(ctx context.Context, r Repos) error) error
	// Repos returns repositories outside any transaction, for read-only reporting.
	Repos() Repos
}

// FingerprintKey and IPKey name the lock scopes used by the session and vote services.
func FingerprintKey(fp string) string { return "fp:" + fp }

func IPKey(ip string) string { return "ip:" + ip }

// lockOrder returns the non-empty keys deduplicated and sorted so that concurrent units
// always acquire them in the same order.
func lockOrder(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
