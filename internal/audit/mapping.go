package audit

import "strings"

// ActionResource holds action and resource derived from an HTTP route.
type ActionResource struct {
	Action   string
	Resource string
}

// Actions recorded by the integrity paths.
const (
	ActionTokenIssued   = "token_issued"
	ActionTokenRotated  = "token_rotated"
	ActionVoteAccepted  = "vote_accepted"
	ActionVoteRejected  = "vote_rejected"
	ActionRateLimited   = "rate_limited"
	ActionSessionFlag   = "session_flagged"
	ActionSessionBlock  = "session_blocked"
	ResourceSession     = "session"
	ResourceVote        = "vote"
	ResourceToken       = "token"
	ResourceUnknownPath = "unknown"
)

// routeOverrides map the API's routes to domain actions.
var routeOverrides = map[string]ActionResource{
	"GET /token": {Action: "issue", Resource: ResourceToken},
	"POST /vote": {Action: "cast", Resource: ResourceVote},
}

// ParseRoute returns action and resource for an HTTP method and path (e.g. GET /token).
// Known routes map to domain verbs; others use the lowercased method and the first path segment.
func ParseRoute(method, path string) ActionResource {
	method = strings.ToUpper(strings.TrimSpace(method))
	path = "/" + strings.Trim(strings.TrimSpace(path), "/")
	if ar, ok := routeOverrides[method+" "+path]; ok {
		return ar
	}
	action := strings.ToLower(method)
	if action == "" {
		action = "unknown"
	}
	segment := strings.TrimPrefix(path, "/")
	if i := strings.Index(segment, "/"); i >= 0 {
		segment = segment[:i]
	}
	if segment == "" {
		segment = ResourceUnknownPath
	}
	return ActionResource{Action: action, Resource: strings.ToLower(segment)}
}
