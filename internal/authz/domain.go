package authz

// Effect is the outcome of an authorization decision.
type Effect string

const (
	// Allow permits the action.
	Allow Effect = "allow"
	// Deny refuses the action. Deny is a regular outcome, not an error.
	Deny Effect = "deny"
)

// Decision reasons, in precedence order. An explicit revoke always wins;
// additive sources are each independently sufficient.
const (
	ReasonExplicitRevoke   = "explicit_revoke"
	ReasonExplicitGrant    = "explicit_grant"
	ReasonRoleGrant        = "role_grant"
	ReasonTemporaryGrant   = "temporary_grant"
	ReasonConditionalGrant = "conditional_grant"
	ReasonNoGrant          = "no_grant"
	ReasonStoreUnavailable = "store_unavailable"
)

// Decision is the answer to an authorize call.
type Decision struct {
	Effect     Effect `json:"effect"`
	Reason     string `json:"reason"`
	Permission string `json:"permission"`
}

// Allowed reports whether the decision permits the action.
func (d Decision) Allowed() bool {
	return d.Effect == Allow
}

// EffectivePermission is one row of a full-catalog enumeration through the
// same precedence rules, for UI and debugging.
type EffectivePermission struct {
	Permission string `json:"permission"`
	Effect     Effect `json:"effect"`
	Reason     string `json:"reason"`
}

// Snapshot is the cached static portion of a user's permission state: the
// role-derived set plus the override map. Temporary and conditional grants
// are never part of it.
type Snapshot struct {
	Static    []string        `json:"static"`
	Overrides map[string]bool `json:"overrides"`
}

// StaticSet returns the role-derived permissions as a set.
func (s Snapshot) StaticSet() map[string]struct{} {
	set := make(map[string]struct{}, len(s.Static))
	for _, name := range s.Static {
		set[name] = struct{}{}
	}
	return set
}
