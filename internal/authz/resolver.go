package authz

import (
	"time"

	"github.com/gatehouse/gatehouse/internal/grants"
)

// GrantState gathers every grant source for one user at one instant. The
// resolver evaluates it as a value, so the precedence contract lives in a
// single testable place instead of being scattered across call sites.
type GrantState struct {
	Static      map[string]struct{}
	Overrides   map[string]bool
	Temporary   []grants.TemporaryGrant
	Conditional []grants.ConditionalGrant
}

// Resolve applies the precedence chain for a single permission:
//
//  1. override false  -> Deny(explicit_revoke), suppressing everything else
//  2. override true   -> Allow(explicit_grant)
//  3. role-derived    -> Allow(role_grant)
//  4. unexpired temporary grant -> Allow(temporary_grant)
//  5. active conditional grant whose predicate matches -> Allow(conditional_grant)
//  6. otherwise       -> Deny(no_grant)
func Resolve(state GrantState, permission string, evalContext map[string]any, now time.Time) Decision {
	if granted, ok := state.Overrides[permission]; ok {
		if !granted {
			return Decision{Effect: Deny, Reason: ReasonExplicitRevoke, Permission: permission}
		}
		return Decision{Effect: Allow, Reason: ReasonExplicitGrant, Permission: permission}
	}
	if _, ok := state.Static[permission]; ok {
		return Decision{Effect: Allow, Reason: ReasonRoleGrant, Permission: permission}
	}
	for _, grant := range state.Temporary {
		if grant.Permission == permission && grant.ActiveAt(now) {
			return Decision{Effect: Allow, Reason: ReasonTemporaryGrant, Permission: permission}
		}
	}
	for _, grant := range state.Conditional {
		if grant.Permission != permission || !grant.ActiveAt(now) {
			continue
		}
		if grant.Predicate.Matches(evalContext) {
			return Decision{Effect: Allow, Reason: ReasonConditionalGrant, Permission: permission}
		}
	}
	return Decision{Effect: Deny, Reason: ReasonNoGrant, Permission: permission}
}
