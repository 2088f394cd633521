package grants

import (
	"time"

	"github.com/google/uuid"
)

// RoleAssignment links a user to a role.
type RoleAssignment struct {
	UserID    int64
	RoleID    int64
	GrantedBy int64
	GrantedAt time.Time
}

// PermissionOverride is an explicit per-user allow or deny. At most one
// logical row exists per (user, permission); a deny suppresses every other
// grant source for that pair.
type PermissionOverride struct {
	UserID     int64
	Permission string
	Granted    bool
	GrantedBy  int64
	GrantedAt  time.Time
}

// TemporaryGrant is an additive, time-bounded permission independent of
// roles. It expires by time, never by explicit deletion.
type TemporaryGrant struct {
	ID         uuid.UUID
	UserID     int64
	Permission string
	GrantedBy  int64
	ExpiresAt  time.Time
	Reason     string
}

// ActiveAt reports whether the grant has not yet expired.
func (g TemporaryGrant) ActiveAt(now time.Time) bool {
	return g.ExpiresAt.After(now)
}

// ConditionalGrant is an additive permission valid only while a
// caller-supplied context satisfies its predicate, optionally restricted to
// a validity window.
type ConditionalGrant struct {
	ID         uuid.UUID
	UserID     int64
	Permission string
	Predicate  Predicate
	GrantedBy  int64
	ValidFrom  *time.Time
	ValidUntil *time.Time
}

// ActiveAt reports whether now falls inside the optional validity window.
func (g ConditionalGrant) ActiveAt(now time.Time) bool {
	if g.ValidFrom != nil && now.Before(*g.ValidFrom) {
		return false
	}
	if g.ValidUntil != nil && now.After(*g.ValidUntil) {
		return false
	}
	return true
}
