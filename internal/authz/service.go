package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/gatehouse/gatehouse/internal/catalog"
	"github.com/gatehouse/gatehouse/internal/grants"
	"github.com/gatehouse/gatehouse/internal/rolegraph"
	"github.com/gatehouse/gatehouse/internal/shared"
)

// GrantStorePort defines data access methods for the grant sources.
type GrantStorePort interface {
	AssignRole(ctx context.Context, userID, roleID, grantedBy int64) error
	RemoveRole(ctx context.Context, userID, roleID int64) error
	UserRoleIDs(ctx context.Context, userID int64) ([]int64, error)
	UsersWithRoles(ctx context.Context, roleIDs []int64) ([]int64, error)
	UpsertOverride(ctx context.Context, userID, permissionID int64, granted bool, grantedBy int64) error
	Overrides(ctx context.Context, userID int64) (map[string]bool, error)
	CreateTemporaryGrant(ctx context.Context, userID, permissionID, grantedBy int64, expiresAt time.Time, reason string) (uuid.UUID, error)
	ActiveTemporaryGrants(ctx context.Context, userID int64, now time.Time) ([]grants.TemporaryGrant, error)
	CreateConditionalGrant(ctx context.Context, userID, permissionID, grantedBy int64, predicate grants.Predicate, validFrom, validUntil *time.Time) (uuid.UUID, error)
	ActiveConditionalGrants(ctx context.Context, userID int64, now time.Time) ([]grants.ConditionalGrant, error)
}

// MetricsRecorder receives decision observations. Implemented by
// observability.Metrics; nil disables recording.
type MetricsRecorder interface {
	RecordDecision(effect, reason string, elapsed time.Duration)
	RecordSnapshotLookup(hit bool)
}

// ServiceParams groups dependencies for the decision service.
type ServiceParams struct {
	Catalog   *catalog.Service
	Roles     *rolegraph.Service
	Store     GrantStorePort
	Cache     SnapshotCache
	Directory Directory
	Audit     shared.AuditSink
	Clock     shared.Clock
	Logger    *slog.Logger
	Metrics   MetricsRecorder

	// FailClosed maps store failures during Authorize to
	// Deny(store_unavailable) instead of surfacing an error. Silent allow is
	// never an option.
	FailClosed bool
}

// Service is the decision API: the only surface application code consumes.
type Service struct {
	catalog    *catalog.Service
	roles      *rolegraph.Service
	store      GrantStorePort
	cache      SnapshotCache
	directory  Directory
	audit      shared.AuditSink
	clock      shared.Clock
	logger     *slog.Logger
	metrics    MetricsRecorder
	failClosed bool

	loads singleflight.Group
}

// NewService builds a Service instance.
func NewService(params ServiceParams) *Service {
	if params.Cache == nil {
		params.Cache = NopSnapshotCache{}
	}
	if params.Audit == nil {
		params.Audit = shared.NopAuditSink{}
	}
	if params.Clock == nil {
		params.Clock = shared.SystemClock{}
	}
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	return &Service{
		catalog:    params.Catalog,
		roles:      params.Roles,
		store:      params.Store,
		cache:      params.Cache,
		directory:  params.Directory,
		audit:      params.Audit,
		clock:      params.Clock,
		logger:     params.Logger,
		metrics:    params.Metrics,
		failClosed: params.FailClosed,
	}
}

// Authorize decides whether userID may exercise permission under the given
// context. Deny is a regular outcome; only infrastructure failures surface
// as errors, and only when fail-closed mode is disabled.
func (s *Service) Authorize(ctx context.Context, userID int64, permission string, evalContext map[string]any) (Decision, error) {
	started := time.Now()
	permission = s.catalog.NormalizeName(permission)

	snapshot, err := s.staticSnapshot(ctx, userID)
	if err != nil {
		return s.storeFailure(permission, started, err)
	}
	now := s.clock.Now()
	state := GrantState{Static: snapshot.StaticSet(), Overrides: snapshot.Overrides}

	decision := Resolve(state, permission, evalContext, now)
	if decision.Reason == ReasonNoGrant {
		// The static portion did not decide; pull the uncached temporal
		// sources.
		state.Temporary, err = s.store.ActiveTemporaryGrants(ctx, userID, now)
		if err != nil {
			return s.storeFailure(permission, started, err)
		}
		state.Conditional, err = s.store.ActiveConditionalGrants(ctx, userID, now)
		if err != nil {
			return s.storeFailure(permission, started, err)
		}
		decision = Resolve(state, permission, evalContext, now)
	}

	if s.metrics != nil {
		s.metrics.RecordDecision(string(decision.Effect), decision.Reason, time.Since(started))
	}
	return decision, nil
}

// HasAnyPermission reports whether any of the permissions is allowed under
// the same context.
func (s *Service) HasAnyPermission(ctx context.Context, userID int64, evalContext map[string]any, permissions ...string) (bool, error) {
	for _, permission := range permissions {
		decision, err := s.Authorize(ctx, userID, permission, evalContext)
		if err != nil {
			return false, err
		}
		if decision.Allowed() {
			return true, nil
		}
	}
	return false, nil
}

// HasAllPermissions reports whether every permission is allowed under the
// same context.
func (s *Service) HasAllPermissions(ctx context.Context, userID int64, evalContext map[string]any, permissions ...string) (bool, error) {
	for _, permission := range permissions {
		decision, err := s.Authorize(ctx, userID, permission, evalContext)
		if err != nil {
			return false, err
		}
		if !decision.Allowed() {
			return false, nil
		}
	}
	return true, nil
}

// ListEffectivePermissions enumerates the full catalog through the same
// precedence rules. Debug and UI surface; store failures propagate.
func (s *Service) ListEffectivePermissions(ctx context.Context, userID int64, evalContext map[string]any) ([]EffectivePermission, error) {
	permissions, err := s.catalog.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrStoreUnavailable, err)
	}
	snapshot, err := s.staticSnapshot(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrStoreUnavailable, err)
	}
	now := s.clock.Now()
	state := GrantState{Static: snapshot.StaticSet(), Overrides: snapshot.Overrides}
	state.Temporary, err = s.store.ActiveTemporaryGrants(ctx, userID, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrStoreUnavailable, err)
	}
	state.Conditional, err = s.store.ActiveConditionalGrants(ctx, userID, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrStoreUnavailable, err)
	}

	effective := make([]EffectivePermission, 0, len(permissions))
	for _, permission := range permissions {
		decision := Resolve(state, permission.Name, evalContext, now)
		effective = append(effective, EffectivePermission{
			Permission: permission.Name,
			Effect:     decision.Effect,
			Reason:     decision.Reason,
		})
	}
	return effective, nil
}

// CreateRole creates a role, optionally under a parent.
func (s *Service) CreateRole(ctx context.Context, name, parentName string, actorID int64) (rolegraph.Role, error) {
	role, err := s.roles.CreateRole(ctx, name, parentName)
	if err != nil {
		if errors.Is(err, rolegraph.ErrNotFound) {
			return rolegraph.Role{}, fmt.Errorf("%w: parent %q", ErrUnknownRole, parentName)
		}
		return rolegraph.Role{}, err
	}
	s.audit.Record(ctx, shared.AuditEvent{
		EventType: "role.created",
		ActorID:   actorID,
		Target:    role.Name,
		Meta:      map[string]any{"role_id": role.ID, "parent": parentName},
		At:        s.clock.Now(),
	})
	return role, nil
}

// SetRoleParent re-points a role's parent edge and invalidates every user
// whose closure includes the role's subtree.
func (s *Service) SetRoleParent(ctx context.Context, roleName, parentName string, actorID int64) error {
	role, err := s.roles.GetByName(ctx, roleName)
	if err != nil {
		if errors.Is(err, rolegraph.ErrNotFound) {
			return fmt.Errorf("%w: %q", ErrUnknownRole, roleName)
		}
		return err
	}
	if err := s.roles.SetParent(ctx, roleName, parentName); err != nil {
		if errors.Is(err, rolegraph.ErrNotFound) {
			return fmt.Errorf("%w: parent %q", ErrUnknownRole, parentName)
		}
		return err
	}
	s.invalidateRoleSubtree(ctx, role.ID)
	s.audit.Record(ctx, shared.AuditEvent{
		EventType: "role.reparented",
		ActorID:   actorID,
		Target:    roleName,
		Meta:      map[string]any{"parent": parentName},
		At:        s.clock.Now(),
	})
	return nil
}

// AttachRolePermission links a catalog permission to a role.
func (s *Service) AttachRolePermission(ctx context.Context, roleName, permission string, actorID int64) error {
	role, perm, err := s.resolveRolePermission(ctx, roleName, permission)
	if err != nil {
		return err
	}
	if err := s.roles.AttachPermission(ctx, role.ID, perm.ID); err != nil {
		return err
	}
	s.invalidateRoleSubtree(ctx, role.ID)
	s.audit.Record(ctx, shared.AuditEvent{
		EventType: "role.permission_attached",
		ActorID:   actorID,
		Target:    roleName,
		Meta:      map[string]any{"permission": perm.Name},
		At:        s.clock.Now(),
	})
	return nil
}

// DetachRolePermission unlinks a catalog permission from a role.
func (s *Service) DetachRolePermission(ctx context.Context, roleName, permission string, actorID int64) error {
	role, perm, err := s.resolveRolePermission(ctx, roleName, permission)
	if err != nil {
		return err
	}
	if err := s.roles.DetachPermission(ctx, role.ID, perm.ID); err != nil {
		return err
	}
	s.invalidateRoleSubtree(ctx, role.ID)
	s.audit.Record(ctx, shared.AuditEvent{
		EventType: "role.permission_detached",
		ActorID:   actorID,
		Target:    roleName,
		Meta:      map[string]any{"permission": perm.Name},
		At:        s.clock.Now(),
	})
	return nil
}

// AssignRole grants a role to a user.
func (s *Service) AssignRole(ctx context.Context, userID int64, roleName string, actorID int64) error {
	if err := s.requireUser(ctx, userID); err != nil {
		return err
	}
	role, err := s.roles.GetByName(ctx, roleName)
	if err != nil {
		if errors.Is(err, rolegraph.ErrNotFound) {
			return fmt.Errorf("%w: %q", ErrUnknownRole, roleName)
		}
		return err
	}
	if err := s.store.AssignRole(ctx, userID, role.ID, actorID); err != nil {
		return err
	}
	s.invalidateUsers(ctx, userID)
	s.audit.Record(ctx, shared.AuditEvent{
		EventType: "user.role_assigned",
		ActorID:   actorID,
		Target:    strconv.FormatInt(userID, 10),
		Meta:      map[string]any{"role": roleName},
		At:        s.clock.Now(),
	})
	return nil
}

// RemoveRole revokes a role from a user.
func (s *Service) RemoveRole(ctx context.Context, userID int64, roleName string, actorID int64) error {
	if err := s.requireUser(ctx, userID); err != nil {
		return err
	}
	role, err := s.roles.GetByName(ctx, roleName)
	if err != nil {
		if errors.Is(err, rolegraph.ErrNotFound) {
			return fmt.Errorf("%w: %q", ErrUnknownRole, roleName)
		}
		return err
	}
	if err := s.store.RemoveRole(ctx, userID, role.ID); err != nil {
		return err
	}
	s.invalidateUsers(ctx, userID)
	s.audit.Record(ctx, shared.AuditEvent{
		EventType: "user.role_removed",
		ActorID:   actorID,
		Target:    strconv.FormatInt(userID, 10),
		Meta:      map[string]any{"role": roleName},
		At:        s.clock.Now(),
	})
	return nil
}

// GrantPermission upserts the explicit per-user override for a permission.
// granted=false is an authoritative revoke that suppresses every other
// grant source.
func (s *Service) GrantPermission(ctx context.Context, userID int64, permission string, actorID int64, granted bool) error {
	if err := s.requireUser(ctx, userID); err != nil {
		return err
	}
	perm, err := s.requirePermission(ctx, permission)
	if err != nil {
		return err
	}
	if err := s.store.UpsertOverride(ctx, userID, perm.ID, granted, actorID); err != nil {
		return err
	}
	s.invalidateUsers(ctx, userID)
	s.audit.Record(ctx, shared.AuditEvent{
		EventType: "override.set",
		ActorID:   actorID,
		Target:    strconv.FormatInt(userID, 10),
		Meta:      map[string]any{"permission": perm.Name, "granted": granted},
		At:        s.clock.Now(),
	})
	return nil
}

// GrantTemporaryPermission creates an additive grant expiring after the
// given duration. Temporary grants are never cached, so no invalidation.
func (s *Service) GrantTemporaryPermission(ctx context.Context, userID int64, permission string, actorID int64, duration time.Duration, reason string) (uuid.UUID, error) {
	if duration <= 0 {
		return uuid.Nil, fmt.Errorf("%w: duration must be positive", ErrInvalidGrant)
	}
	if err := s.requireUser(ctx, userID); err != nil {
		return uuid.Nil, err
	}
	perm, err := s.requirePermission(ctx, permission)
	if err != nil {
		return uuid.Nil, err
	}
	expiresAt := s.clock.Now().Add(duration)
	id, err := s.store.CreateTemporaryGrant(ctx, userID, perm.ID, actorID, expiresAt, reason)
	if err != nil {
		return uuid.Nil, err
	}
	s.audit.Record(ctx, shared.AuditEvent{
		EventType: "grant.temporary_created",
		ActorID:   actorID,
		Target:    strconv.FormatInt(userID, 10),
		Meta:      map[string]any{"permission": perm.Name, "expires_at": expiresAt, "reason": reason},
		At:        s.clock.Now(),
	})
	return id, nil
}

// GrantConditionalPermission creates an additive grant guarded by a
// predicate, optionally restricted to a validity window.
func (s *Service) GrantConditionalPermission(ctx context.Context, userID int64, permission string, actorID int64, predicate grants.Predicate, validFrom, validUntil *time.Time) (uuid.UUID, error) {
	if len(predicate) == 0 {
		return uuid.Nil, fmt.Errorf("%w: predicate required", ErrInvalidGrant)
	}
	if validFrom != nil && validUntil != nil && !validUntil.After(*validFrom) {
		return uuid.Nil, fmt.Errorf("%w: valid_until must be after valid_from", ErrInvalidGrant)
	}
	if err := s.requireUser(ctx, userID); err != nil {
		return uuid.Nil, err
	}
	perm, err := s.requirePermission(ctx, permission)
	if err != nil {
		return uuid.Nil, err
	}
	id, err := s.store.CreateConditionalGrant(ctx, userID, perm.ID, actorID, predicate, validFrom, validUntil)
	if err != nil {
		return uuid.Nil, err
	}
	s.audit.Record(ctx, shared.AuditEvent{
		EventType: "grant.conditional_created",
		ActorID:   actorID,
		Target:    strconv.FormatInt(userID, 10),
		Meta:      map[string]any{"permission": perm.Name},
		At:        s.clock.Now(),
	})
	return id, nil
}

// EnsurePermission registers a permission in the catalog.
func (s *Service) EnsurePermission(ctx context.Context, name, description string, actorID int64) (catalog.Permission, error) {
	perm, err := s.catalog.EnsurePermission(ctx, name, description)
	if err != nil {
		return catalog.Permission{}, err
	}
	s.audit.Record(ctx, shared.AuditEvent{
		EventType: "permission.ensured",
		ActorID:   actorID,
		Target:    perm.Name,
		At:        s.clock.Now(),
	})
	return perm, nil
}

// WarmSnapshot loads and caches a user's static snapshot. Used by the
// warmup job.
func (s *Service) WarmSnapshot(ctx context.Context, userID int64) error {
	_, err := s.staticSnapshot(ctx, userID)
	return err
}

// staticSnapshot returns the cached static permission state, loading it
// from the stores on miss. Concurrent misses for the same user collapse to
// one load.
func (s *Service) staticSnapshot(ctx context.Context, userID int64) (Snapshot, error) {
	snapshot, hit, err := s.cache.Get(ctx, userID)
	if err != nil {
		// A cache failure degrades to a store load; it must not fail the
		// decision on its own.
		s.logger.Warn("snapshot cache get", slog.Int64("user_id", userID), slog.Any("error", err))
	} else if hit {
		if s.metrics != nil {
			s.metrics.RecordSnapshotLookup(true)
		}
		return snapshot, nil
	}
	if s.metrics != nil {
		s.metrics.RecordSnapshotLookup(false)
	}

	value, err, _ := s.loads.Do(strconv.FormatInt(userID, 10), func() (any, error) {
		roleIDs, err := s.store.UserRoleIDs(ctx, userID)
		if err != nil {
			return Snapshot{}, err
		}
		static, err := s.roles.StaticPermissions(ctx, roleIDs)
		if err != nil {
			return Snapshot{}, err
		}
		overrides, err := s.store.Overrides(ctx, userID)
		if err != nil {
			return Snapshot{}, err
		}
		loaded := Snapshot{Static: static, Overrides: overrides}
		if err := s.cache.Set(ctx, userID, loaded); err != nil {
			s.logger.Warn("snapshot cache set", slog.Int64("user_id", userID), slog.Any("error", err))
		}
		return loaded, nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	return value.(Snapshot), nil
}

// storeFailure applies the configured fail-closed policy to an
// infrastructure failure during Authorize.
func (s *Service) storeFailure(permission string, started time.Time, err error) (Decision, error) {
	s.logger.Error("authorize store failure", slog.String("permission", permission), slog.Any("error", err))
	if !s.failClosed {
		return Decision{}, fmt.Errorf("%w: %v", shared.ErrStoreUnavailable, err)
	}
	decision := Decision{Effect: Deny, Reason: ReasonStoreUnavailable, Permission: permission}
	if s.metrics != nil {
		s.metrics.RecordDecision(string(decision.Effect), decision.Reason, time.Since(started))
	}
	return decision, nil
}

func (s *Service) requireUser(ctx context.Context, userID int64) error {
	if s.directory == nil {
		return nil
	}
	exists, err := s.directory.UserExists(ctx, userID)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrStoreUnavailable, err)
	}
	if !exists {
		return fmt.Errorf("%w: %d", ErrUnknownUser, userID)
	}
	return nil
}

func (s *Service) requirePermission(ctx context.Context, name string) (catalog.Permission, error) {
	perm, err := s.catalog.GetByName(ctx, name)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return catalog.Permission{}, fmt.Errorf("%w: %q", ErrUnknownPermission, name)
		}
		return catalog.Permission{}, err
	}
	return perm, nil
}

func (s *Service) resolveRolePermission(ctx context.Context, roleName, permission string) (rolegraph.Role, catalog.Permission, error) {
	role, err := s.roles.GetByName(ctx, roleName)
	if err != nil {
		if errors.Is(err, rolegraph.ErrNotFound) {
			return rolegraph.Role{}, catalog.Permission{}, fmt.Errorf("%w: %q", ErrUnknownRole, roleName)
		}
		return rolegraph.Role{}, catalog.Permission{}, err
	}
	perm, err := s.requirePermission(ctx, permission)
	if err != nil {
		return rolegraph.Role{}, catalog.Permission{}, err
	}
	return role, perm, nil
}

// invalidateUsers drops cached snapshots synchronously, so the mutating
// caller never observes its own stale state.
func (s *Service) invalidateUsers(ctx context.Context, userIDs ...int64) {
	if err := s.cache.Invalidate(ctx, userIDs...); err != nil {
		s.logger.Warn("snapshot invalidate failed, dropping all snapshots", slog.Any("error", err))
		if err := s.cache.InvalidateAll(ctx); err != nil {
			s.logger.Error("snapshot invalidate-all", slog.Any("error", err))
		}
	}
}

// invalidateRoleSubtree fans invalidation out to every user holding the
// role or one of its descendants. When the fan-out cannot be computed it
// over-invalidates the whole keyspace rather than leaving stale allows.
func (s *Service) invalidateRoleSubtree(ctx context.Context, roleID int64) {
	subtree, err := s.roles.Subtree(ctx, roleID)
	if err == nil {
		var users []int64
		users, err = s.store.UsersWithRoles(ctx, subtree)
		if err == nil {
			if len(users) == 0 {
				return
			}
			if err = s.cache.Invalidate(ctx, users...); err == nil {
				return
			}
		}
	}
	s.logger.Warn("role invalidation fan-out failed, dropping all snapshots",
		slog.Int64("role_id", roleID), slog.Any("error", err))
	if err := s.cache.InvalidateAll(ctx); err != nil {
		s.logger.Error("snapshot invalidate-all", slog.Any("error", err))
	}
}
