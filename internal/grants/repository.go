package grants

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for grant sources.
// Writes resolve permissions by id; reads join to names because the
// resolver works on permission names.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// AssignRole links a user to a role, idempotently.
func (r *Repository) AssignRole(ctx context.Context, userID, roleID, grantedBy int64) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_roles (user_id, role_id, granted_by, granted_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id, role_id) DO NOTHING`,
		userID, roleID, grantedBy)
	return err
}

// RemoveRole unlinks a user from a role.
func (r *Repository) RemoveRole(ctx context.Context, userID, roleID int64) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	return err
}

// UserRoleIDs returns the roles directly assigned to a user.
func (r *Repository) UserRoleIDs(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT role_id FROM user_roles WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UsersWithRoles returns every user holding any of the given roles. This is
// the reverse index behind role-level cache invalidation fan-out.
func (r *Repository) UsersWithRoles(ctx context.Context, roleIDs []int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT user_id FROM user_roles WHERE role_id = ANY($1)`, roleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpsertOverride writes the single logical override row for the pair. The
// upsert is a single statement, so racing grant/revoke calls on the same
// (user, permission) cannot lose updates.
func (r *Repository) UpsertOverride(ctx context.Context, userID, permissionID int64, granted bool, grantedBy int64) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_permission_overrides (user_id, permission_id, granted, granted_by, granted_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (user_id, permission_id)
		DO UPDATE SET granted = EXCLUDED.granted, granted_by = EXCLUDED.granted_by, granted_at = EXCLUDED.granted_at`,
		userID, permissionID, granted, grantedBy)
	return err
}

// Overrides returns the permission->granted map for a user.
func (r *Repository) Overrides(ctx context.Context, userID int64) (map[string]bool, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.name, o.granted
		FROM user_permission_overrides o
		JOIN permissions p ON p.id = o.permission_id
		WHERE o.user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	overrides := make(map[string]bool)
	for rows.Next() {
		var name string
		var granted bool
		if err := rows.Scan(&name, &granted); err != nil {
			return nil, err
		}
		overrides[name] = granted
	}
	return overrides, rows.Err()
}

// CreateTemporaryGrant records an additive, expiring grant.
func (r *Repository) CreateTemporaryGrant(ctx context.Context, userID, permissionID, grantedBy int64, expiresAt time.Time, reason string) (uuid.UUID, error) {
	id := uuid.New()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_temporary_grants (id, user_id, permission_id, granted_by, expires_at, reason)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		id, userID, permissionID, grantedBy, expiresAt, reason)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// ActiveTemporaryGrants returns grants with expires_at strictly after now.
func (r *Repository) ActiveTemporaryGrants(ctx context.Context, userID int64, now time.Time) ([]TemporaryGrant, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT g.id, g.user_id, p.name, g.granted_by, g.expires_at, g.reason
		FROM user_temporary_grants g
		JOIN permissions p ON p.id = g.permission_id
		WHERE g.user_id = $1 AND g.expires_at > $2`, userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var grants []TemporaryGrant
	for rows.Next() {
		var g TemporaryGrant
		if err := rows.Scan(&g.ID, &g.UserID, &g.Permission, &g.GrantedBy, &g.ExpiresAt, &g.Reason); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// CreateConditionalGrant records an additive, predicate-guarded grant.
func (r *Repository) CreateConditionalGrant(ctx context.Context, userID, permissionID, grantedBy int64, predicate Predicate, validFrom, validUntil *time.Time) (uuid.UUID, error) {
	if len(predicate) == 0 {
		return uuid.Nil, fmt.Errorf("grants: conditional grant requires a predicate")
	}
	predicateJSON, err := json.Marshal(predicate)
	if err != nil {
		return uuid.Nil, err
	}
	id := uuid.New()
	_, err = r.pool.Exec(ctx, `
		INSERT INTO user_conditional_grants (id, user_id, permission_id, granted_by, predicate, valid_from, valid_until)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, userID, permissionID, grantedBy, predicateJSON, validFrom, validUntil)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// ActiveConditionalGrants returns grants whose optional validity window
// contains now, each carrying its parsed predicate.
func (r *Repository) ActiveConditionalGrants(ctx context.Context, userID int64, now time.Time) ([]ConditionalGrant, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT g.id, g.user_id, p.name, g.granted_by, g.predicate, g.valid_from, g.valid_until
		FROM user_conditional_grants g
		JOIN permissions p ON p.id = g.permission_id
		WHERE g.user_id = $1
		  AND (g.valid_from IS NULL OR g.valid_from <= $2)
		  AND (g.valid_until IS NULL OR g.valid_until >= $2)`, userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var grants []ConditionalGrant
	for rows.Next() {
		var g ConditionalGrant
		var predicateJSON []byte
		if err := rows.Scan(&g.ID, &g.UserID, &g.Permission, &g.GrantedBy, &predicateJSON, &g.ValidFrom, &g.ValidUntil); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(predicateJSON, &g.Predicate); err != nil {
			return nil, fmt.Errorf("grants: parse predicate for grant %s: %w", g.ID, err)
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// PurgeExpired deletes temporary grants past their expiry and conditional
// grants past their validity window. The boundaries mirror the Active
// checks in domain.go: a temporary grant is already inactive at exactly
// expires_at and is swept, a conditional grant is still active at exactly
// valid_until and is kept. Run from the sweep job.
func (r *Repository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM user_temporary_grants WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	purged := tag.RowsAffected()
	tag, err = r.pool.Exec(ctx,
		`DELETE FROM user_conditional_grants WHERE valid_until IS NOT NULL AND valid_until < $1`, now)
	if err != nil {
		return purged, err
	}
	return purged + tag.RowsAffected(), nil
}
