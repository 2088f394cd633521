package rolegraph

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memoryRoleRepo struct {
	roles    map[int64]*Role
	byName   map[string]int64
	perms    map[int64]map[int64]string // roleID -> permissionID -> name
	nextRole int64
}

func newMemoryRoleRepo() *memoryRoleRepo {
	return &memoryRoleRepo{
		roles:  make(map[int64]*Role),
		byName: make(map[string]int64),
		perms:  make(map[int64]map[int64]string),
	}
}

func (r *memoryRoleRepo) CreateRole(ctx context.Context, name string, parentRoleID *int64) (Role, error) {
	if _, ok := r.byName[name]; ok {
		return Role{}, ErrDuplicate
	}
	r.nextRole++
	role := &Role{ID: r.nextRole, Name: name, ParentRoleID: parentRoleID, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	r.roles[role.ID] = role
	r.byName[name] = role.ID
	return *role, nil
}

func (r *memoryRoleRepo) GetRole(ctx context.Context, id int64) (Role, error) {
	role, ok := r.roles[id]
	if !ok {
		return Role{}, ErrNotFound
	}
	return *role, nil
}

func (r *memoryRoleRepo) GetRoleByName(ctx context.Context, name string) (Role, error) {
	id, ok := r.byName[name]
	if !ok {
		return Role{}, ErrNotFound
	}
	return *r.roles[id], nil
}

func (r *memoryRoleRepo) ListRoles(ctx context.Context) ([]Role, error) {
	var out []Role
	for _, role := range r.roles {
		out = append(out, *role)
	}
	return out, nil
}

func (r *memoryRoleRepo) SetParent(ctx context.Context, roleID int64, parentRoleID *int64) error {
	role, ok := r.roles[roleID]
	if !ok {
		return ErrNotFound
	}
	role.ParentRoleID = parentRoleID
	return nil
}

func (r *memoryRoleRepo) AttachPermission(ctx context.Context, roleID, permissionID int64) error {
	if r.perms[roleID] == nil {
		r.perms[roleID] = make(map[int64]string)
	}
	r.perms[roleID][permissionID] = r.permName(permissionID)
	return nil
}

func (r *memoryRoleRepo) DetachPermission(ctx context.Context, roleID, permissionID int64) error {
	delete(r.perms[roleID], permissionID)
	return nil
}

func (r *memoryRoleRepo) RolePermissionNames(ctx context.Context, roleIDs []int64) ([]string, error) {
	seen := make(map[string]struct{})
	for _, id := range roleIDs {
		for _, name := range r.perms[id] {
			seen[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// permName maps test permission ids to stable names.
func (r *memoryRoleRepo) permName(id int64) string {
	switch id {
	case 1:
		return "posts.update"
	case 2:
		return "posts.publish"
	default:
		return "perm." + string(rune('a'+id))
	}
}

func (r *memoryRoleRepo) snapshot() map[int64]*int64 {
	out := make(map[int64]*int64, len(r.roles))
	for id, role := range r.roles {
		if role.ParentRoleID == nil {
			out[id] = nil
			continue
		}
		parent := *role.ParentRoleID
		out[id] = &parent
	}
	return out
}

func TestCreateRoleWithParent(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRoleRepo()
	svc := NewService(repo, 0)

	_, err := svc.CreateRole(ctx, "editor", "")
	require.NoError(t, err)

	senior, err := svc.CreateRole(ctx, "senior_editor", "editor")
	require.NoError(t, err)
	require.NotNil(t, senior.ParentRoleID)
}

func TestCreateRoleUnknownParent(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemoryRoleRepo(), 0)

	_, err := svc.CreateRole(ctx, "editor", "ghost")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSetParentRejectsSelf(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRoleRepo()
	svc := NewService(repo, 0)

	_, err := svc.CreateRole(ctx, "editor", "")
	require.NoError(t, err)

	before := repo.snapshot()
	err = svc.SetParent(ctx, "editor", "editor")
	require.ErrorIs(t, err, ErrCycle)
	require.Equal(t, before, repo.snapshot())
}

func TestSetParentRejectsDescendant(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRoleRepo()
	svc := NewService(repo, 0)

	_, err := svc.CreateRole(ctx, "viewer", "")
	require.NoError(t, err)
	_, err = svc.CreateRole(ctx, "editor", "viewer")
	require.NoError(t, err)
	_, err = svc.CreateRole(ctx, "senior_editor", "editor")
	require.NoError(t, err)

	before := repo.snapshot()
	err = svc.SetParent(ctx, "viewer", "senior_editor")
	require.ErrorIs(t, err, ErrCycle)
	require.Equal(t, before, repo.snapshot(), "graph must be untouched after a rejected re-parent")
}

func TestSetParentConcurrentMirroredPairs(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRoleRepo()
	svc := NewService(repo, 0)

	a, err := svc.CreateRole(ctx, "a", "")
	require.NoError(t, err)
	b, err := svc.CreateRole(ctx, "b", "")
	require.NoError(t, err)

	// Each a->b and b->a re-parent passes its own cycle check against the
	// graph it observed; only the serialized writer keeps the pair from
	// composing into a 2-cycle.
	for i := 0; i < 100; i++ {
		require.NoError(t, svc.SetParent(ctx, "a", ""))
		require.NoError(t, svc.SetParent(ctx, "b", ""))

		var wg sync.WaitGroup
		var errA, errB error
		wg.Add(2)
		go func() {
			defer wg.Done()
			errA = svc.SetParent(ctx, "a", "b")
		}()
		go func() {
			defer wg.Done()
			errB = svc.SetParent(ctx, "b", "a")
		}()
		wg.Wait()

		if errA == nil && errB == nil {
			t.Fatalf("round %d: both mirrored re-parents succeeded", i)
		}
		if errA != nil {
			require.ErrorIs(t, errA, ErrCycle)
		}
		if errB != nil {
			require.ErrorIs(t, errB, ErrCycle)
		}

		parents := repo.snapshot()
		if parents[a.ID] != nil && parents[b.ID] != nil {
			t.Fatalf("round %d: cycle persisted, a->%d b->%d", i, *parents[a.ID], *parents[b.ID])
		}
		_, err := svc.Closure(ctx, []int64{a.ID, b.ID})
		require.NoError(t, err)
	}
}

func TestSetParentAllowsSibling(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRoleRepo()
	svc := NewService(repo, 0)

	_, err := svc.CreateRole(ctx, "viewer", "")
	require.NoError(t, err)
	_, err = svc.CreateRole(ctx, "auditor", "")
	require.NoError(t, err)

	require.NoError(t, svc.SetParent(ctx, "auditor", "viewer"))
	role, err := svc.GetByName(ctx, "auditor")
	require.NoError(t, err)
	require.NotNil(t, role.ParentRoleID)
}

func TestClosureBoundedBySize(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRoleRepo()
	svc := NewService(repo, 0)

	parent := ""
	var leaf Role
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		role, err := svc.CreateRole(ctx, name, parent)
		require.NoError(t, err)
		parent = name
		leaf = role
	}

	closure, err := svc.Closure(ctx, []int64{leaf.ID})
	require.NoError(t, err)
	require.Len(t, closure, 5)
	require.LessOrEqual(t, len(closure), len(repo.roles))
}

func TestClosureDepthCap(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRoleRepo()
	svc := NewService(repo, 3)

	// Corrupt the stored graph directly: a 2-cycle the mutation path would
	// have rejected.
	a, _ := repo.CreateRole(ctx, "a", nil)
	b, _ := repo.CreateRole(ctx, "b", &a.ID)
	repo.roles[a.ID].ParentRoleID = &b.ID

	_, err := svc.Closure(ctx, []int64{a.ID})
	require.NoError(t, err, "visited set must terminate a short cycle")

	// Depth cap triggers on chains longer than the cap.
	deep := NewService(repo, 1)
	c, _ := repo.CreateRole(ctx, "c", nil)
	d, _ := repo.CreateRole(ctx, "d", &c.ID)
	e, _ := repo.CreateRole(ctx, "e", &d.ID)
	_, err = deep.Closure(ctx, []int64{e.ID})
	require.ErrorIs(t, err, ErrHierarchyTooDeep)
}

func TestStaticPermissionsIncludeInherited(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRoleRepo()
	svc := NewService(repo, 0)

	editor, err := svc.CreateRole(ctx, "editor", "")
	require.NoError(t, err)
	senior, err := svc.CreateRole(ctx, "senior_editor", "editor")
	require.NoError(t, err)

	require.NoError(t, svc.AttachPermission(ctx, editor.ID, 1))
	require.NoError(t, svc.AttachPermission(ctx, senior.ID, 2))

	perms, err := svc.StaticPermissions(ctx, []int64{senior.ID})
	require.NoError(t, err)
	require.Equal(t, []string{"posts.publish", "posts.update"}, perms)

	// The base role does not inherit downward.
	perms, err = svc.StaticPermissions(ctx, []int64{editor.ID})
	require.NoError(t, err)
	require.Equal(t, []string{"posts.update"}, perms)
}
