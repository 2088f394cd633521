package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type memoryCatalogRepo struct {
	perms  map[string]Permission
	nextID int64
}

func newMemoryCatalogRepo() *memoryCatalogRepo {
	return &memoryCatalogRepo{perms: make(map[string]Permission)}
}

func (r *memoryCatalogRepo) UpsertPermission(ctx context.Context, name, resource, action, description string) (Permission, error) {
	if existing, ok := r.perms[name]; ok {
		existing.Description = description
		r.perms[name] = existing
		return existing, nil
	}
	r.nextID++
	p := Permission{ID: r.nextID, Name: name, Resource: resource, Action: action, Description: description}
	r.perms[name] = p
	return p, nil
}

func (r *memoryCatalogRepo) GetPermissionByName(ctx context.Context, name string) (Permission, error) {
	p, ok := r.perms[name]
	if !ok {
		return Permission{}, ErrNotFound
	}
	return p, nil
}

func (r *memoryCatalogRepo) ListPermissions(ctx context.Context) ([]Permission, error) {
	var out []Permission
	for _, p := range r.perms {
		out = append(out, p)
	}
	return out, nil
}

func TestEnsurePermission(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryCatalogRepo()
	svc := NewService(repo)

	p, err := svc.EnsurePermission(ctx, "posts.update", "Update posts")
	require.NoError(t, err)
	require.Equal(t, "posts.update", p.Name)
	require.Equal(t, "posts", p.Resource)
	require.Equal(t, "update", p.Action)
}

func TestEnsurePermissionNormalizesName(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryCatalogRepo()
	svc := NewService(repo)

	p, err := svc.EnsurePermission(ctx, "  Posts.Update ", "")
	require.NoError(t, err)
	require.Equal(t, "posts.update", p.Name)
}

func TestEnsurePermissionIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryCatalogRepo()
	svc := NewService(repo)

	first, err := svc.EnsurePermission(ctx, "posts.publish", "v1")
	require.NoError(t, err)
	second, err := svc.EnsurePermission(ctx, "posts.publish", "v2")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Len(t, repo.perms, 1)
	require.Equal(t, "v2", repo.perms["posts.publish"].Description)
}

func TestEnsurePermissionRejectsMalformedNames(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemoryCatalogRepo())

	for _, name := range []string{"", "posts", "posts.", ".update", "posts.update.now", "posts update"} {
		_, err := svc.EnsurePermission(ctx, name, "")
		require.ErrorIs(t, err, ErrInvalidName, "name %q", name)
	}
}

func TestGetByNameCaseFolds(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryCatalogRepo()
	svc := NewService(repo)

	_, err := svc.EnsurePermission(ctx, "reports.view", "")
	require.NoError(t, err)

	p, err := svc.GetByName(ctx, "Reports.View")
	require.NoError(t, err)
	require.Equal(t, "reports.view", p.Name)
}
