package catalog

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
)

var (
	// ErrNotFound indicates the permission does not exist in the catalog.
	ErrNotFound = errors.New("catalog: permission not found")
	// ErrInvalidName indicates the name is not of the form resource.action.
	ErrInvalidName = errors.New("catalog: invalid permission name")
)

var nameRe = regexp.MustCompile(`^[a-z0-9_]+\.[a-z0-9_]+$`)

// RepositoryPort defines data access methods for the catalog.
type RepositoryPort interface {
	UpsertPermission(ctx context.Context, name, resource, action, description string) (Permission, error)
	GetPermissionByName(ctx context.Context, name string) (Permission, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
}

// Service manages the permission catalog. The catalog is admin-managed and
// rarely mutated at runtime.
type Service struct {
	repo   RepositoryPort
	folder cases.Caser
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo, folder: cases.Fold()}
}

// NormalizeName case-folds and trims a permission identifier.
func (s *Service) NormalizeName(name string) string {
	return s.folder.String(strings.TrimSpace(name))
}

// EnsurePermission upserts a permission, validating the resource.action form.
func (s *Service) EnsurePermission(ctx context.Context, name, description string) (Permission, error) {
	name = s.NormalizeName(name)
	if !nameRe.MatchString(name) {
		return Permission{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	resource, action, _ := strings.Cut(name, ".")
	return s.repo.UpsertPermission(ctx, name, resource, action, strings.TrimSpace(description))
}

// GetByName fetches a permission by its normalized name.
func (s *Service) GetByName(ctx context.Context, name string) (Permission, error) {
	return s.repo.GetPermissionByName(ctx, s.NormalizeName(name))
}

// List returns the full catalog ordered by name.
func (s *Service) List(ctx context.Context) ([]Permission, error) {
	return s.repo.ListPermissions(ctx)
}
