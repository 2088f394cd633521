package rolegraph

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// RepositoryPort defines data access methods for the role graph.
type RepositoryPort interface {
	CreateRole(ctx context.Context, name string, parentRoleID *int64) (Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	GetRoleByName(ctx context.Context, name string) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	SetParent(ctx context.Context, roleID int64, parentRoleID *int64) error
	AttachPermission(ctx context.Context, roleID, permissionID int64) error
	DetachPermission(ctx context.Context, roleID, permissionID int64) error
	RolePermissionNames(ctx context.Context, roleIDs []int64) ([]string, error)
}

// Service maintains the role hierarchy and resolves closures.
//
// All graph mutations run under a single-writer mutex: two concurrent
// re-parent operations that each individually pass a cycle check can jointly
// introduce a cycle, so cycle detection must not run optimistically.
type Service struct {
	repo     RepositoryPort
	maxDepth int

	mu sync.Mutex
}

// NewService builds a Service instance. A maxDepth of zero falls back to
// DefaultMaxDepth.
func NewService(repo RepositoryPort, maxDepth int) *Service {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Service{repo: repo, maxDepth: maxDepth}
}

// CreateRole inserts a new role, optionally under parentName. The new role
// has no children yet, so only the parent chain depth needs checking.
func (s *Service) CreateRole(ctx context.Context, name, parentName string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("rolegraph: role name required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var parentID *int64
	if parentName != "" {
		parent, err := s.repo.GetRoleByName(ctx, parentName)
		if err != nil {
			return Role{}, err
		}
		parents, err := s.parentIndex(ctx)
		if err != nil {
			return Role{}, err
		}
		if _, err := s.walkAncestors(parent.ID, parents, nil); err != nil {
			return Role{}, err
		}
		parentID = &parent.ID
	}
	return s.repo.CreateRole(ctx, name, parentID)
}

// SetParent re-points a role's parent edge. Fails with ErrCycle when the
// proposed parent's ancestor chain reaches the role itself; the graph is
// checked before any write, so a rejected call leaves it untouched.
func (s *Service) SetParent(ctx context.Context, roleName, parentName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	role, err := s.repo.GetRoleByName(ctx, roleName)
	if err != nil {
		return err
	}
	if parentName == "" {
		return s.repo.SetParent(ctx, role.ID, nil)
	}
	parent, err := s.repo.GetRoleByName(ctx, parentName)
	if err != nil {
		return err
	}
	if parent.ID == role.ID {
		return fmt.Errorf("%w: %s cannot parent itself", ErrCycle, roleName)
	}
	parents, err := s.parentIndex(ctx)
	if err != nil {
		return err
	}
	ancestors, err := s.walkAncestors(parent.ID, parents, nil)
	if err != nil {
		return err
	}
	if _, ok := ancestors[role.ID]; ok {
		return fmt.Errorf("%w: %s is a descendant of %s", ErrCycle, parentName, roleName)
	}
	return s.repo.SetParent(ctx, role.ID, &parent.ID)
}

// Closure returns the union of every given role plus all transitive
// ancestors. The traversal carries a visited set and the depth cap, so it
// terminates even against corrupted parent data.
func (s *Service) Closure(ctx context.Context, roleIDs []int64) ([]int64, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}
	parents, err := s.parentIndex(ctx)
	if err != nil {
		return nil, err
	}
	visited := make(map[int64]struct{}, len(roleIDs))
	for _, id := range roleIDs {
		if _, err := s.walkAncestors(id, parents, visited); err != nil {
			return nil, err
		}
	}
	closure := make([]int64, 0, len(visited))
	for id := range visited {
		closure = append(closure, id)
	}
	return closure, nil
}

// StaticPermissions returns the deduplicated permission names attached to
// any role in the closure of the given roles.
func (s *Service) StaticPermissions(ctx context.Context, roleIDs []int64) ([]string, error) {
	closure, err := s.Closure(ctx, roleIDs)
	if err != nil {
		return nil, err
	}
	if len(closure) == 0 {
		return nil, nil
	}
	return s.repo.RolePermissionNames(ctx, closure)
}

// Subtree returns a role plus all transitive descendants. Changes to a
// role's parent edge or permission attachments affect exactly the users
// holding a subtree role, which is what cache invalidation fans out over.
func (s *Service) Subtree(ctx context.Context, roleID int64) ([]int64, error) {
	roles, err := s.repo.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	children := make(map[int64][]int64, len(roles))
	for _, role := range roles {
		if role.ParentRoleID != nil {
			children[*role.ParentRoleID] = append(children[*role.ParentRoleID], role.ID)
		}
	}
	visited := map[int64]struct{}{roleID: {}}
	queue := []int64{roleID}
	for depth := 0; len(queue) > 0; depth++ {
		if depth > s.maxDepth {
			return nil, fmt.Errorf("%w: role %d", ErrHierarchyTooDeep, roleID)
		}
		var next []int64
		for _, id := range queue {
			for _, child := range children[id] {
				if _, ok := visited[child]; ok {
					continue
				}
				visited[child] = struct{}{}
				next = append(next, child)
			}
		}
		queue = next
	}
	subtree := make([]int64, 0, len(visited))
	for id := range visited {
		subtree = append(subtree, id)
	}
	return subtree, nil
}

// AttachPermission links a permission to a role.
func (s *Service) AttachPermission(ctx context.Context, roleID, permissionID int64) error {
	return s.repo.AttachPermission(ctx, roleID, permissionID)
}

// DetachPermission unlinks a permission from a role.
func (s *Service) DetachPermission(ctx context.Context, roleID, permissionID int64) error {
	return s.repo.DetachPermission(ctx, roleID, permissionID)
}

// GetByName fetches a role by name.
func (s *Service) GetByName(ctx context.Context, name string) (Role, error) {
	return s.repo.GetRoleByName(ctx, name)
}

// parentIndex loads the id->parent map for traversal. Role tables are small
// and admin-managed, so a full load per operation is cheaper than per-hop
// queries.
func (s *Service) parentIndex(ctx context.Context) (map[int64]*int64, error) {
	roles, err := s.repo.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	parents := make(map[int64]*int64, len(roles))
	for _, role := range roles {
		parents[role.ID] = role.ParentRoleID
	}
	return parents, nil
}

// walkAncestors follows the parent chain from id, recording every role seen
// into visited (allocated when nil) and returning it. Exceeding the depth
// cap fails with ErrHierarchyTooDeep instead of looping.
func (s *Service) walkAncestors(id int64, parents map[int64]*int64, visited map[int64]struct{}) (map[int64]struct{}, error) {
	if visited == nil {
		visited = make(map[int64]struct{})
	}
	depth := 0
	for {
		if depth > s.maxDepth {
			return nil, fmt.Errorf("%w: role %d", ErrHierarchyTooDeep, id)
		}
		if _, ok := visited[id]; ok {
			return visited, nil
		}
		visited[id] = struct{}{}
		parent, ok := parents[id]
		if !ok || parent == nil {
			return visited, nil
		}
		id = *parent
		depth++
	}
}
