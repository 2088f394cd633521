package rolegraph

import (
	"errors"
	"time"
)

// Role represents a named permission bundle, optionally inheriting a parent.
// Parent pointers are stored as ids, never live references; the parent chain
// of every role must stay acyclic.
type Role struct {
	ID           int64
	Name         string
	ParentRoleID *int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

var (
	// ErrNotFound indicates the role does not exist.
	ErrNotFound = errors.New("rolegraph: role not found")
	// ErrDuplicate indicates a role with the same name already exists.
	ErrDuplicate = errors.New("rolegraph: role name already exists")
	// ErrCycle indicates the requested parent edge would close a cycle.
	ErrCycle = errors.New("rolegraph: parent chain would form a cycle")
	// ErrHierarchyTooDeep indicates the traversal depth cap was exceeded,
	// which signals corrupted data rather than a legitimate hierarchy.
	ErrHierarchyTooDeep = errors.New("rolegraph: hierarchy depth cap exceeded")
)

// DefaultMaxDepth bounds parent-chain walks. Legitimate hierarchies are
// orders of magnitude shallower; the cap guarantees termination even when
// the stored graph is corrupted.
const DefaultMaxDepth = 64
