package authz

import "errors"

// Referential failures on admin mutations. An unknown permission name passed
// to Authorize is not an error; it resolves to Deny, since nothing can grant
// a nonexistent capability.
var (
	ErrUnknownUser       = errors.New("authz: unknown user")
	ErrUnknownRole       = errors.New("authz: unknown role")
	ErrUnknownPermission = errors.New("authz: unknown permission")
	ErrInvalidGrant      = errors.New("authz: invalid grant parameters")
)
