package plugin

import (
	"fmt"
	"sort"
)

// PermissionSet enforces capability-based access control for one plugin. It
// is built from the manifest's permission list at activation.
type PermissionSet struct {
	granted map[Permission]bool
}

// NewPermissionSet creates a permission set from the granted tokens.
func NewPermissionSet(permissions []Permission) *PermissionSet {
	granted := make(map[Permission]bool, len(permissions))
	for _, perm := range permissions {
		granted[perm] = true
	}
	return &PermissionSet{granted: granted}
}

// Has reports whether the permission was granted.
func (s *PermissionSet) Has(permission Permission) bool {
	return s.granted[permission]
}

// Require returns an error when the permission was not granted.
func (s *PermissionSet) Require(permission Permission) error {
	if !s.Has(permission) {
		return fmt.Errorf("permission denied: %s", permission)
	}
	return nil
}

// HasAny reports whether at least one of the permissions was granted.
func (s *PermissionSet) HasAny(permissions ...Permission) bool {
	for _, perm := range permissions {
		if s.Has(perm) {
			return true
		}
	}
	return false
}

// List returns the granted permissions in sorted order.
func (s *PermissionSet) List() []Permission {
	perms := make([]Permission, 0, len(s.granted))
	for perm := range s.granted {
		perms = append(perms, perm)
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i] < perms[j] })
	return perms
}
