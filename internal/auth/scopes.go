// Package auth - scopes.go defines the audit permission scopes and the server-side mapping
// from dashboard roles to scopes.
package auth

import (
	"fmt"
)

// Scope represents a permission/scope type
type Scope string

const (
	ScopeAuditRead   Scope = "audit:read"
	ScopeAuditWrite  Scope = "audit:write"
	ScopeAuditExport Scope = "audit:export"
	ScopeAuditClear  Scope = "audit:clear"

	// Admin scope (wildcard - all permissions)
	ScopeAdmin Scope = "admin"
)

// Dashboard roles carried in the token
const (
	RoleSuperAdmin = "super_admin"
	RoleAdmin      = "admin"
	RoleModerator  = "moderator"
	RoleUser       = "user"
)

// AllScopes returns all valid scopes
func AllScopes() []Scope {
	return []Scope{
		ScopeAuditRead,
		ScopeAuditWrite,
		ScopeAuditExport,
		ScopeAuditClear,
		ScopeAdmin,
	}
}

// ValidScopes returns a map of valid scope strings
func ValidScopes() map[string]bool {
	validScopes := make(map[string]bool)
	for _, scope := range AllScopes() {
		validScopes[string(scope)] = true
	}
	return validScopes
}

// ValidateScopes checks if all provided scopes are valid
func ValidateScopes(scopes []string) error {
	validScopes := ValidScopes()

	for _, scope := range scopes {
		if !validScopes[scope] {
			return fmt.Errorf("invalid scope: %s", scope)
		}
	}

	return nil
}

// ScopesForRole maps a role claim to the scopes it grants. Only super_admin may clear the
// trail. Unknown roles get nothing.
func ScopesForRole(role string) []string {
	switch role {
	case RoleSuperAdmin:
		return []string{string(ScopeAdmin)}
	case RoleAdmin:
		return []string{string(ScopeAuditRead), string(ScopeAuditWrite), string(ScopeAuditExport)}
	case RoleModerator:
		return []string{string(ScopeAuditRead)}
	default:
		return []string{}
	}
}

// HasScope checks if a user has a required scope
// Supports wildcard admin scope
func HasScope(userScopes []string, required Scope) bool {
	requiredStr := string(required)

	for _, scope := range userScopes {
		if scope == requiredStr {
			return true
		}

		if scope == string(ScopeAdmin) {
			return true
		}

		// write and export both imply read
		if required == ScopeAuditRead && (scope == string(ScopeAuditWrite) || scope == string(ScopeAuditExport)) {
			return true
		}
	}

	return false
}

// HasAnyScope checks if a user has at least one of the required scopes
func HasAnyScope(userScopes []string, requiredScopes []Scope) bool {
	for _, required := range requiredScopes {
		if HasScope(userScopes, required) {
			return true
		}
	}
	return false
}

// HasAllScopes checks if a user has all of the required scopes
func HasAllScopes(userScopes []string, requiredScopes []Scope) bool {
	for _, required := range requiredScopes {
		if !HasScope(userScopes, required) {
			return false
		}
	}
	return true
}
