package auth

import "strings"

// Role is the caller's permission level.
type Role string

const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

var roleRanks = map[Role]int{
	RoleViewer:   1,
	RoleOperator: 2,
	RoleAdmin:    3,
}

// Facility staff tokens use these names.
var roleAliases = map[string]Role{
	"readonly": RoleViewer,
	"petugas":  RoleOperator,
	"staff":    RoleOperator,
}

// NormalizeRole maps a claim value to a known role.
func NormalizeRole(value string) (Role, bool) {
	key := strings.ToLower(strings.TrimSpace(value))
	if role, ok := roleAliases[key]; ok {
		return role, true
	}
	if _, ok := roleRanks[Role(key)]; !ok {
		return "", false
	}
	return Role(key), true
}

// RoleAtLeast reports whether role carries at least the required permissions.
// Unknown roles satisfy nothing.
func RoleAtLeast(role Role, required Role) bool {
	have, ok := roleRanks[role]
	if !ok {
		return false
	}
	return have >= roleRanks[required]
}
