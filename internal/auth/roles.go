package auth

// Role represents a user role. Roles are ranked: every trader can read
// what a viewer reads, verifiers additionally rule on submissions, and
// admins can do everything.
type Role string

const (
	RoleViewer   Role = "viewer"
	RoleTrader   Role = "trader"
	RoleVerifier Role = "verifier"
	RoleAdmin    Role = "admin"
)

// NormalizeRole validates and normalizes a role string.
func NormalizeRole(value string) (Role, bool) {
	switch Role(value) {
	case RoleViewer, RoleTrader, RoleVerifier, RoleAdmin:
		return Role(value), true
	default:
		return "", false
	}
}

// RoleAtLeast returns true when role satisfies required role.
func RoleAtLeast(role Role, required Role) bool {
	return roleRank(role) >= roleRank(required)
}

func roleRank(role Role) int {
	switch role {
	case RoleViewer:
		return 1
	case RoleTrader:
		return 2
	case RoleVerifier:
		return 3
	case RoleAdmin:
		return 4
	default:
		return 0
	}
}
