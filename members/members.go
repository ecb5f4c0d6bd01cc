// Package members holds the role-scoped join of a user to a tenant.
package members

import "time"

// Role is a user's role within one tenant. Roles form a fixed hierarchy and
// only ever move up it; nothing in the auth flows downgrades a role.
type Role string

const (
	RoleUser   Role = "user"
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
	RoleOwner  Role = "owner"
)

var roleRank = map[Role]int{
	RoleUser:   0,
	RoleMember: 1,
	RoleAdmin:  2,
	RoleOwner:  3,
}

// Rank returns the role's position in the hierarchy; unknown roles rank
// below user.
func Rank(r Role) int {
	rank, ok := roleRank[r]
	if !ok {
		return -1
	}
	return rank
}

// Higher returns whichever of the two roles ranks higher.
func Higher(a, b Role) Role {
	if Rank(b) > Rank(a) {
		return b
	}
	return a
}

// Member represents a user's membership within one tenant. A user has at
// most one membership per tenant.
type Member struct {
	TenantID  string    `json:"tenant_id"`
	UserID    string    `json:"user_id"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// IsTeamRole reports whether the role grants access to the team side of a
// tenant (anything above the portal end-user role).
func (m *Member) IsTeamRole() bool {
	return Rank(m.Role) > Rank(RoleUser)
}
