package members

import apperrors "github.com/pulseboard/authgate/internal/errors"

type Repo interface {
	Get(tenantID, userID string) (*Member, error)
	Create(member *Member) error
	SetRole(tenantID, userID string, role Role) error
}

// Grant creates the membership, or upgrades an existing one when the granted
// role ranks higher. It never downgrades: accepting an invitation for a role
// below the current one leaves the membership untouched.
func Grant(repo Repo, tenantID, userID string, role Role) (*Member, error) {
	existing, err := repo.Get(tenantID, userID)
	if apperrors.Is(err, apperrors.ErrMemberNotFound) {
		m := &Member{TenantID: tenantID, UserID: userID, Role: role}
		if err := repo.Create(m); err != nil {
			return nil, apperrors.Wrapf(err, "[members.Grant] create")
		}
		return m, nil
	}
	if err != nil {
		return nil, apperrors.Wrapf(err, "[members.Grant] get")
	}

	upgraded := Higher(existing.Role, role)
	if upgraded != existing.Role {
		if err := repo.SetRole(tenantID, userID, upgraded); err != nil {
			return nil, apperrors.Wrapf(err, "[members.Grant] set role")
		}
		existing.Role = upgraded
	}
	return existing, nil
}

// EnsureExists creates the membership with the given role only when no
// membership exists; an existing membership's role is never changed, in
// either direction.
func EnsureExists(repo Repo, tenantID, userID string, role Role) (*Member, error) {
	existing, err := repo.Get(tenantID, userID)
	if err == nil {
		return existing, nil
	}
	if !apperrors.Is(err, apperrors.ErrMemberNotFound) {
		return nil, apperrors.Wrapf(err, "[members.EnsureExists] get")
	}

	m := &Member{TenantID: tenantID, UserID: userID, Role: role}
	if err := repo.Create(m); err != nil {
		return nil, apperrors.Wrapf(err, "[members.EnsureExists] create")
	}
	return m, nil
}
