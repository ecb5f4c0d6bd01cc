package memberrepofakes

import (
	"sync"
	"time"

	apperrors "github.com/pulseboard/authgate/internal/errors"
	"github.com/pulseboard/authgate/members"
)

var _ members.Repo = (*FakeMemberRepo)(nil)

type FakeMemberRepo struct {
	members map[string]*members.Member // key: tenantID + "/" + userID
	lock    sync.RWMutex
}

func NewFakeMemberRepo() *FakeMemberRepo {
	return &FakeMemberRepo{
		members: make(map[string]*members.Member),
	}
}

func key(tenantID, userID string) string {
	return tenantID + "/" + userID
}

func (mr *FakeMemberRepo) Get(tenantID, userID string) (*members.Member, error) {
	mr.lock.RLock()
	defer mr.lock.RUnlock()
	m, ok := mr.members[key(tenantID, userID)]
	if !ok {
		return nil, apperrors.ErrMemberNotFound
	}
	return m, nil
}

func (mr *FakeMemberRepo) Create(member *members.Member) error {
	mr.lock.Lock()
	defer mr.lock.Unlock()
	if member.CreatedAt.IsZero() {
		member.CreatedAt = time.Now()
	}
	mr.members[key(member.TenantID, member.UserID)] = member
	return nil
}

func (mr *FakeMemberRepo) SetRole(tenantID, userID string, role members.Role) error {
	mr.lock.Lock()
	defer mr.lock.Unlock()
	m, ok := mr.members[key(tenantID, userID)]
	if !ok {
		return apperrors.ErrMemberNotFound
	}
	m.Role = role
	return nil
}

// Count returns the number of stored memberships (test helper).
func (mr *FakeMemberRepo) Count() int {
	mr.lock.RLock()
	defer mr.lock.RUnlock()
	return len(mr.members)
}
