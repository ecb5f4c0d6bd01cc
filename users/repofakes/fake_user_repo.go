package userrepofakes

import (
	"sync"

	"github.com/google/uuid"
	apperrors "github.com/pulseboard/authgate/internal/errors"
	"github.com/pulseboard/authgate/users"
)

var _ users.UserRepo = (*FakeUserRepo)(nil)

type FakeUserRepo struct {
	users    map[string]*users.User
	emailIds map[string]string // normalized email to user id
	lock     sync.RWMutex
}

func NewFakeUserRepo() *FakeUserRepo {
	return &FakeUserRepo{
		users:    make(map[string]*users.User),
		emailIds: make(map[string]string),
	}
}

func (ur *FakeUserRepo) Upsert(user *users.User) error {
	ur.lock.Lock()
	defer ur.lock.Unlock()
	return ur.upsertLocked(user)
}

func (ur *FakeUserRepo) upsertLocked(user *users.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	user.Email = users.NormalizeEmail(user.Email)
	ur.users[user.ID] = user
	ur.emailIds[user.Email] = user.ID
	return nil
}

func (ur *FakeUserRepo) Delete(email string) error {
	ur.lock.Lock()
	defer ur.lock.Unlock()

	userID, ok := ur.emailIds[users.NormalizeEmail(email)]
	if !ok {
		return apperrors.ErrUserNotFound
	}
	delete(ur.emailIds, users.NormalizeEmail(email))
	delete(ur.users, userID)
	return nil
}

func (ur *FakeUserRepo) GetByEmail(email string) (*users.User, error) {
	ur.lock.RLock()
	defer ur.lock.RUnlock()

	userID, ok := ur.emailIds[users.NormalizeEmail(email)]
	if !ok {
		return nil, apperrors.ErrUserNotFound
	}
	return ur.users[userID], nil
}

func (ur *FakeUserRepo) GetByID(id string) (*users.User, error) {
	ur.lock.RLock()
	defer ur.lock.RUnlock()

	user, ok := ur.users[id]
	if !ok {
		return nil, apperrors.ErrUserNotFound
	}
	return user, nil
}

// FindOrCreateByEmail holds the write lock across check and insert, which is
// the in-memory equivalent of insert-then-handle-conflict on a unique email.
func (ur *FakeUserRepo) FindOrCreateByEmail(user *users.User) (*users.User, bool, error) {
	ur.lock.Lock()
	defer ur.lock.Unlock()

	if userID, ok := ur.emailIds[users.NormalizeEmail(user.Email)]; ok {
		return ur.users[userID], false, nil
	}
	if err := ur.upsertLocked(user); err != nil {
		return nil, false, err
	}
	return user, true, nil
}

// Count returns the number of stored users (test helper).
func (ur *FakeUserRepo) Count() int {
	ur.lock.RLock()
	defer ur.lock.RUnlock()
	return len(ur.users)
}
