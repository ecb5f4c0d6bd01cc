package accountrepofakes

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pulseboard/authgate/accounts"
	apperrors "github.com/pulseboard/authgate/internal/errors"
)

var _ accounts.Repo = (*FakeAccountRepo)(nil)

type FakeAccountRepo struct {
	accounts map[string]*accounts.Account // key: userID/providerID/accountID
	lock     sync.RWMutex
}

func NewFakeAccountRepo() *FakeAccountRepo {
	return &FakeAccountRepo{
		accounts: make(map[string]*accounts.Account),
	}
}

func key(userID, providerID, accountID string) string {
	return userID + "/" + providerID + "/" + accountID
}

func (ar *FakeAccountRepo) GetLink(userID, providerID, accountID string) (*accounts.Account, error) {
	ar.lock.RLock()
	defer ar.lock.RUnlock()
	a, ok := ar.accounts[key(userID, providerID, accountID)]
	if !ok {
		return nil, apperrors.ErrAccountNotFound
	}
	return a, nil
}

func (ar *FakeAccountRepo) Upsert(account *accounts.Account) error {
	ar.lock.Lock()
	defer ar.lock.Unlock()

	k := key(account.UserID, account.ProviderID, account.AccountID)
	if existing, ok := ar.accounts[k]; ok {
		existing.AccessToken = account.AccessToken
		existing.UpdatedAt = time.Now()
		return nil
	}

	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	account.CreatedAt = time.Now()
	account.UpdatedAt = account.CreatedAt
	ar.accounts[k] = account
	return nil
}

// Count returns the number of stored links (test helper).
func (ar *FakeAccountRepo) Count() int {
	ar.lock.RLock()
	defer ar.lock.RUnlock()
	return len(ar.accounts)
}
