package sessionrepofakes

import (
	"sync"
	"time"

	apperrors "github.com/pulseboard/authgate/internal/errors"
	"github.com/pulseboard/authgate/sessions"
)

var _ sessions.Repo = (*FakeSessionRepo)(nil)

type FakeSessionRepo struct {
	byToken map[string]*sessions.Session
	byID    map[string]*sessions.Session
	lock    sync.RWMutex
}

func NewFakeSessionRepo() *FakeSessionRepo {
	return &FakeSessionRepo{
		byToken: make(map[string]*sessions.Session),
		byID:    make(map[string]*sessions.Session),
	}
}

func (sr *FakeSessionRepo) Create(session *sessions.Session) error {
	sr.lock.Lock()
	defer sr.lock.Unlock()
	sr.byToken[session.Token] = session
	sr.byID[session.ID] = session
	return nil
}

func (sr *FakeSessionRepo) GetByToken(token string) (*sessions.Session, error) {
	sr.lock.RLock()
	defer sr.lock.RUnlock()
	s, ok := sr.byToken[token]
	if !ok {
		return nil, apperrors.ErrSessionNotFound
	}
	return s, nil
}

func (sr *FakeSessionRepo) Delete(token string) error {
	sr.lock.Lock()
	defer sr.lock.Unlock()
	s, ok := sr.byToken[token]
	if !ok {
		return apperrors.ErrSessionNotFound
	}
	delete(sr.byToken, token)
	delete(sr.byID, s.ID)
	return nil
}

func (sr *FakeSessionRepo) FindActiveByUser(tenantID, userID string, now time.Time) (*sessions.Session, error) {
	sr.lock.RLock()
	defer sr.lock.RUnlock()
	for _, s := range sr.byID {
		if s.TenantID == tenantID && s.UserID == userID && !s.Expired(now) {
			return s, nil
		}
	}
	return nil, apperrors.ErrSessionNotFound
}

func (sr *FakeSessionRepo) Touch(sessionID string, now time.Time) error {
	sr.lock.Lock()
	defer sr.lock.Unlock()
	s, ok := sr.byID[sessionID]
	if !ok {
		return apperrors.ErrSessionNotFound
	}
	s.UpdatedAt = now
	return nil
}

func (sr *FakeSessionRepo) DeleteExpired(before time.Time) error {
	sr.lock.Lock()
	defer sr.lock.Unlock()
	for token, s := range sr.byToken {
		if s.ExpiresAt.Before(before) {
			delete(sr.byToken, token)
			delete(sr.byID, s.ID)
		}
	}
	return nil
}

// Count returns the number of stored sessions (test helper).
func (sr *FakeSessionRepo) Count() int {
	sr.lock.RLock()
	defer sr.lock.RUnlock()
	return len(sr.byID)
}
