package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"bnpl/internal/trust/models"
	id "bnpl/pkg/domain"
	"bnpl/pkg/platform/sentinel"
)

// Error contract for every store in this package:
//   - sentinel.ErrNotFound when the profile does not exist
//   - sentinel.ErrConflict when creating a profile that already exists
//   - sentinel.ErrInsufficientFunds when a coin debit exceeds the balance
//   - wrapped errors for infrastructure failures

// InMemoryStore keeps profiles in memory. Row locking is the caller's job
// (see service.NewShardedTx); the mutex here only protects the maps, so coin
// writes must also run inside the user's transaction or a concurrent
// read-modify-Update of the same profile can overwrite them.
type InMemoryStore struct {
	mu       sync.RWMutex
	profiles map[id.UserID]*models.Profile
	applied  map[uuid.UUID]id.UserID
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		profiles: make(map[id.UserID]*models.Profile),
		applied:  make(map[uuid.UUID]id.UserID),
	}
}

func (s *InMemoryStore) Create(_ context.Context, p *models.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.profiles[p.UserID]; exists {
		return sentinel.ErrConflict
	}
	s.profiles[p.UserID] = p.Clone()
	return nil
}

func (s *InMemoryStore) FindByUser(_ context.Context, userID id.UserID) (*models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return p.Clone(), nil
}

// FindByUserForUpdate is FindByUser; the sharded transaction already serializes the user.
func (s *InMemoryStore) FindByUserForUpdate(ctx context.Context, userID id.UserID) (*models.Profile, error) {
	return s.FindByUser(ctx, userID)
}

func (s *InMemoryStore) Update(_ context.Context, p *models.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[p.UserID]; !ok {
		return sentinel.ErrNotFound
	}
	s.profiles[p.UserID] = p.Clone()
	return nil
}

func (s *InMemoryStore) DebitCoins(_ context.Context, userID id.UserID, amount decimal.Decimal) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return decimal.Zero, sentinel.ErrNotFound
	}
	if err := p.DebitCoins(amount, time.Now()); err != nil {
		return p.CoinsBalance, sentinel.ErrInsufficientFunds
	}
	return p.CoinsBalance, nil
}

func (s *InMemoryStore) CreditCoins(_ context.Context, userID id.UserID, amount decimal.Decimal) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return decimal.Zero, sentinel.ErrNotFound
	}
	if err := p.AddCoins(amount, time.Now()); err != nil {
		return p.CoinsBalance, err
	}
	return p.CoinsBalance, nil
}

func (s *InMemoryStore) MarkEventApplied(_ context.Context, eventID uuid.UUID, userID id.UserID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.applied[eventID]; seen {
		return false, nil
	}
	s.applied[eventID] = userID
	return true, nil
}

func (s *InMemoryStore) ListUserIDs(_ context.Context) ([]id.UserID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]id.UserID, 0, len(s.profiles))
	for userID := range s.profiles {
		ids = append(ids, userID)
	}
	return ids, nil
}
