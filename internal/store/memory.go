package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/relikt/staking-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu            sync.RWMutex
	distributions []model.Distribution
	claims        []model.Claim
	accounts      map[string]*model.Account
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*model.Account),
	}
}

func (s *MemoryStore) InsertDistribution(_ context.Context, d *model.Distribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.distributions = append(s.distributions, *d)
	return nil
}

func (s *MemoryStore) ListDistributions(_ context.Context, asset string) ([]model.Distribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Distribution
	for _, d := range s.distributions {
		if d.Asset == asset {
			result = append(result, d)
		}
	}
	return result, nil
}

func (s *MemoryStore) InsertClaim(_ context.Context, c *model.Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.claims = append(s.claims, *c)
	return nil
}

func (s *MemoryStore) ListClaimsByUser(_ context.Context, userID string) ([]model.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Claim
	for _, c := range s.claims {
		if c.UserID == userID {
			result = append(result, c)
		}
	}
	return result, nil
}

func (s *MemoryStore) UpsertAccount(_ context.Context, a *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	copy := *a
	s.accounts[a.UserID] = &copy
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, userID string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[userID]
	if !ok {
		return nil, fmt.Errorf("account %s not found", userID)
	}
	copy := *a
	return &copy, nil
}

func (s *MemoryStore) ListAccounts(_ context.Context) ([]model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make([]model.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		accounts = append(accounts, *a)
	}
	return accounts, nil
}
