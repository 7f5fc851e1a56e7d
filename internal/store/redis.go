package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relikt/staking-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) InsertDistribution(ctx context.Context, d *model.Distribution) error {
	if err := s.primary.InsertDistribution(ctx, d); err != nil {
		return err
	}
	s.rdb.Del(ctx, distributionsKey(d.Asset))
	return nil
}

func (s *CachedStore) InsertClaim(ctx context.Context, c *model.Claim) error {
	if err := s.primary.InsertClaim(ctx, c); err != nil {
		return err
	}
	s.rdb.Del(ctx, claimsKey(c.UserID))
	return nil
}

func (s *CachedStore) UpsertAccount(ctx context.Context, a *model.Account) error {
	if err := s.primary.UpsertAccount(ctx, a); err != nil {
		return err
	}
	s.cacheAccount(ctx, a)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) ListDistributions(ctx context.Context, asset string) ([]model.Distribution, error) {
	data, err := s.rdb.Get(ctx, distributionsKey(asset)).Bytes()
	if err == nil {
		var result []model.Distribution
		if json.Unmarshal(data, &result) == nil {
			return result, nil
		}
	}

	result, err := s.primary.ListDistributions(ctx, asset)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(result); err == nil {
		s.rdb.Set(ctx, distributionsKey(asset), data, s.ttl)
	}
	return result, nil
}

func (s *CachedStore) ListClaimsByUser(ctx context.Context, userID string) ([]model.Claim, error) {
	data, err := s.rdb.Get(ctx, claimsKey(userID)).Bytes()
	if err == nil {
		var result []model.Claim
		if json.Unmarshal(data, &result) == nil {
			return result, nil
		}
	}

	result, err := s.primary.ListClaimsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(result); err == nil {
		s.rdb.Set(ctx, claimsKey(userID), data, s.ttl)
	}
	return result, nil
}

func (s *CachedStore) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	data, err := s.rdb.Get(ctx, accountKey(userID)).Bytes()
	if err == nil {
		var a model.Account
		if json.Unmarshal(data, &a) == nil {
			return &a, nil
		}
	}

	a, err := s.primary.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.cacheAccount(ctx, a)
	return a, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListAccounts(ctx context.Context) ([]model.Account, error) {
	return s.primary.ListAccounts(ctx)
}

// --- Cache helpers ---

func (s *CachedStore) cacheAccount(ctx context.Context, a *model.Account) {
	if data, err := json.Marshal(a); err == nil {
		s.rdb.Set(ctx, accountKey(a.UserID), data, s.ttl)
	}
}

func accountKey(userID string) string      { return fmt.Sprintf("account:%s", userID) }
func claimsKey(userID string) string       { return fmt.Sprintf("claims:%s", userID) }
func distributionsKey(asset string) string { return fmt.Sprintf("distributions:%s", asset) }
