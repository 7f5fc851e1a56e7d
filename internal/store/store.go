// Package store defines the persistence interface for the staking engine's
// journal: distribution and claim history plus account snapshots.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"

	"github.com/relikt/staking-engine/internal/model"
)

// Store is the persistence interface. The in-process pool is authoritative
// for live accounting; the store journals its history for observers and
// snapshots balances for queries.
type Store interface {
	// --- Immutable journal ---

	// InsertDistribution appends an activation record.
	InsertDistribution(ctx context.Context, d *model.Distribution) error

	// ListDistributions returns all activations for one asset, oldest first.
	ListDistributions(ctx context.Context, asset string) ([]model.Distribution, error)

	// InsertClaim appends a payout record.
	InsertClaim(ctx context.Context, c *model.Claim) error

	// ListClaimsByUser returns all payouts to a user, oldest first.
	ListClaimsByUser(ctx context.Context, userID string) ([]model.Claim, error)

	// --- Account snapshots ---

	// UpsertAccount records a user's principal balance after a mutation.
	UpsertAccount(ctx context.Context, a *model.Account) error

	// GetAccount retrieves a user's latest snapshot.
	GetAccount(ctx context.Context, userID string) (*model.Account, error)

	// ListAccounts returns all account snapshots.
	ListAccounts(ctx context.Context) ([]model.Account, error)
}
