package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/relikt/staking-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) InsertDistribution(ctx context.Context, d *model.Distribution) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO distributions (id, asset, amount, reward_rate, period_end, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5, $6)`,
		d.ID, d.Asset, d.Amount.String(), d.RewardRate.String(), d.PeriodEnd, d.CreatedAt,
	)
	return err
}

func (s *PostgresStore) ListDistributions(ctx context.Context, asset string) ([]model.Distribution, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, asset, amount::TEXT, reward_rate::TEXT, period_end, created_at
		 FROM distributions WHERE asset = $1 ORDER BY created_at`, asset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.Distribution
	for rows.Next() {
		var d model.Distribution
		var amountS, rateS string
		if err := rows.Scan(&d.ID, &d.Asset, &amountS, &rateS, &d.PeriodEnd, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.Amount, _ = decimal.NewFromString(amountS)
		d.RewardRate, _ = decimal.NewFromString(rateS)
		result = append(result, d)
	}
	return result, rows.Err()
}

func (s *PostgresStore) InsertClaim(ctx context.Context, c *model.Claim) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO claims (id, user_id, asset, amount, unwrapped, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6)`,
		c.ID, c.UserID, c.Asset, c.Amount.String(), c.Unwrapped, c.CreatedAt,
	)
	return err
}

func (s *PostgresStore) ListClaimsByUser(ctx context.Context, userID string) ([]model.Claim, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, asset, amount::TEXT, unwrapped, created_at
		 FROM claims WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.Claim
	for rows.Next() {
		var c model.Claim
		var amountS string
		if err := rows.Scan(&c.ID, &c.UserID, &c.Asset, &amountS, &c.Unwrapped, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Amount, _ = decimal.NewFromString(amountS)
		result = append(result, c)
	}
	return result, rows.Err()
}

func (s *PostgresStore) UpsertAccount(ctx context.Context, a *model.Account) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (user_id, principal, updated_at)
		 VALUES ($1, $2::NUMERIC, $3)
		 ON CONFLICT (user_id) DO UPDATE
		 SET principal = EXCLUDED.principal, updated_at = EXCLUDED.updated_at`,
		a.UserID, a.Principal.String(), a.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	var a model.Account
	var principalS string

	err := s.pool.QueryRow(ctx,
		`SELECT user_id, principal::TEXT, updated_at FROM accounts WHERE user_id = $1`, userID).
		Scan(&a.UserID, &principalS, &a.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", userID, err)
	}

	a.Principal, _ = decimal.NewFromString(principalS)
	return &a, nil
}

func (s *PostgresStore) ListAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, principal::TEXT, updated_at FROM accounts ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		var a model.Account
		var principalS string
		if err := rows.Scan(&a.UserID, &principalS, &a.UpdatedAt); err != nil {
			return nil, err
		}
		a.Principal, _ = decimal.NewFromString(principalS)
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}
