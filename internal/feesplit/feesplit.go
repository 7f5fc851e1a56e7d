// Package feesplit routes marketplace trade fees into the token economy:
// a basis-point split between staker dividends (deposited into the staking
// pool), the community treasury, and a deflationary burn.
//
// All arithmetic is integer basis points — 10000 bps == 100% — with the
// division dust credited to the staker share so no value is destroyed.
package feesplit

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/relikt/staking-engine/internal/pool"
	"github.com/relikt/staking-engine/internal/token"
)

// BpsBase is the total basis points representing 100%.
const BpsBase int64 = 10000

// Config defines the fee split. The three shares must sum to 10000.
type Config struct {
	StakersBps  int64 `json:"stakers_bps"`
	TreasuryBps int64 `json:"treasury_bps"`
	BurnBps     int64 `json:"burn_bps"`
}

// DefaultConfig returns the default 70/20/10 split.
func DefaultConfig() Config {
	return Config{StakersBps: 7000, TreasuryBps: 2000, BurnBps: 1000}
}

// Validate checks that the shares are non-negative and sum to 10000.
func (c Config) Validate() error {
	if c.StakersBps < 0 || c.TreasuryBps < 0 || c.BurnBps < 0 {
		return fmt.Errorf("feesplit: shares must be non-negative, got %+v", c)
	}
	if total := c.StakersBps + c.TreasuryBps + c.BurnBps; total != BpsBase {
		return fmt.Errorf("feesplit: shares must sum to %d, got %d", BpsBase, total)
	}
	return nil
}

// Result is the breakdown of one routed fee.
type Result struct {
	Asset    string          `json:"asset"`
	Total    decimal.Decimal `json:"total"`
	Stakers  decimal.Decimal `json:"stakers"`  // deposited into the pool, includes dust
	Treasury decimal.Decimal `json:"treasury"`
	Burned   decimal.Decimal `json:"burned"`
}

// Router splits fees held by a collector account and deposits the staker
// share into the pool's undistributed bucket.
type Router struct {
	cfg      Config
	pool     *pool.Pool
	treasury string
	burn     string
}

// NewRouter validates the config and builds a router. Treasury and burn are
// token account IDs; the burn account is a sink no one controls.
func NewRouter(cfg Config, p *pool.Pool, treasury, burn string) (*Router, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Router{cfg: cfg, pool: p, treasury: treasury, burn: burn}, nil
}

// Breakdown computes the split without side effects. Each bucket gets
// total * bps / 10000 truncated; dust goes to the staker share.
func (r *Router) Breakdown(asset string, total decimal.Decimal) Result {
	base := decimal.NewFromInt(BpsBase)
	treasury, _ := total.Mul(decimal.NewFromInt(r.cfg.TreasuryBps)).QuoRem(base, 0)
	burned, _ := total.Mul(decimal.NewFromInt(r.cfg.BurnBps)).QuoRem(base, 0)
	stakers := total.Sub(treasury).Sub(burned)
	return Result{Asset: asset, Total: total, Stakers: stakers, Treasury: treasury, Burned: burned}
}

// Route splits a collected fee: the staker share is deposited into the pool
// as reward funds, the rest moves to the treasury and burn accounts.
func (r *Router) Route(tok token.Token, collector string, total decimal.Decimal) (*Result, error) {
	if !total.IsPositive() {
		return nil, pool.ErrInvalidAmount
	}
	have := tok.BalanceOf(collector)
	if have.LessThan(total) {
		return nil, fmt.Errorf("feesplit: collector holds %s %s, need %s", have, tok.Symbol(), total)
	}

	res := r.Breakdown(tok.Symbol(), total)
	if res.Stakers.IsPositive() {
		if err := r.pool.DepositFunds(collector, tok.Symbol(), res.Stakers); err != nil {
			return nil, err
		}
	}
	if res.Treasury.IsPositive() {
		if err := tok.Transfer(collector, r.treasury, res.Treasury); err != nil {
			return nil, err
		}
	}
	if res.Burned.IsPositive() {
		if err := tok.Transfer(collector, r.burn, res.Burned); err != nil {
			return nil, err
		}
	}
	return &res, nil
}
