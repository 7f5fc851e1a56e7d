// Package model defines the core domain types shared across the staking engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

// symbolRegex matches reward-asset symbols: 2-12 uppercase alphanumerics.
// Examples: USDX, WNAT, RLK.
var symbolRegex = regexp.MustCompile(`^[A-Z][A-Z0-9]{1,11}$`)

// ErrInvalidSymbol is returned for malformed asset symbols.
var ErrInvalidSymbol = errors.New("model: invalid asset symbol")

// ValidateSymbol checks that an asset symbol is well formed.
func ValidateSymbol(symbol string) error {
	if !symbolRegex.MatchString(symbol) {
		return fmt.Errorf("%w: %q (expected 2-12 uppercase alphanumerics)", ErrInvalidSymbol, symbol)
	}
	return nil
}

// Account is a snapshot of one staker's principal balance.
type Account struct {
	UserID    string          `json:"user_id" db:"user_id"`
	Principal decimal.Decimal `json:"principal" db:"principal"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// AssetStatus is the externally visible reward state for one asset.
type AssetStatus struct {
	Asset         string          `json:"asset"`
	Duration      time.Duration   `json:"duration"`
	PeriodEnd     time.Time       `json:"period_end"`
	LastUpdate    time.Time       `json:"last_update"`
	RewardRate    decimal.Decimal `json:"reward_rate"`   // asset units per second
	Accumulator   decimal.Decimal `json:"accumulator"`   // reward per principal unit since genesis
	Undistributed decimal.Decimal `json:"undistributed"` // deposited but not yet streaming
}

// Distribution is an immutable record of one activation: deposited funds
// converted into a time-streamed reward rate. Off-chain observers reconstruct
// the reward timeline from these.
type Distribution struct {
	ID         string          `json:"id" db:"id"`
	Asset      string          `json:"asset" db:"asset"`
	Amount     decimal.Decimal `json:"amount" db:"amount"`
	RewardRate decimal.Decimal `json:"reward_rate" db:"reward_rate"`
	PeriodEnd  time.Time       `json:"period_end" db:"period_end"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

// Claim is an immutable record of a reward payout to a user.
type Claim struct {
	ID        string          `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	Asset     string          `json:"asset" db:"asset"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	Unwrapped bool            `json:"unwrapped" db:"unwrapped"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}
