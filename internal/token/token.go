// Package token provides the fungible-token interfaces the staking pool
// custodies: the principal token and the independent reward assets, one of
// which may be a wrapped form of the native marketplace currency.
//
// All balances use shopspring/decimal — never float64 for money.
package token

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientBalance is returned when a transfer or withdrawal
	// exceeds the holder's balance.
	ErrInsufficientBalance = errors.New("token: insufficient balance")

	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("token: amount must be positive")
)

// Token is the fungible-token surface the pool consumes.
type Token interface {
	// Symbol returns the token's asset symbol.
	Symbol() string

	// Transfer moves amount from one account to another.
	Transfer(from, to string, amount decimal.Decimal) error

	// TransferFrom pulls amount from a holder into a recipient. The pool
	// uses this to take custody of staked principal and deposited rewards.
	TransferFrom(holder, to string, amount decimal.Decimal) error

	// BalanceOf returns an account's balance.
	BalanceOf(account string) decimal.Decimal
}

// Wrapped is a token convertible 1:1 to and from the native currency.
type Wrapped interface {
	Token

	// Deposit converts amount of the account's native balance into
	// wrapped units.
	Deposit(account string, amount decimal.Decimal) error

	// Withdraw converts amount of the account's wrapped balance back into
	// native units.
	Withdraw(account string, amount decimal.Decimal) error

	// Native returns the underlying native-currency token.
	Native() Token
}

// Ledger is an in-memory Token implementation keyed by account ID.
type Ledger struct {
	symbol   string
	mu       sync.RWMutex
	balances map[string]decimal.Decimal
}

// NewLedger creates an empty ledger for the given symbol.
func NewLedger(symbol string) *Ledger {
	return &Ledger{
		symbol:   symbol,
		balances: make(map[string]decimal.Decimal),
	}
}

// Symbol returns the ledger's asset symbol.
func (l *Ledger) Symbol() string { return l.symbol }

// Mint credits amount to an account. Used by genesis setup and tests;
// minting policy itself is owned by an external collaborator.
func (l *Ledger) Mint(account string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[account] = l.balances[account].Add(amount)
	return nil
}

func (l *Ledger) Transfer(from, to string, amount decimal.Decimal) error {
	return l.move(from, to, amount)
}

func (l *Ledger) TransferFrom(holder, to string, amount decimal.Decimal) error {
	return l.move(holder, to, amount)
}

func (l *Ledger) move(from, to string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	have := l.balances[from]
	if have.LessThan(amount) {
		return fmt.Errorf("%w: %s has %s %s, need %s", ErrInsufficientBalance, from, have, l.symbol, amount)
	}
	l.balances[from] = have.Sub(amount)
	l.balances[to] = l.balances[to].Add(amount)
	return nil
}

func (l *Ledger) BalanceOf(account string) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[account]
}

// WrappedLedger is a Ledger paired with a native-currency ledger, convertible
// 1:1 in both directions.
type WrappedLedger struct {
	*Ledger
	native *Ledger
}

// NewWrappedLedger wraps the given native ledger under a new symbol.
func NewWrappedLedger(symbol string, native *Ledger) *WrappedLedger {
	return &WrappedLedger{
		Ledger: NewLedger(symbol),
		native: native,
	}
}

// Deposit converts native units into wrapped units for the account.
func (w *WrappedLedger) Deposit(account string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	// Native debit first: it is the operation that can fail.
	if err := w.native.Transfer(account, reserveAccount(w.symbol), amount); err != nil {
		return err
	}
	return w.Mint(account, amount)
}

// Withdraw converts wrapped units back into native units for the account.
func (w *WrappedLedger) Withdraw(account string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if err := w.Transfer(account, reserveAccount(w.symbol), amount); err != nil {
		return err
	}
	if err := w.native.Transfer(reserveAccount(w.symbol), account, amount); err != nil {
		// Return the wrapped units so a failed unwrap leaves no half state.
		w.Transfer(reserveAccount(w.symbol), account, amount)
		return err
	}
	return nil
}

// Native returns the paired native-currency ledger.
func (w *WrappedLedger) Native() Token { return w.native }

// reserveAccount holds the native backing for all outstanding wrapped units.
func reserveAccount(symbol string) string {
	return "reserve:" + symbol
}
