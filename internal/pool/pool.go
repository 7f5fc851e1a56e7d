// Package pool implements the multi-asset staking rewards engine: a
// reward-per-unit accumulator generalized to several independent reward
// assets, streamed over configurable periods.
//
// All state lives in explicit keyed stores owned by the Pool; every mutation
// funnels through settlement first. A single mutex serializes mutating calls,
// so each call observes and produces fully settled state. All monetary values
// use shopspring/decimal — never float64 for money.
package pool

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/relikt/staking-engine/internal/auth"
	"github.com/relikt/staking-engine/internal/model"
	"github.com/relikt/staking-engine/internal/token"
)

var (
	// ErrUnauthorized is returned when a privileged operation is invoked
	// by a caller the oracle does not recognize.
	ErrUnauthorized = errors.New("pool: caller not authorized")

	// ErrInvalidAsset is returned for operations referencing an asset with
	// no configured reward state.
	ErrInvalidAsset = errors.New("pool: unknown reward asset")

	// ErrPeriodNotConfigured is returned when activation is attempted with
	// a zero reward duration.
	ErrPeriodNotConfigured = errors.New("pool: reward duration not configured")

	// ErrPeriodActive is returned when the duration is changed while the
	// current reward period has not yet ended.
	ErrPeriodActive = errors.New("pool: reward period still active")

	// ErrInsufficientCustody is returned when activation exceeds what the
	// pool actually custodies net of already-committed rewards.
	ErrInsufficientCustody = errors.New("pool: activation exceeds custodied funds")

	// ErrInsufficientPrincipal is returned when an unstake or transfer
	// exceeds the caller's settled balance.
	ErrInsufficientPrincipal = errors.New("pool: insufficient staked principal")

	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("pool: amount must be positive")
)

// Truncation scales for the two divisions in the engine. Remainders below
// these scales stay in custody; the rate-derivation remainder is returned to
// the undistributed bucket at activation.
const (
	rateScale  int32 = 18
	accumScale int32 = 18
)

// assetState is the per-asset reward record. Created lazily on first
// duration configuration or deposit, never removed.
type assetState struct {
	tok           token.Token
	duration      time.Duration
	periodEnd     time.Time
	lastUpdate    time.Time
	rewardRate    decimal.Decimal // units per second, truncated to rateScale
	accumPerUnit  decimal.Decimal // reward per principal unit, monotone
	undistributed decimal.Decimal
	owed          decimal.Decimal // credited to stakers via the accumulator, not yet claimed
}

// userSnapshot is the per-user, per-asset reward snapshot. Survives the
// user's principal reaching zero so settled rewards are never lost.
type userSnapshot struct {
	paidAccum decimal.Decimal
	accrued   decimal.Decimal
}

// Pool is the staking vault: the principal balance ledger plus the reward
// distribution controller over all registered reward assets.
type Pool struct {
	mu sync.Mutex

	principal token.Token
	custody   string // account ID the pool uses in every token ledger
	oracle    auth.Oracle
	now       func() time.Time

	totalPrincipal decimal.Decimal
	balances       map[string]decimal.Decimal      // user -> principal
	assets         map[string]*assetState          // symbol -> reward state
	snapshots      map[string]map[string]*userSnapshot // user -> symbol -> snapshot
}

// Option configures a Pool.
type Option func(*Pool)

// WithNow overrides the pool's clock. Used by tests to drive time.
func WithNow(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// New creates a pool custodying the given principal token under the custody
// account ID, with privileged operations gated by the oracle.
func New(principal token.Token, custody string, oracle auth.Oracle, opts ...Option) *Pool {
	p := &Pool{
		principal: principal,
		custody:   custody,
		oracle:    oracle,
		now:       func() time.Time { return time.Now().UTC() },
		balances:  make(map[string]decimal.Decimal),
		assets:    make(map[string]*assetState),
		snapshots: make(map[string]map[string]*userSnapshot),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RegisterRewardAsset makes a reward token available for deposits and
// distributions. Registering the same symbol twice is an error.
func (p *Pool) RegisterRewardAsset(tok token.Token) error {
	if err := model.ValidateSymbol(tok.Symbol()); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	symbol := tok.Symbol()
	if _, ok := p.assets[symbol]; ok {
		return fmt.Errorf("pool: reward asset %s already registered", symbol)
	}
	p.assets[symbol] = &assetState{tok: tok}
	return nil
}

// Assets returns the registered reward-asset symbols.
func (p *Pool) Assets() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	symbols := make([]string, 0, len(p.assets))
	for s := range p.assets {
		symbols = append(symbols, s)
	}
	return symbols
}

// --- Settlement ---

// clamped returns min(now, periodEnd): the rate stops applying at period end.
func (a *assetState) clamped(now time.Time) time.Time {
	if now.After(a.periodEnd) {
		return a.periodEnd
	}
	return now
}

// settleAsset recomputes the global accumulator for one asset up to
// min(now, periodEnd). With zero total principal there is no one to credit
// and the update is skipped; the window's implied emission stays in custody
// and is not returned to the undistributed bucket.
func (p *Pool) settleAsset(a *assetState) {
	upto := a.clamped(p.now())
	if p.totalPrincipal.IsPositive() {
		elapsed := decimal.NewFromInt(upto.Unix() - a.lastUpdate.Unix())
		if elapsed.IsPositive() {
			perUnit, _ := a.rewardRate.Mul(elapsed).QuoRem(p.totalPrincipal, accumScale)
			a.accumPerUnit = a.accumPerUnit.Add(perUnit)
			a.owed = a.owed.Add(perUnit.Mul(p.totalPrincipal))
		}
	}
	if upto.After(a.lastUpdate) {
		a.lastUpdate = upto
	}
}

// settleUser folds accumulator growth since the user's last settlement into
// their accrued bucket, evaluated at the user's current principal.
func (p *Pool) settleUser(user, symbol string, a *assetState) {
	s := p.snapshot(user, symbol)
	delta := a.accumPerUnit.Sub(s.paidAccum)
	if delta.IsPositive() {
		s.accrued = s.accrued.Add(p.balances[user].Mul(delta))
	}
	s.paidAccum = a.accumPerUnit
}

// settleAll settles every registered asset globally and for the given user.
// Must run before any mutation of the user's principal.
func (p *Pool) settleAll(user string) {
	for symbol, a := range p.assets {
		p.settleAsset(a)
		p.settleUser(user, symbol, a)
	}
}

func (p *Pool) snapshot(user, symbol string) *userSnapshot {
	byAsset, ok := p.snapshots[user]
	if !ok {
		byAsset = make(map[string]*userSnapshot)
		p.snapshots[user] = byAsset
	}
	s, ok := byAsset[symbol]
	if !ok {
		s = &userSnapshot{}
		byAsset[symbol] = s
	}
	return s
}

// --- Ledger operations ---

// Stake settles the user for all assets, pulls amount of the principal token
// into custody, and credits the user's staked balance.
func (p *Pool) Stake(user string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.settleAll(user)
	if err := p.principal.TransferFrom(user, p.custody, amount); err != nil {
		return fmt.Errorf("pool: stake transfer: %w", err)
	}
	p.balances[user] = p.balances[user].Add(amount)
	p.totalPrincipal = p.totalPrincipal.Add(amount)
	return nil
}

// Unstake settles the user, debits their staked balance, and returns amount
// of the principal token. Accrued rewards remain claimable.
func (p *Pool) Unstake(user string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.settleAll(user)
	have := p.balances[user]
	if have.LessThan(amount) {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientPrincipal, have, amount)
	}
	p.balances[user] = have.Sub(amount)
	p.totalPrincipal = p.totalPrincipal.Sub(amount)

	if err := p.principal.Transfer(p.custody, user, amount); err != nil {
		// Custody always covers totalPrincipal; restore on the off chance.
		p.balances[user] = have
		p.totalPrincipal = p.totalPrincipal.Add(amount)
		return fmt.Errorf("pool: unstake transfer: %w", err)
	}
	return nil
}

// Transfer moves staked principal between users. Both parties are settled
// with their pre-transfer balances first, so the transfer reassigns only
// future accrual rights: the receiver's snapshot is stamped at the current
// accumulator and earns nothing for the past.
func (p *Pool) Transfer(from, to string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.settleAll(from)
	p.settleAll(to)

	have := p.balances[from]
	if have.LessThan(amount) {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientPrincipal, have, amount)
	}
	p.balances[from] = have.Sub(amount)
	p.balances[to] = p.balances[to].Add(amount)
	return nil
}

// BalanceOf returns the user's staked principal.
func (p *Pool) BalanceOf(user string) decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balances[user]
}

// TotalStaked returns the sum of all staked principal.
func (p *Pool) TotalStaked() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalPrincipal
}

// --- Distribution controller ---

// DepositFunds pulls amount of the reward asset from the caller into custody
// and credits the undistributed bucket. Open to any caller; grants no
// entitlement until activated, so no settlement is needed.
func (p *Pool) DepositFunds(caller, symbol string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.assets[symbol]
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidAsset, symbol)
	}
	if err := a.tok.TransferFrom(caller, p.custody, amount); err != nil {
		return fmt.Errorf("pool: deposit transfer: %w", err)
	}
	a.undistributed = a.undistributed.Add(amount)
	return nil
}

// SetDuration configures the reward period length for an asset. Council
// only; rejected while the current period is still running so reward pacing
// cannot be changed mid-stream.
func (p *Pool) SetDuration(caller, symbol string, d time.Duration) error {
	// Rates stream in whole seconds; shorter periods would truncate to a
	// zero-length stream.
	if d < time.Second {
		return fmt.Errorf("%w: duration %s", ErrInvalidAmount, d)
	}
	if !p.oracle.IsCouncil(caller) {
		return ErrUnauthorized
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.assets[symbol]
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidAsset, symbol)
	}
	if p.now().Before(a.periodEnd) {
		return fmt.Errorf("%w: period for %s ends %s", ErrPeriodActive, symbol, a.periodEnd.Format(time.RFC3339))
	}
	a.duration = d
	return nil
}

// Activate converts amount of custodied reward funds into a reward rate
// streamed over the asset's configured duration, drawing from the
// undistributed bucket first. If a period is already running, its
// not-yet-streamed value is folded into the new rate so nothing is lost. The
// truncation remainder of the rate division returns to the undistributed
// bucket.
func (p *Pool) Activate(caller, symbol string, amount decimal.Decimal) (*model.Distribution, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if !p.oracle.IsCouncil(caller) && !p.oracle.IsKeeperOrNode(caller) {
		return nil, ErrUnauthorized
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.assets[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAsset, symbol)
	}
	if a.duration <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrPeriodNotConfigured, symbol)
	}

	// Fold accumulated rewards up to now before the rate changes.
	p.settleAsset(a)

	now := p.now()
	remaining := decimal.Zero
	if now.Before(a.periodEnd) {
		secs := decimal.NewFromInt(a.periodEnd.Unix() - now.Unix())
		remaining = a.rewardRate.Mul(secs)
	}

	// Custody must cover the new amount on top of everything already spoken
	// for: unclaimed entitlements plus the live stream's unstreamed value.
	// Emission stranded during zero-principal windows counts as free custody
	// here, so it can be re-activated.
	free := a.tok.BalanceOf(p.custody).Sub(a.owed).Sub(remaining)
	if amount.GreaterThan(free) {
		return nil, fmt.Errorf("%w: %s custody has %s activatable, requested %s",
			ErrInsufficientCustody, symbol, free, amount)
	}

	durSecs := decimal.NewFromInt(int64(a.duration / time.Second))
	if !durSecs.IsPositive() {
		return nil, fmt.Errorf("%w: %s", ErrPeriodNotConfigured, symbol)
	}
	stream := amount.Add(remaining)
	rate, _ := stream.QuoRem(durSecs, rateScale)
	remainder := stream.Sub(rate.Mul(durSecs))

	a.rewardRate = rate
	// Draw from the undistributed bucket first; any excess is stranded or
	// otherwise free custody.
	if amount.GreaterThan(a.undistributed) {
		a.undistributed = decimal.Zero
	} else {
		a.undistributed = a.undistributed.Sub(amount)
	}
	a.undistributed = a.undistributed.Add(remainder)
	a.periodEnd = now.Add(a.duration)
	a.lastUpdate = now

	return &model.Distribution{
		Asset:      symbol,
		Amount:     amount,
		RewardRate: rate,
		PeriodEnd:  a.periodEnd,
		CreatedAt:  now,
	}, nil
}

// Earned returns the user's current entitlement for an asset without
// mutating state: accrued plus principal times accumulator growth since the
// user's last settlement.
func (p *Pool) Earned(user, symbol string) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.assets[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrInvalidAsset, symbol)
	}

	accum := a.accumPerUnit
	if p.totalPrincipal.IsPositive() {
		elapsed := decimal.NewFromInt(a.clamped(p.now()).Unix() - a.lastUpdate.Unix())
		if elapsed.IsPositive() {
			perUnit, _ := a.rewardRate.Mul(elapsed).QuoRem(p.totalPrincipal, accumScale)
			accum = accum.Add(perUnit)
		}
	}

	earned := decimal.Zero
	paid := decimal.Zero
	if byAsset, ok := p.snapshots[user]; ok {
		if s, ok := byAsset[symbol]; ok {
			earned = s.accrued
			paid = s.paidAccum
		}
	}
	if delta := accum.Sub(paid); delta.IsPositive() {
		earned = earned.Add(p.balances[user].Mul(delta))
	}
	return earned, nil
}

// Claim settles the user, zeroes their accrued bucket, and only then issues
// the external transfer, so the internal ledger is consistent before any
// asset leaves custody. With unwrap set and a wrapped reward asset, the
// payout is converted to its native form after delivery.
func (p *Pool) Claim(user, symbol string, unwrap bool) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.assets[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrInvalidAsset, symbol)
	}

	p.settleAsset(a)
	p.settleUser(user, symbol, a)

	s := p.snapshot(user, symbol)
	amount := s.accrued
	if !amount.IsPositive() {
		return decimal.Zero, nil
	}

	s.accrued = decimal.Zero
	a.owed = a.owed.Sub(amount)
	if a.owed.IsNegative() {
		a.owed = decimal.Zero
	}

	if err := a.tok.Transfer(p.custody, user, amount); err != nil {
		s.accrued = amount
		a.owed = a.owed.Add(amount)
		return decimal.Zero, fmt.Errorf("pool: claim transfer: %w", err)
	}
	if unwrap {
		if w, ok := a.tok.(token.Wrapped); ok {
			if err := w.Withdraw(user, amount); err != nil {
				// Pull the wrapped payout back so the whole call reverts.
				if rbErr := a.tok.Transfer(user, p.custody, amount); rbErr == nil {
					s.accrued = amount
					a.owed = a.owed.Add(amount)
				}
				return decimal.Zero, fmt.Errorf("pool: claim unwrap: %w", err)
			}
		}
	}
	return amount, nil
}

// AssetStatus returns the externally visible reward state for an asset.
func (p *Pool) AssetStatus(symbol string) (*model.AssetStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.assets[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAsset, symbol)
	}
	return &model.AssetStatus{
		Asset:         symbol,
		Duration:      a.duration,
		PeriodEnd:     a.periodEnd,
		LastUpdate:    a.lastUpdate,
		RewardRate:    a.rewardRate,
		Accumulator:   a.accumPerUnit,
		Undistributed: a.undistributed,
	}, nil
}
