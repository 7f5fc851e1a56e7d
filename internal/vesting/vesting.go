// Package vesting provides per-user proxy accounts that hold staked
// principal under a cliff/linear vesting schedule. Each proxy is itself a
// staker in the pool and participates in settlement like any other account;
// its claim surface forwards to the beneficiary exactly what the pool paid
// the proxy's own account, never ambient custody balances.
package vesting

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/relikt/staking-engine/internal/pool"
	"github.com/relikt/staking-engine/internal/token"
)

var (
	// ErrNotVested is returned when a withdrawal exceeds the vested,
	// not-yet-withdrawn amount.
	ErrNotVested = errors.New("vesting: amount exceeds vested balance")

	// ErrNoSchedule is returned when no vesting schedule exists for the user.
	ErrNoSchedule = errors.New("vesting: no schedule for user")

	// ErrScheduleExists is returned when granting to a user who already
	// has a proxy.
	ErrScheduleExists = errors.New("vesting: schedule already exists")
)

// Schedule is the lock policy applied to a grant: nothing before the cliff,
// then linear release until start+duration.
type Schedule struct {
	Start    time.Time     `json:"start"`
	Cliff    time.Duration `json:"cliff"`
	Duration time.Duration `json:"duration"`
}

// VestedAt returns how much of granted is released at time t.
func (s Schedule) VestedAt(granted decimal.Decimal, t time.Time) decimal.Decimal {
	if t.Before(s.Start.Add(s.Cliff)) {
		return decimal.Zero
	}
	end := s.Start.Add(s.Duration)
	if !t.Before(end) {
		return granted
	}
	elapsed := decimal.NewFromInt(t.Unix() - s.Start.Unix())
	total := decimal.NewFromInt(int64(s.Duration / time.Second))
	vested, _ := granted.Mul(elapsed).QuoRem(total, 0)
	return vested
}

// Proxy stakes a vesting grant in the pool on behalf of one beneficiary.
type Proxy struct {
	user      string
	account   string // the proxy's own pool/token account ID
	schedule  Schedule
	granted   decimal.Decimal
	withdrawn decimal.Decimal
}

// Account returns the proxy's pool account ID.
func (x *Proxy) Account() string { return x.account }

// Granted returns the total principal granted to the beneficiary.
func (x *Proxy) Granted() decimal.Decimal { return x.granted }

// Withdrawn returns the principal already released to the beneficiary.
func (x *Proxy) Withdrawn() decimal.Decimal { return x.withdrawn }

// Schedule returns the proxy's vesting schedule.
func (x *Proxy) Schedule() Schedule { return x.schedule }

// Registry creates and tracks one Proxy per vesting user. Grants are a
// council operation; the governance collaborator owns schedule policy.
type Registry struct {
	mu        sync.Mutex
	pool      *pool.Pool
	principal token.Token
	rewards   map[string]token.Token
	now       func() time.Time
	proxies   map[string]*Proxy
}

// NewRegistry creates a registry staking grants into the given pool. The
// reward tokens are needed to forward claimed proceeds to beneficiaries.
func NewRegistry(p *pool.Pool, principal token.Token, rewards []token.Token, now func() time.Time) *Registry {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	r := &Registry{
		pool:      p,
		principal: principal,
		rewards:   make(map[string]token.Token, len(rewards)),
		now:       now,
		proxies:   make(map[string]*Proxy),
	}
	for _, tok := range rewards {
		r.rewards[tok.Symbol()] = tok
	}
	return r
}

// Grant creates a proxy for the user, pulls the granted principal from the
// funder, and stakes it under the proxy's account. One proxy per user.
func (r *Registry) Grant(funder, user string, amount decimal.Decimal, schedule Schedule) (*Proxy, error) {
	if !amount.IsPositive() {
		return nil, pool.ErrInvalidAmount
	}
	if schedule.Duration <= 0 || schedule.Cliff < 0 || schedule.Cliff > schedule.Duration {
		return nil, fmt.Errorf("vesting: invalid schedule cliff=%s duration=%s", schedule.Cliff, schedule.Duration)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.proxies[user]; ok {
		return nil, fmt.Errorf("%w: %s", ErrScheduleExists, user)
	}

	x := &Proxy{
		user:     user,
		account:  "vesting:" + user,
		schedule: schedule,
		granted:  amount,
	}
	if err := r.principal.TransferFrom(funder, x.account, amount); err != nil {
		return nil, fmt.Errorf("vesting: fund grant: %w", err)
	}
	if err := r.pool.Stake(x.account, amount); err != nil {
		return nil, fmt.Errorf("vesting: stake grant: %w", err)
	}
	r.proxies[user] = x
	return x, nil
}

// Get returns the proxy for a user.
func (r *Registry) Get(user string) (*Proxy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	x, ok := r.proxies[user]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSchedule, user)
	}
	return x, nil
}

// Withdrawable returns how much principal the user could withdraw now.
func (r *Registry) Withdrawable(user string) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	x, ok := r.proxies[user]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNoSchedule, user)
	}
	return x.schedule.VestedAt(x.granted, r.now()).Sub(x.withdrawn), nil
}

// Withdraw unstakes amount from the proxy's pool account and releases it to
// the beneficiary, bounded by the vested, not-yet-withdrawn balance.
func (r *Registry) Withdraw(user string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return pool.ErrInvalidAmount
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	x, ok := r.proxies[user]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSchedule, user)
	}
	available := x.schedule.VestedAt(x.granted, r.now()).Sub(x.withdrawn)
	if amount.GreaterThan(available) {
		return fmt.Errorf("%w: vested %s, requested %s", ErrNotVested, available, amount)
	}
	if err := r.pool.Unstake(x.account, amount); err != nil {
		return err
	}
	if err := r.principal.Transfer(x.account, user, amount); err != nil {
		return fmt.Errorf("vesting: release principal: %w", err)
	}
	x.withdrawn = x.withdrawn.Add(amount)
	return nil
}

// ClaimRewards claims the selected reward assets for the proxy's own pool
// account and forwards each payout to the beneficiary. Only what the pool
// actually paid this proxy is forwarded; the proxy never draws on other
// balances its account might coincidentally hold.
func (r *Registry) ClaimRewards(user string, assets []string, unwrap bool) (map[string]decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	x, ok := r.proxies[user]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSchedule, user)
	}

	paid := make(map[string]decimal.Decimal, len(assets))
	for _, symbol := range assets {
		amount, err := r.pool.Claim(x.account, symbol, unwrap)
		if err != nil {
			return paid, err
		}
		if !amount.IsPositive() {
			continue
		}
		fwd, ok := r.rewards[symbol]
		if !ok {
			return paid, fmt.Errorf("%w: %s", pool.ErrInvalidAsset, symbol)
		}
		if unwrap {
			if w, isWrapped := fwd.(token.Wrapped); isWrapped {
				// The pool already unwrapped into the proxy's native
				// balance; forward native units instead.
				if err := w.Native().Transfer(x.account, user, amount); err != nil {
					return paid, fmt.Errorf("vesting: forward native reward: %w", err)
				}
				paid[symbol] = amount
				continue
			}
		}
		if err := fwd.Transfer(x.account, user, amount); err != nil {
			return paid, fmt.Errorf("vesting: forward reward: %w", err)
		}
		paid[symbol] = amount
	}
	return paid, nil
}
