package vesting_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/relikt/staking-engine/internal/auth"
	"github.com/relikt/staking-engine/internal/pool"
	"github.com/relikt/staking-engine/internal/token"
	"github.com/relikt/staking-engine/internal/vesting"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time           { return c.t }
func (c *fakeClock) advance(by time.Duration) { c.t = c.t.Add(by) }

const day = 24 * time.Hour

type testEnv struct {
	registry  *vesting.Registry
	pool      *pool.Pool
	principal *token.Ledger
	usdx      *token.Ledger
	clock     *fakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0).UTC()}
	oracle := auth.NewStaticOracle([]string{"council"}, nil)

	principal := token.NewLedger("RLK")
	usdx := token.NewLedger("USDX")

	p := pool.New(principal, "custody", oracle, pool.WithNow(clock.now))
	if err := p.RegisterRewardAsset(usdx); err != nil {
		t.Fatalf("register USDX: %v", err)
	}
	reg := vesting.NewRegistry(p, principal, []token.Token{usdx}, clock.now)
	return &testEnv{registry: reg, pool: p, principal: principal, usdx: usdx, clock: clock}
}

// grant mints principal to the treasury and grants it to the user under a
// schedule starting now.
func (e *testEnv) grant(t *testing.T, user string, amount decimal.Decimal, cliff, duration time.Duration) *vesting.Proxy {
	t.Helper()
	if err := e.principal.Mint("treasury", amount); err != nil {
		t.Fatalf("mint: %v", err)
	}
	x, err := e.registry.Grant("treasury", user, amount, vesting.Schedule{
		Start:    e.clock.t,
		Cliff:    cliff,
		Duration: duration,
	})
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	return x
}

func TestVestedAt_Curve(t *testing.T) {
	start := time.Unix(1_700_000_000, 0).UTC()
	s := vesting.Schedule{Start: start, Cliff: 30 * day, Duration: 100 * day}
	granted := d(1000)

	cases := []struct {
		name string
		at   time.Time
		want decimal.Decimal
	}{
		{"before start", start.Add(-time.Hour), decimal.Zero},
		{"before cliff", start.Add(29 * day), decimal.Zero},
		{"at cliff", start.Add(30 * day), d(300)},
		{"halfway", start.Add(50 * day), d(500)},
		{"at end", start.Add(100 * day), granted},
		{"after end", start.Add(200 * day), granted},
	}
	for _, tc := range cases {
		if got := s.VestedAt(granted, tc.at); !got.Equal(tc.want) {
			t.Errorf("%s: vested = %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestGrant_StakesUnderProxy(t *testing.T) {
	e := newTestEnv(t)
	x := e.grant(t, "alice", d(1000), 0, 100*day)

	if got := e.pool.BalanceOf(x.Account()); !got.Equal(d(1000)) {
		t.Errorf("proxy stake = %s, want 1000", got)
	}
	// The beneficiary's own account holds nothing.
	if got := e.pool.BalanceOf("alice"); !got.IsZero() {
		t.Errorf("beneficiary stake = %s, want 0", got)
	}
	if got := e.principal.BalanceOf("treasury"); !got.IsZero() {
		t.Errorf("treasury kept %s after funding the grant", got)
	}
}

func TestGrant_OnePerUser(t *testing.T) {
	e := newTestEnv(t)
	e.grant(t, "alice", d(100), 0, 10*day)

	e.principal.Mint("treasury", d(100))
	_, err := e.registry.Grant("treasury", "alice", d(100), vesting.Schedule{
		Start: e.clock.t, Duration: 10 * day,
	})
	if !errors.Is(err, vesting.ErrScheduleExists) {
		t.Fatalf("expected ErrScheduleExists, got %v", err)
	}
}

func TestGrant_RejectsBadSchedule(t *testing.T) {
	e := newTestEnv(t)
	e.principal.Mint("treasury", d(100))

	bad := []vesting.Schedule{
		{Start: e.clock.t, Duration: 0},
		{Start: e.clock.t, Cliff: -day, Duration: 10 * day},
		{Start: e.clock.t, Cliff: 20 * day, Duration: 10 * day},
	}
	for i, s := range bad {
		if _, err := e.registry.Grant("treasury", "alice", d(100), s); err == nil {
			t.Errorf("case %d: expected schedule validation error", i)
		}
	}
}

func TestWithdraw_RespectsCliff(t *testing.T) {
	e := newTestEnv(t)
	e.grant(t, "alice", d(1000), 30*day, 100*day)

	e.clock.advance(29 * day)
	err := e.registry.Withdraw("alice", d(1))
	if !errors.Is(err, vesting.ErrNotVested) {
		t.Fatalf("expected ErrNotVested before cliff, got %v", err)
	}

	e.clock.advance(day)
	if err := e.registry.Withdraw("alice", d(300)); err != nil {
		t.Fatalf("withdraw at cliff: %v", err)
	}
	if got := e.principal.BalanceOf("alice"); !got.Equal(d(300)) {
		t.Errorf("wallet = %s, want 300", got)
	}
}

func TestWithdraw_BoundedByVested(t *testing.T) {
	e := newTestEnv(t)
	e.grant(t, "alice", d(1000), 0, 100*day)

	e.clock.advance(50 * day)
	if w, err := e.registry.Withdrawable("alice"); err != nil || !w.Equal(d(500)) {
		t.Fatalf("withdrawable = %s, %v; want 500", w, err)
	}
	if err := e.registry.Withdraw("alice", d(400)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	// 100 vested remain after the partial withdrawal.
	err := e.registry.Withdraw("alice", d(101))
	if !errors.Is(err, vesting.ErrNotVested) {
		t.Fatalf("expected ErrNotVested, got %v", err)
	}
	if err := e.registry.Withdraw("alice", d(100)); err != nil {
		t.Fatalf("withdraw remainder: %v", err)
	}
	if got := e.principal.BalanceOf("alice"); !got.Equal(d(500)) {
		t.Errorf("wallet = %s, want 500", got)
	}
}

func TestWithdraw_NoSchedule(t *testing.T) {
	e := newTestEnv(t)
	err := e.registry.Withdraw("nobody", d(1))
	if !errors.Is(err, vesting.ErrNoSchedule) {
		t.Fatalf("expected ErrNoSchedule, got %v", err)
	}
}

// A vesting proxy earns staking rewards like any other staker, and claims
// are forwarded to the beneficiary even while the principal is still locked.
func TestClaimRewards_ForwardsToBeneficiary(t *testing.T) {
	e := newTestEnv(t)
	e.grant(t, "alice", d(100), 30*day, 100*day)

	// Fund a 7-day distribution; the proxy is the only staker.
	e.usdx.Mint("funder", d(700))
	if err := e.pool.DepositFunds("funder", "USDX", d(700)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := e.pool.SetDuration("council", "USDX", 7*day); err != nil {
		t.Fatalf("set duration: %v", err)
	}
	if _, err := e.pool.Activate("council", "USDX", d(700)); err != nil {
		t.Fatalf("activate: %v", err)
	}

	e.clock.advance(7 * day)
	paid, err := e.registry.ClaimRewards("alice", []string{"USDX"}, false)
	if err != nil {
		t.Fatalf("claim rewards: %v", err)
	}
	amount := paid["USDX"]
	if !amount.IsPositive() {
		t.Fatal("expected a positive reward payout")
	}
	if got := e.usdx.BalanceOf("alice"); !got.Equal(amount) {
		t.Errorf("beneficiary wallet = %s, want %s", got, amount)
	}
	// Nothing lingers on the proxy account.
	x, _ := e.registry.Get("alice")
	if got := e.usdx.BalanceOf(x.Account()); !got.IsZero() {
		t.Errorf("proxy kept %s USDX after forwarding", got)
	}

	// Principal is still locked: the cliff has not passed.
	if err := e.registry.Withdraw("alice", d(1)); !errors.Is(err, vesting.ErrNotVested) {
		t.Fatalf("expected ErrNotVested, got %v", err)
	}
}

func TestClaimRewards_NoSchedule(t *testing.T) {
	e := newTestEnv(t)
	_, err := e.registry.ClaimRewards("nobody", []string{"USDX"}, false)
	if !errors.Is(err, vesting.ErrNoSchedule) {
		t.Fatalf("expected ErrNoSchedule, got %v", err)
	}
}
