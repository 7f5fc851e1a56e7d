package staking_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/relikt/staking-engine/internal/auth"
	"github.com/relikt/staking-engine/internal/feesplit"
	"github.com/relikt/staking-engine/internal/model"
	"github.com/relikt/staking-engine/internal/pool"
	"github.com/relikt/staking-engine/internal/staking"
	"github.com/relikt/staking-engine/internal/store"
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

const week = 7 * 24 * time.Hour

type testEnv struct {
	pool      *pool.Pool
	principal *token.Ledger
	usdx      *token.Ledger
	store     *store.MemoryStore
	clock     *fakeClock
	router    chi.Router
}

// newTestEnv wires a full service against in-memory collaborators: a fake
// clock, a memory journal, and plain token ledgers. "council" and "keeper"
// are the privileged callers.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0).UTC()}
	oracle := auth.NewStaticOracle([]string{"council"}, []string{"keeper"})

	principal := token.NewLedger("RLK")
	usdx := token.NewLedger("USDX")

	p := pool.New(principal, "custody", oracle, pool.WithNow(clock.now))
	if err := p.RegisterRewardAsset(usdx); err != nil {
		t.Fatalf("register USDX: %v", err)
	}

	reg := vesting.NewRegistry(p, principal, []token.Token{usdx}, clock.now)
	fees, err := feesplit.NewRouter(feesplit.DefaultConfig(), p, "treasury", "burn")
	if err != nil {
		t.Fatalf("new fee router: %v", err)
	}

	ms := store.NewMemoryStore()
	svc := staking.NewService(p, reg, fees, []token.Token{usdx}, oracle, ms, nil)

	r := chi.NewRouter()
	r.Route("/api/v1", svc.Routes)

	return &testEnv{pool: p, principal: principal, usdx: usdx, store: ms, clock: clock, router: r}
}

func (e *testEnv) post(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest("POST", path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// stake mints principal to the user and stakes it via the API.
func (e *testEnv) stake(t *testing.T, user string, amount decimal.Decimal) {
	t.Helper()
	if err := e.principal.Mint(user, amount); err != nil {
		t.Fatalf("mint: %v", err)
	}
	w := e.post(t, "/api/v1/stake", staking.StakeRequest{UserID: user, Amount: amount})
	if w.Code != http.StatusOK {
		t.Fatalf("stake: %d %s", w.Code, w.Body.String())
	}
}

// fund deposits, configures, and activates a USDX distribution via the API.
func (e *testEnv) fund(t *testing.T, amount decimal.Decimal, durationSeconds int64) {
	t.Helper()
	e.usdx.Mint("funder", amount)
	if w := e.post(t, "/api/v1/assets/USDX/deposit", staking.FundsRequest{Caller: "funder", Amount: amount}); w.Code != http.StatusOK {
		t.Fatalf("deposit: %d %s", w.Code, w.Body.String())
	}
	if w := e.post(t, "/api/v1/assets/USDX/duration", staking.DurationRequest{Caller: "council", DurationSeconds: durationSeconds}); w.Code != http.StatusOK {
		t.Fatalf("duration: %d %s", w.Code, w.Body.String())
	}
	if w := e.post(t, "/api/v1/assets/USDX/activate", staking.FundsRequest{Caller: "council", Amount: amount}); w.Code != http.StatusCreated {
		t.Fatalf("activate: %d %s", w.Code, w.Body.String())
	}
}

// --- Principal endpoints ---

func TestStake_Valid(t *testing.T) {
	e := newTestEnv(t)
	e.stake(t, "user1", d(100))

	if got := e.pool.BalanceOf("user1"); !got.Equal(d(100)) {
		t.Errorf("balance = %s, want 100", got)
	}

	// The journal holds the account snapshot.
	acct, err := e.store.GetAccount(context.Background(), "user1")
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if !acct.Principal.Equal(d(100)) {
		t.Errorf("journaled principal = %s, want 100", acct.Principal)
	}
}

func TestStake_MissingUserID(t *testing.T) {
	e := newTestEnv(t)
	w := e.post(t, "/api/v1/stake", staking.StakeRequest{Amount: d(100)})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestStake_NoFunds(t *testing.T) {
	e := newTestEnv(t)
	w := e.post(t, "/api/v1/stake", staking.StakeRequest{UserID: "user1", Amount: d(100)})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unfunded stake, got %d: %s", w.Code, w.Body.String())
	}
}

func TestUnstake_TooMuch(t *testing.T) {
	e := newTestEnv(t)
	e.stake(t, "user1", d(100))

	w := e.post(t, "/api/v1/unstake", staking.StakeRequest{UserID: "user1", Amount: d(101)})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestTransfer_Valid(t *testing.T) {
	e := newTestEnv(t)
	e.stake(t, "user1", d(100))

	w := e.post(t, "/api/v1/transfer", staking.TransferRequest{From: "user1", To: "user2", Amount: d(40)})
	if w.Code != http.StatusOK {
		t.Fatalf("transfer: %d %s", w.Code, w.Body.String())
	}

	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["from_balance"] != "60" {
		t.Errorf("from_balance = %s, want 60", resp["from_balance"])
	}
	if resp["to_balance"] != "40" {
		t.Errorf("to_balance = %s, want 40", resp["to_balance"])
	}
}

func TestGetBalance(t *testing.T) {
	e := newTestEnv(t)
	e.stake(t, "user1", d(100))

	w := e.get(t, "/api/v1/balances/user1")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["principal"] != "100" {
		t.Errorf("principal = %s, want 100", resp["principal"])
	}
}

func TestListAccounts(t *testing.T) {
	e := newTestEnv(t)
	e.stake(t, "user1", d(100))
	e.stake(t, "user2", d(50))

	w := e.get(t, "/api/v1/accounts")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var accounts []model.Account
	json.Unmarshal(w.Body.Bytes(), &accounts)
	if len(accounts) != 2 {
		t.Fatalf("expected 2 account snapshots, got %d", len(accounts))
	}
}

// --- Distribution endpoints ---

func TestActivate_Flow(t *testing.T) {
	e := newTestEnv(t)
	e.stake(t, "user1", d(100))
	e.fund(t, d(1000), 604800)

	// The distribution is journaled.
	w := e.get(t, "/api/v1/assets/USDX/distributions")
	if w.Code != http.StatusOK {
		t.Fatalf("list distributions: %d", w.Code)
	}
	var dists []model.Distribution
	json.Unmarshal(w.Body.Bytes(), &dists)
	if len(dists) != 1 {
		t.Fatalf("expected 1 distribution, got %d", len(dists))
	}
	if dists[0].ID == "" {
		t.Error("expected non-empty distribution id")
	}
	if !dists[0].Amount.Equal(d(1000)) {
		t.Errorf("amount = %s, want 1000", dists[0].Amount)
	}
	if !dists[0].RewardRate.IsPositive() {
		t.Errorf("rate should be positive, got %s", dists[0].RewardRate)
	}
}

func TestActivate_Unauthorized(t *testing.T) {
	e := newTestEnv(t)
	w := e.post(t, "/api/v1/assets/USDX/activate", staking.FundsRequest{Caller: "mallory", Amount: d(100)})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d: %s", w.Code, w.Body.String())
	}
}

func TestActivate_NoDurationConfigured(t *testing.T) {
	e := newTestEnv(t)
	e.usdx.Mint("funder", d(100))
	e.post(t, "/api/v1/assets/USDX/deposit", staking.FundsRequest{Caller: "funder", Amount: d(100)})

	w := e.post(t, "/api/v1/assets/USDX/activate", staking.FundsRequest{Caller: "council", Amount: d(100)})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSetDuration_MidPeriod(t *testing.T) {
	e := newTestEnv(t)
	e.stake(t, "user1", d(100))
	e.fund(t, d(1000), 604800)

	e.clock.advance(24 * time.Hour)
	w := e.post(t, "/api/v1/assets/USDX/duration", staking.DurationRequest{Caller: "council", DurationSeconds: 1209600})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestGetAssetStatus_Unknown(t *testing.T) {
	e := newTestEnv(t)
	w := e.get(t, "/api/v1/assets/DOGE")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestListAssets(t *testing.T) {
	e := newTestEnv(t)
	w := e.get(t, "/api/v1/assets")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp map[string][]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp["assets"]) != 1 || resp["assets"][0] != "USDX" {
		t.Errorf("assets = %v, want [USDX]", resp["assets"])
	}
}

// --- Claim endpoints ---

func TestClaim_Flow(t *testing.T) {
	e := newTestEnv(t)
	e.stake(t, "user1", d(100))
	e.fund(t, d(1000), 604800)
	e.clock.advance(week)

	w := e.post(t, "/api/v1/claim", staking.ClaimRequest{UserID: "user1", Asset: "USDX"})
	if w.Code != http.StatusOK {
		t.Fatalf("claim: %d %s", w.Code, w.Body.String())
	}
	var claim model.Claim
	json.Unmarshal(w.Body.Bytes(), &claim)
	if claim.ID == "" {
		t.Error("expected non-empty claim id")
	}
	if !claim.Amount.IsPositive() {
		t.Errorf("claim amount should be positive, got %s", claim.Amount)
	}

	// Paid out and journaled.
	if got := e.usdx.BalanceOf("user1"); !got.Equal(claim.Amount) {
		t.Errorf("wallet = %s, want %s", got, claim.Amount)
	}
	claims, err := e.store.ListClaimsByUser(context.Background(), "user1")
	if err != nil {
		t.Fatalf("list claims: %v", err)
	}
	if len(claims) != 1 {
		t.Fatalf("expected 1 journaled claim, got %d", len(claims))
	}

	// Nothing left to claim.
	w = e.get(t, "/api/v1/earned/user1/USDX")
	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["earned"] != "0" {
		t.Errorf("earned after claim = %s, want 0", resp["earned"])
	}
}

func TestClaim_ZeroNotJournaled(t *testing.T) {
	e := newTestEnv(t)
	e.stake(t, "user1", d(100))

	w := e.post(t, "/api/v1/claim", staking.ClaimRequest{UserID: "user1", Asset: "USDX"})
	if w.Code != http.StatusOK {
		t.Fatalf("claim: %d %s", w.Code, w.Body.String())
	}
	claims, _ := e.store.ListClaimsByUser(context.Background(), "user1")
	if len(claims) != 0 {
		t.Errorf("zero claim should not be journaled, got %d entries", len(claims))
	}
}

func TestGetEarned_UnknownAsset(t *testing.T) {
	e := newTestEnv(t)
	w := e.get(t, "/api/v1/earned/user1/DOGE")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

// --- Vesting endpoints ---

func TestGrantVesting_Flow(t *testing.T) {
	e := newTestEnv(t)
	e.principal.Mint("council", d(1000))

	w := e.post(t, "/api/v1/vesting/grants", staking.GrantRequest{
		Caller:          "council",
		UserID:          "user1",
		Amount:          d(1000),
		Start:           e.clock.t,
		CliffSeconds:    86400 * 30,
		DurationSeconds: 86400 * 100,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("grant: %d %s", w.Code, w.Body.String())
	}

	w = e.get(t, "/api/v1/vesting/user1")
	if w.Code != http.StatusOK {
		t.Fatalf("get vesting: %d", w.Code)
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["granted"] != "1000" {
		t.Errorf("granted = %v, want 1000", resp["granted"])
	}
	if resp["staked"] != "1000" {
		t.Errorf("staked = %v, want 1000", resp["staked"])
	}
	if resp["withdrawable"] != "0" {
		t.Errorf("withdrawable before cliff = %v, want 0", resp["withdrawable"])
	}
}

func TestGrantVesting_NonCouncil(t *testing.T) {
	e := newTestEnv(t)
	w := e.post(t, "/api/v1/vesting/grants", staking.GrantRequest{
		Caller: "mallory", UserID: "user1", Amount: d(100),
		Start: e.clock.t, DurationSeconds: 86400,
	})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestGetVesting_Unknown(t *testing.T) {
	e := newTestEnv(t)
	w := e.get(t, "/api/v1/vesting/nobody")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestWithdrawVesting_BeforeCliff(t *testing.T) {
	e := newTestEnv(t)
	e.principal.Mint("council", d(1000))
	e.post(t, "/api/v1/vesting/grants", staking.GrantRequest{
		Caller: "council", UserID: "user1", Amount: d(1000),
		Start: e.clock.t, CliffSeconds: 86400 * 30, DurationSeconds: 86400 * 100,
	})

	w := e.post(t, "/api/v1/vesting/user1/withdraw", staking.StakeRequest{UserID: "user1", Amount: d(1)})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 before cliff, got %d: %s", w.Code, w.Body.String())
	}
}

func TestClaimVesting_DefaultsToAllAssets(t *testing.T) {
	e := newTestEnv(t)
	e.principal.Mint("council", d(100))
	e.post(t, "/api/v1/vesting/grants", staking.GrantRequest{
		Caller: "council", UserID: "user1", Amount: d(100),
		Start: e.clock.t, DurationSeconds: 86400 * 100,
	})
	e.fund(t, d(700), 604800)
	e.clock.advance(week)

	w := e.post(t, "/api/v1/vesting/user1/claim", staking.VestingClaimRequest{})
	if w.Code != http.StatusOK {
		t.Fatalf("vesting claim: %d %s", w.Code, w.Body.String())
	}
	var paid map[string]string
	json.Unmarshal(w.Body.Bytes(), &paid)
	if _, ok := paid["USDX"]; !ok {
		t.Fatalf("expected a USDX payout, got %v", paid)
	}
	if got := e.usdx.BalanceOf("user1"); !got.IsPositive() {
		t.Error("beneficiary should hold the forwarded reward")
	}
}

// --- Fee routing ---

func TestRouteFee_Flow(t *testing.T) {
	e := newTestEnv(t)
	e.usdx.Mint("collector", d(1000))

	w := e.post(t, "/api/v1/fees", staking.FeeRequest{Collector: "collector", Asset: "USDX", Amount: d(1000)})
	if w.Code != http.StatusOK {
		t.Fatalf("route fee: %d %s", w.Code, w.Body.String())
	}
	var res feesplit.Result
	json.Unmarshal(w.Body.Bytes(), &res)
	if !res.Stakers.Equal(d(700)) {
		t.Errorf("stakers = %s, want 700", res.Stakers)
	}

	// The staker share is now fundable.
	status, err := e.pool.AssetStatus("USDX")
	if err != nil {
		t.Fatalf("asset status: %v", err)
	}
	if !status.Undistributed.Equal(d(700)) {
		t.Errorf("undistributed = %s, want 700", status.Undistributed)
	}
}

func TestRouteFee_UnknownAsset(t *testing.T) {
	e := newTestEnv(t)
	w := e.post(t, "/api/v1/fees", staking.FeeRequest{Collector: "collector", Asset: "DOGE", Amount: d(100)})
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}
