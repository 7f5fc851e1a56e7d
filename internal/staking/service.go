// Package staking provides the HTTP handlers for the staking vault: principal
// operations, reward distribution, claims, and vesting grants.
//
// All monetary values use shopspring/decimal — never float64 for money.
package staking

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/relikt/staking-engine/internal/auth"
	"github.com/relikt/staking-engine/internal/feesplit"
	"github.com/relikt/staking-engine/internal/metrics"
	"github.com/relikt/staking-engine/internal/model"
	"github.com/relikt/staking-engine/internal/pool"
	"github.com/relikt/staking-engine/internal/store"
	"github.com/relikt/staking-engine/internal/token"
	"github.com/relikt/staking-engine/internal/vesting"
)

// Service handles staking operations. The pool serializes mutations itself;
// the service orchestrates journaling and broadcasts around it.
type Service struct {
	pool    *pool.Pool
	vesting *vesting.Registry
	fees    *feesplit.Router
	tokens  map[string]token.Token // symbol -> reward token, for fee routing
	oracle  auth.Oracle
	store   store.Store
	wsHub   *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new staking service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(p *pool.Pool, v *vesting.Registry, fees *feesplit.Router, rewards []token.Token, oracle auth.Oracle, st store.Store, hub *WSHub) *Service {
	tokens := make(map[string]token.Token, len(rewards))
	for _, tok := range rewards {
		tokens[tok.Symbol()] = tok
	}
	return &Service{
		pool:    p,
		vesting: v,
		fees:    fees,
		tokens:  tokens,
		oracle:  oracle,
		store:   st,
		wsHub:   hub,
	}
}

// Routes mounts all staking endpoints on the router.
func (s *Service) Routes(r chi.Router) {
	r.Post("/stake", s.Stake)
	r.Post("/unstake", s.Unstake)
	r.Post("/transfer", s.Transfer)
	r.Get("/balances/{userID}", s.GetBalance)
	r.Get("/accounts", s.ListAccounts)

	r.Get("/assets", s.ListAssets)
	r.Get("/assets/{asset}", s.GetAssetStatus)
	r.Post("/assets/{asset}/deposit", s.Deposit)
	r.Post("/assets/{asset}/duration", s.SetDuration)
	r.Post("/assets/{asset}/activate", s.Activate)
	r.Get("/assets/{asset}/distributions", s.ListDistributions)

	r.Get("/earned/{userID}/{asset}", s.GetEarned)
	r.Post("/claim", s.Claim)
	r.Get("/claims/{userID}", s.ListClaims)

	r.Post("/vesting/grants", s.GrantVesting)
	r.Get("/vesting/{userID}", s.GetVesting)
	r.Post("/vesting/{userID}/withdraw", s.WithdrawVesting)
	r.Post("/vesting/{userID}/claim", s.ClaimVesting)

	r.Post("/fees", s.RouteFee)
}

// --- Request/Response types ---

// StakeRequest is the JSON body for POST /stake and /unstake.
type StakeRequest struct {
	UserID string          `json:"user_id"`
	Amount decimal.Decimal `json:"amount"`
}

// TransferRequest is the JSON body for POST /transfer.
type TransferRequest struct {
	From   string          `json:"from"`
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}

// FundsRequest is the JSON body for deposit and activate calls.
type FundsRequest struct {
	Caller string          `json:"caller"`
	Amount decimal.Decimal `json:"amount"`
}

// DurationRequest is the JSON body for POST /assets/{asset}/duration.
type DurationRequest struct {
	Caller          string `json:"caller"`
	DurationSeconds int64  `json:"duration_seconds"`
}

// ClaimRequest is the JSON body for POST /claim.
type ClaimRequest struct {
	UserID string `json:"user_id"`
	Asset  string `json:"asset"`
	Unwrap bool   `json:"unwrap"`
}

// GrantRequest is the JSON body for POST /vesting/grants.
type GrantRequest struct {
	Caller          string          `json:"caller"`
	UserID          string          `json:"user_id"`
	Amount          decimal.Decimal `json:"amount"`
	Start           time.Time       `json:"start"`
	CliffSeconds    int64           `json:"cliff_seconds"`
	DurationSeconds int64           `json:"duration_seconds"`
}

// VestingClaimRequest is the JSON body for POST /vesting/{userID}/claim.
// Assets is an explicit selection of reward symbols, empty meaning all.
type VestingClaimRequest struct {
	Assets []string `json:"assets"`
	Unwrap bool     `json:"unwrap"`
}

// FeeRequest is the JSON body for POST /fees.
type FeeRequest struct {
	Collector string          `json:"collector"`
	Asset     string          `json:"asset"`
	Amount    decimal.Decimal `json:"amount"`
}

// --- Principal handlers ---

// Stake handles POST /api/v1/stake.
func (s *Service) Stake(w http.ResponseWriter, r *http.Request) {
	var req StakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	if err := s.pool.Stake(req.UserID, req.Amount); err != nil {
		writeMappedError(w, err)
		return
	}
	metrics.StakesTotal.WithLabelValues("stake").Inc()
	s.snapshotAccount(r, req.UserID)

	slog.Info("staked", "user", req.UserID, "amount", req.Amount.String())
	writeJSON(w, http.StatusOK, model.Account{
		UserID:    req.UserID,
		Principal: s.pool.BalanceOf(req.UserID),
		UpdatedAt: time.Now().UTC(),
	})
}

// Unstake handles POST /api/v1/unstake.
func (s *Service) Unstake(w http.ResponseWriter, r *http.Request) {
	var req StakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	if err := s.pool.Unstake(req.UserID, req.Amount); err != nil {
		writeMappedError(w, err)
		return
	}
	metrics.StakesTotal.WithLabelValues("unstake").Inc()
	s.snapshotAccount(r, req.UserID)

	slog.Info("unstaked", "user", req.UserID, "amount", req.Amount.String())
	writeJSON(w, http.StatusOK, model.Account{
		UserID:    req.UserID,
		Principal: s.pool.BalanceOf(req.UserID),
		UpdatedAt: time.Now().UTC(),
	})
}

// Transfer handles POST /api/v1/transfer.
func (s *Service) Transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.From == "" || req.To == "" {
		writeError(w, "from and to are required", http.StatusBadRequest)
		return
	}

	if err := s.pool.Transfer(req.From, req.To, req.Amount); err != nil {
		writeMappedError(w, err)
		return
	}
	metrics.StakesTotal.WithLabelValues("transfer").Inc()
	s.snapshotAccount(r, req.From)
	s.snapshotAccount(r, req.To)

	slog.Info("principal transferred", "from", req.From, "to", req.To, "amount", req.Amount.String())
	writeJSON(w, http.StatusOK, map[string]string{
		"from_balance": s.pool.BalanceOf(req.From).String(),
		"to_balance":   s.pool.BalanceOf(req.To).String(),
	})
}

// GetBalance handles GET /api/v1/balances/{userID}.
func (s *Service) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	writeJSON(w, http.StatusOK, map[string]string{
		"user_id":   userID,
		"principal": s.pool.BalanceOf(userID).String(),
		"total":     s.pool.TotalStaked().String(),
	})
}

// ListAccounts handles GET /api/v1/accounts: all journaled account snapshots.
func (s *Service) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.store.ListAccounts(r.Context())
	if err != nil {
		writeError(w, "failed to list accounts", http.StatusInternalServerError)
		return
	}
	if accounts == nil {
		accounts = []model.Account{}
	}
	writeJSON(w, http.StatusOK, accounts)
}

// --- Distribution handlers ---

// ListAssets handles GET /api/v1/assets.
func (s *Service) ListAssets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"assets": s.pool.Assets()})
}

// GetAssetStatus handles GET /api/v1/assets/{asset}.
func (s *Service) GetAssetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.pool.AssetStatus(chi.URLParam(r, "asset"))
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// Deposit handles POST /api/v1/assets/{asset}/deposit. Open to any caller
// wishing to fund rewards; grants no entitlement until activated.
func (s *Service) Deposit(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")
	var req FundsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Caller == "" {
		writeError(w, "caller is required", http.StatusBadRequest)
		return
	}

	if err := s.pool.DepositFunds(req.Caller, asset, req.Amount); err != nil {
		writeMappedError(w, err)
		return
	}

	slog.Info("reward funds deposited", "asset", asset, "caller", req.Caller, "amount", req.Amount.String())
	status, _ := s.pool.AssetStatus(asset)
	writeJSON(w, http.StatusOK, status)
}

// SetDuration handles POST /api/v1/assets/{asset}/duration. Council only.
func (s *Service) SetDuration(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")
	var req DurationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	d := time.Duration(req.DurationSeconds) * time.Second
	if err := s.pool.SetDuration(req.Caller, asset, d); err != nil {
		writeMappedError(w, err)
		return
	}

	slog.Info("reward duration set", "asset", asset, "duration", d.String())
	status, _ := s.pool.AssetStatus(asset)
	writeJSON(w, http.StatusOK, status)
}

// Activate handles POST /api/v1/assets/{asset}/activate. Privileged:
// council, keeper, or node.
func (s *Service) Activate(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")
	var req FundsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	dist, err := s.pool.Activate(req.Caller, asset, req.Amount)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	dist.ID = uuid.New().String()
	metrics.DistributionsTotal.WithLabelValues(asset).Inc()

	if err := s.store.InsertDistribution(r.Context(), dist); err != nil {
		slog.Error("failed to journal distribution", "id", dist.ID, "err", err)
	}

	slog.Info("distribution activated",
		"id", dist.ID,
		"asset", asset,
		"amount", dist.Amount.String(),
		"rate", dist.RewardRate.String(),
		"period_end", dist.PeriodEnd,
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:       "distribution_activated",
			Asset:      asset,
			Amount:     dist.Amount.String(),
			RewardRate: dist.RewardRate.String(),
			PeriodEnd:  dist.PeriodEnd.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusCreated, dist)
}

// ListDistributions handles GET /api/v1/assets/{asset}/distributions.
func (s *Service) ListDistributions(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")
	dists, err := s.store.ListDistributions(r.Context(), asset)
	if err != nil {
		writeError(w, "failed to list distributions", http.StatusInternalServerError)
		return
	}
	if dists == nil {
		dists = []model.Distribution{}
	}
	writeJSON(w, http.StatusOK, dists)
}

// GetEarned handles GET /api/v1/earned/{userID}/{asset}.
func (s *Service) GetEarned(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	asset := chi.URLParam(r, "asset")

	earned, err := s.pool.Earned(userID, asset)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"user_id": userID,
		"asset":   asset,
		"earned":  earned.String(),
	})
}

// Claim handles POST /api/v1/claim.
func (s *Service) Claim(w http.ResponseWriter, r *http.Request) {
	var req ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	amount, err := s.pool.Claim(req.UserID, req.Asset, req.Unwrap)
	if err != nil {
		writeMappedError(w, err)
		return
	}

	claim := &model.Claim{
		ID:        uuid.New().String(),
		UserID:    req.UserID,
		Asset:     req.Asset,
		Amount:    amount,
		Unwrapped: req.Unwrap,
		CreatedAt: time.Now().UTC(),
	}
	if amount.IsPositive() {
		metrics.ClaimsTotal.WithLabelValues(req.Asset).Inc()
		if err := s.store.InsertClaim(r.Context(), claim); err != nil {
			slog.Error("failed to journal claim", "id", claim.ID, "err", err)
		}
		if s.wsHub != nil {
			s.wsHub.Broadcast(WSMessage{
				Type:   "reward_claimed",
				Asset:  req.Asset,
				UserID: req.UserID,
				Amount: amount.String(),
			})
		}
	}

	slog.Info("reward claimed", "user", req.UserID, "asset", req.Asset, "amount", amount.String(), "unwrap", req.Unwrap)
	writeJSON(w, http.StatusOK, claim)
}

// ListClaims handles GET /api/v1/claims/{userID}.
func (s *Service) ListClaims(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	claims, err := s.store.ListClaimsByUser(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to list claims", http.StatusInternalServerError)
		return
	}
	if claims == nil {
		claims = []model.Claim{}
	}
	writeJSON(w, http.StatusOK, claims)
}

// --- Vesting handlers ---

// GrantVesting handles POST /api/v1/vesting/grants. Council only.
func (s *Service) GrantVesting(w http.ResponseWriter, r *http.Request) {
	var req GrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !s.oracle.IsCouncil(req.Caller) {
		metrics.UnauthorizedTotal.Inc()
		writeError(w, "caller not authorized", http.StatusUnauthorized)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	schedule := vesting.Schedule{
		Start:    req.Start,
		Cliff:    time.Duration(req.CliffSeconds) * time.Second,
		Duration: time.Duration(req.DurationSeconds) * time.Second,
	}
	proxy, err := s.vesting.Grant(req.Caller, req.UserID, req.Amount, schedule)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	s.snapshotAccount(r, proxy.Account())

	slog.Info("vesting grant created", "user", req.UserID, "amount", req.Amount.String(), "cliff", schedule.Cliff, "duration", schedule.Duration)
	writeJSON(w, http.StatusCreated, map[string]any{
		"user_id":  req.UserID,
		"account":  proxy.Account(),
		"granted":  proxy.Granted().String(),
		"schedule": proxy.Schedule(),
	})
}

// GetVesting handles GET /api/v1/vesting/{userID}.
func (s *Service) GetVesting(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	proxy, err := s.vesting.Get(userID)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	withdrawable, _ := s.vesting.Withdrawable(userID)
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":      userID,
		"account":      proxy.Account(),
		"granted":      proxy.Granted().String(),
		"withdrawn":    proxy.Withdrawn().String(),
		"withdrawable": withdrawable.String(),
		"staked":       s.pool.BalanceOf(proxy.Account()).String(),
		"schedule":     proxy.Schedule(),
	})
}

// WithdrawVesting handles POST /api/v1/vesting/{userID}/withdraw.
func (s *Service) WithdrawVesting(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	var req StakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.vesting.Withdraw(userID, req.Amount); err != nil {
		writeMappedError(w, err)
		return
	}

	slog.Info("vesting withdrawal", "user", userID, "amount", req.Amount.String())
	writeJSON(w, http.StatusOK, map[string]string{
		"user_id": userID,
		"amount":  req.Amount.String(),
	})
}

// ClaimVesting handles POST /api/v1/vesting/{userID}/claim.
func (s *Service) ClaimVesting(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	var req VestingClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	assets := req.Assets
	if len(assets) == 0 {
		assets = s.pool.Assets()
	}

	paid, err := s.vesting.ClaimRewards(userID, assets, req.Unwrap)
	if err != nil {
		writeMappedError(w, err)
		return
	}

	for asset, amount := range paid {
		metrics.ClaimsTotal.WithLabelValues(asset).Inc()
		claim := &model.Claim{
			ID:        uuid.New().String(),
			UserID:    userID,
			Asset:     asset,
			Amount:    amount,
			Unwrapped: req.Unwrap,
			CreatedAt: time.Now().UTC(),
		}
		if err := s.store.InsertClaim(r.Context(), claim); err != nil {
			slog.Error("failed to journal vesting claim", "id", claim.ID, "err", err)
		}
	}

	out := make(map[string]string, len(paid))
	for asset, amount := range paid {
		out[asset] = amount.String()
	}
	slog.Info("vesting rewards claimed", "user", userID, "assets", len(paid))
	writeJSON(w, http.StatusOK, out)
}

// --- Fee routing ---

// RouteFee handles POST /api/v1/fees: the trade-settlement contact point.
// Splits a collected marketplace fee between staker dividends, treasury,
// and burn.
func (s *Service) RouteFee(w http.ResponseWriter, r *http.Request) {
	var req FeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	tok, ok := s.tokens[req.Asset]
	if !ok {
		writeError(w, "unknown fee asset: "+req.Asset, http.StatusNotFound)
		return
	}

	res, err := s.fees.Route(tok, req.Collector, req.Amount)
	if err != nil {
		writeMappedError(w, err)
		return
	}

	slog.Info("fee routed",
		"asset", req.Asset,
		"total", res.Total.String(),
		"stakers", res.Stakers.String(),
		"treasury", res.Treasury.String(),
		"burned", res.Burned.String(),
	)
	writeJSON(w, http.StatusOK, res)
}

// --- Helpers ---

// snapshotAccount journals the user's current principal. Best effort; the
// pool remains authoritative.
func (s *Service) snapshotAccount(r *http.Request, userID string) {
	acct := &model.Account{
		UserID:    userID,
		Principal: s.pool.BalanceOf(userID),
		UpdatedAt: time.Now().UTC(),
	}
	metrics.TotalPrincipal.Set(s.pool.TotalStaked().InexactFloat64())
	if err := s.store.UpsertAccount(r.Context(), acct); err != nil {
		slog.Error("failed to snapshot account", "user", userID, "err", err)
	}
}

// writeMappedError maps engine errors onto HTTP status codes.
func writeMappedError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pool.ErrUnauthorized):
		metrics.UnauthorizedTotal.Inc()
		writeError(w, err.Error(), http.StatusUnauthorized)
	case errors.Is(err, pool.ErrInvalidAsset), errors.Is(err, vesting.ErrNoSchedule):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, pool.ErrInsufficientPrincipal),
		errors.Is(err, pool.ErrInsufficientCustody),
		errors.Is(err, pool.ErrPeriodActive),
		errors.Is(err, vesting.ErrNotVested),
		errors.Is(err, vesting.ErrScheduleExists):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, pool.ErrPeriodNotConfigured):
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		writeError(w, err.Error(), http.StatusBadRequest)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
