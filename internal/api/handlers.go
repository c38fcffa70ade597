package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"poolscope/internal/fixedpoint"
	"poolscope/internal/model"
	"poolscope/internal/pool"
)

var errBadRequest = errors.New("bad request")

type poolResponse struct {
	Initialized bool   `json:"initialized"`
	ReserveA    string `json:"reserve_a"`
	ReserveB    string `json:"reserve_b"`
	TotalShares string `json:"total_shares"`
	// K is reserve_a*reserve_b in raw units.
	K       string `json:"k"`
	FeeBps  uint32 `json:"fee_bps"`
	Holders int    `json:"holders"`
}

type lockResponse struct {
	Active      bool      `json:"active"`
	TierSeconds uint64    `json:"tier_seconds"`
	Rate        string    `json:"rate"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

type holderResponse struct {
	Address       string        `json:"address"`
	Shares        string        `json:"shares"`
	Share         string        `json:"share"`
	WindowSeconds uint64        `json:"window_seconds"`
	Rewards       string        `json:"rewards"`
	Lock          *lockResponse `json:"lock,omitempty"`
	LockedRewards string        `json:"locked_rewards"`
	WalletA       string        `json:"wallet_a,omitempty"`
	WalletB       string        `json:"wallet_b,omitempty"`
}

type tierResponse struct {
	DurationSeconds uint64 `json:"duration_seconds"`
	Rate            string `json:"rate"`
}

type swapRequest struct {
	Trader   string `json:"trader"`
	AssetIn  string `json:"asset_in"`
	AssetOut string `json:"asset_out"`
	AmountIn string `json:"amount_in"`
}

type addLiquidityRequest struct {
	Provider string `json:"provider"`
	AmountA  string `json:"amount_a"`
	AmountB  string `json:"amount_b"`
}

type removeLiquidityRequest struct {
	Provider string `json:"provider"`
	Shares   string `json:"shares"`
}

type lockRequest struct {
	Address string `json:"address"`
	Days    uint64 `json:"days"`
	Seconds uint64 `json:"seconds"`
}

type fundRequest struct {
	Address string `json:"address"`
	AmountA string `json:"amount_a"`
	AmountB string `json:"amount_b"`
}

func (s *Server) getPool(w http.ResponseWriter, r *http.Request) {
	info := s.pool.PoolInfo()
	writeJSON(w, http.StatusOK, poolResponse{
		Initialized: info.Initialized,
		ReserveA:    fixedpoint.Format(info.ReserveA),
		ReserveB:    fixedpoint.Format(info.ReserveB),
		TotalShares: fixedpoint.Format(info.TotalShares),
		K:           info.K.String(),
		FeeBps:      info.FeeBps,
		Holders:     info.Holders,
	})
}

func (s *Server) getSupply(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"total_shares": fixedpoint.Format(s.pool.TotalSupply())})
}

func (s *Server) getQuote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	assetIn, err := model.ParseAsset(q.Get("asset_in"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	assetOut := assetIn.Other()
	if raw := q.Get("asset_out"); raw != "" {
		if assetOut, err = model.ParseAsset(raw); err != nil {
			s.writeError(w, err)
			return
		}
	}
	amountIn, err := parseAmount("amount_in", q.Get("amount_in"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	out, err := s.pool.GetQuote(assetIn, amountIn, assetOut)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"asset_in":   string(assetIn),
		"asset_out":  string(assetOut),
		"amount_in":  fixedpoint.Format(amountIn),
		"amount_out": fixedpoint.Format(out),
	})
}

func (s *Server) getCounterpart(w http.ResponseWriter, r *http.Request) {
	amountA, err := parseAmount("amount_a", r.URL.Query().Get("amount_a"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	amountB, err := s.pool.GetRequiredCounterpart(amountA)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"amount_a": fixedpoint.Format(amountA),
		"amount_b": fixedpoint.Format(amountB),
	})
}

func (s *Server) getRate(w http.ResponseWriter, r *http.Request) {
	seconds, err := durationParam(r.URL.Query(), 0)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if seconds == 0 {
		s.writeError(w, fmt.Errorf("%w: days or seconds is required", errBadRequest))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"duration_seconds": seconds,
		"rate":             fixedpoint.Format(s.pool.RewardRate(seconds)),
	})
}

func (s *Server) getTiers(w http.ResponseWriter, r *http.Request) {
	tiers := s.pool.Tiers().Tiers()
	out := make([]tierResponse, 0, len(tiers))
	for _, tier := range tiers {
		out = append(out, tierResponse{DurationSeconds: tier.DurationSeconds, Rate: fixedpoint.Format(tier.Rate)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getHolder(w http.ResponseWriter, r *http.Request) {
	addr, err := model.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	window, err := durationParam(r.URL.Query(), s.rewardWindow)
	if err != nil {
		s.writeError(w, err)
		return
	}

	rewards, err := s.pool.CalculateRewards(addr, window)
	if err != nil {
		s.writeError(w, err)
		return
	}
	locked, err := s.pool.LockedRewards(addr)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := holderResponse{
		Address:       addr.Hex(),
		Shares:        fixedpoint.Format(s.pool.BalanceOf(addr)),
		Share:         fixedpoint.Format(s.pool.UserShare(addr)),
		WindowSeconds: window,
		Rewards:       fixedpoint.Format(rewards),
		LockedRewards: fixedpoint.Format(locked),
	}
	if status := s.pool.LockStatus(addr); status.Exists {
		resp.Lock = toLockResponse(status)
	}
	if s.wallets != nil {
		a, b := s.wallets.Wallet(addr)
		resp.WalletA = fixedpoint.Format(a)
		resp.WalletB = fixedpoint.Format(b)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) postSwap(w http.ResponseWriter, r *http.Request) {
	var req swapRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	trader, err := model.ParseAddress(req.Trader)
	if err != nil {
		s.writeError(w, err)
		return
	}
	assetIn, err := model.ParseAsset(req.AssetIn)
	if err != nil {
		s.writeError(w, err)
		return
	}
	assetOut, err := model.ParseAsset(req.AssetOut)
	if err != nil {
		s.writeError(w, err)
		return
	}
	amountIn, err := parseAmount("amount_in", req.AmountIn)
	if err != nil {
		s.writeError(w, err)
		return
	}

	out, err := s.pool.Swap(r.Context(), trader, assetIn, amountIn, assetOut)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"amount_in":  fixedpoint.Format(amountIn),
		"amount_out": fixedpoint.Format(out),
	})
}

func (s *Server) postAddLiquidity(w http.ResponseWriter, r *http.Request) {
	var req addLiquidityRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	provider, err := model.ParseAddress(req.Provider)
	if err != nil {
		s.writeError(w, err)
		return
	}
	amountA, err := parseAmount("amount_a", req.AmountA)
	if err != nil {
		s.writeError(w, err)
		return
	}
	amountB := new(uint256.Int)
	if req.AmountB != "" {
		if amountB, err = parseAmount("amount_b", req.AmountB); err != nil {
			s.writeError(w, err)
			return
		}
	}

	dep, err := s.pool.AddLiquidity(r.Context(), provider, amountA, amountB)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"amount_a": fixedpoint.Format(dep.AmountA),
		"amount_b": fixedpoint.Format(dep.AmountB),
		"shares":   fixedpoint.Format(dep.Shares),
	})
}

func (s *Server) postRemoveLiquidity(w http.ResponseWriter, r *http.Request) {
	var req removeLiquidityRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	provider, err := model.ParseAddress(req.Provider)
	if err != nil {
		s.writeError(w, err)
		return
	}
	shares, err := parseAmount("shares", req.Shares)
	if err != nil {
		s.writeError(w, err)
		return
	}

	a, b, err := s.pool.RemoveLiquidity(r.Context(), provider, shares)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"shares":   fixedpoint.Format(shares),
		"amount_a": fixedpoint.Format(a),
		"amount_b": fixedpoint.Format(b),
	})
}

func (s *Server) postLock(w http.ResponseWriter, r *http.Request) {
	var req lockRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	addr, err := model.ParseAddress(req.Address)
	if err != nil {
		s.writeError(w, err)
		return
	}
	seconds := req.Seconds
	if req.Days > 0 {
		if req.Days > (1<<63-1)/pool.SecondsPerDay {
			s.writeError(w, fmt.Errorf("%w: days out of range", errBadRequest))
			return
		}
		seconds = req.Days * pool.SecondsPerDay
	}

	status, err := s.pool.Lock(r.Context(), addr, seconds)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLockResponse(status))
}

func (s *Server) postFund(w http.ResponseWriter, r *http.Request) {
	var req fundRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	addr, err := model.ParseAddress(req.Address)
	if err != nil {
		s.writeError(w, err)
		return
	}
	amountA, err := parseOptionalAmount("amount_a", req.AmountA)
	if err != nil {
		s.writeError(w, err)
		return
	}
	amountB, err := parseOptionalAmount("amount_b", req.AmountB)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.wallets.Fund(r.Context(), addr, amountA, amountB); err != nil {
		s.writeError(w, err)
		return
	}
	a, b := s.wallets.Wallet(addr)
	writeJSON(w, http.StatusOK, map[string]string{
		"address":  addr.Hex(),
		"wallet_a": fixedpoint.Format(a),
		"wallet_b": fixedpoint.Format(b),
	})
}

func toLockResponse(status pool.LockStatus) *lockResponse {
	return &lockResponse{
		Active:      status.Active,
		TierSeconds: status.TierSeconds,
		Rate:        fixedpoint.Format(status.Rate),
		Start:       status.Start,
		End:         status.End,
	}
}

func parseAmount(field, value string) (*uint256.Int, error) {
	if strings.TrimSpace(value) == "" {
		return nil, fmt.Errorf("%w: %s is required", errBadRequest, field)
	}
	amount, err := fixedpoint.Parse(value)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return amount, nil
}

func parseOptionalAmount(field, value string) (*uint256.Int, error) {
	if strings.TrimSpace(value) == "" {
		return new(uint256.Int), nil
	}
	return parseAmount(field, value)
}

// durationParam reads "days" or "seconds" from the query, days winning.
func durationParam(q url.Values, fallback uint64) (uint64, error) {
	if raw := q.Get("days"); raw != "" {
		days, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("%w: days %q", errBadRequest, raw)
		}
		return days * pool.SecondsPerDay, nil
	}
	if raw := q.Get("seconds"); raw != "" {
		seconds, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: seconds %q", errBadRequest, raw)
		}
		return seconds, nil
	}
	return fallback, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid payload: %v", errBadRequest, err)
	}
	return nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, model.ErrInvalidAddress),
		errors.Is(err, model.ErrInvalidAsset),
		errors.Is(err, fixedpoint.ErrInvalidDecimal),
		errors.Is(err, pool.ErrSameAsset),
		errors.Is(err, pool.ErrZeroAmount):
		return http.StatusBadRequest
	case errors.Is(err, pool.ErrPoolUninitialized),
		errors.Is(err, pool.ErrInsufficientShares),
		errors.Is(err, pool.ErrPositionLocked),
		errors.Is(err, pool.ErrAlreadyLocked),
		errors.Is(err, pool.ErrNoPosition):
		return http.StatusConflict
	case errors.Is(err, pool.ErrInsufficientLiquidity),
		errors.Is(err, pool.ErrTransferFailed),
		errors.Is(err, pool.ErrOverflow):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pool.ErrPersistFailed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	writeJSONError(w, status, err)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	message := strings.TrimSpace(err.Error())
	if message == "" {
		message = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
