// Package api serves the pool ledger over HTTP with JSON bodies. Amounts are
// decimal token strings ("1.5"); addresses are 0x-prefixed hex.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"poolscope/internal/model"
	"poolscope/internal/pool"
)

// Pool is the ledger surface the API needs. *pool.Ledger satisfies it, as
// does *service.Service which also persists every mutation.
type Pool interface {
	GetQuote(assetIn model.Asset, amountIn *uint256.Int, assetOut model.Asset) (*uint256.Int, error)
	GetRequiredCounterpart(amountA *uint256.Int) (*uint256.Int, error)
	Swap(ctx context.Context, trader common.Address, assetIn model.Asset, amountIn *uint256.Int, assetOut model.Asset) (*uint256.Int, error)
	AddLiquidity(ctx context.Context, provider common.Address, amountA, amountB *uint256.Int) (pool.Deposit, error)
	RemoveLiquidity(ctx context.Context, provider common.Address, shares *uint256.Int) (*uint256.Int, *uint256.Int, error)
	Lock(ctx context.Context, addr common.Address, durationSeconds uint64) (pool.LockStatus, error)
	BalanceOf(addr common.Address) *uint256.Int
	TotalSupply() *uint256.Int
	RewardRate(durationSeconds uint64) *uint256.Int
	Tiers() pool.TierTable
	CalculateRewards(addr common.Address, durationSeconds uint64) (*uint256.Int, error)
	LockStatus(addr common.Address) pool.LockStatus
	LockedRewards(addr common.Address) (*uint256.Int, error)
	PoolInfo() pool.PoolInfo
	UserShare(addr common.Address) *uint256.Int
}

// Wallets exposes external token balances. It is optional.
type Wallets interface {
	Wallet(addr common.Address) (amountA, amountB *uint256.Int)
	Fund(ctx context.Context, addr common.Address, amountA, amountB *uint256.Int) error
}

type Config struct {
	Pool    Pool
	Wallets Wallets
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
	// RewardWindow is the trailing window used when a holder query names none.
	RewardWindow time.Duration
	Logger       *zap.Logger
}

// Server holds the HTTP handlers.
type Server struct {
	pool         Pool
	wallets      Wallets
	gatherer     prometheus.Gatherer
	rewardWindow uint64
	logger       *zap.Logger
	router       http.Handler
}

func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	window := cfg.RewardWindow
	if window <= 0 {
		window = 365 * 24 * time.Hour
	}
	s := &Server{
		pool:         cfg.Pool,
		wallets:      cfg.Wallets,
		gatherer:     cfg.Gatherer,
		rewardWindow: uint64(window / time.Second),
		logger:       logger,
	}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the configured router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/pool", s.getPool)
	r.Get("/supply", s.getSupply)
	r.Get("/quote", s.getQuote)
	r.Get("/counterpart", s.getCounterpart)
	r.Get("/rate", s.getRate)
	r.Get("/tiers", s.getTiers)
	r.Get("/holders/{address}", s.getHolder)

	r.Post("/swap", s.postSwap)
	r.Route("/liquidity", func(lr chi.Router) {
		lr.Post("/add", s.postAddLiquidity)
		lr.Post("/remove", s.postRemoveLiquidity)
	})
	r.Post("/lock", s.postLock)
	if s.wallets != nil {
		r.Post("/fund", s.postFund)
	}

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", chimw.GetReqID(r.Context())),
		)
	})
}
