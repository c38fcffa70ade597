// Package service binds a pool ledger to its wallet book and durable store.
// A mutation becomes visible only after its resulting state has been saved,
// so a restarted process resumes exactly where the last one stopped.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"poolscope/internal/fixedpoint"
	"poolscope/internal/model"
	"poolscope/internal/pool"
	"poolscope/internal/storage"
	"poolscope/internal/wallet"
)

// Service is a persisted ledger. Queries are served by the embedded Ledger.
// The mutation methods shadow the Ledger's so wallet funding and pool
// mutations are saved in one total order. A failed save aborts the mutation
// and returns an error wrapping pool.ErrPersistFailed.
type Service struct {
	*pool.Ledger

	mu     sync.Mutex
	book   *wallet.Book
	store  storage.Store
	logger *zap.Logger
}

// Open builds a ledger over a fresh wallet book and resumes from store when
// it holds a saved state. A nil store keeps everything in memory.
func Open(ctx context.Context, cfg pool.Config, store storage.Store, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{book: wallet.NewBook(), store: store, logger: logger}
	if store != nil {
		cfg.Persist = s.saveSnapshot
	}
	ledger, err := pool.New(cfg, s.book, logger)
	if err != nil {
		return nil, fmt.Errorf("create ledger: %w", err)
	}
	s.Ledger = ledger

	if store == nil {
		return s, nil
	}
	st, ok, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	if !ok {
		logger.Info("no saved state, starting empty")
		return s, nil
	}
	if err := ledger.Restore(st.Ledger); err != nil {
		return nil, fmt.Errorf("restore ledger: %w", err)
	}
	info := ledger.PoolInfo()
	if err := s.book.Restore(st.Wallets, info.ReserveA, info.ReserveB); err != nil {
		return nil, fmt.Errorf("restore wallets: %w", err)
	}
	logger.Info("resume from saved state",
		zap.String("updated_at", st.UpdatedAt),
		zap.Int("wallets", len(st.Wallets)),
	)
	return s, nil
}

// Wallet returns addr's external balances of both assets.
func (s *Service) Wallet(addr common.Address) (amountA, amountB *uint256.Int) {
	return s.book.BalanceOf(addr, model.AssetA), s.book.BalanceOf(addr, model.AssetB)
}

// Fund credits addr's wallet with test tokens. The wallets are left as they
// were when the credit cannot be saved.
func (s *Service) Fund(ctx context.Context, addr common.Address, amountA, amountB *uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.book.Records()
	rollback := func() {
		if err := s.book.Restore(previous, s.book.Custody(model.AssetA), s.book.Custody(model.AssetB)); err != nil {
			s.logger.Error("wallet rollback failed", zap.Error(err))
		}
	}

	if err := s.book.Credit(addr, model.AssetA, amountA); err != nil {
		return err
	}
	if err := s.book.Credit(addr, model.AssetB, amountB); err != nil {
		rollback()
		return err
	}
	if s.store != nil {
		if err := s.saveSnapshot(ctx, s.Snapshot()); err != nil {
			rollback()
			return fmt.Errorf("%w: %w", pool.ErrPersistFailed, err)
		}
	}
	s.logger.Info("wallet funded",
		zap.String("address", addr.Hex()),
		zap.String("amount_a", fixedpoint.Format(amountA)),
		zap.String("amount_b", fixedpoint.Format(amountB)),
	)
	return nil
}

func (s *Service) Swap(ctx context.Context, trader common.Address, assetIn model.Asset, amountIn *uint256.Int, assetOut model.Asset) (*uint256.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Ledger.Swap(ctx, trader, assetIn, amountIn, assetOut)
}

func (s *Service) AddLiquidity(ctx context.Context, provider common.Address, amountA, amountB *uint256.Int) (pool.Deposit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Ledger.AddLiquidity(ctx, provider, amountA, amountB)
}

func (s *Service) RemoveLiquidity(ctx context.Context, provider common.Address, shares *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Ledger.RemoveLiquidity(ctx, provider, shares)
}

func (s *Service) Lock(ctx context.Context, addr common.Address, durationSeconds uint64) (pool.LockStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Ledger.Lock(ctx, addr, durationSeconds)
}

// Save writes the current state to the store.
func (s *Service) Save(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveSnapshot(ctx, s.Snapshot())
}

func (s *Service) stateOf(snap model.Snapshot) model.State {
	return model.State{
		Ledger:    snap,
		Wallets:   s.book.Records(),
		UpdatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// saveSnapshot stores snap with the current wallets. The ledger calls it with
// a candidate state after settling transfers, so the wallets already reflect
// the mutation being saved.
func (s *Service) saveSnapshot(ctx context.Context, snap model.Snapshot) error {
	if err := s.store.Save(ctx, s.stateOf(snap)); err != nil {
		s.logger.Error("save state failed", zap.Error(err))
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}
