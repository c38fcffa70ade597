package pool

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"poolscope/internal/fixedpoint"
	"poolscope/internal/model"
)

// Transferer moves pool assets between a party and pool custody. Each call is
// expected to be atomic on its own.
type Transferer interface {
	TransferIn(ctx context.Context, asset model.Asset, amount *uint256.Int, from common.Address) error
	TransferOut(ctx context.Context, asset model.Asset, amount *uint256.Int, to common.Address) error
}

// EventSink receives committed mutations.
type EventSink interface {
	PutEventBatch(events []model.Event) error
}

// PersistFunc durably records a candidate state. It runs after the transfers
// of a mutation and before the state becomes visible; an error aborts the
// mutation and reverses its transfers.
type PersistFunc func(ctx context.Context, snap model.Snapshot) error

// Config configures a Ledger.
type Config struct {
	// FeeBps is the swap fee charged on input, in basis points.
	FeeBps uint32
	// Tiers defaults to DefaultTiers when empty.
	Tiers    TierTable
	Clock    func() time.Time
	Registry prometheus.Registerer
	Events   EventSink
	Persist  PersistFunc
}

// Ledger is the pool facade. Mutations are serialized and all-or-nothing;
// queries run concurrently against the committed state.
type Ledger struct {
	mu    sync.RWMutex
	state *state

	feeBps    uint32
	tiers     TierTable
	clock     func() time.Time
	lastTick  atomic.Int64
	transfers Transferer
	events    EventSink
	persist   PersistFunc
	metrics   *metrics
	logger    *zap.Logger
}

// PoolInfo summarizes the pool aggregate.
type PoolInfo struct {
	ReserveA    *uint256.Int
	ReserveB    *uint256.Int
	TotalShares *uint256.Int
	// K is reserveA*reserveB and can exceed 256 bits.
	K           *big.Int
	FeeBps      uint32
	Holders     int
	Initialized bool
}

// Deposit is the outcome of AddLiquidity.
type Deposit struct {
	AmountA *uint256.Int
	AmountB *uint256.Int
	Shares  *uint256.Int
}

// LockStatus describes a holder's commitment.
type LockStatus struct {
	Exists      bool
	Active      bool
	TierSeconds uint64
	Rate        *uint256.Int
	Start       time.Time
	End         time.Time
}

func New(cfg Config, transfers Transferer, logger *zap.Logger) (*Ledger, error) {
	if transfers == nil {
		return nil, fmt.Errorf("transferer is required")
	}
	if cfg.FeeBps >= BpsDenominator {
		return nil, fmt.Errorf("fee %d bps must be below %d", cfg.FeeBps, BpsDenominator)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	tiers := cfg.Tiers
	if tiers.empty() {
		tiers = DefaultTiers()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	l := &Ledger{
		state:     newState(),
		feeBps:    cfg.FeeBps,
		tiers:     tiers,
		clock:     clock,
		transfers: transfers,
		events:    cfg.Events,
		persist:   cfg.Persist,
		metrics:   newMetrics(cfg.Registry),
		logger:    logger,
	}
	l.metrics.setState(l.state)
	return l, nil
}

// now returns unix seconds that never run backwards.
func (l *Ledger) now() int64 {
	t := l.clock().Unix()
	for {
		last := l.lastTick.Load()
		if t <= last {
			return last
		}
		if l.lastTick.CompareAndSwap(last, t) {
			return t
		}
	}
}

// GetQuote prices a swap without changing anything.
func (l *Ledger) GetQuote(assetIn model.Asset, amountIn *uint256.Int, assetOut model.Asset) (*uint256.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.quoteSwap(assetIn, amountIn, assetOut, l.feeBps)
}

// GetRequiredCounterpart returns the amount of B matching a deposit of amountA.
func (l *Ledger) GetRequiredCounterpart(amountA *uint256.Int) (*uint256.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.requiredCounterpart(amountA)
}

// Swap sells amountIn of assetIn for assetOut on behalf of trader.
func (l *Ledger) Swap(ctx context.Context, trader common.Address, assetIn model.Asset, amountIn *uint256.Int, assetOut model.Asset) (amountOut *uint256.Int, err error) {
	defer func(start time.Time) { l.finish("swap", start, err) }(time.Now())
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	next := l.state.clone()
	amountOut, err = next.quoteSwap(assetIn, amountIn, assetOut, l.feeBps)
	if err != nil {
		return nil, err
	}
	if err := next.applySwap(assetIn, amountIn, assetOut, amountOut); err != nil {
		return nil, err
	}

	plan := []transfer{
		{in: true, asset: assetIn, amount: amountIn, party: trader},
		{asset: assetOut, amount: amountOut, party: trader},
	}
	if err := l.settle(ctx, plan); err != nil {
		return nil, err
	}

	now := l.now()
	if err := l.commit(ctx, next, plan, model.Event{
		Kind:      model.EventSwap,
		Timestamp: now,
		Address:   trader.Hex(),
		AssetIn:   assetIn,
		AmountIn:  amountIn.Dec(),
		AssetOut:  assetOut,
		AmountOut: amountOut.Dec(),
	}); err != nil {
		return nil, err
	}
	return amountOut.Clone(), nil
}

// AddLiquidity deposits amountA plus the matching amount of B. amountB is
// only used to seed an empty pool.
func (l *Ledger) AddLiquidity(ctx context.Context, provider common.Address, amountA, amountB *uint256.Int) (dep Deposit, err error) {
	defer func(start time.Time) { l.finish("add_liquidity", start, err) }(time.Now())
	if err := ctx.Err(); err != nil {
		return Deposit{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	next := l.state.clone()
	res, err := next.deposit(provider, amountA, amountB, now)
	if err != nil {
		return Deposit{}, err
	}

	plan := []transfer{
		{in: true, asset: model.AssetA, amount: res.amountA, party: provider},
		{in: true, asset: model.AssetB, amount: res.amountB, party: provider},
	}
	if err := l.settle(ctx, plan); err != nil {
		return Deposit{}, err
	}

	if err := l.commit(ctx, next, plan, model.Event{
		Kind:      model.EventAddLiquidity,
		Timestamp: now,
		Address:   provider.Hex(),
		AmountA:   res.amountA.Dec(),
		AmountB:   res.amountB.Dec(),
		Shares:    res.shares.Dec(),
	}); err != nil {
		return Deposit{}, err
	}
	return Deposit{AmountA: res.amountA, AmountB: res.amountB, Shares: res.shares}, nil
}

// RemoveLiquidity burns shares and pays out the pro-rata reserves.
func (l *Ledger) RemoveLiquidity(ctx context.Context, provider common.Address, shares *uint256.Int) (amountA, amountB *uint256.Int, err error) {
	defer func(start time.Time) { l.finish("remove_liquidity", start, err) }(time.Now())
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	next := l.state.clone()
	res, err := next.withdraw(provider, shares, now)
	if err != nil {
		return nil, nil, err
	}

	plan := []transfer{
		{asset: model.AssetA, amount: res.amountA, party: provider},
		{asset: model.AssetB, amount: res.amountB, party: provider},
	}
	if err := l.settle(ctx, plan); err != nil {
		return nil, nil, err
	}

	if err := l.commit(ctx, next, plan, model.Event{
		Kind:      model.EventRemoveLiquidity,
		Timestamp: now,
		Address:   provider.Hex(),
		AmountA:   res.amountA.Dec(),
		AmountB:   res.amountB.Dec(),
		Shares:    shares.Dec(),
	}); err != nil {
		return nil, nil, err
	}
	return res.amountA, res.amountB, nil
}

// Lock commits the holder's position for durationSeconds. Zero selects the
// default period.
func (l *Ledger) Lock(ctx context.Context, addr common.Address, durationSeconds uint64) (status LockStatus, err error) {
	defer func(start time.Time) { l.finish("lock", start, err) }(time.Now())
	if err := ctx.Err(); err != nil {
		return LockStatus{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	next := l.state.clone()
	created, err := next.lockPosition(addr, durationSeconds, now, l.tiers)
	if err != nil {
		return LockStatus{}, err
	}

	if err := l.commit(ctx, next, nil, model.Event{
		Kind:      model.EventLock,
		Timestamp: now,
		Address:   addr.Hex(),
		Shares:    next.holders[addr].balance.Dec(),
	}); err != nil {
		return LockStatus{}, err
	}
	return lockStatus(created, now), nil
}

// BalanceOf returns the share balance of addr.
func (l *Ledger) BalanceOf(addr common.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.balanceOf(addr)
}

// TotalSupply returns the outstanding shares.
func (l *Ledger) TotalSupply() *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.totalShares.Clone()
}

// RewardRate returns the annualized rate for a commitment duration.
func (l *Ledger) RewardRate(durationSeconds uint64) *uint256.Int {
	return l.tiers.Rate(durationSeconds)
}

// Tiers returns the configured reward tiers.
func (l *Ledger) Tiers() TierTable {
	return l.tiers
}

// CalculateRewards returns the time-weighted reward of addr over the
// trailing durationSeconds.
func (l *Ledger) CalculateRewards(addr common.Address, durationSeconds uint64) (*uint256.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.calculateRewards(addr, durationSeconds, l.now(), l.tiers)
}

func (l *Ledger) LockStatus(addr common.Address) LockStatus {
	l.mu.RLock()
	defer l.mu.RUnlock()
	h, ok := l.state.holders[addr]
	if !ok || h.lock == nil {
		return LockStatus{}
	}
	return lockStatus(h.lock, l.now())
}

// LockedRewards returns what the current or last lock of addr has earned.
func (l *Ledger) LockedRewards(addr common.Address) (*uint256.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.lockedRewards(addr, l.now())
}

func (l *Ledger) PoolInfo() PoolInfo {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return PoolInfo{
		ReserveA:    l.state.reserveA.Clone(),
		ReserveB:    l.state.reserveB.Clone(),
		TotalShares: l.state.totalShares.Clone(),
		K:           l.state.product(),
		FeeBps:      l.feeBps,
		Holders:     len(l.state.holders),
		Initialized: l.state.initialized(),
	}
}

// UserShare returns the fraction of the pool owned by addr as an 18-decimal
// value, rounded down.
func (l *Ledger) UserShare(addr common.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.state.initialized() {
		return new(uint256.Int)
	}
	share, err := fixedpoint.MulDiv(l.state.balanceOf(addr), fixedpoint.One, l.state.totalShares)
	if err != nil {
		return new(uint256.Int)
	}
	return share
}

// Snapshot exports the committed state.
func (l *Ledger) Snapshot() model.Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.snapshot()
}

// Restore replaces the state with a validated snapshot.
func (l *Ledger) Restore(snap model.Snapshot) error {
	restored, latest, err := restoreState(snap)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = restored
	for {
		last := l.lastTick.Load()
		if latest <= last || l.lastTick.CompareAndSwap(last, latest) {
			break
		}
	}
	l.metrics.setState(restored)
	l.logger.Info("ledger restored",
		zap.String("reserve_a", fixedpoint.Format(restored.reserveA)),
		zap.String("reserve_b", fixedpoint.Format(restored.reserveB)),
		zap.String("total_shares", fixedpoint.Format(restored.totalShares)),
		zap.Int("holders", len(restored.holders)),
	)
	return nil
}

type transfer struct {
	in     bool
	asset  model.Asset
	amount *uint256.Int
	party  common.Address
}

func (l *Ledger) move(ctx context.Context, t transfer) error {
	if t.in {
		return l.transfers.TransferIn(ctx, t.asset, t.amount, t.party)
	}
	return l.transfers.TransferOut(ctx, t.asset, t.amount, t.party)
}

// settle runs transfers in order. On failure the completed ones are reversed
// so the parties end where they started.
func (l *Ledger) settle(ctx context.Context, plan []transfer) error {
	for i, t := range plan {
		if t.amount.IsZero() {
			continue
		}
		err := l.move(ctx, t)
		if err == nil {
			continue
		}
		l.reverse(ctx, plan[:i])
		return fmt.Errorf("%w: %s %s: %w", ErrTransferFailed, t.asset, direction(t.in), err)
	}
	return nil
}

// reverse undoes completed transfers, last first.
func (l *Ledger) reverse(ctx context.Context, done []transfer) {
	undoCtx := context.WithoutCancel(ctx)
	for j := len(done) - 1; j >= 0; j-- {
		t := done[j]
		if t.amount.IsZero() {
			continue
		}
		t.in = !t.in
		if err := l.move(undoCtx, t); err != nil {
			l.logger.Error("compensating transfer failed",
				zap.String("asset", string(t.asset)),
				zap.String("amount", t.amount.Dec()),
				zap.String("party", t.party.Hex()),
				zap.Error(err),
			)
		}
	}
}

func direction(in bool) string {
	if in {
		return "in"
	}
	return "out"
}

// commit persists next, then makes it the visible state and journals event.
// A persist failure reverses the settled plan and leaves the state untouched.
func (l *Ledger) commit(ctx context.Context, next *state, settled []transfer, event model.Event) error {
	if l.persist != nil {
		if err := l.persist(context.WithoutCancel(ctx), next.snapshot()); err != nil {
			l.reverse(ctx, settled)
			return fmt.Errorf("%w: %w", ErrPersistFailed, err)
		}
	}

	l.state = next
	l.metrics.setState(next)

	event.ReserveA = next.reserveA.Dec()
	event.ReserveB = next.reserveB.Dec()
	event.Supply = next.totalShares.Dec()
	l.logger.Debug("ledger commit",
		zap.String("kind", event.Kind),
		zap.String("address", event.Address),
		zap.String("reserve_a", event.ReserveA),
		zap.String("reserve_b", event.ReserveB),
		zap.String("total_shares", event.Supply),
	)

	if l.events == nil {
		return nil
	}
	if err := l.events.PutEventBatch([]model.Event{event}); err != nil {
		l.logger.Warn("journal write failed", zap.String("kind", event.Kind), zap.Error(err))
	}
	return nil
}

func (l *Ledger) finish(op string, start time.Time, err error) {
	l.metrics.observe(op, start, err)
	if err != nil {
		l.logger.Warn("ledger operation rejected", zap.String("op", op), zap.Error(err))
	}
}

func lockStatus(lk *lock, now int64) LockStatus {
	return LockStatus{
		Exists:      true,
		Active:      lk.activeAt(now),
		TierSeconds: lk.tierSeconds,
		Rate:        lk.rate.Clone(),
		Start:       time.Unix(lk.start, 0).UTC(),
		End:         time.Unix(lk.end, 0).UTC(),
	}
}
