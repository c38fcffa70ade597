package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poolscope/internal/fixedpoint"
	"poolscope/internal/model"
	"poolscope/internal/pool"
	"poolscope/internal/storage"
)

var (
	alice = common.HexToAddress("0x1111111111111111111111111111111111111111")
	bob   = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

type failingStore struct {
	saves int
}

func (f *failingStore) Load(context.Context) (model.State, bool, error) {
	return model.State{}, false, nil
}

func (f *failingStore) Save(context.Context, model.State) error {
	f.saves++
	return errors.New("disk full")
}

// switchableStore forwards to a real store until failing is set.
type switchableStore struct {
	storage.Store
	failing bool
}

func (s *switchableStore) Save(ctx context.Context, st model.State) error {
	if s.failing {
		return context.DeadlineExceeded
	}
	return s.Store.Save(ctx, st)
}

func TestServiceResumesFromStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")
	clock := fixedClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	svc, err := Open(ctx, pool.Config{Clock: clock}, storage.NewFileStore(path), nil)
	require.NoError(t, err)

	require.NoError(t, svc.Fund(ctx, alice, units(2000), units(2000)))
	require.NoError(t, svc.Fund(ctx, bob, units(100), units(0)))
	_, err = svc.AddLiquidity(ctx, alice, units(1000), units(1000))
	require.NoError(t, err)
	out, err := svc.Swap(ctx, bob, model.AssetA, units(100), model.AssetB)
	require.NoError(t, err)
	assert.Equal(t, "90909090909090909090", out.Dec())
	_, err = svc.Lock(ctx, alice, 90*pool.SecondsPerDay)
	require.NoError(t, err)

	reopened, err := Open(ctx, pool.Config{Clock: clock}, storage.NewFileStore(path), nil)
	require.NoError(t, err)

	assert.Equal(t, svc.Snapshot(), reopened.Snapshot())
	a, b := reopened.Wallet(bob)
	assert.True(t, a.IsZero())
	assert.Equal(t, out.Dec(), b.Dec())
	assert.True(t, reopened.LockStatus(alice).Active)

	// Custody is rebuilt from the reserves, so alice can still exit in full
	// once the lock expires.
	later, err := Open(ctx, pool.Config{Clock: fixedClock(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))}, storage.NewFileStore(path), nil)
	require.NoError(t, err)
	gotA, gotB, err := later.RemoveLiquidity(ctx, alice, later.BalanceOf(alice))
	require.NoError(t, err)
	assert.Equal(t, units(1100).Dec(), gotA.Dec())
	assert.Equal(t, "909090909090909090910", gotB.Dec())
	assert.True(t, later.TotalSupply().IsZero())
}

func TestServiceRejectedMutationDoesNotSave(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{}
	svc, err := Open(ctx, pool.Config{}, store, nil)
	require.NoError(t, err)

	_, err = svc.Swap(ctx, alice, model.AssetA, units(1), model.AssetB)
	assert.ErrorIs(t, err, pool.ErrPoolUninitialized)
	assert.Equal(t, 0, store.saves)
}

func TestServiceSaveFailureLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")
	clock := fixedClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	store := &switchableStore{Store: storage.NewFileStore(path)}

	svc, err := Open(ctx, pool.Config{Clock: clock}, store, nil)
	require.NoError(t, err)
	require.NoError(t, svc.Fund(ctx, alice, units(1000), units(1000)))
	require.NoError(t, svc.Fund(ctx, bob, units(100), units(100)))
	_, err = svc.AddLiquidity(ctx, alice, units(1000), units(1000))
	require.NoError(t, err)
	before := svc.Snapshot()

	store.failing = true

	_, err = svc.Swap(ctx, bob, model.AssetA, units(100), model.AssetB)
	require.ErrorIs(t, err, pool.ErrPersistFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = svc.AddLiquidity(ctx, bob, units(10), nil)
	require.ErrorIs(t, err, pool.ErrPersistFailed)

	_, err = svc.Lock(ctx, alice, 90*pool.SecondsPerDay)
	require.ErrorIs(t, err, pool.ErrPersistFailed)

	_, _, err = svc.RemoveLiquidity(ctx, alice, units(10))
	require.ErrorIs(t, err, pool.ErrPersistFailed)

	err = svc.Fund(ctx, bob, units(5), units(5))
	require.ErrorIs(t, err, pool.ErrPersistFailed)

	assert.Equal(t, before, svc.Snapshot())
	assert.Equal(t, "1000", fixedpoint.Format(svc.PoolInfo().ReserveA))
	assert.False(t, svc.LockStatus(alice).Exists)
	a, b := svc.Wallet(bob)
	assert.Equal(t, "100", fixedpoint.Format(a))
	assert.Equal(t, "100", fixedpoint.Format(b))
	a, b = svc.Wallet(alice)
	assert.True(t, a.IsZero())
	assert.True(t, b.IsZero())

	store.failing = false
	reopened, err := Open(ctx, pool.Config{Clock: clock}, storage.NewFileStore(path), nil)
	require.NoError(t, err)
	assert.Equal(t, before, reopened.Snapshot())

	out, err := svc.Swap(ctx, bob, model.AssetA, units(100), model.AssetB)
	require.NoError(t, err)
	assert.Equal(t, "90.90909090909090909", fixedpoint.Format(out))
}

func TestServiceFundWithoutWorkingStore(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{}
	svc, err := Open(ctx, pool.Config{}, store, nil)
	require.NoError(t, err)

	err = svc.Fund(ctx, alice, units(10), units(10))
	require.ErrorIs(t, err, pool.ErrPersistFailed)
	assert.Equal(t, 1, store.saves)

	a, b := svc.Wallet(alice)
	assert.True(t, a.IsZero())
	assert.True(t, b.IsZero())
	assert.True(t, svc.TotalSupply().IsZero())
}

func TestServiceWithoutStore(t *testing.T) {
	ctx := context.Background()
	svc, err := Open(ctx, pool.Config{}, nil, nil)
	require.NoError(t, err)

	require.NoError(t, svc.Fund(ctx, alice, units(5), units(7)))
	a, b := svc.Wallet(alice)
	assert.Equal(t, "5", fixedpoint.Format(a))
	assert.Equal(t, "7", fixedpoint.Format(b))
	require.NoError(t, svc.Save(ctx))
}

func units(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), fixedpoint.One)
}
