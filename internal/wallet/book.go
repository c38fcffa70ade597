// Package wallet keeps external token balances and the pool's custody
// account. It is the transfer collaborator used by the CLI and the HTTP API.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"poolscope/internal/fixedpoint"
	"poolscope/internal/model"
)

var (
	ErrInsufficientBalance = errors.New("insufficient wallet balance")
	ErrInsufficientCustody = errors.New("insufficient pool custody")
)

type balances struct {
	a *uint256.Int
	b *uint256.Int
}

func (p *balances) get(asset model.Asset) *uint256.Int {
	if asset == model.AssetA {
		return p.a
	}
	return p.b
}

func (p *balances) set(asset model.Asset, value *uint256.Int) {
	if asset == model.AssetA {
		p.a = value
		return
	}
	p.b = value
}

func zeroBalances() *balances {
	return &balances{a: new(uint256.Int), b: new(uint256.Int)}
}

// Book is an in-memory set of wallets plus pool custody.
type Book struct {
	mu      sync.Mutex
	wallets map[common.Address]*balances
	custody *balances
}

func NewBook() *Book {
	return &Book{
		wallets: make(map[common.Address]*balances),
		custody: zeroBalances(),
	}
}

// Credit mints amount of asset into addr's wallet.
func (b *Book) Credit(addr common.Address, asset model.Asset, amount *uint256.Int) error {
	if !asset.Valid() {
		return fmt.Errorf("credit: %w: %q", model.ErrInvalidAsset, asset)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	w := b.wallet(addr)
	next, err := fixedpoint.Add(w.get(asset), amount)
	if err != nil {
		return fmt.Errorf("credit %s: %w", asset, err)
	}
	w.set(asset, next)
	return nil
}

// BalanceOf returns addr's wallet balance of asset.
func (b *Book) BalanceOf(addr common.Address, asset model.Asset) *uint256.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	w, ok := b.wallets[addr]
	if !ok {
		return new(uint256.Int)
	}
	return w.get(asset).Clone()
}

// Custody returns what the pool holds of asset.
func (b *Book) Custody(asset model.Asset) *uint256.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.custody.get(asset).Clone()
}

// TransferIn moves amount from a wallet into pool custody.
func (b *Book) TransferIn(ctx context.Context, asset model.Asset, amount *uint256.Int, from common.Address) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	w, ok := b.wallets[from]
	if !ok || w.get(asset).Lt(amount) {
		have := new(uint256.Int)
		if ok {
			have = w.get(asset)
		}
		return fmt.Errorf("%w: %s has %s %s, needs %s", ErrInsufficientBalance, from.Hex(), fixedpoint.Format(have), asset, fixedpoint.Format(amount))
	}
	custody, err := fixedpoint.Add(b.custody.get(asset), amount)
	if err != nil {
		return fmt.Errorf("custody %s: %w", asset, err)
	}
	w.set(asset, new(uint256.Int).Sub(w.get(asset), amount))
	b.custody.set(asset, custody)
	return nil
}

// TransferOut moves amount from pool custody to a wallet.
func (b *Book) TransferOut(ctx context.Context, asset model.Asset, amount *uint256.Int, to common.Address) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.custody.get(asset).Lt(amount) {
		return fmt.Errorf("%w: holds %s %s, needs %s", ErrInsufficientCustody, fixedpoint.Format(b.custody.get(asset)), asset, fixedpoint.Format(amount))
	}
	w := b.wallet(to)
	next, err := fixedpoint.Add(w.get(asset), amount)
	if err != nil {
		return fmt.Errorf("wallet %s: %w", asset, err)
	}
	b.custody.set(asset, new(uint256.Int).Sub(b.custody.get(asset), amount))
	w.set(asset, next)
	return nil
}

// Records exports wallets sorted by address.
func (b *Book) Records() []model.WalletRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	records := make([]model.WalletRecord, 0, len(b.wallets))
	for addr, w := range b.wallets {
		records = append(records, model.WalletRecord{
			Address:  addr.Hex(),
			BalanceA: w.a.Dec(),
			BalanceB: w.b.Dec(),
		})
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Address < records[j].Address
	})
	return records
}

// Restore replaces all wallets. Custody is set from the pool reserves since
// the pool holds exactly what it accounts for.
func (b *Book) Restore(records []model.WalletRecord, custodyA, custodyB *uint256.Int) error {
	wallets := make(map[common.Address]*balances, len(records))
	for _, record := range records {
		if !common.IsHexAddress(record.Address) {
			return fmt.Errorf("restore wallet: invalid address %q", record.Address)
		}
		a, err := fixedpoint.ParseUnits(record.BalanceA)
		if err != nil {
			return fmt.Errorf("restore wallet %s: %w", record.Address, err)
		}
		bb, err := fixedpoint.ParseUnits(record.BalanceB)
		if err != nil {
			return fmt.Errorf("restore wallet %s: %w", record.Address, err)
		}
		wallets[common.HexToAddress(record.Address)] = &balances{a: a, b: bb}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.wallets = wallets
	b.custody = &balances{a: custodyA.Clone(), b: custodyB.Clone()}
	return nil
}

func (b *Book) wallet(addr common.Address) *balances {
	w, ok := b.wallets[addr]
	if !ok {
		w = zeroBalances()
		b.wallets[addr] = w
	}
	return w
}
