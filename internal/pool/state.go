package pool

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"poolscope/internal/model"
)

type checkpoint struct {
	timestamp int64
	balance   *uint256.Int
}

type lock struct {
	tierSeconds uint64
	rate        *uint256.Int
	start       int64
	end         int64
}

func (l *lock) activeAt(now int64) bool {
	return l != nil && now < l.end
}

type holder struct {
	balance *uint256.Int
	history []checkpoint
	lock    *lock
}

// state is the pool aggregate plus the holder arena. Values reachable from a
// committed state are never mutated in place; mutations run on a clone.
type state struct {
	reserveA    *uint256.Int
	reserveB    *uint256.Int
	totalShares *uint256.Int
	holders     map[common.Address]*holder
}

func newState() *state {
	return &state{
		reserveA:    new(uint256.Int),
		reserveB:    new(uint256.Int),
		totalShares: new(uint256.Int),
		holders:     make(map[common.Address]*holder),
	}
}

func (s *state) clone() *state {
	holders := make(map[common.Address]*holder, len(s.holders))
	for addr, h := range s.holders {
		holders[addr] = h
	}
	return &state{
		reserveA:    s.reserveA,
		reserveB:    s.reserveB,
		totalShares: s.totalShares,
		holders:     holders,
	}
}

// mutableHolder returns a private copy of the holder record, creating it when
// absent. The history slice is capped so appends never reach a shared array.
func (s *state) mutableHolder(addr common.Address) *holder {
	h, ok := s.holders[addr]
	if !ok {
		h = &holder{balance: new(uint256.Int)}
		s.holders[addr] = h
		return h
	}
	n := len(h.history)
	copied := &holder{
		balance: h.balance,
		history: h.history[:n:n],
		lock:    h.lock,
	}
	s.holders[addr] = copied
	return copied
}

func (h *holder) setBalance(balance *uint256.Int, now int64) {
	h.balance = balance
	h.history = append(h.history, checkpoint{timestamp: now, balance: balance})
}

func (s *state) initialized() bool {
	return !s.totalShares.IsZero()
}

func (s *state) reserve(asset model.Asset) *uint256.Int {
	if asset == model.AssetA {
		return s.reserveA
	}
	return s.reserveB
}

func (s *state) setReserve(asset model.Asset, value *uint256.Int) {
	if asset == model.AssetA {
		s.reserveA = value
		return
	}
	s.reserveB = value
}

func (s *state) balanceOf(addr common.Address) *uint256.Int {
	h, ok := s.holders[addr]
	if !ok {
		return new(uint256.Int)
	}
	return h.balance.Clone()
}
