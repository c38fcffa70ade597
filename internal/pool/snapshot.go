package pool

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"poolscope/internal/fixedpoint"
	"poolscope/internal/model"
)

func (s *state) snapshot() model.Snapshot {
	snap := model.Snapshot{
		Version:     model.SnapshotVersion,
		ReserveA:    s.reserveA.Dec(),
		ReserveB:    s.reserveB.Dec(),
		TotalShares: s.totalShares.Dec(),
		Holders:     make([]model.HolderRecord, 0, len(s.holders)),
	}
	for addr, h := range s.holders {
		record := model.HolderRecord{
			Address:      addr.Hex(),
			ShareBalance: h.balance.Dec(),
			History:      make([]model.CheckpointRecord, 0, len(h.history)),
		}
		for _, cp := range h.history {
			record.History = append(record.History, model.CheckpointRecord{
				Timestamp: cp.timestamp,
				Balance:   cp.balance.Dec(),
			})
		}
		if h.lock != nil {
			record.Lock = &model.LockRecord{
				TierSeconds: h.lock.tierSeconds,
				Rate:        h.lock.rate.Dec(),
				StartTime:   h.lock.start,
				EndTime:     h.lock.end,
			}
		}
		snap.Holders = append(snap.Holders, record)
	}
	sort.Slice(snap.Holders, func(i, j int) bool {
		return snap.Holders[i].Address < snap.Holders[j].Address
	})
	return snap
}

// restoreState rebuilds and validates a state. It also returns the latest
// timestamp found so the clock never runs behind persisted history.
func restoreState(snap model.Snapshot) (*state, int64, error) {
	if snap.Version != model.SnapshotVersion {
		return nil, 0, fmt.Errorf("%w: unsupported version %d", ErrInvalidSnapshot, snap.Version)
	}

	s := newState()
	var err error
	if s.reserveA, err = parseField("reserve_a", snap.ReserveA); err != nil {
		return nil, 0, err
	}
	if s.reserveB, err = parseField("reserve_b", snap.ReserveB); err != nil {
		return nil, 0, err
	}
	if s.totalShares, err = parseField("total_shares", snap.TotalShares); err != nil {
		return nil, 0, err
	}

	emptyCount := 0
	for _, v := range []*uint256.Int{s.reserveA, s.reserveB, s.totalShares} {
		if v.IsZero() {
			emptyCount++
		}
	}
	if emptyCount != 0 && emptyCount != 3 {
		return nil, 0, fmt.Errorf("%w: reserves and shares must be all zero or all positive", ErrInvalidSnapshot)
	}

	var latest int64
	sum := new(uint256.Int)
	for _, record := range snap.Holders {
		if !common.IsHexAddress(record.Address) {
			return nil, 0, fmt.Errorf("%w: holder address %q", ErrInvalidSnapshot, record.Address)
		}
		addr := common.HexToAddress(record.Address)
		if _, dup := s.holders[addr]; dup {
			return nil, 0, fmt.Errorf("%w: duplicate holder %s", ErrInvalidSnapshot, addr.Hex())
		}

		h := &holder{}
		if h.balance, err = parseField("share_balance", record.ShareBalance); err != nil {
			return nil, 0, err
		}
		for i, cp := range record.History {
			balance, err := parseField("checkpoint balance", cp.Balance)
			if err != nil {
				return nil, 0, err
			}
			if i > 0 && cp.Timestamp < record.History[i-1].Timestamp {
				return nil, 0, fmt.Errorf("%w: history of %s is out of order", ErrInvalidSnapshot, addr.Hex())
			}
			h.history = append(h.history, checkpoint{timestamp: cp.Timestamp, balance: balance})
			if cp.Timestamp > latest {
				latest = cp.Timestamp
			}
		}
		if n := len(h.history); n > 0 && !h.history[n-1].balance.Eq(h.balance) {
			return nil, 0, fmt.Errorf("%w: history of %s ends at a different balance", ErrInvalidSnapshot, addr.Hex())
		}
		if record.Lock != nil {
			rate, err := parseField("lock rate", record.Lock.Rate)
			if err != nil {
				return nil, 0, err
			}
			if record.Lock.EndTime < record.Lock.StartTime {
				return nil, 0, fmt.Errorf("%w: lock of %s ends before it starts", ErrInvalidSnapshot, addr.Hex())
			}
			h.lock = &lock{
				tierSeconds: record.Lock.TierSeconds,
				rate:        rate,
				start:       record.Lock.StartTime,
				end:         record.Lock.EndTime,
			}
			if record.Lock.StartTime > latest {
				latest = record.Lock.StartTime
			}
		}

		if sum, err = fixedpoint.Add(sum, h.balance); err != nil {
			return nil, 0, fmt.Errorf("%w: balances overflow", ErrInvalidSnapshot)
		}
		s.holders[addr] = h
	}
	if !sum.Eq(s.totalShares) {
		return nil, 0, fmt.Errorf("%w: holder balances sum to %s, total shares %s", ErrInvalidSnapshot, sum.Dec(), s.totalShares.Dec())
	}
	return s, latest, nil
}

func parseField(name, value string) (*uint256.Int, error) {
	v, err := fixedpoint.ParseUnits(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidSnapshot, name, err)
	}
	return v, nil
}
