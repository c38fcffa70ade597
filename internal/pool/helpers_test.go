package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"poolscope/internal/fixedpoint"
	"poolscope/internal/model"
)

var (
	alice = common.HexToAddress("0x1111111111111111111111111111111111111111")
	bob   = common.HexToAddress("0x2222222222222222222222222222222222222222")
	carol = common.HexToAddress("0x3333333333333333333333333333333333333333")

	t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
)

var errRejected = errors.New("rejected by custody")

// recordingTransfers records every call as "in:A" / "out:B" and fails the
// call matching failOn.
type recordingTransfers struct {
	mu     sync.Mutex
	calls  []string
	failOn string
}

func (r *recordingTransfers) TransferIn(_ context.Context, asset model.Asset, _ *uint256.Int, _ common.Address) error {
	return r.record("in", asset)
}

func (r *recordingTransfers) TransferOut(_ context.Context, asset model.Asset, _ *uint256.Int, _ common.Address) error {
	return r.record("out", asset)
}

func (r *recordingTransfers) record(direction string, asset model.Asset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := fmt.Sprintf("%s:%s", direction, asset)
	r.calls = append(r.calls, key)
	if key == r.failOn {
		return errRejected
	}
	return nil
}

func (r *recordingTransfers) reset(failOn string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
	r.failOn = failOn
}

func (r *recordingTransfers) recorded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type captureSink struct {
	events []model.Event
}

func (c *captureSink) PutEventBatch(events []model.Event) error {
	c.events = append(c.events, events...)
	return nil
}

type testLedger struct {
	*Ledger
	transfers *recordingTransfers
	clock     *testClock
	registry  *prometheus.Registry
	sink      *captureSink
}

func newTestLedger(t *testing.T, feeBps uint32) *testLedger {
	t.Helper()
	return buildTestLedger(t, Config{FeeBps: feeBps})
}

func newTestLedgerWithPersist(t *testing.T, persist PersistFunc) *testLedger {
	t.Helper()
	return buildTestLedger(t, Config{Persist: persist})
}

func buildTestLedger(t *testing.T, cfg Config) *testLedger {
	t.Helper()
	tl := &testLedger{
		transfers: &recordingTransfers{},
		clock:     &testClock{now: t0},
		registry:  prometheus.NewRegistry(),
		sink:      &captureSink{},
	}
	cfg.Clock = tl.clock.Now
	cfg.Registry = tl.registry
	cfg.Events = tl.sink
	ledger, err := New(cfg, tl.transfers, nil)
	require.NoError(t, err)
	tl.Ledger = ledger
	return tl
}

func (tl *testLedger) seed(t *testing.T, addr common.Address, a, b uint64) {
	t.Helper()
	_, err := tl.AddLiquidity(context.Background(), addr, units(a), units(b))
	require.NoError(t, err)
}

func (tl *testLedger) counter(t *testing.T, op, result string) float64 {
	t.Helper()
	families, err := tl.registry.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != "poolscope_ledger_operations_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			labels := map[string]string{}
			for _, pair := range metric.GetLabel() {
				labels[pair.GetName()] = pair.GetValue()
			}
			if labels["op"] == op && labels["result"] == result {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func sumBalances(l *Ledger) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	sum := new(uint256.Int)
	for _, h := range l.state.holders {
		sum.Add(sum, h.balance)
	}
	return sum
}

func units(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), fixedpoint.One)
}
