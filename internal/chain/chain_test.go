package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

type callArgs struct {
	To    *common.Address `json:"to"`
	Input *hexutil.Bytes  `json:"input"`
	Data  *hexutil.Bytes  `json:"data"`
}

type fakeToken struct {
	decimals uint8
	symbol   string
	balances map[common.Address]*big.Int
}

type fakeEth struct {
	mu           sync.Mutex
	blockNumber  uint64
	blockTime    uint64
	tokens       map[common.Address]fakeToken
	failBlockNum int
	callBlocks   []int64
}

func (f *fakeEth) ChainId(ctx context.Context) (*hexutil.Big, error) {
	return (*hexutil.Big)(big.NewInt(56)), nil
}

func (f *fakeEth) BlockNumber(ctx context.Context) (hexutil.Uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failBlockNum > 0 {
		f.failBlockNum--
		return 0, errors.New("upstream busy")
	}
	return hexutil.Uint64(f.blockNumber), nil
}

func (f *fakeEth) GetBlockByNumber(ctx context.Context, number gethrpc.BlockNumber, fullTx bool) (*types.Header, error) {
	return &types.Header{
		Number:     big.NewInt(number.Int64()),
		Time:       f.blockTime,
		Difficulty: big.NewInt(0),
	}, nil
}

func (f *fakeEth) Call(ctx context.Context, args callArgs, block gethrpc.BlockNumberOrHash) (hexutil.Bytes, error) {
	var input []byte
	switch {
	case args.Input != nil:
		input = *args.Input
	case args.Data != nil:
		input = *args.Data
	}
	if args.To == nil || len(input) < 4 {
		return nil, errors.New("bad call")
	}
	if n, ok := block.Number(); ok {
		f.mu.Lock()
		f.callBlocks = append(f.callBlocks, n.Int64())
		f.mu.Unlock()
	}

	token, ok := f.tokens[*args.To]
	if !ok {
		return nil, errors.New("execution reverted")
	}
	parsed, err := erc20Instance()
	if err != nil {
		return nil, err
	}
	method, err := parsed.MethodById(input[:4])
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "balanceOf":
		values, err := method.Inputs.Unpack(input[4:])
		if err != nil {
			return nil, err
		}
		owner := values[0].(common.Address)
		bal := token.balances[owner]
		if bal == nil {
			bal = new(big.Int)
		}
		return method.Outputs.Pack(bal)
	case "decimals":
		return method.Outputs.Pack(token.decimals)
	case "symbol":
		return method.Outputs.Pack(token.symbol)
	}
	return nil, fmt.Errorf("unsupported method %s", method.Name)
}

func newInprocClient(t *testing.T, fe *fakeEth) *Client {
	t.Helper()
	srv := gethrpc.NewServer()
	if err := srv.RegisterName("eth", fe); err != nil {
		t.Fatalf("register rpc service: %v", err)
	}
	client := NewClientFromRPC(gethrpc.DialInProc(srv))
	t.Cleanup(func() {
		client.Close()
		srv.Stop()
	})
	return client
}

var (
	poolAddr = common.HexToAddress("0x0000000000000000000000000000000000000abc")
	tokenA   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tokenB   = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

func newFake() *fakeEth {
	return &fakeEth{
		blockNumber: 1234,
		blockTime:   1700000000,
		tokens: map[common.Address]fakeToken{
			tokenA: {decimals: 18, symbol: "ALPHA", balances: map[common.Address]*big.Int{
				poolAddr: new(big.Int).Mul(big.NewInt(1000), big.NewInt(1e18)),
			}},
			tokenB: {decimals: 6, symbol: "USDB", balances: map[common.Address]*big.Int{
				poolAddr: big.NewInt(2_500_000_000),
			}},
		},
	}
}

func TestClientERC20Calls(t *testing.T) {
	client := newInprocClient(t, newFake())
	ctx := context.Background()

	meta, err := client.TokenMeta(ctx, tokenB)
	if err != nil {
		t.Fatalf("token meta: %v", err)
	}
	if meta.Decimals != 6 || meta.Symbol != "USDB" || meta.Address != tokenB.Hex() {
		t.Fatalf("unexpected meta: %+v", meta)
	}

	bal, err := client.BalanceOf(ctx, tokenA, poolAddr, nil)
	if err != nil {
		t.Fatalf("balanceOf: %v", err)
	}
	if bal.String() != "1000000000000000000000" {
		t.Fatalf("unexpected balance %s", bal)
	}

	if _, err := client.BalanceOf(ctx, common.HexToAddress("0xdead"), poolAddr, nil); err == nil {
		t.Fatalf("expected error for unknown token")
	}

	head, err := client.Head(ctx)
	if err != nil || head.Number != 1234 || head.Time != 1700000000 {
		t.Fatalf("head: %+v err=%v", head, err)
	}

	id, err := client.ChainID(ctx)
	if err != nil || id != 56 {
		t.Fatalf("chain id: %d err=%v", id, err)
	}
}

func TestPoolReaderRetriesAndPinsBlock(t *testing.T) {
	fe := newFake()
	fe.failBlockNum = 2
	reader := NewPoolReader(newInprocClient(t, fe), RetryPolicy{MaxRetries: 3, Backoff: time.Millisecond}, nil)

	got, err := reader.Read(context.Background(), poolAddr, [2]common.Address{tokenA, tokenB})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.ChainID != 56 || got.Block != 1234 || got.Timestamp != 1700000000 {
		t.Fatalf("unexpected block info: %+v", got)
	}
	if got.Tokens[1].Decimals != 6 || got.Balances[1].Int64() != 2_500_000_000 {
		t.Fatalf("unexpected token b: %+v %s", got.Tokens[1], got.Balances[1])
	}

	fe.mu.Lock()
	defer fe.mu.Unlock()
	pinned := 0
	for _, n := range fe.callBlocks {
		if n == 1234 {
			pinned++
		}
	}
	if pinned != 2 {
		t.Fatalf("expected both balance reads at block 1234, got %v", fe.callBlocks)
	}
}

func TestPoolReaderGivesUp(t *testing.T) {
	fe := newFake()
	fe.failBlockNum = 5
	reader := NewPoolReader(newInprocClient(t, fe), RetryPolicy{MaxRetries: 1, Backoff: time.Millisecond}, nil)

	if _, err := reader.Read(context.Background(), poolAddr, [2]common.Address{tokenA, tokenB}); err == nil {
		t.Fatalf("expected error after retries are exhausted")
	}
}

func TestRetryPolicyStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := RetryPolicy{MaxRetries: 10, Backoff: time.Hour}.Do(ctx, "test", nil, func(context.Context) error {
		calls++
		cancel()
		return errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one call, got %d", calls)
	}
}

func TestRetryPolicyCapsBackoff(t *testing.T) {
	calls := 0
	start := time.Now()
	err := RetryPolicy{MaxRetries: 4, Backoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}.Do(context.Background(), "test", nil, func(context.Context) error {
		calls++
		return errors.New("fail")
	})
	if err == nil || calls != 5 {
		t.Fatalf("expected 5 failed calls, got %d err=%v", calls, err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("backoff not capped: %s", elapsed)
	}
}
