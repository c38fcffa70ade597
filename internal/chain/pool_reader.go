package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"poolscope/internal/model"
)

// PoolBalances is what a pool contract holds of each pair token at one block.
type PoolBalances struct {
	ChainID   uint64
	Pool      common.Address
	Block     uint64
	Timestamp uint64
	Tokens    [2]model.TokenMeta
	Balances  [2]*big.Int
}

// PoolReader reads pool token balances with retries.
type PoolReader struct {
	client *Client
	retry  RetryPolicy
	logger *zap.Logger
}

func NewPoolReader(client *Client, retry RetryPolicy, logger *zap.Logger) *PoolReader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PoolReader{client: client, retry: retry, logger: logger}
}

// Read pins the latest block and reads both token balances of pool at it.
func (r *PoolReader) Read(ctx context.Context, pool common.Address, tokens [2]common.Address) (PoolBalances, error) {
	if r.client == nil {
		return PoolBalances{}, fmt.Errorf("chain client is nil")
	}
	out := PoolBalances{Pool: pool}

	if err := r.retry.Do(ctx, "chain_id", r.logger, func(ctx context.Context) error {
		var err error
		out.ChainID, err = r.client.ChainID(ctx)
		return err
	}); err != nil {
		return PoolBalances{}, fmt.Errorf("chain id: %w", err)
	}
	if err := r.retry.Do(ctx, "head", r.logger, func(ctx context.Context) error {
		head, err := r.client.Head(ctx)
		out.Block, out.Timestamp = head.Number, head.Time
		return err
	}); err != nil {
		return PoolBalances{}, fmt.Errorf("latest block: %w", err)
	}

	block := new(big.Int).SetUint64(out.Block)
	for i, token := range tokens {
		i, token := i, token
		if err := r.retry.Do(ctx, "token_meta", r.logger, func(ctx context.Context) error {
			var err error
			out.Tokens[i], err = r.client.TokenMeta(ctx, token)
			return err
		}); err != nil {
			return PoolBalances{}, fmt.Errorf("token %s metadata: %w", token.Hex(), err)
		}
		if err := r.retry.Do(ctx, "balance_of", r.logger, func(ctx context.Context) error {
			var err error
			out.Balances[i], err = r.client.BalanceOf(ctx, token, pool, block)
			return err
		}); err != nil {
			return PoolBalances{}, fmt.Errorf("token %s balance: %w", token.Hex(), err)
		}
	}

	r.logger.Debug("pool balances read",
		zap.String("pool", pool.Hex()),
		zap.Uint64("block", out.Block),
		zap.String("balance0", out.Balances[0].String()),
		zap.String("balance1", out.Balances[1].String()),
	)
	return out, nil
}
