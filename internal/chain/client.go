package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Client reads token state from an EVM node.
type Client struct {
	rpc *rpc.Client
	eth *ethclient.Client
}

// Head is the block a set of reads is pinned to.
type Head struct {
	Number uint64
	Time   uint64
}

func NewClient(ctx context.Context, rpcURL string) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	return NewClientFromRPC(rpcClient), nil
}

// NewClientFromRPC wraps an already connected RPC client, such as an
// in-process one.
func NewClientFromRPC(rpcClient *rpc.Client) *Client {
	return &Client{rpc: rpcClient, eth: ethclient.NewClient(rpcClient)}
}

func (c *Client) Close() {
	if c.rpc != nil {
		c.rpc.Close()
	}
}

// ChainID returns the chain id reported by the node.
func (c *Client) ChainID(ctx context.Context) (uint64, error) {
	id, err := c.eth.ChainID(ctx)
	if err != nil {
		return 0, err
	}
	if !id.IsUint64() {
		return 0, fmt.Errorf("chain id does not fit in uint64: %s", id)
	}
	return id.Uint64(), nil
}

// Head returns the latest block number and its timestamp.
func (c *Client) Head(ctx context.Context) (Head, error) {
	number, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return Head{}, fmt.Errorf("block number: %w", err)
	}
	header, err := c.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return Head{}, fmt.Errorf("header %d: %w", number, err)
	}
	return Head{Number: number, Time: header.Time}, nil
}

// CallContract runs an eth_call against to at block, or latest when block is
// nil.
func (c *Client) CallContract(ctx context.Context, to common.Address, data []byte, block *big.Int) ([]byte, error) {
	return c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, block)
}
