package model

// Event kinds recorded in the operation journal.
const (
	EventSwap            = "swap"
	EventAddLiquidity    = "add_liquidity"
	EventRemoveLiquidity = "remove_liquidity"
	EventLock            = "lock"
)

// Event is a committed ledger mutation.
type Event struct {
	Kind      string `json:"kind"`
	Timestamp int64  `json:"timestamp"`
	Address   string `json:"address"`
	AssetIn   Asset  `json:"asset_in,omitempty"`
	AmountIn  string `json:"amount_in,omitempty"`
	AssetOut  Asset  `json:"asset_out,omitempty"`
	AmountOut string `json:"amount_out,omitempty"`
	AmountA   string `json:"amount_a,omitempty"`
	AmountB   string `json:"amount_b,omitempty"`
	Shares    string `json:"shares,omitempty"`
	ReserveA  string `json:"reserve_a"`
	ReserveB  string `json:"reserve_b"`
	Supply    string `json:"total_shares"`
}
