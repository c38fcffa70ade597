package model

// TokenMeta captures the ERC-20 fields needed to scale on-chain balances.
type TokenMeta struct {
	Address  string `json:"address"`
	Decimals uint8  `json:"decimals"`
	Symbol   string `json:"symbol,omitempty"`
}
