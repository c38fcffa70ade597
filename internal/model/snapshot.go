package model

// SnapshotVersion is the current persisted layout version.
const SnapshotVersion = 1

// Snapshot is the persisted ledger layout. Quantities are base-10 strings of
// the raw 18-decimal units so they round-trip without precision loss.
type Snapshot struct {
	Version     int            `json:"version"`
	ReserveA    string         `json:"reserve_a"`
	ReserveB    string         `json:"reserve_b"`
	TotalShares string         `json:"total_shares"`
	Holders     []HolderRecord `json:"holders"`
}

// HolderRecord is a persisted per-address share position.
type HolderRecord struct {
	Address      string             `json:"address"`
	ShareBalance string             `json:"share_balance"`
	History      []CheckpointRecord `json:"history"`
	Lock         *LockRecord        `json:"lock,omitempty"`
}

// CheckpointRecord is one (timestamp, balance) entry of a stake history.
type CheckpointRecord struct {
	Timestamp int64  `json:"timestamp"`
	Balance   string `json:"balance"`
}

// LockRecord is a persisted commitment.
type LockRecord struct {
	TierSeconds uint64 `json:"tier_seconds"`
	Rate        string `json:"rate"`
	StartTime   int64  `json:"start_time"`
	EndTime     int64  `json:"end_time"`
}

// WalletRecord is a persisted external token balance of one address.
type WalletRecord struct {
	Address  string `json:"address"`
	BalanceA string `json:"balance_a"`
	BalanceB string `json:"balance_b"`
}

// State is everything a host process persists between runs.
type State struct {
	Ledger    Snapshot       `json:"ledger"`
	Wallets   []WalletRecord `json:"wallets,omitempty"`
	UpdatedAt string         `json:"updated_at"`
}
