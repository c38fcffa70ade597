package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"poolscope/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS pool_state (
	name         TEXT PRIMARY KEY,
	version      INTEGER NOT NULL,
	reserve_a    NUMERIC(78, 0) NOT NULL,
	reserve_b    NUMERIC(78, 0) NOT NULL,
	total_shares NUMERIC(78, 0) NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS pool_holders (
	pool              TEXT NOT NULL,
	address           TEXT NOT NULL,
	share_balance     NUMERIC(78, 0) NOT NULL,
	lock_tier_seconds BIGINT,
	lock_rate         NUMERIC(78, 0),
	lock_start        BIGINT,
	lock_end          BIGINT,
	PRIMARY KEY (pool, address)
);
CREATE TABLE IF NOT EXISTS pool_checkpoints (
	pool    TEXT NOT NULL,
	address TEXT NOT NULL,
	seq     INTEGER NOT NULL,
	ts      BIGINT NOT NULL,
	balance NUMERIC(78, 0) NOT NULL,
	PRIMARY KEY (pool, address, seq)
);
CREATE TABLE IF NOT EXISTS pool_wallets (
	pool      TEXT NOT NULL,
	address   TEXT NOT NULL,
	balance_a NUMERIC(78, 0) NOT NULL,
	balance_b NUMERIC(78, 0) NOT NULL,
	PRIMARY KEY (pool, address)
);
`

// Store provides Postgres persistence for ledger state. Several pools can
// share a database; rows are keyed by pool name.
type Store struct {
	pool *pgxpool.Pool
	name string
}

func NewStore(ctx context.Context, dsn, name string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	if name == "" {
		return nil, fmt.Errorf("pool name is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool, name: name}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Load reads the full state of the named pool.
func (s *Store) Load(ctx context.Context) (model.State, bool, error) {
	var (
		st        model.State
		reserveA  pgtype.Numeric
		reserveB  pgtype.Numeric
		total     pgtype.Numeric
		updatedAt time.Time
	)
	row := s.pool.QueryRow(ctx, `
		SELECT version, reserve_a, reserve_b, total_shares, updated_at
		FROM pool_state WHERE name=$1
	`, s.name)
	if err := row.Scan(&st.Ledger.Version, &reserveA, &reserveB, &total, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.State{}, false, nil
		}
		return model.State{}, false, fmt.Errorf("load pool state: %w", err)
	}
	var err error
	if st.Ledger.ReserveA, err = numericString(reserveA); err != nil {
		return model.State{}, false, fmt.Errorf("reserve_a: %w", err)
	}
	if st.Ledger.ReserveB, err = numericString(reserveB); err != nil {
		return model.State{}, false, fmt.Errorf("reserve_b: %w", err)
	}
	if st.Ledger.TotalShares, err = numericString(total); err != nil {
		return model.State{}, false, fmt.Errorf("total_shares: %w", err)
	}
	st.UpdatedAt = updatedAt.UTC().Format(time.RFC3339Nano)

	holders, err := s.loadHolders(ctx)
	if err != nil {
		return model.State{}, false, err
	}
	if err := s.loadCheckpoints(ctx, holders); err != nil {
		return model.State{}, false, err
	}
	st.Ledger.Holders = holders

	if st.Wallets, err = s.loadWallets(ctx); err != nil {
		return model.State{}, false, err
	}
	return st, true, nil
}

func (s *Store) loadHolders(ctx context.Context) ([]model.HolderRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT address, share_balance, lock_tier_seconds, lock_rate, lock_start, lock_end
		FROM pool_holders WHERE pool=$1 ORDER BY address
	`, s.name)
	if err != nil {
		return nil, fmt.Errorf("query holders: %w", err)
	}
	defer rows.Close()

	var holders []model.HolderRecord
	for rows.Next() {
		var (
			record    model.HolderRecord
			balance   pgtype.Numeric
			tier      pgtype.Int8
			rate      pgtype.Numeric
			lockStart pgtype.Int8
			lockEnd   pgtype.Int8
		)
		if err := rows.Scan(&record.Address, &balance, &tier, &rate, &lockStart, &lockEnd); err != nil {
			return nil, fmt.Errorf("scan holder: %w", err)
		}
		if record.ShareBalance, err = numericString(balance); err != nil {
			return nil, fmt.Errorf("holder %s balance: %w", record.Address, err)
		}
		if tier.Valid {
			rateText, err := numericString(rate)
			if err != nil {
				return nil, fmt.Errorf("holder %s lock rate: %w", record.Address, err)
			}
			record.Lock = &model.LockRecord{
				TierSeconds: uint64(tier.Int64),
				Rate:        rateText,
				StartTime:   lockStart.Int64,
				EndTime:     lockEnd.Int64,
			}
		}
		holders = append(holders, record)
	}
	return holders, rows.Err()
}

func (s *Store) loadCheckpoints(ctx context.Context, holders []model.HolderRecord) error {
	index := make(map[string]int, len(holders))
	for i, h := range holders {
		index[h.Address] = i
	}

	rows, err := s.pool.Query(ctx, `
		SELECT address, ts, balance FROM pool_checkpoints
		WHERE pool=$1 ORDER BY address, seq
	`, s.name)
	if err != nil {
		return fmt.Errorf("query checkpoints: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			address string
			cp      model.CheckpointRecord
			balance pgtype.Numeric
		)
		if err := rows.Scan(&address, &cp.Timestamp, &balance); err != nil {
			return fmt.Errorf("scan checkpoint: %w", err)
		}
		if cp.Balance, err = numericString(balance); err != nil {
			return fmt.Errorf("checkpoint of %s: %w", address, err)
		}
		i, ok := index[address]
		if !ok {
			return fmt.Errorf("checkpoint for unknown holder %s", address)
		}
		holders[i].History = append(holders[i].History, cp)
	}
	return rows.Err()
}

func (s *Store) loadWallets(ctx context.Context) ([]model.WalletRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT address, balance_a, balance_b FROM pool_wallets
		WHERE pool=$1 ORDER BY address
	`, s.name)
	if err != nil {
		return nil, fmt.Errorf("query wallets: %w", err)
	}
	defer rows.Close()

	var wallets []model.WalletRecord
	for rows.Next() {
		var (
			record model.WalletRecord
			a, b   pgtype.Numeric
		)
		if err := rows.Scan(&record.Address, &a, &b); err != nil {
			return nil, fmt.Errorf("scan wallet: %w", err)
		}
		if record.BalanceA, err = numericString(a); err != nil {
			return nil, fmt.Errorf("wallet %s: %w", record.Address, err)
		}
		if record.BalanceB, err = numericString(b); err != nil {
			return nil, fmt.Errorf("wallet %s: %w", record.Address, err)
		}
		wallets = append(wallets, record)
	}
	return wallets, rows.Err()
}

// Save writes st inside one transaction. Holder and wallet rows are upserted
// and rows for addresses no longer present are removed. Checkpoint histories
// are append-only, so only checkpoints past the highest stored seq of each
// holder are inserted.
func (s *Store) Save(ctx context.Context, st model.State) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	stored, err := s.storedCheckpoints(ctx, tx)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	queued := 0
	queue := func(sql string, args ...any) {
		batch.Queue(sql, args...)
		queued++
	}

	reserveA, err := numericArg(st.Ledger.ReserveA)
	if err != nil {
		return fmt.Errorf("reserve_a: %w", err)
	}
	reserveB, err := numericArg(st.Ledger.ReserveB)
	if err != nil {
		return fmt.Errorf("reserve_b: %w", err)
	}
	total, err := numericArg(st.Ledger.TotalShares)
	if err != nil {
		return fmt.Errorf("total_shares: %w", err)
	}
	queue(`
		INSERT INTO pool_state (name, version, reserve_a, reserve_b, total_shares, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (name) DO UPDATE SET
			version = EXCLUDED.version,
			reserve_a = EXCLUDED.reserve_a,
			reserve_b = EXCLUDED.reserve_b,
			total_shares = EXCLUDED.total_shares,
			updated_at = now()
	`, s.name, st.Ledger.Version, reserveA, reserveB, total)

	holders := make([]string, 0, len(st.Ledger.Holders))
	for _, h := range st.Ledger.Holders {
		holders = append(holders, h.Address)
	}
	queue(`DELETE FROM pool_checkpoints WHERE pool=$1 AND NOT (address = ANY($2))`, s.name, holders)
	queue(`DELETE FROM pool_holders WHERE pool=$1 AND NOT (address = ANY($2))`, s.name, holders)

	for _, h := range st.Ledger.Holders {
		balance, err := numericArg(h.ShareBalance)
		if err != nil {
			return fmt.Errorf("holder %s balance: %w", h.Address, err)
		}
		var (
			tier, lockStart, lockEnd pgtype.Int8
			rate                     pgtype.Numeric
		)
		if h.Lock != nil {
			tier = pgtype.Int8{Int64: int64(h.Lock.TierSeconds), Valid: true}
			lockStart = pgtype.Int8{Int64: h.Lock.StartTime, Valid: true}
			lockEnd = pgtype.Int8{Int64: h.Lock.EndTime, Valid: true}
			if rate, err = numericArg(h.Lock.Rate); err != nil {
				return fmt.Errorf("holder %s lock rate: %w", h.Address, err)
			}
		}
		queue(`
			INSERT INTO pool_holders (pool, address, share_balance, lock_tier_seconds, lock_rate, lock_start, lock_end)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (pool, address) DO UPDATE SET
				share_balance = EXCLUDED.share_balance,
				lock_tier_seconds = EXCLUDED.lock_tier_seconds,
				lock_rate = EXCLUDED.lock_rate,
				lock_start = EXCLUDED.lock_start,
				lock_end = EXCLUDED.lock_end
		`, s.name, h.Address, balance, tier, rate, lockStart, lockEnd)
	}

	trims, inserts := planCheckpoints(stored, st.Ledger.Holders)
	for _, trim := range trims {
		queue(`DELETE FROM pool_checkpoints WHERE pool=$1 AND address=$2 AND seq >= $3`, s.name, trim.address, trim.from)
	}
	for _, row := range inserts {
		cpBalance, err := numericArg(row.checkpoint.Balance)
		if err != nil {
			return fmt.Errorf("checkpoint of %s: %w", row.address, err)
		}
		queue(`
			INSERT INTO pool_checkpoints (pool, address, seq, ts, balance)
			VALUES ($1, $2, $3, $4, $5)
		`, s.name, row.address, row.seq, row.checkpoint.Timestamp, cpBalance)
	}

	wallets := make([]string, 0, len(st.Wallets))
	for _, w := range st.Wallets {
		wallets = append(wallets, w.Address)
	}
	queue(`DELETE FROM pool_wallets WHERE pool=$1 AND NOT (address = ANY($2))`, s.name, wallets)
	for _, w := range st.Wallets {
		a, err := numericArg(w.BalanceA)
		if err != nil {
			return fmt.Errorf("wallet %s: %w", w.Address, err)
		}
		b, err := numericArg(w.BalanceB)
		if err != nil {
			return fmt.Errorf("wallet %s: %w", w.Address, err)
		}
		queue(`
			INSERT INTO pool_wallets (pool, address, balance_a, balance_b)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (pool, address) DO UPDATE SET
				balance_a = EXCLUDED.balance_a,
				balance_b = EXCLUDED.balance_b
		`, s.name, w.Address, a, b)
	}

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < queued; i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("save statement %d: %w", i, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// storedCheckpoints returns the number of checkpoints already stored per
// holder.
func (s *Store) storedCheckpoints(ctx context.Context, tx pgx.Tx) (map[string]int, error) {
	rows, err := tx.Query(ctx, `
		SELECT address, max(seq) FROM pool_checkpoints
		WHERE pool=$1 GROUP BY address
	`, s.name)
	if err != nil {
		return nil, fmt.Errorf("query stored checkpoints: %w", err)
	}
	defer rows.Close()

	stored := make(map[string]int)
	for rows.Next() {
		var (
			address string
			maxSeq  int32
		)
		if err := rows.Scan(&address, &maxSeq); err != nil {
			return nil, fmt.Errorf("scan stored checkpoints: %w", err)
		}
		stored[address] = int(maxSeq) + 1
	}
	return stored, rows.Err()
}

type checkpointTrim struct {
	address string
	from    int
}

type checkpointRow struct {
	address    string
	seq        int
	checkpoint model.CheckpointRecord
}

// planCheckpoints compares stored checkpoint counts with the holders'
// histories. A stored history longer than the current one is trimmed back;
// checkpoints beyond the stored count are inserted.
func planCheckpoints(stored map[string]int, holders []model.HolderRecord) ([]checkpointTrim, []checkpointRow) {
	var (
		trims   []checkpointTrim
		inserts []checkpointRow
	)
	for _, h := range holders {
		have := stored[h.Address]
		if have > len(h.History) {
			trims = append(trims, checkpointTrim{address: h.Address, from: len(h.History)})
			have = len(h.History)
		}
		for seq := have; seq < len(h.History); seq++ {
			inserts = append(inserts, checkpointRow{address: h.Address, seq: seq, checkpoint: h.History[seq]})
		}
	}
	return trims, inserts
}

func numericArg(value string) (pgtype.Numeric, error) {
	if value == "" {
		return pgtype.Numeric{Int: new(big.Int), Valid: true}, nil
	}
	n, ok := new(big.Int).SetString(value, 10)
	if !ok || n.Sign() < 0 {
		return pgtype.Numeric{}, fmt.Errorf("invalid integer %q", value)
	}
	return pgtype.Numeric{Int: n, Valid: true}, nil
}

// numericString renders an integral NUMERIC as a base-10 string.
func numericString(n pgtype.Numeric) (string, error) {
	if !n.Valid || n.Int == nil {
		return "", fmt.Errorf("null numeric")
	}
	if n.NaN || n.InfinityModifier != pgtype.Finite {
		return "", fmt.Errorf("non-finite numeric")
	}
	value := new(big.Int).Set(n.Int)
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(absInt32(n.Exp))), nil)
	switch {
	case n.Exp > 0:
		value.Mul(value, scale)
	case n.Exp < 0:
		var rem big.Int
		value.QuoRem(value, scale, &rem)
		if rem.Sign() != 0 {
			return "", fmt.Errorf("fractional numeric")
		}
	}
	return value.String(), nil
}

func absInt32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
