// Package persistence implements the append-only competition record and
// settlement-event index: a relational schema over database/sql and
// github.com/lib/pq, using raw SQL, CREATE TABLE IF NOT EXISTS migrations,
// and ON CONFLICT DO NOTHING inserts so an indexed row is never
// overwritten; ReplaceEvents deletes the event rows from a given block on
// before re-inserting.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/lib/pq"

	"github.com/cowbatch/autopilot/pkg/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS auctions (
	id           BIGSERIAL PRIMARY KEY,
	payload      JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS competitions (
	auction_id       BIGINT PRIMARY KEY,
	winner_address   TEXT NOT NULL,
	winning_score    NUMERIC NOT NULL,
	reference_score  NUMERIC NOT NULL,
	participants     TEXT[] NOT NULL,
	prices           JSONB NOT NULL,
	block_deadline   BIGINT NOT NULL,
	order_executions JSONB NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS trades (
	block_number BIGINT NOT NULL,
	log_index    BIGINT NOT NULL,
	order_uid    TEXT NOT NULL,
	owner        TEXT NOT NULL,
	sell_amount  NUMERIC NOT NULL,
	buy_amount   NUMERIC NOT NULL,
	fee_amount   NUMERIC NOT NULL,
	PRIMARY KEY (block_number, log_index)
);

CREATE TABLE IF NOT EXISTS settlements (
	block_number BIGINT NOT NULL,
	log_index    BIGINT NOT NULL,
	solver       TEXT NOT NULL,
	tx_hash      TEXT NOT NULL,
	PRIMARY KEY (block_number, log_index)
);

CREATE TABLE IF NOT EXISTS invalidations (
	block_number BIGINT NOT NULL,
	log_index    BIGINT NOT NULL,
	order_uid    TEXT NOT NULL,
	PRIMARY KEY (block_number, log_index)
);

CREATE TABLE IF NOT EXISTS presignature_events (
	block_number BIGINT NOT NULL,
	log_index    BIGINT NOT NULL,
	order_uid    TEXT NOT NULL,
	owner        TEXT NOT NULL,
	signed       BOOLEAN NOT NULL,
	PRIMARY KEY (block_number, log_index)
);
`

// TradeEvent is one settlement-contract Trade log.
type TradeEvent struct {
	BlockNumber uint64
	LogIndex    uint64
	OrderUid    domain.OrderUid
	Owner       common.Address
	SellAmount  *big.Int
	BuyAmount   *big.Int
	FeeAmount   *big.Int
}

// SettlementEvent is one settlement-contract Settlement log.
type SettlementEvent struct {
	BlockNumber uint64
	LogIndex    uint64
	Solver      common.Address
	TxHash      common.Hash
}

// InvalidationEvent is one settlement-contract OrderInvalidated log.
type InvalidationEvent struct {
	BlockNumber uint64
	LogIndex    uint64
	OrderUid    domain.OrderUid
}

// PreSignatureEvent is one settlement-contract PreSignature log.
type PreSignatureEvent struct {
	BlockNumber uint64
	LogIndex    uint64
	OrderUid    domain.OrderUid
	Owner       common.Address
	Signed      bool
}

// Events bundles one batch of settlement-contract log events, as observed
// across a (re)scanned block range.
type Events struct {
	Trades        []TradeEvent
	Settlements   []SettlementEvent
	Invalidations []InvalidationEvent
	PreSignatures []PreSignatureEvent
}

// Store is the persistence contract: append-only competition records and a
// replaceable settlement-event index.
type Store interface {
	// ReplaceCurrentAuction persists auction under a new monotonically
	// increasing id and returns it.
	ReplaceCurrentAuction(ctx context.Context, auction domain.Auction) (int64, error)

	// SaveCompetition appends one competition record.
	SaveCompetition(ctx context.Context, c domain.Competition) error

	// ReplaceEvents deletes every previously indexed event with
	// block_number >= fromBlock and inserts new within one atomic
	// transaction, absorbing the chain reorgs in that range.
	ReplaceEvents(ctx context.Context, fromBlock uint64, events Events) error

	// LastEventBlock returns the maximum block number indexed across every
	// event table, or 0 if none have been indexed yet.
	LastEventBlock(ctx context.Context) (uint64, error)

	// SettlementsInRange returns every Settlement event within
	// [fromBlock, toBlock], used by the inclusion watcher's tag scan.
	SettlementsInRange(ctx context.Context, fromBlock, toBlock uint64) ([]SettlementEvent, error)
}

// DB is a Store backed by a database/sql connection pool over Postgres.
type DB struct {
	db *sql.DB
}

// Open connects to connStr (a Postgres DSN) and ensures the schema exists.
func Open(connStr string) (*DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("persistence: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("persistence: ping: %w", err)
	}
	store := &DB{db: db}
	if err := store.migrate(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *DB) migrate() error {
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("persistence: migrate: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *DB) Close() error {
	return s.db.Close()
}

func (s *DB) ReplaceCurrentAuction(ctx context.Context, auction domain.Auction) (int64, error) {
	payload, err := json.Marshal(auction)
	if err != nil {
		return 0, fmt.Errorf("persistence: marshal auction: %w", err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO auctions (payload) VALUES ($1) RETURNING id
	`, payload).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("persistence: insert auction: %w", err)
	}
	return id, nil
}

func (s *DB) SaveCompetition(ctx context.Context, c domain.Competition) error {
	participants := make([]string, len(c.Participants))
	for i, p := range c.Participants {
		participants[i] = p.Hex()
	}

	prices := make(map[string]string, len(c.Prices))
	for token, price := range c.Prices {
		prices[token.Hex()] = price.Uint256().ToBig().String()
	}
	pricesJSON, err := json.Marshal(prices)
	if err != nil {
		return fmt.Errorf("persistence: marshal prices: %w", err)
	}

	executionsJSON, err := json.Marshal(c.OrderExecutions)
	if err != nil {
		return fmt.Errorf("persistence: marshal order executions: %w", err)
	}

	winningScore := "0"
	if c.WinningScore != nil {
		winningScore = c.WinningScore.String()
	}
	referenceScore := "0"
	if c.ReferenceScore != nil {
		referenceScore = c.ReferenceScore.String()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO competitions (auction_id, winner_address, winning_score, reference_score, participants, prices, block_deadline, order_executions)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (auction_id) DO NOTHING
	`, c.AuctionId, c.WinnerAddress.Hex(), winningScore, referenceScore, pqStringArray(participants), pricesJSON, c.BlockDeadline, executionsJSON)
	if err != nil {
		return fmt.Errorf("persistence: insert competition: %w", err)
	}
	return nil
}

func (s *DB) ReplaceEvents(ctx context.Context, fromBlock uint64, events Events) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("persistence: begin replace_events: %w", err)
	}
	defer tx.Rollback()

	tables := []string{"trades", "settlements", "invalidations", "presignature_events"}
	for _, table := range tables {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE block_number >= $1`, table), fromBlock); err != nil {
			return fmt.Errorf("persistence: delete from %s: %w", table, err)
		}
	}

	for _, e := range events.Trades {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO trades (block_number, log_index, order_uid, owner, sell_amount, buy_amount, fee_amount)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (block_number, log_index) DO NOTHING
		`, e.BlockNumber, e.LogIndex, e.OrderUid.String(), e.Owner.Hex(), e.SellAmount.String(), e.BuyAmount.String(), e.FeeAmount.String())
		if err != nil {
			return fmt.Errorf("persistence: insert trade: %w", err)
		}
	}

	for _, e := range events.Settlements {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO settlements (block_number, log_index, solver, tx_hash)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (block_number, log_index) DO NOTHING
		`, e.BlockNumber, e.LogIndex, e.Solver.Hex(), e.TxHash.Hex())
		if err != nil {
			return fmt.Errorf("persistence: insert settlement: %w", err)
		}
	}

	for _, e := range events.Invalidations {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO invalidations (block_number, log_index, order_uid)
			VALUES ($1, $2, $3)
			ON CONFLICT (block_number, log_index) DO NOTHING
		`, e.BlockNumber, e.LogIndex, e.OrderUid.String())
		if err != nil {
			return fmt.Errorf("persistence: insert invalidation: %w", err)
		}
	}

	for _, e := range events.PreSignatures {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO presignature_events (block_number, log_index, order_uid, owner, signed)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (block_number, log_index) DO NOTHING
		`, e.BlockNumber, e.LogIndex, e.OrderUid.String(), e.Owner.Hex(), e.Signed)
		if err != nil {
			return fmt.Errorf("persistence: insert presignature: %w", err)
		}
	}

	return tx.Commit()
}

func (s *DB) LastEventBlock(ctx context.Context) (uint64, error) {
	const q = `
		SELECT COALESCE(MAX(block_number), 0) FROM (
			SELECT MAX(block_number) AS block_number FROM trades
			UNION ALL
			SELECT MAX(block_number) FROM settlements
			UNION ALL
			SELECT MAX(block_number) FROM invalidations
			UNION ALL
			SELECT MAX(block_number) FROM presignature_events
		) AS all_blocks
	`
	var max int64
	if err := s.db.QueryRowContext(ctx, q).Scan(&max); err != nil {
		return 0, fmt.Errorf("persistence: last_event_block: %w", err)
	}
	if max < 0 {
		return 0, nil
	}
	return uint64(max), nil
}

func (s *DB) SettlementsInRange(ctx context.Context, fromBlock, toBlock uint64) ([]SettlementEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT block_number, log_index, solver, tx_hash FROM settlements
		WHERE block_number BETWEEN $1 AND $2
		ORDER BY block_number, log_index
	`, fromBlock, toBlock)
	if err != nil {
		return nil, fmt.Errorf("persistence: settlements_in_range: %w", err)
	}
	defer rows.Close()

	var out []SettlementEvent
	for rows.Next() {
		var e SettlementEvent
		var solver, txHash string
		if err := rows.Scan(&e.BlockNumber, &e.LogIndex, &solver, &txHash); err != nil {
			return nil, fmt.Errorf("persistence: scan settlement: %w", err)
		}
		e.Solver = common.HexToAddress(solver)
		e.TxHash = common.HexToHash(txHash)
		out = append(out, e)
	}
	return out, rows.Err()
}

// pqStringArray renders a Go string slice as a Postgres TEXT[] literal, the
// way database/sql/driver expects for lib/pq without pulling in its
// separate pq.Array helper package.
func pqStringArray(values []string) string {
	out := "{"
	for i, v := range values {
		if i > 0 {
			out += ","
		}
		out += `"` + v + `"`
	}
	return out + "}"
}
