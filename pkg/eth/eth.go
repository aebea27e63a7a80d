// Package eth specifies the blockchain RPC contract the rest of the module
// depends on. The RPC client itself is an external collaborator outside
// this module's scope; only the interface driver/mempool code is written
// against lives here.
package eth

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PendingTx is one transaction as reported by a mempool's pending/queued
// content, used to probe for a replacement gas price.
type PendingTx struct {
	Hash     common.Hash
	Nonce    uint64
	GasPrice *big.Int // effective max fee per gas
	GasTip   *big.Int // max priority fee per gas
}

// TxStatus classifies the on-chain status of a submitted transaction.
type TxStatus uint8

const (
	TxPending TxStatus = iota
	TxExecuted
	TxReverted
)

// Client is the blockchain RPC surface consumed by the mempool submitter
// and the autopilot's inclusion watcher.
type Client interface {
	CurrentBlockNumber(ctx context.Context) (uint64, error)

	// NonceAt returns the next usable nonce for addr.
	NonceAt(ctx context.Context, addr common.Address) (uint64, error)

	// EstimateGas simulates a call and returns an error if it would
	// revert.
	EstimateGas(ctx context.Context, from common.Address, to common.Address, value *big.Int, data []byte) (uint64, error)

	// SendRawTransaction submits an already-signed raw transaction.
	SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error)

	// TransactionStatus polls the status of a previously submitted
	// transaction.
	TransactionStatus(ctx context.Context, hash common.Hash) (TxStatus, error)

	// BalanceOf returns the ERC-20 balance of owner for token, or the
	// native balance when token is the zero address.
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)

	// PendingTransactionsFrom returns the pending and queued transactions
	// a given sender currently has in one mempool's txpool, used by the
	// submitter to probe a live replacement gas price before bumping
	// blindly.
	PendingTransactionsFrom(ctx context.Context, from common.Address) ([]PendingTx, error)

	// CurrentGasPrice returns the network's current suggested gas price.
	CurrentGasPrice(ctx context.Context) (*big.Int, error)

	// TransactionCallData returns the call data of a previously broadcast
	// transaction, used by the inclusion watcher to recover the
	// auction-id tag a settlement's call data was stamped with before
	// submission.
	TransactionCallData(ctx context.Context, hash common.Hash) ([]byte, error)
}
