package mempool

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// SimulationRevertError is returned when a pre-submit or during-submit
// simulation reverts.
type SimulationRevertError struct {
	SubmittedAtBlock uint64
	RevertedAtBlock  uint64
}

func (e *SimulationRevertError) Error() string {
	return fmt.Sprintf("mempool: simulation reverted (submitted_at=%d reverted_at=%d)", e.SubmittedAtBlock, e.RevertedAtBlock)
}

// RevertError is returned when the mined transaction reverted on-chain.
type RevertError struct {
	TxHash common.Hash
}

func (e *RevertError) Error() string {
	return fmt.Sprintf("mempool: transaction %s reverted", e.TxHash)
}

// ExpiredError is returned when the submission deadline block passed
// without inclusion; a cancellation has already been issued.
type ExpiredError struct {
	TxHash            common.Hash
	SubmittedAtBlock  uint64
	SubmissionDeadline uint64
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("mempool: submission %s expired at deadline block %d (submitted at %d)", e.TxHash, e.SubmissionDeadline, e.SubmittedAtBlock)
}

// ErrDisabled is returned when revert-protection policy forbids
// submission on this mempool for a settlement that may revert.
var ErrDisabled = fmt.Errorf("mempool: submission disabled by revert-protection policy")

// ErrNoMempools is a fatal startup configuration error: no mempool was
// configured at all.
var ErrNoMempools = fmt.Errorf("mempool: no mempools configured")
