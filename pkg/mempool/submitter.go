// Package mempool implements the per-mempool submission state machine and
// the first-success multiplexer across mempools.
package mempool

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/cowbatch/autopilot/pkg/clock"
	"github.com/cowbatch/autopilot/pkg/domain"
	"github.com/cowbatch/autopilot/pkg/eth"
	"github.com/cowbatch/autopilot/params"
)

// SubmissionSuccess is the happy-path result of a successful submission.
type SubmissionSuccess struct {
	TxHash           common.Hash
	SubmittedAtBlock uint64
	IncludedInBlock  uint64
}

// Submitter drives one settlement through one mempool's submission state
// machine.
type Submitter struct {
	client eth.Client
	cfg    params.MempoolConfig
	global params.RevertProtectionPolicy

	gasPriceCap   *big.Int
	blockInterval time.Duration
	clk           clock.Clock
	logger        *zap.SugaredLogger
}

// NewSubmitter returns a Submitter for one configured mempool. blockInterval
// is the network's average block time, used to pace polling.
func NewSubmitter(client eth.Client, cfg params.MempoolConfig, global params.RevertProtectionPolicy, gasPriceCap *big.Int, blockInterval time.Duration, clk clock.Clock, logger *zap.SugaredLogger) *Submitter {
	return &Submitter{
		client:        client,
		cfg:           cfg,
		global:        global,
		gasPriceCap:   gasPriceCap,
		blockInterval: blockInterval,
		clk:           clk,
		logger:        logger,
	}
}

// mayRevert reports whether this mempool accepts settlements that might
// revert: true for a public pool without revert protection, false
// otherwise.
func (s *Submitter) mayRevert() bool {
	return s.cfg.MayRevert()
}

// Submit sends settlement on behalf of solver and polls until it either
// lands on chain, reverts, or passes submissionDeadlineBlock unresolved.
// auctionID is stamped onto the raw transaction's call data so the
// autopilot's inclusion watcher can later tell this auction's settlement
// apart from any other auction's landing in the same block range.
func (s *Submitter) Submit(ctx context.Context, settlement domain.Settlement, solver common.Address, auctionID int64, submissionDeadlineBlock uint64) (SubmissionSuccess, error) {
	if settlement.MayRevert && s.global == params.RevertProtectionEnabled && s.mayRevert() {
		return SubmissionSuccess{}, ErrDisabled
	}

	result, err := s.attempt(ctx, settlement, solver, auctionID, submissionDeadlineBlock)
	if err == nil {
		return result, nil
	}

	// Last-chance check: on an error that carries the hash of a broadcast
	// transaction (ExpiredError, RevertError), query its status once more
	// before returning, to absorb races with block propagation. Other
	// errors, including a SimulationRevertError after broadcast, are
	// returned without this check.
	if hash, ok := txHashFromError(err); ok {
		status, statusErr := s.client.TransactionStatus(ctx, hash)
		if statusErr == nil && status == eth.TxExecuted {
			currentBlock, _ := s.client.CurrentBlockNumber(ctx)
			return SubmissionSuccess{TxHash: hash, IncludedInBlock: currentBlock}, nil
		}
	}
	return result, err
}

type hasTxHash interface {
	txHash() common.Hash
}

func (e *ExpiredError) txHash() common.Hash { return e.TxHash }
func (e *RevertError) txHash() common.Hash  { return e.TxHash }

func txHashFromError(err error) (common.Hash, bool) {
	if h, ok := err.(hasTxHash); ok {
		return h.txHash(), true
	}
	return common.Hash{}, false
}

// attempt runs one full pass of the state machine on one nonce.
func (s *Submitter) attempt(ctx context.Context, settlement domain.Settlement, solver common.Address, auctionID int64, submissionDeadlineBlock uint64) (SubmissionSuccess, error) {
	nonce, err := s.client.NonceAt(ctx, solver)
	if err != nil {
		return SubmissionSuccess{}, err
	}

	startBlock, err := s.client.CurrentBlockNumber(ctx)
	if err != nil {
		return SubmissionSuccess{}, err
	}
	// "skip current block": the first submission opportunity is the block
	// after the one observed when this attempt began.
	startBlock++

	interaction := firstInteraction(settlement)
	if _, err := s.client.EstimateGas(ctx, solver, interaction.Target, interaction.Value, interaction.CallData); err != nil {
		return SubmissionSuccess{}, &SimulationRevertError{SubmittedAtBlock: startBlock, RevertedAtBlock: startBlock}
	}

	currentGp, err := s.currentGasPrice(ctx)
	if err != nil {
		return SubmissionSuccess{}, err
	}
	replacementGp := s.replacementGasPriceFromMempool(ctx, solver, nonce)

	blocksUntilDeadline := blocksUntil(startBlock, submissionDeadlineBlock)
	gp := ComputeSubmissionGasPrice(replacementGp, currentGp, blocksUntilDeadline, s.gasPriceCap)

	raw := encodeTransaction(interaction, nonce, gp, auctionID)
	hash, err := s.client.SendRawTransaction(ctx, raw)
	if err != nil {
		return SubmissionSuccess{}, err
	}

	return s.pollUntilResolved(ctx, hash, solver, nonce, gp, startBlock, submissionDeadlineBlock, interaction)
}

// pollUntilResolved polls for inclusion once per block interval,
// re-simulating the settlement each time, until the transaction lands,
// reverts, its simulation reverts, or the deadline passes. It does not
// re-price or resubmit; the gas price is fixed at submission.
func (s *Submitter) pollUntilResolved(ctx context.Context, hash common.Hash, solver common.Address, nonce uint64, gp GasPrice, submittedAtBlock, submissionDeadlineBlock uint64, interaction domain.Interaction) (SubmissionSuccess, error) {
	for {
		clock.Sleep(s.clk, s.blockInterval)

		status, err := s.client.TransactionStatus(ctx, hash)
		if err == nil {
			switch status {
			case eth.TxExecuted:
				block, _ := s.client.CurrentBlockNumber(ctx)
				return SubmissionSuccess{TxHash: hash, SubmittedAtBlock: submittedAtBlock, IncludedInBlock: block}, nil
			case eth.TxReverted:
				return SubmissionSuccess{}, &RevertError{TxHash: hash}
			}
		}

		currentBlock, err := s.client.CurrentBlockNumber(ctx)
		if err != nil {
			continue
		}

		if currentBlock >= submissionDeadlineBlock {
			s.cancel(ctx, solver, nonce, gp)
			return SubmissionSuccess{}, &ExpiredError{TxHash: hash, SubmittedAtBlock: submittedAtBlock, SubmissionDeadline: submissionDeadlineBlock}
		}

		if _, err := s.client.EstimateGas(ctx, solver, interaction.Target, interaction.Value, interaction.CallData); err != nil {
			s.cancel(ctx, solver, nonce, gp)
			return SubmissionSuccess{}, &SimulationRevertError{SubmittedAtBlock: submittedAtBlock, RevertedAtBlock: currentBlock}
		}
	}
}

// cancel issues a self-transfer cancellation at a bumped gas price to
// replace the same nonce.
func (s *Submitter) cancel(ctx context.Context, solver common.Address, nonce uint64, original GasPrice) {
	replacement := s.replacementGasPriceFromMempool(ctx, solver, nonce)
	gp := CancellationGasPrice(&replacement, original)
	raw := encodeCancellation(solver, nonce, gp)
	if _, err := s.client.SendRawTransaction(ctx, raw); err != nil {
		s.logger.Warnw("cancellation submission failed", "solver", solver, "nonce", nonce, "err", err)
	}
}

// replacementGasPriceFromMempool implements
// minimum_replacement_gas_price_based_on_mempool /
// find_pending_tx_in_mempool: probe the node's txpool for a still-pending
// transaction at this nonce and base the replacement on it, bumped by 1.3;
// falls back to a zero price (the caller then uses currentGp instead) if
// none is found.
func (s *Submitter) replacementGasPriceFromMempool(ctx context.Context, solver common.Address, nonce uint64) GasPrice {
	pending, err := s.client.PendingTransactionsFrom(ctx, solver)
	if err != nil {
		return GasPrice{Max: big.NewInt(0), Tip: big.NewInt(0)}
	}
	for _, tx := range pending {
		if tx.Nonce == nonce {
			return ReplacementGasPrice(GasPrice{Max: tx.GasPrice, Tip: tx.GasTip})
		}
	}
	return GasPrice{Max: big.NewInt(0), Tip: big.NewInt(0)}
}

func (s *Submitter) currentGasPrice(ctx context.Context) (GasPrice, error) {
	gp, err := s.client.CurrentGasPrice(ctx)
	if err != nil {
		return GasPrice{}, err
	}
	return GasPrice{Max: gp, Tip: gp}, nil
}

func blocksUntil(current, deadline uint64) uint64 {
	if deadline <= current {
		return 0
	}
	return deadline - current
}

func firstInteraction(settlement domain.Settlement) domain.Interaction {
	if len(settlement.Interactions) == 0 {
		return domain.Interaction{Value: big.NewInt(0)}
	}
	return settlement.Interactions[0]
}

// encodeTransaction and encodeCancellation produce raw signed-transaction
// bytes. The actual RLP encoding and signing is performed by the eth.Client
// adapter's wallet; this package only assembles the logical fields it
// needs, since the raw wire format belongs to that external collaborator.
//
// encodeTransaction appends the auction-id tag to the call data: the
// settlement contract tolerates trailing bytes past what its ABI decoding
// consumes, so the tag rides along on chain without touching execution.
func encodeTransaction(interaction domain.Interaction, nonce uint64, gp GasPrice, auctionID int64) []byte {
	data := domain.AppendAuctionIdTag(interaction.CallData, auctionID)
	return marshalCall(interaction.Target, interaction.Value, data, nonce, gp, 0)
}

func encodeCancellation(self common.Address, nonce uint64, gp GasPrice) []byte {
	return marshalCall(self, big.NewInt(0), nil, nonce, gp, CancellationGasAmount)
}

// marshalCall is a minimal placeholder wire format; a real eth.Client
// implementation is expected to re-sign and re-encode from the logical
// fields rather than trust this byte layout, since actual RLP/EIP-1559
// encoding lives in the out-of-scope RPC client.
func marshalCall(to common.Address, value *big.Int, data []byte, nonce uint64, gp GasPrice, gasLimit uint64) []byte {
	out := append([]byte{}, to.Bytes()...)
	if value != nil {
		out = append(out, value.Bytes()...)
	}
	out = append(out, data...)
	return out
}
