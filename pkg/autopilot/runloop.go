// Package autopilot implements the top-level coordination loop: snapshot an
// auction, prioritize it, broadcast it to every configured driver under one
// deadline, arbitrate the returned solutions, persist a competition record,
// settle through the winning driver, and watch the chain for its inclusion.
package autopilot

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cowbatch/autopilot/pkg/arbitrator"
	"github.com/cowbatch/autopilot/pkg/auctionprocessor"
	"github.com/cowbatch/autopilot/pkg/clock"
	"github.com/cowbatch/autopilot/pkg/domain"
	"github.com/cowbatch/autopilot/pkg/driverapi"
	"github.com/cowbatch/autopilot/pkg/eth"
	"github.com/cowbatch/autopilot/pkg/orderbook"
	"github.com/cowbatch/autopilot/pkg/persistence"
)

// NamedDriver pairs a driver's HTTP client with the on-chain solver address
// it was configured to settle as, so the run loop can tell them apart in
// its competition record without calling back into the driver for it.
type NamedDriver struct {
	Name    string
	Address common.Address
	Client  *DriverClient
}

// RunLoop is the autopilot's top-level coordinator for one network.
type RunLoop struct {
	orderbook  orderbook.Client
	processor  *auctionprocessor.Processor
	drivers    []NamedDriver
	arbitrator *arbitrator.Arbitrator
	store      persistence.Store
	ethClient  eth.Client
	clk        clock.Clock
	budgets    clock.Budgets
	logger     *zap.SugaredLogger

	submissionDeadlineBlocks     uint64
	additionalDeadlineForRewards uint64
	maxReorgBlockCount           uint64

	nextRequestID uint64
}

// New returns a RunLoop wired to its collaborators.
func New(
	ob orderbook.Client,
	processor *auctionprocessor.Processor,
	drivers []NamedDriver,
	arb *arbitrator.Arbitrator,
	store persistence.Store,
	ethClient eth.Client,
	clk clock.Clock,
	budgets clock.Budgets,
	submissionDeadlineBlocks, additionalDeadlineForRewards, maxReorgBlockCount uint64,
	logger *zap.SugaredLogger,
) *RunLoop {
	return &RunLoop{
		orderbook:                    ob,
		processor:                    processor,
		drivers:                      drivers,
		arbitrator:                   arb,
		store:                        store,
		ethClient:                    ethClient,
		clk:                          clk,
		budgets:                      budgets,
		submissionDeadlineBlocks:     submissionDeadlineBlocks,
		additionalDeadlineForRewards: additionalDeadlineForRewards,
		maxReorgBlockCount:           maxReorgBlockCount,
		logger:                       logger,
	}
}

// RunForever repeats SingleRun until ctx is cancelled, sleeping briefly
// between rounds regardless of outcome.
func (r *RunLoop) RunForever(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r.SingleRun(ctx)

		select {
		case <-ctx.Done():
			return
		case <-r.clk.After(time.Second):
		}
	}
}

// SingleRun executes one full auction round: snapshot, persist, prioritize,
// broadcast, arbitrate, persist the competition, settle, and watch for
// inclusion. Every step that can fail independently logs and returns early
// rather than panicking, so one bad round never stops the loop.
func (r *RunLoop) SingleRun(ctx context.Context) {
	auction, ok, err := r.orderbook.CurrentAuction(ctx)
	if err != nil {
		r.logger.Errorw("failed to fetch current auction", "err", err)
		return
	}
	if !ok {
		r.logger.Debugw("no current auction")
		return
	}

	id, err := r.store.ReplaceCurrentAuction(ctx, auction)
	if err != nil {
		r.logger.Errorw("failed to persist current auction", "err", err)
		return
	}
	auction.Id = &id

	prioritized, err := r.processor.Prioritize(ctx, auction)
	if err != nil {
		r.logger.Errorw("failed to prioritize auction", "auctionId", id, "err", err)
		return
	}

	nativePrices := prioritized.Tokens
	native := make(map[common.Address]domain.Price, len(nativePrices))
	for addr, info := range nativePrices {
		if info.Price != nil {
			native[addr] = *info.Price
		}
	}

	solutions := r.broadcast(ctx, prioritized)
	if len(solutions) == 0 {
		r.logger.Infow("no solutions returned", "auctionId", id)
		return
	}

	ranking := r.arbitrator.Arbitrate(prioritized, solutions, arbitrator.Context{
		NativePrices: native,
		MaxWinners:   1,
	})

	winners := ranking.Winners()
	if len(winners) == 0 {
		r.logger.Infow("no winning solution", "auctionId", id)
		return
	}
	winner := winners[0]
	if winner.DeclaredScore != nil && winner.DeclaredScore.Sign() == 0 {
		r.logger.Infow("winning solution has zero score, skipping settlement", "auctionId", id)
		return
	}

	currentBlock, err := r.ethClient.CurrentBlockNumber(ctx)
	if err != nil {
		r.logger.Errorw("failed to read current block", "auctionId", id, "err", err)
		return
	}
	submissionDeadlineBlock := currentBlock + r.submissionDeadlineBlocks
	blockDeadline := submissionDeadlineBlock + r.additionalDeadlineForRewards

	competition := r.buildCompetition(id, prioritized, ranking, winner, blockDeadline)
	if err := r.store.SaveCompetition(ctx, competition); err != nil {
		r.logger.Errorw("failed to save competition record", "auctionId", id, "err", err)
		return
	}

	winningDriver, ok := r.driverByAddress(winner.SolverAddress)
	if !ok {
		r.logger.Errorw("winning solver has no matching driver client", "auctionId", id, "solver", winner.SolverAddress)
		return
	}

	settleResp, err := winningDriver.Client.Settle(ctx, driverapi.SettleRequest{
		AuctionId:               id,
		SolutionId:              winner.Id,
		SubmissionDeadlineBlock: submissionDeadlineBlock,
	})
	if err != nil {
		r.logger.Errorw("settle request failed", "auctionId", id, "driver", winningDriver.Name, "err", err)
		return
	}
	r.logger.Infow("settlement submitted", "auctionId", id, "driver", winningDriver.Name, "status", settleResp.Status)

	r.waitForInclusion(ctx, id, currentBlock, blockDeadline)
}

// broadcast fans every driver's /solve call out under one shared deadline
// (errgroup), collecting whatever solutions arrive before it expires. A
// single driver's failure or timeout never blocks the others.
func (r *RunLoop) broadcast(ctx context.Context, auction domain.Auction) []domain.Solution {
	deadline := clock.NewDeadline(r.clk, auction.Deadline).DriverDeadline(r.budgets)
	remaining, err := deadline.Remaining()
	if err != nil {
		r.logger.Warnw("auction deadline already passed before broadcast", "err", err)
		return nil
	}
	broadcastCtx, cancel := context.WithTimeout(ctx, remaining)
	defer cancel()

	requestID := r.nextRequestID
	r.nextRequestID++

	req := buildSolveRequest(requestID, auction)

	results := make([][]domain.Solution, len(r.drivers))
	g, gctx := errgroup.WithContext(broadcastCtx)
	for i, d := range r.drivers {
		i, d := i, d
		g.Go(func() error {
			resp, err := d.Client.Solve(gctx, req)
			if err != nil {
				r.logger.Warnw("driver solve failed", "driver", d.Name, "err", err)
				return nil
			}
			results[i] = decodeSolutions(resp)
			return nil
		})
	}
	_ = g.Wait()

	var out []domain.Solution
	for _, sols := range results {
		out = append(out, sols...)
	}
	return out
}

func (r *RunLoop) driverByAddress(addr common.Address) (NamedDriver, bool) {
	for _, d := range r.drivers {
		if d.Address == addr {
			return d, true
		}
	}
	return NamedDriver{}, false
}

// buildCompetition assembles the append-only record for one auction round:
// the winner, its score, the runner-up reference score the arbitrator
// computed for reward purposes, every participating solver, the clearing
// prices of tokens the winning solution actually touched, and the executed
// orders it traded.
func (r *RunLoop) buildCompetition(auctionID int64, auction domain.Auction, ranking domain.Ranking, winner domain.Solution, blockDeadline uint64) domain.Competition {
	orderIndex := make(map[domain.OrderUid]domain.Order, len(auction.Orders))
	for _, o := range auction.Orders {
		orderIndex[o.Uid] = o
	}

	participantSet := make(map[common.Address]bool)
	for _, rs := range ranking.Ranked {
		participantSet[rs.Solution.SolverAddress] = true
	}
	participants := make([]common.Address, 0, len(participantSet))
	for addr := range participantSet {
		participants = append(participants, addr)
	}

	prices := make(map[common.Address]domain.Price)
	executions := make([]domain.OrderExecution, 0, len(winner.OrdersIncluded))
	for _, eo := range winner.OrdersIncluded {
		order, ok := orderIndex[eo.Uid]
		if !ok {
			r.logger.Debugw("winning order not found in auction", "uid", eo.Uid)
			continue
		}
		if p, ok := winner.ClearingPrices[order.SellToken]; ok {
			prices[order.SellToken] = p
		}
		if p, ok := winner.ClearingPrices[order.BuyToken]; ok {
			prices[order.BuyToken] = p
		}
		executions = append(executions, domain.OrderExecution{Uid: eo.Uid, Executed: eo.Executed})
	}

	referenceScore := r.arbitrator.ReferenceScore(winner.SolverAddress)
	if referenceScore == nil {
		referenceScore = big.NewInt(0)
	}
	winningScore := winner.DeclaredScore
	if winningScore == nil {
		winningScore = big.NewInt(0)
	}

	return domain.Competition{
		AuctionId:       auctionID,
		WinnerAddress:   winner.SolverAddress,
		WinningScore:    winningScore,
		ReferenceScore:  referenceScore,
		Participants:    participants,
		Prices:          prices,
		BlockDeadline:   blockDeadline,
		OrderExecutions: executions,
	}
}

// waitForInclusion polls settlement events tagged with auctionID's
// big-endian id suffix, starting maxReorgBlockCount blocks behind the
// current block to absorb any reorg, until either a tagged settlement is
// found or blockDeadline passes.
func (r *RunLoop) waitForInclusion(ctx context.Context, auctionID int64, startBlock, blockDeadline uint64) {
	from := startBlock
	if r.maxReorgBlockCount < from {
		from -= r.maxReorgBlockCount
	} else {
		from = 0
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.clk.After(r.budgets.RewardWindow + 2*time.Second):
		}

		current, err := r.ethClient.CurrentBlockNumber(ctx)
		if err != nil {
			r.logger.Warnw("inclusion watcher: failed to read current block", "auctionId", auctionID, "err", err)
			continue
		}

		events, err := r.store.SettlementsInRange(ctx, from, current)
		if err != nil {
			r.logger.Warnw("inclusion watcher: failed to query settlements", "auctionId", auctionID, "err", err)
			continue
		}
		if r.settlementMatchesAuction(ctx, auctionID, events) {
			r.logger.Infow("settlement observed in range with matching auction tag", "auctionId", auctionID)
			return
		}

		if current >= blockDeadline {
			r.logger.Warnw("inclusion watcher: deadline passed without observing settlement", "auctionId", auctionID)
			return
		}
	}
}

// settlementMatchesAuction fetches each candidate settlement's call data and
// compares its trailing auction-id tag against auctionID: presence in the
// block range alone isn't enough once more than one auction's settlement
// can land inside the same reorg window.
func (r *RunLoop) settlementMatchesAuction(ctx context.Context, auctionID int64, events []persistence.SettlementEvent) bool {
	for _, event := range events {
		callData, err := r.ethClient.TransactionCallData(ctx, event.TxHash)
		if err != nil {
			r.logger.Warnw("inclusion watcher: failed to fetch call data", "auctionId", auctionID, "txHash", event.TxHash, "err", err)
			continue
		}
		if tag, ok := domain.ExtractAuctionIdTag(callData); ok && tag == auctionID {
			return true
		}
	}
	return false
}
