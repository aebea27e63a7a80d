// Package driver implements one solver's per-auction solve lifecycle:
// request construction, solution decoding and validation, settlement
// encoding and merging, CIP-38 scoring, caching the current best
// settlement, and re-simulating it until the submission deadline.
package driver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/cowbatch/autopilot/pkg/clock"
	"github.com/cowbatch/autopilot/pkg/domain"
	"github.com/cowbatch/autopilot/pkg/eth"
	"github.com/cowbatch/autopilot/pkg/liquidity"
	"github.com/cowbatch/autopilot/pkg/mempool"
	"github.com/cowbatch/autopilot/pkg/solverclient"
)

// ErrSolutionMismatch is returned by Settle when the solution id the
// autopilot's cross-driver arbitration declared the winner no longer
// matches what this driver currently has cached: the driver may have run
// another /solve since, or its own best-settlement pick never agreed with
// the arbitrated winner in the first place.
var ErrSolutionMismatch = fmt.Errorf("driver: cached settlement does not match the requested solution id")

// Driver owns one solver's entire lifecycle for one running process: it
// calls the solver, builds settlements, and keeps the best one ready for
// submission.
type Driver struct {
	name             string
	address          common.Address // this solver's on-chain identity, stamped onto every decoded solution
	solver           *solverclient.Client
	liquidityFetcher liquidity.Fetcher // nil if this driver skips liquidity
	ethClient        eth.Client
	submitters       *mempool.Multiplexer
	clk              clock.Clock
	budgets          clock.Budgets
	logger           *zap.SugaredLogger

	mu      sync.Mutex
	current *domain.Settlement
	auction domain.Auction
}

// New returns a Driver wired to one solver endpoint. address is this
// solver's on-chain identity, stamped onto every solution it returns so
// cross-driver arbitration and mempool submission can attribute it.
func New(name string, address common.Address, solver *solverclient.Client, liquidityFetcher liquidity.Fetcher, ethClient eth.Client, submitters *mempool.Multiplexer, clk clock.Clock, budgets clock.Budgets, logger *zap.SugaredLogger) *Driver {
	return &Driver{
		name:             name,
		address:          address,
		solver:           solver,
		liquidityFetcher: liquidityFetcher,
		ethClient:        ethClient,
		submitters:       submitters,
		clk:              clk,
		budgets:          budgets,
		logger:           logger,
	}
}

// Solve fetches liquidity, calls the solver under a bounded deadline,
// decodes and validates every returned solution,
// encodes each into its Internalized settlement, merges what it can, scores
// the results, and caches the best one as "current". It returns the
// decoded, validated solutions so a caller (the autopilot) can also run
// them through cross-driver arbitration.
func (d *Driver) Solve(ctx context.Context, requestID uint64, auction domain.Auction, cowAmmOwners map[common.Address]bool, nativePrices map[common.Address]domain.Price) ([]domain.Solution, error) {
	deadline := clock.NewDeadline(d.clk, auction.Deadline).SolveDeadline(d.budgets)
	remaining, err := deadline.Remaining()
	if err != nil {
		return nil, err
	}
	solveCtx, cancel := context.WithTimeout(ctx, remaining)
	defer cancel()

	var sources []liquidity.Source
	if d.liquidityFetcher != nil {
		pairs := tokenPairs(auction.Orders)
		sources, err = d.liquidityFetcher.Fetch(solveCtx, pairs)
		if err != nil {
			d.logger.Warnw("liquidity fetch failed, continuing without it", "driver", d.name, "err", err)
			sources = nil
		}
	}

	req := buildRequest(requestID, auction, sources)
	resp, err := d.solver.Solve(solveCtx, req)
	if err != nil {
		return nil, err
	}

	orderIndex := make(map[domain.OrderUid]domain.Order, len(auction.Orders))
	for _, o := range auction.Orders {
		orderIndex[o.Uid] = o
	}

	solutions := d.decodeAndValidate(resp, orderIndex, cowAmmOwners)
	if len(solutions) == 0 {
		return nil, nil
	}

	best := d.bestSettlement(orderIndex, solutions, nativePrices)
	if best != nil {
		d.mu.Lock()
		d.current = best
		d.auction = auction
		d.mu.Unlock()
	}

	return solutions, nil
}

// decodeAndValidate implements the dedup-by-id, drop-empty, and CoW-AMM
// ownership checks a solver response must pass before its solutions are
// trusted.
func (d *Driver) decodeAndValidate(resp solverclient.Response, orderIndex map[domain.OrderUid]domain.Order, cowAmmOwners map[common.Address]bool) []domain.Solution {
	seen := make(map[uint64]bool, len(resp.Solutions))
	out := make([]domain.Solution, 0, len(resp.Solutions))

	for _, wire := range resp.Solutions {
		if seen[wire.Id] {
			d.logger.Warnw("dropping solution: duplicate id", "driver", d.name, "solutionId", wire.Id)
			continue
		}
		seen[wire.Id] = true

		sol, err := decodeSolution(wire)
		if err != nil {
			d.logger.Warnw("dropping solution: decode failed", "driver", d.name, "err", err)
			continue
		}
		sol.SolverAddress = d.address
		if sol.IsEmpty() {
			continue
		}
		if err := sol.Validate(orderIndex, cowAmmOwners); err != nil {
			d.logger.Warnw("dropping solution: validation failed", "driver", d.name, "err", err)
			continue
		}
		out = append(out, sol)
	}
	return out
}

// bestSettlement encodes every solution, merges what it can, scores the
// resulting candidates, and returns the highest-scoring one.
func (d *Driver) bestSettlement(orderIndex map[domain.OrderUid]domain.Order, solutions []domain.Solution, nativePrices map[common.Address]domain.Price) *domain.Settlement {
	candidates := make([]domain.Settlement, 0, len(solutions))
	for _, sol := range solutions {
		candidates = append(candidates, encodeSettlement(sol, domain.Internalized))
	}
	candidates = mergeAll(candidates)
	return selectBest(orderIndex, candidates, nativePrices, d.logger)
}

// tokenPairs collects the unordered set of (sell, buy) token pairs traded
// by orders in an auction, for a liquidity fetcher to consult.
func tokenPairs(orders []domain.Order) []liquidity.TokenPair {
	seen := make(map[liquidity.TokenPair]bool)
	var out []liquidity.TokenPair
	for _, o := range orders {
		p := liquidity.TokenPair{A: o.SellToken, B: o.BuyToken}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// Current returns the settlement currently cached as best, if any.
func (d *Driver) Current() (domain.Settlement, domain.Auction, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == nil {
		return domain.Settlement{}, domain.Auction{}, false
	}
	return *d.current, d.auction, true
}

// Void clears the cached settlement; Watch calls it when re-simulation
// observes a revert. A later Solve that finds a best settlement replaces
// the cached one directly.
func (d *Driver) Void() {
	d.mu.Lock()
	d.current = nil
	d.mu.Unlock()
}

// Watch re-simulates the current settlement once a second (on the driver's
// clock) until the chain reaches submissionDeadlineBlock, voiding it on
// first revert. It returns at that block, once the settlement is voided or
// gone, or when the context is cancelled.
func (d *Driver) Watch(ctx context.Context, submissionDeadlineBlock uint64) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.clk.After(time.Second):
		}

		settlement, _, ok := d.Current()
		if !ok {
			return
		}

		block, err := d.ethClient.CurrentBlockNumber(ctx)
		if err != nil {
			continue
		}
		if block >= submissionDeadlineBlock {
			return
		}

		if revertsNow(ctx, d.ethClient, settlement) {
			d.logger.Warnw("voiding winner: re-simulation reverted", "driver", d.name)
			d.Void()
			return
		}
		d.markSimulated()
	}
}

// markSimulated clears MayRevert on the cached settlement after a clean
// simulation, so the mempool submitter is willing to route it even under
// an enabled revert-protection policy.
func (d *Driver) markSimulated() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current != nil {
		d.current.MayRevert = false
	}
}

func revertsNow(ctx context.Context, client eth.Client, settlement domain.Settlement) bool {
	if len(settlement.Interactions) == 0 {
		return false
	}
	first := settlement.Interactions[0]
	_, err := client.EstimateGas(ctx, settlement.Solution.SolverAddress, first.Target, first.Value, first.CallData)
	return err != nil
}

// Settle submits the cached settlement through every configured mempool and
// returns once one succeeds or all fail. solutionId must match the id of
// whatever this driver currently has cached: the autopilot's cross-driver
// arbitration may have run since this driver's own last /solve, and this
// driver must only ever submit the solution arbitration actually declared
// the winner, never just whatever happens to be cached locally.
func (d *Driver) Settle(ctx context.Context, solutionId uint64, auctionId int64, submissionDeadlineBlock uint64) (mempool.SubmissionSuccess, error) {
	settlement, _, ok := d.Current()
	if !ok {
		return mempool.SubmissionSuccess{}, mempool.ErrNoMempools
	}
	if settlement.Solution.Id != solutionId {
		return mempool.SubmissionSuccess{}, ErrSolutionMismatch
	}
	return d.submitters.Execute(ctx, settlement, settlement.Solution.SolverAddress, auctionId, submissionDeadlineBlock)
}
