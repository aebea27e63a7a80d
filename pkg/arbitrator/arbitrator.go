// Package arbitrator ranks the solutions returned by competing drivers and
// picks disjoint-pair winners, grounded on the cowprotocol/services
// winner-selection arbitrator.
package arbitrator

import (
	"math/big"
	"math/rand"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/cowbatch/autopilot/pkg/domain"
	"github.com/cowbatch/autopilot/pkg/scoring"
)

// Context carries the per-auction inputs the arbitrator needs beyond the
// solutions themselves: the native prices used to convert surplus, and the
// maximum number of winners to select.
type Context struct {
	NativePrices map[common.Address]domain.Price
	MaxWinners   int
}

// scored pairs one solution with its per-pair score buckets and aggregate.
type scored struct {
	solution  domain.Solution
	byPair    map[domain.DirectedTokenPair]*big.Int
	aggregate *big.Int
}

// Arbitrator implements arbitrate(solutions, context) -> Ranking.
type Arbitrator struct {
	logger *zap.SugaredLogger

	// lastReferenceScores is populated by the most recent Arbitrate call;
	// the autopilot reads it via ReferenceScore immediately afterward, so a
	// short-lived unsynchronized field is safe (single-threaded run loop).
	lastReferenceScores map[common.Address]*big.Int
}

// New returns an Arbitrator that logs discarded/filtered solutions via
// logger.
func New(logger *zap.SugaredLogger) *Arbitrator {
	return &Arbitrator{logger: logger}
}

// Arbitrate scores every submitted solution, applies the fairness filter,
// greedily selects disjoint winners, and computes each winner's reference
// score.
func (a *Arbitrator) Arbitrate(auction domain.Auction, solutions []domain.Solution, ctx Context) domain.Ranking {
	orderIndex := make(map[domain.OrderUid]domain.Order, len(auction.Orders))
	for _, o := range auction.Orders {
		orderIndex[o.Uid] = o
	}

	scoredList, filteredForScoring := a.computeScoresBySolution(orderIndex, solutions, ctx)

	baseline := computeBaselineScores(scoredList)

	fair, unfair := partitionUnfair(scoredList, baseline)

	winners, ranked := a.pickWinners(fair, ctx.MaxWinners)

	a.lastReferenceScores = a.computeReferenceScores(fair, winners, ctx.MaxWinners)

	return domain.Ranking{
		FilteredOut: append(filteredForScoring, solutionsOf(unfair)...),
		Ranked:      ranked,
	}
}

// ReferenceScore returns the reward-basis score computed for solverAddress
// by the most recent Arbitrate call, or nil if solverAddress was not among
// the winners.
func (a *Arbitrator) ReferenceScore(solverAddress common.Address) *big.Int {
	return a.lastReferenceScores[solverAddress]
}

func solutionsOf(list []scored) []domain.Solution {
	out := make([]domain.Solution, len(list))
	for i, s := range list {
		out[i] = s.solution
	}
	return out
}

// computeScoresBySolution implements arbitrator.rs's retain_mut pattern:
// solutions whose per-order surplus can't be computed (negative surplus,
// missing price, overflow) are discarded with a warning rather than
// aborting the whole batch.
func (a *Arbitrator) computeScoresBySolution(orders map[domain.OrderUid]domain.Order, solutions []domain.Solution, ctx Context) ([]scored, []domain.Solution) {
	var kept []scored
	var discarded []domain.Solution

	for _, sol := range solutions {
		byPair := make(map[domain.DirectedTokenPair]*big.Int)
		aggregate := big.NewInt(0)
		ok := true

		for _, eo := range sol.OrdersIncluded {
			order, found := orders[eo.Uid]
			if !found {
				ok = false
				break
			}

			clearingSell, hasSell := sol.ClearingPrices[order.SellToken]
			clearingBuy, hasBuy := sol.ClearingPrices[order.BuyToken]
			if !hasSell || !hasBuy {
				ok = false
				break
			}

			executedSell, executedBuy := executedAmounts(order, eo.Executed, clearingSell, clearingBuy)

			surplus, err := scoring.Surplus(order, executedSell, executedBuy)
			if err != nil {
				ok = false
				break
			}

			converted, err := scoring.ConvertToSurplusToken(order, surplus)
			if err != nil {
				ok = false
				break
			}

			nativePrice, found := ctx.NativePrices[order.SurplusToken()]
			if !found {
				ok = false
				break
			}
			native, err := scoring.ToNativeToken(converted, nativePrice)
			if err != nil {
				ok = false
				break
			}

			pair := order.Pair()
			if byPair[pair] == nil {
				byPair[pair] = big.NewInt(0)
			}
			byPair[pair].Add(byPair[pair], native)
			aggregate.Add(aggregate, native)
		}

		if !ok {
			a.logger.Warnw("discarding solution: score could not be computed", "solutionId", sol.Id, "solver", sol.SolverAddress)
			discarded = append(discarded, sol)
			continue
		}

		kept = append(kept, scored{solution: sol, byPair: byPair, aggregate: aggregate})
	}

	return kept, discarded
}

// executedAmounts derives the sell- and buy-side executed amounts of one
// order from its reported executed amount and the solution's uniform
// clearing prices.
func executedAmounts(order domain.Order, executed *big.Int, clearingSell, clearingBuy domain.Price) (sellAmt, buyAmt *big.Int) {
	if order.Side == domain.Sell {
		sellAmt = executed
		buyAmt = new(big.Int).Mul(executed, clearingSell.Uint256().ToBig())
		buyAmt.Quo(buyAmt, clearingBuy.Uint256().ToBig())
		return
	}
	buyAmt = executed
	sellAmt = new(big.Int).Mul(executed, clearingBuy.Uint256().ToBig())
	sellAmt.Quo(sellAmt, clearingSell.Uint256().ToBig())
	return
}

// computeBaselineScores computes, per directed pair, the max score among
// solutions that trade exactly that one pair (single-pair solutions).
func computeBaselineScores(list []scored) map[domain.DirectedTokenPair]*big.Int {
	baseline := make(map[domain.DirectedTokenPair]*big.Int)
	for _, s := range list {
		if len(s.byPair) != 1 {
			continue
		}
		for pair, score := range s.byPair {
			if cur, ok := baseline[pair]; !ok || score.Cmp(cur) > 0 {
				baseline[pair] = score
			}
		}
	}
	return baseline
}

// partitionUnfair applies the fairness filter: a multi-pair solution is
// unfair if any of its pair scores is strictly less than that pair's
// baseline. Single-pair solutions are never filtered.
func partitionUnfair(list []scored, baseline map[domain.DirectedTokenPair]*big.Int) (fair, unfair []scored) {
	for _, s := range list {
		if len(s.byPair) == 1 {
			fair = append(fair, s)
			continue
		}
		isFair := true
		for pair, score := range s.byPair {
			if b, ok := baseline[pair]; ok && score.Cmp(b) < 0 {
				isFair = false
				break
			}
		}
		if isFair {
			fair = append(fair, s)
		} else {
			unfair = append(unfair, s)
		}
	}
	return fair, unfair
}

// pickWinners sorts fair solutions by aggregate score descending (with a
// shuffle ahead of the stable sort to break exact ties non-deterministically,
// matching run_loop.rs) and greedily picks solutions whose directed
// token-pair set is disjoint from the union of previously picked winners.
func (a *Arbitrator) pickWinners(fair []scored, maxWinners int) (winners []scored, ranked []domain.RankedSolution) {
	ordered := append([]scored{}, fair...)
	rand.Shuffle(len(ordered), func(i, j int) { ordered[i], ordered[j] = ordered[j], ordered[i] })
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].aggregate.Cmp(ordered[j].aggregate) > 0
	})

	takenPairs := make(map[domain.DirectedTokenPair]bool)
	ranked = make([]domain.RankedSolution, 0, len(ordered))

	for _, s := range ordered {
		isWinner := false
		if len(winners) < maxWinners && disjointFrom(s.byPair, takenPairs) {
			isWinner = true
			winners = append(winners, s)
			for pair := range s.byPair {
				takenPairs[pair] = true
			}
		}
		ranked = append(ranked, domain.RankedSolution{Solution: s.solution, IsWinner: isWinner})
	}
	return winners, ranked
}

func disjointFrom(pairs map[domain.DirectedTokenPair]*big.Int, taken map[domain.DirectedTokenPair]bool) bool {
	for pair := range pairs {
		if taken[pair] {
			return false
		}
	}
	return true
}

// computeReferenceScores implements compute_reference_scores: for each
// winning solver, rerun the greedy selection over the fair list with that
// solver's solutions excluded, and sum the resulting winner set's scores.
// This is the winner's reward basis, not withheld from the winner set
// itself.
func (a *Arbitrator) computeReferenceScores(fair []scored, winners []scored, maxWinners int) map[common.Address]*big.Int {
	out := make(map[common.Address]*big.Int, len(winners))
	for _, w := range winners {
		var without []scored
		for _, s := range fair {
			if s.solution.SolverAddress != w.solution.SolverAddress {
				without = append(without, s)
			}
		}
		replayWinners, _ := a.pickWinners(without, maxWinners)
		sum := big.NewInt(0)
		for _, rw := range replayWinners {
			sum.Add(sum, rw.aggregate)
		}
		out[w.solution.SolverAddress] = sum
	}
	return out
}
