package arbitrator

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/cowbatch/autopilot/pkg/domain"
)

// buildScored constructs a `scored` value directly for tests that only
// exercise the selection/filtering stages, bypassing per-order surplus
// computation.
func buildScored(solverAddr common.Address, id uint64, byPair map[domain.DirectedTokenPair]*big.Int) scored {
	aggregate := big.NewInt(0)
	for _, v := range byPair {
		aggregate.Add(aggregate, v)
	}
	return scored{
		solution:  domain.Solution{Id: id, SolverAddress: solverAddr},
		byPair:    byPair,
		aggregate: aggregate,
	}
}

func pair(a, b string) domain.DirectedTokenPair {
	return domain.DirectedTokenPair{Sell: common.HexToAddress(a), Buy: common.HexToAddress(b)}
}

func TestScenarioS3FairnessFilter(t *testing.T) {
	t1t2 := pair("0x1", "0x2")
	t2t3 := pair("0x2", "0x3")

	single := buildScored(common.HexToAddress("0xa"), 1, map[domain.DirectedTokenPair]*big.Int{
		t1t2: big.NewInt(100),
	})
	multi := buildScored(common.HexToAddress("0xb"), 2, map[domain.DirectedTokenPair]*big.Int{
		t1t2: big.NewInt(80),
		t2t3: big.NewInt(90),
	})

	baseline := computeBaselineScores([]scored{single, multi})
	if baseline[t1t2].Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("baseline[(T1,T2)] = %v, want 100", baseline[t1t2])
	}

	fair, unfair := partitionUnfair([]scored{single, multi}, baseline)
	if len(fair) != 1 || fair[0].solution.Id != 1 {
		t.Fatalf("expected only the single-pair solution to survive, got %d fair solutions", len(fair))
	}
	if len(unfair) != 1 || unfair[0].solution.Id != 2 {
		t.Fatalf("expected the multi-pair solution filtered out")
	}
}

func TestScenarioS4DisjointPairSelection(t *testing.T) {
	ab := pair("0xa", "0xb")
	cd := pair("0xc", "0xd")

	a := New(zap.NewNop().Sugar())

	w1 := buildScored(common.HexToAddress("0x1"), 1, map[domain.DirectedTokenPair]*big.Int{ab: big.NewInt(300)})
	w2 := buildScored(common.HexToAddress("0x2"), 2, map[domain.DirectedTokenPair]*big.Int{ab: big.NewInt(1), cd: big.NewInt(1)})
	w3 := buildScored(common.HexToAddress("0x3"), 3, map[domain.DirectedTokenPair]*big.Int{cd: big.NewInt(200)})

	// Scores chosen so sort order (desc by aggregate) is W1(300), W3(200),
	// W2(2): W1 wins, W2 conflicts with W1 and is skipped, W3 wins regardless
	// of exact W2 placement.
	winners, _ := a.pickWinners([]scored{w1, w2, w3}, 2)
	if len(winners) != 2 {
		t.Fatalf("got %d winners, want 2", len(winners))
	}

	ids := map[uint64]bool{}
	for _, w := range winners {
		ids[w.solution.Id] = true
	}
	if !ids[1] || !ids[3] || ids[2] {
		t.Fatalf("winners = %v, want {1,3}", ids)
	}
}

func TestWinnersHaveDisjointPairSets(t *testing.T) {
	ab := pair("0xa", "0xb")
	cd := pair("0xc", "0xd")
	ef := pair("0xe", "0xf")

	a := New(zap.NewNop().Sugar())
	w1 := buildScored(common.HexToAddress("0x1"), 1, map[domain.DirectedTokenPair]*big.Int{ab: big.NewInt(10)})
	w2 := buildScored(common.HexToAddress("0x2"), 2, map[domain.DirectedTokenPair]*big.Int{cd: big.NewInt(9)})
	w3 := buildScored(common.HexToAddress("0x3"), 3, map[domain.DirectedTokenPair]*big.Int{ef: big.NewInt(8)})

	winners, _ := a.pickWinners([]scored{w1, w2, w3}, 3)
	seen := map[domain.DirectedTokenPair]bool{}
	for _, w := range winners {
		for p := range w.byPair {
			if seen[p] {
				t.Fatalf("pair %v claimed by more than one winner", p)
			}
			seen[p] = true
		}
	}
}

func TestReferenceScoreExcludesWinnerItself(t *testing.T) {
	ab := pair("0xa", "0xb")
	cd := pair("0xc", "0xd")

	a := New(zap.NewNop().Sugar())
	solverX := common.HexToAddress("0xaaaa")
	solverY := common.HexToAddress("0xbbbb")

	w1 := buildScored(solverX, 1, map[domain.DirectedTokenPair]*big.Int{ab: big.NewInt(100)})
	w2 := buildScored(solverY, 2, map[domain.DirectedTokenPair]*big.Int{cd: big.NewInt(50)})

	winners, _ := a.pickWinners([]scored{w1, w2}, 2)
	refs := a.computeReferenceScores([]scored{w1, w2}, winners, 2)

	// With solverX excluded, only w2 remains, so solverX's reference score
	// is w2's aggregate (50); symmetrically for solverY.
	if refs[solverX].Cmp(big.NewInt(50)) != 0 {
		t.Errorf("refs[solverX] = %v, want 50", refs[solverX])
	}
	if refs[solverY].Cmp(big.NewInt(100)) != 0 {
		t.Errorf("refs[solverY] = %v, want 100", refs[solverY])
	}
}
