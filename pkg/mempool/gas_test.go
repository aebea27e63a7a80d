package mempool

import (
	"math/big"
	"testing"
)

func TestScenarioS5GasBumpLadder(t *testing.T) {
	// Prices in whole gwei units, as in the scenario: 100 gwei.
	minGp := GasPrice{Max: big.NewInt(100), Tip: big.NewInt(100)}
	currentGp := GasPrice{Max: big.NewInt(0), Tip: big.NewInt(0)}

	got := ComputeSubmissionGasPrice(minGp, currentGp, 3, nil)

	// 100 -> 130 -> 169 -> ceil(219.7) = 220 gwei
	want := big.NewInt(220)
	if got.Max.Cmp(want) != 0 {
		t.Errorf("Max = %s, want %s", got.Max, want)
	}
}

func TestComputeSubmissionGasPriceCaps(t *testing.T) {
	minGp := GasPrice{Max: big.NewInt(1_000_000_000_000), Tip: big.NewInt(1_000_000_000_000)}
	currentGp := GasPrice{Max: big.NewInt(0), Tip: big.NewInt(0)}
	cap := big.NewInt(500_000_000_000)

	got := ComputeSubmissionGasPrice(minGp, currentGp, 5, cap)
	if got.Max.Cmp(cap) != 0 {
		t.Errorf("Max = %s, want capped at %s", got.Max, cap)
	}
}

func TestReplacementGasPriceSatisfiesInvariant8(t *testing.T) {
	prev := GasPrice{Max: big.NewInt(1000), Tip: big.NewInt(1000)}
	next := ReplacementGasPrice(prev)

	wantMax := new(big.Int).Add(new(big.Int).Div(new(big.Int).Mul(prev.Max, big.NewInt(13)), big.NewInt(10)), big.NewInt(0))
	// ceil(1.3 * 1000) = 1300 exactly
	if next.Max.Cmp(big.NewInt(1300)) != 0 {
		t.Errorf("Max = %s, want 1300", next.Max)
	}
	_ = wantMax

	// Non-exact case exercises the ceiling.
	prev2 := GasPrice{Max: big.NewInt(101), Tip: big.NewInt(101)}
	next2 := ReplacementGasPrice(prev2)
	// 101 * 1.3 = 131.3 -> ceil = 132
	if next2.Max.Cmp(big.NewInt(132)) != 0 {
		t.Errorf("Max = %s, want 132 (ceiling of 131.3)", next2.Max)
	}
}
