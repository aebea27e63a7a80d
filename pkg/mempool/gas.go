package mempool

import "math/big"

// GasPriceBump is the replacement/escalation multiplier used both for
// per-block gas bumps and for cancellation pricing.
const GasPriceBump = 1.3

// CancellationGasAmount is the fixed gas used by a cancellation
// self-transfer.
const CancellationGasAmount uint64 = 21000

// bumpNumerator/bumpDenominator express GasPriceBump as an exact rational
// (13/10) so every bump computation is done in integer arithmetic with an
// explicit ceiling rather than accumulating floating-point error.
const bumpNumerator = 13
const bumpDenominator = 10

// ceilMul computes ceil(x * num / den) for non-negative x.
func ceilMul(x *big.Int, num, den int64) *big.Int {
	product := new(big.Int).Mul(x, big.NewInt(num))
	q, r := new(big.Int).QuoRem(product, big.NewInt(den), new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

// bumpOnce returns ⌈1.3 · x⌉.
func bumpOnce(x *big.Int) *big.Int {
	return ceilMul(x, bumpNumerator, bumpDenominator)
}

// bumpPow returns x bumped by 1.3 exactly n times (⌈1.3 · ⌈1.3 · ... x⌉⌉).
func bumpPow(x *big.Int, n uint64) *big.Int {
	out := new(big.Int).Set(x)
	for i := uint64(0); i < n; i++ {
		out = bumpOnce(out)
	}
	return out
}

// ReplacementGasPrice computes the minimum replacement gas price for prev:
// max' >= ceil(1.3 * max_prev), tip' >= ceil(1.3 * tip_prev).
func ReplacementGasPrice(prev GasPrice) GasPrice {
	return GasPrice{
		Max: bumpOnce(prev.Max),
		Tip: bumpOnce(prev.Tip),
	}
}

// GasPrice mirrors domain.GasPrice's {max, tip, base} shape; kept local to
// this package so gas-arithmetic helpers don't need to import domain for
// every call site computing intermediate prices that never need a base
// component.
type GasPrice struct {
	Max *big.Int
	Tip *big.Int
}

// ComputeSubmissionGasPrice implements COMPUTE_GAS: gp = max(mempoolReplacementGp,
// currentGp) * bump^blocksUntilDeadline, capped at gasPriceCap.
func ComputeSubmissionGasPrice(mempoolReplacementGp, currentGp GasPrice, blocksUntilDeadline uint64, gasPriceCap *big.Int) GasPrice {
	base := GasPrice{Max: maxBig(mempoolReplacementGp.Max, currentGp.Max), Tip: maxBig(mempoolReplacementGp.Tip, currentGp.Tip)}
	bumped := GasPrice{Max: bumpPow(base.Max, blocksUntilDeadline), Tip: bumpPow(base.Tip, blocksUntilDeadline)}
	if gasPriceCap != nil && bumped.Max.Cmp(gasPriceCap) > 0 {
		bumped.Max = new(big.Int).Set(gasPriceCap)
	}
	return bumped
}

// CancellationGasPrice prices a cancellation self-transfer at
// max(mempoolReplacementGp, original * 1.3).
func CancellationGasPrice(mempoolReplacementGp *GasPrice, original GasPrice) GasPrice {
	escalated := GasPrice{Max: bumpOnce(original.Max), Tip: bumpOnce(original.Tip)}
	if mempoolReplacementGp == nil {
		return escalated
	}
	return GasPrice{
		Max: maxBig(mempoolReplacementGp.Max, escalated.Max),
		Tip: maxBig(mempoolReplacementGp.Tip, escalated.Tip),
	}
}

func maxBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
