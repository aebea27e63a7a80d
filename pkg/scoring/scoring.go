// Package scoring implements the success-probability-adjusted capped score
// and the CIP-38 surplus-to-native-token conversion shared by the driver
// and the winner arbitrator.
package scoring

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"

	"github.com/cowbatch/autopilot/pkg/domain"
)

// ErrNoValidBid is returned when no valid bid exists for the given inputs,
// i.e. p is at a domain endpoint or the computed bid would exceed V.
var ErrNoValidBid = errors.New("scoring: no valid bid")

// OptimalBid computes the bid b maximising expected payoff against an
// opponent whose reference score is drawn from the same distribution, given
// objective value v, success probability p in (0,1), score cap c, and the
// cost paid on failure costFail.
//
// payoff(x) is linear: payoff(x) = x for this formulation (the case
// analysis below only needs its sign).
func OptimalBid(v *big.Rat, p float64, c *big.Rat, costFail *big.Rat) (*big.Rat, error) {
	if p <= 0 || p >= 1 {
		return nil, ErrNoValidBid
	}

	pf := 1 - p
	pRat := new(big.Rat).SetFloat64(p)
	pfRat := new(big.Rat).SetFloat64(pf)
	if pRat == nil || pfRat == nil {
		return nil, ErrNoValidBid
	}

	p1 := new(big.Rat).Sub(v, c) // V - C
	p2 := new(big.Rat).Set(c)    // C

	var bid *big.Rat
	switch {
	case p1.Sign() >= 0 && p2.Sign() <= 0:
		// b = p*V - pf*cost_fail
		bid = new(big.Rat).Sub(new(big.Rat).Mul(pRat, v), new(big.Rat).Mul(pfRat, costFail))
	case p1.Sign() >= 0 && p2.Sign() > 0:
		// b = V - (pf/p)*(C + cost_fail)
		ratio := new(big.Rat).Quo(pfRat, pRat)
		bid = new(big.Rat).Sub(v, new(big.Rat).Mul(ratio, new(big.Rat).Add(c, costFail)))
	case p1.Sign() < 0 && p2.Sign() <= 0:
		// b = (p/pf)*C - cost_fail
		ratio := new(big.Rat).Quo(pRat, pfRat)
		bid = new(big.Rat).Sub(new(big.Rat).Mul(ratio, c), costFail)
	default:
		return nil, ErrNoValidBid
	}

	if bid.Cmp(v) > 0 {
		return nil, ErrNoValidBid
	}
	return bid, nil
}

// ErrNegativeSurplus is the CIP-38 equivalent of the Rust
// "negative surplus (unfair trade)" rejection: the trade did not clear at
// or above its limit price.
var ErrNegativeSurplus = errors.New("scoring: negative surplus (unfair trade)")

// ErrOverflow is returned when widened arithmetic would not fit back into a
// 256-bit amount; callers must discard the solution, not panic.
var ErrOverflow = errors.New("scoring: overflow in surplus conversion")

// Surplus computes the executed surplus of one order in its surplus token,
// given the uniform clearing prices a solution settles at. For sell orders
// surplus = bought - limit_buy (ceiling-divided from the order's own
// sell/buy ratio); for buy orders surplus = limit_sell - sold. A negative
// result is rejected as an unfair trade.
func Surplus(order domain.Order, executedSell, executedBuy *big.Int) (*big.Int, error) {
	if order.Side == domain.Sell {
		limitBuy := ceilDiv(new(big.Int).Mul(executedSell, order.BuyAmount), order.SellAmount)
		surplus := new(big.Int).Sub(executedBuy, limitBuy)
		if surplus.Sign() < 0 {
			return nil, ErrNegativeSurplus
		}
		return surplus, nil
	}

	limitSell := new(big.Int).Div(new(big.Int).Mul(executedBuy, order.SellAmount), order.BuyAmount)
	surplus := new(big.Int).Sub(limitSell, executedSell)
	if surplus.Sign() < 0 {
		return nil, ErrNegativeSurplus
	}
	return surplus, nil
}

func ceilDiv(a, b *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(a, b, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// ConvertToSurplusToken converts a sell-side surplus (already denominated
// in the buy token) directly; for buy-side orders it performs the widened
// multiply-then-divide `surplus * buy_amount / sell_amount` to avoid
// overflow, then checks the result still fits in 256 bits before
// returning.
func ConvertToSurplusToken(order domain.Order, surplus *big.Int) (*big.Int, error) {
	if order.Side == domain.Sell {
		return surplus, nil
	}

	widened := new(big.Int).Mul(surplus, order.BuyAmount)
	widened.Quo(widened, order.SellAmount)
	if widened.Cmp(maxUint256) > 0 {
		return nil, ErrOverflow
	}
	return widened, nil
}

// ToNativeToken converts an amount denominated in token into the chain's
// native asset using nativePrice (wei of native per 10^18 units of token),
// per CIP-38.
func ToNativeToken(amount *big.Int, nativePrice domain.Price) (*big.Int, error) {
	priceInt := nativePrice.Uint256().ToBig()
	converted := new(big.Int).Mul(amount, priceInt)
	converted.Quo(converted, tenPow18)
	if converted.Cmp(maxUint256) > 0 {
		return nil, ErrOverflow
	}
	return converted, nil
}

var tenPow18 = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// U256 is a convenience re-export point for callers that want to round-trip
// through uint256 rather than math/big.
func U256(v *big.Int) *uint256.Int {
	u, _ := uint256.FromBig(v)
	return u
}
