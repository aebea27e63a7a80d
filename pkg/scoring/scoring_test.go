package scoring

import (
	"math/big"
	"testing"

	"github.com/cowbatch/autopilot/pkg/domain"
)

func TestOptimalBidRejectsDomainEndpoints(t *testing.T) {
	v := big.NewRat(100, 1)
	c := big.NewRat(10, 1)
	cost := big.NewRat(1, 1)

	if _, err := OptimalBid(v, 0, c, cost); err != ErrNoValidBid {
		t.Errorf("p=0: err = %v, want ErrNoValidBid", err)
	}
	if _, err := OptimalBid(v, 1, c, cost); err != ErrNoValidBid {
		t.Errorf("p=1: err = %v, want ErrNoValidBid", err)
	}
}

func TestOptimalBidNeverExceedsV(t *testing.T) {
	v := big.NewRat(100, 1)
	c := big.NewRat(10, 1)
	cost := big.NewRat(1, 1)

	for _, p := range []float64{0.1, 0.3, 0.5, 0.7, 0.9} {
		bid, err := OptimalBid(v, p, c, cost)
		if err != nil {
			continue
		}
		if bid.Cmp(v) > 0 {
			t.Errorf("p=%v: bid %v exceeds V %v", p, bid, v)
		}
	}
}

func TestSurplusSellSideRejectsNegative(t *testing.T) {
	order := domain.Order{
		Side:       domain.Sell,
		SellAmount: big.NewInt(100),
		BuyAmount:  big.NewInt(200),
	}
	// executed at a worse ratio than the limit price: bought less than
	// limit_buy = ceil(executedSell * 200 / 100).
	_, err := Surplus(order, big.NewInt(100), big.NewInt(150))
	if err != ErrNegativeSurplus {
		t.Errorf("err = %v, want ErrNegativeSurplus", err)
	}
}

func TestSurplusSellSidePositive(t *testing.T) {
	order := domain.Order{
		Side:       domain.Sell,
		SellAmount: big.NewInt(100),
		BuyAmount:  big.NewInt(200),
	}
	surplus, err := Surplus(order, big.NewInt(100), big.NewInt(250))
	if err != nil {
		t.Fatalf("Surplus: %v", err)
	}
	if surplus.Cmp(big.NewInt(50)) != 0 {
		t.Errorf("surplus = %s, want 50", surplus)
	}
}

func TestConvertToSurplusTokenBuySideWidenedDivision(t *testing.T) {
	order := domain.Order{
		Side:       domain.Buy,
		SellAmount: big.NewInt(3),
		BuyAmount:  big.NewInt(7),
	}
	converted, err := ConvertToSurplusToken(order, big.NewInt(9))
	if err != nil {
		t.Fatalf("ConvertToSurplusToken: %v", err)
	}
	// 9 * 7 / 3 = 21
	if converted.Cmp(big.NewInt(21)) != 0 {
		t.Errorf("converted = %s, want 21", converted)
	}
}

func TestConvertToSurplusTokenOverflowDiscardsNotPanics(t *testing.T) {
	order := domain.Order{
		Side:       domain.Buy,
		SellAmount: big.NewInt(1),
		BuyAmount:  maxUint256,
	}
	_, err := ConvertToSurplusToken(order, maxUint256)
	if err != ErrOverflow {
		t.Errorf("err = %v, want ErrOverflow", err)
	}
}
