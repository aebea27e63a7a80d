package driver

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cowbatch/autopilot/pkg/domain"
	"github.com/cowbatch/autopilot/pkg/scoring"
)

// scoreSettlement computes the CIP-38 score of one settlement: the sum,
// over every traded order, of its surplus converted to the surplus token
// and then to the native asset. A settlement whose declared score a solver
// self-reported is preferred verbatim (it reflects the solver's own,
// possibly more precise, accounting) when present; otherwise the score is
// recomputed here the same way the arbitrator will recompute it later, so
// the driver's own winner-of-one-solver selection agrees with what the
// arbitrator would pick.
func scoreSettlement(orderIndex map[domain.OrderUid]domain.Order, settlement domain.Settlement, nativePrices map[common.Address]domain.Price) (*big.Int, error) {
	if settlement.Solution.DeclaredScore != nil {
		return settlement.Solution.DeclaredScore, nil
	}

	total := big.NewInt(0)
	for _, eo := range settlement.Solution.OrdersIncluded {
		order, ok := orderIndex[eo.Uid]
		if !ok {
			return nil, fmt.Errorf("driver: score: order %s not in auction", eo.Uid)
		}

		clearingSell, ok := settlement.ClearingPrices[order.SellToken]
		if !ok {
			return nil, fmt.Errorf("driver: score: missing clearing price for %s", order.SellToken)
		}
		clearingBuy, ok := settlement.ClearingPrices[order.BuyToken]
		if !ok {
			return nil, fmt.Errorf("driver: score: missing clearing price for %s", order.BuyToken)
		}

		executedSell, executedBuy := executedAmounts(order, eo.Executed, clearingSell, clearingBuy)

		surplus, err := scoring.Surplus(order, executedSell, executedBuy)
		if err != nil {
			return nil, err
		}
		converted, err := scoring.ConvertToSurplusToken(order, surplus)
		if err != nil {
			return nil, err
		}

		nativePrice, ok := nativePrices[order.SurplusToken()]
		if !ok {
			return nil, fmt.Errorf("driver: score: missing native price for %s", order.SurplusToken())
		}
		native, err := scoring.ToNativeToken(converted, nativePrice)
		if err != nil {
			return nil, err
		}
		total.Add(total, native)
	}
	return total, nil
}

// executedAmounts mirrors the arbitrator's own derivation of sell/buy side
// executed amounts from a uniform clearing price, so the driver's
// self-scoring agrees with how the arbitrator will later score the same
// settlement.
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
