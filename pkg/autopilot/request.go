package autopilot

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/cowbatch/autopilot/pkg/domain"
	"github.com/cowbatch/autopilot/pkg/driverapi"
)

var errPriceOverflow = errors.New("autopilot: clearing price overflows 256 bits")

func priceFromDecimal(v *big.Int) (domain.Price, error) {
	u, overflow := uint256.FromBig(v)
	if overflow {
		return domain.Price{}, errPriceOverflow
	}
	return domain.NewPrice(u)
}

// buildSolveRequest encodes a prioritized auction into the wire shape one
// driver's /solve endpoint expects.
func buildSolveRequest(requestID uint64, auction domain.Auction) driverapi.SolveRequest {
	req := driverapi.SolveRequest{
		RequestId: requestID,
		AuctionId: auction.Id,
		Orders:    make([]driverapi.OrderInfo, 0, len(auction.Orders)),
		Tokens:    make([]driverapi.TokenInfoWire, 0, len(auction.Tokens)),
		GasPrice: driverapi.GasPriceWire{
			Max: bigToString(auction.GasPrice.Max),
			Tip: bigToString(auction.GasPrice.Tip),
		},
		Deadline: auction.Deadline,
	}
	if auction.GasPrice.Base != nil {
		req.GasPrice.Base = bigToString(auction.GasPrice.Base)
	}

	for _, o := range auction.Orders {
		info := driverapi.OrderInfo{
			Uid:               o.Uid.String(),
			SellToken:         o.SellToken.Hex(),
			BuyToken:          o.BuyToken.Hex(),
			SellAmount:        bigToString(o.SellAmount),
			BuyAmount:         bigToString(o.BuyAmount),
			FeeAmount:         bigToString(o.FeeAmount),
			Side:              o.Side.String(),
			Kind:              kindToWire(o.Kind),
			PartiallyFillable: o.Partial.Fillable,
			ValidTo:           o.ValidTo,
		}
		if o.Partial.Fillable && o.Partial.Available != nil {
			info.Available = bigToString(o.Partial.Available)
		}
		req.Orders = append(req.Orders, info)
	}

	for addr, info := range auction.Tokens {
		wire := driverapi.TokenInfoWire{
			Address:          addr.Hex(),
			AvailableBalance: bigToString(info.AvailableBalance),
			Trusted:          info.Trusted,
		}
		if info.Price != nil {
			priceStr := info.Price.Uint256().ToBig().String()
			wire.Price = &priceStr
		}
		req.Tokens = append(req.Tokens, wire)
	}

	return req
}

func kindToWire(k domain.OrderKind) string {
	switch k {
	case domain.KindLimit:
		return "limit"
	case domain.KindLiquidity:
		return "liquidity"
	default:
		return "market"
	}
}

func bigToString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// decodeSolutions translates a driver's /solve reply into domain.Solution
// values suitable for the winner arbitrator. Only the fields arbitration
// and persistence need (id, solver address, traded orders, clearing
// prices) cross the wire; interaction call-data never leaves the driver
// process that will itself submit the winning settlement.
func decodeSolutions(resp driverapi.SolveResponse) []domain.Solution {
	out := make([]domain.Solution, 0, len(resp.Solutions))
	for _, info := range resp.Solutions {
		sol := domain.Solution{
			Id:             info.Id,
			SolverAddress:  common.HexToAddress(info.SolverAddress),
			ClearingPrices: make(map[common.Address]domain.Price, len(info.ClearingPrices)),
		}
		for tokenHex, priceStr := range info.ClearingPrices {
			priceInt, ok := new(big.Int).SetString(priceStr, 10)
			if !ok {
				continue
			}
			price, err := priceFromDecimal(priceInt)
			if err != nil {
				continue
			}
			sol.ClearingPrices[common.HexToAddress(tokenHex)] = price
		}
		for _, t := range info.OrdersTraded {
			uid, err := domain.ParseOrderUid(t.Uid)
			if err != nil {
				continue
			}
			executed, ok := new(big.Int).SetString(t.Executed, 10)
			if !ok {
				continue
			}
			sol.OrdersIncluded = append(sol.OrdersIncluded, domain.ExecutedOrder{Uid: uid, Executed: executed})
		}
		out = append(out, sol)
	}
	return out
}
