package driver

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/cowbatch/autopilot/pkg/domain"
	"github.com/cowbatch/autopilot/pkg/liquidity"
	"github.com/cowbatch/autopilot/pkg/solverclient"
)

// buildRequest translates one prioritized auction into the wire request a
// solver receives, folding in any fetched liquidity sources.
func buildRequest(id uint64, auction domain.Auction, sources []liquidity.Source) solverclient.Request {
	req := solverclient.Request{
		Id:                id,
		Orders:            make([]solverclient.Order, 0, len(auction.Orders)),
		Tokens:            make([]solverclient.Token, 0, len(auction.Tokens)),
		EffectiveGasPrice: bigToString(auction.GasPrice.Max),
		Deadline:          auction.Deadline,
	}

	for _, o := range auction.Orders {
		req.Orders = append(req.Orders, orderToWire(o))
	}
	for addr, info := range auction.Tokens {
		req.Tokens = append(req.Tokens, tokenToWire(addr, info))
	}
	for _, s := range sources {
		req.Liquidity = append(req.Liquidity, solverclient.Liquidity{Kind: s.Kind, Data: s.Data})
	}
	return req
}

func orderToWire(o domain.Order) solverclient.Order {
	wire := solverclient.Order{
		Uid:        o.Uid.String(),
		SellToken:  o.SellToken.Hex(),
		BuyToken:   o.BuyToken.Hex(),
		SellAmount: bigToString(o.SellAmount),
		BuyAmount:  bigToString(o.BuyAmount),
		FeeAmount:  bigToString(o.FeeAmount),
		Kind:       kindToWire(o.Kind),
		Partial:    o.Partial.Fillable,
		ValidTo:    o.ValidTo,
	}
	if o.Partial.Fillable && o.Partial.Available != nil {
		wire.Available = bigToString(o.Partial.Available)
	}
	return wire
}

func kindToWire(k domain.OrderKind) string {
	switch k {
	case domain.KindMarket:
		return "market"
	case domain.KindLimit:
		return "limit"
	default:
		return "liquidity"
	}
}

func tokenToWire(addr common.Address, info domain.TokenInfo) solverclient.Token {
	wire := solverclient.Token{
		Address:          addr.Hex(),
		AvailableBalance: bigToString(info.AvailableBalance),
		Trusted:          info.Trusted,
	}
	if info.Price != nil {
		price := bigToString(info.Price.Uint256().ToBig())
		wire.Price = &price
	}
	return wire
}

func bigToString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseBig(s string) (*big.Int, bool) {
	return new(big.Int).SetString(s, 10)
}

func parseHexBytes(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	return hexutil.Decode(s)
}
