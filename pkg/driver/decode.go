package driver

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/cowbatch/autopilot/pkg/domain"
	"github.com/cowbatch/autopilot/pkg/solverclient"
)

// decodeSolution translates one wire solution into a domain.Solution. Amount
// and price fields that fail to parse reject the whole solution, mirroring
// the "drop the solution, not the batch" discipline used everywhere else in
// the pipeline.
func decodeSolution(wire solverclient.Solution) (domain.Solution, error) {
	sol := domain.Solution{
		Id:             wire.Id,
		ClearingPrices: make(map[common.Address]domain.Price, len(wire.Prices)),
	}

	for tokenHex, priceStr := range wire.Prices {
		priceInt, ok := parseBig(priceStr)
		if !ok {
			return domain.Solution{}, fmt.Errorf("solution %d: bad clearing price %q", wire.Id, priceStr)
		}
		u, overflow := uint256.FromBig(priceInt)
		if overflow {
			return domain.Solution{}, fmt.Errorf("solution %d: clearing price overflows 256 bits", wire.Id)
		}
		price, err := domain.NewPrice(u)
		if err != nil {
			return domain.Solution{}, fmt.Errorf("solution %d: token %s: %w", wire.Id, tokenHex, err)
		}
		sol.ClearingPrices[common.HexToAddress(tokenHex)] = price
	}

	for _, t := range wire.Trades {
		uid, err := domain.ParseOrderUid(t.Uid)
		if err != nil {
			return domain.Solution{}, fmt.Errorf("solution %d: %w", wire.Id, err)
		}
		executed, ok := parseBig(t.Executed)
		if !ok {
			return domain.Solution{}, fmt.Errorf("solution %d: bad executed amount %q", wire.Id, t.Executed)
		}
		sol.OrdersIncluded = append(sol.OrdersIncluded, domain.ExecutedOrder{Uid: uid, Executed: executed})
	}

	interactions, err := decodeInteractions(wire.Interactions)
	if err != nil {
		return domain.Solution{}, fmt.Errorf("solution %d: %w", wire.Id, err)
	}
	sol.Interactions = interactions

	sol.PreInteractions, err = decodePlainInteractions(wire.PreInteractions)
	if err != nil {
		return domain.Solution{}, fmt.Errorf("solution %d: pre-interactions: %w", wire.Id, err)
	}
	sol.PostInteractions, err = decodePlainInteractions(wire.PostInteractions)
	if err != nil {
		return domain.Solution{}, fmt.Errorf("solution %d: post-interactions: %w", wire.Id, err)
	}

	if wire.Gas != nil {
		sol.Gas = *wire.Gas
	}
	if wire.Score != nil {
		score, ok := parseBig(*wire.Score)
		if !ok {
			return domain.Solution{}, fmt.Errorf("solution %d: bad declared score %q", wire.Id, *wire.Score)
		}
		sol.DeclaredScore = score
	}
	return sol, nil
}

func decodeInteractions(wire []solverclient.Interaction) ([]domain.EncodedInteraction, error) {
	out := make([]domain.EncodedInteraction, 0, len(wire))
	for _, w := range wire {
		plain, err := decodeInteraction(w.Target, w.Value, w.CallData)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.EncodedInteraction{Interaction: plain, Internalizable: w.Internalizable})
	}
	return out, nil
}

func decodePlainInteractions(wire []solverclient.Interaction) ([]domain.Interaction, error) {
	out := make([]domain.Interaction, 0, len(wire))
	for _, w := range wire {
		plain, err := decodeInteraction(w.Target, w.Value, w.CallData)
		if err != nil {
			return nil, err
		}
		out = append(out, plain)
	}
	return out, nil
}

func decodeInteraction(target, value, callData string) (domain.Interaction, error) {
	value0, ok := parseBig(value)
	if !ok {
		value0 = big.NewInt(0)
	}
	data, err := parseHexBytes(callData)
	if err != nil {
		return domain.Interaction{}, fmt.Errorf("bad call data: %w", err)
	}
	return domain.Interaction{Target: common.HexToAddress(target), Value: value0, CallData: data}, nil
}
