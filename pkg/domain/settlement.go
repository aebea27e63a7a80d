package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// SettlementVariant selects which encoding of a Solution a Settlement
// carries: internalizable interactions replaced by contract-buffer swaps,
// or every interaction encoded verbatim.
type SettlementVariant uint8

const (
	Internalized SettlementVariant = iota
	UnInternalized
)

// Settlement is an encoded transaction payload derived from a Solution.
type Settlement struct {
	Solution Solution
	Variant  SettlementVariant

	ClearingPrices map[common.Address]Price
	Interactions   []Interaction
	Gas            uint64

	// Score is the computed surplus-plus-fee score converted to native
	// token, filled in once CIP-38 scoring runs.
	Score *big.Int

	// MayRevert flags a settlement whose interactions include calls that
	// were not (or could not be) fully simulated ahead of time, making an
	// on-chain revert a real possibility. Revert-protection policy uses
	// this to decide whether a mempool may accept it.
	MayRevert bool
}

// Merge attempts to combine two settlements sharing compatible clearing
// prices into one. Two settlements are compatible only if, for every token
// priced in both, the prices agree exactly; the merged settlement is the
// union of clearing prices, interactions, and traded orders. Merge never
// mutates its receivers.
func (s Settlement) Merge(other Settlement) (Settlement, bool) {
	for token, price := range s.ClearingPrices {
		if otherPrice, ok := other.ClearingPrices[token]; ok {
			if price.Uint256().Cmp(otherPrice.Uint256()) != 0 {
				return Settlement{}, false
			}
		}
	}

	merged := Settlement{
		Variant:        s.Variant,
		ClearingPrices: make(map[common.Address]Price, len(s.ClearingPrices)+len(other.ClearingPrices)),
	}
	for token, price := range s.ClearingPrices {
		merged.ClearingPrices[token] = price
	}
	for token, price := range other.ClearingPrices {
		merged.ClearingPrices[token] = price
	}

	merged.Interactions = append(append([]Interaction{}, s.Interactions...), other.Interactions...)
	merged.Gas = s.Gas + other.Gas

	merged.Solution = Solution{
		Id:             s.Solution.Id,
		SolverAddress:  s.Solution.SolverAddress,
		ClearingPrices: merged.ClearingPrices,
	}
	merged.Solution.OrdersIncluded = append(append([]ExecutedOrder{}, s.Solution.OrdersIncluded...), other.Solution.OrdersIncluded...)
	merged.Solution.JitOrders = append(append([]JitOrder{}, s.Solution.JitOrders...), other.Solution.JitOrders...)

	return merged, true
}
