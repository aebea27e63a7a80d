package domain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ExecutedOrder is one order as actually traded by a Solution, with the
// solver's executed amount.
type ExecutedOrder struct {
	Uid      OrderUid
	Executed *big.Int
}

// JitOrder is a solver-minted just-in-time liquidity order, not present in
// the original auction snapshot.
type JitOrder struct {
	Order    Order
	Executed *big.Int
}

// EncodedInteraction is an on-chain call plus whether it may be replaced by
// an internalized contract-buffer swap.
type EncodedInteraction struct {
	Interaction     Interaction
	Internalizable  bool
}

// Solution is one solver's proposed batch trade for one auction.
type Solution struct {
	Id             uint64
	SolverAddress  common.Address
	OrdersIncluded []ExecutedOrder
	JitOrders      []JitOrder
	ClearingPrices map[common.Address]Price
	Interactions   []EncodedInteraction
	PreInteractions  []Interaction
	PostInteractions []Interaction
	Gas            uint64
	DeclaredScore  *big.Int // nil if the solver did not self-report a score
}

// IsEmpty reports whether the solution carries no trades at all.
func (s Solution) IsEmpty() bool {
	return len(s.OrdersIncluded) == 0 && len(s.JitOrders) == 0
}

// Validate enforces the invariants every Solution must satisfy before it is
// considered further: uids unique, clearing prices cover every traded
// token, and at most one order per CoW-AMM owner.
func (s Solution) Validate(auctionOrders map[OrderUid]Order, cowAmmOwners map[common.Address]bool) error {
	seen := make(map[OrderUid]bool, len(s.OrdersIncluded))
	ownerSeen := make(map[common.Address]bool)
	for _, eo := range s.OrdersIncluded {
		if seen[eo.Uid] {
			return fmt.Errorf("solution %d: duplicate uid %s", s.Id, eo.Uid)
		}
		seen[eo.Uid] = true

		order, ok := auctionOrders[eo.Uid]
		if !ok {
			return fmt.Errorf("solution %d: uid %s not present in auction", s.Id, eo.Uid)
		}

		if _, ok := s.ClearingPrices[order.SellToken]; !ok {
			return fmt.Errorf("solution %d: missing clearing price for sell token %s", s.Id, order.SellToken)
		}
		if _, ok := s.ClearingPrices[order.BuyToken]; !ok {
			return fmt.Errorf("solution %d: missing clearing price for buy token %s", s.Id, order.BuyToken)
		}

		owner := order.Owner()
		if cowAmmOwners[owner] {
			if ownerSeen[owner] {
				return fmt.Errorf("solution %d: CoW-AMM owner %s appears in more than one order", s.Id, owner)
			}
			ownerSeen[owner] = true
		}
	}
	return nil
}
