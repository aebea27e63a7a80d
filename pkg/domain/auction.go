package domain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// GasPrice is the EIP-1559 triple used throughout submission and scoring.
type GasPrice struct {
	Max *big.Int
	Tip *big.Int
	Base *big.Int
}

// TokenInfo describes one token's role and pricing within an auction.
type TokenInfo struct {
	Decimals         *uint8
	Symbol           *string
	Price            *Price // nil if unpriced
	AvailableBalance *big.Int
	Trusted          bool
}

// Auction is a snapshot of solvable orders frozen by one autopilot loop
// iteration.
type Auction struct {
	Id       *int64 // nil until persisted by replace_current_auction
	Orders   []Order
	Tokens   map[common.Address]TokenInfo
	GasPrice GasPrice
	Deadline time.Time
}

// Validate checks the data-model invariant that every order's sell and buy
// token has a Tokens entry, and that no order carries a zero available
// amount. WETH-wrapping of native-asset buy tokens is assumed to have
// already happened upstream in the order book.
func (a Auction) Validate() error {
	for i, o := range a.Orders {
		if _, ok := a.Tokens[o.SellToken]; !ok {
			return fmt.Errorf("auction: order %d: sell token %s missing from tokens", i, o.SellToken)
		}
		if _, ok := a.Tokens[o.BuyToken]; !ok {
			return fmt.Errorf("auction: order %d: buy token %s missing from tokens", i, o.BuyToken)
		}
		if o.Partial.Fillable && o.Partial.Available != nil && o.Partial.Available.Sign() == 0 {
			return fmt.Errorf("auction: order %d: zero available amount", i)
		}
	}
	return nil
}
