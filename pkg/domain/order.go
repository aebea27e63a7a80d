package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Side is the direction of an order: which leg is fixed by the user.
type Side uint8

const (
	Sell Side = iota
	Buy
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

// OrderKind distinguishes market, liquidity, and limit orders. Limit orders
// carry a solver-reported surplus fee that Market and Liquidity orders lack.
type OrderKind uint8

const (
	KindMarket OrderKind = iota
	KindLiquidity
	KindLimit
)

// Rank returns the kind-rank used by the auction processor's sort: Market=2,
// Limit=1, Liquidity=0.
func (k OrderKind) Rank() int {
	switch k {
	case KindMarket:
		return 2
	case KindLimit:
		return 1
	default:
		return 0
	}
}

// Partial describes whether an order can be filled in part, and if so how
// much of it remains available. The zero value is "fill-or-kill".
type Partial struct {
	Fillable  bool
	Available *big.Int // only meaningful when Fillable is true
}

// NotPartial is the fill-or-kill variant.
func NotPartial() Partial { return Partial{} }

// PartiallyFillable is the partial-fill variant with the given remaining
// available amount.
func PartiallyFillable(available *big.Int) Partial {
	return Partial{Fillable: true, Available: available}
}

// SellTokenSource is where an order's sell funds are drawn from.
type SellTokenSource uint8

const (
	SellSourceErc20 SellTokenSource = iota
	SellSourceInternal
	SellSourceExternal
)

// BuyTokenDestination is where an order's bought funds are deposited.
type BuyTokenDestination uint8

const (
	BuyDestinationErc20 BuyTokenDestination = iota
	BuyDestinationInternal
)

// Interaction is an on-chain call a settlement may execute before, during,
// or after trading.
type Interaction struct {
	Target   common.Address
	Value    *big.Int
	CallData []byte
}

// Order is an immutable user intent as captured in one auction snapshot.
type Order struct {
	Uid OrderUid

	SellToken common.Address
	BuyToken  common.Address

	SellAmount *big.Int
	BuyAmount  *big.Int
	FeeAmount  *big.Int

	Side Side
	Kind OrderKind

	// SurplusFee is only meaningful when Kind == KindLimit.
	SurplusFee *big.Int

	Partial Partial

	SellSource      SellTokenSource
	BuyDestination  BuyTokenDestination

	ValidTo uint32

	AppData   [32]byte
	Signature []byte

	PreInteractions []Interaction
}

// Owner returns the order's signer address, decoded from the uid.
func (o Order) Owner() common.Address {
	return o.Uid.Owner()
}

// BalanceGroupKey identifies the (trader, sell_token, sell_source) tuple the
// auction processor uses to bucket shared-balance orders together.
type BalanceGroupKey struct {
	Trader     common.Address
	SellToken  common.Address
	SellSource SellTokenSource
}

// Key returns this order's balance group key.
func (o Order) Key() BalanceGroupKey {
	return BalanceGroupKey{
		Trader:     o.Owner(),
		SellToken:  o.SellToken,
		SellSource: o.SellSource,
	}
}

// DirectedTokenPair identifies an ordered (sell, buy) trade direction.
type DirectedTokenPair struct {
	Sell common.Address
	Buy  common.Address
}

// Pair returns the directed token pair this order trades.
func (o Order) Pair() DirectedTokenPair {
	return DirectedTokenPair{Sell: o.SellToken, Buy: o.BuyToken}
}

// SurplusToken is the token surplus is measured in: the buy token for sell
// orders, the sell token for buy orders.
func (o Order) SurplusToken() common.Address {
	if o.Side == Sell {
		return o.BuyToken
	}
	return o.SellToken
}
