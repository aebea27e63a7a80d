package driverapi

import (
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/cowbatch/autopilot/pkg/domain"
)

var errPriceOverflow = errors.New("driverapi: token price overflows 256 bits")

// SolveRequest is the body of POST /solve as sent by the autopilot to one
// driver.
type SolveRequest struct {
	RequestId uint64            `json:"requestId"`
	AuctionId *int64            `json:"auctionId,omitempty"`
	Orders    []OrderInfo       `json:"orders"`
	Tokens    []TokenInfoWire   `json:"tokens"`
	GasPrice  GasPriceWire      `json:"gasPrice"`
	Deadline  time.Time         `json:"deadline"`
}

// OrderInfo is the wire shape of one order in a SolveRequest.
type OrderInfo struct {
	Uid             string `json:"uid"`
	SellToken       string `json:"sellToken"`
	BuyToken        string `json:"buyToken"`
	SellAmount      string `json:"sellAmount"`
	BuyAmount       string `json:"buyAmount"`
	FeeAmount       string `json:"feeAmount"`
	Side            string `json:"side"`
	Kind            string `json:"kind"`
	PartiallyFillable bool `json:"partiallyFillable"`
	Available       string `json:"available,omitempty"`
	ValidTo         uint32 `json:"validTo"`
}

// TokenInfoWire is the wire shape of one token's auction metadata.
type TokenInfoWire struct {
	Address          string  `json:"address"`
	Price            *string `json:"price,omitempty"`
	AvailableBalance string  `json:"availableBalance"`
	Trusted          bool    `json:"trusted"`
}

// GasPriceWire is the wire shape of an EIP-1559 gas price triple.
type GasPriceWire struct {
	Max  string `json:"max"`
	Tip  string `json:"tip"`
	Base string `json:"base,omitempty"`
}

// SolveResponse is the body of a driver's /solve reply: one solution per
// solution id it is still willing to stand behind.
type SolveResponse struct {
	RequestId uint64           `json:"requestId"`
	Solutions []SolutionInfo   `json:"solutions"`
}

// SolutionInfo is the wire shape of one solution in a SolveResponse, rich
// enough for the autopilot to reconstruct a domain.Solution and run it
// through cross-driver arbitration.
type SolutionInfo struct {
	Id             uint64            `json:"id"`
	SolverAddress  string            `json:"solverAddress"`
	ClearingPrices map[string]string `json:"clearingPrices"`
	OrdersTraded   []TradeInfo       `json:"ordersTraded"`
}

// TradeInfo is one executed order within a SolutionInfo.
type TradeInfo struct {
	Uid      string `json:"uid"`
	Executed string `json:"executed"`
}

// SettleRequest is the body of POST /settle: the autopilot telling a
// driver it won the competition and should submit its cached settlement.
type SettleRequest struct {
	AuctionId               int64  `json:"auctionId"`
	SolutionId               uint64 `json:"solutionId"`
	SubmissionDeadlineBlock uint64 `json:"submissionDeadlineBlock"`
}

// SettleResponse reports the outcome of a submission attempt.
type SettleResponse struct {
	Status           string `json:"status"` // "success", "reverted", "expired", "error"
	TxHash           string `json:"txHash,omitempty"`
	SubmittedAtBlock uint64 `json:"submittedAtBlock,omitempty"`
	IncludedInBlock  uint64 `json:"includedInBlock,omitempty"`
	Message          string `json:"message,omitempty"`
}

// ErrorResponse is the body returned alongside any non-2xx status.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func addrOrZero(s string) common.Address {
	if s == "" {
		return common.Address{}
	}
	return common.HexToAddress(s)
}

func bigOrZero(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return big.NewInt(0)
	}
	return v
}

func priceFromBig(v *big.Int) (domain.Price, error) {
	u, overflow := uint256.FromBig(v)
	if overflow {
		return domain.Price{}, errPriceOverflow
	}
	return domain.NewPrice(u)
}
