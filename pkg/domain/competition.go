package domain

import (
	"encoding/binary"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// OrderExecution records the final allocation for one included order within
// a persisted competition.
type OrderExecution struct {
	Uid      OrderUid
	Executed *big.Int
}

// Competition is the append-only record the autopilot persists once a
// winner is chosen.
type Competition struct {
	AuctionId       int64
	WinnerAddress   common.Address
	WinningScore    *big.Int
	ReferenceScore  *big.Int
	Participants    []common.Address
	Prices          map[common.Address]Price
	BlockDeadline   uint64
	OrderExecutions []OrderExecution
}

// Ranking is the Winner Arbitrator's output: the solutions dropped as
// unfair and an ordered list of surviving solutions tagged with whether
// each is a winner.
type Ranking struct {
	FilteredOut []Solution
	Ranked      []RankedSolution
}

// RankedSolution pairs a surviving Solution with whether it was selected as
// a winner.
type RankedSolution struct {
	Solution Solution
	IsWinner bool
}

// Winners returns the winning solutions from a Ranking, preserving rank
// order.
func (r Ranking) Winners() []Solution {
	var out []Solution
	for _, rs := range r.Ranked {
		if rs.IsWinner {
			out = append(out, rs.Solution)
		}
	}
	return out
}

// AuctionIdTag encodes an auction id as the 8 big-endian bytes appended to
// settlement call-data, the only on-chain inclusion-correlation channel.
func AuctionIdTag(auctionId int64) [8]byte {
	var tag [8]byte
	binary.BigEndian.PutUint64(tag[:], uint64(auctionId))
	return tag
}

// AppendAuctionIdTag returns callData with the auction id tag appended.
func AppendAuctionIdTag(callData []byte, auctionId int64) []byte {
	tag := AuctionIdTag(auctionId)
	return append(append([]byte{}, callData...), tag[:]...)
}

// ExtractAuctionIdTag reads the trailing 8-byte auction id tag from
// call-data, if present.
func ExtractAuctionIdTag(callData []byte) (int64, bool) {
	if len(callData) < 8 {
		return 0, false
	}
	return int64(binary.BigEndian.Uint64(callData[len(callData)-8:])), true
}
