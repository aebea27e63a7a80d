package autopilot

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/cowbatch/autopilot/pkg/domain"
	"github.com/cowbatch/autopilot/pkg/eth"
	"github.com/cowbatch/autopilot/pkg/persistence"
)

// fakeTaggedEthClient only needs to answer TransactionCallData for
// settlementMatchesAuction; every other eth.Client method is unused by it.
type fakeTaggedEthClient struct {
	callData map[common.Hash][]byte
}

func (f *fakeTaggedEthClient) CurrentBlockNumber(context.Context) (uint64, error) { return 0, nil }
func (f *fakeTaggedEthClient) NonceAt(context.Context, common.Address) (uint64, error) {
	return 0, nil
}
func (f *fakeTaggedEthClient) EstimateGas(context.Context, common.Address, common.Address, *big.Int, []byte) (uint64, error) {
	return 0, nil
}
func (f *fakeTaggedEthClient) SendRawTransaction(context.Context, []byte) (common.Hash, error) {
	return common.Hash{}, nil
}
func (f *fakeTaggedEthClient) TransactionStatus(context.Context, common.Hash) (eth.TxStatus, error) {
	return eth.TxPending, nil
}
func (f *fakeTaggedEthClient) BalanceOf(context.Context, common.Address, common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (f *fakeTaggedEthClient) PendingTransactionsFrom(context.Context, common.Address) ([]eth.PendingTx, error) {
	return nil, nil
}
func (f *fakeTaggedEthClient) CurrentGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (f *fakeTaggedEthClient) TransactionCallData(_ context.Context, hash common.Hash) ([]byte, error) {
	return f.callData[hash], nil
}

func TestSettlementMatchesAuctionRequiresTagMatch(t *testing.T) {
	otherAuctionTx := common.HexToHash("0x1")
	thisAuctionTx := common.HexToHash("0x2")

	client := &fakeTaggedEthClient{callData: map[common.Hash][]byte{
		otherAuctionTx: domain.AppendAuctionIdTag([]byte{0x01, 0x02}, 999),
		thisAuctionTx:  domain.AppendAuctionIdTag([]byte{0x01, 0x02}, 42),
	}}
	r := &RunLoop{ethClient: client, logger: zap.NewNop().Sugar()}

	events := []persistence.SettlementEvent{{TxHash: otherAuctionTx}}
	if r.settlementMatchesAuction(context.Background(), 42, events) {
		t.Error("a differently-tagged settlement must not be treated as this auction's inclusion")
	}

	events = append(events, persistence.SettlementEvent{TxHash: thisAuctionTx})
	if !r.settlementMatchesAuction(context.Background(), 42, events) {
		t.Error("a settlement tagged with this auction's id must match")
	}
}

func TestSettlementMatchesAuctionNoEvents(t *testing.T) {
	client := &fakeTaggedEthClient{callData: map[common.Hash][]byte{}}
	r := &RunLoop{ethClient: client, logger: zap.NewNop().Sugar()}

	if r.settlementMatchesAuction(context.Background(), 1, nil) {
		t.Error("no events means no match")
	}
}
