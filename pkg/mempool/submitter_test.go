package mempool

import (
	"bytes"
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/cowbatch/autopilot/pkg/domain"
	"github.com/cowbatch/autopilot/pkg/eth"
	"github.com/cowbatch/autopilot/params"
)

// fakeClock advances immediately without sleeping, so polling loops in
// tests run at full speed.
type fakeClock struct{}

func (fakeClock) Now() time.Time { return time.Time{} }
func (fakeClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

type fakeEthClient struct {
	block       uint64
	nonce       uint64
	status      eth.TxStatus
	statusSeq   []eth.TxStatus
	simReverts  bool
	pending     []eth.PendingTx
	blockAdvancesPerPoll uint64
	pollCount   int
}

func (f *fakeEthClient) CurrentBlockNumber(context.Context) (uint64, error) {
	return f.block, nil
}
func (f *fakeEthClient) NonceAt(context.Context, common.Address) (uint64, error) {
	return f.nonce, nil
}
func (f *fakeEthClient) EstimateGas(context.Context, common.Address, common.Address, *big.Int, []byte) (uint64, error) {
	if f.simReverts {
		return 0, errRevertSim
	}
	return 21000, nil
}
func (f *fakeEthClient) SendRawTransaction(context.Context, []byte) (common.Hash, error) {
	return common.HexToHash("0x01"), nil
}
func (f *fakeEthClient) TransactionStatus(context.Context, common.Hash) (eth.TxStatus, error) {
	f.block += f.blockAdvancesPerPoll
	status := f.status
	if f.pollCount < len(f.statusSeq) {
		status = f.statusSeq[f.pollCount]
	}
	f.pollCount++
	return status, nil
}
func (f *fakeEthClient) BalanceOf(context.Context, common.Address, common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (f *fakeEthClient) PendingTransactionsFrom(context.Context, common.Address) ([]eth.PendingTx, error) {
	return f.pending, nil
}
func (f *fakeEthClient) CurrentGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}
func (f *fakeEthClient) TransactionCallData(context.Context, common.Hash) ([]byte, error) {
	return nil, nil
}

var errRevertSim = &SimulationRevertError{}

func testSubmitter(client *fakeEthClient, cfg params.MempoolConfig, global params.RevertProtectionPolicy) *Submitter {
	return NewSubmitter(client, cfg, global, big.NewInt(0).SetUint64(1<<62), time.Millisecond, fakeClock{}, zap.NewNop().Sugar())
}

func publicCfg(protection params.RevertProtectionPolicy) params.MempoolConfig {
	return params.MempoolConfig{Public: &params.PublicMempool{RevertProtection: protection}}
}

func TestSubmitDisabledWhenRiskyAndProtectionEnabled(t *testing.T) {
	client := &fakeEthClient{block: 10, status: eth.TxPending}
	sub := testSubmitter(client, publicCfg(params.RevertProtectionDisabled), params.RevertProtectionEnabled)

	settlement := domain.Settlement{MayRevert: true, Interactions: []domain.Interaction{{Target: common.HexToAddress("0x1"), Value: big.NewInt(0)}}}
	_, err := sub.Submit(context.Background(), settlement, common.HexToAddress("0xaa"), 1, 20)
	if err != ErrDisabled {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
}

func TestScenarioS6DeadlineCancellation(t *testing.T) {
	client := &fakeEthClient{block: 10, status: eth.TxPending, blockAdvancesPerPoll: 11}
	sub := testSubmitter(client, publicCfg(params.RevertProtectionEnabled), params.RevertProtectionDisabled)

	settlement := domain.Settlement{Interactions: []domain.Interaction{{Target: common.HexToAddress("0x1"), Value: big.NewInt(0)}}}
	_, err := sub.Submit(context.Background(), settlement, common.HexToAddress("0xaa"), 1, 15)

	expired, ok := err.(*ExpiredError)
	if !ok {
		t.Fatalf("err = %v (%T), want *ExpiredError", err, err)
	}
	if expired.SubmissionDeadline != 15 {
		t.Errorf("SubmissionDeadline = %d, want 15", expired.SubmissionDeadline)
	}
}

func TestLastChanceCheckOverridesExpiredToSuccess(t *testing.T) {
	// First poll inside the state machine reports Pending and pushes the
	// block past the deadline, producing Expired; the separate last-chance
	// check (second TransactionStatus call) reports Executed and the
	// result must be overridden to success.
	client := &fakeEthClient{
		block:                10,
		statusSeq:            []eth.TxStatus{eth.TxPending, eth.TxExecuted},
		blockAdvancesPerPoll: 11,
	}
	sub := testSubmitter(client, publicCfg(params.RevertProtectionEnabled), params.RevertProtectionDisabled)

	settlement := domain.Settlement{Interactions: []domain.Interaction{{Target: common.HexToAddress("0x1"), Value: big.NewInt(0)}}}
	result, err := sub.Submit(context.Background(), settlement, common.HexToAddress("0xaa"), 1, 1)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if result.TxHash == (common.Hash{}) {
		t.Error("expected non-zero tx hash on last-chance success override")
	}
}

func TestSubmitRevertsOnSimulationFailure(t *testing.T) {
	client := &fakeEthClient{block: 10, simReverts: true}
	sub := testSubmitter(client, publicCfg(params.RevertProtectionEnabled), params.RevertProtectionDisabled)

	settlement := domain.Settlement{Interactions: []domain.Interaction{{Target: common.HexToAddress("0x1"), Value: big.NewInt(0)}}}
	_, err := sub.Submit(context.Background(), settlement, common.HexToAddress("0xaa"), 1, 20)
	if _, ok := err.(*SimulationRevertError); !ok {
		t.Fatalf("err = %v (%T), want *SimulationRevertError", err, err)
	}
}

func TestMultiplexerReturnsFirstSuccess(t *testing.T) {
	failing := &fakeEthClient{block: 10, simReverts: true}
	succeeding := &fakeEthClient{block: 10, status: eth.TxExecuted, blockAdvancesPerPoll: 1}

	subFail := testSubmitter(failing, publicCfg(params.RevertProtectionEnabled), params.RevertProtectionDisabled)
	subOk := testSubmitter(succeeding, publicCfg(params.RevertProtectionEnabled), params.RevertProtectionDisabled)

	mux, err := NewMultiplexer([]*Submitter{subFail, subOk}, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("NewMultiplexer: %v", err)
	}

	settlement := domain.Settlement{Interactions: []domain.Interaction{{Target: common.HexToAddress("0x1"), Value: big.NewInt(0)}}}
	result, err := mux.Execute(context.Background(), settlement, common.HexToAddress("0xaa"), 1, 20)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.TxHash == (common.Hash{}) {
		t.Error("expected a successful tx hash")
	}
}

func TestEncodeTransactionAppendsAuctionIdTag(t *testing.T) {
	interaction := domain.Interaction{Target: common.HexToAddress("0x1"), Value: big.NewInt(0), CallData: []byte{0xde, 0xad, 0xbe, 0xef}}
	raw := encodeTransaction(interaction, 0, GasPrice{Max: big.NewInt(1), Tip: big.NewInt(1)}, 42)

	tag := domain.AuctionIdTag(42)
	if len(raw) < len(tag) {
		t.Fatalf("encoded call data too short to carry a tag: %x", raw)
	}
	if !bytes.Equal(raw[len(raw)-len(tag):], tag[:]) {
		t.Errorf("encoded call data does not end with the auction-id tag: %x", raw)
	}
}

func TestMultiplexerRejectsEmptySubmitterList(t *testing.T) {
	if _, err := NewMultiplexer(nil, zap.NewNop().Sugar()); err != ErrNoMempools {
		t.Errorf("err = %v, want ErrNoMempools", err)
	}
}
