package driverapi

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/cowbatch/autopilot/pkg/clock"
	"github.com/cowbatch/autopilot/pkg/domain"
	"github.com/cowbatch/autopilot/pkg/driver"
	"github.com/cowbatch/autopilot/pkg/eth"
	"github.com/cowbatch/autopilot/pkg/mempool"
	"github.com/cowbatch/autopilot/pkg/solverclient"
	"github.com/cowbatch/autopilot/params"
)

type fakeOracle struct{}

func (fakeOracle) NativePrice(context.Context, common.Address) (domain.Price, error) {
	u, _ := uint256.FromBig(big.NewInt(1_000_000_000_000_000_000))
	return domain.NewPrice(u)
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }
func (c fixedClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.t.Add(d)
	return ch
}

func TestHandleSolveRoundTrip(t *testing.T) {
	tokenA := common.HexToAddress("0xaa")
	tokenB := common.HexToAddress("0xbb")
	uid := domain.NewOrderUid([32]byte{1}, common.HexToAddress("0xcc"), 9999)

	solverMock := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := solverclient.Response{Solutions: []solverclient.Solution{{
			Id: 1,
			Prices: map[string]string{
				strings.ToLower(tokenA.Hex()): "1",
				strings.ToLower(tokenB.Hex()): "1",
			},
			Trades: []solverclient.Trade{{Uid: uid.String(), Executed: "100"}},
		}}}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer solverMock.Close()

	solver := solverclient.New(solverMock.URL, 5*time.Second)
	clk := fixedClock{t: time.Now()}
	drv := driver.New("test", common.HexToAddress("0xdd"), solver, nil, nil, nil, clk, clock.DefaultBudgets(), zap.NewNop().Sugar())
	srv := NewServer(drv, nil, fakeOracle{}, nil, 0, zap.NewNop().Sugar())

	body := SolveRequest{
		RequestId: 42,
		Orders: []OrderInfo{{
			Uid:        uid.String(),
			SellToken:  tokenA.Hex(),
			BuyToken:   tokenB.Hex(),
			SellAmount: "100",
			BuyAmount:  "100",
			FeeAmount:  "0",
			Side:       "sell",
			Kind:       "market",
			ValidTo:    9999,
		}},
		Tokens: []TokenInfoWire{
			{Address: tokenA.Hex(), AvailableBalance: "1000", Trusted: true},
			{Address: tokenB.Hex(), AvailableBalance: "1000", Trusted: true},
		},
		GasPrice: GasPriceWire{Max: "1", Tip: "1"},
		Deadline: time.Now().Add(time.Hour),
	}
	raw, _ := json.Marshal(body)

	req := httptest.NewRequest(http.MethodPost, "/solve", strings.NewReader(string(raw)))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp SolveResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Solutions) != 1 {
		t.Fatalf("want 1 solution, got %d: %s", len(resp.Solutions), rec.Body.String())
	}
	if len(resp.Solutions[0].OrdersTraded) != 1 || resp.Solutions[0].OrdersTraded[0].Uid != uid.String() {
		t.Errorf("unexpected trades: %+v", resp.Solutions[0].OrdersTraded)
	}
}

func TestHandleSolveRejectsBadBody(t *testing.T) {
	solver := solverclient.New("http://unused.invalid", time.Second)
	drv := driver.New("test", common.HexToAddress("0xdd"), solver, nil, nil, nil, fixedClock{t: time.Now()}, clock.DefaultBudgets(), zap.NewNop().Sugar())
	srv := NewServer(drv, nil, fakeOracle{}, nil, 0, zap.NewNop().Sugar())

	req := httptest.NewRequest(http.MethodPost, "/solve", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

// fakeSettleEthClient backs a single submitter just far enough to reach a
// terminal Submit outcome without ever touching a real node.
type fakeSettleEthClient struct{ block uint64 }

func (f *fakeSettleEthClient) CurrentBlockNumber(context.Context) (uint64, error) { return f.block, nil }
func (f *fakeSettleEthClient) NonceAt(context.Context, common.Address) (uint64, error) {
	return 0, nil
}
func (f *fakeSettleEthClient) EstimateGas(context.Context, common.Address, common.Address, *big.Int, []byte) (uint64, error) {
	return 21000, nil
}
func (f *fakeSettleEthClient) SendRawTransaction(context.Context, []byte) (common.Hash, error) {
	return common.HexToHash("0x01"), nil
}
func (f *fakeSettleEthClient) TransactionStatus(context.Context, common.Hash) (eth.TxStatus, error) {
	f.block++
	return eth.TxExecuted, nil
}
func (f *fakeSettleEthClient) BalanceOf(context.Context, common.Address, common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (f *fakeSettleEthClient) PendingTransactionsFrom(context.Context, common.Address) ([]eth.PendingTx, error) {
	return nil, nil
}
func (f *fakeSettleEthClient) CurrentGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}
func (f *fakeSettleEthClient) TransactionCallData(context.Context, common.Hash) ([]byte, error) {
	return nil, nil
}

func settleTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	tokenA := common.HexToAddress("0xaa")
	tokenB := common.HexToAddress("0xbb")
	uid := domain.NewOrderUid([32]byte{1}, common.HexToAddress("0xcc"), 9999)

	solverMock := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := solverclient.Response{Solutions: []solverclient.Solution{{
			Id: 7,
			Prices: map[string]string{
				strings.ToLower(tokenA.Hex()): "1",
				strings.ToLower(tokenB.Hex()): "1",
			},
			Trades: []solverclient.Trade{{Uid: uid.String(), Executed: "100"}},
		}}}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))

	solver := solverclient.New(solverMock.URL, 5*time.Second)
	client := &fakeSettleEthClient{block: 10}
	cfg := params.MempoolConfig{Public: &params.PublicMempool{RevertProtection: params.RevertProtectionDisabled}}
	sub := mempool.NewSubmitter(client, cfg, params.RevertProtectionDisabled, big.NewInt(1<<62), time.Millisecond, fixedClock{t: time.Now()}, zap.NewNop().Sugar())
	mux, err := mempool.NewMultiplexer([]*mempool.Submitter{sub}, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("NewMultiplexer: %v", err)
	}

	clk := fixedClock{t: time.Now()}
	drv := driver.New("test", common.HexToAddress("0xdd"), solver, nil, client, mux, clk, clock.DefaultBudgets(), zap.NewNop().Sugar())
	srv := NewServer(drv, nil, fakeOracle{}, client, 0, zap.NewNop().Sugar())

	body := SolveRequest{
		RequestId: 42,
		Orders: []OrderInfo{{
			Uid:        uid.String(),
			SellToken:  tokenA.Hex(),
			BuyToken:   tokenB.Hex(),
			SellAmount: "100",
			BuyAmount:  "100",
			FeeAmount:  "0",
			Side:       "sell",
			Kind:       "market",
			ValidTo:    9999,
		}},
		Tokens: []TokenInfoWire{
			{Address: tokenA.Hex(), AvailableBalance: "1000", Trusted: true},
			{Address: tokenB.Hex(), AvailableBalance: "1000", Trusted: true},
		},
		GasPrice: GasPriceWire{Max: "1", Tip: "1"},
		Deadline: time.Now().Add(time.Hour),
	}
	raw, _ := json.Marshal(body)

	req := httptest.NewRequest(http.MethodPost, "/solve", strings.NewReader(string(raw)))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("solve status = %d, body = %s", rec.Code, rec.Body.String())
	}

	return srv, solverMock
}

func TestHandleSettleSubmitsMatchingSolutionId(t *testing.T) {
	srv, solverMock := settleTestServer(t)
	defer solverMock.Close()

	body, _ := json.Marshal(SettleRequest{AuctionId: 1, SolutionId: 7, SubmissionDeadlineBlock: 1000})
	req := httptest.NewRequest(http.MethodPost, "/settle", strings.NewReader(string(body)))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var resp SettleResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "success" {
		t.Fatalf("status = %q, want success: %+v", resp.Status, resp)
	}
}

func TestHandleSettleRejectsMismatchedSolutionId(t *testing.T) {
	srv, solverMock := settleTestServer(t)
	defer solverMock.Close()

	body, _ := json.Marshal(SettleRequest{AuctionId: 1, SolutionId: 999, SubmissionDeadlineBlock: 1000})
	req := httptest.NewRequest(http.MethodPost, "/settle", strings.NewReader(string(body)))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var resp SettleResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "error" || !strings.Contains(resp.Message, "solution id") {
		t.Fatalf("want an error response naming the solution id mismatch, got %+v", resp)
	}
}

func TestHandleHealth(t *testing.T) {
	solver := solverclient.New("http://unused.invalid", time.Second)
	drv := driver.New("test", common.HexToAddress("0xdd"), solver, nil, nil, nil, fixedClock{t: time.Now()}, clock.DefaultBudgets(), zap.NewNop().Sugar())
	srv := NewServer(drv, nil, fakeOracle{}, nil, 0, zap.NewNop().Sugar())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
