package auctionprocessor

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/cowbatch/autopilot/pkg/domain"
)

type fakeBalances struct {
	byKey map[domain.BalanceGroupKey]*big.Int
}

func (f *fakeBalances) Fetch(_ context.Context, key domain.BalanceGroupKey, _ []domain.Interaction) (*big.Int, error) {
	if bal, ok := f.byKey[key]; ok {
		return new(big.Int).Set(bal), nil
	}
	return big.NewInt(0), nil
}

type failingBalances struct{}

func (failingBalances) Fetch(context.Context, domain.BalanceGroupKey, []domain.Interaction) (*big.Int, error) {
	return nil, errors.New("balance fetch failed")
}

func mustPrice(t *testing.T, v uint64) domain.Price {
	t.Helper()
	p, err := domain.NewPrice(uint256.NewInt(v))
	if err != nil {
		t.Fatalf("NewPrice: %v", err)
	}
	return p
}

func uidFor(owner common.Address, salt byte) domain.OrderUid {
	var digest [32]byte
	digest[31] = salt
	return domain.NewOrderUid(digest, owner, 1_900_000_000)
}

func TestPrioritizeScenarioS1SortByFillability(t *testing.T) {
	t1 := common.HexToAddress("0x01")
	t2 := common.HexToAddress("0x02")
	owner := common.HexToAddress("0xaa")

	p1 := mustPrice(t, 1)
	p2 := mustPrice(t, 2)

	oa := domain.Order{
		Uid:        uidFor(owner, 1),
		SellToken:  t1,
		BuyToken:   t2,
		SellAmount: big.NewInt(100),
		BuyAmount:  big.NewInt(180),
		FeeAmount:  big.NewInt(0),
		Kind:       domain.KindMarket,
		Side:       domain.Sell,
	}
	ob := domain.Order{
		Uid:        uidFor(owner, 2),
		SellToken:  t1,
		BuyToken:   t2,
		SellAmount: big.NewInt(100),
		BuyAmount:  big.NewInt(220),
		FeeAmount:  big.NewInt(0),
		Kind:       domain.KindMarket,
		Side:       domain.Sell,
	}

	auction := domain.Auction{
		Orders: []domain.Order{oa, ob},
		Tokens: map[common.Address]domain.TokenInfo{
			t1: {Price: &p1},
			t2: {Price: &p2},
		},
	}

	fetcher := &fakeBalances{byKey: map[domain.BalanceGroupKey]*big.Int{
		{Trader: owner, SellToken: t1}: big.NewInt(1_000_000),
	}}

	proc := New(fetcher, zap.NewNop().Sugar())
	result, err := proc.Prioritize(context.Background(), auction)
	if err != nil {
		t.Fatalf("Prioritize: %v", err)
	}
	if len(result.Orders) != 2 {
		t.Fatalf("got %d orders, want 2", len(result.Orders))
	}
	if result.Orders[0].Uid != ob.Uid || result.Orders[1].Uid != oa.Uid {
		t.Fatalf("order = [%s, %s], want [O_B, O_A]", result.Orders[0].Uid, result.Orders[1].Uid)
	}
}

func TestPrioritizeScenarioS2PartialAllocation(t *testing.T) {
	sellToken := common.HexToAddress("0x01")
	buyToken := common.HexToAddress("0x02")
	owner := common.HexToAddress("0xbb")

	order := domain.Order{
		Uid:        uidFor(owner, 1),
		SellToken:  sellToken,
		BuyToken:   buyToken,
		SellAmount: big.NewInt(100),
		BuyAmount:  big.NewInt(100),
		FeeAmount:  big.NewInt(10),
		Kind:       domain.KindLimit,
		Side:       domain.Sell,
		Partial:    domain.PartiallyFillable(big.NewInt(100)),
	}

	auction := domain.Auction{
		Orders: []domain.Order{order},
		Tokens: map[common.Address]domain.TokenInfo{
			sellToken: {},
			buyToken:  {},
		},
	}

	fetcher := &fakeBalances{byKey: map[domain.BalanceGroupKey]*big.Int{
		order.Key(): big.NewInt(55),
	}}

	proc := New(fetcher, zap.NewNop().Sugar())
	result, err := proc.Prioritize(context.Background(), auction)
	if err != nil {
		t.Fatalf("Prioritize: %v", err)
	}
	if len(result.Orders) != 1 {
		t.Fatalf("got %d orders, want 1 retained", len(result.Orders))
	}
	got := result.Orders[0].Partial.Available
	if got.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("available = %s, want 50", got)
	}
}

func TestPrioritizeFillOrKillDroppedWhenOverBalance(t *testing.T) {
	sellToken := common.HexToAddress("0x01")
	buyToken := common.HexToAddress("0x02")
	owner := common.HexToAddress("0xcc")

	order := domain.Order{
		Uid:        uidFor(owner, 1),
		SellToken:  sellToken,
		BuyToken:   buyToken,
		SellAmount: big.NewInt(100),
		BuyAmount:  big.NewInt(100),
		FeeAmount:  big.NewInt(0),
		Kind:       domain.KindMarket,
		Side:       domain.Sell,
	}

	auction := domain.Auction{
		Orders: []domain.Order{order},
		Tokens: map[common.Address]domain.TokenInfo{sellToken: {}, buyToken: {}},
	}

	fetcher := &fakeBalances{byKey: map[domain.BalanceGroupKey]*big.Int{
		order.Key(): big.NewInt(50),
	}}

	proc := New(fetcher, zap.NewNop().Sugar())
	result, err := proc.Prioritize(context.Background(), auction)
	if err != nil {
		t.Fatalf("Prioritize: %v", err)
	}
	if len(result.Orders) != 0 {
		t.Fatalf("got %d orders, want 0 (fill-or-kill over balance)", len(result.Orders))
	}
}

func TestPrioritizeDropsOrdersOnBalanceFetchFailure(t *testing.T) {
	sellToken := common.HexToAddress("0x01")
	buyToken := common.HexToAddress("0x02")
	owner := common.HexToAddress("0xdd")

	order := domain.Order{
		Uid:        uidFor(owner, 1),
		SellToken:  sellToken,
		BuyToken:   buyToken,
		SellAmount: big.NewInt(100),
		BuyAmount:  big.NewInt(100),
		FeeAmount:  big.NewInt(0),
		Kind:       domain.KindMarket,
	}

	auction := domain.Auction{
		Orders: []domain.Order{order},
		Tokens: map[common.Address]domain.TokenInfo{sellToken: {}, buyToken: {}},
	}

	// failingBalances errors on every fetch, so the order's key is marked
	// failed and the order is dropped.
	proc := New(failingBalances{}, zap.NewNop().Sugar())
	result, err := proc.Prioritize(context.Background(), auction)
	if err != nil {
		t.Fatalf("Prioritize: %v", err)
	}
	if len(result.Orders) != 0 {
		t.Fatalf("got %d orders, want 0", len(result.Orders))
	}
}
