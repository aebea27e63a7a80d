// Package auctionprocessor sorts and trims an auction snapshot down to the
// settleable slice handed to solvers.
package auctionprocessor

import (
	"context"
	"math/big"
	"sort"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/cowbatch/autopilot/pkg/domain"
)

// Processor prioritizes one auction at a time, caching at most one
// in-flight task per auction id so late callers observing the same id await
// the same result rather than re-fetching balances.
type Processor struct {
	balances BalanceFetcher
	logger   *zap.SugaredLogger

	group singleflight.Group

	mu       sync.Mutex
	latestId *int64
}

// New returns a Processor reading balances through balances.
func New(balances BalanceFetcher, logger *zap.SugaredLogger) *Processor {
	return &Processor{balances: balances, logger: logger}
}

// Prioritize deduplicates, balance-caps, and sorts one auction snapshot.
// A newer auction id supersedes an older in-flight task by simply
// overwriting the latestId marker; an older id observed after a newer one
// has already started is logged as an anomaly and still served from its own
// (independent) singleflight key, since ids are otherwise assumed strictly
// increasing by the caller.
func (p *Processor) Prioritize(ctx context.Context, auction domain.Auction) (domain.Auction, error) {
	key := auctionKey(auction.Id)

	p.mu.Lock()
	if p.latestId != nil && auction.Id != nil && *auction.Id < *p.latestId {
		p.logger.Warnw("prioritize called with stale auction id", "id", *auction.Id, "latest", *p.latestId)
	}
	if auction.Id != nil {
		p.latestId = auction.Id
	}
	p.mu.Unlock()

	result, err, _ := p.group.Do(key, func() (any, error) {
		return prioritize(auction, p.balances, ctx, p.logger)
	})
	if err != nil {
		return domain.Auction{}, err
	}
	return result.(domain.Auction), nil
}

func auctionKey(id *int64) string {
	if id == nil {
		return "unidentified"
	}
	return strconv.FormatInt(*id, 10)
}

// prioritize is the pure three-step algorithm: sort, fetch balances,
// allocate.
func prioritize(auction domain.Auction, balances BalanceFetcher, ctx context.Context, logger *zap.SugaredLogger) (domain.Auction, error) {
	orders := append([]domain.Order{}, auction.Orders...)
	sortOrders(orders, auction.Tokens)

	preInteractionsByKey := groupOrders(orders)

	fetched := make(map[domain.BalanceGroupKey]*big.Int)
	failed := make(map[domain.BalanceGroupKey]bool)
	for key, preInteractions := range preInteractionsByKey {
		bal, err := balances.Fetch(ctx, key, preInteractions)
		if err != nil {
			logger.Warnw("balance fetch failed, dropping orders for key", "trader", key.Trader, "sellToken", key.SellToken, "err", err)
			failed[key] = true
			continue
		}
		fetched[key] = bal
	}

	remaining := make(map[domain.BalanceGroupKey]*big.Int, len(fetched))
	for key, bal := range fetched {
		remaining[key] = new(big.Int).Set(bal)
	}

	var out []domain.Order
	for _, o := range orders {
		key := o.Key()
		if failed[key] {
			continue
		}

		left, ok := remaining[key]
		if !ok {
			continue
		}

		maxSell, overflowed := saturatingAdd(o.SellAmount, o.FeeAmount)
		if overflowed {
			continue
		}

		if !o.Partial.Fillable {
			if maxSell.Cmp(left) > 0 {
				continue
			}
			remaining[key] = new(big.Int).Sub(left, maxSell)
			out = append(out, o)
			continue
		}

		allocated := maxSell
		if left.Cmp(maxSell) < 0 {
			allocated = left
		}
		if allocated.Sign() <= 0 {
			continue
		}

		scaled := new(big.Int).Mul(o.Partial.Available, allocated)
		scaled.Div(scaled, maxSell)
		if scaled.Sign() == 0 {
			continue
		}

		adjusted := o
		adjusted.Partial = domain.PartiallyFillable(scaled)
		out = append(out, adjusted)

		remaining[key] = new(big.Int).Sub(left, allocated)
	}

	result := auction
	result.Orders = out
	return result, nil
}

// saturatingAdd adds a and b, reporting overflow instead of wrapping. big.Int
// never wraps, so overflow here means one of the operands exceeds the
// 256-bit range the on-chain representation can carry.
func saturatingAdd(a, b *big.Int) (*big.Int, bool) {
	sum := new(big.Int).Add(a, b)
	const bits = 256
	max := new(big.Int).Lsh(big.NewInt(1), bits)
	if sum.Cmp(max) >= 0 {
		return nil, true
	}
	return sum, false
}

// sortOrders sorts in place by (kind rank desc, fillability desc).
// Fillability is the ratio of the order's offered buy-per-sell
// versus the auction's reference prices; higher means more in-the-money.
// Ties are broken arbitrarily (stable sort preserves input order for ties).
func sortOrders(orders []domain.Order, tokens map[common.Address]domain.TokenInfo) {
	fillability := make([]*big.Rat, len(orders))
	for i, o := range orders {
		fillability[i] = fillabilityRatio(o, tokens)
	}

	sort.SliceStable(orders, func(i, j int) bool {
		ri, rj := orders[i].Kind.Rank(), orders[j].Kind.Rank()
		if ri != rj {
			return ri > rj
		}
		return fillability[i].Cmp(fillability[j]) > 0
	})
}

// fillabilityRatio computes the order's offered buy-per-sell ratio against
// the auction's reference prices for its tokens: (buy_amount / sell_amount)
// divided by (sell_price / buy_price). A missing reference price for either
// token falls back to a neutral ratio so the order is neither favored nor
// penalized relative to priced orders.
func fillabilityRatio(o domain.Order, tokens map[common.Address]domain.TokenInfo) *big.Rat {
	if o.SellAmount == nil || o.SellAmount.Sign() == 0 || o.BuyAmount == nil {
		return big.NewRat(0, 1)
	}
	offered := new(big.Rat).SetFrac(o.BuyAmount, o.SellAmount)

	sellInfo, sellOk := tokens[o.SellToken]
	buyInfo, buyOk := tokens[o.BuyToken]
	if !sellOk || !buyOk || sellInfo.Price == nil || buyInfo.Price == nil {
		return offered
	}

	sellPrice := new(big.Rat).SetInt(sellInfo.Price.Uint256().ToBig())
	buyPrice := new(big.Rat).SetInt(buyInfo.Price.Uint256().ToBig())
	if buyPrice.Sign() == 0 {
		return offered
	}
	reference := new(big.Rat).Quo(sellPrice, buyPrice)

	return offered.Quo(offered, reference)
}
