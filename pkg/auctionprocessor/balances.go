package auctionprocessor

import (
	"context"
	"math/big"

	"github.com/cowbatch/autopilot/pkg/domain"
	"github.com/cowbatch/autopilot/pkg/eth"
)

// BalanceFetcher resolves the available sell-token balance for a balance
// group key, optionally simulating a set of pre-interactions first (e.g. an
// unwrap or an approval) before reading the balance.
type BalanceFetcher interface {
	Fetch(ctx context.Context, key domain.BalanceGroupKey, preInteractions []domain.Interaction) (*big.Int, error)
}

// ethBalanceFetcher is the production BalanceFetcher backed by an eth.Client.
type ethBalanceFetcher struct {
	client eth.Client
}

// NewEthBalanceFetcher returns a BalanceFetcher reading live balances over
// client.
func NewEthBalanceFetcher(client eth.Client) BalanceFetcher {
	return &ethBalanceFetcher{client: client}
}

func (f *ethBalanceFetcher) Fetch(ctx context.Context, key domain.BalanceGroupKey, preInteractions []domain.Interaction) (*big.Int, error) {
	// Pre-interactions are only simulated by the solver/driver encoding
	// path; the processor reads the balance as-is and trusts the caller to
	// have already accounted for any pre-interaction side effects that
	// matter for sizing. The union-of-identical-pre_interactions rule in
	// groupOrders governs only which key the balance is cached under, not
	// how the fetch itself is simulated.
	return f.client.BalanceOf(ctx, key.SellToken, key.Trader)
}

// groupOrders buckets orders by balance group key: when a
// trader has multiple orders sharing (trader, sell_token, sell_source) with
// *identical* pre_interactions, fetch once with the union of those
// interactions. Orders within a key that do not all share identical
// pre_interactions are instead fetched pessimistically, with no
// pre-interactions.
func groupOrders(orders []domain.Order) map[domain.BalanceGroupKey][]domain.Interaction {
	grouped := make(map[domain.BalanceGroupKey][]domain.Order)
	for _, o := range orders {
		key := o.Key()
		grouped[key] = append(grouped[key], o)
	}

	preInteractionsByKey := make(map[domain.BalanceGroupKey][]domain.Interaction, len(grouped))
	for key, group := range grouped {
		preInteractionsByKey[key] = unionIfIdentical(group)
	}
	return preInteractionsByKey
}

func unionIfIdentical(group []domain.Order) []domain.Interaction {
	if len(group) == 0 {
		return nil
	}
	first := group[0].PreInteractions
	for _, o := range group[1:] {
		if !sameInteractions(first, o.PreInteractions) {
			return nil
		}
	}
	return first
}

func sameInteractions(a, b []domain.Interaction) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Target != b[i].Target {
			return false
		}
		if (a[i].Value == nil) != (b[i].Value == nil) {
			return false
		}
		if a[i].Value != nil && a[i].Value.Cmp(b[i].Value) != 0 {
			return false
		}
		if string(a[i].CallData) != string(b[i].CallData) {
			return false
		}
	}
	return true
}
