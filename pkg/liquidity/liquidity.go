// Package liquidity specifies the liquidity-source adapter contract a
// driver may optionally consult before calling its solver. AMM pool
// fetchers and RFQ APIs are external collaborators out of scope for this
// module.
package liquidity

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Source is one liquidity source (an AMM pool, an RFQ quote, etc.) as
// passed through to a solver's /solve request.
type Source struct {
	Kind    string
	Address common.Address
	Tokens  []common.Address
	Data    map[string]any
}

// Fetcher gathers liquidity for a set of token pairs a driver is about to
// hand to its solver. Fetching is skippable per solver.
type Fetcher interface {
	Fetch(ctx context.Context, pairs []TokenPair) ([]Source, error)
}

// TokenPair is an unordered pair of tokens to fetch liquidity for.
type TokenPair struct {
	A, B common.Address
}
