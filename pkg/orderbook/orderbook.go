// Package orderbook specifies the order-book REST API contract this module
// consumes. The order book itself, and its database schema, are external
// collaborators out of scope for this module.
package orderbook

import (
	"context"

	"github.com/cowbatch/autopilot/pkg/domain"
)

// Client is what the autopilot loop uses to take an auction snapshot each
// tick.
type Client interface {
	// CurrentAuction returns the order book's current solvable-orders
	// snapshot, or ok=false if no auction is currently available (the
	// autopilot sleeps and retries on the next tick).
	CurrentAuction(ctx context.Context) (auction domain.Auction, ok bool, err error)
}
