package driver

import "github.com/cowbatch/autopilot/pkg/domain"

// encodeSettlement produces the requested settlement variant for one
// validated solution: Internalized drops interactions the solver marked
// internalizable (the settlement contract satisfies them out of its own
// token buffers instead of executing them), UnInternalized keeps every
// interaction verbatim. Both start MayRevert=true; the driver's
// continuous re-simulation loop clears the flag once it observes a clean
// simulation.
func encodeSettlement(sol domain.Solution, variant domain.SettlementVariant) domain.Settlement {
	var interactions []domain.Interaction
	for _, ei := range sol.Interactions {
		if variant == domain.Internalized && ei.Internalizable {
			continue
		}
		interactions = append(interactions, ei.Interaction)
	}
	interactions = append(append([]domain.Interaction{}, sol.PreInteractions...), interactions...)
	interactions = append(interactions, sol.PostInteractions...)

	return domain.Settlement{
		Solution:       sol,
		Variant:        variant,
		ClearingPrices: sol.ClearingPrices,
		Interactions:   interactions,
		Gas:            sol.Gas,
		MayRevert:      true,
	}
}
