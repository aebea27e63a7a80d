package driver

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/cowbatch/autopilot/pkg/domain"
)

// mergeAll builds the merged-candidate list M: for each newly arriving
// settlement s, try to merge it into every settlement already in M; a
// successful merge replaces that element with the merged settlement, and s
// is always also appended standalone regardless of whether any merge
// succeeded. This lets the highest-scoring outcome be either a single
// solver's solution or a combination of several.
func mergeAll(candidates []domain.Settlement) []domain.Settlement {
	var m []domain.Settlement

	for _, s := range candidates {
		for i, existing := range m {
			if merged, ok := existing.Merge(s); ok {
				m[i] = merged
			}
		}
		m = append(m, s)
	}
	return m
}

// selectBest scores every candidate settlement and returns a pointer to the
// highest-scoring one, or nil if none could be scored.
func selectBest(orderIndex map[domain.OrderUid]domain.Order, candidates []domain.Settlement, nativePrices map[common.Address]domain.Price, logger *zap.SugaredLogger) *domain.Settlement {
	var best *domain.Settlement
	var bestScore *big.Int

	for i := range candidates {
		score, err := scoreSettlement(orderIndex, candidates[i], nativePrices)
		if err != nil {
			logger.Debugw("settlement candidate could not be scored", "err", err)
			continue
		}
		candidates[i].Score = score
		if bestScore == nil || score.Cmp(bestScore) > 0 {
			bestScore = score
			best = &candidates[i]
		}
	}
	return best
}
