package mempool

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cowbatch/autopilot/pkg/domain"
)

// Multiplexer races N submitters across configured mempools and returns the
// first success.
type Multiplexer struct {
	submitters []*Submitter
	logger     *zap.SugaredLogger
}

// NewMultiplexer returns a Multiplexer over the given submitters. A
// Multiplexer with zero submitters is a fatal configuration error, checked
// at construction.
func NewMultiplexer(submitters []*Submitter, logger *zap.SugaredLogger) (*Multiplexer, error) {
	if len(submitters) == 0 {
		return nil, ErrNoMempools
	}
	return &Multiplexer{submitters: submitters, logger: logger}, nil
}

// Execute runs every submitter concurrently and returns the first Ok via
// select-ok-style semantics; once any submitter succeeds the rest are
// cancelled. If every submitter fails, the last observed error is returned.
// auctionID is forwarded to every submitter so each tags its raw call data
// for the inclusion watcher.
func (m *Multiplexer) Execute(ctx context.Context, settlement domain.Settlement, solver common.Address, auctionID int64, submissionDeadlineBlock uint64) (SubmissionSuccess, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		result SubmissionSuccess
		err    error
	}
	results := make(chan outcome, len(m.submitters))

	g, groupCtx := errgroup.WithContext(runCtx)
	for _, sub := range m.submitters {
		sub := sub
		g.Go(func() error {
			result, err := sub.Submit(groupCtx, settlement, solver, auctionID, submissionDeadlineBlock)
			m.observe(result, err)
			results <- outcome{result: result, err: err}
			return nil
		})
	}

	go func() {
		_ = g.Wait()
		close(results)
	}()

	var lastErr error
	for o := range results {
		if o.err == nil {
			cancel()
			return o.result, nil
		}
		lastErr = o.err
	}
	return SubmissionSuccess{}, lastErr
}

// observe fires an observability call for each individual submitter
// outcome, independent of whether it was the winning one.
func (m *Multiplexer) observe(result SubmissionSuccess, err error) {
	if err != nil {
		m.logger.Debugw("mempool submission outcome", "success", false, "err", err)
		return
	}
	m.logger.Debugw("mempool submission outcome", "success", true, "txHash", result.TxHash)
}
