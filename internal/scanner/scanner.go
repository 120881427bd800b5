// Package scanner drives the per-chain scan loops: forward ingestion of
// NFPM events, reorg detection over a recent window, and rollback/replay.
package scanner

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/0xNedAlbo/duncan-scanner/internal/common"
	"github.com/0xNedAlbo/duncan-scanner/internal/config"
	"github.com/0xNedAlbo/duncan-scanner/internal/logger"
	"github.com/0xNedAlbo/duncan-scanner/internal/metrics"
)

const maxFailureBackoff = 60 * time.Second

// Scanner runs one task per configured chain. Chains never block each
// other; a failing provider only slows its own chain down.
type Scanner struct {
	tasks        []*ChainTask
	pollInterval time.Duration
	log          *logger.Logger
}

// New creates a Scanner from already wired chain tasks.
func New(cfg config.ScannerConfig, tasks []*ChainTask, log *logger.Logger) *Scanner {
	return &Scanner{
		tasks:        tasks,
		pollInterval: cfg.PollInterval.Duration,
		log:          log.WithComponent(common.ComponentScanner),
	}
}

// Run scans all chains until the context is cancelled. A cancelled context
// is a graceful shutdown, not an error.
func (s *Scanner) Run(ctx context.Context) error {
	if len(s.tasks) == 0 {
		return errors.New("no chains to scan")
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, task := range s.tasks {
		g.Go(func() error {
			return s.runChain(gctx, task)
		})
	}

	return g.Wait()
}

// runChain ticks one chain at the poll interval. Tick failures are logged
// and retried with a longer pause; they never terminate the loop, because a
// provider outage on one chain must not take the process down.
func (s *Scanner) runChain(ctx context.Context, task *ChainTask) error {
	s.log.Infof("starting chain scan: chain=%s, poll_interval=%v", task.chain, s.pollInterval)

	for {
		start := time.Now()
		err := task.tick(ctx)
		metrics.TickDurationLog(task.chain, time.Since(start))

		wait := s.pollInterval
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				s.log.Infof("chain scan stopped: chain=%s", task.chain)
				return nil
			}

			metrics.ErrorInc(common.ComponentScanner)
			metrics.ChainHealthSet(task.chain, false)
			wait = min(maxFailureBackoff, 2*s.pollInterval)
			s.log.Errorf("tick failed: chain=%s, retry_in=%v, err=%v", task.chain, wait, err)
		} else {
			metrics.ChainHealthSet(task.chain, true)
		}

		select {
		case <-ctx.Done():
			s.log.Infof("chain scan stopped: chain=%s", task.chain)
			return nil
		case <-time.After(wait):
		}
	}
}
