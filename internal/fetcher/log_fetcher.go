// Package fetcher retrieves NFPM logs over eth_getLogs with an adaptive
// block span, so one configuration works against providers with very
// different response limits.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"

	"github.com/0xNedAlbo/duncan-scanner/internal/common"
	"github.com/0xNedAlbo/duncan-scanner/internal/logger"
	"github.com/0xNedAlbo/duncan-scanner/internal/nfpm"
	"github.com/0xNedAlbo/duncan-scanner/internal/rpc"
)

// Backend is the part of the RPC client the fetcher needs.
type Backend interface {
	GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
}

// BatchBackend is implemented by backends that can answer several getLogs
// queries in one round trip.
type BatchBackend interface {
	BatchGetLogs(ctx context.Context, queries []ethereum.FilterQuery) ([][]types.Log, error)
}

// Config contains configuration for the LogFetcher.
type Config struct {
	// Address is the NFPM contract to filter on
	Address ethcommon.Address

	// ChunkMin and ChunkMax bound the adaptive span
	ChunkMin uint64
	ChunkMax uint64

	// TargetLogsPerCall drives span adaptation: the span doubles when a
	// sub-range returns fewer than half the target and halves when it
	// returns more than twice the target
	TargetLogsPerCall uint64
}

// LogFetcher fetches logs for one chain. The span carries over between
// calls so the fetcher stays adapted to the provider's limits.
// Not safe for concurrent use; each chain task owns its own instance.
type LogFetcher struct {
	cfg     Config
	backend Backend
	log     *logger.Logger
	span    uint64
}

// New creates a LogFetcher starting at the maximum span.
func New(cfg Config, backend Backend, log *logger.Logger) *LogFetcher {
	return &LogFetcher{
		cfg:     cfg,
		backend: backend,
		log:     log.WithComponent(common.ComponentLogFetcher),
		span:    cfg.ChunkMax,
	}
}

// Span returns the current adaptive span.
func (f *LogFetcher) Span() uint64 {
	return f.span
}

// FetchRange fetches all NFPM logs in [fromBlock, toBlock] in canonical
// order. The range is walked in sub-ranges of the current span; provider
// range-limit errors shrink the span and the failed sub-range is retried,
// so a transient limit never loses logs.
func (f *LogFetcher) FetchRange(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, error) {
	if fromBlock > toBlock {
		return nil, nil
	}

	var out []types.Log
	cursor := fromBlock

	for cursor <= toBlock {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		subTo := min(cursor+f.span-1, toBlock)

		logs, err := f.fetchSubRange(ctx, cursor, subTo)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			// Shrinking cannot cure an auth failure or malformed request.
			if rpc.IsFatalError(err) {
				return nil, fmt.Errorf("failed to fetch logs %d-%d: %w", cursor, subTo, err)
			}
			if f.span <= f.cfg.ChunkMin {
				return nil, fmt.Errorf("failed to fetch logs %d-%d at minimum span %d: %w",
					cursor, subTo, f.span, err)
			}
			f.shrinkSpan(err, cursor, subTo)
			continue
		}

		out = append(out, logs...)
		f.adjustSpan(len(logs))
		cursor = subTo + 1
	}

	return out, nil
}

// fetchSubRange runs one getLogs query per tracked topic0 and merges the
// results into canonical order. Batch-capable backends get all three
// queries in one round trip; others are queried in parallel.
func (f *LogFetcher) fetchSubRange(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, error) {
	topics := nfpm.Topics()
	queries := make([]ethereum.FilterQuery, len(topics))
	for i, topic := range topics {
		queries[i] = ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(fromBlock),
			ToBlock:   new(big.Int).SetUint64(toBlock),
			Addresses: []ethcommon.Address{f.cfg.Address},
			Topics:    [][]ethcommon.Hash{{topic}},
		}
	}

	if batcher, ok := f.backend.(BatchBackend); ok {
		results, err := batcher.BatchGetLogs(ctx, queries)
		if err != nil {
			return nil, err
		}
		return mergeLogs(results), nil
	}

	results := make([][]types.Log, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	for i, query := range queries {
		g.Go(func() error {
			logs, err := f.backend.GetLogs(gctx, query)
			if err != nil {
				return err
			}
			results[i] = logs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return mergeLogs(results), nil
}

// shrinkSpan reduces the span after a failed sub-range. When the provider
// suggests a block range in its error message, the suggestion's width seeds
// the new span; otherwise the span halves. The result stays in
// [ChunkMin, span-1].
func (f *LogFetcher) shrinkSpan(err error, fromBlock, toBlock uint64) {
	newSpan := f.span / 2

	if rpc.IsRangeLimitError(err) {
		if suggestedFrom, suggestedTo, ok := rpc.ParseSuggestedBlockRange(err.Error()); ok && suggestedTo >= suggestedFrom {
			if width := suggestedTo - suggestedFrom + 1; width < f.span {
				newSpan = width
			}
		}
	}

	newSpan = max(newSpan, f.cfg.ChunkMin)

	f.log.Infof("shrinking fetch span after failed range %d-%d: span %d -> %d (%v)",
		fromBlock, toBlock, f.span, newSpan, err)
	f.span = newSpan
}

// adjustSpan moves the span towards the configured target load.
func (f *LogFetcher) adjustSpan(logCount int) {
	n := uint64(logCount) //nolint:gosec
	target := f.cfg.TargetLogsPerCall

	switch {
	case n < target/2:
		if newSpan := min(f.span*2, f.cfg.ChunkMax); newSpan != f.span {
			f.log.Debugf("growing fetch span %d -> %d (%d logs, target %d)", f.span, newSpan, n, target)
			f.span = newSpan
		}
	case n > target*2:
		if newSpan := max(f.span/2, f.cfg.ChunkMin); newSpan != f.span {
			f.log.Debugf("shrinking fetch span %d -> %d (%d logs, target %d)", f.span, newSpan, n, target)
			f.span = newSpan
		}
	}
}

// mergeLogs combines per-topic results into canonical order and drops
// duplicate (txHash, logIndex) pairs.
func mergeLogs(results [][]types.Log) []types.Log {
	var merged []types.Log
	for _, logs := range results {
		merged = append(merged, logs...)
	}

	sort.Slice(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if a.BlockNumber != b.BlockNumber {
			return a.BlockNumber < b.BlockNumber
		}
		if a.TxIndex != b.TxIndex {
			return a.TxIndex < b.TxIndex
		}
		return a.Index < b.Index
	})

	type logKey struct {
		txHash   ethcommon.Hash
		logIndex uint
	}

	seen := make(map[logKey]struct{}, len(merged))
	deduped := merged[:0]
	for _, lg := range merged {
		key := logKey{txHash: lg.TxHash, logIndex: lg.Index}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		deduped = append(deduped, lg)
	}

	return deduped
}
