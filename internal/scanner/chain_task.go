package scanner

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/0xNedAlbo/duncan-scanner/internal/common"
	"github.com/0xNedAlbo/duncan-scanner/internal/config"
	"github.com/0xNedAlbo/duncan-scanner/internal/fetcher"
	"github.com/0xNedAlbo/duncan-scanner/internal/ledger"
	"github.com/0xNedAlbo/duncan-scanner/internal/logger"
	"github.com/0xNedAlbo/duncan-scanner/internal/metrics"
	"github.com/0xNedAlbo/duncan-scanner/internal/nfpm"
	"github.com/0xNedAlbo/duncan-scanner/internal/rpc"
	"github.com/0xNedAlbo/duncan-scanner/internal/watermark"
	"github.com/0xNedAlbo/duncan-scanner/internal/window"
)

// ChainBackend is the part of the RPC client a chain task needs.
type ChainBackend interface {
	fetcher.Backend
	LatestBlockNumber(ctx context.Context) (uint64, error)
	HeaderByTag(ctx context.Context, tag rpc.BlockTag) (*types.Header, error)
}

// ChainTask scans one chain. All state is owned by the task goroutine.
type ChainTask struct {
	chain             string
	cfg               config.ScannerConfig
	supportsFinalized bool

	backend    ChainBackend
	fetcher    *fetcher.LogFetcher
	window     *window.RecentWindow
	watermarks watermark.Store
	sink       ledger.Sink
	log        *logger.Logger

	watermark   uint64
	initialized bool

	// ancestor of a rollback whose ledger delete failed; retried before the
	// next forward sync so stale rows cannot survive as replay duplicates
	pendingDelete *uint64

	// set when the provider rejects the finalized/safe tag, so later ticks
	// skip the doomed request
	finalizedUnsupported bool
	safeUnsupported      bool
}

// NewChainTask wires a task for one chain.
func NewChainTask(
	chain string,
	cfg config.ScannerConfig,
	chainCfg config.ChainConfig,
	backend ChainBackend,
	watermarks watermark.Store,
	sink ledger.Sink,
	log *logger.Logger,
) *ChainTask {
	return &ChainTask{
		chain:             chain,
		cfg:               cfg,
		supportsFinalized: chainCfg.SupportsFinalizedTag,
		backend:           backend,
		fetcher: fetcher.New(fetcher.Config{
			Address:           chainCfg.NFPMAddr(),
			ChunkMin:          cfg.ChunkMin,
			ChunkMax:          cfg.ChunkMax,
			TargetLogsPerCall: cfg.TargetLogsPerCall,
		}, backend, log),
		window:     window.New(),
		watermarks: watermarks,
		sink:       sink,
		log:        log.WithComponent(common.ComponentScanner),
	}
}

// tick runs one scan round: resume or cold-start, advance the watermark to
// the chain head, then check the recent window for a reorg.
func (t *ChainTask) tick(ctx context.Context) error {
	if err := t.initialize(ctx); err != nil {
		return err
	}

	latest, err := t.backend.LatestBlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("failed to get latest block: %w", err)
	}
	metrics.LatestBlockSet(t.chain, latest)

	if t.pendingDelete != nil {
		if err := t.deleteAbove(ctx, *t.pendingDelete); err != nil {
			return err
		}
		t.pendingDelete = nil
	}

	boundary := t.windowBoundary(ctx, latest)
	t.window.Prune(boundary)

	logsFound := 0
	if latest > t.watermark {
		logsFound, err = t.syncForward(ctx, t.watermark+1, latest)
		if err != nil {
			return err
		}
	}

	t.log.Infof("tick complete: chain=%s, watermark=%d, latest=%d, window_size=%d, logs_found=%d",
		t.chain, t.watermark, latest, t.window.Len(), logsFound)

	return t.checkReorg(ctx, boundary, latest)
}

// initialize loads the persisted watermark, or starts at the chain head when
// the chain has never been scanned. Historical backfill is out of scope; a
// fresh deployment tracks forward from now.
func (t *ChainTask) initialize(ctx context.Context) error {
	if t.initialized {
		return nil
	}

	block, found, err := t.watermarks.Get(ctx, t.chain)
	if err != nil {
		return fmt.Errorf("failed to load watermark: %w", err)
	}

	if found {
		t.watermark = block
		t.log.Infof("resuming scan: chain=%s, watermark=%d", t.chain, block)
	} else {
		latest, err := t.backend.LatestBlockNumber(ctx)
		if err != nil {
			return fmt.Errorf("failed to get latest block for cold start: %w", err)
		}
		if err := t.watermarks.Set(ctx, t.chain, latest); err != nil {
			return err
		}
		t.watermark = latest
		t.log.Infof("cold start, scanning from chain head: chain=%s, watermark=%d", t.chain, latest)
	}

	metrics.WatermarkSet(t.chain, t.watermark)
	t.initialized = true

	return nil
}

// windowBoundary resolves the block below which reorgs are no longer
// considered: the finalized head where the chain supports it, the safe head
// as fallback, and latest minus the window size otherwise. The window never
// reaches further back than latest minus the window size even when the
// finality tags lag, so its memory stays bounded.
func (t *ChainTask) windowBoundary(ctx context.Context, latest uint64) uint64 {
	floor := uint64(0)
	if latest > t.cfg.WindowBlocks {
		floor = latest - t.cfg.WindowBlocks
	}

	if t.supportsFinalized && !t.finalizedUnsupported {
		if header, err := t.backend.HeaderByTag(ctx, rpc.TagFinalized); err == nil {
			return max(header.Number.Uint64(), floor)
		} else if rpc.IsTagUnsupportedError(err) {
			t.log.Warnf("finalized tag not supported by provider, falling back: %v", err)
			t.finalizedUnsupported = true
		} else {
			t.log.Debugf("finalized tag lookup failed: %v", err)
		}
	}

	if t.supportsFinalized && !t.safeUnsupported {
		if header, err := t.backend.HeaderByTag(ctx, rpc.TagSafe); err == nil {
			return max(header.Number.Uint64(), floor)
		} else if rpc.IsTagUnsupportedError(err) {
			t.log.Warnf("safe tag not supported by provider, falling back: %v", err)
			t.safeUnsupported = true
		} else {
			t.log.Debugf("safe tag lookup failed: %v", err)
		}
	}

	return floor
}

// syncForward fetches [fromBlock, toBlock], appends parsed events to the
// ledger in canonical order and advances the watermark. The watermark only
// moves after every event of the range landed, so a mid-range failure
// replays the whole range on the next tick and the ledger dedupes.
func (t *ChainTask) syncForward(ctx context.Context, fromBlock, toBlock uint64) (int, error) {
	logs, err := t.fetcher.FetchRange(ctx, fromBlock, toBlock)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch logs %d-%d: %w", fromBlock, toBlock, err)
	}
	metrics.LogsFoundAdd(t.chain, len(logs))
	metrics.FetchSpanSet(t.chain, t.fetcher.Span())

	for _, lg := range logs {
		event, err := nfpm.ParseLog(t.chain, lg)
		if err != nil {
			// A malformed log is dropped; everything else proceeds.
			t.log.Warnf("dropping malformed log: %v", err)
			metrics.ParseAnomalyInc(t.chain)
			continue
		}

		appended, err := t.sink.AppendEvent(ctx, event)
		if err != nil {
			return 0, fmt.Errorf("failed to append event %s[%d]: %w",
				event.TxHash.Hex(), event.LogIndex, err)
		}
		if appended {
			metrics.EventAppendedInc(t.chain, string(event.Kind))
		}

		t.window.Upsert(lg)
	}

	t.watermark = toBlock
	if err := t.watermarks.Set(ctx, t.chain, toBlock); err != nil {
		return 0, err
	}
	metrics.WatermarkSet(t.chain, t.watermark)

	return len(logs), nil
}

// checkReorg refetches the window range and compares it against the recorded
// first-seen locations. Any transaction that vanished, moved to a block with
// a different hash or changed its log index marks the affected block as
// reorged. Transactions that only appear in the refetch are not reorgs; the
// next forward sync picks them up.
func (t *ChainTask) checkReorg(ctx context.Context, boundary, latest uint64) error {
	if t.window.Len() == 0 {
		return nil
	}

	checkFrom := boundary
	checkTo := min(latest, t.watermark)
	if checkFrom > checkTo {
		return nil
	}

	logs, err := t.fetcher.FetchRange(ctx, checkFrom, checkTo)
	if err != nil {
		return fmt.Errorf("failed to refetch window %d-%d: %w", checkFrom, checkTo, err)
	}

	fresh := window.New()
	fresh.UpsertAll(logs)

	minAffected := uint64(0)
	found := false
	for txHash, entry := range t.window.Entries() {
		if entry.BlockNumber < checkFrom || entry.BlockNumber > checkTo {
			continue
		}

		freshEntry, ok := fresh.Get(txHash)
		if ok && freshEntry.BlockHash == entry.BlockHash && freshEntry.LogIndex == entry.LogIndex {
			continue
		}

		// A moved transaction affects both its old and its new block.
		affected := entry.BlockNumber
		if ok && freshEntry.BlockNumber < affected {
			affected = freshEntry.BlockNumber
		}

		if !found || affected < minAffected {
			minAffected = affected
			found = true
		}
	}

	if !found {
		return nil
	}

	return t.rollback(ctx, minAffected, latest)
}

// rollback rewinds ledger, window and watermark to an ancestor below the
// first affected block and replays forward. Replayed duplicates are absorbed
// by the ledger's unique key.
func (t *ChainTask) rollback(ctx context.Context, minAffected, latest uint64) error {
	ancestor := uint64(0)
	if minAffected > t.cfg.SafetyBuffer {
		ancestor = minAffected - t.cfg.SafetyBuffer
	}

	t.log.Warnf("reorg detected, rolling back: chain=%s, min_affected_block=%d, ancestor=%d",
		t.chain, minAffected, ancestor)
	metrics.ReorgDetectedInc(t.chain)

	// Replay must not run over stale rows, appends would dedupe against
	// them. The delete stays armed until it succeeds, so a failure anywhere
	// in the rollback retries it on the next tick before syncing.
	t.pendingDelete = &ancestor

	t.window.RemoveAbove(ancestor)

	t.watermark = ancestor
	if err := t.watermarks.Set(ctx, t.chain, ancestor); err != nil {
		return err
	}
	metrics.WatermarkSet(t.chain, t.watermark)

	if err := t.deleteAbove(ctx, ancestor); err != nil {
		return err
	}
	t.pendingDelete = nil

	if latest > ancestor {
		if _, err := t.syncForward(ctx, ancestor+1, latest); err != nil {
			return err
		}
	}

	return nil
}

// deleteAbove removes ledger events above the ancestor block.
func (t *ChainTask) deleteAbove(ctx context.Context, ancestor uint64) error {
	result, err := t.sink.DeleteAbove(ctx, t.chain, ancestor)
	if err != nil {
		return fmt.Errorf("failed to roll back ledger: %w", err)
	}
	metrics.RolledBackEventsAdd(t.chain, result.DeletedEvents)

	t.log.Infof("ledger rolled back: chain=%s, ancestor=%d, deleted_events=%d, affected_positions=%d",
		t.chain, ancestor, result.DeletedEvents, result.AffectedPositions)

	return nil
}
