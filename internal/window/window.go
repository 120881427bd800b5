// Package window maintains the per-chain set of recently observed NFPM
// transactions used as the baseline for reorg detection.
package window

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Entry records where a transaction was first observed.
type Entry struct {
	BlockHash   common.Hash
	BlockNumber uint64
	LogIndex    uint
}

// RecentWindow maps transaction hashes to their first-seen location within
// the last W blocks. It is owned by a single chain task and is not safe for
// concurrent use.
type RecentWindow struct {
	entries map[common.Hash]Entry
}

// New creates an empty window.
func New() *RecentWindow {
	return &RecentWindow{entries: make(map[common.Hash]Entry)}
}

// Upsert records the location of a log's transaction. The first observation
// of a transaction wins; later logs of the same transaction share its block
// hash, so one entry per transaction is sufficient for reorg detection.
func (w *RecentWindow) Upsert(lg types.Log) {
	if _, exists := w.entries[lg.TxHash]; exists {
		return
	}
	w.entries[lg.TxHash] = Entry{
		BlockHash:   lg.BlockHash,
		BlockNumber: lg.BlockNumber,
		LogIndex:    lg.Index,
	}
}

// UpsertAll records all logs in order.
func (w *RecentWindow) UpsertAll(logs []types.Log) {
	for _, lg := range logs {
		w.Upsert(lg)
	}
}

// Prune removes all entries below the given boundary block.
func (w *RecentWindow) Prune(boundary uint64) {
	for txHash, entry := range w.entries {
		if entry.BlockNumber < boundary {
			delete(w.entries, txHash)
		}
	}
}

// RemoveAbove drops entries above the given block; used during rollback.
func (w *RecentWindow) RemoveAbove(block uint64) {
	for txHash, entry := range w.entries {
		if entry.BlockNumber > block {
			delete(w.entries, txHash)
		}
	}
}

// Get returns the entry for a transaction hash, if present.
func (w *RecentWindow) Get(txHash common.Hash) (Entry, bool) {
	entry, ok := w.entries[txHash]
	return entry, ok
}

// Len returns the number of tracked transactions.
func (w *RecentWindow) Len() int {
	return len(w.entries)
}

// Entries returns the tracked transactions. The returned map is the live
// window state; callers must not mutate it.
func (w *RecentWindow) Entries() map[common.Hash]Entry {
	return w.entries
}
