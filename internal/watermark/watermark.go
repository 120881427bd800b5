// Package watermark persists the per-chain scan position. The watermark is
// the highest block whose NFPM logs are durably recorded; after a restart
// scanning resumes at watermark+1.
package watermark

import "context"

// Store persists watermarks across restarts.
type Store interface {
	// Get returns the watermark for a chain. The second return value is
	// false when the chain has never been scanned.
	Get(ctx context.Context, chain string) (uint64, bool, error)

	// Set records the watermark for a chain, creating the row on first use.
	// Set may move the watermark in either direction; rollback lowers it.
	Set(ctx context.Context, chain string, block uint64) error
}
