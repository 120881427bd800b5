// Package ledger is the durable sink for parsed NFPM position events.
// Events are keyed on (chain, tx_hash, log_index) so replays after a reorg
// rollback are idempotent.
package ledger

import (
	"context"

	"github.com/0xNedAlbo/duncan-scanner/internal/nfpm"
)

// DeleteResult describes the effect of a rollback delete.
type DeleteResult struct {
	// DeletedEvents is the number of ledger rows removed.
	DeletedEvents int64

	// AffectedPositions is the number of distinct position token ids that
	// lost at least one event.
	AffectedPositions int64
}

// Sink stores position events durably.
type Sink interface {
	// AppendEvent records an event. It returns false without error when the
	// event is already present; the scan loop treats both outcomes as
	// success and only aborts on a real error.
	AppendEvent(ctx context.Context, event *nfpm.PositionEvent) (bool, error)

	// DeleteAbove removes all events of a chain above the given block.
	// Called with the rollback ancestor during reorg recovery.
	DeleteAbove(ctx context.Context, chain string, block uint64) (DeleteResult, error)
}
