package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/russross/meddler"

	"github.com/0xNedAlbo/duncan-scanner/internal/common"
	// Also registers the hash, address and bigint meddler converters.
	"github.com/0xNedAlbo/duncan-scanner/internal/db"
	"github.com/0xNedAlbo/duncan-scanner/internal/logger"
	"github.com/0xNedAlbo/duncan-scanner/internal/nfpm"
)

// vacuumThreshold is the number of deleted events above which DeleteAbove
// reclaims the freed pages afterwards.
const vacuumThreshold = 10000

// SQLiteSink implements Sink on the position_events table.
type SQLiteSink struct {
	db  *sql.DB
	log *logger.Logger

	vacuumAfter int64
}

var _ Sink = (*SQLiteSink)(nil)

// eventRow is the database form of a position event.
type eventRow struct {
	ID          int64              `meddler:"id,pk"`
	Chain       string             `meddler:"chain"`
	Kind        string             `meddler:"kind"`
	TokenID     *big.Int           `meddler:"token_id,bigint"`
	Liquidity   *big.Int           `meddler:"liquidity,bigint"`
	Amount0     *big.Int           `meddler:"amount0,bigint"`
	Amount1     *big.Int           `meddler:"amount1,bigint"`
	Recipient   *ethcommon.Address `meddler:"recipient,address"`
	BlockNumber uint64             `meddler:"block_number"`
	BlockHash   ethcommon.Hash     `meddler:"block_hash,hash"`
	TxHash      ethcommon.Hash     `meddler:"tx_hash,hash"`
	TxIndex     uint               `meddler:"tx_index"`
	LogIndex    uint               `meddler:"log_index"`
}

// NewSQLiteSink creates an event sink on an already migrated database.
func NewSQLiteSink(db *sql.DB, log *logger.Logger) *SQLiteSink {
	return &SQLiteSink{
		db:          db,
		log:         log.WithComponent(common.ComponentLedger),
		vacuumAfter: vacuumThreshold,
	}
}

// AppendEvent records an event. The unique index on (chain, tx_hash,
// log_index) absorbs replays: an already recorded event is a duplicate
// result, not an error. Values are stored in the same representation the
// meddler converters read back (hex text for hashes and addresses, decimal
// text for uint256 amounts).
func (s *SQLiteSink) AppendEvent(ctx context.Context, event *nfpm.PositionEvent) (bool, error) {
	var recipient any
	if event.Kind == nfpm.KindCollect {
		recipient = event.Recipient.Hex()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO position_events
			(chain, kind, token_id, liquidity, amount0, amount1, recipient,
			 block_number, block_hash, tx_hash, tx_index, log_index)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, event.Chain, string(event.Kind),
		bigIntText(event.TokenID), bigIntText(event.Liquidity),
		bigIntText(event.Amount0), bigIntText(event.Amount1), recipient,
		event.BlockNumber, event.BlockHash.Hex(), event.TxHash.Hex(),
		event.TxIndex, event.LogIndex)
	if err != nil {
		return false, fmt.Errorf("failed to insert event: %w", err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get inserted row count: %w", err)
	}

	if inserted == 0 {
		s.log.Debugf("duplicate event ignored: chain=%s, tx=%s, log_index=%d",
			event.Chain, event.TxHash.Hex(), event.LogIndex)
		return false, nil
	}

	return true, nil
}

// DeleteAbove removes all events of a chain above the given block.
func (s *SQLiteSink) DeleteAbove(ctx context.Context, chain string, block uint64) (DeleteResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return DeleteResult{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var affected int64
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT token_id) FROM position_events
		WHERE chain = ? AND block_number > ?
	`, chain, block).Scan(&affected)
	if err != nil {
		return DeleteResult{}, fmt.Errorf("failed to count affected positions: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		DELETE FROM position_events WHERE chain = ? AND block_number > ?
	`, chain, block)
	if err != nil {
		return DeleteResult{}, fmt.Errorf("failed to delete events: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return DeleteResult{}, fmt.Errorf("failed to get deleted row count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return DeleteResult{}, fmt.Errorf("failed to commit delete: %w", err)
	}

	if deleted > 0 {
		s.log.Infof("rolled back ledger: chain=%s, above_block=%d, deleted_events=%d, affected_positions=%d",
			chain, block, deleted, affected)
	}

	// A deep rollback leaves a lot of free pages behind. Reclaiming them is
	// maintenance only, a failure does not fail the delete.
	if deleted >= s.vacuumAfter {
		if err := db.Vacuum(s.db); err != nil {
			s.log.Warnf("vacuum after rollback failed: %v", err)
		}
	}

	return DeleteResult{DeletedEvents: deleted, AffectedPositions: affected}, nil
}

// EventsByPosition returns all events of one position in canonical order.
func (s *SQLiteSink) EventsByPosition(ctx context.Context, chain string, tokenID *big.Int) ([]*nfpm.PositionEvent, error) {
	const query = `
		SELECT * FROM position_events
		WHERE chain = ? AND token_id = ?
		ORDER BY block_number ASC, tx_index ASC, log_index ASC
	`
	var rows []*eventRow
	if err := meddler.QueryAll(s.db, &rows, query, chain, tokenID.String()); err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	return eventsFromRows(rows), nil
}

// EventsInRange returns all events of a chain within [fromBlock, toBlock]
// in canonical order.
func (s *SQLiteSink) EventsInRange(ctx context.Context, chain string, fromBlock, toBlock uint64) ([]*nfpm.PositionEvent, error) {
	const query = `
		SELECT * FROM position_events
		WHERE chain = ? AND block_number >= ? AND block_number <= ?
		ORDER BY block_number ASC, tx_index ASC, log_index ASC
	`
	var rows []*eventRow
	if err := meddler.QueryAll(s.db, &rows, query, chain, fromBlock, toBlock); err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	return eventsFromRows(rows), nil
}

func bigIntText(value *big.Int) any {
	if value == nil {
		return nil
	}
	return value.String()
}

func eventsFromRows(rows []*eventRow) []*nfpm.PositionEvent {
	events := make([]*nfpm.PositionEvent, len(rows))
	for i, row := range rows {
		event := &nfpm.PositionEvent{
			Chain:       row.Chain,
			Kind:        nfpm.EventKind(row.Kind),
			TokenID:     row.TokenID,
			Liquidity:   row.Liquidity,
			Amount0:     row.Amount0,
			Amount1:     row.Amount1,
			BlockNumber: row.BlockNumber,
			BlockHash:   row.BlockHash,
			TxHash:      row.TxHash,
			TxIndex:     row.TxIndex,
			LogIndex:    row.LogIndex,
		}
		if row.Recipient != nil {
			event.Recipient = *row.Recipient
		}
		events[i] = event
	}
	return events
}

