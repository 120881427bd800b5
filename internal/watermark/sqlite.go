package watermark

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/0xNedAlbo/duncan-scanner/internal/common"
	"github.com/0xNedAlbo/duncan-scanner/internal/logger"
)

// SQLiteStore stores watermarks in the scan_watermarks table.
type SQLiteStore struct {
	db  *sql.DB
	log *logger.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a watermark store on an already migrated database.
func NewSQLiteStore(db *sql.DB, log *logger.Logger) *SQLiteStore {
	return &SQLiteStore{
		db:  db,
		log: log.WithComponent(common.ComponentWatermarkStore),
	}
}

// Get returns the watermark for a chain.
func (s *SQLiteStore) Get(ctx context.Context, chain string) (uint64, bool, error) {
	var block uint64
	err := s.db.QueryRowContext(ctx, `
		SELECT last_scanned_block FROM scan_watermarks WHERE chain = ?
	`, chain).Scan(&block)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get watermark for %s: %w", chain, err)
	}

	return block, true, nil
}

// Set records the watermark for a chain.
func (s *SQLiteStore) Set(ctx context.Context, chain string, block uint64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scan_watermarks (chain, last_scanned_block, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (chain) DO UPDATE SET
			last_scanned_block = excluded.last_scanned_block,
			updated_at = excluded.updated_at
	`, chain, block, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to set watermark for %s: %w", chain, err)
	}

	s.log.Debugf("saved watermark: chain=%s, block=%d", chain, block)

	return nil
}
