package migrations

import (
	"database/sql"
	_ "embed"

	"github.com/0xNedAlbo/duncan-scanner/internal/db"
	"github.com/0xNedAlbo/duncan-scanner/internal/logger"
)

//go:embed 0001_scan_watermarks.sql
var mig001 string

//go:embed 0002_position_events.sql
var mig002 string

func all() []db.Migration {
	return []db.Migration{
		{
			ID:  "0001_scan_watermarks.sql",
			SQL: mig001,
		},
		{
			ID:  "0002_position_events.sql",
			SQL: mig002,
		},
	}
}

// RunMigrations brings the database at dbPath up to the current schema.
func RunMigrations(dbPath string) error {
	return db.RunMigrations(dbPath, all())
}

// RunMigrationsDB brings an already open database up to the current schema.
func RunMigrationsDB(log *logger.Logger, sqlDB *sql.DB) error {
	return db.RunMigrationsDB(log, sqlDB, all())
}
