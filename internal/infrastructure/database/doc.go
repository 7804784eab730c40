// Package database provides SQLite connectivity shared by the gateway
// account store and the dashboard's local time-series store.
//
// This package manages:
//   - Connections for either registered SQLite driver (cgo or pure Go)
//   - WAL mode, busy timeout and foreign keys expressed per driver
//   - Versioned schema migrations read from an fs.FS
//
// The package does not link a driver itself. Import one of
//
//	_ "github.com/mattn/go-sqlite3" // DriverSQLite3
//	_ "modernc.org/sqlite"          // DriverSQLite
//
// in the binary or test that opens the database.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are named YYYYMMDD_HHMMSS_description.up.sql with an optional
// matching .down.sql, and each runs in its own transaction.
package database
