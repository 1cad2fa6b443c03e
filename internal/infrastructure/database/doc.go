// Package database provides SQLite persistence for hyqwd.
//
// This package manages:
//   - Connection lifecycle with WAL mode and busy-timeout pragmas
//   - Forward-only embedded schema migrations
//   - Health checks for the status surface
//
// SQLite is opened with a single writer connection (MaxOpenConns=1); WAL
// mode still allows concurrent readers. Repositories built on this package
// (see internal/replay) own their own SQL.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
