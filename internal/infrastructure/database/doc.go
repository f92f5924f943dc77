// Package database provides the SQLite store behind the hub's persistent
// state: device identities, installed module metadata and OAuth tokens.
//
// The connection runs in WAL mode with a busy timeout and a single pooled
// connection. Schema changes ship as embedded migration files (see the
// migrations package) and are applied with Migrate at startup.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migrations are additive: new columns must be nullable or carry a default,
// and every .up.sql has a matching .down.sql.
package database
