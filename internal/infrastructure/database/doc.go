// Package database provides the SQLite store for myq-sync.
//
// It owns the connection lifecycle (WAL mode, busy timeout, a single
// pooled connection to match SQLite's one-writer model), the embedded
// schema migrations, and the pool diagnostics surfaced through the
// local API.
//
// The database file holds binding and trigger state only; cloud
// credentials live in the config file and tokens stay in memory. The
// file is created owner read/write only.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are additive-only: new columns are nullable or carry
// defaults, and every version ships an .up.sql with a matching
// .down.sql so the latest one can be rolled back with the binary's
// -rollback flag.
package database
