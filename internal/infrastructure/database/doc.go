// Package database opens and migrates the daemon's SQLite store.
//
// The store holds one table of consequence: the event journal written
// by the bridge and read back by the status API. WAL mode keeps those
// two sides from blocking each other, and the pool is pinned to a
// single connection because SQLite allows one writer at a time anyway.
//
// Schema files are embedded into the binary by the top-level migrations
// package; Open never touches loose .sql files on disk. Each migration
// runs in its own transaction and is recorded in schema_migrations, so
// a failed step can be fixed and re-run without replaying the rest.
//
// Usage:
//
//	db, err := database.Open(database.Config{
//	    Path:        cfg.Database.Path,
//	    WALMode:     cfg.Database.WALMode,
//	    BusyTimeout: cfg.Database.BusyTimeout,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration files pair VERSION_description.up.sql with a matching
// .down.sql. Keep changes additive (nullable columns, new indexes) so
// an older daemon can still read a newer file. The database file is
// chmodded to 0600; everything in it is queryable by whoever can read
// the file, so tokens never land here.
package database
