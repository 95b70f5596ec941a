// Package database provides SQLite connectivity for the myStrom bridge.
//
// The store is small: one row per configured device (a config entry) and
// one row per entity published for it. This package manages:
//   - Opening the database with WAL mode and a busy timeout
//   - Schema migrations read from an fs.FS (see the migrations package)
//   - Transaction helpers
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS, migrations.Dir); err != nil {
//	    return err
//	}
package database
