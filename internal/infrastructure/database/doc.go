// Package database opens the SQLite audit store and applies its schema
// migrations.
//
// The store is small: the relay appends one row per session transition and
// the API reads them back. WAL mode keeps those reads from blocking the
// writer.
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive. Each version has an .up.sql file and usually a
// .down.sql file used only in development.
package database
