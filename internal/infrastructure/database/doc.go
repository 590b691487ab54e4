// Package database provides SQLite database connectivity for CorePost Core.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Schema migrations embedded in the binary
//   - Connection pooling and lifecycle management
//
// Security Considerations:
//   - All queries use parameterised statements (no SQL injection)
//   - Database file permissions are set to 0600: the devices table
//     holds raw decryption tokens
//
// Performance Characteristics:
//   - WAL mode allows concurrent reads during writes
//   - Busy timeout prevents lock contention errors
//   - Single-writer connection pool matches SQLite's write model
//
// Usage:
//
//	db, err := database.Open(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration files are embedded by the migrations package and follow the
// YYYYMMDD_HHMMSS_description.up.sql / .down.sql naming scheme. Each
// migration is applied in its own transaction.
package database
