// Package storage persists the audit trail of monitor events.
//
// Two drivers exist: "file" appends JSON Lines next to the configured path,
// "sqlite" writes to a SQLite database. An empty driver disables storage.
package storage
