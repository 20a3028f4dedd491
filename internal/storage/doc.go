// Package storage keeps the run history: one record per dispatched command.
//
// Two drivers are available:
//   - "file": append-only JSON Lines
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
package storage
