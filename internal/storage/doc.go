// Package storage keeps the audit trail of operator actions (events announced,
// cancellations, reloads) so a countdown seen in game can be traced back to
// who or what triggered it.
//
// Drivers:
//   - "file":   <path>.audit.jsonl, one JSON object per line
//   - "sqlite": a SQLite database (modernc.org/sqlite, no cgo)
package storage
