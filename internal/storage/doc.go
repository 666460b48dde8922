// Package storage persists the app state (tasks with their job history, and
// the known persons) and an append-only audit log of operator actions.
//
// Drivers:
//   - "file": the whole state as one JSON document (atomic tmp+rename) plus
//     <prefix>.audit.jsonl
//   - "sqlite": modernc.org/sqlite database (pure Go, no cgo)
package storage
