// Package storage persists the little state dayorder owns: calendar
// overrides entered by operators, notifier dedup keys and an audit trail.
//
// Drivers: "file" (JSON files next to each other) and "sqlite" (modernc,
// pure Go). An empty driver or "none" disables persistence; Open then
// returns a nil Store and callers keep state in memory.
package storage
