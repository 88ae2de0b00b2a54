// Package storage persists user preferences (viewed and saved announcements,
// audio toggle, sidebar state) and watchlists.
//
// Drivers:
//   - "memory": process-local, lost on exit
//   - "file": JSON snapshot plus an append-only journal
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//
// Absent or unreadable state falls back to defaults; callers never need to
// special-case a fresh install.
package storage
