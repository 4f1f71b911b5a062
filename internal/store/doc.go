// Package store persists gateway state as named JSON snapshot documents.
//
// # Architecture
//
// Each delivery component owns one document and rewrites it in full after
// it changes:
//
//   - conversations: every conversation log keyed by conversation key
//   - groups: the group directory and its id counter
//   - offline: per-identity mailboxes
//   - bot_configs: per-identity bot prompt settings
//
// Documents are stored through a Backend. Three are provided:
//
//   - SQLiteBackend: modernc.org/sqlite in WAL mode, one row per document
//   - PebbleBackend: an embedded Pebble database, one key per document
//   - MemoryBackend: a map, for tests and ephemeral deployments
//
// # Writes
//
// Writer persists a single document from a background goroutine. Owners call
// Notify after each mutation; bursts coalesce into one write of the latest
// snapshot, bounded by a timeout. Close flushes the final state. Write
// failures are logged and never returned, so the in-memory state stays
// authoritative while the process runs.
//
// # Testing
//
// Use NewMemoryBackend() for unit tests, or NewSQLiteBackend(":memory:")
// for tests that exercise real SQL.
package store
