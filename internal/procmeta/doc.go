// Package procmeta tracks the gateway children that are currently alive.
//
// The gateway records each child when it is spawned and removes it once
// reaped. The HTTP status endpoint reads a snapshot, and shutdown uses the
// remaining pids to kill stragglers.
//
// Queries (read-only):
//   - Get(pid) - Metadata for one child
//   - Snapshot() - All children, ordered by start time
//   - Pids() - Pids of all children
//   - Len() - Number of children
//
// Commands (mutations):
//   - Set(pid, metadata) - Record a spawned child
//   - Delete(pid) - Forget a reaped child
//
// Thread-safe with RWMutex: the event loop writes while HTTP handlers read.
package procmeta
