package procmeta

import (
	"sort"
	"sync"
)

// Manager records live gateway children.
type Manager struct {
	mu       sync.RWMutex
	metadata map[int]*ProcessMetadata // PID -> child metadata
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{
		metadata: make(map[int]*ProcessMetadata),
	}
}

// Get retrieves metadata for a PID (query).
// Returns nil if no child with this PID is recorded.
func (m *Manager) Get(pid int) *ProcessMetadata {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metadata[pid]
}

// Len returns the number of recorded children (query).
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.metadata)
}

// Pids returns the recorded PIDs in ascending order (query).
func (m *Manager) Pids() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pids := make([]int, 0, len(m.metadata))
	for pid := range m.metadata {
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	return pids
}

// Snapshot copies all entries, oldest first (query).
func (m *Manager) Snapshot() []Entry {
	m.mu.RLock()
	entries := make([]Entry, 0, len(m.metadata))
	for pid, md := range m.metadata {
		entries = append(entries, Entry{Pid: pid, ProcessMetadata: *md})
	}
	m.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Started.Equal(entries[j].Started) {
			return entries[i].Pid < entries[j].Pid
		}
		return entries[i].Started.Before(entries[j].Started)
	})
	return entries
}

// Set records a child (command).
// If the PID is already recorded, it is replaced.
func (m *Manager) Set(pid int, metadata *ProcessMetadata) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metadata[pid] = metadata
}

// Delete removes a child (command).
// This should be called once the child has been reaped.
func (m *Manager) Delete(pid int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.metadata, pid)
}
