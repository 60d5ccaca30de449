// Package discovery implements the provider discovery protocol: the
// request/announce handshake and the deduplicating registry that aggregates
// announcements into a stable, observable collection.
package discovery

import (
	"sync"

	"github.com/strobelight/beacon/internal/schema"
)

// Registry is a deduplicating, insertion-ordered store of provider records.
// Records are keyed by ProviderInfo.UUID; insertion order is the order of
// first-seen announcement and re-announcements never reorder or replace.
//
// Snapshots are copy-on-write: a unique ingest builds a new backing slice,
// while a duplicate ingest leaves the previous one untouched. Two Snapshot
// calls with no intervening unique ingest therefore return the identical
// slice value, which consumers may rely on for change detection.
type Registry struct {
	mu      sync.Mutex
	records []schema.ProviderRecord
	index   map[string]struct{}
	version uint64
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		records: nil,
		index:   make(map[string]struct{}),
		version: 0,
	}
}

// Ingest stores a record for the given provider unless its UUID is already
// present. It reports whether the record was newly stored; duplicates are a
// designed no-op, not an error.
func (r *Registry) Ingest(info schema.ProviderInfo, handle schema.Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.index[info.UUID]; exists {
		return false
	}

	next := make([]schema.ProviderRecord, len(r.records)+1)
	copy(next, r.records)
	next[len(r.records)] = schema.ProviderRecord{Info: info, Handle: handle}

	r.records = next
	r.index[info.UUID] = struct{}{}
	r.version++
	return true
}

// SnapshotVersion returns the record sequence together with the version it
// belongs to, read atomically.
func (r *Registry) SnapshotVersion() ([]schema.ProviderRecord, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records, r.version
}

// Snapshot returns the current ordered record sequence. The returned slice
// is owned by the registry; callers must not mutate it.
func (r *Registry) Snapshot() []schema.ProviderRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records
}

// Version counts unique content changes since construction or the last Reset.
func (r *Registry) Version() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version
}

// Len reports the number of stored records.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// Reset clears all records. It is an explicit teardown operation, not part
// of the discovery protocol; there is no per-provider removal.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = nil
	r.index = make(map[string]struct{})
	r.version++
}
