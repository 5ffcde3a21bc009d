package registry

import (
	"sort"
	"sync"
)

// ReverseIndex maps a key (holder address, exchange id, contract address) to
// the set of asset ids that reference it. Entries are only ever added.
type ReverseIndex struct {
	mu sync.RWMutex
	m  map[string]map[string]struct{}
}

// NewReverseIndex creates an empty ReverseIndex.
func NewReverseIndex() *ReverseIndex {
	return &ReverseIndex{m: make(map[string]map[string]struct{})}
}

// Add records assetID under key and reports whether it was new.
func (x *ReverseIndex) Add(key, assetID string) bool {
	if key == "" || assetID == "" {
		return false
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	ids, ok := x.m[key]
	if !ok {
		ids = make(map[string]struct{})
		x.m[key] = ids
	}
	if _, exists := ids[assetID]; exists {
		return false
	}
	ids[assetID] = struct{}{}
	return true
}

// Lookup returns the sorted asset ids stored under key.
func (x *ReverseIndex) Lookup(key string) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()

	ids := x.m[key]
	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Contains reports whether assetID is stored under key.
func (x *ReverseIndex) Contains(key, assetID string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.m[key][assetID]
	return ok
}

// Len returns the number of distinct keys.
func (x *ReverseIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.m)
}
