// Package registry implements the client conductor's resource registry: a
// map from correlation id to the live resource the driver has acknowledged
// for it, mutated only by whoever holds the client lock.
package registry

import (
	"github.com/cuemby/conductor/pkg/resources"
)

// Registry is a dense correlation-id -> resources.Entry map. It is not
// itself synchronized: callers are expected to hold the conductor's client
// lock around every method. That invariant is also what lets ForEach
// tolerate removal mid-pass without a nested lock.
type Registry struct {
	// ids/entries are kept as parallel slices so ForEach can iterate by
	// index in reverse and delete-by-swap-with-last without disturbing
	// the iteration cursor: index-based reverse iteration with fast
	// unordered removal.
	ids     []int64
	entries []*resources.Entry
	index   map[int64]int // correlation id -> position in ids/entries
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{index: make(map[int64]int)}
}

// RegisterResult inserts resource at correlationID. Must be called exactly
// once per accepted driver event; a second call for the same id overwrites
// silently (callers are expected to route duplicate driver acks through
// awaitResponse, which only resolves once).
func (r *Registry) RegisterResult(correlationID int64, entry *resources.Entry) {
	if pos, ok := r.index[correlationID]; ok {
		r.entries[pos] = entry
		return
	}
	r.index[correlationID] = len(r.ids)
	r.ids = append(r.ids, correlationID)
	r.entries = append(r.entries, entry)
}

// Get returns the entry registered at correlationID, or nil if none.
func (r *Registry) Get(correlationID int64) *resources.Entry {
	pos, ok := r.index[correlationID]
	if !ok {
		return nil
	}
	return r.entries[pos]
}

// Remove deletes the entry at correlationID, if present, in O(1) by
// swapping with the last element.
func (r *Registry) Remove(correlationID int64) {
	pos, ok := r.index[correlationID]
	if !ok {
		return
	}
	last := len(r.ids) - 1
	r.ids[pos] = r.ids[last]
	r.entries[pos] = r.entries[last]
	r.index[r.ids[pos]] = pos

	r.ids = r.ids[:last]
	r.entries = r.entries[:last]
	delete(r.index, correlationID)
}

// Len returns the number of registered entries.
func (r *Registry) Len() int {
	return len(r.ids)
}

// ForEach visits every entry in reverse slot order, tolerating the visitor
// calling Remove on the current correlation id or on one already visited:
// iterating in reverse means such a swap-with-last removal only moves an
// element into a slot already visited. Removing an entry not yet visited
// can move an already-visited entry into an unvisited slot, and that entry
// is then visited a second time.
func (r *Registry) ForEach(visit func(correlationID int64, entry *resources.Entry)) {
	for i := len(r.ids) - 1; i >= 0; i-- {
		if i >= len(r.ids) {
			continue // shrank past this index from a removal during the visit
		}
		visit(r.ids[i], r.entries[i])
	}
}

// Clear empties the registry, as ForceClose does after visiting every
// entry.
func (r *Registry) Clear() {
	r.ids = nil
	r.entries = nil
	r.index = make(map[int64]int)
}

// ByChannelStatusIndicator returns every entry whose channel status
// indicator id matches statusIndicatorID, used to fan out
// onChannelEndpointError to every affected resource.
func (r *Registry) ByChannelStatusIndicator(statusIndicatorID int32) []*resources.Entry {
	var out []*resources.Entry
	for _, e := range r.entries {
		if e.ChannelStatusIndicatorID() == statusIndicatorID {
			out = append(out, e)
		}
	}
	return out
}

// FindPublicationByChannelAndStream returns an already-registered shared
// publication for (channel, streamID), if one exists, so that a second
// addPublication call for the same identity can share it rather than
// asking the driver to mint a new one.
func (r *Registry) FindPublicationByChannelAndStream(channel string, streamID int32) *resources.Entry {
	for _, e := range r.entries {
		if e.Kind == resources.KindSharedPublication && e.Publication.Channel == channel && e.Publication.StreamID == streamID {
			return e
		}
	}
	return nil
}
