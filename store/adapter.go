// Package store holds the per-view entity tables the client core keeps in
// sync with the server: one unordered or sorted key/value table per view
// path, each with its own bound and its own update listeners.
package store

import (
	"encoding/json"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"hyperstack/client/internal/metrics"
)

// EntityKey identifies one row within a view.
type EntityKey = string

// UpdateKind distinguishes the simple notification shapes delivered to
// OnUpdate listeners.
type UpdateKind string

const (
	UpdateUpsert UpdateKind = "upsert"
	UpdatePatch  UpdateKind = "patch"
	UpdateDelete UpdateKind = "delete"
)

// SimpleUpdate is the coarse-grained notification: what changed and its
// current value. For a patch it carries only the delta that was applied,
// not the merged record; for a delete it carries no value.
type SimpleUpdate struct {
	Kind  UpdateKind
	Key   EntityKey
	Value any
}

// RichKind distinguishes the detailed notification shapes delivered to
// OnRichUpdate listeners. Eviction is not a distinct kind: it is reported
// as a deletion, since from a consumer's perspective the row is gone
// either way.
type RichKind string

const (
	RichCreated RichKind = "created"
	RichUpdated RichKind = "updated"
	RichDeleted RichKind = "deleted"
)

// RichUpdate carries before/after values so consumers can diff without
// re-reading the store.
type RichUpdate struct {
	Kind      RichKind
	Key       EntityKey
	Before    any // nil on created
	After     any // nil on deleted
	Patch     any // the raw patch payload, populated on updated-via-patch
	LastKnown any // populated on deleted (including evictions), mirrors Before
}

// ViewConfig binds a sort to a view. Once set it cannot be cleared; this
// mirrors the "first subscribed frame wins" rule entity frames cannot
// override.
type ViewConfig struct {
	Sort *SortConfig
}

type unregisterFunc = func()

// Adapter is the storage surface one client core shares across every view
// path it has seen a frame for. Every exported method is safe for
// concurrent use.
type Adapter struct {
	maxEntries int // 0 disables bound enforcement
	metrics    *metrics.Recorder

	mu    sync.RWMutex
	views map[string]*viewState
}

// New constructs an Adapter. maxEntries bounds every view uniformly; pass 0
// to disable bound enforcement. rec may be nil.
func New(maxEntries int, rec *metrics.Recorder) *Adapter {
	if rec == nil {
		rec = metrics.NewNop()
	}
	return &Adapter{
		maxEntries: maxEntries,
		metrics:    rec,
		views:      make(map[string]*viewState),
	}
}

type callbackID int

type viewState struct {
	mu         sync.RWMutex
	view       string
	sortCfg    *SortConfig
	values      map[EntityKey]any
	unsortedLRU *lru.Cache[EntityKey, struct{}]
	sortedKeys []EntityKey
	ranks      map[EntityKey]sortRank

	nextCBID  callbackID
	simpleCBs map[callbackID]func(SimpleUpdate)
	richCBs   map[callbackID]func(RichUpdate)

	adapter *Adapter
}

func (a *Adapter) view(path string) *viewState {
	a.mu.RLock()
	v, ok := a.views[path]
	a.mu.RUnlock()
	if ok {
		return v
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if v, ok := a.views[path]; ok {
		return v
	}
	v = &viewState{
		view:      path,
		values:    make(map[EntityKey]any),
		ranks:     make(map[EntityKey]sortRank),
		simpleCBs: make(map[callbackID]func(SimpleUpdate)),
		richCBs:   make(map[callbackID]func(RichUpdate)),
		adapter:   a,
	}
	v.ensureUnsortedBacking(a.maxEntries)
	a.views[path] = v
	return v
}

// ensureUnsortedBacking lazily builds the LRU used while the view has no
// sort config. Capacity 0 (unbounded) still needs a concrete, large
// capacity because golang-lru/v2 requires size > 0.
func (v *viewState) ensureUnsortedBacking(maxEntries int) {
	if v.sortCfg != nil {
		return
	}
	size := maxEntries
	if size <= 0 {
		size = 1 << 30
	}
	c, _ := lru.NewWithEvict[EntityKey, struct{}](size, func(key EntityKey, _ struct{}) {
		v.onEvicted(key)
	})
	v.unsortedLRU = c
}

// onEvicted fires under the unsortedLRU's own Add call, which is made while
// v.mu is held, so it can safely touch v.values directly.
func (v *viewState) onEvicted(key EntityKey) {
	last, ok := v.values[key]
	if !ok {
		return
	}
	delete(v.values, key)
	v.emitRichLocked(RichUpdate{Kind: RichDeleted, Key: key, Before: last, LastKnown: last})
	v.emitSimpleLocked(SimpleUpdate{Kind: UpdateDelete, Key: key})
}

// SetViewConfig binds path's sort config. It is a no-op once a config has
// already been set, matching spec.md's "set at most once per view" rule.
func (a *Adapter) SetViewConfig(path string, cfg ViewConfig) {
	v := a.view(path)
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.sortCfg != nil || cfg.Sort == nil {
		return
	}
	v.sortCfg = cfg.Sort

	//1.- Migrate every existing entry from LRU order into sorted order.
	var order []EntityKey
	if v.unsortedLRU != nil {
		order = v.unsortedLRU.Keys()
	}
	v.unsortedLRU = nil
	v.sortedKeys = make([]EntityKey, 0, len(order))
	for _, key := range order {
		val, ok := v.values[key]
		if !ok {
			continue
		}
		v.ranks[key] = sortRank{value: sortValueAt(val, cfg.Sort.Field), key: key}
		v.sortedKeys = insertSorted(v.sortedKeys, v.ranks, key, cfg.Sort.Order)
	}
}

// GetViewConfig returns the currently bound sort config, or nil if none has
// been set.
func (a *Adapter) GetViewConfig(path string) ViewConfig {
	v := a.view(path)
	v.mu.RLock()
	defer v.mu.RUnlock()
	return ViewConfig{Sort: v.sortCfg}
}

// Get returns a copy of the value stored at key, and whether it was present.
func (a *Adapter) Get(path string, key EntityKey) (any, bool) {
	v := a.view(path)
	v.mu.RLock()
	defer v.mu.RUnlock()
	val, ok := v.values[key]
	if !ok {
		return nil, false
	}
	return deepCopyValue(val), true
}

// Has reports whether key is present in path without copying its value.
func (a *Adapter) Has(path string, key EntityKey) bool {
	v := a.view(path)
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.values[key]
	return ok
}

// Keys returns the keys of path in their current display order.
func (a *Adapter) Keys(path string) []EntityKey {
	v := a.view(path)
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.orderedKeysLocked()
}

// Size reports the number of entries currently held by path.
func (a *Adapter) Size(path string) int {
	v := a.view(path)
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.values)
}

// GetAll returns a copied snapshot of path's values in display order. The
// copy means a concurrent Set/Delete cannot corrupt an in-flight caller
// iterating the result.
func (a *Adapter) GetAll(path string) []any {
	v := a.view(path)
	v.mu.RLock()
	defer v.mu.RUnlock()
	keys := v.orderedKeysLocked()
	out := make([]any, 0, len(keys))
	for _, k := range keys {
		out = append(out, deepCopyValue(v.values[k]))
	}
	return out
}

// GetAllValues returns a copied key-to-value map of path's entries. Being a
// map, the result carries no display order; use GetAll or Keys for that.
func (a *Adapter) GetAllValues(path string) map[EntityKey]any {
	v := a.view(path)
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[EntityKey]any, len(v.values))
	for k, val := range v.values {
		out[k] = deepCopyValue(val)
	}
	return out
}

func (v *viewState) orderedKeysLocked() []EntityKey {
	if v.sortCfg != nil {
		out := make([]EntityKey, len(v.sortedKeys))
		copy(out, v.sortedKeys)
		return out
	}
	if v.unsortedLRU != nil {
		return v.unsortedLRU.Keys()
	}
	return nil
}

// Set inserts or replaces key's value and enforces the view's bound and
// sort position. It does not notify listeners: the processor package knows
// the frame-specific shape of each notification (a patch's simple update
// carries only the delta, not the merged record) and calls NotifyUpdate /
// NotifyRichUpdate itself once it has that shape. Eviction is the one
// exception, since it is an adapter-internal side effect the processor
// cannot observe directly.
func (a *Adapter) Set(path string, key EntityKey, value any) {
	v := a.view(path)
	v.mu.Lock()

	_, existed := v.values[key]
	v.values[key] = value

	if v.sortCfg != nil {
		v.ranks[key] = sortRank{value: sortValueAt(value, v.sortCfg.Field), key: key}
		if existed {
			v.sortedKeys = removeFromSlice(v.sortedKeys, key)
		}
		v.sortedKeys = insertSorted(v.sortedKeys, v.ranks, key, v.sortCfg.Order)
		v.enforceSortedBoundLocked(a.maxEntries)
	} else {
		v.unsortedLRU.Add(key, struct{}{})
	}
	size := len(v.values)
	v.mu.Unlock()

	a.metrics.SetViewEntries(path, size)
}

// enforceSortedBoundLocked evicts from the low-priority tail until the view
// is back within bound. Callers must hold v.mu.
func (v *viewState) enforceSortedBoundLocked(maxEntries int) {
	if maxEntries <= 0 {
		return
	}
	for len(v.sortedKeys) > maxEntries {
		tail := v.sortedKeys[len(v.sortedKeys)-1]
		v.sortedKeys = v.sortedKeys[:len(v.sortedKeys)-1]
		delete(v.ranks, tail)
		v.onEvicted(tail)
	}
}

// Delete removes key from path, if present, and returns its last value. The
// caller is responsible for notifying listeners; see the Set doc comment.
func (a *Adapter) Delete(path string, key EntityKey) (lastValue any, existed bool) {
	v := a.view(path)
	v.mu.Lock()
	last, ok := v.values[key]
	if !ok {
		v.mu.Unlock()
		return nil, false
	}
	delete(v.values, key)
	if v.sortCfg != nil {
		v.sortedKeys = removeFromSlice(v.sortedKeys, key)
		delete(v.ranks, key)
	} else {
		v.unsortedLRU.Remove(key)
	}
	size := len(v.values)
	v.mu.Unlock()

	a.metrics.SetViewEntries(path, size)
	return last, true
}

// NotifyUpdate fans SimpleUpdate u out to every listener registered via
// OnUpdate for path.
func (a *Adapter) NotifyUpdate(path string, u SimpleUpdate) {
	v := a.view(path)
	v.mu.RLock()
	defer v.mu.RUnlock()
	v.emitSimpleLocked(u)
}

// NotifyRichUpdate fans RichUpdate u out to every listener registered via
// OnRichUpdate for path.
func (a *Adapter) NotifyRichUpdate(path string, u RichUpdate) {
	v := a.view(path)
	v.mu.RLock()
	defer v.mu.RUnlock()
	v.emitRichLocked(u)
}

// Clear empties path without emitting per-key notifications, matching a
// client-initiated ClearStore call rather than server-driven deletes.
func (a *Adapter) Clear(path string) {
	v := a.view(path)
	v.mu.Lock()
	v.values = make(map[EntityKey]any)
	v.sortedKeys = nil
	v.ranks = make(map[EntityKey]sortRank)
	v.ensureUnsortedBacking(a.maxEntries)
	v.mu.Unlock()
	a.metrics.SetViewEntries(path, 0)
}

// ClearAll empties every view the adapter has seen.
func (a *Adapter) ClearAll() {
	a.mu.RLock()
	paths := make([]string, 0, len(a.views))
	for p := range a.views {
		paths = append(paths, p)
	}
	a.mu.RUnlock()
	for _, p := range paths {
		a.Clear(p)
	}
}

// EvictOldest removes the single lowest-priority entry (LRU head for
// unsorted views, sorted tail for sorted views). It is exposed for callers
// that need to enforce a bound across a snapshot batch explicitly rather
// than relying on Set's automatic per-insert enforcement.
func (a *Adapter) EvictOldest(path string) {
	v := a.view(path)
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.sortCfg != nil {
		if len(v.sortedKeys) == 0 {
			return
		}
		tail := v.sortedKeys[len(v.sortedKeys)-1]
		v.sortedKeys = v.sortedKeys[:len(v.sortedKeys)-1]
		delete(v.ranks, tail)
		v.onEvicted(tail)
		return
	}
	if v.unsortedLRU == nil || v.unsortedLRU.Len() == 0 {
		return
	}
	v.unsortedLRU.RemoveOldest()
}

// OnUpdate registers a simple-update listener for path and returns a func
// to unregister it.
func (a *Adapter) OnUpdate(path string, fn func(SimpleUpdate)) unregisterFunc {
	v := a.view(path)
	v.mu.Lock()
	id := v.nextCBID
	v.nextCBID++
	v.simpleCBs[id] = fn
	v.mu.Unlock()
	return func() {
		v.mu.Lock()
		delete(v.simpleCBs, id)
		v.mu.Unlock()
	}
}

// OnRichUpdate registers a rich-update listener for path and returns a func
// to unregister it.
func (a *Adapter) OnRichUpdate(path string, fn func(RichUpdate)) unregisterFunc {
	v := a.view(path)
	v.mu.Lock()
	id := v.nextCBID
	v.nextCBID++
	v.richCBs[id] = fn
	v.mu.Unlock()
	return func() {
		v.mu.Lock()
		delete(v.richCBs, id)
		v.mu.Unlock()
	}
}

// emitSimpleLocked and emitRichLocked are called while v.mu is held. Update
// delivery is deliberately synchronous and in-line with the mutation: every
// listener is a stream adapter (see the stream package) that only queues the
// value onto its own buffer, so this never blocks on slow consumers.
func (v *viewState) emitSimpleLocked(u SimpleUpdate) {
	for _, fn := range v.simpleCBs {
		fn(u)
	}
}

func (v *viewState) emitRichLocked(u RichUpdate) {
	for _, fn := range v.richCBs {
		fn(u)
	}
}

// deepCopyValue returns a structurally independent copy of value by
// round-tripping it through JSON. Values stored in the adapter always
// originate from json.Unmarshal (map[string]any, []any, or scalars), so
// this never needs to handle arbitrary Go types.
func deepCopyValue(value any) any {
	if value == nil {
		return nil
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return value
	}
	var out any
	if err := json.Unmarshal(encoded, &out); err != nil {
		return value
	}
	return out
}
