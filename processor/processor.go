// Package processor applies decoded frames to a storage adapter, computing
// merge semantics for patches and fanning out simple and rich notifications.
package processor

import (
	"encoding/json"

	"hyperstack/client/frame"
	"hyperstack/client/internal/metrics"
	"hyperstack/client/store"
)

// Processor is the single entry point frame handlers call with each
// decoded frame. It owns no transport state; a connection manager or test
// harness feeds it frames directly.
type Processor struct {
	adapter *store.Adapter
	metrics *metrics.Recorder
}

// New builds a Processor writing into adapter. rec may be nil.
func New(adapter *store.Adapter, rec *metrics.Recorder) *Processor {
	if rec == nil {
		rec = metrics.NewNop()
	}
	return &Processor{adapter: adapter, metrics: rec}
}

// Apply folds one frame into the adapter per spec.md §4.3's per-op table.
func (p *Processor) Apply(f frame.Frame) {
	view := f.ViewPath()

	switch f.Op {
	case frame.OpSubscribed:
		if f.Sort != nil {
			p.adapter.SetViewConfig(view, store.ViewConfig{
				Sort: &store.SortConfig{Field: f.Sort.Field, Order: store.SortOrder(f.Sort.Order)},
			})
		}

	case frame.OpSnapshot:
		p.applySnapshot(view, f.Items)

	case frame.OpCreate, frame.OpUpsert:
		p.applyUpsert(view, f.Key, decodeData(f.Data))

	case frame.OpPatch:
		p.applyPatch(view, f.Key, decodeData(f.Data), f.Append)

	case frame.OpDelete:
		p.applyDelete(view, f.Key)
	}

	p.metrics.FrameProcessed(string(f.Op))
}

func (p *Processor) applySnapshot(view string, items []frame.SnapshotEntry) {
	for _, item := range items {
		data := decodeData(item.Data)
		before, existed := p.adapter.Get(view, item.Key)
		p.adapter.Set(view, item.Key, data)

		p.adapter.NotifyUpdate(view, store.SimpleUpdate{Kind: store.UpdateUpsert, Key: item.Key, Value: data})
		if existed {
			p.adapter.NotifyRichUpdate(view, store.RichUpdate{Kind: store.RichUpdated, Key: item.Key, Before: before, After: data})
		} else {
			p.adapter.NotifyRichUpdate(view, store.RichUpdate{Kind: store.RichCreated, Key: item.Key, After: data})
		}
	}
	// Each Set call above already enforces the view's bound as it lands, so
	// by the time the batch finishes the view cannot be over bound; no
	// separate end-of-batch eviction pass is needed.
}

func (p *Processor) applyUpsert(view, key string, data any) {
	before, existed := p.adapter.Get(view, key)
	p.adapter.Set(view, key, data)

	p.adapter.NotifyUpdate(view, store.SimpleUpdate{Kind: store.UpdateUpsert, Key: key, Value: data})
	if existed {
		p.adapter.NotifyRichUpdate(view, store.RichUpdate{Kind: store.RichUpdated, Key: key, Before: before, After: data})
	} else {
		p.adapter.NotifyRichUpdate(view, store.RichUpdate{Kind: store.RichCreated, Key: key, After: data})
	}
}

func (p *Processor) applyPatch(view, key string, patch any, appendPaths []string) {
	existing, existed := p.adapter.Get(view, key)

	merged := patch
	if existed {
		merged = deepMergeWithAppend(existing, patch, appendPaths)
	}
	p.adapter.Set(view, key, merged)

	p.adapter.NotifyUpdate(view, store.SimpleUpdate{Kind: store.UpdatePatch, Key: key, Value: patch})
	p.adapter.NotifyRichUpdate(view, store.RichUpdate{Kind: store.RichUpdated, Key: key, Before: existing, After: merged, Patch: patch})
}

func (p *Processor) applyDelete(view, key string) {
	last, existed := p.adapter.Delete(view, key)
	p.adapter.NotifyUpdate(view, store.SimpleUpdate{Kind: store.UpdateDelete, Key: key})
	if existed {
		p.adapter.NotifyRichUpdate(view, store.RichUpdate{Kind: store.RichDeleted, Key: key, Before: last, LastKnown: last})
	}
}

// decodeData unmarshals a frame's raw JSON payload into a plain Go value
// (map[string]any, []any, or a scalar). An empty payload decodes to nil.
func decodeData(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

// deepMergeWithAppend recursively merges patch into target: array values at
// a dotted path listed in appendPaths are concatenated (target ++ patch),
// arrays not listed replace wholesale, nested records recurse, and any
// primitive or type-mismatched pair replaces. The recursion (mergeAt)
// carries the dotted field path from the patch's root so nested array
// merges can be scoped precisely.
func deepMergeWithAppend(target, patch any, appendPaths []string) any {
	return mergeAt("", target, patch, appendSet(appendPaths))
}

func appendSet(paths []string) map[string]struct{} {
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}
	return set
}

func mergeAt(path string, target, patch any, appendPaths map[string]struct{}) any {
	targetMap, targetIsMap := target.(map[string]any)
	patchMap, patchIsMap := patch.(map[string]any)
	if targetIsMap && patchIsMap {
		merged := make(map[string]any, len(targetMap)+len(patchMap))
		for k, v := range targetMap {
			merged[k] = v
		}
		for k, pv := range patchMap {
			childPath := k
			if path != "" {
				childPath = path + "." + k
			}
			merged[k] = mergeAt(childPath, targetMap[k], pv, appendPaths)
		}
		return merged
	}

	targetSlice, targetIsSlice := target.([]any)
	patchSlice, patchIsSlice := patch.([]any)
	if targetIsSlice && patchIsSlice {
		if _, ok := appendPaths[path]; ok {
			out := make([]any, 0, len(targetSlice)+len(patchSlice))
			out = append(out, targetSlice...)
			out = append(out, patchSlice...)
			return out
		}
		return patch
	}

	// Primitives, nils, and any other type mismatch: patch replaces target.
	return patch
}
