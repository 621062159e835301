package processor

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"hyperstack/client/frame"
	"hyperstack/client/store"
)

func raw(t *testing.T, v string) json.RawMessage {
	t.Helper()
	return json.RawMessage(v)
}

func TestSnapshotThenPatchAppendsArray(t *testing.T) {
	a := store.New(0, nil)
	p := New(a, nil)

	var richEvents []store.RichUpdate
	a.OnRichUpdate("v/list", func(u store.RichUpdate) { richEvents = append(richEvents, u) })

	p.Apply(frame.Frame{
		Mode: frame.ModeList, Entity: "v/list", Op: frame.OpSnapshot,
		Items: []frame.SnapshotEntry{{Key: "a", Data: raw(t, `{"n":1,"xs":[1]}`)}},
	})
	p.Apply(frame.Frame{
		Mode: frame.ModeList, Entity: "v/list", Op: frame.OpPatch,
		Key: "a", Data: raw(t, `{"xs":[2]}`), Append: []string{"xs"},
	})

	got, ok := a.Get("v/list", "a")
	require.True(t, ok)
	require.Equal(t, map[string]any{"n": float64(1), "xs": []any{float64(1), float64(2)}}, got)

	require.Len(t, richEvents, 2)
	require.Equal(t, store.RichCreated, richEvents[0].Kind)
	require.Equal(t, store.RichUpdated, richEvents[1].Kind)
}

func TestPatchWithoutAppendReplacesArray(t *testing.T) {
	a := store.New(0, nil)
	p := New(a, nil)

	p.Apply(frame.Frame{Mode: frame.ModeState, Entity: "v/state", Op: frame.OpUpsert, Key: "a", Data: raw(t, `{"xs":[1,2]}`)})
	p.Apply(frame.Frame{Mode: frame.ModeState, Entity: "v/state", Op: frame.OpPatch, Key: "a", Data: raw(t, `{"xs":[9]}`)})

	got, _ := a.Get("v/state", "a")
	require.Equal(t, map[string]any{"xs": []any{float64(9)}}, got)
}

func TestEvictionUnderBound(t *testing.T) {
	a := store.New(2, nil)
	p := New(a, nil)

	var evicted []string
	a.OnRichUpdate("v/list", func(u store.RichUpdate) {
		if u.Kind == store.RichDeleted {
			evicted = append(evicted, u.Key)
		}
	})

	p.Apply(frame.Frame{Mode: frame.ModeList, Entity: "v/list", Op: frame.OpUpsert, Key: "k1", Data: raw(t, `{}`)})
	p.Apply(frame.Frame{Mode: frame.ModeList, Entity: "v/list", Op: frame.OpUpsert, Key: "k2", Data: raw(t, `{}`)})
	p.Apply(frame.Frame{Mode: frame.ModeList, Entity: "v/list", Op: frame.OpUpsert, Key: "k3", Data: raw(t, `{}`)})

	require.Equal(t, []string{"k2", "k3"}, a.Keys("v/list"))
	require.Equal(t, []string{"k1"}, evicted)
}

func TestSortedViewStabilityUnderUpserts(t *testing.T) {
	a := store.New(0, nil)
	p := New(a, nil)

	p.Apply(frame.Frame{View: "v/list", Op: frame.OpSubscribed, Sort: &frame.SortConfig{Field: []string{"t"}, Order: frame.SortDesc}})
	p.Apply(frame.Frame{Mode: frame.ModeList, Entity: "v/list", Op: frame.OpUpsert, Key: "a", Data: raw(t, `{"t":5}`)})
	p.Apply(frame.Frame{Mode: frame.ModeList, Entity: "v/list", Op: frame.OpUpsert, Key: "b", Data: raw(t, `{"t":3}`)})
	p.Apply(frame.Frame{Mode: frame.ModeList, Entity: "v/list", Op: frame.OpUpsert, Key: "c", Data: raw(t, `{"t":7}`)})

	require.Equal(t, []string{"c", "a", "b"}, a.Keys("v/list"))

	p.Apply(frame.Frame{Mode: frame.ModeList, Entity: "v/list", Op: frame.OpUpsert, Key: "d", Data: raw(t, `{"t":4}`)})
	require.Equal(t, []string{"c", "a", "d", "b"}, a.Keys("v/list"))
}

func TestDeleteProducesRichDeletedWithLastKnownAndNoOpForUnknownKey(t *testing.T) {
	a := store.New(0, nil)
	p := New(a, nil)

	var rich []store.RichUpdate
	a.OnRichUpdate("v/state", func(u store.RichUpdate) { rich = append(rich, u) })

	p.Apply(frame.Frame{Mode: frame.ModeState, Entity: "v/state", Op: frame.OpUpsert, Key: "a", Data: raw(t, `{"n":1}`)})
	p.Apply(frame.Frame{Mode: frame.ModeState, Entity: "v/state", Op: frame.OpDelete, Key: "a"})
	p.Apply(frame.Frame{Mode: frame.ModeState, Entity: "v/state", Op: frame.OpDelete, Key: "a"}) // idempotent no-op

	_, ok := a.Get("v/state", "a")
	require.False(t, ok)

	require.Len(t, rich, 2) // created, deleted -- second delete emits nothing rich
	require.Equal(t, store.RichDeleted, rich[1].Kind)
	require.Equal(t, map[string]any{"n": float64(1)}, rich[1].LastKnown)
}

func TestDeepMergeWithAppendNestedPaths(t *testing.T) {
	target := map[string]any{
		"a": map[string]any{"xs": []any{float64(1)}, "name": "old"},
	}
	patch := map[string]any{
		"a": map[string]any{"xs": []any{float64(2)}, "name": "new"},
	}
	merged := deepMergeWithAppend(target, patch, []string{"a.xs"})

	m := merged.(map[string]any)["a"].(map[string]any)
	require.Equal(t, []any{float64(1), float64(2)}, m["xs"])
	require.Equal(t, "new", m["name"])
}

func TestDeepMergeArrayInNonArrayTargetReplaces(t *testing.T) {
	target := map[string]any{"v": "scalar"}
	patch := map[string]any{"v": []any{float64(1)}}
	merged := deepMergeWithAppend(target, patch, []string{"v"})
	require.Equal(t, []any{float64(1)}, merged.(map[string]any)["v"])
}
