// Package wireproto holds the client→server message shapes and the
// subscription identity shared by the connection manager and the
// subscription registry, so both sides agree on what "the same
// subscription" means without importing each other.
package wireproto

import (
	"encoding/json"
	"sort"
	"strings"
)

// Subscription is the logical intent a consumer expresses: materialize (or
// watch) one view, optionally narrowed to one key, one partition, and a set
// of filters, optionally paginated with take/skip.
type Subscription struct {
	View      string
	Key       string // empty means "the whole view"
	Partition string
	Filters   map[string]string
	Take      *int
	Skip      *int
}

// SubscribeMessage is the client→server wire shape for a new subscription.
type SubscribeMessage struct {
	Type      string            `json:"type"`
	View      string            `json:"view"`
	Key       string            `json:"key,omitempty"`
	Partition string            `json:"partition,omitempty"`
	Filters   map[string]string `json:"filters,omitempty"`
	Take      *int              `json:"take,omitempty"`
	Skip      *int              `json:"skip,omitempty"`
}

// UnsubscribeMessage is the client→server wire shape releasing a
// subscription.
type UnsubscribeMessage struct {
	Type string `json:"type"`
	View string `json:"view"`
	Key  string `json:"key,omitempty"`
}

// PingMessage is sent every keep-alive interval.
type PingMessage struct {
	Type string `json:"type"`
}

// NewSubscribeMessage builds the wire message for sub.
func NewSubscribeMessage(sub Subscription) SubscribeMessage {
	return SubscribeMessage{
		Type: "subscribe", View: sub.View, Key: sub.Key, Partition: sub.Partition,
		Filters: sub.Filters, Take: sub.Take, Skip: sub.Skip,
	}
}

// NewUnsubscribeMessage builds the wire message releasing (view, key).
func NewUnsubscribeMessage(view, key string) UnsubscribeMessage {
	return UnsubscribeMessage{Type: "unsubscribe", View: view, Key: key}
}

// Key returns the stable deduplication key for sub: view, key (or "*"),
// partition, and a sorted-key JSON serialization of filters. Two
// subscriptions with identical intent produce identical keys regardless of
// map iteration order or struct literal field order.
func Key(sub Subscription) string {
	key := sub.Key
	if key == "" {
		key = "*"
	}
	var b strings.Builder
	b.WriteString(sub.View)
	b.WriteByte('\x1f')
	b.WriteString(key)
	b.WriteByte('\x1f')
	b.WriteString(sub.Partition)
	b.WriteByte('\x1f')
	b.WriteString(stableFilters(sub.Filters))
	return b.String()
}

func stableFilters(filters map[string]string) string {
	if len(filters) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]struct {
		K string `json:"k"`
		V string `json:"v"`
	}, len(keys))
	for i, k := range keys {
		ordered[i].K = k
		ordered[i].V = filters[k]
	}
	encoded, err := json.Marshal(ordered)
	if err != nil {
		return "{}"
	}
	return string(encoded)
}
