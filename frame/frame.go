// Package frame decodes wire messages from the view server into the typed
// Frame variants the rest of the client core operates on.
package frame

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

// Mode distinguishes how an entity frame's data should be folded into the
// view store.
type Mode string

const (
	ModeState  Mode = "state"
	ModeAppend Mode = "append"
	ModeList   Mode = "list"
)

// Op is the mutation or control operation carried by a frame.
type Op string

const (
	OpCreate     Op = "create"
	OpUpsert     Op = "upsert"
	OpPatch      Op = "patch"
	OpDelete     Op = "delete"
	OpSnapshot   Op = "snapshot"
	OpSubscribed Op = "subscribed"
)

// SortOrder is the direction of a view-level sort config.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// SortConfig is the view-level ordering hint carried by a subscribed frame.
type SortConfig struct {
	Field []string  `json:"field"`
	Order SortOrder `json:"order"`
}

// SnapshotEntry is one {key, data} pair inside a snapshot frame's data array.
type SnapshotEntry struct {
	Key  string          `json:"key"`
	Data json.RawMessage `json:"data"`
}

// Frame is the closed tagged variant decoded from one server message. Only
// the fields relevant to Op are populated; this mirrors spec.md's "closed
// tagged variant, not polymorphism by subtype" design note.
type Frame struct {
	Mode   Mode
	Entity string // view path for entity/snapshot frames
	View   string // view path for subscribed frames
	Op     Op
	Key    string
	Data   json.RawMessage
	Append []string
	Sort   *SortConfig
	Items  []SnapshotEntry
}

// ViewPath returns the view path this frame addresses, regardless of
// whether it arrived as "entity" or "view" on the wire.
func (f Frame) ViewPath() string {
	if f.View != "" {
		return f.View
	}
	return f.Entity
}

// ErrInvalid is the sentinel every decode failure wraps, so callers can
// route on errors.Is(err, frame.ErrInvalid) without caring whether the
// bytes weren't JSON at all or were JSON but not a valid frame.
var ErrInvalid = errors.New("frame: invalid")

// InvalidFrameError reports why a decoded message failed validation. It is
// distinguished from a transport-level decode failure so callers can tell
// "the bytes weren't JSON" apart from "the JSON wasn't a valid frame".
type InvalidFrameError struct {
	Reason string
}

func (e *InvalidFrameError) Error() string { return "invalid frame: " + e.Reason }
func (e *InvalidFrameError) Unwrap() error { return ErrInvalid }

// DecodeError wraps a failure to even parse the transport payload as JSON
// (optionally after decompression).
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("decode frame: %v", e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }

// Is reports that every DecodeError also matches ErrInvalid, alongside its
// own wrapped cause.
func (e *DecodeError) Is(target error) bool { return target == ErrInvalid }

type wireEnvelope struct {
	Compressed string `json:"compressed"`
	Data       string `json:"data"`
}

type wireMessage struct {
	Mode   Mode            `json:"mode"`
	Entity string          `json:"entity"`
	View   string          `json:"view"`
	Op     Op              `json:"op"`
	Key    string          `json:"key"`
	Data   json.RawMessage `json:"data"`
	Append []string        `json:"append"`
	Sort   *SortConfig     `json:"sort"`
}

// Decode parses one textual or binary transport payload into a Frame. A
// binary payload is treated as UTF-8 JSON, per spec.md §6.
func Decode(payload []byte) (Frame, error) {
	return decode(payload, 0)
}

const maxCompressionDepth = 4

func decode(payload []byte, depth int) (Frame, error) {
	if depth > maxCompressionDepth {
		return Frame{}, &DecodeError{Err: errors.New("compressed envelope nesting too deep")}
	}

	var envelope wireEnvelope
	if err := json.Unmarshal(payload, &envelope); err == nil && envelope.Compressed != "" {
		inner, err := inflate(envelope.Compressed, envelope.Data)
		if err != nil {
			return Frame{}, &DecodeError{Err: err}
		}
		return decode(inner, depth+1)
	}

	var msg wireMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Frame{}, &DecodeError{Err: err}
	}
	return validate(msg)
}

func inflate(codec, b64 string) ([]byte, error) {
	if codec != "gzip" {
		return nil, fmt.Errorf("unsupported compression codec %q", codec)
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("base64 decode: %w", err)
	}

	// The server's encoder emits a zlib/deflate stream under the "gzip" tag;
	// some builds emit a true gzip stream instead, so fall back to that.
	if zr, err := zlib.NewReader(bytes.NewReader(raw)); err == nil {
		defer zr.Close()
		return io.ReadAll(zr)
	}
	gz, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("open compressed payload: %w", err)
	}
	defer gz.Close()
	return io.ReadAll(gz)
}

func validate(msg wireMessage) (Frame, error) {
	if msg.Op == "" {
		return Frame{}, &InvalidFrameError{Reason: "missing op"}
	}

	switch msg.Op {
	case OpCreate, OpUpsert, OpPatch, OpDelete:
		if msg.Mode == "" {
			return Frame{}, &InvalidFrameError{Reason: "missing mode"}
		}
		if msg.Entity == "" {
			return Frame{}, &InvalidFrameError{Reason: "missing entity"}
		}
		if msg.Key == "" {
			return Frame{}, &InvalidFrameError{Reason: "entity frame requires string key"}
		}
		return Frame{
			Mode:   msg.Mode,
			Entity: msg.Entity,
			Op:     msg.Op,
			Key:    msg.Key,
			Data:   msg.Data,
			Append: msg.Append,
		}, nil

	case OpSnapshot:
		if msg.Mode == "" {
			return Frame{}, &InvalidFrameError{Reason: "missing mode"}
		}
		if msg.Entity == "" {
			return Frame{}, &InvalidFrameError{Reason: "missing entity"}
		}
		var items []SnapshotEntry
		if len(msg.Data) == 0 {
			return Frame{}, &InvalidFrameError{Reason: "snapshot requires array data"}
		}
		if err := json.Unmarshal(msg.Data, &items); err != nil {
			return Frame{}, &InvalidFrameError{Reason: "snapshot data must be an array: " + err.Error()}
		}
		return Frame{
			Mode:   msg.Mode,
			Entity: msg.Entity,
			Op:     msg.Op,
			Items:  items,
		}, nil

	case OpSubscribed:
		if msg.View == "" && msg.Entity == "" {
			return Frame{}, &InvalidFrameError{Reason: "missing view"}
		}
		view := msg.View
		if view == "" {
			view = msg.Entity
		}
		return Frame{
			View: view,
			Op:   msg.Op,
			Sort: msg.Sort,
		}, nil

	default:
		return Frame{}, &InvalidFrameError{Reason: fmt.Sprintf("unknown op %q", msg.Op)}
	}
}
