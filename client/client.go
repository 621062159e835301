// Package client composes the storage adapter, processor, connection
// manager, subscription registry, and typed views into the single facade
// callers interact with: Connect, Disconnect, ClearStore, plus
// connection-state and frame observation forwarded verbatim.
package client

import (
	"context"
	"fmt"

	"hyperstack/client/connection"
	"hyperstack/client/frame"
	"hyperstack/client/internal/logging"
	"hyperstack/client/internal/metrics"
	"hyperstack/client/processor"
	"hyperstack/client/registry"
	"hyperstack/client/store"
)

// Client is a single, self-contained connection to a view server. There is
// no global state: every instance owns its own adapter, connection, and
// registry.
type Client struct {
	stack Stack
	log   *logging.Logger
	rec   *metrics.Recorder

	adapter   *store.Adapter
	processor *processor.Processor
	conn      *connection.Manager
	registry  *registry.Registry
	batcher   *frameBatcher
}

// Connect validates opts/stack, builds every owned component, wires the
// connection's frame handler into the processor, and, unless
// AutoReconnect is false, dials immediately. The returned error is
// ErrInvalidConfig on a missing URL, or whatever Connect's initial dial
// returned.
func Connect(ctx context.Context, stack Stack, opts ...Option) (*Client, error) {
	o := defaultOptions()
	for _, apply := range opts {
		apply(&o)
	}

	url := o.URL
	if url == "" {
		url = stack.URL
	}
	if url == "" {
		return nil, fmt.Errorf("%w: no url in opts or stack", ErrInvalidConfig)
	}

	log := o.Logger
	if log == nil {
		log = logging.Nop()
	}
	rec := metrics.New(o.MetricsRegisterer)

	adapter := o.Storage
	if adapter == nil {
		adapter = store.New(o.resolveMaxEntries(), rec)
	}
	proc := processor.New(adapter, rec)

	conn := connection.New(connection.Options{
		URL:                  url,
		ReconnectIntervals:   o.ReconnectIntervals,
		MaxReconnectAttempts: o.MaxReconnectAttempts,
		Logger:               log,
		Metrics:              rec,
		Dialer:               o.Dialer,
	})
	reg := registry.New(conn, rec)

	c := &Client{
		stack:     stack,
		log:       log,
		rec:       rec,
		adapter:   adapter,
		processor: proc,
		conn:      conn,
		registry:  reg,
	}
	c.batcher = newFrameBatcher(o.FlushInterval, proc.Apply)
	conn.OnFrame(c.batcher.push)

	if o.AutoReconnect {
		if err := conn.Connect(ctx); err != nil {
			c.batcher.Close()
			return nil, err
		}
	}

	return c, nil
}

// Disconnect releases every owned resource in reverse creation order: the
// frame batcher (flushing any pending frames), then registry unsubscribes
// (tearing down every active server subscription), then the connection
// itself.
func (c *Client) Disconnect() {
	c.batcher.Close()
	c.registry.Clear()
	c.conn.Disconnect()
}

// ClearStore empties every view the adapter holds, without issuing
// unsubscribes; a subsequent snapshot re-populates it.
func (c *Client) ClearStore() {
	c.adapter.ClearAll()
}

// State returns the connection's current lifecycle state.
func (c *Client) State() connection.State { return c.conn.State() }

// OnStateChange registers fn for every connection-state transition and
// returns a thunk to unregister it.
func (c *Client) OnStateChange(fn func(connection.State)) func() {
	return c.conn.OnStateChange(fn)
}

// OnFrame registers fn for every decoded frame, in addition to the
// processor's own handling, and returns a thunk to unregister it.
func (c *Client) OnFrame(fn func(frame.Frame)) func() {
	return c.conn.OnFrame(fn)
}

// Adapter exposes the underlying storage adapter for advanced callers
// (custom views, diagnostics) that need access beyond the typed surface.
func (c *Client) Adapter() *store.Adapter { return c.adapter }

// Registry exposes the underlying subscription registry views are built
// against.
func (c *Client) Registry() *registry.Registry { return c.registry }

func (c *Client) viewDef(entity, viewName string) (ViewDef, error) {
	def, ok := c.stack.lookup(entity, viewName)
	if !ok {
		return ViewDef{}, fmt.Errorf("%w: %s/%s", ErrUnknownView, entity, viewName)
	}
	return def, nil
}
