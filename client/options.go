package client

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"hyperstack/client/internal/logging"
	"hyperstack/client/store"
)

const (
	defaultMaxEntriesPerView = 10000
	defaultFlushInterval     = 16 * time.Millisecond
)

// Options collects every Connect-time setting. There is no env-var or
// CLI-flag layer at this level: every field is set explicitly by the
// caller via the With* functions below.
type Options struct {
	URL                  string
	Storage              *store.Adapter
	MaxEntriesPerView    *int // nil uses the 10 000 default; 0 disables the bound
	AutoReconnect        bool
	ReconnectIntervals   []time.Duration
	MaxReconnectAttempts int
	FlushInterval        time.Duration // 0 applies every frame immediately
	Logger               *logging.Logger
	MetricsRegisterer    prometheus.Registerer
	Dialer               *websocket.Dialer
}

// Option mutates Options during Connect.
type Option func(*Options)

func defaultOptions() Options {
	return Options{
		AutoReconnect: true,
		FlushInterval: defaultFlushInterval,
	}
}

// WithURL overrides the stack's own URL.
func WithURL(url string) Option { return func(o *Options) { o.URL = url } }

// WithStorage substitutes the default in-memory adapter.
func WithStorage(a *store.Adapter) Option { return func(o *Options) { o.Storage = a } }

// WithMaxEntriesPerView bounds every view uniformly; pass 0 to disable.
func WithMaxEntriesPerView(n int) Option {
	return func(o *Options) { o.MaxEntriesPerView = &n }
}

// WithAutoReconnect controls whether Connect dials immediately.
func WithAutoReconnect(enabled bool) Option { return func(o *Options) { o.AutoReconnect = enabled } }

// WithReconnectIntervals overrides the default backoff schedule.
func WithReconnectIntervals(intervals []time.Duration) Option {
	return func(o *Options) { o.ReconnectIntervals = intervals }
}

// WithMaxReconnectAttempts overrides the default retry cap.
func WithMaxReconnectAttempts(n int) Option {
	return func(o *Options) { o.MaxReconnectAttempts = n }
}

// WithFlushInterval sets the notification batching window; 0 disables
// batching and applies every frame as it arrives.
func WithFlushInterval(d time.Duration) Option { return func(o *Options) { o.FlushInterval = d } }

// WithLogger supplies a non-nop logger.
func WithLogger(l *logging.Logger) Option { return func(o *Options) { o.Logger = l } }

// WithMetricsRegisterer opts the client into Prometheus metrics, registering
// every collector against reg. Without this option the client records
// nothing.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(o *Options) { o.MetricsRegisterer = reg }
}

// WithDialer overrides the WebSocket dialer; primarily for tests.
func WithDialer(d *websocket.Dialer) Option { return func(o *Options) { o.Dialer = d } }

func (o Options) resolveMaxEntries() int {
	if o.MaxEntriesPerView == nil {
		return defaultMaxEntriesPerView
	}
	return *o.MaxEntriesPerView
}
