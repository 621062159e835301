// Package metrics exposes optional Prometheus instrumentation for the
// client core. Every component accepts a *Recorder and falls back to a
// no-op recorder when the caller does not register one, so the core has
// zero observability side effects by default.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Recorder records counters and gauges for the client core. A nil *Recorder
// and the one NewNop returns are safe to use and do nothing; a zero-value
// Recorder{} has no collectors and is not.
type Recorder struct {
	framesProcessed  *prometheus.CounterVec
	framesDropped    *prometheus.CounterVec
	reconnectAttempt prometheus.Counter
	activeSubs       prometheus.Gauge
	viewEntries      *prometheus.GaugeVec
	backlogDrops     prometheus.Counter
	noop             bool
}

// NewNop returns a Recorder that discards every observation.
func NewNop() *Recorder {
	return &Recorder{noop: true}
}

// New builds a Recorder and registers its collectors against reg. Passing a
// nil Registerer is equivalent to NewNop.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		return NewNop()
	}
	r := &Recorder{
		framesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hyperstack_client_frames_processed_total",
			Help: "Frames successfully applied to the storage adapter, by op.",
		}, []string{"op"}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hyperstack_client_frames_dropped_total",
			Help: "Frames rejected by the codec or processor, by reason.",
		}, []string{"reason"}),
		reconnectAttempt: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hyperstack_client_reconnect_attempts_total",
			Help: "Reconnect attempts made by the connection manager.",
		}),
		activeSubs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hyperstack_client_active_subscriptions",
			Help: "Subscriptions currently referenced by at least one consumer.",
		}),
		viewEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hyperstack_client_view_entries",
			Help: "Entries currently held per view.",
		}, []string{"view"}),
		backlogDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hyperstack_client_sequence_backlog_drops_total",
			Help: "Updates dropped from a consumer sequence's bounded backlog.",
		}),
	}
	reg.MustRegister(r.framesProcessed, r.framesDropped, r.reconnectAttempt, r.activeSubs, r.viewEntries, r.backlogDrops)
	return r
}

func (r *Recorder) FrameProcessed(op string) {
	if r == nil || r.noop {
		return
	}
	r.framesProcessed.WithLabelValues(op).Inc()
}

func (r *Recorder) FrameDropped(reason string) {
	if r == nil || r.noop {
		return
	}
	r.framesDropped.WithLabelValues(reason).Inc()
}

func (r *Recorder) ReconnectAttempted() {
	if r == nil || r.noop {
		return
	}
	r.reconnectAttempt.Inc()
}

func (r *Recorder) SetActiveSubscriptions(n int) {
	if r == nil || r.noop {
		return
	}
	r.activeSubs.Set(float64(n))
}

func (r *Recorder) SetViewEntries(view string, n int) {
	if r == nil || r.noop {
		return
	}
	r.viewEntries.WithLabelValues(view).Set(float64(n))
}

func (r *Recorder) BacklogDropped() {
	if r == nil || r.noop {
		return
	}
	r.backlogDrops.Inc()
}
