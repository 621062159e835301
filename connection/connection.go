// Package connection owns the single WebSocket session to the view server:
// dialing, keep-alive, exponential reconnect, subscription queueing and
// resend, and dispatch of decoded frames to registered handlers.
package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"hyperstack/client/frame"
	"hyperstack/client/internal/logging"
	"hyperstack/client/internal/metrics"
	"hyperstack/client/internal/wireproto"
)

// State is one point in the connection's lifecycle.
type State string

const (
	Disconnected State = "disconnected"
	Connecting   State = "connecting"
	Connected    State = "connected"
	Reconnecting State = "reconnecting"
	Error        State = "error"
)

const (
	writeWait   = 10 * time.Second
	keepAlive   = 15 * time.Second
	dialTimeout = 10 * time.Second
)

var defaultReconnectIntervals = []time.Duration{
	1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
}

const defaultMaxReconnectAttempts = 5

// ErrInvalidConfig is returned by Connect when opts.URL does not parse as a
// ws/wss endpoint.
var ErrInvalidConfig = errors.New("connection: invalid config")

// ErrMaxReconnectsReached is the terminal error surfaced once the reconnect
// schedule is exhausted; retrieve it via Manager.Err after State() reports
// Error.
var ErrMaxReconnectsReached = errors.New("connection: max reconnect attempts reached")

// Options configures a Manager. The zero value is usable; every field has a
// spec-defined default.
type Options struct {
	URL                  string
	ReconnectIntervals   []time.Duration
	MaxReconnectAttempts int
	Logger               *logging.Logger
	Metrics              *metrics.Recorder
	Dialer               *websocket.Dialer // overridable for tests
}

type frameHandler func(frame.Frame)
type stateHandler func(State)

// Manager is the connection state machine. Every exported method is safe
// for concurrent use. Incoming-frame dispatch runs on the manager's own
// read-pump goroutine; state-change callbacks run on whichever goroutine
// made the transition (the caller of Connect/Disconnect, the read pump, or
// the reconnect machinery).
type Manager struct {
	url        string
	intervals  []time.Duration
	maxRetries int
	log        *logging.Logger
	metrics    *metrics.Recorder
	dialer     *websocket.Dialer

	mu               sync.Mutex
	state            State
	lastErr          error
	attempt          int
	conn             *websocket.Conn
	epochCancel      context.CancelFunc
	reconnectTimer   *time.Timer
	queue            []wireproto.Subscription
	queuedKeys       map[string]struct{}
	active           map[string]wireproto.Subscription
	activeOrder      []string // keys in the order they first became active
	frameHandlers    []frameHandler
	stateHandlers    []stateHandler
	sendCh           chan []byte
}

// New builds a Manager for opts.URL. opts.URL must be set before Connect is
// called.
func New(opts Options) *Manager {
	intervals := opts.ReconnectIntervals
	if len(intervals) == 0 {
		intervals = defaultReconnectIntervals
	}
	maxRetries := opts.MaxReconnectAttempts
	if maxRetries == 0 {
		maxRetries = defaultMaxReconnectAttempts
	}
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}
	rec := opts.Metrics
	if rec == nil {
		rec = metrics.NewNop()
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: dialTimeout}
	}
	return &Manager{
		url:        opts.URL,
		intervals:  intervals,
		maxRetries: maxRetries,
		log:        log,
		metrics:    rec,
		dialer:     dialer,
		state:      Disconnected,
		queuedKeys: make(map[string]struct{}),
		active:     make(map[string]wireproto.Subscription),
	}
}

// State returns the manager's current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err returns the error that produced the current Error state, or nil if
// the manager never entered it (or has since reconnected past it).
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

func (m *Manager) setErrorState(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
	m.setState(Error)
}

// IsConnected reports whether the manager is in the Connected state. An
// undecodable frame moves the state to Error while the transport stays
// open, so IsConnected then reports false.
func (m *Manager) IsConnected() bool {
	return m.State() == Connected
}

// OnFrame registers a handler invoked for every successfully decoded frame,
// in registration order.
func (m *Manager) OnFrame(fn func(frame.Frame)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frameHandlers = append(m.frameHandlers, fn)
	idx := len(m.frameHandlers) - 1
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if idx < len(m.frameHandlers) {
			m.frameHandlers[idx] = func(frame.Frame) {}
		}
	}
}

// OnStateChange registers a handler invoked on every state transition.
func (m *Manager) OnStateChange(fn func(State)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateHandlers = append(m.stateHandlers, fn)
	idx := len(m.stateHandlers) - 1
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if idx < len(m.stateHandlers) {
			m.stateHandlers[idx] = func(State) {}
		}
	}
}

// Connect opens the transport. It resolves once the transport is open, or
// returns an error if the initial attempt fails; later reconnects never
// surface through this call.
func (m *Manager) Connect(ctx context.Context) error {
	normalized, err := normalizeURL(m.url)
	if err != nil {
		wrapped := fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		m.setErrorState(wrapped)
		return wrapped
	}
	m.url = normalized

	m.setState(Connecting)
	conn, _, err := m.dialer.DialContext(ctx, m.url, nil)
	if err != nil {
		m.setErrorState(err)
		return err
	}
	m.beginEpoch(conn)
	return nil
}

// Disconnect tears the transport down, cancels keep-alive and any pending
// reconnect timer, and transitions to disconnected. It does not clear the
// active-subscription set; the owning client facade does that on teardown.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	cancel := m.epochCancel
	conn := m.conn
	m.epochCancel = nil
	m.conn = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	m.setState(Disconnected)
}

func (m *Manager) beginEpoch(conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.conn = conn
	m.epochCancel = cancel
	m.attempt = 0
	m.lastErr = nil
	// The send channel must exist before flushQueueAndResendActive below
	// runs, since that call writes to it synchronously on this goroutine
	// rather than waiting for writePump to start.
	m.sendCh = make(chan []byte, 64)
	m.mu.Unlock()

	m.setState(Connected)
	m.flushQueueAndResendActive()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.readPump(gctx, conn) })
	g.Go(func() error { return m.writePump(gctx, conn) })
	g.Go(func() error { return m.keepAlivePump(gctx, conn) })

	go func() {
		err := g.Wait()
		m.onEpochEnded(ctx, err)
	}()
}

// onEpochEnded runs once every pump goroutine for one connection epoch has
// returned, and decides whether to reconnect.
func (m *Manager) onEpochEnded(epochCtx context.Context, err error) {
	select {
	case <-epochCtx.Done():
		return // torn down by an explicit Disconnect; nothing to schedule.
	default:
	}

	m.mu.Lock()
	wasDisconnected := m.state == Disconnected
	m.mu.Unlock()
	if wasDisconnected {
		return
	}

	if err != nil {
		m.log.Warn("connection epoch ended", logging.Error(err))
	}
	m.scheduleReconnect()
}

func (m *Manager) scheduleReconnect() {
	m.setState(Reconnecting)

	m.mu.Lock()
	attempt := m.attempt
	if attempt >= m.maxRetries {
		m.mu.Unlock()
		m.setErrorState(ErrMaxReconnectsReached)
		return
	}
	idx := attempt
	if idx >= len(m.intervals) {
		idx = len(m.intervals) - 1
	}
	delay := m.intervals[idx]
	m.attempt++
	m.mu.Unlock()

	m.metrics.ReconnectAttempted()
	m.mu.Lock()
	m.reconnectTimer = time.AfterFunc(delay, m.reconnectNow)
	m.mu.Unlock()
}

func (m *Manager) reconnectNow() {
	m.setState(Connecting)
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	// m.url was already validated and normalized by the initial Connect.
	conn, _, err := m.dialer.DialContext(ctx, m.url, nil)
	if err != nil {
		m.log.Warn("reconnect attempt failed", logging.Error(err))
		m.scheduleReconnect()
		return
	}
	m.beginEpoch(conn)
}

func (m *Manager) readPump(ctx context.Context, conn *websocket.Conn) error {
	waitDuration := 2 * keepAlive
	if err := conn.SetReadDeadline(time.Now().Add(waitDuration)); err != nil {
		return err
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(waitDuration))
	})

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				m.log.Warn("read deadline exceeded", logging.Error(err))
			}
			return err
		}
		if err := conn.SetReadDeadline(time.Now().Add(waitDuration)); err != nil {
			return err
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}

		f, err := frame.Decode(payload)
		if err != nil {
			m.metrics.FrameDropped("decode_error")
			m.log.Warn("dropping undecodable frame", logging.Error(err))
			m.setErrorState(err)
			continue
		}
		m.dispatchFrame(f)
	}
}

func (m *Manager) writePump(ctx context.Context, conn *websocket.Conn) error {
	m.mu.Lock()
	ch := m.sendCh
	m.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return nil
		case payload := <-ch:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return err
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return err
			}
		}
	}
}

func (m *Manager) keepAlivePump(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return err
			}
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait)); err != nil {
				return err
			}
			m.send(wireproto.PingMessage{Type: "ping"})
		}
	}
}

func (m *Manager) dispatchFrame(f frame.Frame) {
	m.mu.Lock()
	handlers := make([]frameHandler, len(m.frameHandlers))
	copy(handlers, m.frameHandlers)
	m.mu.Unlock()

	for _, h := range handlers {
		h(f)
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	handlers := make([]stateHandler, len(m.stateHandlers))
	copy(handlers, m.stateHandlers)
	m.mu.Unlock()

	for _, h := range handlers {
		h(s)
	}
}

// Subscribe sends sub immediately if connected, or queues it for the next
// connect/reconnect. Duplicate intents (by wireproto.Key) already queued or
// already active are not queued again.
func (m *Manager) Subscribe(sub wireproto.Subscription) {
	key := wireproto.Key(sub)

	m.mu.Lock()
	if _, active := m.active[key]; active {
		m.mu.Unlock()
		return
	}
	connected := m.state == Connected
	if connected {
		m.active[key] = sub
		m.activeOrder = append(m.activeOrder, key)
	} else if _, queued := m.queuedKeys[key]; !queued {
		m.queue = append(m.queue, sub)
		m.queuedKeys[key] = struct{}{}
	}
	m.mu.Unlock()

	if connected {
		m.send(wireproto.NewSubscribeMessage(sub))
	}
}

// Unsubscribe releases (view, key). It is idempotent: the wire message is
// sent only when the subscription is currently active, but the entry is
// always removed from the active set and queue.
func (m *Manager) Unsubscribe(view, key string) {
	target := wireproto.Subscription{View: view, Key: key}
	dedupe := wireproto.Key(target)

	m.mu.Lock()
	_, wasActive := m.active[dedupe]
	delete(m.active, dedupe)
	if wasActive {
		m.activeOrder = removeActiveOrder(m.activeOrder, dedupe)
	}
	if _, wasQueued := m.queuedKeys[dedupe]; wasQueued {
		delete(m.queuedKeys, dedupe)
		m.queue = removeQueued(m.queue, dedupe)
	}
	connected := m.state == Connected
	m.mu.Unlock()

	if wasActive && connected {
		m.send(wireproto.NewUnsubscribeMessage(view, key))
	}
}

func removeQueued(queue []wireproto.Subscription, dedupe string) []wireproto.Subscription {
	out := queue[:0]
	for _, s := range queue {
		if wireproto.Key(s) != dedupe {
			out = append(out, s)
		}
	}
	return out
}

func removeActiveOrder(order []string, dedupe string) []string {
	out := order[:0]
	for _, k := range order {
		if k != dedupe {
			out = append(out, k)
		}
	}
	return out
}

// flushQueueAndResendActive drains the subscribe queue in FIFO order, then
// re-sends every subscription that was already active before this epoch
// (the reconnect case: server-side state is lost across disconnects, but
// the logical subscription intent persists). Entries promoted from the
// queue in this same call are not re-sent a second time.
func (m *Manager) flushQueueAndResendActive() {
	m.mu.Lock()
	alreadyActive := make([]wireproto.Subscription, 0, len(m.activeOrder))
	for _, key := range m.activeOrder {
		alreadyActive = append(alreadyActive, m.active[key])
	}
	queued := m.queue
	m.queue = nil
	m.queuedKeys = make(map[string]struct{})
	for _, sub := range queued {
		key := wireproto.Key(sub)
		m.active[key] = sub
		m.activeOrder = append(m.activeOrder, key)
	}
	m.mu.Unlock()

	for _, sub := range queued {
		m.send(wireproto.NewSubscribeMessage(sub))
	}
	for _, sub := range alreadyActive {
		m.send(wireproto.NewSubscribeMessage(sub))
	}
}

func (m *Manager) send(v any) {
	payload, err := encodeJSON(v)
	if err != nil {
		m.log.Error("failed to encode client message", logging.Error(err))
		return
	}
	m.mu.Lock()
	ch := m.sendCh
	m.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- payload:
	default:
		m.log.Warn("dropping client message: send buffer full")
	}
}

// normalizeURL validates raw as a ws/wss endpoint and normalizes an
// unroutable bind-all host (0.0.0.0, ::) to localhost, mirroring the
// host/port normalization the teacher applies to server-side listen
// addresses, adapted to a client-side dial target.
func normalizeURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", errors.New("empty url")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q, want ws or wss", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("missing host")
	}

	host, port, err := net.SplitHostPort(u.Host)
	if err != nil {
		// No explicit port: u.Host is a bare hostname.
		host, port = u.Host, ""
	}
	switch host {
	case "0.0.0.0", "::", "[::]":
		host = "localhost"
	}
	if port != "" {
		u.Host = net.JoinHostPort(host, port)
	} else {
		u.Host = host
	}
	return u.String(), nil
}

func encodeJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}
