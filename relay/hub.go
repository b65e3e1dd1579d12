// File: relay/hub.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Hub is the single owner of all shared relay state: the connection
// registry, the nickname set, the history buffer, and every connection's
// rate and liveness fields. One goroutine runs the event loop; connection
// goroutines talk to it exclusively through the events channel, so none
// of the state needs a lock. Handlers never block: outbound delivery is a
// non-blocking enqueue onto each client's send queue, and a full queue
// costs the laggard its connection rather than stalling the loop.

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/momentics/relay-ws/control"
	"github.com/momentics/relay-ws/protocol"
)

// ErrHubClosed is returned by Join once the hub has shut down.
var ErrHubClosed = errors.New("hub closed")

// HubConfig holds the relay policy knobs.
type HubConfig struct {
	Capacity          int           // maximum concurrent connections
	HistoryLimit      int           // retained backlog envelopes
	NickMaxLen        int           // nickname length cap, in runes
	TextMaxLen        int           // chat text length cap, in runes
	HeartbeatInterval time.Duration // keepalive probe period
	Rate              RatePolicy    // per-connection message budget
}

// DefaultHubConfig returns the baseline relay policy.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		Capacity:          100,
		HistoryLimit:      50,
		NickMaxLen:        24,
		TextMaxLen:        1000,
		HeartbeatInterval: 30 * time.Second,
		Rate:              RatePolicy{Limit: 5, Window: time.Second},
	}
}

type eventKind int

const (
	evReserve eventKind = iota
	evRelease
	evJoin
	evDrop
	evClose
	evChat
	evAlive
	evPing
)

type event struct {
	kind    eventKind
	c       *Client
	text    string
	payload []byte
	reason  string
	ok      chan bool     // evReserve reply
	joined  chan struct{} // evJoin reply
}

// Hub owns the registry and fans messages out to every registered
// connection.
type Hub struct {
	cfg     HubConfig
	logger  *slog.Logger
	metrics *control.Metrics
	tracer  trace.Tracer

	events chan event
	stop   chan struct{}
	done   chan struct{}

	stopOnce sync.Once

	// Event-loop state. Only run() touches these.
	clients  map[*Client]struct{}
	nicks    map[string]struct{}
	history  *HistoryBuffer
	nextID   uint64
	reserved int
	peak     int

	connCount int64 // atomic mirror of len(clients) for health probes
}

// NewHub creates a hub with the given policy. Call Start to launch the
// event loop.
func NewHub(cfg HubConfig, logger *slog.Logger, metrics *control.Metrics) *Hub {
	def := DefaultHubConfig()
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = control.NewMetrics(prometheus.NewRegistry())
	}
	return &Hub{
		cfg:     cfg,
		logger:  logger.With("component", "hub"),
		metrics: metrics,
		tracer:  control.Tracer(),
		events:  make(chan event, 128),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		clients: make(map[*Client]struct{}),
		nicks:   make(map[string]struct{}),
		history: NewHistoryBuffer(cfg.HistoryLimit),
	}
}

// Start launches the event loop.
func (h *Hub) Start() {
	go h.run()
}

// Stop shuts the event loop down, closing every registered connection.
// It blocks until the loop has exited and is safe to call more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
	<-h.done
}

// Count reports the number of registered connections. Safe to call from
// any goroutine.
func (h *Hub) Count() int {
	return int(atomic.LoadInt64(&h.connCount))
}

// Reserve claims one connection slot ahead of the handshake. It returns
// false when the relay is at capacity or shut down; the caller must
// refuse the upgrade. A successful reservation is consumed by Join or
// returned with Release.
func (h *Hub) Reserve() bool {
	ok := make(chan bool, 1)
	select {
	case h.events <- event{kind: evReserve, ok: ok}:
	case <-h.done:
		return false
	}
	select {
	case v := <-ok:
		return v
	case <-h.done:
		return false
	}
}

// Release returns an unused reservation after a failed handshake.
func (h *Hub) Release() {
	h.post(event{kind: evRelease})
}

// Join registers c under the requested nickname, consuming the caller's
// reservation. On return the client carries its assigned id and unique
// nickname and its send queue holds the history replay, the identity
// confirmation, and the join broadcast. The caller then starts the read
// and write loops.
func (h *Hub) Join(c *Client, wantNick string) error {
	c.hub = h
	joined := make(chan struct{})
	select {
	case h.events <- event{kind: evJoin, c: c, text: wantNick, joined: joined}:
	case <-h.done:
		return ErrHubClosed
	}
	select {
	case <-joined:
		return nil
	case <-h.done:
		return ErrHubClosed
	}
}

// Drop requests teardown of c. Duplicate drops are harmless; the first
// one to reach the loop wins.
func (h *Hub) Drop(c *Client, reason string) {
	h.post(event{kind: evDrop, c: c, reason: reason})
}

// CloseRequest handles a close frame from c: echo, then teardown.
func (h *Hub) CloseRequest(c *Client, payload []byte) {
	h.post(event{kind: evClose, c: c, payload: payload})
}

// Chat routes one inbound chat message from c.
func (h *Hub) Chat(c *Client, text string) {
	h.post(event{kind: evChat, c: c, text: text})
}

// Alive marks c live until the next keepalive sweep.
func (h *Hub) Alive(c *Client) {
	h.post(event{kind: evAlive, c: c})
}

// Ping answers a protocol ping from c with a pong echoing payload.
func (h *Hub) Ping(c *Client, payload []byte) {
	h.post(event{kind: evPing, c: c, payload: payload})
}

func (h *Hub) post(ev event) {
	select {
	case h.events <- ev:
	case <-h.done:
	}
}

func (h *Hub) run() {
	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()
	defer close(h.done)

	for {
		select {
		case ev := <-h.events:
			h.handle(ev)
		case <-ticker.C:
			h.sweep()
		case <-h.stop:
			h.teardownAll()
			return
		}
	}
}

func (h *Hub) handle(ev event) {
	switch ev.kind {
	case evReserve:
		admitted := len(h.clients)+h.reserved < h.cfg.Capacity
		if admitted {
			h.reserved++
		}
		ev.ok <- admitted
	case evRelease:
		if h.reserved > 0 {
			h.reserved--
		}
	case evJoin:
		h.join(ev)
	case evDrop:
		h.remove(ev.c, ev.reason)
	case evClose:
		h.closeRequest(ev)
	case evChat:
		h.chat(ev.c, ev.text)
	case evAlive:
		if _, ok := h.clients[ev.c]; ok {
			ev.c.alive = true
		}
	case evPing:
		if _, ok := h.clients[ev.c]; ok {
			ev.c.alive = true
			h.enqueueFrame(ev.c, protocol.PongFrame(ev.payload))
		}
	}
}

func (h *Hub) join(ev event) {
	defer close(ev.joined)
	if h.reserved > 0 {
		h.reserved--
	}
	c := ev.c
	h.nextID++
	c.id = h.nextID
	c.nick = resolveNick(ev.text, h.cfg.NickMaxLen, h.nicks)
	c.alive = true
	c.rate = RateWindow{}

	// Backlog first, then the identity confirmation; both go only to the
	// new connection.
	h.sendTo(c, History{Type: TypeHistory, Messages: h.history.Snapshot()})
	h.sendTo(c, Identity{Type: TypeIdentity, Nick: c.nick})

	h.clients[c] = struct{}{}
	h.nicks[c.nick] = struct{}{}
	h.syncCount()
	h.metrics.JoinsTotal.Inc()
	if len(h.clients) > h.peak {
		h.peak = len(h.clients)
		h.metrics.ConnectionsPeak.Set(float64(h.peak))
	}

	h.logger.Info("client joined",
		"id", c.id, "nick", c.nick, "remote", c.RemoteAddr(), "connections", len(h.clients))
	h.systemBroadcast(c.nick + " joined")
}

// remove is the single teardown path. Registry membership decides whether
// the event already fired, which makes every trigger idempotent.
func (h *Hub) remove(c *Client, reason string) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	delete(h.nicks, c.nick)
	close(c.send)
	h.syncCount()
	h.metrics.LeavesTotal.WithLabelValues(reason).Inc()
	h.logger.Info("client left",
		"id", c.id, "nick", c.nick, "reason", reason, "connections", len(h.clients))
	h.systemBroadcast(c.nick + " left")
}

func (h *Hub) closeRequest(ev event) {
	if _, ok := h.clients[ev.c]; !ok {
		return
	}
	h.enqueueFrame(ev.c, protocol.CloseEcho(ev.payload))
	h.remove(ev.c, ReasonClientClose)
}

func (h *Hub) chat(c *Client, text string) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	c.alive = true
	now := time.Now()
	if !h.cfg.Rate.Allow(&c.rate, now) {
		// Best-effort warning; the frame may not flush before the socket
		// closes.
		h.sendTo(c, System{
			Type:  TypeSystem,
			Text:  "rate limit exceeded",
			Ts:    now.UnixMilli(),
			Count: len(h.clients),
		})
		h.remove(c, ReasonRateLimit)
		return
	}

	_, span := h.tracer.Start(context.Background(), "relay.chat",
		trace.WithAttributes(
			attribute.Int64("relay.client_id", int64(c.id)),
			attribute.Int("relay.recipients", len(h.clients)),
		))
	defer span.End()

	msg := Chat{
		Type: TypeMessage,
		Nick: c.nick,
		Text: truncateText(text, h.cfg.TextMaxLen),
		Ts:   now.UnixMilli(),
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("encode chat envelope", "err", err)
		return
	}
	h.metrics.MessagesTotal.Inc()
	h.broadcast(raw, true)
}

// sweep is the keepalive cycle: evict connections that stayed silent
// since the previous tick, then arm the rest with a fresh ping.
func (h *Hub) sweep() {
	var dead []*Client
	for c := range h.clients {
		if !c.alive {
			dead = append(dead, c)
		}
	}
	for _, c := range dead {
		h.remove(c, ReasonKeepalive)
	}
	if len(h.clients) == 0 {
		return
	}

	ping, err := protocol.EncodeFrame(protocol.PingFrame(nil))
	if err != nil {
		return
	}
	var victims []*Client
	for c := range h.clients {
		c.alive = false
		if !c.enqueue(ping) {
			victims = append(victims, c)
		}
	}
	for _, c := range victims {
		h.remove(c, ReasonSlowConsumer)
	}
}

func (h *Hub) teardownAll() {
	n := len(h.clients)
	for c := range h.clients {
		delete(h.clients, c)
		delete(h.nicks, c.nick)
		close(c.send)
		h.metrics.LeavesTotal.WithLabelValues(ReasonShutdown).Inc()
	}
	h.syncCount()
	if n > 0 {
		h.logger.Info("hub stopped", "dropped", n)
	}
}

// systemBroadcast sends a system envelope carrying the current connection
// count to every registered connection and records it in history.
func (h *Hub) systemBroadcast(text string) {
	raw, err := json.Marshal(System{
		Type:  TypeSystem,
		Text:  text,
		Ts:    time.Now().UnixMilli(),
		Count: len(h.clients),
	})
	if err != nil {
		h.logger.Error("encode system envelope", "err", err)
		return
	}
	h.broadcast(raw, true)
}

// broadcast fans one encoded envelope out to every registered connection.
// Delivery is a non-blocking enqueue; clients with a full send queue are
// torn down as slow consumers.
func (h *Hub) broadcast(raw json.RawMessage, record bool) {
	if record {
		h.history.Add(raw)
	}
	data, err := protocol.EncodeFrame(protocol.TextFrame(raw))
	if err != nil {
		h.logger.Error("encode frame", "err", err)
		return
	}
	var victims []*Client
	for c := range h.clients {
		if !c.enqueue(data) {
			victims = append(victims, c)
		}
	}
	for _, c := range victims {
		h.remove(c, ReasonSlowConsumer)
	}
}

func (h *Hub) syncCount() {
	n := len(h.clients)
	atomic.StoreInt64(&h.connCount, int64(n))
	h.metrics.ConnectionsActive.Set(float64(n))
}

// sendTo encodes v and enqueues it for a single connection.
func (h *Hub) sendTo(c *Client, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("encode envelope", "err", err)
		return
	}
	h.enqueueFrame(c, protocol.TextFrame(raw))
}

func (h *Hub) enqueueFrame(c *Client, f *protocol.Frame) bool {
	data, err := protocol.EncodeFrame(f)
	if err != nil {
		h.logger.Error("encode frame", "err", err)
		return false
	}
	return c.enqueue(data)
}
